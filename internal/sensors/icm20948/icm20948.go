// Package icm20948 reads acceleration and the AK09916 magnetometer of an
// ICM-20948 9-axis IMU. The magnetometer is reached directly on the host bus
// through the IMU's I2C bypass.
package icm20948

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"hoverhold/internal/i2c"
)

var sleep = time.Sleep

const (
	addrDefault = 0x68
	addrMag     = 0x0C

	regBankSel = 0x7F

	// Bank 0.
	regWhoAmI    = 0x00
	whoAmIVal    = 0xEA
	regUserCtrl  = 0x03
	regPwrMgmt1  = 0x06
	regIntPinCfg = 0x0F
	regAccelXH   = 0x2D

	bitReset     = 0x80
	clkAuto      = 0x01
	bitBypassEn  = 0x02
	userCtrlNone = 0x00

	// Bank 2.
	bank2          = 2
	regAccelConfig = 0x14
	fsAccel4g      = 0x01 << 1

	// AK09916.
	regMagWIA2  = 0x01
	magWIA2Val  = 0x09
	regMagST1   = 0x10
	regMagHXL   = 0x11
	regMagCNTL2 = 0x31
	regMagCNTL3 = 0x32

	magContinuous100Hz = 0x08
	bitMagDataReady    = 0x01
	bitMagOverflow     = 0x08
)

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

// Sample is one read. Acceleration is in G. Magnetometer values are raw
// counts (0.15 uT each) and hold their previous value until the next
// measurement is ready.
type Sample struct {
	Time       time.Time
	Ax, Ay, Az float64
	Mx, My, Mz float64
}

type Device struct {
	imu, mag regIO

	bank       byte
	scaleAccel float64
	lastMag    [3]float64
}

func DefaultAddress() uint16 { return addrDefault }

// New configures the IMU at dev and the magnetometer on the same bus.
func New(bus *i2c.Bus, addr uint16) (*Device, error) {
	if bus == nil {
		return nil, errors.New("icm20948: bus is nil")
	}
	return newWithIO(bus.Dev(addr), bus.Dev(addrMag))
}

func newWithIO(imu, mag regIO) (*Device, error) {
	d := &Device{imu: imu, mag: mag, bank: 0xFF}

	who, err := imu.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, errors.Wrap(err, "icm20948: read whoami")
	}
	if who != whoAmIVal {
		return nil, errors.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}
	if err := d.initIMU(); err != nil {
		return nil, err
	}
	if err := d.initMag(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) initIMU() error {
	if err := d.setBank(0); err != nil {
		return err
	}
	if err := d.imu.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return errors.Wrap(err, "icm20948: reset")
	}
	sleep(100 * time.Millisecond)
	if err := d.imu.WriteReg(regPwrMgmt1, clkAuto); err != nil {
		return errors.Wrap(err, "icm20948: wake")
	}
	sleep(10 * time.Millisecond)

	// Internal I2C master off, bypass on: the AK09916 appears on the host bus.
	if err := d.imu.WriteReg(regUserCtrl, userCtrlNone); err != nil {
		return errors.Wrap(err, "icm20948: user_ctrl")
	}
	if err := d.imu.WriteReg(regIntPinCfg, bitBypassEn); err != nil {
		return errors.Wrap(err, "icm20948: enable bypass")
	}

	if err := d.setBank(bank2); err != nil {
		return err
	}
	if err := d.imu.WriteReg(regAccelConfig, fsAccel4g); err != nil {
		return errors.Wrap(err, "icm20948: accel config")
	}
	d.scaleAccel = 4.0 / 32768.0
	return d.setBank(0)
}

func (d *Device) initMag() error {
	wia, err := d.mag.ReadRegU8(regMagWIA2)
	if err != nil {
		return errors.Wrap(err, "icm20948: read magnetometer id")
	}
	if wia != magWIA2Val {
		return errors.Errorf("icm20948: magnetometer id=0x%02X want 0x%02X", wia, magWIA2Val)
	}
	if err := d.mag.WriteReg(regMagCNTL3, 0x01); err != nil {
		return errors.Wrap(err, "icm20948: magnetometer reset")
	}
	sleep(10 * time.Millisecond)
	if err := d.mag.WriteReg(regMagCNTL2, magContinuous100Hz); err != nil {
		return errors.Wrap(err, "icm20948: magnetometer mode")
	}
	return nil
}

func (d *Device) setBank(bank byte) error {
	if d.bank == bank {
		return nil
	}
	if err := d.imu.WriteReg(regBankSel, bank<<4); err != nil {
		return errors.Wrapf(err, "icm20948: select bank %d", bank)
	}
	d.bank = bank
	return nil
}

func (d *Device) Read() (Sample, error) {
	if err := d.setBank(0); err != nil {
		return Sample{}, err
	}
	var acc [6]byte
	if err := d.imu.ReadReg(regAccelXH, acc[:]); err != nil {
		return Sample{}, errors.Wrap(err, "icm20948: read accel")
	}
	if err := d.readMag(); err != nil {
		return Sample{}, err
	}

	be := func(i int) float64 { return float64(int16(binary.BigEndian.Uint16(acc[i:]))) }
	return Sample{
		Time: time.Now(),
		Ax:   be(0) * d.scaleAccel,
		Ay:   be(2) * d.scaleAccel,
		Az:   be(4) * d.scaleAccel,
		Mx:   d.lastMag[0],
		My:   d.lastMag[1],
		Mz:   d.lastMag[2],
	}, nil
}

// readMag updates lastMag when a fresh, non-overflowed measurement is ready.
// ST2 must be read to release the data registers, so the block read runs
// through it.
func (d *Device) readMag() error {
	st1, err := d.mag.ReadRegU8(regMagST1)
	if err != nil {
		return errors.Wrap(err, "icm20948: read magnetometer status")
	}
	if st1&bitMagDataReady == 0 {
		return nil
	}
	var b [8]byte // HXL..HZH, TMPS, ST2
	if err := d.mag.ReadReg(regMagHXL, b[:]); err != nil {
		return errors.Wrap(err, "icm20948: read magnetometer")
	}
	if b[7]&bitMagOverflow != 0 {
		return nil
	}
	for i := range d.lastMag {
		d.lastMag[i] = float64(int16(binary.LittleEndian.Uint16(b[i*2:])))
	}
	return nil
}
