// Package bmp280 reads compensated pressure from a Bosch BMP280 barometer.
package bmp280

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"hoverhold/internal/i2c"
)

var sleep = time.Sleep

const (
	addrDefault = 0x77

	regID     = 0xD0
	chipID    = 0x58
	regReset  = 0xE0
	resetWord = 0xB6

	regCalib = 0x88
	calibLen = 24

	regCtrlMeas = 0xF4
	regConfig   = 0xF5
	regData     = 0xF7

	// IIR coefficient 4, 0.5 ms standby.
	configWord = 0x02 << 2
	// Temperature x2, pressure x16, normal mode.
	ctrlMeasWord = 0x02<<5 | 0x05<<2 | 0x03
)

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

// Reading is one compensated sample.
type Reading struct {
	TempC float64
	// Pressure in hPa.
	Pressure float64
}

type calibration struct {
	t1     uint16
	t2, t3 int16
	p1     uint16
	p2, p3 int16
	p4, p5 int16
	p6, p7 int16
	p8, p9 int16
}

type Device struct {
	dev regIO
	cal calibration
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev) (*Device, error) {
	if dev == nil {
		return nil, errors.New("bmp280: dev is nil")
	}
	return newWithIO(dev)
}

func newWithIO(dev regIO) (*Device, error) {
	d := &Device{dev: dev}

	id, err := dev.ReadRegU8(regID)
	if err != nil {
		return nil, errors.Wrap(err, "bmp280: read chip id")
	}
	if id != chipID {
		return nil, errors.Errorf("bmp280: chip id=0x%02X want 0x%02X", id, chipID)
	}

	// The NVM coefficients are reloaded after reset; reading too soon
	// returns zeros.
	_ = dev.WriteReg(regReset, resetWord)
	var calErr error
	for attempt := 0; attempt < 3; attempt++ {
		sleep(5 * time.Millisecond)
		if calErr = d.readCalibration(); calErr == nil {
			break
		}
	}
	if calErr != nil {
		return nil, calErr
	}

	if err := dev.WriteReg(regConfig, configWord); err != nil {
		return nil, errors.Wrap(err, "bmp280: write config")
	}
	if err := dev.WriteReg(regCtrlMeas, ctrlMeasWord); err != nil {
		return nil, errors.Wrap(err, "bmp280: write ctrl_meas")
	}
	return d, nil
}

func (d *Device) readCalibration() error {
	var b [calibLen]byte
	if err := d.dev.ReadReg(regCalib, b[:]); err != nil {
		return errors.Wrap(err, "bmp280: read calibration")
	}
	u := func(i int) uint16 { return binary.LittleEndian.Uint16(b[i : i+2]) }
	s := func(i int) int16 { return int16(u(i)) }
	d.cal = calibration{
		t1: u(0), t2: s(2), t3: s(4),
		p1: u(6), p2: s(8), p3: s(10),
		p4: s(12), p5: s(14), p6: s(16),
		p7: s(18), p8: s(20), p9: s(22),
	}
	if d.cal.t1 == 0 || d.cal.p1 == 0 {
		return errors.Errorf("bmp280: calibration invalid (t1=%d p1=%d)", d.cal.t1, d.cal.p1)
	}
	return nil
}

// Read returns one compensated sample. A pressure of zero means the
// compensation could not be computed and should be treated as no data.
func (d *Device) Read() (Reading, error) {
	var b [6]byte
	if err := d.dev.ReadReg(regData, b[:]); err != nil {
		return Reading{}, errors.Wrap(err, "bmp280: read data")
	}
	adcP := int32(b[0])<<12 | int32(b[1])<<4 | int32(b[2])>>4
	adcT := int32(b[3])<<12 | int32(b[4])<<4 | int32(b[5])>>4

	tFine, tempC := d.cal.temperature(adcT)
	return Reading{TempC: tempC, Pressure: d.cal.pressure(adcP, tFine) / 100}, nil
}

// temperature and pressure follow the floating point compensation formulas
// of the BMP280 datasheet, section 8.1.
func (c calibration) temperature(adc int32) (tFine, tempC float64) {
	v1 := (float64(adc)/16384 - float64(c.t1)/1024) * float64(c.t2)
	v2 := float64(adc)/131072 - float64(c.t1)/8192
	v2 = v2 * v2 * float64(c.t3)
	tFine = v1 + v2
	return tFine, tFine / 5120
}

func (c calibration) pressure(adc int32, tFine float64) float64 {
	v1 := tFine/2 - 64000
	v2 := v1 * v1 * float64(c.p6) / 32768
	v2 += v1 * float64(c.p5) * 2
	v2 = v2/4 + float64(c.p4)*65536
	v1 = (float64(c.p3)*v1*v1/524288 + float64(c.p2)*v1) / 524288
	v1 = (1 + v1/32768) * float64(c.p1)
	if v1 == 0 {
		return 0
	}
	p := 1048576 - float64(adc)
	p = (p - v2/4096) * 6250 / v1
	v1 = float64(c.p9) * p * p / 2147483648
	v2 = p * float64(c.p8) / 32768
	return p + (v1+v2+float64(c.p7))/16
}
