package icm20948

import (
	"errors"
	"testing"
	"time"
)

type fakeBus struct {
	regs   map[byte][]byte
	writes []writeOp
}

type writeOp struct {
	reg byte
	val byte
}

func (f *fakeBus) ReadRegU8(reg byte) (byte, error) {
	b := f.regs[reg]
	if len(b) < 1 {
		return 0, errors.New("no reg")
	}
	return b[0], nil
}

func (f *fakeBus) ReadReg(reg byte, dst []byte) error {
	b := f.regs[reg]
	if len(b) < len(dst) {
		return errors.New("short reg")
	}
	copy(dst, b)
	return nil
}

func (f *fakeBus) WriteReg(reg, value byte) error {
	f.writes = append(f.writes, writeOp{reg: reg, val: value})
	return nil
}

func (f *fakeBus) wrote(reg, val byte) bool {
	for _, w := range f.writes {
		if w.reg == reg && w.val == val {
			return true
		}
	}
	return false
}

func newFakes(t *testing.T) (imu, mag *fakeBus) {
	t.Helper()
	old := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = old })

	imu = &fakeBus{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	mag = &fakeBus{regs: map[byte][]byte{regMagWIA2: {magWIA2Val}, regMagST1: {0}}}
	return imu, mag
}

func TestNew_EnablesBypassAndContinuousMag(t *testing.T) {
	imu, mag := newFakes(t)
	if _, err := newWithIO(imu, mag); err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	if !imu.wrote(regPwrMgmt1, bitReset) || !imu.wrote(regPwrMgmt1, clkAuto) {
		t.Fatalf("missing reset/wake writes: %v", imu.writes)
	}
	if !imu.wrote(regIntPinCfg, bitBypassEn) {
		t.Fatalf("bypass not enabled: %v", imu.writes)
	}
	if !imu.wrote(regBankSel, bank2<<4) {
		t.Fatalf("bank2 never selected: %v", imu.writes)
	}
	if !mag.wrote(regMagCNTL2, magContinuous100Hz) {
		t.Fatalf("magnetometer mode not set: %v", mag.writes)
	}
}

func TestNew_IdentityMismatch(t *testing.T) {
	imu, mag := newFakes(t)
	imu.regs[regWhoAmI] = []byte{0x00}
	if _, err := newWithIO(imu, mag); err == nil {
		t.Fatalf("expected whoami error")
	}

	imu, mag = newFakes(t)
	mag.regs[regMagWIA2] = []byte{0x48}
	if _, err := newWithIO(imu, mag); err == nil {
		t.Fatalf("expected magnetometer id error")
	}
}

func TestRead_AccelAndMag(t *testing.T) {
	imu, mag := newFakes(t)
	imu.regs[regAccelXH] = []byte{
		0x40, 0x00, // 16384 -> 2g
		0x00, 0x00,
		0xC0, 0x00, // -16384 -> -2g
	}
	mag.regs[regMagST1] = []byte{bitMagDataReady}
	mag.regs[regMagHXL] = []byte{
		0x2C, 0x01, // 300
		0xD8, 0xFF, // -40
		0x00, 0x00,
		0x00, 0x00, // TMPS, ST2
	}

	d, err := newWithIO(imu, mag)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	s, err := d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.Ax < 1.99 || s.Ax > 2.01 || s.Az > -1.99 || s.Az < -2.01 {
		t.Fatalf("accel=(%v,%v,%v) want (2,0,-2)", s.Ax, s.Ay, s.Az)
	}
	if s.Mx != 300 || s.My != -40 || s.Mz != 0 {
		t.Fatalf("mag=(%v,%v,%v) want (300,-40,0)", s.Mx, s.My, s.Mz)
	}

	// Not ready, then overflow: the previous sample is held.
	mag.regs[regMagST1] = []byte{0}
	mag.regs[regMagHXL] = []byte{0x01, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00}
	if s, _ = d.Read(); s.Mx != 300 {
		t.Fatalf("mx=%v want 300 held while not ready", s.Mx)
	}
	mag.regs[regMagST1] = []byte{bitMagDataReady}
	mag.regs[regMagHXL][7] = bitMagOverflow
	if s, _ = d.Read(); s.Mx != 300 {
		t.Fatalf("mx=%v want 300 held on overflow", s.Mx)
	}
}
