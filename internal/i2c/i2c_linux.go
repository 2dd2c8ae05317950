//go:build linux

// Package i2c talks to devices on a Linux /dev/i2c-N bus.
package i2c

import (
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// I2C_RDWR lets one ioctl carry a register write and the read that follows
// it with a repeated start.
const (
	flagRead  = 0x0001
	ioctlRdwr = 0x0707
)

type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type rdwrIoctlData struct {
	msgs  uintptr
	nmsgs uint32
}

// Bus is an open I2C adapter. Transfers from every Dev on the bus are
// serialized.
type Bus struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

func Open(path string) (*Bus, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "i2c: open %s", path)
	}
	return &Bus{f: f, path: path}, nil
}

func (b *Bus) Path() string { return b.path }

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

// Dev returns a handle for the 7-bit address addr.
func (b *Bus) Dev(addr uint16) *Dev {
	if b == nil {
		return nil
	}
	return &Dev{bus: b, addr: addr}
}

type Dev struct {
	bus  *Bus
	addr uint16
}

func (d *Dev) Addr() uint16 { return d.addr }

func (d *Dev) Write(p []byte) error {
	_, err := d.tx(p, nil)
	return err
}

func (d *Dev) Read(p []byte) error {
	_, err := d.tx(nil, p)
	return err
}

func (d *Dev) WriteRead(w, r []byte) error {
	_, err := d.tx(w, r)
	return err
}

// ReadReg reads len(dst) bytes starting at reg.
func (d *Dev) ReadReg(reg byte, dst []byte) error { return d.WriteRead([]byte{reg}, dst) }

func (d *Dev) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	err := d.ReadReg(reg, b[:])
	return b[0], err
}

func (d *Dev) WriteReg(reg, value byte) error { return d.Write([]byte{reg, value}) }

func (d *Dev) tx(w, r []byte) (int, error) {
	if d == nil || d.bus == nil {
		return 0, errors.New("i2c: nil device")
	}
	if d.addr == 0 || d.addr > 0x7F {
		return 0, errors.Errorf("i2c: invalid i2c addr 0x%X", d.addr)
	}

	msgs := make([]i2cMsg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, i2cMsg{addr: d.addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))})
	}
	if len(r) > 0 {
		msgs = append(msgs, i2cMsg{addr: d.addr, flags: flagRead, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))})
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	if d.bus.f == nil {
		return 0, errors.New("i2c: bus closed")
	}
	data := rdwrIoctlData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.bus.f.Fd(), ioctlRdwr, uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return 0, errors.Wrapf(errno, "i2c: transfer to 0x%02X", d.addr)
	}
	return len(w) + len(r), nil
}
