package link

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

type (
	resolveFunc func(network, address string) (*net.UDPAddr, error)
	dialFunc    func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)
)

// UDP carries one CRTP packet per datagram to a radio bridge.
type UDP struct {
	dest string
	conn udpConn
	buf  []byte
}

// DialUDP connects to the bridge at dest (host:port).
func DialUDP(dest string) (*UDP, error) {
	return dialUDP(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func dialUDP(dest string, resolve resolveFunc, dial dialFunc) (*UDP, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, errors.Wrap(err, "link: resolve dest")
	}
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, errors.Wrap(err, "link: dial udp")
	}
	return &UDP{dest: dest, conn: conn, buf: make([]byte, 512)}, nil
}

func (u *UDP) WritePacket(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	_, err := u.conn.Write(p)
	return err
}

// ReadPacket waits up to timeout for one datagram. A timeout returns
// (nil, nil).
func (u *UDP) ReadPacket(timeout time.Duration) ([]byte, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	n, err := u.conn.Read(u.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	return append([]byte(nil), u.buf[:n]...), nil
}

func (u *UDP) Close() error {
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}

func (u *UDP) String() string { return "udp:" + u.dest }
