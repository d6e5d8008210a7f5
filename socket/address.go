package socket

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/pkg/errors"
)

type Domain uint8

const (
	Unix Domain = iota
	Inet
)

func (d Domain) String() string {
	if d == Inet {
		return "inet"
	}
	return "unix"
}

// Address is a resolved socket address.
type Address struct {
	Domain Domain
	Addr   net.Addr // *net.UnixAddr or *net.TCPAddr
}

// ParseAddress accepts a multiaddr (/ip4/127.0.0.1/tcp/80,
// /unix/tmp/x.sock), host:port, a bare port, which listens on every
// interface, or a filesystem path naming a unix-domain socket.
func ParseAddress(s string) (Address, error) {
	switch {
	case s == "":
		return Address{}, errors.New("empty address")

	case strings.HasPrefix(s, "/"):
		if m, err := ma.NewMultiaddr(s); err == nil {
			return FromMultiaddr(m)
		}

	case isPort(s):
		s = ":" + s
		fallthrough

	case strings.Contains(s, ":"):
		addr, err := net.ResolveTCPAddr("tcp", s)
		if err != nil {
			return Address{}, errors.Wrapf(err, "resolve %s", s)
		}
		if addr.IP == nil {
			addr.IP = net.IPv4zero
		}
		return Address{Domain: Inet, Addr: addr}, nil
	}

	path, err := filepath.Abs(s)
	if err != nil {
		return Address{}, err
	}
	return Address{Domain: Unix, Addr: &net.UnixAddr{Net: "unix", Name: path}}, nil
}

func isPort(s string) bool {
	n, err := strconv.ParseUint(s, 10, 16)
	return err == nil && n > 0
}

// FromMultiaddr converts a tcp or unix multiaddr.
func FromMultiaddr(m ma.Multiaddr) (Address, error) {
	addr, err := manet.ToNetAddr(m)
	if err != nil {
		return Address{}, errors.Wrapf(err, "convert %s", m)
	}

	return fromNetAddr(addr)
}

func fromNetAddr(addr net.Addr) (Address, error) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return Address{Domain: Inet, Addr: a}, nil
	case *net.UnixAddr:
		return Address{Domain: Unix, Addr: a}, nil
	}

	return Address{}, fmt.Errorf("unsupported %s address %s", addr.Network(), addr)
}

// Network returns "tcp" or "unix".
func (a Address) Network() string {
	if a.Domain == Inet {
		return "tcp"
	}
	return "unix"
}

// Path returns the socket file of a unix-domain address.
func (a Address) Path() string {
	if u, ok := a.Addr.(*net.UnixAddr); ok {
		return u.Name
	}
	return ""
}

// Multiaddr renders the address as a multiaddr.
func (a Address) Multiaddr() (ma.Multiaddr, error) {
	if a.Addr == nil {
		return nil, errors.New("empty address")
	}
	return manet.FromNetAddr(a.Addr)
}

func (a Address) String() string {
	if m, err := a.Multiaddr(); err == nil {
		return m.String()
	}
	if a.Addr != nil {
		return a.Addr.String()
	}
	return ""
}
