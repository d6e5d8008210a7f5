package socket

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// listen creates a listening socket bound to addr with the given
// backlog.  The net package does not expose the backlog, so the socket
// is set up by hand and then handed to net.FileListener.  bound is
// called between bind and listen.
func listen(addr Address, backlog int, bound func()) (net.Listener, error) {
	sa, family, err := sockaddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	f := os.NewFile(uintptr(fd), addr.String())
	defer f.Close() // FileListener dups the descriptor

	if family != unix.AF_UNIX {
		if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return nil, os.NewSyscallError("setsockopt", err)
		}
	}

	if err = unix.Bind(fd, sa); err != nil {
		return nil, os.NewSyscallError("bind", err)
	}
	bound()

	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err = unix.Listen(fd, backlog); err != nil {
		return nil, os.NewSyscallError("listen", err)
	}

	return net.FileListener(f)
}

func sockaddr(addr Address) (unix.Sockaddr, int, error) {
	switch a := addr.Addr.(type) {
	case *net.UnixAddr:
		return &unix.SockaddrUnix{Name: a.Name}, unix.AF_UNIX, nil

	case *net.TCPAddr:
		if ip4 := a.IP.To4(); ip4 != nil {
			sa := &unix.SockaddrInet4{Port: a.Port}
			copy(sa.Addr[:], ip4)
			return sa, unix.AF_INET, nil
		}

		sa := &unix.SockaddrInet6{Port: a.Port}
		copy(sa.Addr[:], a.IP.To16())
		return sa, unix.AF_INET6, nil
	}

	return nil, 0, errors.Errorf("cannot listen on %v", addr.Addr)
}
