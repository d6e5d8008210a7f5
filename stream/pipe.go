package stream

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Pipe returns two generic streams connected by a pair of OS pipes.
// Bytes written to a are read from b, and vice versa.
func Pipe(ca, cb Config) (a, b *Stream, err error) {
	ar, bw, err := os.Pipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "pipe")
	}

	br, aw, err := os.Pipe()
	if err != nil {
		return nil, nil, multierr.Combine(
			errors.Wrap(err, "pipe"),
			ar.Close(),
			bw.Close())
	}

	return New(ca, ar, aw), New(cb, br, bw), nil
}

// FromFds wraps an already-open descriptor pair.  The stream takes
// ownership of both descriptors.  rfd and wfd may be equal, as for a
// socket or terminal, in which case the descriptor is closed once.
//
// Both descriptors are switched to non-blocking mode so that Close can
// interrupt a pending read.
func FromFds(cfg Config, rfd, wfd int) (*Stream, error) {
	if rfd < 0 || wfd < 0 {
		return nil, fmt.Errorf("invalid descriptor pair (%d, %d)", rfd, wfd)
	}

	for _, fd := range []int{rfd, wfd} {
		if err := unix.SetNonblock(fd, true); err != nil {
			return nil, errors.Wrapf(err, "set nonblock fd:%d", fd)
		}
	}

	rd := os.NewFile(uintptr(rfd), fmt.Sprintf("fd:%d", rfd))
	if rfd == wfd {
		return New(cfg, rd, nopCloser{rd}), nil
	}

	wr := os.NewFile(uintptr(wfd), fmt.Sprintf("fd:%d", wfd))
	return New(cfg, rd, wr), nil
}

// nopCloser shares a descriptor with the read side, which owns it.
type nopCloser struct{ *os.File }

func (nopCloser) Close() error { return nil }
