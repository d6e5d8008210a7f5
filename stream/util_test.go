package stream_test

import (
	"os"
	"syscall"
)

func dup(f *os.File) (fd int, err error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return -1, err
	}

	cerr := raw.Control(func(u uintptr) {
		fd, err = syscall.Dup(int(u))
	})
	if cerr != nil {
		return -1, cerr
	}
	return fd, err
}
