package process

import (
	"errors"
	"io"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// dupMaster returns a second descriptor for the terminal master.  The
// stream owns the copy; the process holds the original until the
// child is reaped, since closing the last master descriptor hangs up
// the child's session.
func dupMaster(master *os.File) (*os.File, error) {
	var fd int
	err := control(master, func(u int) (err error) {
		fd, err = unix.FcntlInt(uintptr(u), unix.F_DUPFD_CLOEXEC, 0)
		return
	})
	if err != nil {
		return nil, err
	}

	if err = unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return os.NewFile(uintptr(fd), master.Name()), nil
}

// setsize applies a window size to the terminal master without
// switching it to blocking mode, which (*os.File).Fd would do.
func setsize(master *os.File, rows, cols uint16) error {
	return control(master, func(fd int) error {
		return unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, &unix.Winsize{
			Row: rows,
			Col: cols,
		})
	})
}

func control(f *os.File, fn func(fd int) error) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}

	var ferr error
	if err = raw.Control(func(u uintptr) { ferr = fn(int(u)) }); err != nil {
		return err
	}
	return ferr
}

// ptyReader reads the terminal master.  Once every slave descriptor
// is closed, Linux fails reads with EIO; this is end of file.
type ptyReader struct{ *os.File }

func (r ptyReader) Read(p []byte) (int, error) {
	n, err := r.File.Read(p)
	if errors.Is(err, syscall.EIO) {
		err = io.EOF
	}
	return n, err
}

// ptyWriter writes the terminal master.  Closing it sends the EOF
// character instead of closing the master, which the reader still
// owns.
type ptyWriter struct{ *os.File }

const eot = 0x04 // ^D

func (w ptyWriter) Close() error {
	_, err := w.File.Write([]byte{eot})
	return err
}
