package unx

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"syscall"
)

// Kind classifies failures of handle operations.
type Kind uint8

const (
	KindUnknown Kind = iota
	ResourceUnavailable
	InvalidMode
	ChannelClosed
	NotRunning
	ConnectionRefused
	Timeout
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case ResourceUnavailable:
		return "resource unavailable"
	case InvalidMode:
		return "invalid mode"
	case ChannelClosed:
		return "channel closed"
	case NotRunning:
		return "not running"
	case ConnectionRefused:
		return "connection refused"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown error"
	}
}

// Sentinels for use with errors.Is.  They match any *Error of the
// same Kind.
var (
	ErrResourceUnavailable = &Error{Kind: ResourceUnavailable}
	ErrInvalidMode         = &Error{Kind: InvalidMode}
	ErrChannelClosed       = &Error{Kind: ChannelClosed}
	ErrNotRunning          = &Error{Kind: NotRunning}
	ErrConnectionRefused   = &Error{Kind: ConnectionRefused}
	ErrTimeout             = &Error{Kind: Timeout}
	ErrCancelled           = &Error{Kind: Cancelled}
)

// Error is returned by every handle operation that fails.
type Error struct {
	Op   string // operation, e.g. "open", "accept"
	Path string // file path, address or command; may be empty
	Kind Kind
	Err  error // underlying cause; may be nil
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Path != "" {
		s = e.Path + ": " + s
	}
	if e.Op != "" {
		s = e.Op + " " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Path != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Errorf is shorthand for an *Error with no OS cause.
func Errorf(op, path string, kind Kind, cause string) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: errors.New(cause)}
}

// Wrap classifies err and returns it as an *Error.  Errors that already
// carry a Kind are returned unchanged.  Wrap returns nil if err is nil.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	return &Error{
		Op:   op,
		Path: path,
		Kind: Classify(err),
		Err:  err,
	}
}

// Classify maps an OS or runtime error onto a Kind.  Errors it does not
// recognize are reported as ResourceUnavailable.
func Classify(err error) Kind {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e.Kind

	case errors.Is(err, context.Canceled),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, os.ErrClosed):
		// A local close or cancellation interrupted the operation.
		return Cancelled

	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, syscall.ETIMEDOUT),
		isTimeout(err):
		return Timeout

	case errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrClosedPipe):
		return ChannelClosed

	case errors.Is(err, syscall.ECONNREFUSED):
		return ConnectionRefused

	case errors.Is(err, os.ErrProcessDone),
		errors.Is(err, syscall.ESRCH):
		return NotRunning

	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission),
		errors.Is(err, fs.ErrExist),
		errors.Is(err, exec.ErrNotFound),
		errors.Is(err, syscall.EADDRINUSE),
		errors.Is(err, syscall.EADDRNOTAVAIL):
		return ResourceUnavailable
	}

	return ResourceUnavailable
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
