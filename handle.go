package unx

import "io"

// Type names a concrete handle kind.
type Type string

const (
	TypeFile      Type = "file"
	TypeResource  Type = "resource"
	TypeDirectory Type = "directory"
	TypeStream    Type = "stream"
	TypeProcess   Type = "process"
	TypeSocket    Type = "socket"
)

// Handle is an OS-backed resource owned by the caller.  Close releases
// every descriptor the handle holds and is safe to call more than once.
type Handle interface {
	ID() ID
	Type() Type
	io.Closer
}

// Dispatcher runs callbacks on behalf of a handle.  Implementations
// decide where the callback runs; see loop.Loop.  Dispatch reports
// false if the callback was dropped.
type Dispatcher interface {
	Dispatch(func()) bool
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(func()) bool

func (f DispatchFunc) Dispatch(callback func()) bool {
	return f(callback)
}

// Direct runs callbacks inline, on the goroutine that produced the
// event.
var Direct Dispatcher = DispatchFunc(func(callback func()) bool {
	callback()
	return true
})
