// Package loop provides the event loop that serializes handle
// callbacks.  Readiness sources (stream pumps, accept loops, the child
// reaper) run on their own goroutines and hand callbacks to the loop,
// which runs them one at a time, in order.
package loop

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/wetware/unx"
)

var _ unx.Dispatcher = (*Loop)(nil)

// ErrStopped is returned by Sync after the loop has stopped.
var ErrStopped = errors.New("loop stopped")

// Loop runs dispatched callbacks serially.  It implements
// suture.Service.  The zero value is ready to use; a Loop serves
// once and drops callbacks dispatched after it stops.
type Loop struct {
	Name string

	init    sync.Once
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

func (l *Loop) setup() {
	l.wake = make(chan struct{}, 1)
	l.done = make(chan struct{})
}

func (l *Loop) String() string {
	if l.Name == "" {
		return "loop"
	}
	return l.Name
}

// Dispatch queues callback to run on the loop goroutine.  It never
// blocks, including when called from a callback.  Dispatch reports
// false once the loop has stopped.
func (l *Loop) Dispatch(callback func()) bool {
	l.init.Do(l.setup)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return false
	}

	l.pending = append(l.pending, callback)
	select {
	case l.wake <- struct{}{}:
	default: // already signalled
	}

	return true
}

// Serve runs callbacks until ctx expires.
func (l *Loop) Serve(ctx context.Context) error {
	l.init.Do(l.setup)
	defer l.stop(ctx)

	slog.DebugContext(ctx, "event loop started",
		"loop", l.String())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}

		for batch := l.take(); len(batch) > 0; batch = l.take() {
			for _, callback := range batch {
				l.run(ctx, callback)
			}
		}
	}
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} {
	l.init.Do(l.setup)
	return l.done
}

// Sync waits until every callback dispatched before the call has run.
func (l *Loop) Sync(ctx context.Context) error {
	ch := make(chan struct{})
	if !l.Dispatch(func() { close(ch) }) {
		return ErrStopped
	}

	select {
	case <-ch:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watch runs w on its own goroutine, for the lifetime of ctx or until
// w returns.
func (l *Loop) Watch(ctx context.Context, w Watcher) {
	go func() {
		if err := w.Watch(ctx); err != nil && !errors.Is(err, unx.ErrCancelled) {
			slog.WarnContext(ctx, "watcher stopped",
				"loop", l.String(),
				"watcher", w,
				"reason", err)
		}
	}()
}

// Watcher is a readiness source, e.g. a *stream.Stream or a
// *socket.Socket, which serves when listening and reads when connected.
type Watcher interface {
	Watch(ctx context.Context) error
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := l.pending
	l.pending = nil
	return batch
}

func (l *Loop) run(ctx context.Context, callback func()) {
	defer func() {
		if v := recover(); v != nil {
			slog.ErrorContext(ctx, "callback panicked",
				"loop", l.String(),
				"reason", v)
		}
	}()

	callback()
}

func (l *Loop) stop(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.stopped {
		l.stopped = true
		close(l.done)
	}

	if n := len(l.pending); n > 0 {
		slog.DebugContext(ctx, "dropped pending callbacks",
			"loop", l.String(),
			"count", n)
		l.pending = nil
	}
}
