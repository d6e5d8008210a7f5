package process

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/wetware/unx"
	"github.com/wetware/unx/registry"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// DefaultReaper collects every child spawned without an explicit
// Reaper.
var DefaultReaper = new(Reaper)

// Reaper collects the exit status of children.  It is driven by
// SIGCHLD, which it starts watching when the first child is added, and
// it looks children up in Registry by process ID.  The zero value is
// ready to use.
//
// Reaper implements suture.Service.  Serve keeps children alive for as
// long as it runs, and terminates them when it returns.
type Reaper struct {
	// Registry holds the live children.  Defaults to a private
	// registry.
	Registry *registry.Registry

	init sync.Once
	err  error
	mu   sync.Mutex // serializes wait4 calls
	sig  chan os.Signal
}

func (r *Reaper) String() string {
	return "reaper"
}

func (r *Reaper) setup() {
	if r.Registry == nil {
		if r.Registry, r.err = registry.New(); r.err != nil {
			return
		}
	}

	r.sig = make(chan os.Signal, 1)
	signal.Notify(r.sig, unix.SIGCHLD)
	go r.watch()
}

func (r *Reaper) watch() {
	for range r.sig {
		r.ReapAll()
	}
}

// Serve blocks until ctx expires, then sends SIGTERM to every child
// still alive.
func (r *Reaper) Serve(ctx context.Context) error {
	if r.init.Do(r.setup); r.err != nil {
		return r.err
	}

	slog.DebugContext(ctx, "reaper started")
	<-ctx.Done()

	if err := r.KillAll(syscall.SIGTERM); err != nil {
		slog.WarnContext(ctx, "failed to terminate children",
			"reason", err)
	}

	return ctx.Err()
}

// Add registers a running child.  A child that already terminated is
// reaped immediately.
func (r *Reaper) Add(p *Process) error {
	if r.init.Do(r.setup); r.err != nil {
		return r.err
	}

	if err := r.Registry.Put(p); err != nil {
		return unx.Wrap("spawn", p.Name, err)
	}

	r.mu.Lock()
	done := r.reap(p.PID())
	r.mu.Unlock()

	if done != nil {
		done.notify()
	}
	return nil
}

// ReapAll polls every registered child for a change of state.
func (r *Reaper) ReapAll() {
	if r.init.Do(r.setup); r.err != nil {
		return
	}

	es, err := r.Registry.List(unx.TypeProcess)
	if err != nil {
		slog.Error("failed to list children",
			"reason", err)
		return
	}

	var done []*Process
	r.mu.Lock()
	for _, e := range es {
		if p := r.reap(e.PID); p != nil {
			done = append(done, p)
		}
	}
	r.mu.Unlock()

	for _, p := range done {
		p.notify()
	}
}

// reap returns the child if it terminated.  Must hold mu.
func (r *Reaper) reap(pid int) *Process {
	h, ok := r.Registry.ByPID(pid)
	if !ok {
		return nil
	}
	p, ok := h.(*Process)
	if !ok {
		return nil
	}

	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue

		case errors.Is(err, unix.ECHILD):
			// reaped elsewhere; the status is lost
			slog.Warn("child reaped by another waiter",
				"pid", pid,
				"cmd", p.Name)
			ws = unix.WaitStatus(0xff << 8) // exit status 255

		case err != nil:
			slog.Error("wait4 failed",
				"pid", pid,
				"reason", err)
			return nil

		case wpid == 0:
			return nil // no change
		}

		if p.update(ws) {
			r.remove(p)
			return p
		}
	}
}

func (r *Reaper) remove(p *Process) {
	if err := r.Registry.Remove(p.ID()); err != nil {
		slog.Error("failed to unregister child",
			"pid", p.PID(),
			"reason", err)
	}
}

// Len returns the number of children being watched.
func (r *Reaper) Len() int {
	if r.init.Do(r.setup); r.err != nil {
		return 0
	}

	es, _ := r.Registry.List(unx.TypeProcess)
	return len(es)
}

// KillAll sends sig to every child that is still alive.  Stopped
// children are resumed so they can act on it.
func (r *Reaper) KillAll(sig os.Signal) error {
	if r.init.Do(r.setup); r.err != nil {
		return r.err
	}

	es, err := r.Registry.List(unx.TypeProcess)
	if err != nil {
		return err
	}

	var errs error
	for _, e := range es {
		p, ok := e.Handle.(*Process)
		if !ok {
			continue
		}

		err := p.kill(sig)
		if err != nil && !errors.Is(err, unx.ErrNotRunning) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
