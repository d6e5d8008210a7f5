// Package process spawns and supervises child processes.  A Process is
// a stream over the child's standard input and its merged standard
// output and error, or over a pseudo-terminal.
package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/wetware/unx"
	"github.com/wetware/unx/directory"
	"github.com/wetware/unx/stream"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

type Status uint8

const (
	NotStarted Status = iota
	Running
	Stopped
	Exited
	Signaled
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Exited:
		return "exited"
	case Signaled:
		return "signaled"
	default:
		return fmt.Sprintf("Status(%d)", s)
	}
}

// Alive reports whether the child may still run.
func (s Status) Alive() bool {
	return s == Running || s == Stopped
}

// Process is a child process.  Set the exported fields and Configure
// the embedded stream, then call Spawn.
type Process struct {
	stream.Stream

	Name string   // command, resolved through PATH
	Args []string // arguments, excluding the command
	Dir  *directory.Directory

	// Env replaces the child's environment when non-nil.  A nil Env
	// inherits the current environment.
	Env *unx.Env

	// UseTTY runs the child on a pseudo-terminal instead of pipes.
	UseTTY bool

	// OnTerminate is called once the child exits or is killed by a
	// signal, through the stream's Dispatcher.
	OnTerminate func(*Process)

	// Reaper collects the child's status.  Defaults to DefaultReaper.
	Reaper *Reaper

	mu     sync.Mutex
	status Status
	code   int
	pid    int
	tty    string
	proc   *os.Process
	pty    *os.File
	done   chan struct{}
}

// Command returns a process for name with args.
func Command(name string, args ...string) *Process {
	return &Process{Name: name, Args: args}
}

func (p *Process) Type() unx.Type {
	return unx.TypeProcess
}

func (p *Process) String() string {
	if pid := p.PID(); pid != 0 {
		return fmt.Sprintf("process[%s:%d]", p.Name, pid)
	}
	return fmt.Sprintf("process[%s]", p.Name)
}

func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.status
}

// Code returns the exit status, or the signal number if the child was
// signaled.  It is zero while the child is alive.
func (p *Process) Code() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.code
}

// PID returns the OS process ID, or zero before Spawn.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.pid
}

// TTY returns the name of the child's terminal, if it has one.
func (p *Process) TTY() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.tty
}

func (p *Process) reaper() *Reaper {
	if p.Reaper == nil {
		return DefaultReaper
	}
	return p.Reaper
}

// Spawn starts the child.  A process can be spawned once.
func (p *Process) Spawn(ctx context.Context) error {
	if err := p.spawn(ctx); err != nil {
		return err
	}

	return p.reaper().Add(p)
}

func (p *Process) spawn(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != NotStarted {
		return unx.Errorf("spawn", p.Name, unx.InvalidMode, "already "+p.status.String())
	}

	if err := ctx.Err(); err != nil {
		return unx.Wrap("spawn", p.Name, err)
	}

	path, err := p.lookPath()
	if err != nil {
		return unx.Wrap("spawn", p.Name, err)
	}

	attr := &os.ProcAttr{Env: p.Env.Environ()}
	if p.Dir != nil {
		attr.Dir = p.Dir.Path
	}

	var (
		child []*os.File // closed in the parent once the child starts
		rd    io.ReadCloser
		wr    io.WriteCloser
	)

	if p.UseTTY {
		master, slave, err := pty.Open()
		if err != nil {
			return unx.Wrap("spawn", p.Name, err)
		}

		dup, err := dupMaster(master)
		if err != nil {
			return unx.Wrap("spawn", p.Name, multierr.Combine(err, master.Close(), slave.Close()))
		}

		attr.Files = []*os.File{slave, slave, slave}
		attr.Sys = &syscall.SysProcAttr{Setsid: true, Setctty: true}
		child = []*os.File{slave}
		rd, wr = ptyReader{dup}, ptyWriter{dup}
		p.pty, p.tty = master, slave.Name()
	} else {
		inR, inW, err := os.Pipe()
		if err != nil {
			return unx.Wrap("spawn", p.Name, err)
		}
		outR, outW, err := os.Pipe()
		if err != nil {
			return unx.Wrap("spawn", p.Name, multierr.Combine(err, inR.Close(), inW.Close()))
		}

		attr.Files = []*os.File{inR, outW, outW}
		child = []*os.File{inR, outW}
		rd, wr = outR, inW
	}

	proc, err := os.StartProcess(path, append([]string{p.Name}, p.Args...), attr)
	for _, f := range child {
		f.Close()
	}
	if err != nil {
		if p.pty != nil {
			err = multierr.Append(err, p.pty.Close())
		}
		p.pty, p.tty = nil, ""
		return unx.Wrap("spawn", p.Name, multierr.Combine(err, wr.Close(), rd.Close()))
	}

	p.Attach(rd, wr)
	p.proc = proc
	p.pid = proc.Pid
	p.status = Running
	p.done = make(chan struct{})

	return nil
}

// lookPath resolves the command.  A relative path names a file under
// Dir, where the child will run; a bare name is searched in PATH.
func (p *Process) lookPath() (string, error) {
	name := p.Name
	if p.Dir != nil && unx.HasDirSep(name) && !filepath.IsAbs(name) {
		name = filepath.Join(p.Dir.Path, name)
	}
	return exec.LookPath(name)
}

// Done returns a channel that is closed when the child terminates.  It
// returns nil before Spawn.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.done
}

// Wait blocks until the child terminates or ctx expires.  The exit
// status is reported by Status and Code.
func (p *Process) Wait(ctx context.Context) error {
	done := p.Done()
	if done == nil {
		return unx.Errorf("wait", p.Name, unx.NotRunning, "not started")
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return unx.Wrap("wait", p.Name, ctx.Err())
	}
}

// Terminate sends sig to the child, or SIGTERM if sig is nil.  It fails
// with unx.NotRunning unless the child is running.
func (p *Process) Terminate(sig os.Signal) error {
	if sig == nil {
		sig = syscall.SIGTERM
	}
	return p.signal("terminate", sig, Running)
}

// Stop suspends the child with SIGSTOP.
func (p *Process) Stop() error {
	return p.signal("stop", syscall.SIGSTOP, Running)
}

// Continue resumes a stopped child with SIGCONT.
func (p *Process) Continue() error {
	return p.signal("continue", syscall.SIGCONT, Stopped)
}

// signal delivers sig if the child is in the required state.
func (p *Process) signal(op string, sig os.Signal, want Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != want {
		return unx.Errorf(op, p.Name, unx.NotRunning, "process "+p.status.String())
	}

	return unx.Wrap(op, p.Name, p.proc.Signal(sig))
}

// kill delivers sig to a live child, resuming it first if it is
// stopped.
func (p *Process) kill(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.status.Alive() {
		return unx.Errorf("terminate", p.Name, unx.NotRunning, "process "+p.status.String())
	}

	if p.status == Stopped {
		if err := p.proc.Signal(syscall.SIGCONT); err != nil {
			return unx.Wrap("terminate", p.Name, err)
		}
	}

	return unx.Wrap("terminate", p.Name, p.proc.Signal(sig))
}

// Resize sets the window size of the child's terminal.
func (p *Process) Resize(rows, cols uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tty == "" {
		return unx.Errorf("resize", p.Name, unx.InvalidMode, "process has no terminal")
	}
	if p.pty == nil {
		return unx.Errorf("resize", p.Name, unx.NotRunning, "process "+p.status.String())
	}

	return unx.Wrap("resize", p.Name, setsize(p.pty, rows, cols))
}

// CloseInput signals end of input to the child.
func (p *Process) CloseInput() error {
	return p.CloseWrite()
}

// Close releases the descriptors connecting p to the child.  The child
// keeps running, on its terminal too if it has one.
func (p *Process) Close() error {
	return p.Stream.Close()
}

// update applies a wait status.  It reports true once, when the child
// terminates.
func (p *Process) update(ws unix.WaitStatus) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case ws.Exited():
		return p.terminate(Exited, ws.ExitStatus())
	case ws.Signaled():
		return p.terminate(Signaled, int(ws.Signal()))
	case ws.Stopped() && p.status == Running:
		p.status = Stopped
	case ws.Continued() && p.status == Stopped:
		p.status = Running
	}

	return false
}

// must hold mu
func (p *Process) terminate(s Status, code int) bool {
	if !p.status.Alive() {
		return false
	}

	p.status, p.code = s, code
	p.proc.Release()
	if p.pty != nil {
		p.pty.Close()
		p.pty = nil
	}
	close(p.done)
	return true
}

// notify dispatches OnTerminate.  It must be called once, after the
// child terminated, without holding mu.
func (p *Process) notify() {
	if p.OnTerminate == nil {
		return
	}

	d := p.Config().Dispatcher
	if d == nil {
		d = unx.Direct
	}
	d.Dispatch(func() { p.OnTerminate(p) })
}
