// Package serve hosts the event loop and the child reaper for the
// long-running commands.
package serve

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/urfave/cli/v2"
	"github.com/wetware/unx"
	"github.com/wetware/unx/loop"
	"github.com/wetware/unx/process"
	"github.com/wetware/unx/registry"
	"github.com/wetware/unx/util"
)

// Env is the runtime shared by a command's handles.  Callbacks run on
// Loop; children are reaped by Reaper; every handle the command opens
// goes into Registry and is closed by Stop.
type Env struct {
	Loop     *loop.Loop
	Reaper   *process.Reaper
	Registry *registry.Registry

	cancel context.CancelFunc
	errs   <-chan error
}

// Start launches the supervisor.  The returned context expires when
// Stop is called or the command's context does.
func Start(c *cli.Context) (*Env, context.Context, error) {
	reg, err := registry.New()
	if err != nil {
		return nil, nil, err
	}

	env := &Env{
		Loop:     &loop.Loop{Name: c.Command.Name},
		Reaper:   &process.Reaper{Registry: reg},
		Registry: reg,
	}

	sup := suture.New(c.App.Name, suture.Spec{
		EventHook: util.EventHook,
		Timeout:   5 * time.Second,
	})
	sup.Add(env.Loop)
	sup.Add(env.Reaper)

	ctx, cancel := context.WithCancel(c.Context)
	env.cancel = cancel
	env.errs = sup.ServeBackground(ctx)

	return env, ctx, nil
}

// Track adds h to the registry.
func (env *Env) Track(h unx.Handle) {
	if err := env.Registry.Put(h); err != nil {
		slog.Warn("failed to track handle",
			"handle", h.ID(),
			"reason", err)
	}
}

// Sync waits until callbacks dispatched so far have run.
func (env *Env) Sync(ctx context.Context) error {
	return env.Loop.Sync(ctx)
}

// Stop shuts the supervisor down, which sends SIGTERM to children
// still alive, then closes every tracked handle.
func (env *Env) Stop() error {
	env.cancel()
	if err := <-env.errs; err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("supervisor stopped",
			"reason", err)
	}

	if n := env.Registry.Len(); n > 0 {
		slog.Debug("closing handles",
			"count", n)
	}
	return env.Registry.Close()
}
