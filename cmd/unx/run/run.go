package run

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/wetware/unx"
	"github.com/wetware/unx/cmd/internal/flags"
	"github.com/wetware/unx/cmd/internal/serve"
	"github.com/wetware/unx/directory"
	"github.com/wetware/unx/process"
	"github.com/wetware/unx/stream"
	syncutils "github.com/wetware/unx/util/sync"
)

func Command() *cli.Command {
	return &cli.Command{
		// unx run <cmd> [args...]
		////
		Name:      "run",
		Usage:     "spawn a command and print its output records",
		ArgsUsage: "<cmd> [args...]",
		Flags: append([]cli.Flag{
			&cli.StringSliceFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "set `NAME=value` in the child's environment",
				EnvVars: []string{"UNX_ENV"},
			},
			&cli.BoolFlag{
				Name:  "clean-env",
				Usage: "start from an empty environment instead of the current one",
			},
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "working `directory` of the child",
				EnvVars: []string{"UNX_DIR"},
			},
			&cli.BoolFlag{
				Name:    "tty",
				Aliases: []string{"t"},
				Usage:   "run the child on a pseudo-terminal",
			},
		}, flags.StreamFlags()...),
		Action: Main,
	}
}

func Main(c *cli.Context) error {
	if !c.Args().Present() {
		return errors.New("usage: unx run <cmd> [args...]")
	}

	sep, err := flags.Separator(c)
	if err != nil {
		return err
	}

	env, ctx, err := serve.Start(c)
	if err != nil {
		return err
	}
	defer env.Stop()

	p := process.Command(c.Args().First(), c.Args().Tail()...)
	p.Reaper = env.Reaper
	p.UseTTY = c.Bool("tty")
	p.Env = environment(c)
	if dir := c.String("dir"); dir != "" {
		if p.Dir, err = directory.New(dir); err != nil {
			return err
		}
		if !p.Dir.Exists() {
			return unx.Errorf("run", dir, unx.ResourceUnavailable, "no such directory")
		}
	}

	out := c.App.Writer
	p.Configure(stream.Config{
		Separator:  sep,
		Dispatcher: env.Loop,
		OnRecord: func(record []byte) {
			fmt.Fprintf(out, "%s\n", record)
		},
	})
	p.OnTerminate = func(p *process.Process) {
		slog.DebugContext(ctx, "child terminated",
			"pid", p.PID(),
			"status", p.Status(),
			"code", p.Code())
	}

	if err = p.Spawn(ctx); err != nil {
		return err
	}
	slog.DebugContext(ctx, "child started",
		"pid", p.PID(),
		"tty", p.TTY())

	go forward(ctx, c.App.Reader, p)

	var any syncutils.Any
	any.Go(func() error { return p.Watch(ctx) })
	any.Go(func() error { return p.Wait(ctx) })
	if err = any.Wait(); err != nil {
		return err
	}

	if err = env.Sync(ctx); err != nil {
		return err
	}

	return exitStatus(p)
}

func environment(c *cli.Context) *unx.Env {
	vars := c.StringSlice("env")
	if len(vars) == 0 && !c.Bool("clean-env") {
		return nil // inherit
	}

	env := new(unx.Env)
	if !c.Bool("clean-env") {
		env = unx.Inherit()
	}

	for name, value := range unx.ParseEnv(vars...).All() {
		env.Set(name, value)
	}
	return env
}

// forward copies r to the child's input until r is exhausted, then
// closes the child's input.
func forward(ctx context.Context, r io.Reader, p *process.Process) {
	if _, err := io.Copy(p, r); err != nil && ctx.Err() == nil {
		slog.DebugContext(ctx, "stopped forwarding input",
			"reason", err)
	}

	if err := p.CloseInput(); err != nil {
		slog.DebugContext(ctx, "failed to close child input",
			"reason", err)
	}
}

func exitStatus(p *process.Process) error {
	switch p.Status() {
	case process.Exited:
		if code := p.Code(); code != 0 {
			return cli.Exit("", code)
		}
	case process.Signaled:
		return cli.Exit("", 128+p.Code())
	}

	return nil
}
