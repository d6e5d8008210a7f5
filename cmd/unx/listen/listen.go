package listen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v2"
	"github.com/wetware/unx"
	"github.com/wetware/unx/cmd/internal/flags"
	"github.com/wetware/unx/cmd/internal/serve"
	"github.com/wetware/unx/file"
	"github.com/wetware/unx/socket"
	"github.com/wetware/unx/stream"
	"golang.org/x/sync/errgroup"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:      "listen",
		Usage:     "accept clients and print their records",
		ArgsUsage: "<addr>",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{
				Name:  "echo",
				Usage: "write each record back to its client",
			},
			&cli.IntFlag{
				Name:    "backlog",
				Usage:   "pending connection queue length; 0 for the system maximum",
				EnvVars: []string{"UNX_BACKLOG"},
			},
			&cli.PathFlag{
				Name:    "authority",
				Usage:   "admit only clients presenting the token in `file`",
				EnvVars: []string{"UNX_AUTHORITY"},
			},
		}, flags.StreamFlags()...),
		Action: Main,
	}
}

func Main(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: unx listen <addr>")
	}

	sep, err := flags.Separator(c)
	if err != nil {
		return err
	}

	ln, err := socket.New(c.Args().First())
	if err != nil {
		return err
	}
	if path := c.Path("authority"); path != "" {
		if ln.Authority, err = file.New(path, file.Binary); err != nil {
			return err
		}
	}

	env, ctx, err := serve.Start(c)
	if err != nil {
		return err
	}
	defer env.Stop()

	g, ctx := errgroup.WithContext(ctx)
	h := handler{
		Env:  env,
		Ctx:  ctx,
		Sep:  sep,
		Echo: c.Bool("echo"),
		Out:  c.App.Writer,
		Go:   g.Go,
	}

	ln.Configure(stream.Config{Separator: sep, Dispatcher: env.Loop})
	ln.OnAccept = h.Accept

	if err = ln.Listen(ctx, c.Int("backlog")); err != nil {
		return err
	}
	env.Track(ln)

	slog.InfoContext(ctx, "listening",
		"addr", ln.Address)

	context.AfterFunc(ctx, func() { ln.Close() })
	g.Go(func() error {
		if err := ln.Serve(ctx); !errors.Is(err, unx.ErrCancelled) {
			return err
		}
		return nil
	})

	return g.Wait()
}

type handler struct {
	Env  *serve.Env
	Ctx  context.Context
	Sep  stream.Separator
	Echo bool
	Out  io.Writer
	Go   func(func() error)
}

// Accept runs on the event loop.
func (h handler) Accept(client *socket.Socket) {
	slog.InfoContext(h.Ctx, "client connected",
		"client", client.ID(),
		"remote", client.Address)

	h.Env.Track(client)
	client.Configure(stream.Config{
		Separator:  h.Sep,
		Dispatcher: h.Env.Loop,
		OnRecord: func(record []byte) {
			fmt.Fprintf(h.Out, "%s %s\n", client.ID(), record)

			if h.Echo {
				if _, err := client.Write(append(record, '\n')); err != nil {
					slog.WarnContext(h.Ctx, "echo failed",
						"client", client.ID(),
						"reason", err)
				}
			}
		},
		OnEOF: func(err error) {
			slog.InfoContext(h.Ctx, "client disconnected",
				"client", client.ID(),
				"reason", err)

			if err := h.Env.Registry.Remove(client.ID()); err != nil {
				slog.DebugContext(h.Ctx, "failed to untrack client",
					"client", client.ID(),
					"reason", err)
			}
			client.Close()
		},
	})

	h.Go(func() error {
		if err := client.Watch(h.Ctx); err != nil && !errors.Is(err, unx.ErrCancelled) {
			slog.DebugContext(h.Ctx, "stopped reading client",
				"client", client.ID(),
				"reason", err)
		}
		return nil
	})
}
