package connect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/wetware/unx/cmd/internal/flags"
	"github.com/wetware/unx/cmd/internal/serve"
	"github.com/wetware/unx/file"
	"github.com/wetware/unx/socket"
	"github.com/wetware/unx/stream"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:      "connect",
		Usage:     "copy stdin to a socket and its records to stdout",
		ArgsUsage: "<addr>",
		Flags: append([]cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "give up connecting after `duration`",
				Value:   10 * time.Second,
				EnvVars: []string{"UNX_TIMEOUT"},
			},
			&cli.PathFlag{
				Name:    "authority",
				Usage:   "present the token in `file` to the listener",
				EnvVars: []string{"UNX_AUTHORITY"},
			},
		}, flags.StreamFlags()...),
		Action: Main,
	}
}

func Main(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: unx connect <addr>")
	}

	sep, err := flags.Separator(c)
	if err != nil {
		return err
	}

	s, err := socket.New(c.Args().First())
	if err != nil {
		return err
	}
	if path := c.Path("authority"); path != "" {
		if s.Authority, err = file.New(path, file.Binary); err != nil {
			return err
		}
	}

	env, ctx, err := serve.Start(c)
	if err != nil {
		return err
	}
	defer env.Stop()

	out := c.App.Writer
	s.Configure(stream.Config{
		Separator:  sep,
		Dispatcher: env.Loop,
		OnRecord: func(record []byte) {
			fmt.Fprintf(out, "%s\n", record)
		},
	})

	if err = dial(ctx, s, c.Duration("timeout")); err != nil {
		return err
	}
	env.Track(s)

	slog.DebugContext(ctx, "connected",
		"addr", s.Address)

	go func() {
		if _, err := io.Copy(s, c.App.Reader); err != nil {
			slog.DebugContext(ctx, "stopped forwarding input",
				"reason", err)
		}
		s.CloseWrite()
	}()

	if err = s.Watch(ctx); err != nil {
		return err
	}

	return env.Sync(ctx)
}

func dial(ctx context.Context, s *socket.Socket, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return s.Connect(ctx)
}
