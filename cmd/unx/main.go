package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blang/semver/v4"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"
	"github.com/wetware/unx/cmd/internal/flags"
	"github.com/wetware/unx/cmd/unx/cat"
	"github.com/wetware/unx/cmd/unx/connect"
	"github.com/wetware/unx/cmd/unx/listen"
	"github.com/wetware/unx/cmd/unx/ls"
	"github.com/wetware/unx/cmd/unx/run"
)

var version = semver.MustParse("0.1.0")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM)
	defer cancel()

	app := &cli.App{
		Name:      "unx",
		Usage:     "handles on files, processes and sockets",
		Version:   version.String(),
		Copyright: "2020 The Wetware Project",
		Flags:     flags.OutputFlags(),
		Before:    setup,
		Commands: []*cli.Command{
			run.Command(),
			listen.Command(),
			connect.Command(),
			cat.Command(),
			ls.Command(),
		},
	}

	err := app.RunContext(ctx, os.Args)
	if err != nil {
		slog.ErrorContext(ctx, err.Error())
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	level, err := flags.Level(c)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(tint.NewHandler(c.App.ErrWriter, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})))

	return nil
}
