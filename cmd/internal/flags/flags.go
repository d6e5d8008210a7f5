package flags

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/wetware/unx/stream"
)

// StreamFlags returns the record segmentation flags shared by commands
// that read streams.
func StreamFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "separator",
			Category: "STREAM",
			Aliases:  []string{"s"},
			Usage:    `record separator; Go escapes allowed, "re:" prefix for a regexp`,
			Value:    `\n`,
			EnvVars:  []string{"UNX_SEPARATOR"},
		},
		&cli.IntFlag{
			Name:     "record-size",
			Category: "STREAM",
			Usage:    "split into fixed-size records, overriding -separator",
			EnvVars:  []string{"UNX_RECORD_SIZE"},
		},
	}
}

// OutputFlags returns the output control flags shared by every command.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:     "quiet",
			Category: "OUTPUT",
			Aliases:  []string{"q"},
			Usage:    "log errors only",
			EnvVars:  []string{"UNX_QUIET"},
		},
		&cli.StringFlag{
			Name:     "log-level",
			Category: "OUTPUT",
			Usage:    "minimum log level (debug, info, warn, error)",
			Value:    "info",
			EnvVars:  []string{"UNX_LOG_LEVEL"},
		},
	}
}

// Separator builds the separator selected by StreamFlags.
func Separator(c *cli.Context) (stream.Separator, error) {
	if n := c.Int("record-size"); n > 0 {
		return stream.Fixed(n), nil
	}

	s := c.String("separator")
	if expr, ok := strings.CutPrefix(s, "re:"); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, errors.Wrap(err, "separator")
		}
		return stream.Pattern(re), nil
	}

	sep, err := strconv.Unquote(`"` + strings.ReplaceAll(s, `"`, `\"`) + `"`)
	if err != nil {
		return nil, errors.Wrapf(err, "separator %q", s)
	}
	if sep == "" {
		return nil, errors.New("empty separator")
	}

	return stream.Sequence([]byte(sep)), nil
}

// Level returns the log level selected by OutputFlags.
func Level(c *cli.Context) (slog.Level, error) {
	if c.Bool("quiet") {
		return slog.LevelError, nil
	}

	var level slog.Level
	err := level.UnmarshalText([]byte(c.String("log-level")))
	return level, errors.Wrap(err, "log level")
}
