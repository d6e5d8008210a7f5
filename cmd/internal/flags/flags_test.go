package flags_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"github.com/wetware/unx/cmd/internal/flags"
	"github.com/wetware/unx/stream"
)

// parse runs an app with the shared flags and hands its context to fn.
func parse(t *testing.T, fn func(*cli.Context), args ...string) {
	t.Helper()

	called := false
	app := &cli.App{
		Name:  "test",
		Flags: append(flags.StreamFlags(), flags.OutputFlags()...),
		Action: func(c *cli.Context) error {
			called = true
			fn(c)
			return nil
		},
	}

	require.NoError(t, app.Run(append([]string{"test"}, args...)))
	require.True(t, called)
}

func records(t *testing.T, sep stream.Separator, input string) []string {
	t.Helper()

	var b stream.Buffer
	b.Write([]byte(input))

	var out []string
	for {
		rec, ok := b.Next(sep, true)
		if !ok {
			return out
		}
		out = append(out, string(rec))
	}
}

func TestSeparator(t *testing.T) {
	for _, tt := range []struct {
		name string
		args []string
		want []string
	}{
		{"default", nil, []string{"a,b", "c"}},
		{"escaped", []string{"--separator", `\t`}, []string{"a,b\nc", "d"}},
		{"sequence", []string{"-s", ",b"}, []string{"a", "\nc\td"}},
		{"pattern", []string{"-s", `re:[,\t]`}, []string{"a", "b\nc", "d"}},
		{"fixed", []string{"--record-size", "4"}, []string{"a,b\n", "c\td"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			parse(t, func(c *cli.Context) {
				sep, err := flags.Separator(c)
				require.NoError(t, err)

				input := "a,b\nc"
				if tt.name != "default" {
					input += "\td"
				}
				assert.Equal(t, tt.want, records(t, sep, input))
			}, tt.args...)
		})
	}
}

func TestSeparator_invalid(t *testing.T) {
	parse(t, func(c *cli.Context) {
		_, err := flags.Separator(c)
		assert.Error(t, err)
	}, "-s", "re:(")
}

func TestLevel(t *testing.T) {
	parse(t, func(c *cli.Context) {
		level, err := flags.Level(c)
		require.NoError(t, err)
		assert.Equal(t, slog.LevelInfo, level)
	})

	parse(t, func(c *cli.Context) {
		level, err := flags.Level(c)
		require.NoError(t, err)
		assert.Equal(t, slog.LevelDebug, level)
	}, "--log-level", "debug")

	parse(t, func(c *cli.Context) {
		level, err := flags.Level(c)
		require.NoError(t, err)
		assert.Equal(t, slog.LevelError, level)
	}, "-q", "--log-level", "debug")
}
