package unx_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wetware/unx"
)

func TestWrap(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		err  error
		want error
	}{
		{"not exist", fs.ErrNotExist, unx.ErrResourceUnavailable},
		{"permission", fs.ErrPermission, unx.ErrResourceUnavailable},
		{"address in use", syscall.EADDRINUSE, unx.ErrResourceUnavailable},
		{"refused", syscall.ECONNREFUSED, unx.ErrConnectionRefused},
		{"broken pipe", syscall.EPIPE, unx.ErrChannelClosed},
		{"closed pipe", io.ErrClosedPipe, unx.ErrChannelClosed},
		{"net closed", net.ErrClosed, unx.ErrCancelled},
		{"canceled", context.Canceled, unx.ErrCancelled},
		{"deadline", context.DeadlineExceeded, unx.ErrTimeout},
		{"no such process", syscall.ESRCH, unx.ErrNotRunning},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := unx.Wrap("op", "target", fmt.Errorf("wrapped: %w", tt.err))
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, tt.err, "should preserve cause")

			var e *unx.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, "op", e.Op)
			assert.Equal(t, "target", e.Path)
		})
	}
}

func TestWrap_nil(t *testing.T) {
	t.Parallel()

	assert.NoError(t, unx.Wrap("op", "", nil))
}

func TestWrap_keepsKind(t *testing.T) {
	t.Parallel()

	orig := unx.Errorf("terminate", "sleep", unx.NotRunning, "process exited")
	err := unx.Wrap("kill", "", orig)
	assert.Same(t, orig, err)
}

func TestError_sentinelsDoNotCrossMatch(t *testing.T) {
	t.Parallel()

	err := unx.Errorf("accept", "", unx.Cancelled, "listener closed")
	assert.ErrorIs(t, err, unx.ErrCancelled)
	assert.NotErrorIs(t, err, unx.ErrChannelClosed)
	assert.False(t, errors.Is(unx.ErrCancelled, err),
		"a specific error is not a sentinel")
}

func TestError_message(t *testing.T) {
	t.Parallel()

	err := &unx.Error{
		Op:   "open",
		Path: "/tmp/x",
		Kind: unx.InvalidMode,
		Err:  errors.New("filter does not support update"),
	}
	assert.Equal(t, "open /tmp/x: invalid mode: filter does not support update", err.Error())
	assert.Equal(t, "not running", unx.NotRunning.String())
}
