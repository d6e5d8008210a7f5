//go:generate mockgen -source=stream.go -destination=mock/stream.go -package=mock

package test

import (
	"io"

	"github.com/wetware/unx"
)

type (
	WriteCloser interface{ io.WriteCloser }
	Dispatcher  interface{ unx.Dispatcher }
)
