package util

import (
	"log/slog"

	"github.com/thejerf/suture/v4"
)

// EventHook logs supervisor events.  Use it as suture.Spec.EventHook.
func EventHook(e suture.Event) {
	m := e.Map()
	args := make([]any, 0, 2*len(m))
	for k, v := range m {
		args = append(args, k, v)
	}

	switch e.Type() {
	case suture.EventTypeBackoff, suture.EventTypeResume:
		slog.Info(e.String(), args...)

	case suture.EventTypeServiceTerminate:
		slog.Warn(e.String(), args...)

	case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
		slog.Error(e.String(), args...)

	default:
		slog.Debug(e.String(), append(args, "type", e.Type())...)
	}
}
