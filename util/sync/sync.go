package syncutils

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Any runs functions concurrently and reports the first non-nil error.
// An Any created by WithContext also cancels its context on that error.
type Any struct {
	wg     sync.WaitGroup
	er     atomic.Error
	cancel context.CancelFunc
}

// WithContext returns an Any whose first error cancels ctx.
func WithContext(ctx context.Context) (*Any, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &Any{cancel: cancel}, ctx
}

func (a *Any) Wait() error {
	a.wg.Wait()
	if a.cancel != nil {
		a.cancel()
	}
	return a.er.Load()
}

func (a *Any) Go(fn func() error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		if err := fn(); err != nil && a.er.CompareAndSwap(nil, err) && a.cancel != nil {
			a.cancel()
		}
	}()
}
