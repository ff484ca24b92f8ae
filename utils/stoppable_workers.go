// Package utils contains small concurrency helpers shared by the plant, the bus and the CLI.
package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// Workers is a group of goroutines sharing one context. Stop cancels that context and waits for
// every worker to return. A panicking worker is logged by goutils.PanicCapturingGo and counts as
// returned.
type Workers struct {
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders Go's Add against Stop's cancel so Wait never misses a worker.
	mu      sync.Mutex
	running sync.WaitGroup
}

// NewWorkers starts fns on a context derived from ctx. Cancelling ctx stops the workers too, but
// only Stop waits for them.
func NewWorkers(ctx context.Context, fns ...func(context.Context)) *Workers {
	w := &Workers{}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.Go(fns...)
	return w
}

// Go starts fns and reports whether they were started. Nothing starts once Stop was called or the
// parent context is done.
func (w *Workers) Go(fns ...func(context.Context)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx.Err() != nil {
		return false
	}
	w.running.Add(len(fns))
	for _, fn := range fns {
		goutils.PanicCapturingGo(func() {
			defer w.running.Done()
			fn(w.ctx)
		})
	}
	return true
}

// Stop cancels the workers and waits for them. It may be called more than once.
func (w *Workers) Stop() {
	w.mu.Lock()
	w.cancel()
	w.mu.Unlock()
	w.running.Wait()
}

// Context is the context handed to every worker.
func (w *Workers) Context() context.Context {
	return w.ctx
}
