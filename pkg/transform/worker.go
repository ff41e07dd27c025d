package transform

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/mediaforge/uploadkit/pkg/errors"
)

// Worker runs CPU-bound transforms on a pool of long-lived goroutines so
// callers never block an interactive loop on resizing. Requests and results
// cross the boundary only by message passing; no state is shared.
//
// A Worker is intended to be a process-wide singleton reused across uploads.
// It is safe for concurrent use: every job carries its own context, source
// bytes and progress callback.
type Worker struct {
	jobs chan job
	done chan struct{}
}

type job struct {
	ctx        context.Context
	src        []byte
	onProgress ProgressFunc
	reply      chan result
}

type result struct {
	variants Variants
	err      error
}

// NewWorker starts a worker pool. Non-positive size defaults to GOMAXPROCS.
func NewWorker(size int) *Worker {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}

	w := &Worker{
		jobs: make(chan job),
		done: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		go w.run()
	}

	slog.Info("transform_worker_started", "pool_size", size)
	return w
}

func (w *Worker) run() {
	for {
		select {
		case <-w.done:
			return
		case j := <-w.jobs:
			variants, err := transform(j.ctx, j.src, j.onProgress)
			j.reply <- result{variants: variants, err: err}
		}
	}
}

// Transform posts src to the pool and waits for the derived variants.
// Cancelling ctx abandons the wait and returns a cancellation error; the
// checkpoints inside the transform observe the same context and stop early.
func (w *Worker) Transform(ctx context.Context, src []byte, onProgress ProgressFunc) (Variants, error) {
	reply := make(chan result, 1)

	select {
	case w.jobs <- job{ctx: ctx, src: src, onProgress: onProgress, reply: reply}:
	case <-ctx.Done():
		return nil, errors.E(errors.KindCancelled, "transform cancelled before start", ctx.Err())
	case <-w.done:
		return nil, errors.New(errors.KindCancelled, "transform worker closed")
	}

	select {
	case r := <-reply:
		return r.variants, r.err
	case <-ctx.Done():
		return nil, errors.E(errors.KindCancelled, "transform cancelled", ctx.Err())
	}
}

// Close stops the pool. In-flight jobs finish; their replies are buffered.
func (w *Worker) Close() {
	close(w.done)
}
