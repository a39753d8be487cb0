// Package jobs runs bulk per-file work, such as hashing every file in a
// project, across a bounded pool of goroutines while funnelling every
// result through a single committer so database writes never interleave.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Result carries one item's outcome from a worker to the committer.
type Result[T, R any] struct {
	Index int
	Item  T
	Value R
	Err   error
}

// Summary counts what a batch did.
type Summary struct {
	Total     int
	Committed int
	Failed    int
	Duration  time.Duration
}

// WorkerPool holds the configuration shared by batch runs.
type WorkerPool struct {
	cfg    *JobConfig
	logger *slog.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(cfg *JobConfig, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultJobConfig()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &WorkerPool{cfg: cfg, logger: logger}
}

// Run calls work for every item on up to Concurrency goroutines and hands
// each Result to commit on the calling goroutine, one at a time, in
// completion order. Worker errors travel inside the Result; commit decides
// what to record. An error from commit stops the batch and is returned.
// Run returns only after every worker has exited.
func Run[T, R any](ctx context.Context, wp *WorkerPool, items []T,
	work func(ctx context.Context, item T) (R, error),
	commit func(res Result[T, R]) error,
) (Summary, error) {
	start := time.Now()
	summary := Summary{Total: len(items)}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(wp.cfg.Concurrency)
	results := make(chan Result[T, R], wp.cfg.Buffer)

	wp.logger.Debug("batch starting", "items", len(items), "concurrency", wp.cfg.Concurrency)

	go func() {
		defer close(results)
		for i, item := range items {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				v, err := work(gctx, item)
				select {
				case results <- Result[T, R]{Index: i, Item: item, Value: v, Err: err}:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		_ = g.Wait()
	}()

	var stopErr error
	for res := range results {
		if stopErr != nil {
			continue
		}
		if res.Err != nil {
			summary.Failed++
			wp.logger.Warn("batch item failed", "index", res.Index, "error", res.Err)
			if wp.cfg.StopOnError {
				stopErr = res.Err
				cancel()
				continue
			}
		}
		if err := commit(res); err != nil {
			stopErr = err
			cancel()
			continue
		}
		if res.Err == nil {
			summary.Committed++
		}
	}

	summary.Duration = time.Since(start)
	if stopErr != nil {
		wp.logger.Error("batch aborted", "error", stopErr, "committed", summary.Committed)
		return summary, stopErr
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	wp.logger.Debug("batch completed",
		"committed", summary.Committed,
		"failed", summary.Failed,
		"duration", summary.Duration.String())
	return summary, nil
}
