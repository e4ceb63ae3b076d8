package batch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clipforge/clipforge/pkg/retry"
)

// Config bounds the fan-out of one pipeline stage
type Config struct {
	BatchSize  int           // max concurrent operations
	PauseDelay time.Duration // fixed pacing pause between batches
	Retry      retry.Config  // per-item retry budget
}

// DefaultConfig matches the image-generation defaults: batches of 3,
// a short breather between batches, two retries per item.
func DefaultConfig() Config {
	return Config{
		BatchSize:  3,
		PauseDelay: 500 * time.Millisecond,
		Retry:      retry.DefaultConfig(),
	}
}

// Run executes fn once per item index in [0, n). Items are partitioned
// into batches of BatchSize; a batch runs concurrently and is awaited in
// full before the next batch starts, so no more than BatchSize operations
// are ever in flight. Each item gets its own bounded retry loop and resolves
// independently: one item exhausting its retries does not cancel its
// batch-mates, but it does fail the whole call once the batch has settled.
func Run(ctx context.Context, n int, config Config, fn func(ctx context.Context, i int) error) error {
	if config.BatchSize < 1 {
		config.BatchSize = 1
	}

	for start := 0; start < n; start += config.BatchSize {
		end := start + config.BatchSize
		if end > n {
			end = n
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				err := retry.Do(ctx, config.Retry, func() error {
					return fn(ctx, i)
				})
				if err != nil {
					return fmt.Errorf("item %d failed after retries: %w", i, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if end < n && config.PauseDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(config.PauseDelay):
			}
		}
	}
	return nil
}
