package worker

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/dynrat/pkg/logger"
	"github.com/okian/dynrat/pkg/metrics"
)

// Job is one unit of work. It must honor ctx and must not share mutable
// state with other jobs of the same batch.
type Job func(ctx context.Context) error

// Pool runs batches of jobs on at most Size goroutines.
type Pool struct {
	size   int
	name   string
	logger logger.Logger
}

// NewPool creates a pool of size workers; size < 1 means runtime.NumCPU().
func NewPool(size int, opts ...Option) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}
	p := &Pool{
		size:   size,
		name:   "pool",
		logger: logger.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named(p.name)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Run executes jobs and waits for them. The first failing job cancels the
// context passed to the others and its error is returned.
func (p *Pool) Run(ctx context.Context, jobs []Job) error {
	if len(jobs) == 0 {
		return nil
	}
	metrics.UpdatePoolWorkers(p.size)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)
	for i, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			err := job(gctx)
			latency := float64(time.Since(start).Microseconds()) / 1000
			if err != nil {
				metrics.RecordPoolJob("error", latency)
				p.logger.Debug(gctx, "job failed", logger.Int("job", i), logger.Error(err))
				return fmt.Errorf("job %d: %w", i, err)
			}
			metrics.RecordPoolJob("ok", latency)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
