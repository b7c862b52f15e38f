// Package seeder generates synthetic visitor traffic and posts it to the
// collector endpoint.
package seeder

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/numberoneson/nos-analytics/cli/internal/client"
	"github.com/numberoneson/nos-analytics/cli/pkg/output"
)

// Collector is the part of the API client the runner needs.
type Collector interface {
	Collect(ctx context.Context, event map[string]any, userAgent string) error
}

// Stats summarizes one seeding run.
type Stats struct {
	Sent        int64
	RateLimited int64
	Failed      int64
	Elapsed     time.Duration
}

// Runner handles the event seeding execution.
type Runner struct {
	Config    *Config
	Generator *Generator
	Collector Collector
	// Quiet suppresses progress lines.
	Quiet bool
}

func NewRunner(config *Config, collector Collector) *Runner {
	return &Runner{
		Config:    config,
		Generator: NewGenerator(config),
		Collector: collector,
	}
}

type job struct {
	event     map[string]any
	userAgent string
}

// Run sends Config.Count events and returns once all of them have been
// attempted or ctx is cancelled. Individual send failures are counted, not
// returned.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	var sent, limited, failed atomic.Int64

	if !r.Quiet {
		output.Info("Seeding %d events across %v with %d workers", r.Config.Count, r.Config.Sites, r.Config.Workers)
	}

	jobs := make(chan job)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		var tick <-chan time.Time
		if r.Config.Interval > 0 {
			t := time.NewTicker(r.Config.Interval)
			defer t.Stop()
			tick = t.C
		}
		for i := 0; i < r.Config.Count; i++ {
			if tick != nil && i > 0 {
				select {
				case <-tick:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			ev, ua := r.Generator.Next()
			select {
			case jobs <- job{event: ev, userAgent: ua}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	progressEvery := int64(r.Config.Count / 10)
	if progressEvery < 100 {
		progressEvery = 100
	}

	for w := 0; w < r.Config.Workers; w++ {
		g.Go(func() error {
			for j := range jobs {
				err := r.Collector.Collect(gctx, j.event, j.userAgent)
				switch {
				case err == nil:
					n := sent.Add(1)
					if !r.Quiet && n%progressEvery == 0 {
						output.Info("Progress: %d/%d events sent", n, r.Config.Count)
					}
				case errors.Is(err, client.ErrRateLimited):
					limited.Add(1)
				case gctx.Err() != nil:
					return gctx.Err()
				default:
					failed.Add(1)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	stats := Stats{
		Sent:        sent.Load(),
		RateLimited: limited.Load(),
		Failed:      failed.Load(),
		Elapsed:     time.Since(start),
	}
	return stats, err
}
