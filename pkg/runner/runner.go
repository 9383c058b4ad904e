// Package runner dispatches enforcement-procedure numbers to a bounded pool
// of concurrent lookup workers and collects their outcomes, surviving
// interruption without losing completed results.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/svplaksin/fssp-api/pkg/checkpoint"
	"github.com/svplaksin/fssp-api/pkg/client"
	"github.com/svplaksin/fssp-api/pkg/fssp"
)

// Prometheus metrics for the worker pool.
var (
	fsspWorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fssp_workers_busy",
		Help: "Number of workers currently executing a lookup",
	})

	fsspRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fssp_runs_total",
		Help: "Completed runs by result (complete, partial, fatal)",
	}, []string{"result"})
)

// Lookuper performs a single-number debt lookup.
type Lookuper interface {
	Lookup(ctx context.Context, number string) (fssp.Outcome, error)
}

// Config holds worker pool configuration.
type Config struct {
	// Workers is the fixed pool size.
	Workers int

	// DrainGrace bounds how long in-flight lookups may run after a
	// cancellation request before being abandoned.
	DrainGrace time.Duration
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{
		Workers:    20,
		DrainGrace: 2 * time.Minute,
	}
}

// Runner is the worker pool and scheduler for one run.
type Runner struct {
	lookup  Lookuper
	tracker *checkpoint.Tracker
	ctrl    *Controller
	cfg     Config
	logger  zerolog.Logger
}

// New creates a runner. The tracker supplies the shared result set and
// records every terminal outcome.
func New(lookup Lookuper, tracker *checkpoint.Tracker, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 20
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = 2 * time.Minute
	}

	logger := log.With().Str("component", "runner").Logger()

	return &Runner{
		lookup:  lookup,
		tracker: tracker,
		ctrl:    NewController(cfg.DrainGrace, logger),
		cfg:     cfg,
		logger:  logger,
	}
}

// Controller returns the cancellation controller, for wiring interrupt
// signals. Valid for a single Run.
func (r *Runner) Controller() *Controller {
	return r.ctrl
}

type completion struct {
	out fssp.Outcome
	err error
}

// Run submits each number exactly once, in input order, to an available
// worker and collects outcomes as they complete. It returns the accumulated
// result set; the set is marked partial if the run was cancelled or aborted.
//
// Per-number failures never abort the run. A fatal condition (rejected token,
// exhausted balance) stops the run early and is returned as the error; the
// results collected up to that point are still valid and snapshotted.
func (r *Runner) Run(ctx context.Context, numbers []string) (*fssp.ResultSet, error) {
	results := r.tracker.Results()
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.ctrl.begin(cancel)
	defer r.ctrl.finish()

	r.logger.Info().
		Int("numbers", len(numbers)).
		Int("workers", r.cfg.Workers).
		Msg("Starting run")

	jobs := make(chan string)
	completions := make(chan completion, r.cfg.Workers)

	// Feeder: submits numbers in input order until done or cancelled.
	go func() {
		defer close(jobs)
		for _, number := range numbers {
			select {
			case jobs <- number:
			case <-r.ctrl.Quit():
				r.ctrl.enterDraining()
				return
			case <-runCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go r.worker(runCtx, jobs, completions, &wg, i)
	}

	go func() {
		wg.Wait()
		close(completions)
	}()

	// Collector: the single owner of result set mutation.
	var fatalErr error
	for comp := range completions {
		if comp.err != nil {
			if client.IsFatal(comp.err) {
				if fatalErr == nil {
					fatalErr = comp.err
					r.logger.Error().Err(comp.err).Msg("Fatal error - aborting run")
					cancel()
				}
				continue
			}
			if errors.Is(comp.err, context.Canceled) ||
				errors.Is(comp.err, context.DeadlineExceeded) ||
				errors.Is(comp.err, client.ErrContextCancelled) {
				// Abandoned mid-lookup; the number stays pending.
				continue
			}
			r.logger.Error().Err(comp.err).Msg("Unexpected lookup error")
			continue
		}

		if err := r.tracker.Record(comp.out); err != nil {
			r.logger.Error().Err(err).Str("number", comp.out.Number).Msg("Failed to record outcome")
			continue
		}

		completed, total := r.tracker.Progress()
		if completed%50 == 0 {
			r.logger.Info().
				Int("completed", completed).
				Int("total", total).
				Msg("Run progress")
		}
	}

	interrupted := r.ctrl.Cancelled() || ctx.Err() != nil
	if fatalErr != nil || interrupted {
		results.MarkPartial()
	} else {
		// A resumed run that finished everything clears the flag left by the
		// interrupted one.
		results.ClearPartial()
	}

	if err := r.tracker.Flush(); err != nil {
		r.logger.Error().Err(err).Msg("Final snapshot failed")
	}

	completed, total := r.tracker.Progress()
	switch {
	case fatalErr != nil:
		fsspRunsTotal.WithLabelValues("fatal").Inc()
	case interrupted:
		fsspRunsTotal.WithLabelValues("partial").Inc()
	default:
		fsspRunsTotal.WithLabelValues("complete").Inc()
	}
	r.logger.Info().
		Int("completed", completed).
		Int("total", total).
		Int("failed", len(results.Failed())).
		Bool("partial", results.Partial()).
		Dur("duration", time.Since(start)).
		Msg("Run finished")

	return results, fatalErr
}

// worker processes numbers from the queue until it closes or the run is
// hard-cancelled. Cancellation between attempts is cooperative; a lookup is
// never killed mid-request except by escalation.
func (r *Runner) worker(ctx context.Context, jobs <-chan string, completions chan<- completion, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for number := range jobs {
		if ctx.Err() != nil {
			return
		}

		fsspWorkersBusy.Inc()
		out, err := r.lookup.Lookup(ctx, number)
		fsspWorkersBusy.Dec()

		select {
		case completions <- completion{out: out, err: err}:
		case <-ctx.Done():
			r.logger.Debug().
				Int("worker_id", workerID).
				Int("processed", processed).
				Msg("Worker stopping (run cancelled)")
			return
		}
		processed++
	}

	if processed > 0 {
		r.logger.Debug().
			Int("worker_id", workerID).
			Int("processed", processed).
			Msg("Worker completed")
	}
}
