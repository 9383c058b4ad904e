package checkpoint

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/svplaksin/fssp-api/pkg/fssp"
)

// Prometheus metrics for checkpoint tracking.
var (
	fsspCompleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fssp_lookups_completed",
		Help: "Number of numbers with a terminal outcome in the current run",
	})

	fsspSnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fssp_snapshots_written_total",
		Help: "Total checkpoint snapshots written",
	})

	fsspSnapshotErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fssp_snapshot_errors_total",
		Help: "Total checkpoint snapshot write failures",
	})
)

// Config holds tracker configuration.
type Config struct {
	// Path of the snapshot file. Empty disables persistence.
	Path string

	// EveryN triggers a snapshot after this many completions.
	EveryN int

	// Interval triggers a snapshot when this much time has passed since the
	// last write, even if fewer than EveryN completions arrived.
	Interval time.Duration
}

// DefaultConfig returns the default checkpoint cadence.
func DefaultConfig(path string) Config {
	return Config{
		Path:     path,
		EveryN:   10,
		Interval: 30 * time.Second,
	}
}

// Tracker records terminal outcomes, exposes monotonic progress counts, and
// writes periodic snapshots. Snapshots are written at a cadence, not on every
// completion, to bound I/O cost.
type Tracker struct {
	cfg     Config
	results *fssp.ResultSet
	logger  zerolog.Logger

	mu         sync.Mutex
	pending    map[string]struct{}
	total      int
	completed  int
	sinceFlush int
	lastFlush  time.Time
}

// NewTracker creates a tracker for one run over the given numbers.
// The result set is shared with the scheduler that owns the run.
func NewTracker(cfg Config, numbers []string, results *fssp.ResultSet) *Tracker {
	pending := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		pending[n] = struct{}{}
	}

	return &Tracker{
		cfg:       cfg,
		results:   results,
		logger:    log.With().Str("component", "checkpoint").Logger(),
		pending:   pending,
		total:     len(numbers),
		lastFlush: time.Now(),
	}
}

// Results returns the result set this tracker records into.
func (t *Tracker) Results() *fssp.ResultSet {
	return t.results
}

// Record stores the terminal outcome for a number and writes a snapshot when
// the cadence says so. Called exactly once per number.
func (t *Tracker) Record(o fssp.Outcome) error {
	if err := t.results.Record(o); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.pending, o.Number)
	t.completed++
	t.sinceFlush++
	fsspCompleted.Set(float64(t.completed))

	due := (t.cfg.EveryN > 0 && t.sinceFlush >= t.cfg.EveryN) ||
		(t.cfg.Interval > 0 && time.Since(t.lastFlush) >= t.cfg.Interval)
	if due {
		if err := t.flushLocked(); err != nil {
			// A failed periodic snapshot must not fail the lookup; the next
			// cadence point will try again.
			t.logger.Error().Err(err).Msg("Periodic snapshot failed")
		}
	}

	return nil
}

// Progress returns monotonically increasing completion counts.
func (t *Tracker) Progress() (completed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.completed, t.total
}

// Snapshot builds a point-in-time snapshot of the run.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	pending := make([]string, 0, len(t.pending))
	for n := range t.pending {
		pending = append(pending, n)
	}

	return Snapshot{
		SavedAt:   time.Now(),
		Partial:   t.results.Partial(),
		Completed: t.results.Outcomes(),
		Pending:   pending,
	}
}

// Flush writes a snapshot immediately, regardless of cadence. Used for the
// final write during shutdown.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.flushLocked()
}

func (t *Tracker) flushLocked() error {
	if t.cfg.Path == "" {
		return nil
	}

	snap := t.snapshotLocked()
	if err := snap.WriteAtomic(t.cfg.Path); err != nil {
		fsspSnapshotErrorsTotal.Inc()
		return fmt.Errorf("write snapshot: %w", err)
	}

	t.sinceFlush = 0
	t.lastFlush = time.Now()
	fsspSnapshotsTotal.Inc()

	t.logger.Debug().
		Int("completed", t.completed).
		Int("total", t.total).
		Int("pending", len(snap.Pending)).
		Str("path", t.cfg.Path).
		Msg("Snapshot written")

	return nil
}
