package runner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Phase is the cancellation state of a run.
type Phase int32

const (
	// PhaseRunning means the scheduler is submitting numbers normally.
	PhaseRunning Phase = iota

	// PhaseCancelRequested means an interrupt arrived and submission is stopping.
	PhaseCancelRequested

	// PhaseDraining means no new numbers are submitted; in-flight lookups
	// run to their own timeout and retry limits.
	PhaseDraining

	// PhaseStopped means the run has returned.
	PhaseStopped
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseCancelRequested:
		return "cancel_requested"
	case PhaseDraining:
		return "draining"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Controller drives orderly shutdown of a run:
// Running → CancelRequested → Draining → Stopped.
//
// A first RequestCancel stops submission and lets in-flight lookups finish,
// bounded by the grace deadline. A second RequestCancel escalates to an
// immediate stop. All transitions are idempotent.
type Controller struct {
	logger zerolog.Logger
	grace  time.Duration

	mu         sync.Mutex
	phase      Phase
	cancelled  bool
	quit       chan struct{}
	stopped    chan struct{}
	hardCancel context.CancelFunc
}

// NewController creates a controller with the given drain grace deadline.
func NewController(grace time.Duration, logger zerolog.Logger) *Controller {
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	return &Controller{
		logger:  logger,
		grace:   grace,
		phase:   PhaseRunning,
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Phase returns the current cancellation phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Cancelled reports whether cancellation was ever requested.
func (c *Controller) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Quit is closed once cancellation is requested. The scheduler selects on it
// to stop submitting new numbers.
func (c *Controller) Quit() <-chan struct{} {
	return c.quit
}

// RequestCancel asks for an orderly shutdown. The first call stops submission
// and arms the grace deadline; a repeated call escalates to an immediate stop.
func (c *Controller) RequestCancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseRunning:
		c.phase = PhaseCancelRequested
		c.cancelled = true
		close(c.quit)
		c.logger.Info().
			Dur("grace", c.grace).
			Msg("Cancellation requested - no new numbers will be submitted")
		go c.watchGrace()
	case PhaseCancelRequested, PhaseDraining:
		c.logger.Warn().Msg("Repeated cancellation request - stopping immediately")
		c.escalateLocked()
	case PhaseStopped:
	}
}

// Escalate stops the run immediately, abandoning in-flight lookups.
func (c *Controller) Escalate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.escalateLocked()
}

func (c *Controller) escalateLocked() {
	if c.hardCancel != nil {
		c.hardCancel()
	}
}

// watchGrace enforces the drain grace deadline.
func (c *Controller) watchGrace() {
	select {
	case <-time.After(c.grace):
		c.logger.Warn().
			Dur("grace", c.grace).
			Msg("Drain grace deadline elapsed - abandoning in-flight lookups")
		c.Escalate()
	case <-c.stopped:
	}
}

// begin binds the run's hard-cancel function. Called by Run.
func (c *Controller) begin(cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hardCancel = cancel
}

// enterDraining acknowledges that the scheduler stopped submitting.
func (c *Controller) enterDraining() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseCancelRequested {
		c.phase = PhaseDraining
		c.logger.Info().Msg("Draining - waiting for in-flight lookups")
	}
}

// finish marks the run as stopped. Called by Run on the way out.
func (c *Controller) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseStopped {
		c.phase = PhaseStopped
		close(c.stopped)
	}
}
