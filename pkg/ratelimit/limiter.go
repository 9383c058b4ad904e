package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limit tracking.
var (
	fsspInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fssp_requests_in_flight",
		Help: "Number of FSSP lookups currently holding a permit",
	})

	fsspFailureStreak = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fssp_failure_streak",
		Help: "Consecutive transient failures observed against the FSSP API",
	})

	fsspThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fssp_rate_limit_throttles_total",
		Help: "Total number of acquisitions delayed due to warning health state",
	})

	fsspBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fssp_rate_limit_blocks_total",
		Help: "Total number of acquisitions held during a critical cooldown",
	})
)

// Config holds limiter configuration.
type Config struct {
	// MaxConcurrent is the maximum number of lookups in flight at once.
	MaxConcurrent int

	// RequestsPerSecond caps steady-state request rate (token bucket).
	RequestsPerSecond float64

	// Burst is the token bucket burst size.
	Burst int

	// ThrottleDelay is the extra delay applied per acquisition while the
	// health state is in warning.
	ThrottleDelay time.Duration
}

// DefaultConfig returns safe defaults for the FSSP API.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     20,
		RequestsPerSecond: 2,
		Burst:             1,
		ThrottleDelay:     1 * time.Second,
	}
}

// Limiter enforces two independent caps: maximum concurrent in-flight
// requests (semaphore) and maximum requests per second (token bucket).
// Acquisition suspends the caller; channel semantics keep waiters fair
// enough that no worker starves under normal load.
type Limiter struct {
	sem    chan struct{}
	bucket *rate.Limiter
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	state HealthState
}

// NewLimiter creates a limiter with the given configuration.
func NewLimiter(cfg Config, logger zerolog.Logger) (*Limiter, error) {
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max_concurrent must be positive (got %d)", cfg.MaxConcurrent)
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests_per_second must be positive (got %v)", cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.ThrottleDelay <= 0 {
		cfg.ThrottleDelay = 1 * time.Second
	}

	return &Limiter{
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		bucket: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Acquire obtains one permit, suspending the caller until a concurrency slot
// and a rate token are both available. Every successful Acquire must be paired
// with Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.waitHealthy(ctx); err != nil {
		return err
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := l.bucket.Wait(ctx); err != nil {
		<-l.sem
		return err
	}

	fsspInFlight.Inc()
	return nil
}

// Release returns a permit taken by Acquire.
func (l *Limiter) Release() {
	<-l.sem
	fsspInFlight.Dec()
}

// InFlight returns the number of permits currently held.
func (l *Limiter) InFlight() int {
	return len(l.sem)
}

// ReportSuccess resets the failure streak after a successful lookup.
func (l *Limiter) ReportSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.RecordSuccess()
	fsspFailureStreak.Set(0)
}

// ReportFailure grows the failure streak after a transient failure.
func (l *Limiter) ReportFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.RecordFailure(time.Now())
	fsspFailureStreak.Set(float64(l.state.FailureStreak))

	if l.state.NeedsCriticalBlock(time.Now()) {
		l.logger.Error().
			Int("failure_streak", l.state.FailureStreak).
			Time("cooldown_until", l.state.CooldownUntil).
			Msg("FSSP failure streak critical - new requests will be held")
	} else if l.state.NeedsThrottling(time.Now()) {
		l.logger.Warn().
			Int("failure_streak", l.state.FailureStreak).
			Msg("FSSP failure streak warning - requests will be throttled")
	}
}

// waitHealthy suspends the caller while the health state demands it.
func (l *Limiter) waitHealthy(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		block := l.state.NeedsCriticalBlock(now)
		wait := l.state.TimeUntilReset(now)
		throttle := l.state.NeedsThrottling(now)
		l.mu.Unlock()

		if !block && !throttle {
			return nil
		}

		delay := l.cfg.ThrottleDelay
		if block {
			delay = wait
			fsspBlocksTotal.Inc()
			l.logger.Warn().
				Dur("wait", wait).
				Msg("Holding request during critical cooldown")
		} else {
			fsspThrottlesTotal.Inc()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if !block {
			// One throttle delay per acquisition is enough.
			return nil
		}
	}
}
