package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	fsspRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fssp_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	fsspRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fssp_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	fsspRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fssp_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the base backoff duration before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// initialBackoffFor scales the base backoff per error class: rate limiting
// needs a longer pause than a flaky network hop, a 5xx sits in between.
func initialBackoffFor(errorClass ErrorClass, base time.Duration) time.Duration {
	switch errorClass {
	case ErrorClassRateLimit:
		return 5 * base
	case ErrorClassNetwork:
		return 2 * base
	default:
		return base
	}
}

// retryWithBackoff executes fn with exponential backoff on transient errors.
// It returns the number of attempts actually spent. Non-retryable errors
// (fatal token errors, context cancellation) are returned immediately.
// Jitter (±20%) keeps twenty workers from retrying in lockstep.
func retryWithBackoff(ctx context.Context, config RetryConfig, logger zerolog.Logger, fn func() error) (int, error) {
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		attempts = attempt

		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return attempts, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !shouldRetry(apiErr.ErrorClass) {
			return attempts, err
		}

		if attempt >= config.MaxAttempts {
			break
		}

		errorClass := apiErr.ErrorClass
		fsspRetriesTotal.WithLabelValues(string(errorClass)).Inc()

		backoff := initialBackoffFor(errorClass, config.InitialBackoff)
		for i := 1; i < attempt; i++ {
			backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		}
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}

		// ±20% jitter
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		fsspRetryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(jitter.Seconds())

		logger.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			logger.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return attempts, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}
	}

	var apiErr *APIError
	if errors.As(lastErr, &apiErr) {
		fsspRetryExhaustedTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()
	}
	logger.Warn().
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return attempts, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, config.MaxAttempts, lastErr)
}
