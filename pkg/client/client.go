// Package client provides the FSSP lookup client with rate limiting,
// timeouts, retry with backoff, and error classification.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/svplaksin/fssp-api/pkg/fssp"
	"github.com/svplaksin/fssp-api/pkg/ratelimit"
)

// Prometheus metrics for lookup operations.
var (
	fsspRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fssp_requests_total",
		Help: "Total FSSP lookup attempts by HTTP status",
	}, []string{"status"})

	fsspRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fssp_request_duration_seconds",
		Help:    "FSSP lookup duration in seconds, including retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	fsspErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fssp_errors_total",
		Help: "Total FSSP errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of lookup errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx transport errors, terminal per number.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx and API-internal errors, retryable.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses, retryable with longer backoff.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors, retryable.
	ErrorClassNetwork ErrorClass = "network"
)

// DefaultBaseURL is the production FSSP lookup endpoint.
const DefaultBaseURL = "https://api-cloud.ru/api/fssp.php"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// Config holds the client configuration.
type Config struct {
	// Token authenticates every request. Required.
	Token string

	// BaseURL of the lookup endpoint. Defaults to DefaultBaseURL.
	BaseURL string

	// Timeout applies per attempt, not per lookup.
	Timeout time.Duration

	// Retry policy for transient failures.
	Retry RetryConfig

	// Limiter gates outbound requests. Optional; nil disables gating,
	// which is only sensible in tests.
	Limiter *ratelimit.Limiter
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(token string) Config {
	return Config{
		Token:   token,
		BaseURL: DefaultBaseURL,
		Timeout: 60 * time.Second,
		Retry:   DefaultRetryConfig(),
	}
}

// Client performs single-number debt lookups against the FSSP API.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new lookup client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("api token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	logger := log.With().Str("component", "fssp-client").Logger()

	return &Client{
		// Per-attempt deadlines come from the request context.
		httpClient: &http.Client{},
		config:     cfg,
		logger:     logger,
	}, nil
}

// Lookup checks one enforcement-procedure number for outstanding debt.
//
// Transient failures (network, 5xx, rate limiting) are retried with backoff;
// exhausting the attempts yields a Failed outcome, not an error. An error is
// returned only for run-level conditions: a rejected token, an exhausted
// token balance, or context cancellation.
func (c *Client) Lookup(ctx context.Context, number string) (fssp.Outcome, error) {
	start := time.Now()
	defer func() {
		fsspRequestDuration.Observe(time.Since(start).Seconds())
	}()

	var out fssp.Outcome
	attempts, err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		o, attemptErr := c.lookupOnce(ctx, number)
		if attemptErr != nil {
			return attemptErr
		}
		out = o
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRetryExhausted) {
			c.logger.Warn().
				Str("number", number).
				Int("attempts", attempts).
				Msg("Lookup exhausted retries")
			return fssp.Outcome{
				Number:   number,
				Status:   fssp.StatusFailed,
				Reason:   fssp.ReasonExhausted,
				Attempts: attempts,
			}, nil
		}
		return fssp.Outcome{}, err
	}

	out.Attempts = attempts
	c.logger.Debug().
		Str("number", number).
		Str("status", string(out.Status)).
		Int("attempts", attempts).
		Msg("Lookup complete")

	return out, nil
}

// lookupOnce performs a single attempt: permit, request, classify, parse.
// The rate limiter permit is held for one request's duration only, never
// across backoff sleeps.
func (c *Client) lookupOnce(ctx context.Context, number string) (fssp.Outcome, error) {
	if c.config.Limiter != nil {
		if err := c.config.Limiter.Acquire(ctx); err != nil {
			return fssp.Outcome{}, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
		defer c.config.Limiter.Release()
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.lookupURL(number), nil)
	if err != nil {
		return fssp.Outcome{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Includes per-attempt timeouts.
		c.reportTransient()
		fsspErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		fsspRequestsTotal.WithLabelValues("network_error").Inc()
		return fssp.Outcome{}, &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.reportTransient()
		fsspErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return fssp.Outcome{}, &APIError{ErrorClass: ErrorClassNetwork, Message: "read response body", Err: err}
	}

	fsspRequestsTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		errClass := classifyStatus(resp.StatusCode)
		fsspErrorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("number", number).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("FSSP request error")

		if shouldRetry(errClass) {
			c.reportTransient()
			return fssp.Outcome{}, &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				Message:    resp.Status,
			}
		}

		// 4xx: terminal for this number, run continues.
		c.reportHealthy()
		return fssp.Outcome{
			Number: number,
			Status: fssp.StatusFailed,
			Reason: fssp.ReasonRejected,
		}, nil
	}

	out, err := parseResponse(number, body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.reportTransient()
			fsspErrorsTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()
			return fssp.Outcome{}, err
		}
		// Fatal token errors.
		fsspErrorsTotal.WithLabelValues("fatal").Inc()
		return fssp.Outcome{}, err
	}

	c.reportHealthy()
	return out, nil
}

// classifyStatus categorizes an HTTP status for retry handling.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

func (c *Client) lookupURL(number string) string {
	q := url.Values{}
	q.Set("type", "ip")
	q.Set("number", number)
	q.Set("token", c.config.Token)
	return c.config.BaseURL + "?" + q.Encode()
}

func (c *Client) reportTransient() {
	if c.config.Limiter != nil {
		c.config.Limiter.ReportFailure()
	}
}

func (c *Client) reportHealthy() {
	if c.config.Limiter != nil {
		c.config.Limiter.ReportSuccess()
	}
}

// tokenProbeNumber is a syntactically valid enforcement-procedure number used
// by VerifyToken. Whether it resolves to a debt is irrelevant; only
// token-level rejections matter.
const tokenProbeNumber = "1/21/77001-ИП"

// VerifyToken issues one probe lookup so a bad credential fails the run at
// startup instead of being retried once per number.
func (c *Client) VerifyToken(ctx context.Context) error {
	_, err := c.Lookup(ctx, tokenProbeNumber)
	if err != nil && IsFatal(err) {
		return err
	}
	if err != nil {
		return fmt.Errorf("token verification: %w", err)
	}
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
