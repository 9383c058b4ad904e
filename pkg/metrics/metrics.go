// Package metrics provides the centralized Prometheus metrics registry for
// the debt checker. All metrics are defined in their respective packages
// (client, ratelimit, checkpoint, runner, cache) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the debt checker.
// All metrics are automatically registered via promauto in their respective
// packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - fssp_requests_in_flight (Gauge): Lookups currently holding a concurrency permit
//   - fssp_failure_streak (Gauge): Current consecutive transient-failure streak
//   - fssp_rate_limit_throttles_total (Counter): Acquires delayed by the warning streak
//   - fssp_rate_limit_blocks_total (Counter): Acquires blocked by the critical cooldown
//
// Retry Metrics (pkg/client):
//   - fssp_retries_total{error_class} (Counter): Retry attempts by error class
//   - fssp_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - fssp_retry_exhausted_total{error_class} (Counter): Lookups that exhausted max attempts
//
// Progress Metrics (pkg/checkpoint):
//   - fssp_lookups_completed (Counter): Terminal outcomes recorded
//   - fssp_snapshots_written_total (Counter): Progress snapshots persisted
//   - fssp_snapshot_errors_total (Counter): Snapshot write failures
//
// Runner Metrics (pkg/runner):
//   - fssp_workers_busy (Gauge): Workers currently executing a lookup
//   - fssp_runs_total{result} (Counter): Runs by result (complete, partial, fatal)
//
// Cache Metrics (pkg/cache):
//   - fssp_cache_hits_total (Counter): Outcome cache hits
//   - fssp_cache_misses_total (Counter): Outcome cache misses
//   - fssp_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   rate(fssp_cache_hits_total[5m]) /
//   (rate(fssp_cache_hits_total[5m]) + rate(fssp_cache_misses_total[5m]))
//
//   # Retry Pressure
//   rate(fssp_retries_total[5m])
//
//   # Exhaustion Rate
//   rate(fssp_retry_exhausted_total[5m]) / rate(fssp_lookups_completed[5m])
//
//   # Pool Saturation
//   fssp_workers_busy / 20
