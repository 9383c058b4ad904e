// Package ratelimit caps outbound request rate and concurrency against the
// FSSP API and tracks service health from observed transient failures.
// The API publishes no error-budget headers, so health is derived from the
// consecutive-failure streak seen by this process.
package ratelimit

import (
	"time"
)

// Thresholds for health decisions.
const (
	// StreakThresholdWarning applies throttling once this many transient
	// failures have been observed in a row.
	StreakThresholdWarning = 3

	// StreakThresholdCritical blocks new requests for a cooldown once the
	// streak reaches this value. This keeps a struggling upstream from being
	// hammered by twenty workers retrying at once.
	StreakThresholdCritical = 8

	// CriticalCooldown is how long new requests are held back after the
	// streak goes critical.
	CriticalCooldown = 30 * time.Second
)

// HealthState tracks the upstream health observed by this process.
type HealthState struct {
	// FailureStreak is the number of consecutive transient failures.
	// Any success resets it to zero.
	FailureStreak int

	// LastFailure is when the streak last grew.
	LastFailure time.Time

	// CooldownUntil is when a critical block lifts. Zero when not blocking.
	CooldownUntil time.Time
}

// NeedsCriticalBlock returns true if requests should be held until the
// cooldown deadline passes.
func (s *HealthState) NeedsCriticalBlock(now time.Time) bool {
	return now.Before(s.CooldownUntil)
}

// NeedsThrottling returns true if requests should be slowed down but not
// blocked outright.
func (s *HealthState) NeedsThrottling(now time.Time) bool {
	return s.FailureStreak >= StreakThresholdWarning && !s.NeedsCriticalBlock(now)
}

// TimeUntilReset returns the duration until a critical block lifts.
// Returns 0 if no block is active.
func (s *HealthState) TimeUntilReset(now time.Time) time.Duration {
	d := s.CooldownUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RecordFailure grows the streak and arms the cooldown when it goes critical.
func (s *HealthState) RecordFailure(now time.Time) {
	s.FailureStreak++
	s.LastFailure = now
	if s.FailureStreak == StreakThresholdCritical {
		s.CooldownUntil = now.Add(CriticalCooldown)
	}
}

// RecordSuccess resets the streak. An active cooldown is left to expire on
// its own so a single lucky response does not unblock the stampede early.
func (s *HealthState) RecordSuccess() {
	s.FailureStreak = 0
}

// Healthy reports whether no restrictions apply.
func (s *HealthState) Healthy(now time.Time) bool {
	return !s.NeedsThrottling(now) && !s.NeedsCriticalBlock(now)
}
