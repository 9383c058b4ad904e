package fssp

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateOutcome is returned when a second terminal outcome is
	// recorded for a number that already has one.
	ErrDuplicateOutcome = errors.New("duplicate outcome")

	// ErrNotTerminal is returned when an outcome without a valid terminal
	// status is recorded.
	ErrNotTerminal = errors.New("outcome is not terminal")
)

// ResultSet is the identifier-keyed set of outcomes accumulated by a run.
// All mutation goes through Record, so concurrent writers can never race on
// the same number's outcome slot.
type ResultSet struct {
	mu       sync.RWMutex
	outcomes map[string]Outcome
	partial  bool
}

// NewResultSet creates an empty result set.
func NewResultSet() *ResultSet {
	return &ResultSet{
		outcomes: make(map[string]Outcome),
	}
}

// Record stores the terminal outcome for a number.
// Recording a second outcome for the same number is a bug in the caller and
// returns ErrDuplicateOutcome without overwriting the existing slot.
func (rs *ResultSet) Record(o Outcome) error {
	if !o.Terminal() {
		return fmt.Errorf("%w: %q for number %s", ErrNotTerminal, o.Status, o.Number)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, exists := rs.outcomes[o.Number]; exists {
		return fmt.Errorf("%w: number %s", ErrDuplicateOutcome, o.Number)
	}
	rs.outcomes[o.Number] = o

	return nil
}

// Get returns the outcome for a number, if one has been recorded.
func (rs *ResultSet) Get(number string) (Outcome, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	o, ok := rs.outcomes[number]
	return o, ok
}

// Len returns the number of recorded outcomes.
func (rs *ResultSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	return len(rs.outcomes)
}

// Outcomes returns a copy of all recorded outcomes keyed by number.
// Output ordering is reconstructed downstream by number lookup, never by
// arrival order, so a map is the natural shape here.
func (rs *ResultSet) Outcomes() map[string]Outcome {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make(map[string]Outcome, len(rs.outcomes))
	for number, o := range rs.outcomes {
		out[number] = o
	}
	return out
}

// Failed returns the outcomes that terminated with StatusFailed.
func (rs *ResultSet) Failed() []Outcome {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var failed []Outcome
	for _, o := range rs.outcomes {
		if o.Status == StatusFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

// MarkPartial flags the set as the result of an interrupted run.
func (rs *ResultSet) MarkPartial() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.partial = true
}

// ClearPartial removes the interrupted flag, for a resumed run that went on
// to finish every remaining number.
func (rs *ResultSet) ClearPartial() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.partial = false
}

// Partial reports whether the run was interrupted before completing.
func (rs *ResultSet) Partial() bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	return rs.partial
}
