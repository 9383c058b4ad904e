// Package fssp defines the result model for FSSP debt lookups: the terminal
// outcome of checking one enforcement-procedure number and the identifier-keyed
// set of outcomes accumulated by a run.
package fssp

import "fmt"

// Status classifies the terminal result of one lookup.
type Status string

const (
	// StatusFound means the number has an outstanding debt with a known amount.
	StatusFound Status = "found"

	// StatusNoDebt means the lookup succeeded and no debt exists.
	StatusNoDebt Status = "no_debt"

	// StatusFailed means the lookup terminated without a usable answer.
	StatusFailed Status = "failed"
)

// Failure reasons recorded on StatusFailed outcomes.
const (
	// ReasonExhausted means all retry attempts were used up on transient errors.
	ReasonExhausted = "exhausted"

	// ReasonBadResponse means the API answered with a body that does not match
	// the documented contract (unparseable JSON, missing record fields).
	ReasonBadResponse = "bad_response"

	// ReasonRejected means the API rejected the request for this number
	// (malformed identifier or another non-retryable client error).
	ReasonRejected = "rejected"
)

// Outcome is the terminal result for one enforcement-procedure number.
// Exactly one Outcome exists per number once processing for it terminates.
type Outcome struct {
	// Number is the enforcement-procedure number that was checked.
	Number string `json:"number"`

	// Status classifies the result.
	Status Status `json:"status"`

	// Amount is the outstanding debt in rubles. Only meaningful for
	// StatusFound; zero for StatusNoDebt.
	Amount float64 `json:"amount,omitempty"`

	// Attempts is the number of API calls spent on this number.
	Attempts int `json:"attempts"`

	// Reason describes the failure for StatusFailed outcomes.
	Reason string `json:"reason,omitempty"`
}

// Found reports whether the outcome carries a debt amount.
func (o Outcome) Found() bool {
	return o.Status == StatusFound
}

// Terminal reports whether the outcome is a valid terminal state.
func (o Outcome) Terminal() bool {
	switch o.Status {
	case StatusFound, StatusNoDebt, StatusFailed:
		return true
	default:
		return false
	}
}

// String renders the outcome for logs.
func (o Outcome) String() string {
	switch o.Status {
	case StatusFound:
		return fmt.Sprintf("%s: debt %.2f (attempts=%d)", o.Number, o.Amount, o.Attempts)
	case StatusNoDebt:
		return fmt.Sprintf("%s: no debt (attempts=%d)", o.Number, o.Attempts)
	default:
		return fmt.Sprintf("%s: failed (%s, attempts=%d)", o.Number, o.Reason, o.Attempts)
	}
}
