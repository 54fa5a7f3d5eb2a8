package ratelimit

import (
	"errors"
	"time"
)

var (
	// ErrCounterUnavailable wraps counter store failures seen by the engine.
	ErrCounterUnavailable = errors.New("ratelimit: counter store unavailable")
	// ErrConfigUnavailable marks the configuration source as unreachable.
	ErrConfigUnavailable = errors.New("ratelimit: configuration source unavailable")
	// ErrInvalidLimit rejects a negative request limit.
	ErrInvalidLimit = errors.New("ratelimit: limit must be >= 0")
	// ErrInvalidPeriod rejects a non-positive window length.
	ErrInvalidPeriod = errors.New("ratelimit: period must be > 0")
	// ErrInvalidSetting rejects a malformed setting value.
	ErrInvalidSetting = errors.New("ratelimit: invalid setting value")
)

// Decision is the verdict for a single request.
type Decision int

const (
	Allow Decision = iota
	Reject
)

// String returns the lowercase decision name.
func (d Decision) String() string {
	if d == Reject {
		return "reject"
	}
	return "allow"
}

// Result describes the outcome of a throttle check.
type Result struct {
	Decision Decision
	// Classified is false when the request was exempt from throttling.
	Classified bool
	Category   Category
	Key        string
	Count      int64
	Limit      int
	Period     time.Duration
	// ResetAt is the end of the window the request was counted in.
	ResetAt time.Time
	// Err holds the counter error resolved by the failure policy.
	Err error
}

// Allowed reports whether the request may proceed.
func (r Result) Allowed() bool {
	return r.Decision == Allow
}

// Remaining returns how many requests are left in the window.
func (r Result) Remaining() int {
	if !r.Classified || r.Count == 0 {
		return r.Limit
	}
	left := int64(r.Limit) - r.Count
	if left < 0 {
		return 0
	}
	return int(left)
}

// FailurePolicy decides what happens when the counter store fails.
type FailurePolicy int

const (
	// FailOpen admits the request.
	FailOpen FailurePolicy = iota
	// FailClosed rejects the request.
	FailClosed
)

// ParseFailurePolicy maps "open"/"closed" to a policy. Unknown values fail open.
func ParseFailurePolicy(s string) (FailurePolicy, bool) {
	switch s {
	case "", "open", "fail-open", "fail_open":
		return FailOpen, true
	case "closed", "fail-closed", "fail_closed":
		return FailClosed, true
	default:
		return FailOpen, false
	}
}

// String returns the policy name.
func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "closed"
	}
	return "open"
}
