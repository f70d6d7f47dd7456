package ratelimiter

import (
	"time"

	"github.com/pkg/errors"
)

type State uint32

const (
	Allow State = iota
	RejectCooldown
	RejectConfig
)

var stateStrings = map[State]string{
	Allow:          "Allow",
	RejectCooldown: "RejectCooldown",
	RejectConfig:   "RejectConfig",
}

func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "Unknown"
}

// Mode selects how a guard coordinates concurrent callers of the same key.
type Mode uint32

const (
	// HardLimit checks and records in one atomic store operation.
	HardLimit Mode = iota
	// SoftLimit checks and records with separate round trips. Concurrent callers
	// can all observe the last free slot and be admitted together.
	SoftLimit
)

// FailurePolicy decides what a guard does when the store cannot be reached.
type FailurePolicy uint32

const (
	FailClosed FailurePolicy = iota
	FailOpen
)

// Result is the outcome of a single admission check.
type Result struct {
	State State
	Key   string

	Limit     int64
	Period    time.Duration
	Remaining int64
	ResetIn   time.Duration

	CooldownRemaining time.Duration

	// Reason explains a RejectConfig result.
	Reason string
	// Degraded marks a call admitted without consulting the store.
	Degraded bool
}

// ConfigurationError reports a guard that cannot resolve a bucket key for a request.
type ConfigurationError struct {
	Bucket string
	err    error
}

func (e *ConfigurationError) Error() string {
	return errors.WithMessagef(e.err, "bucket %s", e.Bucket).Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.err
}
