package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrUnavailable matches every error caused by the shared store failing to answer.
var ErrUnavailable = errors.New("store unavailable")

type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return "store unavailable: " + e.Op + ": " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}

// Store is the set of primitives the sliding window and the cooldown tracker are built on.
// Scores are unix milliseconds.
type Store interface {
	SetFlag(ctx context.Context, key string, ttl time.Duration) error
	Flag(ctx context.Context, key string) (bool, error)
	// TTL returns zero for a missing key or a key without expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	AddMember(ctx context.Context, key, member string, score float64, keyTTL time.Duration) error
	// RemoveUpTo removes members with a score lower than or equal to max.
	RemoveUpTo(ctx context.Context, key string, max float64) error
	Count(ctx context.Context, key string) (int64, error)
	// Highest returns the greatest score of the set, ok is false for an empty set.
	Highest(ctx context.Context, key string) (score float64, ok bool, err error)
}

type AdmitRequest struct {
	WindowKey   string
	CooldownKey string
	Now         time.Time
	Limit       int64
	Period      time.Duration
	Cooldown    time.Duration
	Member      string
}

type AdmitResult struct {
	Admitted  bool
	Remaining int64
	// Cooldown is the penalty left when the call was rejected.
	Cooldown time.Duration
	ResetIn  time.Duration
	// Triggered reports that this call started the cooldown.
	Triggered bool
}

// Admitter runs the whole check-and-record sequence as one step on the store side.
type Admitter interface {
	Admit(ctx context.Context, req AdmitRequest) (*AdmitResult, error)
}
