package ratelimiter

import (
	"regexp"
	"time"

	"github.com/pkg/errors"
)

var bucketIdPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Bucket is a named quota: Requests calls per Period, followed by a Cooldown penalty
// once the quota is exceeded. The id namespaces store keys, so it must be the same on
// every replica sharing a store.
type Bucket struct {
	id       string
	requests int64
	period   time.Duration
	cooldown time.Duration
}

func NewBucket(id string, requests int64, period, cooldown time.Duration) (*Bucket, error) {
	if !bucketIdPattern.MatchString(id) {
		return nil, errors.Errorf("invalid bucket id %q", id)
	}
	if requests < 1 {
		return nil, errors.Errorf("bucket %s: requests must be at least 1, got %d", id, requests)
	}
	// the store keeps scores and expiries in whole milliseconds
	if period < time.Millisecond || period%time.Millisecond != 0 {
		return nil, errors.Errorf("bucket %s: period must be a positive number of milliseconds, got %s", id, period)
	}
	if cooldown < 0 || cooldown%time.Millisecond != 0 {
		return nil, errors.Errorf("bucket %s: cooldown must be zero or a positive number of milliseconds, got %s", id, cooldown)
	}
	return &Bucket{
		id:       id,
		requests: requests,
		period:   period,
		cooldown: cooldown,
	}, nil
}

func (b *Bucket) ID() string {
	return b.id
}

func (b *Bucket) Requests() int64 {
	return b.requests
}

func (b *Bucket) Period() time.Duration {
	return b.period
}

func (b *Bucket) Cooldown() time.Duration {
	return b.cooldown
}

// key builds ratelimit:{<id>:<bucketKey>}:<name>. The hash tag keeps every key of one
// bucket key on the same cluster slot.
func (b *Bucket) key(bucketKey, name string) string {
	return "ratelimit:{" + b.id + ":" + bucketKey + "}:" + name
}

func (b *Bucket) windowKey(bucketKey string) string {
	return b.key(bucketKey, "interactions")
}

func (b *Bucket) cooldownKey(bucketKey string) string {
	return b.key(bucketKey, "cooldown")
}

// Registry holds the buckets of a process and refuses duplicate ids.
// It is filled at startup and is not safe for concurrent registration.
type Registry struct {
	buckets map[string]*Bucket
	order   []*Bucket
}

func NewRegistry() *Registry {
	return &Registry{buckets: make(map[string]*Bucket)}
}

func (r *Registry) Register(b *Bucket) error {
	if _, ok := r.buckets[b.id]; ok {
		return errors.Errorf("bucket %s already registered", b.id)
	}
	r.buckets[b.id] = b
	r.order = append(r.order, b)
	return nil
}

// Buckets returns the registered buckets in registration order.
func (r *Registry) Buckets() []*Bucket {
	return append([]*Bucket(nil), r.order...)
}
