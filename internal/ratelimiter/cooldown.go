package ratelimiter

import (
	"context"
	"time"

	"github.com/lowc1012/bucket-limiter/internal/store"
	"github.com/pkg/errors"
)

// Cooldown tracks the penalty period started when a key exhausts its window.
type Cooldown struct {
	bucket *Bucket
	store  store.Store
}

func NewCooldown(bucket *Bucket, s store.Store) *Cooldown {
	return &Cooldown{
		bucket: bucket,
		store:  s,
	}
}

// Remaining returns the penalty left for key, zero when there is none.
func (c *Cooldown) Remaining(ctx context.Context, key string) (time.Duration, error) {
	cooldownKey := c.bucket.cooldownKey(key)

	active, err := c.store.Flag(ctx, cooldownKey)
	if err != nil {
		return 0, errors.WithMessage(err, "cooldown: flag")
	}
	if !active {
		return 0, nil
	}

	ttl, err := c.store.TTL(ctx, cooldownKey)
	if err != nil {
		return 0, errors.WithMessage(err, "cooldown: ttl")
	}
	return ttl, nil
}

// Trigger starts a full penalty period for key. A bucket without cooldown only rejects.
func (c *Cooldown) Trigger(ctx context.Context, key string) error {
	if c.bucket.cooldown == 0 {
		return nil
	}
	if err := c.store.SetFlag(ctx, c.bucket.cooldownKey(key), c.bucket.cooldown); err != nil {
		return errors.WithMessage(err, "cooldown: trigger")
	}
	return nil
}
