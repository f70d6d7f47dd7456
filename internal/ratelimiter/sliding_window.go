package ratelimiter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lowc1012/bucket-limiter/internal/log"
	"github.com/lowc1012/bucket-limiter/internal/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SlidingWindow counts the calls a bucket key made during the last bucket period.
// Every accepted call is a set member scored by the instant it stops counting.
type SlidingWindow struct {
	bucket *Bucket
	store  store.Store
	now    func() time.Time
}

func NewSlidingWindow(bucket *Bucket, s store.Store, now func() time.Time) *SlidingWindow {
	return &SlidingWindow{
		bucket: bucket,
		store:  s,
		now:    now,
	}
}

// Remaining drops expired calls and returns how many calls the key may still make.
// The result is negative when a soft limit let the window overshoot.
func (w *SlidingWindow) Remaining(ctx context.Context, key string) (int64, error) {
	windowKey := w.bucket.windowKey(key)

	// Remove expired requests
	if err := w.store.RemoveUpTo(ctx, windowKey, float64(w.now().UnixMilli())); err != nil {
		log.Logger().Error("Failed to remove expired interactions", zap.String("key", windowKey), zap.Error(err))
		return 0, errors.WithMessage(err, "sliding window: prune")
	}

	count, err := w.store.Count(ctx, windowKey)
	if err != nil {
		log.Logger().Error("Failed to count interactions", zap.String("key", windowKey), zap.Error(err))
		return 0, errors.WithMessage(err, "sliding window: count")
	}
	return w.bucket.requests - count, nil
}

// Record adds the current call to the window.
func (w *SlidingWindow) Record(ctx context.Context, key string) error {
	windowKey := w.bucket.windowKey(key)
	expiresAt := w.now().Add(w.bucket.period)

	// assign uuid to each request
	id := uuid.New()

	err := w.store.AddMember(ctx, windowKey, id.String(), float64(expiresAt.UnixMilli()), w.bucket.period)
	if err != nil {
		log.Logger().Error("Failed to add interaction", zap.String("key", windowKey), zap.Error(err))
		return errors.WithMessage(err, "sliding window: record")
	}
	return nil
}

// ResetIn returns the time until the newest recorded call leaves the window.
func (w *SlidingWindow) ResetIn(ctx context.Context, key string) (time.Duration, error) {
	score, ok, err := w.store.Highest(ctx, w.bucket.windowKey(key))
	if err != nil {
		return 0, errors.WithMessage(err, "sliding window: newest interaction")
	}
	if !ok {
		return 0, nil
	}
	d := time.Duration(int64(score)-w.now().UnixMilli()) * time.Millisecond
	if d < 0 {
		return 0, nil
	}
	return d, nil
}
