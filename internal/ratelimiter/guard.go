package ratelimiter

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lowc1012/bucket-limiter/internal/bucketkey"
	"github.com/lowc1012/bucket-limiter/internal/log"
	"github.com/lowc1012/bucket-limiter/internal/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type GuardOption func(g *Guard)

func WithMode(mode Mode) GuardOption {
	return func(g *Guard) {
		g.mode = mode
	}
}

func WithFailurePolicy(policy FailurePolicy) GuardOption {
	return func(g *Guard) {
		g.policy = policy
	}
}

func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		g.now = now
	}
}

// Guard decides whether a request may reach the handler protected by a bucket.
type Guard struct {
	bucket    *Bucket
	extractor bucketkey.Extractor
	store     store.Store
	admitter  store.Admitter

	window   *SlidingWindow
	cooldown *Cooldown

	mode   Mode
	policy FailurePolicy
	now    func() time.Time
}

// NewGuard builds a guard over s. HardLimit, the default mode, needs s to implement store.Admitter.
func NewGuard(bucket *Bucket, extractor bucketkey.Extractor, s store.Store, opts ...GuardOption) (*Guard, error) {
	g := &Guard{
		bucket:    bucket,
		extractor: extractor,
		store:     s,
		mode:      HardLimit,
		policy:    FailClosed,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.mode == HardLimit {
		admitter, ok := s.(store.Admitter)
		if !ok {
			return nil, errors.Errorf("bucket %s: hard limit requires a store with atomic admission", bucket.id)
		}
		g.admitter = admitter
	}
	g.window = NewSlidingWindow(bucket, s, g.now)
	g.cooldown = NewCooldown(bucket, s)
	return g, nil
}

func (g *Guard) Bucket() *Bucket {
	return g.bucket
}

func (g *Guard) Extractor() bucketkey.Extractor {
	return g.extractor
}

// Check resolves the bucket key of r and runs the admission sequence for it.
// A key that cannot be resolved yields a RejectConfig result along with a *ConfigurationError.
// A store failure is returned as an error unless the guard fails open.
func (g *Guard) Check(ctx context.Context, r *http.Request) (*Result, error) {
	key, err := g.extractor.Extract(r)
	if err != nil {
		log.Logger().Warn("Failed to resolve bucket key",
			zap.String("bucket", g.bucket.id),
			zap.Error(err))
		return &Result{
			State:  RejectConfig,
			Reason: err.Error(),
		}, &ConfigurationError{Bucket: g.bucket.id, err: err}
	}

	var result *Result
	if g.mode == HardLimit {
		result, err = g.admit(ctx, key)
	} else {
		result, err = g.checkAndRecord(ctx, key)
	}
	if err != nil {
		if g.policy == FailOpen {
			log.Logger().Warn("Store unavailable, admitting request",
				zap.String("bucket", g.bucket.id),
				zap.String("key", key),
				zap.Error(err))
			return &Result{State: Allow, Key: key, Degraded: true}, nil
		}
		return nil, errors.WithMessagef(err, "bucket %s", g.bucket.id)
	}

	log.Logger().Debug("Rate limit decision",
		zap.String("bucket", g.bucket.id),
		zap.String("key", key),
		zap.Stringer("state", result.State),
		zap.Int64("remaining", result.Remaining),
		zap.Duration("cooldown", result.CooldownRemaining))
	return result, nil
}

func (g *Guard) admit(ctx context.Context, key string) (*Result, error) {
	res, err := g.admitter.Admit(ctx, store.AdmitRequest{
		WindowKey:   g.bucket.windowKey(key),
		CooldownKey: g.bucket.cooldownKey(key),
		Now:         g.now(),
		Limit:       g.bucket.requests,
		Period:      g.bucket.period,
		Cooldown:    g.bucket.cooldown,
		Member:      uuid.New().String(),
	})
	if err != nil {
		return nil, errors.WithMessage(err, "admit")
	}
	if res.Triggered {
		log.Logger().Debug("Cooldown triggered",
			zap.String("bucket", g.bucket.id),
			zap.String("key", key),
			zap.Duration("cooldown", res.Cooldown))
	}
	if !res.Admitted {
		return g.rejected(key, res.Cooldown), nil
	}
	return g.allowed(key, res.Remaining, res.ResetIn), nil
}

// checkAndRecord runs every step as its own store call. Another caller can act on the
// same key between the window check and the record.
func (g *Guard) checkAndRecord(ctx context.Context, key string) (*Result, error) {
	cooldown, err := g.cooldown.Remaining(ctx, key)
	if err != nil {
		return nil, err
	}
	if cooldown > 0 {
		return g.rejected(key, cooldown), nil
	}

	remaining, err := g.window.Remaining(ctx, key)
	if err != nil {
		return nil, err
	}
	if remaining <= 0 {
		if err := g.cooldown.Trigger(ctx, key); err != nil {
			return nil, err
		}
		log.Logger().Debug("Cooldown triggered",
			zap.String("bucket", g.bucket.id),
			zap.String("key", key),
			zap.Duration("cooldown", g.bucket.cooldown))
		cooldown, err := g.cooldown.Remaining(ctx, key)
		if err != nil {
			return nil, err
		}
		return g.rejected(key, cooldown), nil
	}

	if err := g.window.Record(ctx, key); err != nil {
		return nil, err
	}
	resetIn, err := g.window.ResetIn(ctx, key)
	if err != nil {
		return nil, err
	}
	return g.allowed(key, remaining-1, resetIn), nil
}

func (g *Guard) allowed(key string, remaining int64, resetIn time.Duration) *Result {
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		State:     Allow,
		Key:       key,
		Limit:     g.bucket.requests,
		Period:    g.bucket.period,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}

func (g *Guard) rejected(key string, cooldown time.Duration) *Result {
	return &Result{
		State:             RejectCooldown,
		Key:               key,
		Limit:             g.bucket.requests,
		Period:            g.bucket.period,
		CooldownRemaining: cooldown,
	}
}
