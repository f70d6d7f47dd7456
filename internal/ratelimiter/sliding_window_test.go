package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindow_Remaining(t *testing.T) {
	var tests = []struct {
		name      string
		records   int
		spacing   time.Duration
		advance   time.Duration
		remaining int64
	}{
		{
			name:      "empty window",
			remaining: 3,
		},
		{
			name:      "records inside the period count",
			records:   2,
			spacing:   time.Second,
			remaining: 1,
		},
		{
			name:      "records older than the period are dropped",
			records:   3,
			spacing:   time.Second,
			advance:   8 * time.Second,
			remaining: 2,
		},
		{
			name:      "record expiring exactly now is dropped",
			records:   1,
			advance:   10 * time.Second,
			remaining: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clock := newTestStore(t)
			window := NewSlidingWindow(mustBucket(t, "ip", 3, 10*time.Second, 0), s, clock.Now)
			ctx := context.Background()

			for i := 0; i < tt.records; i++ {
				require.NoError(t, window.Record(ctx, "key"))
				clock.advance(tt.spacing)
			}
			clock.advance(tt.advance)

			remaining, err := window.Remaining(ctx, "key")
			require.NoError(t, err)
			assert.Equal(t, tt.remaining, remaining)
		})
	}
}

func TestSlidingWindow_RemainingIsIdempotent(t *testing.T) {
	s, clock := newTestStore(t)
	window := NewSlidingWindow(mustBucket(t, "ip", 5, time.Minute, 0), s, clock.Now)
	ctx := context.Background()

	require.NoError(t, window.Record(ctx, "key"))
	require.NoError(t, window.Record(ctx, "key"))

	for i := 0; i < 5; i++ {
		remaining, err := window.Remaining(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, int64(3), remaining)
	}
}

func TestSlidingWindow_ResetIn(t *testing.T) {
	s, clock := newTestStore(t)
	window := NewSlidingWindow(mustBucket(t, "ip", 5, 10*time.Second, 0), s, clock.Now)
	ctx := context.Background()

	resetIn, err := window.ResetIn(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), resetIn)

	require.NoError(t, window.Record(ctx, "key"))
	clock.advance(2 * time.Second)
	require.NoError(t, window.Record(ctx, "key"))
	clock.advance(3 * time.Second)

	resetIn, err = window.ResetIn(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, resetIn)
}

func TestSlidingWindow_RecordRefreshesKeyTTL(t *testing.T) {
	s, clock := newTestStore(t)
	window := NewSlidingWindow(mustBucket(t, "ip", 5, 10*time.Second, 0), s, clock.Now)

	require.NoError(t, window.Record(context.Background(), "key"))
	assert.Equal(t, 10*time.Second, clock.server.TTL("ratelimit:{ip:key}:interactions"))

	clock.advance(10 * time.Second)
	assert.False(t, clock.server.Exists("ratelimit:{ip:key}:interactions"))
}

func TestCooldown(t *testing.T) {
	s, clock := newTestStore(t)
	cooldown := NewCooldown(mustBucket(t, "ip", 1, time.Minute, 5*time.Second), s)
	ctx := context.Background()

	remaining, err := cooldown.Remaining(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), remaining)

	require.NoError(t, cooldown.Trigger(ctx, "key"))
	remaining, err = cooldown.Remaining(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, remaining)

	clock.advance(4 * time.Second)
	remaining, err = cooldown.Remaining(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, time.Second, remaining)

	clock.advance(time.Second)
	remaining, err = cooldown.Remaining(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), remaining)
}

func TestCooldown_TriggerWithoutPenalty(t *testing.T) {
	s, clock := newTestStore(t)
	cooldown := NewCooldown(mustBucket(t, "ip", 1, time.Minute, 0), s)

	require.NoError(t, cooldown.Trigger(context.Background(), "key"))
	assert.False(t, clock.server.Exists("ratelimit:{ip:key}:cooldown"))
}
