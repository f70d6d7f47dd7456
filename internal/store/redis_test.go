package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: server.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), server
}

func TestRedisFlag(t *testing.T) {
	s, server := newTestRedis(t)
	ctx := context.Background()

	ok, err := s.Flag(ctx, "cooldown")
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := s.TTL(ctx, "cooldown")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), ttl)

	require.NoError(t, s.SetFlag(ctx, "cooldown", 5*time.Second))
	ok, err = s.Flag(ctx, "cooldown")
	require.NoError(t, err)
	assert.True(t, ok)

	server.FastForward(2 * time.Second)
	ttl, err = s.TTL(ctx, "cooldown")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, ttl)

	server.FastForward(3 * time.Second)
	ok, err = s.Flag(ctx, "cooldown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisTTLWithoutExpiry(t *testing.T) {
	s, server := newTestRedis(t)
	require.NoError(t, server.Set("plain", "1"))

	ttl, err := s.TTL(context.Background(), "plain")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), ttl)
}

func TestRedisSortedSet(t *testing.T) {
	s, server := newTestRedis(t)
	ctx := context.Background()

	_, ok, err := s.Highest(ctx, "window")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddMember(ctx, "window", "a", 1000, time.Minute))
	require.NoError(t, s.AddMember(ctx, "window", "b", 3000, time.Minute))
	require.NoError(t, s.AddMember(ctx, "window", "c", 2000, time.Minute))
	assert.Equal(t, time.Minute, server.TTL("window"))

	highest, ok, err := s.Highest(ctx, "window")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, float64(3000), highest)

	// boundary is inclusive
	require.NoError(t, s.RemoveUpTo(ctx, "window", 2000))
	n, err := s.Count(ctx, "window")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	members, err := server.ZMembers("window")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)
}

func TestRedisAdmit(t *testing.T) {
	s, server := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2022, 5, 10, 9, 15, 0, 0, time.UTC)

	req := func(member string) AdmitRequest {
		return AdmitRequest{
			WindowKey:   "window",
			CooldownKey: "cooldown",
			Now:         now,
			Limit:       2,
			Period:      10 * time.Second,
			Cooldown:    5 * time.Second,
			Member:      member,
		}
	}

	res, err := s.Admit(ctx, req("a"))
	require.NoError(t, err)
	assert.Equal(t, &AdmitResult{Admitted: true, Remaining: 1, ResetIn: 10 * time.Second}, res)
	assert.Equal(t, 10*time.Second, server.TTL("window"))

	now = now.Add(time.Second)
	server.FastForward(time.Second)
	res, err = s.Admit(ctx, req("b"))
	require.NoError(t, err)
	assert.Equal(t, &AdmitResult{Admitted: true, Remaining: 0, ResetIn: 10 * time.Second}, res)

	res, err = s.Admit(ctx, req("c"))
	require.NoError(t, err)
	assert.Equal(t, &AdmitResult{Cooldown: 5 * time.Second, Triggered: true}, res)
	assert.True(t, server.Exists("cooldown"))

	now = now.Add(2 * time.Second)
	server.FastForward(2 * time.Second)
	res, err = s.Admit(ctx, req("d"))
	require.NoError(t, err)
	assert.Equal(t, &AdmitResult{Cooldown: 3 * time.Second}, res)

	n, err := s.Count(ctx, "window")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedisAdmitZeroCooldown(t *testing.T) {
	s, server := newTestRedis(t)
	ctx := context.Background()
	req := AdmitRequest{
		WindowKey:   "window",
		CooldownKey: "cooldown",
		Now:         time.Date(2022, 5, 10, 9, 15, 0, 0, time.UTC),
		Limit:       1,
		Period:      time.Second,
		Member:      "a",
	}

	res, err := s.Admit(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Admitted)

	req.Member = "b"
	res, err = s.Admit(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.False(t, res.Triggered)
	assert.Equal(t, time.Duration(0), res.Cooldown)
	assert.False(t, server.Exists("cooldown"))
}

func TestRedisAdmitExpiredWindowKey(t *testing.T) {
	s, _ := newTestRedis(t)

	// a zero period drops the set right after the insert
	res, err := s.Admit(context.Background(), AdmitRequest{
		WindowKey:   "window",
		CooldownKey: "cooldown",
		Now:         time.Date(2022, 5, 10, 9, 15, 0, 0, time.UTC),
		Limit:       1,
		Member:      "a",
	})
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, time.Duration(0), res.ResetIn)
}

func TestRedisUnavailable(t *testing.T) {
	s, server := newTestRedis(t)
	server.Close()

	_, err := s.Count(context.Background(), "window")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	var unavailableErr *UnavailableError
	require.True(t, errors.As(err, &unavailableErr))
	assert.Equal(t, "zcard", unavailableErr.Op)

	_, err = s.Admit(context.Background(), AdmitRequest{WindowKey: "w", CooldownKey: "c", Limit: 1, Period: time.Second})
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestConnect(t *testing.T) {
	server := miniredis.RunT(t)

	cli, err := Connect(context.Background(), "redis://"+server.Addr()+"/0", 10*time.Millisecond)
	require.NoError(t, err)
	_ = cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = Connect(ctx, "redis://127.0.0.1:1/0", 10*time.Millisecond)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
