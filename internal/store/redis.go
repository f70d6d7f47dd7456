package store

import (
	"context"
	"strconv"
	"time"

	"github.com/lowc1012/bucket-limiter/internal/log"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	_ Store    = &Redis{}
	_ Admitter = &Redis{}
)

const (
	sortedSetMin = "-inf"
	sortedSetMax = "+inf"
)

// KEYS[1] interactions set, KEYS[2] cooldown flag
// ARGV: now ms, limit, period ms, cooldown ms, member, member expiry ms
var admitScript = redis.NewScript(`
local cooldown = redis.call('PTTL', KEYS[2])
if cooldown > 0 then
	return {0, 0, cooldown, 0, 0}
end

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
local limit = tonumber(ARGV[2])

if count >= limit then
	local penalty = tonumber(ARGV[4])
	local triggered = 0
	if penalty > 0 then
		redis.call('SET', KEYS[2], '1', 'PX', penalty)
		triggered = 1
	end
	return {0, 0, penalty, 0, triggered}
end

redis.call('ZADD', KEYS[1], ARGV[6], ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
local newest = redis.call('ZREVRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local resetIn = 0
if newest[2] then
	resetIn = tonumber(newest[2]) - tonumber(ARGV[1])
end
return {1, limit - count - 1, 0, resetIn, 0}
`)

// Redis implements Store and Admitter on top of a go-redis client.
type Redis struct {
	cli redis.UniversalClient
}

func NewRedis(cli redis.UniversalClient) *Redis {
	return &Redis{cli: cli}
}

func (s *Redis) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.cli.Set(ctx, key, "1", ttl).Err(); err != nil {
		return unavailable("set flag", err)
	}
	return nil
}

func (s *Redis) Flag(ctx context.Context, key string) (bool, error) {
	n, err := s.cli.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n > 0, nil
}

func (s *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.cli.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("pttl", err)
	}
	// -1 if the key exists but has no associated expire, -2 if the key does not exist
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (s *Redis) AddMember(ctx context.Context, key, member string, score float64, keyTTL time.Duration) error {
	_, err := s.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{
			Member: member,
			Score:  score,
		})
		p.PExpire(ctx, key, keyTTL)
		return nil
	})
	if err != nil {
		return unavailable("zadd", err)
	}
	return nil
}

func (s *Redis) RemoveUpTo(ctx context.Context, key string, max float64) error {
	err := s.cli.ZRemRangeByScore(ctx, key, sortedSetMin, strconv.FormatFloat(max, 'f', -1, 64)).Err()
	if err != nil {
		return unavailable("zremrangebyscore", err)
	}
	return nil
}

func (s *Redis) Count(ctx context.Context, key string) (int64, error) {
	n, err := s.cli.ZCard(ctx, key).Result()
	if err != nil {
		return 0, unavailable("zcard", err)
	}
	return n, nil
}

func (s *Redis) Highest(ctx context.Context, key string) (float64, bool, error) {
	members, err := s.cli.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   sortedSetMin,
		Max:   sortedSetMax,
		Count: 1,
	}).Result()
	if err != nil {
		return 0, false, unavailable("zrevrangebyscore", err)
	}
	if len(members) == 0 {
		return 0, false, nil
	}
	return members[0].Score, true, nil
}

// Admit checks the cooldown, prunes and counts the window, then either records the call
// or starts the cooldown, in a single script execution.
func (s *Redis) Admit(ctx context.Context, req AdmitRequest) (*AdmitResult, error) {
	now := req.Now.UnixMilli()
	values, err := admitScript.Run(ctx, s.cli,
		[]string{req.WindowKey, req.CooldownKey},
		now,
		req.Limit,
		req.Period.Milliseconds(),
		req.Cooldown.Milliseconds(),
		req.Member,
		req.Now.Add(req.Period).UnixMilli(),
	).Int64Slice()
	if err != nil {
		return nil, unavailable("admit", err)
	}
	if len(values) != 5 {
		return nil, unavailable("admit", errors.Errorf("unexpected script reply of %d values", len(values)))
	}

	resetIn := time.Duration(values[3]) * time.Millisecond
	if resetIn < 0 {
		resetIn = 0
	}
	return &AdmitResult{
		Admitted:  values[0] == 1,
		Remaining: values[1],
		Cooldown:  time.Duration(values[2]) * time.Millisecond,
		ResetIn:   resetIn,
		Triggered: values[4] == 1,
	}, nil
}

// Connect parses url and pings the server until it answers or ctx is done.
func Connect(ctx context.Context, url string, retry time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.WithMessage(err, "parse redis url")
	}
	cli := redis.NewClient(opts)

	for {
		err := cli.Ping(ctx).Err()
		if err == nil {
			log.Logger().Info("Connected to redis", zap.String("addr", opts.Addr))
			return cli, nil
		}
		log.Logger().Warn("Failed to ping redis, retrying",
			zap.String("addr", opts.Addr),
			zap.Duration("retry", retry),
			zap.Error(err))

		select {
		case <-ctx.Done():
			_ = cli.Close()
			return nil, errors.WithMessage(ctx.Err(), "connect to redis")
		case <-time.After(retry):
		}
	}
}
