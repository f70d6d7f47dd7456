package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/lowc1012/bucket-limiter/internal/ratelimiter"
	"github.com/pkg/errors"
)

// Bucket is read from <PREFIX>_ID, <PREFIX>_REQUESTS, <PREFIX>_PERIOD and <PREFIX>_COOLDOWN.
type Bucket struct {
	Id       string
	Requests int64
	Period   time.Duration
	Cooldown time.Duration
}

func (b Bucket) Build() (*ratelimiter.Bucket, error) {
	return ratelimiter.NewBucket(b.Id, b.Requests, b.Period, b.Cooldown)
}

type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	RedisUrl   string `envconfig:"REDIS_URL" required:"true"`
	JwtSecret  string `envconfig:"JWT_SECRET" required:"true"`

	Debug          bool   `envconfig:"DEBUG"`
	LogFile        string `envconfig:"LOG_FILE"`
	LogFileMaxSize int    `envconfig:"LOG_FILE_MAX_SIZE" default:"10"`

	LimitMode          string `envconfig:"LIMIT_MODE" default:"hard"`
	StoreFailurePolicy string `envconfig:"STORE_FAILURE_POLICY" default:"closed"`
	TrustForwardedFor  bool   `envconfig:"TRUST_FORWARDED_FOR"`

	IpBucket     Bucket `envconfig:"IP_BUCKET"`
	MemberBucket Bucket `envconfig:"MEMBER_BUCKET"`
}

func defaults() Config {
	return Config{
		IpBucket: Bucket{
			Id:       "ip",
			Requests: 60,
			Period:   time.Minute,
			Cooldown: time.Minute,
		},
		MemberBucket: Bucket{
			Id:       "member",
			Requests: 30,
			Period:   time.Minute,
			Cooldown: 2 * time.Minute,
		},
	}
}

// Load reads the configuration from the environment. Bucket fields that are not set
// keep their defaults.
func Load() (*Config, error) {
	cfg := defaults()
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.WithMessage(err, "process env")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Mode(); err != nil {
		return err
	}
	if _, err := c.FailurePolicy(); err != nil {
		return err
	}
	if c.IpBucket.Id == c.MemberBucket.Id {
		return errors.Errorf("IP_BUCKET_ID and MEMBER_BUCKET_ID must differ, both are %q", c.IpBucket.Id)
	}
	return nil
}

func (c *Config) Mode() (ratelimiter.Mode, error) {
	switch c.LimitMode {
	case "hard":
		return ratelimiter.HardLimit, nil
	case "soft":
		return ratelimiter.SoftLimit, nil
	default:
		return 0, errors.Errorf("unknown LIMIT_MODE %q, expected hard or soft", c.LimitMode)
	}
}

func (c *Config) FailurePolicy() (ratelimiter.FailurePolicy, error) {
	switch c.StoreFailurePolicy {
	case "closed":
		return ratelimiter.FailClosed, nil
	case "open":
		return ratelimiter.FailOpen, nil
	default:
		return 0, errors.Errorf("unknown STORE_FAILURE_POLICY %q, expected open or closed", c.StoreFailurePolicy)
	}
}
