package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	APIAddr  string `env:"API_ADDR" envDefault:":8080"`

	StoreBackend  string `env:"STORE_BACKEND" envDefault:"memory"`
	QueueBackend  string `env:"QUEUE_BACKEND" envDefault:"memory"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	StoreBreaker  bool   `env:"STORE_BREAKER" envDefault:"true"`

	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"2"`
	QueuePollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	JobLease          time.Duration `env:"JOB_LEASE" envDefault:"1m"`
	JobLeaseRenew     time.Duration `env:"JOB_LEASE_RENEW" envDefault:"15s"`
	JobLeaseMax       time.Duration `env:"JOB_LEASE_MAX" envDefault:"1h"`
	JobRetention      time.Duration `env:"JOB_RETENTION" envDefault:"24h"`
	RecoveryInterval  time.Duration `env:"RECOVERY_INTERVAL" envDefault:"1m"`
	RecoveryProbe     time.Duration `env:"RECOVERY_PROBE" envDefault:"1s"`
	StarJobDuration   time.Duration `env:"STAR_JOB_DURATION" envDefault:"45s"`

	SubmitRateLimit int           `env:"SUBMIT_RATE_LIMIT" envDefault:"100"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Load reads a .env file if one exists, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse(env.Options{})
}

// Parse builds a Config from opts; set opts.Environment to parse a fixed
// map instead of the process environment.
func Parse(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis store")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.QueueBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis queue")
		}
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend)
	}

	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.JobLease <= 0 {
		return errors.New("JOB_LEASE must be positive")
	}
	if c.JobLeaseRenew >= c.JobLease {
		return fmt.Errorf("JOB_LEASE_RENEW (%s) must be shorter than JOB_LEASE (%s)", c.JobLeaseRenew, c.JobLease)
	}
	if c.RecoveryInterval <= 0 || c.RecoveryProbe <= 0 {
		return errors.New("RECOVERY_INTERVAL and RECOVERY_PROBE must be positive")
	}
	return nil
}
