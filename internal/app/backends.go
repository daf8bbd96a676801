package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/starjobs/internal/config"
	"github.com/SirClappington/starjobs/internal/kv"
	"github.com/SirClappington/starjobs/internal/kv/breaker"
	"github.com/SirClappington/starjobs/internal/kv/memory"
	"github.com/SirClappington/starjobs/internal/kv/postgres"
	redisstore "github.com/SirClappington/starjobs/internal/kv/redis"
	"github.com/SirClappington/starjobs/internal/queue"
)

// backends holds the connections an instance owns and must close.
type backends struct {
	store kv.Store
	queue queue.Queue
	// purge is set for stores that keep expired rows until told to drop
	// them.
	purge func(context.Context) (int64, error)

	redis goredis.UniversalClient
}

func openBackends(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{}

	if cfg.StoreBackend == config.BackendRedis || cfg.QueueBackend == config.BackendRedis {
		b.redis = goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			_ = b.redis.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	switch cfg.StoreBackend {
	case config.BackendMemory:
		b.store = memory.New()
	case config.BackendRedis:
		b.store = redisstore.New(b.redis)
	case config.BackendPostgres:
		pg, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			b.close()
			return nil, err
		}
		if err := pg.Migrate(cfg.MigrationsDir); err != nil {
			_ = pg.Close()
			b.close()
			return nil, err
		}
		b.store = pg
		b.purge = pg.PurgeExpired
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if cfg.StoreBreaker {
		b.store = breaker.New(b.store, breaker.DefaultSettings(), logger.Named("breaker"))
	}

	switch cfg.QueueBackend {
	case config.BackendRedis:
		b.queue = queue.NewRedisQ(b.redis, queue.DefaultRedisKey, cfg.QueuePollInterval, logger.Named("queue"))
	default:
		b.queue = queue.NewMemQ(cfg.QueuePollInterval)
	}

	logger.Info("backends ready",
		zap.String("store", cfg.StoreBackend),
		zap.String("queue", cfg.QueueBackend),
		zap.Bool("breaker", cfg.StoreBreaker))
	return b, nil
}

func (b *backends) close() error {
	var err error
	if b.store != nil {
		err = b.store.Close()
	}
	if b.redis != nil {
		if cerr := b.redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
