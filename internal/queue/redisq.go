package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ Queue = (*RedisQ)(nil)

// DefaultRedisKey is the list shared by every instance pointed at the same
// Redis.
const DefaultRedisKey = "starjobs:queue:jobs"

// RedisQ is a Redis list used as a shared dispatch queue: LPUSH to publish,
// BRPOP to consume. Unlike MemQ it survives instance restarts, but a message
// popped by an instance that then crashes is still lost.
type RedisQ struct {
	rdb          r.UniversalClient
	key          string
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewRedisQ(rdb r.UniversalClient, key string, pollInterval time.Duration, logger *zap.Logger) *RedisQ {
	if key == "" {
		key = DefaultRedisKey
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &RedisQ{rdb: rdb, key: key, pollInterval: pollInterval, logger: logger}
}

func (q *RedisQ) Publish(ctx context.Context, jobID int64) error {
	return q.rdb.LPush(ctx, q.key, jobID).Err()
}

// Consume blocks in BRPOP for at most one poll interval at a time so that a
// cancelled ctx is noticed promptly. Redis errors are logged and retried.
func (q *RedisQ) Consume(ctx context.Context) (int64, bool) {
	for ctx.Err() == nil {
		res, err := q.rdb.BRPop(ctx, q.pollInterval, q.key).Result()
		switch {
		case errors.Is(err, r.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return 0, false
			}
			q.logger.Warn("dequeue failed", zap.String("queue", q.key), zap.Error(err))
			q.sleep(ctx)
			continue
		}

		if len(res) != 2 {
			continue
		}
		id, err := strconv.ParseInt(res[1], 10, 64)
		if err != nil {
			q.logger.Warn("dropping malformed dispatch message", zap.String("queue", q.key), zap.String("message", res[1]))
			continue
		}
		return id, true
	}
	return 0, false
}

func (q *RedisQ) sleep(ctx context.Context) {
	t := time.NewTimer(q.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
