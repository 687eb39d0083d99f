package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	inflightPrefix = "transcode:inflight:"
	// inflightTTL caps how long a crashed worker can keep a key locked.
	inflightTTL = 30 * time.Minute
)

// RedisGuard is a per-source-key in-flight lock over Redis SET NX, shared by
// every worker process, so two upload-done signals for the same key run one
// job between them.
type RedisGuard struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisGuard creates a Redis-backed in-flight guard.
func NewRedisGuard(client *redis.Client, logger *zap.Logger) *RedisGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisGuard{client: client, logger: logger}
}

// Acquire takes the lock for key. A guard error is logged and reported as
// acquired: a flaky lock must not stop a capture from being delivered.
func (g *RedisGuard) Acquire(ctx context.Context, key string) bool {
	ok, err := g.client.SetNX(ctx, inflightPrefix+key, "1", inflightTTL).Result()
	if err != nil {
		g.logger.Warn("inflight lock error, proceeding", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

// Release drops the lock for key.
func (g *RedisGuard) Release(ctx context.Context, key string) {
	if err := g.client.Del(ctx, inflightPrefix+key).Err(); err != nil {
		g.logger.Warn("inflight unlock error", zap.String("key", key), zap.Error(err))
	}
}
