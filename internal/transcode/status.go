package transcode

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	statusKeyPrefix = "transcode:job:"
	statusTTL       = 24 * time.Hour
)

// JobStatus is the observable state of one transcode run.
type JobStatus struct {
	SourceKey string `json:"sourceKey"`
	State     State  `json:"state"`
	DestKey   string `json:"destKey,omitempty"`
	Error     string `json:"error,omitempty"`
	UpdatedAt string `json:"updatedAt"`
}

// RedisStatus stores per-job state in a Redis hash with a TTL. A job has no
// persisted identity beyond its run; the hash is purely for operators and
// the status endpoint, and expires on its own.
type RedisStatus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStatus creates a Redis-backed status store.
func NewRedisStatus(client *redis.Client, logger *zap.Logger) *RedisStatus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStatus{client: client, logger: logger}
}

// Set records the job's current state. Failures are logged and swallowed.
func (s *RedisStatus) Set(ctx context.Context, sourceKey string, state State, destKey, errMsg string) {
	key := statusKeyPrefix + sourceKey
	fields := map[string]interface{}{
		"state":      string(state),
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if destKey != "" {
		fields["dest_key"] = destKey
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, statusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("job status write failed", zap.String("source_key", sourceKey), zap.Error(err))
	}
}

// Get returns the recorded status for a source key, or nil when unknown.
func (s *RedisStatus) Get(ctx context.Context, sourceKey string) (*JobStatus, error) {
	fields, err := s.client.HGetAll(ctx, statusKeyPrefix+sourceKey).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &JobStatus{
		SourceKey: sourceKey,
		State:     State(fields["state"]),
		DestKey:   fields["dest_key"],
		Error:     fields["error"],
		UpdatedAt: fields["updated_at"],
	}, nil
}
