// Package queue is the Redis-backed hand-off between the signal relay and
// the transcode workers. Jobs are fire-and-forget: a job that fails ends in
// fallback delivery inside the pipeline, so there is no retry path and no
// dead-letter queue here.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QueueTranscodes is the Redis list key for transcode jobs.
const QueueTranscodes = "worker:transcodes"

// JobType identifies the job kind.
type JobType string

// JobTypeTranscode is the only job kind the booth runs today.
const JobTypeTranscode JobType = "transcode"

// TranscodePayload is the payload for transcode jobs.
type TranscodePayload struct {
	SourceKey string `json:"source_key"`
}

// Job is the envelope stored on the Redis list.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueTranscode enqueues a transcode job for an uploaded capture.
func (q *Queue) EnqueueTranscode(ctx context.Context, sourceKey string) error {
	body, err := json.Marshal(TranscodePayload{SourceKey: sourceKey})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeTranscode,
		Payload:   body,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueTranscodes, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued transcode job",
		zap.String("job_id", job.ID),
		zap.String("source_key", sourceKey),
	)
	return nil
}

// Dequeue blocks until a job is available or ctx is done. A nil job with a
// nil error means the popped entry was unusable and should be skipped.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, 0, QueueTranscodes).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}
