// Package worker consumes transcode jobs from the queue with a bounded pool,
// so a burst of uploads cannot launch an unbounded number of ffmpeg runs.
package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mirrorbooth/backend/internal/transcode"
	"github.com/mirrorbooth/backend/pkg/queue"
)

const (
	defaultWorkers = 2
	dequeueBackoff = 2 * time.Second
)

// JobSource yields jobs; Dequeue blocks until one is available or ctx ends.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
}

// Runner executes one transcode job to a terminal state.
type Runner interface {
	Run(ctx context.Context, sourceKey string) transcode.State
}

// Guard coalesces duplicate jobs for the same source key.
type Guard interface {
	Acquire(ctx context.Context, key string) bool
	Release(ctx context.Context, key string)
}

// Config wires a Pool.
type Config struct {
	Source  JobSource
	Runner  Runner
	Guard   Guard
	Workers int
	Logger  *zap.Logger
}

// Pool runs a fixed number of workers over the job source.
type Pool struct {
	source  JobSource
	runner  Runner
	guard   Guard
	workers int
	logger  *zap.Logger

	// ctx only stops dequeuing; jobCtx outlives it so an in-flight job can
	// drain (deliver and release its lock) during shutdown.
	ctx       context.Context
	cancel    context.CancelFunc
	jobCtx    context.Context
	jobCancel context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewPool creates a worker pool from cfg.
func NewPool(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	jobCtx, jobCancel := context.WithCancel(context.Background())
	return &Pool{
		source:    cfg.Source,
		runner:    cfg.Runner,
		guard:     cfg.Guard,
		workers:   workers,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		jobCtx:    jobCtx,
		jobCancel: jobCancel,
	}
}

// Start launches the workers. Safe to call once; later calls are no-ops.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Info("transcode workers started", zap.Int("workers", p.workers))
}

// Shutdown stops dequeuing and waits for in-flight jobs to drain, up to
// ctx. A running job keeps its own context until the drain budget expires,
// so it can still deliver and release its in-flight lock.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.jobCancel()
		return nil
	case <-ctx.Done():
		p.jobCancel()
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		job, err := p.source.Dequeue(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}
		p.process(job)
	}
}

func (p *Pool) process(job *queue.Job) {
	if job.Type != queue.JobTypeTranscode {
		p.logger.Warn("unknown job type skipped", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		return
	}
	var payload queue.TranscodePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		p.logger.Warn("malformed job payload skipped", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if payload.SourceKey == "" {
		p.logger.Warn("job without source key skipped", zap.String("job_id", job.ID))
		return
	}

	if p.guard != nil {
		if !p.guard.Acquire(p.jobCtx, payload.SourceKey) {
			p.logger.Info("duplicate job coalesced", zap.String("source_key", payload.SourceKey))
			return
		}
		defer p.guard.Release(p.jobCtx, payload.SourceKey)
	}

	p.logger.Debug("job started", zap.String("job_id", job.ID), zap.String("source_key", payload.SourceKey))
	p.runner.Run(p.jobCtx, payload.SourceKey)
}
