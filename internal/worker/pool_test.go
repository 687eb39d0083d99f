package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mirrorbooth/backend/internal/transcode"
	"github.com/mirrorbooth/backend/pkg/queue"
)

// chanSource feeds jobs from a channel, blocking like the Redis queue does.
type chanSource struct {
	jobs chan *queue.Job
}

func (s *chanSource) Dequeue(ctx context.Context) (*queue.Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job := <-s.jobs:
		return job, nil
	}
}

func (s *chanSource) push(t *testing.T, sourceKey string) {
	t.Helper()
	payload, err := json.Marshal(queue.TranscodePayload{SourceKey: sourceKey})
	if err != nil {
		t.Fatal(err)
	}
	s.jobs <- &queue.Job{ID: "job-" + sourceKey, Type: queue.JobTypeTranscode, Payload: payload}
}

type recordingRunner struct {
	mu   sync.Mutex
	keys []string
	done chan string
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{done: make(chan string, 16)}
}

func (r *recordingRunner) Run(_ context.Context, sourceKey string) transcode.State {
	r.mu.Lock()
	r.keys = append(r.keys, sourceKey)
	r.mu.Unlock()
	r.done <- sourceKey
	return transcode.StateDelivered
}

func (r *recordingRunner) waitFor(t *testing.T, key string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-r.done:
			if got == key {
				return
			}
		case <-deadline:
			t.Fatalf("job for %q never ran", key)
		}
	}
}

// denyRepeatGuard admits each key once until released.
type denyRepeatGuard struct {
	mu     sync.Mutex
	held   map[string]bool
	denied int
}

func (g *denyRepeatGuard) Acquire(_ context.Context, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held == nil {
		g.held = make(map[string]bool)
	}
	if g.held[key] {
		g.denied++
		return false
	}
	g.held[key] = true
	return true
}

func (g *denyRepeatGuard) Release(_ context.Context, key string) {
	g.mu.Lock()
	delete(g.held, key)
	g.mu.Unlock()
}

func shutdown(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestPoolRunsJobs(t *testing.T) {
	source := &chanSource{jobs: make(chan *queue.Job, 8)}
	runner := newRecordingRunner()
	pool := NewPool(Config{Source: source, Runner: runner, Workers: 2, Logger: zap.NewNop()})
	pool.Start()
	t.Cleanup(func() { shutdown(t, pool) })

	source.push(t, "e1/a.webm")
	source.push(t, "e1/b.webm")

	runner.waitFor(t, "e1/a.webm")
	runner.waitFor(t, "e1/b.webm")
}

func TestPoolSkipsMalformedJobs(t *testing.T) {
	source := &chanSource{jobs: make(chan *queue.Job, 8)}
	runner := newRecordingRunner()
	pool := NewPool(Config{Source: source, Runner: runner, Workers: 1, Logger: zap.NewNop()})
	pool.Start()
	t.Cleanup(func() { shutdown(t, pool) })

	source.jobs <- &queue.Job{ID: "bad-type", Type: "email", Payload: json.RawMessage(`{}`)}
	source.jobs <- &queue.Job{ID: "bad-payload", Type: queue.JobTypeTranscode, Payload: json.RawMessage(`]`)}
	source.jobs <- &queue.Job{ID: "no-key", Type: queue.JobTypeTranscode, Payload: json.RawMessage(`{}`)}
	source.push(t, "e1/ok.webm")

	runner.waitFor(t, "e1/ok.webm")
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.keys) != 1 {
		t.Fatalf("ran %v, want only the well-formed job", runner.keys)
	}
}

func TestPoolCoalescesDuplicateKeys(t *testing.T) {
	source := &chanSource{jobs: make(chan *queue.Job, 8)}
	guard := &denyRepeatGuard{}
	// Runner that holds the key until told, so the duplicate arrives while
	// the first job is still in flight.
	release := make(chan struct{})
	started := make(chan string, 4)
	runner := &blockingRunner{started: started, release: release}
	pool := NewPool(Config{Source: source, Runner: runner, Guard: guard, Workers: 2, Logger: zap.NewNop()})
	pool.Start()
	t.Cleanup(func() { close(release); shutdown(t, pool) })

	source.push(t, "e1/a.webm")
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first job never started")
	}
	source.push(t, "e1/a.webm")

	// The duplicate is dropped by the guard rather than queued behind it.
	deadline := time.After(time.Second)
	for {
		guard.mu.Lock()
		denied := guard.denied
		guard.mu.Unlock()
		if denied == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("duplicate was never coalesced")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type blockingRunner struct {
	started chan string
	release chan struct{}
}

func (r *blockingRunner) Run(_ context.Context, sourceKey string) transcode.State {
	r.started <- sourceKey
	<-r.release
	return transcode.StateDelivered
}

// drainingRunner holds its job open until released, then reports whether
// the job's context was canceled while it was still running.
type drainingRunner struct {
	started   chan struct{}
	release   chan struct{}
	sawCancel bool
}

func (r *drainingRunner) Run(ctx context.Context, _ string) transcode.State {
	close(r.started)
	<-r.release
	r.sawCancel = ctx.Err() != nil
	return transcode.StateDelivered
}

// releaseRecordingGuard records the context state seen at release time.
type releaseRecordingGuard struct {
	mu         sync.Mutex
	releaseErr error
	released   bool
}

func (g *releaseRecordingGuard) Acquire(context.Context, string) bool { return true }

func (g *releaseRecordingGuard) Release(ctx context.Context, _ string) {
	g.mu.Lock()
	g.released = true
	g.releaseErr = ctx.Err()
	g.mu.Unlock()
}

func TestPoolShutdownDrainsBusyWorker(t *testing.T) {
	source := &chanSource{jobs: make(chan *queue.Job, 1)}
	runner := &drainingRunner{started: make(chan struct{}), release: make(chan struct{})}
	guard := &releaseRecordingGuard{}
	pool := NewPool(Config{Source: source, Runner: runner, Guard: guard, Workers: 1, Logger: zap.NewNop()})
	pool.Start()

	source.push(t, "e1/a.webm")
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownErr <- pool.Shutdown(ctx)
	}()

	// Let Shutdown stop the dequeue loop first, then finish the job.
	time.Sleep(50 * time.Millisecond)
	close(runner.release)

	select {
	case err := <-shutdownErr:
		if err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never returned")
	}
	if runner.sawCancel {
		t.Fatal("in-flight job lost its context before the drain budget expired")
	}
	guard.mu.Lock()
	defer guard.mu.Unlock()
	if !guard.released {
		t.Fatal("in-flight lock never released")
	}
	if guard.releaseErr != nil {
		t.Fatalf("lock released on a dead context: %v", guard.releaseErr)
	}
}

func TestPoolShutdownStopsWorkers(t *testing.T) {
	source := &chanSource{jobs: make(chan *queue.Job)}
	runner := newRecordingRunner()
	pool := NewPool(Config{Source: source, Runner: runner, Workers: 3, Logger: zap.NewNop()})
	pool.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown with idle workers: %v", err)
	}
}
