// Package cleanup prunes stale working directories left behind when a
// pipeline process dies mid-transcode. The pipeline removes its own temp
// dir on every normal path, so anything old enough to sweep is an orphan.
package cleanup

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// workDirPrefix matches the directories os.MkdirTemp creates for the
// pipeline. Entries without it are never touched.
const workDirPrefix = "transcode-"

// Sweeper periodically removes orphaned transcode work directories.
type Sweeper struct {
	dir    string
	maxAge time.Duration
	cron   *cron.Cron
	logger *zap.Logger
}

// NewSweeper builds a sweeper over the given temp directory. Entries older
// than maxAge are removed on each run.
func NewSweeper(dir string, maxAge time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{dir: dir, maxAge: maxAge, logger: logger}
}

// Start schedules recurring sweeps. The schedule accepts the cron spec
// syntax including descriptors like "@every 1h".
func (s *Sweeper) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, s.Sweep); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.logger.Info("cleanup sweeper started",
		zap.String("dir", s.dir),
		zap.String("schedule", schedule),
		zap.Duration("max_age", s.maxAge),
	)
	return nil
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep removes every transcode work directory older than maxAge. Failures
// on individual entries are logged and skipped so one bad entry cannot
// block the rest.
func (s *Sweeper) Sweep() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cleanup scan failed", zap.String("dir", s.dir), zap.Error(err))
		}
		return
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), workDirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		full := filepath.Join(s.dir, entry.Name())
		if err := os.RemoveAll(full); err != nil {
			s.logger.Warn("cleanup remove failed", zap.String("path", full), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("cleanup removed orphaned work dirs", zap.Int("count", removed))
	}
}
