package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mkWorkDir(t *testing.T, root, name string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "input.webm"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(dir, old, old); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestSweepRemovesOnlyStaleWorkDirs(t *testing.T) {
	root := t.TempDir()
	stale := mkWorkDir(t, root, "transcode-aaa", 3*time.Hour)
	fresh := mkWorkDir(t, root, "transcode-bbb", time.Minute)
	foreign := mkWorkDir(t, root, "uploads-ccc", 3*time.Hour)
	if err := os.WriteFile(filepath.Join(root, "transcode-file"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	NewSweeper(root, 2*time.Hour, nil).Sweep()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale work dir survived the sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh work dir was removed")
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Error("unrelated dir was removed")
	}
	if _, err := os.Stat(filepath.Join(root, "transcode-file")); err != nil {
		t.Error("plain file was removed")
	}
}

func TestSweepMissingDirIsQuiet(t *testing.T) {
	s := NewSweeper(filepath.Join(t.TempDir(), "nope"), time.Hour, nil)
	s.Sweep()
}

func TestSweeperStartStop(t *testing.T) {
	s := NewSweeper(t.TempDir(), time.Hour, nil)
	if err := s.Start("@every 1h"); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
}

func TestSweeperStartBadSchedule(t *testing.T) {
	s := NewSweeper(t.TempDir(), time.Hour, nil)
	if err := s.Start("not a schedule"); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
