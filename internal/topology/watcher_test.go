package topology

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	if err := os.WriteFile(path, []byte("services:\n  - name: checkout\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var reloads atomic.Int32
	w, err := NewWatcher(nil, map[string]ReloadFunc{
		path: func(string) error {
			reloads.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watch loop a moment to start before touching the file.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("services:\n  - name: payments\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for reloads.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("reload never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWatcherIgnoresUnwatchedSiblings(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "topology.yaml")
	sibling := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(watched, []byte("services: []\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var reloads atomic.Int32
	w, err := NewWatcher(nil, map[string]ReloadFunc{
		watched: func(string) error {
			reloads.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(sibling, []byte("scratch"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	if n := reloads.Load(); n != 0 {
		t.Fatalf("sibling write triggered %d reloads", n)
	}
}
