package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun inserts a running run with the given start time.
func createTestRun(t *testing.T, s *Store, id, scenario string, started time.Time) Run {
	t.Helper()
	run := Run{
		ID:        id,
		Scenario:  scenario,
		Strategy:  "sequential",
		State:     "RUNNING",
		StartedAt: started,
		BaseURL:   "http://localhost:5173",
	}
	if err := s.BeginRun(context.Background(), run); err != nil {
		t.Fatalf("BeginRun(%s) failed: %v", id, err)
	}
	return run
}
