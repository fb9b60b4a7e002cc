package testutil

import (
	"fmt"
	"sync"
)

// SequentialRunIDs generates run IDs "<prefix>-0001", "<prefix>-0002", ...
//
// Runs stamped with it produce byte-identical traces, which keeps golden
// files stable. Production runs use UUIDv7 IDs instead.
//
// Thread-safety: safe for concurrent use.
type SequentialRunIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialRunIDs creates a generator. An empty prefix becomes "run".
func NewSequentialRunIDs(prefix string) *SequentialRunIDs {
	if prefix == "" {
		prefix = "run"
	}
	return &SequentialRunIDs{prefix: prefix}
}

// Generate returns the next ID in sequence.
func (g *SequentialRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
