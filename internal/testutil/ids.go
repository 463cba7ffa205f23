package testutil

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SequentialIDs returns predictable UUIDs: 00000000-0000-0000-0000-000000000001,
// then ...0002, and so on.
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario always sends the same booking ids.
//
// Thread-safety: SequentialIDs is safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu  sync.Mutex
	seq uint64
}

// NewSequentialIDs creates a generator whose first id ends in 1.
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{}
}

// NewID returns the next id in sequence.
func (g *SequentialIDs) NewID() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012x", g.seq))
}

// Reset restarts the sequence at 1.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
