package stream

import (
	"strings"
	"sync"
)

// Buffer is the append-only log text of one job stream. Chunks are kept in
// arrival order with no framing, trimming or de-duplication.
type Buffer struct {
	mu     sync.RWMutex
	b      strings.Builder
	chunks int
}

// Append adds one chunk
func (b *Buffer) Append(chunk string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.b.WriteString(chunk)
	b.chunks++
}

// String returns everything received so far
func (b *Buffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.b.String()
}

// Len returns the buffered size in bytes
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.b.Len()
}

// Chunks returns how many messages were appended
func (b *Buffer) Chunks() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.chunks
}
