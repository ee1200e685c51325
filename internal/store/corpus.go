package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrEmptyChunk        = errors.New("chunk text is empty")
	ErrDuplicateChunk    = errors.New("chunk id already in corpus")
	ErrDimensionMismatch = errors.New("embedding dimension does not match corpus")
)

// Corpus is the process-wide, append-only set of ingested chunks.
//
// Chunks are immutable once added. Readers take a snapshot slice whose length
// is fixed at the time of the call, so appends during ingestion never race
// with a request iterating an earlier snapshot. A request that arrives while
// ingestion is still running simply sees the chunks added so far.
type Corpus struct {
	mu        sync.RWMutex
	chunks    []Chunk
	ids       map[string]struct{}
	embedded  int
	dimension int
}

func NewCorpus() *Corpus {
	return &Corpus{ids: make(map[string]struct{})}
}

// Add appends a chunk. A chunk without an embedding is kept for diagnostics
// but is never returned by EmbeddedChunks.
func (c *Corpus) Add(chunk Chunk) error {
	chunk.Text = strings.TrimSpace(chunk.Text)
	if chunk.Text == "" {
		return ErrEmptyChunk
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.ids[chunk.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateChunk, chunk.ID)
	}
	if chunk.Embedded() {
		if c.dimension == 0 {
			c.dimension = len(chunk.Embedding)
		} else if len(chunk.Embedding) != c.dimension {
			return fmt.Errorf("%w: chunk %s has %d, corpus has %d", ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), c.dimension)
		}
		c.embedded++
	}

	c.ids[chunk.ID] = struct{}{}
	c.chunks = append(c.chunks, chunk)
	return nil
}

// Chunks returns every chunk in insertion order.
func (c *Corpus) Chunks() []Chunk {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chunks[:len(c.chunks):len(c.chunks)]
}

// EmbeddedChunks returns the searchable chunks in insertion order.
func (c *Corpus) EmbeddedChunks() []Chunk {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.embedded == len(c.chunks) {
		return c.chunks[:len(c.chunks):len(c.chunks)]
	}
	out := make([]Chunk, 0, c.embedded)
	for _, chunk := range c.chunks {
		if chunk.Embedded() {
			out = append(out, chunk)
		}
	}
	return out
}

func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chunks)
}

func (c *Corpus) EmbeddedLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.embedded
}

// Dimension is the embedding length shared by every embedded chunk, or 0
// before the first one is added.
func (c *Corpus) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}
