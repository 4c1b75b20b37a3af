// Package memory implements the in-memory block tier.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/agentfs/pkg/store/content"
)

// MemoryBlockStore implements content.BlockStore using a map.
//
// It is the hot tier of the copy-on-write arena: every block lives here until
// the arena's memory budget is used up.
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Copying data on Put and Get
// prevents data races with caller-owned buffers.
type MemoryBlockStore struct {
	// blocks stores block bytes keyed by BlockID
	blocks map[content.BlockID][]byte

	// bytes is the total length of all stored blocks
	bytes uint64

	closed bool

	// mu protects blocks, bytes and closed
	mu sync.RWMutex
}

// NewMemoryBlockStore creates an empty in-memory block tier.
func NewMemoryBlockStore(ctx context.Context) (*MemoryBlockStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &MemoryBlockStore{
		blocks: make(map[content.BlockID][]byte),
	}, nil
}

// Put stores a copy of p under id, replacing any previous block.
func (s *MemoryBlockStore) Put(ctx context.Context, id content.BlockID, p []byte) error {
	// ========================================================================
	// Step 1: Check context before acquiring lock
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return err
	}

	// ========================================================================
	// Step 2: Copy outside the lock and swap in
	// ========================================================================

	data := make([]byte, len(p))
	copy(data, p)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return content.ErrClosed
	}

	if old, ok := s.blocks[id]; ok {
		s.bytes -= uint64(len(old))
	}
	s.blocks[id] = data
	s.bytes += uint64(len(data))

	return nil
}

// Get returns a copy of the block stored under id.
func (s *MemoryBlockStore) Get(ctx context.Context, id content.BlockID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, content.ErrClosed
	}

	data, ok := s.blocks[id]
	if !ok {
		return nil, fmt.Errorf("block %d: %w", id, content.ErrBlockNotFound)
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Delete removes the block. Missing blocks are ignored.
func (s *MemoryBlockStore) Delete(ctx context.Context, id content.BlockID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if data, ok := s.blocks[id]; ok {
		s.bytes -= uint64(len(data))
		delete(s.blocks, id)
	}
	return nil
}

// Stats returns the number of blocks and bytes held.
func (s *MemoryBlockStore) Stats(ctx context.Context) (*content.BlockStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return &content.BlockStats{
		Blocks: uint64(len(s.blocks)),
		Bytes:  s.bytes,
	}, nil
}

// Close drops every block.
func (s *MemoryBlockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks = make(map[content.BlockID][]byte)
	s.bytes = 0
	s.closed = true
	return nil
}
