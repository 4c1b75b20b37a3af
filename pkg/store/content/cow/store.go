// Package cow implements content.Store as a reference-counted arena of
// copy-on-write block lists.
//
// Every content object is a list of block references. Cloning copies the
// list and bumps each block's reference count, so a clone costs no data
// bytes. Writing to a block that is referenced by more than one object
// copies that block first; writing to an exclusively owned block updates it
// in place.
//
// Blocks live in a hot tier (normally memory.MemoryBlockStore) as long as
// the configured memory budget allows. Once the budget is used, new and
// rewritten blocks go to the optional cold tier (a spill tier). Without a
// cold tier an over-budget write fails with content.ErrStorageFull.
package cow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/store/content"
)

// DefaultBlockSize is used when Config.BlockSize is zero.
const DefaultBlockSize = 64 * 1024

// Config configures a Store.
type Config struct {
	// BlockSize is the copy-on-write granularity in bytes.
	BlockSize int

	// MaxBytesInMemory is the hot tier budget. Zero means unlimited.
	MaxBytesInMemory uint64
}

type tier uint8

const (
	tierHot tier = iota
	tierCold
)

func (t tier) String() string {
	if t == tierHot {
		return "memory"
	}
	return "spill"
}

// block is one physical block shared by any number of objects.
type block struct {
	id   content.BlockID
	tier tier
	size int // stored length, at most the block size
	refs atomic.Int32
}

// object is one content object.
type object struct {
	mu     sync.RWMutex
	refs   int64
	sealed bool
	size   uint64
	blocks []*block // nil entries are holes
}

// Store implements content.Store.
//
// Thread Safety:
// The object map has its own RWMutex held only for lookups, inserts and
// deletes. Each object has an RWMutex: reads share it, writes and clones of
// the same object serialize on it. Block reference counts are atomic, so
// objects sharing a block never take each other's locks.
type Store struct {
	blockSize int
	maxHot    uint64

	hot  content.BlockStore
	cold content.BlockStore

	mu      sync.RWMutex
	objects map[content.ContentID]*object

	nextContent atomic.Uint64
	nextBlock   atomic.Uint64
	hotBytes    atomic.Uint64
	closed      atomic.Bool
}

var _ content.Store = (*Store)(nil)

// New creates a Store over the given tiers. cold may be nil.
func New(ctx context.Context, cfg Config, hot, cold content.BlockStore) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if hot == nil {
		return nil, fmt.Errorf("cow: hot tier is required")
	}
	if cfg.BlockSize < 0 {
		return nil, fmt.Errorf("cow: invalid block size %d", cfg.BlockSize)
	}

	bs := cfg.BlockSize
	if bs == 0 {
		bs = DefaultBlockSize
	}

	return &Store{
		blockSize: bs,
		maxHot:    cfg.MaxBytesInMemory,
		hot:       hot,
		cold:      cold,
		objects:   make(map[content.ContentID]*object),
	}, nil
}

// BlockSize returns the copy-on-write granularity.
func (s *Store) BlockSize() int {
	return s.blockSize
}

func (s *Store) lookup(id content.ContentID) (*object, error) {
	if s.closed.Load() {
		return nil, content.ErrClosed
	}

	s.mu.RLock()
	obj, ok := s.objects[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("content %d: %w", id, content.ErrContentNotFound)
	}
	return obj, nil
}

func (s *Store) insert(obj *object) content.ContentID {
	id := content.ContentID(s.nextContent.Add(1))
	s.mu.Lock()
	s.objects[id] = obj
	s.mu.Unlock()
	return id
}

// Allocate creates content initialized with a copy of initial.
func (s *Store) Allocate(ctx context.Context, initial []byte) (content.ContentID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.closed.Load() {
		return 0, content.ErrClosed
	}

	obj := &object{refs: 1}
	if len(initial) > 0 {
		if _, err := s.writeLocked(ctx, obj, initial, 0); err != nil {
			s.releaseBlocks(ctx, obj.blocks)
			return 0, err
		}
	}

	return s.insert(obj), nil
}

// Clone creates unsealed content sharing every block with id.
func (s *Store) Clone(ctx context.Context, id content.ContentID) (content.ContentID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	src, err := s.lookup(id)
	if err != nil {
		return 0, err
	}

	src.mu.RLock()
	if src.refs <= 0 {
		src.mu.RUnlock()
		return 0, fmt.Errorf("content %d: %w", id, content.ErrContentNotFound)
	}
	clone := &object{
		refs:   1,
		size:   src.size,
		blocks: make([]*block, len(src.blocks)),
	}
	copy(clone.blocks, src.blocks)
	for _, b := range clone.blocks {
		if b != nil {
			b.refs.Add(1)
		}
	}
	src.mu.RUnlock()

	return s.insert(clone), nil
}

// Seal marks content immutable.
func (s *Store) Seal(ctx context.Context, id content.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	obj, err := s.lookup(id)
	if err != nil {
		return err
	}

	obj.mu.Lock()
	obj.sealed = true
	obj.mu.Unlock()
	return nil
}

// IsSealed reports whether content is sealed.
func (s *Store) IsSealed(ctx context.Context, id content.ContentID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	obj, err := s.lookup(id)
	if err != nil {
		return false, err
	}

	obj.mu.RLock()
	defer obj.mu.RUnlock()
	return obj.sealed, nil
}

// Retain adds a reference to content.
func (s *Store) Retain(ctx context.Context, id content.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	obj, err := s.lookup(id)
	if err != nil {
		return err
	}

	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.refs <= 0 {
		return fmt.Errorf("content %d: %w", id, content.ErrContentNotFound)
	}
	obj.refs++
	return nil
}

// Release drops a reference, reclaiming content and its unshared blocks
// when the count reaches zero.
func (s *Store) Release(ctx context.Context, id content.ContentID) error {
	obj, err := s.lookup(id)
	if err != nil {
		return err
	}

	obj.mu.Lock()
	if obj.refs <= 0 {
		obj.mu.Unlock()
		return fmt.Errorf("content %d: %w", id, content.ErrContentNotFound)
	}
	obj.refs--
	if obj.refs > 0 {
		obj.mu.Unlock()
		return nil
	}
	blocks := obj.blocks
	obj.blocks = nil
	obj.size = 0
	obj.mu.Unlock()

	s.mu.Lock()
	delete(s.objects, id)
	s.mu.Unlock()

	// Reclamation must finish even if the caller's context is already done.
	s.releaseBlocks(context.WithoutCancel(ctx), blocks)
	return nil
}

// RefCount returns the reference count of content.
func (s *Store) RefCount(ctx context.Context, id content.ContentID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	obj, err := s.lookup(id)
	if err != nil {
		return 0, err
	}

	obj.mu.RLock()
	defer obj.mu.RUnlock()
	return obj.refs, nil
}

// Size returns the content length.
func (s *Store) Size(ctx context.Context, id content.ContentID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	obj, err := s.lookup(id)
	if err != nil {
		return 0, err
	}

	obj.mu.RLock()
	defer obj.mu.RUnlock()
	return obj.size, nil
}

// GetStorageStats reports usage across both tiers.
func (s *Store) GetStorageStats(ctx context.Context) (*content.StorageStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, content.ErrClosed
	}

	hot, err := s.hot.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory tier stats: %w", err)
	}
	cold := &content.BlockStats{}
	if s.cold != nil {
		if cold, err = s.cold.Stats(ctx); err != nil {
			return nil, fmt.Errorf("spill tier stats: %w", err)
		}
	}

	s.mu.RLock()
	objs := make([]*object, 0, len(s.objects))
	for _, obj := range s.objects {
		objs = append(objs, obj)
	}
	s.mu.RUnlock()

	var logical uint64
	for _, obj := range objs {
		obj.mu.RLock()
		logical += obj.size
		obj.mu.RUnlock()
	}

	stats := &content.StorageStats{
		TotalSize:     s.maxHot,
		UsedSize:      hot.Bytes + cold.Bytes,
		BytesInMemory: hot.Bytes,
		BytesSpilled:  cold.Bytes,
		ContentCount:  uint64(len(objs)),
		BlockCount:    hot.Blocks + cold.Blocks,
		LogicalSize:   logical,
	}
	if s.maxHot > 0 && s.maxHot > hot.Bytes {
		stats.AvailableSize = s.maxHot - hot.Bytes
	}
	if stats.ContentCount > 0 {
		stats.AverageSize = logical / stats.ContentCount
	}
	return stats, nil
}

// Close closes both tiers. Content IDs are invalid afterwards.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	s.objects = make(map[content.ContentID]*object)
	s.mu.Unlock()

	var firstErr error
	if err := s.hot.Close(); err != nil {
		firstErr = fmt.Errorf("close memory tier: %w", err)
	}
	if s.cold != nil {
		if err := s.cold.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close spill tier: %w", err)
		}
	}
	return firstErr
}

// releaseBlocks drops one reference on every block, deleting blocks that
// are no longer shared.
func (s *Store) releaseBlocks(ctx context.Context, blocks []*block) {
	for _, b := range blocks {
		if b == nil {
			continue
		}
		if b.refs.Add(-1) == 0 {
			s.deleteBlock(ctx, b)
		}
	}
}

func (s *Store) deleteBlock(ctx context.Context, b *block) {
	if err := s.tierStore(b.tier).Delete(ctx, b.id); err != nil {
		logger.Warn("cow: delete %s block %d failed: %v", b.tier, b.id, err)
	}
	if b.tier == tierHot {
		s.unreserve(uint64(b.size))
	}
}

func (s *Store) tierStore(t tier) content.BlockStore {
	if t == tierCold {
		return s.cold
	}
	return s.hot
}

// reserve claims n bytes of the hot budget.
func (s *Store) reserve(n uint64) bool {
	if s.maxHot == 0 {
		s.hotBytes.Add(n)
		return true
	}
	for {
		cur := s.hotBytes.Load()
		if cur+n > s.maxHot {
			return false
		}
		if s.hotBytes.CompareAndSwap(cur, cur+n) {
			return true
		}
	}
}

func (s *Store) unreserve(n uint64) {
	s.hotBytes.Add(^(n - 1))
}
