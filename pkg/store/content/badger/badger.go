// Package badger implements a spill tier on top of BadgerDB.
//
// The database lives in a fresh temporary directory under the configured
// spill directory and is deleted on Close. BadgerDB brings its own block
// compression and a value log that handles large blocks well, which makes
// it the better spill tier for workloads that overflow by gigabytes.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/store/content"
)

// Config configures a BadgerBlockStore.
type Config struct {
	// Directory receives the database directory. Empty means os.TempDir().
	Directory string

	// Compression is "none", "snappy" or "zstd".
	Compression string

	// ValueLogFileSize bounds each value log file, in bytes.
	ValueLogFileSize int64

	// MemTableSize is the size of each in-memory table, in bytes.
	MemTableSize int64

	// BlockCacheSizeMB is the size of BadgerDB's block cache.
	BlockCacheSizeMB int64
}

const (
	defaultValueLogFileSize = 64 << 20
	defaultMemTableSize     = 8 << 20
	defaultBlockCacheSizeMB = 16
)

// blockPrefix namespaces block keys: b:<8-byte big-endian BlockID>.
var blockPrefix = []byte("b:")

// BadgerBlockStore implements content.BlockStore with BadgerDB.
//
// Thread Safety:
// BadgerDB transactions are safe for concurrent use. The size index used
// for Stats is guarded by its own mutex.
type BadgerBlockStore struct {
	db  *badgerdb.DB
	dir string

	mu     sync.Mutex
	sizes  map[content.BlockID]int
	bytes  uint64
	closed bool
}

// NewBadgerBlockStore opens a fresh database under cfg.Directory.
func NewBadgerBlockStore(ctx context.Context, cfg Config) (*BadgerBlockStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	compression, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	parent := cfg.Directory
	if parent == "" {
		parent = os.TempDir()
	}
	if err := os.MkdirAll(parent, 0700); err != nil {
		return nil, fmt.Errorf("create spill directory: %w", err)
	}
	dir, err := os.MkdirTemp(parent, "agentfs-spill-badger-*")
	if err != nil {
		return nil, fmt.Errorf("create spill database directory: %w", err)
	}

	vlog := cfg.ValueLogFileSize
	if vlog == 0 {
		vlog = defaultValueLogFileSize
	}
	memTable := cfg.MemTableSize
	if memTable == 0 {
		memTable = defaultMemTableSize
	}
	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = defaultBlockCacheSizeMB
	}

	opts := badgerdb.DefaultOptions(dir).
		WithLoggingLevel(badgerdb.WARNING).
		WithCompression(compression).
		WithSyncWrites(false).
		WithNumVersionsToKeep(1).
		WithValueLogFileSize(vlog).
		WithMemTableSize(memTable).
		WithBlockCacheSize(blockCacheMB << 20)

	db, err := badgerdb.Open(opts)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", dir, err)
	}

	logger.Debug("spill: opened badger tier at %s (compression=%s)", dir, cfg.Compression)

	return &BadgerBlockStore{
		db:    db,
		dir:   dir,
		sizes: make(map[content.BlockID]int),
	}, nil
}

func parseCompression(name string) (options.CompressionType, error) {
	switch name {
	case "", "none":
		return options.None, nil
	case "snappy":
		return options.Snappy, nil
	case "zstd":
		return options.ZSTD, nil
	default:
		return options.None, fmt.Errorf("unknown badger compression %q", name)
	}
}

func blockKey(id content.BlockID) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], uint64(id))
	return key
}

// Put stores p under id.
func (s *BadgerBlockStore) Put(ctx context.Context, id content.BlockID, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return content.ErrClosed
	}

	value := make([]byte, len(p))
	copy(value, p)

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(blockKey(id), value)
	})
	if err != nil {
		return fmt.Errorf("spill write block %d: %w: %w", id, content.ErrStorageFull, err)
	}

	s.mu.Lock()
	if old, ok := s.sizes[id]; ok {
		s.bytes -= uint64(old)
	}
	s.sizes[id] = len(p)
	s.bytes += uint64(len(p))
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the block.
func (s *BadgerBlockStore) Get(ctx context.Context, id content.BlockID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, content.ErrClosed
	}

	var out []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(blockKey(id))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, fmt.Errorf("block %d: %w", id, content.ErrBlockNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("spill read block %d: %w: %w", id, content.ErrStorageFull, err)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// Delete removes the block.
func (s *BadgerBlockStore) Delete(ctx context.Context, id content.BlockID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return nil
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(blockKey(id))
	})
	if err != nil {
		return fmt.Errorf("spill delete block %d: %w", id, err)
	}

	s.mu.Lock()
	if old, ok := s.sizes[id]; ok {
		s.bytes -= uint64(old)
		delete(s.sizes, id)
	}
	s.mu.Unlock()
	return nil
}

// Stats returns block and byte counts.
func (s *BadgerBlockStore) Stats(ctx context.Context) (*content.BlockStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return &content.BlockStats{
		Blocks: uint64(len(s.sizes)),
		Bytes:  s.bytes,
	}, nil
}

// Close closes the database and deletes its directory.
func (s *BadgerBlockStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.sizes = nil
	s.bytes = 0
	s.mu.Unlock()

	err := s.db.Close()
	if rmErr := os.RemoveAll(s.dir); rmErr != nil && err == nil {
		err = rmErr
	}
	if err != nil {
		return fmt.Errorf("close badger spill tier: %w", err)
	}
	return nil
}

func (s *BadgerBlockStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
