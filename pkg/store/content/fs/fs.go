// Package fs implements the temporary-file spill tier.
//
// Blocks are appended to a single temporary file and located through an
// in-memory index. Freed extents are reused first-fit. Each record can be
// compressed (lz4 or zstd) and is checksummed with BLAKE3 so a corrupted
// spill file is detected on read instead of returning bad bytes.
//
// The file is private to the process: on POSIX systems it is unlinked
// right after creation, elsewhere it is removed on Close. Nothing in it is
// ever read back after a restart.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/store/content"
)

// Config configures an FSBlockStore.
type Config struct {
	// Directory receives the spill file. Empty means os.TempDir().
	Directory string

	// Compression applied to blocks before they hit the disk.
	Compression Compression

	// VerifyChecksums checks every block read against its BLAKE3 sum.
	VerifyChecksums bool
}

type record struct {
	offset   int64
	capacity int64 // extent size reserved in the file
	length   int32 // stored payload length
	rawLen   int32 // decoded block length
	tag      codecTag
	sum      [32]byte
}

// spillFile is the part of *os.File the store uses.
type spillFile interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Close() error
}

type extent struct {
	offset int64
	size   int64
}

// FSBlockStore implements content.BlockStore on top of one temporary file.
//
// Thread Safety:
// A mutex serializes index and extent bookkeeping together with the file
// I/O touching an extent, so an extent is never recycled under a reader.
// Checksum verification and decompression run outside the lock.
type FSBlockStore struct {
	cfg  Config
	path string
	file spillFile

	mu       sync.Mutex
	index    map[content.BlockID]record
	free     []extent // sorted by offset, coalesced
	end      int64
	rawBytes uint64
	onDisk   uint64
	closed   bool
}

// NewFSBlockStore creates the spill file in cfg.Directory.
func NewFSBlockStore(ctx context.Context, cfg Config) (*FSBlockStore, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Create the spill directory and file
	// ========================================================================

	dir := cfg.Directory
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create spill directory: %w", err)
	}

	file, err := os.CreateTemp(dir, "agentfs-spill-*.blk")
	if err != nil {
		return nil, fmt.Errorf("create spill file: %w", err)
	}

	s := &FSBlockStore{
		cfg:   cfg,
		path:  file.Name(),
		file:  file,
		index: make(map[content.BlockID]record),
	}

	// ========================================================================
	// Step 3: Unlink early where the OS allows it
	// ========================================================================

	if runtime.GOOS != "windows" {
		if err := os.Remove(s.path); err == nil {
			s.path = ""
		}
	}

	logger.Debug("spill: created file in %s (compression=%s, verify=%t)", dir, cfg.Compression, cfg.VerifyChecksums)
	return s, nil
}

// Put encodes p and writes it to a free extent.
func (s *FSBlockStore) Put(ctx context.Context, id content.BlockID, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, tag := encode(s.cfg.Compression, p)
	rec := record{
		length: int32(len(payload)),
		rawLen: int32(len(p)),
		tag:    tag,
		sum:    blake3.Sum256(payload),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return content.ErrClosed
	}

	// The new payload always goes to a fresh extent, so a failed write
	// leaves the previous version of the block readable.
	rec.offset, rec.capacity = s.allocateLocked(int64(len(payload)))
	if _, err := s.file.WriteAt(payload, rec.offset); err != nil {
		s.releaseLocked(rec)
		return fmt.Errorf("spill write block %d: %w: %w", id, content.ErrStorageFull, err)
	}

	if old, replacing := s.index[id]; replacing {
		s.releaseLocked(old)
		s.rawBytes -= uint64(old.rawLen)
		s.onDisk -= uint64(old.length)
	}
	s.index[id] = rec
	s.rawBytes += uint64(rec.rawLen)
	s.onDisk += uint64(rec.length)
	return nil
}

// Get reads, verifies and decodes a block.
func (s *FSBlockStore) Get(ctx context.Context, id content.BlockID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, content.ErrClosed
	}
	rec, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("block %d: %w", id, content.ErrBlockNotFound)
	}

	payload := make([]byte, rec.length)
	_, err := s.file.ReadAt(payload, rec.offset)
	s.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("spill read block %d: %w: %w", id, content.ErrStorageFull, err)
	}

	if s.cfg.VerifyChecksums && blake3.Sum256(payload) != rec.sum {
		return nil, fmt.Errorf("spill block %d: %w", id, content.ErrIntegrityCheckFailed)
	}

	return decode(rec.tag, payload, int(rec.rawLen))
}

// Delete frees a block's extent.
func (s *FSBlockStore) Delete(ctx context.Context, id content.BlockID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index[id]
	if !ok {
		return nil
	}
	delete(s.index, id)
	s.releaseLocked(rec)
	s.rawBytes -= uint64(rec.rawLen)
	s.onDisk -= uint64(rec.length)
	return nil
}

// Stats reports decoded bytes, so the arena's accounting does not depend on
// how well blocks compress.
func (s *FSBlockStore) Stats(ctx context.Context) (*content.BlockStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return &content.BlockStats{
		Blocks: uint64(len(s.index)),
		Bytes:  s.rawBytes,
	}, nil
}

// DiskUsage returns the number of payload bytes on disk and the file size.
func (s *FSBlockStore) DiskUsage() (payload uint64, fileSize int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onDisk, s.end
}

// Close closes and removes the spill file.
func (s *FSBlockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.index = nil
	s.free = nil

	err := s.file.Close()
	if s.path != "" {
		if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	}
	if err != nil {
		return fmt.Errorf("close spill file: %w", err)
	}
	return nil
}

func (s *FSBlockStore) releaseLocked(rec record) {
	s.freeExtentLocked(extent{offset: rec.offset, size: rec.capacity})
}

// allocateLocked returns a first-fit extent of at least size bytes.
func (s *FSBlockStore) allocateLocked(size int64) (int64, int64) {
	if size == 0 {
		return s.end, 0
	}
	for i, e := range s.free {
		if e.size < size {
			continue
		}
		if e.size == size {
			s.free = append(s.free[:i], s.free[i+1:]...)
		} else {
			s.free[i] = extent{offset: e.offset + size, size: e.size - size}
		}
		return e.offset, size
	}
	off := s.end
	s.end += size
	return off, size
}

// freeExtentLocked returns e to the free list, merging neighbours and
// giving back space at the end of the file.
func (s *FSBlockStore) freeExtentLocked(e extent) {
	if e.size == 0 {
		return
	}

	i := sort.Search(len(s.free), func(i int) bool { return s.free[i].offset > e.offset })
	s.free = append(s.free, extent{})
	copy(s.free[i+1:], s.free[i:])
	s.free[i] = e

	// merge with next
	if i+1 < len(s.free) && s.free[i].offset+s.free[i].size == s.free[i+1].offset {
		s.free[i].size += s.free[i+1].size
		s.free = append(s.free[:i+1], s.free[i+2:]...)
	}
	// merge with previous
	if i > 0 && s.free[i-1].offset+s.free[i-1].size == s.free[i].offset {
		s.free[i-1].size += s.free[i].size
		s.free = append(s.free[:i], s.free[i+1:]...)
	}

	if last := s.free[len(s.free)-1]; last.offset+last.size == s.end {
		s.end = last.offset
		s.free = s.free[:len(s.free)-1]
		if err := s.file.Truncate(s.end); err != nil {
			logger.Warn("spill: truncate to %d failed: %v", s.end, err)
		}
	}
}
