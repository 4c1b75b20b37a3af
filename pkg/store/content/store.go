// Package content defines the copy-on-write content store used by the core.
//
// Two layers cooperate:
//
//   - Store is the capability set the engine programs against: allocate,
//     read, write, clone, seal, retain and release content identified by
//     opaque integer IDs.
//   - BlockStore is a tier of fixed-size blocks. The copy-on-write arena
//     (package cow) keeps hot blocks in the memory tier and moves new blocks
//     to a spill tier (package fs or badger) once the memory budget is used.
package content

import (
	"context"
)

// ContentID identifies a content object in a Store.
//
// IDs are opaque to callers and never reused within a Store's lifetime.
type ContentID uint64

// BlockID identifies a block in a BlockStore.
type BlockID uint64

// Store is a reference-counted copy-on-write content store.
//
// Reference counting:
//   - Allocate and Clone return content with one reference
//   - Retain adds a reference, Release drops one
//   - Content at zero references is reclaimed and its ID becomes invalid
//
// Sealing:
//   - Seal makes content immutable. WriteAt and Truncate then fail with
//     ErrSealed; callers Clone and write to the clone.
//   - Clone is O(blocks): the clone shares every block with its source and
//     physical copies happen block by block on the first write to either side.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Operations on different
// content IDs must not serialize on each other beyond brief bookkeeping.
type Store interface {
	// Allocate creates new content holding a copy of initial.
	Allocate(ctx context.Context, initial []byte) (ContentID, error)

	// ReadAt reads up to len(p) bytes at offset. It returns the number of
	// bytes read, which is short (possibly zero) at end of content. Holes
	// read as zeros.
	ReadAt(ctx context.Context, id ContentID, p []byte, offset uint64) (int, error)

	// WriteAt writes p at offset, extending the content (with a hole if
	// offset is past the end). Returns ErrSealed for sealed content.
	WriteAt(ctx context.Context, id ContentID, p []byte, offset uint64) (int, error)

	// Truncate sets the content length, dropping or adding (hole) bytes.
	Truncate(ctx context.Context, id ContentID, size uint64) error

	// Size returns the content length.
	Size(ctx context.Context, id ContentID) (uint64, error)

	// Clone returns new, unsealed content sharing all blocks with id.
	Clone(ctx context.Context, id ContentID) (ContentID, error)

	// Seal marks content immutable. Sealing twice is a no-op.
	Seal(ctx context.Context, id ContentID) error

	// IsSealed reports whether content is sealed.
	IsSealed(ctx context.Context, id ContentID) (bool, error)

	// Retain adds a reference.
	Retain(ctx context.Context, id ContentID) error

	// Release drops a reference, reclaiming the content at zero.
	Release(ctx context.Context, id ContentID) error

	// RefCount returns the current reference count.
	RefCount(ctx context.Context, id ContentID) (int64, error)

	// GetStorageStats returns usage statistics.
	GetStorageStats(ctx context.Context) (*StorageStats, error)

	// Close releases every resource held by the store, including spill
	// files. The store is unusable afterwards.
	Close() error
}

// BlockStore is one storage tier for blocks.
//
// Blocks are opaque byte slices of at most the arena's block size. The tier
// owns copies: Put must not retain p and Get returns a fresh slice.
type BlockStore interface {
	// Put stores or replaces a block.
	Put(ctx context.Context, id BlockID, p []byte) error

	// Get returns a block's bytes or ErrBlockNotFound.
	Get(ctx context.Context, id BlockID) ([]byte, error)

	// Delete removes a block. Deleting a missing block is not an error.
	Delete(ctx context.Context, id BlockID) error

	// Stats returns the tier's usage.
	Stats(ctx context.Context) (*BlockStats, error)

	// Close releases the tier's resources and deletes any on-disk data.
	Close() error
}

// StorageStats describes a Store.
type StorageStats struct {
	// TotalSize is the in-memory byte budget (0 means unlimited)
	TotalSize uint64

	// UsedSize is the number of bytes held by distinct blocks in all tiers
	UsedSize uint64

	// AvailableSize is the remaining in-memory budget
	AvailableSize uint64

	// BytesInMemory is the number of bytes held in the memory tier
	BytesInMemory uint64

	// BytesSpilled is the number of bytes held in the spill tier
	BytesSpilled uint64

	// ContentCount is the number of live content objects
	ContentCount uint64

	// BlockCount is the number of distinct blocks across tiers
	BlockCount uint64

	// LogicalSize is the sum of the lengths of all live content objects.
	// It exceeds UsedSize when content shares blocks.
	LogicalSize uint64

	// AverageSize is LogicalSize / ContentCount
	AverageSize uint64
}

// BlockStats describes a BlockStore.
type BlockStats struct {
	Blocks uint64
	Bytes  uint64
}
