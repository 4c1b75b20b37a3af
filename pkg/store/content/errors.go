package content

import "errors"

// ============================================================================
// Standard Content Store Errors
// ============================================================================

// These errors provide a consistent way to indicate common failure conditions
// across every Store and BlockStore implementation. The engine checks for
// them with errors.Is and maps them onto its error taxonomy.
//
// Implementations wrap them with additional context:
//
//	if !ok {
//	    return fmt.Errorf("content %d: %w", id, content.ErrContentNotFound)
//	}

var (
	// ErrContentNotFound indicates the content ID is unknown or was
	// released to zero.
	//
	// The engine never addresses content it does not hold a reference on,
	// so seeing this error there is an invariant violation.
	ErrContentNotFound = errors.New("content not found")

	// ErrBlockNotFound indicates a block tier has no block with the ID.
	ErrBlockNotFound = errors.New("block not found")

	// ErrSealed indicates a write or truncate addressed sealed content.
	//
	// Sealed content is shared with at least one snapshot. Callers clone it
	// and write to the clone instead.
	ErrSealed = errors.New("content is sealed")

	// ErrStorageFull indicates the memory budget is exhausted and no spill
	// tier could take the data, or the spill tier failed to write.
	//
	// Mapping:
	//   - Core taxonomy: resource-exhausted
	//   - POSIX: ENOSPC
	ErrStorageFull = errors.New("storage full")

	// ErrInvalidOffset indicates an offset or size that cannot be
	// represented (for example offset+len overflowing uint64).
	ErrInvalidOffset = errors.New("invalid offset")

	// ErrIntegrityCheckFailed indicates a spilled block failed checksum
	// verification when read back.
	ErrIntegrityCheckFailed = errors.New("integrity check failed")

	// ErrClosed indicates the store was used after Close.
	ErrClosed = errors.New("content store closed")
)
