package metadata

import "math"

// Access is the set of operations a handle is opened for.
type Access uint8

const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessDelete
)

// ReadWrite is shorthand for read and write access.
const ReadWrite = AccessRead | AccessWrite

func (a Access) Has(b Access) bool { return a&b == b }

// ShareMode is the set of accesses an open handle allows other handles on
// the same node and stream to hold concurrently.
type ShareMode uint8

const (
	ShareRead ShareMode = 1 << iota
	ShareWrite
	ShareDelete
)

const (
	// ShareNone grants exclusive use to the opening handle.
	ShareNone ShareMode = 0

	// ShareAll imposes no restriction on other handles. POSIX callers that
	// have no notion of share modes open with ShareAll.
	ShareAll = ShareRead | ShareWrite | ShareDelete
)

// Allows reports whether the share mode admits access.
func (s ShareMode) Allows(a Access) bool {
	if a.Has(AccessRead) && s&ShareRead == 0 {
		return false
	}
	if a.Has(AccessWrite) && s&ShareWrite == 0 {
		return false
	}
	if a.Has(AccessDelete) && s&ShareDelete == 0 {
		return false
	}
	return true
}

// OpenOptions controls open and create.
type OpenOptions struct {
	// Access requested by the handle
	Access Access

	// Share is what the handle lets others hold concurrently
	Share ShareMode

	// Create makes open create a missing file (or named stream)
	Create bool

	// Exclusive with Create fails if the file already exists
	Exclusive bool

	// Truncate sets the stream length to zero on open; requires write access
	Truncate bool

	// Append makes every write land at the end of the stream
	Append bool

	// Mode holds permission bits for a newly created file
	Mode uint32

	// Stream selects a named data stream. Overrides a "path:stream" suffix.
	Stream string
}

// LockKind is the class of a byte-range lock.
type LockKind uint8

const (
	LockShared LockKind = iota + 1
	LockExclusive
)

func (k LockKind) String() string {
	switch k {
	case LockShared:
		return "shared"
	case LockExclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// LockRange is a byte range and lock class. A Length of zero extends the
// range to the end of any possible file.
type LockRange struct {
	Offset uint64
	Length uint64
	Kind   LockKind
}

// End returns the exclusive end offset of the range, saturating at
// math.MaxUint64.
func (r LockRange) End() uint64 {
	if r.Length == 0 || r.Offset > math.MaxUint64-r.Length {
		return math.MaxUint64
	}
	return r.Offset + r.Length
}

// Overlaps reports whether r and o share at least one byte.
func (r LockRange) Overlaps(o LockRange) bool {
	return r.Offset < o.End() && o.Offset < r.End()
}

// Conflicts reports whether r and o cannot be held by different handles at
// the same time.
func (r LockRange) Conflicts(o LockRange) bool {
	if !r.Overlaps(o) {
		return false
	}
	return r.Kind == LockExclusive || o.Kind == LockExclusive
}
