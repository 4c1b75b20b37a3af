// Package metadata defines the types shared by every layer of the core:
// node attributes, identifiers, names and paths, open and lock options,
// events and the error taxonomy.
package metadata

import "time"

// NodeID identifies a node. IDs are unique within an engine instance,
// stable across renames, and preserved when a tree is cloned into a
// snapshot or branch, so the same ID names "the same file" in every view
// derived from a common ancestor.
type NodeID uint64

// RootID is the node ID of every tree's root directory.
const RootID NodeID = 1

// FileType is the kind of a node.
type FileType uint8

const (
	FileTypeRegular FileType = iota + 1
	FileTypeDirectory
	FileTypeSymlink
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "file"
	case FileTypeDirectory:
		return "directory"
	case FileTypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Mode type bits, reported in FileAttr.Mode together with permission bits
// so adapters can hand the value straight to stat-like structures.
const (
	ModeTypeDirectory uint32 = 0o040000
	ModeTypeRegular   uint32 = 0o100000
	ModeTypeSymlink   uint32 = 0o120000
	ModePermMask      uint32 = 0o7777
)

// TypeBits returns the S_IFMT bits for t.
func (t FileType) TypeBits() uint32 {
	switch t {
	case FileTypeDirectory:
		return ModeTypeDirectory
	case FileTypeSymlink:
		return ModeTypeSymlink
	default:
		return ModeTypeRegular
	}
}

// FileAttr is the attribute snapshot of a node returned by getattr,
// readdir-plus and create.
type FileAttr struct {
	ID   NodeID
	Type FileType

	// Mode holds the permission bits only (no type bits). Use
	// Type.TypeBits()|Mode for a stat-style value.
	Mode uint32
	UID  uint32
	GID  uint32

	// Size is the length of the default data stream (files), the target
	// length (symlinks) or the entry count (directories).
	Size uint64

	// Nlink is 1 for files and symlinks and 2 + subdirectories for directories.
	Nlink uint32

	Crtime time.Time
	Mtime  time.Time
	Atime  time.Time
	Ctime  time.Time
}

// SetAttrs carries the attributes to change in a setattr call. Nil fields
// are left untouched.
type SetAttrs struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime *time.Time
	Mtime *time.Time
}

// DirEntry is one directory listing entry. Attr is populated only by
// readdir-plus.
type DirEntry struct {
	Name string
	ID   NodeID
	Type FileType
	Attr *FileAttr
}

// StreamInfo describes one data stream of a file. The default stream has
// an empty Name.
type StreamInfo struct {
	Name string
	Size uint64
}

// SnapshotID identifies a snapshot (a UUID string).
type SnapshotID string

// BranchID identifies a branch (a UUID string).
type BranchID string

// DefaultBranchID is the branch every unbound process resolves against.
const DefaultBranchID BranchID = "00000000-0000-0000-0000-000000000000"

// DefaultBranchName is the name of the default branch.
const DefaultBranchName = "default"

// HandleID identifies an open handle.
type HandleID uint64

// SubscriptionID identifies an event subscription.
type SubscriptionID uint64
