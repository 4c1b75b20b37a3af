// Package control implements the control-plane protocol: versioned,
// deterministically encoded CBOR requests that snapshot, list, fork and
// bind branches, and the dispatcher that applies them to an engine.
//
// The transport that carries the bytes (a socket, a device ioctl, an XPC
// message) is the adapter's concern; this package only turns request
// bytes into response bytes.
package control

import "time"

// Version is the only protocol version understood.
const Version = 1

// Operation names.
const (
	OpSnapshotCreate = "snapshot.create"
	OpSnapshotList   = "snapshot.list"
	OpBranchCreate   = "branch.create"
	OpBranchBind     = "branch.bind"
)

// Request is the envelope of every control request. Op selects which of
// the payload fields apply:
//
//	snapshot.create  name
//	snapshot.list    (none)
//	branch.create    from, name   (empty from forks the caller's branch)
//	branch.bind      branch, pid  (pid 0 binds the caller)
type Request struct {
	Version uint   `cbor:"v" validate:"eq=1"`
	Op      string `cbor:"op" validate:"required,oneof=snapshot.create snapshot.list branch.create branch.bind"`

	Name   string `cbor:"name,omitempty" validate:"label"`
	From   string `cbor:"from,omitempty" validate:"omitempty,uuid"`
	Branch string `cbor:"branch,omitempty" validate:"omitempty,uuid"`
	PID    uint32 `cbor:"pid,omitempty"`
}

// Response is the envelope of every control response. On failure OK is
// false and Error is set; nothing was applied.
type Response struct {
	Version uint   `cbor:"v"`
	OK      bool   `cbor:"ok"`
	Error   *Error `cbor:"error,omitempty"`

	SnapshotID string     `cbor:"snapshot_id,omitempty"`
	Snapshots  []Snapshot `cbor:"snapshots,omitempty"`
	BranchID   string     `cbor:"branch_id,omitempty"`
	PID        uint32     `cbor:"pid,omitempty"`
}

// Error describes a failed request. Code is one of the error kinds
// (not-found, busy, invalid-argument, ...).
type Error struct {
	Code    string `cbor:"code"`
	Message string `cbor:"message"`
}

// Snapshot is one entry of a snapshot.list response.
type Snapshot struct {
	ID      string    `cbor:"id"`
	Name    string    `cbor:"name,omitempty"`
	Branch  string    `cbor:"branch,omitempty"`
	Created time.Time `cbor:"created"`
}

// SnapshotCreate builds a snapshot.create request.
func SnapshotCreate(name string) *Request {
	return &Request{Version: Version, Op: OpSnapshotCreate, Name: name}
}

// SnapshotList builds a snapshot.list request.
func SnapshotList() *Request {
	return &Request{Version: Version, Op: OpSnapshotList}
}

// BranchCreate builds a branch.create request. An empty from forks the
// caller's current branch.
func BranchCreate(from, name string) *Request {
	return &Request{Version: Version, Op: OpBranchCreate, From: from, Name: name}
}

// BranchBind builds a branch.bind request. A pid of 0 binds the caller.
func BranchBind(branch string, pid uint32) *Request {
	return &Request{Version: Version, Op: OpBranchBind, Branch: branch, PID: pid}
}
