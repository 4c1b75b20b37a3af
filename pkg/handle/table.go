// Package handle tracks open handles: share-mode admission, byte-range
// locks and the per-node counts that drive delete-on-close.
package handle

import (
	"sync"

	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/tree"
)

// ============================================================================
// Types
// ============================================================================

// NodeKey identifies a node within one view (branch or snapshot).
type NodeKey struct {
	View string
	Node metadata.NodeID
}

// Target identifies a data stream of a node within one view. Admission and
// byte-range locks are evaluated per Target.
type Target struct {
	NodeKey
	Stream string
}

// Handle is an open reference to a node stream.
type Handle struct {
	ID     metadata.HandleID
	Target Target

	// Tree is the tree the handle was opened in. Handles keep it even when
	// the opening process is later rebound.
	Tree *tree.Tree

	// Node and Stream are the opened node and data stream. They stay valid
	// after an unlink until the last close.
	Node   *tree.Node
	Stream *tree.Stream

	PID    uint32
	Access metadata.Access
	Share  metadata.ShareMode
	Append bool
}

// OpenRequest describes a handle to admit.
type OpenRequest struct {
	Target Target
	Tree   *tree.Tree
	Node   *tree.Node
	Stream *tree.Stream
	PID    uint32
	Access metadata.Access
	Share  metadata.ShareMode
	Append bool
}

// CloseResult reports what a close left behind.
type CloseResult struct {
	Handle *Handle

	// LastOnStream is true when no handle remains on the handle's stream.
	LastOnStream bool

	// LastOnNode is true when no handle remains on any stream of the node.
	LastOnNode bool
}

// Table is the engine-wide handle table.
type Table struct {
	mu sync.Mutex

	maxHandles int
	nextID     metadata.HandleID

	handles  map[metadata.HandleID]*Handle
	byTarget map[Target]map[metadata.HandleID]*Handle
	byNode   map[NodeKey]int
	byView   map[string]int
	locks    map[Target][]Lock
}

// NewTable returns an empty table. maxHandles <= 0 means unlimited.
func NewTable(maxHandles int) *Table {
	return &Table{
		maxHandles: maxHandles,
		handles:    make(map[metadata.HandleID]*Handle),
		byTarget:   make(map[Target]map[metadata.HandleID]*Handle),
		byNode:     make(map[NodeKey]int),
		byView:     make(map[string]int),
		locks:      make(map[Target][]Lock),
	}
}

// ============================================================================
// Open / Close
// ============================================================================

// Open admits a new handle.
//
// Admission is two-way: every access bit the new handle requests must be
// allowed by each existing handle's share mode, and every access bit an
// existing handle holds must be allowed by the new handle's share mode.
func (t *Table) Open(req OpenRequest) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxHandles > 0 && len(t.handles) >= t.maxHandles {
		return nil, metadata.NewError(metadata.ErrTooManyOpenFiles, "", "open handle limit %d reached", t.maxHandles)
	}

	for _, other := range t.byTarget[req.Target] {
		if !other.Share.Allows(req.Access) || !req.Share.Allows(other.Access) {
			return nil, metadata.NewError(metadata.ErrWouldBlock, "", "sharing violation with handle %d", other.ID)
		}
	}

	t.nextID++
	h := &Handle{
		ID:     t.nextID,
		Target: req.Target,
		Tree:   req.Tree,
		Node:   req.Node,
		Stream: req.Stream,
		PID:    req.PID,
		Access: req.Access,
		Share:  req.Share,
		Append: req.Append,
	}

	t.handles[h.ID] = h
	set, ok := t.byTarget[req.Target]
	if !ok {
		set = make(map[metadata.HandleID]*Handle)
		t.byTarget[req.Target] = set
	}
	set[h.ID] = h
	t.byNode[req.Target.NodeKey]++
	t.byView[req.Target.View]++
	return h, nil
}

// Get returns the handle with id.
func (t *Table) Get(id metadata.HandleID) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[id]
	if !ok {
		return nil, metadata.NewError(metadata.ErrInvalidHandle, "", "unknown handle %d", id)
	}
	return h, nil
}

// Close removes the handle and its locks.
func (t *Table) Close(id metadata.HandleID) (CloseResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[id]
	if !ok {
		return CloseResult{}, metadata.NewError(metadata.ErrInvalidHandle, "", "unknown handle %d", id)
	}

	delete(t.handles, id)

	set := t.byTarget[h.Target]
	delete(set, id)
	lastOnStream := len(set) == 0
	if lastOnStream {
		delete(t.byTarget, h.Target)
	}

	t.byNode[h.Target.NodeKey]--
	lastOnNode := t.byNode[h.Target.NodeKey] == 0
	if lastOnNode {
		delete(t.byNode, h.Target.NodeKey)
	}

	t.byView[h.Target.View]--
	if t.byView[h.Target.View] == 0 {
		delete(t.byView, h.Target.View)
	}

	t.dropLocksLocked(h)

	return CloseResult{Handle: h, LastOnStream: lastOnStream, LastOnNode: lastOnNode}, nil
}

// ============================================================================
// Queries
// ============================================================================

// CheckDelete fails with would-block if any handle open on the node does
// not share delete access.
func (t *Table) CheckDelete(key NodeKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.byNode[key] == 0 {
		return nil
	}
	for target, set := range t.byTarget {
		if target.NodeKey != key {
			continue
		}
		for _, h := range set {
			if !h.Share.Allows(metadata.AccessDelete) {
				return metadata.NewError(metadata.ErrWouldBlock, "", "handle %d does not share delete", h.ID)
			}
		}
	}
	return nil
}

// NodeHandles returns the number of handles open on any stream of the node.
func (t *Table) NodeHandles(key NodeKey) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byNode[key]
}

// StreamHandles returns the number of handles open on one stream.
func (t *Table) StreamHandles(target Target) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byTarget[target])
}

// ViewHandles returns the number of handles open in a view.
func (t *Table) ViewHandles(view string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byView[view]
}

// Len returns the number of open handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// Handles returns every open handle. The order is unspecified.
func (t *Table) Handles() []*Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Handle, 0, len(t.handles))
	for _, h := range t.handles {
		out = append(out, h)
	}
	return out
}
