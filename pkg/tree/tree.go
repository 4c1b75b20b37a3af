// Package tree holds the namespace of one branch or snapshot: an arena of
// nodes keyed by ID, linked into a directory hierarchy.
//
// A Tree carries its own RWMutex. Callers take it for the duration of an
// operation; none of the methods below lock on their own.
package tree

import (
	"sort"
	"sync"
	"time"

	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/store/content"
)

// Tree is a rooted directory hierarchy.
type Tree struct {
	sync.RWMutex

	mode     metadata.CaseSensitivity
	nodes    map[metadata.NodeID]*Node
	readOnly bool
	retired  bool
}

// New returns a tree holding only a root directory.
func New(mode metadata.CaseSensitivity, rootMode, uid, gid uint32, now time.Time) *Tree {
	root := NewNode(metadata.RootID, metadata.FileTypeDirectory, rootMode, uid, gid, now)
	return &Tree{
		mode:  mode,
		nodes: map[metadata.NodeID]*Node{metadata.RootID: root},
	}
}

// Mode returns the tree's case sensitivity.
func (t *Tree) Mode() metadata.CaseSensitivity { return t.mode }

// ReadOnly reports whether the tree is a frozen snapshot.
func (t *Tree) ReadOnly() bool { return t.readOnly }

// Retire marks the tree as dropped from its engine. Its content
// references are gone, so it must not be cloned afterwards.
func (t *Tree) Retire() { t.retired = true }

// Retired reports whether Retire was called.
func (t *Tree) Retired() bool { return t.retired }

// Root returns the root directory.
func (t *Tree) Root() *Node { return t.nodes[metadata.RootID] }

// Node returns the node with id, including orphans.
func (t *Tree) Node(id metadata.NodeID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Len returns the number of nodes in the arena, orphans included.
func (t *Tree) Len() int { return len(t.nodes) }

// Lookup finds name in dir.
func (t *Tree) Lookup(dir *Node, name string) (*Node, bool) {
	if !dir.IsDir() {
		return nil, false
	}
	e, ok := dir.children[t.mode.Key(name)]
	if !ok {
		return nil, false
	}
	n, ok := t.nodes[e.ID]
	return n, ok
}

// Attach links n into dir under name and adds it to the arena.
func (t *Tree) Attach(dir *Node, n *Node, name string) error {
	if !dir.IsDir() {
		return metadata.NewError(metadata.ErrNotDirectory, name, "parent is not a directory")
	}
	key := t.mode.Key(name)
	if _, exists := dir.children[key]; exists {
		return metadata.NewError(metadata.ErrAlreadyExists, name, "entry exists")
	}

	n.Name = t.mode.Stored(name)
	n.Parent = dir.ID
	n.Orphaned = false
	dir.children[key] = childEntry{Name: n.Name, ID: n.ID}
	if n.IsDir() {
		dir.subdirs++
	}
	t.nodes[n.ID] = n
	return nil
}

// Detach unlinks n from its parent. The node stays in the arena until
// Forget is called.
func (t *Tree) Detach(n *Node) {
	parent, ok := t.nodes[n.Parent]
	if ok && n.ID != metadata.RootID {
		delete(parent.children, t.mode.Key(n.Name))
		if n.IsDir() {
			parent.subdirs--
		}
	}
	n.Parent = 0
}

// Forget drops n from the arena.
func (t *Tree) Forget(id metadata.NodeID) {
	if id == metadata.RootID {
		return
	}
	delete(t.nodes, id)
}

// Move relinks n under dir with name. When name resolves to n itself in
// dir (a case-only rename), only the stored spelling changes.
func (t *Tree) Move(n *Node, dir *Node, name string) error {
	key := t.mode.Key(name)
	if e, ok := dir.children[key]; ok {
		if e.ID != n.ID {
			return metadata.NewError(metadata.ErrAlreadyExists, name, "entry exists")
		}
		n.Name = t.mode.Stored(name)
		dir.children[key] = childEntry{Name: n.Name, ID: n.ID}
		return nil
	}
	t.Detach(n)
	return t.Attach(dir, n, name)
}

// IsAncestor reports whether a is b or one of b's ancestors.
func (t *Tree) IsAncestor(a, b *Node) bool {
	for cur := b; cur != nil; {
		if cur.ID == a.ID {
			return true
		}
		if cur.Parent == 0 {
			return false
		}
		cur = t.nodes[cur.Parent]
	}
	return false
}

// Path rebuilds the absolute path of n. Orphans report "".
func (t *Tree) Path(n *Node) string {
	if n.ID == metadata.RootID {
		return "/"
	}
	var parts []string
	for cur := n; cur.ID != metadata.RootID; {
		if cur.Parent == 0 {
			return ""
		}
		parts = append(parts, cur.Name)
		cur = t.nodes[cur.Parent]
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return metadata.JoinPath(parts)
}

// Children returns dir's entries ordered by name.
func (t *Tree) Children(dir *Node) []*Node {
	out := make([]*Node, 0, len(dir.children))
	for _, e := range dir.children {
		if n, ok := t.nodes[e.ID]; ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return t.mode.Less(out[i].Name, out[j].Name)
	})
	return out
}

// Clone returns a structural copy of the tree. Orphans are not carried
// over. The copy shares content IDs with the original; callers seal and
// retain them (see ContentIDs) before either tree writes again.
func (t *Tree) Clone(readOnly bool) *Tree {
	c := &Tree{
		mode:     t.mode,
		nodes:    make(map[metadata.NodeID]*Node, len(t.nodes)),
		readOnly: readOnly,
	}
	for id, n := range t.nodes {
		if n.Orphaned {
			continue
		}
		c.nodes[id] = n.clone()
	}
	return c
}

// ContentIDs returns every content reference held by the arena.
func (t *Tree) ContentIDs() []content.ContentID {
	var ids []content.ContentID
	for _, n := range t.nodes {
		for _, s := range n.Streams {
			ids = append(ids, s.ContentID)
		}
		for _, s := range n.DeletedStreams {
			ids = append(ids, s.ContentID)
		}
	}
	return ids
}

// Walk calls fn for every node reachable from the root in depth-first
// order, stopping at the first error.
func (t *Tree) Walk(fn func(path string, n *Node) error) error {
	var visit func(path string, n *Node) error
	visit = func(path string, n *Node) error {
		if err := fn(path, n); err != nil {
			return err
		}
		if !n.IsDir() {
			return nil
		}
		for _, child := range t.Children(n) {
			childPath := path + "/" + child.Name
			if path == "/" {
				childPath = "/" + child.Name
			}
			if err := visit(childPath, child); err != nil {
				return err
			}
		}
		return nil
	}
	return visit("/", t.Root())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
