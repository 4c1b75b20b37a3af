package tree

import (
	"time"

	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/store/content"
)

// Stream is one data stream of a file: a content reference and its length.
type Stream struct {
	ContentID content.ContentID
	Size      uint64
}

// childEntry is a directory entry. The map key is the lookup key (folded
// name); Name is the spelling reported in listings.
type childEntry struct {
	Name string
	ID   metadata.NodeID
}

// Node is a file, directory or symlink in a tree.
type Node struct {
	ID   metadata.NodeID
	Type metadata.FileType

	Mode uint32
	UID  uint32
	GID  uint32

	Crtime time.Time
	Mtime  time.Time
	Atime  time.Time
	Ctime  time.Time

	// Parent is 0 for the root and for orphans.
	Parent metadata.NodeID

	// Name is the stored name in the parent directory.
	Name string

	// Streams holds the data streams of a file. "" is the default stream.
	Streams map[string]*Stream

	// DeletedStreams holds named streams removed while handles were open
	// on them. They are released on the last close.
	DeletedStreams map[string]*Stream

	// Xattrs holds extended attributes. Values are never mutated in place.
	Xattrs map[string][]byte

	// Target is the symlink target.
	Target string

	// Orphaned marks a node unlinked while handles were open.
	Orphaned bool

	children map[string]childEntry
	subdirs  int
}

// NewNode returns a detached node stamped with now.
func NewNode(id metadata.NodeID, typ metadata.FileType, mode, uid, gid uint32, now time.Time) *Node {
	n := &Node{
		ID:     id,
		Type:   typ,
		Mode:   mode & metadata.ModePermMask,
		UID:    uid,
		GID:    gid,
		Crtime: now,
		Mtime:  now,
		Atime:  now,
		Ctime:  now,
		Xattrs: make(map[string][]byte),
	}
	switch typ {
	case metadata.FileTypeDirectory:
		n.children = make(map[string]childEntry)
	case metadata.FileTypeRegular:
		n.Streams = make(map[string]*Stream)
	}
	return n
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n.Type == metadata.FileTypeDirectory }

// IsFile reports whether the node is a regular file.
func (n *Node) IsFile() bool { return n.Type == metadata.FileTypeRegular }

// ChildCount returns the number of directory entries.
func (n *Node) ChildCount() int { return len(n.children) }

// Attr returns the node's attributes.
func (n *Node) Attr() metadata.FileAttr {
	attr := metadata.FileAttr{
		ID:     n.ID,
		Type:   n.Type,
		Mode:   n.Mode,
		UID:    n.UID,
		GID:    n.GID,
		Nlink:  1,
		Crtime: n.Crtime,
		Mtime:  n.Mtime,
		Atime:  n.Atime,
		Ctime:  n.Ctime,
	}
	switch n.Type {
	case metadata.FileTypeRegular:
		if s, ok := n.Streams[""]; ok {
			attr.Size = s.Size
		}
	case metadata.FileTypeSymlink:
		attr.Size = uint64(len(n.Target))
	case metadata.FileTypeDirectory:
		attr.Size = uint64(len(n.children))
		attr.Nlink = uint32(2 + n.subdirs)
	}
	if n.Orphaned {
		attr.Nlink = 0
	}
	return attr
}

// StreamInfos lists the node's streams, default stream first, then by name.
func (n *Node) StreamInfos() []metadata.StreamInfo {
	infos := make([]metadata.StreamInfo, 0, len(n.Streams))
	if s, ok := n.Streams[""]; ok {
		infos = append(infos, metadata.StreamInfo{Name: "", Size: s.Size})
	}
	for _, name := range sortedKeys(n.Streams) {
		if name == "" {
			continue
		}
		infos = append(infos, metadata.StreamInfo{Name: name, Size: n.Streams[name].Size})
	}
	return infos
}

// Touch updates modification and change times.
func (n *Node) Touch(now time.Time) {
	n.Mtime = now
	n.Ctime = now
}

// clone deep-copies the node's structure. Content IDs are copied as-is.
func (n *Node) clone() *Node {
	c := *n
	c.DeletedStreams = nil
	if n.Streams != nil {
		c.Streams = make(map[string]*Stream, len(n.Streams))
		for name, s := range n.Streams {
			cp := *s
			c.Streams[name] = &cp
		}
	}
	c.Xattrs = make(map[string][]byte, len(n.Xattrs))
	for k, v := range n.Xattrs {
		c.Xattrs[k] = v
	}
	if n.children != nil {
		c.children = make(map[string]childEntry, len(n.children))
		for k, v := range n.children {
			c.children[k] = v
		}
	}
	return &c
}
