package engine

import (
	"time"

	"github.com/marmos91/agentfs/pkg/handle"
	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/tree"
)

// Create creates an empty regular file (or, with a "path:stream" suffix,
// an empty named stream) without opening it. The name must not exist.
func (e *Engine) Create(auth *metadata.AuthContext, path string, mode uint32) (attr *metadata.FileAttr, err error) {
	defer e.observe("Create", time.Now(), &err)

	err = e.update(auth, path, func(o *op) error {
		n, s, _, err := o.openTarget(path, metadata.OpenOptions{Create: true, Exclusive: true, Mode: mode})
		if err != nil {
			return err
		}
		if s == nil {
			return metadata.NewError(metadata.ErrAlreadyExists, path, "file exists")
		}
		a := n.Attr()
		a.Size = s.Size
		attr = &a
		return nil
	})
	return attr, err
}

// Open opens (and with opts.Create, creates) a file or named stream and
// returns a handle.
//
// A "path:stream" suffix or opts.Stream selects a named stream. The open is
// admitted only if its access and share mode are compatible with every
// handle already open on the same stream.
func (e *Engine) Open(auth *metadata.AuthContext, path string, opts metadata.OpenOptions) (id metadata.HandleID, attr *metadata.FileAttr, err error) {
	defer e.observe("Open", time.Now(), &err)

	if opts.Access == 0 {
		opts.Access = metadata.AccessRead
	}
	mutating := opts.Create || opts.Truncate || opts.Access.Has(metadata.AccessWrite)

	err = e.run(auth, path, true, mutating, func(o *op) error {
		n, s, stream, err := o.openTarget(path, opts)
		if err != nil {
			return err
		}
		h, err := o.admit(n, s, stream, opts, path)
		if err != nil {
			return err
		}
		id = h.ID
		a := n.Attr()
		if s != nil {
			a.Size = s.Size
		}
		attr = &a
		return nil
	})
	return id, attr, err
}

// OpenByID opens the default stream of a node by ID. Unlinked nodes are
// not reachable by ID.
func (e *Engine) OpenByID(auth *metadata.AuthContext, nodeID metadata.NodeID, opts metadata.OpenOptions) (id metadata.HandleID, attr *metadata.FileAttr, err error) {
	defer e.observe("OpenByID", time.Now(), &err)

	if opts.Access == 0 {
		opts.Access = metadata.AccessRead
	}
	if opts.Create || opts.Stream != "" {
		return 0, nil, metadata.NewError(metadata.ErrInvalidArgument, "", "open by id cannot create or select streams")
	}
	mutating := opts.Truncate || opts.Access.Has(metadata.AccessWrite)

	err = e.run(auth, "", true, mutating, func(o *op) error {
		n, ok := o.t.Node(nodeID)
		if !ok || n.Orphaned {
			return metadata.NewError(metadata.ErrNotFound, "", "node %d not found", nodeID)
		}
		path := o.t.Path(n)
		if err := o.checkOpenable(n, "", opts, path); err != nil {
			return err
		}
		if err := o.require(n, accessBits(opts.Access), path); err != nil {
			return err
		}
		var s *tree.Stream
		if n.IsFile() {
			s = n.Streams[""]
		}
		h, err := o.admit(n, s, "", opts, path)
		if err != nil {
			return err
		}
		id = h.ID
		a := n.Attr()
		attr = &a
		return nil
	})
	return id, attr, err
}

// openTarget resolves (and creates if requested) the node and stream an
// open addresses. Caller holds the tree lock exclusively.
func (o *op) openTarget(path string, opts metadata.OpenOptions) (*tree.Node, *tree.Stream, string, error) {
	filePath, stream, err := o.e.splitStream(path, opts.Stream)
	if err != nil {
		return nil, nil, "", err
	}

	parts, err := metadata.SplitPath(filePath)
	if err != nil {
		return nil, nil, "", err
	}

	var n *tree.Node
	created := false
	if len(parts) == 0 {
		n = o.t.Root()
	} else {
		dir, name, err := o.t.ResolveParent(filePath)
		if err != nil {
			return nil, nil, "", err
		}
		existing, found := o.t.Lookup(dir, name)
		switch {
		case found:
			n = existing
			if opts.Create && opts.Exclusive && stream == "" {
				return nil, nil, "", metadata.NewError(metadata.ErrAlreadyExists, filePath, "file exists")
			}
		case !opts.Create:
			return nil, nil, "", metadata.NewError(metadata.ErrNotFound, filePath, "no such file or directory")
		default:
			if n, err = o.createFile(dir, name, opts.Mode, filePath); err != nil {
				return nil, nil, "", err
			}
			created = true
		}
	}

	if err := o.checkOpenable(n, stream, opts, path); err != nil {
		return nil, nil, "", err
	}
	if !n.IsFile() {
		return n, nil, "", nil
	}

	s, ok := n.Streams[stream]
	switch {
	case !ok && stream == "":
		return nil, nil, "", o.e.internal(filePath, "file %d has no default stream", n.ID)
	case !ok && !opts.Create:
		return nil, nil, "", metadata.NewError(metadata.ErrNotFound, path, "no such stream")
	case !ok:
		if _, pending := n.DeletedStreams[stream]; pending {
			return nil, nil, "", metadata.NewError(metadata.ErrBusy, path, "stream is pending deletion")
		}
		if !created {
			if err := o.require(n, metadata.PermWrite, path); err != nil {
				return nil, nil, "", err
			}
		}
		if s, err = o.newStream(path); err != nil {
			return nil, nil, "", err
		}
		n.Streams[stream] = s
		n.Ctime = o.now
		o.event(metadata.EventCreated, streamPath(filePath, stream), n)
		created = true
	case opts.Create && opts.Exclusive && stream != "" && !created:
		return nil, nil, "", metadata.NewError(metadata.ErrAlreadyExists, path, "stream exists")
	}

	if !created {
		if err := o.require(n, accessBits(opts.Access), path); err != nil {
			return nil, nil, "", err
		}
	}
	return n, s, stream, nil
}

// checkOpenable rejects opens that cannot apply to the node's type.
func (o *op) checkOpenable(n *tree.Node, stream string, opts metadata.OpenOptions, path string) error {
	switch n.Type {
	case metadata.FileTypeDirectory:
		if stream != "" || opts.Access.Has(metadata.AccessWrite) || opts.Truncate {
			return metadata.NewError(metadata.ErrIsDirectory, path, "is a directory")
		}
	case metadata.FileTypeSymlink:
		return metadata.NewError(metadata.ErrInvalidArgument, path, "cannot open a symlink")
	}
	if opts.Truncate && !opts.Access.Has(metadata.AccessWrite) {
		return metadata.NewError(metadata.ErrInvalidArgument, path, "truncate requires write access")
	}
	return nil
}

// createFile creates and links a regular file with an empty default stream.
func (o *op) createFile(dir *tree.Node, name string, mode uint32, path string) (*tree.Node, error) {
	if err := metadata.ValidateName(name, o.e.opts.EnableADS); err != nil {
		return nil, err
	}
	if err := o.requireDirWrite(dir, path); err != nil {
		return nil, err
	}
	if mode == 0 {
		mode = 0o644
	}

	n := o.newNode(metadata.FileTypeRegular, mode)
	s, err := o.newStream(path)
	if err != nil {
		return nil, err
	}
	n.Streams[""] = s

	if err := o.t.Attach(dir, n, name); err != nil {
		o.e.release(s.ContentID)
		return nil, err
	}
	dir.Touch(o.now)
	o.event(metadata.EventCreated, path, n)
	return n, nil
}

// admit registers a handle for an opened node, applying truncation once
// the handle is admitted.
func (o *op) admit(n *tree.Node, s *tree.Stream, stream string, opts metadata.OpenOptions, path string) (*handle.Handle, error) {
	h, err := o.e.handles.Open(handle.OpenRequest{
		Target: handle.Target{NodeKey: o.nodeKey(n), Stream: stream},
		Tree:   o.t,
		Node:   n,
		Stream: s,
		PID:    pid(o.auth),
		Access: opts.Access,
		Share:  opts.Share,
		Append: opts.Append,
	})
	if err != nil {
		if se, ok := err.(*metadata.StoreError); ok && se.Path == "" {
			se.Path = path
		}
		return nil, err
	}

	if opts.Truncate && s != nil && s.Size > 0 {
		if err := o.truncate(s, 0, path); err != nil {
			_, _ = o.e.handles.Close(h.ID)
			return nil, err
		}
		n.Touch(o.now)
		o.event(metadata.EventModified, path, n)
	}
	return h, nil
}

// Read reads from a handle at offset. Reads at or past the end of the
// stream return 0 bytes and no error.
func (e *Engine) Read(auth *metadata.AuthContext, id metadata.HandleID, p []byte, offset uint64) (n int, err error) {
	defer e.observe("Read", time.Now(), &err)

	err = e.withHandle(auth, id, false, func(o *op, h *handle.Handle) error {
		if !h.Access.Has(metadata.AccessRead) {
			return metadata.NewError(metadata.ErrInvalidHandle, "", "handle %d is not open for reading", id)
		}
		if h.Stream == nil {
			return metadata.NewError(metadata.ErrIsDirectory, "", "handle %d is not a file", id)
		}
		if offset >= h.Stream.Size {
			return nil
		}
		if remaining := h.Stream.Size - offset; uint64(len(p)) > remaining {
			p = p[:remaining]
		}
		read, err := e.store.ReadAt(o.ctx, h.Stream.ContentID, p, offset)
		if err != nil {
			return contentError("", err)
		}
		n = read
		return nil
	})
	if err == nil {
		e.opts.Metrics.RecordBytes("read", n)
	}
	return n, err
}

// Write writes to a handle at offset (or at the end for append handles).
// Content shared with a snapshot or another branch is cloned first.
func (e *Engine) Write(auth *metadata.AuthContext, id metadata.HandleID, p []byte, offset uint64) (n int, err error) {
	defer e.observe("Write", time.Now(), &err)

	err = e.withHandle(auth, id, true, func(o *op, h *handle.Handle) error {
		if !h.Access.Has(metadata.AccessWrite) {
			return metadata.NewError(metadata.ErrInvalidHandle, "", "handle %d is not open for writing", id)
		}
		if h.Stream == nil {
			return metadata.NewError(metadata.ErrIsDirectory, "", "handle %d is not a file", id)
		}
		if h.Append {
			offset = h.Stream.Size
		}
		if len(p) == 0 {
			return nil
		}

		path := o.t.Path(h.Node)
		if err := o.writable(h.Stream, path); err != nil {
			return err
		}
		written, err := e.store.WriteAt(o.ctx, h.Stream.ContentID, p, offset)
		if end := offset + uint64(written); end > h.Stream.Size {
			h.Stream.Size = end
		}
		n = written
		if written > 0 {
			h.Node.Touch(o.now)
		}
		if err != nil {
			return contentError(path, err)
		}
		if path != "" {
			o.event(metadata.EventModified, streamPath(path, h.Target.Stream), h.Node)
		}
		return nil
	})
	if n > 0 {
		e.opts.Metrics.RecordBytes("write", n)
	}
	return n, err
}

// Close closes a handle, dropping its byte-range locks. The last close of
// an unlinked node (or unlinked named stream) reclaims its content.
func (e *Engine) Close(auth *metadata.AuthContext, id metadata.HandleID) (err error) {
	defer e.observe("Close", time.Now(), &err)

	h, err := e.handles.Get(id)
	if err != nil {
		return err
	}

	h.Tree.Lock()
	defer h.Tree.Unlock()

	res, err := e.handles.Close(id)
	if err != nil {
		return err
	}

	n := h.Node
	switch {
	case n.Orphaned && res.LastOnNode:
		e.reclaimNode(h.Tree, n)
	case res.LastOnStream && h.Target.Stream != "":
		if s, ok := n.DeletedStreams[h.Target.Stream]; ok && s == h.Stream {
			delete(n.DeletedStreams, h.Target.Stream)
			e.release(s.ContentID)
			e.opts.Metrics.RecordReclaim("stream")
		}
	}
	return nil
}

// HandleAttr returns the attributes of an open handle's node. The size is
// that of the handle's stream.
func (e *Engine) HandleAttr(auth *metadata.AuthContext, id metadata.HandleID) (attr *metadata.FileAttr, err error) {
	defer e.observe("HandleAttr", time.Now(), &err)

	err = e.withHandle(auth, id, false, func(o *op, h *handle.Handle) error {
		a := h.Node.Attr()
		if h.Stream != nil {
			a.Size = h.Stream.Size
		}
		attr = &a
		return nil
	})
	return attr, err
}

// Truncate sets the length of a file or "path:stream".
func (e *Engine) Truncate(auth *metadata.AuthContext, path string, size uint64) (err error) {
	defer e.observe("Truncate", time.Now(), &err)

	return e.update(auth, path, func(o *op) error {
		filePath, stream, err := e.splitStream(path, "")
		if err != nil {
			return err
		}
		n, err := o.t.ResolvePath(filePath)
		if err != nil {
			return err
		}
		if !n.IsFile() {
			if n.IsDir() {
				return metadata.NewError(metadata.ErrIsDirectory, path, "is a directory")
			}
			return metadata.NewError(metadata.ErrInvalidArgument, path, "not a regular file")
		}
		s, ok := n.Streams[stream]
		if !ok {
			return metadata.NewError(metadata.ErrNotFound, path, "no such stream")
		}
		if err := o.require(n, metadata.PermWrite, path); err != nil {
			return err
		}
		if err := o.truncate(s, size, path); err != nil {
			return err
		}
		n.Touch(o.now)
		o.event(metadata.EventModified, path, n)
		return nil
	})
}

// TruncateHandle sets the length of an open handle's stream.
func (e *Engine) TruncateHandle(auth *metadata.AuthContext, id metadata.HandleID, size uint64) (err error) {
	defer e.observe("TruncateHandle", time.Now(), &err)

	return e.withHandle(auth, id, true, func(o *op, h *handle.Handle) error {
		if !h.Access.Has(metadata.AccessWrite) {
			return metadata.NewError(metadata.ErrInvalidHandle, "", "handle %d is not open for writing", id)
		}
		if h.Stream == nil {
			return metadata.NewError(metadata.ErrIsDirectory, "", "handle %d is not a file", id)
		}
		path := o.t.Path(h.Node)
		if err := o.truncate(h.Stream, size, path); err != nil {
			return err
		}
		h.Node.Touch(o.now)
		if path != "" {
			o.event(metadata.EventModified, streamPath(path, h.Target.Stream), h.Node)
		}
		return nil
	})
}
