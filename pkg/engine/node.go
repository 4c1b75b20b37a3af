package engine

import (
	"context"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/handle"
	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/store/content"
	"github.com/marmos91/agentfs/pkg/tree"
)

// newNode allocates a node owned by the caller.
func (o *op) newNode(typ metadata.FileType, mode uint32) *tree.Node {
	uid, gid, _ := o.e.opts.Security.Credentials(o.auth)
	id := metadata.NodeID(o.e.nextNode.Add(1))
	return tree.NewNode(id, typ, mode, uid, gid, o.now)
}

// newStream allocates empty content for a stream.
func (o *op) newStream(path string) (*tree.Stream, error) {
	id, err := o.e.store.Allocate(o.ctx, nil)
	if err != nil {
		return nil, contentError(path, err)
	}
	return &tree.Stream{ContentID: id}, nil
}

// writable makes s safe to mutate: sealed content, which is shared with a
// snapshot or another branch, is replaced by a private clone.
func (o *op) writable(s *tree.Stream, path string) error {
	sealed, err := o.e.store.IsSealed(o.ctx, s.ContentID)
	if err != nil {
		return contentError(path, err)
	}
	if !sealed {
		return nil
	}

	clone, err := o.e.store.Clone(o.ctx, s.ContentID)
	if err != nil {
		return contentError(path, err)
	}
	old := s.ContentID
	s.ContentID = clone
	o.e.release(old)
	return nil
}

// truncate sets a stream's length.
func (o *op) truncate(s *tree.Stream, size uint64, path string) error {
	if s.Size == size {
		return nil
	}
	if err := o.writable(s, path); err != nil {
		return err
	}
	if err := o.e.store.Truncate(o.ctx, s.ContentID, size); err != nil {
		return contentError(path, err)
	}
	s.Size = size
	return nil
}

// nodeKey identifies n in the handle table.
func (o *op) nodeKey(n *tree.Node) handle.NodeKey {
	return handle.NodeKey{View: o.view.key, Node: n.ID}
}

// checkDelete fails with would-block if open handles on n deny delete.
func (o *op) checkDelete(n *tree.Node, path string) error {
	if err := o.e.handles.CheckDelete(o.nodeKey(n)); err != nil {
		return metadata.WrapError(metadata.ErrWouldBlock, path, err, "file is in use")
	}
	return nil
}

// unlinkNode detaches n. Without open handles it is reclaimed at once;
// otherwise it becomes an orphan reclaimed by the last close.
func (o *op) unlinkNode(n *tree.Node) {
	o.t.Detach(n)
	if o.e.handles.NodeHandles(o.nodeKey(n)) > 0 {
		n.Orphaned = true
		logger.Debug("Node %d orphaned with open handles", n.ID)
		return
	}
	o.e.reclaimNode(o.t, n)
}

// reclaimNode releases every stream of n and forgets it. Caller holds the
// tree lock.
func (e *Engine) reclaimNode(t *tree.Tree, n *tree.Node) {
	for _, s := range n.Streams {
		e.release(s.ContentID)
	}
	for _, s := range n.DeletedStreams {
		e.release(s.ContentID)
	}
	n.Streams = nil
	n.DeletedStreams = nil
	t.Forget(n.ID)
	e.opts.Metrics.RecordReclaim("node")
}

// release drops a content reference. Failures are logged: the reference
// is gone from the tree either way.
func (e *Engine) release(id content.ContentID) {
	if err := e.store.Release(context.Background(), id); err != nil {
		logger.Warn("Release content %d: %v", id, err)
	}
}

// share seals and retains every id so a second tree can reference it. On
// failure the references taken so far are dropped again.
func (e *Engine) share(ctx context.Context, ids []content.ContentID) error {
	for i, id := range ids {
		err := e.store.Seal(ctx, id)
		if err == nil {
			err = e.store.Retain(ctx, id)
		}
		if err != nil {
			for _, taken := range ids[:i] {
				e.release(taken)
			}
			return contentError("", err)
		}
	}
	return nil
}

// event records a path event on the op's view.
func (o *op) event(kind metadata.EventKind, path string, n *tree.Node) {
	if !o.e.opts.TrackEvents {
		return
	}
	ev := metadata.Event{
		Kind:     kind,
		Time:     o.now,
		Branch:   o.view.branch,
		Snapshot: o.view.snapshot,
		Path:     path,
	}
	if n != nil {
		ev.Node = n.ID
		ev.Type = n.Type
	}
	o.events = append(o.events, ev)
}

// splitStream separates a stream suffix from path. override, when set,
// names the stream explicitly.
func (e *Engine) splitStream(path, override string) (string, string, error) {
	filePath, stream := path, ""
	if e.opts.EnableADS {
		filePath, stream = metadata.SplitStream(path)
	}
	if override != "" {
		stream = override
	}
	if stream == "" {
		return filePath, "", nil
	}
	if !e.opts.EnableADS {
		return "", "", metadata.NewError(metadata.ErrNotSupported, path, "alternate data streams are disabled")
	}
	if err := metadata.ValidateName(stream, true); err != nil {
		return "", "", err
	}
	return filePath, stream, nil
}

func streamPath(path, stream string) string {
	if stream == "" {
		return path
	}
	return path + metadata.StreamSeparator + stream
}
