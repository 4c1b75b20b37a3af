package engine

import (
	"time"

	"github.com/marmos91/agentfs/pkg/handle"
	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/tree"
)

// Unlink removes a file, symlink or, with a "path:stream" suffix, a named
// stream.
//
// Handles already open keep reading and writing the removed node until the
// last one closes; only then is its content released. Removal fails with
// would-block if an open handle does not share delete access.
func (e *Engine) Unlink(auth *metadata.AuthContext, path string) (err error) {
	defer e.observe("Unlink", time.Now(), &err)

	return e.update(auth, path, func(o *op) error {
		filePath, stream, err := e.splitStream(path, "")
		if err != nil {
			return err
		}
		if stream != "" {
			return o.removeStream(filePath, stream)
		}

		dir, name, err := o.t.ResolveParent(filePath)
		if err != nil {
			return err
		}
		n, ok := o.t.Lookup(dir, name)
		if !ok {
			return metadata.NewError(metadata.ErrNotFound, path, "no such file or directory")
		}
		if n.IsDir() {
			return metadata.NewError(metadata.ErrIsDirectory, path, "is a directory")
		}
		if err := o.requireDirWrite(dir, path); err != nil {
			return err
		}
		if err := o.checkDelete(n, path); err != nil {
			return err
		}

		o.unlinkNode(n)
		dir.Touch(o.now)
		o.event(metadata.EventRemoved, filePath, n)
		return nil
	})
}

// removeStream removes a named stream. A stream with open handles moves
// to the node's deleted streams until its last handle closes.
func (o *op) removeStream(filePath, stream string) error {
	path := streamPath(filePath, stream)

	n, err := o.t.ResolvePath(filePath)
	if err != nil {
		return err
	}
	if !n.IsFile() {
		return metadata.NewError(metadata.ErrNotFound, path, "no such stream")
	}
	s, ok := n.Streams[stream]
	if !ok {
		return metadata.NewError(metadata.ErrNotFound, path, "no such stream")
	}
	if err := o.require(n, metadata.PermWrite, path); err != nil {
		return err
	}
	if err := o.checkDelete(n, path); err != nil {
		return err
	}

	delete(n.Streams, stream)
	target := handle.Target{NodeKey: o.nodeKey(n), Stream: stream}
	if o.e.handles.StreamHandles(target) > 0 {
		if n.DeletedStreams == nil {
			n.DeletedStreams = make(map[string]*tree.Stream)
		}
		n.DeletedStreams[stream] = s
	} else {
		o.e.release(s.ContentID)
	}
	n.Ctime = o.now
	o.event(metadata.EventRemoved, path, n)
	return nil
}

// Rmdir removes an empty directory.
func (e *Engine) Rmdir(auth *metadata.AuthContext, path string) (err error) {
	defer e.observe("Rmdir", time.Now(), &err)

	return e.update(auth, path, func(o *op) error {
		dir, name, err := o.t.ResolveParent(path)
		if err != nil {
			return err
		}
		n, ok := o.t.Lookup(dir, name)
		if !ok {
			return metadata.NewError(metadata.ErrNotFound, path, "no such file or directory")
		}
		if !n.IsDir() {
			return metadata.NewError(metadata.ErrNotDirectory, path, "not a directory")
		}
		if n.ChildCount() > 0 {
			return metadata.NewError(metadata.ErrNotEmpty, path, "directory not empty")
		}
		if err := o.requireDirWrite(dir, path); err != nil {
			return err
		}
		if err := o.checkDelete(n, path); err != nil {
			return err
		}

		o.unlinkNode(n)
		dir.Touch(o.now)
		o.event(metadata.EventRemoved, path, n)
		return nil
	})
}

// Rename moves from to to, replacing a compatible existing target: a file
// may replace a file or symlink, a directory may replace an empty
// directory. A directory cannot move into its own subtree.
func (e *Engine) Rename(auth *metadata.AuthContext, from, to string) (err error) {
	defer e.observe("Rename", time.Now(), &err)

	return e.update(auth, from, func(o *op) error {
		if e.opts.EnableADS {
			if _, s := metadata.SplitStream(from); s != "" {
				return metadata.NewError(metadata.ErrInvalidArgument, from, "streams cannot be renamed")
			}
			if _, s := metadata.SplitStream(to); s != "" {
				return metadata.NewError(metadata.ErrInvalidArgument, to, "streams cannot be renamed")
			}
		}

		srcDir, srcName, err := o.t.ResolveParent(from)
		if err != nil {
			return err
		}
		src, ok := o.t.Lookup(srcDir, srcName)
		if !ok {
			return metadata.NewError(metadata.ErrNotFound, from, "no such file or directory")
		}
		dstDir, dstName, err := o.t.ResolveParent(to)
		if err != nil {
			return err
		}
		if err := metadata.ValidateName(dstName, e.opts.EnableADS); err != nil {
			return err
		}
		if err := o.requireDirWrite(srcDir, from); err != nil {
			return err
		}
		if err := o.requireDirWrite(dstDir, to); err != nil {
			return err
		}
		if src.IsDir() && o.t.IsAncestor(src, dstDir) {
			return metadata.NewError(metadata.ErrInvalidArgument, to, "cannot move a directory into itself")
		}

		if target, exists := o.t.Lookup(dstDir, dstName); exists && target.ID != src.ID {
			if err := o.checkReplace(src, target, to); err != nil {
				return err
			}
			o.unlinkNode(target)
			o.event(metadata.EventRemoved, to, target)
		}

		if err := o.t.Move(src, dstDir, dstName); err != nil {
			return err
		}
		src.Ctime = o.now
		srcDir.Touch(o.now)
		dstDir.Touch(o.now)

		if o.e.opts.TrackEvents {
			o.events = append(o.events, metadata.Event{
				Kind:    metadata.EventRenamed,
				Time:    o.now,
				Branch:  o.view.branch,
				Path:    from,
				NewPath: o.t.Path(src),
				Node:    src.ID,
				Type:    src.Type,
			})
		}
		return nil
	})
}

// checkReplace validates replacing target with src.
func (o *op) checkReplace(src, target *tree.Node, path string) error {
	switch {
	case src.IsDir() && !target.IsDir():
		return metadata.NewError(metadata.ErrNotDirectory, path, "cannot replace a non-directory with a directory")
	case !src.IsDir() && target.IsDir():
		return metadata.NewError(metadata.ErrIsDirectory, path, "cannot replace a directory with a non-directory")
	case target.IsDir() && target.ChildCount() > 0:
		return metadata.NewError(metadata.ErrNotEmpty, path, "directory not empty")
	}
	return o.checkDelete(target, path)
}
