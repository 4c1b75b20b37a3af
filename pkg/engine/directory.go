package engine

import (
	"time"

	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/tree"
)

// maxSymlinkTarget bounds symlink targets (PATH_MAX).
const maxSymlinkTarget = 4096

// Mkdir creates a directory.
func (e *Engine) Mkdir(auth *metadata.AuthContext, path string, mode uint32) (attr *metadata.FileAttr, err error) {
	defer e.observe("Mkdir", time.Now(), &err)

	if mode == 0 {
		mode = 0o755
	}
	err = e.update(auth, path, func(o *op) error {
		n, err := o.createChild(path, metadata.FileTypeDirectory, mode)
		if err != nil {
			return err
		}
		a := n.Attr()
		attr = &a
		return nil
	})
	return attr, err
}

// Symlink creates a symbolic link at path pointing to target. The target
// is stored verbatim and never resolved by the engine.
func (e *Engine) Symlink(auth *metadata.AuthContext, path, target string) (attr *metadata.FileAttr, err error) {
	defer e.observe("Symlink", time.Now(), &err)

	if target == "" || len(target) > maxSymlinkTarget {
		return nil, metadata.NewError(metadata.ErrInvalidArgument, path, "invalid symlink target length %d", len(target))
	}
	err = e.update(auth, path, func(o *op) error {
		n, err := o.createChild(path, metadata.FileTypeSymlink, 0o777)
		if err != nil {
			return err
		}
		n.Target = target
		a := n.Attr()
		attr = &a
		return nil
	})
	return attr, err
}

// createChild creates a directory or symlink node at path.
func (o *op) createChild(path string, typ metadata.FileType, mode uint32) (*tree.Node, error) {
	dir, name, err := o.t.ResolveParent(path)
	if err != nil {
		return nil, err
	}
	return o.createChildIn(dir, name, typ, mode, path)
}

// createChildIn creates a directory or symlink node named name in dir.
func (o *op) createChildIn(dir *tree.Node, name string, typ metadata.FileType, mode uint32, path string) (*tree.Node, error) {
	if err := metadata.ValidateName(name, o.e.opts.EnableADS); err != nil {
		return nil, err
	}
	if err := o.requireDirWrite(dir, path); err != nil {
		return nil, err
	}
	if _, exists := o.t.Lookup(dir, name); exists {
		return nil, metadata.NewError(metadata.ErrAlreadyExists, path, "file exists")
	}

	n := o.newNode(typ, mode)
	if err := o.t.Attach(dir, n, name); err != nil {
		return nil, err
	}
	dir.Touch(o.now)
	o.event(metadata.EventCreated, path, n)
	return n, nil
}

// Readlink returns a symlink's target.
func (e *Engine) Readlink(auth *metadata.AuthContext, path string) (target string, err error) {
	defer e.observe("Readlink", time.Now(), &err)

	err = e.inspect(auth, func(o *op) error {
		n, err := o.t.ResolvePath(path)
		if err != nil {
			return err
		}
		if n.Type != metadata.FileTypeSymlink {
			return metadata.NewError(metadata.ErrInvalidArgument, path, "not a symlink")
		}
		target = n.Target
		return nil
	})
	return target, err
}

// Getattr returns the attributes of a path. With a "path:stream" suffix
// the size is that of the named stream.
func (e *Engine) Getattr(auth *metadata.AuthContext, path string) (attr *metadata.FileAttr, err error) {
	defer e.observe("Getattr", time.Now(), &err)

	err = e.inspect(auth, func(o *op) error {
		filePath, stream, err := e.splitStream(path, "")
		if err != nil {
			return err
		}
		n, err := o.t.ResolvePath(filePath)
		if err != nil {
			return err
		}
		a := n.Attr()
		if stream != "" {
			s, ok := n.Streams[stream]
			if !ok {
				return metadata.NewError(metadata.ErrNotFound, path, "no such stream")
			}
			a.Size = s.Size
		}
		attr = &a
		return nil
	})
	return attr, err
}

// GetattrByID returns the attributes of a node by ID.
func (e *Engine) GetattrByID(auth *metadata.AuthContext, id metadata.NodeID) (attr *metadata.FileAttr, err error) {
	defer e.observe("GetattrByID", time.Now(), &err)

	err = e.inspect(auth, func(o *op) error {
		n, ok := o.t.Node(id)
		if !ok || n.Orphaned {
			return metadata.NewError(metadata.ErrNotFound, "", "node %d not found", id)
		}
		a := n.Attr()
		attr = &a
		return nil
	})
	return attr, err
}

// Lookup resolves name in the directory with ID parent.
func (e *Engine) Lookup(auth *metadata.AuthContext, parent metadata.NodeID, name string) (attr *metadata.FileAttr, err error) {
	defer e.observe("Lookup", time.Now(), &err)

	err = e.inspect(auth, func(o *op) error {
		dir, ok := o.t.Node(parent)
		if !ok || dir.Orphaned {
			return metadata.NewError(metadata.ErrNotFound, name, "parent %d not found", parent)
		}
		if !dir.IsDir() {
			return metadata.NewError(metadata.ErrNotDirectory, name, "parent %d is not a directory", parent)
		}
		if err := o.require(dir, metadata.PermExecute, name); err != nil {
			return err
		}
		n, ok := o.t.Lookup(dir, name)
		if !ok {
			return metadata.NewError(metadata.ErrNotFound, name, "no such file or directory")
		}
		a := n.Attr()
		attr = &a
		return nil
	})
	return attr, err
}

// CreateByID creates an empty regular file or a directory named name in
// the directory parent, for adapters that address nodes by ID. Names that
// arrive as raw bytes should go through metadata.NameFromBytes first.
func (e *Engine) CreateByID(auth *metadata.AuthContext, parent metadata.NodeID, name string, typ metadata.FileType, mode uint32) (attr *metadata.FileAttr, err error) {
	defer e.observe("CreateByID", time.Now(), &err)

	if typ != metadata.FileTypeRegular && typ != metadata.FileTypeDirectory {
		return nil, metadata.NewError(metadata.ErrInvalidArgument, name, "cannot create %s by id", typ)
	}

	err = e.update(auth, name, func(o *op) error {
		dir, ok := o.t.Node(parent)
		if !ok || dir.Orphaned {
			return metadata.NewError(metadata.ErrNotFound, name, "parent %d not found", parent)
		}
		if !dir.IsDir() {
			return metadata.NewError(metadata.ErrNotDirectory, name, "parent %d is not a directory", parent)
		}
		path := childPath(o.t.Path(dir), name)

		var (
			n         *tree.Node
			createErr error
		)
		if typ == metadata.FileTypeDirectory {
			if mode == 0 {
				mode = 0o755
			}
			n, createErr = o.createChildIn(dir, name, typ, mode, path)
		} else {
			if err := metadata.ValidateName(name, o.e.opts.EnableADS); err != nil {
				return err
			}
			if _, exists := o.t.Lookup(dir, name); exists {
				return metadata.NewError(metadata.ErrAlreadyExists, path, "file exists")
			}
			n, createErr = o.createFile(dir, name, mode, path)
		}
		if createErr != nil {
			return createErr
		}
		a := n.Attr()
		attr = &a
		return nil
	})
	return attr, err
}

func childPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// ReadDir lists a directory ordered by name.
func (e *Engine) ReadDir(auth *metadata.AuthContext, path string) (entries []metadata.DirEntry, err error) {
	defer e.observe("ReadDir", time.Now(), &err)

	err = e.inspect(auth, func(o *op) error {
		entries, err = o.list(path, false)
		return err
	})
	return entries, err
}

// ReadDirPlus lists a directory with each entry's attributes.
func (e *Engine) ReadDirPlus(auth *metadata.AuthContext, path string) (entries []metadata.DirEntry, err error) {
	defer e.observe("ReadDirPlus", time.Now(), &err)

	err = e.inspect(auth, func(o *op) error {
		entries, err = o.list(path, true)
		return err
	})
	return entries, err
}

func (o *op) list(path string, plus bool) ([]metadata.DirEntry, error) {
	dir, err := o.t.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, metadata.NewError(metadata.ErrNotDirectory, path, "not a directory")
	}
	if err := o.require(dir, metadata.PermRead, path); err != nil {
		return nil, err
	}

	children := o.t.Children(dir)
	entries := make([]metadata.DirEntry, len(children))
	for i, child := range children {
		entries[i] = metadata.DirEntry{Name: child.Name, ID: child.ID, Type: child.Type}
		if plus {
			a := child.Attr()
			entries[i].Attr = &a
		}
	}
	return entries, nil
}
