package engine

import (
	"time"

	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/tree"
)

// SetAttr applies the non-nil fields of attrs and returns the resulting
// attributes.
//
// Mode and explicit times require ownership. Changing the owner requires
// privilege; the owner may change the group to one they belong to. Size
// requires write permission and applies to the default stream.
func (e *Engine) SetAttr(auth *metadata.AuthContext, path string, attrs metadata.SetAttrs) (attr *metadata.FileAttr, err error) {
	defer e.observe("SetAttr", time.Now(), &err)

	err = e.update(auth, path, func(o *op) error {
		n, err := o.t.ResolvePath(path)
		if err != nil {
			return err
		}
		if err := o.setAttr(n, path, attrs); err != nil {
			return err
		}
		a := n.Attr()
		attr = &a
		return nil
	})
	return attr, err
}

func (o *op) setAttr(n *tree.Node, path string, attrs metadata.SetAttrs) error {
	// Check everything before mutating anything.
	if attrs.Mode != nil || attrs.Atime != nil || attrs.Mtime != nil {
		if err := o.requireOwner(n, path); err != nil {
			return err
		}
	}
	if attrs.UID != nil && *attrs.UID != n.UID && !o.isPrivileged() {
		return metadata.NewError(metadata.ErrPermissionDenied, path, "changing the owner requires privilege")
	}
	if attrs.GID != nil && *attrs.GID != n.GID && !o.isPrivileged() {
		if err := o.requireOwner(n, path); err != nil {
			return err
		}
		if !o.inGroup(*attrs.GID) {
			return metadata.NewError(metadata.ErrPermissionDenied, path, "not a member of group %d", *attrs.GID)
		}
	}
	if attrs.Size != nil {
		if !n.IsFile() {
			if n.IsDir() {
				return metadata.NewError(metadata.ErrIsDirectory, path, "is a directory")
			}
			return metadata.NewError(metadata.ErrInvalidArgument, path, "not a regular file")
		}
		if err := o.require(n, metadata.PermWrite, path); err != nil {
			return err
		}
	}

	if attrs.Size != nil {
		if err := o.truncate(n.Streams[""], *attrs.Size, path); err != nil {
			return err
		}
		n.Mtime = o.now
		o.event(metadata.EventModified, path, n)
	}
	if attrs.Mode != nil {
		n.Mode = *attrs.Mode & metadata.ModePermMask
	}
	if attrs.UID != nil {
		n.UID = *attrs.UID
	}
	if attrs.GID != nil {
		n.GID = *attrs.GID
	}
	if attrs.Atime != nil {
		n.Atime = *attrs.Atime
	}
	if attrs.Mtime != nil {
		n.Mtime = *attrs.Mtime
	}
	n.Ctime = o.now
	o.event(metadata.EventAttrChanged, path, n)
	return nil
}

// SetTimes sets the access and modification times. Nil leaves a time
// unchanged.
func (e *Engine) SetTimes(auth *metadata.AuthContext, path string, atime, mtime *time.Time) error {
	_, err := e.SetAttr(auth, path, metadata.SetAttrs{Atime: atime, Mtime: mtime})
	return err
}

// SetMode sets the permission bits.
func (e *Engine) SetMode(auth *metadata.AuthContext, path string, mode uint32) error {
	_, err := e.SetAttr(auth, path, metadata.SetAttrs{Mode: &mode})
	return err
}

// SetOwner sets the owner and group. Nil leaves a field unchanged.
func (e *Engine) SetOwner(auth *metadata.AuthContext, path string, uid, gid *uint32) error {
	_, err := e.SetAttr(auth, path, metadata.SetAttrs{UID: uid, GID: gid})
	return err
}
