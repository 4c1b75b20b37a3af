package engine

import (
	"sort"
	"time"

	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/tree"
)

// MaxXattrValueSize bounds a single extended attribute value.
const MaxXattrValueSize = 64 * 1024

// XattrFlags controls XattrSet.
type XattrFlags uint8

const (
	// XattrCreate fails if the attribute already exists.
	XattrCreate XattrFlags = 1 << iota

	// XattrReplace fails if the attribute does not exist.
	XattrReplace
)

func (e *Engine) xattrsEnabled(path string) error {
	if !e.opts.EnableXattrs {
		return metadata.NewError(metadata.ErrNotSupported, path, "extended attributes are disabled")
	}
	return nil
}

func validateXattrName(name, path string) error {
	switch {
	case name == "":
		return metadata.NewError(metadata.ErrInvalidArgument, path, "empty xattr name")
	case len(name) > metadata.MaxNameLen:
		return metadata.NewError(metadata.ErrNameTooLong, path, "xattr name exceeds %d bytes", metadata.MaxNameLen)
	}
	for i := 0; i < len(name); i++ {
		if name[i] == 0 {
			return metadata.NewError(metadata.ErrInvalidArgument, path, "xattr name contains NUL")
		}
	}
	return nil
}

// XattrGet returns a copy of an extended attribute's value.
func (e *Engine) XattrGet(auth *metadata.AuthContext, path, name string) (value []byte, err error) {
	defer e.observe("XattrGet", time.Now(), &err)

	if err := e.xattrsEnabled(path); err != nil {
		return nil, err
	}
	err = e.inspect(auth, func(o *op) error {
		n, err := o.xattrNode(path, metadata.PermRead)
		if err != nil {
			return err
		}
		v, ok := n.Xattrs[name]
		if !ok {
			return metadata.NewError(metadata.ErrNotFound, path, "no such attribute %q", name)
		}
		value = append([]byte(nil), v...)
		return nil
	})
	return value, err
}

// XattrList returns the names of a node's extended attributes, sorted.
func (e *Engine) XattrList(auth *metadata.AuthContext, path string) (names []string, err error) {
	defer e.observe("XattrList", time.Now(), &err)

	if err := e.xattrsEnabled(path); err != nil {
		return nil, err
	}
	err = e.inspect(auth, func(o *op) error {
		n, err := o.xattrNode(path, metadata.PermRead)
		if err != nil {
			return err
		}
		names = make([]string, 0, len(n.Xattrs))
		for k := range n.Xattrs {
			names = append(names, k)
		}
		sort.Strings(names)
		return nil
	})
	return names, err
}

// XattrSet sets an extended attribute.
func (e *Engine) XattrSet(auth *metadata.AuthContext, path, name string, value []byte, flags XattrFlags) (err error) {
	defer e.observe("XattrSet", time.Now(), &err)

	if err := e.xattrsEnabled(path); err != nil {
		return err
	}
	if err := validateXattrName(name, path); err != nil {
		return err
	}
	if len(value) > MaxXattrValueSize {
		return metadata.NewError(metadata.ErrInvalidArgument, path, "xattr value exceeds %d bytes", MaxXattrValueSize)
	}
	if flags&XattrCreate != 0 && flags&XattrReplace != 0 {
		return metadata.NewError(metadata.ErrInvalidArgument, path, "create and replace are exclusive")
	}

	return e.update(auth, path, func(o *op) error {
		n, err := o.xattrNode(path, metadata.PermWrite)
		if err != nil {
			return err
		}
		_, exists := n.Xattrs[name]
		switch {
		case exists && flags&XattrCreate != 0:
			return metadata.NewError(metadata.ErrAlreadyExists, path, "attribute %q exists", name)
		case !exists && flags&XattrReplace != 0:
			return metadata.NewError(metadata.ErrNotFound, path, "no such attribute %q", name)
		}
		n.Xattrs[name] = append([]byte(nil), value...)
		n.Ctime = o.now
		o.xattrEvent(path, n, name)
		return nil
	})
}

// XattrRemove removes an extended attribute.
func (e *Engine) XattrRemove(auth *metadata.AuthContext, path, name string) (err error) {
	defer e.observe("XattrRemove", time.Now(), &err)

	if err := e.xattrsEnabled(path); err != nil {
		return err
	}
	return e.update(auth, path, func(o *op) error {
		n, err := o.xattrNode(path, metadata.PermWrite)
		if err != nil {
			return err
		}
		if _, ok := n.Xattrs[name]; !ok {
			return metadata.NewError(metadata.ErrNotFound, path, "no such attribute %q", name)
		}
		delete(n.Xattrs, name)
		n.Ctime = o.now
		o.xattrEvent(path, n, name)
		return nil
	})
}

func (o *op) xattrNode(path string, want uint32) (*tree.Node, error) {
	n, err := o.t.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	if err := o.require(n, want, path); err != nil {
		return nil, err
	}
	return n, nil
}

func (o *op) xattrEvent(path string, n *tree.Node, name string) {
	o.event(metadata.EventXattrChanged, path, n)
	if len(o.events) > 0 {
		o.events[len(o.events)-1].Name = name
	}
}
