package engine

import (
	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/tree"
)

// require fails with ErrPermissionDenied unless the caller holds want on n.
func (o *op) require(n *tree.Node, want uint32, path string) error {
	attr := n.Attr()
	if !o.e.opts.Security.CanAccess(o.auth, &attr, want) {
		return metadata.NewError(metadata.ErrPermissionDenied, path, "permission denied")
	}
	return nil
}

// requireOwner fails unless the caller owns n (or bypasses as root).
func (o *op) requireOwner(n *tree.Node, path string) error {
	attr := n.Attr()
	if !o.e.opts.Security.IsOwner(o.auth, &attr) {
		return metadata.NewError(metadata.ErrPermissionDenied, path, "operation requires ownership")
	}
	return nil
}

// requireDirWrite checks write and search permission on a parent directory.
func (o *op) requireDirWrite(dir *tree.Node, path string) error {
	return o.require(dir, metadata.PermWrite|metadata.PermExecute, path)
}

// accessBits maps handle access to permission bits.
func accessBits(a metadata.Access) uint32 {
	var want uint32
	if a.Has(metadata.AccessRead) {
		want |= metadata.PermRead
	}
	if a.Has(metadata.AccessWrite) {
		want |= metadata.PermWrite
	}
	return want
}

// isPrivileged reports whether the caller bypasses permission checks.
func (o *op) isPrivileged() bool {
	policy := o.e.opts.Security
	if !policy.EnforcePOSIXPermissions {
		return true
	}
	uid, _, _ := policy.Credentials(o.auth)
	return uid == 0 && policy.RootBypassPermissions
}

// inGroup reports whether the caller is a member of gid.
func (o *op) inGroup(gid uint32) bool {
	_, primary, gids := o.e.opts.Security.Credentials(o.auth)
	if primary == gid {
		return true
	}
	for _, g := range gids {
		if g == gid {
			return true
		}
	}
	return false
}
