package metadata

// SecurityPolicy controls POSIX permission enforcement.
type SecurityPolicy struct {
	// EnforcePOSIXPermissions turns on mode-bit checks. When false every
	// caller is allowed everything.
	EnforcePOSIXPermissions bool

	// DefaultUID and DefaultGID stand in for callers without credentials
	// and own files those callers create.
	DefaultUID uint32
	DefaultGID uint32

	// RootBypassPermissions lets UID 0 skip mode-bit checks.
	RootBypassPermissions bool
}

// Permission bits checked by CanAccess.
const (
	PermRead    uint32 = 4
	PermWrite   uint32 = 2
	PermExecute uint32 = 1
)

// Credentials resolves the caller's effective uid, gid and supplementary
// groups, substituting the policy defaults for missing values.
func (p SecurityPolicy) Credentials(auth *AuthContext) (uint32, uint32, []uint32) {
	uid, gid := p.DefaultUID, p.DefaultGID
	var gids []uint32
	if auth != nil {
		if auth.UID != nil {
			uid = *auth.UID
		}
		if auth.GID != nil {
			gid = *auth.GID
		}
		gids = auth.GIDs
	}
	return uid, gid, gids
}

// CanAccess reports whether the caller may perform want (a combination of
// PermRead, PermWrite and PermExecute) on a node with attr.
//
// Permission check logic:
//   - Enforcement disabled: always granted
//   - Root with RootBypassPermissions: always granted
//   - Owner: owner bits (mode >> 6)
//   - Group member: group bits (mode >> 3)
//   - Other: other bits
func (p SecurityPolicy) CanAccess(auth *AuthContext, attr *FileAttr, want uint32) bool {
	if !p.EnforcePOSIXPermissions {
		return true
	}

	uid, gid, gids := p.Credentials(auth)
	if uid == 0 && p.RootBypassPermissions {
		return true
	}

	var bits uint32
	switch {
	case uid == attr.UID:
		bits = (attr.Mode >> 6) & 7
	case gid == attr.GID || containsGID(gids, attr.GID):
		bits = (attr.Mode >> 3) & 7
	default:
		bits = attr.Mode & 7
	}
	return bits&want == want
}

// IsOwner reports whether the caller owns attr (or is a bypassing root),
// as required for chmod, chown and explicit timestamp changes.
func (p SecurityPolicy) IsOwner(auth *AuthContext, attr *FileAttr) bool {
	if !p.EnforcePOSIXPermissions {
		return true
	}
	uid, _, _ := p.Credentials(auth)
	if uid == 0 && p.RootBypassPermissions {
		return true
	}
	return uid == attr.UID
}

// containsGID checks if a GID is in the list of supplementary GIDs.
func containsGID(gids []uint32, target uint32) bool {
	for _, gid := range gids {
		if gid == target {
			return true
		}
	}
	return false
}
