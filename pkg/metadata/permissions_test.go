package metadata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanAccess(t *testing.T) {
	policy := SecurityPolicy{EnforcePOSIXPermissions: true, DefaultUID: 65534, DefaultGID: 65534, RootBypassPermissions: true}
	attr := &FileAttr{Mode: 0o640, UID: 1000, GID: 100}
	ctx := context.Background()

	owner := NewAuthContext(ctx, 1, 1000, 1000)
	member := NewAuthContext(ctx, 2, 1001, 1001, 100)
	other := NewAuthContext(ctx, 3, 1002, 1002)
	root := NewAuthContext(ctx, 4, 0, 0)

	assert.True(t, policy.CanAccess(owner, attr, PermRead|PermWrite))
	assert.True(t, policy.CanAccess(member, attr, PermRead))
	assert.False(t, policy.CanAccess(member, attr, PermWrite))
	assert.False(t, policy.CanAccess(other, attr, PermRead))
	assert.True(t, policy.CanAccess(root, attr, PermWrite))
	assert.False(t, policy.CanAccess(ProcessContext(ctx, 5), attr, PermRead), "anonymous caller maps to default uid")

	policy.RootBypassPermissions = false
	assert.False(t, policy.CanAccess(root, attr, PermRead))

	disabled := SecurityPolicy{}
	assert.True(t, disabled.CanAccess(other, attr, PermWrite))
}

func TestIsOwner(t *testing.T) {
	policy := SecurityPolicy{EnforcePOSIXPermissions: true, RootBypassPermissions: true}
	attr := &FileAttr{UID: 1000}
	ctx := context.Background()

	assert.True(t, policy.IsOwner(NewAuthContext(ctx, 1, 1000, 1000), attr))
	assert.False(t, policy.IsOwner(NewAuthContext(ctx, 1, 1001, 1000), attr))
	assert.True(t, policy.IsOwner(NewAuthContext(ctx, 1, 0, 0), attr))
}

func TestShareModeAndLocks(t *testing.T) {
	assert.True(t, ShareAll.Allows(ReadWrite|AccessDelete))
	assert.True(t, ShareRead.Allows(AccessRead))
	assert.False(t, ShareRead.Allows(AccessWrite))
	assert.False(t, ShareNone.Allows(AccessRead))
	assert.True(t, ShareNone.Allows(0))

	a := LockRange{Offset: 0, Length: 10, Kind: LockShared}
	b := LockRange{Offset: 5, Length: 10, Kind: LockShared}
	c := LockRange{Offset: 10, Length: 5, Kind: LockExclusive}
	whole := LockRange{Offset: 100, Kind: LockExclusive}

	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Conflicts(b))
	assert.False(t, a.Overlaps(c), "adjacent ranges do not overlap")
	assert.True(t, b.Conflicts(c))
	assert.True(t, whole.Overlaps(LockRange{Offset: 1 << 62, Length: 1}))
	assert.Equal(t, uint64(10), a.End())
}
