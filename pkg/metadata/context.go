package metadata

import "context"

// AuthContext identifies the caller of a core operation.
//
// PID selects the branch the call resolves against. UID, GID and GIDs are
// used for permission checks when the engine enforces POSIX permissions;
// a nil UID or GID is replaced by the engine's configured defaults.
type AuthContext struct {
	Context context.Context

	// PID is the operating-system process identifier of the caller
	PID uint32

	// UID is the effective user ID of the caller, if known
	UID *uint32

	// GID is the effective group ID of the caller, if known
	GID *uint32

	// GIDs lists supplementary group IDs
	GIDs []uint32
}

// NewAuthContext returns an AuthContext for pid with explicit credentials.
func NewAuthContext(ctx context.Context, pid, uid, gid uint32, gids ...uint32) *AuthContext {
	return &AuthContext{
		Context: ctx,
		PID:     pid,
		UID:     &uid,
		GID:     &gid,
		GIDs:    gids,
	}
}

// ProcessContext returns an AuthContext for pid without credentials.
func ProcessContext(ctx context.Context, pid uint32) *AuthContext {
	return &AuthContext{Context: ctx, PID: pid}
}

// Ctx returns the request context, never nil.
func (a *AuthContext) Ctx() context.Context {
	if a == nil || a.Context == nil {
		return context.Background()
	}
	return a.Context
}
