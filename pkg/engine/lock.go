package engine

import (
	"time"

	"github.com/marmos91/agentfs/pkg/handle"
	"github.com/marmos91/agentfs/pkg/metadata"
)

// Lock acquires a shared or exclusive byte-range lock on a handle's
// stream. Conflicting requests fail immediately with would-block.
func (e *Engine) Lock(auth *metadata.AuthContext, id metadata.HandleID, rng metadata.LockRange) (err error) {
	defer e.observe("Lock", time.Now(), &err)

	if err := e.lockable(id); err != nil {
		return err
	}
	return e.handles.Lock(id, rng)
}

// Unlock releases the lock a handle holds on exactly rng.
func (e *Engine) Unlock(auth *metadata.AuthContext, id metadata.HandleID, rng metadata.LockRange) (err error) {
	defer e.observe("Unlock", time.Now(), &err)

	return e.handles.Unlock(id, rng)
}

// TestLock returns the lock that would block rng, or nil if it could be
// acquired. Nothing is acquired.
func (e *Engine) TestLock(auth *metadata.AuthContext, id metadata.HandleID, rng metadata.LockRange) (conflict *handle.Lock, err error) {
	defer e.observe("TestLock", time.Now(), &err)

	if err := e.lockable(id); err != nil {
		return nil, err
	}
	return e.handles.TestLock(id, rng)
}

func (e *Engine) lockable(id metadata.HandleID) error {
	h, err := e.handles.Get(id)
	if err != nil {
		return err
	}
	if h.Stream == nil {
		return metadata.NewError(metadata.ErrIsDirectory, "", "handle %d is not a file", id)
	}
	return nil
}
