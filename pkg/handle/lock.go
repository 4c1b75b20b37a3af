package handle

import "github.com/marmos91/agentfs/pkg/metadata"

// Lock is a byte-range lock held by a handle.
type Lock struct {
	Handle metadata.HandleID
	PID    uint32
	Range  metadata.LockRange
}

func validateRange(rng metadata.LockRange) error {
	if rng.Kind != metadata.LockShared && rng.Kind != metadata.LockExclusive {
		return metadata.NewError(metadata.ErrInvalidArgument, "", "unknown lock kind %d", rng.Kind)
	}
	return nil
}

// Lock acquires a byte-range lock for the handle. Conflicts fail
// immediately with would-block; there is no wait queue.
//
// Locks held by the same handle never conflict with each other.
func (t *Table) Lock(id metadata.HandleID, rng metadata.LockRange) error {
	if err := validateRange(rng); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[id]
	if !ok {
		return metadata.NewError(metadata.ErrInvalidHandle, "", "unknown handle %d", id)
	}

	if conflict := t.conflictLocked(h, rng); conflict != nil {
		return metadata.NewError(metadata.ErrWouldBlock, "",
			"range [%d,%d) conflicts with %s lock held by handle %d",
			rng.Offset, rng.End(), conflict.Range.Kind, conflict.Handle)
	}

	t.locks[h.Target] = append(t.locks[h.Target], Lock{Handle: id, PID: h.PID, Range: rng})
	return nil
}

// Unlock releases the lock the handle holds on exactly rng (offset and
// length; the kind is ignored).
func (t *Table) Unlock(id metadata.HandleID, rng metadata.LockRange) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[id]
	if !ok {
		return metadata.NewError(metadata.ErrInvalidHandle, "", "unknown handle %d", id)
	}

	locks := t.locks[h.Target]
	for i, l := range locks {
		if l.Handle == id && l.Range.Offset == rng.Offset && l.Range.Length == rng.Length {
			locks = append(locks[:i], locks[i+1:]...)
			if len(locks) == 0 {
				delete(t.locks, h.Target)
			} else {
				t.locks[h.Target] = locks
			}
			return nil
		}
	}
	return metadata.NewError(metadata.ErrNotFound, "", "no lock on [%d,%d) for handle %d", rng.Offset, rng.End(), id)
}

// TestLock reports the first lock that would block rng, or nil.
func (t *Table) TestLock(id metadata.HandleID, rng metadata.LockRange) (*Lock, error) {
	if err := validateRange(rng); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[id]
	if !ok {
		return nil, metadata.NewError(metadata.ErrInvalidHandle, "", "unknown handle %d", id)
	}
	return t.conflictLocked(h, rng), nil
}

// Locks returns the locks held on a stream.
func (t *Table) Locks(target Target) []Lock {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Lock, len(t.locks[target]))
	copy(out, t.locks[target])
	return out
}

func (t *Table) conflictLocked(h *Handle, rng metadata.LockRange) *Lock {
	for _, l := range t.locks[h.Target] {
		if l.Handle == h.ID {
			continue
		}
		if l.Range.Conflicts(rng) {
			conflict := l
			return &conflict
		}
	}
	return nil
}

func (t *Table) dropLocksLocked(h *Handle) {
	locks := t.locks[h.Target]
	kept := locks[:0]
	for _, l := range locks {
		if l.Handle != h.ID {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(t.locks, h.Target)
		return
	}
	t.locks[h.Target] = kept
}
