package engine

import (
	"context"
	"time"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/metadata"
)

// Binding is the view a process resolves paths against. Exactly one of
// Branch and Snapshot is set.
type Binding struct {
	Branch   metadata.BranchID
	Snapshot metadata.SnapshotID
}

// BindProcessToBranch makes every subsequent path-resolving call from pid
// resolve against branch id. Handles pid already holds keep the tree they
// were opened in.
func (e *Engine) BindProcessToBranch(ctx context.Context, pid uint32, id metadata.BranchID) (err error) {
	defer e.observe("BindProcessToBranch", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errClosed
	}
	if _, ok := e.branches[id]; !ok {
		e.mu.Unlock()
		return metadata.NewError(metadata.ErrNotFound, "", "branch %s not found", id)
	}
	e.bindings[pid] = Binding{Branch: id}
	e.mu.Unlock()

	logger.Info("Process %d bound to branch %s", pid, id)
	ev := e.registryEvent(metadata.EventProcessBound)
	ev.PID, ev.Branch = pid, id
	e.emitRegistry(ev)
	return nil
}

// BindProcessToSnapshot binds pid to a snapshot for read-only inspection.
// Mutations through the binding fail with ErrReadOnly.
func (e *Engine) BindProcessToSnapshot(ctx context.Context, pid uint32, id metadata.SnapshotID) (err error) {
	defer e.observe("BindProcessToSnapshot", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errClosed
	}
	if _, ok := e.snapshots[id]; !ok {
		e.mu.Unlock()
		return metadata.NewError(metadata.ErrNotFound, "", "snapshot %s not found", id)
	}
	e.bindings[pid] = Binding{Snapshot: id}
	e.mu.Unlock()

	logger.Info("Process %d bound to snapshot %s", pid, id)
	ev := e.registryEvent(metadata.EventProcessBound)
	ev.PID, ev.Snapshot = pid, id
	e.emitRegistry(ev)
	return nil
}

// UnbindProcess returns pid to the default branch. Unbinding an unbound
// process is a no-op.
func (e *Engine) UnbindProcess(ctx context.Context, pid uint32) (err error) {
	defer e.observe("UnbindProcess", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	b, ok := e.bindings[pid]
	delete(e.bindings, pid)
	e.mu.Unlock()

	if !ok {
		return nil
	}

	logger.Info("Process %d unbound", pid)
	ev := e.registryEvent(metadata.EventProcessUnbound)
	ev.PID, ev.Branch, ev.Snapshot = pid, b.Branch, b.Snapshot
	e.emitRegistry(ev)
	return nil
}

// CurrentBranchForProcess returns the branch pid resolves against. It is
// empty when pid is bound to a snapshot.
func (e *Engine) CurrentBranchForProcess(pid uint32) metadata.BranchID {
	b := e.CurrentBinding(pid)
	return b.Branch
}

// CurrentBinding returns pid's binding, defaulting to the default branch.
func (e *Engine) CurrentBinding(pid uint32) Binding {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if b, ok := e.bindings[pid]; ok {
		return b
	}
	return Binding{Branch: metadata.DefaultBranchID}
}
