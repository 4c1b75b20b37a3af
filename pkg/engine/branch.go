package engine

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/tree"
)

// BranchInfo describes a branch.
type BranchInfo struct {
	ID   metadata.BranchID
	Name string

	// Parent is the snapshot the branch was created from, if any.
	Parent metadata.SnapshotID

	// Source is the branch forked by CreateBranchFromCurrent, if any.
	Source metadata.BranchID

	Created time.Time
}

type branchEntry struct {
	info BranchInfo
	tree *tree.Tree

	// ancestry lists every snapshot this branch descends from, nearest
	// first.
	ancestry []metadata.SnapshotID
}

// CreateBranchFromSnapshot creates a writable branch whose initial content
// is the snapshot's.
func (e *Engine) CreateBranchFromSnapshot(ctx context.Context, snapID metadata.SnapshotID, name string) (id metadata.BranchID, err error) {
	defer e.observe("CreateBranchFromSnapshot", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateLabel(name); err != nil {
		return "", err
	}

	e.mu.RLock()
	snap, ok := e.snapshots[snapID]
	e.mu.RUnlock()
	if !ok {
		return "", metadata.NewError(metadata.ErrNotFound, "", "snapshot %s not found", snapID)
	}

	ancestry := append([]metadata.SnapshotID{snapID}, snap.ancestry...)
	return e.createBranch(ctx, snap.tree, BranchInfo{Name: name, Parent: snapID}, ancestry)
}

// CreateBranchFromCurrent forks the caller's current view. A process bound
// to a snapshot forks that snapshot.
func (e *Engine) CreateBranchFromCurrent(auth *metadata.AuthContext, name string) (id metadata.BranchID, err error) {
	defer e.observe("CreateBranchFromCurrent", time.Now(), &err)

	if err := auth.Ctx().Err(); err != nil {
		return "", err
	}
	if err := validateLabel(name); err != nil {
		return "", err
	}
	v, err := e.resolveView(pid(auth))
	if err != nil {
		return "", err
	}

	e.mu.RLock()
	var (
		info     BranchInfo
		ancestry []metadata.SnapshotID
		found    bool
	)
	if v.readOnly() {
		if snap, ok := e.snapshots[v.snapshot]; ok {
			info = BranchInfo{Name: name, Parent: v.snapshot}
			ancestry = append([]metadata.SnapshotID{v.snapshot}, snap.ancestry...)
			found = true
		}
	} else if br, ok := e.branches[v.branch]; ok {
		info = BranchInfo{Name: name, Parent: br.info.Parent, Source: v.branch}
		ancestry = slices.Clone(br.ancestry)
		found = true
	}
	e.mu.RUnlock()

	if !found {
		return "", metadata.NewError(metadata.ErrNotFound, "", "view of process %d was deleted", pid(auth))
	}

	return e.createBranch(auth.Ctx(), v.tree, info, ancestry)
}

func (e *Engine) createBranch(ctx context.Context, base *tree.Tree, info BranchInfo, ancestry []metadata.SnapshotID) (metadata.BranchID, error) {
	if err := e.checkBranchLimit(); err != nil {
		return "", err
	}

	t, err := e.cloneTree(ctx, base, false)
	if err != nil {
		return "", err
	}

	u, err := uuid.NewV7()
	if err != nil {
		e.dropTree(t)
		return "", metadata.WrapError(metadata.ErrInternal, "", err, "generate branch id")
	}
	info.ID = metadata.BranchID(u.String())
	info.Created = e.opts.Clock.Now()

	e.mu.Lock()
	err = e.checkBranchLimitLocked()
	if err == nil && info.Parent != "" {
		if _, ok := e.snapshots[info.Parent]; !ok {
			err = metadata.NewError(metadata.ErrNotFound, "", "snapshot %s not found", info.Parent)
		}
	}
	if err != nil {
		e.mu.Unlock()
		e.dropTree(t)
		return "", err
	}
	e.branches[info.ID] = &branchEntry{info: info, tree: t, ancestry: ancestry}
	e.mu.Unlock()

	logger.Info("Branch %s (%q) created (parent=%q, source=%q)", info.ID, info.Name, info.Parent, info.Source)
	ev := e.registryEvent(metadata.EventBranchCreated)
	ev.Branch, ev.Snapshot, ev.Name = info.ID, info.Parent, info.Name
	e.emitRegistry(ev)
	return info.ID, nil
}

func (e *Engine) checkBranchLimit() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.checkBranchLimitLocked()
}

func (e *Engine) checkBranchLimitLocked() error {
	if e.closed {
		return errClosed
	}
	if limit := e.opts.Limits.MaxBranches; limit > 0 && len(e.branches) >= limit {
		return metadata.NewError(metadata.ErrResourceExhausted, "", "branch limit %d reached", limit)
	}
	return nil
}

// ListBranches returns every branch, the default branch included, ordered
// by creation time.
func (e *Engine) ListBranches(ctx context.Context) ([]BranchInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	out := make([]BranchInfo, 0, len(e.branches))
	for _, b := range e.branches {
		out = append(out, b.info)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteBranch removes a branch and releases its content references. The
// default branch cannot be deleted; a branch with bound processes or open
// handles is busy.
func (e *Engine) DeleteBranch(ctx context.Context, id metadata.BranchID) (err error) {
	defer e.observe("DeleteBranch", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return err
	}
	if id == metadata.DefaultBranchID {
		return metadata.NewError(metadata.ErrInvalidArgument, "", "the default branch cannot be deleted")
	}

	e.mu.Lock()
	entry, ok := e.branches[id]
	if !ok {
		e.mu.Unlock()
		return metadata.NewError(metadata.ErrNotFound, "", "branch %s not found", id)
	}
	for p, b := range e.bindings {
		if b.Branch == id {
			e.mu.Unlock()
			return metadata.NewError(metadata.ErrBusy, "", "process %d is bound to branch %s", p, id)
		}
	}
	if n := e.handles.ViewHandles(branchViewKey(id)); n > 0 {
		e.mu.Unlock()
		return metadata.NewError(metadata.ErrBusy, "", "%d handles open in branch %s", n, id)
	}
	delete(e.branches, id)
	e.mu.Unlock()

	e.dropTree(entry.tree)

	logger.Info("Branch %s deleted", id)
	ev := e.registryEvent(metadata.EventBranchDeleted)
	ev.Branch, ev.Name = id, entry.info.Name
	e.emitRegistry(ev)
	return nil
}
