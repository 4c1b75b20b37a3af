package engine

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/tree"
)

// SnapshotInfo describes a snapshot.
type SnapshotInfo struct {
	ID      metadata.SnapshotID
	Name    string
	Branch  metadata.BranchID // branch the snapshot was taken from
	Created time.Time
}

type snapshotEntry struct {
	info SnapshotInfo
	tree *tree.Tree

	// ancestry lists the snapshots the source branch descended from.
	ancestry []metadata.SnapshotID
}

// validateLabel checks an optional snapshot or branch name.
func validateLabel(name string) error {
	if len(name) > metadata.MaxNameLen {
		return metadata.NewError(metadata.ErrNameTooLong, name, "name exceeds %d bytes", metadata.MaxNameLen)
	}
	if strings.ContainsAny(name, "/\x00") {
		return metadata.NewError(metadata.ErrInvalidName, name, "name contains '/' or NUL")
	}
	return nil
}

// cloneTree copies t for a new snapshot or branch, sealing and retaining
// every content reference so the copies share content.
func (e *Engine) cloneTree(ctx context.Context, t *tree.Tree, readOnly bool) (*tree.Tree, error) {
	t.RLock()
	defer t.RUnlock()

	// a snapshot or branch deleted since the caller looked it up
	if t.Retired() {
		return nil, metadata.NewError(metadata.ErrNotFound, "", "source was deleted")
	}

	c := t.Clone(readOnly)
	if err := e.share(ctx, c.ContentIDs()); err != nil {
		return nil, err
	}
	return c, nil
}

// dropTree releases every content reference held by t.
func (e *Engine) dropTree(t *tree.Tree) {
	t.Lock()
	defer t.Unlock()

	t.Retire()
	for _, id := range t.ContentIDs() {
		e.release(id)
	}
}

// CreateSnapshot freezes the caller's current branch. The snapshot shares
// all content with the branch; later writes on either side clone what
// they touch. name is optional and need not be unique.
func (e *Engine) CreateSnapshot(auth *metadata.AuthContext, name string) (id metadata.SnapshotID, err error) {
	defer e.observe("CreateSnapshot", time.Now(), &err)

	if err := validateLabel(name); err != nil {
		return "", err
	}
	v, err := e.resolveView(pid(auth))
	if err != nil {
		return "", err
	}
	if v.readOnly() {
		return "", metadata.NewError(metadata.ErrReadOnly, "", "process %d is bound to snapshot %s", pid(auth), v.snapshot)
	}
	if err := e.checkSnapshotLimit(); err != nil {
		return "", err
	}

	snap, err := e.cloneTree(auth.Ctx(), v.tree, true)
	if err != nil {
		return "", err
	}

	u, err := uuid.NewV7()
	if err != nil {
		e.dropTree(snap)
		return "", metadata.WrapError(metadata.ErrInternal, "", err, "generate snapshot id")
	}
	id = metadata.SnapshotID(u.String())
	entry := &snapshotEntry{
		info: SnapshotInfo{ID: id, Name: name, Branch: v.branch, Created: e.opts.Clock.Now()},
		tree: snap,
	}

	e.mu.Lock()
	if err := e.checkSnapshotLimitLocked(); err != nil {
		e.mu.Unlock()
		e.dropTree(snap)
		return "", err
	}
	if br, ok := e.branches[v.branch]; ok {
		entry.ancestry = br.ancestry
	}
	e.snapshots[id] = entry
	e.mu.Unlock()

	logger.Info("Snapshot %s (%q) created from branch %s", id, name, v.branch)
	ev := e.registryEvent(metadata.EventSnapshotCreated)
	ev.Snapshot, ev.Branch, ev.Name = id, v.branch, name
	e.emitRegistry(ev)
	return id, nil
}

func (e *Engine) checkSnapshotLimit() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.checkSnapshotLimitLocked()
}

func (e *Engine) checkSnapshotLimitLocked() error {
	if e.closed {
		return errClosed
	}
	if limit := e.opts.Limits.MaxSnapshots; limit > 0 && len(e.snapshots) >= limit {
		return metadata.NewError(metadata.ErrResourceExhausted, "", "snapshot limit %d reached", limit)
	}
	return nil
}

// ListSnapshots returns every snapshot ordered by creation time.
func (e *Engine) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	out := make([]SnapshotInfo, 0, len(e.snapshots))
	for _, s := range e.snapshots {
		out = append(out, s.info)
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

// DeleteSnapshot removes a snapshot and releases its content references.
// It fails with busy while a live branch descends from the snapshot, a
// process is bound to it, or handles are open in it.
func (e *Engine) DeleteSnapshot(ctx context.Context, id metadata.SnapshotID) (err error) {
	defer e.observe("DeleteSnapshot", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	entry, ok := e.snapshots[id]
	if !ok {
		e.mu.Unlock()
		return metadata.NewError(metadata.ErrNotFound, "", "snapshot %s not found", id)
	}
	for _, br := range e.branches {
		if slices.Contains(br.ancestry, id) {
			e.mu.Unlock()
			return metadata.NewError(metadata.ErrBusy, "", "branch %s descends from snapshot %s", br.info.ID, id)
		}
	}
	for p, b := range e.bindings {
		if b.Snapshot == id {
			e.mu.Unlock()
			return metadata.NewError(metadata.ErrBusy, "", "process %d is bound to snapshot %s", p, id)
		}
	}
	if n := e.handles.ViewHandles(snapshotViewKey(id)); n > 0 {
		e.mu.Unlock()
		return metadata.NewError(metadata.ErrBusy, "", "%d handles open in snapshot %s", n, id)
	}
	delete(e.snapshots, id)
	e.mu.Unlock()

	e.dropTree(entry.tree)

	logger.Info("Snapshot %s deleted", id)
	ev := e.registryEvent(metadata.EventSnapshotDeleted)
	ev.Snapshot, ev.Name = id, entry.info.Name
	e.emitRegistry(ev)
	return nil
}

func (e *Engine) emitRegistry(ev metadata.Event) {
	if e.opts.TrackEvents {
		e.emit([]metadata.Event{ev})
	}
}
