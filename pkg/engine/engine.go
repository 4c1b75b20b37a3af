// Package engine is the core: one capability surface that every adapter
// and the control plane drive.
//
// The engine owns a registry of branches and snapshots, each holding a
// tree.Tree, the process bindings that select which tree a call resolves
// against, the handle table and the content store shared by all trees.
//
// Locking order (never acquired backwards):
//  1. engine registry (branches, snapshots, bindings, subscriptions)
//  2. per-tree RWMutex
//  3. handle table
//  4. content store internals
//
// The registry lock is held only to resolve a tree or mutate a registry.
// Operations on different branches therefore never block each other.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/handle"
	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/store/content"
	"github.com/marmos91/agentfs/pkg/tree"
)

// Engine implements the core operations.
type Engine struct {
	store   content.Store
	opts    Options
	handles *handle.Table

	nextNode atomic.Uint64

	mu        sync.RWMutex
	branches  map[metadata.BranchID]*branchEntry
	snapshots map[metadata.SnapshotID]*snapshotEntry
	bindings  map[uint32]Binding
	subs      []subscription
	nextSub   metadata.SubscriptionID
	cache     CachePolicy
	closed    bool
}

type subscription struct {
	id   metadata.SubscriptionID
	sink metadata.EventSink
}

// New creates an engine over store with a single default branch holding
// an empty root directory. The engine takes ownership of store and closes
// it in Close.
func New(ctx context.Context, store content.Store, opts Options) (*Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, metadata.NewError(metadata.ErrInvalidArgument, "", "content store is required")
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	now := opts.Clock.Now()
	root := tree.New(opts.CaseSensitivity, opts.RootMode, opts.Security.DefaultUID, opts.Security.DefaultGID, now)

	e := &Engine{
		store:     store,
		opts:      opts,
		handles:   handle.NewTable(opts.Limits.MaxOpenHandles),
		branches:  make(map[metadata.BranchID]*branchEntry),
		snapshots: make(map[metadata.SnapshotID]*snapshotEntry),
		bindings:  make(map[uint32]Binding),
		cache:     opts.Cache,
	}
	e.nextNode.Store(uint64(metadata.RootID))
	e.branches[metadata.DefaultBranchID] = &branchEntry{
		info: BranchInfo{
			ID:      metadata.DefaultBranchID,
			Name:    metadata.DefaultBranchName,
			Created: now,
		},
		tree: root,
	}

	logger.Info("Engine started (case=%s, xattrs=%t, ads=%t, events=%t)",
		opts.CaseSensitivity, opts.EnableXattrs, opts.EnableADS, opts.TrackEvents)
	return e, nil
}

// Shutdown drops every tree and closes the content store, removing spill
// files. The engine is unusable afterwards.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.branches = make(map[metadata.BranchID]*branchEntry)
	e.snapshots = make(map[metadata.SnapshotID]*snapshotEntry)
	e.bindings = make(map[uint32]Binding)
	e.subs = nil
	e.mu.Unlock()

	logger.Info("Engine closed")
	return e.store.Close()
}

// Options returns the options the engine was created with.
func (e *Engine) Options() Options {
	return e.opts
}

// ============================================================================
// Views
// ============================================================================

// view is the tree a call resolves against.
type view struct {
	key      string
	tree     *tree.Tree
	branch   metadata.BranchID
	snapshot metadata.SnapshotID
}

func (v view) readOnly() bool { return v.snapshot != "" }

func branchViewKey(id metadata.BranchID) string { return "branch/" + string(id) }

func snapshotViewKey(id metadata.SnapshotID) string { return "snapshot/" + string(id) }

// resolveView returns the view pid is bound to. The binding is consulted
// afresh on every call.
func (e *Engine) resolveView(pid uint32) (view, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return view{}, errClosed
	}

	b, bound := e.bindings[pid]
	if bound && b.Snapshot != "" {
		s, ok := e.snapshots[b.Snapshot]
		if !ok {
			return view{}, e.internal("", "process %d bound to missing snapshot %s", pid, b.Snapshot)
		}
		return view{key: snapshotViewKey(s.info.ID), tree: s.tree, snapshot: s.info.ID}, nil
	}

	id := metadata.DefaultBranchID
	if bound {
		id = b.Branch
	}
	br, ok := e.branches[id]
	if !ok {
		return view{}, e.internal("", "process %d bound to missing branch %s", pid, id)
	}
	return view{key: branchViewKey(id), tree: br.tree, branch: id}, nil
}

// ============================================================================
// Operation scaffolding
// ============================================================================

var errClosed = metadata.NewError(metadata.ErrInvalidArgument, "", "engine is closed")

// op carries the state of one tree operation.
type op struct {
	e      *Engine
	auth   *metadata.AuthContext
	ctx    context.Context
	view   view
	t      *tree.Tree
	now    time.Time
	events []metadata.Event
}

// update runs fn with the caller's tree locked exclusively. Views bound to
// a snapshot are rejected with ErrReadOnly. Events recorded by fn are
// delivered after the lock is released and only if fn succeeded.
func (e *Engine) update(auth *metadata.AuthContext, path string, fn func(o *op) error) error {
	return e.run(auth, path, true, true, fn)
}

// inspect runs fn with the caller's tree read-locked.
func (e *Engine) inspect(auth *metadata.AuthContext, fn func(o *op) error) error {
	return e.run(auth, "", false, false, fn)
}

func (e *Engine) run(auth *metadata.AuthContext, path string, exclusive, mutating bool, fn func(o *op) error) error {
	ctx := auth.Ctx()
	if err := ctx.Err(); err != nil {
		return err
	}

	v, err := e.resolveView(pid(auth))
	if err != nil {
		return err
	}
	if mutating && v.readOnly() {
		return metadata.NewError(metadata.ErrReadOnly, path, "snapshot %s is read-only", v.snapshot)
	}

	o := &op{e: e, auth: auth, ctx: ctx, view: v, t: v.tree, now: e.opts.Clock.Now()}
	if exclusive {
		v.tree.Lock()
		err = fn(o)
		v.tree.Unlock()
	} else {
		v.tree.RLock()
		err = fn(o)
		v.tree.RUnlock()
	}

	if err != nil {
		return err
	}
	e.emit(o.events)
	return nil
}

// withHandle runs fn against the tree a handle was opened in.
func (e *Engine) withHandle(auth *metadata.AuthContext, id metadata.HandleID, exclusive bool, fn func(o *op, h *handle.Handle) error) error {
	ctx := auth.Ctx()
	if err := ctx.Err(); err != nil {
		return err
	}

	h, err := e.handles.Get(id)
	if err != nil {
		return err
	}

	o := &op{e: e, auth: auth, ctx: ctx, view: handleView(h), t: h.Tree, now: e.opts.Clock.Now()}

	if exclusive {
		h.Tree.Lock()
	} else {
		h.Tree.RLock()
	}
	// The handle may have been closed while we waited for the tree.
	if _, err = e.handles.Get(id); err == nil {
		err = fn(o, h)
	}
	if exclusive {
		h.Tree.Unlock()
	} else {
		h.Tree.RUnlock()
	}

	if err != nil {
		return err
	}
	e.emit(o.events)
	return nil
}

// handleView rebuilds the view of a handle from its view key.
func handleView(h *handle.Handle) view {
	v := view{key: h.Target.View, tree: h.Tree}
	if id, ok := strings.CutPrefix(v.key, "branch/"); ok {
		v.branch = metadata.BranchID(id)
	} else if id, ok := strings.CutPrefix(v.key, "snapshot/"); ok {
		v.snapshot = metadata.SnapshotID(id)
	}
	return v
}

func pid(auth *metadata.AuthContext) uint32 {
	if auth == nil {
		return 0
	}
	return auth.PID
}

// observe records an operation's outcome. Use as
// defer e.observe("Name", time.Now(), &err).
func (e *Engine) observe(name string, start time.Time, errp *error) {
	err := *errp
	e.opts.Metrics.RecordOperation(name, time.Since(start), err)
	if err != nil {
		if metadata.CodeOf(err) == metadata.ErrInternal {
			logger.Error("%s: %v", name, err)
		} else {
			logger.Debug("%s: %v", name, err)
		}
	}
}

// internal builds an ErrInternal for an invariant violation.
func (e *Engine) internal(path string, format string, args ...any) error {
	return metadata.NewError(metadata.ErrInternal, path, format, args...)
}

// contentError translates a content store error.
func contentError(path string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, content.ErrStorageFull):
		return metadata.WrapError(metadata.ErrResourceExhausted, path, err, "content storage exhausted")
	case errors.Is(err, content.ErrInvalidOffset):
		return metadata.WrapError(metadata.ErrInvalidArgument, path, err, "invalid offset")
	default:
		return metadata.WrapError(metadata.ErrInternal, path, err, "content store failure")
	}
}
