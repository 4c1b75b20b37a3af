package control

import (
	"context"
	"time"

	"github.com/marmos91/agentfs/internal/codec"
	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/internal/ratelimiter"
	"github.com/marmos91/agentfs/pkg/engine"
	"github.com/marmos91/agentfs/pkg/metadata"
)

// Engine is the part of the engine the control plane drives.
type Engine interface {
	CreateSnapshot(auth *metadata.AuthContext, name string) (metadata.SnapshotID, error)
	ListSnapshots(ctx context.Context) ([]engine.SnapshotInfo, error)
	CreateBranchFromSnapshot(ctx context.Context, snap metadata.SnapshotID, name string) (metadata.BranchID, error)
	CreateBranchFromCurrent(auth *metadata.AuthContext, name string) (metadata.BranchID, error)
	BindProcessToBranch(ctx context.Context, pid uint32, branch metadata.BranchID) error
}

// Dispatcher decodes control requests, applies them to an engine and
// encodes the responses.
type Dispatcher struct {
	engine  Engine
	limiter *ratelimiter.KeyedLimiter[uint32]
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRateLimit limits each calling pid to requestsPerSecond sustained
// requests with bursts of burst.
func WithRateLimit(requestsPerSecond, burst uint) Option {
	return func(d *Dispatcher) {
		d.limiter = ratelimiter.NewKeyed[uint32](requestsPerSecond, burst, time.Minute)
	}
}

// NewDispatcher creates a dispatcher over e.
func NewDispatcher(e Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{engine: e}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle processes one encoded request from caller and returns the
// encoded response. It never fails: errors are reported in the response.
func (d *Dispatcher) Handle(ctx context.Context, caller uint32, payload []byte) []byte {
	var resp *Response
	if d.limiter != nil && !d.limiter.Allow(caller) {
		resp = errorResponse(metadata.NewError(metadata.ErrResourceExhausted, "", "control rate limit exceeded for pid %d", caller))
	} else if req, err := DecodeRequest(payload); err != nil {
		logger.Debug("Control request from pid %d rejected: %v", caller, err)
		resp = errorResponse(err)
	} else {
		resp = d.Dispatch(ctx, caller, req)
	}

	data, err := EncodeResponse(resp)
	if err != nil {
		logger.Error("Control response encoding failed: %v", err)
		data, _ = codec.Marshal(errorResponse(metadata.NewError(metadata.ErrInternal, "", "response encoding failed")))
	}
	return data
}

// Dispatch applies a decoded request on behalf of caller. The request is
// validated again so callers may build requests directly.
func (d *Dispatcher) Dispatch(ctx context.Context, caller uint32, req *Request) *Response {
	if err := Validate(req); err != nil {
		return errorResponse(err)
	}

	auth := metadata.ProcessContext(ctx, caller)
	resp := &Response{Version: Version, OK: true}

	switch req.Op {
	case OpSnapshotCreate:
		id, err := d.engine.CreateSnapshot(auth, req.Name)
		if err != nil {
			return errorResponse(err)
		}
		resp.SnapshotID = string(id)

	case OpSnapshotList:
		snaps, err := d.engine.ListSnapshots(ctx)
		if err != nil {
			return errorResponse(err)
		}
		resp.Snapshots = make([]Snapshot, 0, len(snaps))
		for _, s := range snaps {
			resp.Snapshots = append(resp.Snapshots, Snapshot{
				ID:      string(s.ID),
				Name:    s.Name,
				Branch:  string(s.Branch),
				Created: s.Created,
			})
		}

	case OpBranchCreate:
		var (
			id  metadata.BranchID
			err error
		)
		if req.From == "" {
			id, err = d.engine.CreateBranchFromCurrent(auth, req.Name)
		} else {
			id, err = d.engine.CreateBranchFromSnapshot(ctx, metadata.SnapshotID(req.From), req.Name)
		}
		if err != nil {
			return errorResponse(err)
		}
		resp.BranchID = string(id)

	case OpBranchBind:
		pid := req.PID
		if pid == 0 {
			pid = caller
		}
		if err := d.engine.BindProcessToBranch(ctx, pid, metadata.BranchID(req.Branch)); err != nil {
			return errorResponse(err)
		}
		resp.BranchID = req.Branch
		resp.PID = pid
	}

	logger.Debug("Control %s from pid %d applied", req.Op, caller)
	return resp
}

func errorResponse(err error) *Response {
	return &Response{
		Version: Version,
		Error: &Error{
			Code:    string(metadata.KindOf(err)),
			Message: err.Error(),
		},
	}
}
