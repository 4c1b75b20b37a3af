package control

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agentfs/internal/codec"
	"github.com/marmos91/agentfs/pkg/engine"
	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/store/content/cow"
	"github.com/marmos91/agentfs/pkg/store/content/memory"
)

const someUUID = "0190f2a4-7b3c-7def-8abc-0123456789ab"

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	ctx := context.Background()
	hot, err := memory.NewMemoryBlockStore(ctx)
	require.NoError(t, err)
	store, err := cow.New(ctx, cow.Config{BlockSize: 4096}, hot, nil)
	require.NoError(t, err)
	e, err := engine.New(ctx, store, engine.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func roundTrip(t *testing.T, d *Dispatcher, caller uint32, req *Request) *Response {
	t.Helper()
	payload, err := EncodeRequest(req)
	require.NoError(t, err)
	resp, err := DecodeResponse(d.Handle(context.Background(), caller, payload))
	require.NoError(t, err)
	return resp
}

func TestValidate(t *testing.T) {
	valid := []*Request{
		SnapshotCreate(""),
		SnapshotCreate("before refactor"),
		SnapshotList(),
		BranchCreate("", ""),
		BranchCreate(someUUID, "experiment"),
		BranchBind(someUUID, 0),
		BranchBind(string(metadata.DefaultBranchID), 42),
	}
	for _, req := range valid {
		assert.NoError(t, Validate(req), "%+v", req)
	}

	invalid := map[string]*Request{
		"Version":          {Version: 2, Op: OpSnapshotList},
		"MissingOp":        {Version: Version},
		"UnknownOp":        {Version: Version, Op: "branch.delete"},
		"NameWithSlash":    SnapshotCreate("a/b"),
		"NameWithNUL":      SnapshotCreate("a\x00b"),
		"NameTooLong":      SnapshotCreate(strings.Repeat("x", metadata.MaxNameLen+1)),
		"FromNotUUID":      BranchCreate("not-a-uuid", ""),
		"BindNoBranch":     BranchBind("", 0),
		"BindBadBranch":    BranchBind("main", 0),
		"ListWithName":     {Version: Version, Op: OpSnapshotList, Name: "x"},
		"CreateWithPID":    {Version: Version, Op: OpSnapshotCreate, PID: 3},
		"ListWithPID":      {Version: Version, Op: OpSnapshotList, PID: 3},
		"BranchWithBind":   {Version: Version, Op: OpBranchCreate, Branch: someUUID},
		"BranchWithPID":    {Version: Version, Op: OpBranchCreate, PID: 3},
		"BindWithName":     {Version: Version, Op: OpBranchBind, Branch: someUUID, Name: "x"},
		"SnapshotWithFrom": {Version: Version, Op: OpSnapshotCreate, From: someUUID},
	}
	for name, req := range invalid {
		t.Run(name, func(t *testing.T) {
			err := Validate(req)
			require.Error(t, err)
			assert.True(t, metadata.IsCode(err, metadata.ErrInvalidArgument), "%v", err)
		})
	}

	assert.Error(t, Validate(nil))
}

func TestEncodingIsDeterministic(t *testing.T) {
	a, err := EncodeRequest(BranchCreate(someUUID, "x"))
	require.NoError(t, err)
	b, err := EncodeRequest(&Request{Name: "x", From: someUUID, Op: OpBranchCreate, Version: Version})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	req, err := DecodeRequest(a)
	require.NoError(t, err)
	assert.Equal(t, BranchCreate(someUUID, "x"), req)

	_, err = EncodeRequest(SnapshotCreate("a/b"))
	assert.Error(t, err)
}

func TestDecodeRequestRejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"Empty":   nil,
		"Garbage": {0xff, 0x00, 0x13},
		"Array":   mustMarshal(t, []int{1, 2}),
		"UnknownField": mustMarshal(t, map[string]any{
			"v": 1, "op": OpSnapshotList, "extra": true,
		}),
		"WrongType": mustMarshal(t, map[string]any{"v": "1", "op": OpSnapshotList}),
		"BadVersion": mustMarshal(t, map[string]any{"v": 7, "op": OpSnapshotList}),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRequest(data)
			require.Error(t, err)
			assert.Equal(t, metadata.KindInvalidArgument, metadata.KindOf(err))
		})
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := codec.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDispatcher(t *testing.T) {
	e := newEngine(t)
	d := NewDispatcher(e)
	const caller = 77

	created := roundTrip(t, d, caller, SnapshotCreate("s1"))
	require.NoError(t, created.Err())
	require.NotEmpty(t, created.SnapshotID)

	listed := roundTrip(t, d, caller, SnapshotList())
	require.NoError(t, listed.Err())
	require.Len(t, listed.Snapshots, 1)
	assert.Equal(t, created.SnapshotID, listed.Snapshots[0].ID)
	assert.Equal(t, "s1", listed.Snapshots[0].Name)
	assert.Equal(t, string(metadata.DefaultBranchID), listed.Snapshots[0].Branch)

	branch := roundTrip(t, d, caller, BranchCreate(created.SnapshotID, "b1"))
	require.NoError(t, branch.Err())
	require.NotEmpty(t, branch.BranchID)

	bound := roundTrip(t, d, caller, BranchBind(branch.BranchID, 0))
	require.NoError(t, bound.Err())
	assert.Equal(t, uint32(caller), bound.PID)
	assert.Equal(t, metadata.BranchID(branch.BranchID), e.CurrentBranchForProcess(caller))

	other := roundTrip(t, d, caller, BranchBind(branch.BranchID, 900))
	require.NoError(t, other.Err())
	assert.Equal(t, uint32(900), other.PID)
	assert.Equal(t, metadata.BranchID(branch.BranchID), e.CurrentBranchForProcess(900))

	// An empty from forks the caller's current branch.
	fork := roundTrip(t, d, caller, BranchCreate("", "fork"))
	require.NoError(t, fork.Err())
	branches, err := e.ListBranches(context.Background())
	require.NoError(t, err)
	for _, b := range branches {
		if string(b.ID) == fork.BranchID {
			assert.Equal(t, metadata.BranchID(branch.BranchID), b.Source)
		}
	}
}

func TestDispatcherErrors(t *testing.T) {
	e := newEngine(t)
	d := NewDispatcher(e)

	resp, err := DecodeResponse(d.Handle(context.Background(), 1, []byte{0x01}))
	require.NoError(t, err)
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(metadata.KindInvalidArgument), resp.Error.Code)

	missing := roundTrip(t, d, 1, BranchBind(someUUID, 0))
	assert.False(t, missing.OK)
	assert.Equal(t, string(metadata.KindNotFound), missing.Error.Code)
	assert.Error(t, missing.Err())

	fromMissing := roundTrip(t, d, 1, BranchCreate(someUUID, ""))
	assert.Equal(t, string(metadata.KindNotFound), fromMissing.Error.Code)

	branches, err := e.ListBranches(context.Background())
	require.NoError(t, err)
	assert.Len(t, branches, 1)
}

func TestDispatcherRateLimit(t *testing.T) {
	d := NewDispatcher(newEngine(t), WithRateLimit(1, 2))

	for i := 0; i < 2; i++ {
		require.NoError(t, roundTrip(t, d, 5, SnapshotList()).Err())
	}
	limited := roundTrip(t, d, 5, SnapshotList())
	assert.False(t, limited.OK)
	assert.Equal(t, string(metadata.KindResourceExhausted), limited.Error.Code)

	// Other callers have their own budget.
	require.NoError(t, roundTrip(t, d, 6, SnapshotList()).Err())
}
