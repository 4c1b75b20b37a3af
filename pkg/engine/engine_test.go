package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agentfs/internal/clock"
	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/store/content/cow"
	"github.com/marmos91/agentfs/pkg/store/content/memory"
)

const testBlockSize = 4096

var testEpoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

type testEngine struct {
	*Engine
	clock *clock.FakeClock
}

func newTestEngine(t *testing.T, configure ...func(*Options)) *testEngine {
	t.Helper()
	ctx := context.Background()

	hot, err := memory.NewMemoryBlockStore(ctx)
	require.NoError(t, err)
	store, err := cow.New(ctx, cow.Config{BlockSize: testBlockSize}, hot, nil)
	require.NoError(t, err)

	fake := clock.Fake(testEpoch)
	opts := DefaultOptions()
	opts.Clock = fake
	for _, fn := range configure {
		fn(&opts)
	}

	e, err := New(ctx, store, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	return &testEngine{Engine: e, clock: fake}
}

func proc(pid uint32) *metadata.AuthContext {
	return metadata.ProcessContext(context.Background(), pid)
}

func writeFile(t *testing.T, e *testEngine, auth *metadata.AuthContext, path string, data []byte) {
	t.Helper()
	h, _, err := e.Open(auth, path, metadata.OpenOptions{
		Access:   metadata.ReadWrite,
		Share:    metadata.ShareAll,
		Create:   true,
		Truncate: true,
	})
	require.NoError(t, err)
	n, err := e.Write(auth, h, data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, e.Engine.Close(auth, h))
}

func readFile(t *testing.T, e *testEngine, auth *metadata.AuthContext, path string) []byte {
	t.Helper()
	h, _, err := e.Open(auth, path, metadata.OpenOptions{Access: metadata.AccessRead, Share: metadata.ShareAll})
	require.NoError(t, err)
	defer func() { require.NoError(t, e.Engine.Close(auth, h)) }()
	return readHandle(t, e, auth, h)
}

func readHandle(t *testing.T, e *testEngine, auth *metadata.AuthContext, h metadata.HandleID) []byte {
	t.Helper()
	out := []byte{}
	buf := make([]byte, 1000)
	for off := uint64(0); ; {
		n, err := e.Read(auth, h, buf, off)
		require.NoError(t, err)
		if n == 0 {
			return out
		}
		out = append(out, buf[:n]...)
		off += uint64(n)
	}
}

func requireCode(t *testing.T, err error, code metadata.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code.String(), metadata.CodeOf(err).String(), "error: %v", err)
}

func TestNewEngine(t *testing.T) {
	t.Run("RejectsNilStore", func(t *testing.T) {
		_, err := New(context.Background(), nil, DefaultOptions())
		requireCode(t, err, metadata.ErrInvalidArgument)
	})

	t.Run("RejectsUnknownCaseMode", func(t *testing.T) {
		ctx := context.Background()
		hot, err := memory.NewMemoryBlockStore(ctx)
		require.NoError(t, err)
		store, err := cow.New(ctx, cow.Config{BlockSize: testBlockSize}, hot, nil)
		require.NoError(t, err)
		defer store.Close()

		opts := DefaultOptions()
		opts.CaseSensitivity = "shouty"
		_, err = New(ctx, store, opts)
		requireCode(t, err, metadata.ErrInvalidArgument)
	})

	t.Run("StartsWithDefaultBranch", func(t *testing.T) {
		e := newTestEngine(t)
		branches, err := e.ListBranches(context.Background())
		require.NoError(t, err)
		require.Len(t, branches, 1)
		assert.Equal(t, metadata.DefaultBranchID, branches[0].ID)
		assert.Equal(t, metadata.DefaultBranchName, branches[0].Name)

		attr, err := e.Getattr(proc(1), "/")
		require.NoError(t, err)
		assert.Equal(t, metadata.RootID, attr.ID)
		assert.Equal(t, metadata.FileTypeDirectory, attr.Type)
		assert.Equal(t, uint32(0o755), attr.Mode)
	})

	t.Run("ClosedEngineRejectsCalls", func(t *testing.T) {
		e := newTestEngine(t)
		require.NoError(t, e.Engine.Shutdown())
		require.NoError(t, e.Engine.Shutdown())

		_, err := e.Getattr(proc(1), "/")
		requireCode(t, err, metadata.ErrInvalidArgument)
	})
}

func TestRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	auth := proc(1)

	payloads := map[string][]byte{
		"/empty":  {},
		"/small":  []byte("hello"),
		"/blocks": make([]byte, 3*testBlockSize+17),
	}
	for i := range payloads["/blocks"] {
		payloads["/blocks"][i] = byte(i % 251)
	}

	for path, data := range payloads {
		writeFile(t, e, auth, path, data)
	}
	for path, data := range payloads {
		got := readFile(t, e, auth, path)
		assert.Equal(t, data, got, path)

		attr, err := e.Getattr(auth, path)
		require.NoError(t, err)
		assert.Equal(t, uint64(len(data)), attr.Size, path)
	}
}

func TestReadPastEnd(t *testing.T) {
	e := newTestEngine(t)
	auth := proc(1)
	writeFile(t, e, auth, "/f", []byte("abc"))

	h, _, err := e.Open(auth, "/f", metadata.OpenOptions{Share: metadata.ShareAll})
	require.NoError(t, err)
	defer e.Engine.Close(auth, h)

	buf := make([]byte, 10)
	n, err := e.Read(auth, h, buf, 1)
	require.NoError(t, err)
	assert.Equal(t, "bc", string(buf[:n]))

	n, err = e.Read(auth, h, buf, 3)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = e.Read(auth, h, buf, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriteSparseAndAppend(t *testing.T) {
	e := newTestEngine(t)
	auth := proc(1)

	h, _, err := e.Open(auth, "/f", metadata.OpenOptions{
		Access: metadata.ReadWrite,
		Share:  metadata.ShareAll,
		Create: true,
	})
	require.NoError(t, err)
	_, err = e.Write(auth, h, []byte("xy"), 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 'x', 'y'}, readHandle(t, e, auth, h))
	require.NoError(t, e.Engine.Close(auth, h))

	h, _, err = e.Open(auth, "/f", metadata.OpenOptions{
		Access: metadata.ReadWrite,
		Share:  metadata.ShareAll,
		Append: true,
	})
	require.NoError(t, err)
	_, err = e.Write(auth, h, []byte("z"), 0)
	require.NoError(t, err)
	require.NoError(t, e.Engine.Close(auth, h))

	attr, err := e.Getattr(auth, "/f")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), attr.Size)
	assert.Equal(t, byte('z'), readFile(t, e, auth, "/f")[7])
}

func TestHandleAccessChecks(t *testing.T) {
	e := newTestEngine(t)
	auth := proc(1)
	writeFile(t, e, auth, "/f", []byte("data"))

	ro, _, err := e.Open(auth, "/f", metadata.OpenOptions{Access: metadata.AccessRead, Share: metadata.ShareAll})
	require.NoError(t, err)
	_, err = e.Write(auth, ro, []byte("x"), 0)
	requireCode(t, err, metadata.ErrInvalidHandle)
	requireCode(t, e.TruncateHandle(auth, ro, 0), metadata.ErrInvalidHandle)

	wo, _, err := e.Open(auth, "/f", metadata.OpenOptions{Access: metadata.AccessWrite, Share: metadata.ShareAll})
	require.NoError(t, err)
	_, err = e.Read(auth, wo, make([]byte, 4), 0)
	requireCode(t, err, metadata.ErrInvalidHandle)

	require.NoError(t, e.Engine.Close(auth, ro))
	require.NoError(t, e.Engine.Close(auth, wo))
	requireCode(t, e.Engine.Close(auth, wo), metadata.ErrInvalidHandle)
	_, err = e.Read(auth, ro, make([]byte, 4), 0)
	requireCode(t, err, metadata.ErrInvalidHandle)
}

func TestOpenRejections(t *testing.T) {
	e := newTestEngine(t)
	auth := proc(1)
	_, err := e.Mkdir(auth, "/d", 0)
	require.NoError(t, err)
	_, err = e.Symlink(auth, "/l", "/d")
	require.NoError(t, err)

	_, _, err = e.Open(auth, "/missing", metadata.OpenOptions{})
	requireCode(t, err, metadata.ErrNotFound)

	_, _, err = e.Open(auth, "/d", metadata.OpenOptions{Access: metadata.AccessWrite})
	requireCode(t, err, metadata.ErrIsDirectory)

	_, _, err = e.Open(auth, "/l", metadata.OpenOptions{})
	requireCode(t, err, metadata.ErrInvalidArgument)

	_, _, err = e.Open(auth, "relative", metadata.OpenOptions{})
	requireCode(t, err, metadata.ErrInvalidArgument)

	_, err = e.Create(auth, "/f", 0)
	require.NoError(t, err)
	_, err = e.Create(auth, "/f", 0)
	requireCode(t, err, metadata.ErrAlreadyExists)
	_, _, err = e.Open(auth, "/f", metadata.OpenOptions{Create: true, Exclusive: true})
	requireCode(t, err, metadata.ErrAlreadyExists)
	_, _, err = e.Open(auth, "/f", metadata.OpenOptions{Access: metadata.AccessRead, Truncate: true})
	requireCode(t, err, metadata.ErrInvalidArgument)

	h, _, err := e.Open(auth, "/d", metadata.OpenOptions{Share: metadata.ShareAll})
	require.NoError(t, err)
	_, err = e.Read(auth, h, make([]byte, 1), 0)
	requireCode(t, err, metadata.ErrIsDirectory)
	require.NoError(t, e.Engine.Close(auth, h))
}

func TestHelloScenario(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner, agent, inspector := proc(100), proc(200), proc(300)

	writeFile(t, e, owner, "/a.txt", []byte("hello"))

	s1, err := e.CreateSnapshot(owner, "S1")
	require.NoError(t, err)
	b1, err := e.CreateBranchFromSnapshot(ctx, s1, "B1")
	require.NoError(t, err)

	require.NoError(t, e.BindProcessToBranch(ctx, agent.PID, b1))
	writeFile(t, e, agent, "/a.txt", []byte("HELLO"))

	require.NoError(t, e.BindProcessToSnapshot(ctx, inspector.PID, s1))

	assert.Equal(t, "hello", string(readFile(t, e, inspector, "/a.txt")))
	assert.Equal(t, "HELLO", string(readFile(t, e, agent, "/a.txt")))
	assert.Equal(t, "hello", string(readFile(t, e, owner, "/a.txt")))

	_, _, err = e.Open(inspector, "/a.txt", metadata.OpenOptions{Access: metadata.ReadWrite, Share: metadata.ShareAll})
	requireCode(t, err, metadata.ErrReadOnly)
}
