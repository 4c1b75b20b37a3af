package engine

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agentfs/pkg/metadata"
)

// agentRun forks a branch for pid, binds to it and rewrites a shared file
// several times, verifying every read-back.
func agentRun(e *testEngine, pid uint32) error {
	ctx := context.Background()
	auth := proc(pid)

	b, err := e.CreateBranchFromCurrent(auth, fmt.Sprintf("agent-%d", pid))
	if err != nil {
		return fmt.Errorf("fork: %w", err)
	}
	if err := e.BindProcessToBranch(ctx, pid, b); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if _, err := e.Mkdir(auth, fmt.Sprintf("/work-%d", pid), 0); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	for i := 0; i < 20; i++ {
		want := bytes.Repeat([]byte(fmt.Sprintf("%d:%d;", pid, i)), 100)

		h, _, err := e.Open(auth, "/shared.txt", metadata.OpenOptions{
			Access:   metadata.ReadWrite,
			Share:    metadata.ShareAll,
			Truncate: true,
		})
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		if _, err := e.Write(auth, h, want, 0); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		got := make([]byte, len(want)+10)
		n, err := e.Read(auth, h, got, 0)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := e.Engine.Close(auth, h); err != nil {
			return fmt.Errorf("close: %w", err)
		}
		if !bytes.Equal(want, got[:n]) {
			return fmt.Errorf("agent %d iteration %d: read back %q", pid, i, got[:n])
		}
	}
	return nil
}

func TestConcurrentAgents(t *testing.T) {
	e := newTestEngine(t)
	base := proc(1)
	writeFile(t, e, base, "/shared.txt", []byte("seed"))

	const agents = 8
	p := pool.New().WithErrors().WithMaxGoroutines(agents + 1)
	for i := 0; i < agents; i++ {
		pid := uint32(100 + i)
		p.Go(func() error { return agentRun(e, pid) })
	}
	p.Go(func() error {
		for i := 0; i < 50; i++ {
			if _, err := e.CreateSnapshot(base, ""); err != nil {
				return err
			}
			if _, err := e.ReadDir(base, "/"); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, p.Wait())

	assert.Equal(t, "seed", string(readFile(t, e, base, "/shared.txt")))
	for i := 0; i < agents; i++ {
		pid := uint32(100 + i)
		want := bytes.Repeat([]byte(fmt.Sprintf("%d:%d;", pid, 19)), 100)
		assert.Equal(t, want, readFile(t, e, proc(pid), "/shared.txt"))
		_, err := e.Getattr(base, fmt.Sprintf("/work-%d", pid))
		requireCode(t, err, metadata.ErrNotFound)
	}

	stats, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, agents+1, stats.Branches)
	assert.Equal(t, 50, stats.Snapshots)
	assert.Equal(t, agents, stats.BoundProcesses)
	assert.Zero(t, stats.OpenHandles)
}

// TestConcurrentForkAndDelete races branch creation against deletion of
// the snapshot it forks. Exactly one side wins and the other reports a
// regular error, never an internal one.
func TestConcurrentForkAndDelete(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	auth := proc(1)
	writeFile(t, e, auth, "/a.txt", []byte("hello"))

	expect := func(err error, code metadata.ErrorCode) error {
		if err == nil || metadata.IsCode(err, code) {
			return nil
		}
		return err
	}

	for i := 0; i < 50; i++ {
		s, err := e.CreateSnapshot(auth, "")
		require.NoError(t, err)

		p := pool.New().WithErrors()
		p.Go(func() error {
			_, err := e.CreateBranchFromSnapshot(ctx, s, "")
			return expect(err, metadata.ErrNotFound)
		})
		p.Go(func() error {
			return expect(e.DeleteSnapshot(ctx, s), metadata.ErrBusy)
		})
		require.NoError(t, p.Wait())
	}

	got := readFile(t, e, auth, "/a.txt")
	assert.Equal(t, "hello", string(got))
}
