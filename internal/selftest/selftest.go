// Package selftest exercises a running engine end to end: the snapshot
// and branch walkthrough on /a.txt, then concurrent agents that each fork
// a branch through the control plane and rewrite a shared file in
// isolation.
package selftest

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/control"
	"github.com/marmos91/agentfs/pkg/engine"
	"github.com/marmos91/agentfs/pkg/metadata"
)

const (
	ownerPID     uint32 = 100
	agentPID     uint32 = 200
	inspectorPID uint32 = 300

	// concurrent agents use pids from here upwards
	firstAgentPID uint32 = 1000
)

// Options configures a run.
type Options struct {
	// Agents is the number of concurrent agents. Zero skips the phase.
	Agents int

	// Iterations is the number of rewrites per agent.
	Iterations int

	// Dispatcher handles the agents' control requests. Defaults to an
	// unlimited dispatcher over the engine.
	Dispatcher *control.Dispatcher
}

// Report summarizes a successful run.
type Report struct {
	Agents   int
	Writes   int
	Duration time.Duration
	Stats    engine.Stats
}

// Run executes the walkthrough and the agent phase against e.
func Run(ctx context.Context, e *engine.Engine, opts Options) (*Report, error) {
	start := time.Now()

	if err := Walkthrough(ctx, e); err != nil {
		return nil, fmt.Errorf("walkthrough: %w", err)
	}
	logger.Info("Selftest walkthrough passed")

	d := opts.Dispatcher
	if d == nil {
		d = control.NewDispatcher(e)
	}

	report := &Report{Agents: opts.Agents}
	if opts.Agents > 0 {
		if err := runAgents(ctx, e, d, opts.Agents, opts.Iterations); err != nil {
			return nil, fmt.Errorf("agents: %w", err)
		}
		report.Writes = opts.Agents * opts.Iterations
		logger.Info("Selftest agents passed (%d agents, %d writes)", opts.Agents, report.Writes)
	}

	stats, err := e.Stats(ctx)
	if err != nil {
		return nil, err
	}
	report.Stats = stats
	report.Duration = time.Since(start)
	return report, nil
}

// Walkthrough writes "hello" to /a.txt, snapshots it as S1, forks B1 from
// S1 and writes "HELLO" there, then checks every view and that the
// snapshot refuses writes.
func Walkthrough(ctx context.Context, e *engine.Engine) error {
	owner := metadata.ProcessContext(ctx, ownerPID)
	agent := metadata.ProcessContext(ctx, agentPID)
	inspector := metadata.ProcessContext(ctx, inspectorPID)

	if err := writeFile(e, owner, "/a.txt", []byte("hello")); err != nil {
		return err
	}

	s1, err := e.CreateSnapshot(owner, "S1")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	b1, err := e.CreateBranchFromSnapshot(ctx, s1, "B1")
	if err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	if err := e.BindProcessToBranch(ctx, agentPID, b1); err != nil {
		return fmt.Errorf("bind agent: %w", err)
	}
	defer func() { _ = e.UnbindProcess(ctx, agentPID) }()

	if err := writeFile(e, agent, "/a.txt", []byte("HELLO")); err != nil {
		return err
	}

	if err := e.BindProcessToSnapshot(ctx, inspectorPID, s1); err != nil {
		return fmt.Errorf("bind inspector: %w", err)
	}
	defer func() { _ = e.UnbindProcess(ctx, inspectorPID) }()

	checks := []struct {
		auth *metadata.AuthContext
		view string
		want string
	}{
		{inspector, "snapshot S1", "hello"},
		{agent, "branch B1", "HELLO"},
		{owner, "default branch", "hello"},
	}
	for _, c := range checks {
		got, err := readFile(e, c.auth, "/a.txt")
		if err != nil {
			return fmt.Errorf("read %s: %w", c.view, err)
		}
		if string(got) != c.want {
			return fmt.Errorf("%s reads %q, want %q", c.view, got, c.want)
		}
	}

	_, _, err = e.Open(inspector, "/a.txt", metadata.OpenOptions{Access: metadata.ReadWrite, Share: metadata.ShareAll})
	if !metadata.IsCode(err, metadata.ErrReadOnly) {
		return fmt.Errorf("write through snapshot: got %v, want read-only", err)
	}
	return nil
}

func runAgents(ctx context.Context, e *engine.Engine, d *control.Dispatcher, agents, iterations int) error {
	root := metadata.ProcessContext(ctx, ownerPID)
	if err := writeFile(e, root, "/shared.txt", []byte("seed")); err != nil {
		return err
	}

	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(agents)
	for i := 0; i < agents; i++ {
		pid := firstAgentPID + uint32(i)
		p.Go(func(taskCtx context.Context) error {
			defer func() { _ = e.UnbindProcess(ctx, pid) }()
			return runAgent(taskCtx, e, d, pid, iterations)
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	got, err := readFile(e, root, "/shared.txt")
	if err != nil {
		return err
	}
	if string(got) != "seed" {
		return fmt.Errorf("default branch reads %q after agents ran", got)
	}
	return nil
}

// runAgent forks the default branch through the control plane, binds pid
// to the fork and rewrites /shared.txt, verifying each read-back.
func runAgent(ctx context.Context, e *engine.Engine, d *control.Dispatcher, pid uint32, iterations int) error {
	created, err := call(ctx, d, pid, control.BranchCreate("", fmt.Sprintf("agent-%d", pid)))
	if err != nil {
		return err
	}
	if _, err := call(ctx, d, pid, control.BranchBind(created.BranchID, 0)); err != nil {
		return err
	}

	auth := metadata.ProcessContext(ctx, pid)
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := bytes.Repeat([]byte(fmt.Sprintf("%d:%d;", pid, i)), 64)
		if err := writeFile(e, auth, "/shared.txt", want); err != nil {
			return fmt.Errorf("agent %d: %w", pid, err)
		}
		got, err := readFile(e, auth, "/shared.txt")
		if err != nil {
			return fmt.Errorf("agent %d: %w", pid, err)
		}
		if !bytes.Equal(want, got) {
			return fmt.Errorf("agent %d iteration %d: read back %d bytes that differ", pid, i, len(got))
		}
	}
	return nil
}

func call(ctx context.Context, d *control.Dispatcher, pid uint32, req *control.Request) (*control.Response, error) {
	payload, err := control.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := control.DecodeResponse(d.Handle(ctx, pid, payload))
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("%s for pid %d: %w", req.Op, pid, err)
	}
	return resp, nil
}

func writeFile(e *engine.Engine, auth *metadata.AuthContext, path string, data []byte) (err error) {
	h, _, err := e.Open(auth, path, metadata.OpenOptions{
		Access:   metadata.ReadWrite,
		Share:    metadata.ShareAll,
		Create:   true,
		Truncate: true,
	})
	if err != nil {
		return fmt.Errorf("open %s for writing: %w", path, err)
	}
	defer func() {
		if cerr := e.Close(auth, h); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := e.Write(auth, h, data, 0); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readFile(e *engine.Engine, auth *metadata.AuthContext, path string) (out []byte, err error) {
	h, _, err := e.Open(auth, path, metadata.OpenOptions{Access: metadata.AccessRead, Share: metadata.ShareAll})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if cerr := e.Close(auth, h); cerr != nil && err == nil {
			err = cerr
		}
	}()

	buf := make([]byte, 4096)
	for off := uint64(0); ; {
		n, err := e.Read(auth, h, buf, off)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, buf[:n]...)
		off += uint64(n)
	}
}
