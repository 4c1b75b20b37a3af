package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/internal/selftest"
	"github.com/marmos91/agentfs/pkg/config"
)

var (
	selftestAgents      int
	selftestIterations  int
	selftestMetricsPort int
	selftestHold        bool
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run the snapshot and branch walkthrough plus concurrent agents",
	Long: "Start an engine from the configuration, check the /a.txt snapshot and branch " +
		"walkthrough, then run concurrent agents that each fork a branch through the " +
		"control plane and rewrite a shared file. Prints engine stats on success.",
	Args: cobra.NoArgs,
	RunE: runSelftest,
}

func init() {
	selftestCmd.Flags().IntVar(&selftestAgents, "agents", 8, "number of concurrent agents")
	selftestCmd.Flags().IntVar(&selftestIterations, "iterations", 50, "rewrites per agent")
	selftestCmd.Flags().IntVar(&selftestMetricsPort, "metrics-port", 0, "serve Prometheus metrics on this port")
	selftestCmd.Flags().BoolVar(&selftestHold, "hold", false, "keep serving metrics after the run until interrupted")

	rootCmd.AddCommand(selftestCmd)
}

func runSelftest(cmd *cobra.Command, args []string) (err error) {
	if selftestAgents < 0 || selftestIterations < 0 {
		return fmt.Errorf("--agents and --iterations must not be negative")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if selftestMetricsPort > 0 {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = selftestMetricsPort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := config.InitializeMetrics(cfg)

	e, err := config.CreateEngine(ctx, cfg, m.EngineMetrics)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Shutdown(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := m.RegisterEngine(e); err != nil {
		return err
	}

	metricsDone := make(chan error, 1)
	if m.Server != nil {
		go func() { metricsDone <- m.Server.Start(ctx) }()
	}

	report, err := selftest.Run(ctx, e, selftest.Options{
		Agents:     selftestAgents,
		Iterations: selftestIterations,
		Dispatcher: config.CreateDispatcher(e, &cfg.Control),
	})
	if err != nil {
		return fmt.Errorf("selftest failed: %w", err)
	}

	printReport(cmd, report)

	if m.Server == nil {
		return nil
	}
	if selftestHold {
		logger.Info("Serving metrics on port %d until interrupted", m.Server.Port())
		<-ctx.Done()
	}
	stop()
	if err := <-metricsDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printReport(cmd *cobra.Command, r *selftest.Report) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "walkthrough\tok\n")
	fmt.Fprintf(w, "agents\t%d\n", r.Agents)
	fmt.Fprintf(w, "writes\t%d\n", r.Writes)
	fmt.Fprintf(w, "duration\t%s\n", r.Duration)
	fmt.Fprintf(w, "branches\t%d\n", r.Stats.Branches)
	fmt.Fprintf(w, "snapshots\t%d\n", r.Stats.Snapshots)
	fmt.Fprintf(w, "nodes\t%d\n", r.Stats.Nodes)
	fmt.Fprintf(w, "content objects\t%d\n", r.Stats.ContentObjects)
	fmt.Fprintf(w, "bytes used\t%d\n", r.Stats.BytesUsed)
	fmt.Fprintf(w, "bytes in memory\t%d\n", r.Stats.BytesInMemory)
	fmt.Fprintf(w, "bytes spilled\t%d\n", r.Stats.BytesSpilled)
}
