package main

import (
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/graphgenie/pkg/buglog"
	"github.com/orneryd/graphgenie/pkg/cache"
	"github.com/orneryd/graphgenie/pkg/config"
	"github.com/orneryd/graphgenie/pkg/metrics"
	"github.com/orneryd/graphgenie/pkg/mutator"
	"github.com/orneryd/graphgenie/pkg/oracle"
	"github.com/orneryd/graphgenie/pkg/report"
)

// ============================================================================
// run
// ============================================================================

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the differential testing loop",
		Long: `Run generates base queries, derives equivalent and restricted variants,
executes them against the database and records every divergence in the bug
log. Ctrl+C stops after the current base query and prints the summary.`,
		RunE: runRun,
	}
	addDatabaseFlags(cmd)
	addModelFlags(cmd)
	cmd.Flags().Int("rounds", 10, "Test rounds (0 = until interrupted)")
	cmd.Flags().Int("queries", 100, "Base queries per round")
	cmd.Flags().Bool("concurrent", false, "Run single-query variants in parallel")
	cmd.Flags().Bool("perf", true, "Enable performance checks")
	cmd.Flags().Bool("variant", true, "Enable restricted variants")
	cmd.Flags().Float64("threshold", 5, "Timing ratio for equivalent variants")
	cmd.Flags().Float64("variant-threshold", 5, "Timing ratio for restricted variants")
	cmd.Flags().Bool("suppress", false, "Drop bugs already reported in an earlier round")
	cmd.Flags().Bool("aggregate-only", false, "Only generate count(...) returns")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().String("bug-log", "", "Bug log file")
	cmd.Flags().String("report-json", "", "Write the run summary to this JSON file")
	cmd.Flags().Bool("compact", false, "Print a one-line summary")
	return cmd
}

func oracleConfig(t config.TestingConfig) oracle.Config {
	cfg := oracle.DefaultConfig()
	cfg.Rounds = t.Rounds
	cfg.QueriesPerRound = t.QueriesPerRound
	cfg.Concurrent = t.Concurrent
	cfg.Performance = t.Performance
	cfg.Variant = t.Variant
	cfg.Threshold = t.Threshold
	cfg.VariantThreshold = t.VariantThreshold
	cfg.MinimumTestMs = t.MinimumTestMs
	cfg.LogEvery = t.LogEvery
	return cfg
}

// suppressionOptions enables cross-round bug suppression when configured.
func suppressionOptions(t config.TestingConfig) []oracle.Option {
	if !t.Suppress {
		return nil
	}
	return []oracle.Option{oracle.WithFingerprints(cache.New(t.FingerprintCacheSize))}
}

// traces holds the run's output files.
type traces struct {
	bugs       *buglog.Logger
	execution  *buglog.Trace
	exceptions *buglog.Trace
}

func openTraces(t config.TestingConfig) (*traces, error) {
	opts := buglog.DefaultOptions()
	opts.MaxSizeMB = t.MinSaveLogSizeMB
	opts.RotateOnStart = t.RotateOnStart

	tr := &traces{}
	var err error
	if tr.bugs, err = buglog.Open(t.BugLogPath, opts); err != nil {
		return nil, err
	}
	if t.TracePath != "" {
		if tr.execution, err = buglog.OpenTrace(t.TracePath, opts); err != nil {
			tr.Close()
			return nil, err
		}
	}
	if t.ExceptionPath != "" {
		if tr.exceptions, err = buglog.OpenExceptionTrace(t.ExceptionPath, opts); err != nil {
			tr.Close()
			return nil, err
		}
	}
	return tr, nil
}

func (t *traces) Close() error {
	var errs []error
	if t.bugs != nil {
		errs = append(errs, t.bugs.Close())
	}
	errs = append(errs, t.execution.Close(), t.exceptions.Close())
	return errors.Join(errs...)
}

func runRun(cmd *cobra.Command, args []string) error {
	reportJSON, _ := cmd.Flags().GetString("report-json")
	compact, _ := cmd.Flags().GetBool("compact")
	cfg := cli.cfg
	log := cli.log
	w := cmd.OutOrStdout()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(w, "🚀 Starting GraphGenie v%s\n", version)
	fmt.Fprintf(w, "   Database:   %s\n", cfg.Database.URI)
	fmt.Fprintf(w, "   Mode:       %s\n", cfg.Generation.Mode)
	fmt.Fprintf(w, "   Rounds:     %d x %d base queries\n", cfg.Testing.Rounds, cfg.Testing.QueriesPerRound)
	fmt.Fprintf(w, "   Bug log:    %s\n", cfg.Testing.BugLogPath)
	fmt.Fprintln(w)

	exec, err := openExecutor(ctx, cfg, log.Named("executor"))
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer closeExecutor(exec)

	model, err := loadModel(ctx, cmd, exec, cfg.Generation.Mode == "graph")
	if err != nil {
		return err
	}
	rng := newRand(cfg.Generation.Seed)
	src, err := newSource(model, cfg.Generation, rng, log.Named("generator"))
	if err != nil {
		return err
	}

	tr, err := openTraces(cfg.Testing)
	if err != nil {
		return err
	}
	defer tr.Close()

	opts := []oracle.Option{
		oracle.WithConfig(oracleConfig(cfg.Testing)),
		oracle.WithLogger(log),
		oracle.WithBugLog(tr.bugs),
		oracle.WithTraces(tr.execution, tr.exceptions),
	}
	opts = append(opts, suppressionOptions(cfg.Testing)...)

	if cfg.Metrics.Enabled || cmd.Flags().Changed("metrics-addr") {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, oracle.WithMetrics(metrics.New(reg)))

		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
		fmt.Fprintf(w, "📈 Metrics:    http://%s/metrics\n\n", strings.TrimPrefix(cfg.Metrics.Addr, "http://"))
	}

	o := oracle.New(src, mutator.New(model, rng), exec, opts...)
	summary, runErr := o.Run(ctx)
	if summary == nil {
		return runErr
	}

	rep := report.NewReporter(w)
	if compact {
		rep.PrintCompact(summary)
	} else {
		rep.PrintSummary(summary)
		rep.PrintRounds(summary)
	}
	if reportJSON != "" {
		if err := rep.SaveJSON(summary, reportJSON); err != nil {
			return err
		}
		fmt.Fprintf(w, "💾 Summary saved to %s\n", reportJSON)
	}
	return runErr
}

// ============================================================================
// bugs
// ============================================================================

func newBugsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bugs",
		Short: "List recorded bugs",
		RunE:  runBugs,
	}
	cmd.Flags().String("bug-log", "", "Bug log file")
	cmd.Flags().StringSlice("kind", nil, "Filter by kind (logic, restricted-logic, performance)")
	cmd.Flags().String("since", "", "Only bugs after this RFC3339 time or this long ago (e.g. 24h)")
	cmd.Flags().String("run", "", "Only bugs of this run ID")
	cmd.Flags().Int("limit", 0, "Maximum bugs to list (0 = all)")
	cmd.Flags().Int("offset", 0, "Skip this many matches")
	cmd.Flags().Bool("details", false, "Print full queries and timings")
	cmd.Flags().Bool("summary", false, "Print counts instead of bugs")
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

// parseSince accepts an RFC3339 timestamp or a duration before now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC3339 time or duration", s)
	}
	return t, nil
}

func runBugs(cmd *cobra.Command, args []string) error {
	kinds, _ := cmd.Flags().GetStringSlice("kind")
	since, _ := cmd.Flags().GetString("since")
	runID, _ := cmd.Flags().GetString("run")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	details, _ := cmd.Flags().GetBool("details")
	summary, _ := cmd.Flags().GetBool("summary")
	asJSON, _ := cmd.Flags().GetBool("json")

	from, err := parseSince(since, time.Now())
	if err != nil {
		return err
	}
	q := buglog.Query{Since: from, RunID: runID, Limit: limit, Offset: offset}
	for _, k := range kinds {
		q.Kinds = append(q.Kinds, buglog.Kind(k))
	}

	reader := buglog.NewReader(cli.cfg.Testing.BugLogPath)
	rep := report.NewReporter(cmd.OutOrStdout())

	if summary {
		s, err := reader.Summarize(q)
		if err != nil {
			return err
		}
		if asJSON {
			return rep.PrintJSON(s)
		}
		rep.PrintBugSummary(s)
		return nil
	}

	res, err := reader.Query(q)
	if err != nil {
		return err
	}
	if asJSON {
		return rep.PrintJSON(res)
	}
	rep.PrintBugs(res.Records, details)
	if res.HasMore {
		fmt.Fprintf(cmd.OutOrStdout(), "... %d of %d shown\n", len(res.Records), res.TotalCount)
	}
	return nil
}
