// Package main provides the GraphGenie CLI entry point.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/orneryd/graphgenie/pkg/config"
	"github.com/orneryd/graphgenie/pkg/executor"
	"github.com/orneryd/graphgenie/pkg/generator"
	"github.com/orneryd/graphgenie/pkg/logging"
	"github.com/orneryd/graphgenie/pkg/schema"
	"github.com/orneryd/graphgenie/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

// flagKeys maps command flags onto configuration keys so a changed flag
// overrides file and environment values.
var flagKeys = map[string]string{
	"log-level":         "logging.level",
	"uri":               "database.uri",
	"database":          "database.name",
	"user":              "database.user",
	"password":          "database.password",
	"mode":              "generation.mode",
	"seed":              "generation.seed",
	"aggregate-only":    "generation.aggregate_only",
	"rounds":            "testing.rounds",
	"queries":           "testing.queries_per_round",
	"concurrent":        "testing.concurrent",
	"perf":              "testing.performance",
	"variant":           "testing.variant",
	"threshold":         "testing.threshold",
	"variant-threshold": "testing.variant_threshold",
	"suppress":          "testing.suppress",
	"metrics-addr":      "metrics.addr",
	"bug-log":           "testing.bug_log_path",
}

// app is the state shared by subcommands after configuration is loaded.
type app struct {
	v   *viper.Viper
	cfg *config.Config
	log *zap.Logger
}

var cli = &app{}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "graphgenie",
		Short: "GraphGenie - metamorphic testing for Cypher graph databases",
		Long: `GraphGenie generates random Cypher queries from a live database's schema,
derives queries that must return the same (or a bounded) result, runs both and
reports any divergence in value or timing as a potential bug.

Features:
  • Graph-guided and label-driven query generation
  • Nested EXISTS decomposition into a chain of materialized views
  • Logic, restricted-logic and performance checks
  • Bolt and HTTP transports
  • JSON-lines bug log with optional cross-round suppression`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
		PersistentPostRun: func(cmd *cobra.Command, args []string) { logging.Sync() },
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default ./graphgenie.yaml or ~/.graphgenie/graphgenie.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "GraphGenie v%s (%s)\n", version, commit)
		},
	})

	// Init command
	initCmd := &cobra.Command{
		Use:         "init [path]",
		Short:       "Write a default configuration file",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipConfig: "true"},
		RunE:        runInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")
	rootCmd.AddCommand(initCmd)

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newMutateCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newBugsCmd())
	return rootCmd
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Annotations[skipConfig] != "" {
		return nil
	}
	configFile, _ := cmd.Flags().GetString("config")
	v, err := config.NewViper(configFile)
	if err != nil {
		return err
	}
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return fmt.Errorf("bind flags: %w", bindErr)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		return err
	}
	cli.v, cli.cfg, cli.log = v, cfg, logging.Get()
	cli.log.Debug("configuration loaded", zap.String("config", cfg.String()))
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.FileName + ".yaml"
	if len(args) == 1 {
		path = args[0]
	}
	force, _ := cmd.Flags().GetBool("force")

	if err := config.WriteDefault(path, force); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✅ Wrote default configuration to %s\n", path)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Point database.uri at the engine under test")
	fmt.Fprintln(out, "  2. Scan its schema:  graphgenie scan --out schema.yaml --snapshot ./snapshot")
	fmt.Fprintln(out, "  3. Start testing:    graphgenie run --schema schema.yaml --snapshot ./snapshot")
	return nil
}

// ============================================================================
// Shared wiring
// ============================================================================

func executorOptions(cfg *config.Config, log *zap.Logger) executor.Options {
	opts := executor.DefaultOptions()
	opts.ClearCacheQuery = cfg.Database.ClearCacheQuery
	if cfg.Database.QueryTimeout > 0 {
		opts.Timeout = cfg.Database.QueryTimeout
	}
	opts.Logger = log
	return opts
}

// openExecutor connects to the configured database. The URI scheme picks the
// transport.
func openExecutor(ctx context.Context, cfg *config.Config, log *zap.Logger) (executor.Executor, error) {
	proto, err := cfg.Database.Protocol()
	if err != nil {
		return nil, err
	}
	db := cfg.Database
	opts := executorOptions(cfg, log)
	if proto == "http" {
		return executor.NewHTTP(db.URI, db.Name, db.User, db.Password, opts), nil
	}
	exec, err := executor.NewBolt(ctx, db.URI, db.User, db.Password, db.Name, opts)
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func generatorOptions(g config.GenerationConfig) generator.Options {
	opts := generator.DefaultOptions()
	opts.MinNodeCount = g.MinNodeCount
	opts.MaxNodeCount = g.MaxNodeCount
	opts.SubqueryRate = g.SubqueryRate
	opts.SubqueryMaxDepth = g.SubqueryMaxDepth
	opts.SubqueryMaxBranching = g.SubqueryMaxBranching
	opts.UnionRate = g.UnionRate
	opts.UnionMaxBranches = g.UnionMaxBranches
	opts.ReturnSymbolRate = g.ReturnSymbolRate
	opts.AggregateOnly = g.AggregateOnly
	opts.NodeSymbolRate = g.NodeSymbolRate
	opts.EdgeSymbolRate = g.EdgeSymbolRate
	opts.NodeLabelRate = g.NodeLabelRate
	opts.EdgeLabelRate = g.EdgeLabelRate
	opts.MultiLabelRate = g.MultiLabelRate
	opts.CyclicRate = g.CyclicRate
	opts.VariableLengthRate = g.VariableLengthRate
	opts.RandomSymbolLen = g.RandomSymbolLen
	return opts
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// newSource builds the configured generator over model.
func newSource(model *schema.Model, g config.GenerationConfig, rng *rand.Rand, log *zap.Logger) (generator.Source, error) {
	opts := generatorOptions(g)
	if g.Mode == "label" {
		lg, err := generator.NewLabelGenerator(model, rng, opts, log)
		if err != nil {
			return nil, err
		}
		return lg, nil
	}
	gg, err := generator.New(model, rng, opts, log)
	if err != nil {
		return nil, err
	}
	return gg, nil
}

// loadModel reads a schema file and graph snapshot when given, and scans the
// live database for whatever is missing. exec may be nil when both files are
// given.
func loadModel(ctx context.Context, cmd *cobra.Command, exec executor.Executor, needGraph bool) (*schema.Model, error) {
	schemaPath, _ := cmd.Flags().GetString("schema")
	snapshotDir, _ := cmd.Flags().GetString("snapshot")

	if schemaPath == "" {
		if exec == nil {
			return nil, fmt.Errorf("no --schema given and no database to scan")
		}
		var opts []schema.ScannerOption
		if !needGraph {
			opts = append(opts, schema.WithoutGraph())
		}
		return schema.NewScanner(exec, cli.log.Named("scanner"), opts...).Scan(ctx)
	}

	model, err := schema.LoadYAML(schemaPath)
	if err != nil {
		return nil, err
	}
	if !needGraph {
		return model, nil
	}
	if snapshotDir != "" {
		model.Graph, err = loadSnapshot(snapshotDir)
		return model, err
	}
	if exec == nil {
		return nil, fmt.Errorf("graph mode needs --snapshot or a database to scan")
	}
	model.Graph, err = schema.NewScanner(exec, cli.log.Named("scanner")).PullGraph(ctx)
	return model, err
}

// isExport reports whether a snapshot path names a JSON export file rather
// than a badger directory.
func isExport(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// loadSnapshot copies a badger snapshot or JSON export into memory for
// sampling.
func loadSnapshot(dir string) (*storage.MemoryEngine, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", dir, err)
	}
	if isExport(dir) {
		mem := storage.NewMemoryEngine()
		if err := storage.LoadExport(mem, dir); err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		return mem, nil
	}
	snap, err := storage.NewBadgerEngine(dir)
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	mem := storage.NewMemoryEngine()
	if err := storage.CopyGraph(mem, snap); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return mem, nil
}

// saveSnapshot replaces the snapshot in dir with g.
func saveSnapshot(dir string, g storage.Engine) error {
	if isExport(dir) {
		return storage.SaveExport(g, dir)
	}
	snap, err := storage.NewBadgerEngine(dir)
	if err != nil {
		return err
	}
	defer snap.Close()
	if err := snap.Reset(); err != nil {
		return err
	}
	if err := storage.CopyGraph(snap, g); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func closeExecutor(exec executor.Executor) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := exec.Close(ctx); err != nil {
		cli.log.Warn("close executor", zap.Error(err))
	}
}
