package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/graphgenie/pkg/executor"
	"github.com/orneryd/graphgenie/pkg/mutator"
	"github.com/orneryd/graphgenie/pkg/schema"
)

func addDatabaseFlags(cmd *cobra.Command) {
	cmd.Flags().String("uri", "", "Database URI (bolt://, neo4j:// or http://)")
	cmd.Flags().String("database", "", "Database name")
	cmd.Flags().String("user", "", "Database user")
	cmd.Flags().String("password", "", "Database password")
}

func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("schema", "", "Schema YAML written by scan (default: scan the database)")
	cmd.Flags().String("snapshot", "", "Graph snapshot written by scan (badger directory or .json export)")
	cmd.Flags().String("mode", "graph", "Generation mode: graph or label")
	cmd.Flags().Int64("seed", 0, "Random seed (0 = time based)")
}

// needsDatabase reports whether a model can only be built by scanning.
func needsDatabase(cmd *cobra.Command) bool {
	schemaPath, _ := cmd.Flags().GetString("schema")
	snapshotDir, _ := cmd.Flags().GetString("snapshot")
	return schemaPath == "" || (cli.cfg.Generation.Mode == "graph" && snapshotDir == "")
}

// ============================================================================
// scan
// ============================================================================

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the database schema and sample graph",
		Long: `Scan reads node labels, relationship types, property types and label
connectivity from the database and writes them as YAML. Unless --no-graph is
set it also assigns n.id = id(n) to every node and saves the graph to a badger
snapshot for later runs.`,
		RunE: runScan,
	}
	addDatabaseFlags(cmd)
	cmd.Flags().String("out", "schema.yaml", "Schema output file")
	cmd.Flags().String("snapshot", "", "Graph snapshot (badger directory, or a .json export file)")
	cmd.Flags().Bool("no-graph", false, "Skip id assignment and the graph pull")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	snapshotDir, _ := cmd.Flags().GetString("snapshot")
	noGraph, _ := cmd.Flags().GetBool("no-graph")
	w := cmd.OutOrStdout()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(w, "🔌 Connecting to %s...\n", cli.cfg.Database.URI)
	exec, err := openExecutor(ctx, cli.cfg, cli.log)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer closeExecutor(exec)

	var opts []schema.ScannerOption
	if noGraph {
		opts = append(opts, schema.WithoutGraph())
	}
	start := time.Now()
	model, err := schema.NewScanner(exec, cli.log.Named("scanner"), opts...).Scan(ctx)
	if err != nil {
		return fmt.Errorf("scanning: %w", err)
	}
	fmt.Fprintf(w, "✅ Scanned %d node labels, %d relationship types in %v\n",
		len(model.NodeLabels), len(model.EdgeLabels), time.Since(start).Round(time.Millisecond))

	if err := model.SaveYAML(out); err != nil {
		return err
	}
	fmt.Fprintf(w, "   Schema: %s\n", out)

	if model.Graph != nil && snapshotDir != "" {
		if err := saveSnapshot(snapshotDir, model.Graph); err != nil {
			return err
		}
		nodes, _ := model.Graph.NodeCount()
		edges, _ := model.Graph.EdgeCount()
		fmt.Fprintf(w, "   Snapshot: %s (%d nodes, %d edges)\n", snapshotDir, nodes, edges)
	}
	return nil
}

// ============================================================================
// generate
// ============================================================================

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print generated base queries",
		RunE:  runGenerate,
	}
	addDatabaseFlags(cmd)
	addModelFlags(cmd)
	cmd.Flags().IntP("count", "n", 10, "Number of queries")
	cmd.Flags().Bool("aggregate-only", false, "Only generate count(...) returns")
	return cmd
}

func runGenerate(cmd *cobra.Command, args []string) error {
	n, _ := cmd.Flags().GetInt("count")
	ctx := cmd.Context()

	var exec executor.Executor
	if needsDatabase(cmd) {
		var err error
		if exec, err = openExecutor(ctx, cli.cfg, cli.log); err != nil {
			return fmt.Errorf("connecting: %w", err)
		}
		defer closeExecutor(exec)
	}

	gen := cli.cfg.Generation
	model, err := loadModel(ctx, cmd, exec, gen.Mode == "graph")
	if err != nil {
		return err
	}
	src, err := newSource(model, gen, newRand(gen.Seed), cli.log.Named("generator"))
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for i := 0; i < n; i++ {
		q, err := src.Next()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, q.String())
	}
	cli.log.Debug("generated", zap.Int("count", n), zap.Int("node_count", src.State().NodeCount))
	return nil
}

// ============================================================================
// mutate
// ============================================================================

func newMutateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mutate <query>",
		Short: "Print the view-chain plan and variants of a query",
		Args:  cobra.ExactArgs(1),
		RunE:  runMutate,
	}
	cmd.Flags().String("schema", "", "Schema YAML used for property types")
	cmd.Flags().Int64("seed", 0, "Random seed (0 = time based)")
	cmd.Flags().Bool("fragments", false, "Also print the decomposed fragments")
	return cmd
}

func runMutate(cmd *cobra.Command, args []string) error {
	query := args[0]
	schemaPath, _ := cmd.Flags().GetString("schema")
	showFragments, _ := cmd.Flags().GetBool("fragments")
	w := cmd.OutOrStdout()

	model := schema.NewModel(nil, nil)
	if schemaPath != "" {
		var err error
		if model, err = schema.LoadYAML(schemaPath); err != nil {
			return err
		}
	}
	m := mutator.New(model, newRand(cli.cfg.Generation.Seed))

	if showFragments {
		d, err := mutator.Decompose(query)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "Fragments (innermost first):")
		for i, f := range d.Fragments {
			fmt.Fprintf(w, "  %d. %s\n", i, f)
		}
		fmt.Fprintln(w)
	}

	equivalents, err := m.Equivalents(query)
	if err != nil {
		return err
	}
	restricted, err := m.Restricted(query)
	if err != nil {
		return err
	}
	for _, v := range equivalents {
		printVariant(w, "equivalent", v)
	}
	for _, v := range restricted {
		printVariant(w, "restricted", v)
	}
	return nil
}

func printVariant(w io.Writer, kind string, v mutator.Variant) {
	fmt.Fprintf(w, "── %s %s rules=%v\n", kind, v.Name, v.Plan.Rules)
	for i, c := range v.Plan.Creates() {
		fmt.Fprintf(w, "create %d:\n%s\n", i, indent(c))
	}
	fmt.Fprintf(w, "match:\n%s\n", indent(v.Plan.Match))
	for i, d := range v.Plan.Deletes() {
		fmt.Fprintf(w, "delete %d:\n%s\n", i, indent(d))
	}
	fmt.Fprintln(w)
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
