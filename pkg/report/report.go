// Package report formats test run summaries and bug logs for the terminal.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/orneryd/graphgenie/pkg/buglog"
	"github.com/orneryd/graphgenie/pkg/oracle"
)

var ruleNames = [3]string{"Non-structural", "Property-level", "Structural"}

// Reporter formats and outputs test results.
type Reporter struct {
	writer io.Writer
}

// NewReporter creates a new reporter that writes to the given writer.
func NewReporter(w io.Writer) *Reporter {
	if w == nil {
		w = os.Stdout
	}
	return &Reporter{writer: w}
}

// PrintSummary prints a human-readable summary of a run.
func (r *Reporter) PrintSummary(s *oracle.Summary) {
	w := r.writer
	t := s.Total

	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                 GraphGenie Test Run Results                    ║")
	fmt.Fprintln(w, "╚════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "🆔 Run:   %s\n", s.RunID)
	fmt.Fprintf(w, "📅 Time:  %s\n", s.Started.Format(time.RFC3339))
	fmt.Fprintf(w, "⏱️  Duration: %v\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "🔁 Rounds: %d | Base queries: %d | Executed: %d\n", len(s.Rounds), t.BaseQueries, t.Executed)
	fmt.Fprintln(w)

	statusIcon := "✅"
	if t.Bugs > 0 {
		statusIcon = "🐞"
	}
	fmt.Fprintf(w, "%s Bugs: %d (suppressed repeats: %d)\n", statusIcon, t.Bugs, t.Suppressed)
	if st := s.Suppression; st != nil {
		fmt.Fprintf(w, "🧹 Fingerprints: %d/%d | Hits: %d (%.1f%%) | Evictions: %d\n",
			st.Size, st.MaxSize, st.Hits, st.HitRate, st.Evictions)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "┌─────────────────────────────────────────────────────────────────┐")
	fmt.Fprintln(w, "│                        Bugs by Kind                             │")
	fmt.Fprintln(w, "├─────────────────────────────────────────────────────────────────┤")
	r.printCountRow(w, "Logic", t.Logic, t.Bugs)
	r.printCountRow(w, "Restricted", t.RestrictedLogic, t.Bugs)
	r.printCountRow(w, "Performance", t.Performance, t.Bugs)
	fmt.Fprintln(w, "├─────────────────────────────────────────────────────────────────┤")
	fmt.Fprintln(w, "│                        Rule Attribution                         │")
	fmt.Fprintln(w, "├─────────────────────────────────────────────────────────────────┤")
	r.printRules(w, s.RuleTally)
	fmt.Fprintln(w, "├─────────────────────────────────────────────────────────────────┤")
	r.printCountRow(w, "Skipped", t.Skipped, t.BaseQueries)
	r.printCountRow(w, "Failures", t.Failures, t.Executed)
	r.printCountRow(w, "None checks", t.NoneChecks, t.Executed)
	fmt.Fprintf(w, "│   %-14s %d\n", "Final level", t.NodeCount)
	fmt.Fprintln(w, "└─────────────────────────────────────────────────────────────────┘")
	fmt.Fprintln(w)
}

func (r *Reporter) printRules(w io.Writer, tally [3]int) {
	total := tally[0] + tally[1] + tally[2]
	for i, n := range tally {
		r.printCountRow(w, ruleNames[i], n, total)
	}
}

// printCountRow prints a count with a bar showing its share of total.
func (r *Reporter) printCountRow(w io.Writer, name string, n, total int) {
	var share float64
	if total > 0 {
		share = float64(n) / float64(total)
	}
	fmt.Fprintf(w, "│   %-14s %s %6d (%5.1f%%)\n", name, r.progressBar(share, 20), n, share*100)
}

// progressBar creates a visual progress bar.
func (r *Reporter) progressBar(value float64, width int) string {
	filled := int(value * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("[%s]", bar)
}

// PrintRounds prints one line per round.
func (r *Reporter) PrintRounds(s *oracle.Summary) {
	w := r.writer

	fmt.Fprintln(w)
	fmt.Fprintln(w, "┌─────────────────────────────────────────────────────────────────┐")
	fmt.Fprintln(w, "│                        Per-Round Results                        │")
	fmt.Fprintln(w, "└─────────────────────────────────────────────────────────────────┘")
	fmt.Fprintln(w)

	for _, rd := range s.Rounds {
		status := "✅"
		if rd.Bugs > 0 {
			status = "🐞"
		}
		fmt.Fprintf(w, "%s Round %d: %d base queries, %d bugs (L=%d R=%d P=%d), rules %v, level %d, %v\n",
			status, rd.ID, rd.BaseQueries, rd.Bugs, rd.Logic, rd.RestrictedLogic, rd.Performance,
			rd.RuleTally, rd.NodeCount, rd.Duration.Round(time.Millisecond))
	}
	fmt.Fprintln(w)
}

// PrintCompact prints a one-line summary.
func (r *Reporter) PrintCompact(s *oracle.Summary) {
	t := s.Total
	status := "CLEAN"
	if t.Bugs > 0 {
		status = "BUGS"
	}

	fmt.Fprintf(r.writer, "[%s] %d rounds | %d base queries | bugs=%d logic=%d restricted=%d perf=%d | rules=%v | %v\n",
		status,
		len(s.Rounds), t.BaseQueries,
		t.Bugs, t.Logic, t.RestrictedLogic, t.Performance,
		s.RuleTally,
		s.Duration.Round(time.Millisecond),
	)
}

// PrintBugs lists bug records. With details, both queries and timings are
// shown in full.
func (r *Reporter) PrintBugs(records []buglog.Record, details bool) {
	w := r.writer
	for i, rec := range records {
		fmt.Fprintf(w, "%d. [%s] %s round %d via %s\n", i+1, rec.Kind,
			rec.Timestamp.Format(time.RFC3339), rec.Round, rec.Variant)
		if !details {
			fmt.Fprintf(w, "   Base: %s\n", truncate(rec.BaseQuery, 80))
			fmt.Fprintf(w, "   %v -> %v\n", rec.BaseResult, rec.TestResult)
			continue
		}
		fmt.Fprintf(w, "   Base: %s\n", rec.BaseQuery)
		fmt.Fprintf(w, "   Test: %s\n", strings.ReplaceAll(rec.TestQuery, "\n", "\n         "))
		fmt.Fprintf(w, "   Results: %v -> %v\n", rec.BaseResult, rec.TestResult)
		if rec.Kind == buglog.KindPerformance {
			fmt.Fprintf(w, "   Time: %.1fms -> %.1fms (x%.2f)\n", rec.BaseMs, rec.TestMs, rec.Ratio)
		}
		fmt.Fprintf(w, "   Rules: %v | Run: %s\n", rec.Rules, rec.RunID)
		fmt.Fprintln(w)
	}
}

// PrintBugSummary prints an aggregate of a bug log.
func (r *Reporter) PrintBugSummary(s *buglog.Summary) {
	w := r.writer
	fmt.Fprintf(w, "Bugs: %d across %d runs\n", s.Total, s.Runs)
	if s.Total == 0 {
		return
	}
	fmt.Fprintf(w, "Span: %s .. %s\n", s.First.Format(time.RFC3339), s.Last.Format(time.RFC3339))

	kinds := make([]string, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, string(k))
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		r.printCountRow(w, k, s.ByKind[buglog.Kind(k)], s.Total)
	}
	r.printRules(w, s.Rules)
}

// PrintJSON outputs v as indented JSON.
func (r *Reporter) PrintJSON(v any) error {
	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// SaveJSON saves v to a JSON file.
func (r *Reporter) SaveJSON(v any, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
