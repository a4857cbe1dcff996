package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphgenie/pkg/buglog"
	"github.com/orneryd/graphgenie/pkg/cache"
	"github.com/orneryd/graphgenie/pkg/mutator"
	"github.com/orneryd/graphgenie/pkg/oracle"
)

func sampleSummary() *oracle.Summary {
	r1 := oracle.Round{ID: 1, BaseQueries: 10, Executed: 40, Bugs: 2, Logic: 1, Performance: 1,
		RuleTally: mutator.RuleVector{0, 1, 1}, NodeCount: 3, Duration: time.Second}
	r2 := oracle.Round{ID: 2, BaseQueries: 10, Executed: 38, Skipped: 1, Failures: 2, NodeCount: 2, Duration: time.Second}
	return &oracle.Summary{
		RunID:     "run-1",
		Rounds:    []oracle.Round{r1, r2},
		Total:     oracle.Round{BaseQueries: 20, Executed: 78, Skipped: 1, Failures: 2, Bugs: 2, Logic: 1, Performance: 1, NodeCount: 2},
		RuleTally: mutator.RuleVector{0, 1, 1},
		Started:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:  2 * time.Second,
	}
}

func TestReporter_PrintSummary(t *testing.T) {
	var buf bytes.Buffer
	NewReporter(&buf).PrintSummary(sampleSummary())
	out := buf.String()

	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "2026-01-02T03:04:05Z")
	assert.Contains(t, out, "Bugs: 2")
	assert.Contains(t, out, "Logic")
	assert.Contains(t, out, "Structural")
	assert.Contains(t, out, "[██████████░░░░░░░░░░]", "half the bugs are logic bugs")
}

func TestReporter_PrintSummarySuppression(t *testing.T) {
	s := sampleSummary()
	s.Total.Suppressed = 3
	s.Suppression = &cache.Stats{Size: 5, MaxSize: 4096, Hits: 3, Misses: 5, HitRate: 37.5}

	var buf bytes.Buffer
	NewReporter(&buf).PrintSummary(s)
	assert.Contains(t, buf.String(), "suppressed repeats: 3")
	assert.Contains(t, buf.String(), "Fingerprints: 5/4096 | Hits: 3 (37.5%) | Evictions: 0")

	buf.Reset()
	NewReporter(&buf).PrintSummary(sampleSummary())
	assert.NotContains(t, buf.String(), "Fingerprints:")
}

func TestReporter_PrintSummaryNoBugs(t *testing.T) {
	var buf bytes.Buffer
	NewReporter(&buf).PrintSummary(&oracle.Summary{})
	assert.Contains(t, buf.String(), "✅ Bugs: 0")
	assert.Contains(t, buf.String(), "[░░░░░░░░░░░░░░░░░░░░]")
}

func TestReporter_PrintCompact(t *testing.T) {
	var buf bytes.Buffer
	NewReporter(&buf).PrintCompact(sampleSummary())
	assert.Equal(t,
		"[BUGS] 2 rounds | 20 base queries | bugs=2 logic=1 restricted=0 perf=1 | rules=[0 1 1] | 2s\n",
		buf.String())
}

func TestReporter_PrintRounds(t *testing.T) {
	var buf bytes.Buffer
	NewReporter(&buf).PrintRounds(sampleSummary())
	assert.Contains(t, buf.String(), "🐞 Round 1: 10 base queries, 2 bugs (L=1 R=0 P=1)")
	assert.Contains(t, buf.String(), "✅ Round 2")
}

func TestReporter_PrintBugs(t *testing.T) {
	recs := []buglog.Record{{
		Kind:       buglog.KindPerformance,
		Round:      1,
		Variant:    "view-chain",
		BaseQuery:  "MATCH (id1) RETURN count(id1)",
		TestQuery:  "MATCH (view0:view0)\nRETURN count(id1)",
		BaseResult: int64(3),
		TestResult: int64(3),
		BaseMs:     1000,
		TestMs:     100,
		Ratio:      10,
		Rules:      [3]int{0, 0, 1},
	}}

	var brief, full bytes.Buffer
	NewReporter(&brief).PrintBugs(recs, false)
	NewReporter(&full).PrintBugs(recs, true)

	assert.Contains(t, brief.String(), "1. [performance]")
	assert.NotContains(t, brief.String(), "Test:")
	assert.Contains(t, full.String(), "Time: 1000.0ms -> 100.0ms (x10.00)")
	assert.Contains(t, full.String(), "Rules: [0 0 1]")
}

func TestReporter_PrintBugSummary(t *testing.T) {
	var buf bytes.Buffer
	NewReporter(&buf).PrintBugSummary(&buglog.Summary{
		Total:  4,
		Runs:   2,
		ByKind: map[buglog.Kind]int{buglog.KindLogic: 3, buglog.KindPerformance: 1},
		Rules:  [3]int{1, 1, 2},
	})
	out := buf.String()
	assert.Contains(t, out, "Bugs: 4 across 2 runs")
	assert.Less(t, strings.Index(out, "logic"), strings.Index(out, "performance"))

	buf.Reset()
	NewReporter(&buf).PrintBugSummary(&buglog.Summary{})
	assert.Equal(t, "Bugs: 0 across 0 runs\n", buf.String())
}

func TestReporter_JSON(t *testing.T) {
	s := sampleSummary()

	var buf bytes.Buffer
	require.NoError(t, NewReporter(&buf).PrintJSON(s))
	var decoded oracle.Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Len(t, decoded.Rounds, 2)

	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, NewReporter(nil).SaveJSON(s, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, buf.String(), string(data))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
