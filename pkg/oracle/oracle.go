// Package oracle runs the differential testing loop.
//
// Each base query from the generator is executed, then every derived variant
// from the mutator is executed and compared against it:
//
//   - logic: an equivalent variant of a count query returned a different value
//   - restricted-logic: a restricted variant returned more than the base query
//   - performance: a timing ratio crossed its threshold in the regressing
//     direction while both timings were significant
//
// Findings are written to the bug log, counted per round with their rule
// attribution, and suppressed when an identical divergence was already
// reported. Infrastructure failures go to the exception trace and count as
// "no result"; they are never bugs and never retried.
//
// View-chain plans always run their delete steps, including when a create or
// the match fails or the caller's context is cancelled.
//
// Example:
//
//	o := oracle.New(gen, mutator.New(model, rng), exec,
//		oracle.WithConfig(cfg),
//		oracle.WithBugLog(bugs),
//		oracle.WithLogger(log),
//	)
//	summary, err := o.Run(ctx)
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orneryd/graphgenie/pkg/buglog"
	"github.com/orneryd/graphgenie/pkg/cache"
	"github.com/orneryd/graphgenie/pkg/executor"
	"github.com/orneryd/graphgenie/pkg/generator"
	"github.com/orneryd/graphgenie/pkg/metrics"
	"github.com/orneryd/graphgenie/pkg/mutator"
)

// SignificantTestMs is the test time a performance finding must exceed.
const SignificantTestMs = 50.0

// Mutator derives variants of a base query.
type Mutator interface {
	Equivalents(query string) ([]mutator.Variant, error)
	Restricted(query string) ([]mutator.Variant, error)
}

// Config tunes the testing loop.
type Config struct {
	// Rounds to run. 0 runs until the context is done.
	Rounds int
	// QueriesPerRound base queries per round. 0 runs until the context is done.
	QueriesPerRound int
	// Concurrent runs the single-query variants of a base query in parallel.
	Concurrent bool
	// Performance enables timing checks.
	Performance bool
	// Variant enables restricted variants.
	Variant          bool
	Threshold        float64
	VariantThreshold float64
	// MinimumTestMs is the base time below which timings are not compared.
	MinimumTestMs float64
	// LogEvery logs progress every N base queries. 0 disables.
	LogEvery int
	// CleanupTimeout bounds the delete steps of one plan.
	CleanupTimeout time.Duration
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		Rounds:           10,
		QueriesPerRound:  100,
		Performance:      true,
		Variant:          true,
		Threshold:        5,
		VariantThreshold: 5,
		MinimumTestMs:    100,
		LogEvery:         50,
		CleanupTimeout:   time.Minute,
	}
}

// Round tallies one test round.
type Round struct {
	ID              int                `json:"id"`
	BaseQueries     int                `json:"base_queries"`
	Executed        int                `json:"executed"`
	Skipped         int                `json:"skipped"`
	Failures        int                `json:"failures"`
	Bugs            int                `json:"bugs"`
	Logic           int                `json:"logic"`
	RestrictedLogic int                `json:"restricted_logic"`
	Performance     int                `json:"performance"`
	Suppressed      int                `json:"suppressed"`
	NoneChecks      int                `json:"none_checks"`
	RuleTally       mutator.RuleVector `json:"rule_tally"`
	NodeCount       int                `json:"node_count"`
	Started         time.Time          `json:"started"`
	Duration        time.Duration      `json:"duration"`

	// mismatched test values of the current base query
	seen []any
}

// Summary aggregates a run.
type Summary struct {
	RunID     string             `json:"run_id"`
	Rounds    []Round            `json:"rounds"`
	Total     Round              `json:"total"`
	Started   time.Time          `json:"started"`
	Duration  time.Duration      `json:"duration"`
	RuleTally mutator.RuleVector `json:"rule_tally"`
	// Suppression is set when cross-round suppression is enabled.
	Suppression *cache.Stats `json:"suppression,omitempty"`
}

func (s *Summary) add(r Round) {
	s.Rounds = append(s.Rounds, r)
	t := &s.Total
	t.BaseQueries += r.BaseQueries
	t.Executed += r.Executed
	t.Skipped += r.Skipped
	t.Failures += r.Failures
	t.Bugs += r.Bugs
	t.Logic += r.Logic
	t.RestrictedLogic += r.RestrictedLogic
	t.Performance += r.Performance
	t.Suppressed += r.Suppressed
	t.NoneChecks += r.NoneChecks
	t.RuleTally = t.RuleTally.Add(r.RuleTally)
	t.NodeCount = r.NodeCount
	s.RuleTally = t.RuleTally
}

// Option configures an Oracle.
type Option func(*Oracle)

func WithConfig(cfg Config) Option { return func(o *Oracle) { o.cfg = cfg } }

func WithLogger(l *zap.Logger) Option {
	return func(o *Oracle) { o.log = l.Named("oracle") }
}

func WithBugLog(l *buglog.Logger) Option { return func(o *Oracle) { o.bugs = l } }

// WithTraces sets the execution and exception traces. Either may be nil.
func WithTraces(execution, exception *buglog.Trace) Option {
	return func(o *Oracle) { o.trace, o.exceptions = execution, exception }
}

func WithMetrics(m *metrics.Metrics) Option { return func(o *Oracle) { o.metrics = m } }

// WithFingerprints enables cross-round suppression of repeated bugs.
func WithFingerprints(f *cache.Fingerprints) Option { return func(o *Oracle) { o.fingerprints = f } }

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option { return func(o *Oracle) { o.runID = id } }

// Oracle owns the generator, mutator and executor of one test run. It is
// driven by a single goroutine; only variant execution fans out.
type Oracle struct {
	gen  generator.Source
	mut  Mutator
	exec executor.Executor
	cfg  Config

	log          *zap.Logger
	bugs         *buglog.Logger
	trace        *buglog.Trace
	exceptions   *buglog.Trace
	metrics      *metrics.Metrics
	fingerprints *cache.Fingerprints

	runID      string
	startLevel int
	executed   int
}

// New creates an oracle.
func New(gen generator.Source, mut Mutator, exec executor.Executor, opts ...Option) *Oracle {
	o := &Oracle{
		gen:  gen,
		mut:  mut,
		exec: exec,
		cfg:  DefaultConfig(),
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	if o.cfg.CleanupTimeout <= 0 {
		o.cfg.CleanupTimeout = time.Minute
	}
	o.startLevel = gen.State().NodeCount
	if o.bugs != nil {
		o.bugs.SetRunID(o.runID)
	}
	return o
}

// RunID identifies this run in bug records.
func (o *Oracle) RunID() string { return o.runID }

// Run executes the configured rounds. Cancelling ctx ends the run after the
// current base query; the summary so far is returned without error.
func (o *Oracle) Run(ctx context.Context) (*Summary, error) {
	s := &Summary{RunID: o.runID, Started: time.Now()}
	o.log.Info("test run started",
		zap.String("run_id", o.runID),
		zap.Int("rounds", o.cfg.Rounds),
		zap.Int("queries_per_round", o.cfg.QueriesPerRound),
		zap.Bool("concurrent", o.cfg.Concurrent),
		zap.Bool("performance", o.cfg.Performance))

	for id := 1; o.cfg.Rounds == 0 || id <= o.cfg.Rounds; id++ {
		if ctx.Err() != nil {
			break
		}
		r, err := o.RunRound(ctx, id)
		s.add(r)
		if err != nil {
			o.finish(s)
			return s, err
		}
	}
	o.finish(s)
	o.log.Info("test run finished",
		zap.Int("base_queries", s.Total.BaseQueries),
		zap.Int("bugs", s.Total.Bugs),
		zap.Ints("rule_tally", s.RuleTally[:]),
		zap.Duration("duration", s.Duration))
	return s, nil
}

func (o *Oracle) finish(s *Summary) {
	s.Duration = time.Since(s.Started)
	if o.fingerprints != nil {
		st := o.fingerprints.Stats()
		s.Suppression = &st
	}
}

// RunRound resets the generator's escalation level and tests base queries
// until the round is full or ctx is done. Generation errors end the round.
func (o *Oracle) RunRound(ctx context.Context, id int) (Round, error) {
	r := Round{ID: id, Started: time.Now()}
	state := o.gen.State()
	state.Reset(o.startLevel)
	o.trace.Printf("===== round %d =====", id)

	for o.cfg.QueriesPerRound == 0 || r.BaseQueries < o.cfg.QueriesPerRound {
		if ctx.Err() != nil {
			break
		}
		if o.cfg.LogEvery > 0 && r.BaseQueries > 0 && r.BaseQueries%o.cfg.LogEvery == 0 {
			o.log.Info("progress",
				zap.Int("round", id),
				zap.Int("base_queries", r.BaseQueries),
				zap.Int("bugs", r.Bugs),
				zap.Ints("rule_tally", r.RuleTally[:]),
				zap.Int("node_count", state.NodeCount))
		}

		q, err := o.gen.Next()
		if err != nil {
			r.Duration = time.Since(r.Started)
			return r, fmt.Errorf("generate base query: %w", err)
		}
		o.metrics.SetNodeCount(state.NodeCount)
		o.Test(ctx, q.String(), &r)
	}
	r.NodeCount = state.NodeCount
	r.Duration = time.Since(r.Started)
	o.metrics.RoundDone()
	return r, nil
}

// Test checks one base query and its variants, updating r.
func (o *Oracle) Test(ctx context.Context, base string, r *Round) {
	r.BaseQueries++
	r.seen = r.seen[:0]
	o.trace.Printf("No.%d base query: %s", r.BaseQueries, base)

	baseRes, err := o.execute(ctx, metrics.RoleBase, base, r)
	if err != nil {
		r.Skipped++
		return
	}
	if baseRes.Elapsed <= 0 {
		o.trace.Printf("[skip] base query reported no execution time")
		r.Skipped++
		return
	}

	equivalents, err := o.mut.Equivalents(base)
	if err != nil {
		o.exceptions.Exception(base, fmt.Errorf("mutate: %w", err))
		o.log.Debug("mutation failed", zap.String("query", base), zap.Error(err))
		r.Skipped++
		return
	}
	var restricted []mutator.Variant
	if o.cfg.Variant {
		restricted, err = o.mut.Restricted(base)
		if err != nil {
			o.exceptions.Exception(base, fmt.Errorf("restrict: %w", err))
			restricted = nil
		}
	}

	for _, oc := range o.evaluate(ctx, equivalents, r) {
		o.checkResult(base, baseRes, oc, r)
		if oc.err == nil && o.cfg.Performance && baseRes.Millis() > o.cfg.MinimumTestMs {
			o.checkTime(base, baseRes, oc, r)
		}
	}
	for _, oc := range o.evaluate(ctx, restricted, r) {
		if oc.err != nil {
			continue
		}
		o.checkRestricted(base, baseRes, oc, r)
		if o.cfg.Performance {
			o.checkVariantTime(base, baseRes, oc, r)
		}
	}
}

// execute runs one timed query, tracing it and classifying failures.
func (o *Oracle) execute(ctx context.Context, role, query string, r *Round) (executor.Result, error) {
	res, err := o.exec.Execute(ctx, query)
	o.record(role, query, res, err, r)
	return res, err
}

func (o *Oracle) record(role, query string, res executor.Result, err error, r *Round) {
	r.Executed++
	o.executed++
	switch {
	case err == nil:
		o.metrics.ObserveQuery(role, metrics.StatusOK, res.Elapsed)
		o.trace.Printf("No.%d [%s] %s\n\tresult=%v\n\ttime=%.3fms", o.executed, role, query, res.Value, res.Millis())
	case executor.IsTimeout(err):
		r.Failures++
		o.metrics.ObserveQuery(role, metrics.StatusTimeout, 0)
		o.trace.Printf("No.%d [%s] %s\n\ttimeout", o.executed, role, query)
	default:
		r.Failures++
		o.metrics.ObserveQuery(role, metrics.StatusError, 0)
		o.exceptions.Exception(query, err)
		o.trace.Printf("No.%d [%s] %s\n\terror=%v", o.executed, role, query, err)
	}
}

// ============================================================================
// Bug reporting
// ============================================================================

type finding struct {
	kind    buglog.Kind
	variant string
	base    string
	test    string
	baseRes executor.Result
	testRes executor.Result
	ratio   float64
	rules   mutator.RuleVector
}

func (o *Oracle) report(f finding, r *Round) {
	if o.fingerprints != nil {
		key := cache.Key(string(f.kind), f.variant, cache.Shape(f.test),
			fmt.Sprint(f.baseRes.Value), fmt.Sprint(f.testRes.Value))
		if o.fingerprints.Seen(key) {
			r.Suppressed++
			o.metrics.Suppressed()
			o.trace.Printf("[suppressed %s bug] seen in an earlier round", f.kind)
			return
		}
	}

	r.Bugs++
	switch f.kind {
	case buglog.KindLogic:
		r.Logic++
	case buglog.KindRestrictedLogic:
		r.RestrictedLogic++
	case buglog.KindPerformance:
		r.Performance++
	}
	r.RuleTally = r.RuleTally.Add(f.rules)
	o.metrics.Bug(string(f.kind), f.rules)

	o.trace.Printf("[***** potential %s bug: base=%v test=%v ratio=%.2f *****]",
		f.kind, f.baseRes.Value, f.testRes.Value, f.ratio)
	o.log.Warn("potential bug",
		zap.String("kind", string(f.kind)),
		zap.String("variant", f.variant),
		zap.Int("round", r.ID),
		zap.Any("base_result", f.baseRes.Value),
		zap.Any("test_result", f.testRes.Value),
		zap.Float64("ratio", f.ratio))

	if o.bugs == nil {
		return
	}
	if _, err := o.bugs.Log(buglog.Record{
		Round:      r.ID,
		Kind:       f.kind,
		Variant:    f.variant,
		BaseQuery:  f.base,
		TestQuery:  f.test,
		BaseResult: f.baseRes.Value,
		TestResult: f.testRes.Value,
		BaseMs:     f.baseRes.Millis(),
		TestMs:     f.testRes.Millis(),
		Ratio:      f.ratio,
		Rules:      f.rules,
	}); err != nil && !errors.Is(err, buglog.ErrClosed) {
		o.log.Error("write bug record", zap.Error(err))
	}
}
