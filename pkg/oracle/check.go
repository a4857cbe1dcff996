package oracle

import (
	"context"
	"fmt"
	"reflect"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/orneryd/graphgenie/pkg/buglog"
	"github.com/orneryd/graphgenie/pkg/convert"
	"github.com/orneryd/graphgenie/pkg/executor"
	"github.com/orneryd/graphgenie/pkg/metrics"
	"github.com/orneryd/graphgenie/pkg/mutator"
)

// outcome is the executed match of one variant.
type outcome struct {
	variant mutator.Variant
	res     executor.Result
	err     error
}

// evaluate runs variants and returns their outcomes in input order.
//
// In concurrent mode, plans with view steps still run one at a time because
// view names are shared by every chain. Single-query variants fan out; their
// results are traced and tallied by the calling goroutine once all of them
// have returned.
func (o *Oracle) evaluate(ctx context.Context, variants []mutator.Variant, r *Round) []outcome {
	out := make([]outcome, len(variants))
	if !o.cfg.Concurrent {
		for i, v := range variants {
			out[i] = o.runPlan(ctx, v, r)
		}
		return out
	}

	var parallel []int
	for i, v := range variants {
		if len(v.Plan.Steps) > 0 {
			out[i] = o.runPlan(ctx, v, r)
			continue
		}
		parallel = append(parallel, i)
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, i := range parallel {
		v := variants[i]
		g.Go(func() error {
			res, err := o.exec.Execute(ctx, v.Plan.Match)
			out[i] = outcome{variant: v, res: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, i := range parallel {
		o.record(metrics.RoleVariant, out[i].variant.Plan.Match, out[i].res, out[i].err, r)
	}
	return out
}

// runPlan executes one variant. Delete steps run whenever the plan has any,
// even when a create or the match fails.
func (o *Oracle) runPlan(ctx context.Context, v mutator.Variant, r *Round) (oc outcome) {
	oc.variant = v
	if len(v.Plan.Steps) == 0 {
		oc.res, oc.err = o.execute(ctx, metrics.RoleVariant, v.Plan.Match, r)
		return oc
	}

	defer o.cleanup(ctx, v.Plan, r)
	for _, create := range v.Plan.Creates() {
		res, err := o.exec.Execute(ctx, create)
		o.record(metrics.RoleCreate, create, res, err, r)
		if err != nil {
			oc.err = fmt.Errorf("create view: %w", err)
			return oc
		}
	}
	oc.res, oc.err = o.execute(ctx, metrics.RoleMatch, v.Plan.Match, r)
	return oc
}

// cleanup runs every delete step of p. It is detached from ctx cancellation
// and bounded by the cleanup timeout instead.
func (o *Oracle) cleanup(ctx context.Context, p mutator.Plan, r *Round) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CleanupTimeout)
	defer cancel()
	for _, del := range p.Deletes() {
		res, err := o.exec.Execute(cctx, del)
		o.record(metrics.RoleDelete, del, res, err, r)
	}
}

// ============================================================================
// Checks
// ============================================================================

// checkResult compares an equivalent variant with the base result. Only count
// returns are compared; other returns depend on row order. A mismatch that
// already occurred for this base query is not reported again.
func (o *Oracle) checkResult(base string, baseRes executor.Result, oc outcome, r *Round) {
	if !mutator.IsCount(base) || !mutator.IsCount(oc.variant.Plan.Match) {
		return
	}
	if oc.err == nil && Equal(baseRes.Value, oc.res.Value) {
		return
	}
	if oc.err != nil || baseRes.Value == nil || oc.res.Value == nil {
		r.NoneChecks++
		o.trace.Printf("[None Check] %s: base=%v test=%v", oc.variant.Name, baseRes.Value, oc.res.Value)
		return
	}
	for _, prev := range r.seen {
		if Equal(prev, oc.res.Value) {
			o.trace.Printf("[duplicate mismatch] %s: %v", oc.variant.Name, oc.res.Value)
			return
		}
	}
	r.seen = append(r.seen, oc.res.Value)

	o.report(finding{
		kind:    buglog.KindLogic,
		variant: oc.variant.Name,
		base:    base,
		test:    oc.variant.Plan.Match,
		baseRes: baseRes,
		testRes: oc.res,
		rules:   oc.variant.Plan.Rules,
	}, r)
}

// checkTime reports an equivalent variant that ran Threshold times faster
// than the base query while itself taking a significant time.
func (o *Oracle) checkTime(base string, baseRes executor.Result, oc outcome, r *Round) {
	baseMs, testMs := baseRes.Millis(), oc.res.Millis()
	ratio, ok := Ratio(baseMs, testMs)
	if !ok || ratio <= o.cfg.Threshold || testMs <= SignificantTestMs || testMs >= baseMs {
		return
	}
	o.report(finding{
		kind:    buglog.KindPerformance,
		variant: oc.variant.Name,
		base:    base,
		test:    oc.variant.Plan.Match,
		baseRes: baseRes,
		testRes: oc.res,
		ratio:   ratio,
		rules:   oc.variant.Plan.Rules,
	}, r)
}

// checkRestricted reports a restricted variant whose count exceeds the base
// count.
func (o *Oracle) checkRestricted(base string, baseRes executor.Result, oc outcome, r *Round) {
	if oc.err != nil {
		return
	}
	b, ok1 := toFloat(baseRes.Value)
	t, ok2 := toFloat(oc.res.Value)
	if !ok1 || !ok2 || t <= b {
		return
	}
	o.report(finding{
		kind:    buglog.KindRestrictedLogic,
		variant: oc.variant.Name,
		base:    base,
		test:    oc.variant.Plan.Match,
		baseRes: baseRes,
		testRes: oc.res,
		rules:   oc.variant.Plan.Rules,
	}, r)
}

// checkVariantTime reports a restricted variant that ran VariantThreshold
// times slower than the base query.
func (o *Oracle) checkVariantTime(base string, baseRes executor.Result, oc outcome, r *Round) {
	if oc.err != nil {
		return
	}
	baseMs, testMs := baseRes.Millis(), oc.res.Millis()
	ratio, ok := Ratio(baseMs, testMs)
	if !ok || ratio <= o.cfg.VariantThreshold || testMs <= baseMs {
		return
	}
	o.report(finding{
		kind:    buglog.KindPerformance,
		variant: oc.variant.Name,
		base:    base,
		test:    oc.variant.Plan.Match,
		baseRes: baseRes,
		testRes: oc.res,
		ratio:   ratio,
		rules:   oc.variant.Plan.Rules,
	}, r)
}

// Equal reports whether two results have the same type and value after
// integer normalization.
func Equal(a, b any) bool {
	return reflect.DeepEqual(executor.Normalize(a), executor.Normalize(b))
}

// Ratio returns max/min of two positive timings.
func Ratio(a, b float64) (float64, bool) {
	if a <= 0 || b <= 0 {
		return 0, false
	}
	return max(a, b) / min(a, b), true
}

// toFloat converts a numeric result. Strings never compare as numbers.
func toFloat(v any) (float64, bool) {
	if _, ok := v.(string); ok {
		return 0, false
	}
	return convert.ToFloat64(v)
}
