// Package metrics exposes Prometheus collectors for test runs.
//
// Collectors are created per Metrics value against an explicit registerer, so
// tests use an isolated registry while the CLI registers against its own and
// serves it over HTTP. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graphgenie"

// Query roles.
const (
	RoleBase    = "base"
	RoleCreate  = "create"
	RoleMatch   = "match"
	RoleDelete  = "delete"
	RoleVariant = "variant"
)

// Query outcomes.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

var ruleCategories = [3]string{"non_structural", "property_level", "structural"}

// Metrics holds the collectors of one run.
type Metrics struct {
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	bugs          *prometheus.CounterVec
	rules         *prometheus.CounterVec
	suppressed    prometheus.Counter
	rounds        prometheus.Counter
	nodeCount     prometheus.Gauge
}

// New creates collectors registered with reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Executed queries by role and outcome",
		}, []string{"role", "status"}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query execution time by role",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"role"}),
		bugs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bugs_total",
			Help:      "Reported bugs by kind",
		}, []string{"kind"}),
		rules: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bug_rules_total",
			Help:      "Rule categories attributed to reported bugs",
		}, []string{"category"}),
		suppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bugs_suppressed_total",
			Help:      "Bugs dropped as repeats of an earlier fingerprint",
		}),
		rounds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Completed test rounds",
		}),
		nodeCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_count",
			Help:      "Current generator escalation level",
		}),
	}
}

// ObserveQuery records one execution. status is one of the Status constants.
func (m *Metrics) ObserveQuery(role, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(role, status).Inc()
	if status == StatusOK {
		m.queryDuration.WithLabelValues(role).Observe(elapsed.Seconds())
	}
}

// Bug records a reported bug and its rule attribution.
func (m *Metrics) Bug(kind string, rules [3]int) {
	if m == nil {
		return
	}
	m.bugs.WithLabelValues(kind).Inc()
	for i, n := range rules {
		if n > 0 {
			m.rules.WithLabelValues(ruleCategories[i]).Add(float64(n))
		}
	}
}

// Suppressed records a bug dropped as a repeat.
func (m *Metrics) Suppressed() {
	if m == nil {
		return
	}
	m.suppressed.Inc()
}

// RoundDone records a completed round.
func (m *Metrics) RoundDone() {
	if m == nil {
		return
	}
	m.rounds.Inc()
}

// SetNodeCount records the generator level.
func (m *Metrics) SetNodeCount(n int) {
	if m == nil {
		return
	}
	m.nodeCount.Set(float64(n))
}

// Serve exposes g on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
