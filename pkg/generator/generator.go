// Package generator produces random, structurally valid Cypher queries.
//
// Two generators share one output shape (QueryPattern) and one escalation
// policy (State):
//
//   - Generator is graph-guided. It samples a real walk from the scanned
//     property graph, names every vertex after its id (id42) and pins it with an
//     identity predicate, so the base query always matches at least the sampled
//     subgraph. Predicates may carry up to SubqueryMaxDepth levels of nested
//     EXISTS blocks, each built from an independent walk.
//   - LabelGenerator is schema-driven. It composes paths from the label
//     connectivity matrix with random symbols, optional labels, variable-length
//     markers and cyclic patterns, and tests property values synthesized from
//     the declared property types.
//
// Example:
//
//	gen, err := generator.New(model, rand.New(rand.NewSource(1)), generator.DefaultOptions(), logger)
//	if err != nil {
//		return err
//	}
//	q, err := gen.Next()
//	fmt.Println(q) // MATCH (id0:Person)-[:KNOWS]->(id3:Person) WHERE ( id0.id = 0 ) AND ( id3.id = 3 ) RETURN count(id0) SKIP 0
package generator

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/orneryd/graphgenie/pkg/predicate"
	"github.com/orneryd/graphgenie/pkg/sampler"
	"github.com/orneryd/graphgenie/pkg/schema"
	"github.com/orneryd/graphgenie/pkg/storage"
)

// ErrNoGraph is returned when a graph-guided generator is built from a model
// without a sampled graph.
var ErrNoGraph = errors.New("generator: schema model has no sampled graph")

// ErrNoLabels is returned when a label-driven generator is built from a model
// without node labels.
var ErrNoLabels = errors.New("generator: schema model has no node labels")

// Source yields base queries. Both Generator and LabelGenerator implement it.
type Source interface {
	Next() (QueryPattern, error)
	State() *State
}

// Options tunes query generation. Rates are probabilities in [0, 1].
type Options struct {
	// MinNodeCount is the starting escalation level.
	MinNodeCount int
	// MaxNodeCount caps the sampled path length. Escalation itself is unbounded.
	MaxNodeCount int

	// SubqueryRate is the chance a predicate carries nested EXISTS blocks.
	SubqueryRate         float64
	SubqueryMaxDepth     int
	SubqueryMaxBranching int
	// UnionRate is the chance a top-level EXISTS block is a UNION of plain
	// matches instead of a nested chain.
	UnionRate        float64
	UnionMaxBranches int

	// ReturnSymbolRate is the chance of returning a symbol instead of a count.
	ReturnSymbolRate float64
	// AggregateOnly forces count(...) returns.
	AggregateOnly bool

	// Label-driven generation only.
	NodeSymbolRate     float64
	EdgeSymbolRate     float64
	NodeLabelRate      float64
	EdgeLabelRate      float64
	MultiLabelRate     float64
	CyclicRate         float64
	VariableLengthRate float64
	RandomSymbolLen    int
	CyclicSymbol       string
}

// DefaultOptions returns the tunables used when no configuration overrides
// them.
func DefaultOptions() Options {
	return Options{
		MinNodeCount:         2,
		MaxNodeCount:         6,
		SubqueryRate:         0.8,
		SubqueryMaxDepth:     4,
		SubqueryMaxBranching: 4,
		UnionRate:            0.5,
		UnionMaxBranches:     4,
		ReturnSymbolRate:     0.5,
		NodeSymbolRate:       0.9,
		EdgeSymbolRate:       0.3,
		NodeLabelRate:        0.7,
		EdgeLabelRate:        0.5,
		MultiLabelRate:       0.1,
		CyclicRate:           0.1,
		VariableLengthRate:   0.1,
		RandomSymbolLen:      5,
		CyclicSymbol:         "cyc",
	}
}

// Generator builds graph-guided queries from sampled walks.
type Generator struct {
	model   *schema.Model
	sampler *sampler.Sampler
	rng     *rand.Rand
	opts    Options
	state   *State
	log     *zap.Logger
}

// New returns a graph-guided generator. The model must carry a sampled graph.
func New(model *schema.Model, rng *rand.Rand, opts Options, log *zap.Logger) (*Generator, error) {
	if model == nil || model.Graph == nil {
		return nil, ErrNoGraph
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{
		model:   model,
		sampler: sampler.New(model.Graph, rng),
		rng:     rng,
		opts:    opts,
		state:   NewState(opts.MinNodeCount),
		log:     log.Named("generator"),
	}, nil
}

// State returns the generator's escalation state.
func (g *Generator) State() *State { return g.state }

// walk is one sampled path rendered as a Cypher pattern.
type walk struct {
	path    string
	symbols []string
	ids     []storage.NodeID
	vector  []int
}

func (w walk) conditions() string {
	terms := make([]string, len(w.symbols))
	for i, sym := range w.symbols {
		terms[i] = predicate.Identity(sym, w.ids[i])
	}
	return predicate.Conjunction(terms)
}

// Symbol names the vertex with the given id.
func Symbol(id storage.NodeID) string {
	return "id" + strconv.FormatInt(int64(id), 10)
}

func (g *Generator) target() int {
	n := g.state.NodeCount
	if g.opts.MaxNodeCount > 0 && n > g.opts.MaxNodeCount {
		n = g.opts.MaxNodeCount
	}
	return n
}

func (g *Generator) walk() (walk, error) {
	n := g.target()
	p, err := g.sampler.Sample(n, n)
	if err != nil {
		return walk{}, fmt.Errorf("sample path: %w", err)
	}

	var (
		b strings.Builder
		w walk
	)
	for i, node := range p.Nodes {
		sym := Symbol(node.ID)
		label := ""
		if len(node.Labels) > 0 {
			label = pick(g.rng, node.Labels)
		}
		b.WriteString("(" + sym)
		if label != "" {
			b.WriteString(":" + schema.QuoteName(label))
		}
		b.WriteString(")")
		w.symbols = append(w.symbols, sym)
		w.ids = append(w.ids, node.ID)
		w.vector = append(w.vector, g.model.LabelIndex(label)+1)

		if i < len(p.Edges) {
			if t := p.Edges[i].Type; t != "" {
				b.WriteString("-[:" + schema.QuoteName(t) + "]->")
			} else {
				b.WriteString("-[]->")
			}
		}
	}
	w.path = b.String()
	return w, nil
}

// Next returns a new base query and advances the escalation state.
func (g *Generator) Next() (QueryPattern, error) {
	w, err := g.walk()
	if err != nil {
		return QueryPattern{}, err
	}

	q := QueryPattern{
		Match:   pick(g.rng, MatchModes),
		Path:    w.path,
		Vector:  w.vector,
		Symbols: w.symbols,
	}

	conds := w.conditions()
	if g.opts.SubqueryMaxDepth > 0 && chance(g.rng, g.opts.SubqueryRate) {
		blocks, depth, err := g.subqueries(1 + g.rng.Intn(g.opts.SubqueryMaxDepth))
		if err != nil {
			return QueryPattern{}, err
		}
		conds += " AND EXISTS " + strings.Join(blocks, " AND EXISTS ")
		q.Depth = depth
	}
	q.Predicate = "WHERE " + conds
	q.Return = chooseReturn(g.rng, g.opts, w.symbols)
	q.Modifiers = chooseModifiers(g.rng)

	if g.state.Observe(w.vector) {
		g.log.Info("complexity escalated",
			zap.Int("node_count", g.state.NodeCount))
	}
	return q, nil
}

// subqueries builds 1..SubqueryMaxBranching sibling EXISTS blocks. It returns
// the deepest nesting among them.
func (g *Generator) subqueries(depth int) ([]string, int, error) {
	branches := g.branches()
	blocks := make([]string, 0, branches)
	deepest := 0
	for i := 0; i < branches; i++ {
		var (
			body string
			d    int
			err  error
		)
		if chance(g.rng, g.opts.UnionRate) {
			body, err = g.union()
			d = 1
		} else {
			body, err = g.nested(depth - 1)
			d = depth
		}
		if err != nil {
			return nil, 0, err
		}
		blocks = append(blocks, "{ "+body+" }")
		deepest = max(deepest, d)
	}
	return blocks, deepest, nil
}

// branches draws how many EXISTS blocks sit side by side at one level.
func (g *Generator) branches() int {
	if g.opts.SubqueryMaxBranching > 1 {
		return 1 + g.rng.Intn(g.opts.SubqueryMaxBranching)
	}
	return 1
}

// nested builds `MATCH path WHERE conds [AND EXISTS { ... }]...` where every
// level above depth 0 carries 1..SubqueryMaxBranching EXISTS blocks, each
// nested depth-1 further.
func (g *Generator) nested(depth int) (string, error) {
	w, err := g.walk()
	if err != nil {
		return "", err
	}
	s := "MATCH " + w.path + " WHERE " + w.conditions()
	if depth <= 0 {
		return s, nil
	}
	for i, n := 0, g.branches(); i < n; i++ {
		inner, err := g.nested(depth - 1)
		if err != nil {
			return "", err
		}
		s += " AND EXISTS { " + inner + " }"
	}
	return s, nil
}

// union joins 2..UnionMaxBranches plain matches with UNION.
func (g *Generator) union() (string, error) {
	n := 2
	if g.opts.UnionMaxBranches > 2 {
		n += g.rng.Intn(g.opts.UnionMaxBranches - 1)
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p, err := g.nested(0)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " UNION "), nil
}

// Verify both generators implement Source
var (
	_ Source = (*Generator)(nil)
	_ Source = (*LabelGenerator)(nil)
)
