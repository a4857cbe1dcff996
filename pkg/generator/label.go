package generator

import (
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"github.com/orneryd/graphgenie/pkg/predicate"
	"github.com/orneryd/graphgenie/pkg/schema"
)

// VariableLengths are the hop markers attached to edges. Each admits at most
// one hop, so the set of matched endpoints stays small.
var VariableLengths = []string{"*..1", "*0..1", "*0..0", "*1..1"}

// reserved lowercase words a random symbol must never spell.
var reserved = map[string]bool{
	"all": true, "and": true, "as": true, "asc": true, "by": true, "call": true,
	"case": true, "count": true, "create": true, "delete": true, "desc": true,
	"detach": true, "distinct": true, "else": true, "end": true, "exists": true,
	"false": true, "in": true, "is": true, "limit": true, "match": true,
	"merge": true, "not": true, "null": true, "on": true, "or": true,
	"order": true, "remove": true, "return": true, "set": true, "skip": true,
	"then": true, "true": true, "union": true, "unwind": true, "when": true,
	"where": true, "with": true, "xor": true, "yield": true,
}

const (
	dirBoth = iota
	dirLeft
	dirRight
)

// LabelGenerator builds queries from the schema alone: labels, the
// connectivity matrix and property types. It needs no sampled graph.
type LabelGenerator struct {
	model *schema.Model
	synth *predicate.Synthesizer
	rng   *rand.Rand
	opts  Options
	state *State
	log   *zap.Logger
}

// NewLabelGenerator returns a schema-driven generator.
func NewLabelGenerator(model *schema.Model, rng *rand.Rand, opts Options, log *zap.Logger) (*LabelGenerator, error) {
	if model == nil || len(model.NodeLabels) == 0 {
		return nil, ErrNoLabels
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RandomSymbolLen < 1 {
		opts.RandomSymbolLen = 1
	}
	if opts.CyclicSymbol == "" {
		opts.CyclicSymbol = "cyc"
	}
	return &LabelGenerator{
		model: model,
		synth: predicate.New(rng),
		rng:   rng,
		opts:  opts,
		state: NewState(opts.MinNodeCount),
		log:   log.Named("generator"),
	}, nil
}

// State returns the generator's escalation state.
func (g *LabelGenerator) State() *State { return g.state }

// labeledPath is a generated path plus what predicates need to know about it.
type labeledPath struct {
	text    string
	symbols []string
	labelOf map[string]string
	vector  []int
}

// Next returns a new base query and advances the escalation state.
func (g *LabelGenerator) Next() (QueryPattern, error) {
	n := g.state.NodeCount
	if g.opts.MaxNodeCount > 0 && n > g.opts.MaxNodeCount {
		n = g.opts.MaxNodeCount
	}
	used := make(map[string]bool)
	p := g.path(n, used)

	q := QueryPattern{
		Match:   pick(g.rng, MatchModes),
		Path:    p.text,
		Vector:  p.vector,
		Symbols: p.symbols,
	}
	if g.opts.SubqueryMaxDepth > 0 && chance(g.rng, g.opts.SubqueryRate) {
		depth := 1 + g.rng.Intn(g.opts.SubqueryMaxDepth)
		q.Predicate = "WHERE EXISTS { " + g.nested(depth-1, n, used) + " }"
		q.Depth = depth
	} else {
		q.Predicate = "WHERE " + g.condition(p)
	}
	q.Return = chooseReturn(g.rng, g.opts, p.symbols)
	q.Modifiers = chooseModifiers(g.rng)

	if g.state.Observe(p.vector) {
		g.log.Info("complexity escalated",
			zap.Int("node_count", g.state.NodeCount))
	}
	return q, nil
}

// nested builds `MATCH path WHERE ...` with depth further EXISTS levels.
func (g *LabelGenerator) nested(depth, maxNodes int, used map[string]bool) string {
	p := g.path(1+g.rng.Intn(maxNodes), used)
	if depth <= 0 {
		return "MATCH " + p.text + " WHERE " + g.condition(p)
	}
	return "MATCH " + p.text + " WHERE EXISTS { " + g.nested(depth-1, maxNodes, used) + " }"
}

// condition tests one property of one labeled symbol, or is True when no
// symbol carries a label with known properties.
func (g *LabelGenerator) condition(p labeledPath) string {
	var candidates []string
	for _, sym := range p.symbols {
		if len(g.model.NodeProperties[p.labelOf[sym]]) > 0 {
			candidates = append(candidates, sym)
		}
	}
	if len(candidates) == 0 {
		return "True"
	}
	sym := pick(g.rng, candidates)
	prop := pick(g.rng, g.model.NodeProperties[p.labelOf[sym]])
	return g.synth.Synthesize(g.model.TypeOf(prop), sym+"."+prop)
}

func (g *LabelGenerator) path(n int, used map[string]bool) labeledPath {
	p := labeledPath{labelOf: make(map[string]string)}
	nodes := make([]string, n)
	edges := make([]string, 0, n)
	labels := make([]string, n)

	prev := ""
	for i := 0; i < n; i++ {
		dir := dirRight
		if i > 0 {
			dir = g.rng.Intn(3)
			edges = append(edges, g.edge(dir, used))
		}

		sym := ""
		if chance(g.rng, g.opts.NodeSymbolRate) {
			sym = g.symbol(used)
		}
		label := ""
		if sym != "" && chance(g.rng, g.opts.NodeLabelRate) {
			label = g.nodeLabel(prev, dir, i > 0)
		}
		nodes[i] = sym
		if label != "" {
			nodes[i] += ":" + label
		}
		labels[i] = label
		prev = label

		if sym != "" {
			p.symbols = append(p.symbols, sym)
			p.labelOf[sym] = firstLabel(label)
		}
	}

	if n >= 2 && chance(g.rng, g.opts.CyclicRate) {
		label := ""
		if chance(g.rng, g.opts.NodeLabelRate) {
			label = schema.QuoteName(pick(g.rng, g.model.NodeLabels))
		}
		cyc := g.opts.CyclicSymbol
		if label != "" {
			cyc += ":" + label
		}
		for _, i := range []int{0, n - 1} {
			if old, _, _ := strings.Cut(nodes[i], ":"); old != "" {
				p.symbols = removeSymbol(p.symbols, old)
				delete(p.labelOf, old)
			}
			nodes[i] = cyc
			labels[i] = label
		}
		p.symbols = append([]string{g.opts.CyclicSymbol}, p.symbols...)
		p.labelOf[g.opts.CyclicSymbol] = firstLabel(label)
	}

	var b strings.Builder
	for i, node := range nodes {
		if i > 0 {
			b.WriteString(edges[i-1])
		}
		b.WriteString("(" + node + ")")
		p.vector = append(p.vector, g.model.LabelIndex(firstLabel(labels[i]))+1)
	}
	p.text = b.String()
	return p
}

// edge renders one relationship unit including its arrows.
func (g *LabelGenerator) edge(dir int, used map[string]bool) string {
	body := ""
	if chance(g.rng, g.opts.EdgeSymbolRate) {
		body = g.symbol(used)
		if len(g.model.EdgeLabels) > 0 && chance(g.rng, g.opts.EdgeLabelRate) {
			body += ":" + schema.QuoteName(pick(g.rng, g.model.EdgeLabels))
		}
	}
	if chance(g.rng, g.opts.VariableLengthRate) {
		body += pick(g.rng, VariableLengths)
	}
	switch dir {
	case dirLeft:
		return "<-[" + body + "]-"
	case dirRight:
		return "-[" + body + "]->"
	default:
		return "-[" + body + "]-"
	}
}

// nodeLabel picks a label connectable to the previous node, or a multi-label
// expression such as A|B.
func (g *LabelGenerator) nodeLabel(prev string, dir int, hasPrev bool) string {
	all := g.model.NodeLabels
	if len(all) >= 2 && chance(g.rng, g.opts.MultiLabelRate) {
		a := g.rng.Intn(len(all))
		b := (a + 1 + g.rng.Intn(len(all)-1)) % len(all)
		return schema.QuoteName(all[a]) + "|" + schema.QuoteName(all[b])
	}
	candidates := all
	if hasPrev && prev != "" {
		candidates = g.connectable(prev, dir)
	}
	if len(candidates) == 0 {
		return ""
	}
	return schema.QuoteName(pick(g.rng, candidates))
}

// connectable returns the labels reachable from prev over an edge in the
// given direction. prev may be a multi-label expression.
func (g *LabelGenerator) connectable(prev string, dir int) []string {
	var out []string
	for _, l := range g.model.NodeLabels {
		for _, p := range strings.Split(prev, "|") {
			p = strings.Trim(p, "`")
			ok := false
			switch dir {
			case dirRight:
				ok = g.model.Connected(p, l)
			case dirLeft:
				ok = g.model.Connected(l, p)
			default:
				ok = g.model.Connected(p, l) || g.model.Connected(l, p)
			}
			if ok {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

// symbol returns a fresh random lowercase symbol.
func (g *LabelGenerator) symbol(used map[string]bool) string {
	buf := make([]byte, g.opts.RandomSymbolLen)
	for {
		for i := range buf {
			buf[i] = byte('a' + g.rng.Intn(26))
		}
		s := string(buf)
		if !used[s] && !reserved[s] && s != g.opts.CyclicSymbol {
			used[s] = true
			return s
		}
	}
}

func firstLabel(expr string) string {
	first, _, _ := strings.Cut(expr, "|")
	return strings.Trim(first, "`")
}

func removeSymbol(symbols []string, sym string) []string {
	out := symbols[:0]
	for _, s := range symbols {
		if s != sym {
			out = append(out, s)
		}
	}
	return out
}
