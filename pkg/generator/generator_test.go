package generator

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/orneryd/graphgenie/pkg/schema"
	"github.com/orneryd/graphgenie/pkg/storage"
)

// ============================================================================
// Fixtures
// ============================================================================

// abModel is two vertices, A(0) -> B(1), with A->B connectivity.
func abModel(t *testing.T) *schema.Model {
	t.Helper()
	m := schema.NewModel([]string{"A", "B"}, []string{"T"})
	m.Connect("A", "B")
	m.Graph = storage.NewMemoryEngine()
	require.NoError(t, m.Graph.CreateNode(&storage.Node{ID: 0, Labels: []string{"A"}}))
	require.NoError(t, m.Graph.CreateNode(&storage.Node{ID: 1, Labels: []string{"B"}}))
	require.NoError(t, m.Graph.CreateEdge(&storage.Edge{ID: 0, StartNode: 0, EndNode: 1, Type: "T"}))
	return m
}

// chainModel is a labeled chain of n vertices.
func chainModel(t *testing.T, n int) *schema.Model {
	t.Helper()
	m := schema.NewModel([]string{"A", "B", "C"}, []string{"NEXT"})
	m.Graph = storage.NewMemoryEngine()
	labels := m.NodeLabels
	for i := 0; i < n; i++ {
		require.NoError(t, m.Graph.CreateNode(&storage.Node{ID: storage.NodeID(i), Labels: []string{labels[i%len(labels)]}}))
	}
	for i := 0; i+1 < n; i++ {
		require.NoError(t, m.Graph.CreateEdge(&storage.Edge{
			ID: storage.EdgeID(i), StartNode: storage.NodeID(i), EndNode: storage.NodeID(i + 1), Type: "NEXT",
		}))
		m.Connect(labels[i%len(labels)], labels[(i+1)%len(labels)])
	}
	return m
}

func flatOptions() Options {
	opts := DefaultOptions()
	opts.SubqueryRate = 0
	return opts
}

func balanced(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// ============================================================================
// Graph-guided generator
// ============================================================================

func TestGenerator_RequiresGraph(t *testing.T) {
	_, err := New(schema.NewModel([]string{"A"}, nil), rand.New(rand.NewSource(1)), DefaultOptions(), nil)
	assert.ErrorIs(t, err, ErrNoGraph)
}

func TestGenerator_ScenarioTwoLabels(t *testing.T) {
	opts := flatOptions()
	opts.MinNodeCount, opts.MaxNodeCount = 2, 2

	g, err := New(abModel(t), rand.New(rand.NewSource(3)), opts, zaptest.NewLogger(t))
	require.NoError(t, err)

	q, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, "(id0:A)-[:T]->(id1:B)", q.Path)
	assert.Equal(t, "WHERE ( id0.id = 0 ) AND ( id1.id = 1 )", q.Predicate)
	assert.Equal(t, []int{1, 2}, q.Vector)
	assert.Equal(t, []string{"id0", "id1"}, q.Symbols)
	assert.Contains(t, MatchModes, q.Match)
	assert.True(t, strings.HasPrefix(q.Return, "RETURN"))
	assert.NotContains(t, q.String(), "{")
	assert.Zero(t, q.Depth)
}

func TestGenerator_IdentityPredicatesMatchSampledPath(t *testing.T) {
	g, err := New(chainModel(t, 8), rand.New(rand.NewSource(9)), flatOptions(), nil)
	require.NoError(t, err)

	node := regexp.MustCompile(`\((id(\d+))(:\w+)?\)`)
	for i := 0; i < 30; i++ {
		q, err := g.Next()
		require.NoError(t, err)

		units := node.FindAllStringSubmatch(q.Path, -1)
		require.NotEmpty(t, units)
		for _, u := range units {
			id, err := strconv.Atoi(u[2])
			require.NoError(t, err)
			assert.Contains(t, q.Predicate, "( "+u[1]+".id = "+strconv.Itoa(id)+" )")
		}
	}
}

func TestGenerator_NestedDepthMatchesBraces(t *testing.T) {
	opts := DefaultOptions()
	opts.SubqueryRate = 1
	opts.SubqueryMaxBranching = 1
	opts.UnionRate = 0
	opts.SubqueryMaxDepth = 3

	g, err := New(chainModel(t, 6), rand.New(rand.NewSource(21)), opts, nil)
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		q, err := g.Next()
		require.NoError(t, err)
		s := q.String()
		require.True(t, balanced(s), s)
		assert.GreaterOrEqual(t, q.Depth, 1)
		assert.LessOrEqual(t, q.Depth, 3)
		assert.Equal(t, q.Depth, strings.Count(s, "{"), s)
		assert.Equal(t, q.Depth, strings.Count(s, "AND EXISTS {"), s)
		// No RETURN inside subqueries.
		assert.Equal(t, 1, strings.Count(s, "RETURN"), s)
	}
}

func TestGenerator_InnerLevelsBranch(t *testing.T) {
	opts := DefaultOptions()
	opts.SubqueryRate = 1
	opts.SubqueryMaxBranching = 4
	opts.UnionRate = 0
	opts.SubqueryMaxDepth = 2

	g, err := New(chainModel(t, 6), rand.New(rand.NewSource(5)), opts, nil)
	require.NoError(t, err)

	innerFanout := false
	for i := 0; i < 25; i++ {
		q, err := g.Next()
		require.NoError(t, err)
		s := q.String()
		require.True(t, balanced(s), s)
		for depth, n := range blockFanout(s) {
			assert.LessOrEqual(t, n, 4, s)
			if depth > 0 && n >= 2 {
				innerFanout = true
			}
		}
	}
	assert.True(t, innerFanout, "no block below the top level carried two EXISTS children")
}

// blockFanout maps each brace nesting depth (0 is the root) to the largest
// number of blocks opened directly inside one block at that depth.
func blockFanout(s string) map[int]int {
	type frame struct{ depth, children int }
	out := map[int]int{}
	stack := []frame{{}}
	record := func(f frame) {
		out[f.depth] = max(out[f.depth], f.children)
	}
	for _, r := range s {
		switch r {
		case '{':
			stack[len(stack)-1].children++
			stack = append(stack, frame{depth: len(stack)})
		case '}':
			record(stack[len(stack)-1])
			stack = stack[:len(stack)-1]
		}
	}
	record(stack[0])
	return out
}

func TestGenerator_UnionBlocks(t *testing.T) {
	opts := DefaultOptions()
	opts.SubqueryRate = 1
	opts.SubqueryMaxBranching = 1
	opts.UnionRate = 1
	opts.UnionMaxBranches = 3

	g, err := New(chainModel(t, 5), rand.New(rand.NewSource(4)), opts, nil)
	require.NoError(t, err)

	q, err := g.Next()
	require.NoError(t, err)
	s := q.String()
	assert.Equal(t, 1, strings.Count(s, "{"))
	assert.Contains(t, s, " UNION MATCH ")
	unions := strings.Count(s, " UNION ")
	assert.GreaterOrEqual(t, unions, 1)
	assert.LessOrEqual(t, unions, 2)
}

func TestGenerator_AggregateOnly(t *testing.T) {
	opts := flatOptions()
	opts.AggregateOnly = true
	opts.ReturnSymbolRate = 1

	g, err := New(chainModel(t, 4), rand.New(rand.NewSource(8)), opts, nil)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		q, err := g.Next()
		require.NoError(t, err)
		assert.True(t, q.IsAggregate(), q.Return)
	}
}

func TestGenerator_IsolatedGraphFails(t *testing.T) {
	m := schema.NewModel([]string{"A"}, nil)
	m.Graph = storage.NewMemoryEngine()
	require.NoError(t, m.Graph.CreateNode(&storage.Node{ID: 0, Labels: []string{"A"}}))

	g, err := New(m, rand.New(rand.NewSource(1)), DefaultOptions(), nil)
	require.NoError(t, err)
	_, err = g.Next()
	assert.Error(t, err)
}

func TestGenerator_EscalatesOnSaturatedGraph(t *testing.T) {
	// A single A->B edge yields one vector per level, so every call after the
	// first at a level is a repeat.
	opts := flatOptions()
	opts.MinNodeCount = 1
	opts.MaxNodeCount = 0

	g, err := New(abModel(t), rand.New(rand.NewSource(1)), opts, nil)
	require.NoError(t, err)

	prev := g.State().NodeCount
	for i := 0; i < 200; i++ {
		_, err := g.Next()
		require.NoError(t, err)
		cur := g.State().NodeCount
		require.GreaterOrEqual(t, cur, prev)
		require.LessOrEqual(t, cur-prev, 1)
		prev = cur
	}
	assert.Greater(t, g.State().NodeCount, 1)
}

// ============================================================================
// Label-driven generator
// ============================================================================

func labelModel() *schema.Model {
	m := schema.NewModel([]string{"Person", "City"}, []string{"LIVES_IN", "KNOWS"})
	m.Connect("Person", "City")
	m.Connect("Person", "Person")
	m.SetProperties("Person", map[string]schema.ValueType{"age": schema.Integer, "active": schema.Boolean})
	m.SetProperties("City", map[string]schema.ValueType{"population": schema.Float})
	return m
}

func TestLabelGenerator_RequiresLabels(t *testing.T) {
	_, err := NewLabelGenerator(schema.NewModel(nil, nil), rand.New(rand.NewSource(1)), DefaultOptions(), nil)
	assert.ErrorIs(t, err, ErrNoLabels)
}

func TestLabelGenerator_Shape(t *testing.T) {
	g, err := NewLabelGenerator(labelModel(), rand.New(rand.NewSource(12)), DefaultOptions(), zaptest.NewLogger(t))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		level := g.State().NodeCount
		q, err := g.Next()
		require.NoError(t, err)
		s := q.String()

		require.True(t, balanced(s), s)
		assert.True(t, strings.HasPrefix(s, "MATCH ") || strings.HasPrefix(s, "OPTIONAL MATCH "), s)
		assert.True(t, strings.HasPrefix(q.Predicate, "WHERE "), s)
		assert.Len(t, q.Vector, min(level, g.opts.MaxNodeCount))
		assert.Equal(t, min(level, g.opts.MaxNodeCount), strings.Count(q.Path, "("), q.Path)

		seen := map[string]bool{}
		for _, sym := range q.Symbols {
			assert.False(t, seen[sym], "duplicate symbol %s", sym)
			seen[sym] = true
			if sym != g.opts.CyclicSymbol {
				assert.Len(t, sym, g.opts.RandomSymbolLen)
			}
		}
		if len(q.Symbols) == 0 {
			assert.Contains(t, q.Return, "count(1)")
		}
	}
}

func TestLabelGenerator_Cyclic(t *testing.T) {
	opts := flatOptions()
	opts.MinNodeCount = 3
	opts.CyclicRate = 1

	g, err := NewLabelGenerator(labelModel(), rand.New(rand.NewSource(5)), opts, nil)
	require.NoError(t, err)

	q, err := g.Next()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(q.Path, "(cyc"), q.Path)
	assert.True(t, strings.HasSuffix(q.Path, ")"), q.Path)
	last := q.Path[strings.LastIndex(q.Path, "("):]
	first := q.Path[:strings.Index(q.Path, ")")+1]
	assert.Equal(t, first, last)
	assert.Equal(t, "cyc", q.Symbols[0])
}

func TestLabelGenerator_ConnectableRespectsDirection(t *testing.T) {
	g, err := NewLabelGenerator(labelModel(), rand.New(rand.NewSource(1)), DefaultOptions(), nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"City", "Person"}, g.connectable("Person", dirRight))
	assert.Equal(t, []string{"Person"}, g.connectable("Person", dirLeft))
	assert.Equal(t, []string{"Person"}, g.connectable("City", dirBoth))
	assert.Empty(t, g.connectable("City", dirRight))
	assert.ElementsMatch(t, []string{"City", "Person"}, g.connectable("City|Person", dirRight))
}

func TestLabelGenerator_NestedUsesWhereExists(t *testing.T) {
	opts := DefaultOptions()
	opts.SubqueryRate = 1
	opts.SubqueryMaxDepth = 2

	g, err := NewLabelGenerator(labelModel(), rand.New(rand.NewSource(30)), opts, nil)
	require.NoError(t, err)

	q, err := g.Next()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(q.Predicate, "WHERE EXISTS { MATCH "), q.Predicate)
	assert.Equal(t, q.Depth, strings.Count(q.Predicate, "{"))
}
