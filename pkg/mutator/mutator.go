// Package mutator derives queries that must return the same result as a
// generated base query, or a result bounded by it.
//
// The main transformation is the view chain. A base query with nested
// EXISTS { ... } blocks is decomposed into flat fragments (innermost first).
// Each fragment is materialized in turn: a create step MATCHes the fragment and
// attaches every matched node to a fresh view vertex (view0, view1, ...)
// through a :contains relationship. Every fragment after the first is threaded
// through the previous view,
//
//	(view0:view0)-[:contains]->()-[*0..1000]->(id4)-[:T]->(id5)
//
// so it can only select what is reachable from subgraphs already proven to
// exist. The final match threads the outermost fragment through the last view
// and projects the distinct pattern bindings before the base RETURN, and one
// DETACH DELETE per view cleans up afterwards.
//
// Example:
//
//	m := mutator.New(model, rand.New(rand.NewSource(1)))
//	plan, err := m.Mutate("MATCH (id1:A)-[:T]->(id2:B) WHERE ( id1.id = 1 ) AND ( id2.id = 2 ) RETURN count(id1)")
//	// plan.Steps[0].Create:
//	//   MATCH (id1:A)-[anonr0:T]->(id2:B) WHERE ( id1.id = 1 ) AND ( id2.id = 2 )
//	//   MERGE (view0:view0)
//	//   MERGE (view0)-[:contains]->(id1)
//	//   MERGE (view0)-[:contains]->(id2)
//	// plan.Match:
//	//   MATCH (view0:view0)-[:contains]->()-[*0..1000]->(id1:A)-[anonr0:T]->(id2:B) WHERE ( id1.id = 1 ) AND ( id2.id = 2 ) WITH DISTINCT id1, id2, anonr0 RETURN count(id1)
package mutator

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strconv"
	"strings"

	"github.com/orneryd/graphgenie/pkg/predicate"
	"github.com/orneryd/graphgenie/pkg/schema"
)

// ErrNoFragments is returned for queries with no text to mutate.
var ErrNoFragments = errors.New("mutator: query has no fragments")

// ContainsType is the relationship type linking a view to its members.
const ContainsType = "contains"

// RuleVector counts the rule categories that produced a variant:
// [non-structural, property-level, structural].
type RuleVector [3]int

var (
	NonStructural = RuleVector{1, 0, 0}
	PropertyLevel = RuleVector{0, 1, 0}
	Structural    = RuleVector{0, 0, 1}
)

// Add returns the element-wise sum of r and o.
func (r RuleVector) Add(o RuleVector) RuleVector {
	return RuleVector{r[0] + o[0], r[1] + o[1], r[2] + o[2]}
}

// ViewStep materializes one fragment.
type ViewStep struct {
	View   string
	Create string
	Delete string
}

// Plan is an executable mutation: create steps in order, one match whose
// result is compared against the base query, and delete steps that must run
// whatever happens to the match. A plan without steps is a single-query
// variant.
type Plan struct {
	Steps []ViewStep
	Match string
	Rules RuleVector
}

// Creates returns the create statements in execution order.
func (p Plan) Creates() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Create
	}
	return out
}

// Deletes returns the cleanup statements, one per create.
func (p Plan) Deletes() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Delete
	}
	return out
}

// Decomposition is a query split into flat fragments, innermost first.
// Fragments[i] is the text of Blocks[i].
type Decomposition struct {
	Fragments []string
	Blocks    []*Block
	Tree      *Block
}

// Recompose rebuilds the nested query.
func (d Decomposition) Recompose() string {
	return Recompose(d.Tree)
}

// Decompose scans query into its token tree and lists every block's own text,
// outermost first in pre-order, then reversed so mutation starts innermost. A
// query with k brace blocks yields k+1 fragments, none containing a brace.
func Decompose(query string) (Decomposition, error) {
	tree, err := Scan(query)
	if err != nil {
		return Decomposition{}, err
	}
	var blocks []*Block
	tree.Walk(func(b *Block) { blocks = append(blocks, b) })
	slices.Reverse(blocks)

	d := Decomposition{Blocks: blocks, Tree: tree}
	for _, b := range blocks {
		d.Fragments = append(d.Fragments, b.Text())
	}
	if d.Fragments[len(d.Fragments)-1] == "" {
		return Decomposition{}, ErrNoFragments
	}
	return d, nil
}

// ViewName returns the name of the i-th view of a plan.
func ViewName(i int) string {
	return "view" + strconv.Itoa(i)
}

// Mutator derives equivalent and restricted variants of base queries. It is
// not safe for concurrent use.
type Mutator struct {
	model *schema.Model
	rng   *rand.Rand
	synth *predicate.Synthesizer
}

// New returns a mutator. model may be nil; restricted variants then test the
// integer id property only.
func New(model *schema.Model, rng *rand.Rand) *Mutator {
	return &Mutator{model: model, rng: rng, synth: predicate.New(rng)}
}

// Mutate builds the view-chain plan of query.
func (m *Mutator) Mutate(query string) (Plan, error) {
	d, err := Decompose(query)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Rules: Structural}
	prev := ""
	for i, frag := range d.Fragments {
		view := ViewName(i)
		plan.Steps = append(plan.Steps, ViewStep{
			View:   view,
			Create: createStep(frag, view, prev),
			Delete: DeleteStep(view),
		})
		prev = view
	}
	plan.Match = finalMatch(ParseClauses(d.Fragments[len(d.Fragments)-1]), prev)
	return plan, nil
}

// DeleteStep removes view and its :contains relationships.
func DeleteStep(view string) string {
	return fmt.Sprintf("MATCH (v:%s) DETACH DELETE v", view)
}

// thread prefixes path with a traversal from view, when there is one.
func thread(view, path string) string {
	if view == "" {
		return path
	}
	return fmt.Sprintf("(%s:%s)-[:%s]->()-[*0..1000]->%s", view, view, ContainsType, path)
}

// createStep materializes one fragment as view. The fragment's RETURN and
// modifiers are dropped; creates always use MATCH so no null row reaches the
// MERGE clauses. A UNION fragment becomes one CALL subquery whose parts each
// yield their node bindings as `member`.
func createStep(fragment, view, prev string) string {
	var b strings.Builder
	if parts := splitUnion(fragment); len(parts) > 1 {
		b.WriteString("CALL { ")
		for i, part := range parts {
			if i > 0 {
				b.WriteString(" UNION ")
			}
			c := ParseClauses(part)
			path, nodes, _ := NameUnits(StripViewPrefix(c.Path))
			b.WriteString("MATCH " + thread(prev, path))
			if c.Where != "" {
				b.WriteString(" WHERE " + c.Where)
			}
			b.WriteString(" UNWIND [" + strings.Join(nodes, ", ") + "] AS member RETURN member")
		}
		b.WriteString(" }")
		fmt.Fprintf(&b, "\nMERGE (%s:%s)", view, view)
		fmt.Fprintf(&b, "\nMERGE (%s)-[:%s]->(member)", view, ContainsType)
		return b.String()
	}

	c := ParseClauses(fragment)
	path, _, _ := NameUnits(StripViewPrefix(c.Path))
	b.WriteString("MATCH " + thread(prev, path))
	if c.Where != "" {
		b.WriteString(" WHERE " + c.Where)
	}
	fmt.Fprintf(&b, "\nMERGE (%s:%s)", view, view)
	for _, sym := range NodeSymbols(StripLabels(path)) {
		fmt.Fprintf(&b, "\nMERGE (%s)-[:%s]->(%s)", view, ContainsType, sym)
	}
	return b.String()
}

// finalMatch threads the outermost fragment through the last view and
// projects its distinct bindings before the base RETURN and modifiers.
func finalMatch(root Clauses, last string) string {
	path, nodes, edges := NameUnits(StripViewPrefix(root.Path))
	mode := root.Mode
	if mode == "" {
		mode = "MATCH"
	}

	var b strings.Builder
	b.WriteString(mode + " " + thread(last, path))
	if root.Where != "" {
		b.WriteString(" WHERE " + root.Where)
	}
	b.WriteString(" WITH DISTINCT " + strings.Join(append(nodes, edges...), ", "))
	ret := root.Return
	if ret == "" {
		ret = "RETURN count(*)"
	}
	b.WriteString(" " + ret)
	if root.Modifiers != "" {
		b.WriteString(" " + root.Modifiers)
	}
	return b.String()
}

// splitUnion splits a flat fragment on its UNION keywords.
func splitUnion(fragment string) []string {
	f := strings.Fields(fragment)
	var (
		parts []string
		cur   []string
	)
	for _, tok := range f {
		if tok == "UNION" {
			parts = append(parts, strings.Join(cur, " "))
			cur = nil
			continue
		}
		cur = append(cur, tok)
	}
	return append(parts, strings.Join(cur, " "))
}
