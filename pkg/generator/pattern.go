package generator

import (
	"math/rand"
	"strings"
)

// Match modes, return keywords and trailing modifiers. Every modifier choice
// leaves the first row of a single-row result unchanged, so base and mutated
// queries stay comparable.
var (
	MatchModes     = []string{"MATCH", "OPTIONAL MATCH"}
	ReturnKeywords = []string{"RETURN", "RETURN DISTINCT"}
	OrderBy        = []string{"", "ORDER BY -1+1", "ORDER BY NULL"}
	Skip           = []string{"", "SKIP 0", "SKIP 0", "SKIP 0", "SKIP 0", "SKIP 0", "SKIP 0", "SKIP 0"}
	Limit          = []string{"", "LIMIT 1", "LIMIT 2", "LIMIT 3", "LIMIT 4", "LIMIT 5"}
)

// QueryPattern is one generated query split into its five ordered clauses.
type QueryPattern struct {
	Match     string // MATCH or OPTIONAL MATCH
	Path      string // e.g. (id1:Person)-[:KNOWS]->(id2:Person)
	Predicate string // WHERE ..., possibly with nested EXISTS blocks
	Return    string // RETURN count(id1), RETURN DISTINCT id2, ...
	Modifiers string // ORDER BY / SKIP / LIMIT, possibly empty

	// Vector is the structural fingerprint of Path.
	Vector []int
	// Symbols are the node symbols Path introduces, in path order.
	Symbols []string
	// Depth is the deepest EXISTS nesting in Predicate.
	Depth int
}

// String composes the clauses with single spaces, skipping empty ones.
func (q QueryPattern) String() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{q.Match, q.Path, q.Predicate, q.Return, q.Modifiers} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// IsAggregate reports whether the query returns a count.
func (q QueryPattern) IsAggregate() bool {
	return strings.Contains(q.Return, "count(")
}

func pick(rng *rand.Rand, choices []string) string {
	return choices[rng.Intn(len(choices))]
}

func chance(rng *rand.Rand, rate float64) bool {
	return rng.Float64() < rate
}

// chooseReturn prefers returning a node symbol directly, falling back to
// count(symbol) and finally count(1) when the path introduced no symbols.
func chooseReturn(rng *rand.Rand, opts Options, symbols []string) string {
	keyword := pick(rng, ReturnKeywords)
	if len(symbols) == 0 {
		return keyword + " count(1)"
	}
	sym := pick(rng, symbols)
	if !opts.AggregateOnly && chance(rng, opts.ReturnSymbolRate) {
		return keyword + " " + sym
	}
	return keyword + " count(" + sym + ")"
}

func chooseModifiers(rng *rand.Rand) string {
	var parts []string
	for _, set := range [][]string{OrderBy, Skip, Limit} {
		if m := pick(rng, set); m != "" {
			parts = append(parts, m)
		}
	}
	return strings.Join(parts, " ")
}
