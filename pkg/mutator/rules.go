package mutator

import (
	"strings"

	"github.com/orneryd/graphgenie/pkg/schema"
)

// Variant is one derived query with the rules that produced it.
type Variant struct {
	Name string
	Plan Plan
}

// Equivalents returns the variants whose result must equal the base result:
// the view chain, a rotation of the top-level WHERE conjuncts, and a
// tautological guard on a path symbol. The last two are omitted when the query
// has fewer than two top-level conjuncts or no named node symbol.
func (m *Mutator) Equivalents(query string) ([]Variant, error) {
	chain, err := m.Mutate(query)
	if err != nil {
		return nil, err
	}
	out := []Variant{{Name: "view-chain", Plan: chain}}

	if q, ok := RotateConjuncts(query); ok {
		out = append(out, Variant{Name: "conjunct-rotation", Plan: Plan{Match: q, Rules: NonStructural}})
	}
	if sym, _ := m.rootSymbol(query); sym != "" {
		guard := "(" + sym + ".id IS NULL OR " + sym + ".id IS NOT NULL)"
		out = append(out, Variant{Name: "tautology", Plan: Plan{Match: AddConjunct(query, guard), Rules: PropertyLevel}})
	}
	return out, nil
}

// Restricted returns variants with one extra condition on a path symbol. They
// are only built for count returns, where the restricted count must never
// exceed the base count.
func (m *Mutator) Restricted(query string) ([]Variant, error) {
	if _, err := Scan(query); err != nil {
		return nil, err
	}
	if !IsCount(query) {
		return nil, nil
	}
	sym, path := m.rootSymbol(query)
	if sym == "" {
		return nil, nil
	}
	cond := m.restriction(path, sym)
	return []Variant{{Name: "restriction", Plan: Plan{Match: AddConjunct(query, cond), Rules: PropertyLevel}}}, nil
}

// IsCount reports whether the outermost RETURN of query aggregates with
// count(...). Labels, types and property names in the path or nested blocks
// are not considered.
func IsCount(query string) bool {
	tree, err := Scan(query)
	if err != nil {
		return false
	}
	return strings.Contains(ParseClauses(tree.Text()).Return, "count(")
}

// rootSymbol picks a named node symbol of the outermost path.
func (m *Mutator) rootSymbol(query string) (symbol, path string) {
	tree, err := Scan(query)
	if err != nil {
		return "", ""
	}
	path = ParseClauses(tree.Text()).Path
	syms := NodeSymbols(StripViewPrefix(path))
	if len(syms) == 0 {
		return "", path
	}
	return syms[m.rng.Intn(len(syms))], path
}

// restriction synthesizes a condition on one of symbol's properties, or on its
// integer id when the schema knows none.
func (m *Mutator) restriction(path, symbol string) string {
	if m.model != nil {
		if props := m.model.NodeProperties[NodeLabel(path, symbol)]; len(props) > 0 {
			prop := props[m.rng.Intn(len(props))]
			return m.synth.Synthesize(m.model.TypeOf(prop), symbol+"."+schema.QuoteName(prop))
		}
	}
	return m.synth.Synthesize(schema.Integer, symbol+".id")
}

// ============================================================================
// Top-level WHERE editing
// ============================================================================

// topLevelIndex returns the offset of the first whole-token occurrence of word
// at bracket depth 0 at or after from, or -1.
func topLevelIndex(q, word string, from int) int {
	depth := 0
	for i := 0; i < len(q); i++ {
		switch q[i] {
		case '{', '(', '[':
			depth++
			continue
		case '}', ')', ']':
			depth--
			continue
		}
		if i < from || depth != 0 || !strings.HasPrefix(q[i:], word) {
			continue
		}
		before := i == 0 || q[i-1] == ' '
		after := i+len(word) == len(q) || q[i+len(word)] == ' '
		if before && after {
			return i
		}
	}
	return -1
}

// whereSpan locates the body of the top-level WHERE clause.
func whereSpan(q string) (start, end int, ok bool) {
	w := topLevelIndex(q, "WHERE", 0)
	if w < 0 {
		return 0, 0, false
	}
	start = w + len("WHERE")
	end = len(q)
	for _, kw := range []string{"RETURN", "ORDER", "SKIP", "LIMIT", "UNION", "WITH"} {
		if i := topLevelIndex(q, kw, start); i >= 0 && i < end {
			end = i
		}
	}
	return start, end, true
}

// splitTopLevel splits s on sep outside any brackets.
func splitTopLevel(s, sep string) []string {
	var (
		out   []string
		depth int
		last  int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{', '(', '[':
			depth++
		case '}', ')', ']':
			depth--
		default:
			if depth == 0 && strings.HasPrefix(s[i:], sep) {
				out = append(out, strings.TrimSpace(s[last:i]))
				i += len(sep) - 1
				last = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[last:]))
}

// RotateConjuncts moves the first top-level WHERE conjunct to the end.
func RotateConjuncts(query string) (string, bool) {
	start, end, ok := whereSpan(query)
	if !ok {
		return "", false
	}
	parts := splitTopLevel(query[start:end], " AND ")
	if len(parts) < 2 {
		return "", false
	}
	rotated := append(parts[1:], parts[0])
	return normalizeSpace(query[:start] + " " + strings.Join(rotated, " AND ") + " " + query[end:]), true
}

// AddConjunct appends cond to the top-level WHERE clause, creating the clause
// in front of RETURN when the query has none.
func AddConjunct(query, cond string) string {
	if _, end, ok := whereSpan(query); ok {
		return normalizeSpace(query[:end] + " AND " + cond + " " + query[end:])
	}
	if r := topLevelIndex(query, "RETURN", 0); r >= 0 {
		return normalizeSpace(query[:r] + " WHERE " + cond + " " + query[r:])
	}
	return normalizeSpace(query + " WHERE " + cond)
}
