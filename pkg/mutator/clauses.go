package mutator

import (
	"regexp"
	"strconv"
	"strings"
)

// Clauses is one flat fragment split into its ordered clauses.
type Clauses struct {
	Mode      string // MATCH, OPTIONAL MATCH, or empty
	Path      string
	Where     string // predicate without the WHERE keyword
	Return    string // including the RETURN keyword
	Modifiers string
}

// String composes the clauses back into a fragment.
func (c Clauses) String() string {
	parts := make([]string, 0, 5)
	add := func(s string) {
		if s != "" {
			parts = append(parts, s)
		}
	}
	add(c.Mode)
	add(c.Path)
	if c.Where != "" {
		add("WHERE " + c.Where)
	}
	add(c.Return)
	add(c.Modifiers)
	return strings.Join(parts, " ")
}

// ParseClauses splits a fragment without braces into its clauses. It
// understands only the shape the generators emit.
func ParseClauses(fragment string) Clauses {
	f := strings.Fields(fragment)
	var c Clauses
	i := 0
	switch {
	case len(f) >= 2 && f[0] == "OPTIONAL" && f[1] == "MATCH":
		c.Mode, i = "OPTIONAL MATCH", 2
	case len(f) >= 1 && f[0] == "MATCH":
		c.Mode, i = "MATCH", 1
	}

	take := func(stop map[string]bool) string {
		start := i
		for i < len(f) && !stop[f[i]] {
			i++
		}
		return strings.Join(f[start:i], " ")
	}

	c.Path = take(map[string]bool{"WHERE": true, "RETURN": true, "ORDER": true, "SKIP": true, "LIMIT": true})
	if i < len(f) && f[i] == "WHERE" {
		i++
		c.Where = take(map[string]bool{"RETURN": true, "ORDER": true, "SKIP": true, "LIMIT": true})
	}
	if i < len(f) && f[i] == "RETURN" {
		c.Return = take(map[string]bool{"ORDER": true, "SKIP": true, "LIMIT": true})
	}
	c.Modifiers = strings.Join(f[i:], " ")
	return c
}

// ============================================================================
// Path patterns
// ============================================================================

var (
	nodeUnit = regexp.MustCompile(`\(([^()]*)\)`)
	edgeUnit = regexp.MustCompile(`\[([^\[\]]*)\]`)

	// viewPrefix matches the traversal a threaded fragment starts with.
	viewPrefix = regexp.MustCompile(`^\(view\d+(?::view\d+)?\)-\[\w*:contains\]->\(\)-\[\*0\.\.1000\]->`)
)

// splitUnit separates the leading symbol of a node or edge body from its
// labels, types and length marker.
func splitUnit(body string) (symbol, rest string) {
	i := 0
	for i < len(body) {
		c := body[i]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			i++
			continue
		}
		break
	}
	return body[:i], body[i:]
}

// NodeSymbols returns the distinct named node symbols of path in order.
func NodeSymbols(path string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range nodeUnit.FindAllStringSubmatch(path, -1) {
		sym, _ := splitUnit(m[1])
		if sym != "" && !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	return out
}

// NodeLabel returns the first label written on symbol's node unit in path.
func NodeLabel(path, symbol string) string {
	for _, m := range nodeUnit.FindAllStringSubmatch(path, -1) {
		sym, rest := splitUnit(m[1])
		if sym != symbol || !strings.HasPrefix(rest, ":") {
			continue
		}
		label := rest[1:]
		if i := strings.IndexAny(label, "|:&"); i >= 0 {
			label = label[:i]
		}
		return strings.Trim(label, "`")
	}
	return ""
}

// StripLabels removes every label from the node units of path.
func StripLabels(path string) string {
	return nodeUnit.ReplaceAllStringFunc(path, func(m string) string {
		sym, _ := splitUnit(m[1 : len(m)-1])
		return "(" + sym + ")"
	})
}

// StripViewPrefix removes any leading view-chain traversal from path.
func StripViewPrefix(path string) string {
	for {
		loc := viewPrefix.FindStringIndex(path)
		if loc == nil {
			return path
		}
		path = path[loc[1]:]
	}
}

// NameUnits gives every anonymous node (anon0, anon1, ...) and edge (anonr0,
// ...) a symbol so a result row can be projected with WITH DISTINCT without
// losing multiplicity. It returns the rewritten path and the distinct node and
// edge symbols.
func NameUnits(path string) (named string, nodes, edges []string) {
	seen := make(map[string]bool)
	n := 0
	named = nodeUnit.ReplaceAllStringFunc(path, func(m string) string {
		sym, rest := splitUnit(m[1 : len(m)-1])
		if sym == "" {
			sym = "anon" + strconv.Itoa(n)
			n++
		}
		if !seen[sym] {
			seen[sym] = true
			nodes = append(nodes, sym)
		}
		return "(" + sym + rest + ")"
	})

	e := 0
	named = edgeUnit.ReplaceAllStringFunc(named, func(m string) string {
		sym, rest := splitUnit(m[1 : len(m)-1])
		if sym == "" {
			sym = "anonr" + strconv.Itoa(e)
			e++
		}
		if !seen[sym] {
			seen[sym] = true
			edges = append(edges, sym)
		}
		return "[" + sym + rest + "]"
	})
	return named, nodes, edges
}
