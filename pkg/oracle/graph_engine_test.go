package oracle

import (
	"fmt"
	"maps"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/orneryd/graphgenie/pkg/executor"
	"github.com/orneryd/graphgenie/pkg/mutator"
	"github.com/orneryd/graphgenie/pkg/storage"
)

// graphEngine answers the statements the oracle sends by evaluating them
// against an in-memory graph. It understands identity-pinned flat matches,
// view creation and deletion, and matches threaded through a view and
// projected with WITH DISTINCT. Anything else is an error.
type graphEngine struct {
	graph storage.Engine

	mu       sync.Mutex
	views    map[string]map[storage.NodeID]bool
	creates  int
	deletes  int
	threaded int
}

func newGraphEngine(graph storage.Engine) *graphEngine {
	return &graphEngine{graph: graph, views: map[string]map[storage.NodeID]bool{}}
}

var (
	deleteStmt  = regexp.MustCompile(`^MATCH \(v:(view\d+)\) DETACH DELETE v$`)
	viewNode    = regexp.MustCompile(`^MERGE \((view\d+):view\d+\)$`)
	viewMember  = regexp.MustCompile(`^MERGE \((view\d+)\)-\[:contains\]->\((\w+)\)$`)
	threadStart = regexp.MustCompile(`^\((view\d+):view\d+\)-\[:contains\]->\(\)-\[\*0\.\.1000\]->`)
	pathUnit    = regexp.MustCompile(`\(([^()]*)\)|-\[([^\[\]]*)\]->`)
	idCompare   = regexp.MustCompile(`^\(?\s*(\w+)\.id\s*(=|>=|<=|>|<)\s*(-?\d+)\s*\)?$`)
	idTautology = regexp.MustCompile(`^\(\s*(\w+)\.id IS NULL OR (\w+)\.id IS NOT NULL\s*\)$`)
	countReturn = regexp.MustCompile(`^RETURN (?:DISTINCT )?count\((\w+|\*)\)$`)
)

// Respond is an executor.Mock responder.
func (g *graphEngine) Respond(q string) (executor.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var (
		v   any
		err error
	)
	switch {
	case deleteStmt.MatchString(q):
		delete(g.views, deleteStmt.FindStringSubmatch(q)[1])
		g.deletes++
	case strings.Contains(q, "\nMERGE "):
		err = g.create(q)
		g.creates++
	default:
		v, err = g.query(q)
	}
	if err != nil {
		return executor.Result{}, err
	}
	return executor.Result{Value: v, Elapsed: time.Millisecond}, nil
}

// counts returns creates, deletes, threaded matches and live views.
func (g *graphEngine) counts() (creates, deletes, threaded, live int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates, g.deletes, g.threaded, len(g.views)
}

// row binds unit keys to node or relationship ids.
type row map[string]int64

// bind sets key to id and reports whether it was added. A key already bound
// to a different id rejects the binding.
func (r row) bind(key string, id int64) (added, ok bool) {
	if prev, found := r[key]; found {
		return false, prev == id
	}
	r[key] = id
	return true, true
}

// unit is one node or relationship of a path. Anonymous units get a
// positional key.
type unit struct {
	key    string
	labels []string
}

func (u unit) matches(n *storage.Node) bool {
	for _, l := range u.labels {
		if !n.HasLabel(l) {
			return false
		}
	}
	return true
}

func (u unit) accepts(typ string) bool {
	return len(u.labels) == 0 || u.labels[0] == typ
}

func parsePath(path string) ([]unit, error) {
	var (
		units []unit
		end   int
	)
	for i, loc := range pathUnit.FindAllStringIndex(path, -1) {
		if loc[0] != end {
			return nil, fmt.Errorf("unsupported path %q", path)
		}
		end = loc[1]
		node := path[loc[0]] == '('
		if node != (i%2 == 0) {
			return nil, fmt.Errorf("unsupported path %q", path)
		}
		body := path[loc[0]+1 : loc[1]-1]
		if !node {
			body = path[loc[0]+2 : loc[1]-3]
		}
		sym, rest, _ := strings.Cut(body, ":")
		if sym == "" {
			sym = "#" + strconv.Itoa(i)
		}
		u := unit{key: sym}
		if rest != "" {
			for _, l := range strings.Split(rest, ":") {
				u.labels = append(u.labels, strings.Trim(l, "`"))
			}
		}
		units = append(units, u)
	}
	if len(units) == 0 || end != len(path) || len(units)%2 == 0 {
		return nil, fmt.Errorf("unsupported path %q", path)
	}
	return units, nil
}

// idCond is one conjunct over a node's id. op "bound" always holds.
type idCond struct {
	key string
	op  string
	val int64
}

func (c idCond) holds(r row) (bool, error) {
	id, ok := r[c.key]
	if !ok {
		return false, fmt.Errorf("unbound symbol %s", c.key)
	}
	switch c.op {
	case "=":
		return id == c.val, nil
	case ">":
		return id > c.val, nil
	case "<":
		return id < c.val, nil
	case ">=":
		return id >= c.val, nil
	case "<=":
		return id <= c.val, nil
	}
	return true, nil
}

func parseWhere(where string) ([]idCond, error) {
	if where == "" {
		return nil, nil
	}
	var out []idCond
	for _, term := range splitAnd(where) {
		if term == "True" {
			continue
		}
		if m := idTautology.FindStringSubmatch(term); m != nil && m[1] == m[2] {
			out = append(out, idCond{key: m[1], op: "bound"})
			continue
		}
		m := idCompare.FindStringSubmatch(term)
		if m == nil {
			return nil, fmt.Errorf("unsupported predicate %q", term)
		}
		v, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, idCond{key: m[1], op: m[2], val: v})
	}
	return out, nil
}

// splitAnd splits where on AND outside parentheses.
func splitAnd(where string) []string {
	var (
		out          []string
		depth, start int
	)
	for i := 0; i < len(where); i++ {
		switch where[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && strings.HasPrefix(where[i:], " AND ") {
			out = append(out, strings.TrimSpace(where[start:i]))
			start = i + len(" AND ")
		}
	}
	return append(out, strings.TrimSpace(where[start:]))
}

// rows evaluates the MATCH and WHERE of c. A path threaded through a view
// keeps the bindings whose first node is reachable from a view member; the
// walk itself is not part of the row.
func (g *graphEngine) rows(c mutator.Clauses) ([]row, error) {
	path := c.Path
	var reach map[storage.NodeID]bool
	if m := threadStart.FindStringSubmatch(path); m != nil {
		members, ok := g.views[m[1]]
		if !ok {
			return nil, fmt.Errorf("unknown view %s", m[1])
		}
		var err error
		if reach, err = g.reachable(members); err != nil {
			return nil, err
		}
		path = path[len(m[0]):]
	}
	units, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	conds, err := parseWhere(c.Where)
	if err != nil {
		return nil, err
	}
	all, err := g.bindings(units)
	if err != nil {
		return nil, err
	}

	var out []row
	for _, r := range all {
		if reach != nil && !reach[storage.NodeID(r[units[0].key])] {
			continue
		}
		keep := true
		for _, cond := range conds {
			ok, err := cond.holds(r)
			if err != nil {
				return nil, err
			}
			keep = keep && ok
		}
		if keep {
			out = append(out, r)
		}
	}
	return out, nil
}

// bindings enumerates every walk matching units with distinct relationships.
func (g *graphEngine) bindings(units []unit) ([]row, error) {
	nodes, err := g.graph.AllNodes()
	if err != nil {
		return nil, err
	}
	var (
		out  []row
		r    = row{}
		used = map[storage.EdgeID]bool{}
		step func(i int, at storage.NodeID) error
	)
	step = func(i int, at storage.NodeID) error {
		if i == len(units) {
			out = append(out, maps.Clone(r))
			return nil
		}
		edges, err := g.graph.GetOutgoingEdges(at)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if used[e.ID] || !units[i].accepts(e.Type) {
				continue
			}
			n, err := g.graph.GetNode(e.EndNode)
			if err != nil {
				return err
			}
			if !units[i+1].matches(n) {
				continue
			}
			addedE, ok := r.bind(units[i].key, int64(e.ID))
			if !ok {
				continue
			}
			addedN, ok := r.bind(units[i+1].key, int64(n.ID))
			if ok {
				used[e.ID] = true
				if err := step(i+2, n.ID); err != nil {
					return err
				}
				delete(used, e.ID)
			}
			if addedN {
				delete(r, units[i+1].key)
			}
			if addedE {
				delete(r, units[i].key)
			}
		}
		return nil
	}
	for _, n := range nodes {
		if !units[0].matches(n) {
			continue
		}
		r[units[0].key] = int64(n.ID)
		if err := step(1, n.ID); err != nil {
			return nil, err
		}
		delete(r, units[0].key)
	}
	return out, nil
}

// reachable returns the nodes within 0..1000 directed hops of from.
func (g *graphEngine) reachable(from map[storage.NodeID]bool) (map[storage.NodeID]bool, error) {
	seen := make(map[storage.NodeID]bool, len(from))
	var frontier []storage.NodeID
	for id := range from {
		seen[id] = true
		frontier = append(frontier, id)
	}
	for hop := 0; hop < 1000 && len(frontier) > 0; hop++ {
		var next []storage.NodeID
		for _, id := range frontier {
			edges, err := g.graph.GetOutgoingEdges(id)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if !seen[e.EndNode] {
					seen[e.EndNode] = true
					next = append(next, e.EndNode)
				}
			}
		}
		frontier = next
	}
	return seen, nil
}

func (g *graphEngine) create(q string) error {
	lines := strings.Split(q, "\n")
	if len(lines) < 2 {
		return fmt.Errorf("unsupported create %q", q)
	}
	m := viewNode.FindStringSubmatch(lines[1])
	if m == nil {
		return fmt.Errorf("unsupported create %q", q)
	}
	view := m[1]
	c := mutator.ParseClauses(lines[0])
	if c.Mode != "MATCH" || c.Return != "" {
		return fmt.Errorf("unsupported create %q", q)
	}
	rows, err := g.rows(c)
	if err != nil {
		return err
	}

	members := map[storage.NodeID]bool{}
	for _, line := range lines[2:] {
		mm := viewMember.FindStringSubmatch(line)
		if mm == nil || mm[1] != view {
			return fmt.Errorf("unsupported view statement %q", line)
		}
		for _, r := range rows {
			id, ok := r[mm[2]]
			if !ok {
				return fmt.Errorf("unbound member %s", mm[2])
			}
			members[storage.NodeID(id)] = true
		}
	}
	g.views[view] = members
	return nil
}

func (g *graphEngine) query(q string) (any, error) {
	distinct := false
	if head, tail, ok := strings.Cut(q, " WITH DISTINCT "); ok {
		i := strings.Index(tail, "RETURN ")
		if i < 0 {
			return nil, fmt.Errorf("no RETURN in %q", q)
		}
		q, distinct = head+" "+tail[i:], true
		g.threaded++
	}
	c := mutator.ParseClauses(q)
	if c.Mode == "" {
		return nil, fmt.Errorf("unsupported statement %q", q)
	}
	rows, err := g.rows(c)
	if err != nil {
		return nil, err
	}
	if distinct {
		rows = distinctRows(rows)
	}
	if len(rows) == 0 && c.Mode == "OPTIONAL MATCH" {
		rows = []row{{}}
	}

	m := countReturn.FindStringSubmatch(c.Return)
	if m == nil {
		return nil, fmt.Errorf("unsupported return %q", c.Return)
	}
	var n int64
	for _, r := range rows {
		if _, ok := r[m[1]]; ok || m[1] == "*" || m[1] == "1" {
			n++
		}
	}

	result := []any{n}
	f := strings.Fields(c.Modifiers)
	for i := 0; i+1 < len(f); i++ {
		k, err := strconv.Atoi(f[i+1])
		if err != nil {
			continue
		}
		switch f[i] {
		case "SKIP":
			result = result[min(k, len(result)):]
		case "LIMIT":
			result = result[:min(k, len(result))]
		}
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result[0], nil
}

func distinctRows(rows []row) []row {
	seen := map[string]bool{}
	var out []row
	for _, r := range rows {
		k := fmt.Sprint(map[string]int64(r))
		if !seen[k] {
			seen[k] = true
			out = append(out, r)
		}
	}
	return out
}
