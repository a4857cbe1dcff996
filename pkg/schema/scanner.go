package schema

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/orneryd/graphgenie/pkg/convert"
	"github.com/orneryd/graphgenie/pkg/storage"
)

// Querier runs a read or write statement and returns every row as a map keyed
// by column name. executor.Executor implementations satisfy it.
type Querier interface {
	Query(ctx context.Context, query string) ([]map[string]any, error)
}

// Introspection statements. Labels, types and keys are interpolated because
// Cypher does not accept them as parameters.
const (
	nodeLabelsQuery = `MATCH (n)
WITH DISTINCT labels(n) AS labels
UNWIND labels AS label
RETURN DISTINCT label
ORDER BY label`
	edgeLabelsQuery = `MATCH ()-[n]->()
WITH DISTINCT type(n) AS label
RETURN DISTINCT label
ORDER BY label`
	propertyKeysQuery = `MATCH (n:%s)
WITH DISTINCT keys(n) AS key_sets
UNWIND key_sets AS key
RETURN DISTINCT key
ORDER BY key`
	propertyTypeQuery = "MATCH (n:%s) WHERE n.%s IS NOT NULL RETURN DISTINCT valueType(n.%s) AS type LIMIT 1"
	connectivityQuery = "MATCH (a:%s)-->(b:%s) RETURN count(a) AS c"
	assignIDsQuery    = "MATCH (n) SET n.id = id(n)"
	pullNodesQuery    = "MATCH (n) RETURN n.id AS id, labels(n) AS labels ORDER BY id"
	pullEdgesQuery    = "MATCH (a)-[r]->(b) RETURN id(r) AS id, a.id AS src, b.id AS dst, type(r) AS type ORDER BY id"
)

// Scanner builds a Model by introspecting a live database.
//
// Scanning writes to the database: every node receives an integer "id"
// property equal to its internal id so generated identity predicates can
// address sampled vertices.
type Scanner struct {
	q         Querier
	log       *zap.Logger
	pullGraph bool
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithoutGraph skips id assignment and the graph pull. The resulting model
// only supports label-driven generation.
func WithoutGraph() ScannerOption {
	return func(s *Scanner) { s.pullGraph = false }
}

// NewScanner returns a scanner over q.
func NewScanner(q Querier, log *zap.Logger, opts ...ScannerOption) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scanner{q: q, log: log, pullGraph: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan runs the full introspection sequence.
func (s *Scanner) Scan(ctx context.Context) (*Model, error) {
	nodeLabels, err := s.column(ctx, nodeLabelsQuery, "label")
	if err != nil {
		return nil, fmt.Errorf("scan node labels: %w", err)
	}
	edgeLabels, err := s.column(ctx, edgeLabelsQuery, "label")
	if err != nil {
		return nil, fmt.Errorf("scan edge labels: %w", err)
	}
	m := NewModel(nodeLabels, edgeLabels)
	s.log.Info("scanned labels",
		zap.Int("node_labels", len(m.NodeLabels)),
		zap.Int("edge_labels", len(m.EdgeLabels)))

	for _, label := range m.NodeLabels {
		keys, err := s.column(ctx, fmt.Sprintf(propertyKeysQuery, QuoteName(label)), "key")
		if err != nil {
			return nil, fmt.Errorf("scan properties of %s: %w", label, err)
		}
		props := make(map[string]ValueType, len(keys))
		for _, key := range keys {
			t, err := s.propertyType(ctx, label, key)
			if err != nil {
				return nil, err
			}
			props[key] = t
		}
		m.SetProperties(label, props)
	}

	for _, from := range m.NodeLabels {
		for _, to := range m.NodeLabels {
			rows, err := s.q.Query(ctx, fmt.Sprintf(connectivityQuery, QuoteName(from), QuoteName(to)))
			if err != nil {
				return nil, fmt.Errorf("scan connectivity %s->%s: %w", from, to, err)
			}
			if len(rows) > 0 {
				if c, ok := convert.ToInt64(rows[0]["c"]); ok && c > 0 {
					m.Connect(from, to)
				}
			}
		}
	}

	if s.pullGraph {
		g, err := s.PullGraph(ctx)
		if err != nil {
			return nil, err
		}
		m.Graph = g
	}
	return m, nil
}

// PullGraph assigns integer ids and copies every vertex and edge into a
// MemoryEngine.
func (s *Scanner) PullGraph(ctx context.Context) (*storage.MemoryEngine, error) {
	if _, err := s.q.Query(ctx, assignIDsQuery); err != nil {
		return nil, fmt.Errorf("assign node ids: %w", err)
	}

	rows, err := s.q.Query(ctx, pullNodesQuery)
	if err != nil {
		return nil, fmt.Errorf("pull nodes: %w", err)
	}
	nodes := make([]*storage.Node, 0, len(rows))
	for _, row := range rows {
		id, ok := convert.ToInt64(row["id"])
		if !ok {
			continue
		}
		nodes = append(nodes, &storage.Node{ID: storage.NodeID(id), Labels: convert.ToStrings(row["labels"])})
	}

	rows, err = s.q.Query(ctx, pullEdgesQuery)
	if err != nil {
		return nil, fmt.Errorf("pull edges: %w", err)
	}
	edges := make([]*storage.Edge, 0, len(rows))
	for _, row := range rows {
		id, ok1 := convert.ToInt64(row["id"])
		src, ok2 := convert.ToInt64(row["src"])
		dst, ok3 := convert.ToInt64(row["dst"])
		typ, _ := row["type"].(string)
		if !ok1 || !ok2 || !ok3 || typ == "" {
			continue
		}
		edges = append(edges, &storage.Edge{
			ID:        storage.EdgeID(id),
			StartNode: storage.NodeID(src),
			EndNode:   storage.NodeID(dst),
			Type:      typ,
		})
	}

	g := storage.NewMemoryEngine()
	if err := g.BulkCreateNodes(nodes); err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	if err := g.BulkCreateEdges(edges); err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	s.log.Info("pulled graph", zap.Int("nodes", len(nodes)), zap.Int("edges", len(edges)))
	return g, nil
}

func (s *Scanner) propertyType(ctx context.Context, label, key string) (ValueType, error) {
	rows, err := s.q.Query(ctx, fmt.Sprintf(propertyTypeQuery, QuoteName(label), QuoteName(key), QuoteName(key)))
	if err != nil {
		return Any, fmt.Errorf("scan type of %s.%s: %w", label, key, err)
	}
	if len(rows) == 0 {
		return Null, nil
	}
	str, _ := rows[0]["type"].(string)
	return ParseValueType(str), nil
}

func (s *Scanner) column(ctx context.Context, query, name string) ([]string, error) {
	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if v, ok := row[name].(string); ok {
			out = append(out, v)
		}
	}
	return out, nil
}
