// Package storage holds the sampled property graph that drives path sampling.
//
// The graph is a snapshot of the database under test: every vertex keeps the
// integer id the schema scanner assigned to it (the same value is stored in the
// database as the "id" property) together with its label set, and every edge
// keeps exactly one relationship type. Nothing here talks to the database; the
// scanner fills an engine once per run and the generator only reads from it.
//
// Two engines share the Engine interface:
//   - MemoryEngine: indexed, thread-safe, used for sampling
//   - BadgerEngine: persistent snapshot so later runs can skip the graph pull
//
// Example Usage:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	_ = engine.CreateNode(&storage.Node{ID: 1, Labels: []string{"Person"}})
//	_ = engine.CreateNode(&storage.Node{ID: 2, Labels: []string{"City"}})
//	_ = engine.CreateEdge(&storage.Edge{ID: 10, StartNode: 1, EndNode: 2, Type: "LIVES_IN"})
//
//	out, _ := engine.GetOutgoingEdges(1)
//	fmt.Printf("%d outgoing edges\n", len(out))
package storage

import (
	"cmp"
	"errors"
	"slices"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidData   = errors.New("invalid data")
	ErrInvalidEdge   = errors.New("invalid edge: start or end node not found")
	ErrStorageClosed = errors.New("storage closed")
)

// NodeID is the integer identity the scanner assigned to a vertex.
//
// The scanner runs `MATCH (n) SET n.id = id(n)` before pulling the graph, so
// a NodeID can be used verbatim in an identity predicate such as
// `( id42.id = 42 )`.
type NodeID int64

// EdgeID is the database identity of a relationship.
type EdgeID int64

// Node is a sampled vertex. Property values are not sampled; only the label
// set matters for path construction.
type Node struct {
	ID     NodeID   `json:"id" yaml:"id"`
	Labels []string `json:"labels" yaml:"labels"`
}

// HasLabel reports whether the node carries label.
func (n *Node) HasLabel(label string) bool {
	return slices.Contains(n.Labels, label)
}

// Edge is a sampled directed relationship with a single type.
type Edge struct {
	ID        EdgeID `json:"id" yaml:"id"`
	StartNode NodeID `json:"startNode" yaml:"startNode"`
	EndNode   NodeID `json:"endNode" yaml:"endNode"`
	Type      string `json:"type" yaml:"type"`
}

// Engine is the read/write surface shared by the graph engines.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	CreateNode(node *Node) error
	GetNode(id NodeID) (*Node, error)
	CreateEdge(edge *Edge) error
	GetEdge(id EdgeID) (*Edge, error)
	GetOutgoingEdges(id NodeID) ([]*Edge, error)
	AllNodes() ([]*Node, error)
	AllEdges() ([]*Edge, error)
	BulkCreateNodes(nodes []*Node) error
	BulkCreateEdges(edges []*Edge) error
	NodeCount() (int64, error)
	EdgeCount() (int64, error)
	Close() error
}

// CopyGraph copies every node and edge of src into dst.
//
// Used to load a BadgerEngine snapshot into a MemoryEngine for sampling and to
// persist a freshly scanned MemoryEngine.
func CopyGraph(dst, src Engine) error {
	nodes, err := src.AllNodes()
	if err != nil {
		return err
	}
	if err := dst.BulkCreateNodes(nodes); err != nil {
		return err
	}
	edges, err := src.AllEdges()
	if err != nil {
		return err
	}
	return dst.BulkCreateEdges(edges)
}

func sortNodes(nodes []*Node) {
	slices.SortFunc(nodes, func(a, b *Node) int { return cmp.Compare(a.ID, b.ID) })
}

func sortEdges(edges []*Edge) {
	slices.SortFunc(edges, func(a, b *Edge) int { return cmp.Compare(a.ID, b.ID) })
}
