package storage

import (
	"fmt"
	"slices"
	"sync"
)

// MemoryEngine is a thread-safe in-memory graph used for path sampling.
//
// Features:
//   - Thread-safe: All operations use RWMutex for concurrent access
//   - Indexed: outgoing edges per node
//   - Deep copies: Returns copies to prevent external mutation
//   - Deterministic: slices come back ordered by id so a seeded sampler
//     reproduces the same walks
//
// Performance Characteristics:
//   - Node lookup by ID: O(1)
//   - Outgoing edges: O(degree log degree)
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	engine.BulkCreateNodes([]*storage.Node{
//		{ID: 1, Labels: []string{"A"}},
//		{ID: 2, Labels: []string{"B"}},
//	})
//	engine.BulkCreateEdges([]*storage.Edge{{ID: 1, StartNode: 1, EndNode: 2, Type: "T"}})
//
//	starts := engine.NodesWithOutgoing()
type MemoryEngine struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
	edges map[EdgeID]*Edge

	outgoingEdges map[NodeID]map[EdgeID]struct{}

	closed bool
}

// NewMemoryEngine creates a new in-memory engine with empty indexes.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes:         make(map[NodeID]*Node),
		edges:         make(map[EdgeID]*Edge),
		outgoingEdges: make(map[NodeID]map[EdgeID]struct{}),
	}
}

// CreateNode stores a copy of node.
//
// Returns:
//   - ErrInvalidData if node is nil
//   - ErrInvalidID if the id is negative
//   - ErrAlreadyExists if a node with this ID exists
//   - ErrStorageClosed if engine is closed
func (m *MemoryEngine) CreateNode(node *Node) error {
	if node == nil {
		return ErrInvalidData
	}
	if node.ID < 0 {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.nodes[node.ID]; exists {
		return ErrAlreadyExists
	}

	m.createNodeUnlocked(node)
	return nil
}

// GetNode returns a copy of the node with the given id.
func (m *MemoryEngine) GetNode(id NodeID) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	node, ok := m.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyNode(node), nil
}

// CreateEdge stores a copy of edge. Both endpoints must already exist.
func (m *MemoryEngine) CreateEdge(edge *Edge) error {
	if edge == nil {
		return ErrInvalidData
	}
	if edge.ID < 0 {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.edges[edge.ID]; exists {
		return ErrAlreadyExists
	}
	if _, ok := m.nodes[edge.StartNode]; !ok {
		return ErrInvalidEdge
	}
	if _, ok := m.nodes[edge.EndNode]; !ok {
		return ErrInvalidEdge
	}

	m.createEdgeUnlocked(edge)
	return nil
}

// GetEdge returns a copy of the edge with the given id.
func (m *MemoryEngine) GetEdge(id EdgeID) (*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	edge, ok := m.edges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEdge(edge), nil
}

// GetOutgoingEdges returns all edges starting at id, ordered by edge id.
func (m *MemoryEngine) GetOutgoingEdges(id NodeID) ([]*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	edgeIDs := m.outgoingEdges[id]
	edges := make([]*Edge, 0, len(edgeIDs))
	for eid := range edgeIDs {
		if edge := m.edges[eid]; edge != nil {
			edges = append(edges, copyEdge(edge))
		}
	}
	sortEdges(edges)
	return edges, nil
}

// NodesWithOutgoing returns the ids of every node with out-degree > 0,
// ordered by id. These are the only valid walk starts.
func (m *MemoryEngine) NodesWithOutgoing() []NodeID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]NodeID, 0, len(m.outgoingEdges))
	for id, out := range m.outgoingEdges {
		if len(out) > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// AllNodes returns copies of every node ordered by id.
func (m *MemoryEngine) AllNodes() ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	nodes := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, copyNode(n))
	}
	sortNodes(nodes)
	return nodes, nil
}

// AllEdges returns copies of every edge ordered by id.
func (m *MemoryEngine) AllEdges() ([]*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	edges := make([]*Edge, 0, len(m.edges))
	for _, e := range m.edges {
		edges = append(edges, copyEdge(e))
	}
	sortEdges(edges)
	return edges, nil
}

// BulkCreateNodes inserts nodes in a single lock acquisition. The batch is
// validated first so a failure leaves the engine unchanged.
func (m *MemoryEngine) BulkCreateNodes(nodes []*Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	seen := make(map[NodeID]struct{}, len(nodes))
	for _, node := range nodes {
		if node == nil {
			return ErrInvalidData
		}
		if node.ID < 0 {
			return ErrInvalidID
		}
		if _, exists := m.nodes[node.ID]; exists {
			return fmt.Errorf("node %d: %w", node.ID, ErrAlreadyExists)
		}
		if _, dup := seen[node.ID]; dup {
			return fmt.Errorf("node %d: %w", node.ID, ErrAlreadyExists)
		}
		seen[node.ID] = struct{}{}
	}

	for _, node := range nodes {
		m.createNodeUnlocked(node)
	}
	return nil
}

// BulkCreateEdges inserts edges in a single lock acquisition. Endpoints may be
// earlier nodes of the engine only.
func (m *MemoryEngine) BulkCreateEdges(edges []*Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	seen := make(map[EdgeID]struct{}, len(edges))
	for _, edge := range edges {
		if edge == nil {
			return ErrInvalidData
		}
		if edge.ID < 0 {
			return ErrInvalidID
		}
		if _, exists := m.edges[edge.ID]; exists {
			return fmt.Errorf("edge %d: %w", edge.ID, ErrAlreadyExists)
		}
		if _, dup := seen[edge.ID]; dup {
			return fmt.Errorf("edge %d: %w", edge.ID, ErrAlreadyExists)
		}
		if _, ok := m.nodes[edge.StartNode]; !ok {
			return fmt.Errorf("edge %d: %w", edge.ID, ErrInvalidEdge)
		}
		if _, ok := m.nodes[edge.EndNode]; !ok {
			return fmt.Errorf("edge %d: %w", edge.ID, ErrInvalidEdge)
		}
		seen[edge.ID] = struct{}{}
	}

	for _, edge := range edges {
		m.createEdgeUnlocked(edge)
	}
	return nil
}

// NodeCount returns the number of stored nodes.
func (m *MemoryEngine) NodeCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.nodes)), nil
}

// EdgeCount returns the number of stored edges.
func (m *MemoryEngine) EdgeCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.edges)), nil
}

// Close marks the engine closed. Later calls return ErrStorageClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.nodes = nil
	m.edges = nil
	m.outgoingEdges = nil
	return nil
}

func (m *MemoryEngine) createNodeUnlocked(node *Node) {
	m.nodes[node.ID] = copyNode(node)
}

func (m *MemoryEngine) createEdgeUnlocked(edge *Edge) {
	m.edges[edge.ID] = copyEdge(edge)

	if m.outgoingEdges[edge.StartNode] == nil {
		m.outgoingEdges[edge.StartNode] = make(map[EdgeID]struct{})
	}
	m.outgoingEdges[edge.StartNode][edge.ID] = struct{}{}
}

func copyNode(n *Node) *Node {
	labels := make([]string, len(n.Labels))
	copy(labels, n.Labels)
	return &Node{ID: n.ID, Labels: labels}
}

func copyEdge(e *Edge) *Edge {
	c := *e
	return &c
}

// Verify MemoryEngine implements Engine
var _ Engine = (*MemoryEngine)(nil)
