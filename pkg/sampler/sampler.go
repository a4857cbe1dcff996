// Package sampler draws random directed walks from the sampled property graph.
//
// A walk starts at a random vertex with out-degree > 0 and grows by
// depth-first traversal. Every DFS branch owns its own copy of the path, so
// when a vertex has several children the path list branches. The first branch
// whose path reaches the maximum length ends the traversal and wins. That
// policy favours whichever branch the traversal explores first; downstream
// escalation is tuned against the resulting distribution, so it is kept as is
// rather than replaced by uniform path sampling.
//
// If no traversal reaches the minimum length within Attempts restarts, the
// longest path observed across all attempts is returned.
package sampler

import (
	"errors"
	"math/rand"

	"github.com/orneryd/graphgenie/pkg/storage"
)

// DefaultAttempts bounds the number of traversal restarts per Sample call.
const DefaultAttempts = 1000

// ErrNoWalk is returned when the graph has no vertex with an outgoing edge.
// Callers must treat it as a hard failure.
var ErrNoWalk = errors.New("sampler: graph has no vertex with outgoing edges")

// Graph is the read surface the sampler needs. *storage.MemoryEngine
// satisfies it.
type Graph interface {
	NodesWithOutgoing() []storage.NodeID
	GetNode(id storage.NodeID) (*storage.Node, error)
	GetOutgoingEdges(id storage.NodeID) ([]*storage.Edge, error)
}

// Path is a simple directed walk. Edges[i] goes from Nodes[i] to Nodes[i+1].
type Path struct {
	Nodes []*storage.Node
	Edges []*storage.Edge
}

// Len returns the number of vertices in the walk.
func (p Path) Len() int { return len(p.Nodes) }

func (p Path) extend(e *storage.Edge, n *storage.Node) Path {
	nodes := make([]*storage.Node, len(p.Nodes), len(p.Nodes)+1)
	copy(nodes, p.Nodes)
	edges := make([]*storage.Edge, len(p.Edges), len(p.Edges)+1)
	copy(edges, p.Edges)
	return Path{Nodes: append(nodes, n), Edges: append(edges, e)}
}

// Sampler draws walks from one graph. Not safe for concurrent use; each
// generator owns its own sampler.
type Sampler struct {
	graph    Graph
	rng      *rand.Rand
	Attempts int
}

// New returns a sampler over g using rng for every random choice.
func New(g Graph, rng *rand.Rand) *Sampler {
	return &Sampler{graph: g, rng: rng, Attempts: DefaultAttempts}
}

// Sample returns a walk with min <= Len() <= max, or the longest walk seen if
// no traversal reached min within s.Attempts restarts.
func (s *Sampler) Sample(min, max int) (Path, error) {
	if max < 1 {
		max = 1
	}
	if min > max {
		min = max
	}

	starts := s.graph.NodesWithOutgoing()
	if len(starts) == 0 {
		return Path{}, ErrNoWalk
	}

	var longest Path
	for attempt := 0; attempt < s.Attempts; attempt++ {
		start := starts[s.rng.Intn(len(starts))]
		p, err := s.traverse(start, max)
		if err != nil {
			return Path{}, err
		}
		if p.Len() >= min {
			return p, nil
		}
		if p.Len() > longest.Len() {
			longest = p
		}
	}
	return longest, nil
}

// traverse runs one DFS from start and returns the first path to reach max,
// or the longest finished branch.
func (s *Sampler) traverse(start storage.NodeID, max int) (Path, error) {
	root, err := s.graph.GetNode(start)
	if err != nil {
		return Path{}, err
	}

	visited := map[storage.NodeID]bool{start: true}
	best := Path{Nodes: []*storage.Node{root}}
	var (
		winner Path
		done   bool
	)

	var visit func(p Path) error
	visit = func(p Path) error {
		if p.Len() > best.Len() {
			best = p
		}
		if p.Len() >= max {
			winner, done = p, true
			return nil
		}

		tail := p.Nodes[len(p.Nodes)-1].ID
		edges, err := s.graph.GetOutgoingEdges(tail)
		if err != nil {
			return err
		}
		s.rng.Shuffle(len(edges), func(i, j int) { edges[i], edges[j] = edges[j], edges[i] })

		for _, e := range edges {
			if done {
				return nil
			}
			if visited[e.EndNode] {
				continue
			}
			visited[e.EndNode] = true
			next, err := s.graph.GetNode(e.EndNode)
			if err != nil {
				return err
			}
			if err := visit(p.extend(e, next)); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(best); err != nil {
		return Path{}, err
	}
	if done {
		return winner, nil
	}
	return best, nil
}
