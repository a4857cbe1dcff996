// Package storage provides storage engine implementations for the sampled graph.
//
// BadgerEngine persists a graph snapshot using BadgerDB so a later run can
// sample paths without pulling the whole graph from the database again.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixNode          = byte(0x01) // nodes:nodeID -> Node
	prefixEdge          = byte(0x02) // edges:edgeID -> Edge
	prefixOutgoingIndex = byte(0x04) // outgoing:nodeID:edgeID -> []byte{}
)

// BadgerEngine provides persistent snapshot storage using BadgerDB.
//
// Key Structure:
//   - Nodes: 0x01 + bigendian(nodeID) -> JSON(Node)
//   - Edges: 0x02 + bigendian(edgeID) -> JSON(Edge)
//   - Outgoing Index: 0x04 + bigendian(nodeID) + bigendian(edgeID) -> empty
//
// Big-endian ids keep badger's key order equal to id order for non-negative
// ids, so AllNodes and AllEdges come back sorted without an extra pass.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("./data/snapshot")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	mem := storage.NewMemoryEngine()
//	if err := storage.CopyGraph(mem, engine); err != nil {
//		log.Fatal(err)
//	}
type BadgerEngine struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Logger for BadgerDB internal logging. Nil silences badger.
	Logger badger.Logger
}

// NewBadgerEngine opens (or creates) a snapshot store in dataDir.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		DataDir: dataDir,
	})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom configuration.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	dir := opts.DataDir
	if opts.InMemory {
		dir = ""
	}
	badgerOpts := badger.DefaultOptions(dir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	// Snapshots are small; keep the footprint low.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(4 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerEngine{db: db}, nil
}

func idBytes(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func nodeKey(id NodeID) []byte {
	return append([]byte{prefixNode}, idBytes(int64(id))...)
}

func edgeKey(id EdgeID) []byte {
	return append([]byte{prefixEdge}, idBytes(int64(id))...)
}

// outgoingIndexKey creates an outgoing edge index key.
// Format: prefix + nodeID + edgeID
func outgoingIndexKey(nodeID NodeID, edgeID EdgeID) []byte {
	key := make([]byte, 0, 17)
	key = append(key, prefixOutgoingIndex)
	key = append(key, idBytes(int64(nodeID))...)
	return append(key, idBytes(int64(edgeID))...)
}

// outgoingIndexPrefix returns the prefix for scanning outgoing edges.
func outgoingIndexPrefix(nodeID NodeID) []byte {
	return append([]byte{prefixOutgoingIndex}, idBytes(int64(nodeID))...)
}

func edgeIDFromIndexKey(key []byte) EdgeID {
	return EdgeID(binary.BigEndian.Uint64(key[9:17]))
}

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// CreateNode stores node.
func (b *BadgerEngine) CreateNode(node *Node) error {
	if node == nil {
		return ErrInvalidData
	}
	if node.ID < 0 {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return b.putNode(txn, node)
	})
}

func (b *BadgerEngine) putNode(txn *badger.Txn, node *Node) error {
	key := nodeKey(node.ID)
	_, err := txn.Get(key)
	if err == nil {
		return fmt.Errorf("node %d: %w", node.ID, ErrAlreadyExists)
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to encode node: %w", err)
	}
	return txn.Set(key, data)
}

// GetNode retrieves a node by ID.
func (b *BadgerEngine) GetNode(id NodeID) (*Node, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var node *Node
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			node = &Node{}
			return json.Unmarshal(val, node)
		})
	})
	return node, err
}

// CreateEdge stores edge and its outgoing index entry. Both endpoints must exist.
func (b *BadgerEngine) CreateEdge(edge *Edge) error {
	if edge == nil {
		return ErrInvalidData
	}
	if edge.ID < 0 {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return b.putEdge(txn, edge)
	})
}

func (b *BadgerEngine) putEdge(txn *badger.Txn, edge *Edge) error {
	key := edgeKey(edge.ID)
	_, err := txn.Get(key)
	if err == nil {
		return fmt.Errorf("edge %d: %w", edge.ID, ErrAlreadyExists)
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	for _, endpoint := range []NodeID{edge.StartNode, edge.EndNode} {
		if _, err := txn.Get(nodeKey(endpoint)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("edge %d: %w", edge.ID, ErrInvalidEdge)
			}
			return err
		}
	}

	data, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("failed to encode edge: %w", err)
	}
	if err := txn.Set(key, data); err != nil {
		return err
	}
	return txn.Set(outgoingIndexKey(edge.StartNode, edge.ID), []byte{})
}

// GetEdge retrieves an edge by ID.
func (b *BadgerEngine) GetEdge(id EdgeID) (*Edge, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var edge *Edge
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		edge, err = getEdgeInTxn(txn, id)
		return err
	})
	return edge, err
}

func getEdgeInTxn(txn *badger.Txn, id EdgeID) (*Edge, error) {
	item, err := txn.Get(edgeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	edge := &Edge{}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, edge)
	}); err != nil {
		return nil, err
	}
	return edge, nil
}

// GetOutgoingEdges returns all edges starting at nodeID ordered by edge id.
func (b *BadgerEngine) GetOutgoingEdges(nodeID NodeID) ([]*Edge, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var edges []*Edge
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := outgoingIndexPrefix(nodeID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			edge, err := getEdgeInTxn(txn, edgeIDFromIndexKey(it.Item().Key()))
			if err != nil {
				return err
			}
			edges = append(edges, edge)
		}
		return nil
	})
	return edges, err
}

// AllNodes returns every stored node.
func (b *BadgerEngine) AllNodes() ([]*Node, error) {
	var nodes []*Node
	err := b.scan(prefixNode, func(val []byte) error {
		node := &Node{}
		if err := json.Unmarshal(val, node); err != nil {
			return err
		}
		nodes = append(nodes, node)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNodes(nodes)
	return nodes, nil
}

// AllEdges returns every stored edge.
func (b *BadgerEngine) AllEdges() ([]*Edge, error) {
	var edges []*Edge
	err := b.scan(prefixEdge, func(val []byte) error {
		edge := &Edge{}
		if err := json.Unmarshal(val, edge); err != nil {
			return err
		}
		edges = append(edges, edge)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEdges(edges)
	return edges, nil
}

func (b *BadgerEngine) scan(prefix byte, fn func(val []byte) error) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte{prefix}
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerEngine) count(prefix byte) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}

	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte{prefix}
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// bulkChunk bounds the writes of one badger transaction so large snapshots
// stay below ErrTxnTooBig.
const bulkChunk = 1000

// BulkCreateNodes stores nodes in chunked transactions.
func (b *BadgerEngine) BulkCreateNodes(nodes []*Node) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	// Validate all nodes first
	for _, node := range nodes {
		if node == nil {
			return ErrInvalidData
		}
		if node.ID < 0 {
			return ErrInvalidID
		}
	}

	for start := 0; start < len(nodes); start += bulkChunk {
		chunk := nodes[start:min(start+bulkChunk, len(nodes))]
		err := b.db.Update(func(txn *badger.Txn) error {
			for _, node := range chunk {
				if err := b.putNode(txn, node); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// BulkCreateEdges stores edges and their outgoing index entries in chunked
// transactions. Endpoints must already be stored.
func (b *BadgerEngine) BulkCreateEdges(edges []*Edge) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	for _, edge := range edges {
		if edge == nil {
			return ErrInvalidData
		}
		if edge.ID < 0 {
			return ErrInvalidID
		}
	}

	for start := 0; start < len(edges); start += bulkChunk {
		chunk := edges[start:min(start+bulkChunk, len(edges))]
		err := b.db.Update(func(txn *badger.Txn) error {
			for _, edge := range chunk {
				if err := b.putEdge(txn, edge); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// NodeCount returns the number of stored nodes.
func (b *BadgerEngine) NodeCount() (int64, error) {
	return b.count(prefixNode)
}

// EdgeCount returns the number of stored edges.
func (b *BadgerEngine) EdgeCount() (int64, error) {
	return b.count(prefixEdge)
}

// Reset drops every key so a fresh snapshot can be written.
func (b *BadgerEngine) Reset() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.DropAll()
}

// Close closes the underlying database.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// Verify BadgerEngine implements Engine
var _ Engine = (*BadgerEngine)(nil)
