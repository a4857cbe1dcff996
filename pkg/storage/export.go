package storage

import (
	"encoding/json"
	"fmt"
	"os"
)

// Export is the combined JSON export format:
//
//	{
//	  "nodes": [{"id":1,"labels":["Person"]}],
//	  "relationships": [{"id":7,"type":"KNOWS","startNode":1,"endNode":2}]
//	}
//
// The layout follows the combined Neo4j export so a sampled graph can be
// inspected or edited by hand and fed back to the generator.
type Export struct {
	Nodes         []*Node `json:"nodes"`
	Relationships []*Edge `json:"relationships"`
}

// ToExport collects every node and edge of engine, sorted by id.
func ToExport(engine Engine) (*Export, error) {
	nodes, err := engine.AllNodes()
	if err != nil {
		return nil, fmt.Errorf("reading nodes: %w", err)
	}
	edges, err := engine.AllEdges()
	if err != nil {
		return nil, fmt.Errorf("reading edges: %w", err)
	}
	sortNodes(nodes)
	sortEdges(edges)
	return &Export{Nodes: nodes, Relationships: edges}, nil
}

// LoadExport reads a combined export file into engine.
func LoadExport(engine Engine, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	var export Export
	if err := json.NewDecoder(file).Decode(&export); err != nil {
		return fmt.Errorf("decoding JSON: %w", err)
	}
	if err := engine.BulkCreateNodes(export.Nodes); err != nil {
		return fmt.Errorf("creating nodes: %w", err)
	}
	if err := engine.BulkCreateEdges(export.Relationships); err != nil {
		return fmt.Errorf("creating edges: %w", err)
	}
	return nil
}

// SaveExport writes every node and edge of engine to path.
func SaveExport(engine Engine, path string) error {
	export, err := ToExport(engine)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
