// Package schema describes the database under test: labels, relationship
// types, per-label properties with their value types, a label-to-label
// connectivity matrix, and the sampled property graph.
//
// A Model is built once per run, either by a Scanner against the live database
// or by loading a YAML file written by an earlier scan, and is read-only for
// the rest of the run. Generators and mutators hold a *Model by reference.
package schema

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/graphgenie/pkg/storage"
)

// Model is the immutable per-run schema snapshot.
//
// NodeLabels is sorted; index i of NodeLabels is row and column i of
// Connectivity. Connectivity[i][j] is true iff some observed edge goes from a
// vertex carrying label i to a vertex carrying label j.
type Model struct {
	NodeLabels     []string
	EdgeLabels     []string
	NodeProperties map[string][]string
	PropertyTypes  map[string]ValueType
	Connectivity   [][]bool

	// Graph is the sampled property graph. Nil when the model was loaded
	// without a snapshot; only the label-driven generator works then.
	Graph *storage.MemoryEngine

	labelIndex map[string]int
}

// NewModel returns an empty model over the given node and edge labels.
// Labels are sorted and de-duplicated.
func NewModel(nodeLabels, edgeLabels []string) *Model {
	nl := slices.Clone(nodeLabels)
	slices.Sort(nl)
	nl = slices.Compact(nl)
	el := slices.Clone(edgeLabels)
	slices.Sort(el)
	el = slices.Compact(el)

	m := &Model{
		NodeLabels:     nl,
		EdgeLabels:     el,
		NodeProperties: make(map[string][]string),
		PropertyTypes:  make(map[string]ValueType),
		Connectivity:   make([][]bool, len(nl)),
	}
	for i := range m.Connectivity {
		m.Connectivity[i] = make([]bool, len(nl))
	}
	m.reindex()
	return m
}

func (m *Model) reindex() {
	m.labelIndex = make(map[string]int, len(m.NodeLabels))
	for i, l := range m.NodeLabels {
		m.labelIndex[l] = i
	}
}

// LabelIndex returns the position of label in NodeLabels, or -1.
func (m *Model) LabelIndex(label string) int {
	if i, ok := m.labelIndex[label]; ok {
		return i
	}
	return -1
}

// Connect marks from->to as connected. Unknown labels are ignored.
func (m *Model) Connect(from, to string) {
	i, j := m.LabelIndex(from), m.LabelIndex(to)
	if i < 0 || j < 0 {
		return
	}
	m.Connectivity[i][j] = true
}

// Connected reports whether an edge from label from to label to was observed.
func (m *Model) Connected(from, to string) bool {
	i, j := m.LabelIndex(from), m.LabelIndex(to)
	if i < 0 || j < 0 {
		return false
	}
	return m.Connectivity[i][j]
}

// Successors returns the labels reachable in one hop from label, in label order.
func (m *Model) Successors(label string) []string {
	i := m.LabelIndex(label)
	if i < 0 {
		return nil
	}
	var out []string
	for j, ok := range m.Connectivity[i] {
		if ok {
			out = append(out, m.NodeLabels[j])
		}
	}
	return out
}

// Predecessors returns the labels with a one-hop edge into label.
func (m *Model) Predecessors(label string) []string {
	j := m.LabelIndex(label)
	if j < 0 {
		return nil
	}
	var out []string
	for i := range m.Connectivity {
		if m.Connectivity[i][j] {
			out = append(out, m.NodeLabels[i])
		}
	}
	return out
}

// SetProperties records the property names of label and their types.
func (m *Model) SetProperties(label string, props map[string]ValueType) {
	names := make([]string, 0, len(props))
	for name, t := range props {
		names = append(names, name)
		m.PropertyTypes[name] = t
	}
	slices.Sort(names)
	m.NodeProperties[label] = names
}

// TypeOf returns the recorded type of property, or Any.
func (m *Model) TypeOf(property string) ValueType {
	if t, ok := m.PropertyTypes[property]; ok {
		return t
	}
	return Any
}

// Validate checks the structural invariants of the model.
func (m *Model) Validate() error {
	if len(m.Connectivity) != len(m.NodeLabels) {
		return fmt.Errorf("connectivity has %d rows for %d labels", len(m.Connectivity), len(m.NodeLabels))
	}
	for i, row := range m.Connectivity {
		if len(row) != len(m.NodeLabels) {
			return fmt.Errorf("connectivity row %d has %d columns for %d labels", i, len(row), len(m.NodeLabels))
		}
	}
	for label := range m.NodeProperties {
		if m.LabelIndex(label) < 0 {
			return fmt.Errorf("properties recorded for unknown label %q", label)
		}
	}
	return nil
}

// yamlModel is the on-disk layout. Connectivity is written as an adjacency
// list because a boolean matrix is unreadable in YAML.
type yamlModel struct {
	NodeLabels     []string             `yaml:"node_labels"`
	EdgeLabels     []string             `yaml:"edge_labels"`
	NodeProperties map[string][]string  `yaml:"node_properties"`
	PropertyTypes  map[string]ValueType `yaml:"property_types"`
	Connectivity   map[string][]string  `yaml:"connectivity"`
}

// MarshalYAML implements yaml.Marshaler.
func (m *Model) MarshalYAML() (interface{}, error) {
	out := yamlModel{
		NodeLabels:     m.NodeLabels,
		EdgeLabels:     m.EdgeLabels,
		NodeProperties: m.NodeProperties,
		PropertyTypes:  m.PropertyTypes,
		Connectivity:   make(map[string][]string),
	}
	for _, l := range m.NodeLabels {
		if succ := m.Successors(l); len(succ) > 0 {
			out.Connectivity[l] = succ
		}
	}
	return out, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Model) UnmarshalYAML(value *yaml.Node) error {
	var in yamlModel
	if err := value.Decode(&in); err != nil {
		return err
	}
	fresh := NewModel(in.NodeLabels, in.EdgeLabels)
	if in.NodeProperties != nil {
		fresh.NodeProperties = in.NodeProperties
	}
	if in.PropertyTypes != nil {
		fresh.PropertyTypes = in.PropertyTypes
	}
	for from, tos := range in.Connectivity {
		for _, to := range tos {
			fresh.Connect(from, to)
		}
	}
	*m = *fresh
	return nil
}

// SaveYAML writes the model (without the sampled graph) to path.
func (m *Model) SaveYAML(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write schema file: %w", err)
	}
	return nil
}

// LoadYAML reads a model written by SaveYAML. The returned model has no Graph.
func LoadYAML(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	m := &Model{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
