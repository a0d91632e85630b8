package conductor

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// FaultStrategy controls how an instance responds to an unhandled activity
// fault.
type FaultStrategy string

const (
	// FaultStrategyFault aborts the instance and marks it Faulted after
	// recording an incident. This is the fail-closed default.
	FaultStrategyFault FaultStrategy = "fault"

	// FaultStrategyContinue records an incident but lets sibling and
	// subsequent activities proceed.
	FaultStrategyContinue FaultStrategy = "continue"
)

// Node describes one activity node in a workflow definition graph. Composite
// nodes reference their children by id (arena-style), never by embedded
// object graphs, so suspended state serializes without cycle handling.
type Node struct {
	ID         string         `json:"id" yaml:"id"`
	Type       string         `json:"type" yaml:"type"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	Children   []string       `json:"children,omitempty" yaml:"children,omitempty"`
}

// Options are used to configure a workflow definition.
type Options struct {
	ID            string         `json:"id" yaml:"id"`
	Version       int            `json:"version,omitempty" yaml:"version,omitempty"`
	Name          string         `json:"name" yaml:"name"`
	Description   string         `json:"description,omitempty" yaml:"description,omitempty"`
	Root          string         `json:"root" yaml:"root"`
	Nodes         []*Node        `json:"nodes" yaml:"nodes"`
	Variables     map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
	FaultStrategy FaultStrategy  `json:"fault_strategy,omitempty" yaml:"fault_strategy,omitempty"`
}

// Definition is an immutable workflow definition: a tree of activity nodes
// with a designated root. Definitions are registered with an engine at
// startup and never mutated during execution.
type Definition struct {
	id            string
	version       int
	name          string
	description   string
	root          *Node
	nodes         []*Node
	nodesByID     map[string]*Node
	parentOf      map[string]string
	variables     map[string]any
	faultStrategy FaultStrategy
}

// NewDefinition returns a new Definition configured with the given options.
func NewDefinition(opts Options) (*Definition, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("definition id required")
	}
	if len(opts.Nodes) == 0 {
		return nil, fmt.Errorf("nodes required")
	}
	if opts.Version == 0 {
		opts.Version = 1
	}
	if opts.Root == "" {
		opts.Root = opts.Nodes[0].ID
	}
	if opts.FaultStrategy == "" {
		opts.FaultStrategy = FaultStrategyFault
	}

	nodesByID := make(map[string]*Node, len(opts.Nodes))
	for _, node := range opts.Nodes {
		if node.ID == "" {
			return nil, fmt.Errorf("node id required")
		}
		if node.Type == "" {
			return nil, fmt.Errorf("node %q: type required", node.ID)
		}
		if _, exists := nodesByID[node.ID]; exists {
			return nil, fmt.Errorf("duplicate node id %q", node.ID)
		}
		nodesByID[node.ID] = node
	}

	parentOf := make(map[string]string)
	for _, node := range opts.Nodes {
		for _, childID := range node.Children {
			if _, ok := nodesByID[childID]; !ok {
				return nil, fmt.Errorf("node %q references unknown child %q", node.ID, childID)
			}
			if existing, claimed := parentOf[childID]; claimed {
				return nil, fmt.Errorf("node %q has two parents: %q and %q", childID, existing, node.ID)
			}
			parentOf[childID] = node.ID
		}
	}

	root, ok := nodesByID[opts.Root]
	if !ok {
		return nil, fmt.Errorf("root node %q not found", opts.Root)
	}
	if _, hasParent := parentOf[root.ID]; hasParent {
		return nil, fmt.Errorf("root node %q cannot be a child", root.ID)
	}

	return &Definition{
		id:            opts.ID,
		version:       opts.Version,
		name:          opts.Name,
		description:   opts.Description,
		root:          root,
		nodes:         opts.Nodes,
		nodesByID:     nodesByID,
		parentOf:      parentOf,
		variables:     opts.Variables,
		faultStrategy: opts.FaultStrategy,
	}, nil
}

// ID returns the definition id
func (d *Definition) ID() string {
	return d.id
}

// Version returns the definition version
func (d *Definition) Version() int {
	return d.version
}

// Name returns the definition name
func (d *Definition) Name() string {
	return d.name
}

// Description returns the definition description
func (d *Definition) Description() string {
	return d.description
}

// Root returns the root node
func (d *Definition) Root() *Node {
	return d.root
}

// Nodes returns all nodes in the definition
func (d *Definition) Nodes() []*Node {
	return d.nodes
}

// Node returns a node by id
func (d *Definition) Node(id string) (*Node, bool) {
	node, ok := d.nodesByID[id]
	return node, ok
}

// Parent returns the parent node id of a node, if it has one.
func (d *Definition) Parent(id string) (string, bool) {
	parent, ok := d.parentOf[id]
	return parent, ok
}

// NodeIDs returns the sorted ids of all nodes in the definition
func (d *Definition) NodeIDs() []string {
	ids := make([]string, 0, len(d.nodesByID))
	for id := range d.nodesByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InitialVariables returns the definition's initial variable values
func (d *Definition) InitialVariables() map[string]any {
	return d.variables
}

// FaultStrategy returns the definition's fault propagation policy
func (d *Definition) FaultStrategy() FaultStrategy {
	return d.faultStrategy
}

// LoadFile loads a workflow definition from a YAML file
func LoadFile(path string) (*Definition, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	return LoadString(string(yamlData))
}

// LoadString loads a workflow definition from a YAML string
func LoadString(data string) (*Definition, error) {
	var opts Options
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	return NewDefinition(opts)
}
