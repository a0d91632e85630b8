package conductor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefinitionDefaults(t *testing.T) {
	def, err := NewDefinition(Options{
		ID: "wf-test",
		Nodes: []*Node{
			{ID: "main", Type: "sequence", Children: []string{"step1"}},
			{ID: "step1", Type: "log"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "wf-test", def.ID())
	require.Equal(t, 1, def.Version())
	require.Equal(t, "main", def.Root().ID)
	require.Equal(t, FaultStrategyFault, def.FaultStrategy())

	parent, ok := def.Parent("step1")
	require.True(t, ok)
	require.Equal(t, "main", parent)
	_, ok = def.Parent("main")
	require.False(t, ok)
}

func TestNewDefinitionValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{
			name:    "missing id",
			opts:    Options{Nodes: []*Node{{ID: "a", Type: "log"}}},
			wantErr: "definition id required",
		},
		{
			name:    "no nodes",
			opts:    Options{ID: "x"},
			wantErr: "nodes required",
		},
		{
			name: "duplicate node id",
			opts: Options{ID: "x", Nodes: []*Node{
				{ID: "a", Type: "log"},
				{ID: "a", Type: "log"},
			}},
			wantErr: `duplicate node id "a"`,
		},
		{
			name: "unknown child",
			opts: Options{ID: "x", Nodes: []*Node{
				{ID: "a", Type: "sequence", Children: []string{"missing"}},
			}},
			wantErr: "unknown child",
		},
		{
			name: "two parents",
			opts: Options{ID: "x", Nodes: []*Node{
				{ID: "a", Type: "sequence", Children: []string{"c"}},
				{ID: "b", Type: "sequence", Children: []string{"c"}},
				{ID: "c", Type: "log"},
			}},
			wantErr: "two parents",
		},
		{
			name: "root is a child",
			opts: Options{ID: "x", Root: "b", Nodes: []*Node{
				{ID: "a", Type: "sequence", Children: []string{"b"}},
				{ID: "b", Type: "log"},
			}},
			wantErr: "cannot be a child",
		},
		{
			name: "node missing type",
			opts: Options{ID: "x", Nodes: []*Node{
				{ID: "a"},
			}},
			wantErr: "type required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDefinition(tt.opts)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadStringYAML(t *testing.T) {
	def, err := LoadString(`
id: order-approval
version: 2
name: Order Approval
description: Approve large orders
root: main
fault_strategy: continue
variables:
  threshold: 1000
nodes:
  - id: main
    type: sequence
    children: [check, notify]
  - id: check
    type: if
    properties:
      condition: "${variables.threshold > 500}"
    children: [notify]
  - id: notify
    type: log
    properties:
      message: "order approved"
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "two parents")

	def, err = LoadString(`
id: order-approval
version: 2
name: Order Approval
root: main
fault_strategy: continue
variables:
  threshold: 1000
nodes:
  - id: main
    type: sequence
    children: [check]
  - id: check
    type: log
    properties:
      message: "order approved"
`)
	require.NoError(t, err)
	require.Equal(t, "order-approval", def.ID())
	require.Equal(t, 2, def.Version())
	require.Equal(t, "Order Approval", def.Name())
	require.Equal(t, FaultStrategyContinue, def.FaultStrategy())
	require.Equal(t, map[string]any{"threshold": 1000}, def.InitialVariables())

	node, ok := def.Node("check")
	require.True(t, ok)
	require.Equal(t, "log", node.Type)
	require.Equal(t, "order approved", node.Properties["message"])
}
