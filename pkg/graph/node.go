package graph

import (
	"time"
)

// ExecState is the per-run execution state of a node.
type ExecState string

const (
	StateIdle      ExecState = "idle"
	StateRunning   ExecState = "running"
	StateCompleted ExecState = "completed"
	StateFailed    ExecState = "failed"
)

// IsTerminal reports whether the state is a run outcome.
func (s ExecState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// NodeKind selects how the execution engine dispatches a node. The set of
// kinds is closed; dispatch is a single switch per execution.
type NodeKind string

const (
	// KindBuiltin nodes run a statically registered pure-function handler.
	KindBuiltin NodeKind = "builtin"

	// KindSandboxed nodes invoke a loaded component inside the sandbox.
	KindSandboxed NodeKind = "sandboxed"

	// KindComposite nodes run an embedded subgraph with boundary mappings.
	KindComposite NodeKind = "composite"
)

// Port is one input or output slot on a node: a declared element type plus
// the current value, written by the engine during execution.
type Port struct {
	Name     string    `json:"name"`
	Type     ValueType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Value    Value     `json:"value,omitempty"`
}

// ContinuousConfig marks a node for indefinite background execution.
type ContinuousConfig struct {
	// Enabled marks the node as continuous; the continuous manager
	// re-executes it on its interval after any initial batch run.
	Enabled bool `json:"enabled"`

	// Interval is the sleep between iterations.
	Interval time.Duration `json:"interval"`
}

// BoundaryMapping maps one external port of a composite node onto a port of
// a node inside its embedded subgraph.
type BoundaryMapping struct {
	// OuterPort is the composite node's own port name.
	OuterPort string `json:"outer_port"`

	// InnerNode is the subgraph node the port maps onto.
	InnerNode string `json:"inner_node"`

	// InnerPort is the port name on the subgraph node.
	InnerPort string `json:"inner_port"`
}

// CompositeData embeds a subgraph inside a node together with the declared
// boundary port mappings.
type CompositeData struct {
	Subgraph *NodeGraph        `json:"subgraph"`
	Inputs   []BoundaryMapping `json:"inputs"`
	Outputs  []BoundaryMapping `json:"outputs"`
}

// Node is one vertex of the dataflow graph. Structure is mutated by the
// editor, state and output values by the execution engine; the two never
// touch a node concurrently without the graph lock.
type Node struct {
	// ID uniquely identifies the node within its graph.
	ID string `json:"id"`

	// ComponentID references the loaded component (or builtin handler)
	// this node executes.
	ComponentID string `json:"component_id"`

	// Name is the display name; defaults to the component name.
	Name string `json:"name,omitempty"`

	// Kind selects the dispatch path.
	Kind NodeKind `json:"kind"`

	// Inputs and Outputs are the ordered port lists.
	Inputs  []Port `json:"inputs"`
	Outputs []Port `json:"outputs"`

	// State is the per-run execution state.
	State ExecState `json:"state"`

	// Dirty marks the node for re-execution in incremental mode.
	Dirty bool `json:"dirty"`

	// Continuous, when non-nil and enabled, hands the node to the
	// continuous execution manager.
	Continuous *ContinuousConfig `json:"continuous,omitempty"`

	// Composite, when non-nil, embeds the node's subgraph.
	Composite *CompositeData `json:"composite,omitempty"`
}

// IsConstant reports whether the node is a pure source whose outputs are
// already populated; such nodes short-circuit as completed during a run.
func (n *Node) IsConstant() bool {
	if n.Kind != KindBuiltin || len(n.Inputs) != 0 || len(n.Outputs) == 0 {
		return false
	}
	for _, p := range n.Outputs {
		if p.Value.IsZero() {
			return false
		}
	}
	return true
}

// IsContinuous reports whether the node is flagged for indefinite execution.
func (n *Node) IsContinuous() bool {
	return n.Continuous != nil && n.Continuous.Enabled
}

// Input returns the input port by name, or nil.
func (n *Node) Input(name string) *Port {
	for i := range n.Inputs {
		if n.Inputs[i].Name == name {
			return &n.Inputs[i]
		}
	}
	return nil
}

// Output returns the output port by name, or nil.
func (n *Node) Output(name string) *Port {
	for i := range n.Outputs {
		if n.Outputs[i].Name == name {
			return &n.Outputs[i]
		}
	}
	return nil
}

// Clone returns a copy of the node with its own port slices, so a caller
// holding the graph lock can hand the copy to an executor without it.
// Continuous and Composite data are shared and treated as read-only.
func (n *Node) Clone() *Node {
	c := *n
	c.Inputs = append([]Port(nil), n.Inputs...)
	c.Outputs = append([]Port(nil), n.Outputs...)
	return &c
}

// InputValues snapshots the node's current input values in port order.
func (n *Node) InputValues() []NamedValue {
	vals := make([]NamedValue, 0, len(n.Inputs))
	for _, p := range n.Inputs {
		vals = append(vals, NamedValue{Name: p.Name, Value: p.Value})
	}
	return vals
}
