package config

import (
	"fmt"
	"time"

	"github.com/nodeweave/nodeweave/pkg/capability"
	"github.com/nodeweave/nodeweave/pkg/graph"
)

// GraphDefinition is the top-level shape of a graph definition document.
type GraphDefinition struct {
	// Graph declares the nodes and connections.
	Graph GraphSpec `json:"graph"`

	// Grants maps node ids to their approved capability sets.
	Grants map[string]GrantDef `json:"grants,omitempty"`
}

// GraphSpec declares the dataflow graph itself.
type GraphSpec struct {
	// Nodes maps node ids to their definitions.
	Nodes map[string]NodeDef `json:"nodes" validate:"required,min=1,dive"`

	// Connections are "node.port" to "node.port" edges.
	Connections []ConnectionDef `json:"connections,omitempty" validate:"dive"`
}

// NodeDef declares one node.
type NodeDef struct {
	// Component is the component id or builtin handler name.
	Component string `json:"component" validate:"required"`

	// Kind selects the dispatch path; defaults to "builtin".
	Kind string `json:"kind,omitempty" validate:"omitempty,oneof=builtin sandboxed composite"`

	// Name is the display name; defaults to the node id.
	Name string `json:"name,omitempty"`

	// Inputs and Outputs declare the ports.
	Inputs  []PortDef `json:"inputs,omitempty" validate:"dive"`
	Outputs []PortDef `json:"outputs,omitempty" validate:"dive"`

	// Continuous flags the node for background execution.
	Continuous *ContinuousDef `json:"continuous,omitempty"`
}

// PortDef declares one port, optionally with an initial literal value.
type PortDef struct {
	Name     string `json:"name" validate:"required"`
	Type     string `json:"type" validate:"required,oneof=u32 i32 f32 string bool bytes string-list u32-list f32-list"`
	Required bool   `json:"required,omitempty"`

	// Value is an optional literal, interpreted against Type.
	Value interface{} `json:"value,omitempty"`
}

// ConnectionDef declares one edge in "node.port" notation.
type ConnectionDef struct {
	From string `json:"from" validate:"required,contains=."`
	To   string `json:"to" validate:"required,contains=."`
}

// ContinuousDef flags a node for indefinite background execution.
type ContinuousDef struct {
	Enabled bool `json:"enabled"`

	// Interval is a duration string such as "500ms" or "5s".
	Interval string `json:"interval,omitempty"`
}

// GrantDef declares an approved capability set for one node.
type GrantDef struct {
	Kind  string   `json:"kind" validate:"required,oneof=none file-read file-write file-read-write network full"`
	Paths []string `json:"paths,omitempty" validate:"dive,startswith=/"`
	Hosts []string `json:"hosts,omitempty" validate:"dive,hostname_rfc1123"`

	// Scope is a human-readable description of what was approved.
	Scope string `json:"scope,omitempty"`
}

// ValidationError is one problem found while parsing or validating a
// definition document.
type ValidationError struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (e ValidationError) String() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}

// ParsedGraph is the result of parsing definition sources: the built graph,
// the declared grants, and any errors found along the way.
type ParsedGraph struct {
	Graph       *graph.NodeGraph
	Grants      []*capability.Grant
	SourceFiles []string
	ParsedAt    time.Time
	Errors      []ValidationError
}

// toSet converts a grant definition to a capability set.
func (g GrantDef) toSet() (capability.Set, error) {
	switch capability.SetKind(g.Kind) {
	case capability.SetNone:
		return capability.None(), nil
	case capability.SetFileRead:
		return capability.FileRead(g.Paths...), nil
	case capability.SetFileWrite:
		return capability.FileWrite(g.Paths...), nil
	case capability.SetFileReadWrite:
		return capability.FileReadWrite(g.Paths...), nil
	case capability.SetNetwork:
		return capability.Network(g.Hosts...), nil
	case capability.SetFull:
		return capability.Full(), nil
	default:
		return capability.Set{}, fmt.Errorf("unknown grant kind %q", g.Kind)
	}
}
