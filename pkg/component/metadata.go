package component

import (
	"encoding/json"
	"fmt"

	"github.com/nodeweave/nodeweave/pkg/capability"
	"github.com/nodeweave/nodeweave/pkg/graph"
)

// PortSpec describes a single input or output port declared by a component.
type PortSpec struct {
	// Name is the port name, unique within its direction.
	Name string `json:"name"`

	// Type is the wire value type carried by the port.
	Type graph.ValueType `json:"type"`

	// Required indicates the port must be populated before execution.
	Required bool `json:"required,omitempty"`

	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`
}

// Metadata describes a loaded component as reported by its metadata export.
type Metadata struct {
	// Name is the component's display name.
	Name string `json:"name"`

	// Version is the component's semantic version string.
	Version string `json:"version"`

	// Description is a short human-readable description.
	Description string `json:"description,omitempty"`

	// Category groups components in listings (e.g. "math", "http").
	Category string `json:"category,omitempty"`

	// Inputs are the declared input ports.
	Inputs []PortSpec `json:"inputs,omitempty"`

	// Outputs are the declared output ports.
	Outputs []PortSpec `json:"outputs,omitempty"`

	// CapabilityRequests are the raw capability request strings
	// (e.g. "file-read:/data", "network:api.example.com", "full").
	CapabilityRequests []string `json:"capabilities,omitempty"`

	// HasResultView indicates the component exports a result_view function.
	HasResultView bool `json:"has_result_view,omitempty"`
}

// RequestedCapabilities parses the raw capability request strings into a set.
func (m *Metadata) RequestedCapabilities() capability.Set {
	return capability.ParseRequests(m.CapabilityRequests)
}

// Validate checks the metadata for structural problems.
func (m *Metadata) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("component metadata missing name")
	}
	if m.Version == "" {
		return fmt.Errorf("component %q metadata missing version", m.Name)
	}

	seen := make(map[string]bool, len(m.Inputs))
	for _, p := range m.Inputs {
		if p.Name == "" {
			return fmt.Errorf("component %q has an unnamed input port", m.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("component %q has duplicate input port %q", m.Name, p.Name)
		}
		seen[p.Name] = true
	}

	seen = make(map[string]bool, len(m.Outputs))
	for _, p := range m.Outputs {
		if p.Name == "" {
			return fmt.Errorf("component %q has an unnamed output port", m.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("component %q has duplicate output port %q", m.Name, p.Name)
		}
		seen[p.Name] = true
	}

	return nil
}

// parseMetadata decodes the JSON payload returned by the metadata export.
func parseMetadata(payload []byte) (*Metadata, error) {
	var md Metadata
	if err := json.Unmarshal(payload, &md); err != nil {
		return nil, fmt.Errorf("failed to unmarshal component metadata: %w", err)
	}
	return &md, nil
}
