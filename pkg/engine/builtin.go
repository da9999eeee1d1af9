package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nodeweave/nodeweave/pkg/graph"
)

// BuiltinFunc is a statically registered pure-function node handler.
type BuiltinFunc func(inputs []graph.NamedValue) ([]graph.NamedValue, error)

// BuiltinRegistry maps component ids to their builtin handlers. The registry
// is safe for concurrent use; registration normally happens once at startup.
type BuiltinRegistry struct {
	mu       sync.RWMutex
	handlers map[string]BuiltinFunc
}

// NewBuiltinRegistry creates a registry pre-populated with the standard
// builtin nodes.
func NewBuiltinRegistry() *BuiltinRegistry {
	r := &BuiltinRegistry{handlers: make(map[string]BuiltinFunc)}
	r.Register("builtin.add", builtinAdd)
	r.Register("builtin.json-extract", builtinJSONExtract)
	r.Register("builtin.cors-headers", builtinCORSHeaders)
	return r
}

// Register installs a handler for a component id, replacing any existing one.
func (r *BuiltinRegistry) Register(componentID string, fn BuiltinFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[componentID] = fn
}

// Lookup returns the handler for a component id.
func (r *BuiltinRegistry) Lookup(componentID string) (BuiltinFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[componentID]
	return fn, ok
}

// Names returns the registered component ids.
func (r *BuiltinRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

func findInput(inputs []graph.NamedValue, name string) (graph.Value, error) {
	for _, in := range inputs {
		if in.Name == name {
			return in.Value, nil
		}
	}
	return graph.Value{}, fmt.Errorf("missing input %q", name)
}

// builtinAdd sums two u32 inputs "a" and "b" into output "sum".
func builtinAdd(inputs []graph.NamedValue) ([]graph.NamedValue, error) {
	a, err := findInput(inputs, "a")
	if err != nil {
		return nil, err
	}
	b, err := findInput(inputs, "b")
	if err != nil {
		return nil, err
	}
	if a.Type != graph.TypeU32 || b.Type != graph.TypeU32 {
		return nil, fmt.Errorf("add expects u32 inputs, got %s and %s", a.Type, b.Type)
	}
	return []graph.NamedValue{
		{Name: "sum", Value: graph.U32Value(a.U32 + b.U32)},
	}, nil
}

// builtinJSONExtract pulls a dotted field path out of a JSON document.
// Inputs: "json" (string), "path" (string). Output: "value" (string).
func builtinJSONExtract(inputs []graph.NamedValue) ([]graph.NamedValue, error) {
	doc, err := findInput(inputs, "json")
	if err != nil {
		return nil, err
	}
	path, err := findInput(inputs, "path")
	if err != nil {
		return nil, err
	}
	if doc.Type != graph.TypeString || path.Type != graph.TypeString {
		return nil, fmt.Errorf("json-extract expects string inputs")
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(doc.Str), &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON input: %w", err)
	}

	current := parsed
	for _, key := range strings.Split(path.Str, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("path %q does not resolve to an object", path.Str)
		}
		current, ok = obj[key]
		if !ok {
			return nil, fmt.Errorf("field %q not found", key)
		}
	}

	var rendered string
	switch v := current.(type) {
	case string:
		rendered = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("rendering extracted value: %w", err)
		}
		rendered = string(raw)
	}

	return []graph.NamedValue{
		{Name: "value", Value: graph.StringValue(rendered)},
	}, nil
}

// builtinCORSHeaders builds a CORS header list for an allowed origin.
// Input: "origin" (string). Output: "headers" (string-list of "Name: value").
func builtinCORSHeaders(inputs []graph.NamedValue) ([]graph.NamedValue, error) {
	origin, err := findInput(inputs, "origin")
	if err != nil {
		return nil, err
	}
	if origin.Type != graph.TypeString {
		return nil, fmt.Errorf("cors-headers expects a string origin")
	}

	headers := []string{
		"Access-Control-Allow-Origin: " + origin.Str,
		"Access-Control-Allow-Methods: GET, POST, PUT, DELETE, OPTIONS",
		"Access-Control-Allow-Headers: Content-Type, Authorization",
		"Access-Control-Max-Age: 86400",
	}
	return []graph.NamedValue{
		{Name: "headers", Value: graph.StringListValue(headers)},
	}, nil
}

// ConstantNode builds a builtin node whose outputs are pre-populated; the
// engine short-circuits it as completed without invoking anything.
func ConstantNode(id, name string, outputs []graph.NamedValue) *graph.Node {
	n := &graph.Node{
		ID:          id,
		ComponentID: "builtin.const",
		Name:        name,
		Kind:        graph.KindBuiltin,
		State:       graph.StateIdle,
	}
	for _, out := range outputs {
		n.Outputs = append(n.Outputs, graph.Port{Name: out.Name, Type: out.Value.Type, Value: out.Value})
	}
	return n
}
