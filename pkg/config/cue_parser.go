package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"

	"github.com/nodeweave/nodeweave/pkg/capability"
	"github.com/nodeweave/nodeweave/pkg/graph"
)

// CUEParser parses graph definition documents written in CUE.
type CUEParser struct {
	ctx       *cue.Context
	validator *validator.Validate
}

// NewCUEParser creates a parser with a fresh CUE context.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx:       cuecontext.New(),
		validator: validator.New(),
	}
}

// Parse loads and unifies the given definition files, then builds the graph
// and grants they declare. Parse problems are collected into the result's
// Errors rather than aborting on the first one.
func (p *CUEParser) Parse(sources ...string) (*ParsedGraph, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	parsed := &ParsedGraph{
		SourceFiles: append([]string(nil), sources...),
		ParsedAt:    time.Now(),
	}

	var unified cue.Value
	for _, source := range sources {
		content, err := os.ReadFile(source)
		if err != nil {
			parsed.Errors = append(parsed.Errors, ValidationError{
				File:     source,
				Message:  fmt.Sprintf("failed to read file: %v", err),
				Severity: "error",
			})
			continue
		}

		val := p.ctx.CompileString(string(content), cue.Filename(filepath.Clean(source)))
		if err := val.Err(); err != nil {
			parsed.Errors = append(parsed.Errors, convertCUEErrors(err)...)
			continue
		}

		if unified.Exists() {
			unified = unified.Unify(val)
		} else {
			unified = val
		}
	}
	if len(parsed.Errors) > 0 {
		return parsed, nil
	}
	if err := unified.Err(); err != nil {
		parsed.Errors = append(parsed.Errors, convertCUEErrors(err)...)
		return parsed, nil
	}

	p.extract(unified, parsed)
	return parsed, nil
}

// ParseSource parses a single in-memory CUE document.
func (p *CUEParser) ParseSource(filename, content string) (*ParsedGraph, error) {
	parsed := &ParsedGraph{
		SourceFiles: []string{filename},
		ParsedAt:    time.Now(),
	}

	val := p.ctx.CompileString(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		parsed.Errors = append(parsed.Errors, convertCUEErrors(err)...)
		return parsed, nil
	}

	p.extract(val, parsed)
	return parsed, nil
}

// extract decodes the unified CUE value into a GraphDefinition, validates it,
// and builds the runtime graph and grants.
func (p *CUEParser) extract(val cue.Value, parsed *ParsedGraph) {
	var def GraphDefinition
	if err := val.Decode(&def); err != nil {
		parsed.Errors = append(parsed.Errors, convertCUEErrors(err)...)
		return
	}

	if err := p.validator.Struct(def); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok {
			for _, fe := range verrs {
				parsed.Errors = append(parsed.Errors, ValidationError{
					Path:     fe.Namespace(),
					Message:  fmt.Sprintf("failed %q validation", fe.Tag()),
					Severity: "error",
				})
			}
		} else {
			parsed.Errors = append(parsed.Errors, ValidationError{
				Message:  err.Error(),
				Severity: "error",
			})
		}
		return
	}

	g, errs := buildGraph(&def)
	if len(errs) > 0 {
		parsed.Errors = append(parsed.Errors, errs...)
		return
	}
	parsed.Graph = g

	grants, errs := buildGrants(&def)
	if len(errs) > 0 {
		parsed.Errors = append(parsed.Errors, errs...)
		return
	}
	parsed.Grants = grants
}

// buildGraph converts a validated definition into a runtime graph.
func buildGraph(def *GraphDefinition) (*graph.NodeGraph, []ValidationError) {
	var errs []ValidationError
	g := graph.New()

	for id, nd := range def.Graph.Nodes {
		node, err := buildNode(id, nd)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:     "graph.nodes." + id,
				Message:  err.Error(),
				Severity: "error",
			})
			continue
		}
		if err := g.AddNode(node); err != nil {
			errs = append(errs, ValidationError{
				Path:     "graph.nodes." + id,
				Message:  err.Error(),
				Severity: "error",
			})
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	for i, c := range def.Graph.Connections {
		fromNode, fromPort, ok := splitEndpoint(c.From)
		if !ok {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("graph.connections[%d].from", i),
				Message:  fmt.Sprintf("endpoint %q is not in node.port form", c.From),
				Severity: "error",
			})
			continue
		}
		toNode, toPort, ok := splitEndpoint(c.To)
		if !ok {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("graph.connections[%d].to", i),
				Message:  fmt.Sprintf("endpoint %q is not in node.port form", c.To),
				Severity: "error",
			})
			continue
		}
		if err := g.Connect(fromNode, fromPort, toNode, toPort); err != nil {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("graph.connections[%d]", i),
				Message:  err.Error(),
				Severity: "error",
			})
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return g, nil
}

func buildNode(id string, nd NodeDef) (*graph.Node, error) {
	kind := graph.NodeKind(nd.Kind)
	if nd.Kind == "" {
		kind = graph.KindBuiltin
	}

	name := nd.Name
	if name == "" {
		name = id
	}

	node := &graph.Node{
		ID:          id,
		ComponentID: nd.Component,
		Name:        name,
		Kind:        kind,
	}

	for _, pd := range nd.Inputs {
		port, err := buildPort(pd)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", pd.Name, err)
		}
		node.Inputs = append(node.Inputs, port)
	}
	for _, pd := range nd.Outputs {
		port, err := buildPort(pd)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", pd.Name, err)
		}
		node.Outputs = append(node.Outputs, port)
	}

	if nd.Continuous != nil {
		interval := time.Duration(0)
		if nd.Continuous.Interval != "" {
			d, err := time.ParseDuration(nd.Continuous.Interval)
			if err != nil {
				return nil, fmt.Errorf("invalid continuous interval %q: %w", nd.Continuous.Interval, err)
			}
			interval = d
		}
		node.Continuous = &graph.ContinuousConfig{
			Enabled:  nd.Continuous.Enabled,
			Interval: interval,
		}
	}

	return node, nil
}

func buildPort(pd PortDef) (graph.Port, error) {
	port := graph.Port{
		Name:     pd.Name,
		Type:     graph.ValueType(pd.Type),
		Required: pd.Required,
	}
	if pd.Value != nil {
		v, err := literalValue(port.Type, pd.Value)
		if err != nil {
			return graph.Port{}, err
		}
		port.Value = v
	}
	return port, nil
}

// literalValue interprets a decoded literal against the port's declared
// wire type.
func literalValue(t graph.ValueType, raw interface{}) (graph.Value, error) {
	switch t {
	case graph.TypeU32:
		n, ok := asInt64(raw)
		if !ok || n < 0 || n > 1<<32-1 {
			return graph.Value{}, fmt.Errorf("value %v is not a u32", raw)
		}
		return graph.U32Value(uint32(n)), nil
	case graph.TypeI32:
		n, ok := asInt64(raw)
		if !ok || n < -1<<31 || n > 1<<31-1 {
			return graph.Value{}, fmt.Errorf("value %v is not an i32", raw)
		}
		return graph.I32Value(int32(n)), nil
	case graph.TypeF32:
		switch v := raw.(type) {
		case float64:
			return graph.F32Value(float32(v)), nil
		case int:
			return graph.F32Value(float32(v)), nil
		case int64:
			return graph.F32Value(float32(v)), nil
		}
		return graph.Value{}, fmt.Errorf("value %v is not an f32", raw)
	case graph.TypeString:
		s, ok := raw.(string)
		if !ok {
			return graph.Value{}, fmt.Errorf("value %v is not a string", raw)
		}
		return graph.StringValue(s), nil
	case graph.TypeBool:
		b, ok := raw.(bool)
		if !ok {
			return graph.Value{}, fmt.Errorf("value %v is not a bool", raw)
		}
		return graph.BoolValue(b), nil
	case graph.TypeBytes:
		s, ok := raw.(string)
		if !ok {
			return graph.Value{}, fmt.Errorf("bytes literal must be a string")
		}
		return graph.BytesValue([]byte(s)), nil
	case graph.TypeStringList:
		items, ok := raw.([]interface{})
		if !ok {
			return graph.Value{}, fmt.Errorf("value %v is not a string list", raw)
		}
		strs := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return graph.Value{}, fmt.Errorf("list element %v is not a string", item)
			}
			strs = append(strs, s)
		}
		return graph.StringListValue(strs), nil
	case graph.TypeU32List:
		items, ok := raw.([]interface{})
		if !ok {
			return graph.Value{}, fmt.Errorf("value %v is not a u32 list", raw)
		}
		nums := make([]uint32, 0, len(items))
		for _, item := range items {
			n, ok := asInt64(item)
			if !ok || n < 0 || n > 1<<32-1 {
				return graph.Value{}, fmt.Errorf("list element %v is not a u32", item)
			}
			nums = append(nums, uint32(n))
		}
		return graph.U32ListValue(nums), nil
	case graph.TypeF32List:
		items, ok := raw.([]interface{})
		if !ok {
			return graph.Value{}, fmt.Errorf("value %v is not an f32 list", raw)
		}
		floats := make([]float32, 0, len(items))
		for _, item := range items {
			switch v := item.(type) {
			case float64:
				floats = append(floats, float32(v))
			case int:
				floats = append(floats, float32(v))
			case int64:
				floats = append(floats, float32(v))
			default:
				return graph.Value{}, fmt.Errorf("list element %v is not an f32", item)
			}
		}
		return graph.F32ListValue(floats), nil
	default:
		return graph.Value{}, fmt.Errorf("unknown port type %q", t)
	}
}

func asInt64(raw interface{}) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		if v > 1<<63-1 {
			return 0, false
		}
		return int64(v), true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

// buildGrants converts the definition's grant block.
func buildGrants(def *GraphDefinition) ([]*capability.Grant, []ValidationError) {
	var errs []ValidationError
	grants := make([]*capability.Grant, 0, len(def.Grants))

	for nodeID, gd := range def.Grants {
		if _, ok := def.Graph.Nodes[nodeID]; !ok {
			errs = append(errs, ValidationError{
				Path:     "grants." + nodeID,
				Message:  fmt.Sprintf("grant references unknown node %q", nodeID),
				Severity: "error",
			})
			continue
		}
		set, err := gd.toSet()
		if err != nil {
			errs = append(errs, ValidationError{
				Path:     "grants." + nodeID,
				Message:  err.Error(),
				Severity: "error",
			})
			continue
		}
		if err := set.Validate(); err != nil {
			errs = append(errs, ValidationError{
				Path:     "grants." + nodeID,
				Message:  err.Error(),
				Severity: "error",
			})
			continue
		}
		grant := capability.NewGrant(nodeID, set)
		if gd.Scope != "" {
			grant.Scope = gd.Scope
		}
		grants = append(grants, grant)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return grants, nil
}

func splitEndpoint(s string) (node, port string, ok bool) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// convertCUEErrors flattens CUE's error list with positions attached.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Message:  e.Error(),
			Severity: "error",
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error(), Severity: "error"})
	}
	return out
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}
