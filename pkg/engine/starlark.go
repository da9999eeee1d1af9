package engine

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/nodeweave/nodeweave/pkg/graph"
)

// StarlarkNode builds a builtin handler that evaluates a Starlark script as
// a pure expression node. Input port values are exposed as predeclared
// globals; the script's `result` global becomes the node's single "result"
// output. Scripts run without print, filesystem, or network access, so they
// stay pure functions of their inputs.
func StarlarkNode(script string) BuiltinFunc {
	return func(inputs []graph.NamedValue) ([]graph.NamedValue, error) {
		thread := &starlark.Thread{
			Name:  "nodeweave",
			Print: func(_ *starlark.Thread, _ string) {},
		}

		predeclared := make(starlark.StringDict, len(inputs))
		for _, in := range inputs {
			val, err := toStarlarkValue(in.Value)
			if err != nil {
				return nil, fmt.Errorf("converting input %q: %w", in.Name, err)
			}
			predeclared[in.Name] = val
		}

		globals, err := starlark.ExecFile(thread, "node.star", script, predeclared)
		if err != nil {
			return nil, fmt.Errorf("starlark execution failed: %w", err)
		}

		result, ok := globals["result"]
		if !ok {
			return nil, fmt.Errorf("script did not assign a `result` global")
		}
		out, err := fromStarlarkValue(result)
		if err != nil {
			return nil, fmt.Errorf("converting result: %w", err)
		}
		return []graph.NamedValue{{Name: "result", Value: out}}, nil
	}
}

// toStarlarkValue converts a typed port value to its Starlark equivalent.
func toStarlarkValue(v graph.Value) (starlark.Value, error) {
	switch v.Type {
	case graph.TypeU32:
		return starlark.MakeUint64(uint64(v.U32)), nil
	case graph.TypeI32:
		return starlark.MakeInt64(int64(v.I32)), nil
	case graph.TypeF32:
		return starlark.Float(float64(v.F32)), nil
	case graph.TypeString:
		return starlark.String(v.Str), nil
	case graph.TypeBool:
		return starlark.Bool(v.Bool), nil
	case graph.TypeBytes:
		return starlark.Bytes(string(v.Bytes)), nil
	case graph.TypeStringList:
		items := make([]starlark.Value, len(v.StrList))
		for i, s := range v.StrList {
			items[i] = starlark.String(s)
		}
		return starlark.NewList(items), nil
	case graph.TypeU32List:
		items := make([]starlark.Value, len(v.U32List))
		for i, n := range v.U32List {
			items[i] = starlark.MakeUint64(uint64(n))
		}
		return starlark.NewList(items), nil
	case graph.TypeF32List:
		items := make([]starlark.Value, len(v.F32List))
		for i, f := range v.F32List {
			items[i] = starlark.Float(float64(f))
		}
		return starlark.NewList(items), nil
	case "":
		return starlark.None, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", v.Type)
	}
}

// fromStarlarkValue converts a Starlark result back to a typed port value.
// Integers map to i32, floats to f32; homogeneous lists map to the matching
// list variant, anything else degrades to its string rendering.
func fromStarlarkValue(v starlark.Value) (graph.Value, error) {
	switch val := v.(type) {
	case starlark.Bool:
		return graph.BoolValue(bool(val)), nil
	case starlark.Int:
		n, ok := val.Int64()
		if !ok {
			return graph.Value{}, fmt.Errorf("integer result out of range")
		}
		if n < -1<<31 || n > 1<<31-1 {
			return graph.Value{}, fmt.Errorf("integer result %d overflows 32 bits", n)
		}
		return graph.I32Value(int32(n)), nil
	case starlark.Float:
		return graph.F32Value(float32(val)), nil
	case starlark.String:
		return graph.StringValue(string(val)), nil
	case *starlark.List:
		strs := make([]string, 0, val.Len())
		allStrings := true
		for i := 0; i < val.Len(); i++ {
			s, ok := val.Index(i).(starlark.String)
			if !ok {
				allStrings = false
				break
			}
			strs = append(strs, string(s))
		}
		if allStrings {
			return graph.StringListValue(strs), nil
		}
		return graph.StringValue(val.String()), nil
	default:
		return graph.StringValue(v.String()), nil
	}
}
