// Package graph defines the dataflow graph domain model: typed port values,
// nodes, connections, and topological execution ordering.
package graph

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ValueType identifies the wire type of a port value. The component wire
// format has no generic polymorphic containers, so lists exist only as the
// three specialized homogeneous variants.
type ValueType string

const (
	TypeU32        ValueType = "u32"
	TypeI32        ValueType = "i32"
	TypeF32        ValueType = "f32"
	TypeString     ValueType = "string"
	TypeBool       ValueType = "bool"
	TypeBytes      ValueType = "bytes"
	TypeStringList ValueType = "string-list"
	TypeU32List    ValueType = "u32-list"
	TypeF32List    ValueType = "f32-list"
)

// UnrepresentablePlaceholder is the degraded rendering for values the wire
// format cannot carry (heterogeneous lists, nested records).
const UnrepresentablePlaceholder = "<unrepresentable>"

// Value is a typed port value. Exactly the field matching Type is
// meaningful; the zero Value has empty Type and represents "no value".
type Value struct {
	Type    ValueType `json:"type"`
	U32     uint32    `json:"-"`
	I32     int32     `json:"-"`
	F32     float32   `json:"-"`
	Str     string    `json:"-"`
	Bool    bool      `json:"-"`
	Bytes   []byte    `json:"-"`
	StrList []string  `json:"-"`
	U32List []uint32  `json:"-"`
	F32List []float32 `json:"-"`
}

// IsZero reports whether the value slot is empty.
func (v Value) IsZero() bool {
	return v.Type == ""
}

// U32Value constructs an unsigned 32-bit integer value.
func U32Value(n uint32) Value { return Value{Type: TypeU32, U32: n} }

// I32Value constructs a signed 32-bit integer value.
func I32Value(n int32) Value { return Value{Type: TypeI32, I32: n} }

// F32Value constructs a 32-bit float value.
func F32Value(f float32) Value { return Value{Type: TypeF32, F32: f} }

// StringValue constructs a UTF-8 string value.
func StringValue(s string) Value { return Value{Type: TypeString, Str: s} }

// BoolValue constructs a boolean value.
func BoolValue(b bool) Value { return Value{Type: TypeBool, Bool: b} }

// BytesValue constructs a byte-string value.
func BytesValue(b []byte) Value { return Value{Type: TypeBytes, Bytes: b} }

// StringListValue constructs a homogeneous string-list value.
func StringListValue(ss []string) Value { return Value{Type: TypeStringList, StrList: ss} }

// U32ListValue constructs a homogeneous uint-list value.
func U32ListValue(ns []uint32) Value { return Value{Type: TypeU32List, U32List: ns} }

// F32ListValue constructs a homogeneous float-list value.
func F32ListValue(fs []float32) Value { return Value{Type: TypeF32List, F32List: fs} }

// wireValue is the JSON envelope used on the component boundary.
type wireValue struct {
	Type  ValueType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"type": ..., "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var inner interface{}
	switch v.Type {
	case TypeU32:
		inner = v.U32
	case TypeI32:
		inner = v.I32
	case TypeF32:
		inner = v.F32
	case TypeString:
		inner = v.Str
	case TypeBool:
		inner = v.Bool
	case TypeBytes:
		inner = base64.StdEncoding.EncodeToString(v.Bytes)
	case TypeStringList:
		inner = v.StrList
	case TypeU32List:
		inner = v.U32List
	case TypeF32List:
		inner = v.F32List
	case "":
		return []byte("null"), nil
	default:
		inner = UnrepresentablePlaceholder
	}

	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.Type, Value: raw})
}

// UnmarshalJSON decodes the {"type": ..., "value": ...} envelope.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}

	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Value{Type: w.Type}
	var err error
	switch w.Type {
	case TypeU32:
		err = json.Unmarshal(w.Value, &out.U32)
	case TypeI32:
		err = json.Unmarshal(w.Value, &out.I32)
	case TypeF32:
		err = json.Unmarshal(w.Value, &out.F32)
	case TypeString:
		err = json.Unmarshal(w.Value, &out.Str)
	case TypeBool:
		err = json.Unmarshal(w.Value, &out.Bool)
	case TypeBytes:
		var enc string
		if err = json.Unmarshal(w.Value, &enc); err == nil {
			out.Bytes, err = base64.StdEncoding.DecodeString(enc)
		}
	case TypeStringList:
		err = json.Unmarshal(w.Value, &out.StrList)
	case TypeU32List:
		err = json.Unmarshal(w.Value, &out.U32List)
	case TypeF32List:
		err = json.Unmarshal(w.Value, &out.F32List)
	default:
		// Unknown wire types degrade to the placeholder string rather
		// than failing the whole message.
		out = StringValue(UnrepresentablePlaceholder)
	}
	if err != nil {
		return fmt.Errorf("decoding %s value: %w", w.Type, err)
	}

	*v = out
	return nil
}

// String renders the value for logs and the CLI.
func (v Value) String() string {
	switch v.Type {
	case TypeU32:
		return fmt.Sprintf("%d", v.U32)
	case TypeI32:
		return fmt.Sprintf("%d", v.I32)
	case TypeF32:
		return fmt.Sprintf("%g", v.F32)
	case TypeString:
		return v.Str
	case TypeBool:
		return fmt.Sprintf("%t", v.Bool)
	case TypeBytes:
		return fmt.Sprintf("bytes(%d)", len(v.Bytes))
	case TypeStringList:
		return fmt.Sprintf("%v", v.StrList)
	case TypeU32List:
		return fmt.Sprintf("%v", v.U32List)
	case TypeF32List:
		return fmt.Sprintf("%v", v.F32List)
	case "":
		return "<empty>"
	default:
		return UnrepresentablePlaceholder
	}
}

// NamedValue pairs a port name with its typed value; it is the element of
// the ordered input and output lists exchanged with components.
type NamedValue struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}
