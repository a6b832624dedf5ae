// Package payload converts event payloads into outbound request bodies.
//
// A payload is modelled as a tagged variant: a Scalar, a List or a Mapping.
// Arbitrary Go values are normalized with FromAny before formatting.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is one node of a payload tree. It is implemented by Scalar, List
// and Mapping only.
type Value interface {
	isValue()
}

// Scalar holds a leaf: string, bool, nil, json.Number or a Go number.
type Scalar struct {
	V any
}

// List is an ordered sequence of values.
type List []Value

// Mapping is a string-keyed set of values.
type Mapping map[string]Value

func (Scalar) isValue()  {}
func (List) isValue()    {}
func (Mapping) isValue() {}

// FromAny normalizes v into a Value. Maps, slices and JSON documents are
// walked recursively; other composite types are round-tripped through JSON.
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case Value:
		return t, nil
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return Scalar{V: t}, nil
	case map[string]any:
		m := make(Mapping, len(t))
		for k, item := range t {
			val, err := FromAny(item)
			if err != nil {
				return nil, err
			}
			m[k] = val
		}
		return m, nil
	case map[string]string:
		m := make(Mapping, len(t))
		for k, item := range t {
			m[k] = Scalar{V: item}
		}
		return m, nil
	case []any:
		l := make(List, 0, len(t))
		for _, item := range t {
			val, err := FromAny(item)
			if err != nil {
				return nil, err
			}
			l = append(l, val)
		}
		return l, nil
	case []string:
		l := make(List, 0, len(t))
		for _, item := range t {
			l = append(l, Scalar{V: item})
		}
		return l, nil
	case json.RawMessage:
		return decodeJSON(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("payload: unsupported value %T: %w", v, err)
		}
		return decodeJSON(raw)
	}
}

func decodeJSON(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("payload: decode json: %w", err)
	}
	return FromAny(doc)
}

// Interface converts v back into plain Go values suitable for encoding/json.
func Interface(v Value) any {
	switch t := v.(type) {
	case Scalar:
		return t.V
	case List:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Interface(item)
		}
		return out
	case Mapping:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Interface(item)
		}
		return out
	default:
		return nil
	}
}
