// Package types provides shared types for the goalflow orchestrator.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FieldKind discriminates the two value kinds a world-state field may hold.
type FieldKind int

const (
	KindBool FieldKind = iota
	KindNumber
)

func (k FieldKind) String() string {
	if k == KindBool {
		return "bool"
	}
	return "number"
}

// MarshalJSON encodes the kind as "bool" or "number".
func (k FieldKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes "bool" or "number".
func (k *FieldKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "bool":
		*k = KindBool
	case "number":
		*k = KindNumber
	default:
		return fmt.Errorf("unknown field kind %q", s)
	}
	return nil
}

// FieldSpec declares one named field of the world-state schema.
type FieldSpec struct {
	Name string    `json:"name"`
	Kind FieldKind `json:"kind"`
}

// Schema is the closed set of fields a world state may contain.
// It is fixed at catalog load time; states and partials are validated
// against it before they enter the planner or engine.
type Schema struct {
	fields []FieldSpec
	index  map[string]FieldKind
}

// NewSchema builds a schema from field specs. Field names must be unique.
func NewSchema(fields ...FieldSpec) (*Schema, error) {
	index := make(map[string]FieldKind, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("schema field with empty name")
		}
		if _, dup := index[f.Name]; dup {
			return nil, fmt.Errorf("duplicate schema field %q", f.Name)
		}
		index[f.Name] = f.Kind
	}
	return &Schema{fields: append([]FieldSpec(nil), fields...), index: index}, nil
}

// Fields returns the declared fields in declaration order.
func (s *Schema) Fields() []FieldSpec {
	return append([]FieldSpec(nil), s.fields...)
}

// Kind reports the kind of a named field and whether it exists.
func (s *Schema) Kind(name string) (FieldKind, bool) {
	k, ok := s.index[name]
	return k, ok
}

// Check validates that every field in p is declared with a matching kind.
func (s *Schema) Check(p Partial) error {
	for name, v := range p {
		k, ok := s.index[name]
		if !ok {
			return fmt.Errorf("unknown field %q", name)
		}
		if v.Kind() != k {
			return fmt.Errorf("field %q: expected %s, got %s", name, k, v.Kind())
		}
	}
	return nil
}

// Value is a single world-state value: a boolean flag or a numeric score.
type Value struct {
	kind FieldKind
	b    bool
	n    float64
}

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Number returns a numeric value.
func Number(v float64) Value { return Value{kind: KindNumber, n: v} }

// Kind reports whether the value is a flag or a score.
func (v Value) Kind() FieldKind { return v.kind }

// AsBool returns the boolean payload. Zero for numeric values.
func (v Value) AsBool() bool { return v.b }

// AsNumber returns the numeric payload. Zero for boolean values.
func (v Value) AsNumber() float64 { return v.n }

// Equal reports structural equality: same kind, same payload.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.b == o.b && v.n == o.n
}

// Any returns the value as a plain Go value for expression environments
// and JSON-ish payloads.
func (v Value) Any() any {
	if v.kind == KindBool {
		return v.b
	}
	return v.n
}

func (v Value) String() string {
	if v.kind == KindBool {
		return strconv.FormatBool(v.b)
	}
	return strconv.FormatFloat(v.n, 'g', -1, 64)
}

// MarshalJSON encodes booleans as JSON booleans and numbers as JSON numbers.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes a JSON boolean or number.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case bool:
		*v = Bool(t)
	case float64:
		*v = Number(t)
	default:
		return fmt.Errorf("value must be a boolean or a number, got %T", raw)
	}
	return nil
}

// Partial is a partial world state: field name to required or applied value.
// It serves as precondition, effect, goal, and executor state delta.
type Partial map[string]Value

// Clone returns an independent copy of the partial.
func (p Partial) Clone() Partial {
	if p == nil {
		return nil
	}
	c := make(Partial, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// State is an immutable snapshot of the world. Transitions never mutate a
// state in place; With returns a fresh snapshot, so references to past
// states stay valid for the whole run.
type State struct {
	values map[string]Value
}

// NewState builds a state validated against the schema.
func NewState(schema *Schema, values Partial) (State, error) {
	if schema != nil {
		if err := schema.Check(values); err != nil {
			return State{}, fmt.Errorf("invalid state: %w", err)
		}
	}
	return State{values: values.Clone()}, nil
}

// StateOf builds a state without schema validation. Intended for tests and
// for rehydrating stored traces.
func StateOf(values Partial) State {
	return State{values: values.Clone()}
}

// Get returns the value of a field and whether it is set.
func (s State) Get(name string) (Value, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Len returns the number of set fields.
func (s State) Len() int { return len(s.values) }

// With returns a new snapshot with the delta applied on top of s.
func (s State) With(delta Partial) State {
	next := make(map[string]Value, len(s.values)+len(delta))
	for k, v := range s.values {
		next[k] = v
	}
	for k, v := range delta {
		next[k] = v
	}
	return State{values: next}
}

// Satisfies reports whether every field named in p has the identical value
// in s. An empty partial is satisfied by every state.
func (s State) Satisfies(p Partial) bool {
	for name, want := range p {
		got, ok := s.values[name]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

// Values returns a copy of the state's fields.
func (s State) Values() Partial {
	c := make(Partial, len(s.values))
	for k, v := range s.values {
		c[k] = v
	}
	return c
}

// Env returns the state as a plain map for expression evaluation.
func (s State) Env() map[string]any {
	env := make(map[string]any, len(s.values))
	for k, v := range s.values {
		env[k] = v.Any()
	}
	return env
}

// Key returns a canonical identity string for the state. Fields are
// serialized in sorted name order, so two structurally equal states always
// produce the same key regardless of construction order.
func (s State) Key() string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(s.values[name].String())
	}
	return b.String()
}

// MarshalJSON encodes the state as a flat JSON object.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.values)
}

// UnmarshalJSON rehydrates a state from a flat JSON object.
func (s *State) UnmarshalJSON(data []byte) error {
	var values Partial
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	s.values = values
	return nil
}
