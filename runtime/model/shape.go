package model

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Shape describes the result a declared method expects from the backend. The
// schema is embedded in the request so the backend knows what to produce and
// New allocates the value the adapter decodes the response into.
type Shape struct {
	// Name identifies the result type in prompts and logs (e.g. "Forecast").
	Name string
	// Schema is the JSON schema of the result.
	Schema json.RawMessage
	// New returns a pointer to a fresh zero value of the result type.
	New func() any
}

// ShapeOf derives the Shape of T. The JSON schema is reflected from the Go
// type using its json struct tags.
func ShapeOf[T any]() *Shape {
	var zero T
	typ := reflect.TypeOf(&zero).Elem()
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
		Anonymous:                 true,
	}
	schema, err := json.Marshal(r.ReflectFromType(typ))
	if err != nil {
		schema = nil
	}
	name := typ.Name()
	if name == "" {
		name = typ.String()
	}
	return &Shape{
		Name:   name,
		Schema: schema,
		New:    func() any { return new(T) },
	}
}

// TextShape is the Shape of a plain text result.
func TextShape() *Shape {
	return &Shape{
		Name:   "string",
		Schema: json.RawMessage(`{"type":"string"}`),
		New:    func() any { return new(string) },
	}
}

// Resolve reports a ConfigError when the shape cannot be used to decode a
// response.
func (s *Shape) Resolve(method string) error {
	if s == nil || s.New == nil {
		return &ConfigError{Method: method, Reason: "unresolvable result shape"}
	}
	return nil
}

// Decode unmarshals a JSON document into a new value of the shape. Text
// shapes accept bare text that is not valid JSON.
func (s *Shape) Decode(data []byte) (any, error) {
	v := s.New()
	if sp, ok := v.(*string); ok && !json.Valid(data) {
		*sp = string(data)
		return sp, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Name, err)
	}
	return v, nil
}

// Text extracts the string carried by a text result.
func Text(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case *string:
		if t == nil {
			return "", nil
		}
		return *t, nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("model: result of type %T is not text: %w", v, err)
		}
		return string(b), nil
	}
}
