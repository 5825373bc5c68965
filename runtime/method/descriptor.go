package method

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"slices"

	"github.com/ahammer/shimmer/runtime/model"
)

type (
	// Descriptor is one concrete invocation of a declared method: the method
	// metadata together with the argument values. Descriptors are built by
	// Bind and never modified afterwards. Identity is structural: two
	// descriptors with the same metadata and equal argument values have the
	// same Key.
	Descriptor struct {
		Name                string
		Summary             string
		Description         string
		Parameters          []Parameter
		Result              *model.Shape
		ResponseDescription string
	}

	// Parameter is a declared parameter bound to its argument value.
	Parameter struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Value       any    `json:"value"`
	}

	// ArgumentError reports a call that violates the declared method
	// contract. Argument errors are fatal and never retried.
	ArgumentError struct {
		Method string
		Param  string
		Reason string
	}
)

// Error implements error.
func (e *ArgumentError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("method %q: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("method %q parameter %q: %s", e.Method, e.Param, e.Reason)
}

// Bind binds positional args to the parameters of s. Omitted trailing
// arguments take the parameter default; omitting a required parameter is an
// ArgumentError, as is passing more arguments than declared.
func Bind(s Spec, args ...any) (Descriptor, error) {
	if len(args) > len(s.Params) {
		return Descriptor{}, &ArgumentError{
			Method: s.Name,
			Reason: fmt.Sprintf("got %d arguments, method declares %d parameters", len(args), len(s.Params)),
		}
	}
	params := make([]Parameter, len(s.Params))
	for i, p := range s.Params {
		var v any
		switch {
		case i < len(args):
			v = args[i]
		case p.Default != nil:
			v = p.Default
		case p.Required():
			return Descriptor{}, &ArgumentError{Method: s.Name, Param: p.Name, Reason: "required argument missing"}
		}
		params[i] = Parameter{Name: p.Name, Description: p.Description, Value: v}
	}
	return Descriptor{
		Name:                s.Name,
		Summary:             s.Summary,
		Description:         s.Description,
		Parameters:          params,
		Result:              s.Result,
		ResponseDescription: s.ResponseDescription,
	}, nil
}

// Args returns the bound argument values in declaration order.
func (d Descriptor) Args() []any {
	out := make([]any, len(d.Parameters))
	for i, p := range d.Parameters {
		out[i] = p.Value
	}
	return out
}

// Key returns the canonical serialization of the descriptor. Descriptors
// with equal keys are equal.
func (d Descriptor) Key() string {
	doc, err := json.Marshal(d.canonical())
	if err != nil {
		// Arguments that cannot be encoded fall back to their Go syntax.
		return fmt.Sprintf("%s|%s|%s|%#v|%s", d.Name, d.Summary, d.Description, d.Parameters, d.ResponseDescription)
	}
	return string(doc)
}

// Equal reports whether d and other describe the same invocation.
func (d Descriptor) Equal(other Descriptor) bool {
	return d.Key() == other.Key()
}

// Hash returns a 64-bit hash of Key suitable for de-duplication maps.
func (d Descriptor) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(d.Key()))
	return h.Sum64()
}

// Invocation serializes the descriptor into the method invocation document
// sent to the backend.
func (d Descriptor) Invocation() (string, error) {
	if err := d.Result.Resolve(d.Name); err != nil {
		return "", err
	}
	doc, err := json.Marshal(d.canonical())
	if err != nil {
		return "", &model.ConfigError{Method: d.Name, Reason: fmt.Sprintf("arguments are not serializable: %v", err)}
	}
	return string(doc), nil
}

type (
	canonicalDescriptor struct {
		Method      string          `json:"method"`
		Summary     string          `json:"summary,omitempty"`
		Description string          `json:"description,omitempty"`
		Parameters  []Parameter     `json:"parameters"`
		Result      canonicalResult `json:"result"`
	}

	canonicalResult struct {
		Type        string          `json:"type"`
		Description string          `json:"description,omitempty"`
		Schema      json.RawMessage `json:"schema,omitempty"`
	}
)

func (d Descriptor) canonical() canonicalDescriptor {
	params := slices.Clone(d.Parameters)
	if params == nil {
		params = []Parameter{}
	}
	res := canonicalResult{Description: d.ResponseDescription}
	if d.Result != nil {
		res.Type = d.Result.Name
		if json.Valid(d.Result.Schema) {
			res.Schema = d.Result.Schema
		}
	}
	return canonicalDescriptor{
		Method:      d.Name,
		Summary:     d.Summary,
		Description: d.Description,
		Parameters:  params,
		Result:      res,
	}
}
