package lessweb

import (
	"net/http"
	"reflect"
)

var requestType = reflect.TypeFor[*http.Request]()

// Classification is how a parameter is bound at dispatch.
type Classification int

// Parameter classifications.
const (
	Body Classification = iota + 1
	PathOrQuery
	Context
)

func (c Classification) String() string {
	switch c {
	case Body:
		return "body"
	case PathOrQuery:
		return "path-or-query"
	case Context:
		return "context"
	default:
		return "unknown"
	}
}

// ParameterDescriptor is the immutable, classified form of a Param.
type ParameterDescriptor struct {
	name      string
	typ       *Type
	component reflect.Type
	class     Classification
	def       func() any
}

// Name returns the parameter name.
func (d ParameterDescriptor) Name() string { return d.name }

// Type returns the declared type of Body and PathOrQuery parameters.
func (d ParameterDescriptor) Type() *Type { return d.typ }

// Component returns the component type of Context parameters.
func (d ParameterDescriptor) Component() reflect.Type { return d.component }

// Classification returns how the parameter is bound.
func (d ParameterDescriptor) Classification() Classification { return d.class }

// HasDefault reports whether a default provider was declared.
func (d ParameterDescriptor) HasDefault() bool { return d.def != nil }

// DefaultValue calls the default provider, returning nil if there is none.
func (d ParameterDescriptor) DefaultValue() any {
	if d.def == nil {
		return nil
	}
	return d.def()
}

// IsRequest reports whether the parameter receives the current request.
func (d ParameterDescriptor) IsRequest() bool { return d.component == requestType }

// Required reports whether binding fails when no raw value is present.
func (d ParameterDescriptor) Required() bool {
	switch d.class {
	case Body:
		return !d.typ.IsOptional()
	case PathOrQuery:
		return d.def == nil && !d.typ.IsOptional()
	default:
		return false
	}
}

// TypeName returns the declared type or component type name.
func (d ParameterDescriptor) TypeName() string {
	if d.typ != nil {
		return d.typ.Name()
	}
	if d.component != nil {
		return d.component.String()
	}
	return ""
}

// Introspect classifies the declared parameters of h. Positional params bind
// the body, named params bind path captures or query values, and either-style
// params are resolved as components, the current request excepted.
func Introspect(h Handler) ([]ParameterDescriptor, error) {
	fail := func(param, reason string) error {
		return &SignatureError{Handler: h.Name, Param: param, Reason: reason}
	}

	if h.Name == "" {
		return nil, fail("", "handler name is required")
	}
	if h.Func == nil {
		return nil, fail("", "handler func is nil")
	}

	out := make([]ParameterDescriptor, 0, len(h.Params))
	seen := make(map[string]bool, len(h.Params))
	for _, p := range h.Params {
		if p.Name == "" {
			return nil, fail("", "parameter name is required")
		}
		if seen[p.Name] {
			return nil, fail(p.Name, "duplicate parameter name")
		}
		seen[p.Name] = true

		d := ParameterDescriptor{name: p.Name, typ: p.Type, component: p.Component, def: p.Default}

		switch p.Passing {
		case PassPositional:
			switch {
			case p.Component == requestType:
				return nil, fail(p.Name, "the current request must be declared either-style")
			case p.Component != nil:
				return nil, fail(p.Name, "positional parameter cannot inject a component")
			case p.Type == nil || !p.Type.IsBody():
				return nil, fail(p.Name, "positional parameter must be a record or a list of records")
			case p.Default != nil:
				return nil, fail(p.Name, "positional parameter cannot declare a default")
			}
			d.class = Body
		case PassNamed:
			switch {
			case p.Component == requestType:
				return nil, fail(p.Name, "the current request must be declared either-style")
			case p.Component != nil:
				return nil, fail(p.Name, "named parameter cannot inject a component")
			case p.Type == nil:
				return nil, fail(p.Name, "named parameter requires a type")
			case p.Type.IsBody():
				return nil, fail(p.Name, "named parameter cannot bind a record")
			}
			d.class = PathOrQuery
		case PassEither:
			switch {
			case p.Type != nil:
				return nil, fail(p.Name, "injected parameter cannot declare a coercion type")
			case p.Component == nil:
				return nil, fail(p.Name, "injected parameter requires a component type")
			case p.Default != nil:
				return nil, fail(p.Name, "injected parameter cannot declare a default")
			}
			d.class = Context
		default:
			return nil, fail(p.Name, "unknown passing style")
		}

		out = append(out, d)
	}
	return out, nil
}
