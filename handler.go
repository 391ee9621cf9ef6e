package lessweb

import (
	"context"
	"net/http"
	"reflect"
)

// HandlerFunc is the signature every route handler implements. Arguments
// are bound before the call according to the handler's declared Params.
type HandlerFunc func(ctx context.Context, args *Args) (any, error)

// Handler declares a route: its name, endpoint annotation, parameter list,
// and function. Status overrides the default success status and ContentType
// the content type of string results.
type Handler struct {
	Name        string
	Endpoint    Endpoint
	Params      []Param
	Func        HandlerFunc
	Status      int
	ContentType string
}

// Endpoint is the route annotation attached to a handler.
type Endpoint struct {
	Method     string
	Path       string
	Event      string
	Background bool
}

// WildcardMethod matches any HTTP method.
const WildcardMethod = "*"

const eventPrefix = "/__event__/"

// Route annotates a handler with an arbitrary method and path template.
func Route(method, path string) Endpoint { return Endpoint{Method: method, Path: path} }

// Get annotates a GET handler.
func Get(path string) Endpoint { return Route(http.MethodGet, path) }

// Post annotates a POST handler.
func Post(path string) Endpoint { return Route(http.MethodPost, path) }

// Put annotates a PUT handler.
func Put(path string) Endpoint { return Route(http.MethodPut, path) }

// Patch annotates a PATCH handler.
func Patch(path string) Endpoint { return Route(http.MethodPatch, path) }

// Delete annotates a DELETE handler.
func Delete(path string) Endpoint { return Route(http.MethodDelete, path) }

// Any annotates a handler that serves every method on path. Wildcard routes
// are left out of the route manifest.
func Any(path string) Endpoint { return Route(WildcardMethod, path) }

// OnEvent annotates an event subscriber. Subscribers are served at
// POST /__event__/<name>; background subscribers run detached from the
// emitting call.
func OnEvent(name string, background bool) Endpoint {
	return Endpoint{Method: http.MethodPost, Path: eventPrefix + name, Event: name, Background: background}
}

// Passing is the declared passing style of a parameter.
type Passing int

// Passing styles.
const (
	PassPositional Passing = iota + 1
	PassNamed
	PassEither
)

func (p Passing) String() string {
	switch p {
	case PassPositional:
		return "positional"
	case PassNamed:
		return "named"
	case PassEither:
		return "either"
	default:
		return "unknown"
	}
}

// Param is one declared handler parameter. Positional and Named params carry
// a Type; Either params carry a Component type.
type Param struct {
	Name      string
	Passing   Passing
	Type      *Type
	Component reflect.Type
	Default   func() any
}

// ParamOption configures a Param.
type ParamOption func(*Param)

// Default supplies v when a named parameter has no raw value.
func Default(v any) ParamOption {
	return func(p *Param) {
		p.Default = func() any { return v }
	}
}

// DefaultFunc computes the default for a named parameter on every call.
func DefaultFunc(fn func() any) ParamOption {
	return func(p *Param) {
		p.Default = fn
	}
}

func newParam(name string, passing Passing, opts []ParamOption) Param {
	p := Param{Name: name, Passing: passing}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Positional declares a body-bound parameter.
func Positional(name string, t *Type, opts ...ParamOption) Param {
	p := newParam(name, PassPositional, opts)
	p.Type = t
	return p
}

// Named declares a parameter bound from a path capture or, failing that, a
// query value of the same name.
func Named(name string, t *Type, opts ...ParamOption) Param {
	p := newParam(name, PassNamed, opts)
	p.Type = t
	return p
}

// Inject declares a parameter resolved from the container.
func Inject[T any](name string, opts ...ParamOption) Param {
	p := newParam(name, PassEither, opts)
	p.Component = reflect.TypeFor[T]()
	return p
}

// CurrentRequest declares a parameter receiving the inbound *http.Request.
func CurrentRequest(name string) Param {
	return Inject[*http.Request](name)
}

// Args holds the bound arguments of one handler call.
type Args struct {
	values map[string]any
	names  []string
}

func newArgs(n int) *Args {
	return &Args{values: make(map[string]any, n), names: make([]string, 0, n)}
}

func (a *Args) set(name string, v any) {
	if _, ok := a.values[name]; !ok {
		a.names = append(a.names, name)
	}
	a.values[name] = v
}

// Lookup returns the bound value of name.
func (a *Args) Lookup(name string) (any, bool) {
	v, ok := a.values[name]
	return v, ok
}

// Names returns the bound parameter names in binding order.
func (a *Args) Names() []string { return append([]string(nil), a.names...) }

// Len returns the number of bound arguments.
func (a *Args) Len() int { return len(a.names) }

// Arg returns the bound value of name as T, or the zero T if it is absent or
// of another type.
func Arg[T any](a *Args, name string) T {
	v, _ := LookupArg[T](a, name)
	return v
}

// LookupArg returns the bound value of name as T and whether it was bound
// with that type. Optional parameters with no raw value are not bound.
func LookupArg[T any](a *Args, name string) (T, bool) {
	v, ok := a.values[name].(T)
	return v, ok
}
