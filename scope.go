package lessweb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"slices"

	"go.uber.org/zap"
)

// RequestScope is the per-request component cache. It is owned by a single
// request and must not be shared between goroutines.
type RequestScope struct {
	c            *Container
	req          *http.Request
	instances    map[reflect.Type]reflect.Value
	constructing map[reflect.Type]bool
	chain        []reflect.Type
	built        []reflect.Value
}

// NewScope opens an empty request scope. req is the value injected for
// *http.Request dependencies and may be nil.
func (c *Container) NewScope(req *http.Request) *RequestScope {
	return &RequestScope{
		c:            c,
		req:          req,
		instances:    make(map[reflect.Type]reflect.Value),
		constructing: make(map[reflect.Type]bool),
	}
}

// Request returns the request the scope was opened for.
func (s *RequestScope) Request() *http.Request { return s.req }

// Resolve returns the instance of t, constructing request and factory
// components and their dependencies on first use.
func (s *RequestScope) Resolve(ctx context.Context, t reflect.Type) (any, error) {
	v, err := s.resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// Resolve returns the instance of T from s.
func Resolve[T any](ctx context.Context, s *RequestScope) (T, error) {
	var zero T
	v, err := s.resolve(ctx, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	out, ok := v.Interface().(T)
	if !ok {
		return zero, nil
	}
	return out, nil
}

func (s *RequestScope) resolve(ctx context.Context, t reflect.Type) (reflect.Value, error) {
	if t == requestType {
		return reflect.ValueOf(s.req), nil
	}
	if err := ctx.Err(); err != nil {
		return reflect.Value{}, &ResolutionError{Kind: Canceled, Type: t.String(), Chain: s.chainNames(t), Err: err}
	}

	d, ok := s.c.lookup(t)
	if !ok {
		return reflect.Value{}, &ResolutionError{Kind: UnregisteredType, Type: t.String(), Chain: s.chainNames(t)}
	}

	if d.scope == ScopeProcess {
		v, ok := s.c.processValue(t)
		if !ok {
			return reflect.Value{}, &ResolutionError{Kind: ConstructionFailed, Type: t.String(), Chain: s.chainNames(t), Err: ErrNotStarted}
		}
		return v, nil
	}

	if v, ok := s.instances[t]; ok {
		return v, nil
	}

	if s.constructing[t] {
		start := slices.Index(s.chain, t)
		return reflect.Value{}, cycleError(s.chain[start:])
	}

	s.constructing[t] = true
	s.chain = append(s.chain, t)
	defer func() {
		delete(s.constructing, t)
		s.chain = s.chain[:len(s.chain)-1]
	}()

	args := make([]reflect.Value, len(d.deps))
	for i, dep := range d.deps {
		v, err := s.resolve(ctx, dep)
		if err != nil {
			return reflect.Value{}, err
		}
		args[i] = v
	}

	v, err := d.construct(ctx, args)
	if err != nil {
		return reflect.Value{}, &ResolutionError{Kind: ConstructionFailed, Type: t.String(), Chain: s.chainNames(nil), Err: err}
	}
	s.c.logger.Debug("autowire", zap.Stringer("type", t), zap.Stringer("scope", d.scope))

	if in, ok := asInterface[Initializer](v); ok {
		if err := in.Init(ctx); err != nil {
			return reflect.Value{}, &ResolutionError{Kind: ConstructionFailed, Type: t.String(), Chain: s.chainNames(nil), Err: fmt.Errorf("init: %w", err)}
		}
	}

	s.instances[t] = v
	s.built = append(s.built, v)
	return v, nil
}

func (s *RequestScope) chainNames(last reflect.Type) []string {
	names := make([]string, 0, len(s.chain)+1)
	for _, t := range s.chain {
		names = append(names, t.String())
	}
	if last != nil {
		names = append(names, last.String())
	}
	return names
}

// Close closes every instance built by the scope that implements io.Closer,
// in reverse construction order, and joins their errors.
func (s *RequestScope) Close() error {
	var errs []error
	for i := len(s.built) - 1; i >= 0; i-- {
		if c, ok := asInterface[io.Closer](s.built[i]); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	s.built = nil
	s.instances = make(map[reflect.Type]reflect.Value)
	return errors.Join(errs...)
}
