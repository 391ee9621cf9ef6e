package lessweb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Scope is the lifetime of a registered component.
type Scope int

// Component scopes.
const (
	// ScopeProcess components are built once at Start and live until Stop.
	ScopeProcess Scope = iota + 1
	// ScopeRequest components are built at most once per request.
	ScopeRequest
	// ScopeFactory components are request-scoped values produced by a
	// registered factory function.
	ScopeFactory
)

func (s Scope) String() string {
	switch s {
	case ScopeProcess:
		return "process"
	case ScopeRequest:
		return "request"
	case ScopeFactory:
		return "factory"
	default:
		return "unknown"
	}
}

// Starter is implemented by process components that need bring-up work
// after construction.
type Starter interface {
	OnStart(ctx context.Context) error
}

// Stopper is implemented by process components that release resources at
// shutdown.
type Stopper interface {
	OnStop(ctx context.Context) error
}

// Initializer is implemented by request and factory components that need
// work after construction.
type Initializer interface {
	Init(ctx context.Context) error
}

// Next continues a middleware chain.
type Next func(ctx context.Context) (any, error)

// Middleware is a request-scoped component wrapping every dispatch. Chains
// run in registration order, the first registered outermost.
type Middleware interface {
	OnRequest(ctx context.Context, r *http.Request, next Next) (any, error)
}

var (
	contextType    = reflect.TypeFor[context.Context]()
	errorType      = reflect.TypeFor[error]()
	middlewareType = reflect.TypeFor[Middleware]()
)

// ComponentDescriptor is the registration record of one component type.
type ComponentDescriptor struct {
	typ     reflect.Type
	scope   Scope
	deps    []reflect.Type
	ctor    reflect.Value
	withCtx bool
	withErr bool
	value   reflect.Value
}

// Type returns the component type.
func (d *ComponentDescriptor) Type() reflect.Type { return d.typ }

// Scope returns the component scope.
func (d *ComponentDescriptor) Scope() Scope { return d.scope }

// Dependencies returns the declared constructor dependency types.
func (d *ComponentDescriptor) Dependencies() []reflect.Type { return slices.Clone(d.deps) }

func (d *ComponentDescriptor) construct(ctx context.Context, deps []reflect.Value) (reflect.Value, error) {
	if d.value.IsValid() {
		return d.value, nil
	}
	in := make([]reflect.Value, 0, len(deps)+1)
	if d.withCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	in = append(in, deps...)
	out := d.ctor.Call(in)
	if d.withErr && !out[1].IsNil() {
		return reflect.Value{}, out[1].Interface().(error)
	}
	return out[0], nil
}

// Container registers components and resolves them by type. Registration
// happens before Start; afterwards the registry and the process cache are
// read-only.
type Container struct {
	mu          sync.Mutex
	descriptors map[reflect.Type]*ComponentDescriptor
	order       []*ComponentDescriptor
	middleware  []reflect.Type
	process     map[reflect.Type]reflect.Value
	started     []*ComponentDescriptor
	frozen      atomic.Bool
	logger      *zap.Logger
}

// ContainerOption configures a Container.
type ContainerOption func(*Container)

// WithContainerLogger sets the logger used for construction and lifecycle
// events.
func WithContainerLogger(l *zap.Logger) ContainerOption {
	return func(c *Container) {
		c.logger = l
	}
}

// NewContainer creates an empty Container.
func NewContainer(opts ...ContainerOption) *Container {
	c := &Container{
		descriptors: make(map[reflect.Type]*ComponentDescriptor),
		process:     make(map[reflect.Type]reflect.Value),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a component built by ctor. A constructor is a function
// returning T or (T, error), optionally taking a leading context.Context;
// its remaining parameter types are the component's dependencies.
func (c *Container) Register(scope Scope, ctor any) error {
	d, err := describe(scope, ctor)
	if err != nil {
		return err
	}
	return c.add(d)
}

// RegisterModule registers a process-scope component.
func (c *Container) RegisterModule(ctor any) error { return c.Register(ScopeProcess, ctor) }

// RegisterService registers a request-scope component.
func (c *Container) RegisterService(ctor any) error { return c.Register(ScopeRequest, ctor) }

// RegisterBean registers a factory-scope component.
func (c *Container) RegisterBean(factory any) error { return c.Register(ScopeFactory, factory) }

// RegisterMiddleware registers a request-scope component implementing
// Middleware and appends it to the dispatch chain.
func (c *Container) RegisterMiddleware(ctor any) error {
	d, err := describe(ScopeRequest, ctor)
	if err != nil {
		return err
	}
	if !d.typ.Implements(middlewareType) {
		return &ResolutionError{
			Kind: InvalidRegistration,
			Type: d.typ.String(),
			Err:  errors.New("type does not implement Middleware"),
		}
	}
	if err := c.add(d); err != nil {
		return err
	}
	c.mu.Lock()
	c.middleware = append(c.middleware, d.typ)
	c.mu.Unlock()
	return nil
}

// Supply registers an already-built process-scope value of type T.
func Supply[T any](c *Container, v T) error {
	t := reflect.TypeFor[T]()
	return c.add(&ComponentDescriptor{typ: t, scope: ScopeProcess, value: reflect.ValueOf(&v).Elem()})
}

func describe(scope Scope, ctor any) (*ComponentDescriptor, error) {
	fv := reflect.ValueOf(ctor)
	invalid := func(name string, reason string) error {
		return &ResolutionError{Kind: InvalidRegistration, Type: name, Err: errors.New(reason)}
	}
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, invalid(fmt.Sprintf("%T", ctor), "constructor must be a non-nil func")
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return nil, invalid(ft.String(), "constructor must not be variadic")
	}

	d := &ComponentDescriptor{scope: scope, ctor: fv}
	switch ft.NumOut() {
	case 1:
	case 2:
		if ft.Out(1) != errorType {
			return nil, invalid(ft.String(), "second result must be error")
		}
		d.withErr = true
	default:
		return nil, invalid(ft.String(), "constructor must return T or (T, error)")
	}
	d.typ = ft.Out(0)
	if d.typ == errorType {
		return nil, invalid(ft.String(), "constructor must not return only an error")
	}

	for i := range ft.NumIn() {
		in := ft.In(i)
		if in == contextType {
			if i != 0 {
				return nil, invalid(d.typ.String(), "context.Context must be the first parameter")
			}
			d.withCtx = true
			continue
		}
		d.deps = append(d.deps, in)
	}
	return d, nil
}

func (c *Container) add(d *ComponentDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen.Load() {
		return fmt.Errorf("lessweb: register %s: %w", d.typ, ErrFrozen)
	}
	if d.typ == requestType {
		return &ResolutionError{Kind: InvalidRegistration, Type: d.typ.String(), Err: errors.New("the current request is supplied per call")}
	}
	if _, ok := c.descriptors[d.typ]; ok {
		return &ResolutionError{Kind: InvalidRegistration, Type: d.typ.String(), Err: errors.New("already registered")}
	}
	c.descriptors[d.typ] = d
	c.order = append(c.order, d)
	return nil
}

// Descriptor returns the registration of t.
func (c *Container) Descriptor(t reflect.Type) (*ComponentDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.descriptors[t]
	return d, ok
}

// Registered reports whether t can be resolved: it is registered or it is
// the current request type.
func (c *Container) Registered(t reflect.Type) bool {
	if t == requestType {
		return true
	}
	_, ok := c.Descriptor(t)
	return ok
}

// Middleware returns the middleware component types in registration order.
func (c *Container) Middleware() []reflect.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.middleware)
}

// Started reports whether Start has completed.
func (c *Container) Started() bool { return c.frozen.Load() }

// Validate checks the static dependency graph: cycles first, then the
// layering rule, then unregistered dependencies.
func (c *Container) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validate()
}

func (c *Container) validate() error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[reflect.Type]int, len(c.descriptors))
	var stack []reflect.Type

	var visit func(t reflect.Type) error
	visit = func(t reflect.Type) error {
		color[t] = gray
		stack = append(stack, t)
		for _, dep := range c.descriptors[t].deps {
			if _, ok := c.descriptors[dep]; !ok {
				continue
			}
			switch color[dep] {
			case gray:
				return cycleError(stack[slices.Index(stack, dep):])
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[t] = black
		return nil
	}

	for _, d := range c.order {
		if color[d.typ] == white {
			if err := visit(d.typ); err != nil {
				return err
			}
		}
	}

	for _, d := range c.order {
		if d.scope != ScopeProcess {
			continue
		}
		for _, dep := range d.deps {
			dd, ok := c.descriptors[dep]
			if dep == requestType || (ok && dd.scope != ScopeProcess) {
				return &ResolutionError{
					Kind:  LayeringViolation,
					Type:  d.typ.String(),
					Chain: []string{d.typ.String(), dep.String()},
					Err:   fmt.Errorf("process component depends on %s", scopeOf(dd, dep)),
				}
			}
		}
	}

	for _, d := range c.order {
		for _, dep := range d.deps {
			if dep == requestType {
				continue
			}
			if _, ok := c.descriptors[dep]; !ok {
				return &ResolutionError{
					Kind:  UnregisteredType,
					Type:  dep.String(),
					Chain: []string{d.typ.String(), dep.String()},
				}
			}
		}
	}
	return nil
}

func scopeOf(d *ComponentDescriptor, t reflect.Type) string {
	if t == requestType {
		return "the current request"
	}
	return d.scope.String() + " component " + t.String()
}

// cycleError reports the cycle rotated to start at its lexicographically
// smallest type name, closed by repeating that type.
func cycleError(cycle []reflect.Type) error {
	names := make([]string, len(cycle))
	start := 0
	for i, t := range cycle {
		names[i] = t.String()
		if names[i] < names[start] {
			start = i
		}
	}
	chain := make([]string, 0, len(names)+1)
	chain = append(chain, names[start:]...)
	chain = append(chain, names[:start]...)
	chain = append(chain, chain[0])
	return &ResolutionError{Kind: CycleDetected, Type: chain[0], Chain: chain}
}

// Start validates the graph, constructs every process component in
// dependency order, runs OnStart after each, and freezes the container.
// On failure, components already started are stopped.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen.Load() {
		return fmt.Errorf("lessweb: start: %w", ErrFrozen)
	}
	if err := c.validate(); err != nil {
		return err
	}

	for _, d := range c.order {
		if d.scope != ScopeProcess {
			continue
		}
		if err := c.startProcess(ctx, d); err != nil {
			if stopErr := c.stopStarted(context.WithoutCancel(ctx)); stopErr != nil {
				c.logger.Error("rollback after failed start", zap.Error(stopErr))
			}
			// A later Start rebuilds everything, supplied values included.
			clear(c.process)
			return err
		}
	}

	c.frozen.Store(true)
	return nil
}

func (c *Container) startProcess(ctx context.Context, d *ComponentDescriptor) error {
	if _, ok := c.process[d.typ]; ok {
		return nil
	}

	args := make([]reflect.Value, len(d.deps))
	for i, dep := range d.deps {
		if err := c.startProcess(ctx, c.descriptors[dep]); err != nil {
			return err
		}
		args[i] = c.process[dep]
	}

	if err := ctx.Err(); err != nil {
		return &ResolutionError{Kind: Canceled, Type: d.typ.String(), Err: err}
	}

	v, err := d.construct(ctx, args)
	if err != nil {
		return &ResolutionError{Kind: ConstructionFailed, Type: d.typ.String(), Err: err}
	}
	c.logger.Debug("autowire", zap.Stringer("type", d.typ), zap.Stringer("scope", d.scope))

	c.process[d.typ] = v

	if s, ok := asInterface[Starter](v); ok {
		if err := s.OnStart(ctx); err != nil {
			return &ResolutionError{Kind: ConstructionFailed, Type: d.typ.String(), Err: fmt.Errorf("on start: %w", err)}
		}
		c.logger.Info("component started", zap.Stringer("type", d.typ))
	}
	c.started = append(c.started, d)
	return nil
}

// Stop runs OnStop on process components in reverse start order and joins
// their errors. Stop is idempotent.
func (c *Container) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopStarted(ctx)
}

func (c *Container) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(c.started) - 1; i >= 0; i-- {
		d := c.started[i]
		s, ok := asInterface[Stopper](c.process[d.typ])
		if !ok {
			continue
		}
		if err := s.OnStop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", d.typ, err))
			continue
		}
		c.logger.Info("component stopped", zap.Stringer("type", d.typ))
	}
	c.started = nil
	return errors.Join(errs...)
}

// processValue returns the frozen process instance of t.
func (c *Container) processValue(t reflect.Type) (reflect.Value, bool) {
	if !c.frozen.Load() {
		return reflect.Value{}, false
	}
	v, ok := c.process[t]
	return v, ok
}

// lookup reads a descriptor without locking once the container is frozen.
func (c *Container) lookup(t reflect.Type) (*ComponentDescriptor, bool) {
	if c.frozen.Load() {
		d, ok := c.descriptors[t]
		return d, ok
	}
	return c.Descriptor(t)
}

func asInterface[I any](v reflect.Value) (I, bool) {
	var zero I
	if !v.IsValid() || !v.CanInterface() {
		return zero, false
	}
	//exhaustive:ignore
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if v.IsNil() {
			return zero, false
		}
	}
	i, ok := v.Interface().(I)
	return i, ok
}
