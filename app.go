package lessweb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// App is the central type that holds routes, components, and middleware.
// It implements http.Handler.
type App struct {
	container *Container
	routes    *RouteTable
	coercer   *Coercer
	dispatch  *Dispatcher
	emitter   *Emitter
	codecs    *codecRegistry

	middleware []HTTPMiddleware
	encoders   []Encoder

	logger       *zap.Logger
	errorHandler ErrorHandler
	tracer       SpanStarter

	unknown         UnknownFieldPolicy
	excludeNone     bool
	excludeUnset    bool
	naming          NamingPolicy
	shutdownTimeout time.Duration

	startMu sync.Mutex
	started atomic.Bool
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger shared by the app, its container and the
// event emitter.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) {
		a.logger = l
	}
}

// ErrorHandler is a custom error response writer.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// WithErrorHandler sets a custom error handler for the app.
func WithErrorHandler(h ErrorHandler) Option {
	return func(a *App) {
		a.errorHandler = h
	}
}

// WithEncoder registers an additional response encoder.
func WithEncoder(enc Encoder) Option {
	return func(a *App) {
		a.encoders = append(a.encoders, enc)
	}
}

// WithUnknownFields sets how record bodies treat fields they do not declare.
func WithUnknownFields(p UnknownFieldPolicy) Option {
	return func(a *App) {
		a.unknown = p
	}
}

// WithExcludeNone drops null-valued object fields from JSON responses.
func WithExcludeNone(v bool) Option {
	return func(a *App) {
		a.excludeNone = v
	}
}

// WithExcludeUnset drops zero-valued object fields from JSON responses.
func WithExcludeUnset(v bool) Option {
	return func(a *App) {
		a.excludeUnset = v
	}
}

// WithNamingPolicy checks every handler name against its route at
// registration.
func WithNamingPolicy(p NamingPolicy) Option {
	return func(a *App) {
		a.naming = p
	}
}

// WithShutdownTimeout bounds graceful shutdown in ListenAndServe.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) {
		a.shutdownTimeout = d
	}
}

// SpanStarter is a tracing hook interface for creating spans per request.
// Implement this with your preferred tracing backend (e.g., OpenTelemetry).
type SpanStarter interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func())
}

// WithTracer sets a tracing hook. One span is started per dispatched handler.
func WithTracer(s SpanStarter) Option {
	return func(a *App) {
		a.tracer = s
	}
}

// New creates a new App with the given options. The app's *Emitter and
// *zap.Logger are available to components as process-scope values.
func New(opts ...Option) *App {
	a := &App{
		logger:          zap.NewNop(),
		shutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.container = NewContainer(WithContainerLogger(a.logger))
	var tableOpts []RouteTableOption
	if a.naming != nil {
		tableOpts = append(tableOpts, WithRouteNaming(a.naming))
	}
	a.routes = NewRouteTable(tableOpts...)
	a.coercer = NewCoercer(a.unknown)
	a.dispatch = NewDispatcher(a.container, a.coercer, a.logger)
	a.emitter = newEmitter(a.routes, a.dispatch, a.logger)
	a.codecs = newCodecRegistry(jsonCodec{excludeNone: a.excludeNone, excludeUnset: a.excludeUnset}, a.encoders)

	mustSupply(a.container, a.emitter)
	mustSupply(a.container, a.logger)
	return a
}

func mustSupply[T any](c *Container, v T) {
	if err := Supply(c, v); err != nil {
		panic(err)
	}
}

// Container returns the app's component container.
func (a *App) Container() *Container { return a.container }

// Routes returns the app's route table.
func (a *App) Routes() *RouteTable { return a.routes }

// Emitter returns the app's event emitter.
func (a *App) Emitter() *Emitter { return a.emitter }

// Logger returns the app's logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Use adds transport middleware. Middleware is applied in the order added,
// outside route lookup.
func (a *App) Use(mw ...HTTPMiddleware) {
	a.middleware = append(a.middleware, mw...)
}

// Handle registers a handler on its endpoint. Handlers cannot be added once
// the app has started.
func (a *App) Handle(h Handler) error {
	_, err := a.routes.Register(h)
	return err
}

// Group returns a route group rooted at prefix.
func (a *App) Group(prefix string) *RouteGroup {
	return a.routes.Group(prefix)
}

// RegisterModule registers a process-scope component.
func (a *App) RegisterModule(ctor any) error { return a.container.RegisterModule(ctor) }

// RegisterService registers a request-scope component.
func (a *App) RegisterService(ctor any) error { return a.container.RegisterService(ctor) }

// RegisterBean registers a factory-scope component.
func (a *App) RegisterBean(factory any) error { return a.container.RegisterBean(factory) }

// RegisterMiddleware registers a request-scope middleware component.
func (a *App) RegisterMiddleware(ctor any) error { return a.container.RegisterMiddleware(ctor) }

// Start validates the component graph and every handler's injected types,
// then builds the process-scope components. Requests are refused until
// Start succeeds.
func (a *App) Start(ctx context.Context) error {
	a.startMu.Lock()
	defer a.startMu.Unlock()

	if a.started.Load() {
		return nil
	}

	a.routes.Freeze()
	if err := a.start(ctx); err != nil {
		a.routes.thaw()
		return err
	}
	a.started.Store(true)
	a.logger.Info("app started", zap.Int("routes", len(a.routes.Routes())))
	return nil
}

func (a *App) start(ctx context.Context) error {
	for _, e := range a.routes.Routes() {
		for _, p := range e.params {
			if p.class != Context || p.IsRequest() || a.container.Registered(p.component) {
				continue
			}
			return &ResolutionError{
				Kind:  UnregisteredType,
				Type:  p.component.String(),
				Chain: []string{e.handler.Name, p.component.String()},
				Err:   fmt.Errorf("parameter %q of handler %s", p.name, e.handler.Name),
			}
		}
	}

	return a.container.Start(ctx)
}

// Stop waits for background event handlers, then stops the process-scope
// components in reverse start order.
func (a *App) Stop(ctx context.Context) error {
	a.startMu.Lock()
	defer a.startMu.Unlock()

	if !a.started.Load() {
		return nil
	}
	a.started.Store(false)

	errEvents := a.emitter.stop()
	errStop := a.container.Stop(ctx)
	a.logger.Info("app stopped")
	return errors.Join(errEvents, errStop)
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chain(http.HandlerFunc(a.serve), a.middleware).ServeHTTP(w, r)
}

func (a *App) serve(w http.ResponseWriter, r *http.Request) {
	if !a.started.Load() {
		a.handleError(w, r, Error(http.StatusServiceUnavailable, "application is not started"))
		return
	}

	match, err := a.routes.Lookup(r.Method, r.URL.Path)
	if err == nil && match.entry.IsEvent() {
		err = ErrNotFound
	}
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	entry := match.entry

	ctx := r.Context()
	if a.tracer != nil {
		var end func()
		ctx, end = a.tracer.StartSpan(ctx, entry.handler.Name, map[string]string{
			"http.method": r.Method,
			"http.route":  entry.pattern,
		})
		defer end()
		r = r.WithContext(ctx)
	}

	result, err := a.dispatch.Dispatch(ctx, entry, Call{
		Captures: match.captures,
		Query:    r.URL.Query(),
		Body:     r.Body,
		Request:  r,
	})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	encodeResponse(w, r, result, entry.handler, a.codecs)
}

func (a *App) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := ErrorStatus(err)
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", fields...)
	} else {
		a.logger.Debug("request rejected", fields...)
	}

	if a.errorHandler != nil {
		a.errorHandler(w, r, err)
		return
	}
	writeErrorResponse(w, err)
}

// ListenAndServe starts the app and an HTTP server on the given address.
// It blocks until the context is cancelled, then shuts down gracefully and
// stops the app.
func (a *App) ListenAndServe(ctx context.Context, addr string) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.logger.Info("listening", zap.String("addr", addr))

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
		defer cancel()
		serveErr = srv.Shutdown(shutdownCtx)
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, a.Stop(stopCtx))
}
