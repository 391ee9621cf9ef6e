package lessweb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

var standardMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodConnect: true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// RouteEntry is an immutable registered route.
type RouteEntry struct {
	method  string
	pattern string
	handler Handler
	params  []ParameterDescriptor
}

// Method returns the HTTP method, or WildcardMethod.
func (e *RouteEntry) Method() string { return e.method }

// Pattern returns the full path template.
func (e *RouteEntry) Pattern() string { return e.pattern }

// Handler returns the registered handler.
func (e *RouteEntry) Handler() Handler { return e.handler }

// Params returns the classified parameters in declaration order.
func (e *RouteEntry) Params() []ParameterDescriptor {
	return append([]ParameterDescriptor(nil), e.params...)
}

// IsWildcard reports whether the route matches every method.
func (e *RouteEntry) IsWildcard() bool { return e.method == WildcardMethod }

// IsEvent reports whether the route is an event subscriber.
func (e *RouteEntry) IsEvent() bool { return e.handler.Endpoint.Event != "" }

// RouteMatch is the result of a successful lookup.
type RouteMatch struct {
	entry    *RouteEntry
	captures map[string]string
}

// Entry returns the matched route.
func (m *RouteMatch) Entry() *RouteEntry { return m.entry }

// Captures returns the raw path captures by placeholder name.
func (m *RouteMatch) Captures() map[string]string { return m.captures }

// NamingPolicy checks that a handler name is compatible with its method and
// path. It returns a non-nil error describing the mismatch.
type NamingPolicy func(method, path, handlerName string) error

// MethodPrefixNaming requires the handler name to start with the lowercase
// HTTP method, as in get_pet or getPet.
func MethodPrefixNaming(method, _ string, handlerName string) error {
	if !strings.HasPrefix(strings.ToLower(handlerName), strings.ToLower(method)) {
		return fmt.Errorf("handler name %q must start with %q", handlerName, strings.ToLower(method))
	}
	return nil
}

// RouteTable maps method and path templates to handlers. Path templates use
// {name} placeholders or {name:regex} for a custom pattern. Exact-method
// routes take precedence over wildcard routes on the same path.
type RouteTable struct {
	mu       sync.Mutex
	exact    *chi.Mux
	wildcard *chi.Mux
	entries  map[string]*RouteEntry
	order    []*RouteEntry
	naming   NamingPolicy
	frozen   bool
}

// RouteTableOption configures a RouteTable.
type RouteTableOption func(*RouteTable)

// WithRouteNaming sets the naming policy checked at registration.
func WithRouteNaming(p NamingPolicy) RouteTableOption {
	return func(t *RouteTable) {
		t.naming = p
	}
}

// NewRouteTable creates an empty RouteTable.
func NewRouteTable(opts ...RouteTableOption) *RouteTable {
	t := &RouteTable{
		exact:    newLookupMux(),
		wildcard: newLookupMux(),
		entries:  make(map[string]*RouteEntry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type lookupKey struct{}

// lookupResult is filled in by the matched chi handler.
type lookupResult struct {
	entry    *RouteEntry
	captures map[string]string
	status   int
}

func newLookupMux() *chi.Mux {
	mux := chi.NewMux()
	mux.NotFound(func(_ http.ResponseWriter, r *http.Request) {
		resultFrom(r).status = http.StatusNotFound
	})
	mux.MethodNotAllowed(func(_ http.ResponseWriter, r *http.Request) {
		resultFrom(r).status = http.StatusMethodNotAllowed
	})
	return mux
}

func resultFrom(r *http.Request) *lookupResult {
	return r.Context().Value(lookupKey{}).(*lookupResult)
}

func matchHandler(entry *RouteEntry) http.Handler {
	return http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		res := resultFrom(r)
		res.entry = entry
		rctx := chi.RouteContext(r.Context())
		res.captures = make(map[string]string, len(rctx.URLParams.Keys))
		for i, k := range rctx.URLParams.Keys {
			res.captures[k] = rctx.URLParams.Values[i]
		}
	})
}

// Register introspects h and adds it to the table.
func (t *RouteTable) Register(h Handler) (*RouteEntry, error) {
	params, err := Introspect(h)
	if err != nil {
		return nil, err
	}

	ep := h.Endpoint
	method := strings.ToUpper(ep.Method)
	routeErr := func(kind RouteKind, err error) error {
		return &RouteError{Kind: kind, Method: method, Path: ep.Path, Handler: h.Name, Err: err}
	}

	if method == "" {
		return nil, routeErr(InvalidEndpoint, errors.New("method is required"))
	}
	if !strings.HasPrefix(ep.Path, "/") {
		return nil, routeErr(InvalidEndpoint, errors.New("path must begin with /"))
	}
	if ep.Event != "" {
		if strings.HasPrefix(ep.Event, "/") {
			return nil, routeErr(InvalidEndpoint, errors.New("event name must not start with /"))
		}
		if method != http.MethodPost || ep.Path != eventPrefix+ep.Event {
			return nil, routeErr(InvalidEndpoint, errors.New("event endpoints must be declared with OnEvent"))
		}
	}

	if t.naming != nil && method != WildcardMethod && ep.Event == "" {
		if err := t.naming(method, ep.Path, h.Name); err != nil {
			return nil, routeErr(NamingMismatch, err)
		}
	}

	entry := &RouteEntry{method: method, pattern: ep.Path, handler: h, params: params}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen {
		return nil, fmt.Errorf("lessweb: register %s: %w", h.Name, ErrFrozen)
	}

	key := method + " " + ep.Path
	if prev, ok := t.entries[key]; ok {
		return nil, routeErr(DuplicateRoute, fmt.Errorf("already registered by %q", prev.handler.Name))
	}

	if err := mount(t, entry); err != nil {
		return nil, routeErr(InvalidEndpoint, err)
	}

	t.entries[key] = entry
	t.order = append(t.order, entry)
	return entry, nil
}

// mount adds the entry to the matching chi mux, converting chi's
// registration panics into errors.
func mount(t *RouteTable, entry *RouteEntry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()

	if entry.method == WildcardMethod {
		t.wildcard.Handle(entry.pattern, matchHandler(entry))
		return nil
	}
	if !standardMethods[entry.method] {
		chi.RegisterMethod(entry.method)
	}
	t.exact.Method(entry.method, entry.pattern, matchHandler(entry))
	return nil
}

// Lookup finds the route for method and path. It returns ErrNotFound if no
// route matches the path and ErrMethodNotAllowed if only other methods do.
func (t *RouteTable) Lookup(method, path string) (*RouteMatch, error) {
	res := t.match(t.exact, method, path)
	if res.entry == nil {
		if wild := t.match(t.wildcard, method, path); wild.entry != nil {
			res = wild
		}
	}
	if res.entry == nil {
		if res.status == http.StatusMethodNotAllowed {
			return nil, ErrMethodNotAllowed
		}
		return nil, ErrNotFound
	}
	return &RouteMatch{entry: res.entry, captures: res.captures}, nil
}

func (t *RouteTable) match(mux *chi.Mux, method, path string) *lookupResult {
	res := &lookupResult{}
	ctx := context.WithValue(context.Background(), lookupKey{}, res)
	req := (&http.Request{
		Method: strings.ToUpper(method),
		URL:    &url.URL{Path: path},
		Header: make(http.Header),
	}).WithContext(ctx)
	mux.ServeHTTP(discardWriter{}, req)
	return res
}

// Freeze rejects every later Register with ErrFrozen. Lookup does not lock,
// so the table must be frozen before it serves requests.
func (t *RouteTable) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
}

func (t *RouteTable) thaw() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = false
}

// Routes returns every entry in registration order.
func (t *RouteTable) Routes() []*RouteEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*RouteEntry(nil), t.order...)
}

// Group returns a view of the table that prefixes every registered path.
func (t *RouteTable) Group(prefix string) *RouteGroup {
	return &RouteGroup{table: t, prefix: strings.TrimSuffix(prefix, "/")}
}

type discardWriter struct{}

func (discardWriter) Header() http.Header         { return http.Header{} }
func (discardWriter) Write(b []byte) (int, error) { return len(b), nil }
func (discardWriter) WriteHeader(int)             {}
