package lessweb_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/lessweb"
)

type greeter struct{ prefix string }

type (
	outerMW struct{ log *lifecycle }
	innerMW struct{ log *lifecycle }
	gateMW  struct{}
)

func (m *outerMW) OnRequest(ctx context.Context, _ *http.Request, next lessweb.Next) (any, error) {
	m.log.record("outer before")
	v, err := next(ctx)
	m.log.record("outer after")
	return v, err
}

func (m *innerMW) OnRequest(ctx context.Context, _ *http.Request, next lessweb.Next) (any, error) {
	m.log.record("inner before")
	v, err := next(ctx)
	m.log.record("inner after")
	return v, err
}

func (gateMW) OnRequest(ctx context.Context, r *http.Request, next lessweb.Next) (any, error) {
	if r.Header.Get("X-Blocked") != "" {
		return nil, lessweb.Error(http.StatusForbidden, "blocked")
	}
	return next(ctx)
}

type dispatchFixture struct {
	container  *lessweb.Container
	table      *lessweb.RouteTable
	dispatcher *lessweb.Dispatcher
}

func newDispatchFixture(t *testing.T, register func(c *lessweb.Container)) *dispatchFixture {
	t.Helper()
	c := lessweb.NewContainer()
	if register != nil {
		register(c)
	}
	require.NoError(t, c.Start(context.Background()))
	return &dispatchFixture{
		container:  c,
		table:      lessweb.NewRouteTable(),
		dispatcher: lessweb.NewDispatcher(c, lessweb.NewCoercer(lessweb.IgnoreUnknownFields), nil),
	}
}

func (f *dispatchFixture) dispatch(t *testing.T, h lessweb.Handler, method, target, body string) (any, error) {
	t.Helper()
	entry, err := f.table.Register(h)
	require.NoError(t, err)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	m, err := f.table.Lookup(method, req.URL.Path)
	require.NoError(t, err)

	return f.dispatcher.Dispatch(req.Context(), entry, lessweb.Call{
		Captures: m.Captures(),
		Query:    req.URL.Query(),
		Body:     req.Body,
		Request:  req,
	})
}

func TestDispatcher_bindsEveryClassification(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, func(c *lessweb.Container) {
		require.NoError(t, c.RegisterService(func() *greeter { return &greeter{prefix: "hello"} }))
	})

	var got *lessweb.Args
	h := lessweb.Handler{
		Name:     "put_pet",
		Endpoint: lessweb.Put("/pet/{pet_id:[0-9]+}"),
		Params: []lessweb.Param{
			lessweb.Positional("pet", lessweb.Record[pet]()),
			lessweb.Named("pet_id", lessweb.Alias[PetID](lessweb.Int)),
			lessweb.Named("kinds", lessweb.ListOf(speciesType)),
			lessweb.Named("page", lessweb.Int, lessweb.Default(1)),
			lessweb.Named("sort", lessweb.Optional(lessweb.Literal("asc", "desc"))),
			lessweb.Inject[*greeter]("greeter"),
			lessweb.CurrentRequest("request"),
		},
		Func: func(_ context.Context, args *lessweb.Args) (any, error) {
			got = args
			return "ok", nil
		},
	}

	out, err := f.dispatch(t, h, http.MethodPut, "/pet/42?kinds=CAT,DOG&pet_id=99", `{"name":"Rex","breed":"lab"}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	require.NotNil(t, got)
	assert.Equal(t, []string{"pet", "pet_id", "kinds", "page", "greeter", "request"}, got.Names())
	assert.Equal(t, "Rex", lessweb.Arg[pet](got, "pet").Name)
	assert.Equal(t, PetID(42), lessweb.Arg[PetID](got, "pet_id"), "path capture wins over query")
	assert.Equal(t, []Species{Cat, Dog}, lessweb.Arg[[]Species](got, "kinds"))
	assert.Equal(t, 1, lessweb.Arg[int](got, "page"))
	assert.Equal(t, "hello", lessweb.Arg[*greeter](got, "greeter").prefix)
	assert.Equal(t, "/pet/42", lessweb.Arg[*http.Request](got, "request").URL.Path)
}

func TestDispatcher_bindingFailureSkipsHandler(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		params []lessweb.Param
		target string
		body   string
		kind   lessweb.CoercionKind
		param  string
		index  int
	}{
		"bad capture": {
			params: []lessweb.Param{lessweb.Named("day", lessweb.Date)},
			target: "/items/monday",
			kind:   lessweb.InvalidTemporal,
			param:  "day",
			index:  -1,
		},
		"missing query": {
			params: []lessweb.Param{lessweb.Named("limit", lessweb.Int)},
			target: "/items/2024-01-02",
			kind:   lessweb.MissingParameter,
			param:  "limit",
			index:  -1,
		},
		"bad list element": {
			params: []lessweb.Param{lessweb.Named("kinds", lessweb.ListOf(speciesType))},
			target: "/items/x?kinds=CAT,FISH",
			kind:   lessweb.InvalidEnum,
			param:  "kinds",
			index:  1,
		},
		"missing body": {
			params: []lessweb.Param{lessweb.Positional("pet", lessweb.Record[pet]())},
			target: "/items/x",
			kind:   lessweb.MissingParameter,
			param:  "pet",
			index:  -1,
		},
		"invalid body": {
			params: []lessweb.Param{lessweb.Positional("pets", lessweb.RecordList[pet]())},
			target: "/items/x",
			body:   `[{"name":"Rex","breed":"lab"},{"name":"Tom"}]`,
			kind:   lessweb.MissingField,
			param:  "pets",
			index:  1,
		},
		"later parameter fails": {
			params: []lessweb.Param{
				lessweb.Named("day", lessweb.String),
				lessweb.Named("flag", lessweb.Bool),
			},
			target: "/items/x?flag=maybe",
			kind:   lessweb.InvalidBoolean,
			param:  "flag",
			index:  -1,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newDispatchFixture(t, nil)

			called := false
			h := lessweb.Handler{
				Name:     "post_items",
				Endpoint: lessweb.Post("/items/{day}"),
				Params:   tc.params,
				Func: func(context.Context, *lessweb.Args) (any, error) {
					called = true
					return nil, nil
				},
			}

			_, err := f.dispatch(t, h, http.MethodPost, tc.target, tc.body)
			var ce *lessweb.CoercionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.kind, ce.Kind)
			assert.Equal(t, tc.param, ce.Param)
			assert.Equal(t, tc.index, ce.Index)
			assert.False(t, called, "handler must not run after a binding failure")
		})
	}
}

func TestDispatcher_optionalValuesMayBeAbsent(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, nil)

	var got *lessweb.Args
	h := lessweb.Handler{
		Name:     "post_note",
		Endpoint: lessweb.Post("/note"),
		Params: []lessweb.Param{
			lessweb.Positional("pet", lessweb.Optional(lessweb.Record[pet]())),
			lessweb.Named("tag", lessweb.Optional(lessweb.String)),
			lessweb.Named("at", lessweb.DateTime, lessweb.DefaultFunc(func() any { return "now" })),
		},
		Func: func(_ context.Context, args *lessweb.Args) (any, error) {
			got = args
			return nil, nil
		},
	}

	_, err := f.dispatch(t, h, http.MethodPost, "/note", "  ")
	require.NoError(t, err)
	assert.Equal(t, []string{"at"}, got.Names())
	assert.Equal(t, "now", lessweb.Arg[string](got, "at"))
}

func TestDispatcher_bodyBindsOnce(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, nil)

	called := false
	h := lessweb.Handler{
		Name:     "post_pet",
		Endpoint: lessweb.Post("/pet"),
		Params: []lessweb.Param{
			lessweb.Positional("pet", lessweb.Record[pet]()),
			lessweb.Positional("again", lessweb.Record[pet]()),
		},
		Func: func(context.Context, *lessweb.Args) (any, error) {
			called = true
			return nil, nil
		},
	}

	_, err := f.dispatch(t, h, http.MethodPost, "/pet", `{"name":"Rex","breed":"lab"}`)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, http.StatusInternalServerError, lessweb.ErrorStatus(err))
	assert.Contains(t, err.Error(), `"again"`)
	assert.False(t, called)
}

type user struct {
	Name string `json:"name"`
}

// shoutMW pushes a copy of the body with the name upper-cased.
type shoutMW struct{}

func (shoutMW) OnRequest(ctx context.Context, r *http.Request, next lessweb.Next) (any, error) {
	raw, err := lessweb.RequestBody(r)
	if err != nil {
		return nil, err
	}
	var u user
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	u.Name = strings.ToUpper(u.Name)
	b, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	lessweb.PushBody(r, b)
	return next(ctx)
}

func TestDispatcher_pushedBodies(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, func(c *lessweb.Container) {
		require.NoError(t, c.RegisterMiddleware(func() shoutMW { return shoutMW{} }))
	})
	body := func(name string) lessweb.Param { return lessweb.Positional(name, lessweb.Record[user]()) }
	names := func(params ...string) lessweb.HandlerFunc {
		return func(_ context.Context, args *lessweb.Args) (any, error) {
			out := make([]string, len(params))
			for i, p := range params {
				out[i] = lessweb.Arg[user](args, p).Name
			}
			return out, nil
		}
	}

	tests := map[string]struct {
		handler lessweb.Handler
		method  string
		target  string
		want    []string
	}{
		"pushed body only": {
			handler: lessweb.Handler{Name: "put_user", Endpoint: lessweb.Put("/user"), Params: []lessweb.Param{body("vo")}, Func: names("vo")},
			method:  http.MethodPut,
			target:  "/user",
			want:    []string{"JOHN"},
		},
		"pushed then raw": {
			handler: lessweb.Handler{Name: "post_user", Endpoint: lessweb.Post("/user"), Params: []lessweb.Param{body("real_vo"), body("raw_vo")}, Func: names("real_vo", "raw_vo")},
			method:  http.MethodPost,
			target:  "/user",
			want:    []string{"JOHN", "John"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newDispatchFixture(t, func(c *lessweb.Container) {
				require.NoError(t, c.RegisterMiddleware(func() shoutMW { return shoutMW{} }))
			})
			out, err := f.dispatch(t, tc.handler, tc.method, tc.target, `{"name":"John"}`)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}

	t.Run("nothing left to bind", func(t *testing.T) {
		t.Parallel()

		h := lessweb.Handler{
			Name:     "post_user_eof",
			Endpoint: lessweb.Post("/user/_eof"),
			Params:   []lessweb.Param{body("real_vo"), body("raw_vo"), body("eof_vo")},
			Func:     names("real_vo", "raw_vo", "eof_vo"),
		}
		_, err := f.dispatch(t, h, http.MethodPost, "/user/_eof", `{"name":"John"}`)
		require.ErrorIs(t, err, io.EOF)
		assert.Equal(t, http.StatusInternalServerError, lessweb.ErrorStatus(err))
		assert.Contains(t, err.Error(), `"eof_vo"`)
	})
}

func TestPushBody_outsideDispatch(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodPost, "/user", strings.NewReader(`{}`))
	assert.False(t, lessweb.PushBody(r, []byte(`{}`)))
	_, err := lessweb.RequestBody(r)
	require.ErrorIs(t, err, lessweb.ErrNotDispatched)
}

func TestDispatcher_middlewareOrder(t *testing.T) {
	t.Parallel()

	log := &lifecycle{}
	f := newDispatchFixture(t, func(c *lessweb.Container) {
		require.NoError(t, lessweb.Supply(c, log))
		require.NoError(t, c.RegisterMiddleware(func(l *lifecycle) *outerMW { return &outerMW{log: l} }))
		require.NoError(t, c.RegisterMiddleware(func(l *lifecycle) *innerMW { return &innerMW{log: l} }))
	})

	h := lessweb.Handler{
		Name:     "get_pet",
		Endpoint: lessweb.Get("/pet"),
		Func: func(context.Context, *lessweb.Args) (any, error) {
			log.record("handler")
			return "done", nil
		},
	}

	out, err := f.dispatch(t, h, http.MethodGet, "/pet", "")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, []string{"outer before", "inner before", "handler", "inner after", "outer after"}, log.events)
}

func TestDispatcher_middlewareShortCircuits(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, func(c *lessweb.Container) {
		require.NoError(t, c.RegisterMiddleware(func() gateMW { return gateMW{} }))
	})

	called := false
	h := lessweb.Handler{
		Name:     "get_pet",
		Endpoint: lessweb.Get("/pet"),
		Params:   []lessweb.Param{lessweb.Named("id", lessweb.Int)},
		Func: func(context.Context, *lessweb.Args) (any, error) {
			called = true
			return nil, nil
		},
	}
	entry, err := f.table.Register(h)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/pet?id=not-a-number", nil)
	req.Header.Set("X-Blocked", "1")

	_, err = f.dispatcher.Dispatch(context.Background(), entry, lessweb.Call{Query: req.URL.Query(), Request: req})
	assert.Equal(t, http.StatusForbidden, lessweb.ErrorStatus(err))
	assert.False(t, called)
}

func TestDispatcher_canceledContext(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, nil)
	entry, err := f.table.Register(lessweb.Handler{
		Name:     "get_pet",
		Endpoint: lessweb.Get("/pet"),
		Params:   []lessweb.Param{lessweb.Named("id", lessweb.Int)},
		Func:     noop,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.dispatcher.Dispatch(ctx, entry, lessweb.Call{Query: url.Values{"id": {"1"}}})
	var re *lessweb.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, lessweb.Canceled, re.Kind)
}

func TestDispatcher_unregisteredComponent(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, nil)
	h := lessweb.Handler{
		Name:     "get_pet",
		Endpoint: lessweb.Get("/pet"),
		Params:   []lessweb.Param{lessweb.Inject[*greeter]("greeter")},
		Func:     noop,
	}

	_, err := f.dispatch(t, h, http.MethodGet, "/pet", "")
	var re *lessweb.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, lessweb.UnregisteredType, re.Kind)
	assert.Equal(t, http.StatusInternalServerError, lessweb.ErrorStatus(err))
}
