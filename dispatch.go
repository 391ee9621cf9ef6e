package lessweb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// Call carries the raw inputs of one dispatch.
type Call struct {
	Captures map[string]string
	Query    url.Values
	Body     io.Reader
	Request  *http.Request
}

// Dispatcher binds arguments and invokes handlers. It is safe for
// concurrent use; every Dispatch opens its own request scope.
type Dispatcher struct {
	container *Container
	coercer   *Coercer
	logger    *zap.Logger
}

// NewDispatcher creates a Dispatcher resolving components from c and
// coercing raw values with co.
func NewDispatcher(c *Container, co *Coercer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{container: c, coercer: co, logger: logger}
}

// Dispatch runs the middleware chain around argument binding and the
// handler. If any argument fails to bind the handler is not called.
func (d *Dispatcher) Dispatch(ctx context.Context, entry *RouteEntry, call Call) (any, error) {
	stack := newBodyStack(call.Body)
	if call.Request != nil {
		call.Request = SetValue(call.Request, stack)
	}
	scope := d.container.NewScope(call.Request)
	defer func() {
		if err := scope.Close(); err != nil {
			d.logger.Warn("close request scope", zap.String("handler", entry.handler.Name), zap.Error(err))
		}
	}()

	mws := d.container.Middleware()
	chain := make([]Middleware, 0, len(mws))
	for _, t := range mws {
		v, err := scope.resolve(ctx, t)
		if err != nil {
			return nil, err
		}
		mw, ok := asInterface[Middleware](v)
		if !ok {
			return nil, &ResolutionError{Kind: ConstructionFailed, Type: t.String(), Err: errors.New("constructor returned a nil middleware")}
		}
		chain = append(chain, mw)
	}

	next := Next(func(ctx context.Context) (any, error) {
		args, err := d.bind(ctx, entry, call, stack, scope)
		if err != nil {
			return nil, err
		}
		return entry.handler.Func(ctx, args)
	})
	for i := len(chain) - 1; i >= 0; i-- {
		mw, inner := chain[i], next
		next = func(ctx context.Context) (any, error) {
			return mw.OnRequest(ctx, call.Request, inner)
		}
	}
	return next(ctx)
}

// bind resolves every parameter in declaration order.
func (d *Dispatcher) bind(ctx context.Context, entry *RouteEntry, call Call, stack *bodyStack, scope *RequestScope) (*Args, error) {
	args := newArgs(len(entry.params))

	for _, p := range entry.params {
		if err := ctx.Err(); err != nil {
			return nil, &ResolutionError{Kind: Canceled, Type: p.TypeName(), Err: err}
		}

		switch p.class {
		case Body:
			body, err := stack.next(p)
			if err != nil {
				return nil, err
			}
			if len(bytes.TrimSpace(body)) == 0 {
				if p.typ.IsOptional() {
					continue
				}
				return nil, missingParameter(p)
			}
			v, err := d.coercer.CoerceBody(body, p.typ)
			if err != nil {
				return nil, withParam(err, p.name)
			}
			args.set(p.name, v)

		case PathOrQuery:
			raw, ok := call.Captures[p.name]
			if !ok {
				if vals := call.Query[p.name]; len(vals) > 0 {
					raw, ok = vals[0], true
				}
			}
			if !ok {
				switch {
				case p.def != nil:
					args.set(p.name, p.def())
				case p.typ.IsOptional():
				default:
					return nil, missingParameter(p)
				}
				continue
			}
			v, err := d.coercer.Coerce(raw, p.typ)
			if err != nil {
				return nil, withParam(err, p.name)
			}
			args.set(p.name, v)

		case Context:
			if p.IsRequest() {
				args.set(p.name, call.Request)
				continue
			}
			v, err := scope.Resolve(ctx, p.component)
			if err != nil {
				return nil, err
			}
			args.set(p.name, v)
		}
	}
	return args, nil
}

func readBody(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, Errorf(http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", mbe.Limit)
		}
		return nil, &CoercionError{Kind: InvalidDocument, Index: -1, Err: err}
	}
	return b, nil
}

func missingParameter(p ParameterDescriptor) error {
	return &CoercionError{Kind: MissingParameter, Param: p.name, Type: p.TypeName(), Index: -1}
}

func withParam(err error, name string) error {
	var ce *CoercionError
	if errors.As(err, &ce) {
		ce.Param = name
	}
	return err
}
