package lessweb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrEmitterStopped is returned when a background event is emitted after
// the app has stopped.
var ErrEmitterStopped = errors.New("lessweb: event emitter stopped")

// Emitter delivers in-process events to handlers registered with OnEvent.
// Events go through the same middleware components and argument binding as
// HTTP requests; the payload is bound as the JSON body.
type Emitter struct {
	routes   *RouteTable
	dispatch *Dispatcher
	logger   *zap.Logger

	mu      sync.Mutex
	group   errgroup.Group
	stopped bool
}

func newEmitter(routes *RouteTable, d *Dispatcher, logger *zap.Logger) *Emitter {
	return &Emitter{routes: routes, dispatch: d, logger: logger}
}

// Emit delivers payload to the handler subscribed to name. Foreground
// subscribers run before Emit returns and their result is returned.
// Background subscribers run on their own goroutine, detached from ctx
// cancellation, and Emit returns (nil, nil) immediately.
func (e *Emitter) Emit(ctx context.Context, name string, payload any) (any, error) {
	match, err := e.routes.Lookup(http.MethodPost, eventPrefix+name)
	if err != nil {
		return nil, fmt.Errorf("lessweb: emit %q: %w", name, err)
	}
	entry := match.entry

	var body []byte
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("lessweb: emit %q: encode payload: %w", name, err)
		}
	}

	if !entry.handler.Endpoint.Background {
		return e.dispatch.Dispatch(ctx, entry, e.call(ctx, name, match, body))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, ErrEmitterStopped
	}

	bg := context.WithoutCancel(ctx)
	call := e.call(bg, name, match, body)
	e.group.Go(func() error {
		if _, err := e.dispatch.Dispatch(bg, entry, call); err != nil {
			e.logger.Error("background event failed", zap.String("event", name), zap.Error(err))
			return fmt.Errorf("event %s: %w", name, err)
		}
		return nil
	})
	return nil, nil
}

type eventName string

// EventName reports the event a request was emitted for. Requests that
// arrived over HTTP report false.
func EventName(r *http.Request) (string, bool) {
	name, ok := GetValue[eventName](r.Context())
	return string(name), ok
}

func (e *Emitter) call(ctx context.Context, name string, match *RouteMatch, body []byte) Call {
	req := (&http.Request{
		Method:     http.MethodPost,
		URL:        &url.URL{Path: match.entry.pattern},
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Host:       "localhost",
	}).WithContext(ctx)
	req = SetValue(req, eventName(name))

	return Call{
		Captures: match.captures,
		Query:    url.Values{},
		Body:     bytes.NewReader(body),
		Request:  req,
	}
}

// Wait blocks until every background subscriber started so far has
// finished and returns the first error any of them reported.
func (e *Emitter) Wait() error {
	return e.group.Wait()
}

// stop refuses further background events and waits for running ones.
func (e *Emitter) stop() error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	return e.group.Wait()
}
