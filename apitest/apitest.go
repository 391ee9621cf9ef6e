// Package apitest provides typed test helpers for lessweb applications.
package apitest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bjaus/lessweb"
)

// Client wraps an httptest.Server around a started app.
type Client struct {
	Server *httptest.Server
	Header http.Header
}

// NewClient starts app and serves it from a test server. The app is
// stopped and the server closed when the test finishes.
func NewClient(t testing.TB, app *lessweb.App) *Client {
	t.Helper()
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("apitest: start app: %v", err)
	}
	srv := httptest.NewServer(app)
	t.Cleanup(func() {
		srv.Close()
		if err := app.Stop(context.Background()); err != nil {
			t.Errorf("apitest: stop app: %v", err)
		}
	})
	return &Client{Server: srv, Header: http.Header{}}
}

// Response holds a decoded response. Problem is set instead of Body when
// the app answered with a problem document.
type Response[T any] struct {
	Status  int
	Headers http.Header
	Body    *T
	Problem *lessweb.ProblemDetail
	Raw     []byte
}

// Get sends a typed GET request.
func Get[Resp any](t testing.TB, c *Client, path string) *Response[Resp] {
	t.Helper()
	return do[Resp](t, c, http.MethodGet, path, nil)
}

// Post sends a typed POST request with a JSON body.
func Post[Req, Resp any](t testing.TB, c *Client, path string, body *Req) *Response[Resp] {
	t.Helper()
	return do[Resp](t, c, http.MethodPost, path, body)
}

// Put sends a typed PUT request with a JSON body.
func Put[Req, Resp any](t testing.TB, c *Client, path string, body *Req) *Response[Resp] {
	t.Helper()
	return do[Resp](t, c, http.MethodPut, path, body)
}

// Delete sends a typed DELETE request.
func Delete[Resp any](t testing.TB, c *Client, path string) *Response[Resp] {
	t.Helper()
	return do[Resp](t, c, http.MethodDelete, path, nil)
}

func do[Resp any](t testing.TB, c *Client, method, path string, body any) *Response[Resp] {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("apitest: marshal request body: %v", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, c.Server.URL+path, reqBody)
	if err != nil {
		t.Fatalf("apitest: create request: %v", err)
	}
	for k, v := range c.Header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("apitest: execute request: %v", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			t.Errorf("apitest: close body: %v", closeErr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("apitest: read body: %v", err)
	}

	result := &Response[Resp]{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Raw:     raw,
	}
	if len(raw) == 0 {
		return result
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/problem+json") {
		var pd lessweb.ProblemDetail
		if err := json.Unmarshal(raw, &pd); err != nil {
			t.Fatalf("apitest: decode problem: %v", err)
		}
		result.Problem = &pd
		return result
	}

	var decoded Resp
	if err := json.Unmarshal(raw, &decoded); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			return result
		}
		t.Fatalf("apitest: decode body: %v", err)
	}
	result.Body = &decoded
	return result
}
