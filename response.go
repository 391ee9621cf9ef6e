package lessweb

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
)

// CookieSetter is optionally implemented by response types to set cookies.
type CookieSetter interface {
	Cookies() []*http.Cookie
}

// HeaderSetter is optionally implemented by response types to set response headers.
type HeaderSetter interface {
	SetHeaders(h http.Header)
}

// Redirect is returned from a handler to issue an HTTP redirect.
type Redirect struct {
	URL    string
	Status int
}

const defaultTextContentType = "text/plain; charset=utf-8"

// encodeResponse writes a handler result. nil becomes 204, strings and byte
// slices are written verbatim, and anything else is encoded with the
// encoder negotiated from the Accept header.
func encodeResponse(w http.ResponseWriter, r *http.Request, resp any, h Handler, codecs *codecRegistry) {
	if isNil(resp) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if rd, ok := resp.(*Redirect); ok {
		status := rd.Status
		if status == 0 {
			status = http.StatusFound
		}
		http.Redirect(w, r, rd.URL, status)
		return
	}

	status := h.Status
	if status == 0 {
		status = http.StatusOK
	}

	switch body := resp.(type) {
	case string:
		ct := h.ContentType
		if ct == "" {
			ct = defaultTextContentType
		}
		w.Header().Set("Content-Type", ct)
		w.WriteHeader(status)
		//nolint:errcheck,gosec // best-effort after WriteHeader
		w.Write([]byte(body))
		return
	case []byte:
		ct := h.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		w.WriteHeader(status)
		//nolint:errcheck,gosec // best-effort after WriteHeader
		w.Write(body)
		return
	}

	// Apply cookies and headers before writing status.
	if cs, ok := resp.(CookieSetter); ok {
		for _, c := range cs.Cookies() {
			http.SetCookie(w, c)
		}
	}
	if hs, ok := resp.(HeaderSetter); ok {
		hs.SetHeaders(w.Header())
	}

	// Let the response override the status dynamically.
	if sc, ok := resp.(StatusCoder); ok {
		status = sc.StatusCode()
	}

	enc, ok := codecs.negotiate(r.Header.Get("Accept"))
	if !ok {
		writeErrorResponse(w, Error(http.StatusNotAcceptable, "no encoder for "+r.Header.Get("Accept")))
		return
	}

	w.Header().Set("Content-Type", enc.ContentType())
	w.WriteHeader(status)
	//nolint:errcheck,gosec // best-effort after WriteHeader
	enc.Encode(w, resp)
}

// writeErrorResponse writes an error as an RFC 9457 problem details response.
func writeErrorResponse(w http.ResponseWriter, err error) {
	problem := problemFor(err)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	//nolint:errcheck,errchkjson,gosec // best-effort after WriteHeader
	json.NewEncoder(w).Encode(problem)
}

// problemFor converts any error into a ProblemDetail. Binding failures list
// the offending parameter or field in Errors.
func problemFor(err error) *ProblemDetail {
	var pd *ProblemDetail
	if errors.As(err, &pd) {
		return pd
	}

	status := ErrorStatus(err)
	problem := &ProblemDetail{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: err.Error(),
	}

	var ce *CoercionError
	if errors.As(err, &ce) {
		if len(ce.Violations) > 0 {
			problem.Errors = make([]ValidationError, len(ce.Violations))
			for i, v := range ce.Violations {
				v.Field = (&CoercionError{Param: ce.Param, Index: ce.Index, Field: v.Field}).location()
				problem.Errors[i] = v
			}
		} else {
			problem.Errors = []ValidationError{{
				Field:   ce.location(),
				Message: ce.Kind.String(),
				Value:   ce.Value,
			}}
		}
	}
	return problem
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	//exhaustive:ignore
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil() && rv.Kind() != reflect.Slice
	default:
		return false
	}
}
