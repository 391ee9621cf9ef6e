package lessweb

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors matched with errors.Is against the structured error types.
var (
	ErrCoercion      = errors.New("coercion")
	ErrSignature     = errors.New("signature")
	ErrResolution    = errors.New("resolution")
	ErrRoute         = errors.New("route")
	ErrFrozen        = errors.New("registry frozen")
	ErrNotStarted    = errors.New("container not started")
	ErrNotDispatched = errors.New("request not being dispatched")
)

// Lookup failures carry their own status codes.
var (
	ErrNotFound         error = &HTTPError{Status: http.StatusNotFound, Message: "route not found"}
	ErrMethodNotAllowed error = &HTTPError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"}
)

// StatusCoder is implemented by errors or responses that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// ProblemDetail is an RFC 9457 problem details response.
//
//nolint:errname // RFC 9457 standard name
type ProblemDetail struct {
	Type     string            `json:"type,omitempty"`
	Title    string            `json:"title,omitempty"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// Error returns the detail message (or title if detail is empty).
func (p *ProblemDetail) Error() string {
	if p.Detail != "" {
		return p.Detail
	}
	return p.Title
}

// StatusCode returns the HTTP status code.
func (p *ProblemDetail) StatusCode() int { return p.Status }

// ValidationError describes a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// HTTPError is an error with an HTTP status code.
type HTTPError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Error returns the error message.
func (e *HTTPError) Error() string { return e.Message }

// StatusCode returns the HTTP status code.
func (e *HTTPError) StatusCode() int { return e.Status }

// Error returns an error with the given HTTP status code and message.
func Error(status int, message string) error {
	return &HTTPError{Status: status, Message: message}
}

// Errorf returns a formatted error with the given HTTP status code.
func Errorf(status int, format string, args ...any) error {
	return &HTTPError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// ErrorStatus extracts the HTTP status code from an error. Returns
// http.StatusInternalServerError if the error does not implement StatusCoder.
func ErrorStatus(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}

// CoercionKind discriminates binding failures.
type CoercionKind int

// Binding failure kinds.
const (
	InvalidBoolean CoercionKind = iota + 1
	InvalidNumber
	InvalidString
	InvalidUUID
	InvalidDuration
	InvalidTemporal
	InvalidList
	InvalidEnum
	InvalidLiteral
	InvalidUnion
	InvalidDocument
	MissingField
	UnknownField
	ConstraintViolation
	MissingParameter
)

var coercionKindNames = map[CoercionKind]string{
	InvalidBoolean:      "invalid boolean",
	InvalidNumber:       "invalid number",
	InvalidString:       "invalid string",
	InvalidUUID:         "invalid uuid",
	InvalidDuration:     "invalid duration",
	InvalidTemporal:     "invalid temporal value",
	InvalidList:         "invalid list",
	InvalidEnum:         "invalid enum value",
	InvalidLiteral:      "invalid literal",
	InvalidUnion:        "no union alternative matched",
	InvalidDocument:     "invalid document",
	MissingField:        "missing required field",
	UnknownField:        "unknown field",
	ConstraintViolation: "constraint violation",
	MissingParameter:    "missing required parameter",
}

func (k CoercionKind) String() string {
	if s, ok := coercionKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("CoercionKind(%d)", int(k))
}

// CoercionError reports a raw value that could not be converted to its
// declared type. Index is -1 unless the failure happened inside a list.
type CoercionError struct {
	Kind       CoercionKind
	Param      string
	Type       string
	Field      string
	Index      int
	Attempted  []string
	Value      string
	Violations []ValidationError
	Err        error
}

func newCoercionError(kind CoercionKind, t *Type, value string, err error) *CoercionError {
	return &CoercionError{Kind: kind, Type: t.name, Index: -1, Value: value, Err: err}
}

func (e *CoercionError) Error() string {
	var b strings.Builder
	b.WriteString("lessweb: ")
	if e.Param != "" {
		fmt.Fprintf(&b, "parameter %q: ", e.Param)
	}
	if e.Index >= 0 {
		fmt.Fprintf(&b, "index %d: ", e.Index)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "field %q: ", e.Field)
	}
	b.WriteString(e.Kind.String())
	if e.Value != "" {
		fmt.Fprintf(&b, " %q", e.Value)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, " for %s", e.Type)
	}
	if len(e.Attempted) > 0 {
		fmt.Fprintf(&b, " (tried %s)", strings.Join(e.Attempted, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *CoercionError) Unwrap() error { return e.Err }

// Is matches ErrCoercion.
func (e *CoercionError) Is(target error) bool { return target == ErrCoercion }

// StatusCode returns 400 unless a self-validating record returned an error
// carrying its own status.
func (e *CoercionError) StatusCode() int {
	var sc StatusCoder
	if e.Kind == ConstraintViolation && errors.As(e.Err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusBadRequest
}

// location returns the param-qualified path of the failure.
func (e *CoercionError) location() string {
	parts := make([]string, 0, 3)
	if e.Param != "" {
		parts = append(parts, e.Param)
	}
	if e.Index >= 0 {
		parts = append(parts, fmt.Sprintf("%d", e.Index))
	}
	if e.Field != "" {
		parts = append(parts, e.Field)
	}
	return strings.Join(parts, ".")
}

// SignatureError reports a handler parameter list that cannot be classified.
type SignatureError struct {
	Handler string
	Param   string
	Reason  string
}

func (e *SignatureError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("lessweb: handler %q: %s", e.Handler, e.Reason)
	}
	return fmt.Sprintf("lessweb: handler %q: parameter %q: %s", e.Handler, e.Param, e.Reason)
}

// Is matches ErrSignature.
func (e *SignatureError) Is(target error) bool { return target == ErrSignature }

// StatusCode returns http.StatusBadRequest.
func (e *SignatureError) StatusCode() int { return http.StatusBadRequest }

// ResolutionKind discriminates component resolution failures.
type ResolutionKind int

// Resolution failure kinds.
const (
	CycleDetected ResolutionKind = iota + 1
	UnregisteredType
	ConstructionFailed
	LayeringViolation
	Canceled
	InvalidRegistration
)

var resolutionKindNames = map[ResolutionKind]string{
	CycleDetected:       "cycle detected",
	UnregisteredType:    "unregistered type",
	ConstructionFailed:  "construction failed",
	LayeringViolation:   "layering violation",
	Canceled:            "canceled",
	InvalidRegistration: "invalid registration",
}

func (k ResolutionKind) String() string {
	if s, ok := resolutionKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ResolutionKind(%d)", int(k))
}

// ResolutionError reports a component that could not be produced. Chain is
// the dependency path that led to the failure; for cycles it starts and ends
// with the same type.
type ResolutionError struct {
	Kind  ResolutionKind
	Type  string
	Chain []string
	Err   error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "lessweb: resolve %s: %s", e.Type, e.Kind)
	if len(e.Chain) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Chain, " -> "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Is matches ErrResolution.
func (e *ResolutionError) Is(target error) bool { return target == ErrResolution }

// StatusCode returns http.StatusInternalServerError, or the status carried
// by a constructor error that implements StatusCoder.
func (e *ResolutionError) StatusCode() int {
	var sc StatusCoder
	if e.Kind == ConstructionFailed && errors.As(e.Err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}

// RouteKind discriminates route registration failures.
type RouteKind int

// Route registration failure kinds.
const (
	DuplicateRoute RouteKind = iota + 1
	NamingMismatch
	InvalidEndpoint
)

var routeKindNames = map[RouteKind]string{
	DuplicateRoute:  "duplicate route",
	NamingMismatch:  "naming mismatch",
	InvalidEndpoint: "invalid endpoint",
}

func (k RouteKind) String() string {
	if s, ok := routeKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("RouteKind(%d)", int(k))
}

// RouteError reports a handler that cannot be added to the route table.
type RouteError struct {
	Kind    RouteKind
	Method  string
	Path    string
	Handler string
	Err     error
}

func (e *RouteError) Error() string {
	msg := fmt.Sprintf("lessweb: route %s %s (%s): %s", e.Method, e.Path, e.Handler, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RouteError) Unwrap() error { return e.Err }

// Is matches ErrRoute.
func (e *RouteError) Is(target error) bool { return target == ErrRoute }

// StatusCode returns http.StatusBadRequest for naming mismatches and
// http.StatusInternalServerError otherwise.
func (e *RouteError) StatusCode() int {
	if e.Kind == NamingMismatch {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
