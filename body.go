package lessweb

import (
	"fmt"
	"io"
	"net/http"
	"sync"
)

// bodyStack is the per-call source of Body parameter documents. Documents
// pushed by middleware bind first, most recent first. Once none are left the
// request body binds, and only once.
type bodyStack struct {
	mu       sync.Mutex
	pushed   [][]byte
	src      io.Reader
	raw      []byte
	read     bool
	consumed bool
}

func newBodyStack(src io.Reader) *bodyStack {
	return &bodyStack{src: src}
}

// PushBody queues b as the document for the next Body parameter of the call
// r belongs to. It reports false when r is not being dispatched.
func PushBody(r *http.Request, b []byte) bool {
	s, ok := GetValue[*bodyStack](r.Context())
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushed = append(s.pushed, b)
	return true
}

// RequestBody returns the raw body of the call r belongs to. The body is
// read at most once, so Body parameters still bind from it afterwards.
func RequestBody(r *http.Request) ([]byte, error) {
	s, ok := GetValue[*bodyStack](r.Context())
	if !ok {
		return nil, fmt.Errorf("lessweb: request body: %w", ErrNotDispatched)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *bodyStack) readLocked() ([]byte, error) {
	if s.read {
		return s.raw, nil
	}
	b, err := readBody(s.src)
	if err != nil {
		return nil, err
	}
	s.raw, s.read = b, true
	return b, nil
}

// next returns the document for the Body parameter p.
func (s *bodyStack) next(p ParameterDescriptor) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.pushed); n > 0 {
		b := s.pushed[n-1]
		s.pushed = s.pushed[:n-1]
		return b, nil
	}
	if s.consumed {
		return nil, fmt.Errorf("%w: %w", Errorf(http.StatusInternalServerError, "request body already bound before parameter %q", p.name), io.EOF)
	}
	s.consumed = true
	return s.readLocked()
}
