package lessweb_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/lessweb"
)

func TestError(t *testing.T) {
	t.Parallel()

	err := lessweb.Error(http.StatusNotFound, "not found")
	assert.EqualError(t, err, "not found")

	var sc lessweb.StatusCoder
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, http.StatusNotFound, sc.StatusCode())
}

func TestErrorf(t *testing.T) {
	t.Parallel()

	err := lessweb.Errorf(http.StatusBadRequest, "invalid %s", "email")
	assert.EqualError(t, err, "invalid email")
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err    error
		expect int
	}{
		"with StatusCoder": {
			err:    lessweb.Error(http.StatusForbidden, "forbidden"),
			expect: http.StatusForbidden,
		},
		"plain error": {
			err:    errors.New("boom"),
			expect: http.StatusInternalServerError,
		},
		"wrapped StatusCoder": {
			err:    fmt.Errorf("wrap: %w", lessweb.Error(http.StatusConflict, "conflict")),
			expect: http.StatusConflict,
		},
		"coercion error": {
			err:    &lessweb.CoercionError{Kind: lessweb.InvalidNumber, Index: -1},
			expect: http.StatusBadRequest,
		},
		"constraint violation with status": {
			err: &lessweb.CoercionError{
				Kind:  lessweb.ConstraintViolation,
				Index: -1,
				Err:   lessweb.Error(http.StatusUnprocessableEntity, "bad"),
			},
			expect: http.StatusUnprocessableEntity,
		},
		"signature error": {
			err:    &lessweb.SignatureError{Handler: "h", Reason: "bad"},
			expect: http.StatusBadRequest,
		},
		"resolution error": {
			err:    &lessweb.ResolutionError{Kind: lessweb.UnregisteredType, Type: "T"},
			expect: http.StatusInternalServerError,
		},
		"construction failure with status": {
			err: &lessweb.ResolutionError{
				Kind: lessweb.ConstructionFailed,
				Type: "T",
				Err:  lessweb.Error(http.StatusUnauthorized, "no token"),
			},
			expect: http.StatusUnauthorized,
		},
		"naming mismatch": {
			err:    &lessweb.RouteError{Kind: lessweb.NamingMismatch},
			expect: http.StatusBadRequest,
		},
		"duplicate route": {
			err:    &lessweb.RouteError{Kind: lessweb.DuplicateRoute},
			expect: http.StatusInternalServerError,
		},
		"not found": {
			err:    lessweb.ErrNotFound,
			expect: http.StatusNotFound,
		},
		"method not allowed": {
			err:    lessweb.ErrMethodNotAllowed,
			expect: http.StatusMethodNotAllowed,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expect, lessweb.ErrorStatus(tc.err))
		})
	}
}

func TestCoercionError_Error(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err    *lessweb.CoercionError
		expect string
	}{
		"scalar": {
			err:    &lessweb.CoercionError{Kind: lessweb.InvalidNumber, Param: "pet_id", Type: "int", Index: -1, Value: "abc"},
			expect: `lessweb: parameter "pet_id": invalid number "abc" for int`,
		},
		"list element": {
			err:    &lessweb.CoercionError{Kind: lessweb.InvalidEnum, Param: "kinds", Type: "Species", Index: 1, Value: "FISH"},
			expect: `lessweb: parameter "kinds": index 1: invalid enum value "FISH" for Species`,
		},
		"record field": {
			err:    &lessweb.CoercionError{Kind: lessweb.MissingField, Param: "pet", Type: "string", Field: "breed", Index: -1},
			expect: `lessweb: parameter "pet": field "breed": missing required field for string`,
		},
		"union": {
			err: &lessweb.CoercionError{
				Kind:      lessweb.InvalidUnion,
				Type:      "int | bool",
				Index:     -1,
				Value:     "x",
				Attempted: []string{"int", "bool"},
				Err:       errors.New("last"),
			},
			expect: `lessweb: no union alternative matched "x" for int | bool (tried int, bool): last`,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.EqualError(t, tc.err, tc.expect)
		})
	}
}

func TestErrors_sentinels(t *testing.T) {
	t.Parallel()

	cause := errors.New("cause")

	tests := map[string]struct {
		err      error
		sentinel error
	}{
		"coercion":   {err: &lessweb.CoercionError{Kind: lessweb.InvalidBoolean, Index: -1, Err: cause}, sentinel: lessweb.ErrCoercion},
		"signature":  {err: &lessweb.SignatureError{Handler: "h"}, sentinel: lessweb.ErrSignature},
		"resolution": {err: &lessweb.ResolutionError{Kind: lessweb.CycleDetected, Err: cause}, sentinel: lessweb.ErrResolution},
		"route":      {err: &lessweb.RouteError{Kind: lessweb.DuplicateRoute, Err: cause}, sentinel: lessweb.ErrRoute},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			wrapped := fmt.Errorf("outer: %w", tc.err)
			assert.ErrorIs(t, wrapped, tc.sentinel)
		})
	}
}

func TestResolutionError_Error(t *testing.T) {
	t.Parallel()

	err := &lessweb.ResolutionError{
		Kind:  lessweb.CycleDetected,
		Type:  "*A",
		Chain: []string{"*A", "*B", "*A"},
	}
	assert.EqualError(t, err, "lessweb: resolve *A: cycle detected [*A -> *B -> *A]")
}

func TestProblemFor(t *testing.T) {
	t.Parallel()

	t.Run("coercion error lists location", func(t *testing.T) {
		t.Parallel()
		pd := lessweb.ProblemFor(&lessweb.CoercionError{
			Kind:  lessweb.MissingField,
			Param: "pets",
			Index: 2,
			Field: "breed",
		})
		assert.Equal(t, http.StatusBadRequest, pd.Status)
		require.Len(t, pd.Errors, 1)
		assert.Equal(t, "pets.2.breed", pd.Errors[0].Field)
		assert.Equal(t, "missing required field", pd.Errors[0].Message)
	})

	t.Run("violations are qualified", func(t *testing.T) {
		t.Parallel()
		pd := lessweb.ProblemFor(&lessweb.CoercionError{
			Kind:  lessweb.ConstraintViolation,
			Param: "pet",
			Index: -1,
			Violations: []lessweb.ValidationError{
				{Field: "name", Message: "must be at least 2 characters"},
			},
		})
		require.Len(t, pd.Errors, 1)
		assert.Equal(t, "pet.name", pd.Errors[0].Field)
	})

	t.Run("problem detail passes through", func(t *testing.T) {
		t.Parallel()
		in := &lessweb.ProblemDetail{Status: http.StatusTeapot, Title: "teapot"}
		assert.Same(t, in, lessweb.ProblemFor(in))
	})

	t.Run("plain error", func(t *testing.T) {
		t.Parallel()
		pd := lessweb.ProblemFor(errors.New("boom"))
		assert.Equal(t, http.StatusInternalServerError, pd.Status)
		assert.Equal(t, "boom", pd.Detail)
		assert.Empty(t, pd.Errors)
	})
}
