package lessweb_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bjaus/lessweb"
)

func TestType_names(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		typ    *lessweb.Type
		name   string
		kind   lessweb.Kind
		goType reflect.Type
	}{
		"int":         {typ: lessweb.Int, name: "int", kind: lessweb.KindInt, goType: reflect.TypeFor[int]()},
		"list":        {typ: lessweb.ListOf(lessweb.Int), name: "list[int]", kind: lessweb.KindList, goType: reflect.TypeFor[[]int]()},
		"enum":        {typ: speciesType, name: "Species", kind: lessweb.KindEnum, goType: reflect.TypeFor[Species]()},
		"union":       {typ: lessweb.Union(lessweb.Int, lessweb.String), name: "int | string", kind: lessweb.KindUnion, goType: reflect.TypeFor[any]()},
		"same union":  {typ: lessweb.Union(lessweb.Date, lessweb.DateTime), name: "date | datetime", kind: lessweb.KindUnion, goType: reflect.TypeFor[time.Time]()},
		"literal":     {typ: lessweb.Literal("asc", "desc"), name: `literal["asc", "desc"]`, kind: lessweb.KindLiteral, goType: reflect.TypeFor[string]()},
		"alias":       {typ: lessweb.Alias[PetID](lessweb.Int), name: "lessweb_test.PetID", kind: lessweb.KindAlias, goType: reflect.TypeFor[PetID]()},
		"record":      {typ: lessweb.Record[pet](), name: "lessweb_test.pet", kind: lessweb.KindRecord, goType: reflect.TypeFor[pet]()},
		"record list": {typ: lessweb.RecordList[pet](), name: "list[lessweb_test.pet]", kind: lessweb.KindRecordList, goType: reflect.TypeFor[[]pet]()},
		"optional":    {typ: lessweb.Optional(lessweb.Int), name: "int?", kind: lessweb.KindOptional, goType: reflect.TypeFor[int]()},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.name, tc.typ.Name())
			assert.Equal(t, tc.kind, tc.typ.Kind())
			assert.Equal(t, tc.goType, tc.typ.GoType())
		})
	}
}

func TestType_IsBody(t *testing.T) {
	t.Parallel()

	assert.True(t, lessweb.Record[pet]().IsBody())
	assert.True(t, lessweb.RecordList[pet]().IsBody())
	assert.True(t, lessweb.Optional(lessweb.Record[pet]()).IsBody())
	assert.False(t, lessweb.Int.IsBody())
	assert.False(t, lessweb.ListOf(lessweb.String).IsBody())
}

func TestType_Members(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []any{Cat, Dog}, speciesType.Members())
	assert.Equal(t, []any{1, 2}, lessweb.Literal(1, 2).Members())
}

func TestType_invalidDeclarations(t *testing.T) {
	t.Parallel()

	tests := map[string]func(){
		"list of records":      func() { lessweb.ListOf(lessweb.Record[pet]()) },
		"list of lists":        func() { lessweb.ListOf(lessweb.ListOf(lessweb.Int)) },
		"empty enum":           func() { lessweb.Enum[Species]("Species") },
		"single union":         func() { lessweb.Union(lessweb.Int) },
		"union with record":    func() { lessweb.Union(lessweb.Int, lessweb.Record[pet]()) },
		"empty literal":        func() { lessweb.Literal() },
		"nil literal":          func() { lessweb.Literal(nil) },
		"inconvertible alias":  func() { lessweb.Alias[PetID](lessweb.String) },
		"record of non-struct": func() { lessweb.Record[string]() },
		"double optional":      func() { lessweb.Optional(lessweb.Optional(lessweb.Int)) },
	}

	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Panics(t, fn)
		})
	}
}
