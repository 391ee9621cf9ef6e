package lessweb_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/lessweb"
)

func TestTypeToSchema(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		typ    reflect.Type
		want   string
		format string
	}{
		"string":   {typ: reflect.TypeFor[string](), want: "string"},
		"bool":     {typ: reflect.TypeFor[bool](), want: "boolean"},
		"int":      {typ: reflect.TypeFor[int](), want: "integer"},
		"uint8":    {typ: reflect.TypeFor[uint8](), want: "integer"},
		"float":    {typ: reflect.TypeFor[float64](), want: "number"},
		"time":     {typ: reflect.TypeFor[time.Time](), want: "string", format: "date-time"},
		"duration": {typ: reflect.TypeFor[time.Duration](), want: "string", format: "duration"},
		"uuid":     {typ: reflect.TypeFor[uuid.UUID](), want: "string", format: "uuid"},
		"bytes":    {typ: reflect.TypeFor[[]byte](), want: "string", format: "byte"},
		"pointer":  {typ: reflect.TypeFor[*int](), want: "integer"},
		"slice":    {typ: reflect.TypeFor[[]string](), want: "array"},
		"map":      {typ: reflect.TypeFor[map[string]int](), want: "object"},
		"struct":   {typ: reflect.TypeFor[owner](), want: "object"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := lessweb.TypeToSchema(tc.typ)
			assert.Equal(t, tc.want, s.Type)
			assert.Equal(t, tc.format, s.Format)
		})
	}
}

func TestTypeToSchema_containers(t *testing.T) {
	t.Parallel()

	s := lessweb.TypeToSchema(reflect.TypeFor[[]int]())
	require.NotNil(t, s.Items)
	assert.Equal(t, "integer", s.Items.Type)

	s = lessweb.TypeToSchema(reflect.TypeFor[map[string]bool]())
	require.NotNil(t, s.AdditionalProperties)
	assert.Equal(t, "boolean", s.AdditionalProperties.Type)

	s = lessweb.TypeToSchema(reflect.TypeFor[map[int]bool]())
	assert.Nil(t, s.AdditionalProperties)
}

type Audit struct {
	CreatedBy string `json:"created_by"`
}

type listing struct {
	Audit
	Title   string   `json:"title" doc:"Headline shown in search" maxLength:"80"`
	Price   float64  `json:"price" minimum:"0"`
	Kind    string   `json:"kind,omitempty" enum:"sale,rent"`
	Photos  []string `json:"photos" maxItems:"10"`
	Hidden  string   `json:"-"`
	private string
}

func TestStructToSchema(t *testing.T) {
	t.Parallel()

	s := lessweb.StructToSchema(reflect.TypeFor[listing]())
	assert.Equal(t, "object", s.Type)
	assert.ElementsMatch(t, []string{"created_by", "title", "price"}, s.Required)
	assert.Len(t, s.Properties, 5)
	assert.NotContains(t, s.Properties, "Hidden")
	assert.NotContains(t, s.Properties, "private")

	title := s.Properties["title"]
	assert.Equal(t, "Headline shown in search", title.Description)
	require.NotNil(t, title.MaxLength)
	assert.Equal(t, 80, *title.MaxLength)

	require.NotNil(t, s.Properties["price"].Minimum)
	assert.Zero(t, *s.Properties["price"].Minimum)
	assert.Equal(t, []string{"sale", "rent"}, s.Properties["kind"].Enum)
	require.NotNil(t, s.Properties["photos"].MaxItems)
	assert.Equal(t, 10, *s.Properties["photos"].MaxItems)
}

func TestStructToSchema_defaults(t *testing.T) {
	t.Parallel()

	s := lessweb.StructToSchema(reflect.TypeFor[pet]())
	assert.ElementsMatch(t, []string{"name", "breed"}, s.Required)
	assert.Equal(t, "1", s.Properties["age"].Default)
	require.NotNil(t, s.Properties["name"].MinLength)
	assert.Equal(t, 2, *s.Properties["name"].MinLength)
	assert.Equal(t, "date-time", s.Properties["born"].Format)
	assert.Equal(t, "object", s.Properties["owner"].Type)
}

func TestApplyConstraintTags(t *testing.T) {
	t.Parallel()

	f, ok := reflect.TypeFor[constrained]().FieldByName("Code")
	require.True(t, ok)

	var s lessweb.JSONSchema
	lessweb.ApplyConstraintTags(&s, f)
	assert.NotEmpty(t, s.Pattern)
	assert.Nil(t, s.Minimum)
}

func TestShapeSchema(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		typ    *lessweb.Type
		want   string
		format string
		enum   []string
	}{
		"int":         {typ: lessweb.Int, want: "integer"},
		"date":        {typ: lessweb.Date, want: "string", format: "date"},
		"time of day": {typ: lessweb.TimeOfDay, want: "string", format: "time"},
		"datetime":    {typ: lessweb.DateTime, want: "string", format: "date-time"},
		"uuid":        {typ: lessweb.UUID, want: "string", format: "uuid"},
		"list":        {typ: lessweb.ListOf(lessweb.Int), want: "array"},
		"enum":        {typ: speciesType, want: "string", enum: []string{"CAT", "DOG"}},
		"literal":     {typ: lessweb.Literal("asc", "desc"), want: "string", enum: []string{"asc", "desc"}},
		"alias":       {typ: lessweb.Alias[PetID](lessweb.Int), want: "integer"},
		"optional":    {typ: lessweb.Optional(lessweb.Bool), want: "boolean"},
		"union":       {typ: lessweb.Union(lessweb.Int, lessweb.String)},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := lessweb.ShapeSchema(tc.typ)
			assert.Equal(t, tc.want, s.Type)
			assert.Equal(t, tc.format, s.Format)
			assert.Equal(t, tc.enum, s.Enum)
		})
	}
}
