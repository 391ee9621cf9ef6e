package lessweb

import (
	"reflect"
	"strconv"
	"strings"
	"time"
)

// JSONSchema represents a JSON Schema object (the subset the route manifest
// needs).
type JSONSchema struct {
	Type        string                `json:"type,omitempty" yaml:"type,omitempty"`
	Format      string                `json:"format,omitempty" yaml:"format,omitempty"`
	Properties  map[string]JSONSchema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items       *JSONSchema           `json:"items,omitempty" yaml:"items,omitempty"`
	Required    []string              `json:"required,omitempty" yaml:"required,omitempty"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Enum        []string              `json:"enum,omitempty" yaml:"enum,omitempty"`
	Default     string                `json:"default,omitempty" yaml:"default,omitempty"`
	Ref         string                `json:"$ref,omitempty" yaml:"$ref,omitempty"`

	MinLength *int     `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Minimum   *float64 `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum   *float64 `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	MinItems  *int     `json:"minItems,omitempty" yaml:"minItems,omitempty"`
	MaxItems  *int     `json:"maxItems,omitempty" yaml:"maxItems,omitempty"`

	// AdditionalProperties can be true (any) or a schema.
	AdditionalProperties *JSONSchema `json:"additionalProperties,omitempty" yaml:"additionalProperties,omitempty"`
}

// typeToSchema converts a reflect.Type to a JSONSchema.
func typeToSchema(t reflect.Type) JSONSchema {
	// Unwrap pointer.
	if t.Kind() == reflect.Pointer {
		return typeToSchema(t.Elem())
	}

	// Handle well-known types.
	switch t {
	case timeType:
		return JSONSchema{Type: "string", Format: "date-time"}
	case durationType:
		return JSONSchema{Type: "string", Format: "duration"}
	case uuidType:
		return JSONSchema{Type: "string", Format: "uuid"}
	}

	//exhaustive:ignore
	switch t.Kind() {
	case reflect.String:
		return JSONSchema{Type: "string"}
	case reflect.Bool:
		return JSONSchema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return JSONSchema{Type: "integer"}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return JSONSchema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return JSONSchema{Type: "number"}
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return JSONSchema{Type: "string", Format: "byte"}
		}
		items := typeToSchema(t.Elem())
		return JSONSchema{Type: "array", Items: &items}
	case reflect.Array:
		items := typeToSchema(t.Elem())
		return JSONSchema{Type: "array", Items: &items}
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return JSONSchema{Type: "object"}
		}
		valSchema := typeToSchema(t.Elem())
		return JSONSchema{Type: "object", AdditionalProperties: &valSchema}
	case reflect.Struct:
		return structToSchema(t)
	default:
		return JSONSchema{}
	}
}

// structToSchema converts a struct type to a JSONSchema with properties,
// using the same field naming and requiredness rules as record decoding.
func structToSchema(t reflect.Type) JSONSchema {
	schema := JSONSchema{
		Type:       "object",
		Properties: make(map[string]JSONSchema),
	}
	addStructFields(&schema, t)
	return schema
}

func addStructFields(schema *JSONSchema, t reflect.Type) {
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		name, _ := tagOptions(f.Tag.Get("json"))
		if name == "-" {
			continue
		}
		if f.Anonymous && name == "" && isPlainStruct(f.Type) {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			addStructFields(schema, ft)
			continue
		}
		name = jsonFieldName(f)

		prop := typeToSchema(f.Type)
		if doc := f.Tag.Get("doc"); doc != "" {
			prop.Description = doc
		}
		if def, ok := f.Tag.Lookup("default"); ok {
			prop.Default = def
		}
		applyConstraintTags(&prop, f)

		schema.Properties[name] = prop
		if fieldRequired(f) {
			schema.Required = append(schema.Required, name)
		}
	}
}

// applyConstraintTags copies constraint tags onto the property schema.
func applyConstraintTags(s *JSONSchema, f reflect.StructField) {
	intTag := func(name string) *int {
		if n, err := strconv.Atoi(f.Tag.Get(name)); err == nil {
			return &n
		}
		return nil
	}
	floatTag := func(name string) *float64 {
		if n, err := strconv.ParseFloat(f.Tag.Get(name), 64); err == nil {
			return &n
		}
		return nil
	}

	s.MinLength = intTag("minLength")
	s.MaxLength = intTag("maxLength")
	s.Pattern = f.Tag.Get("pattern")
	s.Minimum = floatTag("minimum")
	s.Maximum = floatTag("maximum")
	s.MinItems = intTag("minItems")
	s.MaxItems = intTag("maxItems")
	if tag := f.Tag.Get("enum"); tag != "" {
		s.Enum = strings.Split(tag, ",")
	}
}

// shapeSchema describes a declared path or query Type.
func shapeSchema(t *Type) JSONSchema {
	switch t.kind {
	case KindDate:
		return JSONSchema{Type: "string", Format: "date"}
	case KindTimeOfDay:
		return JSONSchema{Type: "string", Format: "time"}
	case KindList:
		items := shapeSchema(t.elem)
		return JSONSchema{Type: "array", Items: &items}
	case KindEnum, KindLiteral:
		s := typeToSchema(t.goType)
		for _, m := range t.members {
			s.Enum = append(s.Enum, renderValue(m))
		}
		return s
	case KindUnion:
		return JSONSchema{Description: t.name}
	case KindAlias, KindOptional:
		return shapeSchema(t.elem)
	default:
		if t.goType == reflect.TypeFor[time.Time]() {
			return JSONSchema{Type: "string", Format: "date-time"}
		}
		return typeToSchema(t.goType)
	}
}
