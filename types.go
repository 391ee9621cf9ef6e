package lessweb

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the shape of a declared Type.
type Kind int

// Type shapes understood by the Coercer.
const (
	KindString Kind = iota + 1
	KindInt
	KindInt64
	KindFloat
	KindBool
	KindUUID
	KindDuration
	KindDateTime
	KindDate
	KindTimeOfDay
	KindList
	KindEnum
	KindUnion
	KindLiteral
	KindAlias
	KindRecord
	KindRecordList
	KindOptional
)

var kindNames = map[Kind]string{
	KindString:     "string",
	KindInt:        "int",
	KindInt64:      "int64",
	KindFloat:      "float",
	KindBool:       "bool",
	KindUUID:       "uuid",
	KindDuration:   "duration",
	KindDateTime:   "datetime",
	KindDate:       "date",
	KindTimeOfDay:  "time",
	KindList:       "list",
	KindEnum:       "enum",
	KindUnion:      "union",
	KindLiteral:    "literal",
	KindAlias:      "alias",
	KindRecord:     "record",
	KindRecordList: "record-list",
	KindOptional:   "optional",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Type is a declared parameter type. Types are built once at startup and
// never mutated, so they are safe to share between requests.
type Type struct {
	kind    Kind
	name    string
	goType  reflect.Type
	elem    *Type
	alts    []*Type
	members []reflect.Value
}

// Kind returns the shape of the type.
func (t *Type) Kind() Kind { return t.kind }

// Name returns the display name used in errors and route manifests.
func (t *Type) Name() string { return t.name }

// String implements fmt.Stringer.
func (t *Type) String() string { return t.name }

// GoType returns the Go type of coerced values.
func (t *Type) GoType() reflect.Type { return t.goType }

// Elem returns the element type of a list, the underlying type of an alias,
// or the wrapped type of an optional. It returns nil for other shapes.
func (t *Type) Elem() *Type { return t.elem }

// Alternatives returns the alternatives of a union in declaration order.
func (t *Type) Alternatives() []*Type { return append([]*Type(nil), t.alts...) }

// Members returns the allowed values of an enum or literal type.
func (t *Type) Members() []any {
	out := make([]any, len(t.members))
	for i, m := range t.members {
		out[i] = m.Interface()
	}
	return out
}

// IsBody reports whether the type can only be bound from a request body.
func (t *Type) IsBody() bool {
	switch t.kind {
	case KindRecord, KindRecordList:
		return true
	case KindOptional:
		return t.elem.IsBody()
	default:
		return false
	}
}

// IsOptional reports whether an absent value is acceptable.
func (t *Type) IsOptional() bool { return t.kind == KindOptional }

func (t *Type) scalar() bool {
	switch t.kind {
	case KindList, KindRecord, KindRecordList, KindOptional:
		return false
	case KindUnion:
		for _, a := range t.alts {
			if !a.scalar() {
				return false
			}
		}
		return true
	case KindAlias:
		return t.elem.scalar()
	default:
		return true
	}
}

func primitive(kind Kind, name string, goType reflect.Type) *Type {
	return &Type{kind: kind, name: name, goType: goType}
}

// Built-in primitive and temporal types.
var (
	String    = primitive(KindString, "string", reflect.TypeFor[string]())
	Int       = primitive(KindInt, "int", reflect.TypeFor[int]())
	Int64     = primitive(KindInt64, "int64", reflect.TypeFor[int64]())
	Float     = primitive(KindFloat, "float", reflect.TypeFor[float64]())
	Bool      = primitive(KindBool, "bool", reflect.TypeFor[bool]())
	UUID      = primitive(KindUUID, "uuid", reflect.TypeFor[uuid.UUID]())
	Duration  = primitive(KindDuration, "duration", reflect.TypeFor[time.Duration]())
	DateTime  = primitive(KindDateTime, "datetime", reflect.TypeFor[time.Time]())
	Date      = primitive(KindDate, "date", reflect.TypeFor[time.Time]())
	TimeOfDay = primitive(KindTimeOfDay, "time", reflect.TypeFor[time.Time]())
)

// ListOf declares a comma-separated collection of scalar elements.
// It panics if elem is not a scalar type.
func ListOf(elem *Type) *Type {
	if elem == nil || !elem.scalar() {
		panic(fmt.Sprintf("lessweb: ListOf requires a scalar element type, got %v", elem))
	}
	return &Type{
		kind:   KindList,
		name:   "list[" + elem.name + "]",
		goType: reflect.SliceOf(elem.goType),
		elem:   elem,
	}
}

// Enum declares an enumeration whose raw values are matched against the
// rendered value of each member, never against a member's String method.
func Enum[E comparable](name string, members ...E) *Type {
	if len(members) == 0 {
		panic("lessweb: Enum " + name + " requires at least one member")
	}
	t := &Type{kind: KindEnum, name: name, goType: reflect.TypeFor[E]()}
	for _, m := range members {
		t.members = append(t.members, reflect.ValueOf(m))
	}
	return t
}

// Union declares a sum of alternatives attempted in declaration order.
func Union(alts ...*Type) *Type {
	if len(alts) < 2 {
		panic("lessweb: Union requires at least two alternatives")
	}
	names := make([]string, len(alts))
	goType := alts[0].goType
	for i, a := range alts {
		if a == nil || a.IsBody() || a.kind == KindOptional {
			panic(fmt.Sprintf("lessweb: invalid Union alternative %v", a))
		}
		names[i] = a.name
		if a.goType != goType {
			goType = reflect.TypeFor[any]()
		}
	}
	return &Type{
		kind:   KindUnion,
		name:   strings.Join(names, " | "),
		goType: goType,
		alts:   alts,
	}
}

// Literal declares a value constrained to one of the given literals.
func Literal(values ...any) *Type {
	if len(values) == 0 {
		panic("lessweb: Literal requires at least one value")
	}
	t := &Type{kind: KindLiteral}
	rendered := make([]string, len(values))
	for i, v := range values {
		rv := reflect.ValueOf(v)
		if !rv.IsValid() {
			panic("lessweb: Literal values must not be nil")
		}
		t.members = append(t.members, rv)
		rendered[i] = fmt.Sprintf("%q", renderValue(rv))
		switch {
		case t.goType == nil:
			t.goType = rv.Type()
		case t.goType != rv.Type():
			t.goType = reflect.TypeFor[any]()
		}
	}
	t.name = "literal[" + strings.Join(rendered, ", ") + "]"
	return t
}

// Alias declares a named Go type over an underlying type, such as
// `type PetID int`. Coercion recurses into the underlying type and converts
// the result to A.
func Alias[A any](underlying *Type) *Type {
	goType := reflect.TypeFor[A]()
	if underlying == nil || !underlying.goType.ConvertibleTo(goType) {
		panic(fmt.Sprintf("lessweb: Alias %s is not convertible from %v", goType, underlying))
	}
	return &Type{kind: KindAlias, name: goType.String(), goType: goType, elem: underlying}
}

// Record declares a body-bound JSON object decoded into struct T.
func Record[T any]() *Type {
	goType := reflect.TypeFor[T]()
	if goType.Kind() != reflect.Struct {
		panic("lessweb: Record requires a struct type, got " + goType.String())
	}
	return &Type{kind: KindRecord, name: goType.String(), goType: goType}
}

// RecordList declares a body-bound JSON array of T records.
func RecordList[T any]() *Type {
	elem := Record[T]()
	return &Type{
		kind:   KindRecordList,
		name:   "list[" + elem.name + "]",
		goType: reflect.SliceOf(elem.goType),
		elem:   elem,
	}
}

// Optional marks a type whose absence binds the zero value instead of
// failing.
func Optional(t *Type) *Type {
	if t == nil || t.kind == KindOptional {
		panic(fmt.Sprintf("lessweb: invalid Optional type %v", t))
	}
	return &Type{kind: KindOptional, name: t.name + "?", goType: t.goType, elem: t}
}

// renderValue returns the canonical string form of an enum member or literal.
func renderValue(v reflect.Value) string {
	//exhaustive:ignore
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Bool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%d", v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprintf("%d", v.Uint())
	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%v", v.Float())
	default:
		return fmt.Sprint(v.Interface())
	}
}
