package lessweb

import (
	"bytes"
	"encoding"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnknownFieldPolicy selects how record decoding treats undeclared keys.
type UnknownFieldPolicy int

// Unknown field policies.
const (
	IgnoreUnknownFields UnknownFieldPolicy = iota
	RejectUnknownFields
)

// ParseUnknownFieldPolicy parses "ignore" or "reject".
func ParseUnknownFieldPolicy(s string) (UnknownFieldPolicy, error) {
	switch strings.ToLower(s) {
	case "", "ignore":
		return IgnoreUnknownFields, nil
	case "reject":
		return RejectUnknownFields, nil
	default:
		return 0, fmt.Errorf("lessweb: unknown field policy %q", s)
	}
}

const timeOffsetLayout = "15:04:05Z07:00"

var (
	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
	uuidType     = reflect.TypeFor[uuid.UUID]()

	errNotObject = errors.New("expected a JSON object")
	errNotArray  = errors.New("expected a JSON array")
	errMultiLine = errors.New("expected a single line of values")
)

// Coercer converts raw request values into values of declared types. It has
// no state beyond its policy and is safe for concurrent use.
type Coercer struct {
	unknown UnknownFieldPolicy
}

// NewCoercer returns a Coercer applying the given unknown field policy to
// record bodies.
func NewCoercer(policy UnknownFieldPolicy) *Coercer {
	return &Coercer{unknown: policy}
}

// Coerce converts a path capture or query value to t.
func (c *Coercer) Coerce(raw string, t *Type) (any, error) {
	v, err := c.coerce(raw, t)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// CoerceBody converts a raw request body to t. Record shapes decode the body
// as JSON; scalar shapes treat the body as text.
func (c *Coercer) CoerceBody(raw []byte, t *Type) (any, error) {
	v, err := c.coerceBody(raw, t)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func (c *Coercer) coerce(raw string, t *Type) (reflect.Value, error) {
	switch t.kind {
	case KindString:
		return reflect.ValueOf(raw), nil
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 0)
		if err != nil {
			return reflect.Value{}, newCoercionError(InvalidNumber, t, raw, numErr(err))
		}
		return reflect.ValueOf(int(n)), nil
	case KindInt64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return reflect.Value{}, newCoercionError(InvalidNumber, t, raw, numErr(err))
		}
		return reflect.ValueOf(n), nil
	case KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return reflect.Value{}, newCoercionError(InvalidNumber, t, raw, numErr(err))
		}
		return reflect.ValueOf(f), nil
	case KindBool:
		b, ok := parseBool(raw)
		if !ok {
			return reflect.Value{}, newCoercionError(InvalidBoolean, t, raw, nil)
		}
		return reflect.ValueOf(b), nil
	case KindUUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return reflect.Value{}, newCoercionError(InvalidUUID, t, raw, err)
		}
		return reflect.ValueOf(id), nil
	case KindDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return reflect.Value{}, newCoercionError(InvalidDuration, t, raw, err)
		}
		return reflect.ValueOf(d), nil
	case KindDateTime, KindDate, KindTimeOfDay:
		tm, err := parseTemporal(raw, t.kind)
		if err != nil {
			return reflect.Value{}, newCoercionError(InvalidTemporal, t, raw, err)
		}
		return reflect.ValueOf(tm), nil
	case KindList:
		return c.coerceList(raw, t)
	case KindEnum:
		if m, ok := matchMember(raw, t.members); ok {
			return m, nil
		}
		return reflect.Value{}, newCoercionError(InvalidEnum, t, raw, nil)
	case KindLiteral:
		if m, ok := matchMember(raw, t.members); ok {
			return m, nil
		}
		return reflect.Value{}, newCoercionError(InvalidLiteral, t, raw, nil)
	case KindUnion:
		return c.coerceUnion(raw, t)
	case KindAlias:
		v, err := c.coerce(raw, t.elem)
		if err != nil {
			var ce *CoercionError
			if errors.As(err, &ce) {
				ce.Type = t.name
			}
			return reflect.Value{}, err
		}
		return v.Convert(t.goType), nil
	case KindRecord, KindRecordList:
		return c.coerceBody([]byte(raw), t)
	case KindOptional:
		return c.coerce(raw, t.elem)
	default:
		return reflect.Value{}, fmt.Errorf("lessweb: unsupported type %s", t.name)
	}
}

func (c *Coercer) coerceList(raw string, t *Type) (reflect.Value, error) {
	out := reflect.MakeSlice(t.goType, 0, 0)
	if raw == "" {
		return out, nil
	}
	fields, err := splitList(raw)
	if err != nil {
		return reflect.Value{}, newCoercionError(InvalidList, t, raw, err)
	}
	for i, field := range fields {
		v, err := c.coerce(field, t.elem)
		if err != nil {
			return reflect.Value{}, atIndex(err, i)
		}
		out = reflect.Append(out, v)
	}
	return out, nil
}

// splitList parses raw as exactly one CSV record.
func splitList(raw string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(raw))
	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		return nil, errMultiLine
	}
	return fields, nil
}

func (c *Coercer) coerceUnion(raw string, t *Type) (reflect.Value, error) {
	attempted := make([]string, 0, len(t.alts))
	var last error
	for _, alt := range t.alts {
		v, err := c.coerce(raw, alt)
		if err == nil {
			return v, nil
		}
		attempted = append(attempted, alt.name)
		last = err
	}
	ce := newCoercionError(InvalidUnion, t, raw, last)
	ce.Attempted = attempted
	return reflect.Value{}, ce
}

func (c *Coercer) coerceBody(raw []byte, t *Type) (reflect.Value, error) {
	switch t.kind {
	case KindOptional:
		return c.coerceBody(raw, t.elem)
	case KindRecord:
		return c.decodeRecord(raw, t)
	case KindRecordList:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return reflect.Value{}, newCoercionError(InvalidDocument, t, "", errNotArray)
		}
		out := reflect.MakeSlice(t.goType, 0, len(items))
		for i, item := range items {
			v, err := c.decodeRecord(item, t.elem)
			if err != nil {
				return reflect.Value{}, atIndex(err, i)
			}
			out = reflect.Append(out, v)
		}
		return out, nil
	default:
		return c.coerce(string(raw), t)
	}
}

// decodeRecord decodes one JSON object into a fresh value of t's struct
// type, then runs constraint tags and self-validation.
func (c *Coercer) decodeRecord(raw []byte, t *Type) (reflect.Value, error) {
	ptr := reflect.New(t.goType)
	if err := c.decodeObject(raw, ptr.Elem(), ""); err != nil {
		return reflect.Value{}, err
	}

	var violations []ValidationError
	collectConstraintErrors(ptr.Elem(), "", &violations)
	if len(violations) > 0 {
		ce := newCoercionError(ConstraintViolation, t, "", fmt.Errorf("%d constraint violation(s)", len(violations)))
		ce.Field = violations[0].Field
		ce.Violations = violations
		return reflect.Value{}, ce
	}

	if sv, ok := ptr.Interface().(SelfValidator); ok {
		if err := sv.Validate(); err != nil {
			return reflect.Value{}, newCoercionError(ConstraintViolation, t, "", err)
		}
	}
	return ptr.Elem(), nil
}

func (c *Coercer) decodeObject(raw []byte, dst reflect.Value, path string) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return fieldError(InvalidDocument, path, dst.Type(), "", errNotObject)
	}

	seen := make(map[string]bool, len(obj))
	if err := c.decodeFields(obj, dst, path, seen); err != nil {
		return err
	}

	if c.unknown == RejectUnknownFields {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			if !seen[k] {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			slices.Sort(keys)
			return fieldError(UnknownField, joinPath(path, keys[0]), dst.Type(), "", nil)
		}
	}
	return nil
}

func (c *Coercer) decodeFields(obj map[string]json.RawMessage, dst reflect.Value, path string, seen map[string]bool) error {
	typ := dst.Type()
	for i := range typ.NumField() {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}

		name, _ := tagOptions(f.Tag.Get("json"))
		if name == "-" {
			continue
		}

		fv := dst.Field(i)

		// Untagged embedded structs contribute their fields to the parent.
		if f.Anonymous && name == "" && isPlainStruct(f.Type) {
			if f.Type.Kind() == reflect.Pointer {
				fv.Set(reflect.New(f.Type.Elem()))
				fv = fv.Elem()
			}
			if err := c.decodeFields(obj, fv, path, seen); err != nil {
				return err
			}
			continue
		}

		if name == "" {
			name = f.Name
		}
		fieldPath := joinPath(path, name)

		raw, ok := obj[name]
		if ok {
			seen[name] = true
		}
		if !ok || isNull(raw) {
			if def, has := f.Tag.Lookup("default"); has {
				if err := setDefault(fv, def); err != nil {
					return fieldError(kindFor(f.Type), fieldPath, f.Type, def, err)
				}
				continue
			}
			if fieldRequired(f) {
				return fieldError(MissingField, fieldPath, f.Type, "", nil)
			}
			continue
		}

		if err := c.decodeValue(raw, fv, fieldPath); err != nil {
			return err
		}
	}
	return nil
}

// decodeValue decodes raw into the addressable value dst.
func (c *Coercer) decodeValue(raw json.RawMessage, dst reflect.Value, path string) error {
	t := dst.Type()
	if isNull(raw) {
		dst.Set(reflect.Zero(t))
		return nil
	}

	switch t {
	case timeType:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fieldError(InvalidTemporal, path, t, string(raw), err)
		}
		tm, err := parseTemporal(s, KindDateTime)
		if err != nil {
			return fieldError(InvalidTemporal, path, t, s, err)
		}
		dst.Set(reflect.ValueOf(tm))
		return nil
	case durationType:
		d, err := decodeDuration(raw)
		if err != nil {
			return fieldError(InvalidDuration, path, t, string(raw), err)
		}
		dst.SetInt(int64(d))
		return nil
	}

	if t.Kind() == reflect.Pointer {
		elem := reflect.New(t.Elem())
		if err := c.decodeValue(raw, elem.Elem(), path); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	if u, ok := dst.Addr().Interface().(json.Unmarshaler); ok {
		if err := u.UnmarshalJSON(raw); err != nil {
			return fieldError(kindFor(t), path, t, string(raw), err)
		}
		return nil
	}

	//exhaustive:ignore
	switch t.Kind() {
	case reflect.Struct:
		if _, ok := dst.Addr().Interface().(encoding.TextUnmarshaler); !ok {
			return c.decodeObject(raw, dst, path)
		}
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			break
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return fieldError(InvalidDocument, path, t, string(raw), errNotArray)
		}
		out := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			if err := c.decodeValue(item, out.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			break
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fieldError(InvalidDocument, path, t, string(raw), errNotObject)
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		out := reflect.MakeMapWithSize(t, len(obj))
		for _, k := range keys {
			ev := reflect.New(t.Elem()).Elem()
			if err := c.decodeValue(obj[k], ev, joinPath(path, k)); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), ev)
		}
		dst.Set(out)
		return nil
	}

	if err := json.Unmarshal(raw, dst.Addr().Interface()); err != nil {
		return fieldError(kindFor(t), path, t, string(raw), err)
	}
	return nil
}

// setDefault applies a `default` struct tag value using the same scalar rules
// as path and query coercion.
func setDefault(dst reflect.Value, raw string) error {
	t := dst.Type()
	if t.Kind() == reflect.Pointer {
		elem := reflect.New(t.Elem())
		if err := setDefault(elem.Elem(), raw); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	switch t {
	case timeType:
		tm, err := parseTemporal(raw, KindDateTime)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(tm))
		return nil
	case durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		dst.SetInt(int64(d))
		return nil
	}

	if u, ok := dst.Addr().Interface().(encoding.TextUnmarshaler); ok {
		return u.UnmarshalText([]byte(raw))
	}

	//exhaustive:ignore
	switch t.Kind() {
	case reflect.String:
		dst.SetString(raw)
	case reflect.Bool:
		b, ok := parseBool(raw)
		if !ok {
			return fmt.Errorf("invalid boolean %q", raw)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, t.Bits())
		if err != nil {
			return numErr(err)
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, t.Bits())
		if err != nil {
			return numErr(err)
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, t.Bits())
		if err != nil {
			return numErr(err)
		}
		dst.SetFloat(f)
	case reflect.Slice:
		out := reflect.MakeSlice(t, 0, 0)
		if raw != "" {
			fields, err := splitList(raw)
			if err != nil {
				return err
			}
			out = reflect.MakeSlice(t, len(fields), len(fields))
			for i, field := range fields {
				if err := setDefault(out.Index(i), field); err != nil {
					return err
				}
			}
		}
		dst.Set(out)
	default:
		return json.Unmarshal([]byte(raw), dst.Addr().Interface())
	}
	return nil
}

func parseBool(raw string) (bool, bool) {
	switch {
	case strings.EqualFold(raw, "true"), raw == "1", raw == "✔":
		return true, true
	case strings.EqualFold(raw, "false"), raw == "0", raw == "✖":
		return false, true
	default:
		return false, false
	}
}

// parseTemporal parses the interchange timestamp format or the date-only and
// time-only substrings of it.
func parseTemporal(raw string, kind Kind) (time.Time, error) {
	//exhaustive:ignore
	switch kind {
	case KindDate:
		return time.Parse(time.DateOnly, raw)
	case KindTimeOfDay:
		if tm, err := time.Parse(timeOffsetLayout, raw); err == nil {
			return tm, nil
		}
		return time.Parse(time.TimeOnly, raw)
	default:
		return time.Parse(time.RFC3339, raw)
	}
}

func decodeDuration(raw json.RawMessage) (time.Duration, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return time.ParseDuration(s)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return time.Duration(n), nil
}

func matchMember(raw string, members []reflect.Value) (reflect.Value, bool) {
	for _, m := range members {
		if renderValue(m) == raw {
			return m, true
		}
	}
	return reflect.Value{}, false
}

func numErr(err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		return ne.Err
	}
	return err
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isPlainStruct(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t != timeType
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// atIndex records the list position of a failing element.
func atIndex(err error, i int) error {
	var ce *CoercionError
	if errors.As(err, &ce) {
		ce.Index = i
	}
	return err
}

func fieldError(kind CoercionKind, path string, t reflect.Type, value string, err error) *CoercionError {
	return &CoercionError{Kind: kind, Type: t.String(), Field: path, Index: -1, Value: value, Err: err}
}

// kindFor picks the failure kind reported for a Go field type.
func kindFor(t reflect.Type) CoercionKind {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t {
	case timeType:
		return InvalidTemporal
	case durationType:
		return InvalidDuration
	case uuidType:
		return InvalidUUID
	}

	//exhaustive:ignore
	switch t.Kind() {
	case reflect.Bool:
		return InvalidBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return InvalidNumber
	case reflect.String:
		return InvalidString
	default:
		return InvalidDocument
	}
}
