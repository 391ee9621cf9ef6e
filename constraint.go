package lessweb

import (
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// collectConstraintErrors checks the constraint tags of every exported field
// of the struct rv, recursing into nested records, pointers to records, and
// lists of records.
func collectConstraintErrors(rv reflect.Value, prefix string, errs *[]ValidationError) {
	t := rv.Type()

	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		name, _ := tagOptions(f.Tag.Get("json"))
		if name == "-" {
			continue
		}

		fv := rv.Field(i)

		if f.Anonymous && name == "" && isPlainStruct(f.Type) {
			if fv.Kind() == reflect.Pointer {
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			collectConstraintErrors(fv, prefix, errs)
			continue
		}

		if name == "" {
			name = f.Name
		}
		path := joinPath(prefix, name)

		checkFieldConstraints(f, fv, path, errs)
		collectNested(fv, path, errs)
	}
}

func collectNested(fv reflect.Value, path string, errs *[]ValidationError) {
	//exhaustive:ignore
	switch fv.Kind() {
	case reflect.Pointer:
		if !fv.IsNil() {
			collectNested(fv.Elem(), path, errs)
		}
	case reflect.Struct:
		if isPlainStruct(fv.Type()) && fv.Type() != uuidType {
			collectConstraintErrors(fv, path, errs)
		}
	case reflect.Slice:
		for i := range fv.Len() {
			collectNested(fv.Index(i), fmt.Sprintf("%s[%d]", path, i), errs)
		}
	}
}

// constraintRule checks one constraint tag against a field value and
// returns the violation message and reported value, or ok.
type constraintRule struct {
	tag   string
	check func(tag string, fv reflect.Value) (msg string, value any, ok bool)
}

var (
	stringRules = []constraintRule{
		{"minLength", func(tag string, fv reflect.Value) (string, any, bool) {
			n, err := strconv.Atoi(tag)
			return fmt.Sprintf("must be at least %d characters", n), fv.String(),
				err != nil || utf8.RuneCountInString(fv.String()) >= n
		}},
		{"maxLength", func(tag string, fv reflect.Value) (string, any, bool) {
			n, err := strconv.Atoi(tag)
			return fmt.Sprintf("must be at most %d characters", n), fv.String(),
				err != nil || utf8.RuneCountInString(fv.String()) <= n
		}},
		{"pattern", func(tag string, fv reflect.Value) (string, any, bool) {
			matched, err := regexp.MatchString(tag, fv.String())
			return "must match pattern " + tag, fv.String(), err != nil || matched
		}},
		{"enum", func(tag string, fv reflect.Value) (string, any, bool) {
			return "must be one of [" + tag + "]", fv.String(), slices.Contains(strings.Split(tag, ","), fv.String())
		}},
	}

	numberRules = []constraintRule{
		{"minimum", func(tag string, fv reflect.Value) (string, any, bool) {
			bound, err := strconv.ParseFloat(tag, 64)
			return "must be at least " + tag, toFloat64(fv), err != nil || toFloat64(fv) >= bound
		}},
		{"maximum", func(tag string, fv reflect.Value) (string, any, bool) {
			bound, err := strconv.ParseFloat(tag, 64)
			return "must be at most " + tag, toFloat64(fv), err != nil || toFloat64(fv) <= bound
		}},
	}

	listRules = []constraintRule{
		{"minItems", func(tag string, fv reflect.Value) (string, any, bool) {
			n, err := strconv.Atoi(tag)
			return fmt.Sprintf("must have at least %d items", n), fv.Len(), err != nil || fv.Len() >= n
		}},
		{"maxItems", func(tag string, fv reflect.Value) (string, any, bool) {
			n, err := strconv.Atoi(tag)
			return fmt.Sprintf("must have at most %d items", n), fv.Len(), err != nil || fv.Len() <= n
		}},
	}
)

func checkFieldConstraints(f reflect.StructField, fv reflect.Value, path string, errs *[]ValidationError) {
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return
		}
		fv = fv.Elem()
	}

	var rules []constraintRule
	switch {
	case fv.Kind() == reflect.String:
		// Empty optional strings were absent from the document.
		if fv.Len() > 0 || fieldRequired(f) {
			rules = stringRules
		}
	case isNumericKind(fv.Kind()):
		rules = numberRules
	case fv.Kind() == reflect.Slice:
		rules = listRules
	}

	for _, rule := range rules {
		tag := f.Tag.Get(rule.tag)
		if tag == "" {
			continue
		}
		if msg, value, ok := rule.check(tag, fv); !ok {
			*errs = append(*errs, ValidationError{Field: path, Message: msg, Value: value})
		}
	}
}

func isNumericKind(k reflect.Kind) bool {
	//exhaustive:ignore
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func toFloat64(v reflect.Value) float64 {
	//exhaustive:ignore
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	default: // float32, float64
		return v.Float()
	}
}
