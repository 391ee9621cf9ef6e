package lessweb

import (
	"reflect"
	"strings"
)

// fieldRequired reports whether a record field must be present in a body.
// A `required` tag wins; otherwise pointers, slices, maps, interfaces,
// omitempty fields, and fields with a `default` tag are optional.
func fieldRequired(f reflect.StructField) bool {
	switch f.Tag.Get("required") {
	case "true":
		return true
	case "false":
		return false
	}

	//exhaustive:ignore
	switch f.Type.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return false
	}

	_, opts := tagOptions(f.Tag.Get("json"))
	if tagContains(opts, "omitempty") || tagContains(opts, "omitzero") {
		return false
	}

	_, hasDefault := f.Tag.Lookup("default")
	return !hasDefault
}

// jsonFieldName returns the JSON field name for a struct field.
func jsonFieldName(f reflect.StructField) string {
	name, _ := tagOptions(f.Tag.Get("json"))
	if name == "" {
		return f.Name
	}
	return name
}

// tagOptions splits a struct tag value on comma and returns
// the name and remaining options.
func tagOptions(tag string) (string, string) {
	name, opts, _ := strings.Cut(tag, ",")
	return name, opts
}

// tagContains reports whether a comma-separated list of options
// contains a particular option.
func tagContains(opts string, name string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == name {
			return true
		}
	}
	return false
}
