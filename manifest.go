package lessweb

import (
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest documents the registered routes. It is the input to external
// documentation tooling; wildcard routes are not included.
type Manifest struct {
	Routes     []RouteDoc            `json:"routes" yaml:"routes"`
	Components map[string]JSONSchema `json:"components,omitempty" yaml:"components,omitempty"`
}

// RouteDoc documents one route.
type RouteDoc struct {
	Method     string     `json:"method" yaml:"method"`
	Path       string     `json:"path" yaml:"path"`
	Handler    string     `json:"handler" yaml:"handler"`
	Event      string     `json:"event,omitempty" yaml:"event,omitempty"`
	Background bool       `json:"background,omitempty" yaml:"background,omitempty"`
	Params     []ParamDoc `json:"params,omitempty" yaml:"params,omitempty"`
}

// ParamDoc documents one bound parameter.
type ParamDoc struct {
	Name     string      `json:"name" yaml:"name"`
	In       string      `json:"in" yaml:"in"`
	Type     string      `json:"type" yaml:"type"`
	Required bool        `json:"required" yaml:"required"`
	Schema   *JSONSchema `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Manifest builds the route manifest.
func (t *RouteTable) Manifest() Manifest {
	m := Manifest{Routes: []RouteDoc{}, Components: map[string]JSONSchema{}}

	for _, e := range t.Routes() {
		if e.IsWildcard() {
			continue
		}
		doc := RouteDoc{
			Method:     e.method,
			Path:       e.pattern,
			Handler:    e.handler.Name,
			Event:      e.handler.Endpoint.Event,
			Background: e.handler.Endpoint.Background,
		}
		placeholders := pathParamNames(e.pattern)
		for _, p := range e.params {
			switch p.class {
			case Body:
				rec := p.typ
				if rec.kind == KindOptional {
					rec = rec.elem
				}
				if rec.kind == KindRecordList {
					rec = rec.elem
				}
				name := rec.goType.Name()
				m.Components[name] = structToSchema(rec.goType)
				ref := JSONSchema{Ref: "#/components/" + name}
				if p.typ.kind == KindRecordList || (p.typ.kind == KindOptional && p.typ.elem.kind == KindRecordList) {
					ref = JSONSchema{Type: "array", Items: &ref}
				}
				doc.Params = append(doc.Params, ParamDoc{Name: p.name, In: "body", Type: p.typ.name, Required: p.Required(), Schema: &ref})
			case PathOrQuery:
				in := "query"
				if placeholders[p.name] {
					in = "path"
				}
				s := shapeSchema(p.typ)
				doc.Params = append(doc.Params, ParamDoc{Name: p.name, In: in, Type: p.typ.name, Required: in == "path" || p.Required(), Schema: &s})
			case Context:
			}
		}
		m.Routes = append(m.Routes, doc)
	}

	if len(m.Components) == 0 {
		m.Components = nil
	}
	return m
}

// WriteManifest writes the route manifest as YAML to w.
func (t *RouteTable) WriteManifest(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(t.Manifest()); err != nil {
		return err
	}
	return enc.Close()
}

// pathParamNames returns the placeholder names of a path template. A
// placeholder's custom pattern may itself contain braces.
func pathParamNames(pattern string) map[string]bool {
	names := make(map[string]bool)
	depth, start := 0, 0
	for i, r := range pattern {
		switch r {
		case '{':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case '}':
			depth--
			if depth == 0 {
				name, _, _ := strings.Cut(pattern[start:i], ":")
				names[name] = true
			}
		}
	}
	return names
}
