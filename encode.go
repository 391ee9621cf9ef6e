package lessweb

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"io"
	"mime"
	"strconv"
	"strings"
)

// Encoder encodes response values to a wire format.
type Encoder interface {
	ContentType() string
	Encode(w io.Writer, v any) error
}

// jsonCodec encodes JSON, optionally dropping null-valued (excludeNone) or
// zero-valued (excludeUnset) object fields.
type jsonCodec struct {
	excludeNone  bool
	excludeUnset bool
}

func (jsonCodec) ContentType() string { return "application/json" }

func (c jsonCodec) Encode(w io.Writer, v any) error {
	if !c.excludeNone && !c.excludeUnset {
		return json.NewEncoder(w).Encode(v)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(c.prune(doc))
}

func (c jsonCodec) prune(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, fv := range x {
			if c.drop(fv) {
				delete(x, k)
				continue
			}
			x[k] = c.prune(fv)
		}
		return x
	case []any:
		for i := range x {
			x[i] = c.prune(x[i])
		}
		return x
	default:
		return v
	}
}

func (c jsonCodec) drop(v any) bool {
	if v == nil {
		return c.excludeNone || c.excludeUnset
	}
	if !c.excludeUnset {
		return false
	}
	switch x := v.(type) {
	case string:
		return x == ""
	case bool:
		return !x
	case json.Number:
		f, err := x.Float64()
		return err == nil && f == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}

// xmlCodec implements Encoder for XML.
type xmlCodec struct{}

func (xmlCodec) ContentType() string { return "application/xml" }

func (xmlCodec) Encode(w io.Writer, v any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(v)
}

// codecRegistry holds all registered encoders.
// Index 0 is always JSON (the default).
type codecRegistry struct {
	encoders []Encoder
}

// newCodecRegistry builds a registry with JSON first, XML second, then any
// user-registered encoders.
func newCodecRegistry(js jsonCodec, userEncoders []Encoder) *codecRegistry {
	cr := &codecRegistry{
		encoders: make([]Encoder, 0, 2+len(userEncoders)),
	}
	cr.encoders = append(cr.encoders, js, xmlCodec{})
	cr.encoders = append(cr.encoders, userEncoders...)
	return cr
}

// negotiate picks an encoder based on the Accept header value.
// Returns (JSON, true) for empty or */* accept values.
// Returns (nil, false) if an explicit Accept has no match.
func (cr *codecRegistry) negotiate(accept string) (Encoder, bool) {
	if accept == "" {
		return cr.encoders[0], true
	}

	type candidate struct {
		encoder Encoder
		quality float64
	}

	var best candidate
	best.quality = -1

	for part := range strings.SplitSeq(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}

		q := 1.0
		if qs, ok := params["q"]; ok {
			if parsed, err := strconv.ParseFloat(qs, 64); err == nil {
				q = parsed
			}
		}

		if q <= best.quality {
			continue
		}

		if mediaType == "*/*" || mediaType == "application/*" {
			best = candidate{encoder: cr.encoders[0], quality: q}
			continue
		}

		for _, enc := range cr.encoders {
			if enc.ContentType() == mediaType {
				best = candidate{encoder: enc, quality: q}
				break
			}
		}
	}

	if best.encoder == nil {
		return nil, false
	}
	return best.encoder, true
}
