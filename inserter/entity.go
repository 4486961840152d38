package inserter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrInvalidPayload is returned for payloads that are not JSON objects with
// an id and a type.
var ErrInvalidPayload = errors.New("invalid payload")

// reserved keys are not sent as attributes.
var reserved = map[string]bool{
	"id":       true,
	"type":     true,
	"@context": true,
}

// entity is a decoded payload.
type entity struct {
	id         string
	typ        string
	attributes []attribute
}

type attribute struct {
	name  string
	value gjson.Result
}

func parseEntity(payload string) (entity, error) {
	if !gjson.Valid(payload) {
		return entity{}, fmt.Errorf("%w: not JSON", ErrInvalidPayload)
	}

	doc := gjson.Parse(payload)
	if !doc.IsObject() {
		return entity{}, fmt.Errorf("%w: not an object", ErrInvalidPayload)
	}

	id, typ := doc.Get("id"), doc.Get("type")
	if !id.Exists() || !typ.Exists() {
		return entity{}, fmt.Errorf("%w: missing id or type", ErrInvalidPayload)
	}

	e := entity{
		id:  fmt.Sprintf("urn:ngsi-ld:%s:%s", typ.String(), id.String()),
		typ: typ.String(),
	}

	doc.ForEach(func(key, value gjson.Result) bool {
		if !reserved[key.String()] {
			e.attributes = append(e.attributes, attribute{key.String(), value})
		}

		return true
	})

	return e, nil
}

// body encodes the attribute for the broker: location with coordinates as a
// GeoProperty, objects carrying "object" as a Relationship, anything else as
// a Property.
func (a attribute) body(context string) ([]byte, error) {
	var (
		doc []byte
		err error
	)

	set := func(path, raw string) {
		if err == nil {
			doc, err = sjson.SetRawBytes(doc, path, []byte(raw))
		}
	}

	doc = []byte(`{}`)

	switch {
	case a.name == "location" && a.value.Get("coordinates").Exists():
		set("type", `"GeoProperty"`)
		set("value.type", `"Point"`)
		set("value.coordinates", a.value.Get("coordinates").Raw)
	case a.value.IsObject() && a.value.Get("object").Exists():
		set("type", `"Relationship"`)
		set("object", a.value.Get("object").Raw)
	case a.value.IsObject() && a.value.Get("value").Exists():
		set("type", `"Property"`)
		set("value", a.value.Get("value").Raw)
	default:
		set("type", `"Property"`)
		set("value", a.value.Raw)
	}

	if context != "" {
		set(`\@context`, context)
	}

	if err != nil {
		return nil, fmt.Errorf("encode attribute %s: %w", a.name, err)
	}

	return doc, nil
}

// document encodes the whole entity for creation.
func (e entity) document(context string) ([]byte, error) {
	doc, err := sjson.SetBytes([]byte(`{}`), "id", e.id)
	if err == nil {
		doc, err = sjson.SetBytes(doc, "type", e.typ)
	}

	for _, a := range e.attributes {
		if err != nil {
			break
		}

		var body []byte

		body, err = a.body("")
		if err == nil {
			doc, err = sjson.SetRawBytes(doc, escape(a.name), body)
		}
	}

	if err == nil && context != "" {
		doc, err = sjson.SetRawBytes(doc, `\@context`, []byte(context))
	}

	if err != nil {
		return nil, fmt.Errorf("encode entity %s: %w", e.id, err)
	}

	return doc, nil
}

// attributesDocument wraps a single attribute for the append endpoint.
func attributesDocument(a attribute, context string) ([]byte, error) {
	body, err := a.body(context)
	if err != nil {
		return nil, err
	}

	doc, err := sjson.SetRawBytes([]byte(`{}`), escape(a.name), body)
	if err == nil && context != "" {
		doc, err = sjson.SetRawBytes(doc, `\@context`, []byte(context))
	}

	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}

	return doc, nil
}

// escape quotes the sjson path characters in a key.
func escape(key string) string {
	r := strings.NewReplacer(`.`, `\.`, `*`, `\*`, `?`, `\?`, `@`, `\@`, `|`, `\|`, `#`, `\#`)

	return r.Replace(key)
}
