package datacommons

import (
	"bytes"
	"encoding/json"
	"slices"
	"strconv"
)

// ValueKind discriminates the shapes a knowledge graph value can take.
type ValueKind int

const (
	// KindNull is an explicit JSON null. The zero Value is null.
	KindNull ValueKind = iota
	KindNumber
	KindText
	// KindEntity is a link to another node in the graph.
	KindEntity
)

// EntityRef is a link to a graph node, carrying whatever the response
// included about it.
type EntityRef struct {
	DCID       string   `json:"dcid"`
	Name       string   `json:"name,omitempty"`
	Types      []string `json:"types,omitempty"`
	Provenance []string `json:"provenance,omitempty"`
}

func (e EntityRef) equal(o EntityRef) bool {
	return e.DCID == o.DCID && e.Name == o.Name &&
		slices.Equal(e.Types, o.Types) && slices.Equal(e.Provenance, o.Provenance)
}

// Value is a tagged union over the scalar shapes observed in
// responses: explicit null, number, text or entity link. Explicit
// nulls are preserved as values, they are not the same thing as a
// property that was never recorded.
type Value struct {
	kind   ValueKind
	number float64
	text   string
	entity EntityRef
}

func NullValue() Value                { return Value{} }
func NumberValue(n float64) Value     { return Value{kind: KindNumber, number: n} }
func TextValue(s string) Value        { return Value{kind: KindText, text: s} }
func EntityValue(ref EntityRef) Value { return Value{kind: KindEntity, entity: ref} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }

// Number returns the numeric payload when the value is a number.
func (v Value) Number() (float64, bool) {
	return v.number, v.kind == KindNumber
}

// Text returns the string payload when the value is text.
func (v Value) Text() (string, bool) {
	return v.text, v.kind == KindText
}

// Entity returns the linked node when the value is an entity link.
func (v Value) Entity() (EntityRef, bool) {
	return v.entity, v.kind == KindEntity
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.number, 'g', -1, 64)
	case KindText:
		return v.text
	case KindEntity:
		return v.entity.DCID
	default:
		return "null"
	}
}

func (v Value) equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}

	switch v.kind {
	case KindNumber:
		return v.number == o.number
	case KindText:
		return v.text == o.text
	case KindEntity:
		return v.entity.equal(o.entity)
	default:
		return true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.number)
	case KindText:
		return json.Marshal(v.text)
	case KindEntity:
		return json.Marshal(v.entity)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)

	if len(trimmed) > 0 && trimmed[0] == '{' {
		var ref EntityRef
		if err := json.Unmarshal(trimmed, &ref); err != nil {
			return err
		}
		*v = EntityValue(ref)
		return nil
	}

	*v = valueFromRaw(trimmed)
	return nil
}

// valueFromRaw maps a raw JSON scalar to a Value. Anything that does
// not decode to null, a number or a string keeps its raw text form.
func valueFromRaw(raw json.RawMessage) Value {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return TextValue(string(raw))
	}

	switch tv := decoded.(type) {
	case nil:
		return NullValue()
	case float64:
		return NumberValue(tv)
	case string:
		return TextValue(tv)
	case bool:
		return TextValue(strconv.FormatBool(tv))
	default:
		return TextValue(string(raw))
	}
}
