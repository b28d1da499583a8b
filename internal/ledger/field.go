package ledger

import (
	"bytes"
	"encoding/json"
)

type fieldState uint8

const (
	fieldUnset fieldState = iota
	fieldClear
	fieldSet
)

// Field is a tri-state patch value: left unchanged (the zero value), cleared,
// or set to a value. In JSON an absent key is unset, null clears and any
// other value sets.
type Field[T any] struct {
	state fieldState
	value T
}

// Set returns a Field carrying v.
func Set[T any](v T) Field[T] {
	return Field[T]{state: fieldSet, value: v}
}

// Clear returns a Field that erases the stored value.
func Clear[T any]() Field[T] {
	return Field[T]{state: fieldClear}
}

// IsSet reports whether the field carries a value.
func (f Field[T]) IsSet() bool { return f.state == fieldSet }

// IsClear reports whether the field erases the stored value.
func (f Field[T]) IsClear() bool { return f.state == fieldClear }

// IsUnset reports whether the field leaves the stored value alone.
func (f Field[T]) IsUnset() bool { return f.state == fieldUnset }

// Value returns the carried value and whether there is one.
func (f Field[T]) Value() (T, bool) {
	return f.value, f.state == fieldSet
}

// apply merges f into an optional stored value.
func (f Field[T]) apply(dst **T) {
	switch f.state {
	case fieldSet:
		v := f.value
		*dst = &v
	case fieldClear:
		*dst = nil
	}
}

// applyValue merges f into a required stored value; clearing resets it to the
// zero value.
func (f Field[T]) applyValue(dst *T) {
	switch f.state {
	case fieldSet:
		*dst = f.value
	case fieldClear:
		var zero T
		*dst = zero
	}
}

// UnmarshalJSON is only invoked for keys present in the document.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = Clear[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Set(v)
	return nil
}

// MarshalJSON renders a set field as its value and anything else as null, so
// an unset field does not survive a round trip. Encoders that need to omit
// unset fields must build the document themselves.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.state != fieldSet {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

// Document renders the patch as a JSON object holding only the fields that
// are set or cleared. Decoding it yields an equal Patch.
func (p Patch) Document() map[string]any {
	doc := map[string]any{}
	put(doc, "location", p.Location)
	put(doc, "temperature", p.Temperature)
	put(doc, "humidity", p.Humidity)
	put(doc, "labAnalysis", p.LabAnalysis)
	put(doc, "name", p.Name)
	put(doc, "description", p.Description)
	put(doc, "image", p.Image)
	put(doc, "externalUrl", p.ExternalURL)
	put(doc, "attributes", p.Attributes)
	return doc
}

func put[T any](doc map[string]any, key string, f Field[T]) {
	switch f.state {
	case fieldSet:
		doc[key] = f.value
	case fieldClear:
		doc[key] = nil
	}
}
