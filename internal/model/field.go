package model

import "encoding/json"

// Field is a patch value that records whether the key was present in the
// payload. A JSON null sets the field to its zero value with Set=true, which
// is how nullable columns are cleared.
type Field[T any] struct {
	Value T
	Set   bool
}

// Some returns a present field holding v.
func Some[T any](v T) Field[T] {
	return Field[T]{Value: v, Set: true}
}

// UnmarshalJSON only runs for keys present in the payload.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if string(data) == "null" {
		var zero T
		f.Value = zero
		return nil
	}
	return json.Unmarshal(data, &f.Value)
}

// IsZero reports an absent field, so patch structs tagged omitzero leave the
// key out instead of clearing the column.
func (f Field[T]) IsZero() bool {
	return !f.Set
}

// MarshalJSON encodes the value. An absent field marshalled on its own
// encodes as null; inside a patch the omitzero tag drops it.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Or returns the field value when set, otherwise fallback.
func (f Field[T]) Or(fallback T) T {
	if f.Set {
		return f.Value
	}
	return fallback
}
