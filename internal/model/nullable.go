package model

import (
	"bytes"
	"encoding/json"
)

// Nullable is a patch field for a nullable column. It tells apart a field
// that was not supplied (Set=false), one explicitly set to null
// (Set=true, Valid=false) and one set to a value.
type Nullable[T any] struct {
	Set   bool
	Valid bool
	Value T
}

// Null returns a field that clears the column.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// Value returns a field that sets the column to v.
func Value[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Valid: true, Value: v}
}

// Ptr returns nil for null, otherwise a pointer to the value.
func (n Nullable[T]) Ptr() *T {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// UnmarshalJSON is only invoked when the key is present, which is what
// marks the field as Set.
func (n *Nullable[T]) UnmarshalJSON(b []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		var zero T
		n.Valid = false
		n.Value = zero
		return nil
	}
	if err := json.Unmarshal(b, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}
