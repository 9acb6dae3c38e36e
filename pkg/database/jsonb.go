package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON stores T as a JSON document in a text or jsonb column.
type JSON[T any] struct {
	Data T
}

func NewJSON[T any](data T) JSON[T] {
	return JSON[T]{Data: data}
}

func (p *JSON[T]) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		var zero T
		p.Data = zero
		return nil
	case []byte:
		return json.Unmarshal(v, &p.Data)
	case string:
		return json.Unmarshal([]byte(v), &p.Data)
	default:
		return fmt.Errorf("JSON.Scan: expected []byte or string, got %T", src)
	}
}

func (p JSON[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(p.Data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p JSON[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Data)
}

func (p *JSON[T]) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &p.Data)
}
