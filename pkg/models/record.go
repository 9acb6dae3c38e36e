package models

import (
	"fmt"
	"strings"
)

// Record is one destination row keyed by column name.
type Record map[string]any

func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Values returns the record's values for columns, in order.
func (r Record) Values(columns []string) []any {
	vals := make([]any, len(columns))
	for i, c := range columns {
		vals[i] = r[c]
	}
	return vals
}

// RecordType is the declared shape of one destination table as far as the
// merge engine needs it.
type RecordType struct {
	Table         string   `json:"table" yaml:"table"`
	PrimaryKey    []string `json:"primary_key" yaml:"primary_key"`
	AutoIncrement bool     `json:"auto_increment" yaml:"auto_increment"`
}

// IsAutoIncrement reports whether the type is keyed by a single surrogate column.
func (t RecordType) IsAutoIncrement() bool {
	return t.AutoIncrement && len(t.PrimaryKey) == 1
}

// KeyOf encodes the values of columns in r. ok is false when any component is nil.
func KeyOf(r Record, columns []string) (key string, ok bool) {
	parts := make([]string, len(columns))
	for i, c := range columns {
		v, exists := r[c]
		if !exists || v == nil {
			return "", false
		}
		parts[i] = fmt.Sprint(NormalizeValue(v))
	}
	return strings.Join(parts, "\x1f"), true
}

// NormalizeValue folds driver-specific representations so values read back
// from a store compare equal to converted ones.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// Document is one source record: a collection document or edge with its
// bookmark key.
type Document struct {
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

func (d Document) String(field string) string {
	v, ok := d.Fields[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// TableRows groups rows bound for a single table.
type TableRows struct {
	Table   string
	Columns []string
	Rows    []Record
}
