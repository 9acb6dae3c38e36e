package merging

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ProvenanceField carries the source attribution recorded in update audits.
const ProvenanceField = "provenance"

// FieldMerger handles field-level merge logic
type FieldMerger struct {
	behavior models.FieldConflictBehavior
}

// NewFieldMerger creates a new FieldMerger
func NewFieldMerger(behavior models.FieldConflictBehavior) *FieldMerger {
	if behavior == "" {
		behavior = models.KeepLast
	}
	return &FieldMerger{behavior: behavior}
}

// Merge folds incoming into existing and returns the columns whose value
// changed. Null and empty incoming values never overwrite. List values are
// unioned. keyColumns are never touched.
func (m *FieldMerger) Merge(table, key string, existing, incoming models.Record, keyColumns []string) (models.Record, []models.FieldUpdate) {
	changed := models.Record{}
	var updates []models.FieldUpdate
	provenance, _ := incoming[ProvenanceField].(string)

	for _, field := range sortedFields(incoming) {
		if containsString(keyColumns, field) {
			continue
		}
		value := incoming[field]
		if isEmpty(value) {
			continue
		}
		current, had := existing[field]

		if list, ok := asList(value); ok {
			union, grew := unionLists(current, list)
			if !grew {
				continue
			}
			updates = append(updates, models.FieldUpdate{
				Table: table, Key: key, Field: field,
				Old: describeList(current), New: fmt.Sprintf("%d entries being merged", len(list)),
				Provenance: provenance, Behavior: m.behavior, Applied: true,
			})
			existing[field] = union
			changed[field] = union
			continue
		}

		if !had || isEmpty(current) {
			updates = append(updates, models.FieldUpdate{
				Table: table, Key: key, Field: field, Old: nil, New: value,
				Provenance: provenance, Behavior: m.behavior, Applied: true,
			})
			existing[field] = value
			changed[field] = value
			continue
		}
		if equalValues(current, value) {
			continue
		}

		applied := m.behavior == models.KeepLast
		updates = append(updates, models.FieldUpdate{
			Table: table, Key: key, Field: field, Old: current, New: value,
			Provenance: provenance, Behavior: m.behavior, Applied: applied,
		})
		if applied {
			existing[field] = value
			changed[field] = value
		}
	}
	return changed, updates
}

func sortedFields(r models.Record) []string {
	fields := make([]string, 0, len(r))
	for f := range r {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// asList reports whether v is a list value. Lists read back from a text
// column arrive as their JSON encoding.
func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case string:
		if len(t) < 2 || t[0] != '[' {
			return nil, false
		}
		var out []any
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil, false
		}
		return out, true
	}
	if v != nil && reflect.TypeOf(v).Kind() == reflect.Slice {
		if _, isBytes := v.([]byte); isBytes {
			return nil, false
		}
		rv := reflect.ValueOf(v)
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}

// unionLists appends the elements of incoming missing from current. grew is
// false when nothing new was added.
func unionLists(current any, incoming []any) ([]any, bool) {
	base, _ := asList(current)
	seen := make(map[string]bool, len(base)+len(incoming))
	union := make([]any, 0, len(base)+len(incoming))
	for _, v := range base {
		k := fmt.Sprintf("%v", models.NormalizeValue(v))
		if !seen[k] {
			seen[k] = true
			union = append(union, v)
		}
	}
	grew := false
	for _, v := range incoming {
		k := fmt.Sprintf("%v", models.NormalizeValue(v))
		if !seen[k] {
			seen[k] = true
			union = append(union, v)
			grew = true
		}
	}
	return union, grew
}

func describeList(v any) string {
	list, ok := asList(v)
	if !ok || len(list) == 0 {
		return "NULL"
	}
	return fmt.Sprintf("%d entries already there", len(list))
}

func equalValues(a, b any) bool {
	a, b = models.NormalizeValue(a), models.NormalizeValue(b)
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			return na == nb
		}
	}
	if reflect.DeepEqual(a, b) || fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) {
		return true
	}
	return canonicalJSON(a) == canonicalJSON(b)
}

// canonicalJSON renders nested values and their stored JSON text identically.
func canonicalJSON(v any) string {
	if s, ok := v.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return s
		}
		v = decoded
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

func containsString(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
