package copier

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/source"
)

// batch accumulates one page's rows per table, keeping first-seen table order
// so parents are written before their children.
type batch struct {
	order  []string
	tables map[string]*models.TableRows
}

func newBatch() *batch {
	return &batch{tables: make(map[string]*models.TableRows)}
}

func (b *batch) add(t *schema.Table, row models.Record) {
	rows, ok := b.tables[t.Name]
	if !ok {
		rows = &models.TableRows{Table: t.Name, Columns: t.ColumnNames()}
		b.tables[t.Name] = rows
		b.order = append(b.order, t.Name)
	}
	rows.Rows = append(rows.Rows, row)
}

func (b *batch) rows() []models.TableRows {
	out := make([]models.TableRows, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, *b.tables[name])
	}
	return out
}

func (b *batch) counts() map[string]int64 {
	counts := make(map[string]int64, len(b.tables))
	for name, rows := range b.tables {
		counts[name] = int64(len(rows.Rows))
	}
	return counts
}

// splitDocument adds a document's scalar row and every child row it owns.
func splitDocument(b *batch, cp *schema.CollectionPlan, doc models.Document, alloc *identity.Allocator) error {
	row := columnValues(doc.Fields, cp.Columns)
	id := row["id"]
	if id == nil {
		if doc.Key == "" {
			return fmt.Errorf("document has no id")
		}
		id = doc.Key
		row["id"] = id
	}
	b.add(cp.Table, row)

	for _, child := range cp.Children {
		splitChild(b, child, id, doc.Fields[child.Field], alloc)
	}
	return nil
}

func splitChild(b *batch, child schema.ChildPlan, parentID any, value any, alloc *identity.Allocator) {
	for _, elem := range listOf(value) {
		if child.Scalar {
			b.add(child.Table, models.Record{"parent_id": parentID, "value": scalarValue(elem)})
			continue
		}
		item, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		row := columnValues(item, child.Columns)
		row["parent_id"] = parentID
		if !child.HasSurrogateKey() {
			b.add(child.Table, row)
			continue
		}
		id := alloc.Next(child.Table.Name)
		row["id"] = id
		b.add(child.Table, row)
		for _, grandchild := range child.Children {
			splitChild(b, grandchild, id, item[grandchild.Field], alloc)
		}
	}
}

// edgeRow maps an edge document onto its link-table row.
func edgeRow(cp *schema.CollectionPlan, doc models.Document) (models.Record, error) {
	row := columnValues(doc.Fields, cp.Columns)
	row["from_id"] = source.Endpoint(doc, source.FromFields)
	row["to_id"] = source.Endpoint(doc, source.ToFields)
	if row["from_id"] == "" || row["to_id"] == "" {
		return nil, fmt.Errorf("edge %s is missing an endpoint", doc.Key)
	}
	return row, nil
}

func columnValues(fields map[string]any, columns []schema.FieldColumn) models.Record {
	row := make(models.Record, len(columns)+1)
	for _, c := range columns {
		v, ok := fields[c.Field]
		if !ok || v == nil {
			row[c.Column] = nil
			continue
		}
		if c.JSON {
			row[c.Column] = jsonText(v)
			continue
		}
		row[c.Column] = scalarValue(v)
	}
	return row
}

// scalarValue keeps driver-friendly scalars and serializes anything nested.
func scalarValue(v any) any {
	v = models.NormalizeValue(v)
	switch v.(type) {
	case nil, string, bool, int64, float64, time.Time:
		return v
	}
	return jsonText(v)
}

func jsonText(v any) any {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func listOf(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
