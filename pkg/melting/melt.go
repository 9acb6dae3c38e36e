package melting

import (
	"github.com/Ramsey-B/fern/pkg/kgerrors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
)

// Resolver is the set of identifiers a matrix label may name.
type Resolver struct {
	ids map[string]struct{}
}

func NewResolver(ids []string) *Resolver {
	r := &Resolver{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		r.ids[id] = struct{}{}
	}
	return r
}

func (r *Resolver) Contains(id string) bool {
	_, ok := r.ids[id]
	return ok
}

// Missing returns the first label not in the set.
func (r *Resolver) Missing(labels []string) (string, bool) {
	for _, l := range labels {
		if !r.Contains(l) {
			return l, false
		}
	}
	return "", true
}

// Melt emits one fact row per present cell of m, walking columns in order
// and rows within each column. Rows are handed to emit in chunks of at most
// chunkSize. With a sample dimension every column label must resolve in
// samples; without one the label is stored as column_name.
func Melt(m *Matrix, parentID string, plan schema.FactPlan, analytes, samples *Resolver, chunkSize int, emit func([]models.Record) error) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if analytes != nil {
		if missing, ok := analytes.Missing(m.RowLabels); !ok {
			return 0, kgerrors.Newf(kgerrors.KindUnresolvableAnalyteReference,
				"row label %q has no %s record", missing, plan.Analyte.Table).WithTable(plan.Table.Name)
		}
	}
	if plan.Sample != nil && samples != nil {
		if missing, ok := samples.Missing(m.ColumnLabels); !ok {
			return 0, kgerrors.Newf(kgerrors.KindUnresolvableAnalyteReference,
				"column label %q has no %s record", missing, plan.Sample.Table).WithTable(plan.Table.Name)
		}
	}

	parentCol := plan.ParentColumn()
	analyteCol := plan.AnalyteColumn()
	labelCol := plan.ColumnLabelColumn()

	var total int64
	chunk := make([]models.Record, 0, min(chunkSize, 1024))
	for col, label := range m.ColumnLabels {
		for row, analyte := range m.RowLabels {
			v, ok := m.Cell(row, col)
			if !ok {
				continue
			}
			chunk = append(chunk, models.Record{
				parentCol:  parentID,
				analyteCol: analyte,
				labelCol:   label,
				"value":    v,
			})
			if len(chunk) == chunkSize {
				if err := emit(chunk); err != nil {
					return total, err
				}
				total += int64(len(chunk))
				chunk = make([]models.Record, 0, len(chunk))
			}
		}
	}
	if len(chunk) > 0 {
		if err := emit(chunk); err != nil {
			return total, err
		}
		total += int64(len(chunk))
	}
	return total, nil
}
