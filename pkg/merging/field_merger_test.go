package merging

import (
	"testing"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestFieldMerger_Merge(t *testing.T) {
	tests := []struct {
		name            string
		behavior        models.FieldConflictBehavior
		existing        models.Record
		incoming        models.Record
		expectedChanged models.Record
		expectedApplied []bool
	}{
		{
			name:            "last write wins",
			behavior:        models.KeepLast,
			existing:        models.Record{"id": "G1", "symbol": "TP53"},
			incoming:        models.Record{"id": "G1", "symbol": "P53"},
			expectedChanged: models.Record{"symbol": "P53"},
			expectedApplied: []bool{true},
		},
		{
			name:            "keep first records a rejected update",
			behavior:        models.KeepFirst,
			existing:        models.Record{"id": "G1", "symbol": "TP53"},
			incoming:        models.Record{"id": "G1", "symbol": "P53"},
			expectedChanged: models.Record{},
			expectedApplied: []bool{false},
		},
		{
			name:            "null and empty never overwrite",
			behavior:        models.KeepLast,
			existing:        models.Record{"id": "G1", "symbol": "TP53", "name": "tumor protein"},
			incoming:        models.Record{"id": "G1", "symbol": nil, "name": ""},
			expectedChanged: models.Record{},
		},
		{
			name:            "fills null",
			behavior:        models.KeepFirst,
			existing:        models.Record{"id": "G1", "score": nil},
			incoming:        models.Record{"id": "G1", "score": 1.5},
			expectedChanged: models.Record{"score": 1.5},
			expectedApplied: []bool{true},
		},
		{
			name:            "numbers compare across representations",
			behavior:        models.KeepLast,
			existing:        models.Record{"id": "G1", "count": int64(3), "flag": int64(1)},
			incoming:        models.Record{"id": "G1", "count": 3.0, "flag": true},
			expectedChanged: models.Record{},
		},
		{
			name:            "stored json list is unioned",
			behavior:        models.KeepLast,
			existing:        models.Record{"id": "G1", "synonyms": `["p53"]`},
			incoming:        models.Record{"id": "G1", "synonyms": []string{"p53", "LFS1"}},
			expectedChanged: models.Record{"synonyms": []any{"p53", "LFS1"}},
			expectedApplied: []bool{true},
		},
		{
			name:            "stored json object compares equal",
			behavior:        models.KeepLast,
			existing:        models.Record{"id": "B1", "demographics": `{"age":4,"sex":"F"}`},
			incoming:        models.Record{"id": "B1", "demographics": map[string]any{"sex": "F", "age": 4}},
			expectedChanged: models.Record{},
		},
		{
			name:            "key columns untouched",
			behavior:        models.KeepLast,
			existing:        models.Record{"id": "G1"},
			incoming:        models.Record{"id": "g1"},
			expectedChanged: models.Record{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merger := NewFieldMerger(tt.behavior)
			changed, updates := merger.Merge("gene", "G1", tt.existing, tt.incoming, []string{"id"})
			assert.Equal(t, tt.expectedChanged, changed)

			applied := make([]bool, 0, len(updates))
			for _, u := range updates {
				applied = append(applied, u.Applied)
				assert.Equal(t, "gene", u.Table)
				assert.Equal(t, tt.behavior, u.Behavior)
			}
			if tt.expectedApplied == nil {
				assert.Empty(t, applied)
			} else {
				assert.Equal(t, tt.expectedApplied, applied)
			}
		})
	}
}

func TestFieldMerger_RecordsProvenance(t *testing.T) {
	merger := NewFieldMerger("")
	existing := models.Record{"id": "G1"}
	_, updates := merger.Merge("gene", "G1", existing, models.Record{"id": "G1", "symbol": "TP53", ProvenanceField: "hgnc"}, []string{"id"})

	var symbol models.FieldUpdate
	for _, u := range updates {
		if u.Field == "symbol" {
			symbol = u
		}
	}
	assert.Equal(t, "hgnc", symbol.Provenance)
	assert.Equal(t, models.KeepLast, symbol.Behavior)
	assert.Nil(t, symbol.Old)
	assert.Equal(t, "TP53", existing["symbol"])
}
