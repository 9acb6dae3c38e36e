package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(docs []models.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Key
	}
	return out
}

func TestStore_PageByKey(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	s.Add("Gene", models.Document{Key: "G3"}, models.Document{Key: "G1"}, models.Document{Key: "G2"})
	s.Add("Gene", models.Document{Key: "G2", Fields: map[string]any{"symbol": "TP53"}})

	tests := []struct {
		name     string
		after    string
		limit    int
		expected []string
	}{
		{"first page", "", 2, []string{"G1", "G2"}},
		{"after bookmark", "G1", 5, []string{"G2", "G3"}},
		{"bookmark between keys", "G15", 1, []string{"G2"}},
		{"past the end", "G3", 2, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Page(ctx, "Gene", tt.after, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, keys(docs))
		})
	}

	docs, err := s.Page(ctx, "Gene", "G1", 1)
	require.NoError(t, err)
	assert.Equal(t, "TP53", docs[0].String("symbol"), "Add replaces by key")

	docs, err = s.Page(ctx, "Missing", "", 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStore_EdgeStarts(t *testing.T) {
	s := NewStore(nil)
	s.Add("DatasetGeneEdge",
		models.Document{Key: "e1", Fields: map[string]any{"_from": "Dataset/D2", "_to": "Gene/G1"}},
		models.Document{Key: "e2", Fields: map[string]any{"_from": "Dataset/D1", "_to": "Gene/G1"}},
		models.Document{Key: "e3", Fields: map[string]any{"from_id": "D1", "to_id": "G2"}},
	)
	starts, err := s.EdgeStarts(context.Background(), "DatasetGeneEdge")
	require.NoError(t, err)
	assert.Equal(t, []string{"D1", "D2"}, starts)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "collection_schemas": {
    "collections": {
      "Gene": {"type": "document", "fields": {"id": "str", "symbol": "str"}}
    }
  },
  "collections": {
    "Gene": [{"id": "G2", "symbol": "BRCA1"}, {"_key": "G1", "id": "G1", "symbol": "TP53"}]
  }
}`), 0o600))

	s, err := Load(path)
	require.NoError(t, err)

	descriptors, err := s.Descriptors(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "Gene", descriptors[0].Name)
	assert.Equal(t, schema.KindDocument, descriptors[0].Kind)

	docs, err := s.Page(context.Background(), "Gene", "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"G1", "G2"}, keys(docs))
}

func TestLoad_DocumentWithoutKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.yaml")
	require.NoError(t, os.WriteFile(path, []byte("collections:\n  Gene:\n    - symbol: TP53\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}
