package schema

import (
	"os"
	"testing"

	"github.com/Ramsey-B/fern/pkg/kgerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T) []Descriptor {
	t.Helper()
	data, err := os.ReadFile("testdata/pounce.yaml")
	require.NoError(t, err)
	descriptors, err := DecodeYAML(data)
	require.NoError(t, err)
	return descriptors
}

func TestDecodeYAML_Fixture(t *testing.T) {
	descriptors := loadFixture(t)
	byName, err := IndexDescriptors(descriptors)
	require.NoError(t, err)
	require.Len(t, byName, 7)

	dataset := byName["Dataset"]
	assert.True(t, dataset.IsDocument())
	assert.True(t, dataset.IsFileReference())
	assert.Equal(t, "id", dataset.Fields[0].Name)

	biosample := byName["Biosample"]
	demographics, ok := biosample.Fields.Get("demographics")
	require.True(t, ok)
	obj, ok := demographics.(Object)
	require.True(t, ok)
	assert.True(t, obj.Fields.Has("age"))

	exposures, ok := biosample.Fields.Get("exposures")
	require.True(t, ok)
	repeated, ok := exposures.(RepeatedObject)
	require.True(t, ok)
	assert.True(t, repeated.Fields.HasRepeated())

	edge := byName["BiosampleRunBiosampleEdge"]
	assert.True(t, edge.IsEdge())
	assert.Equal(t, []string{"Biosample"}, edge.FromCollections)
	assert.Equal(t, []string{"RunBiosample"}, edge.ToCollections)
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, descriptors []Descriptor, err error)
	}{
		{
			name:  "bare collections map",
			input: `{"Gene": {"type": "document", "fields": {"symbol": "str", "id": "str", "score": "decimal"}}}`,
			check: func(t *testing.T, descriptors []Descriptor, err error) {
				require.NoError(t, err)
				require.Len(t, descriptors, 1)
				assert.Equal(t, "id", descriptors[0].Fields[0].Name)
				score, _ := descriptors[0].Fields.Get("score")
				assert.Equal(t, Scalar{Type: ScalarString}, score)
			},
		},
		{
			name:  "list of objects in nested item_type form",
			input: `{"collections": {"Gene": {"type": "document", "fields": {"id": "str", "aliases": {"type": "list", "item_type": {"type": "object", "fields": {"value": "str"}}}}}}}`,
			check: func(t *testing.T, descriptors []Descriptor, err error) {
				require.NoError(t, err)
				aliases, _ := descriptors[0].Fields.Get("aliases")
				_, ok := aliases.(RepeatedObject)
				assert.True(t, ok)
			},
		},
		{
			name:  "document without id",
			input: `{"Gene": {"type": "document", "fields": {"symbol": "str"}}}`,
			check: func(t *testing.T, _ []Descriptor, err error) {
				assert.True(t, kgerrors.Is(err, kgerrors.KindSchemaInference))
			},
		},
		{
			name:  "edge without endpoints",
			input: `{"GeneEdge": {"type": "edge", "fields": {}}}`,
			check: func(t *testing.T, _ []Descriptor, err error) {
				assert.True(t, kgerrors.Is(err, kgerrors.KindSchemaInference))
			},
		},
		{
			name:  "invalid json",
			input: `{`,
			check: func(t *testing.T, _ []Descriptor, err error) {
				assert.True(t, kgerrors.Is(err, kgerrors.KindSchemaInference))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			descriptors, err := DecodeJSON([]byte(tt.input))
			tt.check(t, descriptors, err)
		})
	}
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"RunBiosample":  "run_biosample",
		"Gene":          "gene",
		"HTTPResponse":  "http_response",
		"GoTerm2Gene":   "go_term2_gene",
		"already_snake": "already_snake",
	}
	for in, want := range tests {
		assert.Equal(t, want, SnakeCase(in), in)
	}
}

func TestIndexDescriptors_Duplicate(t *testing.T) {
	_, err := IndexDescriptors([]Descriptor{
		{Name: "Gene", Kind: KindDocument},
		{Name: "Gene", Kind: KindDocument},
	})
	require.Error(t, err)
	assert.True(t, kgerrors.Is(err, kgerrors.KindSchemaInference))
	assert.Contains(t, err.Error(), "declared twice")
}
