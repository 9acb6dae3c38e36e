package graph

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/kgerrors"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

const schemasJSON = `{"collections": {
	"Gene": {"type": "document", "fields": {"id": "str", "symbol": "str"}},
	"Dataset": {"type": "document", "fields": {"id": "str", "file_reference": "str"}},
	"DatasetGeneEdge": {"type": "edge", "from_collections": ["Dataset"], "to_collections": ["Gene"]}
}}`

type call struct {
	cypher string
	params map[string]any
}

// fakeQuerier answers by the first matching statement fragment.
type fakeQuerier struct {
	calls   []call
	answers map[string][]map[string]any
	err     error
}

func (q *fakeQuerier) Query(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	q.calls = append(q.calls, call{cypher, params})
	if q.err != nil {
		return nil, q.err
	}
	for fragment, rows := range q.answers {
		if strings.Contains(cypher, fragment) {
			return rows, nil
		}
	}
	return nil, nil
}

func newFake() *fakeQuerier {
	return &fakeQuerier{answers: map[string][]map[string]any{
		"m.value": {{"value": schemasJSON}},
	}}
}

func TestSanitizeLabel(t *testing.T) {
	tests := map[string]string{
		"Gene":                   "Gene",
		"Run-Biosample":          "RunBiosample",
		"Gene`) DETACH DELETE n": "GeneDETACHDELETEn",
		"":                       "Entity",
	}
	for in, expected := range tests {
		assert.Equal(t, expected, sanitizeLabel(in), in)
	}
}

func TestStore_Descriptors(t *testing.T) {
	q := newFake()
	store := NewStore(q, testLogger, StoreConfig{})

	descriptors, err := store.Descriptors(context.Background())
	require.NoError(t, err)
	assert.Len(t, descriptors, 3)
	require.Len(t, q.calls, 1)
	assert.Contains(t, q.calls[0].cypher, "MATCH (m:Metadata {key: $key})")
	assert.Equal(t, DefaultMetadataKey, q.calls[0].params["key"])
}

func TestStore_DescriptorsMissing(t *testing.T) {
	store := NewStore(&fakeQuerier{}, testLogger, StoreConfig{MetadataKey: "other"})
	_, err := store.Descriptors(context.Background())
	require.Error(t, err)
	assert.True(t, kgerrors.Is(err, kgerrors.KindSchemaInference))
}

func TestStore_PageNodes(t *testing.T) {
	q := newFake()
	q.answers["properties(n)"] = []map[string]any{
		{"key": "G1", "props": map[string]any{"id": "G1", "symbol": "TP53", "added": dbtype.Date(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))}},
		{"key": "G2", "props": map[string]any{"id": "G2", "symbol": "BRCA1"}},
	}
	store := NewStore(q, testLogger, StoreConfig{})

	docs, err := store.Page(context.Background(), "Gene", "G0", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "G1", docs[0].Key)
	assert.Equal(t, "TP53", docs[0].String("symbol"))
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), docs[0].Fields["added"])

	last := q.calls[len(q.calls)-1]
	assert.Contains(t, last.cypher, "MATCH (n:Gene)")
	assert.Equal(t, map[string]any{"after": "G0", "limit": int64(2)}, last.params)
}

func TestStore_PageEdges(t *testing.T) {
	q := newFake()
	q.answers["properties(r)"] = []map[string]any{
		{"key": "e1", "props": map[string]any{"provenance": "pounce"}, "start_id": "D1", "end_id": "G1"},
	}
	store := NewStore(q, testLogger, StoreConfig{})

	docs, err := store.Page(context.Background(), "DatasetGeneEdge", "", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "D1", docs[0].String("start_id"))
	assert.Equal(t, "G1", docs[0].String("end_id"))
	assert.Contains(t, q.calls[len(q.calls)-1].cypher, "MATCH (a)-[r:DatasetGeneEdge]->(b)")
}

func TestStore_PageUnknownCollection(t *testing.T) {
	store := NewStore(newFake(), testLogger, StoreConfig{})
	_, err := store.Page(context.Background(), "Protein", "", 10)
	require.Error(t, err)
	assert.True(t, kgerrors.Is(err, kgerrors.KindSchemaInference))
}

func TestStore_QueryFailureIsStoreIO(t *testing.T) {
	store := NewStore(&fakeQuerier{err: errors.New("connection reset")}, testLogger, StoreConfig{})
	_, err := store.EdgeStarts(context.Background(), "DatasetGeneEdge")
	require.Error(t, err)
	assert.True(t, kgerrors.Is(err, kgerrors.KindStoreIO))
	assert.True(t, kgerrors.IsRetryable(err))
}

func TestStore_EdgeStarts(t *testing.T) {
	q := newFake()
	q.answers["RETURN DISTINCT"] = []map[string]any{{"id": "D1"}, {"id": "D2"}, {"id": nil}}
	store := NewStore(q, testLogger, StoreConfig{})

	starts, err := store.EdgeStarts(context.Background(), "DatasetGeneEdge")
	require.NoError(t, err)
	assert.Equal(t, []string{"D1", "D2"}, starts)
}

func TestPlainValue(t *testing.T) {
	v := plainValue([]any{map[string]any{"at": dbtype.LocalDateTime(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC))}, int64(3)})
	assert.Equal(t, []any{map[string]any{"at": time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)}, int64(3)}, v)
}

// TestStore_Live runs against a real server when FERN_TEST_NEO4J_HOST is set.
func TestStore_Live(t *testing.T) {
	host := os.Getenv("FERN_TEST_NEO4J_HOST")
	if host == "" || testing.Short() {
		t.Skip("FERN_TEST_NEO4J_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("FERN_TEST_NEO4J_PORT"))
	if port == 0 {
		port = 7687
	}
	ctx := context.Background()
	client, err := NewClient(Config{
		Host:     host,
		Port:     port,
		Username: os.Getenv("FERN_TEST_NEO4J_USER"),
		Password: os.Getenv("FERN_TEST_NEO4J_PASSWORD"),
	}, testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(ctx) })
	require.NoError(t, client.VerifyConnectivity(ctx))

	config := StoreConfig{MetadataKey: "fern_test_schemas"}
	require.NoError(t, SaveDescriptors(ctx, client, config, []byte(schemasJSON)))
	require.NoError(t, client.Exec(ctx, `
		MERGE (d:Dataset {id: 'FERN_D1'})
		MERGE (g:Gene {id: 'FERN_G1', symbol: 'TP53'})
		MERGE (d)-[:DatasetGeneEdge]->(g)
	`, nil))
	t.Cleanup(func() {
		_ = client.Exec(ctx, `MATCH (n) WHERE n.id STARTS WITH 'FERN_' OR n.key = 'fern_test_schemas' DETACH DELETE n`, nil)
	})

	store := NewStore(client, testLogger, config)
	descriptors, err := store.Descriptors(ctx)
	require.NoError(t, err)
	assert.Len(t, descriptors, 3)

	starts, err := store.EdgeStarts(ctx, "DatasetGeneEdge")
	require.NoError(t, err)
	assert.Contains(t, starts, "FERN_D1")

	docs, err := store.Page(ctx, "Gene", "FERN_", 100)
	require.NoError(t, err)
	var found bool
	for _, d := range docs {
		if d.Key == "FERN_G1" {
			found = true
			assert.Equal(t, "TP53", d.String("symbol"))
		}
	}
	assert.True(t, found)
}
