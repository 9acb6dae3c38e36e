package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/kgerrors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultMetadataKey names the metadata node holding the collection schemas.
const DefaultMetadataKey = "collection_schemas"

// Querier runs read statements. *Client satisfies it.
type Querier interface {
	Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

type StoreConfig struct {
	MetadataLabel string
	MetadataKey   string
}

// Store serves a graph as a migration source. Documents are nodes labelled
// with their collection; edges are relationships typed with theirs.
type Store struct {
	querier Querier
	logger  ectologger.Logger
	config  StoreConfig

	mu    sync.Mutex
	kinds map[string]schema.Kind
}

func NewStore(querier Querier, logger ectologger.Logger, config StoreConfig) *Store {
	if config.MetadataLabel == "" {
		config.MetadataLabel = "Metadata"
	}
	if config.MetadataKey == "" {
		config.MetadataKey = DefaultMetadataKey
	}
	return &Store{querier: querier, logger: logger, config: config}
}

// Descriptors decodes the JSON schema document stored on the metadata node.
func (s *Store) Descriptors(ctx context.Context) ([]schema.Descriptor, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.Descriptors")
	defer span.End()

	rows, err := s.querier.Query(ctx, metadataQuery(s.config.MetadataLabel), map[string]any{"key": s.config.MetadataKey})
	if err != nil {
		return nil, kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to read collection schemas")
	}
	if len(rows) == 0 {
		return nil, kgerrors.Newf(kgerrors.KindSchemaInference, "no %s node with key %s", s.config.MetadataLabel, s.config.MetadataKey)
	}

	var descriptors []schema.Descriptor
	switch v := rows[0]["value"].(type) {
	case string:
		descriptors, err = schema.DecodeJSON([]byte(v))
	case map[string]any:
		descriptors, err = schema.FromMap(v)
	default:
		return nil, kgerrors.Newf(kgerrors.KindSchemaInference, "collection schemas have unsupported type %T", v)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.kinds = make(map[string]schema.Kind, len(descriptors))
	for _, d := range descriptors {
		s.kinds[d.Name] = d.Kind
	}
	s.mu.Unlock()
	return descriptors, nil
}

func (s *Store) kindOf(ctx context.Context, collection string) (schema.Kind, error) {
	s.mu.Lock()
	loaded := s.kinds != nil
	kind, ok := s.kinds[collection]
	s.mu.Unlock()
	if ok {
		return kind, nil
	}
	if !loaded {
		if _, err := s.Descriptors(ctx); err != nil {
			return "", err
		}
		return s.kindOf(ctx, collection)
	}
	return "", kgerrors.Newf(kgerrors.KindSchemaInference, "collection %s is not described", collection).WithCollection(collection)
}

// Page returns documents of collection in key order after the bookmark.
// Edge documents carry start_id and end_id alongside their properties.
func (s *Store) Page(ctx context.Context, collection, after string, limit int) ([]models.Document, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.Page",
		attribute.String("collection", collection), attribute.Int("limit", limit))
	defer span.End()

	kind, err := s.kindOf(ctx, collection)
	if err != nil {
		return nil, err
	}
	cypher := nodePageQuery(collection)
	if kind == schema.KindEdge {
		cypher = edgePageQuery(collection)
	}

	rows, err := s.querier.Query(ctx, cypher, map[string]any{"after": after, "limit": int64(limit)})
	if err != nil {
		return nil, kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to read page").WithCollection(collection)
	}
	docs := make([]models.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, documentOf(row))
	}
	return docs, nil
}

func (s *Store) EdgeStarts(ctx context.Context, edgeCollection string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.EdgeStarts", attribute.String("collection", edgeCollection))
	defer span.End()

	rows, err := s.querier.Query(ctx, edgeStartsQuery(edgeCollection), nil)
	if err != nil {
		return nil, kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to read edge starts").WithCollection(edgeCollection)
	}
	starts := make([]string, 0, len(rows))
	for _, row := range rows {
		if id, ok := row["id"].(string); ok && id != "" {
			starts = append(starts, id)
		}
	}
	return starts, nil
}

func documentOf(row map[string]any) models.Document {
	props, _ := row["props"].(map[string]any)
	fields := make(map[string]any, len(props)+2)
	for k, v := range props {
		fields[k] = plainValue(v)
	}
	for _, k := range []string{"start_id", "end_id"} {
		if v, ok := row[k]; ok && v != nil {
			fields[k] = fmt.Sprint(v)
		}
	}
	key, _ := row["key"].(string)
	return models.Document{Key: key, Fields: fields}
}

// plainValue converts driver temporal types into values the copier knows.
func plainValue(v any) any {
	switch t := v.(type) {
	case dbtype.Date:
		return t.Time()
	case dbtype.LocalDateTime:
		return t.Time()
	case dbtype.LocalTime:
		return t.Time().Format("15:04:05.999999999")
	case dbtype.Time:
		return t.Time().Format("15:04:05.999999999Z07:00")
	case dbtype.Duration:
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plainValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = plainValue(item)
		}
		return out
	default:
		return v
	}
}

// SaveDescriptors stores a JSON collection-schema document on the metadata
// node, replacing any previous one.
func SaveDescriptors(ctx context.Context, client *Client, config StoreConfig, data []byte) error {
	if config.MetadataLabel == "" {
		config.MetadataLabel = "Metadata"
	}
	if config.MetadataKey == "" {
		config.MetadataKey = DefaultMetadataKey
	}
	return client.Exec(ctx, saveMetadataQuery(config.MetadataLabel), map[string]any{
		"key":   config.MetadataKey,
		"value": string(data),
	})
}
