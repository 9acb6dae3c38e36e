// Package source defines the read side of a migration: a graph store that
// describes its collections and serves them in key order.
package source

import (
	"context"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
)

// Store is a document/edge graph store.
type Store interface {
	// Descriptors returns the declared shape of every collection.
	Descriptors(ctx context.Context) ([]schema.Descriptor, error)
	// Page returns up to limit documents of collection whose key sorts after
	// the after bookmark, in ascending key order. An empty bookmark starts
	// from the beginning.
	Page(ctx context.Context, collection, after string, limit int) ([]models.Document, error)
	// EdgeStarts returns the distinct start document ids of an edge collection.
	EdgeStarts(ctx context.Context, edgeCollection string) ([]string, error)
}

// Edge endpoint fields, in lookup order.
var (
	FromFields = []string{"from_id", "start_id", "_from"}
	ToFields   = []string{"to_id", "end_id", "_to"}
)

// Endpoint returns the first populated endpoint field of an edge document.
// Handle fields (_from, _to) lose their "Collection/" prefix.
func Endpoint(doc models.Document, fields []string) string {
	for _, f := range fields {
		v := doc.String(f)
		if v == "" {
			continue
		}
		if strings.HasPrefix(f, "_") {
			return StripHandle(v)
		}
		return v
	}
	return ""
}

// StripHandle drops a "Collection/" prefix from a document handle.
func StripHandle(handle string) string {
	if i := strings.LastIndex(handle, "/"); i >= 0 {
		return handle[i+1:]
	}
	return handle
}
