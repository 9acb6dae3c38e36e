// Package memory is an in-process source store, loaded from a JSON or YAML
// dump or filled directly.
package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/source"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Store keeps every collection sorted by document key.
type Store struct {
	mu          sync.RWMutex
	descriptors []schema.Descriptor
	collections map[string][]models.Document
}

func NewStore(descriptors []schema.Descriptor) *Store {
	return &Store{
		descriptors: descriptors,
		collections: make(map[string][]models.Document),
	}
}

// Add inserts or replaces documents by key.
func (s *Store) Add(collection string, docs ...models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.collections[collection]
	byKey := make(map[string]int, len(current))
	for i, d := range current {
		byKey[d.Key] = i
	}
	for _, d := range docs {
		if i, ok := byKey[d.Key]; ok {
			current[i] = d
			continue
		}
		byKey[d.Key] = len(current)
		current = append(current, d)
	}
	sort.Slice(current, func(i, j int) bool { return current[i].Key < current[j].Key })
	s.collections[collection] = current
}

func (s *Store) Descriptors(_ context.Context) ([]schema.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schema.Descriptor(nil), s.descriptors...), nil
}

func (s *Store) Page(ctx context.Context, collection, after string, limit int) ([]models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	start := 0
	if after != "" {
		start = sort.Search(len(docs), func(i int) bool { return docs[i].Key > after })
	}
	end := start + limit
	if end > len(docs) {
		end = len(docs)
	}
	return append([]models.Document(nil), docs[start:end]...), nil
}

func (s *Store) EdgeStarts(_ context.Context, edgeCollection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var starts []string
	for _, d := range s.collections[edgeCollection] {
		id := source.Endpoint(d, source.FromFields)
		if id != "" && !seen[id] {
			seen[id] = true
			starts = append(starts, id)
		}
	}
	sort.Strings(starts)
	return starts, nil
}

// dump is the on-disk layout: the collection metadata document plus the
// documents of every collection.
type dump struct {
	Schemas     map[string]any              `yaml:"collection_schemas" json:"collection_schemas"`
	Collections map[string][]map[string]any `yaml:"collections" json:"collections"`
}

// Load reads a JSON or YAML dump. Document keys come from _key, then id.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read source dump %s", path)
	}
	// JSON dumps decode as YAML.
	var d dump
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrapf(err, "failed to parse source dump %s", filepath.Base(path))
	}

	descriptors, err := schema.FromMap(d.Schemas)
	if err != nil {
		return nil, err
	}
	store := NewStore(descriptors)
	for name, raw := range d.Collections {
		docs := make([]models.Document, 0, len(raw))
		for i, fields := range raw {
			key := documentKey(fields)
			if key == "" {
				return nil, fmt.Errorf("collection %s: document %d has no _key or id", name, i)
			}
			docs = append(docs, models.Document{Key: key, Fields: fields})
		}
		store.Add(name, docs...)
	}
	return store, nil
}

func documentKey(fields map[string]any) string {
	for _, k := range []string{"_key", "id"} {
		if v, ok := fields[k]; ok && v != nil {
			return strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return ""
}
