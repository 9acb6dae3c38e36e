package merging

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/jmespath/go-jmespath"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FieldMap declares a converter as JMESPath expressions over an entity's
// document. When Each is set, one record is produced per element of the
// list it selects and expressions run against {"item": element, "parent": document}.
type FieldMap struct {
	Name          string            `yaml:"name"`
	Kind          string            `yaml:"kind"`
	Table         string            `yaml:"table"`
	PrimaryKey    []string          `yaml:"primary_key"`
	AutoIncrement bool              `yaml:"auto_increment"`
	Each          string            `yaml:"each"`
	Fields        map[string]string `yaml:"fields"`
	Options       `yaml:",inline"`

	// Resolve replaces the natural key a field evaluates to with the
	// surrogate key held for it in another table.
	Resolve map[string]ResolveSpec `yaml:"resolve"`
}

// ResolveSpec names the table whose surrogate keys a column refers to.
// KeyColumn is the column of that table holding the natural key, used to
// read existing mappings back before ingestion.
type ResolveSpec struct {
	Table     string `yaml:"table"`
	KeyColumn string `yaml:"key_column"`
}

type fieldMapFile struct {
	Converters []FieldMap `yaml:"converters"`
}

// Evaluator compiles and caches JMESPath expressions.
type Evaluator struct {
	cache map[string]*jmespath.JMESPath
	mu    sync.RWMutex
}

func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*jmespath.JMESPath)}
}

// Evaluate evaluates a JMESPath expression against data
func (e *Evaluator) Evaluate(expression string, data any) (any, error) {
	compiled, err := e.getOrCompile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}
	return result, nil
}

func (e *Evaluator) getOrCompile(expression string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	if compiled, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return compiled, nil
	}
	e.mu.RUnlock()

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = compiled
	e.mu.Unlock()
	return compiled, nil
}

// Converter compiles the field map into a registrable converter. ids is
// required when the map resolves any column.
func (f FieldMap) Converter(eval *Evaluator, ids *identity.Allocator) (Converter, error) {
	if len(f.Fields) == 0 {
		return Converter{}, fmt.Errorf("converter %s: no fields mapped", f.Name)
	}
	for column, spec := range f.Resolve {
		if _, ok := f.Fields[column]; !ok {
			return Converter{}, fmt.Errorf("converter %s: resolved column %s is not mapped", f.Name, column)
		}
		if spec.Table == "" {
			return Converter{}, fmt.Errorf("converter %s: resolved column %s has no table", f.Name, column)
		}
		if ids == nil {
			return Converter{}, fmt.Errorf("converter %s: resolving %s needs an identity allocator", f.Name, column)
		}
	}
	expressions := []string{}
	if f.Each != "" {
		expressions = append(expressions, f.Each)
	}
	for _, expr := range f.Fields {
		expressions = append(expressions, expr)
	}
	for _, expr := range expressions {
		if _, err := eval.getOrCompile(expr); err != nil {
			return Converter{}, fmt.Errorf("converter %s: invalid expression %q: %w", f.Name, expr, err)
		}
	}

	conv := Converter{
		Name:    f.Name,
		Kind:    f.Kind,
		Type:    models.RecordType{Table: f.Table, PrimaryKey: f.PrimaryKey, AutoIncrement: f.AutoIncrement},
		Options: f.Options,
		Convert: func(entity Entity) (Result, error) {
			return f.convert(eval, ids, entity.Document())
		},
	}
	return conv, conv.validate()
}

func (f FieldMap) convert(eval *Evaluator, ids *identity.Allocator, doc map[string]any) (Result, error) {
	if f.Each == "" {
		rec, err := f.record(eval, ids, doc)
		if err != nil || rec == nil {
			return None{}, err
		}
		return One{Record: rec}, nil
	}

	selected, err := eval.Evaluate(f.Each, doc)
	if err != nil {
		return nil, err
	}
	items, _ := asList(selected)
	records := make([]models.Record, 0, len(items))
	for _, item := range items {
		rec, err := f.record(eval, ids, map[string]any{"item": item, "parent": doc})
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	return Of(records...), nil
}

// record evaluates every field; a record whose fields are all null is dropped.
func (f FieldMap) record(eval *Evaluator, ids *identity.Allocator, data any) (models.Record, error) {
	rec := make(models.Record, len(f.Fields))
	populated := false
	for column, expr := range f.Fields {
		v, err := eval.Evaluate(expr, data)
		if err != nil {
			return nil, err
		}
		if spec, ok := f.Resolve[column]; ok && v != nil {
			v = ids.Resolve(spec.Table, fmt.Sprint(v))
		}
		rec[column] = v
		if v != nil {
			populated = true
		}
	}
	if !populated {
		return nil, nil
	}
	return rec, nil
}

// ParseFieldMaps decodes a converters document.
func ParseFieldMaps(data []byte) ([]FieldMap, error) {
	var file fieldMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to parse converters")
	}
	return file.Converters, nil
}

// LoadConverters reads a converters file and registers every converter it
// declares, returning the field maps. An empty path registers nothing.
func LoadConverters(path string, registry *Registry, ids *identity.Allocator) ([]FieldMap, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read converters file %s", path)
	}
	maps, err := ParseFieldMaps(data)
	if err != nil {
		return nil, err
	}
	eval := NewEvaluator()
	for _, m := range maps {
		conv, err := m.Converter(eval, ids)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(conv); err != nil {
			return nil, err
		}
	}
	return maps, nil
}

// MappingReader reads natural key to surrogate key pairs already stored.
type MappingReader interface {
	IDMapping(ctx context.Context, table, idColumn, keyColumn string) (map[string]int64, error)
}

// PreloadResolved loads the stored mappings of every resolved table that
// names a key column, so keys resolved earlier are reused.
func PreloadResolved(ctx context.Context, store MappingReader, ids *identity.Allocator, maps []FieldMap) error {
	done := make(map[ResolveSpec]bool)
	for _, m := range maps {
		for _, spec := range m.Resolve {
			if spec.KeyColumn == "" || done[spec] {
				continue
			}
			done[spec] = true
			mappings, err := store.IDMapping(ctx, spec.Table, "id", spec.KeyColumn)
			if err != nil {
				return err
			}
			ids.Preload(spec.Table, mappings)
		}
	}
	return nil
}
