package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Ramsey-B/fern/pkg/kgerrors"
	"gopkg.in/yaml.v3"
)

// MetadataKey is the key of the metadata document holding collection schemas.
const MetadataKey = "collection_schemas"

// DecodeJSON reads a collection_schemas document.
func DecodeJSON(data []byte) ([]Descriptor, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, kgerrors.Wrap(kgerrors.KindSchemaInference, err, "invalid collection schema JSON")
	}
	return FromMap(raw)
}

// DecodeYAML reads the same document shape from YAML.
func DecodeYAML(data []byte) ([]Descriptor, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, kgerrors.Wrap(kgerrors.KindSchemaInference, err, "invalid collection schema YAML")
	}
	return FromMap(raw)
}

// FromMap accepts {collections: {Name: {...}}} or the bare collections map.
// Descriptors are returned in collection name order.
func FromMap(raw map[string]any) ([]Descriptor, error) {
	collections := raw
	if inner, ok := raw["collections"].(map[string]any); ok {
		collections = inner
	}

	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)

	descriptors := make([]Descriptor, 0, len(names))
	for _, name := range names {
		body, ok := collections[name].(map[string]any)
		if !ok {
			return nil, kgerrors.Newf(kgerrors.KindSchemaInference, "collection schema must be an object, got %T", collections[name]).WithCollection(name)
		}
		d, err := descriptorFromMap(name, body)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

func descriptorFromMap(name string, body map[string]any) (Descriptor, error) {
	d := Descriptor{
		Name:            name,
		Kind:            Kind(stringOf(body["type"])),
		FromCollections: stringsOf(body["from_collections"]),
		ToCollections:   stringsOf(body["to_collections"]),
	}

	rawFields, _ := body["fields"].(map[string]any)
	fields, err := fieldsFromMap(rawFields)
	if err != nil {
		if kgErr, ok := kgerrors.As(err); ok {
			return d, kgErr.WithCollection(name)
		}
		return d, err
	}
	d.Fields = fields

	if err := d.Validate(); err != nil {
		return d, err
	}
	return d, nil
}

func fieldsFromMap(raw map[string]any) (Fields, error) {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == "id" || names[j] == "id" {
			return names[i] == "id"
		}
		return names[i] < names[j]
	})

	fields := make(Fields, 0, len(names))
	for _, name := range names {
		ft, err := fieldTypeOf(raw[name])
		if err != nil {
			return nil, kgerrors.Newf(kgerrors.KindSchemaInference, "field %s: %v", name, err)
		}
		fields = append(fields, Field{Name: name, Type: ft})
	}
	return fields, nil
}

func fieldTypeOf(raw any) (FieldType, error) {
	switch v := raw.(type) {
	case string:
		return Scalar{Type: scalarOf(v)}, nil
	case map[string]any:
		switch t := stringOf(v["type"]); t {
		case "list":
			return listTypeOf(v)
		case "object":
			sub, _ := v["fields"].(map[string]any)
			fields, err := fieldsFromMap(sub)
			if err != nil {
				return nil, err
			}
			return Object{Fields: fields}, nil
		case "":
			return nil, fmt.Errorf("field schema has no type")
		default:
			return Scalar{Type: scalarOf(t)}, nil
		}
	default:
		return nil, fmt.Errorf("unsupported field schema %T", raw)
	}
}

func listTypeOf(v map[string]any) (FieldType, error) {
	switch item := v["item_type"].(type) {
	case string:
		if item != "object" {
			return RepeatedScalar{Elem: scalarOf(item)}, nil
		}
		sub, _ := v["fields"].(map[string]any)
		fields, err := fieldsFromMap(sub)
		if err != nil {
			return nil, err
		}
		return RepeatedObject{Fields: fields}, nil
	case map[string]any:
		if stringOf(item["type"]) == "object" {
			sub, _ := item["fields"].(map[string]any)
			fields, err := fieldsFromMap(sub)
			if err != nil {
				return nil, err
			}
			return RepeatedObject{Fields: fields}, nil
		}
		return RepeatedScalar{Elem: scalarOf(stringOf(item["type"]))}, nil
	default:
		return RepeatedScalar{Elem: ScalarString}, nil
	}
}

// scalarOf falls back to str for type names outside the known set.
func scalarOf(name string) ScalarType {
	s := ScalarType(name)
	if s.valid() {
		return s
	}
	return ScalarString
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func stringsOf(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
