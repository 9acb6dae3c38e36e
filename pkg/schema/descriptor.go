package schema

import (
	"fmt"

	"github.com/Ramsey-B/fern/pkg/kgerrors"
)

type Kind string

const (
	KindDocument Kind = "document"
	KindEdge     Kind = "edge"
)

// FileReferenceField marks a document collection whose numeric payload lives
// in an external columnar file.
const FileReferenceField = "file_reference"

// Descriptor is the declared shape of one source collection.
type Descriptor struct {
	Name            string
	Kind            Kind
	Fields          Fields
	FromCollections []string
	ToCollections   []string
}

func (d Descriptor) IsDocument() bool { return d.Kind == KindDocument }
func (d Descriptor) IsEdge() bool     { return d.Kind == KindEdge }

// IsFileReference reports whether d is a document collection carrying a file_reference field.
func (d Descriptor) IsFileReference() bool {
	return d.IsDocument() && d.Fields.Has(FileReferenceField)
}

func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindDocument:
		ft, ok := d.Fields.Get("id")
		if !ok {
			return kgerrors.New(kgerrors.KindSchemaInference, "document collection has no id field").WithCollection(d.Name)
		}
		if _, scalar := ft.(Scalar); !scalar {
			return kgerrors.Newf(kgerrors.KindSchemaInference, "id field must be scalar, got %s", ft).WithCollection(d.Name)
		}
	case KindEdge:
		if len(d.FromCollections) == 0 || len(d.ToCollections) == 0 {
			return kgerrors.New(kgerrors.KindSchemaInference, "edge collection must declare from and to collections").WithCollection(d.Name)
		}
	default:
		return kgerrors.Newf(kgerrors.KindSchemaInference, "unknown collection type %q", d.Kind).WithCollection(d.Name)
	}
	return nil
}

// IndexDescriptors maps descriptors by collection name and rejects duplicates.
func IndexDescriptors(descriptors []Descriptor) (map[string]Descriptor, error) {
	byName := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		if _, dup := byName[d.Name]; dup {
			return nil, kgerrors.New(kgerrors.KindSchemaInference, fmt.Sprintf("collection %s declared twice", d.Name)).WithCollection(d.Name)
		}
		byName[d.Name] = d
	}
	return byName, nil
}
