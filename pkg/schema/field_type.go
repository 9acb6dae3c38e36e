package schema

import "fmt"

// ScalarType is a primitive field type as declared in collection metadata.
type ScalarType string

const (
	ScalarString   ScalarType = "str"
	ScalarInt      ScalarType = "int"
	ScalarFloat    ScalarType = "float"
	ScalarBool     ScalarType = "bool"
	ScalarDate     ScalarType = "date"
	ScalarDateTime ScalarType = "datetime"
)

func (s ScalarType) valid() bool {
	switch s {
	case ScalarString, ScalarInt, ScalarFloat, ScalarBool, ScalarDate, ScalarDateTime:
		return true
	}
	return false
}

// FieldType is the closed set of field shapes: Scalar, RepeatedScalar,
// RepeatedObject and Object.
type FieldType interface {
	fieldType()
	String() string
}

type Scalar struct {
	Type ScalarType
}

type RepeatedScalar struct {
	Elem ScalarType
}

type RepeatedObject struct {
	Fields Fields
}

// Object is a nested, non-repeated object. It is stored as JSON on its owner.
type Object struct {
	Fields Fields
}

func (Scalar) fieldType()         {}
func (RepeatedScalar) fieldType() {}
func (RepeatedObject) fieldType() {}
func (Object) fieldType()         {}

func (s Scalar) String() string         { return string(s.Type) }
func (r RepeatedScalar) String() string { return fmt.Sprintf("list<%s>", r.Elem) }
func (r RepeatedObject) String() string { return fmt.Sprintf("list<object{%d}>", len(r.Fields)) }
func (o Object) String() string         { return fmt.Sprintf("object{%d}", len(o.Fields)) }

// IsRepeated reports whether ft produces child-table rows.
func IsRepeated(ft FieldType) bool {
	switch ft.(type) {
	case RepeatedScalar, RepeatedObject:
		return true
	}
	return false
}

type Field struct {
	Name string
	Type FieldType
}

// Fields keeps declaration order; decoded metadata is sorted with "id" first.
type Fields []Field

func (f Fields) Get(name string) (FieldType, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Type, true
		}
	}
	return nil, false
}

func (f Fields) Has(name string) bool {
	_, ok := f.Get(name)
	return ok
}

// HasRepeated reports whether any field produces child rows.
func (f Fields) HasRepeated() bool {
	for _, field := range f {
		if IsRepeated(field.Type) {
			return true
		}
	}
	return false
}
