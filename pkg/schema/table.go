package schema

// ColumnType is a dialect-neutral column type resolved to concrete SQL by DDL.
type ColumnType string

const (
	// ColumnKey is a bounded string usable as a primary or foreign key in every dialect.
	ColumnKey     ColumnType = "key"
	ColumnText    ColumnType = "text"
	ColumnInteger ColumnType = "integer"
	ColumnFloat   ColumnType = "float"
	ColumnBoolean ColumnType = "boolean"
)

func columnTypeOf(s ScalarType) ColumnType {
	switch s {
	case ScalarInt:
		return ColumnInteger
	case ScalarFloat:
		return ColumnFloat
	case ScalarBool:
		return ColumnBoolean
	default:
		return ColumnText
	}
}

type ForeignKey struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

type Column struct {
	Name       string      `json:"name"`
	Type       ColumnType  `json:"type"`
	PrimaryKey bool        `json:"primary_key,omitempty"`
	Nullable   bool        `json:"nullable"`
	References *ForeignKey `json:"references,omitempty"`
}

type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

type TableRole string

const (
	RoleDocument TableRole = "document"
	RoleChild    TableRole = "child"
	RoleEdge     TableRole = "edge"
	RoleFact     TableRole = "fact"
)

// Table is one planned relational table.
type Table struct {
	Name    string    `json:"name"`
	Role    TableRole `json:"role"`
	Columns []Column  `json:"columns"`
	Indexes []Index   `json:"indexes,omitempty"`
}

func NewTable(name string, role TableRole) *Table {
	return &Table{Name: name, Role: role}
}

func (t *Table) AddColumn(c Column) *Table {
	t.Columns = append(t.Columns, c)
	return t
}

// AddKey adds the table's string primary key.
func (t *Table) AddKey(name string) *Table {
	return t.AddColumn(Column{Name: name, Type: ColumnKey, PrimaryKey: true})
}

// AddSurrogateKey adds an integer primary key whose values the run assigns.
func (t *Table) AddSurrogateKey(name string) *Table {
	return t.AddColumn(Column{Name: name, Type: ColumnInteger, PrimaryKey: true})
}

// AddReference adds a required, indexed foreign key column.
func (t *Table) AddReference(name string, colType ColumnType, table, column string) *Table {
	t.AddColumn(Column{Name: name, Type: colType, References: &ForeignKey{Table: table, Column: column}})
	return t
}

func (t *Table) AddNullable(name string, colType ColumnType) *Table {
	return t.AddColumn(Column{Name: name, Type: colType, Nullable: true})
}

func (t *Table) AddIndex(name string, columns ...string) *Table {
	t.Indexes = append(t.Indexes, Index{Name: name, Columns: columns})
	return t
}

func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (t *Table) PrimaryKey() []string {
	var pk []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	return pk
}
