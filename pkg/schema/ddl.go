package schema

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

func sqlType(flavor sqlbuilder.Flavor, t ColumnType) string {
	switch t {
	case ColumnKey:
		return "VARCHAR(255)"
	case ColumnInteger:
		if flavor == sqlbuilder.SQLite {
			return "INTEGER"
		}
		return "BIGINT"
	case ColumnFloat:
		switch flavor {
		case sqlbuilder.PostgreSQL:
			return "DOUBLE PRECISION"
		case sqlbuilder.SQLite:
			return "REAL"
		}
		return "DOUBLE"
	case ColumnBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func quoteAll(flavor sqlbuilder.Flavor, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = flavor.Quote(n)
	}
	return strings.Join(quoted, ", ")
}

// CreateTable renders the statements creating t. MySQL declares indexes
// inline; the other dialects get a CREATE INDEX per index.
func CreateTable(flavor sqlbuilder.Flavor, t *Table) []string {
	ctb := sqlbuilder.NewCreateTableBuilder()
	ctb.SetFlavor(flavor)
	ctb.CreateTable(flavor.Quote(t.Name)).IfNotExists()

	for _, c := range t.Columns {
		def := []string{flavor.Quote(c.Name), sqlType(flavor, c.Type)}
		if !c.Nullable {
			def = append(def, "NOT NULL")
		}
		ctb.Define(def...)
	}
	if pk := t.PrimaryKey(); len(pk) > 0 {
		ctb.Define("PRIMARY KEY", "("+quoteAll(flavor, pk)+")")
	}
	for _, c := range t.Columns {
		if c.References == nil {
			continue
		}
		ctb.Define("FOREIGN KEY", "("+flavor.Quote(c.Name)+")", "REFERENCES",
			flavor.Quote(c.References.Table), "("+flavor.Quote(c.References.Column)+")")
	}
	if flavor == sqlbuilder.MySQL {
		for _, idx := range t.Indexes {
			ctb.Define("INDEX", flavor.Quote(idx.Name), "("+quoteAll(flavor, idx.Columns)+")")
		}
	}

	statements := []string{ctb.String()}
	if flavor != sqlbuilder.MySQL {
		for _, idx := range t.Indexes {
			statements = append(statements, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				flavor.Quote(idx.Name), flavor.Quote(t.Name), quoteAll(flavor, idx.Columns)))
		}
	}
	return statements
}

// DDL renders every table of the plan in creation order.
func (p *Plan) DDL(flavor sqlbuilder.Flavor) []string {
	var statements []string
	for _, t := range p.Tables {
		statements = append(statements, CreateTable(flavor, t)...)
	}
	return statements
}
