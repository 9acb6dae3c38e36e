package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// FlavorForDriver maps a database/sql driver name onto its sqlbuilder flavor.
func FlavorForDriver(driverName string) sqlbuilder.Flavor {
	switch driverName {
	case "mysql":
		return sqlbuilder.MySQL
	case "sqlite", "sqlite3":
		return sqlbuilder.SQLite
	default:
		return sqlbuilder.PostgreSQL
	}
}

// OnConflictUpdate appends an upsert clause updating columns from the excluded row.
func OnConflictUpdate(ib *sqlbuilder.InsertBuilder, conflict []string, columns []string) *sqlbuilder.InsertBuilder {
	sets := make([]string, 0, len(columns))
	switch ib.Flavor() {
	case sqlbuilder.MySQL:
		for _, c := range columns {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		}
		ib.SQL("ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", "))
	default:
		for _, c := range columns {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
		ib.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflict, ", "), strings.Join(sets, ", ")))
	}
	return ib
}

// MaxParams is a conservative bind-parameter ceiling per statement for the flavor.
func MaxParams(flavor sqlbuilder.Flavor) int {
	switch flavor {
	case sqlbuilder.SQLite:
		return 32766
	default:
		return 65535
	}
}

// RowsPerStatement bounds a multi-row insert so it stays under the flavor's
// parameter ceiling and limit.
func RowsPerStatement(flavor sqlbuilder.Flavor, columns, limit int) int {
	if columns <= 0 {
		return limit
	}
	n := MaxParams(flavor) / columns
	if limit > 0 && n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}
