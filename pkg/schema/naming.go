package schema

import (
	"regexp"
	"strings"
)

var (
	acronymBoundary = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	wordBoundary    = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// SnakeCase converts CamelCase collection names to table names: RunBiosample -> run_biosample.
func SnakeCase(name string) string {
	s := acronymBoundary.ReplaceAllString(name, "${1}_${2}")
	s = wordBoundary.ReplaceAllString(s, "${1}_${2}")
	return strings.ToLower(s)
}

func childTableName(parent, field string) string {
	return parent + "__" + SnakeCase(field)
}

func edgeTableName(from, to string) string {
	return SnakeCase(from) + "_to_" + SnakeCase(to)
}

func factTableName(analyteTable, parentTable string) string {
	return analyteTable + "_" + parentTable + "__data"
}

func indexName(table, suffix string) string {
	return "ix_" + table + "_" + suffix
}
