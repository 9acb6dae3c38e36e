package graph

import (
	"fmt"
	"strings"
)

// sanitizeLabel keeps letters, digits and underscores so a collection name
// can be spliced into a statement as a label or relationship type.
func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "Entity"
	}
	return b.String()
}

func metadataQuery(label string) string {
	return fmt.Sprintf(`
		MATCH (m:%s {key: $key})
		RETURN m.value AS value
		LIMIT 1
	`, sanitizeLabel(label))
}

func saveMetadataQuery(label string) string {
	return fmt.Sprintf(`
		MERGE (m:%s {key: $key})
		SET m.value = $value
	`, sanitizeLabel(label))
}

// nodePageQuery pages a document collection by its key, which is _key when
// the graph was imported with one and id otherwise.
func nodePageQuery(collection string) string {
	return fmt.Sprintf(`
		MATCH (n:%s)
		WITH n, toString(coalesce(n._key, n.id)) AS key
		WHERE key > $after
		RETURN key, properties(n) AS props
		ORDER BY key
		LIMIT $limit
	`, sanitizeLabel(collection))
}

func edgePageQuery(collection string) string {
	return fmt.Sprintf(`
		MATCH (a)-[r:%s]->(b)
		WITH a, r, b, toString(coalesce(r._key, r.id, elementId(r))) AS key
		WHERE key > $after
		RETURN key, properties(r) AS props, a.id AS start_id, b.id AS end_id
		ORDER BY key
		LIMIT $limit
	`, sanitizeLabel(collection))
}

func edgeStartsQuery(collection string) string {
	return fmt.Sprintf(`
		MATCH (a)-[:%s]->()
		WHERE a.id IS NOT NULL
		RETURN DISTINCT toString(a.id) AS id
		ORDER BY id
	`, sanitizeLabel(collection))
}
