package identity

// Node is the envelope every document entity arrives in.
type Node struct {
	ID              string         `json:"id"`
	Labels          []string       `json:"labels"`
	Xref            []EquivalentId `json:"xref,omitempty"`
	Provenance      string         `json:"provenance,omitempty"`
	ExtraProperties map[string]any `json:"extra_properties,omitempty"`
}

// EntityKind is the node's first label.
func (n Node) EntityKind() string {
	if len(n.Labels) == 0 {
		return ""
	}
	return n.Labels[0]
}

// Document renders the node as a generic property map. Extra properties are
// flattened next to the envelope fields without overriding them.
func (n Node) Document() map[string]any {
	doc := make(map[string]any, len(n.ExtraProperties)+4)
	for k, v := range n.ExtraProperties {
		doc[k] = v
	}
	labels := make([]any, len(n.Labels))
	for i, l := range n.Labels {
		labels[i] = l
	}
	doc["id"] = n.ID
	doc["labels"] = labels
	doc["xref"] = xrefDocuments(n.Xref)
	doc["provenance"] = n.Provenance
	return doc
}

// Relationship connects two nodes. Repeated sub-records (for example several
// activity measurements between the same endpoints) live in Details and are
// never deduplicated.
type Relationship struct {
	StartNode  Node                        `json:"start_node"`
	EndNode    Node                        `json:"end_node"`
	Labels     []string                    `json:"labels"`
	Provenance string                      `json:"provenance,omitempty"`
	Properties map[string]any              `json:"properties,omitempty"`
	Details    map[string][]map[string]any `json:"details,omitempty"`
}

func (r Relationship) EntityKind() string {
	if len(r.Labels) == 0 {
		return ""
	}
	return r.Labels[0]
}

// EndpointKey identifies the relationship by kind and endpoints.
func (r Relationship) EndpointKey() string {
	return r.EntityKind() + "|" + r.StartNode.ID + "|" + r.EndNode.ID
}

// Absorb appends every repeated sub-record of other to r and fills properties
// r does not carry yet.
func (r *Relationship) Absorb(other Relationship) {
	if r.Details == nil && len(other.Details) > 0 {
		r.Details = make(map[string][]map[string]any, len(other.Details))
	}
	for field, records := range other.Details {
		r.Details[field] = append(r.Details[field], records...)
	}
	if r.Properties == nil && len(other.Properties) > 0 {
		r.Properties = make(map[string]any, len(other.Properties))
	}
	for k, v := range other.Properties {
		if _, exists := r.Properties[k]; !exists || r.Properties[k] == nil {
			r.Properties[k] = v
		}
	}
}

func (r Relationship) Document() map[string]any {
	doc := make(map[string]any, len(r.Properties)+len(r.Details)+5)
	for k, v := range r.Properties {
		doc[k] = v
	}
	for field, records := range r.Details {
		items := make([]any, len(records))
		for i, rec := range records {
			items[i] = rec
		}
		doc[field] = items
	}
	labels := make([]any, len(r.Labels))
	for i, l := range r.Labels {
		labels[i] = l
	}
	doc["start_id"] = r.StartNode.ID
	doc["end_id"] = r.EndNode.ID
	doc["labels"] = labels
	doc["provenance"] = r.Provenance
	return doc
}

func xrefDocuments(ids []EquivalentId) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		tags := make([]any, len(id.SourceTags))
		for j, t := range id.SourceTags {
			tags[j] = t
		}
		out[i] = map[string]any{
			"id":          id.CanonicalKey(),
			"namespace":   string(id.Namespace),
			"value":       id.Value,
			"status":      id.Status,
			"source_tags": tags,
		}
	}
	return out
}
