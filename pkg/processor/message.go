package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/merging"
)

const (
	TypeNode         = "node"
	TypeRelationship = "relationship"
)

// Envelope is one live ingestion message.
type Envelope struct {
	Type         string            `json:"type"`
	Node         *WireNode         `json:"node,omitempty"`
	Relationship *WireRelationship `json:"relationship,omitempty"`
}

// WireNode carries cross-references as raw "NAMESPACE:value" keys.
type WireNode struct {
	ID              string         `json:"id"`
	Labels          []string       `json:"labels"`
	Xref            []string       `json:"xref,omitempty"`
	Provenance      string         `json:"provenance,omitempty"`
	ExtraProperties map[string]any `json:"extra_properties,omitempty"`
}

type WireRelationship struct {
	StartNode  WireNode                    `json:"start_node"`
	EndNode    WireNode                    `json:"end_node"`
	Labels     []string                    `json:"labels"`
	Provenance string                      `json:"provenance,omitempty"`
	Properties map[string]any              `json:"properties,omitempty"`
	Details    map[string][]map[string]any `json:"details,omitempty"`
}

// Decoder turns message values into identity entities.
type Decoder struct {
	logger ectologger.Logger
}

func NewDecoder(logger ectologger.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Decode parses one message. Malformed cross-references are kept as
// best-effort records and returned alongside the entity.
func (d *Decoder) Decode(ctx context.Context, value []byte) (merging.Entity, []error, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, nil, fmt.Errorf("failed to parse message: %w", err)
	}

	switch env.Type {
	case TypeNode:
		if env.Node == nil {
			return nil, nil, fmt.Errorf("node message has no node")
		}
		node, errs := d.node(ctx, *env.Node)
		if node.EntityKind() == "" {
			return nil, errs, fmt.Errorf("node %s has no labels", node.ID)
		}
		return node, errs, nil
	case TypeRelationship:
		if env.Relationship == nil {
			return nil, nil, fmt.Errorf("relationship message has no relationship")
		}
		w := env.Relationship
		start, startErrs := d.node(ctx, w.StartNode)
		end, endErrs := d.node(ctx, w.EndNode)
		rel := &identity.Relationship{
			StartNode:  start,
			EndNode:    end,
			Labels:     w.Labels,
			Provenance: w.Provenance,
			Properties: w.Properties,
			Details:    w.Details,
		}
		if rel.EntityKind() == "" {
			return nil, append(startErrs, endErrs...), fmt.Errorf("relationship %s has no labels", rel.EndpointKey())
		}
		return rel, append(startErrs, endErrs...), nil
	default:
		return nil, nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

func (d *Decoder) node(ctx context.Context, w WireNode) (identity.Node, []error) {
	xref, errs := identity.ParseXrefs(ctx, d.logger, w.Xref)
	return identity.Node{
		ID:              w.ID,
		Labels:          w.Labels,
		Xref:            xref,
		Provenance:      w.Provenance,
		ExtraProperties: w.ExtraProperties,
	}, errs
}
