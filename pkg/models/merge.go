package models

import "time"

// FieldConflictBehavior decides which side wins when both records carry a
// non-null value for the same field.
type FieldConflictBehavior string

const (
	KeepLast  FieldConflictBehavior = "KeepLast"
	KeepFirst FieldConflictBehavior = "KeepFirst"
)

// FieldUpdate is one audited field change made while merging.
type FieldUpdate struct {
	Table      string                `json:"table"`
	Key        string                `json:"key"`
	Field      string                `json:"field"`
	Old        any                   `json:"old"`
	New        any                   `json:"new"`
	Provenance string                `json:"provenance,omitempty"`
	Behavior   FieldConflictBehavior `json:"behavior"`
	Applied    bool                  `json:"applied"`
}

// ConverterReport covers one converter's flush within a cycle.
type ConverterReport struct {
	Kind      string        `json:"kind"`
	Converter string        `json:"converter"`
	Table     string        `json:"table"`
	Converted int           `json:"converted"`
	Inserted  int           `json:"inserted"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Skipped   bool          `json:"skipped"`
	Elapsed   time.Duration `json:"elapsed"`
	Updates   []FieldUpdate `json:"updates,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type FlushReport struct {
	Converters []ConverterReport `json:"converters"`
}

// ID names the converter within its entity kind.
func (c ConverterReport) ID() string {
	return c.Kind + "/" + c.Converter
}

// Failed lists the IDs of converters whose cycle rolled back.
func (r *FlushReport) Failed() []string {
	var ids []string
	for _, c := range r.Converters {
		if c.Error != "" {
			ids = append(ids, c.ID())
		}
	}
	return ids
}

func (r *FlushReport) Totals() (inserted, updated int) {
	for _, c := range r.Converters {
		inserted += c.Inserted
		updated += c.Updated
	}
	return inserted, updated
}
