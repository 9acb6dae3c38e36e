package identity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/kgerrors"
	"github.com/Ramsey-B/fern/pkg/metrics"
)

const separator = ":"

// EquivalentId is one cross-reference identifier of an entity.
type EquivalentId struct {
	Value      string    `json:"value"`
	Namespace  Namespace `json:"namespace"`
	SourceTags []string  `json:"source_tags,omitempty"`
	Status     string    `json:"status,omitempty"`
}

func NewEquivalentId(namespace Namespace, value string, sourceTags ...string) EquivalentId {
	return EquivalentId{Value: value, Namespace: namespace, SourceTags: sourceTags}
}

// CanonicalKey renders namespace:value.
func (e EquivalentId) CanonicalKey() string {
	return string(e.Namespace) + separator + e.Value
}

func (e EquivalentId) String() string {
	return e.CanonicalKey()
}

// Equal compares value, namespace, status and source tags as a set.
func (e EquivalentId) Equal(other EquivalentId) bool {
	if e.Value != other.Value || e.Namespace != other.Namespace || e.Status != other.Status {
		return false
	}
	return sameSet(e.SourceTags, other.SourceTags)
}

// Key is a hashable form of every field Equal compares, for use as a map key.
func (e EquivalentId) Key() string {
	tags := normalizedTags(e.SourceTags)
	return fmt.Sprintf("%s|%s|%s", e.CanonicalKey(), e.Status, strings.Join(tags, ","))
}

// Parse splits s on the first ':'. The returned id is always populated with
// best-effort fields; err is a MalformedIdentifier when the separator is
// missing or the namespace is not recognized.
func Parse(s string) (EquivalentId, error) {
	idx := strings.Index(s, separator)
	if idx < 0 {
		return EquivalentId{Value: s}, kgerrors.Newf(kgerrors.KindMalformedIdentifier, "identifier %q has no namespace separator", s)
	}

	token, value := s[:idx], s[idx+1:]
	ns, ok := LookupNamespace(token)
	if !ok {
		return EquivalentId{Value: value}, kgerrors.Newf(kgerrors.KindMalformedIdentifier, "identifier %q has unrecognized namespace %q", s, token)
	}
	return EquivalentId{Value: value, Namespace: ns}, nil
}

// ParseXrefs parses raw cross-reference keys, logging and counting malformed
// ones while still keeping their best-effort records. Structural duplicates
// are dropped.
func ParseXrefs(ctx context.Context, logger ectologger.Logger, raw []string) ([]EquivalentId, []error) {
	seen := make(map[string]struct{}, len(raw))
	ids := make([]EquivalentId, 0, len(raw))
	var errs []error

	for _, s := range raw {
		id, err := Parse(s)
		if err != nil {
			metrics.IdentifierParseFailures.Inc()
			logger.WithContext(ctx).WithError(err).WithField("identifier", s).Warn("Malformed cross-reference, keeping best-effort record")
			errs = append(errs, err)
		}
		key := id.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ids = append(ids, id)
	}

	return ids, errs
}

func normalizedTags(tags []string) []string {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func sameSet(a, b []string) bool {
	na, nb := normalizedTags(a), normalizedTags(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}
