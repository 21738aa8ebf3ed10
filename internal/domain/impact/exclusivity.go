package impact

import (
	"sort"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/pkg/errors"
)

// Normalizer produces canonical keys from raw names.
type Normalizer interface {
	Normalize(raw string) substance.CanonicalKey
}

// ExclusivityRow is one input row: a substance name and its boundary.
type ExclusivityRow struct {
	Name string
	substance.ExclusivityInfo
}

// ExclusivityTable maps canonical keys to the nearest-expiring exclusivity.
type ExclusivityTable struct {
	byKey map[substance.CanonicalKey]substance.ExclusivityInfo
}

// NewExclusivityTable keys rows by normalized name. When a substance has
// several rows the earliest expiry is kept. Rows whose name normalizes to
// empty or that carry no expiry are rejected.
func NewExclusivityTable(n Normalizer, rows []ExclusivityRow) (*ExclusivityTable, error) {
	if n == nil {
		return nil, errors.New(errors.ErrCodeValidation, "normalizer is required")
	}
	t := &ExclusivityTable{byKey: make(map[substance.CanonicalKey]substance.ExclusivityInfo, len(rows))}
	for i, r := range rows {
		key := n.Normalize(r.Name)
		if key.IsEmpty() {
			return nil, errors.Newf(errors.ErrCodeReferenceMalformed, "exclusivity row %d: name %q has no canonical key", i+1, r.Name)
		}
		if r.Expires.IsZero() {
			return nil, errors.Newf(errors.ErrCodeReferenceMalformed, "exclusivity row %d: missing expiry", i+1)
		}
		if cur, ok := t.byKey[key]; ok && !r.Expires.Before(cur.Expires) {
			continue
		}
		t.byKey[key] = r.ExclusivityInfo
	}
	return t, nil
}

// Exclusivity returns the boundary recorded for key.
func (t *ExclusivityTable) Exclusivity(key substance.CanonicalKey) (substance.ExclusivityInfo, bool) {
	if t == nil {
		return substance.ExclusivityInfo{}, false
	}
	ex, ok := t.byKey[key]
	return ex, ok
}

// Len returns the number of substances with a boundary.
func (t *ExclusivityTable) Len() int { return len(t.byKey) }

// Keys returns the covered keys in sorted order.
func (t *ExclusivityTable) Keys() []substance.CanonicalKey {
	out := make([]substance.CanonicalKey, 0, len(t.byKey))
	for k := range t.byKey {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
