// Package bridge links jurisdiction-local ingredient codes to canonical keys.
//
// The bridge is built once from one or more reference tables and is read-only
// afterwards. Lookups are exact on the normalized name; a code with no row
// is reported as not found and never guessed.
package bridge

import (
	"sort"
	"strings"

	"github.com/turtacn/RegScan/internal/domain/normalize"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

// Normalizer produces canonical keys from raw names.
type Normalizer interface {
	Normalize(raw string) substance.CanonicalKey
}

// Table is one cross-reference table. When tables disagree on a code the
// higher Precedence wins; equal precedence falls back to argument order.
type Table struct {
	Name       string
	Precedence int
	Rows       []substance.BridgeEntry
}

// Match is the outcome of a successful code lookup.
type Match struct {
	Code    string                 `json:"code"`
	Key     substance.CanonicalKey `json:"key"`
	Name    string                 `json:"name"`
	ATCCode string                 `json:"atc_code,omitempty"`
	Table   string                 `json:"table"`
}

// Conflict records two tables mapping one code to different keys.
type Conflict struct {
	Code         string                 `json:"code"`
	KeptTable    string                 `json:"kept_table"`
	KeptKey      substance.CanonicalKey `json:"kept_key"`
	DiscardTable string                 `json:"discarded_table"`
	DiscardKey   substance.CanonicalKey `json:"discarded_key"`
}

// Stats summarises how the bridge was built.
type Stats struct {
	Tables     int `json:"tables"`
	Rows       int `json:"rows"`
	Codes      int `json:"codes"`
	Keys       int `json:"keys"`
	Conflicts  int `json:"conflicts"`
	EmptyNames int `json:"empty_names"`
}

// Bridge is immutable after New returns and safe for concurrent use.
type Bridge struct {
	normalizer Normalizer
	byCode     map[string]Match
	byKey      map[substance.CanonicalKey][]string
	conflicts  []Conflict
	stats      Stats
}

// New builds a bridge from tables. It fails with a REF error when no table
// is given, a table has no rows, or a row has no code.
func New(normalizer Normalizer, logger logging.Logger, tables ...Table) (*Bridge, error) {
	if len(tables) == 0 {
		return nil, errors.New(errors.ErrCodeReferenceSourceAbsent, "no bridge table configured")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	ordered := make([]Table, len(tables))
	copy(ordered, tables)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Precedence > ordered[j].Precedence })

	b := &Bridge{
		normalizer: normalizer,
		byCode:     make(map[string]Match),
		byKey:      make(map[substance.CanonicalKey][]string),
	}
	b.stats.Tables = len(ordered)

	for _, t := range ordered {
		if len(t.Rows) == 0 {
			return nil, errors.Newf(errors.ErrCodeReferenceEmpty, "bridge table %q has no rows", t.Name)
		}
		for i, row := range t.Rows {
			code := NormalizeCode(row.LocalCode)
			if code == "" {
				return nil, errors.Newf(errors.ErrCodeReferenceMalformed, "bridge table %q row %d has no code", t.Name, i+1)
			}
			b.stats.Rows++

			key := normalizer.Normalize(row.Name)
			if key.IsEmpty() {
				b.stats.EmptyNames++
				continue
			}

			m := Match{Code: code, Key: key, Name: row.Name, ATCCode: strings.ToUpper(strings.TrimSpace(row.ATCCode)), Table: t.Name}
			prev, seen := b.byCode[code]
			if !seen {
				b.byCode[code] = m
				continue
			}
			if prev.Key == key {
				if prev.ATCCode == "" && m.ATCCode != "" {
					prev.ATCCode = m.ATCCode
					b.byCode[code] = prev
				}
				continue
			}
			c := Conflict{Code: code, KeptTable: prev.Table, KeptKey: prev.Key, DiscardTable: t.Name, DiscardKey: key}
			b.conflicts = append(b.conflicts, c)
			logger.Warn("bridge conflict",
				logging.String("code", code),
				logging.String("kept_table", c.KeptTable),
				logging.String("kept_key", c.KeptKey.String()),
				logging.String("discarded_table", c.DiscardTable),
				logging.String("discarded_key", c.DiscardKey.String()))
		}
	}

	for code, m := range b.byCode {
		b.byKey[m.Key] = append(b.byKey[m.Key], code)
	}
	for k := range b.byKey {
		sort.Strings(b.byKey[k])
	}
	b.stats.Codes = len(b.byCode)
	b.stats.Keys = len(b.byKey)
	b.stats.Conflicts = len(b.conflicts)

	logger.Info("bridge built",
		logging.Int("tables", b.stats.Tables),
		logging.Int("rows", b.stats.Rows),
		logging.Int("codes", b.stats.Codes),
		logging.Int("keys", b.stats.Keys),
		logging.Int("conflicts", b.stats.Conflicts))
	return b, nil
}

// NormalizeCode upper-cases and trims a local code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ResolveCode looks up a local code. The second result is false when no
// table has a row for it.
func (b *Bridge) ResolveCode(code string) (Match, bool) {
	m, ok := b.byCode[NormalizeCode(code)]
	return m, ok
}

// ResolveCanonical returns the sorted local codes mapped to key.
func (b *Bridge) ResolveCanonical(key substance.CanonicalKey) []string {
	codes := b.byKey[key]
	if len(codes) == 0 {
		return nil
	}
	out := make([]string, len(codes))
	copy(out, codes)
	return out
}

// CodesForName normalizes the primary ingredient of raw and returns its codes.
func (b *Bridge) CodesForName(raw string) (substance.CanonicalKey, []string) {
	key := b.normalizer.Normalize(normalize.PrimaryIngredient(raw))
	if key.IsEmpty() {
		return key, nil
	}
	return key, b.ResolveCanonical(key)
}

// ATCFor returns the first non-empty classification code among key's rows.
func (b *Bridge) ATCFor(key substance.CanonicalKey) string {
	for _, code := range b.byKey[key] {
		if atc := b.byCode[code].ATCCode; atc != "" {
			return atc
		}
	}
	return ""
}

// Conflicts returns the recorded table disagreements in build order.
func (b *Bridge) Conflicts() []Conflict {
	out := make([]Conflict, len(b.conflicts))
	copy(out, b.conflicts)
	return out
}

// Stats returns build statistics.
func (b *Bridge) Stats() Stats { return b.stats }
