// Package classification resolves hierarchical therapeutic classification
// codes (anatomical main group down to chemical substance) by prefix.
package classification

import (
	"sort"
	"strings"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/pkg/errors"
)

// prefixLengths lists the defined code lengths from most to least specific.
var prefixLengths = []int{7, 5, 4, 3, 1}

var mainGroups = map[string]string{
	"A": "Alimentary tract and metabolism",
	"B": "Blood and blood forming organs",
	"C": "Cardiovascular system",
	"D": "Dermatologicals",
	"G": "Genito-urinary system and sex hormones",
	"H": "Systemic hormonal preparations, excluding sex hormones and insulins",
	"J": "Antiinfectives for systemic use",
	"L": "Antineoplastic and immunomodulating agents",
	"M": "Musculo-skeletal system",
	"N": "Nervous system",
	"P": "Antiparasitic products, insecticides and repellents",
	"R": "Respiratory system",
	"S": "Sensory organs",
	"V": "Various",
}

// Entry is one row of the classification table.
type Entry struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Level returns the hierarchy level (1-5) implied by the code length, or 0
// for a length that is not a defined branch.
func Level(code string) int {
	switch len(code) {
	case 1:
		return 1
	case 3:
		return 2
	case 4:
		return 3
	case 5:
		return 4
	case 7:
		return 5
	default:
		return 0
	}
}

// NormalizeCode upper-cases a code and drops whitespace.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(code), ""))
}

// Table is immutable after NewTable returns and safe for concurrent use.
type Table struct {
	names map[string]string
}

// NewTable builds a table from entries. The anatomical main groups are
// always present; entries override their names.
func NewTable(entries []Entry) (*Table, error) {
	if len(entries) == 0 {
		return nil, errors.New(errors.ErrCodeReferenceEmpty, "classification table has no rows")
	}
	t := &Table{names: make(map[string]string, len(entries)+len(mainGroups))}
	for code, name := range mainGroups {
		t.names[code] = name
	}
	for i, e := range entries {
		code := NormalizeCode(e.Code)
		if Level(code) == 0 {
			return nil, errors.Newf(errors.ErrCodeReferenceMalformed, "classification row %d: invalid code %q", i+1, e.Code)
		}
		name := strings.TrimSpace(e.Name)
		if name == "" {
			name = code
		}
		t.names[code] = name
	}
	return t, nil
}

// Len returns the number of branches, main groups included.
func (t *Table) Len() int { return len(t.names) }

// Lookup returns the name of an exact branch.
func (t *Table) Lookup(code string) (string, bool) {
	name, ok := t.names[NormalizeCode(code)]
	return name, ok
}

// Classify truncates code to each defined prefix length, most specific
// first, and returns the first branch found together with every ancestor
// present in the table. A code with no matching prefix is not found.
func (t *Table) Classify(code string) (substance.ClassificationPath, bool) {
	code = NormalizeCode(code)
	for _, n := range prefixLengths {
		if len(code) < n {
			continue
		}
		prefix := code[:n]
		name, ok := t.names[prefix]
		if !ok {
			continue
		}
		path := substance.ClassificationPath{Code: prefix, Name: name, Level: Level(prefix)}
		for i := len(prefixLengths) - 1; i >= 0; i-- {
			l := prefixLengths[i]
			if l > n {
				break
			}
			if anc, ok := t.names[prefix[:l]]; ok {
				path.Levels = append(path.Levels, substance.ClassificationLevel{Code: prefix[:l], Name: anc, Level: Level(prefix[:l])})
			}
		}
		return path, true
	}
	return substance.ClassificationPath{}, false
}

// PeerGroupLength is the prefix length (pharmacological subgroup) that
// defines same-class peers.
const PeerGroupLength = 4

// PeerIndex maps a subgroup code to the keys classified under it.
type PeerIndex map[string][]substance.CanonicalKey

// Peers groups statuses by their classification subgroup. Keys in each
// group are sorted.
func Peers(statuses []substance.AggregateStatus) PeerIndex {
	idx := PeerIndex{}
	for i := range statuses {
		g := statuses[i].Classification.GroupCode(PeerGroupLength)
		if g == "" {
			continue
		}
		idx[g] = append(idx[g], statuses[i].Key)
	}
	for g := range idx {
		sort.Slice(idx[g], func(a, b int) bool { return idx[g][a] < idx[g][b] })
	}
	return idx
}

// For returns the other keys sharing status's subgroup.
func (p PeerIndex) For(status *substance.AggregateStatus) []substance.CanonicalKey {
	g := status.Classification.GroupCode(PeerGroupLength)
	if g == "" {
		return nil
	}
	var out []substance.CanonicalKey
	for _, k := range p[g] {
		if k != status.Key {
			out = append(out, k)
		}
	}
	return out
}
