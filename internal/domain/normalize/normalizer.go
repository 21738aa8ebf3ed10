// Package normalize turns free-text ingredient names into canonical keys.
//
// Normalization is exact: two names are the same substance only when their
// canonical keys are byte-equal. There is no fuzzy fallback.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/pkg/errors"
)

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

var defaultSuffixes = []string{
	// salts and esters
	"hydrochloride", "hcl", "sodium", "potassium", "calcium", "magnesium",
	"sulfate", "sulphate", "mesylate", "mesilate", "maleate", "besylate",
	"besilate", "tartrate", "citrate", "acetate", "phosphate", "fumarate",
	"succinate", "bromide", "hydrobromide", "micronized",
	// crystal water
	"monohydrate", "dihydrate", "trihydrate", "tetrahydrate", "pentahydrate",
	"hemihydrate", "sesquihydrate", "hydrate", "anhydrous",
}

var defaultSynonyms = map[string]string{
	"keytruda":  "pembrolizumab",
	"펨브롤리주맙":    "pembrolizumab",
	"키트루다":      "pembrolizumab",
	"opdivo":    "nivolumab",
	"니볼루맙":      "nivolumab",
	"옵디보":       "nivolumab",
	"ozempic":   "semaglutide",
	"wegovy":    "semaglutide",
	"세마글루티드":    "semaglutide",
	"오젬픽":       "semaglutide",
	"rezurock":  "belumosudil",
	"벨루모수딜":     "belumosudil",
	"레주록":       "belumosudil",
	"herceptin": "trastuzumab",
	"트라스투주맙":    "trastuzumab",
	"허셉틴":       "trastuzumab",
}

// DefaultSuffixes returns the built-in trailing salt and hydrate tokens.
func DefaultSuffixes() []string {
	out := make([]string, len(defaultSuffixes))
	copy(out, defaultSuffixes)
	return out
}

// DefaultSynonyms returns the built-in brand and transliteration table.
func DefaultSynonyms() map[string]string {
	out := make(map[string]string, len(defaultSynonyms))
	for k, v := range defaultSynonyms {
		out[k] = v
	}
	return out
}

// ---------------------------------------------------------------------------
// Normalizer
// ---------------------------------------------------------------------------

var parenthesised = regexp.MustCompile(`\([^()]*\)`)

// Greek letters follow the INN spelling ("interferon alfa", "epoetin beta").
// The Latin entries have no canonical decomposition to fold through.
var transliterations = map[rune]string{
	'α': "alfa", 'β': "beta", 'γ': "gamma", 'δ': "delta", 'ε': "epsilon",
	'ζ': "zeta", 'η': "eta", 'θ': "theta", 'ι': "iota", 'κ': "kappa",
	'λ': "lambda", 'μ': "mu", 'ν': "nu", 'ξ': "xi", 'ο': "omicron",
	'π': "pi", 'ρ': "rho", 'σ': "sigma", 'ς': "sigma", 'τ': "tau",
	'υ': "upsilon", 'φ': "phi", 'χ': "chi", 'ψ': "psi", 'ω': "omega",
	'ß': "ss", 'æ': "ae", 'œ': "oe", 'ø': "o", 'ł': "l", 'đ': "d",
	'ð': "d", 'þ': "th", 'ı': "i",
}

// combiningDiacritic matches the accents of Latin and Greek letters. Marks in
// other blocks (kana voicing, Indic vowel signs) change the letter and stay.
func combiningDiacritic(r rune) bool {
	return r >= 0x0300 && r <= 0x036F
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.Predicate(combiningDiacritic)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func transliterate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if t, ok := transliterations[r]; ok {
			b.WriteString(t)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Normalizer is immutable after construction and safe for concurrent use.
type Normalizer struct {
	suffixes map[string]struct{}
	synonyms map[string]string
}

type options struct {
	suffixes      []string
	synonyms      map[string]string
	extraSynonyms map[string]string
}

// Option configures a Normalizer.
type Option func(*options)

// WithSuffixes replaces the suffix list.
func WithSuffixes(suffixes []string) Option {
	return func(o *options) { o.suffixes = suffixes }
}

// WithSynonyms adds entries on top of the built-in synonym table. Later
// entries override built-in ones with the same key.
func WithSynonyms(synonyms map[string]string) Option {
	return func(o *options) {
		if o.extraSynonyms == nil {
			o.extraSynonyms = make(map[string]string, len(synonyms))
		}
		for k, v := range synonyms {
			o.extraSynonyms[k] = v
		}
	}
}

// WithoutDefaultSynonyms drops the built-in synonym table.
func WithoutDefaultSynonyms() Option {
	return func(o *options) { o.synonyms = map[string]string{} }
}

// New builds a Normalizer. Synonym keys and targets are themselves
// canonicalised; chains are collapsed so every target is a fixed point.
// A cyclic synonym table is rejected.
func New(opts ...Option) (*Normalizer, error) {
	o := options{suffixes: defaultSuffixes, synonyms: defaultSynonyms}
	for _, opt := range opts {
		opt(&o)
	}

	n := &Normalizer{
		suffixes: make(map[string]struct{}, len(o.suffixes)),
		synonyms: make(map[string]string),
	}
	for _, s := range o.suffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			n.suffixes[s] = struct{}{}
		}
	}

	raw := make(map[string]string, len(o.synonyms)+len(o.extraSynonyms))
	for k, v := range o.synonyms {
		raw[n.canonical(k)] = n.canonical(v)
	}
	for k, v := range o.extraSynonyms {
		raw[n.canonical(k)] = n.canonical(v)
	}

	for k, v := range raw {
		if k == "" || v == "" || k == v {
			continue
		}
		target, err := follow(raw, k)
		if err != nil {
			return nil, err
		}
		n.synonyms[k] = target
	}
	return n, nil
}

// Default returns a Normalizer with the built-in tables.
func Default() *Normalizer {
	n, err := New()
	if err != nil {
		panic(err)
	}
	return n
}

func follow(table map[string]string, key string) (string, error) {
	seen := map[string]struct{}{key: {}}
	cur := key
	for {
		next, ok := table[cur]
		if !ok || next == cur {
			return cur, nil
		}
		if _, loop := seen[next]; loop {
			return "", errors.Newf(errors.ErrCodeValidation, "synonym cycle through %q", key)
		}
		seen[next] = struct{}{}
		cur = next
	}
}

// Normalize returns the canonical key for raw. It never fails; names with
// nothing left after cleaning yield the empty key.
func (n *Normalizer) Normalize(raw string) substance.CanonicalKey {
	c := n.canonical(raw)
	if target, ok := n.synonyms[c]; ok {
		return substance.CanonicalKey(target)
	}
	return substance.CanonicalKey(c)
}

// Equivalent reports whether a and b share a non-empty canonical key.
func (n *Normalizer) Equivalent(a, b string) bool {
	ka := n.Normalize(a)
	return !ka.IsEmpty() && ka == n.Normalize(b)
}

// SynonymCount returns the number of synonym entries.
func (n *Normalizer) SynonymCount() int { return len(n.synonyms) }

// canonical runs every step except the synonym lookup.
func (n *Normalizer) canonical(raw string) string {
	if raw == "" {
		return ""
	}
	s := strings.ToLower(norm.NFKC.String(raw))
	s = transliterate(foldDiacritics(s))
	for {
		stripped := parenthesised.ReplaceAllString(s, " ")
		if stripped == s {
			break
		}
		s = stripped
	}

	tokens := strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
	for len(tokens) > 1 {
		if _, ok := n.suffixes[tokens[len(tokens)-1]]; !ok {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}
