package normalize

import (
	"regexp"
	"strings"
)

var herbalPatterns = []*regexp.Regexp{
	// Latin plant-part names
	regexp.MustCompile(`\b(radix|folium|fructus|cortex|rhizome|semen|herba|flos)\b`),
	// extract ratio such as "Extract (3→1)" or "(3-1)"
	regexp.MustCompile(`\bextract\b.*\(\d+[→\-]\d+\)`),
	regexp.MustCompile(`\b\d+%\s*(ethanol|water)\s+(soft\s+)?extract\b`),
	regexp.MustCompile(`\b(dried|soft)\s+extract\b`),
	// botanical epithets
	regexp.MustCompile(`(gigas|japonica|sinensis|chinensis|orientalis)\s*(root|leaf|fruit|bark)?\b`),
	regexp.MustCompile(`\b(ginkgo|ginseng|angelica|artemisia|alisma|astragalus|panax)\b`),
	// multi-herb formula separator
	regexp.MustCompile(`·`),
	regexp.MustCompile(`\b\w+\s+(root|leaf|bark|fruit|seed|flower)\s*(dried)?\s*(extract)?\b`),
}

// IsHerbal reports whether raw looks like a botanical or herbal-extract
// ingredient. Such ingredients are reimbursed outside the regular listing.
func IsHerbal(raw string) bool {
	if raw == "" {
		return false
	}
	s := strings.ToLower(raw)
	for _, p := range herbalPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// PrimaryIngredient returns the first component of a combination name
// ("a/b", "a; b", "a + b").
func PrimaryIngredient(raw string) string {
	i := strings.IndexAny(raw, "/;+")
	if i < 0 {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(raw[:i])
}
