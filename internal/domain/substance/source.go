// Package substance defines the records the engine consumes and produces:
// per-source facts, the merged per-substance aggregate, and the score and
// domestic-impact results derived from it.
package substance

import (
	"strings"

	"github.com/turtacn/RegScan/pkg/errors"
)

// Source identifies the authority that published a fact.
type Source string

const (
	// SourceFDA is the US regulator.
	SourceFDA Source = "fda"
	// SourceEMA is the EU regulator.
	SourceEMA Source = "ema"
	// SourcePMDA is the Japanese regulator.
	SourcePMDA Source = "pmda"
	// SourceMFDS is the local (Korean) regulator.
	SourceMFDS Source = "mfds"
	// SourceCRIS is the local clinical-trial registry.
	SourceCRIS Source = "cris"
	// SourceHIRA is the local reimbursement registry.
	SourceHIRA Source = "hira"
)

var allSources = []Source{SourceFDA, SourceEMA, SourcePMDA, SourceMFDS, SourceCRIS, SourceHIRA}

var sourceAliases = map[string]Source{
	"us":       SourceFDA,
	"usfda":    SourceFDA,
	"eu":       SourceEMA,
	"jp":       SourcePMDA,
	"kfda":     SourceMFDS,
	"kr":       SourceMFDS,
	"kmfds":    SourceMFDS,
	"kct":      SourceCRIS,
	"hira_drg": SourceHIRA,
}

var sourceNames = map[Source]string{
	SourceFDA:  "US Food and Drug Administration",
	SourceEMA:  "European Medicines Agency",
	SourcePMDA: "Pharmaceuticals and Medical Devices Agency",
	SourceMFDS: "Ministry of Food and Drug Safety",
	SourceCRIS: "Clinical Research Information Service",
	SourceHIRA: "Health Insurance Review and Assessment Service",
}

// Sources returns every known source in default precedence order.
func Sources() []Source {
	out := make([]Source, len(allSources))
	copy(out, allSources)
	return out
}

// ParseSource resolves a source name or alias (case-insensitive).
func ParseSource(s string) (Source, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, src := range allSources {
		if string(src) == v {
			return src, nil
		}
	}
	if src, ok := sourceAliases[strings.ReplaceAll(v, "-", "_")]; ok {
		return src, nil
	}
	return "", errors.Newf(errors.ErrCodeUnknownSource, "unknown source %q", s)
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	_, ok := sourceNames[s]
	return ok
}

// Name returns the authority's display name.
func (s Source) Name() string {
	return sourceNames[s]
}

// IsInternational reports whether s is a non-local regulator.
func (s Source) IsInternational() bool {
	return s == SourceFDA || s == SourceEMA || s == SourcePMDA
}

// IsRegulator reports whether s grants marketing approvals.
func (s Source) IsRegulator() bool {
	return s.IsInternational() || s == SourceMFDS
}

// ApprovalStatus is the regulatory status reported by a source.
type ApprovalStatus string

const (
	StatusApproved     ApprovalStatus = "approved"
	StatusPending      ApprovalStatus = "pending"
	StatusRejected     ApprovalStatus = "rejected"
	StatusWithdrawn    ApprovalStatus = "withdrawn"
	StatusNotSubmitted ApprovalStatus = "not_submitted"
	StatusUnknown      ApprovalStatus = "unknown"
)

// ParseApprovalStatus maps source vocabulary onto ApprovalStatus. Unrecognised
// values become StatusUnknown.
func ParseApprovalStatus(s string) ApprovalStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "authorised", "authorized", "active", "normal":
		return StatusApproved
	case "pending", "under_review", "under evaluation", "submitted":
		return StatusPending
	case "rejected", "refused":
		return StatusRejected
	case "withdrawn", "cancelled", "canceled", "revoked", "suspended":
		return StatusWithdrawn
	case "not_submitted", "not submitted":
		return StatusNotSubmitted
	default:
		return StatusUnknown
	}
}

// Designation is a special regulatory designation attached to a fact.
type Designation string

const (
	DesignationBreakthrough Designation = "breakthrough"
	DesignationAccelerated  Designation = "accelerated"
	DesignationPriority     Designation = "priority"
	DesignationFastTrack    Designation = "fast_track"
	DesignationPRIME        Designation = "prime"
	DesignationConditional  Designation = "conditional"
	DesignationOrphan       Designation = "orphan"
	DesignationWHOEssential Designation = "who_essential"
)

var designationAliases = map[string]Designation{
	"breakthrough":         DesignationBreakthrough,
	"breakthrough_therapy": DesignationBreakthrough,
	"expedited":            DesignationBreakthrough,
	"accelerated":          DesignationAccelerated,
	"accelerated_approval": DesignationAccelerated,
	"priority":             DesignationPriority,
	"priority_review":      DesignationPriority,
	"fast_track":           DesignationFastTrack,
	"fasttrack":            DesignationFastTrack,
	"prime":                DesignationPRIME,
	"conditional":          DesignationConditional,
	"orphan":               DesignationOrphan,
	"rare_disease":         DesignationOrphan,
	"who_eml":              DesignationWHOEssential,
	"who_essential":        DesignationWHOEssential,
}

// ParseDesignation resolves a designation name or alias.
func ParseDesignation(s string) (Designation, bool) {
	k := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	k = strings.ReplaceAll(k, " ", "_")
	d, ok := designationAliases[k]
	return d, ok
}

// DesignationSet is an immutable-by-convention set of designations.
type DesignationSet []Designation

// Has reports whether d is in the set.
func (s DesignationSet) Has(d Designation) bool {
	for _, x := range s {
		if x == d {
			return true
		}
	}
	return false
}
