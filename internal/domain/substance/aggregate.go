package substance

import (
	"sort"
	"time"
)

// CanonicalKey is the normalized substance name used as the join key across
// sources. The empty key never matches anything.
type CanonicalKey string

// IsEmpty reports whether k is the empty (unmatchable) key.
func (k CanonicalKey) IsEmpty() bool { return k == "" }

func (k CanonicalKey) String() string { return string(k) }

// BridgeEntry is one row of a cross-reference table.
type BridgeEntry struct {
	LocalCode string `json:"local_code"`
	Name      string `json:"name"`
	ATCCode   string `json:"atc_code,omitempty"`
}

// ClassificationPath is a resolved branch of the therapeutic classification
// hierarchy, most specific level first in Code/Name and every matched
// ancestor in Levels (top level first).
type ClassificationPath struct {
	Code   string                `json:"code"`
	Name   string                `json:"name"`
	Level  int                   `json:"level"`
	Levels []ClassificationLevel `json:"levels"`
}

// ClassificationLevel is one ancestor of a ClassificationPath.
type ClassificationLevel struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// TherapeuticArea returns the level-1 name, or "" when unknown.
func (p *ClassificationPath) TherapeuticArea() string {
	if p == nil || len(p.Levels) == 0 {
		return ""
	}
	if p.Levels[0].Level != 1 {
		return ""
	}
	return p.Levels[0].Name
}

// GroupCode returns the code truncated to n characters, or "" if shorter.
func (p *ClassificationPath) GroupCode(n int) string {
	if p == nil || len(p.Code) < n {
		return ""
	}
	return p.Code[:n]
}

// ─────────────────────────────────────────────────────────────────────────────
// AggregateStatus
// ─────────────────────────────────────────────────────────────────────────────

// AggregateStatus is the merged per-substance record. It holds at most one
// winning fact per source. It is built once by the merge engine and treated
// as read-only afterwards, so it may be shared across goroutines.
type AggregateStatus struct {
	Key            CanonicalKey        `json:"key"`
	DisplayName    string              `json:"display_name"`
	Facts          []SourceFact        `json:"facts"`
	Trials         []SourceFact        `json:"trials,omitempty"`
	LocalCodes     []string            `json:"local_codes,omitempty"`
	ATCCode        string              `json:"atc_code,omitempty"`
	Classification *ClassificationPath `json:"classification,omitempty"`
	Herbal         bool                `json:"herbal,omitempty"`
}

// Fact returns the winning fact for src.
func (a *AggregateStatus) Fact(src Source) (SourceFact, bool) {
	for _, f := range a.Facts {
		if f.Source == src {
			return f, true
		}
	}
	return SourceFact{}, false
}

// IsApproved reports whether src has an approved winning fact.
func (a *AggregateStatus) IsApproved(src Source) bool {
	f, ok := a.Fact(src)
	return ok && f.IsApproved()
}

// ApprovalDate returns the approval date of src's winning fact when approved.
func (a *AggregateStatus) ApprovalDate(src Source) *time.Time {
	f, ok := a.Fact(src)
	if !ok || !f.IsApproved() {
		return nil
	}
	return f.ApprovalDate
}

// InternationalApprovals returns the international regulators that approved
// the substance, in source order.
func (a *AggregateStatus) InternationalApprovals() []Source {
	var out []Source
	for _, f := range a.Facts {
		if f.Source.IsInternational() && f.IsApproved() {
			out = append(out, f.Source)
		}
	}
	return out
}

// HasInternationalApproval reports whether any international regulator approved.
func (a *AggregateStatus) HasInternationalApproval() bool {
	return len(a.InternationalApprovals()) > 0
}

// ApprovalCount counts approving regulators, local regulator included.
func (a *AggregateStatus) ApprovalCount() int {
	n := 0
	for _, f := range a.Facts {
		if f.Source.IsRegulator() && f.IsApproved() {
			n++
		}
	}
	return n
}

// IsMultiJurisdiction reports approval by two or more regulators.
func (a *AggregateStatus) IsMultiJurisdiction() bool { return a.ApprovalCount() >= 2 }

// IsGloballyApproved reports approval by three or more regulators.
func (a *AggregateStatus) IsGloballyApproved() bool { return a.ApprovalCount() >= 3 }

// FirstInternationalApproval returns the earliest dated international approval.
func (a *AggregateStatus) FirstInternationalApproval() *time.Time {
	var first *time.Time
	for _, f := range a.Facts {
		if !f.Source.IsInternational() || !f.IsApproved() || f.ApprovalDate == nil {
			continue
		}
		if first == nil || f.ApprovalDate.Before(*first) {
			first = f.ApprovalDate
		}
	}
	return first
}

// HasDomesticBridge reports whether the bridge maps the key to local codes.
func (a *AggregateStatus) HasDomesticBridge() bool { return len(a.LocalCodes) > 0 }

// HasActiveTrial reports whether any trial satisfies active.
func (a *AggregateStatus) HasActiveTrial(active func(TrialDetail) bool) bool {
	for _, t := range a.Trials {
		if t.Trial != nil && active(*t.Trial) {
			return true
		}
	}
	return false
}

// Designations returns the union of designations across winning facts,
// sorted for deterministic output.
func (a *AggregateStatus) Designations() DesignationSet {
	seen := map[Designation]struct{}{}
	for _, f := range a.Facts {
		for _, d := range f.Designations {
			seen[d] = struct{}{}
		}
	}
	out := make(DesignationSet, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Timeline is the lag between regulatory milestones, in days.
type Timeline struct {
	InternationalToLocal   *int `json:"international_to_local_days,omitempty"`
	LocalToReimbursement   *int `json:"local_to_reimbursement_days,omitempty"`
	InternationalToListing *int `json:"international_to_listing_days,omitempty"`
}

// Timeline computes milestone lags from the winning facts.
func (a *AggregateStatus) Timeline() Timeline {
	var tl Timeline
	intl := a.FirstInternationalApproval()
	local := a.ApprovalDate(SourceMFDS)
	var listed *time.Time
	if f, ok := a.Fact(SourceHIRA); ok && f.Reimbursement != nil && f.Reimbursement.State == ReimbursementListed {
		listed = f.Reimbursement.ListedDate
		if listed == nil {
			listed = f.ApprovalDate
		}
	}
	tl.InternationalToLocal = daysBetween(intl, local)
	tl.LocalToReimbursement = daysBetween(local, listed)
	tl.InternationalToListing = daysBetween(intl, listed)
	return tl
}

func daysBetween(from, to *time.Time) *int {
	if from == nil || to == nil {
		return nil
	}
	d := int(to.Sub(*from).Hours() / 24)
	return &d
}
