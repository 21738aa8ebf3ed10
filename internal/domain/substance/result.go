package substance

import (
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Attention score
// ─────────────────────────────────────────────────────────────────────────────

// Tier is the discrete attention level derived from a score.
type Tier string

const (
	TierHot  Tier = "HOT"
	TierHigh Tier = "HIGH"
	TierMid  Tier = "MID"
	TierLow  Tier = "LOW"
)

// Contribution is one fired scoring signal.
type Contribution struct {
	Label  string `json:"label"`
	Points int    `json:"points"`
}

// ScoreResult is the bounded attention score for one aggregate.
type ScoreResult struct {
	Total         int            `json:"total"`
	Raw           int            `json:"raw"`
	Tier          Tier           `json:"tier"`
	Contributions []Contribution `json:"contributions"`
}

// Reasons returns the labels of the fired contributions in order.
func (r ScoreResult) Reasons() []string {
	out := make([]string, len(r.Contributions))
	for i, c := range r.Contributions {
		out[i] = c.Label
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Domestic impact
// ─────────────────────────────────────────────────────────────────────────────

// ImpactLabel is the domestic-impact classification. The declaration order is
// the evaluation order of the classifier rules.
type ImpactLabel string

const (
	LabelReimbursed           ImpactLabel = "already_reimbursed"
	LabelExpected             ImpactLabel = "expected"
	LabelImminent             ImpactLabel = "imminent"
	LabelUncertain            ImpactLabel = "uncertain"
	LabelGenericEntryExpected ImpactLabel = "generic_entry_expected"
	LabelNotApplicable        ImpactLabel = "not_applicable"
)

// ImpactLabels returns every label in rule order.
func ImpactLabels() []ImpactLabel {
	return []ImpactLabel{
		LabelReimbursed,
		LabelExpected,
		LabelImminent,
		LabelUncertain,
		LabelGenericEntryExpected,
		LabelNotApplicable,
	}
}

// ExclusivityInfo describes a patent or regulatory exclusivity boundary
// supplied by an external collaborator.
type ExclusivityInfo struct {
	Kind    string    `json:"kind"`
	Expires time.Time `json:"expires"`
	Source  string    `json:"source,omitempty"`
}

// LocalJurisdictionFacts bundles the local facts the classifier consumes.
type LocalJurisdictionFacts struct {
	LocalApproval     *SourceFact        `json:"local_approval,omitempty"`
	Reimbursement     ReimbursementState `json:"reimbursement"`
	ReimbursementFact *SourceFact        `json:"reimbursement_fact,omitempty"`
	Trials            []TrialDetail      `json:"trials,omitempty"`
	Exclusivity       *ExclusivityInfo   `json:"exclusivity,omitempty"`
	HasDomesticBridge bool               `json:"has_domestic_bridge"`
}

// HasLocalApproval reports whether a current local approval exists.
func (l LocalJurisdictionFacts) HasLocalApproval() bool {
	return l.LocalApproval != nil && l.LocalApproval.IsApproved()
}

// IsListed reports whether the reimbursement listing is active.
func (l LocalJurisdictionFacts) IsListed() bool {
	return l.Reimbursement == ReimbursementListed
}

// PriceCeiling returns the listed price ceiling, if any.
func (l LocalJurisdictionFacts) PriceCeiling() *float64 {
	if l.ReimbursementFact == nil || l.ReimbursementFact.Reimbursement == nil {
		return nil
	}
	return l.ReimbursementFact.Reimbursement.PriceCeiling
}

// DomesticImpact is the classifier output for one aggregate.
type DomesticImpact struct {
	Label          ImpactLabel            `json:"label"`
	Rule           string                 `json:"rule"`
	Justifications []string               `json:"justifications"`
	Notes          []string               `json:"notes,omitempty"`
	Evidence       LocalJurisdictionFacts `json:"evidence"`
	ActiveTrials   int                    `json:"active_trials"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Run output
// ─────────────────────────────────────────────────────────────────────────────

// Assessment is an aggregate with its score and domestic impact attached.
type Assessment struct {
	Status   AggregateStatus `json:"status"`
	Score    ScoreResult     `json:"score"`
	Impact   DomesticImpact  `json:"impact"`
	Timeline Timeline        `json:"timeline"`
	Peers    []CanonicalKey  `json:"peers,omitempty"`
}

// ConflictNote records a discarded duplicate fact.
type ConflictNote struct {
	Key       CanonicalKey `json:"key"`
	Source    Source       `json:"source"`
	Kept      string       `json:"kept"`
	Discarded string       `json:"discarded"`
	Reason    string       `json:"reason"`
}

// RunSummary carries run-level quality counters.
type RunSummary struct {
	Facts            int                 `json:"facts"`
	Substances       int                 `json:"substances"`
	Unmatchable      int                 `json:"unmatchable"`
	Conflicts        int                 `json:"conflicts"`
	BridgeConflicts  int                 `json:"bridge_conflicts"`
	UnresolvedCodes  int                 `json:"unresolved_codes"`
	NoDomesticBridge int                 `json:"no_domestic_bridge"`
	ByLabel          map[ImpactLabel]int `json:"by_label"`
	ByTier           map[Tier]int        `json:"by_tier"`
}

// Run is one engine invocation and its results.
type Run struct {
	ID          string         `json:"id"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Summary     RunSummary     `json:"summary"`
	Conflicts   []ConflictNote `json:"conflicts,omitempty"`
	Assessments []Assessment   `json:"assessments"`
}
