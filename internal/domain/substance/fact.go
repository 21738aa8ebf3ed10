package substance

import (
	"strings"
	"time"
)

// SourceFact is one source's observation about one substance. Facts are
// produced by adapters and never mutated by the engine.
type SourceFact struct {
	Source            Source         `json:"source"`
	RawName           string         `json:"raw_name"`
	LocalCode         string         `json:"local_code,omitempty"`
	ApprovalDate      *time.Time     `json:"approval_date,omitempty"`
	Status            ApprovalStatus `json:"status"`
	Designations      DesignationSet `json:"designations,omitempty"`
	BrandName         string         `json:"brand_name,omitempty"`
	Indication        string         `json:"indication,omitempty"`
	ATCCode           string         `json:"atc_code,omitempty"`
	ApplicationNumber string         `json:"application_number,omitempty"`

	// Exactly one of the following is set for trial-registry and
	// reimbursement-registry facts respectively.
	Trial         *TrialDetail         `json:"trial,omitempty"`
	Reimbursement *ReimbursementDetail `json:"reimbursement,omitempty"`
}

// Clone returns a deep copy of f.
func (f SourceFact) Clone() SourceFact {
	out := f
	if f.ApprovalDate != nil {
		d := *f.ApprovalDate
		out.ApprovalDate = &d
	}
	if f.Designations != nil {
		out.Designations = append(DesignationSet(nil), f.Designations...)
	}
	if f.Trial != nil {
		t := *f.Trial
		out.Trial = &t
	}
	if f.Reimbursement != nil {
		r := f.Reimbursement.clone()
		out.Reimbursement = &r
	}
	return out
}

// IsApproved reports whether the fact records a current approval.
func (f SourceFact) IsApproved() bool {
	return f.Status == StatusApproved
}

// HasDesignation reports whether the fact carries d.
func (f SourceFact) HasDesignation(d Designation) bool {
	return f.Designations.Has(d)
}

// ─────────────────────────────────────────────────────────────────────────────
// Clinical trials
// ─────────────────────────────────────────────────────────────────────────────

// TrialPhase is a normalized clinical-trial phase.
type TrialPhase string

const (
	PhaseEarly   TrialPhase = "phase0"
	Phase1       TrialPhase = "phase1"
	Phase1And2   TrialPhase = "phase1/2"
	Phase2       TrialPhase = "phase2"
	Phase2And3   TrialPhase = "phase2/3"
	Phase3       TrialPhase = "phase3"
	Phase4       TrialPhase = "phase4"
	PhaseUnknown TrialPhase = "unknown"
)

var phaseAliases = map[string]TrialPhase{
	"0": PhaseEarly, "early1": PhaseEarly, "earlyphase1": PhaseEarly,
	"1": Phase1, "i": Phase1,
	"1/2": Phase1And2, "12": Phase1And2, "i/ii": Phase1And2, "1-2": Phase1And2,
	"2": Phase2, "ii": Phase2, "2a": Phase2, "2b": Phase2, "iia": Phase2, "iib": Phase2,
	"2/3": Phase2And3, "23": Phase2And3, "ii/iii": Phase2And3, "2-3": Phase2And3,
	"3": Phase3, "iii": Phase3, "3a": Phase3, "3b": Phase3,
	"4": Phase4, "iv": Phase4,
}

// ParsePhase normalizes registry phase strings such as "Phase 3",
// "PHASE2/PHASE3", "II/III" or "3".
func ParsePhase(s string) TrialPhase {
	v := strings.ToLower(s)
	v = strings.ReplaceAll(v, "phase", "")
	v = strings.ReplaceAll(v, "상", "")
	v = strings.Join(strings.Fields(v), "")
	v = strings.ReplaceAll(v, ",", "/")
	if p, ok := phaseAliases[v]; ok {
		return p
	}
	return PhaseUnknown
}

// TrialStatus is a normalized recruitment status.
type TrialStatus string

const (
	TrialNotYetRecruiting TrialStatus = "not_yet_recruiting"
	TrialRecruiting       TrialStatus = "recruiting"
	TrialActive           TrialStatus = "active_not_recruiting"
	TrialEnrolling        TrialStatus = "enrolling_by_invitation"
	TrialSuspended        TrialStatus = "suspended"
	TrialCompleted        TrialStatus = "completed"
	TrialTerminated       TrialStatus = "terminated"
	TrialWithdrawn        TrialStatus = "withdrawn"
	TrialStatusUnknown    TrialStatus = "unknown"
)

// ParseTrialStatus normalizes registry status strings.
func ParseTrialStatus(s string) TrialStatus {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.NewReplacer(" ", "_", "-", "_", ",", "").Replace(v)
	switch v {
	case "not_yet_recruiting", "pending":
		return TrialNotYetRecruiting
	case "recruiting", "open", "ongoing":
		return TrialRecruiting
	case "active_not_recruiting", "active", "in_progress":
		return TrialActive
	case "enrolling_by_invitation":
		return TrialEnrolling
	case "suspended":
		return TrialSuspended
	case "completed", "closed":
		return TrialCompleted
	case "terminated", "stopped":
		return TrialTerminated
	case "withdrawn":
		return TrialWithdrawn
	default:
		return TrialStatusUnknown
	}
}

// TrialDetail carries trial-registry specific fields.
type TrialDetail struct {
	TrialID string      `json:"trial_id"`
	Phase   TrialPhase  `json:"phase"`
	Status  TrialStatus `json:"status"`
	Title   string      `json:"title,omitempty"`
	Sponsor string      `json:"sponsor,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Reimbursement
// ─────────────────────────────────────────────────────────────────────────────

// ReimbursementState is the sub-state of a local reimbursement listing.
type ReimbursementState string

const (
	// ReimbursementListed means the ingredient is currently reimbursed.
	ReimbursementListed ReimbursementState = "listed"
	// ReimbursementDelisted means a listing existed and was removed.
	ReimbursementDelisted ReimbursementState = "delisted"
	// ReimbursementNotCovered means the ingredient is known but not covered.
	ReimbursementNotCovered ReimbursementState = "not_covered"
	// ReimbursementNeverSubmitted means a domestic bridge exists but no listing.
	ReimbursementNeverSubmitted ReimbursementState = "never_submitted"
	// ReimbursementHerbal means a botanical product outside the listing system.
	ReimbursementHerbal ReimbursementState = "herbal"
	// ReimbursementUnknown means no domestic bridge is available.
	ReimbursementUnknown ReimbursementState = "unknown"
)

// ParseReimbursementState maps registry vocabulary (including the Korean
// listing criteria terms) onto ReimbursementState.
func ParseReimbursementState(s string) ReimbursementState {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == "":
		return ReimbursementUnknown
	case strings.Contains(v, "삭제"), v == "delisted", v == "deleted", v == "removed":
		return ReimbursementDelisted
	case strings.Contains(v, "비급여"), v == "not_covered", v == "non_covered", v == "not covered":
		return ReimbursementNotCovered
	case strings.Contains(v, "급여"), v == "listed", v == "reimbursed", v == "covered":
		return ReimbursementListed
	case v == "never_submitted", v == "not_submitted":
		return ReimbursementNeverSubmitted
	case v == "herbal":
		return ReimbursementHerbal
	default:
		return ReimbursementUnknown
	}
}

// ReimbursementDetail carries reimbursement-registry specific fields.
type ReimbursementDetail struct {
	State        ReimbursementState `json:"state"`
	PriceCeiling *float64           `json:"price_ceiling,omitempty"`
	Criteria     string             `json:"criteria,omitempty"`
	ListedDate   *time.Time         `json:"listed_date,omitempty"`
}

func (r ReimbursementDetail) clone() ReimbursementDetail {
	out := r
	if r.PriceCeiling != nil {
		p := *r.PriceCeiling
		out.PriceCeiling = &p
	}
	if r.ListedDate != nil {
		d := *r.ListedDate
		out.ListedDate = &d
	}
	return out
}
