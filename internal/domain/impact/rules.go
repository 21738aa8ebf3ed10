package impact

import (
	"fmt"
	"strings"
	"time"

	"github.com/turtacn/RegScan/internal/domain/substance"
)

// Facts is the evaluation context handed to every rule.
type Facts struct {
	Status          *substance.AggregateStatus
	Local           substance.LocalJurisdictionFacts
	ActiveTrials    []substance.TrialDetail
	Now             time.Time
	NearExclusivity bool
}

// Rule is one row of the ordered decision table. When reports whether the
// rule fires; Justify renders the evidence for the firing rule.
type Rule struct {
	Name    string
	Label   substance.ImpactLabel
	When    func(f *Facts) bool
	Justify func(f *Facts) string
}

// Rule names.
const (
	RuleReimbursed   = "reimbursement_listed"
	RuleExpected     = "approved_not_reimbursed"
	RuleImminent     = "pending_with_active_trial"
	RuleUncertain    = "pending_without_active_trial"
	RuleGenericEntry = "exclusivity_boundary"
	RuleFallback     = "fallback"
)

// defaultRules is evaluated top to bottom; the first rule whose When holds
// decides the label. The last rule always fires.
func defaultRules() []Rule {
	return []Rule{
		{
			Name:  RuleReimbursed,
			Label: substance.LabelReimbursed,
			When:  func(f *Facts) bool { return f.Local.IsListed() },
			Justify: func(f *Facts) string {
				s := "local reimbursement listing is active"
				if f.Local.ReimbursementFact != nil && f.Local.ReimbursementFact.Reimbursement != nil {
					if c := f.Local.ReimbursementFact.Reimbursement.Criteria; c != "" {
						s += " (" + c + ")"
					}
				}
				return s
			},
		},
		{
			Name:  RuleExpected,
			Label: substance.LabelExpected,
			When: func(f *Facts) bool {
				return !f.Local.IsListed() && f.Local.HasLocalApproval() && f.Status.HasInternationalApproval()
			},
			Justify: func(f *Facts) string {
				return fmt.Sprintf("locally approved%s and approved by %s, reimbursement %s",
					onDate(f.Local.LocalApproval.ApprovalDate), joinSources(f.Status.InternationalApprovals()), f.Local.Reimbursement)
			},
		},
		{
			Name:  RuleImminent,
			Label: substance.LabelImminent,
			When: func(f *Facts) bool {
				return !f.Local.HasLocalApproval() && f.Status.HasInternationalApproval() && len(f.ActiveTrials) > 0
			},
			Justify: func(f *Facts) string {
				ids := make([]string, 0, len(f.ActiveTrials))
				for _, t := range f.ActiveTrials {
					ids = append(ids, t.TrialID)
				}
				return fmt.Sprintf("no local approval, approved by %s, %d active local trial(s): %s",
					joinSources(f.Status.InternationalApprovals()), len(f.ActiveTrials), strings.Join(ids, ", "))
			},
		},
		{
			Name:  RuleUncertain,
			Label: substance.LabelUncertain,
			When: func(f *Facts) bool {
				return !f.Local.HasLocalApproval() && f.Status.HasInternationalApproval() && len(f.ActiveTrials) == 0
			},
			Justify: func(f *Facts) string {
				return fmt.Sprintf("no local approval, approved by %s, no active local trial (%d registered)",
					joinSources(f.Status.InternationalApprovals()), len(f.Local.Trials))
			},
		},
		{
			Name:  RuleGenericEntry,
			Label: substance.LabelGenericEntryExpected,
			When:  func(f *Facts) bool { return f.Local.HasLocalApproval() && f.NearExclusivity },
			Justify: func(f *Facts) string {
				ex := f.Local.Exclusivity
				return fmt.Sprintf("locally approved, %s exclusivity ends %s", ex.Kind, ex.Expires.Format("2006-01-02"))
			},
		},
		{
			Name:  RuleFallback,
			Label: substance.LabelNotApplicable,
			When:  func(*Facts) bool { return true },
			Justify: func(f *Facts) string {
				if !f.Status.HasInternationalApproval() {
					return "no international approval recorded"
				}
				return "no rule matched"
			},
		},
	}
}

func onDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return " on " + t.Format("2006-01-02")
}

func joinSources(srcs []substance.Source) string {
	names := make([]string, len(srcs))
	for i, s := range srcs {
		names[i] = strings.ToUpper(string(s))
	}
	return strings.Join(names, ", ")
}
