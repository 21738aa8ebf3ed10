package impact

import (
	"github.com/turtacn/RegScan/internal/domain/substance"
)

// ExclusivityProvider supplies patent or regulatory exclusivity boundaries.
// *ExclusivityTable satisfies it.
type ExclusivityProvider interface {
	Exclusivity(key substance.CanonicalKey) (substance.ExclusivityInfo, bool)
}

// Resolver derives the local-jurisdiction facts of an aggregate from its own
// local-regulator, reimbursement and trial facts.
type Resolver struct {
	exclusivity ExclusivityProvider
}

// NewResolver creates a Resolver. exclusivity may be nil.
func NewResolver(exclusivity ExclusivityProvider) *Resolver {
	return &Resolver{exclusivity: exclusivity}
}

// Resolve bundles the local facts for status. Without a reimbursement fact
// the sub-state is herbal for botanical products, never_submitted when a
// domestic bridge exists and unknown otherwise.
func (r *Resolver) Resolve(status *substance.AggregateStatus) substance.LocalJurisdictionFacts {
	var out substance.LocalJurisdictionFacts
	if status == nil {
		out.Reimbursement = substance.ReimbursementUnknown
		return out
	}
	out.HasDomesticBridge = status.HasDomesticBridge()

	if f, ok := status.Fact(substance.SourceMFDS); ok {
		out.LocalApproval = &f
	}

	out.Reimbursement = substance.ReimbursementUnknown
	if f, ok := status.Fact(substance.SourceHIRA); ok && f.Reimbursement != nil && f.Reimbursement.State != substance.ReimbursementUnknown {
		out.ReimbursementFact = &f
		out.Reimbursement = f.Reimbursement.State
	} else {
		switch {
		case status.Herbal:
			out.Reimbursement = substance.ReimbursementHerbal
		case out.HasDomesticBridge:
			out.Reimbursement = substance.ReimbursementNeverSubmitted
		}
	}

	for _, t := range status.Trials {
		if t.Trial != nil {
			out.Trials = append(out.Trials, *t.Trial)
		}
	}
	if len(out.Trials) == 0 {
		if f, ok := status.Fact(substance.SourceCRIS); ok && f.Trial != nil {
			out.Trials = append(out.Trials, *f.Trial)
		}
	}

	if r.exclusivity != nil {
		if ex, ok := r.exclusivity.Exclusivity(status.Key); ok {
			out.Exclusivity = &ex
		}
	}
	return out
}
