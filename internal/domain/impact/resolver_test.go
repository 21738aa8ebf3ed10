package impact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RegScan/internal/domain/normalize"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/pkg/errors"
)

func TestResolve(t *testing.T) {
	ex, err := NewExclusivityTable(normalize.Default(), []ExclusivityRow{
		{Name: "Pembrolizumab", ExclusivityInfo: substance.ExclusivityInfo{Kind: "patent", Expires: time.Date(2028, 11, 1, 0, 0, 0, 0, time.UTC)}},
	})
	require.NoError(t, err)
	r := NewResolver(ex)

	st := &substance.AggregateStatus{
		Key:        "pembrolizumab",
		LocalCodes: []string{"A11BBB"},
		Facts: []substance.SourceFact{
			{Source: substance.SourceFDA, Status: substance.StatusApproved},
			{Source: substance.SourceMFDS, Status: substance.StatusApproved, ApprovalDate: day("2015-03-20")},
			{Source: substance.SourceHIRA, Reimbursement: &substance.ReimbursementDetail{State: substance.ReimbursementListed}},
		},
		Trials: []substance.SourceFact{
			{Source: substance.SourceCRIS, Trial: &substance.TrialDetail{TrialID: "KCT1", Phase: substance.Phase3, Status: substance.TrialRecruiting}},
			{Source: substance.SourceCRIS, Trial: &substance.TrialDetail{TrialID: "KCT2", Phase: substance.Phase2, Status: substance.TrialCompleted}},
		},
	}
	local := r.Resolve(st)

	assert.True(t, local.HasLocalApproval())
	assert.True(t, local.IsListed())
	require.NotNil(t, local.ReimbursementFact)
	assert.True(t, local.HasDomesticBridge)
	require.Len(t, local.Trials, 2)
	assert.Equal(t, "KCT1", local.Trials[0].TrialID)
	require.NotNil(t, local.Exclusivity)
	assert.Equal(t, "patent", local.Exclusivity.Kind)
}

func TestResolve_ReimbursementFallbacks(t *testing.T) {
	r := NewResolver(nil)

	tests := []struct {
		name   string
		status *substance.AggregateStatus
		want   substance.ReimbursementState
	}{
		{"no bridge", &substance.AggregateStatus{Key: "a"}, substance.ReimbursementUnknown},
		{"bridged", &substance.AggregateStatus{Key: "a", LocalCodes: []string{"X"}}, substance.ReimbursementNeverSubmitted},
		{"herbal", &substance.AggregateStatus{Key: "a", LocalCodes: []string{"X"}, Herbal: true}, substance.ReimbursementHerbal},
		{"delisted", &substance.AggregateStatus{Key: "a", Facts: []substance.SourceFact{
			{Source: substance.SourceHIRA, Reimbursement: &substance.ReimbursementDetail{State: substance.ReimbursementDelisted}},
		}}, substance.ReimbursementDelisted},
		{"nil", nil, substance.ReimbursementUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.status).Reimbursement)
		})
	}
}

func TestResolve_TrialSlotFallback(t *testing.T) {
	st := &substance.AggregateStatus{Key: "a", Facts: []substance.SourceFact{
		{Source: substance.SourceCRIS, Trial: &substance.TrialDetail{TrialID: "only"}},
	}}
	local := NewResolver(nil).Resolve(st)
	require.Len(t, local.Trials, 1)
	assert.Equal(t, "only", local.Trials[0].TrialID)
}

func TestExclusivityTable(t *testing.T) {
	n := normalize.Default()
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	tbl, err := NewExclusivityTable(n, []ExclusivityRow{
		{Name: "Semaglutide", ExclusivityInfo: substance.ExclusivityInfo{Kind: "patent", Expires: late}},
		{Name: "semaglutide (rDNA)", ExclusivityInfo: substance.ExclusivityInfo{Kind: "data", Expires: early}},
		{Name: "Imatinib Mesylate", ExclusivityInfo: substance.ExclusivityInfo{Kind: "patent", Expires: late}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, []substance.CanonicalKey{"imatinib", "semaglutide"}, tbl.Keys())

	ex, ok := tbl.Exclusivity("semaglutide")
	require.True(t, ok)
	assert.Equal(t, "data", ex.Kind, "earliest expiry wins")

	_, ok = tbl.Exclusivity("unknown")
	assert.False(t, ok)

	var nilTable *ExclusivityTable
	_, ok = nilTable.Exclusivity("semaglutide")
	assert.False(t, ok)

	_, err = NewExclusivityTable(n, []ExclusivityRow{{Name: "()", ExclusivityInfo: substance.ExclusivityInfo{Expires: late}}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeReferenceMalformed))

	_, err = NewExclusivityTable(n, []ExclusivityRow{{Name: "x"}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeReferenceMalformed))

	_, err = NewExclusivityTable(nil, nil)
	assert.Error(t, err)
}
