package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/pkg/errors"
)

const sampleArray = `[
  {"source": "FDA", "name": "Pembrolizumab", "approval_date": "2014-09-04", "status": "approved",
   "designations": ["breakthrough", "Priority Review", "breakthrough"], "atc_code": "l01ff02"},
  {"source": "cris", "name": "pembrolizumab", "trial": {"trial_id": "KCT0001", "phase": "Phase 3", "status": "Recruiting"}},
  {"source": "hira", "local_code": "A1234", "reimbursement": {"state": "급여", "price_ceiling": 2150000, "listed_date": "20170821"}},
  {"source": "nmpa", "name": "x"}
]`

func TestDecodeJSON(t *testing.T) {
	res, err := NewDecoder().DecodeJSON(strings.NewReader(sampleArray))
	require.NoError(t, err)

	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 3, res.Accepted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 3, res.Rejected[0].Index)
	assert.Contains(t, res.Rejected[0].Reason, `unknown source "nmpa"`)

	fda := res.Facts[0]
	assert.Equal(t, substance.SourceFDA, fda.Source)
	assert.Equal(t, substance.StatusApproved, fda.Status)
	require.NotNil(t, fda.ApprovalDate)
	assert.Equal(t, time.Date(2014, 9, 4, 0, 0, 0, 0, time.UTC), *fda.ApprovalDate)
	assert.Equal(t, substance.DesignationSet{substance.DesignationBreakthrough, substance.DesignationPriority}, fda.Designations)
	assert.Equal(t, "L01FF02", fda.ATCCode)

	trial := res.Facts[1].Trial
	require.NotNil(t, trial)
	assert.Equal(t, substance.Phase3, trial.Phase)
	assert.Equal(t, substance.TrialRecruiting, trial.Status)

	reimb := res.Facts[2].Reimbursement
	require.NotNil(t, reimb)
	assert.Equal(t, substance.ReimbursementListed, reimb.State)
	require.NotNil(t, reimb.PriceCeiling)
	assert.Equal(t, 2150000.0, *reimb.PriceCeiling)
	assert.Equal(t, time.Date(2017, 8, 21, 0, 0, 0, 0, time.UTC), *reimb.ListedDate)
}

func TestDecodeJSON_Malformed(t *testing.T) {
	_, err := NewDecoder().DecodeJSON(strings.NewReader(`[{"source": "fda"`))
	assert.True(t, errors.IsCode(err, errors.ErrCodeFactDecodeError))

	_, err = NewDecoder().DecodeJSON(strings.NewReader(`[] {}`))
	assert.True(t, errors.IsCode(err, errors.ErrCodeFactDecodeError))
}

func TestDecodeJSONLines(t *testing.T) {
	input := `{"source": "ema", "name": "Osimertinib", "approval_date": "2016-02-02T00:00:00Z"}

{"source": "pmda", "name": "osimertinib mesylate"}
`
	res, err := NewDecoder().DecodeJSONLines(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, substance.SourcePMDA, res.Facts[1].Source)

	_, err = NewDecoder().DecodeJSONLines(strings.NewReader("{\"source\":\"fda\"}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestDecode_DetectsFormat(t *testing.T) {
	d := NewDecoder()

	res, err := d.Decode(strings.NewReader("  \n" + sampleArray))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)

	res, err = d.Decode(strings.NewReader(`{"source": "fda", "name": "a"}` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)

	res, err = d.Decode(strings.NewReader("   "))
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}

func TestConvert_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		rec    Record
		reason string
	}{
		{"missing source", Record{Name: "a"}, "source is required"},
		{"missing name and code", Record{Source: "fda"}, "name is required"},
		{"bad date", Record{Source: "fda", Name: "a", ApprovalDate: "04/09/2014"}, "approval_date: unrecognised date"},
		{"unknown designation", Record{Source: "fda", Name: "a", Designations: []string{"miracle"}}, `unknown designation "miracle"`},
		{"bad atc", Record{Source: "fda", Name: "a", ATCCode: "L01-FF"}, "atc_code fails alphanum"},
		{"trial without id", Record{Source: "cris", Name: "a", Trial: &TrialRecord{}}, "trial.trial_id is required"},
		{"negative price", Record{Source: "hira", Name: "a", Reimbursement: &ReimbursementRecord{State: "listed", PriceCeiling: ptr(-1.0)}}, "price_ceiling fails gte=0"},
		{"trial and reimbursement", Record{
			Source: "hira", Name: "a",
			Trial:         &TrialRecord{TrialID: "t"},
			Reimbursement: &ReimbursementRecord{State: "listed"},
		}, "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewDecoder().Convert([]Record{tt.rec})
			require.NoError(t, err)
			require.Len(t, res.Rejected, 1)
			assert.Contains(t, res.Rejected[0].Reason, tt.reason)
			assert.Empty(t, res.Facts)
		})
	}
}

func TestConvert_Strict(t *testing.T) {
	_, err := NewDecoder(Strict()).Convert([]Record{{Source: "fda", Name: "a"}, {Source: "fda"}})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFactInvalid))
	assert.Contains(t, err.Error(), "record 1")
}

func TestConvert_MaxRecords(t *testing.T) {
	_, err := NewDecoder(WithMaxRecords(1)).Convert(make([]Record, 2))
	assert.True(t, errors.IsCode(err, errors.ErrCodeFactInvalid))
}

func TestFromFact_RoundTrip(t *testing.T) {
	res, err := NewDecoder().DecodeJSON(strings.NewReader(sampleArray))
	require.NoError(t, err)

	records := make([]Record, 0, len(res.Facts))
	for i := range res.Facts {
		records = append(records, FromFact(&res.Facts[i]))
	}
	again, err := NewDecoder(Strict()).Convert(records)
	require.NoError(t, err)
	assert.Equal(t, res.Facts, again.Facts)
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"2020-01-31", "20200131", "2020.01.31", "2020/01/31", "2020-01-31T00:00:00Z"} {
		d, err := ParseDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC), d, s)
	}
	_, err := ParseDate("Jan 31")
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
