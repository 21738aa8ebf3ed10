package merge

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/RegScan/internal/domain/bridge"
	"github.com/turtacn/RegScan/internal/domain/classification"
	"github.com/turtacn/RegScan/internal/domain/normalize"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

func day(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	n := normalize.Default()
	br, err := bridge.New(n, nil, bridge.Table{Name: "master", Rows: []substance.BridgeEntry{
		{LocalCode: "A11BBB", Name: "Pembrolizumab", ATCCode: "L01FF02"},
		{LocalCode: "648101ATB", Name: "Imatinib Mesylate"},
	}})
	require.NoError(t, err)
	cls, err := classification.NewTable([]classification.Entry{
		{Code: "L01FF02", Name: "pembrolizumab"},
		{Code: "L01EA01", Name: "imatinib"},
	})
	require.NoError(t, err)
	e, err := NewEngine(n, br, cls, nil, opts...)
	require.NoError(t, err)
	return e
}

func TestMerge_SameNameAcrossSources(t *testing.T) {
	e := newEngine(t)
	res := e.Merge([]substance.SourceFact{
		{Source: substance.SourceEMA, RawName: "pembrolizumab", Status: substance.StatusApproved, ApprovalDate: day("2015-07-17")},
		{Source: substance.SourceFDA, RawName: "Pembrolizumab", Status: substance.StatusApproved, ApprovalDate: day("2014-09-04")},
	})

	require.Len(t, res.Statuses, 1)
	st := res.Statuses[0]
	assert.Equal(t, substance.CanonicalKey("pembrolizumab"), st.Key)
	require.Len(t, st.Facts, 2)
	assert.Equal(t, substance.SourceFDA, st.Facts[0].Source, "facts are ordered by precedence")
	assert.Equal(t, substance.SourceEMA, st.Facts[1].Source)
	assert.Equal(t, "Pembrolizumab", st.DisplayName)
	assert.Equal(t, []string{"A11BBB"}, st.LocalCodes)
	assert.Equal(t, "L01FF02", st.ATCCode, "falls back to the bridge row")
	require.NotNil(t, st.Classification)
	assert.Equal(t, "pembrolizumab", st.Classification.Name)
	assert.Empty(t, res.Report.Conflicts)
	assert.Equal(t, 1, res.Report.Groups)
}

func TestMerge_NonASCIINames(t *testing.T) {
	e := newEngine(t)
	res := e.Merge([]substance.SourceFact{
		{Source: substance.SourceFDA, RawName: "Interferon α", Status: substance.StatusApproved},
		{Source: substance.SourceEMA, RawName: "Interferon β", Status: substance.StatusApproved},
		{Source: substance.SourceFDA, RawName: "Betamethasone", Status: substance.StatusApproved},
		{Source: substance.SourceEMA, RawName: "Bétaméthasone", Status: substance.StatusApproved},
	})

	keys := make([]substance.CanonicalKey, 0, len(res.Statuses))
	for _, st := range res.Statuses {
		keys = append(keys, st.Key)
	}
	assert.ElementsMatch(t, []substance.CanonicalKey{"interferon alfa", "interferon beta", "betamethasone"}, keys)
	assert.Equal(t, 3, res.Report.Groups)
	for _, st := range res.Statuses {
		if st.Key == "betamethasone" {
			assert.Len(t, st.Facts, 2)
		} else {
			assert.Len(t, st.Facts, 1, string(st.Key))
		}
	}
}

func TestMerge_LatestDateWins(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	e, err := NewEngine(normalize.Default(), nil, nil, logging.NewLoggerFromCore(core))
	require.NoError(t, err)

	res := e.Merge([]substance.SourceFact{
		{Source: substance.SourceFDA, RawName: "nivolumab", ApplicationNumber: "BLA1", ApprovalDate: day("2014-12-22")},
		{Source: substance.SourceFDA, RawName: "nivolumab", ApplicationNumber: "BLA2", ApprovalDate: day("2020-03-10")},
		{Source: substance.SourceFDA, RawName: "nivolumab", ApplicationNumber: "BLA3"},
		{Source: substance.SourceFDA, RawName: "nivolumab", ApplicationNumber: "BLA4", ApprovalDate: day("2020-03-10")},
	})

	require.Len(t, res.Statuses, 1)
	f, ok := res.Statuses[0].Fact(substance.SourceFDA)
	require.True(t, ok)
	assert.Equal(t, "BLA2", f.ApplicationNumber)
	require.Len(t, res.Report.Conflicts, 3)
	assert.Equal(t, ReasonOlderDate, res.Report.Conflicts[0].Reason)
	assert.Equal(t, "BLA1@2014-12-22", res.Report.Conflicts[0].Discarded)
	assert.Equal(t, ReasonUndated, res.Report.Conflicts[1].Reason)
	assert.Equal(t, ReasonFirstSeen, res.Report.Conflicts[2].Reason)
	assert.Equal(t, "BLA4@2020-03-10", res.Report.Conflicts[2].Discarded)
	assert.Equal(t, 3, logs.FilterMessage("merge conflict").Len())
}

func TestMerge_UndatedTieFirstSeen(t *testing.T) {
	e := newEngine(t)
	res := e.Merge([]substance.SourceFact{
		{Source: substance.SourceMFDS, RawName: "x", LocalCode: "", ApplicationNumber: "first"},
		{Source: substance.SourceMFDS, RawName: "x", ApplicationNumber: "second"},
	})
	f, _ := res.Statuses[0].Fact(substance.SourceMFDS)
	assert.Equal(t, "first", f.ApplicationNumber)
}

func TestMerge_UnmatchableAndUnresolved(t *testing.T) {
	e := newEngine(t)
	res := e.Merge([]substance.SourceFact{
		{Source: substance.SourceFDA, RawName: "  ()  "},
		{Source: substance.SourceHIRA, LocalCode: "ZZZ000"},
		{Source: substance.SourceHIRA, LocalCode: "ZZZ001", RawName: "Semaglutide"},
		{Source: substance.SourceHIRA, LocalCode: "648101atb", RawName: "unrelated label text"},
	})

	assert.Equal(t, 2, res.Report.Unmatchable)
	assert.Equal(t, 2, res.Report.UnresolvedCodes)
	require.Len(t, res.Statuses, 2)
	assert.Equal(t, substance.CanonicalKey("imatinib"), res.Statuses[0].Key, "bridge key wins over the raw name")
	assert.Equal(t, substance.CanonicalKey("semaglutide"), res.Statuses[1].Key)
	assert.False(t, res.Statuses[1].HasDomesticBridge(), "unbridged substances are kept and reported")
	assert.Equal(t, 1, res.Report.NoDomesticBridge)
	for _, st := range res.Statuses {
		assert.False(t, st.Key.IsEmpty())
	}
}

func TestMerge_TrialsAccumulate(t *testing.T) {
	e := newEngine(t)
	trial := func(id string, phase substance.TrialPhase, date string) substance.SourceFact {
		return substance.SourceFact{
			Source:       substance.SourceCRIS,
			RawName:      "pembrolizumab",
			ApprovalDate: day(date),
			Trial:        &substance.TrialDetail{TrialID: id, Phase: phase, Status: substance.TrialRecruiting},
		}
	}
	res := e.Merge([]substance.SourceFact{
		trial("KCT0001", substance.Phase3, "2022-01-01"),
		trial("KCT0002", substance.Phase2, "2023-01-01"),
		trial("KCT0001", substance.Phase3, "2021-01-01"),
	})

	require.Len(t, res.Statuses, 1)
	st := res.Statuses[0]
	require.Len(t, st.Trials, 2)
	assert.Equal(t, "KCT0001", st.Trials[0].Trial.TrialID)
	assert.Equal(t, "2022-01-01", st.Trials[0].ApprovalDate.Format("2006-01-02"))
	require.Len(t, res.Report.Conflicts, 1)
	assert.Contains(t, res.Report.Conflicts[0].Reason, ReasonDuplicateTrial)

	f, ok := st.Fact(substance.SourceCRIS)
	require.True(t, ok)
	assert.Equal(t, "KCT0002", f.Trial.TrialID, "slot holds the latest trial fact")
	assert.Len(t, st.Facts, 1)
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	e := newEngine(t)
	in := []substance.SourceFact{
		{Source: substance.SourceFDA, RawName: "Imatinib Mesylate", ApprovalDate: day("2001-05-10"), Designations: substance.DesignationSet{substance.DesignationOrphan}},
	}
	res := e.Merge(in)
	res.Statuses[0].Facts[0].Designations[0] = substance.DesignationPRIME
	*res.Statuses[0].Facts[0].ApprovalDate = time.Time{}

	assert.Equal(t, substance.DesignationOrphan, in[0].Designations[0])
	assert.Equal(t, "2001-05-10", in[0].ApprovalDate.Format("2006-01-02"))
}

func TestMerge_Deterministic(t *testing.T) {
	e := newEngine(t)
	r := rand.New(rand.NewSource(42))
	names := []string{"Pembrolizumab", "KEYTRUDA", "imatinib mesylate", "Semaglutide", "ozempic", "", "Nivolumab"}
	sources := substance.Sources()

	var facts []substance.SourceFact
	for i := 0; i < 300; i++ {
		f := substance.SourceFact{
			Source:            sources[r.Intn(len(sources))],
			RawName:           names[r.Intn(len(names))],
			ApplicationNumber: string(rune('A' + r.Intn(26))),
		}
		if r.Intn(3) > 0 {
			f.ApprovalDate = day([]string{"2020-01-01", "2021-06-30", "2022-12-31"}[r.Intn(3)])
		}
		facts = append(facts, f)
	}

	first := e.Merge(facts)
	for i := 0; i < 5; i++ {
		again := e.Merge(facts)
		assert.Equal(t, first.Statuses, again.Statuses)
		assert.Equal(t, first.Report, again.Report)
	}
	for _, st := range first.Statuses {
		seen := map[substance.Source]bool{}
		for _, f := range st.Facts {
			assert.False(t, seen[f.Source], "at most one fact per source")
			seen[f.Source] = true
		}
	}
	for i := 1; i < len(first.Statuses); i++ {
		assert.Less(t, string(first.Statuses[i-1].Key), string(first.Statuses[i].Key))
	}
}

func TestMerge_HerbalAndDisplayName(t *testing.T) {
	e := newEngine(t, WithPrecedence([]substance.Source{substance.SourceMFDS}))
	res := e.Merge([]substance.SourceFact{
		{Source: substance.SourceFDA, RawName: "Ginkgo Biloba Leaf Dried Extract"},
		{Source: substance.SourceMFDS, RawName: "ginkgo biloba leaf dried extract", ATCCode: "N06DX02"},
	})
	require.Len(t, res.Statuses, 1)
	st := res.Statuses[0]
	assert.True(t, st.Herbal)
	assert.Equal(t, "ginkgo biloba leaf dried extract", st.DisplayName, "highest precedence fact names the aggregate")
	assert.Equal(t, "N06DX02", st.ATCCode)
	require.NotNil(t, st.Classification, "main group still matches")
	assert.Equal(t, "N", st.Classification.Code)
}

func TestNewEngine_Precedence(t *testing.T) {
	n := normalize.Default()
	e, err := NewEngine(n, nil, nil, nil, WithPrecedence([]substance.Source{substance.SourceEMA, substance.SourceHIRA}))
	require.NoError(t, err)
	assert.Equal(t, []substance.Source{
		substance.SourceEMA, substance.SourceHIRA,
		substance.SourceFDA, substance.SourcePMDA, substance.SourceMFDS, substance.SourceCRIS,
	}, e.Precedence())

	_, err = NewEngine(n, nil, nil, nil, WithPrecedence([]substance.Source{"nmpa"}))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidPrecedence))

	_, err = NewEngine(n, nil, nil, nil, WithPrecedence([]substance.Source{substance.SourceFDA, substance.SourceFDA}))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidPrecedence))

	_, err = NewEngine(nil, nil, nil, nil)
	assert.Error(t, err)
}
