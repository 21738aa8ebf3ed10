package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RegScan/internal/config"
	"github.com/turtacn/RegScan/internal/domain/scoring"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/reference"
	"github.com/turtacn/RegScan/internal/testutil"
	"github.com/turtacn/RegScan/pkg/errors"
)

func referenceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "bridge/products.csv",
		"local_code,name,atc_code\nA100,Imatinib Mesylate,L01EA01\nA200,Nivolumab,L01FF01\n")
	testutil.WriteFile(t, dir, "bridge/reimbursement.csv",
		"code,generic_name\nA100,imatinib\n")
	testutil.WriteFile(t, dir, "atc.csv",
		"code,name\nL01,Antineoplastic agents\nL01E,Protein kinase inhibitors\nL01EA,BCR-ABL tyrosine kinase inhibitors\n")
	testutil.WriteFile(t, dir, "exclusivity.csv",
		"name,kind,expires,source\nNivolumab,patent,2028-05-02,orange book\n")
	return dir
}

func testConfig(dir string) *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Reference.Dir = dir
	return cfg
}

func day(s string) *time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return &t
}

func TestNeedsFor(t *testing.T) {
	cfg := testConfig("")
	assert.Equal(t, Needs{}, NeedsFor(cfg))

	cfg.Sinks = config.SinksConfig{Postgres: true, Kafka: true}
	cfg.Reference.Source = "minio"
	assert.Equal(t, Needs{Postgres: true, MinIO: true, Producer: true}, NeedsFor(cfg))
}

func TestOpen_NothingNeeded(t *testing.T) {
	infra, err := Open(context.Background(), testConfig(""), Needs{}, nil)
	require.NoError(t, err)
	assert.Empty(t, infra.Checks())
	infra.Close(context.Background())

	var none *Infrastructure
	none.Close(context.Background())
}

func TestReferenceSource(t *testing.T) {
	cfg := testConfig("/srv/reference")
	src, err := ReferenceSource(cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "file:///srv/reference/atc.csv", src.Describe("atc.csv"))

	cfg.Reference.Source = "minio"
	_, err = ReferenceSource(cfg, &Infrastructure{}, nil)
	assert.ErrorContains(t, err, "minio is not connected")
	assert.True(t, errors.IsReferenceFailure(err))

	cfg.Reference.Source = "ftp"
	_, err = ReferenceSource(cfg, nil, nil)
	assert.ErrorContains(t, err, "unknown source")
	assert.True(t, errors.IsCode(err, errors.ErrCodeReferenceSourceAbsent))
}

func TestBuildComponents(t *testing.T) {
	dir := referenceDir(t)
	cfg := testConfig(dir)

	logger := testutil.NewRecordingLogger()
	comps, err := BuildComponents(context.Background(), cfg, reference.NewFileSource(dir), nil, logger)
	require.NoError(t, err)

	ready, ok := logger.Find("info", "engine components ready")
	require.True(t, ok)
	conflicts, _ := ready.Field("bridge_conflicts")
	assert.Equal(t, 0, conflicts)

	m, ok := comps.Bridge.ResolveCode("A100")
	require.True(t, ok)
	assert.Equal(t, substance.CanonicalKey("imatinib"), m.Key)

	path, ok := comps.Classification.Classify("L01EA01")
	require.True(t, ok)
	assert.Equal(t, "L01EA", path.Code)

	local := comps.Resolver.Resolve(&substance.AggregateStatus{Key: "nivolumab"})
	if assert.NotNil(t, local.Exclusivity) {
		assert.Equal(t, "patent", local.Exclusivity.Kind)
	}
	assert.Equal(t, 0, comps.Engine().BridgeConflicts)
}

func TestBuildComponents_MissingTable(t *testing.T) {
	dir := referenceDir(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "atc.csv")))

	_, err := BuildComponents(context.Background(), testConfig(dir), reference.NewFileSource(dir), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsReferenceFailure(err))
}

func TestBuildComponents_NoExclusivity(t *testing.T) {
	dir := referenceDir(t)
	cfg := testConfig(dir)
	cfg.Reference.Exclusivity = ""

	comps, err := BuildComponents(context.Background(), cfg, reference.NewFileSource(dir), nil, nil)
	require.NoError(t, err)
	local := comps.Resolver.Resolve(&substance.AggregateStatus{Key: "nivolumab"})
	assert.Nil(t, local.Exclusivity)
}

func TestNewScorer_FromConfig(t *testing.T) {
	ec := config.EngineConfig{
		Weights: map[string]int{"fda_approved": 40},
		Tiers: []scoring.Threshold{
			{Tier: substance.TierHot, Min: 80},
			{Tier: substance.TierLow, Min: 0},
		},
	}
	_, err := NewScorer(ec)
	require.NoError(t, err)

	ec.Weights = map[string]int{"moon_phase": 1}
	_, err = NewScorer(ec)
	assert.Error(t, err)
}

func TestNewNormalizer_FromConfig(t *testing.T) {
	n, err := NewNormalizer(config.EngineConfig{Synonyms: map[string]string{"glivec": "imatinib"}})
	require.NoError(t, err)
	assert.Equal(t, substance.CanonicalKey("imatinib"), n.Normalize("Glivec"))
}

func TestBuildScanService_EndToEnd(t *testing.T) {
	dir := referenceDir(t)
	cfg := testConfig(dir)

	comps, err := BuildComponents(context.Background(), cfg, reference.NewFileSource(dir), nil, nil)
	require.NoError(t, err)
	sinks, err := BuildSinks(context.Background(), cfg, &Infrastructure{}, nil)
	require.NoError(t, err)
	assert.Empty(t, sinks)

	svc, err := BuildScanService(cfg, comps, sinks, nil, nil)
	require.NoError(t, err)

	res, err := svc.Run(context.Background(), []substance.SourceFact{
		{Source: substance.SourceFDA, RawName: "Imatinib Mesylate", Status: substance.StatusApproved, ApprovalDate: day("2001-05-10")},
		{Source: substance.SourceHIRA, LocalCode: "A100", Reimbursement: &substance.ReimbursementDetail{State: substance.ReimbursementListed}},
	})
	require.NoError(t, err)
	require.Len(t, res.Run.Assessments, 1)

	a := res.Run.Assessments[0]
	assert.Equal(t, substance.CanonicalKey("imatinib"), a.Status.Key)
	assert.Equal(t, substance.LabelReimbursed, a.Impact.Label)
	if assert.NotNil(t, a.Status.Classification) {
		assert.Equal(t, "L01EA", a.Status.Classification.Code)
	}
}

func TestBuildSinks_MissingBackend(t *testing.T) {
	cfg := testConfig("")
	cfg.Sinks.Postgres = true
	_, err := BuildSinks(context.Background(), cfg, &Infrastructure{}, nil)
	assert.ErrorContains(t, err, "sink postgres is enabled")
}

func TestBuildQueryService_WithoutPostgres(t *testing.T) {
	svc, err := BuildQueryService(testConfig(""), &Infrastructure{}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, svc)
}
