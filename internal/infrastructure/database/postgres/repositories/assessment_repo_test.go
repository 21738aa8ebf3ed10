package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/RegScan/internal/domain/substance"
	pkgerrors "github.com/turtacn/RegScan/pkg/errors"
)

type AssessmentRepoTestSuite struct {
	suite.Suite
	mock pgxmock.PgxPoolIface
	repo *AssessmentRepository
	ctx  context.Context
}

func (s *AssessmentRepoTestSuite) SetupTest() {
	var err error
	s.mock, err = pgxmock.NewPool()
	s.Require().NoError(err)
	s.repo = NewAssessmentRepository(s.mock, nil)
	s.ctx = context.Background()
}

func (s *AssessmentRepoTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	s.mock.Close()
}

func sampleAssessment(key string, score int, tier substance.Tier, label substance.ImpactLabel) substance.Assessment {
	return substance.Assessment{
		Status: substance.AggregateStatus{
			Key:            substance.CanonicalKey(key),
			DisplayName:    key,
			Classification: &substance.ClassificationPath{Code: "L01FF02", Level: 5},
		},
		Score:  substance.ScoreResult{Total: score, Raw: score, Tier: tier},
		Impact: substance.DomesticImpact{Label: label, Rule: "fallback"},
	}
}

func sampleRun() *substance.Run {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	return &substance.Run{
		ID:         "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Summary:    substance.RunSummary{Facts: 3, Substances: 2},
		Assessments: []substance.Assessment{
			sampleAssessment("pembrolizumab", 60, substance.TierHigh, substance.LabelReimbursed),
			sampleAssessment("nivolumab", 20, substance.TierLow, substance.LabelImminent),
		},
	}
}

func payloadOf(a substance.Assessment) []byte {
	b, _ := json.Marshal(a)
	return b
}

func (s *AssessmentRepoTestSuite) TestSaveRun_Success() {
	run := sampleRun()

	s.mock.ExpectBegin()
	s.mock.ExpectExec("INSERT INTO engine_runs").
		WithArgs(run.ID, run.StartedAt, run.FinishedAt, pgxmock.AnyArg(), []byte("[]")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	s.mock.ExpectExec("DELETE FROM substance_assessments").
		WithArgs(run.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	s.mock.ExpectExec("INSERT INTO substance_assessments").
		WithArgs(run.ID, "pembrolizumab", "pembrolizumab", 60, "HIGH", "already_reimbursed", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	s.mock.ExpectExec("INSERT INTO substance_assessments").
		WithArgs(run.ID, "nivolumab", "nivolumab", 20, "LOW", "imminent", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	s.mock.ExpectCommit()

	s.NoError(s.repo.Publish(s.ctx, run))
	s.Equal("postgres", s.repo.Name())
}

func (s *AssessmentRepoTestSuite) TestSaveRun_RollsBackOnFailure() {
	run := sampleRun()

	s.mock.ExpectBegin()
	s.mock.ExpectExec("INSERT INTO engine_runs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	s.mock.ExpectExec("DELETE FROM substance_assessments").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	s.mock.ExpectExec("INSERT INTO substance_assessments").WillReturnError(errors.New("disk full"))
	s.mock.ExpectRollback()

	err := s.repo.SaveRun(s.ctx, run)
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeDatabaseError))
}

func (s *AssessmentRepoTestSuite) TestSaveRun_RequiresID() {
	err := s.repo.SaveRun(s.ctx, &substance.Run{})
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeValidation))
}

func (s *AssessmentRepoTestSuite) TestGetRun() {
	run := sampleRun()
	summary, _ := json.Marshal(run.Summary)

	s.mock.ExpectQuery("SELECT id, started_at, finished_at, summary, conflicts FROM engine_runs").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "started_at", "finished_at", "summary", "conflicts"}).
			AddRow("run-1", run.StartedAt, run.FinishedAt, summary, []byte("[]")))
	s.mock.ExpectQuery("SELECT payload FROM substance_assessments WHERE run_id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).
			AddRow(payloadOf(run.Assessments[1])).
			AddRow(payloadOf(run.Assessments[0])))

	got, err := s.repo.GetRun(s.ctx, "run-1")
	s.Require().NoError(err)
	s.Equal(3, got.Summary.Facts)
	s.Require().Len(got.Assessments, 2)
	s.Equal(substance.CanonicalKey("nivolumab"), got.Assessments[0].Status.Key)
	s.Equal(substance.TierHigh, got.Assessments[1].Score.Tier)
}

func (s *AssessmentRepoTestSuite) TestGetRun_NotFound() {
	s.mock.ExpectQuery("FROM engine_runs WHERE id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := s.repo.GetRun(s.ctx, "missing")
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeRunNotFound))
	s.True(pkgerrors.IsNotFound(err))
}

func (s *AssessmentRepoTestSuite) TestListAssessments_LatestRunWithFilters() {
	run := sampleRun()

	s.mock.ExpectQuery("SELECT id FROM engine_runs ORDER BY started_at DESC").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("run-1"))
	s.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM substance_assessments WHERE run_id = \$1 AND label = \$2 AND tier = \$3`).
		WithArgs("run-1", "already_reimbursed", "HIGH").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	s.mock.ExpectQuery(`SELECT payload FROM substance_assessments WHERE .* ORDER BY score DESC, canonical_key LIMIT \$4 OFFSET \$5`).
		WithArgs("run-1", "already_reimbursed", "HIGH", 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payloadOf(run.Assessments[0])))

	items, total, err := s.repo.ListAssessments(s.ctx, substance.AssessmentFilter{
		Label: substance.LabelReimbursed,
		Tier:  substance.TierHigh,
		Limit: 10,
	})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Require().Len(items, 1)
	s.Equal(60, items[0].Score.Total)
}

func (s *AssessmentRepoTestSuite) TestListAssessments_DefaultPaging() {
	s.mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs("run-2").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	s.mock.ExpectQuery(`SELECT payload`).
		WithArgs("run-2", defaultListLimit, 0).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}))

	items, total, err := s.repo.ListAssessments(s.ctx, substance.AssessmentFilter{RunID: "run-2", Offset: -5})
	s.Require().NoError(err)
	s.Zero(total)
	s.NotNil(items)
	s.Empty(items)
}

func (s *AssessmentRepoTestSuite) TestListAssessments_NoRuns() {
	s.mock.ExpectQuery("SELECT id FROM engine_runs").WillReturnError(pgx.ErrNoRows)

	_, _, err := s.repo.ListAssessments(s.ctx, substance.AssessmentFilter{})
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeRunNotFound))
}

func (s *AssessmentRepoTestSuite) TestGetAssessment() {
	a := sampleAssessment("lecanemab", 25, substance.TierLow, substance.LabelUncertain)
	s.mock.ExpectQuery("SELECT payload FROM substance_assessments WHERE run_id = \\$1 AND canonical_key = \\$2").
		WithArgs("run-1", "lecanemab").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payloadOf(a)))

	got, err := s.repo.GetAssessment(s.ctx, "run-1", "lecanemab")
	s.Require().NoError(err)
	s.Equal(substance.LabelUncertain, got.Impact.Label)
	s.Equal("L01FF02", got.Status.Classification.Code)
}

func (s *AssessmentRepoTestSuite) TestGetAssessment_NotFound() {
	s.mock.ExpectQuery("SELECT payload").WithArgs("run-1", "unknown").WillReturnError(pgx.ErrNoRows)

	_, err := s.repo.GetAssessment(s.ctx, "run-1", "unknown")
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeSubstanceNotFound))
}

func TestAssessmentRepoTestSuite(t *testing.T) {
	suite.Run(t, new(AssessmentRepoTestSuite))
}

func TestATCCode(t *testing.T) {
	assert.Nil(t, atcCode(&substance.AggregateStatus{}))
	code := atcCode(&substance.AggregateStatus{Classification: &substance.ClassificationPath{Code: "N06DX"}})
	require.NotNil(t, code)
	assert.Equal(t, "N06DX", *code)
}
