// Package repositories holds the PostgreSQL implementations of the domain
// repository ports.
package repositories

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/database/postgres"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const defaultListLimit = 100

// AssessmentRepository stores engine runs and their per-substance
// assessments. It also publishes completed runs as a scan sink.
type AssessmentRepository struct {
	db  DBTX
	log logging.Logger
}

var _ substance.Repository = (*AssessmentRepository)(nil)

// NewAssessmentRepository creates the repository.
func NewAssessmentRepository(db DBTX, log logging.Logger) *AssessmentRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &AssessmentRepository{db: db, log: log}
}

func (r *AssessmentRepository) Name() string { return "postgres" }

// Publish saves run.
func (r *AssessmentRepository) Publish(ctx context.Context, run *substance.Run) error {
	return r.SaveRun(ctx, run)
}

// SaveRun writes run and replaces its assessments in one transaction.
func (r *AssessmentRepository) SaveRun(ctx context.Context, run *substance.Run) error {
	if run == nil || run.ID == "" {
		return errors.New(errors.ErrCodeValidation, "run id is required")
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "marshal run summary")
	}
	conflicts := run.Conflicts
	if conflicts == nil {
		conflicts = []substance.ConflictNote{}
	}
	conflictJSON, err := json.Marshal(conflicts)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "marshal run conflicts")
	}

	err = postgres.WithTransaction(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO engine_runs (id, started_at, finished_at, summary, conflicts)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET started_at = EXCLUDED.started_at, finished_at = EXCLUDED.finished_at,
			    summary = EXCLUDED.summary, conflicts = EXCLUDED.conflicts`,
			run.ID, run.StartedAt, run.FinishedAt, summary, conflictJSON)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to save run")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM substance_assessments WHERE run_id = $1`, run.ID); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to clear assessments")
		}
		for i := range run.Assessments {
			a := &run.Assessments[i]
			payload, err := json.Marshal(a)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeSerialization, "marshal assessment "+string(a.Status.Key))
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO substance_assessments (run_id, canonical_key, display_name, score, tier, label, atc_code, payload)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				run.ID, string(a.Status.Key), a.Status.DisplayName, a.Score.Total, string(a.Score.Tier),
				string(a.Impact.Label), atcCode(&a.Status), payload)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to save assessment "+string(a.Status.Key))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug("run saved",
		logging.String("run_id", run.ID),
		logging.Int("assessments", len(run.Assessments)))
	return nil
}

func atcCode(s *substance.AggregateStatus) *string {
	if s.Classification == nil || s.Classification.Code == "" {
		return nil
	}
	code := s.Classification.Code
	return &code
}

// GetRun loads a run with all of its assessments.
func (r *AssessmentRepository) GetRun(ctx context.Context, id string) (*substance.Run, error) {
	var (
		run                substance.Run
		summary, conflicts []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, started_at, finished_at, summary, conflicts FROM engine_runs WHERE id = $1`, id).
		Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &summary, &conflicts)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Newf(errors.ErrCodeRunNotFound, "run %s not found", id)
		}
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to get run")
	}
	if err := json.Unmarshal(summary, &run.Summary); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "unmarshal run summary")
	}
	if len(conflicts) > 0 {
		if err := json.Unmarshal(conflicts, &run.Conflicts); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "unmarshal run conflicts")
		}
	}

	rows, err := r.db.Query(ctx,
		`SELECT payload FROM substance_assessments WHERE run_id = $1 ORDER BY canonical_key`, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load assessments")
	}
	run.Assessments, err = scanAssessments(rows)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestRunID returns the most recently started run.
func (r *AssessmentRepository) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := r.db.QueryRow(ctx, `SELECT id FROM engine_runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return "", errors.New(errors.ErrCodeRunNotFound, "no run recorded")
		}
		return "", errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to get latest run")
	}
	return id, nil
}

func (r *AssessmentRepository) resolveRun(ctx context.Context, runID string) (string, error) {
	if runID != "" {
		return runID, nil
	}
	return r.LatestRunID(ctx)
}

// ListAssessments pages through one run's assessments, highest score first.
// An empty RunID means the latest run.
func (r *AssessmentRepository) ListAssessments(ctx context.Context, f substance.AssessmentFilter) ([]substance.Assessment, int64, error) {
	runID, err := r.resolveRun(ctx, f.RunID)
	if err != nil {
		return nil, 0, err
	}

	where := []string{"run_id = $1"}
	args := []any{runID}
	if f.Label != "" {
		args = append(args, string(f.Label))
		where = append(where, fmt.Sprintf("label = $%d", len(args)))
	}
	if f.Tier != "" {
		args = append(args, string(f.Tier))
		where = append(where, fmt.Sprintf("tier = $%d", len(args)))
	}
	base := " FROM substance_assessments WHERE " + strings.Join(where, " AND ")

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*)"+base, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count assessments")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf("SELECT payload%s ORDER BY score DESC, canonical_key LIMIT $%d OFFSET $%d",
		base, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list assessments")
	}
	out, err := scanAssessments(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// GetAssessment returns one substance's assessment. An empty runID means the
// latest run.
func (r *AssessmentRepository) GetAssessment(ctx context.Context, runID string, key substance.CanonicalKey) (*substance.Assessment, error) {
	runID, err := r.resolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	var payload []byte
	err = r.db.QueryRow(ctx,
		`SELECT payload FROM substance_assessments WHERE run_id = $1 AND canonical_key = $2`,
		runID, string(key)).Scan(&payload)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Newf(errors.ErrCodeSubstanceNotFound, "substance %s not found in run %s", key, runID)
		}
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to get assessment")
	}
	var a substance.Assessment
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "unmarshal assessment")
	}
	return &a, nil
}

func scanAssessments(rows pgx.Rows) ([]substance.Assessment, error) {
	defer rows.Close()
	out := []substance.Assessment{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan assessment")
		}
		var a substance.Assessment
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "unmarshal assessment")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate assessments")
	}
	return out, nil
}
