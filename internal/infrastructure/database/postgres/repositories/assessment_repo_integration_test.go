//go:build integration

package repositories_test

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/database/postgres"
	"github.com/turtacn/RegScan/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
)

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "..", "..", "migrations")
}

func setupPostgres(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "regscan_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/regscan_test?sslmode=disable", host, port.Port())
	require.NoError(t, postgres.RunMigrations(dsn, migrationsDir(t)))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool, dsn
}

func TestMigrations_UpDownStatus(t *testing.T) {
	_, dsn := setupPostgres(t)

	version, dirty, err := postgres.MigrationStatus(dsn, migrationsDir(t))
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	require.NoError(t, postgres.RunMigrations(dsn, migrationsDir(t)))
	require.NoError(t, postgres.RollbackMigration(dsn, migrationsDir(t), 1))

	version, _, err = postgres.MigrationStatus(dsn, migrationsDir(t))
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

func TestAssessmentRepository_RoundTrip(t *testing.T) {
	pool, _ := setupPostgres(t)
	repo := repositories.NewAssessmentRepository(pool, logging.NewNopLogger())
	ctx := context.Background()

	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	run := &substance.Run{
		ID:         "run-it",
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		Summary:    substance.RunSummary{Facts: 2, Substances: 2},
		Assessments: []substance.Assessment{
			{
				Status: substance.AggregateStatus{Key: "pembrolizumab", DisplayName: "Pembrolizumab"},
				Score:  substance.ScoreResult{Total: 60, Tier: substance.TierHigh},
				Impact: substance.DomesticImpact{Label: substance.LabelReimbursed},
			},
			{
				Status: substance.AggregateStatus{Key: "lecanemab", DisplayName: "Lecanemab"},
				Score:  substance.ScoreResult{Total: 25, Tier: substance.TierLow},
				Impact: substance.DomesticImpact{Label: substance.LabelUncertain},
			},
		},
	}
	require.NoError(t, repo.SaveRun(ctx, run))
	require.NoError(t, repo.SaveRun(ctx, run))

	latest, err := repo.LatestRunID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-it", latest)

	got, err := repo.GetRun(ctx, "run-it")
	require.NoError(t, err)
	assert.Len(t, got.Assessments, 2)
	assert.True(t, start.Equal(got.StartedAt))

	items, total, err := repo.ListAssessments(ctx, substance.AssessmentFilter{Tier: substance.TierHigh})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, substance.CanonicalKey("pembrolizumab"), items[0].Status.Key)

	a, err := repo.GetAssessment(ctx, "", "lecanemab")
	require.NoError(t, err)
	assert.Equal(t, substance.LabelUncertain, a.Impact.Label)
}
