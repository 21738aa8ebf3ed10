package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/RegScan/internal/infrastructure/database/postgres"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

// Migrator applies schema migrations. The postgres package functions back
// the default implementation; tests substitute their own.
type Migrator interface {
	Up(dbURL, path string) error
	Down(dbURL, path string, steps int) error
	Status(dbURL, path string) (uint, bool, error)
	Force(dbURL, path string, version int) error
}

type postgresMigrator struct{}

func (postgresMigrator) Up(dbURL, path string) error { return postgres.RunMigrations(dbURL, path) }
func (postgresMigrator) Down(dbURL, path string, steps int) error {
	return postgres.RollbackMigration(dbURL, path, steps)
}
func (postgresMigrator) Status(dbURL, path string) (uint, bool, error) {
	return postgres.MigrationStatus(dbURL, path)
}
func (postgresMigrator) Force(dbURL, path string, version int) error {
	return postgres.ForceMigrationVersion(dbURL, path, version)
}

// migrator is swapped in tests.
var migrator Migrator = postgresMigrator{}

// MigrationStatusView is the output of migrate status.
type MigrationStatusView struct {
	Version uint   `json:"version"`
	Dirty   bool   `json:"dirty"`
	Path    string `json:"path"`
}

func (s MigrationStatusView) String() string {
	state := "clean"
	if s.Dirty {
		state = "dirty"
	}
	return fmt.Sprintf("schema version %d (%s) from %s", s.Version, state, postgres.MigrationsSource(s.Path))
}

func newMigrateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run store schema",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "migrations directory (default: database.migration_path)")

	target := func(cmd *cobra.Command) (*CLIContext, string, string, error) {
		cliCtx, err := GetCLIContext(cmd)
		if err != nil {
			return nil, "", "", err
		}
		p := path
		if p == "" {
			p = cliCtx.Config.Database.MigrationPath
		}
		return cliCtx, postgres.BuildConnString(cliCtx.Config.Database), p, nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cliCtx, dbURL, p, err := target(cmd)
			if err != nil {
				return err
			}
			if err := migrator.Up(dbURL, p); err != nil {
				return err
			}
			cliCtx.Logger.Info("migrations applied", logging.String("path", p))
			return printStatus(cmd, dbURL, p)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cliCtx, dbURL, p, err := target(cmd)
			if err != nil {
				return err
			}
			if err := migrator.Down(dbURL, p, steps); err != nil {
				return err
			}
			cliCtx.Logger.Info("migrations rolled back", logging.Int("steps", steps))
			return printStatus(cmd, dbURL, p)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, dbURL, p, err := target(cmd)
			if err != nil {
				return err
			}
			return printStatus(cmd, dbURL, p)
		},
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied to recover a dirty schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.Newf(errors.ErrCodeBadRequest, "invalid version %q", args[0])
			}
			_, dbURL, p, err := target(cmd)
			if err != nil {
				return err
			}
			if err := migrator.Force(dbURL, p, v); err != nil {
				return err
			}
			return printStatus(cmd, dbURL, p)
		},
	}

	cmd.AddCommand(up, down, status, force)
	return cmd
}

func printStatus(cmd *cobra.Command, dbURL, path string) error {
	v, dirty, err := migrator.Status(dbURL, path)
	if err != nil {
		return err
	}
	return PrintResult(cmd, MigrationStatusView{Version: v, Dirty: dirty, Path: path})
}
