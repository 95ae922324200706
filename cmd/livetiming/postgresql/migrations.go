package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// postgres driver for database/sql
	_ "github.com/lib/pq"
	"github.com/omeid/pgerror"
	"go.uber.org/zap"
)

// Migration is a named schema change. Apply runs inside a transaction.
type Migration struct {
	Name  string
	Apply func(ctx context.Context, tx *sql.Tx) error
}

// Migrations in the order they are applied. Never reorder or rename an entry.
var Migrations = []Migration{
	{Name: "0001_create_timing_driver", Apply: createTimingDriver},
	{Name: "0002_create_tire_driver", Apply: createTireDriver},
	{Name: "0003_timescale_hypertables", Apply: createHypertables},
}

// OpenMigrationDB opens a database/sql handle and waits until postgres answers
func OpenMigrationDB(cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if ok, err := IsPostgresSQLAvailable(db); !ok {
		_ = db.Close()
		return nil, fmt.Errorf("postgres not yet available: %w", err)
	}
	return db, nil
}

// IsPostgresSQLAvailable returns if the database is reachable by PING command
func IsPostgresSQLAvailable(db *sql.DB) (bool, error) {
	var err error
	if db != nil {
		ctx, ctxClose := get5SecondContext()
		defer ctxClose()
		err = db.PingContext(ctx)
		if err == nil {
			return true, nil
		}
	}
	return false, err
}

// Migrate applies every migration that is not yet recorded in schema_migrations
func Migrate(ctx context.Context, db *sql.DB, migrations []Migration) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		migration_name TEXT NOT NULL UNIQUE,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE migration_name = $1)`, m.Name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.Name, err)
		}
		if applied {
			zap.S().Debugf("Migration %s already applied", m.Name)
			continue
		}

		zap.S().Infof("Applying migration %s", m.Name)
		if err = applyMigration(ctx, db, m); err != nil {
			return err
		}

		_, err = db.ExecContext(ctx, `INSERT INTO schema_migrations (migration_name, applied_at) VALUES ($1, $2)`, m.Name, time.Now().UTC())
		if err != nil {
			if e := pgerror.UniqueViolation(err); e != nil {
				zap.S().Infof("Migration %s was recorded concurrently: %s", m.Name, e.Message)
				continue
			}
			return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
		}
		zap.S().Infof("Applied migration %s", m.Name)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to open transaction for %s: %w", m.Name, err)
	}
	if err = m.Apply(ctx, tx); err != nil {
		if errX := tx.Rollback(); errX != nil {
			zap.S().Errorf("Error while rolling back transaction: %v", errX)
		}
		return fmt.Errorf("migration %s failed: %w", m.Name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.Name, err)
	}
	return nil
}

func createTimingDriver(ctx context.Context, tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS timing_driver (
			time TIMESTAMPTZ NOT NULL,
			nr TEXT NOT NULL,
			lap BIGINT,
			gap BIGINT NOT NULL DEFAULT 0,
			leader_gap BIGINT NOT NULL DEFAULT 0,
			laptime BIGINT NOT NULL DEFAULT 0,
			sector_1 BIGINT NOT NULL DEFAULT 0,
			sector_2 BIGINT NOT NULL DEFAULT 0,
			sector_3 BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS timing_driver_nr_time_idx ON timing_driver (nr, time DESC)`,
		`CREATE INDEX IF NOT EXISTS timing_driver_lap_idx ON timing_driver (lap)`,
	}
	return execAll(ctx, tx, statements)
}

func createTireDriver(ctx context.Context, tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tire_driver (
			time TIMESTAMPTZ NOT NULL,
			nr TEXT NOT NULL,
			lap BIGINT,
			compound TEXT NOT NULL,
			laps BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS tire_driver_nr_time_idx ON tire_driver (nr, time DESC)`,
		`CREATE INDEX IF NOT EXISTS tire_driver_lap_idx ON tire_driver (lap)`,
	}
	return execAll(ctx, tx, statements)
}

// createHypertables is a no-op on plain postgres
func createHypertables(ctx context.Context, tx *sql.Tx) error {
	var hasTimescale bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`).Scan(&hasTimescale)
	if err != nil {
		return err
	}
	if !hasTimescale {
		zap.S().Infof("TimescaleDB extension not installed, keeping plain tables")
		return nil
	}
	return execAll(ctx, tx, []string{
		`SELECT create_hypertable('timing_driver', 'time', if_not_exists => TRUE, migrate_data => TRUE)`,
		`SELECT create_hypertable('tire_driver', 'time', if_not_exists => TRUE, migrate_data => TRUE)`,
	})
}

func execAll(ctx context.Context, tx *sql.Tx, statements []string) error {
	for _, statement := range statements {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}
