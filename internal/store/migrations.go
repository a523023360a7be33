package store

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS forests (
    los_id INTEGER PRIMARY KEY,
    ra REAL NOT NULL,
    dec REAL NOT NULL,
    z REAL NOT NULL,
    num_pixels INTEGER NOT NULL,
    wave BLOB NOT NULL,
    flux BLOB NOT NULL,
    ivar BLOB NOT NULL,
    exposures_diff BLOB,
    payload_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    fit_order INTEGER NOT NULL,
    num_iterations INTEGER NOT NULL,
    wave_solution TEXT NOT NULL,
    config_json TEXT,
    num_forests INTEGER,
    success BOOLEAN,
    error_message TEXT
);
`,
	},
	{
		Version:     2,
		Description: "Add per-iteration diagnostics",
		SQL: `
CREATE TABLE IF NOT EXISTS iterations (
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    iteration INTEGER NOT NULL,
    fit_order INTEGER NOT NULL,
    saved_at DATETIME NOT NULL,
    PRIMARY KEY (run_id, iteration)
);

CREATE TABLE IF NOT EXISTS stack_deltas (
    run_id INTEGER NOT NULL,
    iteration INTEGER NOT NULL,
    source TEXT NOT NULL,
    idx INTEGER NOT NULL,
    wave REAL NOT NULL,
    stack REAL NOT NULL,
    weight REAL NOT NULL,
    PRIMARY KEY (run_id, iteration, source, idx),
    FOREIGN KEY (run_id, iteration) REFERENCES iterations(run_id, iteration) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS var_func (
    run_id INTEGER NOT NULL,
    iteration INTEGER NOT NULL,
    idx INTEGER NOT NULL,
    wave REAL NOT NULL,
    eta REAL NOT NULL,
    var_lss REAL NOT NULL,
    fudge REAL NOT NULL,
    num_pixels INTEGER NOT NULL,
    valid_fit BOOLEAN NOT NULL,
    chi2 REAL,
    PRIMARY KEY (run_id, iteration, idx),
    FOREIGN KEY (run_id, iteration) REFERENCES iterations(run_id, iteration) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS cont (
    run_id INTEGER NOT NULL,
    iteration INTEGER NOT NULL,
    idx INTEGER NOT NULL,
    wave REAL NOT NULL,
    mean_cont REAL NOT NULL,
    weight REAL NOT NULL,
    PRIMARY KEY (run_id, iteration, idx),
    FOREIGN KEY (run_id, iteration) REFERENCES iterations(run_id, iteration) ON DELETE CASCADE
);
`,
	},
	{
		Version:     3,
		Description: "Add per-object outputs",
		SQL: `
CREATE TABLE IF NOT EXISTS los_outputs (
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    los_id INTEGER NOT NULL,
    zero_point REAL,
    slope REAL,
    bad_continuum_reason TEXT,
    continuum BLOB,
    mean_expected_flux BLOB,
    weights BLOB,
    delta BLOB,
    ivar BLOB,
    PRIMARY KEY (run_id, los_id)
);

CREATE INDEX IF NOT EXISTS idx_los_outputs_reason ON los_outputs(run_id, bad_continuum_reason);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.log.Info("applying migration", zap.Int("version", m.Version), zap.String("description", m.Description))

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
