package duckdb

import (
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
)

// Repository is the DuckDB-backed persistence layer: sessions, conversation
// history, scheduled tasks and audit events all live in one file-backed
// database.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" or an empty path for an ephemeral database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb at %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to duckdb at %q: %w", path, err)
	}

	r := &Repository{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return r, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR PRIMARY KEY,
			guild_id VARCHAR,
			channel_id VARCHAR,
			created_at TIMESTAMP DEFAULT current_timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR PRIMARY KEY,
			session_id VARCHAR NOT NULL,
			source VARCHAR,
			sub_source VARCHAR,
			role VARCHAR NOT NULL,
			content VARCHAR NOT NULL,
			created_at TIMESTAMP DEFAULT current_timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id VARCHAR PRIMARY KEY,
			session_id VARCHAR NOT NULL,
			channel_id VARCHAR,
			prompt VARCHAR NOT NULL,
			cron_expr VARCHAR,
			run_at TIMESTAMP,
			every_ms BIGINT DEFAULT 0,
			next_run TIMESTAMP NOT NULL,
			last_run TIMESTAMP,
			last_result VARCHAR,
			run_count INTEGER DEFAULT 0,
			status VARCHAR NOT NULL,
			created_at TIMESTAMP DEFAULT current_timestamp,
			created_by VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id VARCHAR PRIMARY KEY,
			session_id VARCHAR,
			run_id VARCHAR,
			kind VARCHAR NOT NULL,
			status VARCHAR,
			detail VARCHAR,
			duration_ms BIGINT,
			created_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
