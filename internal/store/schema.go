package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Schema version history:
// 1 - journeys, executions, execution_results, embedding_index
const currentSchemaVersion = 1

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS journeys (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_journeys_tenant ON journeys(tenant_id)`,
	`CREATE TABLE IF NOT EXISTS executions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		journey_id TEXT NOT NULL,
		process_id TEXT NOT NULL,
		state TEXT NOT NULL,
		inputs TEXT NOT NULL DEFAULT '{}',
		error TEXT NOT NULL DEFAULT '',
		queued_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_state ON executions(state, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_journey ON executions(journey_id, queued_at)`,
	`CREATE TABLE IF NOT EXISTS execution_results (
		execution_id TEXT PRIMARY KEY REFERENCES executions(id) ON DELETE CASCADE,
		output TEXT NOT NULL DEFAULT '{}',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS embedding_index (
		index_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		segment_id TEXT NOT NULL,
		journey_id TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		dimension INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (tenant_id, segment_id, model)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_embedding_index_segment ON embedding_index(segment_id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS journeys (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_journeys_tenant ON journeys(tenant_id)`,
	`CREATE TABLE IF NOT EXISTS executions (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		journey_id TEXT NOT NULL,
		process_id TEXT NOT NULL,
		state TEXT NOT NULL,
		inputs TEXT NOT NULL DEFAULT '{}',
		error TEXT NOT NULL DEFAULT '',
		queued_at BIGINT NOT NULL,
		started_at BIGINT,
		completed_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_state ON executions(state, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_journey ON executions(journey_id, queued_at)`,
	`CREATE TABLE IF NOT EXISTS execution_results (
		execution_id TEXT PRIMARY KEY REFERENCES executions(id) ON DELETE CASCADE,
		output TEXT NOT NULL DEFAULT '{}',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS embedding_index (
		index_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		segment_id TEXT NOT NULL,
		journey_id TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		dimension INTEGER NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE (tenant_id, segment_id, model)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_embedding_index_segment ON embedding_index(segment_id)`,
}

func (s *Store) applySchema(ctx context.Context) error {
	stmts := sqliteSchema
	if s.driver == DriverPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s create tables: %w", s.driver, err)
		}
	}

	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO schema_version (version) VALUES (?)`), currentSchemaVersion)
		if err != nil {
			return fmt.Errorf("recording schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("reading schema version: %w", err)
	case version > currentSchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	return nil
}

// SchemaVersion returns the recorded schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
