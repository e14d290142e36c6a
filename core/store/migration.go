package store

import (
	"fmt"
)

// migrations are applied in order; PRAGMA user_version tracks the last one
// applied.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS profiles (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL UNIQUE,
		generator_model TEXT NOT NULL,
		refiner_model   TEXT NOT NULL,
		validator_model TEXT NOT NULL,
		curator_model   TEXT NOT NULL,
		max_rounds      INTEGER NOT NULL DEFAULT 3,
		created_at      TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS model_pricing (
		model       TEXT PRIMARY KEY,
		input_rate  REAL NOT NULL,
		output_rate REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fragments (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fragments_created_at ON fragments(created_at DESC);

	CREATE TABLE IF NOT EXISTS usage_records (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL,
		stage         TEXT NOT NULL,
		model         TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cost          REAL NOT NULL,
		duration_ms   INTEGER NOT NULL,
		created_at    TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_session ON usage_records(session_id);

	CREATE TABLE IF NOT EXISTS transcripts (
		session_id TEXT PRIMARY KEY,
		body       TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	`,
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}

	return nil
}
