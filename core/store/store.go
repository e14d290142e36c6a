// Package store is the persistence boundary for the consensus engine. It
// exposes a narrow query surface over a single sqlite database: profiles,
// the active-profile setting, per-model pricing, the conversation corpus,
// usage records, and session transcripts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("store: not found")

type Config struct {
	Path        string
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	BusyTimeout time.Duration
}

func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		MaxOpen:     10,
		MaxIdle:     5,
		MaxLifetime: time.Hour,
		BusyTimeout: 30 * time.Second,
	}
}

type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at config.Path and applies
// the schema. Use Path ":memory:" for tests.
func Open(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("store: path is required")
	}

	var dsn string
	if config.Path == ":memory:" {
		// A pooled in-memory database needs a single shared connection or
		// each conn sees its own empty database.
		dsn = "file::memory:?cache=shared&_foreign_keys=1"
		config.MaxOpen = 1
		config.MaxIdle = 1
	} else {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=1",
			config.Path,
			int(config.BusyTimeout.Milliseconds()),
		)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpen)
	db.SetMaxIdleConns(config.MaxIdle)
	db.SetConnMaxLifetime(config.MaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &Store{db: db, path: config.Path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

// Profile is a raw profile row. Validation into the engine's typed profile
// happens at the resolver boundary, not here.
type Profile struct {
	ID             string
	Name           string
	GeneratorModel string
	RefinerModel   string
	ValidatorModel string
	CuratorModel   string
	MaxRounds      int
	CreatedAt      time.Time
}

// ModelPricing holds per-token dollar rates for one model.
type ModelPricing struct {
	Model      string
	InputRate  float64
	OutputRate float64
}

// Fragment is one persisted conversation message, the unit of the memory
// corpus.
type Fragment struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// UsageRecord is one analytics row for a single completion call.
type UsageRecord struct {
	ID           string
	SessionID    string
	Stage        string
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
	Duration     time.Duration
	CreatedAt    time.Time
}

const activeProfileKey = "active_profile_id"

// ProfileByName returns the profile with the exact given name.
func (s *Store) ProfileByName(ctx context.Context, name string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, generator_model, refiner_model, validator_model, curator_model, max_rounds, created_at
		FROM profiles WHERE name = ?`, name)
	return scanProfile(row)
}

// ActiveProfile returns the profile referenced by the active-profile
// setting. When no setting exists it falls back to the oldest profile and
// records it as active.
func (s *Store) ActiveProfile(ctx context.Context) (*Profile, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, activeProfileKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return s.adoptFirstProfile(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("active profile setting: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, generator_model, refiner_model, validator_model, curator_model, max_rounds, created_at
		FROM profiles WHERE id = ?`, id)
	return scanProfile(row)
}

func (s *Store) adoptFirstProfile(ctx context.Context) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, generator_model, refiner_model, validator_model, curator_model, max_rounds, created_at
		FROM profiles ORDER BY created_at ASC, name ASC LIMIT 1`)
	profile, err := scanProfile(row)
	if err != nil {
		return nil, err
	}
	if err := s.SetActiveProfile(ctx, profile.ID); err != nil {
		return nil, err
	}
	return profile, nil
}

// SetActiveProfile records the given profile id as the active profile.
func (s *Store) SetActiveProfile(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, activeProfileKey, id)
	if err != nil {
		return fmt.Errorf("set active profile: %w", err)
	}
	return nil
}

// SaveProfile inserts or replaces a profile row.
func (s *Store) SaveProfile(ctx context.Context, p *Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO profiles
			(id, name, generator_model, refiner_model, validator_model, curator_model, max_rounds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.GeneratorModel, p.RefinerModel, p.ValidatorModel, p.CuratorModel, p.MaxRounds, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// ListProfiles returns all profiles ordered by creation time.
func (s *Store) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, generator_model, refiner_model, validator_model, curator_model, max_rounds, created_at
		FROM profiles ORDER BY created_at ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.GeneratorModel, &p.RefinerModel,
			&p.ValidatorModel, &p.CuratorModel, &p.MaxRounds, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// PricingFor returns the pricing row for a model, or ErrNotFound.
func (s *Store) PricingFor(ctx context.Context, model string) (*ModelPricing, error) {
	var p ModelPricing
	err := s.db.QueryRowContext(ctx,
		`SELECT model, input_rate, output_rate FROM model_pricing WHERE model = ?`, model).
		Scan(&p.Model, &p.InputRate, &p.OutputRate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pricing for %s: %w", model, err)
	}
	return &p, nil
}

// SetPricing inserts or replaces a pricing row.
func (s *Store) SetPricing(ctx context.Context, p ModelPricing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO model_pricing (model, input_rate, output_rate)
		VALUES (?, ?, ?)`, p.Model, p.InputRate, p.OutputRate)
	if err != nil {
		return fmt.Errorf("set pricing: %w", err)
	}
	return nil
}

// SearchFragments returns up to limit fragments whose content contains the
// query text, newest first. Substring fallback for when no full-text index
// is available.
func (s *Store) SearchFragments(ctx context.Context, query string, limit int) ([]Fragment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM fragments
		WHERE content LIKE '%' || ? || '%'
		ORDER BY created_at DESC
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search fragments: %w", err)
	}
	defer rows.Close()
	return scanFragments(rows)
}

// AllFragments returns the full corpus, newest first. Used to seed the
// full-text index at startup.
func (s *Store) AllFragments(ctx context.Context) ([]Fragment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM fragments ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("all fragments: %w", err)
	}
	defer rows.Close()
	return scanFragments(rows)
}

// AppendFragment adds one message to the conversation corpus.
func (s *Store) AppendFragment(ctx context.Context, f Fragment) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fragments (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.ConversationID, f.Role, f.Content, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("append fragment: %w", err)
	}
	return nil
}

// AppendUsage records one analytics row.
func (s *Store) AppendUsage(ctx context.Context, r UsageRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records
			(id, session_id, stage, model, input_tokens, output_tokens, cost, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.Stage, r.Model, r.InputTokens, r.OutputTokens,
		r.Cost, r.Duration.Milliseconds(), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("append usage: %w", err)
	}
	return nil
}

// SaveTranscript persists the full per-round transcript for a session.
func (s *Store) SaveTranscript(ctx context.Context, sessionID string, body []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO transcripts (session_id, body, created_at)
		VALUES (?, ?, ?)`, sessionID, string(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// Transcript returns the stored transcript body for a session.
func (s *Store) Transcript(ctx context.Context, sessionID string) ([]byte, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM transcripts WHERE session_id = ?`, sessionID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	return []byte(body), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Name, &p.GeneratorModel, &p.RefinerModel,
		&p.ValidatorModel, &p.CuratorModel, &p.MaxRounds, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	return &p, nil
}

func scanFragments(rows *sql.Rows) ([]Fragment, error) {
	var fragments []Fragment
	for rows.Next() {
		var f Fragment
		if err := rows.Scan(&f.ID, &f.ConversationID, &f.Role, &f.Content, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		fragments = append(fragments, f)
	}
	return fragments, rows.Err()
}
