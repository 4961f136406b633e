// Package store provides storage backends for LeadPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/LeadPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists engine state in a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time checks that PostgresStore implements Store and carries the repos.
var (
	_ Store               = (*PostgresStore)(nil)
	_ PersistenceProvider = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// JobRepo returns the store's durable job queue.
func (s *PostgresStore) JobRepo() JobRepo { return s }

// OutboxRepo returns the store's durable outbox.
func (s *PostgresStore) OutboxRepo() OutboxRepo { return s }

// DedupRepo returns the store's inbound message dedup table.
func (s *PostgresStore) DedupRepo() DedupRepo { return s }

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	} else {
		slog.Debug("Postgres database connection closed successfully")
	}
	return err
}

// SaveConversationState stores or updates the conversation state for a contact.
func (s *PostgresStore) SaveConversationState(state models.ConversationState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState marshal failed", "error", err, "contactID", state.ContactID)
		return fmt.Errorf("failed to marshal conversation state: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO conversation_states (contact_id, state_json, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (contact_id) DO UPDATE SET state_json = EXCLUDED.state_json, updated_at = EXCLUDED.updated_at`,
		state.ContactID, string(stateJSON), state.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "contactID", state.ContactID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.ContactID, err)
	}
	slog.Debug("PostgresStore SaveConversationState succeeded", "contactID", state.ContactID, "stage", state.Stage)
	return nil
}

// GetConversationState retrieves the conversation state for a contact.
// Returns nil without error when no state exists yet.
func (s *PostgresStore) GetConversationState(contactID string) (*models.ConversationState, error) {
	var stateJSON string
	err := s.db.QueryRow(
		`SELECT state_json FROM conversation_states WHERE contact_id = $1`, contactID,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversationState not found", "contactID", contactID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to get conversation state for %s: %w", contactID, err)
	}

	var state models.ConversationState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		slog.Error("PostgresStore GetConversationState unmarshal failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to unmarshal conversation state for %s: %w", contactID, err)
	}
	return &state, nil
}

// DeleteConversationState removes the conversation state for a contact.
func (s *PostgresStore) DeleteConversationState(contactID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE contact_id = $1`, contactID)
	if err != nil {
		slog.Error("PostgresStore DeleteConversationState failed", "error", err, "contactID", contactID)
		return fmt.Errorf("failed to delete conversation state for %s: %w", contactID, err)
	}
	return nil
}

// ListIdleConversationStates returns states not updated since idleBefore, oldest first.
func (s *PostgresStore) ListIdleConversationStates(idleBefore time.Time, limit int) ([]models.ConversationState, error) {
	rows, err := s.db.Query(
		`SELECT state_json FROM conversation_states WHERE updated_at < $1 ORDER BY updated_at ASC LIMIT $2`,
		idleBefore, limit,
	)
	if err != nil {
		slog.Error("PostgresStore ListIdleConversationStates query failed", "error", err)
		return nil, fmt.Errorf("failed to query idle conversation states: %w", err)
	}
	defer rows.Close()

	var states []models.ConversationState
	for rows.Next() {
		var stateJSON string
		if err := rows.Scan(&stateJSON); err != nil {
			return nil, fmt.Errorf("failed to scan idle conversation state: %w", err)
		}
		var state models.ConversationState
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			slog.Error("PostgresStore ListIdleConversationStates unmarshal failed", "error", err)
			continue
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate idle conversation states: %w", err)
	}
	return states, nil
}

// SaveProfile stores or updates the qualification profile for a contact.
func (s *PostgresStore) SaveProfile(profile models.QualificationProfile) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		slog.Error("PostgresStore SaveProfile marshal failed", "error", err, "contactID", profile.ContactID)
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO qualification_profiles (contact_id, profile_json, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (contact_id) DO UPDATE SET profile_json = EXCLUDED.profile_json, updated_at = EXCLUDED.updated_at`,
		profile.ContactID, string(profileJSON), profile.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveProfile failed", "error", err, "contactID", profile.ContactID)
		return fmt.Errorf("failed to save profile for %s: %w", profile.ContactID, err)
	}
	return nil
}

// GetProfile retrieves the qualification profile for a contact.
// Returns nil without error when no profile exists yet.
func (s *PostgresStore) GetProfile(contactID string) (*models.QualificationProfile, error) {
	var profileJSON string
	err := s.db.QueryRow(
		`SELECT profile_json FROM qualification_profiles WHERE contact_id = $1`, contactID,
	).Scan(&profileJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProfile failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to get profile for %s: %w", contactID, err)
	}

	var profile models.QualificationProfile
	if err := json.Unmarshal([]byte(profileJSON), &profile); err != nil {
		slog.Error("PostgresStore GetProfile unmarshal failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to unmarshal profile for %s: %w", contactID, err)
	}
	return &profile, nil
}

// SaveAgentMessage upserts an agent message record by ID.
func (s *PostgresStore) SaveAgentMessage(rec models.AgentMessageRecord) error {
	var themesJSON string
	if len(rec.Themes) > 0 {
		jsonBytes, err := json.Marshal(rec.Themes)
		if err != nil {
			return fmt.Errorf("failed to marshal themes: %w", err)
		}
		themesJSON = string(jsonBytes)
	}
	_, err := s.db.Exec(
		`INSERT INTO agent_messages (id, contact_id, seq, body, trigger_text, themes_json, category, bank, pattern_id, scored, outcome, vibe, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		   scored = EXCLUDED.scored,
		   outcome = EXCLUDED.outcome,
		   vibe = EXCLUDED.vibe`,
		rec.ID, rec.ContactID, rec.Seq, rec.Body, nilIfEmpty(rec.TriggerText), nilIfEmpty(themesJSON), nilIfEmpty(string(rec.Category)),
		nilIfEmpty(string(rec.Bank)), nilIfEmpty(rec.PatternID), rec.Scored, rec.Outcome, nilIfEmpty(string(rec.Vibe)), rec.SentAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveAgentMessage failed", "error", err, "id", rec.ID, "contactID", rec.ContactID)
		return fmt.Errorf("failed to save agent message %s: %w", rec.ID, err)
	}
	return nil
}

// GetPendingAgentMessage returns the single unscored record for a contact,
// or nil when none is pending.
func (s *PostgresStore) GetPendingAgentMessage(contactID string) (*models.AgentMessageRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, contact_id, seq, body, trigger_text, themes_json, category, bank, pattern_id, scored, outcome, vibe, sent_at
		 FROM agent_messages WHERE contact_id = $1 AND scored = FALSE ORDER BY seq DESC LIMIT 1`,
		contactID,
	)
	rec, err := scanAgentMessageRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetPendingAgentMessage failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to get pending agent message for %s: %w", contactID, err)
	}
	return &rec, nil
}

// GetRecentAgentMessages returns the newest agent messages first, up to limit.
func (s *PostgresStore) GetRecentAgentMessages(contactID string, limit int) ([]models.AgentMessageRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, contact_id, seq, body, trigger_text, themes_json, category, bank, pattern_id, scored, outcome, vibe, sent_at
		 FROM agent_messages WHERE contact_id = $1 ORDER BY seq DESC LIMIT $2`,
		contactID, limit,
	)
	if err != nil {
		slog.Error("PostgresStore GetRecentAgentMessages query failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to query recent agent messages for %s: %w", contactID, err)
	}
	defer rows.Close()
	return collectAgentMessages(rows)
}

// GetScoredAgentMessages returns every scored record for a contact, oldest first.
func (s *PostgresStore) GetScoredAgentMessages(contactID string) ([]models.AgentMessageRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, contact_id, seq, body, trigger_text, themes_json, category, bank, pattern_id, scored, outcome, vibe, sent_at
		 FROM agent_messages WHERE contact_id = $1 AND scored = TRUE ORDER BY seq ASC`,
		contactID,
	)
	if err != nil {
		slog.Error("PostgresStore GetScoredAgentMessages query failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to query scored agent messages for %s: %w", contactID, err)
	}
	defer rows.Close()
	return collectAgentMessages(rows)
}

// SavePattern upserts a pattern by its (bank, category, trigger text) identity.
func (s *PostgresStore) SavePattern(p models.Pattern) error {
	_, err := s.db.Exec(
		`INSERT INTO patterns (id, bank, category, trigger_text, response_template, score, times_used, times_successful, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (bank, category, trigger_text) DO UPDATE SET
		   response_template = EXCLUDED.response_template,
		   score = EXCLUDED.score,
		   times_used = EXCLUDED.times_used,
		   times_successful = EXCLUDED.times_successful,
		   updated_at = EXCLUDED.updated_at`,
		p.ID, p.Bank, p.Category, p.TriggerText, p.ResponseTemplate, p.Score, p.TimesUsed, p.TimesSuccessful, p.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SavePattern failed", "error", err, "bank", p.Bank, "category", p.Category)
		return fmt.Errorf("failed to save pattern %s/%s: %w", p.Bank, p.Category, err)
	}
	return nil
}

// DeletePattern removes a pattern by ID.
func (s *PostgresStore) DeletePattern(id string) error {
	_, err := s.db.Exec(`DELETE FROM patterns WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeletePattern failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete pattern %s: %w", id, err)
	}
	return nil
}

// GetPatterns returns every stored pattern.
func (s *PostgresStore) GetPatterns() ([]models.Pattern, error) {
	rows, err := s.db.Query(
		`SELECT id, bank, category, trigger_text, response_template, score, times_used, times_successful, updated_at
		 FROM patterns ORDER BY bank, category, score DESC`,
	)
	if err != nil {
		slog.Error("PostgresStore GetPatterns query failed", "error", err)
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var patterns []models.Pattern
	for rows.Next() {
		var p models.Pattern
		if err := rows.Scan(&p.ID, &p.Bank, &p.Category, &p.TriggerText, &p.ResponseTemplate,
			&p.Score, &p.TimesUsed, &p.TimesSuccessful, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pattern row: %w", err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pattern rows: %w", err)
	}
	return patterns, nil
}

// AddReceipt records a delivery receipt.
func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("PostgresStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

// GetReceipts returns every recorded delivery receipt.
func (s *PostgresStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			slog.Error("PostgresStore GetReceipts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetReceipts rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	slog.Debug("PostgresStore GetReceipts succeeded", "count", len(receipts))
	return receipts, nil
}
