// Package store provides storage backends for LeadPipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/LeadPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists engine state in a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time checks that SQLiteStore implements Store and carries the repos.
var (
	_ Store               = (*SQLiteStore)(nil)
	_ PersistenceProvider = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	slog.Debug("SQLite database opened")

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// JobRepo returns the store's durable job queue.
func (s *SQLiteStore) JobRepo() JobRepo { return s }

// OutboxRepo returns the store's durable outbox.
func (s *SQLiteStore) OutboxRepo() OutboxRepo { return s }

// DedupRepo returns the store's inbound message dedup table.
func (s *SQLiteStore) DedupRepo() DedupRepo { return s }

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}

// SaveConversationState stores or updates the conversation state for a contact.
func (s *SQLiteStore) SaveConversationState(state models.ConversationState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState marshal failed", "error", err, "contactID", state.ContactID)
		return fmt.Errorf("failed to marshal conversation state: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO conversation_states (contact_id, state_json, updated_at) VALUES (?, ?, ?)`,
		state.ContactID, string(stateJSON), state.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "contactID", state.ContactID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.ContactID, err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "contactID", state.ContactID, "stage", state.Stage)
	return nil
}

// GetConversationState retrieves the conversation state for a contact.
// Returns nil without error when no state exists yet.
func (s *SQLiteStore) GetConversationState(contactID string) (*models.ConversationState, error) {
	var stateJSON string
	err := s.db.QueryRow(
		`SELECT state_json FROM conversation_states WHERE contact_id = ?`, contactID,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversationState not found", "contactID", contactID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to get conversation state for %s: %w", contactID, err)
	}

	var state models.ConversationState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		slog.Error("SQLiteStore GetConversationState unmarshal failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to unmarshal conversation state for %s: %w", contactID, err)
	}
	slog.Debug("SQLiteStore GetConversationState found", "contactID", contactID, "stage", state.Stage)
	return &state, nil
}

// DeleteConversationState removes the conversation state for a contact.
func (s *SQLiteStore) DeleteConversationState(contactID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE contact_id = ?`, contactID)
	if err != nil {
		slog.Error("SQLiteStore DeleteConversationState failed", "error", err, "contactID", contactID)
		return fmt.Errorf("failed to delete conversation state for %s: %w", contactID, err)
	}
	slog.Debug("SQLiteStore DeleteConversationState succeeded", "contactID", contactID)
	return nil
}

// ListIdleConversationStates returns states not updated since idleBefore, oldest first.
func (s *SQLiteStore) ListIdleConversationStates(idleBefore time.Time, limit int) ([]models.ConversationState, error) {
	rows, err := s.db.Query(
		`SELECT state_json FROM conversation_states WHERE updated_at < ? ORDER BY updated_at ASC LIMIT ?`,
		idleBefore, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore ListIdleConversationStates query failed", "error", err)
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
			slog.Error("SQLiteStore ListIdleConversationStates unmarshal failed", "error", err)
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
func (s *SQLiteStore) SaveProfile(profile models.QualificationProfile) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		slog.Error("SQLiteStore SaveProfile marshal failed", "error", err, "contactID", profile.ContactID)
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO qualification_profiles (contact_id, profile_json, updated_at) VALUES (?, ?, ?)`,
		profile.ContactID, string(profileJSON), profile.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveProfile failed", "error", err, "contactID", profile.ContactID)
		return fmt.Errorf("failed to save profile for %s: %w", profile.ContactID, err)
	}
	slog.Debug("SQLiteStore SaveProfile succeeded", "contactID", profile.ContactID)
	return nil
}

// GetProfile retrieves the qualification profile for a contact.
// Returns nil without error when no profile exists yet.
func (s *SQLiteStore) GetProfile(contactID string) (*models.QualificationProfile, error) {
	var profileJSON string
	err := s.db.QueryRow(
		`SELECT profile_json FROM qualification_profiles WHERE contact_id = ?`, contactID,
	).Scan(&profileJSON)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetProfile not found", "contactID", contactID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfile failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to get profile for %s: %w", contactID, err)
	}

	var profile models.QualificationProfile
	if err := json.Unmarshal([]byte(profileJSON), &profile); err != nil {
		slog.Error("SQLiteStore GetProfile unmarshal failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to unmarshal profile for %s: %w", contactID, err)
	}
	return &profile, nil
}

// SaveAgentMessage upserts an agent message record by ID.
func (s *SQLiteStore) SaveAgentMessage(rec models.AgentMessageRecord) error {
	var themesJSON string
	if len(rec.Themes) > 0 {
		jsonBytes, err := json.Marshal(rec.Themes)
		if err != nil {
			return fmt.Errorf("failed to marshal themes: %w", err)
		}
		themesJSON = string(jsonBytes)
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO agent_messages (id, contact_id, seq, body, trigger_text, themes_json, category, bank, pattern_id, scored, outcome, vibe, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ContactID, rec.Seq, rec.Body, nilIfEmpty(rec.TriggerText), nilIfEmpty(themesJSON), nilIfEmpty(string(rec.Category)),
		nilIfEmpty(string(rec.Bank)), nilIfEmpty(rec.PatternID), rec.Scored, rec.Outcome, nilIfEmpty(string(rec.Vibe)), rec.SentAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveAgentMessage failed", "error", err, "id", rec.ID, "contactID", rec.ContactID)
		return fmt.Errorf("failed to save agent message %s: %w", rec.ID, err)
	}
	slog.Debug("SQLiteStore SaveAgentMessage succeeded", "id", rec.ID, "contactID", rec.ContactID, "scored", rec.Scored)
	return nil
}

// GetPendingAgentMessage returns the single unscored record for a contact,
// or nil when none is pending.
func (s *SQLiteStore) GetPendingAgentMessage(contactID string) (*models.AgentMessageRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, contact_id, seq, body, trigger_text, themes_json, category, bank, pattern_id, scored, outcome, vibe, sent_at
		 FROM agent_messages WHERE contact_id = ? AND scored = 0 ORDER BY seq DESC LIMIT 1`,
		contactID,
	)
	rec, err := scanAgentMessageRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetPendingAgentMessage failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to get pending agent message for %s: %w", contactID, err)
	}
	return &rec, nil
}

// GetRecentAgentMessages returns the newest agent messages first, up to limit.
func (s *SQLiteStore) GetRecentAgentMessages(contactID string, limit int) ([]models.AgentMessageRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, contact_id, seq, body, trigger_text, themes_json, category, bank, pattern_id, scored, outcome, vibe, sent_at
		 FROM agent_messages WHERE contact_id = ? ORDER BY seq DESC LIMIT ?`,
		contactID, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore GetRecentAgentMessages query failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to query recent agent messages for %s: %w", contactID, err)
	}
	defer rows.Close()
	return collectAgentMessages(rows)
}

// GetScoredAgentMessages returns every scored record for a contact, oldest first.
func (s *SQLiteStore) GetScoredAgentMessages(contactID string) ([]models.AgentMessageRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, contact_id, seq, body, trigger_text, themes_json, category, bank, pattern_id, scored, outcome, vibe, sent_at
		 FROM agent_messages WHERE contact_id = ? AND scored = 1 ORDER BY seq ASC`,
		contactID,
	)
	if err != nil {
		slog.Error("SQLiteStore GetScoredAgentMessages query failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to query scored agent messages for %s: %w", contactID, err)
	}
	defer rows.Close()
	return collectAgentMessages(rows)
}

// SavePattern upserts a pattern by its (bank, category, trigger text) identity.
func (s *SQLiteStore) SavePattern(p models.Pattern) error {
	_, err := s.db.Exec(
		`INSERT INTO patterns (id, bank, category, trigger_text, response_template, score, times_used, times_successful, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bank, category, trigger_text) DO UPDATE SET
		   response_template = excluded.response_template,
		   score = excluded.score,
		   times_used = excluded.times_used,
		   times_successful = excluded.times_successful,
		   updated_at = excluded.updated_at`,
		p.ID, p.Bank, p.Category, p.TriggerText, p.ResponseTemplate, p.Score, p.TimesUsed, p.TimesSuccessful, p.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SavePattern failed", "error", err, "bank", p.Bank, "category", p.Category)
		return fmt.Errorf("failed to save pattern %s/%s: %w", p.Bank, p.Category, err)
	}
	return nil
}

// DeletePattern removes a pattern by ID.
func (s *SQLiteStore) DeletePattern(id string) error {
	_, err := s.db.Exec(`DELETE FROM patterns WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeletePattern failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete pattern %s: %w", id, err)
	}
	return nil
}

// GetPatterns returns every stored pattern.
func (s *SQLiteStore) GetPatterns() ([]models.Pattern, error) {
	rows, err := s.db.Query(
		`SELECT id, bank, category, trigger_text, response_template, score, times_used, times_successful, updated_at
		 FROM patterns ORDER BY bank, category, score DESC`,
	)
	if err != nil {
		slog.Error("SQLiteStore GetPatterns query failed", "error", err)
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
	slog.Debug("SQLiteStore GetPatterns succeeded", "count", len(patterns))
	return patterns, nil
}

// AddReceipt records a delivery receipt.
func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("SQLiteStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

// GetReceipts returns every recorded delivery receipt.
func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			slog.Error("SQLiteStore GetReceipts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetReceipts rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	slog.Debug("SQLiteStore GetReceipts succeeded", "count", len(receipts))
	return receipts, nil
}
