package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DetectDSNType determines which database driver a DSN belongs to.
// Postgres URLs and key=value connection strings return "postgres";
// anything else is treated as a SQLite file path and returns "sqlite3".
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	for _, key := range []string{"host=", "user=", "password=", "dbname=", "sslmode="} {
		if strings.Contains(dsn, key) {
			return "postgres"
		}
	}
	return "sqlite3"
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanJob scans a Job from sql.Rows.
func scanJob(rows *sql.Rows) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := rows.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, fmt.Errorf("scan job failed: %w", err)
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

// scanJobRow scans a Job from a single sql.Row.
func scanJobRow(row *sql.Row) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

// scanOutboxMessage scans an OutboxMessage from sql.Rows.
func scanOutboxMessage(rows *sql.Rows) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := rows.Scan(
		&m.ID, &m.ContactID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}

// fillAgentMessage finishes decoding nullable columns into a record.
func fillAgentMessage(rec *models.AgentMessageRecord, triggerText, themesJSON, category, bank, patternID, vibe sql.NullString) error {
	rec.TriggerText = triggerText.String
	if themesJSON.Valid && themesJSON.String != "" {
		if err := json.Unmarshal([]byte(themesJSON.String), &rec.Themes); err != nil {
			return fmt.Errorf("unmarshal themes failed: %w", err)
		}
	}
	rec.Category = models.PatternCategory(category.String)
	rec.Bank = models.PatternBank(bank.String)
	rec.PatternID = patternID.String
	rec.Vibe = models.Vibe(vibe.String)
	return nil
}

// scanAgentMessageRow scans an AgentMessageRecord from a single sql.Row.
func scanAgentMessageRow(row *sql.Row) (models.AgentMessageRecord, error) {
	var rec models.AgentMessageRecord
	var triggerText, themesJSON, category, bank, patternID, vibe sql.NullString
	err := row.Scan(
		&rec.ID, &rec.ContactID, &rec.Seq, &rec.Body, &triggerText, &themesJSON, &category, &bank,
		&patternID, &rec.Scored, &rec.Outcome, &vibe, &rec.SentAt,
	)
	if err != nil {
		return rec, err
	}
	if err := fillAgentMessage(&rec, triggerText, themesJSON, category, bank, patternID, vibe); err != nil {
		return rec, err
	}
	return rec, nil
}

// collectAgentMessages scans every remaining row into records.
func collectAgentMessages(rows *sql.Rows) ([]models.AgentMessageRecord, error) {
	var records []models.AgentMessageRecord
	for rows.Next() {
		var rec models.AgentMessageRecord
		var triggerText, themesJSON, category, bank, patternID, vibe sql.NullString
		err := rows.Scan(
			&rec.ID, &rec.ContactID, &rec.Seq, &rec.Body, &triggerText, &themesJSON, &category, &bank,
			&patternID, &rec.Scored, &rec.Outcome, &vibe, &rec.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan agent message failed: %w", err)
		}
		if err := fillAgentMessage(&rec, triggerText, themesJSON, category, bank, patternID, vibe); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent messages failed: %w", err)
	}
	return records, nil
}
