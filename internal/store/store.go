// Package store provides storage backends for LeadPipe.
//
// It defines the Store interface the conversation engine persists through,
// with SQLite, Postgres, and in-memory implementations. Durable
// infrastructure for inbound dedup, outgoing sends, and scheduled jobs
// lives in the repo interfaces alongside.
package store

import (
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// PersistenceProvider is implemented by stores that carry the durable
// delivery infrastructure alongside the Store surface. Callers holding a
// Store can type-assert to reach the repos.
type PersistenceProvider interface {
	JobRepo() JobRepo
	OutboxRepo() OutboxRepo
	DedupRepo() DedupRepo
}

// Store is the persistence surface the conversation engine depends on.
type Store interface {
	// Conversation state, one snapshot per contact.
	SaveConversationState(state models.ConversationState) error
	GetConversationState(contactID string) (*models.ConversationState, error)
	DeleteConversationState(contactID string) error
	// ListIdleConversationStates returns states not updated since idleBefore,
	// oldest first, up to limit.
	ListIdleConversationStates(idleBefore time.Time, limit int) ([]models.ConversationState, error)

	// Qualification profiles.
	SaveProfile(profile models.QualificationProfile) error
	GetProfile(contactID string) (*models.QualificationProfile, error)

	// Agent message records. SaveAgentMessage upserts by ID so a pending
	// record can be rewritten in place once its outcome lands.
	SaveAgentMessage(rec models.AgentMessageRecord) error
	GetPendingAgentMessage(contactID string) (*models.AgentMessageRecord, error)
	// GetRecentAgentMessages returns the newest records first, up to limit.
	GetRecentAgentMessages(contactID string, limit int) ([]models.AgentMessageRecord, error)
	GetScoredAgentMessages(contactID string) ([]models.AgentMessageRecord, error)

	// Pattern persistence. SavePattern upserts by (bank, category, trigger text).
	SavePattern(p models.Pattern) error
	DeletePattern(id string) error
	GetPatterns() ([]models.Pattern, error)

	// Delivery receipts, analytics only.
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)

	Close() error
}
