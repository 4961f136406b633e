// Package store provides an in-memory store for tests and ephemeral runs.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// InMemoryStore keeps all engine state in process memory. It implements the
// same interfaces as the SQL stores so tests and DSN-less runs can use it
// interchangeably.
type InMemoryStore struct {
	mu       sync.RWMutex
	states   map[string]models.ConversationState
	profiles map[string]models.QualificationProfile
	messages map[string][]models.AgentMessageRecord
	patterns map[string]models.Pattern
	receipts []models.Receipt
	dedup    map[string]DedupRecord
	outbox   map[string]OutboxMessage
	jobs     map[string]Job
}

// Compile-time checks for the interfaces InMemoryStore implements.
var (
	_ Store               = (*InMemoryStore)(nil)
	_ DedupRepo           = (*InMemoryStore)(nil)
	_ OutboxRepo          = (*InMemoryStore)(nil)
	_ JobRepo             = (*InMemoryStore)(nil)
	_ PersistenceProvider = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:   make(map[string]models.ConversationState),
		profiles: make(map[string]models.QualificationProfile),
		messages: make(map[string][]models.AgentMessageRecord),
		patterns: make(map[string]models.Pattern),
		dedup:    make(map[string]DedupRecord),
		outbox:   make(map[string]OutboxMessage),
		jobs:     make(map[string]Job),
	}
}

// JobRepo returns the store's job queue.
func (s *InMemoryStore) JobRepo() JobRepo { return s }

// OutboxRepo returns the store's outbox.
func (s *InMemoryStore) OutboxRepo() OutboxRepo { return s }

// DedupRepo returns the store's inbound message dedup table.
func (s *InMemoryStore) DedupRepo() DedupRepo { return s }

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func (s *InMemoryStore) SaveConversationState(state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ContactID] = state
	return nil
}

func (s *InMemoryStore) GetConversationState(contactID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[contactID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *InMemoryStore) DeleteConversationState(contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, contactID)
	return nil
}

func (s *InMemoryStore) ListIdleConversationStates(idleBefore time.Time, limit int) ([]models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var states []models.ConversationState
	for _, state := range s.states {
		if state.UpdatedAt.Before(idleBefore) {
			states = append(states, state)
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].UpdatedAt.Before(states[j].UpdatedAt) })
	if limit > 0 && len(states) > limit {
		states = states[:limit]
	}
	return states, nil
}

func (s *InMemoryStore) SaveProfile(profile models.QualificationProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.ContactID] = profile
	return nil
}

func (s *InMemoryStore) GetProfile(contactID string) (*models.QualificationProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[contactID]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

func (s *InMemoryStore) SaveAgentMessage(rec models.AgentMessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.messages[rec.ContactID]
	for i := range records {
		if records[i].ID == rec.ID {
			records[i] = rec
			return nil
		}
	}
	s.messages[rec.ContactID] = append(records, rec)
	return nil
}

func (s *InMemoryStore) GetPendingAgentMessage(contactID string) (*models.AgentMessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.messages[contactID]
	for i := len(records) - 1; i >= 0; i-- {
		if !records[i].Scored {
			rec := records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetRecentAgentMessages(contactID string, limit int) ([]models.AgentMessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.messages[contactID]
	var out []models.AgentMessageRecord
	for i := len(records) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, records[i])
	}
	return out, nil
}

func (s *InMemoryStore) GetScoredAgentMessages(contactID string) ([]models.AgentMessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AgentMessageRecord
	for _, rec := range s.messages[contactID] {
		if rec.Scored {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryStore) SavePattern(p models.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by identity so the unique constraint semantics match SQL.
	for id, existing := range s.patterns {
		if existing.Bank == p.Bank && existing.Category == p.Category && existing.TriggerText == p.TriggerText {
			p.ID = existing.ID
			s.patterns[id] = p
			return nil
		}
	}
	if p.ID == "" {
		p.ID = util.GeneratePatternID()
	}
	s.patterns[p.ID] = p
	return nil
}

func (s *InMemoryStore) DeletePattern(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.patterns, id)
	return nil
}

func (s *InMemoryStore) GetPatterns() ([]models.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	patterns := make([]models.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Bank != patterns[j].Bank {
			return patterns[i].Bank < patterns[j].Bank
		}
		if patterns[i].Category != patterns[j].Category {
			return patterns[i].Category < patterns[j].Category
		}
		return patterns[i].Score > patterns[j].Score
	})
	return patterns, nil
}

func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

// DedupRepo implementation.

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, contactID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{
		MessageID:  messageID,
		ContactID:  contactID,
		ReceivedAt: time.Now(),
	}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

// OutboxRepo implementation.

func (s *InMemoryStore) EnqueueOutboxMessage(contactID, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	id := util.GenerateRandomID("outbox_", 32)
	now := time.Now()
	s.outbox[id] = OutboxMessage{
		ID:          id,
		ContactID:   contactID,
		Kind:        kind,
		PayloadJSON: payloadJSON,
		Status:      OutboxStatusQueued,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []OutboxMessage
	for _, m := range s.outbox {
		if m.Status != OutboxStatusQueued {
			continue
		}
		if m.NextAttemptAt != nil && m.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, m)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		m := due[i]
		m.Status = OutboxStatusSending
		lockedAt := now
		m.LockedAt = &lockedAt
		m.UpdatedAt = now
		s.outbox[m.ID] = m
		due[i] = m
	}
	return due, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return nil
	}
	m.Status = OutboxStatusSent
	m.UpdatedAt = time.Now()
	s.outbox[id] = m
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return nil
	}
	m.Status = OutboxStatusQueued
	m.Attempts++
	m.LastError = errMsg
	m.NextAttemptAt = &nextAttemptAt
	m.LockedAt = nil
	m.UpdatedAt = time.Now()
	s.outbox[id] = m
	return nil
}

func (s *InMemoryStore) CancelPendingOutboxForContact(contactID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.outbox {
		if m.ContactID == contactID && m.Status == OutboxStatusQueued {
			m.Status = OutboxStatusCanceled
			m.UpdatedAt = time.Now()
			s.outbox[id] = m
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = time.Now()
			s.outbox[id] = m
			n++
		}
	}
	return n, nil
}

// JobRepo implementation.

func (s *InMemoryStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, j := range s.jobs {
			if j.DedupeKey == dedupeKey && j.Status != JobStatusDone && j.Status != JobStatusCanceled {
				return j.ID, nil
			}
		}
	}
	id := util.GenerateRandomID("job_", 32)
	now := time.Now()
	s.jobs[id] = Job{
		ID:          id,
		Kind:        kind,
		RunAt:       runAt,
		PayloadJSON: payloadJSON,
		Status:      JobStatusQueued,
		MaxAttempts: 3,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id, nil
}

func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		j := due[i]
		j.Status = JobStatusRunning
		lockedAt := now
		j.LockedAt = &lockedAt
		j.UpdatedAt = now
		s.jobs[j.ID] = j
		due[i] = j
	}
	return due, nil
}

func (s *InMemoryStore) CompleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Status = JobStatusDone
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Attempt++
	j.LastError = errMsg
	j.LockedAt = nil
	if j.Attempt >= j.MaxAttempts {
		j.Status = JobStatusFailed
	} else {
		j.Status = JobStatusQueued
		j.RunAt = nextRunAt
	}
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) CancelJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Status = JobStatusCanceled
	j.LockedAt = nil
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) CancelJobsByDedupeKey(dedupeKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.DedupeKey == dedupeKey && j.Status == JobStatusQueued {
			j.Status = JobStatusCanceled
			j.LockedAt = nil
			j.UpdatedAt = time.Now()
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			j.UpdatedAt = time.Now()
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}
