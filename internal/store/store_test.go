package store

import (
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	r := models.Receipt{To: "+123", Status: models.MessageStatusSent, Time: 1}
	err := s.AddReceipt(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	receipts, err := s.GetReceipts()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(receipts) != 1 || receipts[0].To != "+123" {
		t.Error("Receipt not stored or retrieved correctly")
	}
}

func TestInMemoryStore_ConversationState(t *testing.T) {
	s := NewInMemoryStore()

	state := models.NewConversationState("contact-1")
	state.FirstName = "Sam"
	state.Stage = models.StageDiscovery
	state.ExchangeCount = 3

	if err := s.SaveConversationState(*state); err != nil {
		t.Fatalf("SaveConversationState failed: %v", err)
	}

	got, err := s.GetConversationState("contact-1")
	if err != nil {
		t.Fatalf("GetConversationState failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetConversationState returned nil")
	}
	if got.Stage != models.StageDiscovery {
		t.Errorf("Expected stage %q, got %q", models.StageDiscovery, got.Stage)
	}
	if got.ExchangeCount != 3 {
		t.Errorf("Expected exchange count 3, got %d", got.ExchangeCount)
	}

	// Unknown contact returns nil, not an error
	missing, err := s.GetConversationState("nobody")
	if err != nil {
		t.Fatalf("GetConversationState for unknown contact failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for unknown contact")
	}

	if err := s.DeleteConversationState("contact-1"); err != nil {
		t.Fatalf("DeleteConversationState failed: %v", err)
	}
	gone, _ := s.GetConversationState("contact-1")
	if gone != nil {
		t.Error("Expected nil after delete")
	}
}

func TestInMemoryStore_ListIdleConversationStates(t *testing.T) {
	s := NewInMemoryStore()

	old := models.NewConversationState("old-contact")
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	if err := s.SaveConversationState(*old); err != nil {
		t.Fatalf("SaveConversationState failed: %v", err)
	}

	fresh := models.NewConversationState("fresh-contact")
	fresh.UpdatedAt = time.Now()
	if err := s.SaveConversationState(*fresh); err != nil {
		t.Fatalf("SaveConversationState failed: %v", err)
	}

	idle, err := s.ListIdleConversationStates(time.Now().Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListIdleConversationStates failed: %v", err)
	}
	if len(idle) != 1 {
		t.Fatalf("Expected 1 idle state, got %d", len(idle))
	}
	if idle[0].ContactID != "old-contact" {
		t.Errorf("Expected 'old-contact', got %q", idle[0].ContactID)
	}
}

func TestInMemoryStore_Profile(t *testing.T) {
	s := NewInMemoryStore()

	p := models.NewQualificationProfile("contact-1")
	p.HasPolicy = models.BoolPtr(true)
	p.Carrier = "state farm"
	p.IsEmployerBased = models.BoolPtr(true)

	if err := s.SaveProfile(*p); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	got, err := s.GetProfile("contact-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetProfile returned nil")
	}
	if got.HasPolicy == nil || !*got.HasPolicy {
		t.Error("Expected HasPolicy true")
	}
	if got.Carrier != "state farm" {
		t.Errorf("Expected carrier 'state farm', got %q", got.Carrier)
	}

	missing, err := s.GetProfile("nobody")
	if err != nil {
		t.Fatalf("GetProfile for unknown contact failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for unknown contact")
	}
}

func TestInMemoryStore_AgentMessages(t *testing.T) {
	s := NewInMemoryStore()

	rec := models.AgentMessageRecord{
		ID:        "msg-1",
		ContactID: "contact-1",
		Seq:       1,
		Body:      "Who'd you go with?",
		Category:  models.PatternHasCoverage,
		Bank:      models.BankRecovery,
		SentAt:    time.Now(),
	}
	if err := s.SaveAgentMessage(rec); err != nil {
		t.Fatalf("SaveAgentMessage failed: %v", err)
	}

	pending, err := s.GetPendingAgentMessage("contact-1")
	if err != nil {
		t.Fatalf("GetPendingAgentMessage failed: %v", err)
	}
	if pending == nil {
		t.Fatal("Expected a pending record")
	}
	if pending.ID != "msg-1" {
		t.Errorf("Expected 'msg-1', got %q", pending.ID)
	}

	// Score it and write it back in place
	rec.Scored = true
	rec.Outcome = 2.0
	rec.Vibe = models.VibeInformation
	if err := s.SaveAgentMessage(rec); err != nil {
		t.Fatalf("SaveAgentMessage upsert failed: %v", err)
	}

	pending2, err := s.GetPendingAgentMessage("contact-1")
	if err != nil {
		t.Fatalf("GetPendingAgentMessage after scoring failed: %v", err)
	}
	if pending2 != nil {
		t.Error("Expected no pending record after scoring")
	}

	scored, err := s.GetScoredAgentMessages("contact-1")
	if err != nil {
		t.Fatalf("GetScoredAgentMessages failed: %v", err)
	}
	if len(scored) != 1 || scored[0].Outcome != 2.0 {
		t.Errorf("Expected 1 scored record with outcome 2.0, got %+v", scored)
	}
}

func TestInMemoryStore_GetRecentAgentMessages(t *testing.T) {
	s := NewInMemoryStore()

	for i := 1; i <= 7; i++ {
		rec := models.AgentMessageRecord{
			ID:        "msg-" + string(rune('a'+i-1)),
			ContactID: "contact-1",
			Seq:       i,
			Body:      "message",
			Scored:    true,
			SentAt:    time.Now().Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveAgentMessage(rec); err != nil {
			t.Fatalf("SaveAgentMessage %d failed: %v", i, err)
		}
	}

	recent, err := s.GetRecentAgentMessages("contact-1", 5)
	if err != nil {
		t.Fatalf("GetRecentAgentMessages failed: %v", err)
	}
	if len(recent) != 5 {
		t.Fatalf("Expected 5 records, got %d", len(recent))
	}
	// Newest first
	if recent[0].Seq != 7 {
		t.Errorf("Expected newest record first (seq 7), got seq %d", recent[0].Seq)
	}
	if recent[4].Seq != 3 {
		t.Errorf("Expected seq 3 last, got seq %d", recent[4].Seq)
	}
}

func TestInMemoryStore_Patterns(t *testing.T) {
	s := NewInMemoryStore()

	p := models.Pattern{
		ID:               "pat-1",
		Bank:             models.BankForward,
		Category:         models.PatternScheduling,
		TriggerText:      "when can we talk",
		ResponseTemplate: "I have 6:30 tonight or 10:15 tomorrow morning. Which works better?",
		Score:            4.0,
	}
	if err := s.SavePattern(p); err != nil {
		t.Fatalf("SavePattern failed: %v", err)
	}

	// Same (bank, category, trigger text) should update, not duplicate
	p.Score = 4.3
	p.TimesUsed = 1
	if err := s.SavePattern(p); err != nil {
		t.Fatalf("SavePattern upsert failed: %v", err)
	}

	patterns, err := s.GetPatterns()
	if err != nil {
		t.Fatalf("GetPatterns failed: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("Expected 1 pattern after upsert, got %d", len(patterns))
	}
	if patterns[0].Score != 4.3 {
		t.Errorf("Expected score 4.3 after upsert, got %f", patterns[0].Score)
	}

	if err := s.DeletePattern("pat-1"); err != nil {
		t.Fatalf("DeletePattern failed: %v", err)
	}
	patterns2, _ := s.GetPatterns()
	if len(patterns2) != 0 {
		t.Errorf("Expected 0 patterns after delete, got %d", len(patterns2))
	}
}

func TestPostgresStore(t *testing.T) {
	// This test requires a running PostgreSQL instance and the LeadPipe schema.
	// Set the DATABASE_URL environment variable for connection string.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	// Clean up table before test
	pgStore.db.Exec("DELETE FROM receipts")
	r := models.Receipt{To: "+123", Status: models.MessageStatusSent, Time: 1}
	err = pgStore.AddReceipt(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	receipts, err := pgStore.GetReceipts()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(receipts) != 1 || receipts[0].To != "+123" {
		t.Error("Receipt not stored or retrieved correctly in Postgres")
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
