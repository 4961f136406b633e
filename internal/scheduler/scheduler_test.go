package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// stubReEngager records which contacts were nudged and returns canned errors.
type stubReEngager struct {
	calls []string
	errs  map[string]error
}

func (s *stubReEngager) ReEngage(ctx context.Context, contactID string) (models.Reply, error) {
	s.calls = append(s.calls, contactID)
	if err, ok := s.errs[contactID]; ok {
		return models.Reply{}, err
	}
	return models.Reply{ContactID: contactID, Text: "quick check-in", Source: models.ReplySourcePlaybook}, nil
}

func seedState(t *testing.T, st *store.InMemoryStore, contactID string, updatedAt time.Time, mutate func(*models.ConversationState)) {
	t.Helper()
	state := models.NewConversationState(contactID)
	state.UpdatedAt = updatedAt
	if mutate != nil {
		mutate(state)
	}
	if err := st.SaveConversationState(*state); err != nil {
		t.Fatalf("Failed to seed state for %s: %v", contactID, err)
	}
}

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler(store.NewInMemoryStore(), nil)
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("not a cron expression", func() {}); err == nil {
		t.Error("Expected error adding invalid cron expression, got nil")
	}
}

func TestSchedulerDefaults(t *testing.T) {
	t.Setenv("LEADPIPE_REENGAGE_CRON", "")
	t.Setenv("LEADPIPE_REENGAGE_AFTER", "")
	s := NewScheduler(store.NewInMemoryStore(), nil)
	if s.reengageCron != DefaultReengageCron {
		t.Errorf("Expected default cron %q, got %q", DefaultReengageCron, s.reengageCron)
	}
	if s.reengageAfter != DefaultReengageAfter {
		t.Errorf("Expected default idle threshold %v, got %v", DefaultReengageAfter, s.reengageAfter)
	}
	if s.sweepLimit != DefaultSweepLimit {
		t.Errorf("Expected default sweep limit %d, got %d", DefaultSweepLimit, s.sweepLimit)
	}
}

func TestSchedulerEnvFallback(t *testing.T) {
	t.Setenv("LEADPIPE_REENGAGE_CRON", "30 */2 * * *")
	t.Setenv("LEADPIPE_REENGAGE_AFTER", "12")
	s := NewScheduler(store.NewInMemoryStore(), nil)
	if s.reengageCron != "30 */2 * * *" {
		t.Errorf("Expected cron from environment, got %q", s.reengageCron)
	}
	if s.reengageAfter != 12*time.Hour {
		t.Errorf("Expected 12h idle threshold from environment, got %v", s.reengageAfter)
	}
}

func TestSchedulerEnvFallbackInvalidHours(t *testing.T) {
	t.Setenv("LEADPIPE_REENGAGE_AFTER", "soon")
	s := NewScheduler(store.NewInMemoryStore(), nil)
	if s.reengageAfter != DefaultReengageAfter {
		t.Errorf("Expected default idle threshold for invalid hours, got %v", s.reengageAfter)
	}
}

func TestSchedulerOptionsOverrideEnv(t *testing.T) {
	t.Setenv("LEADPIPE_REENGAGE_CRON", "30 */2 * * *")
	t.Setenv("LEADPIPE_REENGAGE_AFTER", "12")
	s := NewScheduler(store.NewInMemoryStore(), nil,
		WithReengageCron("0 9 * * *"),
		WithReengageAfter(72*time.Hour),
		WithSweepLimit(5))
	if s.reengageCron != "0 9 * * *" {
		t.Errorf("Expected option cron to win over environment, got %q", s.reengageCron)
	}
	if s.reengageAfter != 72*time.Hour {
		t.Errorf("Expected option idle threshold to win over environment, got %v", s.reengageAfter)
	}
	if s.sweepLimit != 5 {
		t.Errorf("Expected sweep limit 5, got %d", s.sweepLimit)
	}
}

func TestStartRejectsInvalidCron(t *testing.T) {
	s := NewScheduler(store.NewInMemoryStore(), nil, WithReengageCron("every other tuesday"))
	if err := s.Start(); err == nil {
		t.Error("Expected Start to fail on invalid cron expression, got nil")
		s.Stop()
	}
}

func TestSweepNudgesOnlyIdleConversations(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now()
	seedState(t, st, "idle-1", now.Add(-72*time.Hour), nil)
	seedState(t, st, "fresh-1", now, nil)
	seedState(t, st, "frozen-1", now.Add(-72*time.Hour), func(cs *models.ConversationState) { cs.Frozen = true })
	seedState(t, st, "booked-1", now.Add(-72*time.Hour), func(cs *models.ConversationState) { cs.Booked = true })

	engine := &stubReEngager{}
	s := NewScheduler(st, engine, WithReengageAfter(48*time.Hour))
	s.Sweep()

	if len(engine.calls) != 1 || engine.calls[0] != "idle-1" {
		t.Errorf("Expected exactly idle-1 to be nudged, got %v", engine.calls)
	}
}

func TestSweepHonorsLimit(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now()
	for i := 0; i < 5; i++ {
		seedState(t, st, fmt.Sprintf("idle-%d", i), now.Add(-72*time.Hour), nil)
	}

	engine := &stubReEngager{}
	s := NewScheduler(st, engine, WithReengageAfter(48*time.Hour), WithSweepLimit(2))
	s.Sweep()

	if len(engine.calls) != 2 {
		t.Errorf("Expected sweep to stop at limit 2, got %d nudges", len(engine.calls))
	}
}

func TestSweepTreatsEngineDeclinesAsSkips(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now()
	seedState(t, st, "declined", now.Add(-72*time.Hour), nil)
	seedState(t, st, "broken", now.Add(-71*time.Hour), nil)
	seedState(t, st, "ok", now.Add(-70*time.Hour), nil)

	engine := &stubReEngager{errs: map[string]error{
		"declined": fmt.Errorf("re-engage: %w", models.ErrNoMatch),
		"broken":   fmt.Errorf("persist failed"),
	}}
	s := NewScheduler(st, engine, WithReengageAfter(48*time.Hour))
	s.Sweep()

	// All three contacts are attempted: a decline or a failure on one must
	// not stop the sweep from reaching the rest.
	if len(engine.calls) != 3 {
		t.Errorf("Expected all 3 idle contacts attempted, got %v", engine.calls)
	}
}
