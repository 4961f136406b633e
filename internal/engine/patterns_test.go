package engine

import (
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// fakePatternStore keeps patterns in a map and counts writes.
type fakePatternStore struct {
	mu      sync.Mutex
	initial []models.Pattern
	rows    map[string]models.Pattern
	saves   int
	deletes int
}

func newFakePatternStore(initial ...models.Pattern) *fakePatternStore {
	return &fakePatternStore{
		initial: initial,
		rows:    make(map[string]models.Pattern),
	}
}

func (f *fakePatternStore) SavePattern(p models.Pattern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[p.ID] = p
	f.saves++
	return nil
}

func (f *fakePatternStore) DeletePattern(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	f.deletes++
	return nil
}

func (f *fakePatternStore) GetPatterns() ([]models.Pattern, error) {
	return f.initial, nil
}

func bestOne(t *testing.T, lib *PatternLibrary, bank models.PatternBank, category models.PatternCategory) models.Pattern {
	t.Helper()
	got := lib.Best(bank, category)
	if len(got) == 0 {
		t.Fatalf("no patterns for %s/%s", bank, category)
	}
	return got[0]
}

func TestNewPatternLibrary_SeedsEmptyStore(t *testing.T) {
	fake := newFakePatternStore()
	lib, err := NewPatternLibrary(fake)
	if err != nil {
		t.Fatalf("NewPatternLibrary: %v", err)
	}
	if fake.saves != len(seedPatterns) {
		t.Errorf("expected %d seed saves, got %d", len(seedPatterns), fake.saves)
	}
	p := bestOne(t, lib, models.BankForward, models.PatternScheduling)
	if p.Score != 4.0 {
		t.Errorf("scheduling seed score = %v, want 4.0", p.Score)
	}
	if p.TimesUsed != 5 || p.TimesSuccessful != 3 {
		t.Errorf("seed usage counts = %d/%d, want 5/3", p.TimesSuccessful, p.TimesUsed)
	}
}

func TestNewPatternLibrary_LoadsExisting(t *testing.T) {
	existing := models.Pattern{
		ID: "p1", Bank: models.BankForward, Category: models.PatternScheduling,
		TriggerText: "when", ResponseTemplate: "Tonight or tomorrow?", Score: 1.0,
	}
	fake := newFakePatternStore(existing)
	lib, err := NewPatternLibrary(fake)
	if err != nil {
		t.Fatalf("NewPatternLibrary: %v", err)
	}
	if fake.saves != 0 {
		t.Errorf("non-empty store must not be reseeded, got %d saves", fake.saves)
	}
	p := bestOne(t, lib, models.BankForward, models.PatternScheduling)
	if p.ID != "p1" {
		t.Errorf("expected loaded pattern, got %q", p.ID)
	}
}

func TestBest_OrdersByScoreAndCaps(t *testing.T) {
	fake := newFakePatternStore(
		models.Pattern{ID: "a", Bank: models.BankForward, Category: models.PatternScheduling, ResponseTemplate: "a", Score: 1.0},
		models.Pattern{ID: "b", Bank: models.BankForward, Category: models.PatternScheduling, ResponseTemplate: "b", Score: 3.0},
		models.Pattern{ID: "c", Bank: models.BankForward, Category: models.PatternScheduling, ResponseTemplate: "c", Score: 2.0},
		models.Pattern{ID: "d", Bank: models.BankForward, Category: models.PatternScheduling, ResponseTemplate: "d", Score: 0.5},
	)
	lib, err := NewPatternLibrary(fake)
	if err != nil {
		t.Fatalf("NewPatternLibrary: %v", err)
	}
	got := lib.Best(models.BankForward, models.PatternScheduling)
	if len(got) != 3 {
		t.Fatalf("expected 3 patterns, got %d", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "c" || got[2].ID != "a" {
		t.Errorf("wrong order: %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestBest_FallsBackToBank(t *testing.T) {
	lib, err := NewPatternLibrary(newFakePatternStore())
	if err != nil {
		t.Fatalf("NewPatternLibrary: %v", err)
	}
	got := lib.Best(models.BankRecovery, models.PatternScheduling)
	if len(got) != 3 {
		t.Fatalf("expected bank-wide fallback of 3, got %d", len(got))
	}
	for _, p := range got {
		if p.Bank != models.BankRecovery {
			t.Errorf("fallback crossed banks: %s/%s", p.Bank, p.Category)
		}
	}
	if got[0].Category != models.PatternHasCoverage {
		t.Errorf("strongest recovery pattern should lead, got %s", got[0].Category)
	}
}

func TestRecordOutcome_MovingAverage(t *testing.T) {
	lib, err := NewPatternLibrary(newFakePatternStore())
	if err != nil {
		t.Fatalf("NewPatternLibrary: %v", err)
	}
	p := bestOne(t, lib, models.BankRecovery, models.PatternNotInterested)
	if err := lib.RecordOutcome(p.ID, 4.0); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	got, ok := lib.Get(p.ID)
	if !ok {
		t.Fatal("pattern disappeared")
	}
	// 2.0*0.7 + 4.0*0.3 = 2.6
	if got.Score < 2.59 || got.Score > 2.61 {
		t.Errorf("score = %v, want 2.6", got.Score)
	}
	if got.TimesUsed != 6 || got.TimesSuccessful != 4 {
		t.Errorf("usage counts = %d/%d, want 6 used 4 successful", got.TimesUsed, got.TimesSuccessful)
	}

	if err := lib.RecordOutcome(p.ID, 0.0); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	got, _ = lib.Get(p.ID)
	// 2.6*0.7 = 1.82
	if got.Score < 1.81 || got.Score > 1.83 {
		t.Errorf("score = %v, want 1.82", got.Score)
	}
	if got.TimesSuccessful != 4 {
		t.Errorf("zero outcome must not count as success, got %d", got.TimesSuccessful)
	}
}

func TestRecordOutcome_UnknownID(t *testing.T) {
	fake := newFakePatternStore()
	lib, err := NewPatternLibrary(fake)
	if err != nil {
		t.Fatalf("NewPatternLibrary: %v", err)
	}
	before := fake.saves
	if err := lib.RecordOutcome("gone", 3.0); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if fake.saves != before {
		t.Error("unknown pattern must not write")
	}
}

func TestSaveNew_EvictsWeakest(t *testing.T) {
	fake := newFakePatternStore()
	lib, err := NewPatternLibrary(fake)
	if err != nil {
		t.Fatalf("NewPatternLibrary: %v", err)
	}
	// Scheduling slot starts with the 4.0 seed; fill it.
	if _, err := lib.SaveNew(models.BankForward, models.PatternScheduling, "when", "Does Thursday work?", 1.0); err != nil {
		t.Fatalf("SaveNew: %v", err)
	}
	if _, err := lib.SaveNew(models.BankForward, models.PatternScheduling, "when", "Morning or evening?", 1.1); err != nil {
		t.Fatalf("SaveNew: %v", err)
	}

	if _, err := lib.SaveNew(models.BankForward, models.PatternScheduling, "call me", "How's 6 tonight?", 2.0); err != nil {
		t.Fatalf("SaveNew: %v", err)
	}
	got := lib.Best(models.BankForward, models.PatternScheduling)
	if len(got) != 3 {
		t.Fatalf("slot should stay at 3, got %d", len(got))
	}
	for _, p := range got {
		if p.ResponseTemplate == "Does Thursday work?" {
			t.Error("weakest pattern should have been evicted")
		}
	}
	if fake.deletes != 1 {
		t.Errorf("expected 1 delete, got %d", fake.deletes)
	}

	// A weaker newcomer is discarded, slot unchanged.
	kept, err := lib.SaveNew(models.BankForward, models.PatternScheduling, "call", "Maybe later this week?", 0.5)
	if err != nil {
		t.Fatalf("SaveNew: %v", err)
	}
	if kept.ResponseTemplate == "Maybe later this week?" {
		t.Error("weak newcomer should not have been admitted")
	}
	if len(lib.Best(models.BankForward, models.PatternScheduling)) != 3 {
		t.Error("slot size changed")
	}
}

func TestSaveNew_DuplicateKeepsHigherScore(t *testing.T) {
	lib, err := NewPatternLibrary(newFakePatternStore())
	if err != nil {
		t.Fatalf("NewPatternLibrary: %v", err)
	}
	first, err := lib.SaveNew(models.BankForward, models.PatternScheduling, "when", "How about 6?", 1.5)
	if err != nil {
		t.Fatalf("SaveNew: %v", err)
	}
	again, err := lib.SaveNew(models.BankForward, models.PatternScheduling, "when works", "How about 6?", 2.5)
	if err != nil {
		t.Fatalf("SaveNew: %v", err)
	}
	if again.ID != first.ID {
		t.Error("duplicate response should reuse the existing pattern")
	}
	if again.Score != 2.5 {
		t.Errorf("duplicate should keep the higher score, got %v", again.Score)
	}
	lower, err := lib.SaveNew(models.BankForward, models.PatternScheduling, "when", "How about 6?", 0.2)
	if err != nil {
		t.Fatalf("SaveNew: %v", err)
	}
	if lower.Score != 2.5 {
		t.Errorf("lower rescore must not downgrade, got %v", lower.Score)
	}
}

func TestPatternLibraryApplyBookingBonus(t *testing.T) {
	lib, err := NewPatternLibrary(newFakePatternStore())
	if err != nil {
		t.Fatalf("NewPatternLibrary: %v", err)
	}
	p := bestOne(t, lib, models.BankForward, models.PatternScheduling)
	if err := lib.ApplyBookingBonus([]string{p.ID, "unknown"}); err != nil {
		t.Fatalf("ApplyBookingBonus: %v", err)
	}
	got, _ := lib.Get(p.ID)
	if got.Score != 4.5 {
		t.Errorf("score = %v, want 4.5", got.Score)
	}
}

func TestFormatForPrompt(t *testing.T) {
	if got := FormatForPrompt(nil); got != "" {
		t.Errorf("empty patterns should render nothing, got %q", got)
	}
	out := FormatForPrompt([]models.Pattern{{
		TriggerText:      "not interested",
		ResponseTemplate: "Fair enough. Was it the timing or something else?",
		Score:            2.0,
		TimesUsed:        5,
		TimesSuccessful:  3,
	}})
	if !strings.Contains(out, "PROVEN RESPONSES") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "60% success") {
		t.Errorf("missing success rate: %q", out)
	}
	if !strings.Contains(out, "don't copy exactly") {
		t.Errorf("missing adapt footer: %q", out)
	}
}

func TestFormatBurnContext(t *testing.T) {
	if got := FormatBurnContext(0, ""); got != "" {
		t.Errorf("no ghosts should render nothing, got %q", got)
	}
	out := FormatBurnContext(2, "Quick question about your coverage")
	if !strings.Contains(out, "gone quiet 2 time(s)") {
		t.Errorf("missing ghost count: %q", out)
	}
	if !strings.Contains(out, "Quick question about your coverage") {
		t.Errorf("missing unanswered message: %q", out)
	}
}
