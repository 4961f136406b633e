package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

const (
	// patternsPerCategory caps how many patterns a (bank, category) slot keeps.
	patternsPerCategory = 3
	// scoreDecay and outcomeWeight form the moving average a pattern's score
	// follows: new = old*scoreDecay + outcome*outcomeWeight.
	scoreDecay    = 0.7
	outcomeWeight = 0.3
	// successThreshold is the outcome at or above which a use counts as
	// successful.
	successThreshold = 1.0
	// appointmentPatternBonus is added to every pattern that touched a
	// conversation which ended in a booked appointment.
	appointmentPatternBonus = 0.5
)

// PatternStore is the slice of persistence the library needs.
type PatternStore interface {
	SavePattern(p models.Pattern) error
	DeletePattern(id string) error
	GetPatterns() ([]models.Pattern, error)
}

// seedPattern is one proven opener or response the library starts from.
type seedPattern struct {
	bank     models.PatternBank
	category models.PatternCategory
	trigger  string
	response string
	score    float64
}

var seedPatterns = []seedPattern{
	{models.BankRecovery, models.PatternNotInterested, "not interested", "Fair enough. Was it the timing or something else?", 2.0},
	{models.BankRecovery, models.PatternHasCoverage, "I already have insurance", "Got it. Does that follow you if you switch jobs or retire?", 2.5},
	{models.BankRecovery, models.PatternBadTiming, "bad time right now", "No worries. When would be better to circle back?", 1.5},
	{models.BankRecovery, models.PatternPriceObjection, "too expensive", "Totally get it. What would make it worth looking at?", 2.0},
	{models.BankRecovery, models.PatternUnknownSender, "who is this", "This is {agent_name}, following up on the life insurance info you requested. What originally got you looking?", 2.0},
	{models.BankRecovery, models.PatternGeneralObjection, "yeah im good", "No problem. Out of curiosity, what made you look into it originally?", 2.0},
	{models.BankForward, models.PatternEmployerCoverage, "I have coverage through work", "Got it. What's the plan if you switch jobs or retire and that doesn't follow you?", 3.0},
	{models.BankForward, models.PatternHasSpouse, "my wife keeps asking about it", "Smart. What's the main thing she's worried about if something happened?", 3.0},
	{models.BankForward, models.PatternHasKids, "I have two kids", "Got it. What would you want covered first, their education or keeping the house?", 3.0},
	{models.BankForward, models.PatternHealthConcerns, "I have diabetes", "Okay. Is that controlled with pills or insulin, and do you know your A1C?", 2.5},
	{models.BankForward, models.PatternAskingPrice, "how much does it cost", "Depends on a few things. What kind of coverage amount were you thinking, and are you in decent health?", 2.5},
	{models.BankForward, models.PatternScheduling, "when can we talk", "I have 6:30 tonight or 10:15 tomorrow morning. Which works better?", 4.0},
	{models.BankForward, models.PatternGeneralEngagement, "yeah I've been thinking about it", "What's the main thing on your mind about it?", 2.0},
}

// PatternLibrary holds every learned response pattern in memory and writes
// every mutation through to the store. Reads take the read lock so draft
// building across contacts never serializes.
type PatternLibrary struct {
	mu       sync.RWMutex
	store    PatternStore
	patterns map[string]*models.Pattern
}

// NewPatternLibrary loads patterns from the store, seeding the proven
// starter set when the store is empty.
func NewPatternLibrary(ps PatternStore) (*PatternLibrary, error) {
	existing, err := ps.GetPatterns()
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	lib := &PatternLibrary{
		store:    ps,
		patterns: make(map[string]*models.Pattern, len(existing)),
	}
	for i := range existing {
		p := existing[i]
		lib.patterns[p.ID] = &p
	}
	if len(lib.patterns) == 0 {
		if err := lib.seed(); err != nil {
			return nil, err
		}
	}
	slog.Info("PatternLibrary.New: loaded", "patterns", len(lib.patterns))
	return lib, nil
}

func (l *PatternLibrary) seed() error {
	now := time.Now()
	for _, s := range seedPatterns {
		p := models.Pattern{
			ID:               uuid.NewString(),
			Bank:             s.bank,
			Category:         s.category,
			TriggerText:      s.trigger,
			ResponseTemplate: s.response,
			Score:            s.score,
			TimesUsed:        5,
			TimesSuccessful:  3,
			UpdatedAt:        now,
		}
		if err := l.store.SavePattern(p); err != nil {
			return fmt.Errorf("seed pattern %s/%s: %w", s.bank, s.category, err)
		}
		l.patterns[p.ID] = &p
	}
	slog.Info("PatternLibrary.seed: initialized seed patterns", "count", len(seedPatterns))
	return nil
}

// Get returns a copy of the pattern with the given ID.
func (l *PatternLibrary) Get(id string) (models.Pattern, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.patterns[id]
	if !ok {
		return models.Pattern{}, false
	}
	return *p, true
}

// Best returns up to patternsPerCategory patterns for the slot, strongest
// first. An empty slot falls back to the bank's strongest patterns overall so
// a novel trigger still gets proven material.
func (l *PatternLibrary) Best(bank models.PatternBank, category models.PatternCategory) []models.Pattern {
	l.mu.RLock()
	defer l.mu.RUnlock()
	matched := l.collect(func(p *models.Pattern) bool {
		return p.Bank == bank && p.Category == category
	})
	if len(matched) == 0 {
		matched = l.collect(func(p *models.Pattern) bool {
			return p.Bank == bank
		})
	}
	if len(matched) > patternsPerCategory {
		matched = matched[:patternsPerCategory]
	}
	return matched
}

// All returns every pattern in the library, strongest first.
func (l *PatternLibrary) All() []models.Pattern {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collect(func(*models.Pattern) bool { return true })
}

// collect copies matching patterns sorted by score descending. Callers hold
// at least the read lock.
func (l *PatternLibrary) collect(keep func(*models.Pattern) bool) []models.Pattern {
	var out []models.Pattern
	for _, p := range l.patterns {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RecordOutcome folds a scored outcome into the pattern's moving average.
// Unknown IDs are ignored; the pattern may have been evicted since use.
func (l *PatternLibrary) RecordOutcome(patternID string, outcome float64) error {
	if patternID == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.patterns[patternID]
	if !ok {
		return nil
	}
	p.TimesUsed++
	if outcome >= successThreshold {
		p.TimesSuccessful++
	}
	p.Score = p.Score*scoreDecay + outcome*outcomeWeight
	p.UpdatedAt = time.Now()
	if err := l.store.SavePattern(*p); err != nil {
		return fmt.Errorf("persist pattern outcome: %w", err)
	}
	slog.Debug("PatternLibrary.RecordOutcome: score updated", "patternID", patternID, "outcome", outcome, "score", p.Score)
	return nil
}

// SaveNew remembers a response that earned a good outcome. A duplicate
// (category, response) keeps the higher score. A full slot only admits the
// newcomer when it beats the weakest incumbent, which gets evicted.
func (l *PatternLibrary) SaveNew(bank models.PatternBank, category models.PatternCategory, triggerText, response string, score float64) (models.Pattern, error) {
	if len(triggerText) > 200 {
		triggerText = triggerText[:200]
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.patterns {
		if p.Category == category && p.ResponseTemplate == response {
			if score > p.Score {
				p.Score = score
			}
			p.UpdatedAt = time.Now()
			if err := l.store.SavePattern(*p); err != nil {
				return models.Pattern{}, fmt.Errorf("refresh existing pattern: %w", err)
			}
			return *p, nil
		}
	}

	slot := l.collect(func(p *models.Pattern) bool {
		return p.Bank == bank && p.Category == category
	})
	if len(slot) >= patternsPerCategory {
		weakest := slot[len(slot)-1]
		if score <= weakest.Score {
			return weakest, nil
		}
		if err := l.store.DeletePattern(weakest.ID); err != nil {
			return models.Pattern{}, fmt.Errorf("evict pattern %s: %w", weakest.ID, err)
		}
		delete(l.patterns, weakest.ID)
		slog.Info("PatternLibrary.SaveNew: evicted weakest pattern", "bank", bank, "category", category, "evictedScore", weakest.Score)
	}

	p := models.Pattern{
		ID:               uuid.NewString(),
		Bank:             bank,
		Category:         category,
		TriggerText:      triggerText,
		ResponseTemplate: response,
		Score:            score,
		TimesUsed:        1,
		UpdatedAt:        time.Now(),
	}
	if score >= successThreshold {
		p.TimesSuccessful = 1
	}
	if err := l.store.SavePattern(p); err != nil {
		return models.Pattern{}, fmt.Errorf("save new pattern: %w", err)
	}
	l.patterns[p.ID] = &p
	slog.Info("PatternLibrary.SaveNew: saved", "bank", bank, "category", category, "score", score)
	return p, nil
}

// ApplyBookingBonus rewards every pattern that touched a conversation which
// booked. Unknown IDs are skipped.
func (l *PatternLibrary) ApplyBookingBonus(patternIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range patternIDs {
		p, ok := l.patterns[id]
		if !ok {
			continue
		}
		p.Score += appointmentPatternBonus
		p.UpdatedAt = time.Now()
		if err := l.store.SavePattern(*p); err != nil {
			return fmt.Errorf("persist booking bonus for %s: %w", id, err)
		}
		slog.Info("PatternLibrary.ApplyBookingBonus: boosted", "patternID", id, "score", p.Score)
	}
	return nil
}

// FormatForPrompt renders patterns as proven-response guidance for the
// drafter. Empty input renders nothing.
func FormatForPrompt(patterns []models.Pattern) string {
	if len(patterns) == 0 {
		return ""
	}
	lines := []string{"=== PROVEN RESPONSES (these have worked before) ==="}
	for i, p := range patterns {
		successRate := 0.0
		if p.TimesUsed > 0 {
			successRate = float64(p.TimesSuccessful) / float64(p.TimesUsed) * 100
		}
		trigger := p.TriggerText
		if len(trigger) > 50 {
			trigger = trigger[:50]
		}
		lines = append(lines,
			fmt.Sprintf("%d. When lead said something like: \"%s\"", i+1, trigger),
			fmt.Sprintf("   This worked (score %.1f, %.0f%% success): \"%s\"", p.Score, successRate, p.ResponseTemplate),
		)
	}
	lines = append(lines, "=== Adapt these to fit the current situation, don't copy exactly ===\n")
	return strings.Join(lines, "\n")
}

// FormatBurnContext renders ghost history for prompt injection. Empty when
// the contact has never gone quiet on us.
func FormatBurnContext(ghostedCount int, lastUnanswered string) string {
	if ghostedCount == 0 {
		return ""
	}
	lines := []string{
		"\n=== IMPORTANT: PREVIOUS ATTEMPTS FAILED ===",
		fmt.Sprintf("This lead has gone quiet %d time(s).", ghostedCount),
	}
	if lastUnanswered != "" {
		if len(lastUnanswered) > 100 {
			lastUnanswered = lastUnanswered[:100]
		}
		lines = append(lines, fmt.Sprintf("Last message that got no reply: \"%s...\"", lastUnanswered))
	}
	lines = append(lines,
		"Try a completely different approach. Be more curious, less salesy.",
		"=== END BURN CONTEXT ===\n",
	)
	return strings.Join(lines, "\n")
}
