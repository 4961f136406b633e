package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// Every inbound message is a verdict on the previous agent message. The
// scorer carries that verdict onto the pending record, feeds the EMA of the
// pattern it came from, and promotes unbanked replies that earned a strong
// outcome into the library. Silence gets the same treatment through
// ScoreGhosted once the watch window lapses.

const (
	// promoteOutcome is the outcome at which an ad-hoc reply earns its own
	// library slot. Information-grade or better.
	promoteOutcome = 2.0

	// bookingRecordBonus is applied retroactively to every scored record of
	// a contact once an appointment books.
	bookingRecordBonus = 2.0
)

// Scorer turns lead replies into learning signal for prior agent messages.
type Scorer struct {
	store   store.Store
	library *PatternLibrary
}

// NewScorer creates a scorer writing through the given store and library.
func NewScorer(st store.Store, library *PatternLibrary) *Scorer {
	return &Scorer{store: st, library: library}
}

// ScoreInbound classifies the lead's message and applies the outcome to the
// contact's pending agent message, if one exists. Returns the vibe and
// outcome either way; scored is false when nothing was pending (first
// message, or the previous record already scored as ghosted).
func (s *Scorer) ScoreInbound(contactID, message string) (vibe models.Vibe, outcome float64, scored bool) {
	vibe = ClassifyVibe(message)
	outcome = OutcomeScore(vibe, message)

	pending, err := s.store.GetPendingAgentMessage(contactID)
	if err != nil {
		slog.Error("Scorer.ScoreInbound: pending lookup failed", "contactID", contactID, "error", err)
		return vibe, outcome, false
	}
	if pending == nil {
		return vibe, outcome, false
	}

	pending.Scored = true
	pending.Outcome = outcome
	pending.Vibe = vibe
	if err := s.store.SaveAgentMessage(*pending); err != nil {
		slog.Error("Scorer.ScoreInbound: persist score failed", "contactID", contactID, "error", err)
		return vibe, outcome, false
	}
	slog.Debug("Scorer.ScoreInbound: scored pending record",
		"contactID", contactID, "vibe", vibe, "outcome", outcome, "seq", pending.Seq)

	s.settlePattern(pending, vibe, outcome)
	return vibe, outcome, true
}

// ScoreGhosted applies the ghost outcome to the contact's pending record.
// Returns false when nothing was pending, meaning the lead replied before
// the watch fired and the record already scored.
func (s *Scorer) ScoreGhosted(contactID string) (bool, error) {
	pending, err := s.store.GetPendingAgentMessage(contactID)
	if err != nil {
		return false, fmt.Errorf("pending lookup: %w", err)
	}
	if pending == nil {
		return false, nil
	}

	outcome := OutcomeScore(models.VibeGhosted, "")
	pending.Scored = true
	pending.Outcome = outcome
	pending.Vibe = models.VibeGhosted
	if err := s.store.SaveAgentMessage(*pending); err != nil {
		return false, fmt.Errorf("persist ghost score: %w", err)
	}
	slog.Info("Scorer.ScoreGhosted: pending record scored as ghosted",
		"contactID", contactID, "seq", pending.Seq)

	if pending.PatternID != "" {
		if err := s.library.RecordOutcome(pending.PatternID, outcome); err != nil {
			slog.Error("Scorer.ScoreGhosted: pattern burn failed",
				"patternID", pending.PatternID, "error", err)
		}
	}
	return true, nil
}

// ApplyBookingBonus rewards the whole path that led to a booking: every
// scored record for the contact gains a fixed bonus, and each pattern those
// records drew from gets the library's booking boost.
func (s *Scorer) ApplyBookingBonus(contactID string) error {
	recs, err := s.store.GetScoredAgentMessages(contactID)
	if err != nil {
		return fmt.Errorf("scored records lookup: %w", err)
	}

	var patternIDs []string
	seen := make(map[string]bool)
	for i := range recs {
		recs[i].Outcome += bookingRecordBonus
		if err := s.store.SaveAgentMessage(recs[i]); err != nil {
			return fmt.Errorf("persist booking bonus for record %s: %w", recs[i].ID, err)
		}
		if id := recs[i].PatternID; id != "" && !seen[id] {
			seen[id] = true
			patternIDs = append(patternIDs, id)
		}
	}
	slog.Info("Scorer.ApplyBookingBonus: records boosted",
		"contactID", contactID, "records", len(recs), "patterns", len(patternIDs))

	if len(patternIDs) == 0 {
		return nil
	}
	return s.library.ApplyBookingBonus(patternIDs)
}

// GhostContext summarizes a contact's ghost history for prompt injection.
func (s *Scorer) GhostContext(contactID string) (ghostedCount int, lastUnanswered string) {
	recs, err := s.store.GetScoredAgentMessages(contactID)
	if err != nil {
		slog.Error("Scorer.GhostContext: lookup failed", "contactID", contactID, "error", err)
		return 0, ""
	}
	var latest time.Time
	for _, rec := range recs {
		if rec.Vibe != models.VibeGhosted {
			continue
		}
		ghostedCount++
		if rec.SentAt.After(latest) {
			latest = rec.SentAt
			lastUnanswered = rec.Body
		}
	}
	return ghostedCount, lastUnanswered
}

// settlePattern routes the outcome into the library: pattern-backed replies
// update their pattern's EMA in place, ad-hoc replies that scored well are
// promoted into the bank they were drawn for, so the next lead in the same
// situation can find them.
func (s *Scorer) settlePattern(rec *models.AgentMessageRecord, vibe models.Vibe, outcome float64) {
	if rec.PatternID != "" {
		if err := s.library.RecordOutcome(rec.PatternID, outcome); err != nil {
			slog.Error("Scorer.settlePattern: outcome update failed",
				"patternID", rec.PatternID, "error", err)
		}
		return
	}
	if outcome < promoteOutcome || rec.Body == "" {
		return
	}
	bank := rec.Bank
	if bank == "" {
		bank = BankFor(vibe)
	}
	p, err := s.library.SaveNew(bank, rec.Category, rec.TriggerText, rec.Body, outcome)
	if err != nil {
		slog.Error("Scorer.settlePattern: promotion failed",
			"contactID", rec.ContactID, "error", err)
		return
	}
	rec.PatternID = p.ID
	if err := s.store.SaveAgentMessage(*rec); err != nil {
		slog.Error("Scorer.settlePattern: persist promoted link failed",
			"recordID", rec.ID, "error", err)
	}
}
