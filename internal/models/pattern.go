// Package models defines pattern learning and scoring structures.
package models

import "time"

// Vibe classifies the mood of a lead reply. Every reply gets exactly one.
type Vibe string

const (
	// VibeGhosted means no reply arrived inside the ghost window.
	VibeGhosted Vibe = "ghosted"
	// VibeDismissive means the lead pushed back hard or asked to stop.
	VibeDismissive Vibe = "dismissive"
	// VibeObjection means a short brush-off without information.
	VibeObjection Vibe = "objection"
	// VibeNeutral means a reply that signals nothing either way.
	VibeNeutral Vibe = "neutral"
	// VibeInformation means the lead volunteered facts about their situation.
	VibeInformation Vibe = "information"
	// VibeDirection means the lead asked a question or steered the conversation.
	VibeDirection Vibe = "direction"
	// VibeNeed means the lead expressed an explicit want or concern.
	VibeNeed Vibe = "need"
)

// PatternBank separates patterns that advance a conversation from patterns
// that recover one.
type PatternBank string

const (
	// BankForward holds patterns that move an engaged lead toward booking.
	BankForward PatternBank = "forward"
	// BankRecovery holds patterns that recover objecting or dismissive leads.
	BankRecovery PatternBank = "recovery"
)

// TriggerCategory names one row of the trigger map. Order of evaluation is
// carried by the trigger table, not by these values.
type TriggerCategory string

const (
	TriggerAlreadyCovered   TriggerCategory = "already_covered"
	TriggerNotInterested    TriggerCategory = "not_interested"
	TriggerTooExpensive     TriggerCategory = "too_expensive"
	TriggerNeedToThink      TriggerCategory = "need_to_think"
	TriggerGuaranteedIssue  TriggerCategory = "guaranteed_issue"
	TriggerEmployerCoverage TriggerCategory = "employer_coverage"
	TriggerTermPolicy       TriggerCategory = "term_policy"
	TriggerPermanentPolicy  TriggerCategory = "permanent_policy"
	TriggerHealthCondition  TriggerCategory = "health_condition"
	TriggerSpouseDecision   TriggerCategory = "spouse_decision"
	TriggerBuyingSignal     TriggerCategory = "buying_signal"
	TriggerPriceQuestion    TriggerCategory = "price_question"
	TriggerScheduling       TriggerCategory = "scheduling"
)

// PatternCategory buckets a lead reply for pattern lookup and outcome
// learning. Recovery categories cover objecting and dismissive replies;
// the rest cover engaged ones.
type PatternCategory string

const (
	PatternNotInterested     PatternCategory = "not_interested"
	PatternBadTiming         PatternCategory = "bad_timing"
	PatternHasCoverage       PatternCategory = "has_coverage"
	PatternPriceObjection    PatternCategory = "price_objection"
	PatternUnknownSender     PatternCategory = "unknown_sender"
	PatternGeneralObjection  PatternCategory = "general_objection"
	PatternEmployerCoverage  PatternCategory = "employer_coverage"
	PatternHasSpouse         PatternCategory = "has_spouse"
	PatternHasKids           PatternCategory = "has_kids"
	PatternHealthConcerns    PatternCategory = "health_concerns"
	PatternAskingPrice       PatternCategory = "asking_price"
	PatternScheduling        PatternCategory = "scheduling"
	PatternGeneralEngagement PatternCategory = "general_engagement"
)

// Theme names one closed question theme tracked by the relevancy rules.
type Theme string

const (
	ThemeRetirementPortability Theme = "retirement_portability"
	ThemePolicyType            Theme = "policy_type"
	ThemeLivingBenefits        Theme = "living_benefits"
	ThemeCoverageGoal          Theme = "coverage_goal"
	ThemeOtherPolicies         Theme = "other_policies"
	ThemeMotivation            Theme = "motivation"
	ThemeFamily                Theme = "family"
	ThemeHealth                Theme = "health"
	ThemeCoverageAmount        Theme = "coverage_amount"
)

// AllThemes returns the closed theme set in canonical order.
func AllThemes() []Theme {
	return []Theme{
		ThemeRetirementPortability,
		ThemePolicyType,
		ThemeLivingBenefits,
		ThemeCoverageGoal,
		ThemeOtherPolicies,
		ThemeMotivation,
		ThemeFamily,
		ThemeHealth,
		ThemeCoverageAmount,
	}
}

// Pattern is a proven message shape ranked inside a pattern bank. The
// library keeps the top few per (bank, category) by score.
type Pattern struct {
	ID               string          `json:"id"`
	Bank             PatternBank     `json:"bank"`
	Category         PatternCategory `json:"category"`
	TriggerText      string          `json:"trigger_text"`
	ResponseTemplate string          `json:"response_template"`
	Score            float64         `json:"score"`
	TimesUsed        int             `json:"times_used"`
	TimesSuccessful  int             `json:"times_successful"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// AgentMessageRecord is one outbound agent message with a deferred outcome.
// Exactly one unscored record per contact is pending at a time; the next
// lead reply (or the ghost window expiring) fills in the score. TriggerText
// is the lead message this reply answered; successful replies get promoted
// into the pattern library keyed by it. PatternID links back to the library
// pattern the reply was built from, when there was one.
type AgentMessageRecord struct {
	ID          string          `json:"id"`
	ContactID   string          `json:"contact_id"`
	Seq         int             `json:"seq"`
	Body        string          `json:"body"`
	TriggerText string          `json:"trigger_text,omitempty"`
	Themes      []Theme         `json:"themes,omitempty"`
	Category    PatternCategory `json:"category,omitempty"`
	Bank        PatternBank     `json:"bank,omitempty"`
	PatternID   string          `json:"pattern_id,omitempty"`
	Scored      bool            `json:"scored"`
	Outcome     float64         `json:"outcome,omitempty"`
	Vibe        Vibe            `json:"vibe,omitempty"`
	SentAt      time.Time       `json:"sent_at"`
}
