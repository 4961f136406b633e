// Package models defines conversation state structures for LeadPipe.
package models

import "time"

// Stage identifies where a conversation sits in the sales arc.
type Stage string

const (
	// StageInitialOutreach is the cold-open stage before the lead engages.
	StageInitialOutreach Stage = "INITIAL_OUTREACH"
	// StageDiscovery covers family, coverage source, and gap questions.
	StageDiscovery Stage = "DISCOVERY"
	// StageConsequence makes the cost of the discovered gap concrete.
	StageConsequence Stage = "CONSEQUENCE"
	// StageClosing offers and confirms appointment times.
	StageClosing Stage = "CLOSING"
)

// stageRanks orders stages for monotonic advancement checks.
var stageRanks = map[Stage]int{
	StageInitialOutreach: 0,
	StageDiscovery:       1,
	StageConsequence:     2,
	StageClosing:         3,
}

// Rank returns the ordinal position of the stage. Unknown stages rank lowest.
func (s Stage) Rank() int {
	return stageRanks[s]
}

// IsValidStage checks if the given stage is supported.
func IsValidStage(s Stage) bool {
	_, ok := stageRanks[s]
	return ok
}

// ObjectionStep is the authoritative position inside the already-covered
// objection sequence. Steps only move forward.
type ObjectionStep int

const (
	// ObjectionStepCarrier: objection acknowledged, carrier question asked.
	ObjectionStepCarrier ObjectionStep = iota + 1
	// ObjectionStepHealth: carrier known, probing health qualification.
	ObjectionStepHealth
	// ObjectionStepGapPitch: a coverage gap was identified and pitched.
	ObjectionStepGapPitch
	// ObjectionStepMedications: time confirmed, collecting medication details.
	ObjectionStepMedications
	// ObjectionStepConfirmed: booking confirmed, terminal.
	ObjectionStepConfirmed
)

// Objection flow outcomes.
const (
	// ObjectionOutcomeBooked means the flow ended in a confirmed appointment.
	ObjectionOutcomeBooked = "booked"
	// ObjectionOutcomePivoted means the flow exited early to another path.
	ObjectionOutcomePivoted = "pivoted"
	// ObjectionOutcomeExhausted means the existing coverage could not be beaten.
	ObjectionOutcomeExhausted = "exhausted"
)

// ObjectionFlow tracks progress through the already-covered objection
// sequence. Step is the single source of truth; the flag accessors derive
// from it, so at most one waiting flag can read true at a time.
type ObjectionFlow struct {
	Step          ObjectionStep `json:"step"`
	CarrierName   string        `json:"carrier_name,omitempty"`
	EmployerBased bool          `json:"employer_based,omitempty"`
	HealthIssue   string        `json:"health_issue,omitempty"`
	Done          bool          `json:"done,omitempty"`
	Outcome       string        `json:"outcome,omitempty"`
}

// AlreadyHandled reports whether the objection has been acknowledged at
// least once. Repeat "already covered" messages must not restart the flow.
func (f *ObjectionFlow) AlreadyHandled() bool {
	return f != nil && f.Step >= ObjectionStepCarrier
}

// WaitingForHealth reports whether the next lead message should be read as
// a health qualification answer.
func (f *ObjectionFlow) WaitingForHealth() bool {
	return f != nil && !f.Done && f.Step == ObjectionStepHealth
}

// CarrierGapFound reports whether a gap in the existing coverage was
// identified.
func (f *ObjectionFlow) CarrierGapFound() bool {
	return f != nil && f.Step >= ObjectionStepGapPitch
}

// WaitingForMedications reports whether the next lead message should be
// read as a medication list.
func (f *ObjectionFlow) WaitingForMedications() bool {
	return f != nil && !f.Done && f.Step == ObjectionStepMedications
}

// Active reports whether the flow still owns the conversation turn.
func (f *ObjectionFlow) Active() bool {
	return f != nil && !f.Done
}

// Advance moves the flow to the given step. Backward moves are ignored.
func (f *ObjectionFlow) Advance(to ObjectionStep) {
	if to > f.Step {
		f.Step = to
	}
}

// Finish terminates the flow with the given outcome.
func (f *ObjectionFlow) Finish(outcome string) {
	f.Done = true
	f.Outcome = outcome
}

// Transcript roles.
const (
	// RoleLead marks a lead-authored transcript line.
	RoleLead = "lead"
	// RoleAgent marks an agent-authored transcript line.
	RoleAgent = "agent"
)

// HistoryEntry is one line of the rolling transcript carried for draft
// context.
type HistoryEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// maxRecentHistory bounds the rolling transcript kept in state.
const maxRecentHistory = 12

// ConversationState is the durable per-contact state machine snapshot.
type ConversationState struct {
	ContactID       string         `json:"contact_id"`
	FirstName       string         `json:"first_name,omitempty"`
	Stage           Stage          `json:"stage"`
	ExchangeCount   int            `json:"exchange_count"`
	DismissiveCount int            `json:"dismissive_count"`
	Objection       *ObjectionFlow `json:"objection,omitempty"`
	TopicsAsked     map[Theme]bool `json:"topics_asked,omitempty"`
	Recent          []HistoryEntry `json:"recent,omitempty"`
	MotivatingGoal  string         `json:"motivating_goal,omitempty"`
	AppointmentTime string         `json:"appointment_time,omitempty"`
	Medications     string         `json:"medications,omitempty"`
	Booked          bool           `json:"booked,omitempty"`
	Frozen          bool           `json:"frozen,omitempty"`
	LastInboundAt   time.Time      `json:"last_inbound_at,omitempty"`
	LastOutboundAt  time.Time      `json:"last_outbound_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewConversationState returns a fresh state at the initial outreach stage.
func NewConversationState(contactID string) *ConversationState {
	now := time.Now()
	return &ConversationState{
		ContactID:   contactID,
		Stage:       StageInitialOutreach,
		TopicsAsked: make(map[Theme]bool),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AdvanceStage moves the conversation forward. Stages never regress; a
// trigger may jump ahead more than one stage.
func (s *ConversationState) AdvanceStage(to Stage) {
	if to.Rank() > s.Stage.Rank() {
		s.Stage = to
	}
}

// MarkTopicAsked records that a question theme has been raised with the lead.
func (s *ConversationState) MarkTopicAsked(t Theme) {
	if s.TopicsAsked == nil {
		s.TopicsAsked = make(map[Theme]bool)
	}
	s.TopicsAsked[t] = true
}

// AppendExchange adds one transcript line, discarding the oldest entries
// beyond the rolling window.
func (s *ConversationState) AppendExchange(role, text string) {
	if text == "" {
		return
	}
	s.Recent = append(s.Recent, HistoryEntry{Role: role, Text: text})
	if len(s.Recent) > maxRecentHistory {
		s.Recent = s.Recent[len(s.Recent)-maxRecentHistory:]
	}
}
