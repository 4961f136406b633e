package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/calendar"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// Constants for engine configuration.
const (
	// DefaultAgentName is the persona name used when none is configured.
	DefaultAgentName = "Alex"
	// DefaultGhostCheckAfter is how long after a reply the ghost check runs.
	DefaultGhostCheckAfter = 24 * time.Hour

	// JobKindGhostCheck is the durable job kind for ghost detection.
	JobKindGhostCheck = "ghost_check"
	// OutboxKindText is the outbox kind for plain text sends.
	OutboxKindText = "send_text"
)

// TextPayload is the outbox payload for OutboxKindText messages.
type TextPayload struct {
	ContactID string `json:"contact_id"`
	Body      string `json:"body"`
}

// DecodeTextPayload parses an outbox text payload.
func DecodeTextPayload(raw string) (TextPayload, error) {
	var p TextPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return TextPayload{}, fmt.Errorf("text payload: %w", err)
	}
	return p, nil
}

// ghostCheckPayload is the durable job payload for JobKindGhostCheck.
type ghostCheckPayload struct {
	ContactID string `json:"contact_id"`
}

func ghostDedupeKey(contactID string) string {
	return "ghost:" + contactID
}

// Opts holds configuration options for the engine.
type Opts struct {
	AgentName       string
	GhostCheckAfter time.Duration
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithAgentName sets the persona name templates sign with.
func WithAgentName(name string) Option {
	return func(o *Opts) { o.AgentName = name }
}

// WithGhostCheckAfter sets the silence window before a pending agent
// message scores as ghosted.
func WithGhostCheckAfter(d time.Duration) Option {
	return func(o *Opts) { o.GhostCheckAfter = d }
}

// Engine composes the conversation pipeline: one inbound lead message in,
// exactly one reply decision out, with all state transitions, scoring, and
// durable side effects applied before it returns.
type Engine struct {
	st              store.Store
	library         *PatternLibrary
	scorer          *Scorer
	gen             genai.ClientInterface
	slots           calendar.SlotProvider
	agentName       string
	ghostCheckAfter time.Duration

	// Per-contact mutexes serialize turns for one contact while leaving
	// other contacts fully parallel. Entries are never evicted; contact
	// cardinality is small next to what a conversation itself costs.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates the conversation engine on top of the given store. The
// genai client and slot provider may be nil; the draft path and live
// calendar degrade to playbook templates and the static slot phrase.
func NewEngine(st store.Store, gen genai.ClientInterface, slots calendar.SlotProvider, opts ...Option) (*Engine, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AgentName == "" {
		cfg.AgentName = os.Getenv("LEADPIPE_AGENT_NAME")
	}
	if cfg.AgentName == "" {
		cfg.AgentName = DefaultAgentName
	}
	if cfg.GhostCheckAfter <= 0 {
		cfg.GhostCheckAfter = DefaultGhostCheckAfter
	}

	library, err := NewPatternLibrary(st)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pattern library: %w", err)
	}

	slog.Debug("Engine.NewEngine: engine assembled",
		"agentName", cfg.AgentName,
		"ghostCheckAfter", cfg.GhostCheckAfter,
		"genai_configured", gen != nil,
		"calendar_configured", slots != nil)

	return &Engine{
		st:              st,
		library:         library,
		scorer:          NewScorer(st, library),
		gen:             gen,
		slots:           slots,
		agentName:       cfg.AgentName,
		ghostCheckAfter: cfg.GhostCheckAfter,
		locks:           make(map[string]*sync.Mutex),
	}, nil
}

// Library exposes the pattern library for read-only inspection.
func (e *Engine) Library() *PatternLibrary {
	return e.library
}

// lockContact acquires the contact's turn lock and returns the release.
func (e *Engine) lockContact(contactID string) func() {
	e.mu.Lock()
	l, ok := e.locks[contactID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[contactID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (e *Engine) persistence() store.PersistenceProvider {
	if p, ok := e.st.(store.PersistenceProvider); ok {
		return p
	}
	return nil
}

// ProcessMessage runs one conversation turn. It always produces a reply for
// a live conversation; the only error cases are invalid input, a duplicate
// message, a frozen conversation, and a store that cannot persist the turn.
func (e *Engine) ProcessMessage(ctx context.Context, msg models.LeadMessage) (models.Reply, error) {
	if err := msg.Validate(); err != nil {
		slog.Warn("Engine.ProcessMessage: invalid message", "contactID", msg.ContactID, "error", err)
		return models.Reply{}, err
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	// Dedup before the lock: a redelivered webhook must not wait on, or
	// replay into, a turn already in flight.
	p := e.persistence()
	if p != nil && msg.MessageID != "" {
		fresh, err := p.DedupRepo().RecordInbound(msg.MessageID, msg.ContactID)
		if err != nil {
			slog.Error("Engine.ProcessMessage: dedup record failed, continuing without",
				"messageID", msg.MessageID, "error", err)
		} else if !fresh {
			slog.Info("Engine.ProcessMessage: duplicate inbound dropped",
				"messageID", msg.MessageID, "contactID", msg.ContactID)
			return models.Reply{}, models.ErrDuplicateMessage
		}
	}

	unlock := e.lockContact(msg.ContactID)
	defer unlock()

	state, profile, err := e.loadContact(msg)
	if err != nil {
		return models.Reply{}, err
	}
	if state.Frozen {
		slog.Info("Engine.ProcessMessage: conversation frozen, dropping message", "contactID", msg.ContactID)
		return models.Reply{}, models.ErrConversationFrozen
	}

	if IsOptOut(msg.Body) {
		return e.freezeContact(ctx, state, profile, msg)
	}

	// This message is the verdict on whatever we said last.
	vibe, outcome, scored := e.scorer.ScoreInbound(msg.ContactID, msg.Body)
	e.cancelGhostCheck(msg.ContactID)

	if _, err := ExtractFacts(profile, msg.Body); err != nil && !errors.Is(err, models.ErrExtractionNoOp) {
		slog.Error("Engine.ProcessMessage: extraction failed", "contactID", msg.ContactID, "error", err)
	}
	if state.MotivatingGoal == "" && profile.MotivatingGoal != "" {
		state.MotivatingGoal = profile.MotivatingGoal
	}

	lowered := strings.ToLower(msg.Body)
	soft := IsSoftDismissive(msg.Body)
	if soft || vibe == models.VibeDismissive || notInterestedRe.MatchString(lowered) {
		state.DismissiveCount++
	}
	advanceOnVibe(state, profile, vibe)

	state.AppendExchange(models.RoleLead, msg.Body)
	state.LastInboundAt = msg.ReceivedAt
	state.ExchangeCount++

	wasBooked := state.Booked

	tc := &turnContext{
		ctx:       ctx,
		message:   msg.Body,
		lowered:   lowered,
		state:     state,
		profile:   profile,
		library:   e.library,
		slots:     newSlotCache(e.slots),
		agentName: e.agentName,
	}

	text, source, category := e.decide(tc, vibe, soft)

	state.AppendExchange(models.RoleAgent, text)
	state.LastOutboundAt = time.Now()
	themes := DetectThemes(text)
	for _, theme := range themes {
		state.MarkTopicAsked(theme)
	}

	if state.Booked && !wasBooked {
		if err := e.scorer.ApplyBookingBonus(msg.ContactID); err != nil {
			slog.Error("Engine.ProcessMessage: booking bonus failed", "contactID", msg.ContactID, "error", err)
		}
	}

	rec := models.AgentMessageRecord{
		ID:          util.GenerateMessageID(),
		ContactID:   msg.ContactID,
		Seq:         state.ExchangeCount,
		Body:        text,
		TriggerText: msg.Body,
		Themes:      themes,
		Category:    PatternCategoryFor(vibe, msg.Body),
		Bank:        BankFor(vibe),
		PatternID:   tc.patternID,
		SentAt:      time.Now(),
	}
	if err := e.st.SaveAgentMessage(rec); err != nil {
		slog.Error("Engine.ProcessMessage: pending record persist failed",
			"contactID", msg.ContactID, "error", err)
	}

	if err := e.st.SaveConversationState(*state); err != nil {
		return models.Reply{}, fmt.Errorf("failed to persist conversation state: %w", err)
	}
	if err := e.st.SaveProfile(*profile); err != nil {
		return models.Reply{}, fmt.Errorf("failed to persist profile: %w", err)
	}

	e.enqueueDelivery(msg.ContactID, text, "reply:"+rec.ID)
	e.scheduleGhostCheck(msg.ContactID)

	if p != nil && msg.MessageID != "" {
		if err := p.DedupRepo().MarkProcessed(msg.MessageID); err != nil {
			slog.Error("Engine.ProcessMessage: dedup mark failed", "messageID", msg.MessageID, "error", err)
		}
	}

	slog.Info("Engine.ProcessMessage: turn complete",
		"contactID", msg.ContactID,
		"source", source,
		"stage", state.Stage,
		"vibe", vibe,
		"outcome", outcome,
		"scored_previous", scored,
		"booked", state.Booked)

	return models.Reply{
		ContactID: msg.ContactID,
		Text:      text,
		Source:    source,
		Stage:     state.Stage,
		Category:  category,
		Booked:    state.Booked,
	}, nil
}

// loadContact fetches or creates the contact's state and profile.
func (e *Engine) loadContact(msg models.LeadMessage) (*models.ConversationState, *models.QualificationProfile, error) {
	state, err := e.st.GetConversationState(msg.ContactID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load conversation state: %w", err)
	}
	if state == nil {
		state = models.NewConversationState(msg.ContactID)
		slog.Debug("Engine.loadContact: new conversation", "contactID", msg.ContactID)
	}
	if state.FirstName == "" && msg.FirstName != "" {
		state.FirstName = msg.FirstName
	}

	profile, err := e.st.GetProfile(msg.ContactID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		profile = models.NewQualificationProfile(msg.ContactID)
	}
	return state, profile, nil
}

// decide walks the response stack for one turn: active objection flow,
// trigger map, resistance ladder, generative draft, playbook floor.
func (e *Engine) decide(tc *turnContext, vibe models.Vibe, soft bool) (string, models.ReplySource, models.TriggerCategory) {
	// An active objection flow owns the turn until it terminates or the
	// lead has pushed back enough times for the ladder to take over.
	if tc.state.Objection.Active() {
		if soft && tc.state.DismissiveCount >= 3 {
			abandonObjectionFlow(tc.state)
		} else if reply, ok := resumeObjectionFlow(tc); ok && reply != "" {
			return reply, models.ReplySourceObjection, models.TriggerAlreadyCovered
		}
	}

	// Forward-path close: at closing a concrete time pick books directly.
	if tc.state.Stage == models.StageClosing && !tc.state.Booked && !tc.state.Objection.Active() {
		if reply, ok := closingAnswer(tc); ok {
			return reply, models.ReplySourceTrigger, models.TriggerBuyingSignal
		}
	}

	if category, reply, ok := MatchTrigger(tc); ok {
		return reply, models.ReplySourceTrigger, category
	}

	if soft || (vibe == models.VibeObjection && tc.state.DismissiveCount >= 2) {
		hasSpouse := tc.profile.HasSpouse != nil && *tc.profile.HasSpouse
		return ResistanceResponse(tc.state.DismissiveCount, hasSpouse, tc.playbook()),
			models.ReplySourcePlaybook, ""
	}

	if text, source, err := e.draftReply(tc, vibe); err == nil {
		return text, source, ""
	} else if !errors.Is(err, models.ErrDraftUnavailable) && !errors.Is(err, models.ErrPolicyRejected) {
		slog.Error("Engine.decide: draft path failed", "contactID", tc.state.ContactID, "error", err)
	}

	return e.fallback(tc, vibe), models.ReplySourcePlaybook, ""
}

// closingAnswer handles time picks and bare agreements at the closing
// stage outside the objection flow. ok is false when the message is
// neither, sending the turn on down the stack.
func closingAnswer(tc *turnContext) (string, bool) {
	if timeIndicatorRe.MatchString(tc.lowered) {
		tc.state.AppointmentTime = appointmentPhrase(tc.message)
		tc.state.Booked = true
		if tc.slots.provider != nil {
			req := calendar.BookingRequest{
				ContactID:    tc.state.ContactID,
				FirstName:    tc.state.FirstName,
				SelectedTime: tc.state.AppointmentTime,
			}
			if err := tc.slots.provider.Book(tc.ctx, req); err != nil {
				slog.Error("Engine.closingAnswer: calendar booking failed",
					"contactID", tc.state.ContactID, "error", err)
			}
		}
		pc := tc.playbook()
		pc.Time = tc.state.AppointmentTime
		return PlaybookResponse(SituationConfirmBooking, pc), true
	}
	if buyingSignalRe.MatchString(tc.lowered) {
		// Agreement without a time pick; restate the options.
		return FillTemplate(objectionTimeClarify, tc.playbookWithSlots()), true
	}
	return "", false
}

// fallback is the playbook floor under the whole stack. Total: every branch
// returns a usable reply.
func (e *Engine) fallback(tc *turnContext, vibe models.Vibe) string {
	switch {
	case tc.state.Stage == models.StageClosing:
		return PlaybookResponse(SituationOfferTimes, tc.playbook())
	case vibe == models.VibeNeed:
		return PlaybookResponse(SituationAskFamily, tc.playbook())
	case tc.state.Stage == models.StageConsequence:
		return PlaybookResponse(SituationAfterGapDiscovery, tc.playbook())
	case tc.state.Stage == models.StageInitialOutreach && tc.state.ExchangeCount <= 1:
		return PlaybookResponse(SituationOpener, tc.playbook())
	default:
		return PlaybookResponse(SituationSafeProgression, tc.playbook())
	}
}

// advanceOnVibe applies the stage transitions that do not belong to a
// specific trigger: engagement moves outreach into discovery, and a
// confirmed coverage gap moves discovery into consequence.
func advanceOnVibe(state *models.ConversationState, profile *models.QualificationProfile, vibe models.Vibe) {
	switch vibe {
	case models.VibeNeed, models.VibeDirection, models.VibeInformation:
		state.AdvanceStage(models.StageDiscovery)
	}
	if state.Stage == models.StageDiscovery && hasGapSignal(profile) {
		state.AdvanceStage(models.StageConsequence)
	}
}

// hasGapSignal reports whether the profile already proves the lead's
// existing coverage has a hole worth pressing on.
func hasGapSignal(p *models.QualificationProfile) bool {
	if p == nil {
		return false
	}
	if p.IsEmployerBased != nil && *p.IsEmployerBased {
		return true
	}
	if p.IsTerm != nil && *p.IsTerm {
		return true
	}
	if p.IsGuaranteedIssue != nil && *p.IsGuaranteedIssue {
		return true
	}
	return false
}

// freezeContact handles an opt-out: score the pending record, cancel every
// queued send and ghost check, freeze the conversation, and send one final
// confirmation so the lead knows they are done hearing from us.
func (e *Engine) freezeContact(ctx context.Context, state *models.ConversationState, profile *models.QualificationProfile, msg models.LeadMessage) (models.Reply, error) {
	e.scorer.ScoreInbound(msg.ContactID, msg.Body)
	e.cancelGhostCheck(msg.ContactID)

	state.Frozen = true
	state.DismissiveCount++
	state.AppendExchange(models.RoleLead, msg.Body)
	state.LastInboundAt = msg.ReceivedAt

	text := PlaybookResponse(SituationHardExit, PlaybookContext{
		FirstName: state.FirstName,
		AgentName: e.agentName,
	})
	state.AppendExchange(models.RoleAgent, text)
	state.LastOutboundAt = time.Now()

	if p := e.persistence(); p != nil {
		if n, err := p.OutboxRepo().CancelPendingOutboxForContact(msg.ContactID); err != nil {
			slog.Error("Engine.freezeContact: outbox cancel failed", "contactID", msg.ContactID, "error", err)
		} else if n > 0 {
			slog.Debug("Engine.freezeContact: queued sends canceled", "contactID", msg.ContactID, "count", n)
		}
	}

	if err := e.st.SaveConversationState(*state); err != nil {
		return models.Reply{}, fmt.Errorf("failed to persist frozen state: %w", err)
	}
	if err := e.st.SaveProfile(*profile); err != nil {
		return models.Reply{}, fmt.Errorf("failed to persist profile: %w", err)
	}

	// One confirmation, dedupe-keyed so repeated stop messages collapse.
	e.enqueueDelivery(msg.ContactID, text, "optout:"+msg.ContactID)

	if p := e.persistence(); p != nil && msg.MessageID != "" {
		if err := p.DedupRepo().MarkProcessed(msg.MessageID); err != nil {
			slog.Error("Engine.freezeContact: dedup mark failed", "messageID", msg.MessageID, "error", err)
		}
	}

	slog.Info("Engine.freezeContact: lead opted out, conversation frozen", "contactID", msg.ContactID)
	return models.Reply{
		ContactID: msg.ContactID,
		Text:      text,
		Source:    models.ReplySourcePlaybook,
		Stage:     state.Stage,
	}, nil
}

// ReEngage sends one cold-lead nudge through the normal delivery path. The
// idle sweeper calls this for conversations quiet past its threshold.
// Returns ErrNoMatch when the conversation is not in a nudgeable state.
func (e *Engine) ReEngage(ctx context.Context, contactID string) (models.Reply, error) {
	unlock := e.lockContact(contactID)
	defer unlock()

	state, err := e.st.GetConversationState(contactID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to load conversation state: %w", err)
	}
	if state == nil {
		return models.Reply{}, fmt.Errorf("re-engage %s: %w", contactID, models.ErrNoMatch)
	}
	if state.Frozen {
		return models.Reply{}, models.ErrConversationFrozen
	}
	if state.Booked {
		return models.Reply{}, models.ErrNoMatch
	}

	profile, err := e.st.GetProfile(contactID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		profile = models.NewQualificationProfile(contactID)
	}

	text := PlaybookResponse(SituationReEngageCold, PlaybookContext{
		FirstName: state.FirstName,
		AgentName: e.agentName,
	})
	state.AppendExchange(models.RoleAgent, text)
	state.LastOutboundAt = time.Now()

	rec := models.AgentMessageRecord{
		ID:        util.GenerateMessageID(),
		ContactID: contactID,
		Seq:       state.ExchangeCount,
		Body:      text,
		Themes:    DetectThemes(text),
		Category:  models.PatternBadTiming,
		Bank:      models.BankRecovery,
		SentAt:    time.Now(),
	}
	if err := e.st.SaveAgentMessage(rec); err != nil {
		slog.Error("Engine.ReEngage: pending record persist failed", "contactID", contactID, "error", err)
	}

	if err := e.st.SaveConversationState(*state); err != nil {
		return models.Reply{}, fmt.Errorf("failed to persist conversation state: %w", err)
	}

	e.enqueueDelivery(contactID, text, "reengage:"+contactID)
	e.scheduleGhostCheck(contactID)

	slog.Info("Engine.ReEngage: nudge queued", "contactID", contactID)
	return models.Reply{
		ContactID: contactID,
		Text:      text,
		Source:    models.ReplySourcePlaybook,
		Stage:     state.Stage,
	}, nil
}

// GhostCheckHandler returns the durable job handler that scores a pending
// agent message as ghosted once the silence window lapses.
func (e *Engine) GhostCheckHandler() store.JobHandler {
	return func(ctx context.Context, payload string) error {
		var p ghostCheckPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("ghost check payload: %w", err)
		}
		unlock := e.lockContact(p.ContactID)
		defer unlock()

		scored, err := e.scorer.ScoreGhosted(p.ContactID)
		if err != nil {
			return fmt.Errorf("ghost check for %s: %w", p.ContactID, err)
		}
		if scored {
			slog.Info("Engine.GhostCheck: lead went quiet, pending record scored", "contactID", p.ContactID)
		}
		return nil
	}
}

// enqueueDelivery hands the reply to the durable outbox. Without a
// persistence provider the reply still reaches the caller; there is just
// no transport behind it.
func (e *Engine) enqueueDelivery(contactID, text, dedupeKey string) {
	p := e.persistence()
	if p == nil || text == "" {
		return
	}
	payload, err := json.Marshal(TextPayload{ContactID: contactID, Body: text})
	if err != nil {
		slog.Error("Engine.enqueueDelivery: payload marshal failed", "contactID", contactID, "error", err)
		return
	}
	if _, err := p.OutboxRepo().EnqueueOutboxMessage(contactID, OutboxKindText, string(payload), dedupeKey); err != nil {
		slog.Error("Engine.enqueueDelivery: outbox enqueue failed", "contactID", contactID, "error", err)
	}
}

// scheduleGhostCheck arms the silence watch for a contact. The dedupe key
// keeps at most one live check per contact.
func (e *Engine) scheduleGhostCheck(contactID string) {
	p := e.persistence()
	if p == nil {
		return
	}
	payload, err := json.Marshal(ghostCheckPayload{ContactID: contactID})
	if err != nil {
		slog.Error("Engine.scheduleGhostCheck: payload marshal failed", "contactID", contactID, "error", err)
		return
	}
	runAt := time.Now().Add(e.ghostCheckAfter)
	if _, err := p.JobRepo().EnqueueJob(JobKindGhostCheck, runAt, string(payload), ghostDedupeKey(contactID)); err != nil {
		slog.Error("Engine.scheduleGhostCheck: enqueue failed", "contactID", contactID, "error", err)
	}
}

// cancelGhostCheck retires the silence watch once the lead has spoken.
func (e *Engine) cancelGhostCheck(contactID string) {
	p := e.persistence()
	if p == nil {
		return
	}
	n, err := p.JobRepo().CancelJobsByDedupeKey(ghostDedupeKey(contactID))
	if err != nil {
		slog.Error("Engine.cancelGhostCheck: cancel failed", "contactID", contactID, "error", err)
		return
	}
	if n > 0 {
		slog.Debug("Engine.cancelGhostCheck: ghost watch retired", "contactID", contactID, "count", n)
	}
}
