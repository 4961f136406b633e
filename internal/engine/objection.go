package engine

import (
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/calendar"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// The already-covered objection runs as a five step sequence: ask the
// carrier, probe health, seed doubt with a time offer, confirm the time and
// collect medications, confirm the booking. Shortcuts jump forward, never
// backward: a carrier named at entry skips the who question, employer
// coverage jumps straight to the portability pitch, and a sick answer
// pivots to an empathetic offer instead of doubt-seeding.

var objectionEntryQuestions = []string{
	"Nice. Where'd you end up going?",
	"Cool, who'd you go with?",
	"Good to hear. What kind of policy did you land on?",
	"Oh nice, who'd you go through?",
}

const (
	objectionHealthProbe   = "Did you find this company yourself, or did someone help you? And any health stuff worth knowing about."
	objectionFoundDoubt    = "So no one's actually reviewed it with you. Most policies like that only pay when you die. {slots} if you want a quick second look."
	objectionHelpedDoubt   = "Did they set you up with living benefits, or does it only pay when you die? Most agents skip that part. {slots} if you want me to check."
	objectionEmployerPitch = "Work coverage disappears the day you leave, and most group plans have zero living benefits. Worth a look at something you own. {slots}, which works better?"
	objectionGIPitch       = "That's one of the guaranteed-issue ones with the 2-3 year waiting period. With decent health you can likely beat it. {slots} if you want me to run a comparison."
	objectionSickPivot     = "Thanks for being straight with me. That changes which carriers make sense, and a few specialize in exactly that. {slots}, want me to walk you through it?"
	objectionTimeClarify   = "{slots}, which works better for you?"
	objectionMedsQuestion  = "Locked in for {time}. One thing that speeds up the quote, any current medications I should know about?"
	objectionMedsWhy       = "Just helps me line up the right carrier before the call. Even none at all is a fine answer."
)

// enterObjectionFlow starts the sequence, or declines when one was already
// opened so repeat "I'm covered" messages stay with the resume logic.
func enterObjectionFlow(tc *turnContext) string {
	if tc.state.Objection.AlreadyHandled() {
		return ""
	}
	flow := &models.ObjectionFlow{Step: models.ObjectionStepCarrier}
	tc.state.Objection = flow
	tc.state.AdvanceStage(models.StageConsequence)
	if employerWordsIn(tc.lowered) {
		flow.EmployerBased = true
	}
	if carrier := FindCarrier(tc.message); carrier != "" {
		flow.CarrierName = carrier
		return carrierKnownReply(tc, flow)
	}
	return tc.rotate(objectionEntryQuestions)
}

// resumeObjectionFlow advances an active flow with the lead's answer. ok is
// false when no flow owns the turn.
func resumeObjectionFlow(tc *turnContext) (string, bool) {
	flow := tc.state.Objection
	if !flow.Active() {
		return "", false
	}
	switch flow.Step {
	case models.ObjectionStepCarrier:
		return objectionCarrierAnswer(tc, flow), true
	case models.ObjectionStepHealth:
		return objectionHealthAnswer(tc, flow), true
	case models.ObjectionStepGapPitch:
		return objectionTimeAnswer(tc, flow), true
	case models.ObjectionStepMedications:
		return objectionMedsAnswer(tc, flow), true
	}
	return "", false
}

// abandonObjectionFlow closes an active flow when a higher-priority trigger
// takes the turn away from it.
func abandonObjectionFlow(state *models.ConversationState) {
	if state.Objection.Active() {
		state.Objection.Finish(models.ObjectionOutcomePivoted)
	}
}

func objectionCarrierAnswer(tc *turnContext, flow *models.ObjectionFlow) string {
	if employerWordsIn(tc.lowered) {
		flow.EmployerBased = true
	}
	restated := alreadyCoveredRe.MatchString(tc.lowered)
	if carrier := FindCarrier(tc.message); carrier != "" {
		flow.CarrierName = carrier
	} else if flow.CarrierName == "" && len(strings.Fields(tc.message)) <= 4 && !restated {
		// A short answer to the who question is the carrier even when the
		// name isn't one we recognize.
		flow.CarrierName = strings.TrimSpace(tc.message)
	}
	if flow.CarrierName == "" && !flow.EmployerBased && restated && !IsGuaranteedIssueCarrier("", tc.message) {
		// Re-stated objection, not an answer; ask the who question again.
		return tc.rotate(objectionEntryQuestions)
	}
	return carrierKnownReply(tc, flow)
}

// carrierKnownReply routes the flow once the carrier answer is in, applying
// the employer and guaranteed-issue shortcuts.
func carrierKnownReply(tc *turnContext, flow *models.ObjectionFlow) string {
	cc := LookupCarrierContext(flow.CarrierName, tc.message)
	if flow.EmployerBased {
		flow.Advance(models.ObjectionStepGapPitch)
		tc.state.AdvanceStage(models.StageClosing)
		return FillTemplate(objectionEmployerPitch, tc.playbookWithSlots())
	}
	if cc.GuaranteedIssue {
		flow.Advance(models.ObjectionStepGapPitch)
		tc.state.AdvanceStage(models.StageClosing)
		return FillTemplate(objectionGIPitch, tc.playbookWithSlots())
	}
	flow.Advance(models.ObjectionStepHealth)
	return objectionHealthProbe
}

func objectionHealthAnswer(tc *turnContext, flow *models.ObjectionFlow) string {
	if affirmsLivingBenefits(tc.lowered, tc.message) {
		flow.Finish(models.ObjectionOutcomeExhausted)
		return PlaybookResponse(SituationCannotBeat, tc.playbook())
	}
	if issue := healthIssueIn(tc.lowered); issue != "" && !negatedHealth(tc.lowered) {
		flow.HealthIssue = issue
		flow.Advance(models.ObjectionStepGapPitch)
		tc.state.AdvanceStage(models.StageClosing)
		return FillTemplate(objectionSickPivot, tc.playbookWithSlots())
	}
	flow.Advance(models.ObjectionStepGapPitch)
	tc.state.AdvanceStage(models.StageClosing)
	if helpedInto(tc.lowered) {
		return FillTemplate(objectionHelpedDoubt, tc.playbookWithSlots())
	}
	return FillTemplate(objectionFoundDoubt, tc.playbookWithSlots())
}

func objectionTimeAnswer(tc *turnContext, flow *models.ObjectionFlow) string {
	if affirmsLivingBenefits(tc.lowered, tc.message) {
		flow.Finish(models.ObjectionOutcomeExhausted)
		return PlaybookResponse(SituationCannotBeat, tc.playbook())
	}
	if issue := healthIssueIn(tc.lowered); issue != "" && !negatedHealth(tc.lowered) && flow.HealthIssue == "" {
		flow.HealthIssue = issue
		return FillTemplate(objectionSickPivot, tc.playbookWithSlots())
	}
	if !timeIndicatorRe.MatchString(tc.lowered) {
		return FillTemplate(objectionTimeClarify, tc.playbookWithSlots())
	}
	flow.Advance(models.ObjectionStepMedications)
	tc.state.AppointmentTime = appointmentPhrase(tc.message)
	pc := tc.playbook()
	pc.Time = tc.state.AppointmentTime
	return FillTemplate(objectionMedsQuestion, pc)
}

func objectionMedsAnswer(tc *turnContext, flow *models.ObjectionFlow) string {
	if QuestionCount(tc.message) > 0 {
		return objectionMedsWhy
	}
	meds := strings.Join(strings.Fields(tc.message), " ")
	if len(meds) > 200 {
		meds = meds[:200]
	}
	tc.state.Medications = meds
	flow.Advance(models.ObjectionStepConfirmed)
	flow.Finish(models.ObjectionOutcomeBooked)
	tc.state.Booked = true
	if tc.slots.provider != nil {
		req := calendar.BookingRequest{
			ContactID:    tc.state.ContactID,
			FirstName:    tc.state.FirstName,
			SelectedTime: tc.state.AppointmentTime,
		}
		if err := tc.slots.provider.Book(tc.ctx, req); err != nil {
			slog.Error("Objection.book: calendar booking failed", "contactID", tc.state.ContactID, "error", err)
		}
	}
	pc := tc.playbook()
	pc.Time = tc.state.AppointmentTime
	return PlaybookResponse(SituationConfirmBooking, pc)
}

// appointmentPhrase echoes the picked time back in a clean spoken form,
// falling back to the lead's own words when parsing fails.
func appointmentPhrase(selection string) string {
	now := time.Now()
	start, err := calendar.ParseSelectedTime(selection, now, time.Local)
	if err != nil {
		return strings.Join(strings.Fields(selection), " ")
	}
	day := start.Weekday().String()
	local := now.In(time.Local)
	tomorrow := local.AddDate(0, 0, 1)
	switch {
	case start.Year() == local.Year() && start.YearDay() == local.YearDay():
		day = "today"
	case start.Year() == tomorrow.Year() && start.YearDay() == tomorrow.YearDay():
		day = "tomorrow"
	}
	return start.Format("3:04 PM") + " " + day
}

func employerWordsIn(lowered string) bool {
	return containsAny(lowered,
		"through work", "through my job", "at work", "my job", "my employer",
		"employer", "group plan", "group insurance", "company plan",
		"company pays", "benefits package")
}

func helpedInto(lowered string) bool {
	return containsAny(lowered, "help", "agent", "advisor", "broker", "someone", "my guy", "friend recommend")
}

// healthIssueIn names the first health condition the answer admits to, or
// returns empty for a healthy answer.
func healthIssueIn(lowered string) string {
	conditions := []struct {
		match func(string) bool
		name  string
	}{
		{diabetesRe.MatchString, "diabetes"},
		{heartRe.MatchString, "heart history"},
		{cancerRe.MatchString, "cancer history"},
		{generalHealthRe.MatchString, "health condition"},
	}
	for _, c := range conditions {
		if c.match(lowered) {
			return c.name
		}
	}
	if containsAny(lowered, "sick", "surgery", "hospital", "medication") {
		return "health condition"
	}
	return ""
}

func negatedHealth(lowered string) bool {
	trimmed := strings.TrimSpace(lowered)
	if strings.Contains(trimmed, "but") {
		return false
	}
	return strings.HasPrefix(trimmed, "no")
}

func affirmsLivingBenefits(lowered, message string) bool {
	if !strings.Contains(lowered, "living benefit") || QuestionCount(message) > 0 {
		return false
	}
	return !containsAny(lowered, "no living", "doesn't", "don't", "dont", "not sure", "no idea", "without")
}
