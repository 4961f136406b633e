package engine

import (
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// The playbook is the bottom layer of the response stack: ideal responses
// for common situations, used as few-shot material for the drafter and as
// template fallbacks when drafting fails. Lookup never fails; an unknown
// situation falls back to safe progression.

// Situation names one playbook scenario.
type Situation string

const (
	SituationOpener                  Situation = "opener"
	SituationReEngageCold            Situation = "re_engage_cold"
	SituationAskFamily               Situation = "ask_family"
	SituationAskCoverageSource       Situation = "ask_coverage_source"
	SituationProbeEmployerGap        Situation = "probe_employer_gap"
	SituationProbeAmountGap          Situation = "probe_amount_gap"
	SituationProbeTermGap            Situation = "probe_term_gap"
	SituationFirstResistance         Situation = "first_resistance"
	SituationSecondResistanceFamily  Situation = "second_resistance_family"
	SituationSecondResistanceGeneric Situation = "second_resistance_generic"
	SituationSoftExit                Situation = "soft_exit"
	SituationHardExit                Situation = "hard_exit"
	SituationNotInterested           Situation = "not_interested"
	SituationAlreadyCovered          Situation = "already_covered"
	SituationCantAfford              Situation = "cant_afford"
	SituationThinkAboutIt            Situation = "think_about_it"
	SituationDiabetesProbe           Situation = "diabetes_probe"
	SituationHeartProbe              Situation = "heart_probe"
	SituationCancerProbe             Situation = "cancer_probe"
	SituationGIPivot                 Situation = "gi_pivot"
	SituationToughCaseHonest         Situation = "tough_case_honest"
	SituationCannotBeat              Situation = "cannot_beat"
	SituationOfferTimes              Situation = "offer_times"
	SituationAfterGapDiscovery       Situation = "after_gap_discovery"
	SituationAfterInterestSignal     Situation = "after_interest_signal"
	SituationConfirmBooking          Situation = "confirm_booking"
	SituationSafeProgression         Situation = "safe_progression"
)

var situationTemplates = map[Situation][]string{
	SituationOpener: {
		"Hey {first_name}, saw you looked at life insurance a while back. What originally got you thinking about it?",
		"Hi {first_name}, noticed you were considering coverage before. Was there something specific that had you looking?",
		"{first_name}, just following up. What was going on that had you exploring life insurance back then?",
	},
	SituationReEngageCold: {
		"Hey {first_name}, still thinking about coverage?",
		"Hi {first_name}, anything change since you last looked at insurance?",
	},
	SituationAskFamily: {
		"Got it. Who would you want that coverage to protect?",
		"Makes sense. Is there anyone depending on your income right now?",
		"Totally. Who would be most impacted if something happened to you?",
	},
	SituationAskCoverageSource: {
		"Do you have anything in place right now, even through work?",
		"Is your current coverage through your employer or your own policy?",
	},
	SituationProbeEmployerGap: {
		"Does that follow you if you switch jobs or retire?",
		"What happens to that coverage if you leave?",
		"Is that tied to your job or is it yours to keep?",
	},
	SituationProbeAmountGap: {
		"What would you want that to cover first, the house or income replacement?",
		"Would that be enough to cover the mortgage and a few years of income?",
		"How long would that last your family if you weren't there?",
	},
	SituationProbeTermGap: {
		"How many years left on that policy?",
		"What's the plan when it runs out?",
		"Does it build any cash value or is it straight term?",
	},
	SituationFirstResistance: {
		"Sounds like that felt too nosy. My bad. Just curious, what got you thinking about coverage back then?",
		"Fair enough, didn't mean to pry. What was going on that had you looking in the first place?",
		"Got it, no need to get into details. Was there something specific that made you start looking?",
		"Totally fair. I get it. Out of curiosity, what had you considering coverage back then?",
	},
	SituationSecondResistanceFamily: {
		"I hear you. You mentioned your wife earlier. How would you want her taken care of if something happened?",
		"Got it. You said your wife has been asking about this. What would you want covered for her?",
		"Fair enough. Earlier you mentioned your wife is worried. What specifically concerns her?",
	},
	SituationSecondResistanceGeneric: {
		"I hear you. Just trying to help figure out what makes sense. Is there a better time to chat?",
		"Got it. No pressure at all. Would a quick call work better than texting?",
		"Fair enough. I'll keep it brief. Is there anything specific you want me to look into?",
	},
	SituationSoftExit: {
		"No worries at all. I'll check back in a bit.",
		"Totally understand. I'll circle back another time.",
		"Got it. I'll reach out again down the road. Have a good one.",
	},
	SituationHardExit: {
		"Got it, I'll close this out. Take care.",
		"No problem. Have a good one.",
	},
	SituationNotInterested: {
		"No worries. Out of curiosity, was it timing or something else?",
		"Totally get it. Did something change or just not the right fit?",
	},
	SituationAlreadyCovered: {
		"Nice, good to have something in place. Is that through work or your own policy?",
		"Good to hear. Just curious, does it follow you if you switch jobs?",
	},
	SituationCantAfford: {
		"Totally fair. Out of curiosity, what do you think it would cost?",
		"I hear you. Have you actually seen rates recently? Sometimes people are surprised.",
	},
	SituationThinkAboutIt: {
		"Totally get it. What specifically would you want to think through?",
		"Makes sense. What questions would help you decide?",
	},
	SituationDiabetesProbe: {
		"Got it on the diabetes. Is that controlled with pills or insulin?",
		"Okay, diabetes. Do you know your most recent A1C?",
	},
	SituationHeartProbe: {
		"When you say heart issues, was that a full heart attack or a stent?",
		"Got it. How long ago was that? Are you stable now?",
	},
	SituationCancerProbe: {
		"Sorry to hear that. What type of cancer, and how long ago?",
		"Are you in remission now? Any ongoing treatment?",
	},
	SituationGIPivot: {
		"Based on what you told me, you might not need guaranteed issue. Some carriers work with {condition}. Want me to dig into it?",
		"That's actually manageable with the right carrier. Worth exploring options that don't have the waiting period. Interested?",
	},
	SituationToughCaseHonest: {
		"I'll be straight with you. That's a tougher case. Not impossible, but limited options. Want me to see what's out there?",
		"Honestly, that narrows things down. But there might still be something better than what you have. Worth a look?",
	},
	SituationCannotBeat: {
		"Honestly, that's solid coverage. I wouldn't change it. If anything shifts down the road, you know where to find me.",
		"Straight up, that's a good setup and I'd keep it. Reach out if anything changes.",
	},
	SituationOfferTimes: {
		"Let me dig into this for you. Free at 2pm today or 11am tomorrow?",
		"I can help you find the right fit. How's 6:30 tonight or 10:15 tomorrow?",
		"Let me see what we can do. What works better, 2pm today or 11am tomorrow?",
		"I can look into options for you. Free for a quick call at 3pm or 10am tomorrow?",
	},
	SituationAfterGapDiscovery: {
		"That's a big gap. Let me help you figure out what makes sense. Free at 2pm today or 11am tomorrow?",
		"Yeah that's worth addressing. I can dig into options. How's 6pm tonight or 10am tomorrow?",
	},
	SituationAfterInterestSignal: {
		"Great, let's set something up. What works better, 2pm today or 11am tomorrow?",
		"Perfect. I've got 3pm today or 10:30 tomorrow. Which works?",
	},
	SituationConfirmBooking: {
		"You're all set for {time}. I'll send a calendar invite. Talk soon.",
		"Perfect, locked in for {time}. You'll get a confirmation. Looking forward to it.",
	},
	SituationSafeProgression: {
		"Fair enough. Just to clarify, was it the timing that was off or something else?",
		"Got it. What's the main thing on your mind about coverage these days?",
		"Makes sense. What would you want to figure out first?",
	},
}

// PlaybookContext carries the values templates may interpolate.
type PlaybookContext struct {
	FirstName string
	Condition string
	Time      string
	AgentName string
	Slots     string
}

var templateReplacements = []struct {
	placeholder string
	value       func(PlaybookContext) string
}{
	{"{first_name}", func(c PlaybookContext) string { return c.FirstName }},
	{"{condition}", func(c PlaybookContext) string {
		if c.Condition == "" {
			return "your condition"
		}
		return c.Condition
	}},
	{"{time}", func(c PlaybookContext) string { return c.Time }},
	{"{agent_name}", func(c PlaybookContext) string { return c.AgentName }},
	{"{slots}", func(c PlaybookContext) string { return c.Slots }},
}

// FillTemplate interpolates playbook placeholders. Shared with the pattern
// library, whose seed responses carry the same placeholders.
func FillTemplate(tpl string, ctx PlaybookContext) string {
	for _, r := range templateReplacements {
		if strings.Contains(tpl, r.placeholder) {
			tpl = strings.ReplaceAll(tpl, r.placeholder, r.value(ctx))
		}
	}
	return strings.TrimSpace(strings.Join(strings.Fields(tpl), " "))
}

// PlaybookResponse picks one template for the situation and fills it. An
// unknown situation is a wiring bug; it logs and falls back to safe
// progression so the lead still gets a sane reply.
func PlaybookResponse(situation Situation, ctx PlaybookContext) string {
	templates, ok := situationTemplates[situation]
	if !ok {
		slog.Error("Playbook.Response: unknown situation", "situation", situation)
		templates = situationTemplates[SituationSafeProgression]
	}
	return FillTemplate(templates[rand.IntN(len(templates))], ctx)
}

// ResistanceResponse walks the resistance ladder: curiosity on the first
// push-back, a family angle (when we know one) on the second, a soft exit
// from the third on.
func ResistanceResponse(dismissiveCount int, hasSpouse bool, ctx PlaybookContext) string {
	switch {
	case dismissiveCount <= 1:
		return PlaybookResponse(SituationFirstResistance, ctx)
	case dismissiveCount == 2:
		if hasSpouse {
			return PlaybookResponse(SituationSecondResistanceFamily, ctx)
		}
		return PlaybookResponse(SituationSecondResistanceGeneric, ctx)
	default:
		return PlaybookResponse(SituationSoftExit, ctx)
	}
}

// FewShot is one worked example for prompting: what the lead said, the ideal
// reply, and the self-reflection that graded it.
type FewShot struct {
	Stage         models.Stage
	LeadMessage   string
	AgentResponse string
	Reflection    string
}

var fewShotExamples = []FewShot{
	{
		Stage:         models.StageInitialOutreach,
		LeadMessage:   "yeah I looked at it a while ago",
		AgentResponse: "Nice. What was going on at the time that had you looking?",
		Reflection:    "Relevance: 9/10 - Directly advances discovery. Coherence: 9/10 - Builds on their acknowledgment. Effectiveness: 8/10 - Open question invites sharing.",
	},
	{
		Stage:         models.StageDiscovery,
		LeadMessage:   "I have 50k through work",
		AgentResponse: "Got it. Does that follow you if you switch jobs?",
		Reflection:    "Relevance: 10/10 - Identifies key gap. Coherence: 10/10 - Directly addresses their coverage. Effectiveness: 9/10 - Socratic approach lets them realize the gap.",
	},
	{
		Stage:         models.StageDiscovery,
		LeadMessage:   "My wife keeps asking about it",
		AgentResponse: "Makes sense. What specifically is she worried about?",
		Reflection:    "Relevance: 9/10 - Digs into motivation. Coherence: 9/10 - References wife. Effectiveness: 8/10 - Gets to the real concern.",
	},
	{
		Stage:         models.StageConsequence,
		LeadMessage:   "I'm not really interested right now",
		AgentResponse: "Totally get it. Was it timing or something else that changed?",
		Reflection:    "Relevance: 8/10 - Redirects softly. Coherence: 9/10 - Acknowledges their position. Effectiveness: 7/10 - Opens door for re-engagement.",
	},
	{
		Stage:         models.StageClosing,
		LeadMessage:   "Yeah I should probably look into it",
		AgentResponse: "Let me help you figure it out. Free at 2pm today or 11am tomorrow?",
		Reflection:    "Relevance: 10/10 - Advances to appointment. Coherence: 10/10 - Responds to their interest. Effectiveness: 9/10 - Binary choice makes it easy to say yes.",
	},
}

// FormatFewShots renders up to limit worked examples for the stage. Stages
// without their own examples borrow the first ones.
func FormatFewShots(stage models.Stage, limit int) string {
	var relevant []FewShot
	for _, ex := range fewShotExamples {
		if ex.Stage == stage {
			relevant = append(relevant, ex)
		}
	}
	if len(relevant) == 0 {
		relevant = fewShotExamples
	}
	if len(relevant) > limit {
		relevant = relevant[:limit]
	}
	parts := make([]string, 0, len(relevant))
	for _, ex := range relevant {
		parts = append(parts, "Lead: \""+ex.LeadMessage+"\"\nYou: \""+ex.AgentResponse+"\"\n<reflection>"+ex.Reflection+"</reflection>")
	}
	return strings.Join(parts, "\n\n")
}
