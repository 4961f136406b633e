package engine

import "strings"

// The knowledge base is the sales script: product problems, health
// qualification guidance, and objection meanings. Trigger matches pull the
// relevant blocks into the draft prompt, and the question banks below feed
// the deterministic trigger replies.

// Knowledge topic keys. A trigger row names the topic it injects.
const (
	topicTermLife         = "term_life"
	topicWholeLife        = "whole_life"
	topicGuaranteedIssue  = "guaranteed_issue"
	topicEmployerCoverage = "employer_coverage"
	topicLivingBenefits   = "living_benefits"
	topicDiabetes         = "diabetes"
	topicHeart            = "heart"
	topicCancer           = "cancer"
	topicGeneralHealth    = "general_health"
	topicNotInterested    = "not_interested"
	topicAlreadyCovered   = "already_covered"
	topicTooExpensive     = "too_expensive"
	topicNeedToThink      = "need_to_think"
	topicSpouseDecision   = "spouse_decision"
	topicBuyingSignal     = "buying_signal"
	topicPension          = "pension_survivorship"
)

// knowledgeBlocks holds the per-topic context lines injected into the draft
// prompt when the topic's trigger fires.
var knowledgeBlocks = map[string][]string{
	topicTermLife: {
		"What it is: Temporary coverage for 10-30 years. Pure death benefit, no cash value.",
		"Problems: Expires when you're older and premiums skyrocket, 97% of term policies never pay out, No living benefits - only pays if you die",
		"Pivot: Most people don't realize term is like renting - you pay for years and end up with nothing.",
	},
	topicWholeLife: {
		"What it is: Permanent coverage with cash value that grows slowly.",
		"Problems: Very expensive for the death benefit, Cash value grows at 2-4% - barely beats inflation, Takes 10-15 years to build meaningful cash value",
		"Pivot: Whole life is great for some people, but most don't realize there are policies with living benefits now.",
	},
	topicGuaranteedIssue: {
		"What it is: No medical questions, guaranteed approval. Usually final expense.",
		"Carriers: Colonial Penn, Globe Life, AARP, Gerber Life",
		"Problems: 2-3 year waiting period before full payout, Very expensive per dollar of coverage, Low coverage amounts ($5K-$25K typically)",
		"Pivot: Those are designed for people who can't qualify for anything else. With your health, you probably have better options.",
	},
	topicEmployerCoverage: {
		"What it is: Group life insurance through work, usually 1-2x salary.",
		"Problems: Disappears when you leave the job, Can't take it with you (not portable), Coverage amount usually too low, No living benefits",
		"Pivot: Work coverage is a nice bonus but it's not something you own. What's your backup plan?",
	},
	topicLivingBenefits: {
		"What it is: Ability to access death benefit while alive if diagnosed with chronic, critical, or terminal illness.",
		"Benefits: Access 50-100% of death benefit if terminally ill, Critical illness for heart attack, stroke, cancer, Don't have to die to use the policy",
		"Hook: Most people have life insurance that only pays when they die. The new policies pay while you're alive too.",
	},
	topicDiabetes: {
		"Type 2 controlled: Standard rates possible with A1C under 7.5, no complications",
		"Type 2 uncontrolled: Substandard rates, may need guaranteed issue",
		"Type 1: Limited carriers, higher rates, but still insurable",
	},
	topicHeart: {
		"History: Depends on how recent and severity. Many carriers write after 1-2 years stable.",
		"Stent: Usually insurable 6-12 months post-procedure if stable",
		"Bypass: Longer wait, but options exist",
	},
	topicCancer: {
		"In remission: Most carriers want 2-5 years cancer-free depending on type",
		"Active: Very limited options, may need guaranteed issue",
	},
	topicGeneralHealth: {
		"Most conditions leave more options than a guaranteed-issue policy. Probe specifics before pivoting.",
	},
	topicNotInterested: {
		"Meaning: Usually means 'I don't see the value' or 'bad timing'",
		"Move: Fair enough. Was it more the price or just couldn't find the right fit last time?",
	},
	topicAlreadyCovered: {
		"Meaning: Could be real coverage, could be employer coverage, could be trying to end convo",
		"Move: Probe to understand WHAT they have, then identify gaps",
	},
	topicTooExpensive: {
		"Meaning: May not understand value, may have been quoted wrong product",
		"Move: What were they quoting you for coverage?",
	},
	topicNeedToThink: {
		"Meaning: Usually means unresolved objection or not enough urgency",
		"Move: Totally get it. What's the main thing you're weighing?",
	},
	topicSpouseDecision: {
		"Meaning: May be real, may be stall tactic",
		"Move: Smart to include them. Would a quick 3-way call work better?",
	},
	topicBuyingSignal: {
		"Meaning: Stop probing. Close.",
		"Move: Offer two specific times, make the choice binary.",
	},
	topicPension: {
		"Meaning: They think a pension = life insurance. It usually doesn't.",
		"Most pensions pay 0-55% to the spouse and die with them unless a costly survivor option was elected.",
		"Move: Got it, is that the full pension continuing, or the survivor benefit that reduces it?",
	},
}

// Question banks for deterministic trigger replies, one question per turn.

var wholeLifeQuestions = []string{
	"Does that one have living benefits, or just the death benefit?",
	"Do you know what the cash value is right now?",
	"Can you access that money if you got sick?",
}

var giQuestions = []string{
	"Those usually come with a 2-3 year waiting period. Did they mention that when you signed up?",
	"How long ago did you set that one up?",
	"What's the monthly premium on that versus the coverage amount?",
}

var livingBenefitsReplies = []string{
	"Most policies only pay when you die. The newer ones pay while you're alive too. Does yours have that?",
	"Quick check, does your policy pay anything while you're alive, or only the death benefit?",
}

// healthResponses are the per-condition canned replies.
var healthResponses = map[string]string{
	topicDiabetes:      "Good news, with that you've got way more options than a guaranteed-issue policy. Want me to check?",
	topicHeart:         "Heart history doesn't automatically disqualify you. When was the last procedure?",
	topicCancer:        "Cancer history matters for timing. How long have you been in remission?",
	topicGeneralHealth: "With that you've got way more options than a guaranteed-issue policy. Want me to check what you qualify for?",
}

var spouseDecisionReplies = []string{
	"Smart to include them. Would a quick 3-way call work better?",
	"For sure. What questions do you think they'd have?",
}

// Appointment templates with the slot phrase interpolated at match time.
const (
	buyingSignalTemplate = "Perfect. {slots}, which works better?"
	priceAnswerTemplate  = "Honest answer, it depends on age and health. {slots} for a quick call, which works better?"
)

// FormatKnowledge renders the blocks for the matched topics as a prompt
// section. Empty input renders nothing.
func FormatKnowledge(topics []string) string {
	if len(topics) == 0 {
		return ""
	}
	lines := []string{"RELEVANT KNOWLEDGE FOR THIS MESSAGE:"}
	for _, topic := range topics {
		block, ok := knowledgeBlocks[topic]
		if !ok {
			continue
		}
		lines = append(lines, "", "["+strings.ToUpper(topic)+"]")
		for _, l := range block {
			lines = append(lines, "  "+l)
		}
	}
	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}
