package engine

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ---- Word lists ----

// negativeWords signal a brush-off when the reply is short.
var negativeWords = []string{
	"no", "not", "don't", "cant", "can't", "won't", "stop", "remove",
	"unsubscribe", "busy", "later", "maybe", "idk", "nah", "nope", "good",
	"fine", "okay", "ok", "covered", "have insurance", "all set",
	"not interested", "no thanks",
}

// needWords signal an explicit want or worry.
var needWords = []string{
	"worried", "worry", "concern", "scared", "afraid", "should", "need",
	"want", "family", "wife", "husband", "kids", "children", "daughter",
	"son", "baby", "mortgage", "house", "debt", "retire", "retirement",
	"future", "protect", "what if", "happen to me", "pass away", "die",
	"death",
}

// directionWords signal the lead steering the conversation.
var directionWords = []string{
	"how much", "what kind", "tell me", "explain", "options", "rates",
	"cost", "when", "where", "who", "why", "which", "looking for",
	"thinking about", "considering", "interested in", "want to know",
	"curious",
}

// informationIndicators match concrete facts the lead volunteered.
var informationIndicators = []*regexp.Regexp{
	regexp.MustCompile(`\d+k`),
	regexp.MustCompile(`\$\d+`),
	regexp.MustCompile(`\d+ years`),
	regexp.MustCompile(`\d+ kids`),
	regexp.MustCompile(`married`),
	regexp.MustCompile(`single`),
	regexp.MustCompile(`wife|husband|spouse`),
	regexp.MustCompile(`work|job|employer`),
	regexp.MustCompile(`term|whole life|universal`),
	regexp.MustCompile(`state farm|allstate|geico|colonial penn|globe life`),
}

// hardDismissivePhrases are explicit stop-contact requests. They classify
// as dismissive regardless of anything else and end the conversation.
var hardDismissivePhrases = []string{
	"leave me alone", "stop texting", "stop messaging", "stop contacting",
	"remove me", "unsubscribe", "take me off", "do not contact",
	"dont call", "don't call", "never contact",
}

// softDismissivePhrases are privacy pushback without a stop request. They
// raise the resistance ladder but keep the conversation alive.
var softDismissivePhrases = []string{
	"not telling you", "none of your business", "why do you need",
	"thats personal", "that's personal", "too personal",
	"dont want to say", "don't want to say", "not your concern",
	"mind your own", "private", "why should i tell you",
	"what does that matter", "why does that matter",
}

// optOutKeywords are carrier-standard stop words honored as exact messages.
var optOutKeywords = map[string]bool{
	"stop":        true,
	"stopall":     true,
	"stop all":    true,
	"unsubscribe": true,
	"cancel":      true,
	"end":         true,
	"quit":        true,
}

// ---- Classification ----

// ClassifyVibe buckets a lead reply into exactly one vibe. The empty string
// is neutral; ghosting is scored separately because it is the absence of a
// reply, not a reply.
func ClassifyVibe(text string) models.Vibe {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return models.VibeNeutral
	}
	if optOutKeywords[strings.Trim(lowered, ".!")] || containsAny(lowered, hardDismissivePhrases...) {
		return models.VibeDismissive
	}

	words := WordCount(lowered)
	hasQuestion := strings.Contains(lowered, "?")
	hasNegative := containsAny(lowered, negativeWords...)
	hasNeed := containsAny(lowered, needWords...)
	hasDirection := containsAny(lowered, directionWords...)
	hasInfo := false
	for _, re := range informationIndicators {
		if re.MatchString(lowered) {
			hasInfo = true
			break
		}
	}

	switch {
	case hasNeed && (hasDirection || hasInfo || words > 6):
		return models.VibeNeed
	case hasDirection || hasQuestion:
		return models.VibeDirection
	case hasInfo && words > 4:
		return models.VibeInformation
	case hasNegative && words < 5:
		return models.VibeObjection
	case words < 4 && !hasQuestion:
		return models.VibeObjection
	case hasInfo:
		return models.VibeInformation
	default:
		return models.VibeNeutral
	}
}

// OutcomeScore maps a vibe to the learning signal applied to the agent
// message that provoked it.
func OutcomeScore(vibe models.Vibe, replyText string) float64 {
	switch vibe {
	case models.VibeGhosted:
		return -1.0
	case models.VibeDismissive:
		return 0.0
	case models.VibeNeed:
		return 4.0
	case models.VibeDirection:
		return 3.0
	case models.VibeInformation:
		return 2.0
	default:
		if WordCount(replyText) > 4 {
			return 1.0
		}
		return 0.5
	}
}

// BankFor routes a vibe to the pattern bank the next reply should draw from.
func BankFor(vibe models.Vibe) models.PatternBank {
	if vibe == models.VibeObjection || vibe == models.VibeDismissive {
		return models.BankRecovery
	}
	return models.BankForward
}

// PatternCategoryFor buckets a lead reply for pattern lookup. Objecting and
// dismissive replies land in recovery categories, everything else in
// engagement ones.
func PatternCategoryFor(vibe models.Vibe, text string) models.PatternCategory {
	lowered := strings.ToLower(text)
	if vibe == models.VibeObjection || vibe == models.VibeDismissive {
		switch {
		case containsAny(lowered, "not interested", "no thanks", "nah", "nope"):
			return models.PatternNotInterested
		case containsAny(lowered, "busy", "bad time", "call later", "not now"):
			return models.PatternBadTiming
		case containsAny(lowered, "have insurance", "covered", "all set", "good on"):
			return models.PatternHasCoverage
		case containsAny(lowered, "too expensive", "cost", "afford", "money"):
			return models.PatternPriceObjection
		case containsAny(lowered, "who is this", "who are you", "what company"):
			return models.PatternUnknownSender
		default:
			return models.PatternGeneralObjection
		}
	}
	switch {
	case containsAny(lowered, "work", "employer", "job"):
		return models.PatternEmployerCoverage
	case containsAny(lowered, "wife", "husband", "spouse", "married"):
		return models.PatternHasSpouse
	case containsAny(lowered, "kid", "child", "son", "daughter", "baby"):
		return models.PatternHasKids
	case containsAny(lowered, "health", "diabetes", "heart", "cancer", "condition"):
		return models.PatternHealthConcerns
	case containsAny(lowered, "how much", "cost", "rate", "price", "afford"):
		return models.PatternAskingPrice
	case containsAny(lowered, "when", "time", "schedule", "available", "call"):
		return models.PatternScheduling
	default:
		return models.PatternGeneralEngagement
	}
}

// IsHardDismissive reports an explicit stop-contact request.
func IsHardDismissive(text string) bool {
	return containsAny(strings.ToLower(text), hardDismissivePhrases...)
}

// IsSoftDismissive reports privacy pushback short of a stop request.
func IsSoftDismissive(text string) bool {
	return containsAny(strings.ToLower(text), softDismissivePhrases...)
}

// IsOptOut reports whether the message is an opt-out: either a bare
// carrier keyword or a hard stop-contact phrase.
func IsOptOut(text string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	lowered = strings.Trim(lowered, ".!")
	if optOutKeywords[lowered] {
		return true
	}
	return containsAny(lowered, hardDismissivePhrases...)
}
