package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Reply length band in words. Shorter reads like a bot acknowledgment,
// longer stops reading like an SMS.
const (
	minReplyWords = 5
	maxReplyWords = 50
)

// stageReflectionMinimum is the lowest self-reflection score a draft may
// carry per stage. The first and last impressions get the strict bar.
var stageReflectionMinimum = map[models.Stage]int{
	models.StageInitialOutreach: 7,
	models.StageDiscovery:       6,
	models.StageConsequence:     6,
	models.StageClosing:         7,
}

// surveyPhrases never convert. Leads answer them with silence.
var surveyPhrases = []string{
	"what's the main thing you're hoping to get",
	"what would be ideal for you",
	"what are you hoping to achieve",
	"what's on your mind about insurance",
}

// Topics too heavy for a first touch.
var earlyStageTopicBans = []string{
	"income", "how much do you make", "budget",
	"health", "medical", "conditions", "diabetes", "heart",
}

// Appointment pushes too early read as a sales ambush.
var earlyStagePushBans = []string{
	"tonight", "tomorrow", "set up a call", "schedule",
}

var (
	relevanceRe     = regexp.MustCompile(`(?i)relevance[:\s]*(\d+)`)
	coherenceRe     = regexp.MustCompile(`(?i)coherence[:\s]*(\d+)`)
	effectivenessRe = regexp.MustCompile(`(?i)effectiveness[:\s]*(\d+)`)
)

// ReflectionScores holds the self-ratings the drafter writes into its
// thinking block. Zero means the metric was not found.
type ReflectionScores struct {
	Relevance     int
	Coherence     int
	Effectiveness int
}

// Found reports whether any metric was parsed.
func (r ReflectionScores) Found() bool {
	return r.Relevance > 0 || r.Coherence > 0 || r.Effectiveness > 0
}

// Min returns the lowest parsed metric, or 0 when none were found.
func (r ReflectionScores) Min() int {
	min := 0
	for _, v := range []int{r.Relevance, r.Coherence, r.Effectiveness} {
		if v > 0 && (min == 0 || v < min) {
			min = v
		}
	}
	return min
}

// ParseReflection pulls "Relevance: 8/10" style self-ratings out of a
// thinking block. Missing metrics stay zero; a draft with no parseable
// reflection skips the reflection gate rather than failing it.
func ParseReflection(thinking string) ReflectionScores {
	var s ReflectionScores
	s.Relevance = parseMetric(relevanceRe, thinking)
	s.Coherence = parseMetric(coherenceRe, thinking)
	s.Effectiveness = parseMetric(effectivenessRe, thinking)
	return s
}

func parseMetric(re *regexp.Regexp, text string) int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > 10 {
		return 0
	}
	return n
}

// CheckFormat runs the stage-independent shape checks. Trigger and
// sub-flow output goes through this and nothing more; those texts are
// curated, not generated. Expects text already passed through CleanReply.
func CheckFormat(text string) error {
	words := WordCount(text)
	if words < minReplyWords {
		return fmt.Errorf("%w: %d words is too short", models.ErrPolicyRejected, words)
	}
	if words > maxReplyWords {
		return fmt.Errorf("%w: %d words is too long for an SMS", models.ErrPolicyRejected, words)
	}
	if QuestionCount(text) > 1 {
		return fmt.Errorf("%w: more than one question", models.ErrPolicyRejected)
	}
	if phrase := firstMatch(strings.ToLower(text), surveyPhrases...); phrase != "" {
		return fmt.Errorf("%w: survey-speak %q", models.ErrPolicyRejected, phrase)
	}
	return nil
}

// CheckPolicy runs the full gate on a generated draft: format, the
// reflection floor for the stage, then stage-specific content rules.
// The returned error text doubles as rewrite feedback for the drafter.
func CheckPolicy(text string, stage models.Stage, scores ReflectionScores) error {
	if err := CheckFormat(text); err != nil {
		return err
	}

	if scores.Found() {
		floor, ok := stageReflectionMinimum[stage]
		if !ok {
			floor = stageReflectionMinimum[models.StageDiscovery]
		}
		if min := scores.Min(); min < floor {
			return fmt.Errorf("%w: reflection %d under the stage floor %d", models.ErrPolicyRejected, min, floor)
		}
	}

	lowered := strings.ToLower(text)
	switch stage {
	case models.StageInitialOutreach:
		if topic := firstMatch(lowered, earlyStageTopicBans...); topic != "" {
			return fmt.Errorf("%w: %q is too heavy for a first touch", models.ErrPolicyRejected, topic)
		}
		if push := firstMatch(lowered, earlyStagePushBans...); push != "" {
			return fmt.Errorf("%w: appointment push %q before any engagement", models.ErrPolicyRejected, push)
		}
	case models.StageClosing:
		if QuestionCount(text) > 0 && !timeIndicatorRe.MatchString(lowered) {
			return fmt.Errorf("%w: closing question names no concrete time", models.ErrPolicyRejected)
		}
	}
	return nil
}
