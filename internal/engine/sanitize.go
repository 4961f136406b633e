// Package engine implements the conversation orchestration core for
// LeadPipe.
//
// One inbound lead message goes through a fixed pipeline: score the
// previous outbound message, extract profile facts, advance the stage,
// match triggers, run the objection sub-flow when it owns the turn, draft a
// generative reply behind the policy gate, and fall back to the playbook
// when everything else declines. The engine always produces exactly one
// reply per turn.
package engine

import (
	"regexp"
	"strings"
)

var (
	thinkingTagRe   = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)
	reflectionTagRe = regexp.MustCompile(`(?s)<reflection>.*?</reflection>`)
	replyTagRe      = regexp.MustCompile(`</?reply>`)
	anyTagRe        = regexp.MustCompile(`<[^>]+>`)
	dashRe          = regexp.MustCompile(`\s*[\x{2014}\x{2013}\x{2212}]\s*`)
	spaceRunRe      = regexp.MustCompile(`[ \t]{2,}`)
)

// typographyReplacer normalizes characters no human types on a phone.
var typographyReplacer = strings.NewReplacer(
	"…", "...",
	"‘", "'",
	"’", "'",
	"“", `"`,
	"”", `"`,
)

// CleanReply strips model scaffolding and normalizes typography so the text
// reads like a human SMS. Em and en dashes become commas.
func CleanReply(text string) string {
	text = thinkingTagRe.ReplaceAllString(text, "")
	text = reflectionTagRe.ReplaceAllString(text, "")
	text = replyTagRe.ReplaceAllString(text, "")
	text = anyTagRe.ReplaceAllString(text, "")
	text = dashRe.ReplaceAllString(text, ", ")
	text = typographyReplacer.Replace(text)
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	text = strings.Trim(text, ",")
	return strings.TrimSpace(text)
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// QuestionCount counts question marks.
func QuestionCount(text string) int {
	return strings.Count(text, "?")
}

// containsAny reports whether lowered contains any of the needles.
// Needles must already be lowercase.
func containsAny(lowered string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(lowered, n) {
			return true
		}
	}
	return false
}

// firstMatch returns the first needle found in lowered, or "".
func firstMatch(lowered string, needles ...string) string {
	for _, n := range needles {
		if strings.Contains(lowered, n) {
			return n
		}
	}
	return ""
}
