package engine

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// themeKeywords maps each question theme to the phrasings that mark it.
// A full phrase hit scores 1.0; partial token overlap scores the matched
// fraction, so reworded repeats of the same question still register.
var themeKeywords = map[models.Theme][]string{
	models.ThemeRetirementPortability: {
		"continue after retirement", "leave your job", "retire", "portable",
		"convert it", "goes with you", "when you leave", "portability",
		"if you quit", "stop working", "leaving the company",
	},
	models.ThemePolicyType: {
		"term or whole", "term or permanent", "what type", "kind of policy",
		"is it term", "is it whole life", "iul", "universal life",
	},
	models.ThemeLivingBenefits: {
		"living benefits", "accelerated death", "chronic illness",
		"critical illness", "terminal illness", "access while alive",
	},
	models.ThemeCoverageGoal: {
		"what made you", "why did you", "what's the goal", "what were you",
		"originally looking", "why coverage", "what prompted",
		"got you looking", "what got you",
	},
	models.ThemeOtherPolicies: {
		"other policies", "any other", "additional coverage", "also have",
		"multiple policies", "work policy", "another plan",
	},
	models.ThemeMotivation: {
		"what's on your mind", "what's been on", "what specifically",
		"what are you thinking", "what concerns you",
	},
	models.ThemeFamily: {
		"are you married", "do you have a spouse", "do you have kids",
		"how many kids", "do you have children", "anyone depending on",
		"who would the coverage protect",
	},
	models.ThemeHealth: {
		"any health conditions", "health issues", "medical conditions",
		"how's your health", "pills or insulin", "your a1c",
	},
	models.ThemeCoverageAmount: {
		"how much coverage", "coverage amount", "amount of coverage",
		"what coverage amount", "how much were you thinking",
	},
}

// themeOrder fixes iteration order for deterministic detection output.
var themeOrder = []models.Theme{
	models.ThemeRetirementPortability,
	models.ThemePolicyType,
	models.ThemeLivingBenefits,
	models.ThemeCoverageGoal,
	models.ThemeOtherPolicies,
	models.ThemeMotivation,
	models.ThemeFamily,
	models.ThemeHealth,
	models.ThemeCoverageAmount,
}

// themeMatchThreshold is the similarity a candidate needs before it counts
// as carrying a theme.
const themeMatchThreshold = 0.75

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9\s]`)

// normalizeTokens lowercases, strips punctuation, and splits into words.
func normalizeTokens(text string) []string {
	lowered := nonAlnumRe.ReplaceAllString(strings.ToLower(text), " ")
	return strings.Fields(lowered)
}

// tokenMatches treats two tokens as equivalent when equal or when one is a
// prefix of the other ("retire" matches "retirement").
func tokenMatches(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) < 4 || len(b) < 4 {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// ThemeScore rates how strongly text carries a theme, 0 to 1. A keyword
// appearing verbatim scores 1.0; otherwise multi-word keywords score their
// matched token fraction.
func ThemeScore(text string, theme models.Theme) float64 {
	keywords := themeKeywords[theme]
	if len(keywords) == 0 {
		return 0
	}
	lowered := strings.ToLower(text)
	tokens := normalizeTokens(text)

	best := 0.0
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return 1.0
		}
		kwTokens := strings.Fields(kw)
		if len(kwTokens) < 2 {
			continue
		}
		matched := 0
		for _, kt := range kwTokens {
			for _, tt := range tokens {
				if tokenMatches(kt, tt) {
					matched++
					break
				}
			}
		}
		if frac := float64(matched) / float64(len(kwTokens)); frac > best {
			best = frac
		}
	}
	return best
}

// DetectThemes returns every theme the text carries at or above the match
// threshold, in fixed order.
func DetectThemes(text string) []models.Theme {
	var out []models.Theme
	for _, theme := range themeOrder {
		if ThemeScore(text, theme) >= themeMatchThreshold {
			out = append(out, theme)
		}
	}
	return out
}
