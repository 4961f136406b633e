package engine

import (
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func themesContain(themes []models.Theme, want models.Theme) bool {
	for _, t := range themes {
		if t == want {
			return true
		}
	}
	return false
}

func TestDetectThemes_Retirement(t *testing.T) {
	questions := []string{
		"Would your coverage continue after retirement?",
		"Does that policy go with you when you leave?",
		"Is it portable if you quit?",
	}
	for _, q := range questions {
		if !themesContain(DetectThemes(q), models.ThemeRetirementPortability) {
			t.Errorf("retirement theme not detected in %q", q)
		}
	}
}

func TestDetectThemes_Motivation(t *testing.T) {
	if !themesContain(DetectThemes("What's been on your mind about coverage?"), models.ThemeMotivation) {
		t.Error("motivation theme not detected")
	}
}

func TestDetectThemes_PolicyType(t *testing.T) {
	if !themesContain(DetectThemes("is it term or whole life"), models.ThemePolicyType) {
		t.Error("policy type theme not detected in sloppy text")
	}
}

func TestDetectThemes_NoThemeOnProgression(t *testing.T) {
	progression := []string{
		"Perfect. I have some time tonight or tomorrow morning.",
		"I understand. When would you want to get started?",
		"Want to hop on a quick call to go over options?",
	}
	for _, q := range progression {
		if got := DetectThemes(q); len(got) != 0 {
			t.Errorf("progression %q unexpectedly carries themes %v", q, got)
		}
	}
}

func TestThemeScore_VerbatimBeatsPartial(t *testing.T) {
	if got := ThemeScore("How much coverage are you thinking?", models.ThemeCoverageAmount); got != 1.0 {
		t.Errorf("verbatim keyword should score 1.0, got %v", got)
	}
	// Two of three tokens from "what got you" is below threshold.
	if got := ThemeScore("Got it. How much coverage are you thinking?", models.ThemeCoverageGoal); got >= themeMatchThreshold {
		t.Errorf("partial overlap should stay under threshold, got %v", got)
	}
}

func TestThemeScore_SuffixStemming(t *testing.T) {
	// "retire" should register inside "retirement" for partial matches.
	if !tokenMatches("retire", "retirement") {
		t.Error("prefix stemming failed for retire/retirement")
	}
	if tokenMatches("or", "order") {
		t.Error("short tokens must need exact equality")
	}
}
