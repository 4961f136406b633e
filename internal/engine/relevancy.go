package engine

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// The relevancy rules keep the agent from asking the same thing twice. Three
// rules, checked in precedence order: a hard block on the portability angle
// once it cannot apply, a block on themes whose facts are already confirmed,
// and a recency block on themes raised in the last few agent messages.
// Appointment offers are exempt from all three; a blocked candidate gets
// replaced by an offer, never by silence.

// recentWindow is how many prior agent messages the recency rule considers.
const recentWindow = 5

// timeIndicatorRe spots concrete scheduling language: day words, clock
// times, and meridiems. Matches lowercased text.
var timeIndicatorRe = regexp.MustCompile(`\b(today|tomorrow|tonight|morning|afternoon|evening|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b|\b\d{1,2}:\d{2}\b|\b\d{1,2}\s*(am|pm)\b|o'?clock`)

// IsAppointmentOffer reports whether text offers concrete meeting times.
func IsAppointmentOffer(text string) bool {
	lowered := strings.ToLower(text)
	if strings.Contains(lowered, "which works") || strings.Contains(lowered, "what works") {
		return true
	}
	return timeIndicatorRe.MatchString(lowered) && strings.Contains(lowered, " or ")
}

// RelevancyVerdict says whether a candidate reply may go out, and if not,
// which theme blocked it.
type RelevancyVerdict struct {
	Allowed bool
	Theme   models.Theme
	Reason  string
}

func allowed() RelevancyVerdict {
	return RelevancyVerdict{Allowed: true}
}

func blocked(theme models.Theme, reason string) RelevancyVerdict {
	return RelevancyVerdict{Theme: theme, Reason: reason}
}

// CheckRelevancy runs the three blocking rules against a candidate reply.
// recent must be the latest agent messages, newest first; only the first
// recentWindow entries are considered.
func CheckRelevancy(candidate string, profile *models.QualificationProfile, recent []models.AgentMessageRecord) RelevancyVerdict {
	if IsAppointmentOffer(candidate) {
		return allowed()
	}
	themes := DetectThemes(candidate)
	if len(themes) == 0 {
		return allowed()
	}

	// Rule 2: the portability angle is dead once we know the policy is the
	// lead's own, or known not to be employer coverage.
	for _, theme := range themes {
		if theme != models.ThemeRetirementPortability || profile == nil {
			continue
		}
		personal := profile.IsPersonalPolicy != nil && *profile.IsPersonalPolicy
		notEmployer := profile.IsEmployerBased != nil && !*profile.IsEmployerBased
		if personal || notEmployer {
			return blocked(theme, "portability does not apply to a personal policy")
		}
	}

	// Rule 3: never re-ask a fact the profile already holds.
	if profile != nil {
		for _, theme := range themes {
			if themeAnswered(profile, theme) {
				return blocked(theme, "fact already confirmed")
			}
		}
	}

	// Rule 1: never repeat a theme raised in the recent agent messages.
	if len(recent) > recentWindow {
		recent = recent[:recentWindow]
	}
	for _, rec := range recent {
		prior := rec.Themes
		if len(prior) == 0 {
			prior = DetectThemes(rec.Body)
		}
		for _, theme := range themes {
			for _, pt := range prior {
				if theme == pt {
					return blocked(theme, "asked recently")
				}
			}
		}
	}
	return allowed()
}

// themeAnswered reports whether the profile already holds the fact a theme
// asks about. Other-policies stays open; there is always room for one more
// policy to surface.
func themeAnswered(p *models.QualificationProfile, theme models.Theme) bool {
	switch theme {
	case models.ThemePolicyType:
		return p.IsTerm != nil || p.IsWholeLife != nil || p.IsIUL != nil || p.IsGuaranteedIssue != nil
	case models.ThemeLivingBenefits:
		return p.HasLivingBenefits != nil
	case models.ThemeCoverageGoal, models.ThemeMotivation:
		return p.MotivatingGoal != ""
	case models.ThemeFamily:
		return p.HasSpouse != nil && p.NumKids != nil
	case models.ThemeHealth:
		return len(p.HealthConditions) > 0
	case models.ThemeCoverageAmount:
		return p.FaceAmount != nil
	default:
		return false
	}
}
