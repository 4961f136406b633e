package engine

import (
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func TestIsAppointmentOffer(t *testing.T) {
	offers := []string{
		"I have some time at 6:30 tonight or 10:15 tomorrow.",
		"I can do a 15 minute review, which works better?",
		"Free Tuesday morning or Thursday at 2pm?",
	}
	for _, msg := range offers {
		if !IsAppointmentOffer(msg) {
			t.Errorf("IsAppointmentOffer(%q) = false, want true", msg)
		}
	}
	notOffers := []string{
		"Want to hop on a quick call to go over options?",
		"What got you looking into coverage?",
		"Totally fair. Most folks feel that way at first.",
	}
	for _, msg := range notOffers {
		if IsAppointmentOffer(msg) {
			t.Errorf("IsAppointmentOffer(%q) = true, want false", msg)
		}
	}
}

func TestCheckRelevancy_RepeatThemeBlocked(t *testing.T) {
	recent := []models.AgentMessageRecord{
		{Body: "What originally got you looking?"},
	}
	verdict := CheckRelevancy("So what got you looking into this?", nil, recent)
	if verdict.Allowed {
		t.Fatal("repeat of a recent theme should be blocked")
	}
	if verdict.Theme != models.ThemeCoverageGoal {
		t.Errorf("blocked theme = %q, want %q", verdict.Theme, models.ThemeCoverageGoal)
	}
}

func TestCheckRelevancy_StoredThemesUsed(t *testing.T) {
	// When a record carries stored themes, the body is not re-scanned.
	recent := []models.AgentMessageRecord{
		{Body: "placeholder", Themes: []models.Theme{models.ThemePolicyType}},
	}
	verdict := CheckRelevancy("Is it term or whole life?", nil, recent)
	if verdict.Allowed {
		t.Fatal("stored theme overlap should be blocked")
	}
	if verdict.Theme != models.ThemePolicyType {
		t.Errorf("blocked theme = %q, want %q", verdict.Theme, models.ThemePolicyType)
	}
}

func TestCheckRelevancy_DifferentThemeAllowed(t *testing.T) {
	recent := []models.AgentMessageRecord{
		{Body: "What originally got you looking?"},
	}
	verdict := CheckRelevancy("How much coverage are you thinking?", nil, recent)
	if !verdict.Allowed {
		t.Fatalf("fresh theme blocked: %s", verdict.Reason)
	}
}

func TestCheckRelevancy_WindowCapped(t *testing.T) {
	recent := make([]models.AgentMessageRecord, 0, recentWindow+1)
	for i := 0; i < recentWindow; i++ {
		recent = append(recent, models.AgentMessageRecord{
			Themes: []models.Theme{models.ThemeHealth},
		})
	}
	// Sixth record is past the window; its theme must not block.
	recent = append(recent, models.AgentMessageRecord{
		Themes: []models.Theme{models.ThemeCoverageGoal},
	})
	verdict := CheckRelevancy("What got you looking into this?", nil, recent)
	if !verdict.Allowed {
		t.Errorf("theme outside the recent window blocked: %s", verdict.Reason)
	}
}

func TestCheckRelevancy_PersonalPolicyKillsPortability(t *testing.T) {
	candidate := "Does that coverage go with you when you leave?"

	personal := models.NewQualificationProfile("c1")
	personal.IsPersonalPolicy = models.BoolPtr(true)
	verdict := CheckRelevancy(candidate, personal, nil)
	if verdict.Allowed {
		t.Fatal("portability question should be dead against a personal policy")
	}
	if verdict.Theme != models.ThemeRetirementPortability {
		t.Errorf("blocked theme = %q, want %q", verdict.Theme, models.ThemeRetirementPortability)
	}

	notEmployer := models.NewQualificationProfile("c2")
	notEmployer.IsEmployerBased = models.BoolPtr(false)
	if CheckRelevancy(candidate, notEmployer, nil).Allowed {
		t.Error("portability question should be dead once employer coverage is ruled out")
	}

	employer := models.NewQualificationProfile("c3")
	employer.IsEmployerBased = models.BoolPtr(true)
	if v := CheckRelevancy(candidate, employer, nil); !v.Allowed {
		t.Errorf("portability is the whole angle against employer coverage, blocked: %s", v.Reason)
	}
}

func TestCheckRelevancy_KnownFactBlocked(t *testing.T) {
	profile := models.NewQualificationProfile("c1")
	profile.FaceAmount = models.IntPtr(250000)
	profile.HealthConditions = []string{"diabetes"}

	verdict := CheckRelevancy("How much coverage are you thinking?", profile, nil)
	if verdict.Allowed {
		t.Fatal("coverage amount already confirmed, question should be blocked")
	}
	if verdict.Theme != models.ThemeCoverageAmount {
		t.Errorf("blocked theme = %q, want %q", verdict.Theme, models.ThemeCoverageAmount)
	}

	if CheckRelevancy("Any health conditions I should know about?", profile, nil).Allowed {
		t.Error("health already on file, question should be blocked")
	}
}

func TestCheckRelevancy_FamilyNeedsBothFacts(t *testing.T) {
	profile := models.NewQualificationProfile("c1")
	profile.HasSpouse = models.BoolPtr(true)

	if v := CheckRelevancy("Do you have kids?", profile, nil); !v.Allowed {
		t.Fatalf("kids still unknown, question blocked: %s", v.Reason)
	}

	profile.NumKids = models.IntPtr(2)
	if CheckRelevancy("Do you have kids?", profile, nil).Allowed {
		t.Error("family fully known, question should be blocked")
	}
}

func TestCheckRelevancy_AppointmentOfferExempt(t *testing.T) {
	offer := "I have 6:30 tonight or 10:15 tomorrow morning. Which works better?"
	profile := models.NewQualificationProfile("c1")
	profile.FaceAmount = models.IntPtr(500000)
	recent := []models.AgentMessageRecord{{Body: offer}}

	if v := CheckRelevancy(offer, profile, recent); !v.Allowed {
		t.Errorf("appointment offers are always allowed, blocked: %s", v.Reason)
	}
}

func TestCheckRelevancy_ThemelessAllowed(t *testing.T) {
	recent := []models.AgentMessageRecord{
		{Body: "What originally got you looking?"},
		{Body: "Is it term or whole life?"},
	}
	progression := []string{
		"Want to hop on a quick call to go over options?",
		"Fair enough. Was it the timing or something else?",
	}
	for _, msg := range progression {
		if v := CheckRelevancy(msg, nil, recent); !v.Allowed {
			t.Errorf("themeless reply %q blocked: %s", msg, v.Reason)
		}
	}
}
