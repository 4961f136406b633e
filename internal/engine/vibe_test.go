package engine

import (
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func TestClassifyVibe(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    models.Vibe
	}{
		{"empty is neutral", "", models.VibeNeutral},
		{"whitespace is neutral", "   ", models.VibeNeutral},
		{"stop request is dismissive", "stop texting me", models.VibeDismissive},
		{"leave me alone is dismissive", "seriously, leave me alone", models.VibeDismissive},
		{"carrier stop keyword is dismissive", "STOP", models.VibeDismissive},
		{"stop with punctuation is dismissive", "stop.", models.VibeDismissive},
		{"worry plus question is need", "I'm worried about what happens to my kids if something happens to me?", models.VibeNeed},
		{"family protection is need", "I want to make sure my wife is protected if I pass away", models.VibeNeed},
		{"cost question is direction", "how much does something like this cost", models.VibeDirection},
		{"bare question is direction", "what company are you with?", models.VibeDirection},
		{"volunteered facts are information", "I have a term policy through my employer at work", models.VibeInformation},
		{"dollar figure is information", "we pay about $80 a month for the current one", models.VibeInformation},
		{"short negative is objection", "no thanks", models.VibeObjection},
		{"terse brushoff is objection", "busy", models.VibeObjection},
		{"short flat reply is objection", "maybe later", models.VibeObjection},
		{"long neutral chat is neutral", "well that is certainly an interesting thing to bring up today", models.VibeNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyVibe(tt.message); got != tt.want {
				t.Errorf("ClassifyVibe(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestOutcomeScore(t *testing.T) {
	tests := []struct {
		name    string
		vibe    models.Vibe
		message string
		want    float64
	}{
		{"ghosted is negative", models.VibeGhosted, "", -1.0},
		{"dismissive is zero", models.VibeDismissive, "stop texting me", 0.0},
		{"need is highest", models.VibeNeed, "I'm worried about leaving my family with my debt", 4.0},
		{"direction scores three", models.VibeDirection, "how much would it cost", 3.0},
		{"information scores two", models.VibeInformation, "I have term through work", 2.0},
		{"substantive neutral scores one", models.VibeNeutral, "that is one way of looking at it I suppose", 1.0},
		{"terse objection scores half", models.VibeObjection, "nah", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutcomeScore(tt.vibe, tt.message); got != tt.want {
				t.Errorf("OutcomeScore(%q, %q) = %v, want %v", tt.vibe, tt.message, got, tt.want)
			}
		})
	}
}

func TestIsOptOut(t *testing.T) {
	optOuts := []string{
		"STOP", "stop", "Stop.", "stopall", "STOP ALL", "unsubscribe",
		"cancel", "end", "quit", "stop texting me", "please remove me from your list",
		"do not contact me again",
	}
	for _, msg := range optOuts {
		if !IsOptOut(msg) {
			t.Errorf("IsOptOut(%q) = false, want true", msg)
		}
	}

	notOptOuts := []string{
		"", "can't stop thinking about it", "when does the policy end",
		"not interested", "no thanks", "I want to cancel my current policy",
	}
	for _, msg := range notOptOuts {
		if IsOptOut(msg) {
			t.Errorf("IsOptOut(%q) = true, want false", msg)
		}
	}
}

func TestIsSoftDismissive(t *testing.T) {
	if !IsSoftDismissive("that's personal, why do you need to know") {
		t.Error("privacy pushback not flagged as soft dismissive")
	}
	if !IsSoftDismissive("none of your business") {
		t.Error("boundary pushback not flagged as soft dismissive")
	}
	if IsSoftDismissive("stop texting me") {
		t.Error("hard stop request flagged as soft dismissive")
	}
}

func TestBankFor(t *testing.T) {
	tests := []struct {
		vibe models.Vibe
		want models.PatternBank
	}{
		{models.VibeObjection, models.BankRecovery},
		{models.VibeDismissive, models.BankRecovery},
		{models.VibeNeed, models.BankForward},
		{models.VibeDirection, models.BankForward},
		{models.VibeInformation, models.BankForward},
		{models.VibeNeutral, models.BankForward},
	}
	for _, tt := range tests {
		if got := BankFor(tt.vibe); got != tt.want {
			t.Errorf("BankFor(%q) = %q, want %q", tt.vibe, got, tt.want)
		}
	}
}

func TestPatternCategoryFor(t *testing.T) {
	tests := []struct {
		name    string
		vibe    models.Vibe
		message string
		want    models.PatternCategory
	}{
		{"price pushback", models.VibeObjection, "that's too expensive for me", models.PatternPriceObjection},
		{"busy brushoff", models.VibeObjection, "busy, bad time", models.PatternBadTiming},
		{"flat rejection", models.VibeObjection, "nah", models.PatternNotInterested},
		{"already covered brushoff", models.VibeObjection, "all set", models.PatternHasCoverage},
		{"identity challenge", models.VibeDismissive, "who is this", models.PatternUnknownSender},
		{"unclassifiable objection", models.VibeObjection, "whatever", models.PatternGeneralObjection},
		{"spouse fact", models.VibeInformation, "my wife handles our bills", models.PatternHasSpouse},
		{"employer coverage fact", models.VibeInformation, "I get some through my job", models.PatternEmployerCoverage},
		{"price question", models.VibeDirection, "how much is it", models.PatternAskingPrice},
		{"generic engagement", models.VibeNeed, "I'm worried about my family", models.PatternGeneralEngagement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PatternCategoryFor(tt.vibe, tt.message); got != tt.want {
				t.Errorf("PatternCategoryFor(%q, %q) = %q, want %q", tt.vibe, tt.message, got, tt.want)
			}
		})
	}
}
