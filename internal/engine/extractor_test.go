package engine

import (
	"errors"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func hasLabel(changed []string, label string) bool {
	for _, c := range changed {
		if c == label {
			return true
		}
	}
	return false
}

func TestExtractFacts_Family(t *testing.T) {
	p := models.NewQualificationProfile("c1")
	changed, err := ExtractFacts(p, "My wife keeps asking about it and we have 2 kids")
	if err != nil {
		t.Fatalf("ExtractFacts: %v", err)
	}
	if p.HasSpouse == nil || !*p.HasSpouse {
		t.Error("expected HasSpouse true")
	}
	if p.NumKids == nil || *p.NumKids != 2 {
		t.Errorf("expected NumKids 2, got %v", p.NumKids)
	}
	if p.MotivatingGoal != "spouse pressure" {
		t.Errorf("expected spouse pressure motivation, got %q", p.MotivatingGoal)
	}
	for _, label := range []string{"spouse", "kids", "motivation"} {
		if !hasLabel(changed, label) {
			t.Errorf("changed missing %q: %v", label, changed)
		}
	}
	if !p.TopicsAsked[models.ThemeFamily] {
		t.Error("family theme should be marked answered")
	}
}

func TestExtractFacts_EmployerAmount(t *testing.T) {
	p := models.NewQualificationProfile("c1")
	changed, err := ExtractFacts(p, "I've got 50k through work")
	if err != nil {
		t.Fatalf("ExtractFacts: %v", err)
	}
	if p.FaceAmount == nil || *p.FaceAmount != 50000 {
		t.Errorf("expected FaceAmount 50000, got %v", p.FaceAmount)
	}
	if p.HasPolicy == nil || !*p.HasPolicy {
		t.Error("expected HasPolicy true")
	}
	if p.IsEmployerBased == nil || !*p.IsEmployerBased {
		t.Error("expected IsEmployerBased true")
	}
	if p.IsPersonalPolicy == nil || *p.IsPersonalPolicy {
		t.Error("expected IsPersonalPolicy false")
	}
	if !hasLabel(changed, "employer_coverage") {
		t.Errorf("changed missing employer_coverage: %v", changed)
	}
}

func TestExtractFacts_NoCoverage(t *testing.T) {
	p := models.NewQualificationProfile("c1")
	if _, err := ExtractFacts(p, "I don't have any coverage right now"); err != nil {
		t.Fatalf("ExtractFacts: %v", err)
	}
	if p.HasPolicy == nil || *p.HasPolicy {
		t.Error("expected HasPolicy false")
	}

	// Negation without a coverage noun must stay inert.
	p = models.NewQualificationProfile("c2")
	if _, err := ExtractFacts(p, "I don't have time for this"); !errors.Is(err, models.ErrExtractionNoOp) {
		t.Errorf("expected ErrExtractionNoOp, got %v", err)
	}
	if p.HasPolicy != nil {
		t.Error("HasPolicy should stay unknown")
	}

	p = models.NewQualificationProfile("c3")
	if _, err := ExtractFacts(p, "Nothing."); err != nil {
		t.Fatalf("ExtractFacts: %v", err)
	}
	if p.HasPolicy == nil || *p.HasPolicy {
		t.Error("bare nothing should mean no coverage")
	}
}

func TestExtractFacts_Health(t *testing.T) {
	p := models.NewQualificationProfile("c1")
	changed, err := ExtractFacts(p, "I'm diabetic and had a stroke last year")
	if err != nil {
		t.Fatalf("ExtractFacts: %v", err)
	}
	if len(p.HealthConditions) != 2 || p.HealthConditions[0] != "diabetes" || p.HealthConditions[1] != "stroke" {
		t.Errorf("unexpected conditions: %v", p.HealthConditions)
	}
	if !hasLabel(changed, "health_diabetes") || !hasLabel(changed, "health_stroke") {
		t.Errorf("changed missing health labels: %v", changed)
	}
	if !p.TopicsAsked[models.ThemeHealth] {
		t.Error("health theme should be marked answered")
	}
}

func TestExtractFacts_Tobacco(t *testing.T) {
	p := models.NewQualificationProfile("c1")
	if _, err := ExtractFacts(p, "I quit smoking last year"); err != nil {
		t.Fatalf("ExtractFacts: %v", err)
	}
	if p.TobaccoUser == nil || !*p.TobaccoUser {
		t.Error("expected TobaccoUser true")
	}
}

func TestExtractFacts_Age(t *testing.T) {
	p := models.NewQualificationProfile("c1")
	if _, err := ExtractFacts(p, "I'm 52, in decent shape"); err != nil {
		t.Fatalf("ExtractFacts: %v", err)
	}
	if p.Age == nil || *p.Age != 52 {
		t.Errorf("expected age 52, got %v", p.Age)
	}
}

func TestExtractFacts_CarrierSetsGuaranteedIssue(t *testing.T) {
	p := models.NewQualificationProfile("c1")
	changed, err := ExtractFacts(p, "I went with Colonial Penn off the TV")
	if err != nil {
		t.Fatalf("ExtractFacts: %v", err)
	}
	if p.Carrier != "colonial penn" {
		t.Errorf("expected colonial penn, got %q", p.Carrier)
	}
	if p.IsGuaranteedIssue == nil || !*p.IsGuaranteedIssue {
		t.Error("expected IsGuaranteedIssue true")
	}
	if !hasLabel(changed, "carrier") {
		t.Errorf("changed missing carrier: %v", changed)
	}
}

func TestExtractFacts_PolicyType(t *testing.T) {
	p := models.NewQualificationProfile("c1")
	changed, err := ExtractFacts(p, "I have a term policy already")
	if err != nil {
		t.Fatalf("ExtractFacts: %v", err)
	}
	if p.IsTerm == nil || !*p.IsTerm {
		t.Error("expected IsTerm true")
	}
	if p.HasPolicy == nil || !*p.HasPolicy {
		t.Error("expected HasPolicy true")
	}
	if !hasLabel(changed, "term_policy") {
		t.Errorf("changed missing term_policy: %v", changed)
	}
}

func TestExtractFacts_FirstConfidentWins(t *testing.T) {
	p := models.NewQualificationProfile("c1")
	if _, err := ExtractFacts(p, "my wife and I talked"); err != nil {
		t.Fatalf("first extract: %v", err)
	}
	if _, err := ExtractFacts(p, "actually I'm divorced"); !errors.Is(err, models.ErrExtractionNoOp) {
		t.Errorf("expected ErrExtractionNoOp, got %v", err)
	}
	if p.HasSpouse == nil || !*p.HasSpouse {
		t.Error("HasSpouse should keep its first confident value")
	}
}

func TestExtractFacts_MotivationRefines(t *testing.T) {
	p := models.NewQualificationProfile("c1")
	if _, err := ExtractFacts(p, "we just bought a house"); err != nil {
		t.Fatalf("first extract: %v", err)
	}
	if p.MotivatingGoal != "new home" {
		t.Fatalf("expected new home, got %q", p.MotivatingGoal)
	}
	changed, err := ExtractFacts(p, "mostly thinking about retirement now")
	if err != nil {
		t.Fatalf("second extract: %v", err)
	}
	if p.MotivatingGoal != "retirement planning" {
		t.Errorf("expected retirement planning, got %q", p.MotivatingGoal)
	}
	if !hasLabel(changed, "motivation") {
		t.Errorf("changed missing motivation: %v", changed)
	}
}

func TestExtractFacts_Idempotent(t *testing.T) {
	p := models.NewQualificationProfile("c1")
	if _, err := ExtractFacts(p, "married, 3 kids, 100k through work"); err != nil {
		t.Fatalf("first extract: %v", err)
	}
	if _, err := ExtractFacts(p, "married, 3 kids, 100k through work"); !errors.Is(err, models.ErrExtractionNoOp) {
		t.Errorf("expected ErrExtractionNoOp on repeat, got %v", err)
	}
}
