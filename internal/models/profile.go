// Package models defines the qualification profile accumulated per lead.
package models

import "time"

// QualificationProfile accumulates everything learned about a lead across
// the whole conversation. Tri-state facts use pointers: nil means unknown.
// Merges follow first-confident-wins; only MotivatingGoal may be refined
// after it is first set.
type QualificationProfile struct {
	ContactID string `json:"contact_id"`

	// Coverage facts.
	HasPolicy         *bool `json:"has_policy,omitempty"`
	IsTerm            *bool `json:"is_term,omitempty"`
	IsWholeLife       *bool `json:"is_whole_life,omitempty"`
	IsIUL             *bool `json:"is_iul,omitempty"`
	IsGuaranteedIssue *bool `json:"is_guaranteed_issue,omitempty"`
	TermLength        *int  `json:"term_length,omitempty"` // years
	FaceAmount        *int  `json:"face_amount,omitempty"` // dollars

	// Source facts.
	IsPersonalPolicy  *bool  `json:"is_personal_policy,omitempty"`
	IsEmployerBased   *bool  `json:"is_employer_based,omitempty"`
	Carrier           string `json:"carrier,omitempty"`
	HasLivingBenefits *bool  `json:"has_living_benefits,omitempty"`

	// Family facts.
	HasSpouse     *bool `json:"has_spouse,omitempty"`
	NumKids       *int  `json:"num_kids,omitempty"`
	HasDependents *bool `json:"has_dependents,omitempty"`

	// Health facts.
	HealthConditions []string `json:"health_conditions,omitempty"`
	TobaccoUser      *bool    `json:"tobacco_user,omitempty"`
	Age              *int     `json:"age,omitempty"`

	// Motivation.
	MotivatingGoal string   `json:"motivating_goal,omitempty"`
	Blockers       []string `json:"blockers,omitempty"`

	TopicsAsked map[Theme]bool `json:"topics_asked,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewQualificationProfile returns an empty profile for the contact.
func NewQualificationProfile(contactID string) *QualificationProfile {
	return &QualificationProfile{
		ContactID:   contactID,
		TopicsAsked: make(map[Theme]bool),
		UpdatedAt:   time.Now(),
	}
}

// BoolPtr returns a pointer to b. Convenience for literal profile facts.
func BoolPtr(b bool) *bool {
	return &b
}

// IntPtr returns a pointer to i.
func IntPtr(i int) *int {
	return &i
}

// HasHealthCondition reports whether the named condition was already recorded.
func (p *QualificationProfile) HasHealthCondition(condition string) bool {
	for _, c := range p.HealthConditions {
		if c == condition {
			return true
		}
	}
	return false
}

// AddHealthCondition records a health condition once. Returns true when the
// profile changed.
func (p *QualificationProfile) AddHealthCondition(condition string) bool {
	if condition == "" || p.HasHealthCondition(condition) {
		return false
	}
	p.HealthConditions = append(p.HealthConditions, condition)
	return true
}

// HasBlocker reports whether the named blocker was already recorded.
func (p *QualificationProfile) HasBlocker(blocker string) bool {
	for _, b := range p.Blockers {
		if b == blocker {
			return true
		}
	}
	return false
}

// AddBlocker records an engagement blocker once. Returns true when the
// profile changed.
func (p *QualificationProfile) AddBlocker(blocker string) bool {
	if blocker == "" || p.HasBlocker(blocker) {
		return false
	}
	p.Blockers = append(p.Blockers, blocker)
	return true
}
