package engine

import (
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// The draft prompt is layered system messages: persona and format contract
// first, then per-stage guidance, then everything the engine knows about
// this lead (profile facts, asked themes, ghost history), then curated
// material (knowledge blocks, proven responses, worked examples), and the
// rolling transcript last with the current message as the final user turn.

// maxFewShots bounds the worked examples injected per draft.
const maxFewShots = 3

// basePersona is the fixed contract every draft runs under. The JSON
// envelope instruction matches what the genai client parses back out.
const basePersona = `You are a licensed life insurance agent texting a lead who showed interest in coverage. You text like a real person: short, casual, direct. One thought per message.

HARD RULES:
- 5 to 50 words. This is SMS.
- At most one question per message.
- Never use em dashes.
- Never re-ask something the lead already told you. Their known facts are listed below.
- Never sound like a survey or a script. No "what are you hoping to achieve".

Respond with a JSON object: {"thinking": "...", "content": "..."}. In thinking, rate your draft before you commit to it, each on a 1-10 scale, in exactly this form: "Relevance: N/10, Coherence: N/10, Effectiveness: N/10". In content, put only the text message to send.`

// stageGuidance tells the drafter what this stage of the arc is for.
var stageGuidance = map[models.Stage]string{
	models.StageInitialOutreach: "STAGE: first touch. Feel out why they looked at coverage. Keep it light. Do not mention health, income, or appointments yet.",
	models.StageDiscovery:       "STAGE: discovery. Find who depends on them, what coverage exists, and where the gap is. One probing question at a time.",
	models.StageConsequence:     "STAGE: consequence. They have a gap. Make what it costs their family concrete without scaring them off.",
	models.StageClosing:         "STAGE: closing. They are warm. Offer concrete times and make saying yes easy. Every message should carry a time offer.",
}

// promptInput carries everything the builder folds into one draft request.
type promptInput struct {
	state          *models.ConversationState
	profile        *models.QualificationProfile
	message        string
	provenPatterns []models.Pattern
	ghostedCount   int
	lastUnanswered string
	rejection      string // policy feedback when retrying a rejected draft
}

// buildDraftMessages assembles the chat payload for one generative draft.
func buildDraftMessages(in promptInput) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(basePersona),
	}

	if guidance, ok := stageGuidance[in.state.Stage]; ok {
		messages = append(messages, openai.SystemMessage(guidance))
	}

	if background := formatLeadBackground(in.state, in.profile); background != "" {
		messages = append(messages, openai.SystemMessage(background))
	}

	if burn := FormatBurnContext(in.ghostedCount, in.lastUnanswered); burn != "" {
		messages = append(messages, openai.SystemMessage(burn))
	}

	if topics := IdentifyTopics(in.message); len(topics) > 0 {
		if knowledge := FormatKnowledge(topics); knowledge != "" {
			messages = append(messages, openai.SystemMessage(knowledge))
		}
	}

	if proven := FormatForPrompt(in.provenPatterns); proven != "" {
		messages = append(messages, openai.SystemMessage(proven))
	}

	if examples := FormatFewShots(in.state.Stage, maxFewShots); examples != "" {
		messages = append(messages, openai.SystemMessage("WORKED EXAMPLES:\n\n"+examples))
	}

	if in.rejection != "" {
		messages = append(messages, openai.SystemMessage(
			"Your previous draft was rejected: "+in.rejection+". Write a different message that fixes this."))
	}

	for _, entry := range in.state.Recent {
		if entry.Role == models.RoleLead {
			messages = append(messages, openai.UserMessage(entry.Text))
		} else {
			messages = append(messages, openai.AssistantMessage(entry.Text))
		}
	}

	// The transcript already ends with the current inbound message when the
	// caller appended it before drafting; add it only when it did not.
	if n := len(in.state.Recent); n == 0 || in.state.Recent[n-1].Role != models.RoleLead || in.state.Recent[n-1].Text != in.message {
		messages = append(messages, openai.UserMessage(in.message))
	}

	return messages
}

// formatLeadBackground renders the profile and conversation facts as one
// system block. Only set facts appear; the drafter never sees "unknown".
func formatLeadBackground(state *models.ConversationState, profile *models.QualificationProfile) string {
	var facts []string

	if state.FirstName != "" {
		facts = append(facts, "First name: "+state.FirstName)
	}
	if state.MotivatingGoal != "" {
		facts = append(facts, "Why they looked at coverage: "+state.MotivatingGoal)
	}

	if profile != nil {
		if profile.HasSpouse != nil {
			if *profile.HasSpouse {
				facts = append(facts, "Married or has a partner")
			} else {
				facts = append(facts, "Single")
			}
		}
		if profile.NumKids != nil {
			facts = append(facts, fmt.Sprintf("Kids: %d", *profile.NumKids))
		}
		if profile.HasPolicy != nil && *profile.HasPolicy {
			facts = append(facts, "Already has a policy"+coverageDetail(profile))
		}
		if profile.IsEmployerBased != nil && *profile.IsEmployerBased {
			facts = append(facts, "Coverage is through their employer")
		}
		if profile.Carrier != "" {
			facts = append(facts, "Carrier: "+profile.Carrier)
		}
		if profile.FaceAmount != nil {
			facts = append(facts, fmt.Sprintf("Coverage amount: $%d", *profile.FaceAmount))
		}
		if len(profile.HealthConditions) > 0 {
			facts = append(facts, "Health conditions: "+strings.Join(profile.HealthConditions, ", "))
		}
		if profile.Age != nil {
			facts = append(facts, fmt.Sprintf("Age: %d", *profile.Age))
		}
		if profile.MotivatingGoal != "" && profile.MotivatingGoal != state.MotivatingGoal {
			facts = append(facts, "Motivation: "+profile.MotivatingGoal)
		}
		if len(profile.Blockers) > 0 {
			facts = append(facts, "Pushback so far: "+strings.Join(profile.Blockers, ", "))
		}
	}

	asked := askedThemes(state, profile)
	if len(asked) > 0 {
		facts = append(facts, "Topics already raised (do not re-ask): "+strings.Join(asked, ", "))
	}
	if state.DismissiveCount > 0 {
		facts = append(facts, fmt.Sprintf("Times they pushed back: %d. Tread lightly.", state.DismissiveCount))
	}

	if len(facts) == 0 {
		return ""
	}
	return "WHAT YOU KNOW ABOUT THIS LEAD:\n- " + strings.Join(facts, "\n- ")
}

func coverageDetail(p *models.QualificationProfile) string {
	switch {
	case p.IsTerm != nil && *p.IsTerm:
		return " (term)"
	case p.IsWholeLife != nil && *p.IsWholeLife:
		return " (whole life)"
	case p.IsIUL != nil && *p.IsIUL:
		return " (IUL)"
	case p.IsGuaranteedIssue != nil && *p.IsGuaranteedIssue:
		return " (guaranteed issue)"
	}
	return ""
}

// askedThemes merges the state's and profile's asked-theme sets into a
// sorted-stable list for prompt injection.
func askedThemes(state *models.ConversationState, profile *models.QualificationProfile) []string {
	seen := make(map[models.Theme]bool)
	var out []string
	add := func(m map[models.Theme]bool) {
		for _, theme := range models.AllThemes() {
			if m[theme] && !seen[theme] {
				seen[theme] = true
				out = append(out, string(theme))
			}
		}
	}
	add(state.TopicsAsked)
	if profile != nil {
		add(profile.TopicsAsked)
	}
	return out
}
