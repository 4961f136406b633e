package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// The generative path drafts a reply, grades it against the policy gate,
// and gives the model exactly one chance to fix a rejected draft with the
// rejection text as feedback. A draft that survives policy still has to
// clear the relevancy rules; a relevancy block swaps in an appointment
// offer instead of asking the lead the same thing twice.

// draftAttempts is the total generation budget per turn: the first draft
// plus one rewrite.
const draftAttempts = 2

// draftReply runs the generative path for one turn. The returned source is
// ReplySourceDraft for a surviving draft and ReplySourcePlaybook when the
// relevancy rules substituted an offer. Errors mean the path produced
// nothing usable and the caller should fall back.
func (e *Engine) draftReply(tc *turnContext, vibe models.Vibe) (string, models.ReplySource, error) {
	if e.gen == nil {
		return "", "", models.ErrDraftUnavailable
	}

	ghostedCount, lastUnanswered := e.scorer.GhostContext(tc.state.ContactID)
	in := promptInput{
		state:          tc.state,
		profile:        tc.profile,
		message:        tc.message,
		provenPatterns: e.library.Best(BankFor(vibe), PatternCategoryFor(vibe, tc.message)),
		ghostedCount:   ghostedCount,
		lastUnanswered: lastUnanswered,
	}

	var lastErr error
	for attempt := 1; attempt <= draftAttempts; attempt++ {
		resp, err := e.gen.GenerateThinkingWithMessages(tc.ctx, buildDraftMessages(in))
		if err != nil {
			slog.Error("Engine.draftReply: generation failed",
				"contactID", tc.state.ContactID, "attempt", attempt, "error", err)
			return "", "", fmt.Errorf("%w: %v", models.ErrDraftUnavailable, err)
		}

		text := CleanReply(resp.Content)
		if text == "" {
			return "", "", fmt.Errorf("%w: empty draft", models.ErrDraftUnavailable)
		}

		scores := ParseReflection(resp.Thinking)
		if err := CheckPolicy(text, tc.state.Stage, scores); err != nil {
			slog.Debug("Engine.draftReply: draft rejected",
				"contactID", tc.state.ContactID, "attempt", attempt, "reason", err)
			in.rejection = rejectionFeedback(err)
			lastErr = err
			continue
		}

		recent, err := e.st.GetRecentAgentMessages(tc.state.ContactID, recentWindow)
		if err != nil {
			slog.Error("Engine.draftReply: recent lookup failed",
				"contactID", tc.state.ContactID, "error", err)
		}
		if verdict := CheckRelevancy(text, tc.profile, recent); !verdict.Allowed {
			slog.Info("Engine.draftReply: draft blocked by relevancy, offering times instead",
				"contactID", tc.state.ContactID, "theme", verdict.Theme, "reason", verdict.Reason)
			return PlaybookResponse(SituationOfferTimes, tc.playbookWithSlots()), models.ReplySourcePlaybook, nil
		}

		return text, models.ReplySourceDraft, nil
	}

	if lastErr == nil {
		lastErr = models.ErrPolicyRejected
	}
	if !errors.Is(lastErr, models.ErrPolicyRejected) {
		lastErr = fmt.Errorf("%w: %v", models.ErrPolicyRejected, lastErr)
	}
	return "", "", lastErr
}

// rejectionFeedback turns a policy error into the feedback line fed to the
// rewrite attempt, without the sentinel prefix.
func rejectionFeedback(err error) string {
	feedback := err.Error()
	if cut, ok := strings.CutPrefix(feedback, models.ErrPolicyRejected.Error()+": "); ok {
		return cut
	}
	return feedback
}
