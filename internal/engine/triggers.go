package engine

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/calendar"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// The trigger map answers high-frequency, low-ambiguity messages without a
// generative call. Priority is a fixed ordered table with objection rows
// above product rows and signal rows last; the first row whose pattern
// matches and whose handler accepts wins the turn.

// slotCache memoizes the calendar lookup so a turn fetches at most once,
// and only when a matched row actually needs times.
type slotCache struct {
	provider calendar.SlotProvider
	fetched  bool
	text     string
}

func newSlotCache(p calendar.SlotProvider) *slotCache {
	return &slotCache{provider: p}
}

// Text returns the slot phrase for this turn, fetching on first use. A nil
// provider or a failed fetch falls back to the static two-option phrase.
func (c *slotCache) Text(ctx context.Context) string {
	if c.fetched {
		return c.text
	}
	c.fetched = true
	c.text = calendar.DefaultStaticSlots
	if c.provider == nil {
		return c.text
	}
	text, err := c.provider.SlotText(ctx)
	if err != nil {
		slog.Error("slotCache.Text: slot fetch failed, using static fallback", "error", err)
		return c.text
	}
	c.text = text
	return c.text
}

// turnContext carries everything a trigger handler can touch while serving
// one inbound message. Handlers return finished reply text, or an empty
// string to decline the match and send the scan on to the next row.
type turnContext struct {
	ctx       context.Context
	message   string
	lowered   string
	state     *models.ConversationState
	profile   *models.QualificationProfile
	library   *PatternLibrary
	slots     *slotCache
	agentName string

	// patternID links the reply back to the library pattern it came from,
	// when one supplied it.
	patternID string
}

func (tc *turnContext) playbook() PlaybookContext {
	return PlaybookContext{
		FirstName: tc.state.FirstName,
		AgentName: tc.agentName,
	}
}

func (tc *turnContext) playbookWithSlots() PlaybookContext {
	pc := tc.playbook()
	pc.Slots = tc.slots.Text(tc.ctx)
	return pc
}

// libraryReply returns the best proven response for the category, filled
// with this turn's context. Bank-wide fallbacks from Best are rejected so a
// category never borrows another category's wording.
func (tc *turnContext) libraryReply(bank models.PatternBank, category models.PatternCategory) string {
	if tc.library == nil {
		return ""
	}
	best := tc.library.Best(bank, category)
	if len(best) == 0 || best[0].Category != category {
		return ""
	}
	pc := tc.playbook()
	if strings.Contains(best[0].ResponseTemplate, "{slots}") {
		pc.Slots = tc.slots.Text(tc.ctx)
	}
	tc.patternID = best[0].ID
	return FillTemplate(best[0].ResponseTemplate, pc)
}

// rotate picks one line from a bank, rotating with the exchange count so
// consecutive fires vary instead of repeating.
func (tc *turnContext) rotate(bank []string) string {
	if len(bank) == 0 {
		return ""
	}
	n := tc.state.ExchangeCount
	if n < 0 {
		n = 0
	}
	return bank[n%len(bank)]
}

// Trigger patterns. Bare-word alternations are word-bounded so prose like
// "sweetheart", "delivered", or "passed away" cannot fire them.
var (
	notInterestedRe    = regexp.MustCompile(`not\s+(really\s+)?interested|no thanks|\bpass\b|not for me`)
	alreadyCoveredRe   = regexp.MustCompile(`\bcovered\b|\ball set\b|already\s*(have|got|set)|taken care|\bhandled\b|found.*policy`)
	tooExpensiveRe     = regexp.MustCompile(`expensive|can'?t.*afford|too much|cost too|pricey`)
	needToThinkRe      = regexp.MustCompile(`think.*about|need.*time|not sure|consider|sleep on`)
	guaranteedIssueRe  = regexp.MustCompile(`guaranteed.*issue|no.*exam|colonial.*penn|globe.*life|\baarp\b|no.*health|no questions|final.*expense|burial`)
	employerCoverageRe = regexp.MustCompile(`through.*work|employer|job.*covers|group.*insurance|company.*pays|\bbenefits\b|work.*policy`)
	termPolicyRe       = regexp.MustCompile(`term.*life|term.*policy|10.?year|15.?year|20.?year|30.?year`)
	permanentPolicyRe  = regexp.MustCompile(`whole.*life|permanent|cash.*value|\biul\b|universal.*life|indexed`)
	livingBenefitsRe   = regexp.MustCompile(`living.*benefit|chronic|critical|terminal|accelerated`)
	diabetesRe         = regexp.MustCompile(`diabet|\ba1c\b|insulin|blood.?sugar`)
	heartRe            = regexp.MustCompile(`\bheart\b|stent|bypass|cardiac|cardiovascular`)
	cancerRe           = regexp.MustCompile(`cancer|tumou?r|oncolog|remission|chemo`)
	generalHealthRe    = regexp.MustCompile(`copd|\boxygen\b|stroke|blood.?pressure|high bp|hypertension|kidney|\bliver\b`)
	spouseDecisionRe   = regexp.MustCompile(`\bwife\b|\bhusband\b|\bspouse\b|\bpartner\b|talk.*to|ask.*them`)
	buyingSignalRe     = regexp.MustCompile(`^\s*(yes|sure|okay|ok|yeah|yep|perfect|works|lets do it|let's do it|sounds good)[!.,?\s]*$|sign me up|i'?m ready|i'?m in\b|when can we talk`)
	priceQuestionRe    = regexp.MustCompile(`how.*much|\bquote\b|\brate\b|\bprice\b|\bcost\b|premium`)

	// pensionRe feeds knowledge injection only; there is no deterministic
	// reply for pension survivorship.
	pensionRe = regexp.MustCompile(`\b(pension|retirement).*?(husband|wife|spouse|survivor|surviving)\b|\b(husband|wife|spouse).*?(pension|retirement)\b|\bsurvivor benefit\b|\bpension continues?\b|\bpension after death\b|\b(pension|retirement).*(when|after).*(die|dies|death)\b`)
)

// triggerEntry is one row of the dispatch table. Priority is row order.
type triggerEntry struct {
	category models.TriggerCategory
	topic    string
	re       *regexp.Regexp
	handle   func(tc *turnContext) string
}

var triggerTable = []triggerEntry{
	{models.TriggerNotInterested, topicNotInterested, notInterestedRe, notInterestedReply},
	{models.TriggerAlreadyCovered, topicAlreadyCovered, alreadyCoveredRe, alreadyCoveredReply},
	{models.TriggerTooExpensive, topicTooExpensive, tooExpensiveRe, tooExpensiveReply},
	{models.TriggerNeedToThink, topicNeedToThink, needToThinkRe, needToThinkReply},
	{models.TriggerGuaranteedIssue, topicGuaranteedIssue, guaranteedIssueRe, guaranteedIssueReply},
	{models.TriggerEmployerCoverage, topicEmployerCoverage, employerCoverageRe, employerCoverageReply},
	{models.TriggerTermPolicy, topicTermLife, termPolicyRe, termPolicyReply},
	{models.TriggerPermanentPolicy, topicWholeLife, permanentPolicyRe, permanentPolicyReply},
	{models.TriggerPermanentPolicy, topicLivingBenefits, livingBenefitsRe, livingBenefitsReply},
	{models.TriggerHealthCondition, topicDiabetes, diabetesRe, healthReply(topicDiabetes)},
	{models.TriggerHealthCondition, topicHeart, heartRe, healthReply(topicHeart)},
	{models.TriggerHealthCondition, topicCancer, cancerRe, healthReply(topicCancer)},
	{models.TriggerHealthCondition, topicGeneralHealth, generalHealthRe, healthReply(topicGeneralHealth)},
	{models.TriggerSpouseDecision, topicSpouseDecision, spouseDecisionRe, spouseDecisionReply},
	{models.TriggerBuyingSignal, topicBuyingSignal, buyingSignalRe, buyingSignalReply},
	{models.TriggerPriceQuestion, topicBuyingSignal, priceQuestionRe, priceQuestionReply},
}

// MatchTrigger scans the table in priority order and returns the first
// non-declining match. ok is false when no row produced a reply, which
// sends the turn down the generative path.
func MatchTrigger(tc *turnContext) (models.TriggerCategory, string, bool) {
	for _, entry := range triggerTable {
		if !entry.re.MatchString(tc.lowered) {
			continue
		}
		if reply := entry.handle(tc); reply != "" {
			return entry.category, reply, true
		}
	}
	return "", "", false
}

// IdentifyTopics returns the knowledge topics the message touches, in table
// order, deduped. The prompt builder uses this to scope knowledge injection
// when the turn falls through to the generative path.
func IdentifyTopics(message string) []string {
	lowered := strings.ToLower(message)
	var topics []string
	seen := make(map[string]bool)
	for _, entry := range triggerTable {
		if entry.topic == "" || seen[entry.topic] {
			continue
		}
		if entry.re.MatchString(lowered) {
			seen[entry.topic] = true
			topics = append(topics, entry.topic)
		}
	}
	if !seen[topicPension] && pensionRe.MatchString(lowered) {
		topics = append(topics, topicPension)
	}
	return topics
}

func notInterestedReply(tc *turnContext) string {
	// Past the second push-back the resistance ladder owns the exit.
	if tc.state.DismissiveCount >= 2 {
		return ""
	}
	if reply := tc.libraryReply(models.BankRecovery, models.PatternNotInterested); reply != "" {
		return reply
	}
	return PlaybookResponse(SituationNotInterested, tc.playbook())
}

func alreadyCoveredReply(tc *turnContext) string {
	return enterObjectionFlow(tc)
}

func tooExpensiveReply(tc *turnContext) string {
	if reply := tc.libraryReply(models.BankRecovery, models.PatternPriceObjection); reply != "" {
		return reply
	}
	return PlaybookResponse(SituationCantAfford, tc.playbook())
}

func needToThinkReply(tc *turnContext) string {
	// A lead asking a question is not stalling.
	if QuestionCount(tc.message) > 0 {
		return ""
	}
	if reply := tc.libraryReply(models.BankRecovery, models.PatternBadTiming); reply != "" {
		return reply
	}
	return PlaybookResponse(SituationThinkAboutIt, tc.playbook())
}

func guaranteedIssueReply(tc *turnContext) string {
	return tc.rotate(giQuestions)
}

func employerCoverageReply(tc *turnContext) string {
	// "benefits" alone says nothing about where the coverage sits.
	if !containsAny(tc.lowered, "work", "job", "employer", "company", "group") {
		return ""
	}
	return PlaybookResponse(SituationProbeEmployerGap, tc.playbook())
}

func termPolicyReply(tc *turnContext) string {
	return PlaybookResponse(SituationProbeTermGap, tc.playbook())
}

func permanentPolicyReply(tc *turnContext) string {
	return tc.rotate(wholeLifeQuestions)
}

func livingBenefitsReply(tc *turnContext) string {
	// Only worth probing when there is a policy to probe.
	hasPolicy := tc.profile != nil && tc.profile.HasPolicy != nil && *tc.profile.HasPolicy
	if !hasPolicy && !containsAny(tc.lowered, "policy", "coverage", "plan", "insurance", "benefit") {
		return ""
	}
	return tc.rotate(livingBenefitsReplies)
}

func healthReply(topic string) func(tc *turnContext) string {
	return func(tc *turnContext) string {
		return healthResponses[topic]
	}
}

func spouseDecisionReply(tc *turnContext) string {
	// Fire on deferral phrasing only; a passing mention of a spouse is a
	// fact for the extractor, not an objection.
	mentionsPerson := containsAny(tc.lowered, "wife", "husband", "spouse", "partner", "them", "they")
	defers := containsAny(tc.lowered, "talk to", "ask ", "check with", "run it by", "run by", "discuss", "see what")
	if !mentionsPerson || !defers {
		return ""
	}
	return tc.rotate(spouseDecisionReplies)
}

func buyingSignalReply(tc *turnContext) string {
	// At closing a bare yes answers the pending time offer; the booking
	// path owns it.
	if tc.state.Stage == models.StageClosing {
		return ""
	}
	tc.state.AdvanceStage(models.StageClosing)
	return FillTemplate(buyingSignalTemplate, tc.playbookWithSlots())
}

func priceQuestionReply(tc *turnContext) string {
	tc.state.AdvanceStage(models.StageClosing)
	return FillTemplate(priceAnswerTemplate, tc.playbookWithSlots())
}
