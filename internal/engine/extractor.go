package engine

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Fact extraction runs on lead words only. Agent phrasing never feeds the
// profile. Pointer fields follow first-confident-wins; only MotivatingGoal
// may be refined once set.

var (
	spouseRe     = regexp.MustCompile(`wife|husband|spouse|married`)
	singleRe     = regexp.MustCompile(`single|not\s*married|divorced|widowed`)
	kidsCountRe  = regexp.MustCompile(`(\d+)\s*kids?`)
	noKidsRe     = regexp.MustCompile(`no\s*kids|don'?t\s*have\s*kids`)
	dependentsRe = regexp.MustCompile(`children|family|dependents`)

	employerAmountRe = regexp.MustCompile(`(\d+)\s*(k?)\s*(?:through|from|at|via)\s*work`)
	employerSourceRe = regexp.MustCompile(`(?:employer|work|job)\s*(?:coverage|policy|insurance)`)
	personalPolicyRe = regexp.MustCompile(`(?:my own|personal|private|individual).*(?:policy|coverage)`)
	notEmployerRe    = regexp.MustCompile(`(?:not|isn'?t)\s.*(?:through|from)\s.*(?:work|job|employer)`)

	termLifeRe   = regexp.MustCompile(`term\s*(?:life|policy|insurance|plan)`)
	wholeLifeRe  = regexp.MustCompile(`whole\s*life`)
	iulRe        = regexp.MustCompile(`\biul\b|indexed\s*universal`)
	giPolicyRe   = regexp.MustCompile(`colonial\s*penn|globe\s*life|aarp|guaranteed\s*(?:issue|acceptance)`)

	noCoverageRe = regexp.MustCompile(`(?:don'?t|do not)\s+have\s+(?:any\s+)?(?:coverage|insurance|a policy|life insurance)|no\s+(?:coverage|insurance|policy)`)

	tobaccoRe = regexp.MustCompile(`smok(?:e|er|ing)|tobacco|cigarette|vape`)

	ageSuffixRe = regexp.MustCompile(`(\d{2})\s*years?\s*old`)
	agePrefixRe = regexp.MustCompile(`i'?m\s+(\d{2})\b`)
)

// healthConditionRes maps a condition label to its detection pattern.
// Ordered so changed-fact lists stay deterministic.
var healthConditionRes = []struct {
	condition string
	re        *regexp.Regexp
}{
	{"diabetes", regexp.MustCompile(`diabet(?:es|ic)`)},
	{"heart", regexp.MustCompile(`heart\s*(?:attack|disease|condition|problems?)|cardiac`)},
	{"cancer", regexp.MustCompile(`cancer`)},
	{"copd", regexp.MustCompile(`copd|emphysema|lung\s*(?:disease|condition)`)},
	{"stroke", regexp.MustCompile(`stroke`)},
}

// motivationRes maps motivation phrasings to goal labels. First match wins
// within a message; across messages a later match refines the goal.
var motivationRes = []struct {
	re   *regexp.Regexp
	goal string
}{
	{regexp.MustCompile(`wife.*(?:bug|ask|want|nag|push)`), "spouse pressure"},
	{regexp.MustCompile(`(?:protect|take care of|provide for).*(?:family|wife|kids|children)`), "family protection"},
	{regexp.MustCompile(`(?:new|just had).*(?:baby|kid|child)`), "new baby"},
	{regexp.MustCompile(`(?:bought|buying|mortgage|house)`), "new home"},
	{regexp.MustCompile(`retire|retiring|retirement`), "retirement planning"},
	{regexp.MustCompile(`(?:job|work|employer).*(?:change|switch|leave|quit)`), "job change"},
}

// ExtractFacts scans a lead message and merges every confident fact into the
// profile. Returns the labels of facts that changed, or ErrExtractionNoOp
// when the message taught us nothing. Running the same message twice is a
// no-op the second time.
func ExtractFacts(profile *models.QualificationProfile, message string) ([]string, error) {
	lowered := strings.ToLower(message)
	var changed []string
	mark := func(label string, theme models.Theme) {
		changed = append(changed, label)
		if theme != "" {
			if profile.TopicsAsked == nil {
				profile.TopicsAsked = make(map[models.Theme]bool)
			}
			profile.TopicsAsked[theme] = true
		}
	}

	// Family.
	if spouseRe.MatchString(lowered) && setBool(&profile.HasSpouse, true) {
		mark("spouse", models.ThemeFamily)
	} else if singleRe.MatchString(lowered) && setBool(&profile.HasSpouse, false) {
		mark("single", models.ThemeFamily)
	}
	if m := kidsCountRe.FindStringSubmatch(lowered); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && setInt(&profile.NumKids, n) {
			mark("kids", models.ThemeFamily)
		}
	} else if noKidsRe.MatchString(lowered) && setInt(&profile.NumKids, 0) {
		mark("no_kids", models.ThemeFamily)
	}
	if dependentsRe.MatchString(lowered) && setBool(&profile.HasDependents, true) {
		mark("dependents", models.ThemeFamily)
	}

	// Coverage source and amount.
	if m := employerAmountRe.FindStringSubmatch(lowered); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			if m[2] == "k" || n < 1000 {
				n *= 1000
			}
			if setInt(&profile.FaceAmount, n) {
				mark("employer_coverage", models.ThemeCoverageAmount)
			}
		}
		setBool(&profile.HasPolicy, true)
		setBool(&profile.IsEmployerBased, true)
		setBool(&profile.IsPersonalPolicy, false)
	}
	if employerSourceRe.MatchString(lowered) {
		if setBool(&profile.IsEmployerBased, true) {
			mark("employer_source", models.ThemeOtherPolicies)
		}
		setBool(&profile.HasPolicy, true)
		setBool(&profile.IsPersonalPolicy, false)
	}
	if personalPolicyRe.MatchString(lowered) {
		if setBool(&profile.IsPersonalPolicy, true) {
			mark("personal_policy", models.ThemeOtherPolicies)
		}
		setBool(&profile.HasPolicy, true)
		setBool(&profile.IsEmployerBased, false)
	} else if notEmployerRe.MatchString(lowered) && setBool(&profile.IsEmployerBased, false) {
		mark("not_employer", models.ThemeOtherPolicies)
	}

	// Policy type.
	if termLifeRe.MatchString(lowered) && setBool(&profile.IsTerm, true) {
		mark("term_policy", models.ThemePolicyType)
		setBool(&profile.HasPolicy, true)
	}
	if wholeLifeRe.MatchString(lowered) && setBool(&profile.IsWholeLife, true) {
		mark("whole_life", models.ThemePolicyType)
		setBool(&profile.HasPolicy, true)
	}
	if iulRe.MatchString(lowered) && setBool(&profile.IsIUL, true) {
		mark("iul", models.ThemePolicyType)
		setBool(&profile.HasPolicy, true)
	}
	if giPolicyRe.MatchString(lowered) && setBool(&profile.IsGuaranteedIssue, true) {
		mark("guaranteed_issue", models.ThemePolicyType)
	}

	// Explicit no-coverage. Negations are tied to coverage nouns so lines
	// like "don't have time" or "nothing tonight" stay inert.
	if (noCoverageRe.MatchString(lowered) || strings.Trim(lowered, " .!?") == "nothing") &&
		setBool(&profile.HasPolicy, false) {
		mark("no_coverage", models.ThemeOtherPolicies)
	}

	// Health.
	for _, hc := range healthConditionRes {
		if hc.re.MatchString(lowered) && profile.AddHealthCondition(hc.condition) {
			mark("health_"+hc.condition, models.ThemeHealth)
		}
	}
	if tobaccoRe.MatchString(lowered) && setBool(&profile.TobaccoUser, true) {
		mark("tobacco", models.ThemeHealth)
	}

	// Motivation.
	for _, mv := range motivationRes {
		if mv.re.MatchString(lowered) {
			if profile.MotivatingGoal != mv.goal {
				profile.MotivatingGoal = mv.goal
				mark("motivation", models.ThemeMotivation)
				profile.TopicsAsked[models.ThemeCoverageGoal] = true
			}
			break
		}
	}

	// Age.
	ageMatch := ageSuffixRe.FindStringSubmatch(lowered)
	if ageMatch == nil {
		ageMatch = agePrefixRe.FindStringSubmatch(lowered)
	}
	if ageMatch != nil {
		if n, err := strconv.Atoi(ageMatch[1]); err == nil && n >= 18 && setInt(&profile.Age, n) {
			mark("age", "")
		}
	}

	// Carrier.
	if profile.Carrier == "" {
		if carrier := FindCarrier(message); carrier != "" {
			profile.Carrier = carrier
			mark("carrier", "")
			if IsGuaranteedIssueCarrier(carrier, message) {
				setBool(&profile.IsGuaranteedIssue, true)
			}
		}
	}

	if len(changed) == 0 {
		return nil, models.ErrExtractionNoOp
	}
	return changed, nil
}

// setBool sets an unknown tri-state fact. Returns false when the fact was
// already known.
func setBool(dst **bool, v bool) bool {
	if *dst != nil {
		return false
	}
	*dst = models.BoolPtr(v)
	return true
}

func setInt(dst **int, v int) bool {
	if *dst != nil {
		return false
	}
	*dst = models.IntPtr(v)
	return true
}
