package engine

import (
	"regexp"
	"strings"
)

// majorCarriers is the recognition list for US life insurance companies,
// including common misspellings and run-together forms.
var majorCarriers = []string{
	"northwestern mutual",
	"metlife", "metropolitan", "met life",
	"new york life", "newyork life", "ny life",
	"prudential",
	"massmutual", "mass mutual",
	"lincoln national", "lincoln financial",
	"nationwide",
	"state farm", "statefarm",
	"aig", "american international",
	"guardian", "guardian life",
	"globe life", "globelife",
	"principal", "principal financial",
	"equitable", "equitable holdings",
	"tiaa",
	"pacific life", "pacificlife",
	"thrivent",
	"usaa",
	"penn mutual", "pennmutual",
	"brighthouse", "brighthouse financial",
	"mutual of omaha", "mutualofomaha",
	"transamerica",
	"john hancock", "johnhancock",
	"symetra",
	"banner life", "bannerlife",
	"protective", "protective life",
	"colonial penn", "colonialpenn",
	"aarp",
	"gerber life", "gerberlife",
	"aflac",
	"allstate",
	"farmers",
	"liberty mutual", "libertymutual",
	"american general", "aig life",
	"voya",
	"unum",
	"cigna",
	"aetna",
	"humana",
	"anthem",
	"primerica",
	"foresters",
	"legal and general", "legal & general", "lgamerica",
	"zurich",
	"allianz",
	"cuna mutual", "cunamutual",
	"american family", "amfam",
	"securian",
	"ohio national",
	"american united",
	"kansas city life",
	"north american", "north american company",
	"united of omaha", "unitedofomaha",
	"great west", "greatwest", "great-west",
	"manulife",
	"sun life", "sunlife",
	"canada life",
	"aegon",
	"national life", "national life group",
	"sbli",
	"haven life", "havenlife",
	"ladder", "ladder life",
	"ethos", "ethos life",
	"bestow",
	"fabric",
	"policygenius",
	"health iq",
	"selectquote",
	"quotacy",
	"zander",
	"term4sale",
	"accuquote",
	"insure.com",
	"life insurance direct",
	"american income", "american income life", "ail",
	"family heritage",
	"torchmark",
	"kemper",
	"american national", "anico",
	"sammons financial",
	"fidelity life", "fidelity & guaranty",
	"f&g",
	"athene",
	"security benefit",
	"jackson national", "jackson",
	"ameritas",
	"assurity",
	"american equity",
	"midland national",
	"north american insured",
}

// giOnlyCarriers sell exclusively guaranteed issue products.
var giOnlyCarriers = []string{
	"colonial penn", "colonialpenn", "globe life", "globelife",
}

// giTriggerPhrases corroborate a guaranteed issue policy for carriers that
// also sell underwritten products.
var giTriggerPhrases = []string{
	"guaranteed issue", "guaranteed acceptance", "no health questions",
	"no medical questions", "no exam", "final expense", "burial insurance",
	"acceptance guaranteed",
}

// employerPlanProviders commonly underwrite group plans, hinting the policy
// is employer coverage rather than a personal one.
var employerPlanProviders = []string{
	"metlife", "prudential", "lincoln financial", "cigna", "aetna", "unum",
	"hartford", "principal", "voya", "sun life", "guardian", "massmutual",
}

// bundledCarriers typically bundle life with auto or home.
var bundledCarriers = []string{
	"state farm", "statefarm", "allstate", "farmers", "geico", "progressive",
	"liberty mutual", "libertymutual", "usaa", "nationwide",
	"american family", "amfam", "erie",
}

var carrierNormRe = regexp.MustCompile(`[^a-z0-9]`)

// NormalizeCarrierName strips everything but letters and digits for fuzzy
// matching of run-together or punctuated names.
func NormalizeCarrierName(name string) string {
	return carrierNormRe.ReplaceAllString(strings.ToLower(name), "")
}

// FindCarrier returns the first known carrier mentioned in the message, or
// the empty string. Aliases of four characters or fewer match whole words
// only, so prose like "email" cannot hit "ail".
func FindCarrier(message string) string {
	lowered := strings.ToLower(message)
	normalized := NormalizeCarrierName(message)
	var words []string
	for _, carrier := range majorCarriers {
		norm := NormalizeCarrierName(carrier)
		if len(norm) <= 4 {
			if words == nil {
				words = strings.Fields(lowered)
			}
			for _, w := range words {
				if NormalizeCarrierName(w) == norm {
					return carrier
				}
			}
			continue
		}
		if strings.Contains(lowered, carrier) || strings.Contains(normalized, norm) {
			return carrier
		}
	}
	return ""
}

// CarrierContext summarizes what a carrier mention implies about the policy
// behind it.
type CarrierContext struct {
	Name             string
	GuaranteedIssue  bool
	Bundled          bool
	EmployerProvider bool
}

// LookupCarrierContext classifies a carrier using the surrounding message
// for guaranteed issue corroboration.
func LookupCarrierContext(carrier, message string) CarrierContext {
	return CarrierContext{
		Name:             carrier,
		GuaranteedIssue:  IsGuaranteedIssueCarrier(carrier, message),
		Bundled:          IsBundledCarrier(carrier),
		EmployerProvider: containsAny(strings.ToLower(carrier), employerPlanProviders...),
	}
}

// IsGuaranteedIssueCarrier reports whether the policy is guaranteed issue:
// either the carrier only sells GI products, or the message carries a GI
// phrase.
func IsGuaranteedIssueCarrier(carrier, message string) bool {
	if containsAny(strings.ToLower(carrier), giOnlyCarriers...) {
		return true
	}
	return containsAny(strings.ToLower(message), giTriggerPhrases...)
}

// IsBundledCarrier reports whether the carrier typically bundles life with
// auto or home policies.
func IsBundledCarrier(carrier string) bool {
	return containsAny(strings.ToLower(carrier), bundledCarriers...)
}
