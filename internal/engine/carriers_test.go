package engine

import "testing"

func TestFindCarrier(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"plain mention", "I went with State Farm a few years back", "state farm"},
		{"run together", "We have StateFarm for the cars and the house", "state farm"},
		{"punctuated", "It's through New-York Life I think", "new york life"},
		{"gi carrier", "signed up with colonial penn off the tv ad", "colonial penn"},
		{"short alias whole word", "it's through AARP", "aarp"},
		{"short alias not a substring", "shoot me an email with the details", ""},
		{"no carrier", "yeah I got something through work", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindCarrier(tt.message); got != tt.want {
				t.Errorf("FindCarrier(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestNormalizeCarrierName(t *testing.T) {
	if got := NormalizeCarrierName("New York Life!"); got != "newyorklife" {
		t.Errorf("NormalizeCarrierName = %q, want %q", got, "newyorklife")
	}
	if got := NormalizeCarrierName("F&G"); got != "fg" {
		t.Errorf("NormalizeCarrierName = %q, want %q", got, "fg")
	}
}

func TestIsGuaranteedIssueCarrier(t *testing.T) {
	if !IsGuaranteedIssueCarrier("globe life", "") {
		t.Error("expected globe life to be guaranteed issue without corroboration")
	}
	if IsGuaranteedIssueCarrier("aarp", "I have a policy with aarp") {
		t.Error("aarp alone should not be guaranteed issue")
	}
	if !IsGuaranteedIssueCarrier("aarp", "it was guaranteed acceptance, no health questions") {
		t.Error("GI phrases in the message should mark the policy guaranteed issue")
	}
	if IsGuaranteedIssueCarrier("prudential", "termpolicy through them") {
		t.Error("prudential with no GI phrase should not be guaranteed issue")
	}
}

func TestIsBundledCarrier(t *testing.T) {
	if !IsBundledCarrier("state farm") {
		t.Error("state farm should be bundled")
	}
	if !IsBundledCarrier("USAA") {
		t.Error("bundled check should be case insensitive")
	}
	if IsBundledCarrier("prudential") {
		t.Error("prudential should not be bundled")
	}
}

func TestLookupCarrierContext(t *testing.T) {
	ctx := LookupCarrierContext("metlife", "I get it through my job")
	if !ctx.EmployerProvider {
		t.Error("metlife should be an employer plan provider")
	}
	if ctx.Bundled || ctx.GuaranteedIssue {
		t.Errorf("unexpected flags for metlife: %+v", ctx)
	}

	ctx = LookupCarrierContext("colonial penn", "")
	if !ctx.GuaranteedIssue {
		t.Error("colonial penn should be guaranteed issue")
	}

	ctx = LookupCarrierContext("allstate", "")
	if !ctx.Bundled {
		t.Error("allstate should be bundled")
	}
}
