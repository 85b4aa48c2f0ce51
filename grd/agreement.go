package grd

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AGREEMENT KINDS - One static table instead of string comparisons everywhere
// =============================================================================

// AgreementKind decides which tariff resolver applies to an agreement.
type AgreementKind string

const (
	KindUnknown   AgreementKind = "unknown"
	KindTiered    AgreementKind = "tiered"     // price depends on a weight bracket
	KindFlatPrice AgreementKind = "flat_price" // single current price, tier ignored
)

// Agreement codes with formula branches of their own.
const (
	AgreementCH0041 = "CH0041"
	AgreementFNS012 = "FNS012"
	AgreementFNS019 = "FNS019"
	AgreementFNS026 = "FNS026"
)

// agreementKinds maps a normalized agreement code to its kind.
// Adding an agreement is one entry here.
var agreementKinds = map[string]AgreementKind{
	AgreementFNS012: KindTiered,
	AgreementFNS019: KindTiered,
	AgreementFNS026: KindTiered,
	AgreementCH0041: KindFlatPrice,
}

// weightFormulaDelayAgreements pay rescue delay proportionally to group value.
var weightFormulaDelayAgreements = map[string]bool{
	AgreementFNS012: true,
	AgreementFNS019: true,
	AgreementFNS026: true,
}

// NormalizeAgreement trims and upper-cases an agreement code.
func NormalizeAgreement(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// KindOf classifies an agreement code. Unrecognized codes are KindUnknown.
func KindOf(code string) AgreementKind {
	if kind, ok := agreementKinds[NormalizeAgreement(code)]; ok {
		return kind
	}
	return KindUnknown
}

// =============================================================================
// TIERS - Weight brackets of tiered agreements
// =============================================================================

type Tier string

const (
	Tier1 Tier = "T1" // weight in [0, 1.5]
	Tier2 Tier = "T2" // weight in (1.5, 2.5]
	Tier3 Tier = "T3" // weight in (2.5, ∞)
)

var (
	tier1Max = decimal.RequireFromString("1.5")
	tier2Max = decimal.RequireFromString("2.5")
)

// TierFor returns the bracket of a group weight. Negative weights have no tier.
func TierFor(weight decimal.Decimal) (Tier, bool) {
	switch {
	case weight.IsNegative():
		return "", false
	case weight.LessThanOrEqual(tier1Max):
		return Tier1, true
	case weight.LessThanOrEqual(tier2Max):
		return Tier2, true
	default:
		return Tier3, true
	}
}

// normalizeTier lets stored labels like " t2 " match Tier2.
func normalizeTier(label string) Tier {
	return Tier(strings.ToUpper(strings.TrimSpace(label)))
}
