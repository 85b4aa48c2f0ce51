/*
tariff.go - Tariff Resolver

PURPOSE:
  Resolves the base price of an episode from its agreement's price
  quotations. Tiered agreements quote one price per weight bracket; flat
  agreements quote a single current price on their undated rows.

RESOLUTION:
  1. Normalize the agreement code (trim, upper-case); empty → not found
  2. Look the code up in the kind table; unknown → not found
  3. Tiered: weight must be present and non-negative, its tier selects rows
     Flat:   undated rows of the agreement are candidates, tier ignored.
             Rows with an effective range are delay rates (surcharge.go)
  4. The candidate with the latest CreatedAt wins
  5. A negative price on the winning row → not found

Not found is a normal outcome ("no price yet"), not an error.
*/
package grd

import (
	"github.com/shopspring/decimal"
)

// Reasons a tariff could not be resolved. Surfaced as warnings.
const (
	ReasonEmptyAgreement   = "empty_agreement"
	ReasonUnknownAgreement = "unknown_agreement"
	ReasonMissingWeight    = "missing_weight"
	ReasonNegativeWeight   = "negative_weight"
	ReasonNoPriceEntry     = "no_price_entry"
	ReasonInvalidPrice     = "invalid_price"
)

// Tariff is the outcome of a base price resolution.
type Tariff struct {
	Agreement string
	Kind      AgreementKind
	Tier      Tier // empty for flat agreements
	Price     decimal.Decimal
	Entry     *PriceEntry
	Found     bool
	Reason    string // why Found is false
}

// ResolveBasePrice returns the base price for an agreement and group weight.
func ResolveBasePrice(agreementCode string, weight *decimal.Decimal, prices []PriceEntry) (decimal.Decimal, bool) {
	t := ResolveTariff(agreementCode, weight, prices)
	return t.Price, t.Found
}

// ResolveTariff is ResolveBasePrice with the resolution details.
func ResolveTariff(agreementCode string, weight *decimal.Decimal, prices []PriceEntry) Tariff {
	code := NormalizeAgreement(agreementCode)
	t := Tariff{Agreement: code, Kind: KindOf(code)}

	if code == "" {
		t.Reason = ReasonEmptyAgreement
		return t
	}

	switch t.Kind {
	case KindTiered:
		return resolveTiered(t, weight, prices)
	case KindFlatPrice:
		return resolveFlat(t, prices)
	default:
		t.Reason = ReasonUnknownAgreement
		return t
	}
}

func resolveTiered(t Tariff, weight *decimal.Decimal, prices []PriceEntry) Tariff {
	if weight == nil {
		t.Reason = ReasonMissingWeight
		return t
	}
	tier, ok := TierFor(*weight)
	if !ok {
		t.Reason = ReasonNegativeWeight
		return t
	}
	t.Tier = tier

	entry := latestEntry(prices, func(p PriceEntry) bool {
		return NormalizeAgreement(p.AgreementCode) == t.Agreement && normalizeTier(p.Tier) == tier
	})
	return withEntry(t, entry)
}

func resolveFlat(t Tariff, prices []PriceEntry) Tariff {
	entry := latestEntry(prices, func(p PriceEntry) bool {
		return NormalizeAgreement(p.AgreementCode) == t.Agreement && p.Effective.IsOpen()
	})
	return withEntry(t, entry)
}

func withEntry(t Tariff, entry *PriceEntry) Tariff {
	if entry == nil {
		t.Reason = ReasonNoPriceEntry
		return t
	}
	t.Entry = entry
	if entry.Price.IsNegative() {
		t.Reason = ReasonInvalidPrice
		return t
	}
	t.Price = entry.Price
	t.Found = true
	return t
}

// latestEntry returns the matching row with the latest CreatedAt.
// On equal timestamps the row appearing later in the slice wins, which is
// insertion order for both stores.
func latestEntry(prices []PriceEntry, match func(PriceEntry) bool) *PriceEntry {
	var best *PriceEntry
	for i := range prices {
		p := &prices[i]
		if !match(*p) {
			continue
		}
		if best == nil || !p.CreatedAt.Before(best.CreatedAt) {
			best = p
		}
	}
	if best == nil {
		return nil
	}
	found := *best
	return &found
}
