package grd

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/grd-engine/generic"
)

// =============================================================================
// STAY CLASSIFIER
// =============================================================================

// Stay is the length of stay and its classification against GRD cutoffs.
type Stay struct {
	LengthOfStay   int
	Classification Classification
}

// LengthOfStay returns whole days between admission and discharge, rounded.
// Missing dates or a discharge before admission yield 0.
func LengthOfStay(admission, discharge *time.Time) int {
	if admission == nil || discharge == nil {
		return 0
	}
	days := generic.RoundedDaysBetween(*admission, *discharge)
	if days < 0 {
		return 0
	}
	return days
}

// ClassifyStay computes the length of stay and classifies it.
//
// Cutoffs come from the GRD rule; nil means the cutoff is unavailable. With
// both cutoffs missing the stay is Unclassified. With only one present, only
// that side is tested and anything else is Inlier.
func ClassifyStay(admission, discharge *time.Time, lowerCutoff, upperCutoff *decimal.Decimal) Stay {
	los := LengthOfStay(admission, discharge)
	stay := Stay{LengthOfStay: los}

	if lowerCutoff == nil && upperCutoff == nil {
		return stay
	}

	days := decimal.NewFromInt(int64(los))
	switch {
	case upperCutoff != nil && days.GreaterThan(*upperCutoff):
		stay.Classification = OutlierSuperior
	case lowerCutoff != nil && days.LessThan(*lowerCutoff):
		stay.Classification = OutlierInferior
	default:
		stay.Classification = Inlier
	}
	return stay
}

// ClassifyEpisode classifies an episode against its (possibly missing) rule.
func ClassifyEpisode(ep Episode, rule *GrdRule) Stay {
	if rule == nil {
		return Stay{LengthOfStay: LengthOfStay(ep.AdmissionDate, ep.DischargeDate)}
	}
	return ClassifyStay(ep.AdmissionDate, ep.DischargeDate, rule.LowerCutoff, rule.UpperCutoff)
}
