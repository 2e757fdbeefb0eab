// Package underwrite converts an agent's settlement history into credit terms.
//
// Decide is a pure function of a historical snapshot and the policy: the same
// inputs always produce the same decision, which is what makes the persisted
// audit record replayable.
package underwrite

import (
	"math"

	"github.com/drey-labs/drey/internal/config"
	"github.com/drey-labs/drey/pkg/cep"
)

// Age bucket boundaries for the loss decay weight, in seconds.
const (
	decayHour = 3600
	decayDay  = 86400
	decayWeek = 604800
)

// Risk score exposure term: sqrt(min(exposure/divisor, cap)).
const (
	exposureRiskDivisor = 50_000
	exposureRiskCap     = 50
)

// DecayWeight returns the weight a loss contributes to the weighted loss
// score, by age. Recent defaults count full; week-old ones a quarter.
func DecayWeight(ageSeconds int64) float64 {
	switch {
	case ageSeconds <= decayHour:
		return 1.0
	case ageSeconds <= decayDay:
		return 0.75
	case ageSeconds <= decayWeek:
		return 0.50
	default:
		return 0.25
	}
}

// BuildInputs aggregates an agent's settlement window and open exposure into
// the snapshot Decide consumes. The snapshot is persisted verbatim in the
// offer's audit record.
func BuildInputs(agentID string, settlements []*cep.Settlement, openCount int, openExposureSats int64, windowDays int, nowUnix int64) cep.UnderwritingInputs {
	inputs := cep.UnderwritingInputs{
		AgentID:           agentID,
		WindowDays:        windowDays,
		OpenEnvelopeCount: openCount,
		OpenExposureSats:  openExposureSats,
		AsOfUnix:          nowUnix,
	}

	for _, s := range settlements {
		if s.Outcome == cep.OutcomeSuccess {
			inputs.SuccessCount++
			inputs.SuccessVolumeSats += s.SpentSats
			continue
		}
		inputs.LossCount++
		inputs.WeightedLossScore += DecayWeight(nowUnix - s.CreatedAtUnix)
	}

	return inputs
}

// Decide computes the credit limit and fee rate for one offer.
//
// The limit starts from base_sats plus a sqrt-of-volume bonus, then shrinks
// under two penalties: one for decayed loss history, one for exposure already
// open relative to the raw limit. The fee tracks a risk score built from the
// pass rate, the loss score and the open exposure.
func Decide(inputs cep.UnderwritingInputs, policy config.Policy) cep.UnderwritingDecision {
	passRate := 1.0
	if settled := inputs.SuccessCount + inputs.LossCount; settled > 0 {
		passRate = float64(inputs.SuccessCount) / float64(settled)
	}

	rawLimit := float64(policy.UnderwritingBaseSats) + policy.UnderwritingK*math.Sqrt(float64(inputs.SuccessVolumeSats))
	lossPenalty := 1 / (1 + inputs.WeightedLossScore*policy.UnderwritingDefaultPenaltyMultiplier)
	exposurePenalty := 1 / (1 + float64(inputs.OpenExposureSats)/math.Max(rawLimit, 1))

	limitSats := clampInt64(int64(math.Round(rawLimit*lossPenalty*exposurePenalty)), 1, policy.MaxSatsPerEnvelope)

	riskScore := 2*(1-passRate) +
		0.5*inputs.WeightedLossScore +
		math.Sqrt(math.Min(float64(inputs.OpenExposureSats)/exposureRiskDivisor, exposureRiskCap))

	feeBps := clampInt64(int64(math.Round(riskScore*policy.FeeRiskScaler)), policy.MinFeeBps, policy.MaxFeeBps)

	return cep.UnderwritingDecision{
		LimitSats:        limitSats,
		FeeBps:           feeBps,
		RequiresVerifier: true, // no envelope may bypass verification
		RiskScore:        riskScore,
	}
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
