// Package health computes the pool's circuit-breaker state from recent
// settlement and payment history.
//
// There is no cached breaker state: every Check recomputes from bounded
// samples read out of the store, so the monitor itself is stateless and the
// engine can consult it on every operation.
package health

import (
	"context"
	"time"

	"github.com/drey-labs/drey/internal/config"
	"github.com/drey-labs/drey/internal/store"
	"github.com/drey-labs/drey/pkg/cep"
)

// Status is one recomputed snapshot of the pool's breakers.
type Status struct {
	HaltNewEnvelopes     bool    `json:"halt_new_envelopes"`
	HaltLargeSettlements bool    `json:"halt_large_settlements"`
	LossRate             float64 `json:"loss_rate"`
	LnFailureRate        float64 `json:"ln_failure_rate"`
	SettlementSample     int     `json:"settlement_sample"`
	LnPaySample          int     `json:"ln_pay_sample"`
	AsOfUnix             int64   `json:"as_of_unix"`

	// full policy snapshot for observability
	Policy config.Policy `json:"policy"`
}

// Monitor reads trailing windows from the store and applies breaker policy.
type Monitor struct {
	store  *store.Client
	policy config.Policy
}

// NewMonitor creates a health monitor over the given store and policy.
func NewMonitor(st *store.Client, policy config.Policy) *Monitor {
	return &Monitor{store: st, policy: policy}
}

// Check recomputes the breaker status as of now.
func (m *Monitor) Check(ctx context.Context, now time.Time) (Status, error) {
	since := now.Unix() - m.policy.HealthWindowSeconds

	settlements, err := m.store.ListRecentSettlements(ctx, since, m.policy.HealthSettlementSampleLimit)
	if err != nil {
		return Status{}, err
	}
	payEvents, err := m.store.ListRecentPayEvents(ctx, since, m.policy.HealthLnPaySampleLimit)
	if err != nil {
		return Status{}, err
	}

	return Compute(settlements, payEvents, m.policy, now.Unix()), nil
}

// Compute derives the breaker status from sampled history. Pure function;
// Check is just Compute plus the store reads.
func Compute(settlements []*cep.Settlement, payEvents []*cep.PayEvent, policy config.Policy, nowUnix int64) Status {
	status := Status{
		SettlementSample: len(settlements),
		LnPaySample:      len(payEvents),
		AsOfUnix:         nowUnix,
		Policy:           policy,
	}

	if len(settlements) > 0 {
		losses := 0
		for _, s := range settlements {
			if s.Outcome != cep.OutcomeSuccess {
				losses++
			}
		}
		status.LossRate = float64(losses) / float64(len(settlements))
	}

	if len(payEvents) > 0 {
		failures := 0
		for _, ev := range payEvents {
			if ev.Status != cep.PayEventStatusSuccess {
				failures++
			}
		}
		status.LnFailureRate = float64(failures) / float64(len(payEvents))
	}

	// both breakers need a minimum sample so sparse history cannot trip them
	status.HaltNewEnvelopes = status.SettlementSample >= policy.CircuitBreakerMinSample &&
		status.LossRate > policy.LossRateHaltThreshold
	status.HaltLargeSettlements = status.LnPaySample >= policy.CircuitBreakerMinSample &&
		status.LnFailureRate > policy.LnFailureRateHaltThreshold

	return status
}
