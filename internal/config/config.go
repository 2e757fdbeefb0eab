package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy holds every tunable the protocol engine, underwriting engine and
// health monitor consult. Zero values mean "apply the default"; Validate
// fills defaults in before range-checking, so a partial drey.yml is fine.
type Policy struct {
	// Envelope issuance
	MaxSatsPerEnvelope              int64 `yaml:"max_sats_per_envelope" json:"max_sats_per_envelope"`
	MaxOutstandingEnvelopesPerAgent int   `yaml:"max_outstanding_envelopes_per_agent" json:"max_outstanding_envelopes_per_agent"`
	MaxOfferTTLSeconds              int64 `yaml:"max_offer_ttl_seconds" json:"max_offer_ttl_seconds"`

	// Underwriting
	UnderwritingHistoryDays              int     `yaml:"underwriting_history_days" json:"underwriting_history_days"`
	UnderwritingBaseSats                 int64   `yaml:"underwriting_base_sats" json:"underwriting_base_sats"`
	UnderwritingK                        float64 `yaml:"underwriting_k" json:"underwriting_k"`
	UnderwritingDefaultPenaltyMultiplier float64 `yaml:"underwriting_default_penalty_multiplier" json:"underwriting_default_penalty_multiplier"`
	MinFeeBps                            int64   `yaml:"min_fee_bps" json:"min_fee_bps"`
	MaxFeeBps                            int64   `yaml:"max_fee_bps" json:"max_fee_bps"`
	FeeRiskScaler                        float64 `yaml:"fee_risk_scaler" json:"fee_risk_scaler"`

	// Health / circuit breakers
	HealthWindowSeconds             int64   `yaml:"health_window_seconds" json:"health_window_seconds"`
	HealthSettlementSampleLimit     int     `yaml:"health_settlement_sample_limit" json:"health_settlement_sample_limit"`
	HealthLnPaySampleLimit          int     `yaml:"health_ln_pay_sample_limit" json:"health_ln_pay_sample_limit"`
	CircuitBreakerMinSample         int     `yaml:"circuit_breaker_min_sample" json:"circuit_breaker_min_sample"`
	LossRateHaltThreshold           float64 `yaml:"loss_rate_halt_threshold" json:"loss_rate_halt_threshold"`
	LnFailureRateHaltThreshold      float64 `yaml:"ln_failure_rate_halt_threshold" json:"ln_failure_rate_halt_threshold"`
	LnFailureLargeSettlementCapSats int64   `yaml:"ln_failure_large_settlement_cap_sats" json:"ln_failure_large_settlement_cap_sats"`
}

// DefaultPolicy returns the policy used when no configuration file is present.
func DefaultPolicy() Policy {
	p := Policy{}
	p.applyDefaults()
	return p
}

func (p *Policy) applyDefaults() {
	if p.MaxSatsPerEnvelope == 0 {
		p.MaxSatsPerEnvelope = 50_000
	}
	if p.MaxOutstandingEnvelopesPerAgent == 0 {
		p.MaxOutstandingEnvelopesPerAgent = 5
	}
	if p.MaxOfferTTLSeconds == 0 {
		p.MaxOfferTTLSeconds = 3600
	}
	if p.UnderwritingHistoryDays == 0 {
		p.UnderwritingHistoryDays = 30
	}
	if p.UnderwritingBaseSats == 0 {
		p.UnderwritingBaseSats = 1000
	}
	if p.UnderwritingK == 0 {
		p.UnderwritingK = 10
	}
	if p.UnderwritingDefaultPenaltyMultiplier == 0 {
		p.UnderwritingDefaultPenaltyMultiplier = 2.0
	}
	if p.MinFeeBps == 0 {
		p.MinFeeBps = 10
	}
	if p.MaxFeeBps == 0 {
		p.MaxFeeBps = 500
	}
	if p.FeeRiskScaler == 0 {
		p.FeeRiskScaler = 50
	}
	if p.HealthWindowSeconds == 0 {
		p.HealthWindowSeconds = 3600
	}
	if p.HealthSettlementSampleLimit == 0 {
		p.HealthSettlementSampleLimit = 200
	}
	if p.HealthLnPaySampleLimit == 0 {
		p.HealthLnPaySampleLimit = 200
	}
	if p.CircuitBreakerMinSample == 0 {
		p.CircuitBreakerMinSample = 10
	}
	if p.LossRateHaltThreshold == 0 {
		p.LossRateHaltThreshold = 0.20
	}
	if p.LnFailureRateHaltThreshold == 0 {
		p.LnFailureRateHaltThreshold = 0.30
	}
	if p.LnFailureLargeSettlementCapSats == 0 {
		p.LnFailureLargeSettlementCapSats = 10_000
	}
}

// Validate applies defaults and range-checks the resulting policy.
func (p *Policy) Validate() error {
	p.applyDefaults()

	if p.MaxSatsPerEnvelope < 1 {
		return fmt.Errorf("max_sats_per_envelope must be >= 1, got %d", p.MaxSatsPerEnvelope)
	}
	if p.MaxOutstandingEnvelopesPerAgent < 1 {
		return fmt.Errorf("max_outstanding_envelopes_per_agent must be >= 1, got %d", p.MaxOutstandingEnvelopesPerAgent)
	}
	if p.MaxOfferTTLSeconds < 1 {
		return fmt.Errorf("max_offer_ttl_seconds must be >= 1, got %d", p.MaxOfferTTLSeconds)
	}
	if p.UnderwritingHistoryDays < 1 {
		return fmt.Errorf("underwriting_history_days must be >= 1, got %d", p.UnderwritingHistoryDays)
	}
	if p.MinFeeBps < 0 || p.MaxFeeBps < p.MinFeeBps {
		return fmt.Errorf("fee bps range invalid: min %d, max %d", p.MinFeeBps, p.MaxFeeBps)
	}
	if p.LossRateHaltThreshold <= 0 || p.LossRateHaltThreshold > 1 {
		return fmt.Errorf("loss_rate_halt_threshold must be in (0,1], got %v", p.LossRateHaltThreshold)
	}
	if p.LnFailureRateHaltThreshold <= 0 || p.LnFailureRateHaltThreshold > 1 {
		return fmt.Errorf("ln_failure_rate_halt_threshold must be in (0,1], got %v", p.LnFailureRateHaltThreshold)
	}
	if p.CircuitBreakerMinSample < 1 {
		return fmt.Errorf("circuit_breaker_min_sample must be >= 1, got %d", p.CircuitBreakerMinSample)
	}
	return nil
}

// File is the top-level drey.yml configuration.
type File struct {
	Version string `yaml:"version"`
	Policy  Policy `yaml:"policy"`
}

// Load reads and validates a drey.yml from the specified path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if f.Version != "1.0" {
		return nil, fmt.Errorf("unsupported version: %s (expected: 1.0)", f.Version)
	}
	if err := f.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &f, nil
}
