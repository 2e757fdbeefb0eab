package cep

import "fmt"

// ScopeType describes what a credit intent or offer is scoped to.
type ScopeType string

const (
	// ScopeTypeTask scopes credit to a single unit of agent work
	ScopeTypeTask ScopeType = "task"

	// ScopeTypeService scopes credit to an ongoing provider service
	ScopeTypeService ScopeType = "service"

	// ScopeTypeSession scopes credit to an interactive agent session
	ScopeTypeSession ScopeType = "session"
)

// OfferStatus is the lifecycle state of an Offer.
type OfferStatus string

const (
	// OfferStatusOffered means the offer is open and no envelope has drawn on it
	OfferStatusOffered OfferStatus = "offered"

	// OfferStatusAccepted means an envelope has been minted against the offer
	OfferStatusAccepted OfferStatus = "accepted"
)

// EnvelopeStatus is the lifecycle state of an Envelope.
// Settled and Defaulted are terminal.
type EnvelopeStatus string

const (
	// EnvelopeStatusAccepted means the envelope is open and may still settle
	EnvelopeStatusAccepted EnvelopeStatus = "accepted"

	// EnvelopeStatusSettled means the envelope settled successfully (terminal)
	EnvelopeStatusSettled EnvelopeStatus = "settled"

	// EnvelopeStatusDefaulted means the envelope expired or failed verification (terminal)
	EnvelopeStatusDefaulted EnvelopeStatus = "defaulted"
)

// SettlementOutcome records how an envelope resolved.
type SettlementOutcome string

const (
	// OutcomeSuccess means verification passed and the payment went through
	OutcomeSuccess SettlementOutcome = "success"

	// OutcomeFailed means verification failed; nothing was spent
	OutcomeFailed SettlementOutcome = "failed"

	// OutcomeExpired means settlement was attempted after the envelope expiry
	OutcomeExpired SettlementOutcome = "expired"
)

// EntityKind identifies which protocol entity a receipt or lookup refers to.
type EntityKind string

const (
	EntityKindIntent     EntityKind = "intent"
	EntityKindOffer      EntityKind = "offer"
	EntityKindEnvelope   EntityKind = "envelope"
	EntityKindSettlement EntityKind = "settlement"
)

// Intent represents an agent's declared willingness to spend.
// Intents are immutable once created and never transition state; they exist so
// that a later offer can be validated against the agent's declared terms.
type Intent struct {
	IntentID       string    `json:"intent_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	AgentID        string    `json:"agent_id"`
	ScopeType      ScopeType `json:"scope_type"`
	ScopeID        string    `json:"scope_id"`
	MaxSats        int64     `json:"max_sats"`
	ExpUnix        int64     `json:"exp_unix"`
	CreatedAtUnix  int64     `json:"created_at_unix"`
}

// Offer represents the pool's underwritten willingness to extend credit.
// MaxSats and FeeBps are post-underwriting values: the decision engine's output,
// not the caller's requested terms.
type Offer struct {
	OfferID          string      `json:"offer_id"`
	AgentID          string      `json:"agent_id"`
	PoolID           string      `json:"pool_id"`
	ScopeType        ScopeType   `json:"scope_type"`
	ScopeID          string      `json:"scope_id"`
	MaxSats          int64       `json:"max_sats"`
	FeeBps           int64       `json:"fee_bps"`
	RequiresVerifier bool        `json:"requires_verifier"`
	ExpUnix          int64       `json:"exp_unix"`
	Status           OfferStatus `json:"status"`
	IssuedAtUnix     int64       `json:"issued_at_unix"`
}

// Envelope represents an actually-drawn credit line for one provider.
type Envelope struct {
	EnvelopeID   string         `json:"envelope_id"`
	OfferID      string         `json:"offer_id"`
	AgentID      string         `json:"agent_id"`
	PoolID       string         `json:"pool_id"`
	ProviderID   string         `json:"provider_id"`
	ScopeType    ScopeType      `json:"scope_type"`
	ScopeID      string         `json:"scope_id"`
	MaxSats      int64          `json:"max_sats"`
	FeeBps       int64          `json:"fee_bps"`
	ExpUnix      int64          `json:"exp_unix"`
	Status       EnvelopeStatus `json:"status"`
	IssuedAtUnix int64          `json:"issued_at_unix"`
}

// Settlement records the final resolution of an envelope.
// At most one settlement exists per envelope; the store enforces this by direct
// envelope-keyed lookup, independent of request fingerprint.
type Settlement struct {
	SettlementID              string            `json:"settlement_id"`
	EnvelopeID                string            `json:"envelope_id"`
	Outcome                   SettlementOutcome `json:"outcome"`
	SpentSats                 int64             `json:"spent_sats"`
	FeeSats                   int64             `json:"fee_sats"`
	VerificationReceiptSHA256 string            `json:"verification_receipt_sha256"`
	LiquidityReceiptSHA256    string            `json:"liquidity_receipt_sha256,omitempty"`
	CreatedAtUnix             int64             `json:"created_at_unix"`
}

// UnderwritingInputs is the historical snapshot the decision engine consumed.
// Persisted alongside the decision so any offer can be audit-replayed.
type UnderwritingInputs struct {
	AgentID           string  `json:"agent_id"`
	WindowDays        int     `json:"window_days"`
	SuccessVolumeSats int64   `json:"success_volume_sats"`
	SuccessCount      int     `json:"success_count"`
	LossCount         int     `json:"loss_count"`
	WeightedLossScore float64 `json:"weighted_loss_score"`
	OpenEnvelopeCount int     `json:"open_envelope_count"`
	OpenExposureSats  int64   `json:"open_exposure_sats"`
	AsOfUnix          int64   `json:"as_of_unix"`
}

// UnderwritingDecision is the authoritative output of the decision engine.
// It overrides whatever terms the caller requested.
type UnderwritingDecision struct {
	LimitSats        int64   `json:"limit_sats"`
	FeeBps           int64   `json:"fee_bps"`
	RequiresVerifier bool    `json:"requires_verifier"`
	RiskScore        float64 `json:"risk_score"`
}

// UnderwritingAudit is the immutable per-offer audit record.
// Duplicate writes for the same offer are ignored by the store.
type UnderwritingAudit struct {
	OfferID       string               `json:"offer_id"`
	Inputs        UnderwritingInputs   `json:"inputs"`
	Decision      UnderwritingDecision `json:"decision"`
	CreatedAtUnix int64                `json:"created_at_unix"`
}

// PayEvent records one Lightning payment attempt outcome.
// The health monitor samples these to compute the payment failure rate.
type PayEvent struct {
	EventID       string `json:"event_id"`
	EnvelopeID    string `json:"envelope_id"`
	Status        string `json:"status"`
	AmountMsats   int64  `json:"amount_msats"`
	ErrorCode     string `json:"error_code,omitempty"`
	CreatedAtUnix int64  `json:"created_at_unix"`
}

// PayEventStatusSuccess is the only PayEvent status the health monitor counts
// as a successful payment attempt.
const PayEventStatusSuccess = "success"

// Terms is a (max_sats, fee_bps) pair. OfferResult carries two of these so
// callers cannot conflate what they asked for with what underwriting granted.
type Terms struct {
	MaxSats int64 `json:"max_sats"`
	FeeBps  int64 `json:"fee_bps"`
}

// Validate checks if the ScopeType is a valid enum value.
func (st ScopeType) Validate() error {
	switch st {
	case ScopeTypeTask, ScopeTypeService, ScopeTypeSession:
		return nil
	default:
		return fmt.Errorf("unknown scope type: %q", st)
	}
}

// Validate checks if the OfferStatus is a valid enum value.
func (os OfferStatus) Validate() error {
	switch os {
	case OfferStatusOffered, OfferStatusAccepted:
		return nil
	default:
		return fmt.Errorf("unknown offer status: %q", os)
	}
}

// Validate checks if the EnvelopeStatus is a valid enum value.
func (es EnvelopeStatus) Validate() error {
	switch es {
	case EnvelopeStatusAccepted, EnvelopeStatusSettled, EnvelopeStatusDefaulted:
		return nil
	default:
		return fmt.Errorf("unknown envelope status: %q", es)
	}
}

// Validate checks if the SettlementOutcome is a valid enum value.
func (so SettlementOutcome) Validate() error {
	switch so {
	case OutcomeSuccess, OutcomeFailed, OutcomeExpired:
		return nil
	default:
		return fmt.Errorf("unknown settlement outcome: %q", so)
	}
}

// Terminal reports whether the envelope status is final.
func (es EnvelopeStatus) Terminal() bool {
	return es == EnvelopeStatusSettled || es == EnvelopeStatusDefaulted
}

// Validate checks if the Intent has valid field values.
func (i *Intent) Validate() error {
	if i.IntentID == "" {
		return fmt.Errorf("intent ID cannot be empty")
	}
	if i.AgentID == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}
	if i.ScopeID == "" {
		return fmt.Errorf("scope ID cannot be empty")
	}
	if err := i.ScopeType.Validate(); err != nil {
		return fmt.Errorf("invalid scope type: %w", err)
	}
	if i.MaxSats <= 0 {
		return fmt.Errorf("max_sats must be positive, got %d", i.MaxSats)
	}
	if i.ExpUnix <= 0 {
		return fmt.Errorf("exp_unix must be set")
	}
	return nil
}

// Validate checks if the Offer has valid field values.
func (o *Offer) Validate() error {
	if o.OfferID == "" {
		return fmt.Errorf("offer ID cannot be empty")
	}
	if o.AgentID == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}
	if o.PoolID == "" {
		return fmt.Errorf("pool ID cannot be empty")
	}
	if o.ScopeID == "" {
		return fmt.Errorf("scope ID cannot be empty")
	}
	if err := o.ScopeType.Validate(); err != nil {
		return fmt.Errorf("invalid scope type: %w", err)
	}
	if err := o.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if o.MaxSats <= 0 {
		return fmt.Errorf("max_sats must be positive, got %d", o.MaxSats)
	}
	if o.FeeBps < 0 {
		return fmt.Errorf("fee_bps cannot be negative, got %d", o.FeeBps)
	}
	return nil
}

// Validate checks if the Envelope has valid field values.
func (e *Envelope) Validate() error {
	if e.EnvelopeID == "" {
		return fmt.Errorf("envelope ID cannot be empty")
	}
	if e.OfferID == "" {
		return fmt.Errorf("offer ID cannot be empty")
	}
	if e.ProviderID == "" {
		return fmt.Errorf("provider ID cannot be empty")
	}
	if e.AgentID == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}
	if err := e.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if e.MaxSats <= 0 {
		return fmt.Errorf("max_sats must be positive, got %d", e.MaxSats)
	}
	return nil
}

// Validate checks if the Settlement has valid field values.
func (s *Settlement) Validate() error {
	if s.SettlementID == "" {
		return fmt.Errorf("settlement ID cannot be empty")
	}
	if s.EnvelopeID == "" {
		return fmt.Errorf("envelope ID cannot be empty")
	}
	if err := s.Outcome.Validate(); err != nil {
		return fmt.Errorf("invalid outcome: %w", err)
	}
	if s.SpentSats < 0 || s.FeeSats < 0 {
		return fmt.Errorf("spent/fee sats cannot be negative")
	}
	if s.Outcome != OutcomeSuccess && (s.SpentSats != 0 || s.FeeSats != 0) {
		return fmt.Errorf("non-success settlement must carry zero amounts")
	}
	return nil
}
