package cep

import "fmt"

// Request schema tags. Every protocol request carries one; the engine rejects
// requests whose tag does not match the operation being invoked.
const (
	SchemaIntentRequestV1   = "cep.intent.request.v1"
	SchemaOfferRequestV1    = "cep.offer.request.v1"
	SchemaEnvelopeRequestV1 = "cep.envelope.request.v1"
	SchemaSettleRequestV1   = "cep.settle.request.v1"
)

// Receipt schema tags for the payloads receipts are issued over.
const (
	SchemaEnvelopeIssueV1 = "cep.envelope.issue.v1"
	SchemaSettlementV1    = "cep.settlement.v1"
	SchemaDefaultNoticeV1 = "cep.default.v1"
)

// IntentRequest declares an agent's willingness to spend.
type IntentRequest struct {
	Schema         string    `json:"schema"`
	IdempotencyKey string    `json:"idempotency_key"`
	AgentID        string    `json:"agent_id"`
	ScopeType      ScopeType `json:"scope_type"`
	ScopeID        string    `json:"scope_id"`
	MaxSats        int64     `json:"max_sats"`
	ExpUnix        int64     `json:"exp_unix"`
}

// OfferRequest asks the pool to underwrite credit for an agent.
// MaxSats and FeeBps are the caller's requested terms; the underwriting
// decision overrides both in the stored offer.
type OfferRequest struct {
	Schema    string    `json:"schema"`
	IntentID  string    `json:"intent_id,omitempty"`
	AgentID   string    `json:"agent_id"`
	PoolID    string    `json:"pool_id"`
	ScopeType ScopeType `json:"scope_type"`
	ScopeID   string    `json:"scope_id"`
	MaxSats   int64     `json:"max_sats"`
	FeeBps    int64     `json:"fee_bps"`
	ExpUnix   int64     `json:"exp_unix"`
}

// EnvelopeRequest accepts an offer on behalf of one provider.
type EnvelopeRequest struct {
	Schema     string `json:"schema"`
	OfferID    string `json:"offer_id"`
	ProviderID string `json:"provider_id"`
}

// SettleRequest resolves an envelope exactly once.
// If a settlement already exists for the envelope, the stored outcome is
// returned verbatim and every field here except EnvelopeID is ignored.
type SettleRequest struct {
	Schema                    string `json:"schema"`
	EnvelopeID                string `json:"envelope_id"`
	VerificationPassed        bool   `json:"verification_passed"`
	VerificationReceiptSHA256 string `json:"verification_receipt_sha256"`
	Invoice                   string `json:"invoice"`
	ProviderHost              string `json:"provider_host,omitempty"`
}

// OfferResult is the tagged result of the offer operation. Requested carries
// the caller's terms, Granted the underwriting engine's authoritative ones;
// Offer.MaxSats/FeeBps always equal Granted.
type OfferResult struct {
	Offer     *Offer               `json:"offer"`
	Requested Terms                `json:"requested"`
	Granted   Terms                `json:"granted"`
	Decision  UnderwritingDecision `json:"decision"`
}

// EnvelopeResult pairs a minted envelope with its issue receipt.
type EnvelopeResult struct {
	Envelope *Envelope `json:"envelope"`
	Receipt  *Receipt  `json:"receipt"`
}

// SettleResult pairs a settlement with its receipt and the envelope's final
// status. Replayed is true when the settlement already existed and the stored
// outcome was returned without re-evaluating the request.
type SettleResult struct {
	Settlement     *Settlement    `json:"settlement"`
	Receipt        *Receipt       `json:"receipt"`
	EnvelopeStatus EnvelopeStatus `json:"envelope_status"`
	Replayed       bool           `json:"replayed"`
}

// ValidateSchema checks a request's schema tag against the expected constant.
func ValidateSchema(got, want string) error {
	if got != want {
		return fmt.Errorf("unexpected schema tag: got %q, want %q", got, want)
	}
	return nil
}
