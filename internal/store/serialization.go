package store

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/drey-labs/drey/pkg/cep"
)

// Serialization helpers for converting between protocol entities and Redis
// hashes
//
// Redis stores data as string-to-string maps (hashes). All numeric fields are
// decimal strings; enum fields store their wire value. Entity rows are written
// once via create-or-get scripts, so converters never need to merge partial
// hashes.

// IntentToHash converts an Intent to Redis hash format.
func IntentToHash(i *cep.Intent) map[string]interface{} {
	return map[string]interface{}{
		"intent_id":       i.IntentID,
		"idempotency_key": i.IdempotencyKey,
		"agent_id":        i.AgentID,
		"scope_type":      string(i.ScopeType),
		"scope_id":        i.ScopeID,
		"max_sats":        i.MaxSats,
		"exp_unix":        i.ExpUnix,
		"created_at_unix": i.CreatedAtUnix,
	}
}

// HashToIntent converts a Redis hash to an Intent.
func HashToIntent(hash map[string]string) (*cep.Intent, error) {
	maxSats, err := parseInt64Field(hash, "max_sats")
	if err != nil {
		return nil, err
	}
	expUnix, err := parseInt64Field(hash, "exp_unix")
	if err != nil {
		return nil, err
	}
	createdAt, err := parseInt64Field(hash, "created_at_unix")
	if err != nil {
		return nil, err
	}

	return &cep.Intent{
		IntentID:       hash["intent_id"],
		IdempotencyKey: hash["idempotency_key"],
		AgentID:        hash["agent_id"],
		ScopeType:      cep.ScopeType(hash["scope_type"]),
		ScopeID:        hash["scope_id"],
		MaxSats:        maxSats,
		ExpUnix:        expUnix,
		CreatedAtUnix:  createdAt,
	}, nil
}

// OfferToHash converts an Offer to Redis hash format.
func OfferToHash(o *cep.Offer) map[string]interface{} {
	return map[string]interface{}{
		"offer_id":          o.OfferID,
		"agent_id":          o.AgentID,
		"pool_id":           o.PoolID,
		"scope_type":        string(o.ScopeType),
		"scope_id":          o.ScopeID,
		"max_sats":          o.MaxSats,
		"fee_bps":           o.FeeBps,
		"requires_verifier": strconv.FormatBool(o.RequiresVerifier),
		"exp_unix":          o.ExpUnix,
		"status":            string(o.Status),
		"issued_at_unix":    o.IssuedAtUnix,
	}
}

// HashToOffer converts a Redis hash to an Offer.
func HashToOffer(hash map[string]string) (*cep.Offer, error) {
	maxSats, err := parseInt64Field(hash, "max_sats")
	if err != nil {
		return nil, err
	}
	feeBps, err := parseInt64Field(hash, "fee_bps")
	if err != nil {
		return nil, err
	}
	expUnix, err := parseInt64Field(hash, "exp_unix")
	if err != nil {
		return nil, err
	}
	issuedAt, err := parseInt64Field(hash, "issued_at_unix")
	if err != nil {
		return nil, err
	}
	requiresVerifier, err := strconv.ParseBool(hash["requires_verifier"])
	if err != nil {
		return nil, fmt.Errorf("invalid requires_verifier field: %w", err)
	}

	return &cep.Offer{
		OfferID:          hash["offer_id"],
		AgentID:          hash["agent_id"],
		PoolID:           hash["pool_id"],
		ScopeType:        cep.ScopeType(hash["scope_type"]),
		ScopeID:          hash["scope_id"],
		MaxSats:          maxSats,
		FeeBps:           feeBps,
		RequiresVerifier: requiresVerifier,
		ExpUnix:          expUnix,
		Status:           cep.OfferStatus(hash["status"]),
		IssuedAtUnix:     issuedAt,
	}, nil
}

// EnvelopeToHash converts an Envelope to Redis hash format.
func EnvelopeToHash(e *cep.Envelope) map[string]interface{} {
	return map[string]interface{}{
		"envelope_id":    e.EnvelopeID,
		"offer_id":       e.OfferID,
		"agent_id":       e.AgentID,
		"pool_id":        e.PoolID,
		"provider_id":    e.ProviderID,
		"scope_type":     string(e.ScopeType),
		"scope_id":       e.ScopeID,
		"max_sats":       e.MaxSats,
		"fee_bps":        e.FeeBps,
		"exp_unix":       e.ExpUnix,
		"status":         string(e.Status),
		"issued_at_unix": e.IssuedAtUnix,
	}
}

// HashToEnvelope converts a Redis hash to an Envelope.
func HashToEnvelope(hash map[string]string) (*cep.Envelope, error) {
	maxSats, err := parseInt64Field(hash, "max_sats")
	if err != nil {
		return nil, err
	}
	feeBps, err := parseInt64Field(hash, "fee_bps")
	if err != nil {
		return nil, err
	}
	expUnix, err := parseInt64Field(hash, "exp_unix")
	if err != nil {
		return nil, err
	}
	issuedAt, err := parseInt64Field(hash, "issued_at_unix")
	if err != nil {
		return nil, err
	}

	return &cep.Envelope{
		EnvelopeID:   hash["envelope_id"],
		OfferID:      hash["offer_id"],
		AgentID:      hash["agent_id"],
		PoolID:       hash["pool_id"],
		ProviderID:   hash["provider_id"],
		ScopeType:    cep.ScopeType(hash["scope_type"]),
		ScopeID:      hash["scope_id"],
		MaxSats:      maxSats,
		FeeBps:       feeBps,
		ExpUnix:      expUnix,
		Status:       cep.EnvelopeStatus(hash["status"]),
		IssuedAtUnix: issuedAt,
	}, nil
}

// SettlementToHash converts a Settlement to Redis hash format.
func SettlementToHash(s *cep.Settlement) map[string]interface{} {
	return map[string]interface{}{
		"settlement_id":               s.SettlementID,
		"envelope_id":                 s.EnvelopeID,
		"outcome":                     string(s.Outcome),
		"spent_sats":                  s.SpentSats,
		"fee_sats":                    s.FeeSats,
		"verification_receipt_sha256": s.VerificationReceiptSHA256,
		"liquidity_receipt_sha256":    s.LiquidityReceiptSHA256,
		"created_at_unix":             s.CreatedAtUnix,
	}
}

// HashToSettlement converts a Redis hash to a Settlement.
func HashToSettlement(hash map[string]string) (*cep.Settlement, error) {
	spentSats, err := parseInt64Field(hash, "spent_sats")
	if err != nil {
		return nil, err
	}
	feeSats, err := parseInt64Field(hash, "fee_sats")
	if err != nil {
		return nil, err
	}
	createdAt, err := parseInt64Field(hash, "created_at_unix")
	if err != nil {
		return nil, err
	}

	return &cep.Settlement{
		SettlementID:              hash["settlement_id"],
		EnvelopeID:                hash["envelope_id"],
		Outcome:                   cep.SettlementOutcome(hash["outcome"]),
		SpentSats:                 spentSats,
		FeeSats:                   feeSats,
		VerificationReceiptSHA256: hash["verification_receipt_sha256"],
		LiquidityReceiptSHA256:    hash["liquidity_receipt_sha256"],
		CreatedAtUnix:             createdAt,
	}, nil
}

// ReceiptToHash converts a Receipt to Redis hash format.
func ReceiptToHash(r *cep.Receipt) map[string]interface{} {
	return map[string]interface{}{
		"receipt_id":            r.ReceiptID,
		"entity_kind":           string(r.EntityKind),
		"entity_id":             r.EntityID,
		"schema":                r.Schema,
		"canonical_json_sha256": r.CanonicalJSONSHA256,
		"signature":             r.Signature,
		"signer_public_key":     r.SignerPublicKey,
		"created_at_unix":       r.CreatedAtUnix,
	}
}

// HashToReceipt converts a Redis hash to a Receipt.
func HashToReceipt(hash map[string]string) (*cep.Receipt, error) {
	createdAt, err := parseInt64Field(hash, "created_at_unix")
	if err != nil {
		return nil, err
	}

	return &cep.Receipt{
		ReceiptID:           hash["receipt_id"],
		EntityKind:          cep.EntityKind(hash["entity_kind"]),
		EntityID:            hash["entity_id"],
		Schema:              hash["schema"],
		CanonicalJSONSHA256: hash["canonical_json_sha256"],
		Signature:           hash["signature"],
		SignerPublicKey:     hash["signer_public_key"],
		CreatedAtUnix:       createdAt,
	}, nil
}

// flattenHash converts a hash map to an alternating field/value argument list
// for Lua HSET calls. Keys are sorted so scripts receive stable arguments.
func flattenHash(hash map[string]interface{}) []interface{} {
	keys := make([]string, 0, len(hash))
	for k := range hash {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]interface{}, 0, len(hash)*2)
	for _, k := range keys {
		args = append(args, k, fmt.Sprintf("%v", hash[k]))
	}
	return args
}

func parseInt64Field(hash map[string]string, field string) (int64, error) {
	v, err := strconv.ParseInt(hash[field], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s field: %w", field, err)
	}
	return v, nil
}
