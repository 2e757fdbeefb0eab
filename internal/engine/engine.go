// Package engine implements the credit envelope protocol state machine:
// intent → offer → envelope → settlement.
//
// The engine holds no cross-call state. Every operation is a short-lived
// task whose only concurrency-safety mechanism is the store's idempotent
// create-or-get primitives: two concurrent calls carrying the same logical
// request resolve to the same stored row.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/drey-labs/drey/internal/attest"
	"github.com/drey-labs/drey/internal/config"
	"github.com/drey-labs/drey/internal/health"
	"github.com/drey-labs/drey/internal/payment"
	"github.com/drey-labs/drey/internal/store"
	"github.com/drey-labs/drey/internal/underwrite"
	"github.com/drey-labs/drey/pkg/cep"
)

// Deps bundles the engine's collaborators.
type Deps struct {
	Store    *store.Client
	Monitor  *health.Monitor
	Payments payment.Client
	Decoder  payment.InvoiceDecoder

	// Bridge publishes best-effort attestation events; nil means log-only.
	Bridge attest.Bridge

	// Signer signs receipts; nil produces unsigned, hash-addressed receipts.
	Signer *cep.Signer

	Policy config.Policy
	PoolID string

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// Engine executes protocol operations against one liquidity pool.
type Engine struct {
	store    *store.Client
	monitor  *health.Monitor
	payments payment.Client
	decoder  payment.InvoiceDecoder
	bridge   attest.Bridge
	signer   *cep.Signer
	policy   config.Policy
	poolID   string
	clock    func() time.Time
}

// NewEngine creates a protocol engine. Store, monitor, payment client and
// invoice decoder are required; bridge and signer are optional.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Monitor == nil {
		return nil, fmt.Errorf("health monitor is required")
	}
	if deps.Payments == nil {
		return nil, fmt.Errorf("payment client is required")
	}
	if deps.Decoder == nil {
		return nil, fmt.Errorf("invoice decoder is required")
	}
	if deps.PoolID == "" {
		return nil, fmt.Errorf("pool ID is required")
	}
	if err := deps.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	bridge := deps.Bridge
	if bridge == nil {
		bridge = attest.LogBridge{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		store:    deps.Store,
		monitor:  deps.Monitor,
		payments: deps.Payments,
		decoder:  deps.Decoder,
		bridge:   bridge,
		signer:   deps.Signer,
		policy:   deps.Policy,
		poolID:   deps.PoolID,
		clock:    clock,
	}, nil
}

// Intent validates and idempotently records an agent's declared willingness
// to spend.
func (e *Engine) Intent(ctx context.Context, req *cep.IntentRequest) (*cep.Intent, error) {
	const op = "intent"

	if err := cep.ValidateSchema(req.Schema, cep.SchemaIntentRequestV1); err != nil {
		return nil, cep.WrapError(cep.KindInvalidRequest, op, "bad schema", err)
	}
	if err := req.ScopeType.Validate(); err != nil {
		return nil, cep.WrapError(cep.KindInvalidRequest, op, "bad scope type", err)
	}
	if req.AgentID == "" || req.ScopeID == "" {
		return nil, cep.Errorf(cep.KindInvalidRequest, op, "agent_id and scope_id are required")
	}

	now := e.clock().Unix()
	if err := e.checkSatsAndExpiry(op, req.MaxSats, req.ExpUnix, now); err != nil {
		return nil, err
	}

	fp, err := cep.Fingerprint(req)
	if err != nil {
		return nil, cep.WrapError(cep.KindInternal, op, "failed to fingerprint request", err)
	}

	intent := &cep.Intent{
		IntentID:       cep.EntityID(cep.PrefixIntent, fp),
		IdempotencyKey: req.IdempotencyKey,
		AgentID:        req.AgentID,
		ScopeType:      req.ScopeType,
		ScopeID:        req.ScopeID,
		MaxSats:        req.MaxSats,
		ExpUnix:        req.ExpUnix,
		CreatedAtUnix:  now,
	}

	stored, created, err := e.store.CreateOrGetIntent(ctx, intent)
	if err != nil {
		return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "store write failed", err)
	}

	e.logEvent("intent_created", map[string]interface{}{
		"intent_id": stored.IntentID,
		"agent_id":  stored.AgentID,
		"max_sats":  stored.MaxSats,
		"replayed":  !created,
	})
	return stored, nil
}

// Offer underwrites and idempotently records the pool's willingness to extend
// credit. The caller's requested terms are advisory: the underwriting
// decision overrides max_sats and fee_bps in the stored offer.
func (e *Engine) Offer(ctx context.Context, req *cep.OfferRequest) (*cep.OfferResult, error) {
	const op = "offer"

	if err := cep.ValidateSchema(req.Schema, cep.SchemaOfferRequestV1); err != nil {
		return nil, cep.WrapError(cep.KindInvalidRequest, op, "bad schema", err)
	}
	if err := req.ScopeType.Validate(); err != nil {
		return nil, cep.WrapError(cep.KindInvalidRequest, op, "bad scope type", err)
	}
	if req.AgentID == "" || req.ScopeID == "" || req.PoolID == "" {
		return nil, cep.Errorf(cep.KindInvalidRequest, op, "agent_id, pool_id and scope_id are required")
	}
	if req.PoolID != e.poolID {
		return nil, cep.Errorf(cep.KindInvalidRequest, op, "unknown pool %q", req.PoolID)
	}
	if req.FeeBps < 0 {
		return nil, cep.Errorf(cep.KindInvalidRequest, op, "fee_bps cannot be negative")
	}

	now := e.clock().Unix()
	if err := e.checkSatsAndExpiry(op, req.MaxSats, req.ExpUnix, now); err != nil {
		return nil, err
	}

	if req.IntentID != "" {
		intent, err := e.store.GetIntent(ctx, req.IntentID)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, cep.Errorf(cep.KindNotFound, op, "intent %s not found", req.IntentID)
			}
			return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "store read failed", err)
		}
		if intent.AgentID != req.AgentID || intent.ScopeType != req.ScopeType || intent.ScopeID != req.ScopeID {
			return nil, cep.Errorf(cep.KindConflict, op, "offer does not match intent %s", req.IntentID)
		}
		if req.MaxSats > intent.MaxSats {
			return nil, cep.Errorf(cep.KindConflict, op, "requested max_sats %d exceeds intent cap %d", req.MaxSats, intent.MaxSats)
		}
		if req.ExpUnix > intent.ExpUnix {
			return nil, cep.Errorf(cep.KindConflict, op, "offer expiry exceeds intent expiry")
		}
	}

	// Breakers are consulted at offer time for visibility only; no breaker
	// gates offers. Tripped state surfaces in the issued-offer event, and
	// issuance itself is blocked at envelope time.
	breakers, err := e.monitor.Check(ctx, e.clock())
	if err != nil {
		return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "health check failed", err)
	}

	decision, inputs, err := e.underwrite(ctx, op, req.AgentID, now)
	if err != nil {
		return nil, err
	}

	fp, err := cep.Fingerprint(req)
	if err != nil {
		return nil, cep.WrapError(cep.KindInternal, op, "failed to fingerprint request", err)
	}

	offer := &cep.Offer{
		OfferID:          cep.EntityID(cep.PrefixOffer, fp),
		AgentID:          req.AgentID,
		PoolID:           req.PoolID,
		ScopeType:        req.ScopeType,
		ScopeID:          req.ScopeID,
		MaxSats:          decision.LimitSats,
		FeeBps:           decision.FeeBps,
		RequiresVerifier: decision.RequiresVerifier,
		ExpUnix:          req.ExpUnix,
		Status:           cep.OfferStatusOffered,
		IssuedAtUnix:     now,
	}

	stored, created, err := e.store.CreateOrGetOffer(ctx, offer)
	if err != nil {
		return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "store write failed", err)
	}

	// first audit record for the offer wins; replays leave it untouched
	audit := &cep.UnderwritingAudit{
		OfferID:       stored.OfferID,
		Inputs:        inputs,
		Decision:      decision,
		CreatedAtUnix: now,
	}
	if err := e.store.PutUnderwritingAudit(ctx, audit); err != nil {
		return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "audit write failed", err)
	}

	e.logEvent("offer_issued", map[string]interface{}{
		"offer_id":           stored.OfferID,
		"agent_id":           stored.AgentID,
		"requested_sats":     req.MaxSats,
		"granted_sats":       stored.MaxSats,
		"fee_bps":            stored.FeeBps,
		"risk_score":         decision.RiskScore,
		"replayed":           !created,
		"halt_new_envelopes": breakers.HaltNewEnvelopes,
	})

	return &cep.OfferResult{
		Offer:     stored,
		Requested: cep.Terms{MaxSats: req.MaxSats, FeeBps: req.FeeBps},
		Granted:   cep.Terms{MaxSats: stored.MaxSats, FeeBps: stored.FeeBps},
		Decision:  decision,
	}, nil
}

// Envelope draws an actual credit line against an offer for one provider.
// The envelope write and the offer's offered→accepted flip are one atomic
// store operation, so a second provider racing for the same offer gets
// Conflict rather than a duplicate line.
func (e *Engine) Envelope(ctx context.Context, req *cep.EnvelopeRequest) (*cep.EnvelopeResult, error) {
	const op = "envelope"

	if err := cep.ValidateSchema(req.Schema, cep.SchemaEnvelopeRequestV1); err != nil {
		return nil, cep.WrapError(cep.KindInvalidRequest, op, "bad schema", err)
	}
	if req.OfferID == "" || req.ProviderID == "" {
		return nil, cep.Errorf(cep.KindInvalidRequest, op, "offer_id and provider_id are required")
	}

	offer, err := e.store.GetOffer(ctx, req.OfferID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, cep.Errorf(cep.KindNotFound, op, "offer %s not found", req.OfferID)
		}
		return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "store read failed", err)
	}

	now := e.clock().Unix()
	if offer.ExpUnix <= now {
		return nil, cep.Errorf(cep.KindConflict, op, "offer %s has expired", offer.OfferID)
	}
	if !offer.RequiresVerifier {
		return nil, cep.Errorf(cep.KindInvalidRequest, op, "offer %s does not require verification", offer.OfferID)
	}
	if offer.MaxSats > e.policy.MaxSatsPerEnvelope {
		return nil, cep.Errorf(cep.KindInvalidRequest, op, "offer limit %d exceeds envelope cap %d", offer.MaxSats, e.policy.MaxSatsPerEnvelope)
	}

	status, err := e.monitor.Check(ctx, e.clock())
	if err != nil {
		return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "health check failed", err)
	}
	if status.HaltNewEnvelopes {
		return nil, cep.Errorf(cep.KindDependencyUnavailable, op, "issuance halted: loss rate %.2f over threshold", status.LossRate)
	}

	stats, err := e.store.GetAgentOpenEnvelopeStats(ctx, offer.AgentID, now)
	if err != nil {
		return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "store read failed", err)
	}
	if stats.Count >= e.policy.MaxOutstandingEnvelopesPerAgent {
		return nil, cep.Errorf(cep.KindConflict, op, "agent %s has %d open envelopes (cap %d)",
			offer.AgentID, stats.Count, e.policy.MaxOutstandingEnvelopesPerAgent)
	}

	// envelope identity is the (offer, provider) pair
	fp, err := cep.Fingerprint(map[string]any{
		"offer_id":    req.OfferID,
		"provider_id": req.ProviderID,
	})
	if err != nil {
		return nil, cep.WrapError(cep.KindInternal, op, "failed to fingerprint request", err)
	}

	env := &cep.Envelope{
		EnvelopeID:   cep.EntityID(cep.PrefixEnvelope, fp),
		OfferID:      offer.OfferID,
		AgentID:      offer.AgentID,
		PoolID:       offer.PoolID,
		ProviderID:   req.ProviderID,
		ScopeType:    offer.ScopeType,
		ScopeID:      offer.ScopeID,
		MaxSats:      offer.MaxSats,
		FeeBps:       offer.FeeBps,
		ExpUnix:      offer.ExpUnix,
		Status:       cep.EnvelopeStatusAccepted,
		IssuedAtUnix: now,
	}

	stored, created, err := e.store.CreateOrGetEnvelope(ctx, env)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOfferNotFound):
			return nil, cep.Errorf(cep.KindNotFound, op, "offer %s not found", req.OfferID)
		case errors.Is(err, store.ErrOfferUnavailable):
			return nil, cep.Errorf(cep.KindConflict, op, "offer %s already accepted", req.OfferID)
		default:
			return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "store write failed", err)
		}
	}

	receipt, err := e.issueReceipt(ctx, op, cep.EntityKindEnvelope, stored.EnvelopeID, cep.SchemaEnvelopeIssueV1, stored, now)
	if err != nil {
		return nil, err
	}

	e.logEvent("envelope_issued", map[string]interface{}{
		"envelope_id": stored.EnvelopeID,
		"offer_id":    stored.OfferID,
		"agent_id":    stored.AgentID,
		"provider_id": stored.ProviderID,
		"max_sats":    stored.MaxSats,
		"replayed":    !created,
	})

	return &cep.EnvelopeResult{Envelope: stored, Receipt: receipt}, nil
}

// Settle resolves an envelope exactly once. The idempotency check runs first
// and ignores the new request's content: whatever settlement was stored for
// the envelope is returned verbatim.
func (e *Engine) Settle(ctx context.Context, req *cep.SettleRequest) (*cep.SettleResult, error) {
	const op = "settle"

	if err := cep.ValidateSchema(req.Schema, cep.SchemaSettleRequestV1); err != nil {
		return nil, cep.WrapError(cep.KindInvalidRequest, op, "bad schema", err)
	}
	if req.EnvelopeID == "" {
		return nil, cep.Errorf(cep.KindInvalidRequest, op, "envelope_id is required")
	}

	// first settlement wins, independent of this request's fields
	if stl, err := e.store.GetSettlementByEnvelope(ctx, req.EnvelopeID); err == nil {
		return e.replayedResult(ctx, stl)
	} else if !store.IsNotFound(err) {
		return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "store read failed", err)
	}

	env, err := e.store.GetEnvelope(ctx, req.EnvelopeID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, cep.Errorf(cep.KindNotFound, op, "envelope %s not found", req.EnvelopeID)
		}
		return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "store read failed", err)
	}
	if env.Status != cep.EnvelopeStatusAccepted {
		return nil, cep.Errorf(cep.KindConflict, op, "envelope %s is %s, not accepted", env.EnvelopeID, env.Status)
	}

	now := e.clock().Unix()

	if now > env.ExpUnix {
		return e.finalize(ctx, env, cep.OutcomeExpired, 0, 0, req.VerificationReceiptSHA256, "", now)
	}
	if !req.VerificationPassed {
		return e.finalize(ctx, env, cep.OutcomeFailed, 0, 0, req.VerificationReceiptSHA256, "", now)
	}

	amountMsats, err := e.decoder.AmountMsats(req.Invoice)
	if err != nil {
		return nil, cep.WrapError(cep.KindInvalidRequest, op, "undecodable invoice", err)
	}
	if amountMsats <= 0 {
		return nil, cep.Errorf(cep.KindInvalidRequest, op, "invoice amount must be positive")
	}
	if amountMsats > env.MaxSats*1000 {
		return nil, cep.Errorf(cep.KindInvalidRequest, op, "invoice amount %d msats exceeds envelope cap %d sats", amountMsats, env.MaxSats)
	}

	spentSats := ceilDiv(amountMsats, 1000)

	status, err := e.monitor.Check(ctx, e.clock())
	if err != nil {
		return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "health check failed", err)
	}
	if status.HaltLargeSettlements && spentSats > e.policy.LnFailureLargeSettlementCapSats {
		return nil, cep.Errorf(cep.KindDependencyUnavailable, op,
			"large settlements halted: %d sats over cap %d with ln failure rate %.2f",
			spentSats, e.policy.LnFailureLargeSettlementCapSats, status.LnFailureRate)
	}

	result, err := e.pay(ctx, env, req, amountMsats, now)
	if err != nil {
		// no settlement row on payment failure; the envelope stays accepted
		// and a later retry may pay
		return nil, err
	}

	feeSats := ceilDiv(spentSats*env.FeeBps, 10_000)
	return e.finalize(ctx, env, cep.OutcomeSuccess, spentSats, feeSats, req.VerificationReceiptSHA256, result.ReceiptSHA256, now)
}

// pay runs the quote-then-pay saga. Payment happens before the settlement row
// is written; a crash in between leaves the envelope accepted and makes a
// retried settle pay again, which the collaborator deduplicates via the
// idempotency key.
func (e *Engine) pay(ctx context.Context, env *cep.Envelope, req *cep.SettleRequest, amountMsats, now int64) (payment.Result, error) {
	const op = "settle"

	quote, err := e.payments.QuotePay(ctx, payment.QuoteRequest{
		Invoice:        req.Invoice,
		ProviderHost:   req.ProviderHost,
		MaxAmountMsats: amountMsats,
		MaxFeeMsats:    amountMsats * env.FeeBps / 10_000,
		IdempotencyKey: env.EnvelopeID,
		PolicyContext: map[string]string{
			"pool_id":     env.PoolID,
			"envelope_id": env.EnvelopeID,
		},
	})
	if err != nil {
		e.recordPayEvent(ctx, env.EnvelopeID, "failed", amountMsats, "quote_failed", now)
		return payment.Result{}, cep.WrapError(cep.KindDependencyUnavailable, op, "payment quote failed", err)
	}

	result, err := e.payments.Pay(ctx, quote.QuoteID)
	if err != nil {
		e.recordPayEvent(ctx, env.EnvelopeID, "failed", amountMsats, "pay_error", now)
		return payment.Result{}, cep.WrapError(cep.KindDependencyUnavailable, op, "payment failed", err)
	}
	if result.Status != payment.StatusSuccess {
		e.recordPayEvent(ctx, env.EnvelopeID, result.Status, amountMsats, result.ErrorCode, now)
		return payment.Result{}, cep.Errorf(cep.KindDependencyUnavailable, op, "payment not successful: %s (%s)", result.Status, result.ErrorCode)
	}

	e.recordPayEvent(ctx, env.EnvelopeID, payment.StatusSuccess, amountMsats, "", now)
	return result, nil
}

// finalize writes the settlement row, flips the envelope terminal, issues the
// receipt and fires the best-effort attestation event.
func (e *Engine) finalize(ctx context.Context, env *cep.Envelope, outcome cep.SettlementOutcome, spentSats, feeSats int64, verificationSHA, liquiditySHA string, now int64) (*cep.SettleResult, error) {
	const op = "settle"

	fp, err := cep.Fingerprint(map[string]any{
		"envelope_id":                 env.EnvelopeID,
		"outcome":                     string(outcome),
		"spent_sats":                  spentSats,
		"fee_sats":                    feeSats,
		"verification_receipt_sha256": verificationSHA,
	})
	if err != nil {
		return nil, cep.WrapError(cep.KindInternal, op, "failed to fingerprint settlement", err)
	}

	envStatus := cep.EnvelopeStatusSettled
	if outcome != cep.OutcomeSuccess {
		envStatus = cep.EnvelopeStatusDefaulted
	}

	stl := &cep.Settlement{
		SettlementID:              cep.EntityID(cep.PrefixSettlement, fp),
		EnvelopeID:                env.EnvelopeID,
		Outcome:                   outcome,
		SpentSats:                 spentSats,
		FeeSats:                   feeSats,
		VerificationReceiptSHA256: verificationSHA,
		LiquidityReceiptSHA256:    liquiditySHA,
		CreatedAtUnix:             now,
	}

	stored, created, err := e.store.CreateOrGetSettlement(ctx, stl, env.AgentID, envStatus)
	if err != nil {
		return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "settlement write failed", err)
	}
	if !created {
		// lost a settle race; the winner's row stands
		return e.replayedResult(ctx, stored)
	}

	receipt, err := e.issueReceipt(ctx, op, cep.EntityKindSettlement, stored.SettlementID, settlementSchema(stored.Outcome), stored, now)
	if err != nil {
		return nil, err
	}

	if err := e.bridge.Publish(ctx, attest.NewEvent(env.EnvelopeID, stored.Outcome, receipt.CanonicalJSONSHA256, now)); err != nil {
		log.Printf("[Engine] Attestation publish failed for %s: %v", env.EnvelopeID, err)
	}

	e.logEvent("envelope_settled", map[string]interface{}{
		"envelope_id":   env.EnvelopeID,
		"settlement_id": stored.SettlementID,
		"outcome":       stored.Outcome,
		"spent_sats":    stored.SpentSats,
		"fee_sats":      stored.FeeSats,
	})

	return &cep.SettleResult{
		Settlement:     stored,
		Receipt:        receipt,
		EnvelopeStatus: envStatus,
		Replayed:       false,
	}, nil
}

// replayedResult reconstructs the stored outcome of an already-settled
// envelope without re-evaluating anything.
func (e *Engine) replayedResult(ctx context.Context, stl *cep.Settlement) (*cep.SettleResult, error) {
	const op = "settle"

	env, err := e.store.GetEnvelope(ctx, stl.EnvelopeID)
	if err != nil {
		return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "store read failed", err)
	}

	receipt, err := e.store.GetReceipt(ctx, cep.EntityKindSettlement, stl.SettlementID, settlementSchema(stl.Outcome))
	if err != nil && !store.IsNotFound(err) {
		return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "store read failed", err)
	}

	e.logEvent("settlement_replayed", map[string]interface{}{
		"envelope_id":   stl.EnvelopeID,
		"settlement_id": stl.SettlementID,
		"outcome":       stl.Outcome,
	})

	return &cep.SettleResult{
		Settlement:     stl,
		Receipt:        receipt,
		EnvelopeStatus: env.Status,
		Replayed:       true,
	}, nil
}

// underwrite gathers the agent's trailing window and open exposure and runs
// the decision engine.
func (e *Engine) underwrite(ctx context.Context, op, agentID string, now int64) (cep.UnderwritingDecision, cep.UnderwritingInputs, error) {
	since := now - int64(e.policy.UnderwritingHistoryDays)*86_400

	settlements, err := e.store.ListRecentSettlementsForAgent(ctx, agentID, since, 0)
	if err != nil {
		return cep.UnderwritingDecision{}, cep.UnderwritingInputs{},
			cep.WrapError(cep.KindDependencyUnavailable, op, "store read failed", err)
	}
	stats, err := e.store.GetAgentOpenEnvelopeStats(ctx, agentID, now)
	if err != nil {
		return cep.UnderwritingDecision{}, cep.UnderwritingInputs{},
			cep.WrapError(cep.KindDependencyUnavailable, op, "store read failed", err)
	}

	inputs := underwrite.BuildInputs(agentID, settlements, stats.Count, stats.ExposureSats, e.policy.UnderwritingHistoryDays, now)
	return underwrite.Decide(inputs, e.policy), inputs, nil
}

// issueReceipt builds, persists and returns a receipt over an entity payload.
func (e *Engine) issueReceipt(ctx context.Context, op string, kind cep.EntityKind, entityID, schema string, payload any, now int64) (*cep.Receipt, error) {
	receipt, err := cep.BuildReceipt(kind, entityID, schema, payload, e.signer, now)
	if err != nil {
		return nil, cep.WrapError(cep.KindInternal, op, "failed to build receipt", err)
	}
	if err := e.store.PutReceipt(ctx, receipt); err != nil {
		return nil, cep.WrapError(cep.KindDependencyUnavailable, op, "receipt write failed", err)
	}
	return receipt, nil
}

// recordPayEvent appends a payment attempt to the health window. Failures to
// record never mask the payment outcome itself.
func (e *Engine) recordPayEvent(ctx context.Context, envelopeID, status string, amountMsats int64, errorCode string, now int64) {
	err := e.store.RecordPayEvent(ctx, &cep.PayEvent{
		EnvelopeID:    envelopeID,
		Status:        status,
		AmountMsats:   amountMsats,
		ErrorCode:     errorCode,
		CreatedAtUnix: now,
	})
	if err != nil {
		log.Printf("[Engine] Failed to record pay event for %s: %v", envelopeID, err)
	}
}

func (e *Engine) checkSatsAndExpiry(op string, maxSats, expUnix, now int64) error {
	if maxSats <= 0 {
		return cep.Errorf(cep.KindInvalidRequest, op, "max_sats must be positive, got %d", maxSats)
	}
	if maxSats > e.policy.MaxSatsPerEnvelope {
		return cep.Errorf(cep.KindInvalidRequest, op, "max_sats %d exceeds envelope cap %d", maxSats, e.policy.MaxSatsPerEnvelope)
	}
	if expUnix <= now {
		return cep.Errorf(cep.KindInvalidRequest, op, "expiry must be in the future")
	}
	if expUnix > now+e.policy.MaxOfferTTLSeconds {
		return cep.Errorf(cep.KindInvalidRequest, op, "expiry exceeds max TTL of %d seconds", e.policy.MaxOfferTTLSeconds)
	}
	return nil
}

func settlementSchema(outcome cep.SettlementOutcome) string {
	if outcome == cep.OutcomeSuccess {
		return cep.SchemaSettlementV1
	}
	return cep.SchemaDefaultNoticeV1
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// logEvent logs a structured event in JSON format.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "engine"
	data["event_type"] = eventType
	data["pool_id"] = e.poolID

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Engine] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
