// Package payment defines the Lightning payment collaborator contract.
//
// The engine never talks to a node directly: it quotes, then pays, through
// this interface, and treats any non-success as a retryable dependency
// failure. Payments are at-least-once from the engine's point of view; the
// idempotency key passed with each quote is the collaborator's handle for
// deduplicating a retried settle of the same envelope.
package payment

import "context"

// StatusSuccess is the only payment status the engine treats as settled funds.
const StatusSuccess = "success"

// QuoteRequest describes one intended payment.
type QuoteRequest struct {
	Invoice        string
	ProviderHost   string
	MaxAmountMsats int64
	MaxFeeMsats    int64

	// IdempotencyKey is stable across retries of the same envelope, so the
	// collaborator can refuse to double-pay an invoice the engine already
	// paid but failed to record.
	IdempotencyKey string

	// PolicyContext carries engine-side labels (pool, envelope) for the
	// collaborator's own audit trail.
	PolicyContext map[string]string
}

// Quote is the collaborator's priced commitment to attempt a payment.
type Quote struct {
	QuoteID          string
	AmountMsats      int64
	FeeEstimateMsats int64
}

// Result is the outcome of executing a quote.
type Result struct {
	Status string

	// ReceiptSHA256 is the canonical-JSON digest of the collaborator's own
	// payment receipt, carried into the settlement row when present.
	ReceiptSHA256 string

	ErrorCode string
}

// Client is the quote-then-pay payment collaborator.
type Client interface {
	QuotePay(ctx context.Context, req QuoteRequest) (Quote, error)
	Pay(ctx context.Context, quoteID string) (Result, error)
}

// InvoiceDecoder extracts the amount from a payment invoice. Invoice parsing
// is collaborator territory; the engine only needs the amount to enforce
// envelope caps.
type InvoiceDecoder interface {
	AmountMsats(invoice string) (int64, error)
}
