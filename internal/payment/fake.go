package payment

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FakeClient is an in-memory payment collaborator for tests and local
// development. It quotes every request and pays according to its configured
// failure mode.
type FakeClient struct {
	mu sync.Mutex

	// FailPay, when non-empty, makes every Pay return that error code with a
	// non-success status.
	FailPay string

	// QuoteErr, when set, makes QuotePay fail outright.
	QuoteErr error

	quotes   map[string]QuoteRequest
	quoted   []QuoteRequest
	payCalls []string
}

// NewFakeClient creates a fake payment client that succeeds by default.
func NewFakeClient() *FakeClient {
	return &FakeClient{quotes: make(map[string]QuoteRequest)}
}

// QuotePay records the request and returns a quote at the requested amount.
func (f *FakeClient) QuotePay(_ context.Context, req QuoteRequest) (Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.QuoteErr != nil {
		return Quote{}, f.QuoteErr
	}

	id := uuid.New().String()
	f.quotes[id] = req
	f.quoted = append(f.quoted, req)
	return Quote{
		QuoteID:          id,
		AmountMsats:      req.MaxAmountMsats,
		FeeEstimateMsats: 0,
	}, nil
}

// Pay resolves a previously issued quote.
func (f *FakeClient) Pay(_ context.Context, quoteID string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	req, ok := f.quotes[quoteID]
	if !ok {
		return Result{}, fmt.Errorf("unknown quote: %s", quoteID)
	}
	f.payCalls = append(f.payCalls, quoteID)

	if f.FailPay != "" {
		return Result{Status: "failed", ErrorCode: f.FailPay}, nil
	}
	return Result{
		Status:        StatusSuccess,
		ReceiptSHA256: fmt.Sprintf("%x", sha256.Sum256([]byte(req.Invoice))),
	}, nil
}

// PayCount reports how many Pay calls were made.
func (f *FakeClient) PayCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payCalls)
}

// LastQuote returns the most recently quoted request.
func (f *FakeClient) LastQuote() (QuoteRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.quoted) == 0 {
		return QuoteRequest{}, false
	}
	return f.quoted[len(f.quoted)-1], true
}

// FakeDecoder decodes invoices from a fixed table.
type FakeDecoder struct {
	// Amounts maps invoice strings to amounts in msats.
	Amounts map[string]int64
}

// AmountMsats looks the invoice up in the table.
func (d *FakeDecoder) AmountMsats(invoice string) (int64, error) {
	amount, ok := d.Amounts[invoice]
	if !ok {
		return 0, fmt.Errorf("undecodable invoice: %s", invoice)
	}
	return amount, nil
}
