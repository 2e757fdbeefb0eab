// Package attest publishes best-effort public pointers to settlement
// receipts. Publishing is fire-and-forget: a failed or absent bridge never
// affects the settlement itself.
package attest

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"github.com/drey-labs/drey/pkg/cep"
)

// Event is a signed-receipt pointer suitable for publication outside the
// pool. It carries digests, never entity payloads.
type Event struct {
	EventID       string                `json:"event_id"`
	EnvelopeID    string                `json:"envelope_id"`
	Outcome       cep.SettlementOutcome `json:"outcome"`
	ReceiptSHA256 string                `json:"receipt_sha256"`
	CreatedAtUnix int64                 `json:"created_at_unix"`
}

// NewEvent builds a publishable pointer for a settlement receipt.
func NewEvent(envelopeID string, outcome cep.SettlementOutcome, receiptSHA256 string, nowUnix int64) Event {
	return Event{
		EventID:       uuid.New().String(),
		EnvelopeID:    envelopeID,
		Outcome:       outcome,
		ReceiptSHA256: receiptSHA256,
		CreatedAtUnix: nowUnix,
	}
}

// Bridge publishes attestation events. Implementations must tolerate being
// called concurrently; errors are logged by the caller, never propagated.
type Bridge interface {
	Publish(ctx context.Context, ev Event) error
}

// LogBridge writes events to the process log instead of a public relay.
// Useful as the default bridge when no relay is configured.
type LogBridge struct{}

// Publish logs the event as a single JSON line.
func (LogBridge) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	log.Printf("[Attest] EVENT: %s", payload)
	return nil
}

// RecordingBridge captures events in memory for tests.
type RecordingBridge struct {
	Events []Event

	// Err, when set, is returned from every Publish.
	Err error
}

// Publish appends the event unless Err is set.
func (b *RecordingBridge) Publish(_ context.Context, ev Event) error {
	if b.Err != nil {
		return b.Err
	}
	b.Events = append(b.Events, ev)
	return nil
}
