package cep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON(t *testing.T) {
	t.Run("sorts map keys", func(t *testing.T) {
		b, err := CanonicalJSON(map[string]any{"b": 2, "a": 1, "c": 3})
		require.NoError(t, err)
		assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(b))
	})

	t.Run("does not escape HTML", func(t *testing.T) {
		b, err := CanonicalJSON(map[string]any{"url": "https://a?x=1&y=<2>"})
		require.NoError(t, err)
		assert.Equal(t, `{"url":"https://a?x=1&y=<2>"}`, string(b))
	})

	t.Run("nested structures are canonicalized recursively", func(t *testing.T) {
		a := map[string]any{"outer": map[string]any{"y": 2, "x": 1}, "list": []any{1, "two"}}
		b := map[string]any{"list": []any{1, "two"}, "outer": map[string]any{"x": 1, "y": 2}}

		ca, err := CanonicalJSON(a)
		require.NoError(t, err)
		cb, err := CanonicalJSON(b)
		require.NoError(t, err)
		assert.Equal(t, string(ca), string(cb))
	})

	t.Run("integer amounts survive exactly", func(t *testing.T) {
		b, err := CanonicalJSON(map[string]any{"sats": int64(21000000_00000000)})
		require.NoError(t, err)
		assert.Equal(t, `{"sats":2100000000000000}`, string(b))
	})
}

func TestFingerprint(t *testing.T) {
	t.Run("identical requests fingerprint identically", func(t *testing.T) {
		a := IntentRequest{
			Schema:         SchemaIntentRequestV1,
			IdempotencyKey: "idem-1",
			AgentID:        "agent-1",
			ScopeType:      ScopeTypeTask,
			ScopeID:        "task-9",
			MaxSats:        1000,
			ExpUnix:        1700000600,
		}
		b := a

		fa, err := Fingerprint(a)
		require.NoError(t, err)
		fb, err := Fingerprint(b)
		require.NoError(t, err)
		assert.Equal(t, fa, fb)
		assert.Len(t, fa, 64)
	})

	t.Run("any field change changes the fingerprint", func(t *testing.T) {
		a := IntentRequest{Schema: SchemaIntentRequestV1, IdempotencyKey: "k", AgentID: "a", ScopeType: ScopeTypeTask, ScopeID: "s", MaxSats: 1000, ExpUnix: 1}
		b := a
		b.MaxSats = 1001

		fa, err := Fingerprint(a)
		require.NoError(t, err)
		fb, err := Fingerprint(b)
		require.NoError(t, err)
		assert.NotEqual(t, fa, fb)
	})
}

func TestEntityID(t *testing.T) {
	t.Run("derives prefixed 24-hex ID", func(t *testing.T) {
		fp := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
		id := EntityID(PrefixEnvelope, fp)
		assert.Equal(t, "env_0123456789abcdef01234567", id)
	})

	t.Run("same fingerprint always resolves to same ID", func(t *testing.T) {
		req := EnvelopeRequest{Schema: SchemaEnvelopeRequestV1, OfferID: "off_x", ProviderID: "prov-1"}
		fa, err := Fingerprint(req)
		require.NoError(t, err)
		fb, err := Fingerprint(req)
		require.NoError(t, err)
		assert.Equal(t, EntityID(PrefixEnvelope, fa), EntityID(PrefixEnvelope, fb))
	})
}
