package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drey-labs/drey/pkg/cep"
)

// setupTestClient creates a miniredis instance and store client for testing.
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func testIntent(id string) *cep.Intent {
	return &cep.Intent{
		IntentID:       id,
		IdempotencyKey: "key-1",
		AgentID:        "agent-a",
		ScopeType:      cep.ScopeTypeTask,
		ScopeID:        "task-42",
		MaxSats:        1000,
		ExpUnix:        2_000_000_000,
		CreatedAtUnix:  1_700_000_000,
	}
}

func testOffer(id string) *cep.Offer {
	return &cep.Offer{
		OfferID:          id,
		AgentID:          "agent-a",
		PoolID:           "pool-1",
		ScopeType:        cep.ScopeTypeTask,
		ScopeID:          "task-42",
		MaxSats:          400,
		FeeBps:           50,
		RequiresVerifier: true,
		ExpUnix:          2_000_000_000,
		Status:           cep.OfferStatusOffered,
		IssuedAtUnix:     1_700_000_000,
	}
}

func testEnvelope(id, offerID string) *cep.Envelope {
	return &cep.Envelope{
		EnvelopeID:   id,
		OfferID:      offerID,
		AgentID:      "agent-a",
		PoolID:       "pool-1",
		ProviderID:   "provider-x",
		ScopeType:    cep.ScopeTypeTask,
		ScopeID:      "task-42",
		MaxSats:      400,
		FeeBps:       50,
		ExpUnix:      2_000_000_000,
		Status:       cep.EnvelopeStatusAccepted,
		IssuedAtUnix: 1_700_000_100,
	}
}

func testSettlement(id, envelopeID string) *cep.Settlement {
	return &cep.Settlement{
		SettlementID:              id,
		EnvelopeID:                envelopeID,
		Outcome:                   cep.OutcomeSuccess,
		SpentSats:                 300,
		FeeSats:                   2,
		VerificationReceiptSHA256: "aa11",
		CreatedAtUnix:             1_700_000_200,
	}
}

func TestNewClient(t *testing.T) {
	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
	})

	t.Run("ping succeeds against miniredis", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NoError(t, client.Ping(context.Background()))
	})
}

func TestCreateOrGetIntent(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	stored, created, err := client.CreateOrGetIntent(ctx, testIntent("int_aaa"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, testIntent("int_aaa"), stored)

	// replay returns the stored row untouched
	replayed := testIntent("int_aaa")
	replayed.MaxSats = 9999 // replay payload differences must not win
	stored2, created2, err := client.CreateOrGetIntent(ctx, replayed)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, int64(1000), stored2.MaxSats)
}

func TestGetIntentNotFound(t *testing.T) {
	client, _ := setupTestClient(t)

	_, err := client.GetIntent(context.Background(), "int_missing")
	assert.True(t, IsNotFound(err))
}

func TestCreateOrGetOffer(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	stored, created, err := client.CreateOrGetOffer(ctx, testOffer("off_aaa"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, cep.OfferStatusOffered, stored.Status)
	assert.True(t, stored.RequiresVerifier)

	_, created2, err := client.CreateOrGetOffer(ctx, testOffer("off_aaa"))
	require.NoError(t, err)
	assert.False(t, created2)
}

func TestCreateOrGetEnvelope(t *testing.T) {
	ctx := context.Background()

	t.Run("mints envelope and flips offer atomically", func(t *testing.T) {
		client, _ := setupTestClient(t)
		_, _, err := client.CreateOrGetOffer(ctx, testOffer("off_aaa"))
		require.NoError(t, err)

		env, created, err := client.CreateOrGetEnvelope(ctx, testEnvelope("env_aaa", "off_aaa"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, cep.EnvelopeStatusAccepted, env.Status)

		offer, err := client.GetOffer(ctx, "off_aaa")
		require.NoError(t, err)
		assert.Equal(t, cep.OfferStatusAccepted, offer.Status)
	})

	t.Run("replay returns existing envelope", func(t *testing.T) {
		client, _ := setupTestClient(t)
		_, _, err := client.CreateOrGetOffer(ctx, testOffer("off_aaa"))
		require.NoError(t, err)
		_, _, err = client.CreateOrGetEnvelope(ctx, testEnvelope("env_aaa", "off_aaa"))
		require.NoError(t, err)

		env, created, err := client.CreateOrGetEnvelope(ctx, testEnvelope("env_aaa", "off_aaa"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "env_aaa", env.EnvelopeID)
	})

	t.Run("second provider loses the race", func(t *testing.T) {
		client, _ := setupTestClient(t)
		_, _, err := client.CreateOrGetOffer(ctx, testOffer("off_aaa"))
		require.NoError(t, err)
		_, _, err = client.CreateOrGetEnvelope(ctx, testEnvelope("env_aaa", "off_aaa"))
		require.NoError(t, err)

		rival := testEnvelope("env_bbb", "off_aaa")
		rival.ProviderID = "provider-y"
		_, _, err = client.CreateOrGetEnvelope(ctx, rival)
		assert.ErrorIs(t, err, ErrOfferUnavailable)
	})

	t.Run("missing offer", func(t *testing.T) {
		client, _ := setupTestClient(t)
		_, _, err := client.CreateOrGetEnvelope(ctx, testEnvelope("env_aaa", "off_missing"))
		assert.ErrorIs(t, err, ErrOfferNotFound)
	})
}

func TestCreateOrGetSettlement(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *Client {
		client, _ := setupTestClient(t)
		_, _, err := client.CreateOrGetOffer(ctx, testOffer("off_aaa"))
		require.NoError(t, err)
		_, _, err = client.CreateOrGetEnvelope(ctx, testEnvelope("env_aaa", "off_aaa"))
		require.NoError(t, err)
		return client
	}

	t.Run("records settlement and finalises envelope", func(t *testing.T) {
		client := setup(t)

		stl, created, err := client.CreateOrGetSettlement(ctx, testSettlement("stl_aaa", "env_aaa"), "agent-a", cep.EnvelopeStatusSettled)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(300), stl.SpentSats)

		env, err := client.GetEnvelope(ctx, "env_aaa")
		require.NoError(t, err)
		assert.Equal(t, cep.EnvelopeStatusSettled, env.Status)

		stats, err := client.GetAgentOpenEnvelopeStats(ctx, "agent-a", 1_700_000_300)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Count)
	})

	t.Run("first settlement wins", func(t *testing.T) {
		client := setup(t)

		_, created, err := client.CreateOrGetSettlement(ctx, testSettlement("stl_aaa", "env_aaa"), "agent-a", cep.EnvelopeStatusSettled)
		require.NoError(t, err)
		require.True(t, created)

		// a later attempt with a different fingerprint gets the original row
		rival := testSettlement("stl_bbb", "env_aaa")
		rival.Outcome = cep.OutcomeFailed
		rival.SpentSats = 0
		rival.FeeSats = 0
		stored, created2, err := client.CreateOrGetSettlement(ctx, rival, "agent-a", cep.EnvelopeStatusDefaulted)
		require.NoError(t, err)
		assert.False(t, created2)
		assert.Equal(t, "stl_aaa", stored.SettlementID)
		assert.Equal(t, cep.OutcomeSuccess, stored.Outcome)

		// envelope keeps the first terminal status
		env, err := client.GetEnvelope(ctx, "env_aaa")
		require.NoError(t, err)
		assert.Equal(t, cep.EnvelopeStatusSettled, env.Status)
	})

	t.Run("lookup by envelope", func(t *testing.T) {
		client := setup(t)

		_, err := client.GetSettlementByEnvelope(ctx, "env_aaa")
		assert.True(t, IsNotFound(err))

		_, _, err = client.CreateOrGetSettlement(ctx, testSettlement("stl_aaa", "env_aaa"), "agent-a", cep.EnvelopeStatusSettled)
		require.NoError(t, err)

		stl, err := client.GetSettlementByEnvelope(ctx, "env_aaa")
		require.NoError(t, err)
		assert.Equal(t, "stl_aaa", stl.SettlementID)
	})
}

func TestOpenEnvelopeStats(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	offers := []string{"off_a", "off_b", "off_c"}
	for _, id := range offers {
		o := testOffer(id)
		o.ScopeID = "scope-" + id
		_, _, err := client.CreateOrGetOffer(ctx, o)
		require.NoError(t, err)
	}

	open := testEnvelope("env_open", "off_a")
	open.MaxSats = 400
	_, _, err := client.CreateOrGetEnvelope(ctx, open)
	require.NoError(t, err)

	expired := testEnvelope("env_expired", "off_b")
	expired.ExpUnix = 1_700_000_000 // already past
	expired.MaxSats = 250
	_, _, err = client.CreateOrGetEnvelope(ctx, expired)
	require.NoError(t, err)

	other := testEnvelope("env_other", "off_c")
	other.AgentID = "agent-b"
	other.MaxSats = 900
	_, _, err = client.CreateOrGetEnvelope(ctx, other)
	require.NoError(t, err)

	now := int64(1_700_500_000)

	agentStats, err := client.GetAgentOpenEnvelopeStats(ctx, "agent-a", now)
	require.NoError(t, err)
	assert.Equal(t, 1, agentStats.Count, "expired envelope must not count")
	assert.Equal(t, int64(400), agentStats.ExposureSats)

	globalStats, err := client.GetGlobalOpenEnvelopeStats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, globalStats.Count)
	assert.Equal(t, int64(1300), globalStats.ExposureSats)
}

func TestListRecentSettlements(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	mint := func(suffix string, agentID string, createdAt int64) {
		o := testOffer("off_" + suffix)
		o.AgentID = agentID
		o.ScopeID = "scope-" + suffix
		_, _, err := client.CreateOrGetOffer(ctx, o)
		require.NoError(t, err)

		e := testEnvelope("env_"+suffix, "off_"+suffix)
		e.AgentID = agentID
		_, _, err = client.CreateOrGetEnvelope(ctx, e)
		require.NoError(t, err)

		s := testSettlement("stl_"+suffix, "env_"+suffix)
		s.CreatedAtUnix = createdAt
		_, _, err = client.CreateOrGetSettlement(ctx, s, agentID, cep.EnvelopeStatusSettled)
		require.NoError(t, err)
	}

	mint("old", "agent-a", 1_700_000_000)
	mint("mid", "agent-a", 1_700_000_500)
	mint("new", "agent-b", 1_700_001_000)

	t.Run("window filter and ordering", func(t *testing.T) {
		got, err := client.ListRecentSettlements(ctx, 1_700_000_400, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "stl_new", got[0].SettlementID)
		assert.Equal(t, "stl_mid", got[1].SettlementID)
	})

	t.Run("limit", func(t *testing.T) {
		got, err := client.ListRecentSettlements(ctx, 0, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "stl_new", got[0].SettlementID)
	})

	t.Run("per-agent window", func(t *testing.T) {
		got, err := client.ListRecentSettlementsForAgent(ctx, "agent-a", 0, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, s := range got {
			assert.NotEqual(t, "stl_new", s.SettlementID)
		}
	})
}

func TestPayEvents(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.RecordPayEvent(ctx, &cep.PayEvent{
		EnvelopeID:    "env_aaa",
		Status:        cep.PayEventStatusSuccess,
		AmountMsats:   300_000,
		CreatedAtUnix: 1_700_000_000,
	}))
	require.NoError(t, client.RecordPayEvent(ctx, &cep.PayEvent{
		EnvelopeID:    "env_bbb",
		Status:        "failed",
		AmountMsats:   500_000,
		ErrorCode:     "no_route",
		CreatedAtUnix: 1_700_000_100,
	}))

	events, err := client.ListRecentPayEvents(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "env_bbb", events[0].EnvelopeID)
	assert.Equal(t, "no_route", events[0].ErrorCode)
	assert.NotEmpty(t, events[0].EventID)

	recent, err := client.ListRecentPayEvents(ctx, 1_700_000_050, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "env_bbb", recent[0].EnvelopeID)
}

func TestUnderwritingAudit(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	audit := &cep.UnderwritingAudit{
		OfferID: "off_aaa",
		Inputs: cep.UnderwritingInputs{
			AgentID:           "agent-a",
			WindowDays:        30,
			SuccessVolumeSats: 5000,
			SuccessCount:      4,
		},
		Decision: cep.UnderwritingDecision{
			LimitSats:        400,
			FeeBps:           50,
			RequiresVerifier: true,
			RiskScore:        1.2,
		},
		CreatedAtUnix: 1_700_000_000,
	}
	require.NoError(t, client.PutUnderwritingAudit(ctx, audit))

	// the first record is immutable
	altered := *audit
	altered.Decision.LimitSats = 99999
	require.NoError(t, client.PutUnderwritingAudit(ctx, &altered))

	got, err := client.GetUnderwritingAudit(ctx, "off_aaa")
	require.NoError(t, err)
	assert.Equal(t, int64(400), got.Decision.LimitSats)
	assert.Equal(t, audit.Inputs, got.Inputs)

	_, err = client.GetUnderwritingAudit(ctx, "off_missing")
	assert.True(t, IsNotFound(err))
}

func TestReceipts(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	r := &cep.Receipt{
		ReceiptID:           "rcp_aaa",
		EntityKind:          cep.EntityKindEnvelope,
		EntityID:            "env_aaa",
		Schema:              cep.SchemaEnvelopeIssueV1,
		CanonicalJSONSHA256: "bb22",
		Signature:           "cc33",
		SignerPublicKey:     "dd44",
		CreatedAtUnix:       1_700_000_000,
	}
	require.NoError(t, client.PutReceipt(ctx, r))

	got, err := client.GetReceipt(ctx, cep.EntityKindEnvelope, "env_aaa", cep.SchemaEnvelopeIssueV1)
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = client.GetReceipt(ctx, cep.EntityKindEnvelope, "env_aaa", cep.SchemaSettlementV1)
	assert.True(t, IsNotFound(err))
}

func TestStatusUpdates(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	_, _, err := client.CreateOrGetOffer(ctx, testOffer("off_aaa"))
	require.NoError(t, err)

	require.NoError(t, client.UpdateOfferStatus(ctx, "off_aaa", cep.OfferStatusAccepted))
	offer, err := client.GetOffer(ctx, "off_aaa")
	require.NoError(t, err)
	assert.Equal(t, cep.OfferStatusAccepted, offer.Status)

	assert.True(t, IsNotFound(client.UpdateOfferStatus(ctx, "off_missing", cep.OfferStatusAccepted)))
	assert.True(t, IsNotFound(client.UpdateEnvelopeStatus(ctx, "env_missing", cep.EnvelopeStatusDefaulted)))
}
