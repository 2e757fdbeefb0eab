//go:build integration

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/drey-labs/drey/internal/attest"
	"github.com/drey-labs/drey/internal/config"
	"github.com/drey-labs/drey/internal/engine"
	"github.com/drey-labs/drey/internal/health"
	"github.com/drey-labs/drey/internal/payment"
	"github.com/drey-labs/drey/internal/store"
	"github.com/drey-labs/drey/pkg/cep"
)

// setupRedis starts a Redis container for testing.
func setupRedis(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisURL := fmt.Sprintf("redis://%s:%s", host, port.Port())

	cleanup := func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	}

	return redisURL, cleanup
}

// TestLifecycleAgainstRealRedis walks intent → offer → envelope → settle
// against a real Redis and checks the health endpoints afterwards.
func TestLifecycleAgainstRealRedis(t *testing.T) {
	redisURL, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()

	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)

	st, err := store.NewClient(opts, "integration-test")
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Ping(ctx))

	policy := config.DefaultPolicy()
	policy.UnderwritingBaseSats = 400
	monitor := health.NewMonitor(st, policy)

	eng, err := engine.NewEngine(engine.Deps{
		Store:    st,
		Monitor:  monitor,
		Payments: payment.NewFakeClient(),
		Decoder:  &payment.FakeDecoder{Amounts: map[string]int64{"inv300": 300_000}},
		Bridge:   &attest.RecordingBridge{},
		Policy:   policy,
		PoolID:   "pool-1",
	})
	require.NoError(t, err)

	now := time.Now().Unix()
	intent, err := eng.Intent(ctx, &cep.IntentRequest{
		Schema:         cep.SchemaIntentRequestV1,
		IdempotencyKey: "it-1",
		AgentID:        "agent-it",
		ScopeType:      cep.ScopeTypeTask,
		ScopeID:        "task-it",
		MaxSats:        1000,
		ExpUnix:        now + 600,
	})
	require.NoError(t, err)

	offerRes, err := eng.Offer(ctx, &cep.OfferRequest{
		Schema:    cep.SchemaOfferRequestV1,
		IntentID:  intent.IntentID,
		AgentID:   "agent-it",
		PoolID:    "pool-1",
		ScopeType: cep.ScopeTypeTask,
		ScopeID:   "task-it",
		MaxSats:   1000,
		ExpUnix:   now + 600,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(400), offerRes.Granted.MaxSats)

	envRes, err := eng.Envelope(ctx, &cep.EnvelopeRequest{
		Schema:     cep.SchemaEnvelopeRequestV1,
		OfferID:    offerRes.Offer.OfferID,
		ProviderID: "provider-it",
	})
	require.NoError(t, err)

	stlRes, err := eng.Settle(ctx, &cep.SettleRequest{
		Schema:                    cep.SchemaSettleRequestV1,
		EnvelopeID:                envRes.Envelope.EnvelopeID,
		VerificationPassed:        true,
		VerificationReceiptSHA256: "ver-sha",
		Invoice:                   "inv300",
	})
	require.NoError(t, err)
	assert.Equal(t, cep.OutcomeSuccess, stlRes.Settlement.Outcome)
	assert.Equal(t, int64(300), stlRes.Settlement.SpentSats)

	// health endpoints over real HTTP
	srv := health.NewServer(st, monitor)
	require.NoError(t, srv.Start("127.0.0.1:18099"))
	defer srv.Shutdown(ctx)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18099/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 100*time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:18099/breakers")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status health.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.False(t, status.HaltNewEnvelopes)
	assert.Equal(t, 1, status.SettlementSample)
}
