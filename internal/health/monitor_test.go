package health

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drey-labs/drey/internal/config"
	"github.com/drey-labs/drey/internal/store"
	"github.com/drey-labs/drey/pkg/cep"
)

func setupMonitor(t *testing.T) (*Monitor, *store.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	st, err := store.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return NewMonitor(st, config.DefaultPolicy()), st
}

func synthSettlements(outcome cep.SettlementOutcome, n int, createdAt int64) []*cep.Settlement {
	out := make([]*cep.Settlement, 0, n)
	for i := 0; i < n; i++ {
		s := &cep.Settlement{
			SettlementID:  fmt.Sprintf("stl_%s_%d", outcome, i),
			EnvelopeID:    fmt.Sprintf("env_%s_%d", outcome, i),
			Outcome:       outcome,
			CreatedAtUnix: createdAt,
		}
		if outcome == cep.OutcomeSuccess {
			s.SpentSats = 100
			s.FeeSats = 1
		}
		out = append(out, s)
	}
	return out
}

func TestCompute(t *testing.T) {
	policy := config.DefaultPolicy()
	now := int64(1_700_000_000)

	t.Run("empty history trips nothing", func(t *testing.T) {
		status := Compute(nil, nil, policy, now)
		assert.False(t, status.HaltNewEnvelopes)
		assert.False(t, status.HaltLargeSettlements)
		assert.Zero(t, status.LossRate)
		assert.Zero(t, status.LnFailureRate)
		assert.Equal(t, policy, status.Policy)
	})

	t.Run("high loss rate below min sample trips nothing", func(t *testing.T) {
		settlements := synthSettlements(cep.OutcomeFailed, policy.CircuitBreakerMinSample-1, now)
		status := Compute(settlements, nil, policy, now)
		assert.Equal(t, 1.0, status.LossRate)
		assert.False(t, status.HaltNewEnvelopes)
	})

	t.Run("loss rate over threshold halts new envelopes", func(t *testing.T) {
		settlements := append(
			synthSettlements(cep.OutcomeFailed, 5, now),
			synthSettlements(cep.OutcomeSuccess, 15, now)...,
		)
		status := Compute(settlements, nil, policy, now)
		assert.Equal(t, 0.25, status.LossRate)
		assert.True(t, status.HaltNewEnvelopes)
		assert.False(t, status.HaltLargeSettlements)
	})

	t.Run("loss rate at threshold does not halt", func(t *testing.T) {
		settlements := append(
			synthSettlements(cep.OutcomeFailed, 4, now),
			synthSettlements(cep.OutcomeSuccess, 16, now)...,
		)
		status := Compute(settlements, nil, policy, now)
		assert.Equal(t, 0.20, status.LossRate)
		assert.False(t, status.HaltNewEnvelopes)
	})

	t.Run("ln failures halt large settlements", func(t *testing.T) {
		events := make([]*cep.PayEvent, 0, 10)
		for i := 0; i < 10; i++ {
			status := cep.PayEventStatusSuccess
			if i < 4 {
				status = "failed"
			}
			events = append(events, &cep.PayEvent{
				EventID:       fmt.Sprintf("ev_%d", i),
				EnvelopeID:    fmt.Sprintf("env_%d", i),
				Status:        status,
				CreatedAtUnix: now,
			})
		}
		status := Compute(nil, events, policy, now)
		assert.Equal(t, 0.4, status.LnFailureRate)
		assert.True(t, status.HaltLargeSettlements)
		assert.False(t, status.HaltNewEnvelopes)
	})
}

func TestMonitorCheck(t *testing.T) {
	monitor, st := setupMonitor(t)
	ctx := context.Background()
	now := time.Now()

	// settlement history: 6 defaults out of 12, all inside the window
	for i := 0; i < 12; i++ {
		outcome := cep.OutcomeSuccess
		var spent int64 = 100
		if i%2 == 0 {
			outcome = cep.OutcomeExpired
			spent = 0
		}
		seedSettlement(t, st, fmt.Sprintf("%d", i), outcome, spent, now.Unix()-60)
	}

	// a stale default outside the window must not be sampled
	seedSettlement(t, st, "stale", cep.OutcomeFailed, 0, now.Unix()-7200)

	status, err := monitor.Check(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 12, status.SettlementSample)
	assert.Equal(t, 0.5, status.LossRate)
	assert.True(t, status.HaltNewEnvelopes)
	assert.False(t, status.HaltLargeSettlements)
}

func seedSettlement(t *testing.T, st *store.Client, suffix string, outcome cep.SettlementOutcome, spent int64, createdAt int64) {
	t.Helper()
	ctx := context.Background()

	_, _, err := st.CreateOrGetOffer(ctx, &cep.Offer{
		OfferID:      "off_" + suffix,
		AgentID:      "agent-a",
		PoolID:       "pool-1",
		ScopeType:    cep.ScopeTypeTask,
		ScopeID:      "scope-" + suffix,
		MaxSats:      400,
		FeeBps:       50,
		ExpUnix:      createdAt + 600,
		Status:       cep.OfferStatusOffered,
		IssuedAtUnix: createdAt,
	})
	require.NoError(t, err)

	_, _, err = st.CreateOrGetEnvelope(ctx, &cep.Envelope{
		EnvelopeID:   "env_" + suffix,
		OfferID:      "off_" + suffix,
		AgentID:      "agent-a",
		PoolID:       "pool-1",
		ProviderID:   "provider-x",
		ScopeType:    cep.ScopeTypeTask,
		ScopeID:      "scope-" + suffix,
		MaxSats:      400,
		FeeBps:       50,
		ExpUnix:      createdAt + 600,
		Status:       cep.EnvelopeStatusAccepted,
		IssuedAtUnix: createdAt,
	})
	require.NoError(t, err)

	envStatus := cep.EnvelopeStatusSettled
	if outcome != cep.OutcomeSuccess {
		envStatus = cep.EnvelopeStatusDefaulted
	}
	var fee int64
	if spent > 0 {
		fee = 1
	}
	_, _, err = st.CreateOrGetSettlement(ctx, &cep.Settlement{
		SettlementID:              "stl_" + suffix,
		EnvelopeID:                "env_" + suffix,
		Outcome:                   outcome,
		SpentSats:                 spent,
		FeeSats:                   fee,
		VerificationReceiptSHA256: "aa11",
		CreatedAtUnix:             createdAt,
	}, "agent-a", envStatus)
	require.NoError(t, err)
}

func TestServerEndpoints(t *testing.T) {
	monitor, st := setupMonitor(t)
	srv := NewServer(st, monitor)

	t.Run("healthz reports connected redis", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.healthCheckHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	})

	t.Run("breakers returns a status snapshot", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.breakersHandler(rec, httptest.NewRequest(http.MethodGet, "/breakers", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"halt_new_envelopes":false`)
		assert.Contains(t, rec.Body.String(), `"max_sats_per_envelope"`)
	})

	t.Run("rejects non-GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.healthCheckHandler(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
