package processor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/checkout/backend/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSimulatorHonoursIdempotencyKey(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()
	req := SessionRequest{OrderID: "o-1", Amount: 1999, Currency: "INR", IdempotencyKey: SessionKey("o-1", 1)}

	first, err := sim.CreateSession(ctx, req)
	require.NoError(t, err)
	second, err := sim.CreateSession(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, sim.SessionCount())
	assert.Equal(t, "order:o-1:attempt:1", req.IdempotencyKey)

	req.IdempotencyKey = SessionKey("o-1", 2)
	third, err := sim.CreateSession(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.Reference, third.Reference)
}

func TestSimulatorSubmitOutcomes(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		instrument string
		status     SettlementStatus
		reason     string
	}{
		{"4242424242424242", SettlementSucceeded, ""},
		{"4000000000000002", SettlementFailed, "card_declined"},
		{"4000000000009995", SettlementFailed, "insufficient_funds"},
	}
	for _, tt := range tests {
		t.Run(tt.instrument, func(t *testing.T) {
			sim := NewSimulator()
			session, err := sim.CreateSession(ctx, SessionRequest{OrderID: "o", Amount: 100, Currency: "INR"})
			require.NoError(t, err)

			settled, err := sim.Submit(ctx, session.Token, PaymentDetails{Method: "card", Instrument: tt.instrument})
			require.NoError(t, err)
			assert.Equal(t, tt.status, settled.Status)
			assert.Equal(t, tt.reason, settled.FailureReason)

			queried, err := sim.QuerySettlement(ctx, session.Reference)
			require.NoError(t, err)
			assert.Equal(t, settled.Status, queried.Status)

			again, err := sim.Submit(ctx, session.Token, PaymentDetails{Instrument: "4242424242424242"})
			require.NoError(t, err)
			assert.Equal(t, tt.status, again.Status, "settled sessions never change")
		})
	}
}

func TestSimulatorExpiresUnsubmittedSessions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	sim := NewSimulator(WithSessionTTL(10*time.Minute), WithSimulatorClock(clock.Now))
	ctx := context.Background()

	var notified []Settlement
	sim.OnSettled(func(_ Session, s Settlement) { notified = append(notified, s) })

	session, err := sim.CreateSession(ctx, SessionRequest{OrderID: "o", Amount: 100, Currency: "INR"})
	require.NoError(t, err)

	pending, err := sim.QuerySettlement(ctx, session.Reference)
	require.NoError(t, err)
	assert.Equal(t, SettlementPending, pending.Status)

	clock.Advance(11 * time.Minute)
	expired, err := sim.QuerySettlement(ctx, session.Reference)
	require.NoError(t, err)
	assert.Equal(t, SettlementExpired, expired.Status)
	require.Len(t, notified, 1)

	_, err = sim.Submit(ctx, session.Token, PaymentDetails{Instrument: "4242"})
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = sim.QuerySettlement(ctx, session.Reference)
	require.NoError(t, err)
	assert.Len(t, notified, 1, "expiry is announced once")
}

func TestSimulatorFaultInjection(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()
	sim.FailNext(OpCreateSession, 1)

	_, err := sim.CreateSession(ctx, SessionRequest{OrderID: "o", Amount: 100, Currency: "INR"})
	assert.ErrorIs(t, err, domain.ErrTransientProcessor)
	assert.Zero(t, sim.SessionCount())

	session, err := sim.CreateSession(ctx, SessionRequest{OrderID: "o", Amount: 100, Currency: "INR"})
	require.NoError(t, err)

	sim.FailNext(OpQuerySettlement, 2)
	for i := 0; i < 2; i++ {
		_, err = sim.QuerySettlement(ctx, session.Reference)
		assert.ErrorIs(t, err, domain.ErrTransientProcessor)
	}
	_, err = sim.QuerySettlement(ctx, session.Reference)
	assert.NoError(t, err)

	_, err = sim.QuerySettlement(ctx, "sess_unknown")
	assert.ErrorIs(t, err, ErrUnknownReference)
}

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1_760_000_000, 0)
	header := Sign("whsec", payload, now)

	assert.NoError(t, VerifySignature("whsec", payload, header, now.Add(time.Minute), DefaultSignatureTolerance))
	assert.ErrorIs(t, VerifySignature("other", payload, header, now, DefaultSignatureTolerance), domain.ErrValidation)
	assert.ErrorIs(t, VerifySignature("whsec", []byte(`{"id":"evt_2"}`), header, now, DefaultSignatureTolerance), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("whsec", payload, header, now.Add(10*time.Minute), DefaultSignatureTolerance), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("whsec", payload, "garbage", now, DefaultSignatureTolerance), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("", payload, header, now, DefaultSignatureTolerance), ErrInvalidSignature)
}

func TestParseWebhook(t *testing.T) {
	valid := []byte(`{"id":"evt_1","type":"payment.succeeded","created":1760000000,
		"data":{"reference":"sess_1","orderId":"o-1","amount":1999,"currency":"INR"}}`)
	event, err := ParseWebhook(valid)
	require.NoError(t, err)
	settlement, ok := event.Settlement()
	require.True(t, ok)
	assert.Equal(t, SettlementSucceeded, settlement.Status)
	assert.Equal(t, int64(1999), settlement.Amount)

	unknown := []byte(`{"id":"evt_2","type":"payment.refunded","created":1,"data":{"reference":"sess_1","amount":1,"currency":"INR"}}`)
	event, err = ParseWebhook(unknown)
	require.NoError(t, err)
	_, ok = event.Settlement()
	assert.False(t, ok)

	for _, bad := range []string{
		`not json`,
		`{"id":"evt_3","type":"payment.failed","created":1}`,
		`{"id":"evt_4","type":"payment.failed","created":1,"data":{"reference":"","amount":1,"currency":"INR"}}`,
		`{"id":"evt_5","type":"payment.failed","created":1,"data":{"reference":"s","amount":-5,"currency":"INR"}}`,
	} {
		_, err := ParseWebhook([]byte(bad))
		assert.ErrorIs(t, err, ErrInvalidPayload, bad)
	}
}

func TestEventForRoundTripsThroughSettlement(t *testing.T) {
	at := time.Unix(1_760_000_000, 0).UTC()
	event := EventFor(Session{OrderID: "o-1"}, Settlement{Reference: "sess_1", Status: SettlementExpired, Amount: 5, Currency: "INR", SettledAt: &at})
	assert.Equal(t, EventPaymentExpired, event.Type)
	assert.Equal(t, "o-1", event.Data.OrderID)

	raw, err := json.Marshal(event)
	require.NoError(t, err)
	parsed, err := ParseWebhook(raw)
	require.NoError(t, err)
	settlement, ok := parsed.Settlement()
	require.True(t, ok)
	assert.Equal(t, SettlementExpired, settlement.Status)
	assert.True(t, settlement.SettledAt.Equal(at))
}

func TestHTTPGatewayAgainstSimulatorHandler(t *testing.T) {
	sim := NewSimulator()
	srv := httptest.NewServer(NewHandler(sim, "sk_test"))
	defer srv.Close()
	ctx := context.Background()

	gw := NewHTTPGateway(srv.URL, "sk_test", time.Second)
	req := SessionRequest{OrderID: "o-1", Amount: 1999, Currency: "INR", IdempotencyKey: SessionKey("o-1", 1)}
	session, err := gw.CreateSession(ctx, req)
	require.NoError(t, err)
	again, err := gw.CreateSession(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, session.Reference, again.Reference)

	settled, err := gw.Submit(ctx, session.Token, PaymentDetails{Method: "card", Instrument: "4242424242424242"})
	require.NoError(t, err)
	assert.Equal(t, SettlementSucceeded, settled.Status)

	queried, err := gw.QuerySettlement(ctx, session.Reference)
	require.NoError(t, err)
	assert.Equal(t, SettlementSucceeded, queried.Status)

	_, err = gw.QuerySettlement(ctx, "sess_missing")
	assert.ErrorIs(t, err, ErrUnknownReference)

	sim.FailNext(OpQuerySettlement, 1)
	_, err = gw.QuerySettlement(ctx, session.Reference)
	assert.ErrorIs(t, err, domain.ErrTransientProcessor)

	unauthorised := NewHTTPGateway(srv.URL, "wrong", time.Second)
	_, err = unauthorised.CreateSession(ctx, req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrTransientProcessor)
}

func TestHTTPGatewayUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPGateway(url, "", 200*time.Millisecond).QuerySettlement(context.Background(), "sess_1")
	assert.ErrorIs(t, err, domain.ErrTransientProcessor)
}

func TestHTTPGatewayBare404IsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	gw := NewHTTPGateway(srv.URL+"/wrong", "", time.Second)
	ctx := context.Background()

	_, err := gw.QuerySettlement(ctx, "sess_1")
	assert.ErrorIs(t, err, domain.ErrTransientProcessor)
	assert.NotErrorIs(t, err, ErrUnknownReference)

	_, err = gw.Submit(ctx, "tok_1", PaymentDetails{Method: "card", Instrument: "4242424242424242"})
	assert.ErrorIs(t, err, domain.ErrTransientProcessor)
	assert.NotErrorIs(t, err, ErrUnknownReference)
}

func TestWebhookSenderSignsRequests(t *testing.T) {
	var got WebhookEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := VerifySignature("whsec", body, r.Header.Get(SignatureHeader), time.Now(), DefaultSignatureTolerance); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	event := EventFor(Session{OrderID: "o-1"}, Settlement{Reference: "sess_1", Status: SettlementSucceeded, Amount: 10, Currency: "INR"})
	require.NoError(t, NewWebhookSender(srv.URL, "whsec", nil).Send(context.Background(), event))
	assert.Equal(t, event.ID, got.ID)

	assert.Error(t, NewWebhookSender(srv.URL, "wrong", nil).Send(context.Background(), event))
}

func TestLimitedWrapper(t *testing.T) {
	sim := NewSimulator()
	assert.Same(t, Gateway(sim), NewLimited(sim, 0, 0), "zero rate disables throttling")

	limited := NewLimited(sim, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := limited.CreateSession(ctx, SessionRequest{OrderID: "o", Amount: 1, Currency: "INR"})
	require.NoError(t, err, "burst admits the first call")

	cancel()
	_, err = limited.QuerySettlement(ctx, "sess")
	assert.ErrorIs(t, err, domain.ErrTransientProcessor)
}
