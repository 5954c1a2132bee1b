package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maiguru/internal/config"
	"maiguru/internal/domain"
)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSandboxScriptedFailure(t *testing.T) {
	sb := NewSandbox(domain.MethodPayPal)
	ctx := context.Background()
	res, err := sb.CreateCharge(ctx, ChargeRequest{IntentID: "pi", Amount: amt("100"), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, res.Status)
	assert.True(t, strings.HasPrefix(res.Reference, "sbx_paypal_ch_"))

	sb.FailNext("capture_charge", "card declined")
	got, err := sb.CaptureCharge(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "card declined", got.Reason)

	got, err = sb.CaptureCharge(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	over, err := sb.Refund(ctx, res.Reference, amt("150"))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, over.Status)
	assert.Equal(t, []string{"create_charge", "capture_charge", "capture_charge", "refund"}, sb.Calls())
}

func TestRegistry(t *testing.T) {
	reg := FromConfig(config.Gateways{Sandbox: true, TimeoutSeconds: 1, RatePerSecond: 100, Burst: 10})
	for _, k := range []domain.PaymentMethodKind{domain.MethodPayPal, domain.MethodWise, domain.MethodMPesa} {
		a, err := reg.Get(k)
		require.NoError(t, err)
		assert.Equal(t, k, a.Kind())
	}
	_, err := Registry{}.Get(domain.MethodWise)
	var gerr domain.GatewayError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, "resolve", gerr.Op)
}

type slowAdapter struct{ *Sandbox }

func (s slowAdapter) Payout(ctx context.Context, req PayoutRequest) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(2 * time.Second):
		return s.Sandbox.Payout(ctx, req)
	}
}

func TestTimeoutBecomesGatewayError(t *testing.T) {
	a := WithTimeout(slowAdapter{NewSandbox(domain.MethodMPesa)}, 20*time.Millisecond)
	_, err := a.Payout(context.Background(), PayoutRequest{Recipient: domain.MPesa{Phone: "+254700000001"}, Amount: amt("5")})
	var gerr domain.GatewayError
	require.True(t, errors.As(err, &gerr), "got %v", err)
	assert.Equal(t, "timeout", gerr.Reason)
	assert.Equal(t, "mpesa", gerr.Gateway)
}

func TestRateLimitHonoursContext(t *testing.T) {
	a := WithRateLimit(NewSandbox(domain.MethodWise), 0.001, 1)
	ctx := context.Background()
	_, err := a.CaptureCharge(ctx, "ref")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = a.CaptureCharge(ctx, "ref")
	var gerr domain.GatewayError
	require.True(t, errors.As(err, &gerr), "got %v", err)
}

type paypalFake struct {
	mu       sync.Mutex
	requests []string
	auth     []string
}

func (f *paypalFake) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"pp-token","token_type":"Bearer","expires_in":3600}`))
	})
	record := func(r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		f.auth = append(f.auth, r.Header.Get("Authorization"))
	}
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "CAPTURE", body["intent"])
		_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"CREATED"}`))
	})
	mux.HandleFunc("/v2/checkout/orders/ORDER-1/capture", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"COMPLETED"}`))
	})
	mux.HandleFunc("/v1/payments/payouts", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = w.Write([]byte(`{"batch_header":{"payout_batch_id":"BATCH-9","batch_status":"PENDING"}}`))
	})
	mux.HandleFunc("/v2/payments/captures/ORDER-1/refund", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		http.Error(w, `{"name":"UNPROCESSABLE_ENTITY"}`, http.StatusUnprocessableEntity)
	})
	return mux
}

func TestPayPalAdapter(t *testing.T) {
	fake := &paypalFake{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	pp := NewPayPal(config.PayPal{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret"})
	ctx := context.Background()

	res, err := pp.CreateCharge(ctx, ChargeRequest{IntentID: "pi-1", Amount: amt("100"), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, Result{Reference: "ORDER-1", Status: StatusProcessing}, res)

	res, err = pp.CaptureCharge(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	res, err = pp.Payout(ctx, PayoutRequest{PayoutID: "po-1", Recipient: domain.PayPal{Email: "e@example.com"}, Amount: amt("90"), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, Result{Reference: "BATCH-9", Status: StatusProcessing}, res)

	res, err = pp.Payout(ctx, PayoutRequest{Recipient: domain.Wise{AccountID: "1"}, Amount: amt("90")})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)

	_, err = pp.Refund(ctx, "ORDER-1", amt("10"))
	var gerr domain.GatewayError
	require.True(t, errors.As(err, &gerr))
	assert.Contains(t, gerr.Reason, "422")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.requests, 4)
	for _, h := range fake.auth {
		assert.Equal(t, "Bearer pp-token", h)
	}
}

func TestWiseAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer wise-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/transfers":
			_, _ = w.Write([]byte(`{"id":4711,"status":"incoming_payment_waiting"}`))
		case "/v1/profiles/77/payment-requests/55":
			_, _ = w.Write([]byte(`{"id":55,"status":"EXPIRED"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	w := NewWise(config.Wise{BaseURL: srv.URL, APIToken: "wise-token", ProfileID: "77"})
	ctx := context.Background()
	res, err := w.Payout(ctx, PayoutRequest{PayoutID: "po", Recipient: domain.Wise{AccountID: "acc-1"}, Amount: amt("45.50"), Currency: "EUR"})
	require.NoError(t, err)
	assert.Equal(t, Result{Reference: "4711", Status: StatusProcessing}, res)

	res, err = w.CaptureCharge(ctx, "55")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)

	_, err = w.Refund(ctx, "55", amt("1"))
	var gerr domain.GatewayError
	require.True(t, errors.As(err, &gerr))
}

func TestMPesaAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/oauth/v1/generate") {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"mp-token","token_type":"Bearer","expires_in":3599}`))
			return
		}
		assert.Equal(t, "Bearer mp-token", r.Header.Get("Authorization"))
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/mpesa/stkpush/v1/processrequest":
			assert.Equal(t, "101", body["Amount"])
			_, _ = w.Write([]byte(`{"CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success"}`))
		case "/mpesa/b2c/v1/paymentrequest":
			assert.Equal(t, "254700000001", body["PartyB"])
			_, _ = w.Write([]byte(`{"ConversationID":"AG_1","ResponseCode":"1","ResponseDescription":"Insufficient balance"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := NewMPesa(config.MPesa{BaseURL: srv.URL, ConsumerKey: "k", ConsumerSecret: "s", ShortCode: "600000"})
	ctx := context.Background()
	res, err := m.CreateCharge(ctx, ChargeRequest{IntentID: "pi", Amount: amt("100.20"), Currency: "KES"})
	require.NoError(t, err)
	assert.Equal(t, Result{Reference: "ws_CO_1", Status: StatusProcessing}, res)

	res, err = m.Payout(ctx, PayoutRequest{PayoutID: "po", Recipient: domain.MPesa{Phone: "+254700000001"}, Amount: amt("90"), Currency: "KES"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Insufficient balance", res.Reason)
}
