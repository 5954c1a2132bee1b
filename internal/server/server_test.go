package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maiguru/internal/config"
	"maiguru/internal/db"
	"maiguru/internal/domain"
	"maiguru/internal/engine"
	"maiguru/internal/gateway"
	"maiguru/internal/log"
	"maiguru/internal/migrate"
	"maiguru/internal/payments"
)

const (
	testJWTSecret      = "test-secret"
	testCallbackSecret = "cb-secret"
)

type testServer struct {
	URL    string
	PayPal *gateway.Sandbox
	client *http.Client
}

func newTestServer(t *testing.T, limit RateLimitConfig) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	now := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	pp := gateway.NewSandbox(domain.MethodPayPal)

	orch := payments.New(conn, cfg, gateway.NewRegistry(pp))
	orch.Now = now
	orch.Log = log.Discard()
	eng := engine.New(conn, cfg)
	eng.Now = now
	eng.Log = log.Discard()
	eng.Invoices = orch

	ctx := context.Background()
	for _, a := range []engine.ActorCreateOptions{
		{ID: "admin", Role: "admin"},
		{ID: "client", Role: "client", ActorID: "admin"},
		{ID: "expert", Role: "expert", ActorID: "admin"},
	} {
		_, err := eng.CreateActor(ctx, a)
		require.NoError(t, err)
	}

	handler, err := New(Config{
		Engine:   eng,
		Payments: orch,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:        testJWTSecret,
			AllowActorHeader: true,
			AllowDevLogin:    true,
			CallbackSecret:   testCallbackSecret,
		},
		RateLimit: limit,
		Log:       log.Discard(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL + "/v1", PayPal: pp, client: srv.Client()}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (int, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, data
}

// as sends the request with the dev actor header.
func (s *testServer) as(t *testing.T, actor, method, path string, body any, out any) int {
	t.Helper()
	status, data := s.do(t, method, path, body, map[string]string{"X-Actor-Id": actor})
	if out != nil && status < 300 {
		require.NoError(t, json.Unmarshal(data, out), string(data))
	}
	return status
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

// completedTask drives a task through delivery and acceptance over HTTP.
func (s *testServer) completedTask(t *testing.T, price string) (TaskResponse, AcceptResponse) {
	t.Helper()
	var task TaskResponse
	require.Equal(t, http.StatusCreated, s.as(t, "client", http.MethodPost, "/tasks", map[string]any{
		"title":           "Survey analysis",
		"budget_tier":     "100_500",
		"estimated_price": price,
	}, &task))
	require.Equal(t, http.StatusOK, s.as(t, "client", http.MethodPost, "/tasks/"+task.ID+"/assign", map[string]any{"expert_id": "expert"}, &task))
	require.Equal(t, http.StatusOK, s.as(t, "expert", http.MethodPost, "/tasks/"+task.ID+"/start", nil, &task))
	var sub SubmissionResponse
	require.Equal(t, http.StatusCreated, s.as(t, "expert", http.MethodPost, "/tasks/"+task.ID+"/submissions", map[string]any{"content": "analysis.ipynb"}, &sub))
	require.Equal(t, http.StatusOK, s.as(t, "expert", http.MethodPost, "/tasks/"+task.ID+"/review", nil, &task))
	assert.Equal(t, domain.TaskReview, task.Status)
	var accepted AcceptResponse
	require.Equal(t, http.StatusOK, s.as(t, "client", http.MethodPost, "/submissions/"+sub.ID+"/accept", nil, &accepted))
	return accepted.Task, accepted
}

func TestHealthIsOpenAndMeNeedsAuth(t *testing.T) {
	srv := newTestServer(t, RateLimitConfig{})

	status, data := srv.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var health map[string]any
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, "ok", health["status"])

	status, data = srv.do(t, http.MethodGet, "/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	status, data = srv.do(t, http.MethodGet, "/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), "bearerAuth")
}

func TestDevLoginTokenAndAPIKey(t *testing.T) {
	srv := newTestServer(t, RateLimitConfig{})

	status, data := srv.do(t, http.MethodPost, "/auth/dev/login", map[string]any{"actor_id": "client"}, nil)
	require.Equal(t, http.StatusOK, status, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	require.NotEmpty(t, login.Token)

	status, data = srv.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, status, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "client", me.Actor.ID)
	assert.Equal(t, domain.RoleClient, me.Actor.Role)
	assert.Equal(t, "jwt", me.Source)

	status, data = srv.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Code)

	status, _ = srv.do(t, http.MethodPost, "/auth/dev/login", map[string]any{"actor_id": "ghost"}, nil)
	assert.Equal(t, http.StatusNotFound, status)

	var key APIKeyResponse
	require.Equal(t, http.StatusCreated, srv.as(t, "expert", http.MethodPost, "/actors/expert/api-keys", map[string]any{"name": "laptop"}, &key))
	require.NotEmpty(t, key.Key)
	status, data = srv.do(t, http.MethodGet, "/me", nil, map[string]string{"X-Api-Key": key.Key})
	require.Equal(t, http.StatusOK, status, string(data))
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "expert", me.Actor.ID)
	assert.Equal(t, "api_key", me.Source)

	// An expert cannot mint keys for someone else.
	assert.Equal(t, http.StatusForbidden, srv.as(t, "expert", http.MethodPost, "/actors/client/api-keys", map[string]any{"name": "stolen"}, nil))
}

func TestTaskToPayoutOverHTTP(t *testing.T) {
	srv := newTestServer(t, RateLimitConfig{})
	task, accepted := srv.completedTask(t, "200.00")

	assert.Equal(t, domain.TaskCompleted, task.Status)
	require.NotNil(t, task.FinalPrice)
	assert.Equal(t, "200.00", *task.FinalPrice)
	require.NotNil(t, accepted.Invoice, accepted.InvoiceError)
	assert.Equal(t, "200.00", accepted.Invoice.Amount)
	assert.Equal(t, domain.InvoiceSent, accepted.Invoice.Status)

	var method PaymentMethodResponse
	require.Equal(t, http.StatusCreated, srv.as(t, "expert", http.MethodPost, "/actors/expert/payment-methods", map[string]any{
		"kind": "paypal", "recipient": "expert@example.com", "primary": true,
	}, &method))
	assert.False(t, method.IsVerified)
	assert.Equal(t, http.StatusForbidden, srv.as(t, "expert", http.MethodPost, "/payment-methods/"+method.ID+"/verify", nil, nil))
	require.Equal(t, http.StatusOK, srv.as(t, "admin", http.MethodPost, "/payment-methods/"+method.ID+"/verify", nil, &method))
	assert.True(t, method.IsVerified)

	var intent PaymentIntentResponse
	require.Equal(t, http.StatusCreated, srv.as(t, "client", http.MethodPost, "/tasks/"+task.ID+"/payment-intents", map[string]any{"payment_method": "paypal"}, &intent))
	assert.Equal(t, "200.00", intent.Amount)
	assert.Equal(t, "20.00", intent.PlatformFee)
	assert.Equal(t, "180.00", intent.ExpertPayoutAmount)

	require.Equal(t, http.StatusOK, srv.as(t, "client", http.MethodPost, "/payment-intents/"+intent.ID+"/charge", nil, &intent))
	assert.Equal(t, domain.PaymentProcessing, intent.Status)
	require.NotNil(t, intent.GatewayReference)
	require.Equal(t, http.StatusOK, srv.as(t, "client", http.MethodPost, "/payment-intents/"+intent.ID+"/capture", nil, &intent))
	assert.Equal(t, domain.PaymentCompleted, intent.Status)

	var inv InvoiceResponse
	require.Equal(t, http.StatusOK, srv.as(t, "client", http.MethodGet, "/tasks/"+task.ID+"/invoice", nil, &inv))
	assert.Equal(t, domain.InvoicePaid, inv.Status)

	var payouts payoutList
	require.Equal(t, http.StatusOK, srv.as(t, "expert", http.MethodGet, "/payouts", nil, &payouts))
	require.Len(t, payouts.Items, 1)
	po := payouts.Items[0]
	assert.Equal(t, "180.00", po.Amount)
	assert.Equal(t, "paypal", po.Method)
	assert.Equal(t, domain.PayoutProcessing, po.Status)
	require.NotNil(t, po.GatewayReference)

	callback := map[string]any{"reference": *po.GatewayReference, "status": "completed"}
	status, data := srv.do(t, http.MethodPost, "/gateway/callbacks/payouts", callback, map[string]string{"X-Gateway-Secret": "wrong"})
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Code)

	status, data = srv.do(t, http.MethodPost, "/gateway/callbacks/payouts", callback, map[string]string{"X-Gateway-Secret": testCallbackSecret})
	require.Equal(t, http.StatusOK, status, string(data))
	require.NoError(t, json.Unmarshal(data, &po))
	assert.Equal(t, domain.PayoutCompleted, po.Status)
	assert.NotNil(t, po.ProcessedAt)

	// A second confirmation is no longer a legal transition.
	status, data = srv.do(t, http.MethodPost, "/gateway/callbacks/payouts", callback, map[string]string{"X-Gateway-Secret": testCallbackSecret})
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_transition", decodeError(t, data).Code)

	var refund RefundResultResponse
	require.Equal(t, http.StatusCreated, srv.as(t, "admin", http.MethodPost, "/payment-intents/"+intent.ID+"/refunds", map[string]any{
		"amount": "50.00", "reason": "partial scope",
	}, &refund))
	assert.Equal(t, domain.RefundCompleted, refund.Refund.Status)
	assert.Equal(t, domain.PaymentRefunded, refund.Intent.Status)

	var refunds refundList
	require.Equal(t, http.StatusOK, srv.as(t, "client", http.MethodGet, "/payment-intents/"+intent.ID+"/refunds", nil, &refunds))
	assert.Len(t, refunds.Items, 1)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t, RateLimitConfig{})

	status, data := srv.do(t, http.MethodPost, "/tasks", map[string]any{"title": "Model", "budget_tier": "100_500"}, map[string]string{"X-Actor-Id": "expert"})
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", decodeError(t, data).Code)

	status, data = srv.do(t, http.MethodGet, "/tasks/missing", nil, map[string]string{"X-Actor-Id": "admin"})
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", decodeError(t, data).Code)

	status, data = srv.do(t, http.MethodPost, "/tasks", map[string]any{"title": "Model", "budget_tier": "huge"}, map[string]string{"X-Actor-Id": "client"})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_request", decodeError(t, data).Code)

	var task TaskResponse
	require.Equal(t, http.StatusCreated, srv.as(t, "client", http.MethodPost, "/tasks", map[string]any{"title": "Model", "budget_tier": "100_500"}, &task))

	status, data = srv.do(t, http.MethodPost, "/tasks/"+task.ID+"/price", map[string]any{"amount": "10.999"}, map[string]string{"X-Actor-Id": "client"})
	require.Equal(t, http.StatusBadRequest, status)
	body := decodeError(t, data)
	assert.Equal(t, "validation_failed", body.Code)
	assert.Equal(t, "amount", body.Details["field"])

	require.Equal(t, http.StatusOK, srv.as(t, "client", http.MethodPost, "/tasks/"+task.ID+"/cancel", map[string]any{"reason": "no longer needed"}, &task))
	status, data = srv.do(t, http.MethodPost, "/tasks/"+task.ID+"/assign", map[string]any{"expert_id": "expert"}, map[string]string{"X-Actor-Id": "client"})
	require.Equal(t, http.StatusConflict, status)
	body = decodeError(t, data)
	assert.Equal(t, "invalid_transition", body.Code)
	assert.Equal(t, domain.TaskCancelled, body.Details["from"])
	assert.Equal(t, domain.TaskAssigned, body.Details["to"])
}

func TestPaymentErrorMapping(t *testing.T) {
	srv := newTestServer(t, RateLimitConfig{})
	task, _ := srv.completedTask(t, "100.00")

	var intent PaymentIntentResponse
	require.Equal(t, http.StatusCreated, srv.as(t, "client", http.MethodPost, "/tasks/"+task.ID+"/payment-intents", map[string]any{"payment_method": "wise"}, &intent))

	status, data := srv.do(t, http.MethodPost, "/tasks/"+task.ID+"/payment-intents", map[string]any{"payment_method": "paypal"}, map[string]string{"X-Actor-Id": "client"})
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "duplicate", decodeError(t, data).Code)

	status, data = srv.do(t, http.MethodPost, "/payment-intents/"+intent.ID+"/payout", nil, map[string]string{"X-Actor-Id": "admin"})
	require.Equal(t, http.StatusPreconditionFailed, status)
	assert.Equal(t, "precondition_failed", decodeError(t, data).Code)

	// No Wise adapter is configured, so the charge fails at the gateway.
	status, data = srv.do(t, http.MethodPost, "/payment-intents/"+intent.ID+"/charge", nil, map[string]string{"X-Actor-Id": "client"})
	require.Equal(t, http.StatusBadGateway, status)
	body := decodeError(t, data)
	assert.Equal(t, "gateway_error", body.Code)
	assert.Equal(t, "wise", body.Details["gateway"])

	require.Equal(t, http.StatusOK, srv.as(t, "client", http.MethodGet, "/payment-intents/"+intent.ID, nil, &intent))
	assert.Equal(t, domain.PaymentFailed, intent.Status)
	require.NotNil(t, intent.FailureReason)
}

func TestEventsAreAdminOnly(t *testing.T) {
	srv := newTestServer(t, RateLimitConfig{})
	srv.completedTask(t, "100.00")

	status, data := srv.do(t, http.MethodGet, "/events", nil, map[string]string{"X-Actor-Id": "client"})
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", decodeError(t, data).Code)

	var events eventList
	require.Equal(t, http.StatusOK, srv.as(t, "admin", http.MethodGet, "/events?type=task.status_changed&limit=10", nil, &events))
	require.NotEmpty(t, events.Items)
	for _, evt := range events.Items {
		assert.Equal(t, "task.status_changed", evt.Type)
		assert.Contains(t, evt.Payload, "to")
	}
}

func TestRateLimitPerClient(t *testing.T) {
	srv := newTestServer(t, RateLimitConfig{PerSecond: 0.5, Burst: 2})

	for i := 0; i < 2; i++ {
		status, _ := srv.do(t, http.MethodGet, "/me", nil, map[string]string{"X-Actor-Id": "client"})
		require.Equal(t, http.StatusOK, status)
	}
	status, data := srv.do(t, http.MethodGet, "/me", nil, map[string]string{"X-Actor-Id": "client"})
	require.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", decodeError(t, data).Code)

	// Buckets are per actor.
	status, _ = srv.do(t, http.MethodGet, "/me", nil, map[string]string{"X-Actor-Id": "expert"})
	assert.Equal(t, http.StatusOK, status)
}
