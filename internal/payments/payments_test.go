package payments_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maiguru/internal/config"
	"maiguru/internal/db"
	"maiguru/internal/domain"
	"maiguru/internal/engine"
	"maiguru/internal/engine/auth"
	"maiguru/internal/gateway"
	"maiguru/internal/log"
	"maiguru/internal/migrate"
	"maiguru/internal/payments"
	"maiguru/internal/repo"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	Ctx    context.Context
	Engine engine.Engine
	Orch   payments.Orchestrator
	PayPal *gateway.Sandbox
	MPesa  *gateway.Sandbox
	Repo   repo.Repo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	now := func() time.Time { return fixedNow }
	pp := gateway.NewSandbox(domain.MethodPayPal)
	mp := gateway.NewSandbox(domain.MethodMPesa)

	orch := payments.New(conn, cfg, gateway.NewRegistry(pp, mp))
	orch.Now = now
	orch.Log = log.Discard()

	eng := engine.New(conn, cfg)
	eng.Now = now
	eng.Log = log.Discard()
	eng.Invoices = orch

	env := &testEnv{Ctx: context.Background(), Engine: eng, Orch: orch, PayPal: pp, MPesa: mp, Repo: orch.Repo}
	for _, a := range []engine.ActorCreateOptions{
		{ID: "admin", Role: "admin"},
		{ID: "client", Role: "client", ActorID: "admin"},
		{ID: "expert", Role: "expert", ActorID: "admin"},
	} {
		_, err := eng.CreateActor(env.Ctx, a)
		require.NoError(t, err)
	}
	return env
}

// verifiedPayPal gives "expert" a primary verified PayPal destination.
func (env *testEnv) verifiedPayPal(t *testing.T) {
	t.Helper()
	m, err := env.Engine.AddPaymentMethod(env.Ctx, "expert", domain.PayPal{Email: "expert@example.com"}, true, "expert")
	require.NoError(t, err)
	_, err = env.Engine.VerifyPaymentMethod(env.Ctx, m.ID, "admin")
	require.NoError(t, err)
}

// completedTask walks a task priced at 100.00 to completed.
func (env *testEnv) completedTask(t *testing.T) domain.Task {
	t.Helper()
	price := decimal.RequireFromString("100.00")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:          "Regression analysis",
		BudgetTier:     "100_500",
		EstimatedPrice: &price,
		ActorID:        "client",
	})
	require.NoError(t, err)
	_, err = env.Engine.AssignExpert(env.Ctx, task.ID, "expert", "client")
	require.NoError(t, err)
	_, err = env.Engine.StartWork(env.Ctx, task.ID, "expert")
	require.NoError(t, err)
	sub, err := env.Engine.CreateSubmission(env.Ctx, task.ID, "report.pdf", "expert")
	require.NoError(t, err)
	res, err := env.Engine.AcceptSubmission(env.Ctx, sub.ID, "client")
	require.NoError(t, err)
	require.NoError(t, res.InvoiceError)
	return res.Task
}

// paidIntent returns a completed intent for a fresh completed task.
func (env *testEnv) paidIntent(t *testing.T) domain.PaymentIntent {
	t.Helper()
	task := env.completedTask(t)
	p, err := env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "paypal", "client")
	require.NoError(t, err)
	_, err = env.Orch.ChargeIntent(env.Ctx, p.ID, "client")
	require.NoError(t, err)
	p, err = env.Orch.Capture(env.Ctx, p.ID, "client")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentCompleted, p.Status)
	return p
}

func TestCreatePaymentIntentSplitsFee(t *testing.T) {
	env := newTestEnv(t)
	task := env.completedTask(t)

	p, err := env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "paypal", "client")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, p.Status)
	assert.Equal(t, "100.00", p.Amount.StringFixed(2))
	assert.Equal(t, "10.00", p.PlatformFee.StringFixed(2))
	assert.Equal(t, "90.00", p.ExpertPayoutAmount().StringFixed(2))
	assert.True(t, p.PlatformFee.Add(p.ExpertPayoutAmount()).Equal(p.Amount))
	assert.Equal(t, "USD", p.Currency)

	stored, err := env.Repo.GetPaymentIntentByTask(env.Ctx, nil, task.ID)
	require.NoError(t, err)
	assert.True(t, stored.PlatformFee.Equal(p.PlatformFee))
}

func TestCreatePaymentIntentRules(t *testing.T) {
	env := newTestEnv(t)
	task := env.completedTask(t)

	_, err := env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "bitcoin", "client")
	var verr domain.ValidationError
	assert.True(t, errors.As(err, &verr), "got %v", err)

	_, err = env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "paypal", "expert")
	var uerr auth.UnauthorizedError
	assert.True(t, errors.As(err, &uerr), "got %v", err)

	_, err = env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "paypal", "client")
	require.NoError(t, err)
	_, err = env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "mpesa", "client")
	assert.ErrorIs(t, err, domain.ErrDuplicateIntent)

	open, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "unassigned", BudgetTier: "less_100", ActorID: "client"})
	require.NoError(t, err)
	_, err = env.Orch.CreatePaymentIntent(env.Ctx, open.ID, "paypal", "client")
	var perr domain.PreconditionError
	assert.True(t, errors.As(err, &perr), "got %v", err)
}

func TestConcurrentPaymentIntentsOneWinner(t *testing.T) {
	env := newTestEnv(t)
	task := env.completedTask(t)

	const n = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		dupes  int
		others []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "paypal", "client")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrDuplicateIntent):
				dupes++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()
	require.Empty(t, others)
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, dupes)
}

func TestChargeCaptureCompletesAndPaysOut(t *testing.T) {
	env := newTestEnv(t)
	env.verifiedPayPal(t)
	task := env.completedTask(t)

	p, err := env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "paypal", "client")
	require.NoError(t, err)
	p, err = env.Orch.ChargeIntent(env.Ctx, p.ID, "client")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentProcessing, p.Status)
	require.NotNil(t, p.GatewayReference)

	_, err = env.Orch.ChargeIntent(env.Ctx, p.ID, "client")
	var terr domain.InvalidTransitionError
	assert.True(t, errors.As(err, &terr), "second charge must fail its transition, got %v", err)

	p, err = env.Orch.Capture(env.Ctx, p.ID, "client")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, p.Status)
	assert.NotNil(t, p.CompletedAt)

	inv, err := env.Repo.GetInvoiceByTask(env.Ctx, nil, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePaid, inv.Status)

	po, err := env.Repo.GetPayoutByIntent(env.Ctx, nil, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutProcessing, po.Status)
	assert.Equal(t, "90.00", po.Amount.StringFixed(2))
	assert.Equal(t, domain.PayPal{Email: "expert@example.com"}, po.Method)
	assert.Equal(t, []string{"create_charge", "capture_charge", "payout"}, env.PayPal.Calls())

	logged, err := env.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: "payment.status_changed", EntityID: p.ID})
	require.NoError(t, err)
	assert.Len(t, logged, 2)
}

func TestCaptureFailureLeavesTaskUntouched(t *testing.T) {
	env := newTestEnv(t)
	task := env.completedTask(t)

	p, err := env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "paypal", "client")
	require.NoError(t, err)
	p, err = env.Orch.CaptureCharge(env.Ctx, p.ID, gateway.Result{Status: gateway.StatusFailed, Reason: "insufficient funds"}, payments.SystemActor)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, p.Status)
	require.NotNil(t, p.FailureReason)
	assert.Equal(t, "insufficient funds", *p.FailureReason)

	after, err := env.Repo.GetTask(env.Ctx, nil, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, after.Status)

	_, err = env.Orch.CaptureCharge(env.Ctx, p.ID, gateway.Result{Status: gateway.StatusCompleted}, payments.SystemActor)
	var terr domain.InvalidTransitionError
	assert.True(t, errors.As(err, &terr), "got %v", err)
}

func TestScriptedCaptureRejection(t *testing.T) {
	env := newTestEnv(t)
	task := env.completedTask(t)
	p, err := env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "paypal", "client")
	require.NoError(t, err)
	_, err = env.Orch.ChargeIntent(env.Ctx, p.ID, "client")
	require.NoError(t, err)

	env.PayPal.FailNext("capture_charge", "card declined")
	p, err = env.Orch.Capture(env.Ctx, p.ID, "client")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, p.Status)
	assert.Equal(t, "card declined", *p.FailureReason)

	_, err = env.Repo.GetPayoutByIntent(env.Ctx, nil, p.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

type stalledGateway struct{ *gateway.Sandbox }

func (s stalledGateway) CreateCharge(ctx context.Context, _ gateway.ChargeRequest) (gateway.Result, error) {
	<-ctx.Done()
	return gateway.Result{}, ctx.Err()
}

func TestChargeTimeoutMarksIntentFailed(t *testing.T) {
	env := newTestEnv(t)
	env.Orch.Gateways = gateway.NewRegistry(gateway.WithTimeout(stalledGateway{env.PayPal}, 20*time.Millisecond))
	task := env.completedTask(t)
	p, err := env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "paypal", "client")
	require.NoError(t, err)

	p, err = env.Orch.ChargeIntent(env.Ctx, p.ID, "client")
	var gerr domain.GatewayError
	require.True(t, errors.As(err, &gerr), "got %v", err)
	assert.Equal(t, domain.PaymentFailed, p.Status)
	require.NotNil(t, p.FailureReason)
	assert.Equal(t, "timeout", *p.FailureReason)
}

func TestPayoutRequiresCompletedIntent(t *testing.T) {
	env := newTestEnv(t)
	env.verifiedPayPal(t)
	task := env.completedTask(t)
	p, err := env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "paypal", "client")
	require.NoError(t, err)

	_, err = env.Orch.InitiatePayout(env.Ctx, p.ID, "admin")
	var perr domain.PreconditionError
	require.True(t, errors.As(err, &perr), "got %v", err)

	_, err = env.Repo.GetPayoutByIntent(env.Ctx, nil, p.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.Empty(t, env.PayPal.Calls())
}

func TestPayoutNeedsVerifiedPrimaryMethod(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AddPaymentMethod(env.Ctx, "expert", domain.PayPal{Email: "expert@example.com"}, true, "expert")
	require.NoError(t, err)
	p := env.paidIntent(t)

	_, err = env.Repo.GetPayoutByIntent(env.Ctx, nil, p.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound, "automatic payout must not start without a verified method")

	_, err = env.Orch.InitiatePayout(env.Ctx, p.ID, "admin")
	var perr domain.PreconditionError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, "expert", perr.ID)
}

func TestPayoutFailureIsNotRetriedAutomatically(t *testing.T) {
	env := newTestEnv(t)
	env.Orch.AutoPayout = false
	env.Engine.Invoices = env.Orch
	env.verifiedPayPal(t)
	p := env.paidIntent(t)

	_, err := env.Orch.InitiatePayout(env.Ctx, p.ID, "client")
	var uerr auth.UnauthorizedError
	require.True(t, errors.As(err, &uerr), "got %v", err)

	env.PayPal.FailNext("payout", "receiver unconfirmed")
	po, err := env.Orch.InitiatePayout(env.Ctx, p.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutFailed, po.Status)
	assert.Equal(t, "receiver unconfirmed", *po.FailureReason)
	assert.NotNil(t, po.ProcessedAt)

	_, err = env.Orch.InitiatePayout(env.Ctx, p.ID, "admin")
	assert.ErrorIs(t, err, domain.ErrDuplicatePayout)

	_, err = env.Orch.RetryPayout(env.Ctx, po.ID, "expert")
	require.True(t, errors.As(err, &uerr), "got %v", err)

	po, err = env.Orch.RetryPayout(env.Ctx, po.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutProcessing, po.Status)
	assert.Nil(t, po.FailureReason)

	_, err = env.Orch.RetryPayout(env.Ctx, po.ID, "admin")
	var terr domain.InvalidTransitionError
	assert.True(t, errors.As(err, &terr), "only failed payouts can be retried, got %v", err)
}

func TestGatewayCallbacks(t *testing.T) {
	env := newTestEnv(t)
	env.verifiedPayPal(t)
	task := env.completedTask(t)
	p, err := env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "paypal", "client")
	require.NoError(t, err)
	p, err = env.Orch.ChargeIntent(env.Ctx, p.ID, "client")
	require.NoError(t, err)

	_, err = env.Orch.ConfirmPayment(env.Ctx, *p.GatewayReference, "settled", "")
	var verr domain.ValidationError
	require.True(t, errors.As(err, &verr))

	p, err = env.Orch.ConfirmPayment(env.Ctx, *p.GatewayReference, "completed", "")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, p.Status)

	po, err := env.Repo.GetPayoutByIntent(env.Ctx, nil, p.ID)
	require.NoError(t, err)
	require.NotNil(t, po.GatewayReference)

	po, err = env.Orch.ConfirmPayout(env.Ctx, *po.GatewayReference, "completed", "")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutCompleted, po.Status)
	assert.NotNil(t, po.ProcessedAt)

	_, err = env.Orch.ConfirmPayout(env.Ctx, *po.GatewayReference, "failed", "late bounce")
	var terr domain.InvalidTransitionError
	assert.True(t, errors.As(err, &terr), "got %v", err)

	_, err = env.Orch.ConfirmPayout(env.Ctx, "unknown-ref", "completed", "")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

var invoiceNumber = regexp.MustCompile(`^MG-20240101-[0-9A-F]{8}$`)

func TestInvoiceIssuedOnAcceptAndIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task := env.completedTask(t)

	inv, err := env.Repo.GetInvoiceByTask(env.Ctx, nil, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceSent, inv.Status)
	assert.Equal(t, "100.00", inv.Amount.StringFixed(2))
	assert.Regexp(t, invoiceNumber, inv.InvoiceNumber)
	assert.Equal(t, "2024-01-08T00:00:00Z", inv.DueDate)
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, "Regression analysis", inv.LineItems[0].Description)

	again, err := env.Orch.IssueInvoice(env.Ctx, task.ID, "client")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, again.ID)
	assert.Equal(t, inv.InvoiceNumber, again.InvoiceNumber)

	_, err = env.Orch.IssueInvoice(env.Ctx, task.ID, "expert")
	var uerr auth.UnauthorizedError
	assert.True(t, errors.As(err, &uerr), "got %v", err)
}

func TestIssueInvoiceNeedsCompletedTask(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "draft", BudgetTier: "less_100", ActorID: "client"})
	require.NoError(t, err)
	_, err = env.Orch.IssueInvoice(env.Ctx, task.ID, "client")
	var perr domain.PreconditionError
	assert.True(t, errors.As(err, &perr), "got %v", err)
}

func TestConcurrentIssueInvoiceOneRecord(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Invoices = nil
	task := env.completedTask(t)

	const n = 6
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inv, err := env.Orch.IssueInvoice(env.Ctx, task.ID, "client")
			ids[i], errs[i] = inv.ID, err
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	all, err := env.Repo.ListInvoices(env.Ctx, "client")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReconcileIssuesMissingInvoices(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Invoices = nil
	task := env.completedTask(t)

	_, err := env.Orch.ReconcileInvoices(env.Ctx, "client")
	var uerr auth.UnauthorizedError
	require.True(t, errors.As(err, &uerr), "got %v", err)

	res, err := env.Orch.ReconcileInvoices(env.Ctx, "admin")
	require.NoError(t, err)
	require.Len(t, res.Issued, 1)
	assert.Equal(t, task.ID, res.Issued[0].TaskID)
	assert.Empty(t, res.Failures)

	res, err = env.Orch.ReconcileInvoices(env.Ctx, "admin")
	require.NoError(t, err)
	assert.Empty(t, res.Issued)
}

func TestRefunds(t *testing.T) {
	env := newTestEnv(t)
	env.Orch.AutoPayout = false
	env.Engine.Invoices = env.Orch

	task := env.completedTask(t)
	pending, err := env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "paypal", "client")
	require.NoError(t, err)
	_, err = env.Orch.Refund(env.Ctx, pending.ID, decimal.NewFromInt(10), "", "admin")
	var terr domain.InvalidTransitionError
	require.True(t, errors.As(err, &terr), "refund before completion, got %v", err)

	full := env.paidIntent(t)
	_, err = env.Orch.Refund(env.Ctx, full.ID, decimal.NewFromInt(10), "", "client")
	var uerr auth.UnauthorizedError
	require.True(t, errors.As(err, &uerr), "got %v", err)
	_, err = env.Orch.Refund(env.Ctx, full.ID, decimal.RequireFromString("100.01"), "", "admin")
	var verr domain.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	_, err = env.Orch.Refund(env.Ctx, full.ID, decimal.Zero, "", "admin")
	require.True(t, errors.As(err, &verr), "got %v", err)

	res, err := env.Orch.Refund(env.Ctx, full.ID, decimal.RequireFromString("100.00"), "client cancelled", "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundCompleted, res.Refund.Status)
	assert.Equal(t, domain.PaymentRefunded, res.Intent.Status)
	inv, err := env.Repo.GetInvoiceByTask(env.Ctx, nil, full.TaskID)
	require.NoError(t, err)
	assert.False(t, inv.NeedsReconciliation)

	partial := env.paidIntent(t)
	res, err = env.Orch.Refund(env.Ctx, partial.ID, decimal.RequireFromString("25.00"), "late delivery", "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, res.Intent.Status)
	inv, err = env.Repo.GetInvoiceByTask(env.Ctx, nil, partial.TaskID)
	require.NoError(t, err)
	assert.True(t, inv.NeedsReconciliation)
	assert.Equal(t, "100.00", inv.Amount.StringFixed(2), "partial refunds never adjust the invoice")
}

func TestRefundRejectedByGateway(t *testing.T) {
	env := newTestEnv(t)
	p := env.paidIntent(t)

	env.PayPal.FailNext("refund", "capture already refunded")
	res, err := env.Orch.Refund(env.Ctx, p.ID, decimal.NewFromInt(40), "", "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundFailed, res.Refund.Status)
	assert.Equal(t, "capture already refunded", *res.Refund.FailureReason)
	assert.Equal(t, domain.PaymentCompleted, res.Intent.Status)

	refunds, err := env.Orch.ListRefunds(env.Ctx, p.ID, "admin")
	require.NoError(t, err)
	assert.Len(t, refunds, 1)
}

func TestPayoutsAlwaysBackedByCompletedIntents(t *testing.T) {
	env := newTestEnv(t)
	env.verifiedPayPal(t)
	for i := 0; i < 3; i++ {
		env.paidIntent(t)
	}
	unbacked, err := env.Repo.UnbackedPayouts(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, unbacked)

	mine, err := env.Orch.ListPayouts(env.Ctx, "expert")
	require.NoError(t, err)
	assert.Len(t, mine, 3)
	_, err = env.Orch.ListPayouts(env.Ctx, "client")
	var uerr auth.UnauthorizedError
	assert.True(t, errors.As(err, &uerr))
}

// callerDeadline returns a context that expires long before the gateway's own
// timeout would.
func callerDeadline(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestChargeOutcomeRecordedAfterCallerGivesUp(t *testing.T) {
	env := newTestEnv(t)
	env.Orch.Gateways = gateway.NewRegistry(gateway.WithTimeout(stalledGateway{env.PayPal}, 5*time.Second))
	task := env.completedTask(t)
	p, err := env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "paypal", "client")
	require.NoError(t, err)

	_, err = env.Orch.ChargeIntent(callerDeadline(t), p.ID, "client")
	require.Error(t, err)

	stored, err := env.Repo.GetPaymentIntent(env.Ctx, nil, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, stored.Status, "an abandoned charge must not stay processing")
	require.NotNil(t, stored.FailureReason)
	assert.Equal(t, "timeout", *stored.FailureReason)
}

type stalledRefunds struct{ *gateway.Sandbox }

func (s stalledRefunds) Refund(ctx context.Context, _ string, _ decimal.Decimal) (gateway.Result, error) {
	<-ctx.Done()
	return gateway.Result{}, ctx.Err()
}

func TestRefundOutcomeRecordedAfterCallerGivesUp(t *testing.T) {
	env := newTestEnv(t)
	env.Orch.AutoPayout = false
	p := env.paidIntent(t)

	env.Orch.Gateways = gateway.NewRegistry(gateway.WithTimeout(stalledRefunds{env.PayPal}, 5*time.Second))
	_, err := env.Orch.Refund(callerDeadline(t), p.ID, decimal.NewFromInt(40), "", "admin")
	require.Error(t, err)

	refunds, err := env.Orch.ListRefunds(env.Ctx, p.ID, "admin")
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, domain.RefundFailed, refunds[0].Status)

	// nothing is left in flight, so a later refund goes through
	env.Orch.Gateways = gateway.NewRegistry(env.PayPal)
	res, err := env.Orch.Refund(env.Ctx, p.ID, decimal.NewFromInt(40), "", "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundCompleted, res.Refund.Status)
}

func TestPayoutRetryRefusedAfterRefund(t *testing.T) {
	env := newTestEnv(t)
	env.verifiedPayPal(t)
	env.PayPal.FailNext("payout", "receiver unconfirmed")
	p := env.paidIntent(t)
	po, err := env.Repo.GetPayoutByIntent(env.Ctx, nil, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutFailed, po.Status)

	res, err := env.Orch.Refund(env.Ctx, p.ID, decimal.RequireFromString("100.00"), "client cancelled", "admin")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentRefunded, res.Intent.Status)

	calls := len(env.PayPal.Calls())
	_, err = env.Orch.RetryPayout(env.Ctx, po.ID, "admin")
	var perr domain.PreconditionError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Len(t, env.PayPal.Calls(), calls, "no payout may reach the gateway")

	stored, err := env.Repo.GetPayout(env.Ctx, nil, po.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutFailed, stored.Status)
}

type unreferencedPayouts struct{ *gateway.Sandbox }

func (s unreferencedPayouts) Payout(context.Context, gateway.PayoutRequest) (gateway.Result, error) {
	return gateway.Result{Status: gateway.StatusProcessing}, nil
}

func TestPayoutWithoutReferenceFails(t *testing.T) {
	env := newTestEnv(t)
	env.Orch.AutoPayout = false
	env.verifiedPayPal(t)
	p := env.paidIntent(t)

	env.Orch.Gateways = gateway.NewRegistry(unreferencedPayouts{env.PayPal})
	po, err := env.Orch.InitiatePayout(env.Ctx, p.ID, "admin")
	var gerr domain.GatewayError
	require.True(t, errors.As(err, &gerr), "got %v", err)
	assert.Equal(t, domain.PayoutFailed, po.Status)
	require.NotNil(t, po.FailureReason)
	assert.Equal(t, "no reference", *po.FailureReason)
}

func TestIntentPinsPriceForInvoice(t *testing.T) {
	env := newTestEnv(t)
	price := decimal.RequireFromString("100.00")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:          "Survey cleanup",
		BudgetTier:     "100_500",
		EstimatedPrice: &price,
		ActorID:        "client",
	})
	require.NoError(t, err)
	_, err = env.Engine.AssignExpert(env.Ctx, task.ID, "expert", "client")
	require.NoError(t, err)
	p, err := env.Orch.CreatePaymentIntent(env.Ctx, task.ID, "paypal", "client")
	require.NoError(t, err)

	_, err = env.Engine.PriceTask(env.Ctx, task.ID, decimal.NewFromInt(250), "client")
	var perr domain.PreconditionError
	require.True(t, errors.As(err, &perr), "repricing after the intent must fail, got %v", err)

	_, err = env.Engine.StartWork(env.Ctx, task.ID, "expert")
	require.NoError(t, err)
	sub, err := env.Engine.CreateSubmission(env.Ctx, task.ID, "clean.csv", "expert")
	require.NoError(t, err)
	res, err := env.Engine.AcceptSubmission(env.Ctx, sub.ID, "client")
	require.NoError(t, err)
	require.NotNil(t, res.Invoice)
	assert.True(t, res.Invoice.Amount.Equal(p.Amount), "invoice %s, intent %s", res.Invoice.Amount, p.Amount)
}
