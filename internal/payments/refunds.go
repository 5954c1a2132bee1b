package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"maiguru/internal/domain"
	"maiguru/internal/engine/auth"
	"maiguru/internal/events"
	"maiguru/internal/gateway"
	"maiguru/internal/notify"
	"maiguru/internal/repo"
)

type RefundResult struct {
	Refund domain.Refund        `json:"refund"`
	Intent domain.PaymentIntent `json:"payment_intent"`
}

// Refund returns money on a completed intent. Admin only. A successful refund
// moves the intent to refunded; when it covers less than the full amount the
// invoice is flagged for manual reconciliation instead of being adjusted.
func (o Orchestrator) Refund(ctx context.Context, intentID string, amount decimal.Decimal, reason, actorID string) (RefundResult, error) {
	if !amount.IsPositive() {
		return RefundResult{}, domain.ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	if !domain.RoundMoney(amount).Equal(amount) {
		return RefundResult{}, domain.ValidationError{Field: "amount", Message: "amount has more than two decimal places"}
	}
	tx, err := o.Repo.BeginTx(ctx)
	if err != nil {
		return RefundResult{}, err
	}
	defer tx.Rollback()

	caller, err := o.actor(ctx, tx, actorID, auth.ActionRefundPayment)
	if err != nil {
		return RefundResult{}, err
	}
	if err := auth.Check(caller, auth.ActionRefundPayment, auth.Target{}); err != nil {
		return RefundResult{}, err
	}
	p, err := o.Repo.GetPaymentIntent(ctx, tx, intentID)
	if err != nil {
		return RefundResult{}, err
	}
	if err := ensureIntentTransition(p, domain.PaymentRefunded); err != nil {
		return RefundResult{Intent: p}, err
	}
	if amount.GreaterThan(p.Amount) {
		return RefundResult{Intent: p}, domain.ValidationError{Field: "amount", Message: "refund exceeds the payment amount " + p.Amount.StringFixed(domain.MinorUnits)}
	}
	if p.GatewayReference == nil {
		return RefundResult{Intent: p}, domain.PreconditionError{Entity: "payment_intent", ID: p.ID, Message: "no gateway reference to refund against"}
	}
	inFlight, err := o.Repo.RefundInFlight(ctx, tx, p.ID)
	if err != nil {
		return RefundResult{}, err
	}
	if inFlight {
		return RefundResult{Intent: p}, domain.PreconditionError{Entity: "payment_intent", ID: p.ID, Message: "a refund is already in flight"}
	}
	now := o.ts()
	rf := domain.Refund{
		ID:              uuid.NewString(),
		PaymentIntentID: p.ID,
		Amount:          amount,
		Reason:          strings.TrimSpace(reason),
		Status:          domain.RefundProcessing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.Repo.InsertRefund(ctx, tx, rf); err != nil {
		return RefundResult{}, err
	}
	if err := o.journal().Append(ctx, tx, "refund.initiated", "payment", p.ID, caller.ID, events.EventPayload{
		"refund_id": rf.ID,
		"amount":    amount.StringFixed(domain.MinorUnits),
	}); err != nil {
		return RefundResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return RefundResult{}, err
	}
	o.notify(ctx, notify.Notification{Kind: notify.RefundInitiated, RecipientID: p.ClientID, EntityKind: "payment_intent", EntityID: p.ID,
		Data: map[string]any{"amount": amount.StringFixed(domain.MinorUnits)}})

	var (
		res  gateway.Result
		gerr error
	)
	adapter, gerr := o.Gateways.Get(p.Method)
	if gerr == nil {
		res, gerr = adapter.Refund(ctx, *p.GatewayReference, amount)
	}
	out, err := o.applyRefund(ctx, rf.ID, res, gerr, caller.ID)
	if err != nil {
		return out, err
	}
	return out, gerr
}

// applyRefund records the gateway answer for a refund, on a context that
// outlives the caller's.
func (o Orchestrator) applyRefund(ctx context.Context, refundID string, res gateway.Result, gerr error, actorID string) (RefundResult, error) {
	ctx = context.WithoutCancel(ctx)
	tx, err := o.Repo.BeginTx(ctx)
	if err != nil {
		return RefundResult{}, err
	}
	defer tx.Rollback()
	rf, err := o.Repo.GetRefund(ctx, tx, refundID)
	if err != nil {
		return RefundResult{}, err
	}
	p, err := o.Repo.GetPaymentIntent(ctx, tx, rf.PaymentIntentID)
	if err != nil {
		return RefundResult{}, err
	}
	rf.UpdatedAt = o.ts()
	if res.Reference != "" {
		rf.Reference = &res.Reference
	}
	failed := gerr != nil || res.Status == gateway.StatusFailed
	partial := rf.Amount.LessThan(p.Amount)
	if failed {
		reason := failureReason(res, gerr)
		rf.Status = domain.RefundFailed
		rf.FailureReason = &reason
	} else {
		rf.Status = domain.RefundCompleted
		if err := o.setIntentStatus(ctx, tx, &p, domain.PaymentRefunded, actorID, events.EventPayload{
			"refund_id": rf.ID,
			"amount":    rf.Amount.StringFixed(domain.MinorUnits),
			"partial":   partial,
		}); err != nil {
			return RefundResult{Refund: rf, Intent: p}, err
		}
		if partial {
			if err := o.flagInvoice(ctx, tx, p.TaskID, actorID); err != nil {
				return RefundResult{Refund: rf, Intent: p}, err
			}
		}
	}
	if err := o.Repo.UpdateRefund(ctx, tx, rf); err != nil {
		return RefundResult{Refund: rf, Intent: p}, err
	}
	if err := tx.Commit(); err != nil {
		return RefundResult{Refund: rf, Intent: p}, err
	}

	log := o.logger().WithFields(logrus.Fields{"intent_id": p.ID, "refund_id": rf.ID, "gateway": p.Method})
	if failed {
		log.Errorf("refund failed: %s", *rf.FailureReason)
		count(ctx, o.Metrics.refundsFailed, string(p.Method))
		return RefundResult{Refund: rf, Intent: p}, nil
	}
	log.WithField("partial", partial).Info("refund completed")
	count(ctx, o.Metrics.refunds, string(p.Method))
	o.notify(ctx, notify.Notification{Kind: notify.RefundCompleted, RecipientID: p.ClientID, EntityKind: "payment_intent", EntityID: p.ID,
		Data: map[string]any{"amount": rf.Amount.StringFixed(domain.MinorUnits), "partial": partial}})
	return RefundResult{Refund: rf, Intent: p}, nil
}

func (o Orchestrator) flagInvoice(ctx context.Context, tx sqlx.ExtContext, taskID, actorID string) error {
	inv, err := o.Repo.GetInvoiceByTask(ctx, tx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	inv.NeedsReconciliation = true
	inv.UpdatedAt = o.ts()
	if err := o.Repo.UpdateInvoice(ctx, tx, inv); err != nil {
		return err
	}
	return o.journal().Append(ctx, tx, "invoice.needs_reconciliation", "invoice", inv.ID, actorID, events.EventPayload{"task_id": taskID})
}
