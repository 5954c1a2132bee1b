package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"maiguru/internal/domain"
	"maiguru/internal/engine/auth"
	"maiguru/internal/events"
	"maiguru/internal/gateway"
	"maiguru/internal/notify"
	"maiguru/internal/pricing"
	"maiguru/internal/repo"
)

// CreatePaymentIntent records the client's obligation for a task. The fee is
// split once, here; UNIQUE(task_id) makes a concurrent second call lose with
// DuplicateError.
func (o Orchestrator) CreatePaymentIntent(ctx context.Context, taskID, method, actorID string) (domain.PaymentIntent, error) {
	kind, err := domain.ParsePaymentMethodKind(method)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	tx, err := o.Repo.BeginTx(ctx)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	defer tx.Rollback()

	t, err := o.Repo.GetTaskForUpdate(ctx, tx, taskID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	caller, err := o.authorize(ctx, tx, actorID, auth.ActionCreatePayment, t)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if t.Status == domain.TaskCancelled {
		return domain.PaymentIntent{}, domain.PreconditionError{Entity: "task", ID: t.ID, Message: "cannot pay for a cancelled task"}
	}
	if t.ExpertID() == "" {
		return domain.PaymentIntent{}, domain.PreconditionError{Entity: "task", ID: t.ID, Message: "task has no assigned expert to pay"}
	}
	if _, err := o.Repo.GetPaymentIntentByTask(ctx, tx, t.ID); err == nil {
		return domain.PaymentIntent{}, domain.DuplicateError{Entity: "task", Key: t.ID, Err: domain.ErrDuplicateIntent}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.PaymentIntent{}, err
	}

	amount, source := pricing.ResolveAmount(t, o.Config)
	fee, _ := domain.SplitFee(amount, o.Config.FeeRate())
	now := o.ts()
	// the charged amount becomes the final price so the invoice bills the same
	if t.FinalPrice == nil {
		t.FinalPrice = &amount
		t.UpdatedAt = now
		if err := o.Repo.UpdateTask(ctx, tx, t); err != nil {
			return domain.PaymentIntent{}, err
		}
		if err := o.journal().Append(ctx, tx, "task.priced", "task", t.ID, caller.ID, events.EventPayload{
			"final_price": amount.StringFixed(domain.MinorUnits),
			"source":      source,
		}); err != nil {
			return domain.PaymentIntent{}, err
		}
	}
	p := domain.PaymentIntent{
		ID:          uuid.NewString(),
		TaskID:      t.ID,
		ClientID:    t.ClientID,
		Amount:      amount,
		Currency:    o.Config.Marketplace.Currency,
		PlatformFee: fee,
		Method:      kind,
		Status:      domain.PaymentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.Repo.InsertPaymentIntent(ctx, tx, p); err != nil {
		return domain.PaymentIntent{}, err
	}
	if err := o.journal().Append(ctx, tx, "payment_intent.created", "payment", p.ID, caller.ID, events.EventPayload{
		"task_id":       t.ID,
		"amount":        p.Amount.StringFixed(domain.MinorUnits),
		"platform_fee":  p.PlatformFee.StringFixed(domain.MinorUnits),
		"amount_source": source,
	}); err != nil {
		return domain.PaymentIntent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PaymentIntent{}, err
	}
	count(ctx, o.Metrics.intents, string(kind))
	o.notify(ctx, notify.Notification{
		Kind:        notify.PaymentCreated,
		RecipientID: p.ClientID,
		EntityKind:  "payment_intent",
		EntityID:    p.ID,
		Data:        map[string]any{"task_id": t.ID, "amount": p.Amount.StringFixed(domain.MinorUnits), "currency": p.Currency},
	})
	return p, nil
}

// setIntentStatus moves p to status inside tx and appends the status log entry.
func (o Orchestrator) setIntentStatus(ctx context.Context, tx *sqlx.Tx, p *domain.PaymentIntent, to, actorID string, extra events.EventPayload) error {
	if err := ensureIntentTransition(*p, to); err != nil {
		return err
	}
	from := p.Status
	now := o.ts()
	p.Status = to
	p.UpdatedAt = now
	if to == domain.PaymentCompleted {
		p.CompletedAt = &now
	}
	if err := o.Repo.UpdatePaymentIntent(ctx, tx, *p); err != nil {
		return err
	}
	return o.journal().StatusChange(ctx, tx, "payment", p.ID, actorID, from, to, extra)
}

// ChargeIntent opens the charge at the gateway. The intent is claimed as
// processing before the call so a concurrent charge fails its transition
// instead of charging twice; a rejection or timeout leaves it failed.
func (o Orchestrator) ChargeIntent(ctx context.Context, intentID, actorID string) (domain.PaymentIntent, error) {
	tx, err := o.Repo.BeginTx(ctx)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	defer tx.Rollback()

	p, err := o.Repo.GetPaymentIntent(ctx, tx, intentID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	t, err := o.Repo.GetTask(ctx, tx, p.TaskID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	caller, err := o.authorize(ctx, tx, actorID, auth.ActionChargePayment, t)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if p.Status != domain.PaymentPending {
		return p, domain.InvalidTransitionError{Entity: "payment_intent", ID: p.ID, From: p.Status, To: domain.PaymentProcessing}
	}
	if err := o.setIntentStatus(ctx, tx, &p, domain.PaymentProcessing, caller.ID, events.EventPayload{"action": "charge"}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PaymentIntent{}, err
	}

	log := o.logger().WithFields(logrus.Fields{"intent_id": p.ID, "task_id": p.TaskID, "gateway": p.Method})
	res, gerr := o.createCharge(ctx, p, t)
	if gerr == nil && res.Status != gateway.StatusFailed {
		log.WithField("reference", res.Reference).Info("charge opened")
	}
	updated, err := o.applyCharge(ctx, p.ID, res, gerr, caller.ID)
	if err != nil {
		return updated, err
	}
	if gerr != nil {
		return updated, gerr
	}
	return updated, nil
}

func (o Orchestrator) createCharge(ctx context.Context, p domain.PaymentIntent, t domain.Task) (gateway.Result, error) {
	adapter, err := o.Gateways.Get(p.Method)
	if err != nil {
		return gateway.Result{}, err
	}
	return adapter.CreateCharge(ctx, gateway.ChargeRequest{
		IntentID:    p.ID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Description: t.Title,
	})
}

// applyCharge stores the outcome of opening a charge. The outcome is recorded
// even when the caller's context ended during the gateway call.
func (o Orchestrator) applyCharge(ctx context.Context, intentID string, res gateway.Result, gerr error, actorID string) (domain.PaymentIntent, error) {
	ctx = context.WithoutCancel(ctx)
	if gerr == nil && res.Status == gateway.StatusCompleted {
		return o.CaptureCharge(ctx, intentID, res, actorID)
	}
	tx, err := o.Repo.BeginTx(ctx)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	defer tx.Rollback()
	p, err := o.Repo.GetPaymentIntent(ctx, tx, intentID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if res.Reference != "" {
		p.GatewayReference = &res.Reference
	}
	failed := gerr != nil || res.Status == gateway.StatusFailed
	if failed {
		reason := failureReason(res, gerr)
		p.FailureReason = &reason
		if err := o.setIntentStatus(ctx, tx, &p, domain.PaymentFailed, actorID, events.EventPayload{"reason": reason}); err != nil {
			return p, err
		}
	} else {
		p.UpdatedAt = o.ts()
		if err := o.Repo.UpdatePaymentIntent(ctx, tx, p); err != nil {
			return p, pkgerrors.Wrap(err, "record gateway reference")
		}
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	if failed {
		o.chargeFailed(ctx, p)
	} else {
		o.notify(ctx, notify.Notification{Kind: notify.PaymentProcessing, RecipientID: p.ClientID, EntityKind: "payment_intent", EntityID: p.ID})
	}
	return p, nil
}

func (o Orchestrator) chargeFailed(ctx context.Context, p domain.PaymentIntent) {
	reason := ""
	if p.FailureReason != nil {
		reason = *p.FailureReason
	}
	o.logger().WithFields(logrus.Fields{"intent_id": p.ID, "task_id": p.TaskID, "gateway": p.Method}).
		Errorf("charge failed: %s", reason)
	count(ctx, o.Metrics.chargesFailed, string(p.Method))
	o.notify(ctx, notify.Notification{
		Kind:        notify.PaymentFailed,
		RecipientID: p.ClientID,
		EntityKind:  "payment_intent",
		EntityID:    p.ID,
		Data:        map[string]any{"reason": reason},
	})
}

// Capture asks the gateway to settle an open charge and applies the result.
func (o Orchestrator) Capture(ctx context.Context, intentID, actorID string) (domain.PaymentIntent, error) {
	p, err := o.Repo.GetPaymentIntent(ctx, nil, intentID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	t, err := o.Repo.GetTask(ctx, nil, p.TaskID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	caller, err := o.authorize(ctx, nil, actorID, auth.ActionChargePayment, t)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if p.Status != domain.PaymentProcessing || p.GatewayReference == nil {
		return p, domain.PreconditionError{Entity: "payment_intent", ID: p.ID, Message: "capture needs an open charge, intent is " + p.Status}
	}
	adapter, err := o.Gateways.Get(p.Method)
	if err == nil {
		var res gateway.Result
		res, err = adapter.CaptureCharge(ctx, *p.GatewayReference)
		if err == nil {
			return o.CaptureCharge(context.WithoutCancel(ctx), p.ID, res, caller.ID)
		}
	}
	updated, aerr := o.CaptureCharge(context.WithoutCancel(ctx), p.ID, gateway.Result{Status: gateway.StatusFailed, Reason: failureReason(gateway.Result{}, err)}, caller.ID)
	if aerr != nil {
		return updated, aerr
	}
	return updated, err
}

// CaptureCharge applies a gateway result to a pending or processing intent.
// Success completes the intent, marks its invoice paid and starts the expert
// payout; a failure marks it failed with the gateway's reason. The owning
// task is never touched. Callers authenticate the result's origin.
func (o Orchestrator) CaptureCharge(ctx context.Context, intentID string, res gateway.Result, actorID string) (domain.PaymentIntent, error) {
	tx, err := o.Repo.BeginTx(ctx)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	defer tx.Rollback()

	p, err := o.Repo.GetPaymentIntent(ctx, tx, intentID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if p.Status != domain.PaymentPending && p.Status != domain.PaymentProcessing {
		to := domain.PaymentCompleted
		if res.Status == gateway.StatusFailed {
			to = domain.PaymentFailed
		}
		return p, domain.InvalidTransitionError{Entity: "payment_intent", ID: p.ID, From: p.Status, To: to}
	}
	if res.Reference != "" && p.GatewayReference == nil {
		p.GatewayReference = &res.Reference
	}

	var to string
	switch res.Status {
	case gateway.StatusCompleted:
		to = domain.PaymentCompleted
	case gateway.StatusFailed:
		to = domain.PaymentFailed
		reason := failureReason(res, nil)
		p.FailureReason = &reason
	default:
		to = domain.PaymentProcessing
	}
	if to == p.Status {
		// still in flight at the gateway
		p.UpdatedAt = o.ts()
		if err := o.Repo.UpdatePaymentIntent(ctx, tx, p); err != nil {
			return p, err
		}
		return p, tx.Commit()
	}
	extra := events.EventPayload{}
	if p.FailureReason != nil && to == domain.PaymentFailed {
		extra["reason"] = *p.FailureReason
	}
	if err := o.setIntentStatus(ctx, tx, &p, to, actorID, extra); err != nil {
		return p, err
	}
	if to == domain.PaymentCompleted {
		if err := o.markInvoicePaid(ctx, tx, p.TaskID); err != nil {
			return p, err
		}
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}

	switch to {
	case domain.PaymentFailed:
		o.chargeFailed(ctx, p)
	case domain.PaymentProcessing:
		o.notify(ctx, notify.Notification{Kind: notify.PaymentProcessing, RecipientID: p.ClientID, EntityKind: "payment_intent", EntityID: p.ID})
	case domain.PaymentCompleted:
		count(ctx, o.Metrics.captured, string(p.Method))
		o.notify(ctx, notify.Notification{
			Kind:        notify.PaymentCompleted,
			RecipientID: p.ClientID,
			EntityKind:  "payment_intent",
			EntityID:    p.ID,
			Data:        map[string]any{"amount": p.Amount.StringFixed(domain.MinorUnits)},
		})
		if o.AutoPayout {
			if _, err := o.initiatePayout(ctx, p.ID, SystemActor); err != nil {
				o.logger().WithFields(logrus.Fields{"intent_id": p.ID, "task_id": p.TaskID}).WithError(err).
					Warn("automatic payout not started; an admin can initiate it")
			}
		}
	}
	return p, nil
}

// ConfirmPayment is the gateway callback for charges, matched by reference.
func (o Orchestrator) ConfirmPayment(ctx context.Context, reference, status, reason string) (domain.PaymentIntent, error) {
	st := gateway.Status(status)
	if err := validCallbackStatus(st); err != nil {
		return domain.PaymentIntent{}, err
	}
	p, err := o.Repo.GetPaymentIntentByReference(ctx, nil, reference)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	return o.CaptureCharge(ctx, p.ID, gateway.Result{Reference: reference, Status: st, Reason: reason}, "gateway:"+string(p.Method))
}

func validCallbackStatus(status gateway.Status) error {
	switch status {
	case gateway.StatusProcessing, gateway.StatusCompleted, gateway.StatusFailed:
		return nil
	}
	return domain.ValidationError{Field: "status", Message: "must be one of processing, completed, failed"}
}

func (o Orchestrator) markInvoicePaid(ctx context.Context, tx *sqlx.Tx, taskID string) error {
	inv, err := o.Repo.GetInvoiceByTask(ctx, tx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if inv.Status == domain.InvoicePaid || inv.Status == domain.InvoiceCancelled {
		return nil
	}
	from := inv.Status
	inv.Status = domain.InvoicePaid
	inv.UpdatedAt = o.ts()
	if err := o.Repo.UpdateInvoice(ctx, tx, inv); err != nil {
		return err
	}
	return o.journal().StatusChange(ctx, tx, "invoice", inv.ID, SystemActor, from, inv.Status, nil)
}

// GetPaymentIntent returns an intent to a party of its task.
func (o Orchestrator) GetPaymentIntent(ctx context.Context, intentID, actorID string) (domain.PaymentIntent, error) {
	p, err := o.Repo.GetPaymentIntent(ctx, nil, intentID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	return p, o.canView(ctx, p.TaskID, actorID)
}

// GetPaymentIntentByTask returns the task's intent to a party of the task.
func (o Orchestrator) GetPaymentIntentByTask(ctx context.Context, taskID, actorID string) (domain.PaymentIntent, error) {
	if err := o.canView(ctx, taskID, actorID); err != nil {
		return domain.PaymentIntent{}, err
	}
	return o.Repo.GetPaymentIntentByTask(ctx, nil, taskID)
}

// ListRefunds returns the refunds recorded against an intent.
func (o Orchestrator) ListRefunds(ctx context.Context, intentID, actorID string) ([]domain.Refund, error) {
	if _, err := o.GetPaymentIntent(ctx, intentID, actorID); err != nil {
		return nil, err
	}
	return o.Repo.ListRefunds(ctx, intentID)
}

func (o Orchestrator) canView(ctx context.Context, taskID, actorID string) error {
	t, err := o.Repo.GetTask(ctx, nil, taskID)
	if err != nil {
		return err
	}
	_, err = o.authorize(ctx, nil, actorID, auth.ActionViewTask, t)
	return err
}
