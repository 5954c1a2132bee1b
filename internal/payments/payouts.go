package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"maiguru/internal/domain"
	"maiguru/internal/engine/auth"
	"maiguru/internal/events"
	"maiguru/internal/gateway"
	"maiguru/internal/notify"
	"maiguru/internal/repo"
)

// InitiatePayout pays the expert share of a completed intent to the expert's
// primary verified method. Admin only; completed charges also start it on
// their own. A gateway rejection leaves the payout failed for a manual retry.
func (o Orchestrator) InitiatePayout(ctx context.Context, intentID, actorID string) (domain.Payout, error) {
	caller, err := o.actor(ctx, nil, actorID, auth.ActionInitiatePayout)
	if err != nil {
		return domain.Payout{}, err
	}
	if err := auth.Check(caller, auth.ActionInitiatePayout, auth.Target{}); err != nil {
		return domain.Payout{}, err
	}
	return o.initiatePayout(ctx, intentID, caller.ID)
}

func (o Orchestrator) initiatePayout(ctx context.Context, intentID, actorID string) (domain.Payout, error) {
	tx, err := o.Repo.BeginTx(ctx)
	if err != nil {
		return domain.Payout{}, err
	}
	defer tx.Rollback()

	p, err := o.Repo.GetPaymentIntent(ctx, tx, intentID)
	if err != nil {
		return domain.Payout{}, err
	}
	if p.Status != domain.PaymentCompleted {
		return domain.Payout{}, domain.PreconditionError{Entity: "payment_intent", ID: p.ID, Message: "payout requires a completed payment, intent is " + p.Status}
	}
	if _, err := o.Repo.GetPayoutByIntent(ctx, tx, p.ID); err == nil {
		return domain.Payout{}, domain.DuplicateError{Entity: "payment_intent", Key: p.ID, Err: domain.ErrDuplicatePayout}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Payout{}, err
	}
	t, err := o.Repo.GetTask(ctx, tx, p.TaskID)
	if err != nil {
		return domain.Payout{}, err
	}
	expertID := t.ExpertID()
	if expertID == "" {
		return domain.Payout{}, domain.PreconditionError{Entity: "task", ID: t.ID, Message: "task has no assigned expert"}
	}
	method, err := o.Repo.PrimaryVerifiedPaymentMethod(ctx, tx, expertID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Payout{}, domain.PreconditionError{Entity: "expert", ID: expertID, Message: "no primary verified payment method"}
	}
	if err != nil {
		return domain.Payout{}, err
	}
	now := o.ts()
	po := domain.Payout{
		ID:              uuid.NewString(),
		ExpertID:        expertID,
		PaymentIntentID: p.ID,
		Amount:          p.ExpertPayoutAmount(),
		Currency:        p.Currency,
		Method:          method.Method,
		Status:          domain.PayoutPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.Repo.InsertPayout(ctx, tx, po); err != nil {
		return domain.Payout{}, err
	}
	if err := o.journal().Append(ctx, tx, "payout.created", "payout", po.ID, actorID, events.EventPayload{
		"payment_intent_id": p.ID,
		"amount":            po.Amount.StringFixed(domain.MinorUnits),
		"method":            po.Method.Kind(),
	}); err != nil {
		return domain.Payout{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Payout{}, err
	}
	return o.dispatchPayout(ctx, po, actorID)
}

// dispatchPayout hands a pending payout to its gateway and records the answer.
func (o Orchestrator) dispatchPayout(ctx context.Context, po domain.Payout, actorID string) (domain.Payout, error) {
	log := o.logger().WithFields(logrus.Fields{"payout_id": po.ID, "intent_id": po.PaymentIntentID, "gateway": po.Method.Kind()})
	var (
		res  gateway.Result
		gerr error
	)
	adapter, gerr := o.Gateways.Get(po.Method.Kind())
	if gerr == nil {
		res, gerr = adapter.Payout(ctx, gateway.PayoutRequest{
			PayoutID:  po.ID,
			Recipient: po.Method,
			Amount:    po.Amount,
			Currency:  po.Currency,
		})
	}

	// the answer is stored even if the caller has gone away
	ctx = context.WithoutCancel(ctx)
	if gerr == nil && res.Status != gateway.StatusFailed && res.Reference == "" {
		gerr = domain.GatewayError{Gateway: string(po.Method.Kind()), Op: "payout", Reason: "no reference"}
	}
	tx, err := o.Repo.BeginTx(ctx)
	if err != nil {
		return po, err
	}
	defer tx.Rollback()
	po, err = o.Repo.GetPayout(ctx, tx, po.ID)
	if err != nil {
		return po, err
	}
	if res.Reference != "" {
		po.GatewayReference = &res.Reference
	}
	to := domain.PayoutProcessing
	extra := events.EventPayload{}
	switch {
	case gerr != nil || res.Status == gateway.StatusFailed:
		to = domain.PayoutFailed
		reason := failureReason(res, gerr)
		po.FailureReason = &reason
		extra["reason"] = reason
	case res.Status == gateway.StatusCompleted:
		to = domain.PayoutCompleted
	}
	if err := o.setPayoutStatus(ctx, tx, &po, to, actorID, extra); err != nil {
		return po, err
	}
	if err := tx.Commit(); err != nil {
		return po, err
	}

	if to == domain.PayoutFailed {
		log.Errorf("payout failed: %s", *po.FailureReason)
		count(ctx, o.Metrics.payoutsFailed, string(po.Method.Kind()))
		o.notify(ctx, notify.Notification{
			Kind:        notify.PayoutFailed,
			RecipientID: po.ExpertID,
			EntityKind:  "payout",
			EntityID:    po.ID,
			Data:        map[string]any{"reason": *po.FailureReason},
		})
		return po, gerr
	}
	log.WithField("reference", res.Reference).Info("payout initiated")
	count(ctx, o.Metrics.payouts, string(po.Method.Kind()))
	o.notify(ctx, notify.Notification{
		Kind:        notify.PayoutInitiated,
		RecipientID: po.ExpertID,
		EntityKind:  "payout",
		EntityID:    po.ID,
		Data:        map[string]any{"amount": po.Amount.StringFixed(domain.MinorUnits), "currency": po.Currency},
	})
	if to == domain.PayoutCompleted {
		o.notify(ctx, notify.Notification{Kind: notify.PayoutCompleted, RecipientID: po.ExpertID, EntityKind: "payout", EntityID: po.ID})
	}
	return po, nil
}

func (o Orchestrator) setPayoutStatus(ctx context.Context, tx *sqlx.Tx, po *domain.Payout, to, actorID string, extra events.EventPayload) error {
	if err := ensurePayoutTransition(*po, to); err != nil {
		return err
	}
	from := po.Status
	now := o.ts()
	po.Status = to
	po.UpdatedAt = now
	switch to {
	case domain.PayoutCompleted, domain.PayoutFailed:
		po.ProcessedAt = &now
	case domain.PayoutPending:
		po.FailureReason = nil
		po.ProcessedAt = nil
	}
	if err := o.Repo.UpdatePayout(ctx, tx, *po); err != nil {
		return err
	}
	return o.journal().StatusChange(ctx, tx, "payout", po.ID, actorID, from, to, extra)
}

// ConfirmPayout is the gateway callback for payouts, matched by reference.
func (o Orchestrator) ConfirmPayout(ctx context.Context, reference, status, reason string) (domain.Payout, error) {
	var to string
	switch gateway.Status(status) {
	case gateway.StatusCompleted:
		to = domain.PayoutCompleted
	case gateway.StatusFailed:
		to = domain.PayoutFailed
	default:
		return domain.Payout{}, domain.ValidationError{Field: "status", Message: "must be completed or failed"}
	}
	tx, err := o.Repo.BeginTx(ctx)
	if err != nil {
		return domain.Payout{}, err
	}
	defer tx.Rollback()
	po, err := o.Repo.GetPayoutByReference(ctx, tx, reference)
	if err != nil {
		return domain.Payout{}, err
	}
	if po.Status != domain.PayoutProcessing {
		return po, domain.InvalidTransitionError{Entity: "payout", ID: po.ID, From: po.Status, To: to}
	}
	extra := events.EventPayload{"reference": reference}
	if to == domain.PayoutFailed {
		if reason == "" {
			reason = "rejected by gateway"
		}
		po.FailureReason = &reason
		extra["reason"] = reason
	}
	if err := o.setPayoutStatus(ctx, tx, &po, to, "gateway:"+string(po.Method.Kind()), extra); err != nil {
		return po, err
	}
	if err := tx.Commit(); err != nil {
		return po, err
	}
	kind := notify.PayoutCompleted
	if to == domain.PayoutFailed {
		kind = notify.PayoutFailed
		count(ctx, o.Metrics.payoutsFailed, string(po.Method.Kind()))
	}
	o.notify(ctx, notify.Notification{Kind: kind, RecipientID: po.ExpertID, EntityKind: "payout", EntityID: po.ID})
	return po, nil
}

// RetryPayout sends a failed payout to its gateway again. Admin only.
func (o Orchestrator) RetryPayout(ctx context.Context, payoutID, actorID string) (domain.Payout, error) {
	tx, err := o.Repo.BeginTx(ctx)
	if err != nil {
		return domain.Payout{}, err
	}
	defer tx.Rollback()
	caller, err := o.actor(ctx, tx, actorID, auth.ActionRetryPayout)
	if err != nil {
		return domain.Payout{}, err
	}
	if err := auth.Check(caller, auth.ActionRetryPayout, auth.Target{}); err != nil {
		return domain.Payout{}, err
	}
	po, err := o.Repo.GetPayout(ctx, tx, payoutID)
	if err != nil {
		return domain.Payout{}, err
	}
	p, err := o.Repo.GetPaymentIntent(ctx, tx, po.PaymentIntentID)
	if err != nil {
		return po, err
	}
	if p.Status != domain.PaymentCompleted {
		return po, domain.PreconditionError{Entity: "payment_intent", ID: p.ID, Message: "payout retry requires a completed payment, intent is " + p.Status}
	}
	if err := o.setPayoutStatus(ctx, tx, &po, domain.PayoutPending, caller.ID, events.EventPayload{"action": "retry"}); err != nil {
		return po, err
	}
	if err := tx.Commit(); err != nil {
		return po, err
	}
	return o.dispatchPayout(ctx, po, caller.ID)
}

// GetPayout returns a payout to its expert or an admin.
func (o Orchestrator) GetPayout(ctx context.Context, payoutID, actorID string) (domain.Payout, error) {
	caller, err := o.actor(ctx, nil, actorID, auth.ActionViewTask)
	if err != nil {
		return domain.Payout{}, err
	}
	po, err := o.Repo.GetPayout(ctx, nil, payoutID)
	if err != nil {
		return domain.Payout{}, err
	}
	if caller.Role != domain.RoleAdmin && caller.ID != po.ExpertID {
		return domain.Payout{}, auth.UnauthorizedError{ActorID: caller.ID, Action: auth.ActionViewTask, Reason: "not the payee"}
	}
	return po, nil
}

// ListPayouts returns an expert's own payouts, or every payout for an admin.
func (o Orchestrator) ListPayouts(ctx context.Context, actorID string) ([]domain.Payout, error) {
	caller, err := o.actor(ctx, nil, actorID, auth.ActionViewTask)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireRole(caller, auth.ActionViewTask, domain.RoleExpert, domain.RoleAdmin); err != nil {
		return nil, err
	}
	expertID := ""
	if caller.Role == domain.RoleExpert {
		expertID = caller.ID
	}
	return o.Repo.ListPayouts(ctx, expertID)
}
