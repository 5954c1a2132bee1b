package payments

import (
	"context"
	"time"

	"maiguru/internal/domain"
	"maiguru/internal/engine/auth"
)

const reconcileBatch = 100

type ReconcileFailure struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

type ReconcileResult struct {
	Issued   []domain.Invoice   `json:"issued"`
	Failures []ReconcileFailure `json:"failures"`
}

// ReconcileInvoices issues the invoices missing for completed tasks. Admin only.
func (o Orchestrator) ReconcileInvoices(ctx context.Context, actorID string) (ReconcileResult, error) {
	caller, err := o.actor(ctx, nil, actorID, auth.ActionReconcile)
	if err != nil {
		return ReconcileResult{}, err
	}
	if err := auth.Check(caller, auth.ActionReconcile, auth.Target{}); err != nil {
		return ReconcileResult{}, err
	}
	return o.reconcile(ctx, caller.ID)
}

func (o Orchestrator) reconcile(ctx context.Context, actorID string) (ReconcileResult, error) {
	res := ReconcileResult{Issued: []domain.Invoice{}, Failures: []ReconcileFailure{}}
	tasks, err := o.Repo.CompletedTasksWithoutInvoice(ctx, reconcileBatch)
	if err != nil {
		return res, err
	}
	for _, t := range tasks {
		inv, err := o.issueInvoice(ctx, t.ID, actorID)
		if err != nil {
			o.logger().WithField("task_id", t.ID).WithError(err).Warn("reconciler could not issue invoice")
			res.Failures = append(res.Failures, ReconcileFailure{TaskID: t.ID, Error: err.Error()})
			continue
		}
		res.Issued = append(res.Issued, inv)
	}
	return res, nil
}

// RunReconciler reconciles every interval until ctx is done.
func (o Orchestrator) RunReconciler(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := o.reconcile(ctx, SystemActor)
			if err != nil {
				o.logger().WithError(err).Warn("invoice reconciliation failed")
				continue
			}
			if len(res.Issued) > 0 || len(res.Failures) > 0 {
				o.logger().WithField("issued", len(res.Issued)).WithField("failed", len(res.Failures)).Info("invoice reconciliation")
			}
		}
	}
}
