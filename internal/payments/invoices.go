package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"maiguru/internal/domain"
	"maiguru/internal/engine/auth"
	"maiguru/internal/events"
	"maiguru/internal/notify"
	"maiguru/internal/pricing"
	"maiguru/internal/repo"
)

const invoiceNumberAttempts = 5

// IssueInvoice bills the client of a completed task. It is idempotent: when
// the task already has an invoice, that invoice is returned unchanged.
func (o Orchestrator) IssueInvoice(ctx context.Context, taskID, actorID string) (domain.Invoice, error) {
	t, err := o.Repo.GetTask(ctx, nil, taskID)
	if err != nil {
		return domain.Invoice{}, err
	}
	caller, err := o.authorize(ctx, nil, actorID, auth.ActionIssueInvoice, t)
	if err != nil {
		return domain.Invoice{}, err
	}
	return o.issueInvoice(ctx, taskID, caller.ID)
}

func (o Orchestrator) issueInvoice(ctx context.Context, taskID, actorID string) (domain.Invoice, error) {
	for attempt := 1; ; attempt++ {
		inv, err := o.tryIssueInvoice(ctx, taskID, actorID)
		switch {
		case err == nil:
			return inv, nil
		case errors.Is(err, repo.ErrInvoiceNumberTaken) && attempt < invoiceNumberAttempts:
			o.logger().WithField("task_id", taskID).Debug("invoice number collision, drawing another")
			continue
		case errors.Is(err, domain.ErrDuplicateInvoice):
			// a concurrent call won; its invoice is the answer
			return o.Repo.GetInvoiceByTask(ctx, nil, taskID)
		}
		return domain.Invoice{}, err
	}
}

func (o Orchestrator) tryIssueInvoice(ctx context.Context, taskID, actorID string) (domain.Invoice, error) {
	tx, err := o.Repo.BeginTx(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()

	t, err := o.Repo.GetTaskForUpdate(ctx, tx, taskID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if existing, err := o.Repo.GetInvoiceByTask(ctx, tx, t.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Invoice{}, err
	}
	if t.Status != domain.TaskCompleted {
		return domain.Invoice{}, domain.PreconditionError{Entity: "task", ID: t.ID, Message: "invoices are issued for completed tasks, task is " + t.Status}
	}

	number := o.invoiceNumber()
	taken, err := o.Repo.InvoiceNumberExists(ctx, tx, number)
	if err != nil {
		return domain.Invoice{}, err
	}
	if taken {
		return domain.Invoice{}, repo.ErrInvoiceNumberTaken
	}
	amount, source := pricing.ResolveAmount(t, o.Config)
	status := domain.InvoiceSent
	if p, err := o.Repo.GetPaymentIntentByTask(ctx, tx, t.ID); err == nil && p.Status == domain.PaymentCompleted {
		status = domain.InvoicePaid
	}
	now := o.ts()
	inv := domain.Invoice{
		ID:            uuid.NewString(),
		TaskID:        t.ID,
		ClientID:      t.ClientID,
		InvoiceNumber: number,
		Amount:        amount,
		Currency:      o.Config.Marketplace.Currency,
		Status:        status,
		DueDate:       o.dueDate(t),
		LineItems:     []domain.LineItem{{Description: t.Title, Amount: amount}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.Repo.InsertInvoice(ctx, tx, inv); err != nil {
		return domain.Invoice{}, err
	}
	if err := o.journal().Append(ctx, tx, "invoice.issued", "invoice", inv.ID, actorID, events.EventPayload{
		"task_id":        t.ID,
		"invoice_number": inv.InvoiceNumber,
		"amount":         inv.Amount.StringFixed(domain.MinorUnits),
		"amount_source":  source,
	}); err != nil {
		return domain.Invoice{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}
	count(ctx, o.Metrics.invoices, "")
	o.logger().WithFields(logrus.Fields{"task_id": t.ID, "invoice": inv.InvoiceNumber}).Info("invoice issued")
	o.notify(ctx, notify.Notification{
		Kind:        notify.InvoiceIssued,
		RecipientID: inv.ClientID,
		EntityKind:  "invoice",
		EntityID:    inv.ID,
		Data:        map[string]any{"invoice_number": inv.InvoiceNumber, "amount": inv.Amount.StringFixed(domain.MinorUnits), "due_date": inv.DueDate},
	})
	return inv, nil
}

// invoiceNumber draws <prefix>-YYYYMMDD-<8 upper hex>.
func (o Orchestrator) invoiceNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", o.Config.Marketplace.InvoicePrefix, o.now().UTC().Format("20060102"), suffix)
}

func (o Orchestrator) dueDate(t domain.Task) string {
	if t.Deadline != nil && *t.Deadline != "" {
		return *t.Deadline
	}
	days := o.Config.Marketplace.InvoiceDueDays
	return o.now().UTC().Add(time.Duration(days) * 24 * time.Hour).Format(time.RFC3339)
}

// GetInvoiceByTask returns the task's invoice to a party of the task.
func (o Orchestrator) GetInvoiceByTask(ctx context.Context, taskID, actorID string) (domain.Invoice, error) {
	if err := o.canView(ctx, taskID, actorID); err != nil {
		return domain.Invoice{}, err
	}
	return o.Repo.GetInvoiceByTask(ctx, nil, taskID)
}

// ListInvoices returns a client's own invoices, or every invoice for an admin.
func (o Orchestrator) ListInvoices(ctx context.Context, actorID string) ([]domain.Invoice, error) {
	caller, err := o.actor(ctx, nil, actorID, auth.ActionViewTask)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireRole(caller, auth.ActionViewTask, domain.RoleClient, domain.RoleAdmin); err != nil {
		return nil, err
	}
	clientID := ""
	if caller.Role == domain.RoleClient {
		clientID = caller.ID
	}
	return o.Repo.ListInvoices(ctx, clientID)
}
