package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Kind identifies a notification template.
type Kind string

const (
	PaymentCreated     Kind = "payment_created"
	PaymentProcessing  Kind = "payment_processing"
	PaymentCompleted   Kind = "payment_completed"
	PaymentFailed      Kind = "payment_failed"
	PayoutInitiated    Kind = "payout_initiated"
	PayoutCompleted    Kind = "payout_completed"
	PayoutFailed       Kind = "payout_failed"
	RefundInitiated    Kind = "refund_initiated"
	RefundCompleted    Kind = "refund_completed"
	InvoiceIssued      Kind = "invoice_issued"
	TaskAssigned       Kind = "task_assigned"
	SubmissionReviewed Kind = "submission_reviewed"
)

type Notification struct {
	Kind        Kind           `json:"kind"`
	RecipientID string         `json:"recipient_id,omitempty"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id"`
	Data        map[string]any `json:"data,omitempty"`
	TS          string         `json:"ts"`
}

// Notifier delivers a notification to one channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop drops everything.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send delivers n and logs a failure. Notifications never fail the caller.
func Send(ctx context.Context, nt Notifier, log logrus.FieldLogger, n Notification) {
	if nt == nil {
		return
	}
	if err := nt.Notify(ctx, n); err != nil && log != nil {
		log.WithFields(logrus.Fields{
			"kind":      n.Kind,
			"entity":    n.EntityKind,
			"entity_id": n.EntityID,
		}).WithError(err).Warn("notification delivery failed")
	}
}
