package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"maiguru/internal/domain"
)

const intentColumns = `id,task_id,client_id,amount,currency,platform_fee,payment_method,gateway_reference,status,failure_reason,completed_at,created_at,updated_at`

// InsertPaymentIntent stores p. The UNIQUE(task_id) constraint is the arbiter
// of one intent per task; a violation comes back as DuplicateError.
func (r Repo) InsertPaymentIntent(ctx context.Context, q sqlx.ExtContext, p domain.PaymentIntent) error {
	_, err := exec(ctx, r.Q(q), `INSERT INTO payment_intents(`+intentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.TaskID, p.ClientID, p.Amount, p.Currency, p.PlatformFee, p.Method, p.GatewayReference, p.Status,
		p.FailureReason, p.CompletedAt, p.CreatedAt, p.UpdatedAt)
	if IsUniqueViolation(err) {
		return domain.DuplicateError{Entity: "task", Key: p.TaskID, Err: domain.ErrDuplicateIntent}
	}
	return err
}

func (r Repo) GetPaymentIntent(ctx context.Context, q sqlx.ExtContext, id string) (domain.PaymentIntent, error) {
	var p domain.PaymentIntent
	err := get(ctx, r.Q(q), &p, `SELECT `+intentColumns+` FROM payment_intents WHERE id=?`+forUpdate(r.Q(q)), id)
	return p, err
}

func (r Repo) GetPaymentIntentByTask(ctx context.Context, q sqlx.ExtContext, taskID string) (domain.PaymentIntent, error) {
	var p domain.PaymentIntent
	err := get(ctx, r.Q(q), &p, `SELECT `+intentColumns+` FROM payment_intents WHERE task_id=?`, taskID)
	return p, err
}

func (r Repo) GetPaymentIntentByReference(ctx context.Context, q sqlx.ExtContext, reference string) (domain.PaymentIntent, error) {
	var p domain.PaymentIntent
	err := get(ctx, r.Q(q), &p, `SELECT `+intentColumns+` FROM payment_intents WHERE gateway_reference=?`, reference)
	return p, err
}

// UpdatePaymentIntent writes status-side fields. Amount and fee are fixed at creation.
func (r Repo) UpdatePaymentIntent(ctx context.Context, q sqlx.ExtContext, p domain.PaymentIntent) error {
	return execOne(ctx, r.Q(q), `UPDATE payment_intents SET gateway_reference=?, status=?, failure_reason=?, completed_at=?, updated_at=? WHERE id=?`,
		p.GatewayReference, p.Status, p.FailureReason, p.CompletedAt, p.UpdatedAt, p.ID)
}

func (r Repo) ListPaymentIntents(ctx context.Context, clientID string) ([]domain.PaymentIntent, error) {
	intents := []domain.PaymentIntent{}
	query := `SELECT ` + intentColumns + ` FROM payment_intents`
	var args []any
	if clientID != "" {
		query += ` WHERE client_id=?`
		args = append(args, clientID)
	}
	err := selectAll(ctx, r.DB, &intents, query+` ORDER BY created_at DESC, id DESC`, args...)
	return intents, err
}

const refundColumns = `id,payment_intent_id,amount,reason,status,reference,failure_reason,created_at,updated_at`

func (r Repo) InsertRefund(ctx context.Context, q sqlx.ExtContext, rf domain.Refund) error {
	_, err := exec(ctx, r.Q(q), `INSERT INTO refunds(`+refundColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		rf.ID, rf.PaymentIntentID, rf.Amount, rf.Reason, rf.Status, rf.Reference, rf.FailureReason, rf.CreatedAt, rf.UpdatedAt)
	return err
}

func (r Repo) UpdateRefund(ctx context.Context, q sqlx.ExtContext, rf domain.Refund) error {
	return execOne(ctx, r.Q(q), `UPDATE refunds SET status=?, reference=?, failure_reason=?, updated_at=? WHERE id=?`,
		rf.Status, rf.Reference, rf.FailureReason, rf.UpdatedAt, rf.ID)
}

func (r Repo) ListRefunds(ctx context.Context, intentID string) ([]domain.Refund, error) {
	refunds := []domain.Refund{}
	err := selectAll(ctx, r.DB, &refunds, `SELECT `+refundColumns+` FROM refunds WHERE payment_intent_id=? ORDER BY created_at, id`, intentID)
	return refunds, err
}

// RefundInFlight reports whether intentID has a refund still at the gateway.
func (r Repo) RefundInFlight(ctx context.Context, q sqlx.ExtContext, intentID string) (bool, error) {
	var n int
	if err := get(ctx, r.Q(q), &n, `SELECT COUNT(*) FROM refunds WHERE payment_intent_id=? AND status=?`, intentID, domain.RefundProcessing); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) GetRefund(ctx context.Context, q sqlx.ExtContext, id string) (domain.Refund, error) {
	var rf domain.Refund
	err := get(ctx, r.Q(q), &rf, `SELECT `+refundColumns+` FROM refunds WHERE id=?`+forUpdate(r.Q(q)), id)
	return rf, err
}
