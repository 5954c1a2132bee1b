package repo

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"maiguru/internal/domain"
)

const payoutColumns = `id,expert_id,payment_intent_id,amount,currency,method_kind,recipient,gateway_reference,status,failure_reason,processed_at,created_at,updated_at`

type payoutRow struct {
	ID               string                   `db:"id"`
	ExpertID         string                   `db:"expert_id"`
	PaymentIntentID  string                   `db:"payment_intent_id"`
	Amount           decimal.Decimal          `db:"amount"`
	Currency         string                   `db:"currency"`
	MethodKind       domain.PaymentMethodKind `db:"method_kind"`
	Recipient        string                   `db:"recipient"`
	GatewayReference *string                  `db:"gateway_reference"`
	Status           string                   `db:"status"`
	FailureReason    *string                  `db:"failure_reason"`
	ProcessedAt      *string                  `db:"processed_at"`
	CreatedAt        string                   `db:"created_at"`
	UpdatedAt        string                   `db:"updated_at"`
}

func (row payoutRow) toDomain() (domain.Payout, error) {
	method, err := domain.NewPayoutMethod(row.MethodKind, row.Recipient)
	if err != nil {
		return domain.Payout{}, err
	}
	return domain.Payout{
		ID:               row.ID,
		ExpertID:         row.ExpertID,
		PaymentIntentID:  row.PaymentIntentID,
		Amount:           row.Amount,
		Currency:         row.Currency,
		Method:           method,
		GatewayReference: row.GatewayReference,
		Status:           row.Status,
		FailureReason:    row.FailureReason,
		ProcessedAt:      row.ProcessedAt,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}, nil
}

// InsertPayout stores p; UNIQUE(payment_intent_id) makes a second payout for
// the same intent a DuplicateError.
func (r Repo) InsertPayout(ctx context.Context, q sqlx.ExtContext, p domain.Payout) error {
	_, err := exec(ctx, r.Q(q), `INSERT INTO payouts(`+payoutColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ExpertID, p.PaymentIntentID, p.Amount, p.Currency, p.Method.Kind(), p.Method.Recipient(), p.GatewayReference,
		p.Status, p.FailureReason, p.ProcessedAt, p.CreatedAt, p.UpdatedAt)
	if IsUniqueViolation(err) {
		return domain.DuplicateError{Entity: "payment_intent", Key: p.PaymentIntentID, Err: domain.ErrDuplicatePayout}
	}
	return err
}

func (r Repo) getPayout(ctx context.Context, q sqlx.ExtContext, where string, arg any) (domain.Payout, error) {
	var row payoutRow
	if err := get(ctx, q, &row, `SELECT `+payoutColumns+` FROM payouts WHERE `+where+`=?`+forUpdate(q), arg); err != nil {
		return domain.Payout{}, err
	}
	return row.toDomain()
}

func (r Repo) GetPayout(ctx context.Context, q sqlx.ExtContext, id string) (domain.Payout, error) {
	return r.getPayout(ctx, r.Q(q), "id", id)
}

func (r Repo) GetPayoutByIntent(ctx context.Context, q sqlx.ExtContext, intentID string) (domain.Payout, error) {
	return r.getPayout(ctx, r.Q(q), "payment_intent_id", intentID)
}

func (r Repo) GetPayoutByReference(ctx context.Context, q sqlx.ExtContext, reference string) (domain.Payout, error) {
	return r.getPayout(ctx, r.Q(q), "gateway_reference", reference)
}

func (r Repo) UpdatePayout(ctx context.Context, q sqlx.ExtContext, p domain.Payout) error {
	return execOne(ctx, r.Q(q), `UPDATE payouts SET gateway_reference=?, status=?, failure_reason=?, processed_at=?, updated_at=? WHERE id=?`,
		p.GatewayReference, p.Status, p.FailureReason, p.ProcessedAt, p.UpdatedAt, p.ID)
}

func (r Repo) ListPayouts(ctx context.Context, expertID string) ([]domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts`
	var args []any
	if expertID != "" {
		query += ` WHERE expert_id=?`
		args = append(args, expertID)
	}
	var rows []payoutRow
	if err := selectAll(ctx, r.DB, &rows, query+` ORDER BY created_at DESC, id DESC`, args...); err != nil {
		return nil, err
	}
	out := make([]domain.Payout, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// UnbackedPayouts lists payouts whose payment intent is neither completed nor
// refunded. A healthy ledger returns none.
func (r Repo) UnbackedPayouts(ctx context.Context) ([]domain.Payout, error) {
	var rows []payoutRow
	err := selectAll(ctx, r.DB, &rows, `SELECT `+prefixed("p.", payoutColumns)+` FROM payouts p
JOIN payment_intents i ON i.id = p.payment_intent_id
WHERE i.status <> ? AND i.status <> ?`, domain.PaymentCompleted, domain.PaymentRefunded)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Payout, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
