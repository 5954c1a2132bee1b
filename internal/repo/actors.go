package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"maiguru/internal/domain"
)

const actorColumns = `id,role,display_name,email,created_at`

func (r Repo) InsertActor(ctx context.Context, q sqlx.ExtContext, a domain.Actor) error {
	_, err := exec(ctx, r.Q(q), `INSERT INTO actors(`+actorColumns+`) VALUES (?,?,?,?,?)`,
		a.ID, a.Role, a.DisplayName, a.Email, a.CreatedAt)
	if IsUniqueViolation(err) {
		return domain.ValidationError{Field: "id", Message: "actor " + a.ID + " already exists"}
	}
	return err
}

func (r Repo) GetActor(ctx context.Context, q sqlx.ExtContext, id string) (domain.Actor, error) {
	var a domain.Actor
	err := get(ctx, r.Q(q), &a, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id)
	return a, err
}

func (r Repo) ListActors(ctx context.Context, role domain.Role) ([]domain.Actor, error) {
	actors := []domain.Actor{}
	query := `SELECT ` + actorColumns + ` FROM actors`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	err := selectAll(ctx, r.DB, &actors, query+` ORDER BY created_at, id`, args...)
	return actors, err
}

const paymentMethodColumns = `id,expert_id,kind,recipient,is_primary,is_verified,created_at`

type paymentMethodRow struct {
	ID         string                   `db:"id"`
	ExpertID   string                   `db:"expert_id"`
	Kind       domain.PaymentMethodKind `db:"kind"`
	Recipient  string                   `db:"recipient"`
	IsPrimary  bool                     `db:"is_primary"`
	IsVerified bool                     `db:"is_verified"`
	CreatedAt  string                   `db:"created_at"`
}

func (row paymentMethodRow) toDomain() (domain.ExpertPaymentMethod, error) {
	method, err := domain.NewPayoutMethod(row.Kind, row.Recipient)
	if err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	return domain.ExpertPaymentMethod{
		ID:         row.ID,
		ExpertID:   row.ExpertID,
		Method:     method,
		IsPrimary:  row.IsPrimary,
		IsVerified: row.IsVerified,
		CreatedAt:  row.CreatedAt,
	}, nil
}

// InsertPaymentMethod stores m. When m is primary, the expert's previous
// primary method is demoted in the same statement sequence.
func (r Repo) InsertPaymentMethod(ctx context.Context, q sqlx.ExtContext, m domain.ExpertPaymentMethod) error {
	q = r.Q(q)
	if m.IsPrimary {
		if _, err := exec(ctx, q, `UPDATE expert_payment_methods SET is_primary=? WHERE expert_id=?`, false, m.ExpertID); err != nil {
			return err
		}
	}
	_, err := exec(ctx, q, `INSERT INTO expert_payment_methods(`+paymentMethodColumns+`) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.ExpertID, m.Method.Kind(), m.Method.Recipient(), m.IsPrimary, m.IsVerified, m.CreatedAt)
	if IsUniqueViolation(err) {
		return domain.ValidationError{Field: "method", Message: "payment method already registered"}
	}
	return err
}

func (r Repo) GetPaymentMethod(ctx context.Context, q sqlx.ExtContext, id string) (domain.ExpertPaymentMethod, error) {
	var row paymentMethodRow
	if err := get(ctx, r.Q(q), &row, `SELECT `+paymentMethodColumns+` FROM expert_payment_methods WHERE id=?`, id); err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	return row.toDomain()
}

func (r Repo) SetPaymentMethodVerified(ctx context.Context, q sqlx.ExtContext, id string, verified bool) error {
	return execOne(ctx, r.Q(q), `UPDATE expert_payment_methods SET is_verified=? WHERE id=?`, verified, id)
}

// PrimaryVerifiedPaymentMethod returns the method payouts go to.
func (r Repo) PrimaryVerifiedPaymentMethod(ctx context.Context, q sqlx.ExtContext, expertID string) (domain.ExpertPaymentMethod, error) {
	var row paymentMethodRow
	err := get(ctx, r.Q(q), &row, `SELECT `+paymentMethodColumns+` FROM expert_payment_methods
WHERE expert_id=? AND is_primary=? AND is_verified=? LIMIT 1`, expertID, true, true)
	if err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	return row.toDomain()
}

func (r Repo) ListPaymentMethods(ctx context.Context, expertID string) ([]domain.ExpertPaymentMethod, error) {
	var rows []paymentMethodRow
	if err := selectAll(ctx, r.DB, &rows, `SELECT `+paymentMethodColumns+` FROM expert_payment_methods WHERE expert_id=? ORDER BY created_at, id`, expertID); err != nil {
		return nil, err
	}
	out := make([]domain.ExpertPaymentMethod, 0, len(rows))
	for _, row := range rows {
		m, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r Repo) CountActors(ctx context.Context, q sqlx.ExtContext) (int, error) {
	var n int
	err := get(ctx, r.Q(q), &n, `SELECT COUNT(*) FROM actors`)
	return n, err
}
