package repo

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"

	"maiguru/internal/domain"
)

const invoiceColumns = `id,task_id,client_id,invoice_number,amount,currency,status,due_date,line_items_json,needs_reconciliation,created_at,updated_at`

type invoiceRow struct {
	domain.Invoice
	LineItemsJSON string `db:"line_items_json"`
}

func (row invoiceRow) toDomain() (domain.Invoice, error) {
	inv := row.Invoice
	inv.LineItems = []domain.LineItem{}
	if row.LineItemsJSON != "" {
		if err := json.Unmarshal([]byte(row.LineItemsJSON), &inv.LineItems); err != nil {
			return inv, err
		}
	}
	return inv, nil
}

// InsertInvoice stores inv. A second invoice for the same task surfaces as
// DuplicateError wrapping ErrDuplicateInvoice; an invoice number collision is
// returned as ErrInvoiceNumberTaken so the caller can draw a new number.
func (r Repo) InsertInvoice(ctx context.Context, q sqlx.ExtContext, inv domain.Invoice) error {
	items, err := json.Marshal(inv.LineItems)
	if err != nil {
		return err
	}
	_, err = exec(ctx, r.Q(q), `INSERT INTO invoices(`+invoiceColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		inv.ID, inv.TaskID, inv.ClientID, inv.InvoiceNumber, inv.Amount, inv.Currency, inv.Status, inv.DueDate,
		string(items), inv.NeedsReconciliation, inv.CreatedAt, inv.UpdatedAt)
	switch {
	case uniqueViolationOn(err, "invoice_number"):
		return ErrInvoiceNumberTaken
	case IsUniqueViolation(err):
		return domain.DuplicateError{Entity: "task", Key: inv.TaskID, Err: domain.ErrDuplicateInvoice}
	}
	return err
}

var ErrInvoiceNumberTaken = errors.New("invoice number already taken")

func (r Repo) InvoiceNumberExists(ctx context.Context, q sqlx.ExtContext, number string) (bool, error) {
	var n int
	if err := get(ctx, r.Q(q), &n, `SELECT COUNT(*) FROM invoices WHERE invoice_number=?`, number); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) GetInvoiceByTask(ctx context.Context, q sqlx.ExtContext, taskID string) (domain.Invoice, error) {
	var row invoiceRow
	if err := get(ctx, r.Q(q), &row, `SELECT `+invoiceColumns+` FROM invoices WHERE task_id=?`, taskID); err != nil {
		return domain.Invoice{}, err
	}
	return row.toDomain()
}

func (r Repo) GetInvoice(ctx context.Context, q sqlx.ExtContext, id string) (domain.Invoice, error) {
	var row invoiceRow
	if err := get(ctx, r.Q(q), &row, `SELECT `+invoiceColumns+` FROM invoices WHERE id=?`, id); err != nil {
		return domain.Invoice{}, err
	}
	return row.toDomain()
}

func (r Repo) UpdateInvoice(ctx context.Context, q sqlx.ExtContext, inv domain.Invoice) error {
	return execOne(ctx, r.Q(q), `UPDATE invoices SET status=?, needs_reconciliation=?, updated_at=? WHERE id=?`,
		inv.Status, inv.NeedsReconciliation, inv.UpdatedAt, inv.ID)
}

func (r Repo) ListInvoices(ctx context.Context, clientID string) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	var args []any
	if clientID != "" {
		query += ` WHERE client_id=?`
		args = append(args, clientID)
	}
	var rows []invoiceRow
	if err := selectAll(ctx, r.DB, &rows, query+` ORDER BY created_at DESC, id DESC`, args...); err != nil {
		return nil, err
	}
	out := make([]domain.Invoice, 0, len(rows))
	for _, row := range rows {
		inv, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}
