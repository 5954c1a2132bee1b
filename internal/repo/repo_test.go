package repo

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maiguru/internal/domain"
)

func newPostgresMock(t *testing.T) (Repo, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	return Repo{DB: sqlx.NewDb(conn, "postgres")}, mock
}

func TestPostgresTaskReadLocksRow(t *testing.T) {
	r, mock := newPostgresMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id,client_id,.* FROM tasks WHERE id=\$1 FOR UPDATE`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "title", "status", "budget_tier", "final_price"}).
			AddRow("t1", "c1", "Essay", domain.TaskInProgress, "100_500", "120.50"))
	mock.ExpectRollback()

	tx, err := r.BeginTx(ctx)
	require.NoError(t, err)
	task, err := r.GetTaskForUpdate(ctx, tx, "t1")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	assert.Equal(t, domain.TaskInProgress, task.Status)
	require.NotNil(t, task.FinalPrice)
	assert.True(t, task.FinalPrice.Equal(decimal.RequireFromString("120.5")))
}

func TestPostgresPlainReadsDoNotLock(t *testing.T) {
	r, mock := newPostgresMock(t)
	mock.ExpectQuery(`(?s)SELECT .* FROM tasks WHERE id=\$1$`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := r.GetTask(context.Background(), nil, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresUniqueViolationBecomesDuplicate(t *testing.T) {
	r, mock := newPostgresMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO payment_intents(`)).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "payment_intents_task_id_key"})

	err := r.InsertPaymentIntent(context.Background(), nil, domain.PaymentIntent{
		ID:          "pi1",
		TaskID:      "t1",
		Amount:      decimal.NewFromInt(100),
		PlatformFee: decimal.NewFromInt(10),
		Method:      domain.MethodPayPal,
		Status:      domain.PaymentPending,
	})
	var dup domain.DuplicateError
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, "t1", dup.Key)
	assert.ErrorIs(t, err, domain.ErrDuplicateIntent)
}

func TestPostgresInvoiceConstraintsAreTold(t *testing.T) {
	cases := []struct {
		constraint string
		want       error
	}{
		{"invoices_invoice_number_key", ErrInvoiceNumberTaken},
		{"invoices_task_id_key", domain.ErrDuplicateInvoice},
	}
	for _, c := range cases {
		t.Run(c.constraint, func(t *testing.T) {
			r, mock := newPostgresMock(t)
			mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO invoices(`)).
				WillReturnError(&pq.Error{Code: "23505", Constraint: c.constraint})
			err := r.InsertInvoice(context.Background(), nil, domain.Invoice{ID: "i1", TaskID: "t1", InvoiceNumber: "MG-20240101-0000ABCD"})
			assert.ErrorIs(t, err, c.want)
		})
	}
}

func TestPostgresOtherErrorsPassThrough(t *testing.T) {
	r, mock := newPostgresMock(t)
	fk := &pq.Error{Code: "23503", Constraint: "payouts_payment_intent_id_fkey"}
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO payouts(`)).WillReturnError(fk)

	err := r.InsertPayout(context.Background(), nil, domain.Payout{
		ID:              "po1",
		PaymentIntentID: "missing",
		Amount:          decimal.NewFromInt(90),
		Method:          domain.Wise{AccountID: "acc-1"},
		Status:          domain.PayoutPending,
	})
	assert.False(t, IsUniqueViolation(err))
	var pqErr *pq.Error
	assert.True(t, errors.As(err, &pqErr))
}

func TestUpdateMissingRowIsNotFound(t *testing.T) {
	r, mock := newPostgresMock(t)
	mock.ExpectExec(`UPDATE tasks SET .* WHERE id=\$7`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := r.UpdateTask(context.Background(), nil, domain.Task{ID: "ghost", Status: domain.TaskOpen})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteConstraintMessageFallback(t *testing.T) {
	err := errors.New("constraint failed: UNIQUE constraint failed: invoices.invoice_number (2067)")
	assert.True(t, IsUniqueViolation(err))
	assert.True(t, uniqueViolationOn(err, "invoice_number"))
	assert.False(t, uniqueViolationOn(err, "task_id"))
	assert.False(t, IsUniqueViolation(nil))
}

func TestHashAPIKeyIsStable(t *testing.T) {
	a := HashAPIKey("mg_secret")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashAPIKey("mg_secret"))
	assert.NotEqual(t, a, HashAPIKey("mg_other"))
}
