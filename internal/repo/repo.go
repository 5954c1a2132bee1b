package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"maiguru/internal/db"
)

// Repo is the SQL store. Every method takes the sqlx.ExtContext it should run
// on, so the same code works against *sqlx.DB and inside a *sqlx.Tx.
type Repo struct {
	DB *sqlx.DB
}

var ErrNotFound = errors.New("not found")

// Q returns q, or the pool when q is nil.
func (r Repo) Q(q sqlx.ExtContext) sqlx.ExtContext {
	if q == nil {
		return r.DB
	}
	return q
}

// BeginTx starts a write transaction.
func (r Repo) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.DB.BeginTxx(ctx, nil)
}

func get(ctx context.Context, q sqlx.ExtContext, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func selectAll(ctx context.Context, q sqlx.ExtContext, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...)
}

func exec(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, q.Rebind(query), args...)
}

// execOne runs an update that must touch exactly one row.
func execOne(ctx context.Context, q sqlx.ExtContext, query string, args ...any) error {
	res, err := exec(ctx, q, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// forUpdate returns the row-lock suffix for the dialect. SQLite serializes
// writers with immediate transactions and needs none.
func forUpdate(q sqlx.ExtContext) string {
	if db.IsPostgres(q.DriverName()) {
		return " FOR UPDATE"
	}
	return ""
}

// IsUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint in either supported dialect.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// uniqueViolationOn narrows IsUniqueViolation to a column name, used where a
// table has more than one unique key.
func uniqueViolationOn(err error, column string) bool {
	if !IsUniqueViolation(err) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.Contains(pqErr.Constraint, column) || strings.Contains(pqErr.Detail, "("+column+")")
	}
	return strings.Contains(err.Error(), "."+column)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
