package repo

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"maiguru/internal/domain"
)

const taskColumns = `id,client_id,assigned_expert_id,title,description,category,complexity,budget_tier,deadline,status,
estimated_price,ai_suggested_price,final_price,assigned_at,completed_at,created_at,updated_at`

func (r Repo) InsertTask(ctx context.Context, q sqlx.ExtContext, t domain.Task) error {
	_, err := exec(ctx, r.Q(q), `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ClientID, t.AssignedExpertID, t.Title, t.Description, t.Category, t.Complexity, t.BudgetTier, t.Deadline, t.Status,
		t.EstimatedPrice, t.AISuggestedPrice, t.FinalPrice, t.AssignedAt, t.CompletedAt, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, q sqlx.ExtContext, id string) (domain.Task, error) {
	var t domain.Task
	err := get(ctx, r.Q(q), &t, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return t, err
}

// GetTaskForUpdate reads a task and locks its row for the rest of tx.
func (r Repo) GetTaskForUpdate(ctx context.Context, tx sqlx.ExtContext, id string) (domain.Task, error) {
	var t domain.Task
	err := get(ctx, tx, &t, `SELECT `+taskColumns+` FROM tasks WHERE id=?`+forUpdate(tx), id)
	return t, err
}

// UpdateTask writes the mutable lifecycle fields of t.
func (r Repo) UpdateTask(ctx context.Context, q sqlx.ExtContext, t domain.Task) error {
	return execOne(ctx, r.Q(q), `UPDATE tasks SET assigned_expert_id=?, status=?, final_price=?, assigned_at=?, completed_at=?, updated_at=? WHERE id=?`,
		t.AssignedExpertID, t.Status, t.FinalPrice, t.AssignedAt, t.CompletedAt, t.UpdatedAt, t.ID)
}

type TaskFilter struct {
	ClientID string
	ExpertID string
	Status   string
	Limit    int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.ExpertID != "" {
		clauses = append(clauses, "assigned_expert_id=?")
		args = append(args, f.ExpertID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	tasks := []domain.Task{}
	err := selectAll(ctx, r.DB, &tasks, query, args...)
	return tasks, err
}

// CompletedTasksWithoutInvoice feeds the invoice reconciler.
func (r Repo) CompletedTasksWithoutInvoice(ctx context.Context, limit int) ([]domain.Task, error) {
	query := `SELECT ` + prefixed("t.", taskColumns) + ` FROM tasks t
LEFT JOIN invoices i ON i.task_id = t.id
WHERE t.status = ? AND i.id IS NULL
ORDER BY t.completed_at`
	args := []any{domain.TaskCompleted}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	tasks := []domain.Task{}
	err := selectAll(ctx, r.DB, &tasks, query, args...)
	return tasks, err
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ",")
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryxContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
