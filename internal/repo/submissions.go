package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"maiguru/internal/domain"
)

const submissionColumns = `id,task_id,expert_id,content,status,feedback,reviewed_at,created_at,updated_at`

// InsertSubmission stores s. A second pending submission for the same task
// violates submissions_one_pending and is reported by IsUniqueViolation.
func (r Repo) InsertSubmission(ctx context.Context, q sqlx.ExtContext, s domain.Submission) error {
	_, err := exec(ctx, r.Q(q), `INSERT INTO submissions(`+submissionColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TaskID, s.ExpertID, s.Content, s.Status, s.Feedback, s.ReviewedAt, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSubmission(ctx context.Context, q sqlx.ExtContext, id string) (domain.Submission, error) {
	var s domain.Submission
	err := get(ctx, r.Q(q), &s, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`+forUpdate(r.Q(q)), id)
	return s, err
}

func (r Repo) UpdateSubmission(ctx context.Context, q sqlx.ExtContext, s domain.Submission) error {
	return execOne(ctx, r.Q(q), `UPDATE submissions SET status=?, feedback=?, reviewed_at=?, updated_at=? WHERE id=?`,
		s.Status, s.Feedback, s.ReviewedAt, s.UpdatedAt, s.ID)
}

// PendingSubmission returns the task's pending submission, if any.
func (r Repo) PendingSubmission(ctx context.Context, q sqlx.ExtContext, taskID string) (domain.Submission, error) {
	var s domain.Submission
	err := get(ctx, r.Q(q), &s, `SELECT `+submissionColumns+` FROM submissions WHERE task_id=? AND status=? LIMIT 1`, taskID, domain.SubmissionPending)
	return s, err
}

func (r Repo) CountSubmissions(ctx context.Context, q sqlx.ExtContext, taskID string) (int, error) {
	var n int
	err := get(ctx, r.Q(q), &n, `SELECT COUNT(*) FROM submissions WHERE task_id=?`, taskID)
	return n, err
}

func (r Repo) ListSubmissions(ctx context.Context, taskID string) ([]domain.Submission, error) {
	subs := []domain.Submission{}
	err := selectAll(ctx, r.DB, &subs, `SELECT `+submissionColumns+` FROM submissions WHERE task_id=? ORDER BY created_at, id`, taskID)
	return subs, err
}
