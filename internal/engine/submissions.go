package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"maiguru/internal/domain"
	"maiguru/internal/engine/auth"
	"maiguru/internal/events"
	"maiguru/internal/notify"
	"maiguru/internal/pricing"
	"maiguru/internal/repo"
)

// CreateSubmission records delivered work. The task must be in_progress or
// revision_needed with no pending submission; a resubmission moves
// revision_needed back to in_progress.
func (e Engine) CreateSubmission(ctx context.Context, taskID, content, actorID string) (domain.Submission, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Submission{}, domain.ValidationError{Field: "content", Message: "content is required"}
	}
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	caller, err := e.actor(ctx, tx, actorID, auth.ActionCreateSubmission)
	if err != nil {
		return domain.Submission{}, err
	}
	t, err := e.Repo.GetTaskForUpdate(ctx, tx, taskID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := auth.Check(caller, auth.ActionCreateSubmission, auth.ForTask(t)); err != nil {
		return domain.Submission{}, err
	}
	if t.Status != domain.TaskInProgress && t.Status != domain.TaskRevisionNeeded {
		return domain.Submission{}, domain.PreconditionError{Entity: "task", ID: t.ID, Message: "submissions need status in_progress or revision_needed, task is " + t.Status}
	}
	if _, err := e.Repo.PendingSubmission(ctx, tx, t.ID); err == nil {
		return domain.Submission{}, domain.DuplicateError{Entity: "task", Key: t.ID, Err: domain.ErrPendingSubmission}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Submission{}, err
	}
	now := e.ts()
	if t.Status == domain.TaskRevisionNeeded {
		if err := ensureTaskTransition(t, domain.TaskInProgress); err != nil {
			return domain.Submission{}, err
		}
		from := t.Status
		t.Status = domain.TaskInProgress
		t.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return domain.Submission{}, err
		}
		if err := e.journal().StatusChange(ctx, tx, "task", t.ID, caller.ID, from, t.Status, events.EventPayload{"action": "resubmit"}); err != nil {
			return domain.Submission{}, err
		}
	}
	s := domain.Submission{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		ExpertID:  caller.ID,
		Content:   content,
		Status:    domain.SubmissionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertSubmission(ctx, tx, s); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Submission{}, domain.DuplicateError{Entity: "task", Key: t.ID, Err: domain.ErrPendingSubmission}
		}
		return domain.Submission{}, err
	}
	if err := e.journal().Append(ctx, tx, "submission.created", "submission", s.ID, caller.ID, events.EventPayload{"task_id": t.ID}); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	return s, nil
}

// reviewOutcome maps a submission verdict to the task status it causes.
var reviewOutcome = map[string]string{
	domain.SubmissionAccepted: domain.TaskCompleted,
	domain.SubmissionRejected: domain.TaskOpen,
	domain.SubmissionRevision: domain.TaskRevisionNeeded,
}

// review settles a pending submission and moves its task in one transaction.
func (e Engine) review(ctx context.Context, submissionID, verdict, feedback, actorID string, action auth.Action) (domain.Submission, domain.Task, error) {
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return domain.Submission{}, domain.Task{}, err
	}
	defer tx.Rollback()

	caller, err := e.actor(ctx, tx, actorID, action)
	if err != nil {
		return domain.Submission{}, domain.Task{}, err
	}
	s, err := e.Repo.GetSubmission(ctx, tx, submissionID)
	if err != nil {
		return domain.Submission{}, domain.Task{}, err
	}
	t, err := e.Repo.GetTaskForUpdate(ctx, tx, s.TaskID)
	if err != nil {
		return s, domain.Task{}, err
	}
	if err := auth.Check(caller, action, auth.ForTask(t)); err != nil {
		return s, t, err
	}
	if err := ensureSubmissionTransition(s, verdict); err != nil {
		return s, t, err
	}
	to := reviewOutcome[verdict]
	if err := ensureTaskTransition(t, to); err != nil {
		return s, t, err
	}
	now := e.ts()
	s.Status = verdict
	if feedback != "" {
		s.Feedback = &feedback
	}
	s.ReviewedAt = &now
	s.UpdatedAt = now
	if err := e.Repo.UpdateSubmission(ctx, tx, s); err != nil {
		return s, t, err
	}

	from := t.Status
	extra := events.EventPayload{"action": string(action), "submission_id": s.ID}
	t.Status = to
	t.UpdatedAt = now
	if to == domain.TaskCompleted {
		// final_price is set at or before completion.
		if t.FinalPrice == nil {
			amt, source := pricing.ResolveAmount(t, e.Config)
			t.FinalPrice = &amt
			extra["final_price_source"] = source
		}
		t.CompletedAt = &now
	}
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return s, t, err
	}
	if err := e.journal().Append(ctx, tx, "submission.reviewed", "submission", s.ID, caller.ID, events.EventPayload{
		"verdict": verdict,
		"task_id": t.ID,
	}); err != nil {
		return s, t, err
	}
	if err := e.journal().StatusChange(ctx, tx, "task", t.ID, caller.ID, from, to, extra); err != nil {
		return s, t, err
	}
	if err := tx.Commit(); err != nil {
		return s, t, err
	}
	e.notify(ctx, notify.Notification{
		Kind:        notify.SubmissionReviewed,
		RecipientID: s.ExpertID,
		EntityKind:  "submission",
		EntityID:    s.ID,
		Data:        map[string]any{"verdict": verdict, "task_id": t.ID},
	})
	return s, t, nil
}

// AcceptResult is the outcome of accepting a submission. The review and
// completion are authoritative; InvoiceError reports a billing failure that
// did not roll them back.
type AcceptResult struct {
	Submission   domain.Submission
	Task         domain.Task
	Invoice      *domain.Invoice
	InvoiceError error
}

// AcceptSubmission accepts a pending submission, completes the task and then
// issues the invoice.
func (e Engine) AcceptSubmission(ctx context.Context, submissionID, actorID string) (AcceptResult, error) {
	s, t, err := e.review(ctx, submissionID, domain.SubmissionAccepted, "", actorID, auth.ActionReviewSubmission)
	if err != nil {
		return AcceptResult{Submission: s, Task: t}, err
	}
	res := AcceptResult{Submission: s, Task: t}
	if e.Invoices == nil {
		return res, nil
	}
	inv, err := e.Invoices.IssueInvoice(ctx, t.ID, actorID)
	if err != nil {
		e.logger().WithFields(logrus.Fields{"task_id": t.ID}).WithError(err).Warn("invoice issuance failed after completion; reconciler will retry")
		res.InvoiceError = err
		return res, nil
	}
	res.Invoice = &inv
	return res, nil
}

// CompleteTask accepts the task's pending submission.
func (e Engine) CompleteTask(ctx context.Context, taskID, actorID string) (AcceptResult, error) {
	s, err := e.pendingFor(ctx, taskID)
	if err != nil {
		return AcceptResult{}, err
	}
	return e.AcceptSubmission(ctx, s.ID, actorID)
}

// RejectSubmission rejects a pending submission and reopens the task. The
// assigned expert is kept on the reopened task.
func (e Engine) RejectSubmission(ctx context.Context, submissionID, feedback, actorID string) (domain.Submission, domain.Task, error) {
	return e.review(ctx, submissionID, domain.SubmissionRejected, strings.TrimSpace(feedback), actorID, auth.ActionReviewSubmission)
}

// RequestSubmissionRevision sends a pending submission back to the expert.
func (e Engine) RequestSubmissionRevision(ctx context.Context, submissionID, feedback, actorID string) (domain.Submission, domain.Task, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return domain.Submission{}, domain.Task{}, domain.ValidationError{Field: "feedback", Message: "feedback is required for a revision request"}
	}
	return e.review(ctx, submissionID, domain.SubmissionRevision, feedback, actorID, auth.ActionReviewSubmission)
}

// RequestRevision is the task-level revision request; staff may issue it too.
func (e Engine) RequestRevision(ctx context.Context, taskID, feedback, actorID string) (domain.Task, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return domain.Task{}, domain.ValidationError{Field: "feedback", Message: "feedback is required for a revision request"}
	}
	s, err := e.pendingFor(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	_, t, err := e.review(ctx, s.ID, domain.SubmissionRevision, feedback, actorID, auth.ActionRequestRevision)
	return t, err
}

func (e Engine) pendingFor(ctx context.Context, taskID string) (domain.Submission, error) {
	s, err := e.Repo.PendingSubmission(ctx, nil, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		if _, terr := e.Repo.GetTask(ctx, nil, taskID); terr != nil {
			return domain.Submission{}, terr
		}
		return domain.Submission{}, domain.PreconditionError{Entity: "task", ID: taskID, Message: "no pending submission"}
	}
	return s, err
}

// ListSubmissions returns a task's submissions to a party of the task.
func (e Engine) ListSubmissions(ctx context.Context, taskID, actorID string) ([]domain.Submission, error) {
	if _, err := e.GetTask(ctx, taskID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListSubmissions(ctx, taskID)
}
