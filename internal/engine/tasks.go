package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"maiguru/internal/config"
	"maiguru/internal/domain"
	"maiguru/internal/engine/auth"
	"maiguru/internal/events"
	"maiguru/internal/notify"
	"maiguru/internal/pricing"
	"maiguru/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID             string
	ClientID       string
	Title          string
	Description    string
	Category       string
	Complexity     string
	BudgetTier     string
	Deadline       string
	EstimatedPrice *decimal.Decimal
	ActorID        string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, domain.ValidationError{Field: "title", Message: "title is required"}
	}
	if !config.IsBudgetTier(opts.BudgetTier) {
		return domain.Task{}, domain.ValidationError{Field: "budget_tier", Message: "must be one of " + strings.Join(config.BudgetTiers, ", ")}
	}
	var deadline *string
	if opts.Deadline != "" {
		d, err := time.Parse(time.RFC3339, opts.Deadline)
		if err != nil {
			return domain.Task{}, domain.ValidationError{Field: "deadline", Message: "must be RFC3339"}
		}
		if !d.After(e.now()) {
			return domain.Task{}, domain.ValidationError{Field: "deadline", Message: "deadline is in the past"}
		}
		s := d.UTC().Format(time.RFC3339)
		deadline = &s
	}
	if opts.EstimatedPrice != nil {
		if err := validateAmount("estimated_price", *opts.EstimatedPrice); err != nil {
			return domain.Task{}, err
		}
	}
	caller, err := e.actor(ctx, nil, opts.ActorID, auth.ActionCreateTask)
	if err != nil {
		return domain.Task{}, err
	}
	if err := auth.Check(caller, auth.ActionCreateTask, auth.Target{}); err != nil {
		return domain.Task{}, err
	}
	if opts.ClientID == "" {
		opts.ClientID = caller.ID
	}
	if caller.Role == domain.RoleClient && opts.ClientID != caller.ID {
		return domain.Task{}, auth.UnauthorizedError{ActorID: caller.ID, Action: auth.ActionCreateTask, Reason: "clients create tasks for themselves"}
	}
	if caller.Role == domain.RoleAdmin && opts.ClientID != caller.ID {
		client, err := e.Repo.GetActor(ctx, nil, opts.ClientID)
		if err != nil {
			return domain.Task{}, err
		}
		if client.Role != domain.RoleClient {
			return domain.Task{}, domain.ValidationError{Field: "client_id", Message: "actor " + client.ID + " is not a client"}
		}
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	suggested := pricing.Suggest(ctx, e.Pricing, pricing.Quote{
		Title:       opts.Title,
		Description: opts.Description,
		Category:    opts.Category,
		Complexity:  opts.Complexity,
		BudgetTier:  opts.BudgetTier,
	}, e.logger())

	now := e.ts()
	t := domain.Task{
		ID:               opts.ID,
		ClientID:         opts.ClientID,
		Title:            opts.Title,
		Description:      opts.Description,
		Category:         opts.Category,
		Complexity:       opts.Complexity,
		BudgetTier:       opts.BudgetTier,
		Deadline:         deadline,
		Status:           domain.TaskOpen,
		EstimatedPrice:   opts.EstimatedPrice,
		AISuggestedPrice: suggested,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Task{}, domain.ValidationError{Field: "id", Message: "task " + t.ID + " already exists"}
		}
		return domain.Task{}, err
	}
	if err := e.journal().Append(ctx, tx, "task.created", "task", t.ID, caller.ID, events.EventPayload{
		"title":       t.Title,
		"status":      t.Status,
		"budget_tier": t.BudgetTier,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func validateAmount(field string, amt decimal.Decimal) error {
	if !amt.IsPositive() {
		return domain.ValidationError{Field: field, Message: "amount must be positive"}
	}
	if !domain.RoundMoney(amt).Equal(amt) {
		return domain.ValidationError{Field: field, Message: "amount has more than two decimal places"}
	}
	return nil
}

// transitionTask applies one lifecycle edge under a row lock. mutate runs
// after the actor and transition checks and may refuse with an error.
func (e Engine) transitionTask(ctx context.Context, taskID, actorID string, action auth.Action, to string,
	mutate func(tx *sqlx.Tx, t *domain.Task) error) (domain.Task, error) {
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	caller, err := e.actor(ctx, tx, actorID, action)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTaskForUpdate(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := auth.Check(caller, action, auth.ForTask(t)); err != nil {
		return t, err
	}
	if err := ensureTaskTransition(t, to); err != nil {
		return t, err
	}
	from := t.Status
	if mutate != nil {
		if err := mutate(tx, &t); err != nil {
			return t, err
		}
	}
	t.Status = to
	t.UpdatedAt = e.ts()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.journal().StatusChange(ctx, tx, "task", t.ID, caller.ID, from, to, events.EventPayload{"action": string(action)}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// AssignExpert moves open -> assigned. A second assignment fails with
// InvalidTransitionError.
func (e Engine) AssignExpert(ctx context.Context, taskID, expertID, actorID string) (domain.Task, error) {
	if strings.TrimSpace(expertID) == "" {
		return domain.Task{}, domain.ValidationError{Field: "expert_id", Message: "expert is required"}
	}
	t, err := e.transitionTask(ctx, taskID, actorID, auth.ActionAssignExpert, domain.TaskAssigned, func(tx *sqlx.Tx, t *domain.Task) error {
		expert, err := e.Repo.GetActor(ctx, tx, expertID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ValidationError{Field: "expert_id", Message: "unknown actor " + expertID}
		}
		if err != nil {
			return err
		}
		if err := auth.RequireRole(expert, auth.ActionAssignExpert, domain.RoleExpert); err != nil {
			return domain.ValidationError{Field: "expert_id", Message: "actor " + expertID + " is not an expert"}
		}
		now := e.ts()
		t.AssignedExpertID = &expert.ID
		t.AssignedAt = &now
		return nil
	})
	if err != nil {
		return t, err
	}
	e.notify(ctx, notify.Notification{
		Kind:        notify.TaskAssigned,
		RecipientID: expertID,
		EntityKind:  "task",
		EntityID:    t.ID,
		Data:        map[string]any{"title": t.Title},
	})
	return t, nil
}

// StartWork moves assigned -> in_progress. Assigned expert only.
func (e Engine) StartWork(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.transitionTask(ctx, taskID, actorID, auth.ActionStartWork, domain.TaskInProgress, nil)
}

// MarkForReview moves in_progress -> review once a submission is waiting.
func (e Engine) MarkForReview(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.transitionTask(ctx, taskID, actorID, auth.ActionMarkForReview, domain.TaskReview, func(tx *sqlx.Tx, t *domain.Task) error {
		_, err := e.Repo.PendingSubmission(ctx, tx, t.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.PreconditionError{Entity: "task", ID: t.ID, Message: "no pending submission to review"}
		}
		return err
	})
}

// CancelTask moves any non-terminal task to cancelled and releases the expert.
func (e Engine) CancelTask(ctx context.Context, taskID, reason, actorID string) (domain.Task, error) {
	var expertID string
	t, err := e.transitionTask(ctx, taskID, actorID, auth.ActionCancelTask, domain.TaskCancelled, func(tx *sqlx.Tx, t *domain.Task) error {
		expertID = t.ExpertID()
		t.AssignedExpertID = nil
		return e.journal().Append(ctx, tx, "task.cancelled", "task", t.ID, actorID, events.EventPayload{
			"reason":    reason,
			"expert_id": expertID,
		})
	})
	if err != nil {
		return t, err
	}
	e.logger().WithFields(logrus.Fields{"task_id": t.ID, "expert_id": expertID}).Info("task cancelled")
	return t, nil
}

// PriceTask fixes the final price. It can be set once, before completion.
func (e Engine) PriceTask(ctx context.Context, taskID string, amount decimal.Decimal, actorID string) (domain.Task, error) {
	if err := validateAmount("final_price", amount); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	caller, err := e.actor(ctx, tx, actorID, auth.ActionPriceTask)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTaskForUpdate(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := auth.Check(caller, auth.ActionPriceTask, auth.ForTask(t)); err != nil {
		return t, err
	}
	if t.IsTerminal() {
		return t, domain.PreconditionError{Entity: "task", ID: t.ID, Message: "task is " + t.Status}
	}
	if t.FinalPrice != nil {
		return t, domain.PreconditionError{Entity: "task", ID: t.ID, Message: "final price already set to " + t.FinalPrice.StringFixed(domain.MinorUnits)}
	}
	t.FinalPrice = &amount
	t.UpdatedAt = e.ts()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.journal().Append(ctx, tx, "task.priced", "task", t.ID, caller.ID, events.EventPayload{
		"final_price": amount.StringFixed(domain.MinorUnits),
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// GetTask returns a task visible to the actor.
func (e Engine) GetTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	caller, err := e.actor(ctx, nil, actorID, auth.ActionViewTask)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, nil, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := auth.Check(caller, auth.ActionViewTask, auth.ForTask(t)); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ListTasks scopes the filter to what the actor may see.
func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilter, actorID string) ([]domain.Task, error) {
	caller, err := e.actor(ctx, nil, actorID, auth.ActionViewTask)
	if err != nil {
		return nil, err
	}
	switch caller.Role {
	case domain.RoleClient:
		f.ClientID = caller.ID
	case domain.RoleExpert:
		f.ExpertID = caller.ID
	}
	return e.Repo.ListTasks(ctx, f)
}
