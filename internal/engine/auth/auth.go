package auth

import (
	"fmt"

	"maiguru/internal/domain"
)

// Action names an operation subject to a capability check.
type Action string

const (
	ActionManageActors        Action = "actor.manage"
	ActionAddPaymentMethod    Action = "payment_method.add"
	ActionVerifyPaymentMethod Action = "payment_method.verify"
	ActionCreateTask          Action = "task.create"
	ActionViewTask            Action = "task.view"
	ActionAssignExpert        Action = "task.assign"
	ActionStartWork           Action = "task.start"
	ActionMarkForReview       Action = "task.review"
	ActionRequestRevision     Action = "task.request_revision"
	ActionCancelTask          Action = "task.cancel"
	ActionPriceTask           Action = "task.price"
	ActionCreateSubmission    Action = "submission.create"
	ActionReviewSubmission    Action = "submission.review"
	ActionCreatePayment       Action = "payment.create"
	ActionChargePayment       Action = "payment.charge"
	ActionRefundPayment       Action = "payment.refund"
	ActionIssueInvoice        Action = "invoice.issue"
	ActionInitiatePayout      Action = "payout.initiate"
	ActionRetryPayout         Action = "payout.retry"
	ActionReconcile           Action = "invoice.reconcile"
	ActionViewEvents          Action = "events.view"
)

// UnauthorizedError indicates the actor lacks the role or ownership an action needs.
type UnauthorizedError struct {
	ActorID string
	Action  Action
	Reason  string
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("actor %s may not %s: %s", e.ActorID, e.Action, e.Reason)
}

// Target carries the ownership facts an action is checked against. Zero
// fields mean the action is not scoped to that party.
type Target struct {
	ClientID string
	ExpertID string
	OwnerID  string
}

// ForTask scopes a check to t.
func ForTask(t domain.Task) Target {
	return Target{ClientID: t.ClientID, ExpertID: t.ExpertID()}
}

// ForOwner scopes a check to an entity owned by ownerID.
func ForOwner(ownerID string) Target {
	return Target{OwnerID: ownerID}
}

// Check is the single capability predicate: it returns nil when actor may
// perform action on target, or an UnauthorizedError.
func Check(actor domain.Actor, action Action, target Target) error {
	deny := func(reason string) error {
		return UnauthorizedError{ActorID: actor.ID, Action: action, Reason: reason}
	}
	isAdmin := actor.Role == domain.RoleAdmin
	isClient := target.ClientID != "" && actor.Role == domain.RoleClient && actor.ID == target.ClientID
	isExpert := target.ExpertID != "" && actor.Role == domain.RoleExpert && actor.ID == target.ExpertID

	switch action {
	case ActionManageActors, ActionVerifyPaymentMethod, ActionRetryPayout, ActionRefundPayment,
		ActionInitiatePayout, ActionReconcile, ActionViewEvents:
		if isAdmin {
			return nil
		}
		return deny("admin role required")
	case ActionAddPaymentMethod:
		if isAdmin || (actor.Role == domain.RoleExpert && actor.ID == target.OwnerID) {
			return nil
		}
		return deny("only the expert or an admin may manage payment methods")
	case ActionCreateTask:
		if isAdmin || actor.Role == domain.RoleClient {
			return nil
		}
		return deny("client role required")
	case ActionViewTask:
		if isAdmin || isClient || isExpert {
			return nil
		}
		return deny("not a party to the task")
	case ActionStartWork, ActionMarkForReview, ActionCreateSubmission:
		if isExpert {
			return nil
		}
		return deny("only the assigned expert")
	case ActionReviewSubmission:
		if isClient {
			return nil
		}
		return deny("only the task's client")
	case ActionAssignExpert, ActionRequestRevision, ActionCancelTask, ActionPriceTask,
		ActionCreatePayment, ActionChargePayment, ActionIssueInvoice:
		if isAdmin || isClient {
			return nil
		}
		return deny("only the task's client or an admin")
	}
	return deny("unknown action")
}

// RequireRole checks that actor holds one of roles.
func RequireRole(actor domain.Actor, action Action, roles ...domain.Role) error {
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return UnauthorizedError{ActorID: actor.ID, Action: action, Reason: fmt.Sprintf("role %s not allowed", actor.Role)}
}
