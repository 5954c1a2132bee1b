package domain

import (
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleClient Role = "client"
	RoleExpert Role = "expert"
	RoleAdmin  Role = "admin"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleClient, RoleExpert, RoleAdmin:
		return Role(s), nil
	}
	return "", ValidationError{Field: "role", Message: "must be one of client, expert, admin"}
}

type Actor struct {
	ID          string `json:"id" db:"id"`
	Role        Role   `json:"role" db:"role"`
	DisplayName string `json:"display_name" db:"display_name"`
	Email       string `json:"email" db:"email"`
	CreatedAt   string `json:"created_at" db:"created_at"`
}

type APIKey struct {
	ID        string `json:"id" db:"id"`
	ActorID   string `json:"actor_id" db:"actor_id"`
	Name      string `json:"name,omitempty" db:"name"`
	KeyHash   string `json:"-" db:"key_hash"`
	CreatedAt string `json:"created_at" db:"created_at"`
}

// Task statuses.
const (
	TaskOpen           = "open"
	TaskAssigned       = "assigned"
	TaskInProgress     = "in_progress"
	TaskRevisionNeeded = "revision_needed"
	TaskReview         = "review"
	TaskCompleted      = "completed"
	TaskCancelled      = "cancelled"
)

type Task struct {
	ID               string           `json:"id" db:"id"`
	ClientID         string           `json:"client_id" db:"client_id"`
	AssignedExpertID *string          `json:"assigned_expert_id,omitempty" db:"assigned_expert_id"`
	Title            string           `json:"title" db:"title"`
	Description      string           `json:"description,omitempty" db:"description"`
	Category         string           `json:"category" db:"category"`
	Complexity       string           `json:"complexity" db:"complexity"`
	BudgetTier       string           `json:"budget_tier" db:"budget_tier"`
	Deadline         *string          `json:"deadline,omitempty" db:"deadline"`
	Status           string           `json:"status" db:"status"`
	EstimatedPrice   *decimal.Decimal `json:"estimated_price,omitempty" db:"estimated_price"`
	AISuggestedPrice *decimal.Decimal `json:"ai_suggested_price,omitempty" db:"ai_suggested_price"`
	FinalPrice       *decimal.Decimal `json:"final_price,omitempty" db:"final_price"`
	AssignedAt       *string          `json:"assigned_at,omitempty" db:"assigned_at"`
	CompletedAt      *string          `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt        string           `json:"created_at" db:"created_at"`
	UpdatedAt        string           `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether no further lifecycle transition is possible.
func (t Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskCancelled
}

// ExpertID returns the assigned expert or "".
func (t Task) ExpertID() string {
	if t.AssignedExpertID == nil {
		return ""
	}
	return *t.AssignedExpertID
}

// Submission statuses.
const (
	SubmissionPending  = "pending"
	SubmissionAccepted = "accepted"
	SubmissionRejected = "rejected"
	SubmissionRevision = "revision"
)

type Submission struct {
	ID         string  `json:"id" db:"id"`
	TaskID     string  `json:"task_id" db:"task_id"`
	ExpertID   string  `json:"expert_id" db:"expert_id"`
	Content    string  `json:"content" db:"content"`
	Status     string  `json:"status" db:"status"`
	Feedback   *string `json:"feedback,omitempty" db:"feedback"`
	ReviewedAt *string `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt  string  `json:"created_at" db:"created_at"`
	UpdatedAt  string  `json:"updated_at" db:"updated_at"`
}

// PaymentIntent statuses.
const (
	PaymentPending    = "pending"
	PaymentProcessing = "processing"
	PaymentCompleted  = "completed"
	PaymentFailed     = "failed"
	PaymentCancelled  = "cancelled"
	PaymentRefunded   = "refunded"
)

type PaymentIntent struct {
	ID               string            `json:"id" db:"id"`
	TaskID           string            `json:"task_id" db:"task_id"`
	ClientID         string            `json:"client_id" db:"client_id"`
	Amount           decimal.Decimal   `json:"amount" db:"amount"`
	Currency         string            `json:"currency" db:"currency"`
	PlatformFee      decimal.Decimal   `json:"platform_fee" db:"platform_fee"`
	Method           PaymentMethodKind `json:"payment_method" db:"payment_method"`
	GatewayReference *string           `json:"gateway_reference,omitempty" db:"gateway_reference"`
	Status           string            `json:"status" db:"status"`
	FailureReason    *string           `json:"failure_reason,omitempty" db:"failure_reason"`
	CompletedAt      *string           `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt        string            `json:"created_at" db:"created_at"`
	UpdatedAt        string            `json:"updated_at" db:"updated_at"`
}

// ExpertPayoutAmount is always derived from the stored amount and fee.
func (p PaymentIntent) ExpertPayoutAmount() decimal.Decimal {
	return p.Amount.Sub(p.PlatformFee)
}

// Invoice statuses.
const (
	InvoiceDraft     = "draft"
	InvoiceSent      = "sent"
	InvoicePaid      = "paid"
	InvoiceOverdue   = "overdue"
	InvoiceCancelled = "cancelled"
)

type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type Invoice struct {
	ID                  string          `json:"id" db:"id"`
	TaskID              string          `json:"task_id" db:"task_id"`
	ClientID            string          `json:"client_id" db:"client_id"`
	InvoiceNumber       string          `json:"invoice_number" db:"invoice_number"`
	Amount              decimal.Decimal `json:"amount" db:"amount"`
	Currency            string          `json:"currency" db:"currency"`
	Status              string          `json:"status" db:"status"`
	DueDate             string          `json:"due_date" db:"due_date"`
	LineItems           []LineItem      `json:"line_items" db:"-"`
	NeedsReconciliation bool            `json:"needs_reconciliation" db:"needs_reconciliation"`
	CreatedAt           string          `json:"created_at" db:"created_at"`
	UpdatedAt           string          `json:"updated_at" db:"updated_at"`
}

// Payout statuses.
const (
	PayoutPending    = "pending"
	PayoutProcessing = "processing"
	PayoutCompleted  = "completed"
	PayoutFailed     = "failed"
)

type Payout struct {
	ID               string          `json:"id"`
	ExpertID         string          `json:"expert_id"`
	PaymentIntentID  string          `json:"payment_intent_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Method           PayoutMethod    `json:"payout_method"`
	GatewayReference *string         `json:"gateway_reference,omitempty"`
	Status           string          `json:"status"`
	FailureReason    *string         `json:"failure_reason,omitempty"`
	ProcessedAt      *string         `json:"processed_at,omitempty"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
}

type ExpertPaymentMethod struct {
	ID         string       `json:"id"`
	ExpertID   string       `json:"expert_id"`
	Method     PayoutMethod `json:"method"`
	IsPrimary  bool         `json:"is_primary"`
	IsVerified bool         `json:"is_verified"`
	CreatedAt  string       `json:"created_at"`
}

// Refund statuses.
const (
	RefundProcessing = "processing"
	RefundCompleted  = "completed"
	RefundFailed     = "failed"
)

type Refund struct {
	ID              string          `json:"id" db:"id"`
	PaymentIntentID string          `json:"payment_intent_id" db:"payment_intent_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Reason          string          `json:"reason" db:"reason"`
	Status          string          `json:"status" db:"status"`
	Reference       *string         `json:"reference,omitempty" db:"reference"`
	FailureReason   *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt       string          `json:"created_at" db:"created_at"`
	UpdatedAt       string          `json:"updated_at" db:"updated_at"`
}

type Event struct {
	ID         int64  `json:"id" db:"id"`
	TS         string `json:"ts" db:"ts"`
	Type       string `json:"type" db:"type"`
	EntityKind string `json:"entity_kind" db:"entity_kind"`
	EntityID   string `json:"entity_id" db:"entity_id"`
	ActorID    string `json:"actor_id" db:"actor_id"`
	Payload    string `json:"payload" db:"payload_json"`
}
