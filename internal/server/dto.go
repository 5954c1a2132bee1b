package server

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"maiguru/internal/domain"
	"maiguru/internal/payments"
)

// Request payloads. Money travels as decimal strings.

type DevLoginRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type CreateActorRequest struct {
	ID          string `json:"id,omitempty"`
	Role        string `json:"role" enum:"client,expert,admin"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type AddPaymentMethodRequest struct {
	Kind      string `json:"kind" enum:"paypal,wise,mpesa"`
	Recipient string `json:"recipient" minLength:"1" doc:"PayPal email, Wise account id or M-Pesa phone"`
	Primary   bool   `json:"primary,omitempty"`
}

type CreateTaskRequest struct {
	ClientID       string  `json:"client_id,omitempty" doc:"Admins may create tasks on behalf of a client"`
	Title          string  `json:"title" minLength:"1"`
	Description    string  `json:"description,omitempty"`
	Category       string  `json:"category,omitempty"`
	Complexity     string  `json:"complexity,omitempty"`
	BudgetTier     string  `json:"budget_tier" enum:"less_100,100_500,501_1000,1001_2000,above_2000"`
	Deadline       string  `json:"deadline,omitempty" format:"date-time"`
	EstimatedPrice *string `json:"estimated_price,omitempty" example:"250.00"`
}

type AssignRequest struct {
	ExpertID string `json:"expert_id" minLength:"1"`
}

type FeedbackRequest struct {
	Feedback string `json:"feedback,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type PriceRequest struct {
	Amount string `json:"amount" example:"480.00"`
}

type CreateSubmissionRequest struct {
	Content string `json:"content" minLength:"1"`
}

type CreatePaymentIntentRequest struct {
	PaymentMethod string `json:"payment_method" enum:"paypal,wise,mpesa"`
}

type RefundRequest struct {
	Amount string `json:"amount" example:"25.00"`
	Reason string `json:"reason,omitempty"`
}

type GatewayCallbackRequest struct {
	Reference string `json:"reference" minLength:"1"`
	Status    string `json:"status" enum:"processing,completed,failed"`
	Reason    string `json:"reason,omitempty"`
}

// Response payloads

type WhoAmIResponse struct {
	Actor  domain.Actor `json:"actor"`
	Source string       `json:"source" enum:"jwt,api_key,actor_header"`
}

type APIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key" doc:"Shown once"`
}

type PaymentMethodResponse struct {
	ID         string `json:"id"`
	ExpertID   string `json:"expert_id"`
	Kind       string `json:"kind"`
	Recipient  string `json:"recipient"`
	IsPrimary  bool   `json:"is_primary"`
	IsVerified bool   `json:"is_verified"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID               string  `json:"id"`
	ClientID         string  `json:"client_id"`
	AssignedExpertID *string `json:"assigned_expert_id,omitempty"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	Category         string  `json:"category,omitempty"`
	Complexity       string  `json:"complexity,omitempty"`
	BudgetTier       string  `json:"budget_tier"`
	Deadline         *string `json:"deadline,omitempty" format:"date-time"`
	Status           string  `json:"status" enum:"open,assigned,in_progress,revision_needed,review,completed,cancelled"`
	EstimatedPrice   *string `json:"estimated_price,omitempty"`
	AISuggestedPrice *string `json:"ai_suggested_price,omitempty"`
	FinalPrice       *string `json:"final_price,omitempty"`
	AssignedAt       *string `json:"assigned_at,omitempty" format:"date-time"`
	CompletedAt      *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

type SubmissionResponse struct {
	ID         string  `json:"id"`
	TaskID     string  `json:"task_id"`
	ExpertID   string  `json:"expert_id"`
	Content    string  `json:"content"`
	Status     string  `json:"status" enum:"pending,accepted,rejected,revision"`
	Feedback   *string `json:"feedback,omitempty"`
	ReviewedAt *string `json:"reviewed_at,omitempty" format:"date-time"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type ReviewResponse struct {
	Submission SubmissionResponse `json:"submission"`
	Task       TaskResponse       `json:"task"`
}

type AcceptResponse struct {
	Submission   SubmissionResponse `json:"submission"`
	Task         TaskResponse       `json:"task"`
	Invoice      *InvoiceResponse   `json:"invoice,omitempty"`
	InvoiceError string             `json:"invoice_error,omitempty" doc:"Billing failure that did not roll back the completion"`
}

type PaymentIntentResponse struct {
	ID                 string  `json:"id"`
	TaskID             string  `json:"task_id"`
	ClientID           string  `json:"client_id"`
	Amount             string  `json:"amount"`
	Currency           string  `json:"currency"`
	PlatformFee        string  `json:"platform_fee"`
	ExpertPayoutAmount string  `json:"expert_payout_amount"`
	PaymentMethod      string  `json:"payment_method"`
	GatewayReference   *string `json:"gateway_reference,omitempty"`
	Status             string  `json:"status" enum:"pending,processing,completed,failed,cancelled,refunded"`
	FailureReason      *string `json:"failure_reason,omitempty"`
	CompletedAt        *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

type LineItemResponse struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

type InvoiceResponse struct {
	ID                  string             `json:"id"`
	TaskID              string             `json:"task_id"`
	ClientID            string             `json:"client_id"`
	InvoiceNumber       string             `json:"invoice_number"`
	Amount              string             `json:"amount"`
	Currency            string             `json:"currency"`
	Status              string             `json:"status" enum:"draft,sent,paid,overdue,cancelled"`
	DueDate             string             `json:"due_date" format:"date-time"`
	LineItems           []LineItemResponse `json:"line_items"`
	NeedsReconciliation bool               `json:"needs_reconciliation"`
	CreatedAt           string             `json:"created_at" format:"date-time"`
}

type PayoutResponse struct {
	ID               string  `json:"id"`
	ExpertID         string  `json:"expert_id"`
	PaymentIntentID  string  `json:"payment_intent_id"`
	Amount           string  `json:"amount"`
	Currency         string  `json:"currency"`
	Method           string  `json:"payout_method"`
	Recipient        string  `json:"recipient"`
	GatewayReference *string `json:"gateway_reference,omitempty"`
	Status           string  `json:"status" enum:"pending,processing,completed,failed"`
	FailureReason    *string `json:"failure_reason,omitempty"`
	ProcessedAt      *string `json:"processed_at,omitempty" format:"date-time"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type RefundResponse struct {
	ID              string  `json:"id"`
	PaymentIntentID string  `json:"payment_intent_id"`
	Amount          string  `json:"amount"`
	Reason          string  `json:"reason,omitempty"`
	Status          string  `json:"status" enum:"processing,completed,failed"`
	Reference       *string `json:"reference,omitempty"`
	FailureReason   *string `json:"failure_reason,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type RefundResultResponse struct {
	Refund RefundResponse        `json:"refund"`
	Intent PaymentIntentResponse `json:"payment_intent"`
}

type ReconcileResponse struct {
	Issued   []InvoiceResponse  `json:"issued"`
	Failures []ReconcileFailure `json:"failures"`
}

type ReconcileFailure struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type taskList struct {
	Items []TaskResponse `json:"items"`
}

type submissionList struct {
	Items []SubmissionResponse `json:"items"`
}

type invoiceList struct {
	Items []InvoiceResponse `json:"items"`
}

type payoutList struct {
	Items []PayoutResponse `json:"items"`
}

type refundList struct {
	Items []RefundResponse `json:"items"`
}

type paymentMethodList struct {
	Items []PaymentMethodResponse `json:"items"`
}

type eventList struct {
	Items []EventResponse `json:"items"`
}

// Conversion helpers

func money(d decimal.Decimal) string {
	return d.StringFixed(domain.MinorUnits)
}

func moneyPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money(*d)
	return &s
}

// parseMoney reads a decimal string with at most two fractional digits.
func parseMoney(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, domain.ValidationError{Field: field, Message: "must be a decimal amount"}
	}
	if !d.Equal(domain.RoundMoney(d)) {
		return decimal.Decimal{}, domain.ValidationError{Field: field, Message: "at most two decimal places"}
	}
	return d, nil
}

func paymentMethodResponse(m domain.ExpertPaymentMethod) PaymentMethodResponse {
	resp := PaymentMethodResponse{
		ID:         m.ID,
		ExpertID:   m.ExpertID,
		IsPrimary:  m.IsPrimary,
		IsVerified: m.IsVerified,
		CreatedAt:  m.CreatedAt,
	}
	if m.Method != nil {
		resp.Kind = string(m.Method.Kind())
		resp.Recipient = m.Method.Recipient()
	}
	return resp
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:               t.ID,
		ClientID:         t.ClientID,
		AssignedExpertID: t.AssignedExpertID,
		Title:            t.Title,
		Description:      t.Description,
		Category:         t.Category,
		Complexity:       t.Complexity,
		BudgetTier:       t.BudgetTier,
		Deadline:         t.Deadline,
		Status:           t.Status,
		EstimatedPrice:   moneyPtr(t.EstimatedPrice),
		AISuggestedPrice: moneyPtr(t.AISuggestedPrice),
		FinalPrice:       moneyPtr(t.FinalPrice),
		AssignedAt:       t.AssignedAt,
		CompletedAt:      t.CompletedAt,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func submissionResponse(s domain.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:         s.ID,
		TaskID:     s.TaskID,
		ExpertID:   s.ExpertID,
		Content:    s.Content,
		Status:     s.Status,
		Feedback:   s.Feedback,
		ReviewedAt: s.ReviewedAt,
		CreatedAt:  s.CreatedAt,
	}
}

func intentResponse(p domain.PaymentIntent) PaymentIntentResponse {
	return PaymentIntentResponse{
		ID:                 p.ID,
		TaskID:             p.TaskID,
		ClientID:           p.ClientID,
		Amount:             money(p.Amount),
		Currency:           p.Currency,
		PlatformFee:        money(p.PlatformFee),
		ExpertPayoutAmount: money(p.ExpertPayoutAmount()),
		PaymentMethod:      string(p.Method),
		GatewayReference:   p.GatewayReference,
		Status:             p.Status,
		FailureReason:      p.FailureReason,
		CompletedAt:        p.CompletedAt,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func invoiceResponse(inv domain.Invoice) InvoiceResponse {
	items := make([]LineItemResponse, 0, len(inv.LineItems))
	for _, li := range inv.LineItems {
		items = append(items, LineItemResponse{Description: li.Description, Amount: money(li.Amount)})
	}
	return InvoiceResponse{
		ID:                  inv.ID,
		TaskID:              inv.TaskID,
		ClientID:            inv.ClientID,
		InvoiceNumber:       inv.InvoiceNumber,
		Amount:              money(inv.Amount),
		Currency:            inv.Currency,
		Status:              inv.Status,
		DueDate:             inv.DueDate,
		LineItems:           items,
		NeedsReconciliation: inv.NeedsReconciliation,
		CreatedAt:           inv.CreatedAt,
	}
}

func payoutResponse(p domain.Payout) PayoutResponse {
	resp := PayoutResponse{
		ID:               p.ID,
		ExpertID:         p.ExpertID,
		PaymentIntentID:  p.PaymentIntentID,
		Amount:           money(p.Amount),
		Currency:         p.Currency,
		GatewayReference: p.GatewayReference,
		Status:           p.Status,
		FailureReason:    p.FailureReason,
		ProcessedAt:      p.ProcessedAt,
		CreatedAt:        p.CreatedAt,
	}
	if p.Method != nil {
		resp.Method = string(p.Method.Kind())
		resp.Recipient = p.Method.Recipient()
	}
	return resp
}

func refundResponse(r domain.Refund) RefundResponse {
	return RefundResponse{
		ID:              r.ID,
		PaymentIntentID: r.PaymentIntentID,
		Amount:          money(r.Amount),
		Reason:          r.Reason,
		Status:          r.Status,
		Reference:       r.Reference,
		FailureReason:   r.FailureReason,
		CreatedAt:       r.CreatedAt,
	}
}

func reconcileResponse(res payments.ReconcileResult) ReconcileResponse {
	out := ReconcileResponse{Issued: []InvoiceResponse{}, Failures: []ReconcileFailure{}}
	for _, inv := range res.Issued {
		out.Issued = append(out.Issued, invoiceResponse(inv))
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, ReconcileFailure{TaskID: f.TaskID, Error: f.Error})
	}
	return out
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}
