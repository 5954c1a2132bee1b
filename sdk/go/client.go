// Package maigurusdk is a small client for the Maiguru HTTP API.
package maigurusdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client calls the /v1 API. Set BearerToken or APIKey.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Task is the API task model. Money fields are decimal strings.
type Task struct {
	ID               string  `json:"id"`
	ClientID         string  `json:"client_id"`
	AssignedExpertID *string `json:"assigned_expert_id,omitempty"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	BudgetTier       string  `json:"budget_tier"`
	Status           string  `json:"status"`
	EstimatedPrice   *string `json:"estimated_price,omitempty"`
	AISuggestedPrice *string `json:"ai_suggested_price,omitempty"`
	FinalPrice       *string `json:"final_price,omitempty"`
	CompletedAt      *string `json:"completed_at,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

// NewTask is the body of CreateTask.
type NewTask struct {
	ClientID       string  `json:"client_id,omitempty"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Category       string  `json:"category,omitempty"`
	Complexity     string  `json:"complexity,omitempty"`
	BudgetTier     string  `json:"budget_tier,omitempty"`
	Deadline       string  `json:"deadline,omitempty"`
	EstimatedPrice *string `json:"estimated_price,omitempty"`
}

type Submission struct {
	ID        string  `json:"id"`
	TaskID    string  `json:"task_id"`
	ExpertID  string  `json:"expert_id"`
	Content   string  `json:"content"`
	Status    string  `json:"status"`
	Feedback  *string `json:"feedback,omitempty"`
	CreatedAt string  `json:"created_at"`
}

type Invoice struct {
	ID                  string `json:"id"`
	TaskID              string `json:"task_id"`
	InvoiceNumber       string `json:"invoice_number"`
	Amount              string `json:"amount"`
	Currency            string `json:"currency"`
	Status              string `json:"status"`
	DueDate             string `json:"due_date"`
	NeedsReconciliation bool   `json:"needs_reconciliation"`
}

// Acceptance is returned when a submission is accepted. Invoice is nil and
// InvoiceError set when billing failed after the task completed.
type Acceptance struct {
	Submission   Submission `json:"submission"`
	Task         Task       `json:"task"`
	Invoice      *Invoice   `json:"invoice,omitempty"`
	InvoiceError string     `json:"invoice_error,omitempty"`
}

type PaymentIntent struct {
	ID                 string  `json:"id"`
	TaskID             string  `json:"task_id"`
	Amount             string  `json:"amount"`
	Currency           string  `json:"currency"`
	PlatformFee        string  `json:"platform_fee"`
	ExpertPayoutAmount string  `json:"expert_payout_amount"`
	PaymentMethod      string  `json:"payment_method"`
	GatewayReference   *string `json:"gateway_reference,omitempty"`
	Status             string  `json:"status"`
	FailureReason      *string `json:"failure_reason,omitempty"`
}

type Payout struct {
	ID               string  `json:"id"`
	ExpertID         string  `json:"expert_id"`
	PaymentIntentID  string  `json:"payment_intent_id"`
	Amount           string  `json:"amount"`
	Method           string  `json:"payout_method"`
	Recipient        string  `json:"recipient"`
	GatewayReference *string `json:"gateway_reference,omitempty"`
	Status           string  `json:"status"`
	FailureReason    *string `json:"failure_reason,omitempty"`
}

type Refund struct {
	ID              string `json:"id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          string `json:"amount"`
	Status          string `json:"status"`
}

type RefundResult struct {
	Refund Refund        `json:"refund"`
	Intent PaymentIntent `json:"payment_intent"`
}

// APIError is a non-2xx response. Code and Details come from the error
// envelope when the server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateTask(ctx context.Context, in NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListTasks returns the caller's tasks, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, status string, limit int) ([]Task, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) AssignExpert(ctx context.Context, taskID, expertID string) (Task, error) {
	return c.taskStep(ctx, taskID, "assign", map[string]any{"expert_id": expertID})
}

func (c *Client) StartWork(ctx context.Context, taskID string) (Task, error) {
	return c.taskStep(ctx, taskID, "start", nil)
}

func (c *Client) MarkForReview(ctx context.Context, taskID string) (Task, error) {
	return c.taskStep(ctx, taskID, "review", nil)
}

func (c *Client) CancelTask(ctx context.Context, taskID, reason string) (Task, error) {
	return c.taskStep(ctx, taskID, "cancel", map[string]any{"reason": reason})
}

// PriceTask fixes the final price; amount is a decimal string such as "150.00".
func (c *Client) PriceTask(ctx context.Context, taskID, amount string) (Task, error) {
	return c.taskStep(ctx, taskID, "price", map[string]any{"amount": amount})
}

func (c *Client) taskStep(ctx context.Context, taskID, step string, body any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/%s", url.PathEscape(taskID), step), body, &resp)
	return resp, err
}

func (c *Client) CreateSubmission(ctx context.Context, taskID, content string) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/submissions", url.PathEscape(taskID)), map[string]any{"content": content}, &resp)
	return resp, err
}

func (c *Client) AcceptSubmission(ctx context.Context, submissionID string) (Acceptance, error) {
	var resp Acceptance
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("submissions/%s/accept", url.PathEscape(submissionID)), nil, &resp)
	return resp, err
}

func (c *Client) CreatePaymentIntent(ctx context.Context, taskID, method string) (PaymentIntent, error) {
	var resp PaymentIntent
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/payment-intents", url.PathEscape(taskID)), map[string]any{"payment_method": method}, &resp)
	return resp, err
}

func (c *Client) GetPaymentIntent(ctx context.Context, id string) (PaymentIntent, error) {
	var resp PaymentIntent
	err := c.do(ctx, http.MethodGet, "payment-intents/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) ChargeIntent(ctx context.Context, id string) (PaymentIntent, error) {
	var resp PaymentIntent
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("payment-intents/%s/charge", url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) Capture(ctx context.Context, id string) (PaymentIntent, error) {
	var resp PaymentIntent
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("payment-intents/%s/capture", url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) Refund(ctx context.Context, intentID, amount, reason string) (RefundResult, error) {
	var resp RefundResult
	body := map[string]any{"amount": amount, "reason": reason}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("payment-intents/%s/refunds", url.PathEscape(intentID)), body, &resp)
	return resp, err
}

func (c *Client) InitiatePayout(ctx context.Context, intentID string) (Payout, error) {
	var resp Payout
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("payment-intents/%s/payout", url.PathEscape(intentID)), nil, &resp)
	return resp, err
}

func (c *Client) GetPayout(ctx context.Context, id string) (Payout, error) {
	var resp Payout
	err := c.do(ctx, http.MethodGet, "payouts/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) GetInvoice(ctx context.Context, taskID string) (Invoice, error) {
	var resp Invoice
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%s/invoice", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
