package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"

	"maiguru/internal/config"
	"maiguru/internal/domain"
)

// Wise collects through payment requests and pays out through transfers.
// Authentication is a long-lived API token.
type Wise struct {
	api       apiClient
	profileID string
}

func NewWise(cfg config.Wise) *Wise {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIToken, TokenType: "Bearer"})
	return newWise(cfg.BaseURL, cfg.ProfileID, oauth2.NewClient(context.Background(), src))
}

func newWise(baseURL, profileID string, client *http.Client) *Wise {
	return &Wise{api: apiClient{kind: domain.MethodWise, baseURL: baseURL, http: client}, profileID: profileID}
}

func (w *Wise) Kind() domain.PaymentMethodKind { return domain.MethodWise }

type wiseObject struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
}

func (w *Wise) profilePath(suffix string) string {
	return "/v1/profiles/" + w.profileID + suffix
}

func (w *Wise) CreateCharge(ctx context.Context, req ChargeRequest) (Result, error) {
	body := map[string]any{
		"amount":      map[string]string{"value": req.Amount.StringFixed(domain.MinorUnits), "currency": req.Currency},
		"reference":   req.IntentID,
		"description": req.Description,
	}
	var out wiseObject
	if err := w.api.do(ctx, "create_charge", http.MethodPost, w.profilePath("/payment-requests"), body, &out); err != nil {
		return Result{}, err
	}
	return w.result(out.ID.String(), out.Status), nil
}

func (w *Wise) CaptureCharge(ctx context.Context, reference string) (Result, error) {
	var out wiseObject
	if err := w.api.do(ctx, "capture_charge", http.MethodGet, w.profilePath("/payment-requests/"+reference), nil, &out); err != nil {
		return Result{}, err
	}
	return w.result(reference, out.Status), nil
}

func (w *Wise) Payout(ctx context.Context, req PayoutRequest) (Result, error) {
	to, ok := req.Recipient.(domain.Wise)
	if !ok {
		return wrongRecipient(domain.MethodWise, req.Recipient), nil
	}
	body := map[string]any{
		"targetAccount":         to.AccountID,
		"customerTransactionId": req.PayoutID,
		"details":               map[string]string{"reference": "Maiguru payout"},
		"amount":                map[string]string{"value": req.Amount.StringFixed(domain.MinorUnits), "currency": req.Currency},
	}
	var out wiseObject
	if err := w.api.do(ctx, "payout", http.MethodPost, "/v1/transfers", body, &out); err != nil {
		return Result{}, err
	}
	return w.result(out.ID.String(), out.Status), nil
}

func (w *Wise) Refund(context.Context, string, decimal.Decimal) (Result, error) {
	return Result{}, gatewayErr(domain.MethodWise, "refund", errors.New("refunds are not supported by wise"))
}

// result normalizes Wise payment-request and transfer states.
func (w *Wise) result(ref, status string) Result {
	switch strings.ToLower(status) {
	case "paid", "completed", "outgoing_payment_sent":
		return Result{Reference: ref, Status: StatusCompleted}
	case "expired", "invalidated", "cancelled", "funds_refunded", "bounced_back", "charged_back":
		return Result{Reference: ref, Status: StatusFailed, Reason: "wise status " + status}
	}
	return Result{Reference: ref, Status: StatusProcessing}
}
