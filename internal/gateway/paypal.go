package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"maiguru/internal/config"
	"maiguru/internal/domain"
)

// PayPal talks to the Orders, Payouts and Payments APIs with an app token
// obtained through the client-credentials grant.
type PayPal struct {
	api apiClient
}

func NewPayPal(cfg config.PayPal) *PayPal {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     strings.TrimRight(cfg.BaseURL, "/") + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return newPayPal(cfg.BaseURL, cc.Client(context.Background()))
}

func newPayPal(baseURL string, client *http.Client) *PayPal {
	return &PayPal{api: apiClient{kind: domain.MethodPayPal, baseURL: baseURL, http: client}}
}

func (p *PayPal) Kind() domain.PaymentMethodKind { return domain.MethodPayPal }

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

func money(amount decimal.Decimal, currency string) paypalAmount {
	return paypalAmount{CurrencyCode: currency, Value: amount.StringFixed(domain.MinorUnits)}
}

type paypalStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (p *PayPal) CreateCharge(ctx context.Context, req ChargeRequest) (Result, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.IntentID,
			"description":  req.Description,
			"amount":       money(req.Amount, req.Currency),
		}},
	}
	var out paypalStatus
	if err := p.api.do(ctx, "create_charge", http.MethodPost, "/v2/checkout/orders", body, &out); err != nil {
		return Result{}, err
	}
	switch out.Status {
	case "CREATED", "SAVED", "APPROVED", "PAYER_ACTION_REQUIRED":
		return Result{Reference: out.ID, Status: StatusProcessing}, nil
	case "COMPLETED":
		return Result{Reference: out.ID, Status: StatusCompleted}, nil
	}
	return Result{Reference: out.ID, Status: StatusFailed, Reason: "order status " + out.Status}, nil
}

func (p *PayPal) CaptureCharge(ctx context.Context, reference string) (Result, error) {
	var out paypalStatus
	if err := p.api.do(ctx, "capture_charge", http.MethodPost, "/v2/checkout/orders/"+reference+"/capture", map[string]any{}, &out); err != nil {
		return Result{}, err
	}
	switch out.Status {
	case "COMPLETED":
		return Result{Reference: reference, Status: StatusCompleted}, nil
	case "PENDING":
		return Result{Reference: reference, Status: StatusProcessing}, nil
	}
	return Result{Reference: reference, Status: StatusFailed, Reason: "capture status " + out.Status}, nil
}

func (p *PayPal) Payout(ctx context.Context, req PayoutRequest) (Result, error) {
	to, ok := req.Recipient.(domain.PayPal)
	if !ok {
		return wrongRecipient(domain.MethodPayPal, req.Recipient), nil
	}
	body := map[string]any{
		"sender_batch_header": map[string]any{
			"sender_batch_id": req.PayoutID,
			"email_subject":   "You have a payout from Maiguru",
		},
		"items": []map[string]any{{
			"recipient_type": "EMAIL",
			"receiver":       to.Email,
			"sender_item_id": req.PayoutID,
			"amount":         map[string]string{"currency": req.Currency, "value": req.Amount.StringFixed(domain.MinorUnits)},
		}},
	}
	var out struct {
		BatchHeader struct {
			PayoutBatchID string `json:"payout_batch_id"`
			BatchStatus   string `json:"batch_status"`
		} `json:"batch_header"`
	}
	if err := p.api.do(ctx, "payout", http.MethodPost, "/v1/payments/payouts", body, &out); err != nil {
		return Result{}, err
	}
	h := out.BatchHeader
	switch h.BatchStatus {
	case "DENIED", "CANCELED":
		return Result{Reference: h.PayoutBatchID, Status: StatusFailed, Reason: "payout batch " + strings.ToLower(h.BatchStatus)}, nil
	case "SUCCESS":
		return Result{Reference: h.PayoutBatchID, Status: StatusCompleted}, nil
	}
	return Result{Reference: h.PayoutBatchID, Status: StatusProcessing}, nil
}

func (p *PayPal) Refund(ctx context.Context, reference string, amount decimal.Decimal) (Result, error) {
	var out paypalStatus
	body := map[string]any{"amount": map[string]string{"value": amount.StringFixed(domain.MinorUnits)}}
	if err := p.api.do(ctx, "refund", http.MethodPost, "/v2/payments/captures/"+reference+"/refund", body, &out); err != nil {
		return Result{}, err
	}
	switch out.Status {
	case "COMPLETED", "PENDING":
		return Result{Reference: out.ID, Status: StatusCompleted}, nil
	}
	return Result{Reference: out.ID, Status: StatusFailed, Reason: "refund status " + out.Status}, nil
}
