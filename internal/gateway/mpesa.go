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

// MPesa uses the Daraja STK push for collections, B2C for payouts and
// reversals for refunds.
type MPesa struct {
	api       apiClient
	shortCode string
}

func NewMPesa(cfg config.MPesa) *MPesa {
	cc := clientcredentials.Config{
		ClientID:     cfg.ConsumerKey,
		ClientSecret: cfg.ConsumerSecret,
		TokenURL:     strings.TrimRight(cfg.BaseURL, "/") + "/oauth/v1/generate?grant_type=client_credentials",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return newMPesa(cfg.BaseURL, cfg.ShortCode, cc.Client(context.Background()))
}

func newMPesa(baseURL, shortCode string, client *http.Client) *MPesa {
	return &MPesa{api: apiClient{kind: domain.MethodMPesa, baseURL: baseURL, http: client}, shortCode: shortCode}
}

func (m *MPesa) Kind() domain.PaymentMethodKind { return domain.MethodMPesa }

// M-Pesa settles whole shillings.
func wholeUnits(amount decimal.Decimal) string {
	return amount.Ceil().String()
}

type mpesaAck struct {
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ConversationID      string `json:"ConversationID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

func (m *MPesa) CreateCharge(ctx context.Context, req ChargeRequest) (Result, error) {
	body := map[string]any{
		"BusinessShortCode": m.shortCode,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            wholeUnits(req.Amount),
		"AccountReference":  req.IntentID,
		"TransactionDesc":   req.Description,
	}
	var out mpesaAck
	if err := m.api.do(ctx, "create_charge", http.MethodPost, "/mpesa/stkpush/v1/processrequest", body, &out); err != nil {
		return Result{}, err
	}
	if out.ResponseCode != "0" {
		return Result{Reference: out.CheckoutRequestID, Status: StatusFailed, Reason: out.ResponseDescription}, nil
	}
	return Result{Reference: out.CheckoutRequestID, Status: StatusProcessing}, nil
}

func (m *MPesa) CaptureCharge(ctx context.Context, reference string) (Result, error) {
	body := map[string]any{"BusinessShortCode": m.shortCode, "CheckoutRequestID": reference}
	var out mpesaAck
	if err := m.api.do(ctx, "capture_charge", http.MethodPost, "/mpesa/stkpushquery/v1/query", body, &out); err != nil {
		return Result{}, err
	}
	if out.ResultCode != "0" {
		return Result{Reference: reference, Status: StatusFailed, Reason: out.ResultDesc}, nil
	}
	return Result{Reference: reference, Status: StatusCompleted}, nil
}

func (m *MPesa) Payout(ctx context.Context, req PayoutRequest) (Result, error) {
	to, ok := req.Recipient.(domain.MPesa)
	if !ok {
		return wrongRecipient(domain.MethodMPesa, req.Recipient), nil
	}
	body := map[string]any{
		"CommandID": "BusinessPayment",
		"Amount":    wholeUnits(req.Amount),
		"PartyA":    m.shortCode,
		"PartyB":    strings.TrimPrefix(to.Phone, "+"),
		"Remarks":   "Maiguru payout",
		"Occasion":  req.PayoutID,
	}
	var out mpesaAck
	if err := m.api.do(ctx, "payout", http.MethodPost, "/mpesa/b2c/v1/paymentrequest", body, &out); err != nil {
		return Result{}, err
	}
	if out.ResponseCode != "0" {
		return Result{Reference: out.ConversationID, Status: StatusFailed, Reason: out.ResponseDescription}, nil
	}
	return Result{Reference: out.ConversationID, Status: StatusProcessing}, nil
}

func (m *MPesa) Refund(ctx context.Context, reference string, amount decimal.Decimal) (Result, error) {
	body := map[string]any{
		"CommandID":     "TransactionReversal",
		"TransactionID": reference,
		"Amount":        wholeUnits(amount),
		"ReceiverParty": m.shortCode,
	}
	var out mpesaAck
	if err := m.api.do(ctx, "refund", http.MethodPost, "/mpesa/reversal/v1/request", body, &out); err != nil {
		return Result{}, err
	}
	if out.ResponseCode != "0" {
		return Result{Reference: out.ConversationID, Status: StatusFailed, Reason: out.ResponseDescription}, nil
	}
	return Result{Reference: out.ConversationID, Status: StatusCompleted}, nil
}
