package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"maiguru/internal/domain"
)

// Status is a provider outcome normalized for the orchestrator.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type ChargeRequest struct {
	IntentID    string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// Result is what a provider said about one call. A provider-side rejection
// is a Result with StatusFailed and a Reason, not an error; errors mean the
// call itself did not complete.
type Result struct {
	Reference string
	Status    Status
	Reason    string
}

type PayoutRequest struct {
	PayoutID  string
	Recipient domain.PayoutMethod
	Amount    decimal.Decimal
	Currency  string
}

// Adapter is the uniform face of a payment provider.
type Adapter interface {
	Kind() domain.PaymentMethodKind
	CreateCharge(ctx context.Context, req ChargeRequest) (Result, error)
	CaptureCharge(ctx context.Context, reference string) (Result, error)
	Payout(ctx context.Context, req PayoutRequest) (Result, error)
	Refund(ctx context.Context, reference string, amount decimal.Decimal) (Result, error)
}

// Registry resolves the adapter for a payment method.
type Registry map[domain.PaymentMethodKind]Adapter

func NewRegistry(adapters ...Adapter) Registry {
	r := Registry{}
	for _, a := range adapters {
		r[a.Kind()] = a
	}
	return r
}

func (r Registry) Get(kind domain.PaymentMethodKind) (Adapter, error) {
	a, ok := r[kind]
	if !ok {
		return nil, domain.GatewayError{Gateway: string(kind), Op: "resolve", Reason: fmt.Sprintf("no adapter configured for %s", kind)}
	}
	return a, nil
}

func gatewayErr(kind domain.PaymentMethodKind, op string, err error) error {
	return domain.GatewayError{Gateway: string(kind), Op: op, Reason: err.Error(), Err: err}
}
