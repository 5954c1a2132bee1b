package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"maiguru/internal/domain"
)

// RateLimited spaces out calls to a provider.
type RateLimited struct {
	next    Adapter
	limiter *rate.Limiter
}

func WithRateLimit(next Adapter, perSecond float64, burst int) Adapter {
	if perSecond <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) wait(ctx context.Context, op string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return gatewayErr(r.next.Kind(), op, err)
	}
	return nil
}

func (r *RateLimited) Kind() domain.PaymentMethodKind { return r.next.Kind() }

func (r *RateLimited) CreateCharge(ctx context.Context, req ChargeRequest) (Result, error) {
	if err := r.wait(ctx, "create_charge"); err != nil {
		return Result{}, err
	}
	return r.next.CreateCharge(ctx, req)
}

func (r *RateLimited) CaptureCharge(ctx context.Context, reference string) (Result, error) {
	if err := r.wait(ctx, "capture_charge"); err != nil {
		return Result{}, err
	}
	return r.next.CaptureCharge(ctx, reference)
}

func (r *RateLimited) Payout(ctx context.Context, req PayoutRequest) (Result, error) {
	if err := r.wait(ctx, "payout"); err != nil {
		return Result{}, err
	}
	return r.next.Payout(ctx, req)
}

func (r *RateLimited) Refund(ctx context.Context, reference string, amount decimal.Decimal) (Result, error) {
	if err := r.wait(ctx, "refund"); err != nil {
		return Result{}, err
	}
	return r.next.Refund(ctx, reference, amount)
}

// Timeout bounds every provider call. A call that runs out of time is
// reported as a GatewayError with reason "timeout".
type Timeout struct {
	next Adapter
	d    time.Duration
}

func WithTimeout(next Adapter, d time.Duration) Adapter {
	if d <= 0 {
		return next
	}
	return &Timeout{next: next, d: d}
}

func (t *Timeout) Kind() domain.PaymentMethodKind { return t.next.Kind() }

func (t *Timeout) call(ctx context.Context, op string, fn func(context.Context) (Result, error)) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	res, err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{}, domain.GatewayError{Gateway: string(t.next.Kind()), Op: op, Reason: "timeout", Err: err}
	}
	return res, err
}

func (t *Timeout) CreateCharge(ctx context.Context, req ChargeRequest) (Result, error) {
	return t.call(ctx, "create_charge", func(ctx context.Context) (Result, error) { return t.next.CreateCharge(ctx, req) })
}

func (t *Timeout) CaptureCharge(ctx context.Context, reference string) (Result, error) {
	return t.call(ctx, "capture_charge", func(ctx context.Context) (Result, error) { return t.next.CaptureCharge(ctx, reference) })
}

func (t *Timeout) Payout(ctx context.Context, req PayoutRequest) (Result, error) {
	return t.call(ctx, "payout", func(ctx context.Context) (Result, error) { return t.next.Payout(ctx, req) })
}

func (t *Timeout) Refund(ctx context.Context, reference string, amount decimal.Decimal) (Result, error) {
	return t.call(ctx, "refund", func(ctx context.Context) (Result, error) { return t.next.Refund(ctx, reference, amount) })
}
