package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"maiguru/internal/domain"
)

// Sandbox is an in-process provider. Every call succeeds unless a failure
// was scripted with FailNext.
type Sandbox struct {
	kind domain.PaymentMethodKind

	mu       sync.Mutex
	failures map[string][]string
	charges  map[string]decimal.Decimal
	calls    []string
}

func NewSandbox(kind domain.PaymentMethodKind) *Sandbox {
	return &Sandbox{kind: kind, failures: map[string][]string{}, charges: map[string]decimal.Decimal{}}
}

// FailNext makes the next call of op ("create_charge", "capture_charge",
// "payout", "refund") come back as a provider rejection with reason.
func (s *Sandbox) FailNext(op, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], reason)
}

// Calls lists the operations seen so far.
func (s *Sandbox) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Sandbox) record(op string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, op)
	if q := s.failures[op]; len(q) > 0 {
		s.failures[op] = q[1:]
		return q[0], true
	}
	return "", false
}

func (s *Sandbox) ref(prefix string) string {
	return "sbx_" + string(s.kind) + "_" + prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func (s *Sandbox) Kind() domain.PaymentMethodKind { return s.kind }

func (s *Sandbox) CreateCharge(ctx context.Context, req ChargeRequest) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, gatewayErr(s.kind, "create_charge", err)
	}
	if reason, fail := s.record("create_charge"); fail {
		return Result{Status: StatusFailed, Reason: reason}, nil
	}
	ref := s.ref("ch")
	s.mu.Lock()
	s.charges[ref] = req.Amount
	s.mu.Unlock()
	return Result{Reference: ref, Status: StatusProcessing}, nil
}

func (s *Sandbox) CaptureCharge(ctx context.Context, reference string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, gatewayErr(s.kind, "capture_charge", err)
	}
	if reason, fail := s.record("capture_charge"); fail {
		return Result{Reference: reference, Status: StatusFailed, Reason: reason}, nil
	}
	return Result{Reference: reference, Status: StatusCompleted}, nil
}

func (s *Sandbox) Payout(ctx context.Context, req PayoutRequest) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, gatewayErr(s.kind, "payout", err)
	}
	if reason, fail := s.record("payout"); fail {
		return Result{Status: StatusFailed, Reason: reason}, nil
	}
	return Result{Reference: s.ref("po"), Status: StatusProcessing}, nil
}

func (s *Sandbox) Refund(ctx context.Context, reference string, amount decimal.Decimal) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, gatewayErr(s.kind, "refund", err)
	}
	if reason, fail := s.record("refund"); fail {
		return Result{Reference: reference, Status: StatusFailed, Reason: reason}, nil
	}
	s.mu.Lock()
	charged, known := s.charges[reference]
	s.mu.Unlock()
	if known && amount.GreaterThan(charged) {
		return Result{Reference: reference, Status: StatusFailed, Reason: "refund exceeds captured amount"}, nil
	}
	return Result{Reference: s.ref("rf"), Status: StatusCompleted}, nil
}
