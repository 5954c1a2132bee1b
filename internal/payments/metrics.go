package payments

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts payment outcomes. A zero Metrics records nothing.
type Metrics struct {
	intents       metric.Int64Counter
	captured      metric.Int64Counter
	chargesFailed metric.Int64Counter
	invoices      metric.Int64Counter
	payouts       metric.Int64Counter
	payoutsFailed metric.Int64Counter
	refunds       metric.Int64Counter
	refundsFailed metric.Int64Counter
}

// NewMetrics registers the payment counters on m.
func NewMetrics(m metric.Meter) (Metrics, error) {
	var (
		out Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&out.intents, "maiguru.payment_intents.created", "Payment intents created"},
		{&out.captured, "maiguru.charges.captured", "Charges confirmed by a gateway"},
		{&out.chargesFailed, "maiguru.charges.failed", "Charges rejected or timed out"},
		{&out.invoices, "maiguru.invoices.issued", "Invoices issued"},
		{&out.payouts, "maiguru.payouts.initiated", "Payouts handed to a gateway"},
		{&out.payoutsFailed, "maiguru.payouts.failed", "Payouts rejected or timed out"},
		{&out.refunds, "maiguru.refunds.completed", "Refunds completed"},
		{&out.refundsFailed, "maiguru.refunds.failed", "Refunds rejected or timed out"},
	}
	for _, c := range counters {
		*c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return Metrics{}, err
		}
	}
	return out, nil
}

// DefaultMetrics uses the global meter provider.
func DefaultMetrics() Metrics {
	m, err := NewMetrics(otel.Meter("maiguru/payments"))
	if err != nil {
		return Metrics{}
	}
	return m
}

func count(ctx context.Context, c metric.Int64Counter, gateway string) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("gateway", gateway)))
}
