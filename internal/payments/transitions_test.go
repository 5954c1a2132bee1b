package payments

import (
	"errors"
	"testing"

	"maiguru/internal/domain"
)

func TestIntentTransitions(t *testing.T) {
	statuses := []string{
		domain.PaymentPending, domain.PaymentProcessing, domain.PaymentCompleted,
		domain.PaymentFailed, domain.PaymentCancelled, domain.PaymentRefunded,
	}
	legal := map[[2]string]bool{
		{domain.PaymentPending, domain.PaymentProcessing}:   true,
		{domain.PaymentPending, domain.PaymentCompleted}:    true,
		{domain.PaymentPending, domain.PaymentFailed}:       true,
		{domain.PaymentPending, domain.PaymentCancelled}:    true,
		{domain.PaymentProcessing, domain.PaymentCompleted}: true,
		{domain.PaymentProcessing, domain.PaymentFailed}:    true,
		{domain.PaymentCompleted, domain.PaymentRefunded}:   true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			err := ensureIntentTransition(domain.PaymentIntent{ID: "pi", Status: from}, to)
			if legal[[2]string{from, to}] {
				if err != nil {
					t.Fatalf("%s -> %s should be legal: %v", from, to, err)
				}
				continue
			}
			var terr domain.InvalidTransitionError
			if !errors.As(err, &terr) {
				t.Fatalf("%s -> %s should be rejected, got %v", from, to, err)
			}
		}
	}
}

func TestPayoutTransitions(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{domain.PayoutPending, domain.PayoutProcessing, true},
		{domain.PayoutProcessing, domain.PayoutCompleted, true},
		{domain.PayoutProcessing, domain.PayoutFailed, true},
		{domain.PayoutFailed, domain.PayoutPending, true},
		{domain.PayoutCompleted, domain.PayoutFailed, false},
		{domain.PayoutCompleted, domain.PayoutPending, false},
		{domain.PayoutProcessing, domain.PayoutPending, false},
	}
	for _, c := range cases {
		err := ensurePayoutTransition(domain.Payout{ID: "po", Status: c.from}, c.to)
		if (err == nil) != c.ok {
			t.Fatalf("%s -> %s: ok=%v err=%v", c.from, c.to, c.ok, err)
		}
	}
}
