package payments

import "maiguru/internal/domain"

var intentEdges = map[string][]string{
	domain.PaymentPending:    {domain.PaymentProcessing, domain.PaymentCompleted, domain.PaymentFailed, domain.PaymentCancelled},
	domain.PaymentProcessing: {domain.PaymentCompleted, domain.PaymentFailed},
	domain.PaymentCompleted:  {domain.PaymentRefunded},
}

var payoutEdges = map[string][]string{
	domain.PayoutPending:    {domain.PayoutProcessing, domain.PayoutCompleted, domain.PayoutFailed},
	domain.PayoutProcessing: {domain.PayoutCompleted, domain.PayoutFailed},
	// manual retry
	domain.PayoutFailed: {domain.PayoutPending},
}

func allowed(edges map[string][]string, from, to string) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

func ensureIntentTransition(p domain.PaymentIntent, to string) error {
	if allowed(intentEdges, p.Status, to) {
		return nil
	}
	return domain.InvalidTransitionError{Entity: "payment_intent", ID: p.ID, From: p.Status, To: to}
}

func ensurePayoutTransition(p domain.Payout, to string) error {
	if allowed(payoutEdges, p.Status, to) {
		return nil
	}
	return domain.InvalidTransitionError{Entity: "payout", ID: p.ID, From: p.Status, To: to}
}
