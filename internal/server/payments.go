package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"maiguru/internal/domain"
	"maiguru/internal/payments"
)

var gatewayErrors = []int{
	http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound,
	http.StatusConflict, http.StatusPreconditionFailed, http.StatusBadGateway,
}

func registerPaymentIntents(api huma.API, o payments.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-payment-intent",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/payment-intents",
		Summary:       "Open the task's payment intent",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                     `path:"id"`
		Body CreatePaymentIntentRequest `json:"body"`
	}) (*response[PaymentIntentResponse], error) {
		return intentAction(ctx, func(actorID string) (domain.PaymentIntent, error) {
			return o.CreatePaymentIntent(ctx, input.ID, input.Body.PaymentMethod, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-payment-intent",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/payment-intent",
		Summary:     "Get the task's payment intent",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[PaymentIntentResponse], error) {
		return intentAction(ctx, func(actorID string) (domain.PaymentIntent, error) {
			return o.GetPaymentIntentByTask(ctx, input.ID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-payment-intent",
		Method:      http.MethodGet,
		Path:        "/payment-intents/{id}",
		Summary:     "Get a payment intent",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[PaymentIntentResponse], error) {
		return intentAction(ctx, func(actorID string) (domain.PaymentIntent, error) {
			return o.GetPaymentIntent(ctx, input.ID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "charge-payment-intent",
		Method:      http.MethodPost,
		Path:        "/payment-intents/{id}/charge",
		Summary:     "Create the gateway charge (pending -> processing)",
		Errors:      gatewayErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[PaymentIntentResponse], error) {
		return intentAction(ctx, func(actorID string) (domain.PaymentIntent, error) {
			return o.ChargeIntent(ctx, input.ID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "capture-payment-intent",
		Method:      http.MethodPost,
		Path:        "/payment-intents/{id}/capture",
		Summary:     "Capture a processing charge",
		Errors:      gatewayErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[PaymentIntentResponse], error) {
		return intentAction(ctx, func(actorID string) (domain.PaymentIntent, error) {
			return o.Capture(ctx, input.ID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "initiate-payout",
		Method:        http.MethodPost,
		Path:          "/payment-intents/{id}/payout",
		Summary:       "Pay the expert share of a completed intent (admin)",
		DefaultStatus: http.StatusCreated,
		Errors:        gatewayErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[PayoutResponse], error) {
		return payoutAction(ctx, func(actorID string) (domain.Payout, error) {
			return o.InitiatePayout(ctx, input.ID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "refund-payment-intent",
		Method:        http.MethodPost,
		Path:          "/payment-intents/{id}/refunds",
		Summary:       "Refund a completed intent (admin)",
		DefaultStatus: http.StatusCreated,
		Errors:        gatewayErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body RefundRequest `json:"body"`
	}) (*response[RefundResultResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, err := parseMoney("amount", input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := o.Refund(ctx, input.ID, amount, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(RefundResultResponse{Refund: refundResponse(res.Refund), Intent: intentResponse(res.Intent)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-refunds",
		Method:      http.MethodGet,
		Path:        "/payment-intents/{id}/refunds",
		Summary:     "List an intent's refunds",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[refundList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := o.ListRefunds(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := refundList{Items: make([]RefundResponse, 0, len(items))}
		for _, r := range items {
			resp.Items = append(resp.Items, refundResponse(r))
		}
		return reply(resp), nil
	})
}

func intentAction(ctx context.Context, fn func(actorID string) (domain.PaymentIntent, error)) (*response[PaymentIntentResponse], error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	p, err := fn(actorID)
	if err != nil {
		return nil, handleError(err)
	}
	return reply(intentResponse(p)), nil
}

func payoutAction(ctx context.Context, fn func(actorID string) (domain.Payout, error)) (*response[PayoutResponse], error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	p, err := fn(actorID)
	if err != nil {
		return nil, handleError(err)
	}
	return reply(payoutResponse(p)), nil
}

func invoiceAction(ctx context.Context, fn func(actorID string) (domain.Invoice, error)) (*response[InvoiceResponse], error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	inv, err := fn(actorID)
	if err != nil {
		return nil, handleError(err)
	}
	return reply(invoiceResponse(inv)), nil
}

func registerInvoices(api huma.API, o payments.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "issue-invoice",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/invoice",
		Summary:     "Issue the invoice of a completed task; idempotent",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[InvoiceResponse], error) {
		return invoiceAction(ctx, func(actorID string) (domain.Invoice, error) {
			return o.IssueInvoice(ctx, input.ID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-invoice",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/invoice",
		Summary:     "Get the task's invoice",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[InvoiceResponse], error) {
		return invoiceAction(ctx, func(actorID string) (domain.Invoice, error) {
			return o.GetInvoiceByTask(ctx, input.ID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-invoices",
		Method:      http.MethodGet,
		Path:        "/invoices",
		Summary:     "List invoices (clients see their own)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*response[invoiceList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := o.ListInvoices(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := invoiceList{Items: make([]InvoiceResponse, 0, len(items))}
		for _, inv := range items {
			resp.Items = append(resp.Items, invoiceResponse(inv))
		}
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-invoices",
		Method:      http.MethodPost,
		Path:        "/invoices/reconcile",
		Summary:     "Issue missing invoices for completed tasks (admin)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*response[ReconcileResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := o.ReconcileInvoices(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(reconcileResponse(res)), nil
	})
}

func registerPayouts(api huma.API, o payments.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "get-payout",
		Method:      http.MethodGet,
		Path:        "/payouts/{id}",
		Summary:     "Get a payout",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[PayoutResponse], error) {
		return payoutAction(ctx, func(actorID string) (domain.Payout, error) {
			return o.GetPayout(ctx, input.ID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payouts",
		Method:      http.MethodGet,
		Path:        "/payouts",
		Summary:     "List payouts (experts see their own)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*response[payoutList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := o.ListPayouts(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := payoutList{Items: make([]PayoutResponse, 0, len(items))}
		for _, p := range items {
			resp.Items = append(resp.Items, payoutResponse(p))
		}
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-payout",
		Method:      http.MethodPost,
		Path:        "/payouts/{id}/retry",
		Summary:     "Retry a failed payout (admin)",
		Errors:      gatewayErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[PayoutResponse], error) {
		return payoutAction(ctx, func(actorID string) (domain.Payout, error) {
			return o.RetryPayout(ctx, input.ID, actorID)
		})
	})
}

func registerCallbacks(api huma.API, o payments.Orchestrator, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "payment-callback",
		Method:      http.MethodPost,
		Path:        "/gateway/callbacks/payments",
		Summary:     "Gateway notification for a charge",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Secret string                 `header:"X-Gateway-Secret"`
		Body   GatewayCallbackRequest `json:"body"`
	}) (*response[PaymentIntentResponse], error) {
		if !validCallbackSecret(authCfg.CallbackSecret, input.Secret) {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid gateway secret", nil)
		}
		p, err := o.ConfirmPayment(ctx, input.Body.Reference, input.Body.Status, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(intentResponse(p)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "payout-callback",
		Method:      http.MethodPost,
		Path:        "/gateway/callbacks/payouts",
		Summary:     "Gateway notification for a payout",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Secret string                 `header:"X-Gateway-Secret"`
		Body   GatewayCallbackRequest `json:"body"`
	}) (*response[PayoutResponse], error) {
		if !validCallbackSecret(authCfg.CallbackSecret, input.Secret) {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid gateway secret", nil)
		}
		p, err := o.ConfirmPayout(ctx, input.Body.Reference, input.Body.Status, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(payoutResponse(p)), nil
	})
}
