package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"maiguru/internal/domain"
	"maiguru/internal/engine"
)

// response wraps a JSON body for huma outputs.
type response[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *response[T] {
	return &response[T]{Body: v}
}

func registerActors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Register an account (admin; the first account bootstraps the store)",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateActorRequest `json:"body"`
	}) (*response[domain.Actor], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateActor(ctx, engine.ActorCreateOptions{
			ID:          strings.TrimSpace(input.Body.ID),
			Role:        input.Body.Role,
			DisplayName: input.Body.DisplayName,
			Email:       input.Body.Email,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-actor",
		Method:      http.MethodGet,
		Path:        "/actors/{id}",
		Summary:     "Get an account",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[domain.Actor], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetActor(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/actors/{id}/api-keys",
		Summary:       "Mint an API key; the plaintext is returned once",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CreateAPIKeyRequest `json:"body" required:"false"`
	}) (*response[APIKeyResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plain, key, err := e.CreateAPIKey(ctx, input.ID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(APIKeyResponse{ID: key.ID, ActorID: key.ActorID, Name: key.Name, Key: plain}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-payment-method",
		Method:        http.MethodPost,
		Path:          "/actors/{id}/payment-methods",
		Summary:       "Register a payout destination for an expert",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body AddPaymentMethodRequest `json:"body"`
	}) (*response[PaymentMethodResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		kind, err := domain.ParsePaymentMethodKind(input.Body.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		method, err := domain.NewPayoutMethod(kind, input.Body.Recipient)
		if err != nil {
			return nil, handleError(err)
		}
		m, err := e.AddPaymentMethod(ctx, input.ID, method, input.Body.Primary, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(paymentMethodResponse(m)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payment-methods",
		Method:      http.MethodGet,
		Path:        "/actors/{id}/payment-methods",
		Summary:     "List an expert's payout destinations",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[paymentMethodList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListPaymentMethods(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paymentMethodList{Items: make([]PaymentMethodResponse, 0, len(items))}
		for _, m := range items {
			resp.Items = append(resp.Items, paymentMethodResponse(m))
		}
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-payment-method",
		Method:      http.MethodPost,
		Path:        "/payment-methods/{id}/verify",
		Summary:     "Mark a payout destination verified (admin)",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[PaymentMethodResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.VerifyPaymentMethod(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(paymentMethodResponse(m)), nil
	})
}
