package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"maiguru/internal/domain"
	"maiguru/internal/engine"
	"maiguru/internal/repo"
)

var transitionErrors = []int{
	http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound,
	http.StatusConflict, http.StatusPreconditionFailed,
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Post a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*response[TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			ClientID:    input.Body.ClientID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Category:    input.Body.Category,
			Complexity:  input.Body.Complexity,
			BudgetTier:  input.Body.BudgetTier,
			Deadline:    input.Body.Deadline,
			ActorID:     actorID,
		}
		if input.Body.EstimatedPrice != nil {
			price, err := parseMoney("estimated_price", *input.Body.EstimatedPrice)
			if err != nil {
				return nil, handleError(err)
			}
			opts.EstimatedPrice = &price
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List the tasks visible to the caller",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"open,assigned,in_progress,revision_needed,review,completed,cancelled"`
		Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*response[taskList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListTasks(ctx, repo.TaskFilter{Status: input.Status, Limit: input.Limit}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskList{Items: mapTasks(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get a task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-expert",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/assign",
		Summary:     "Assign an expert (open -> assigned)",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AssignRequest `json:"body"`
	}) (*response[TaskResponse], error) {
		return taskAction(ctx, func(actorID string) (domain.Task, error) {
			return e.AssignExpert(ctx, input.ID, input.Body.ExpertID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-work",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/start",
		Summary:     "Start work (assigned -> in_progress)",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[TaskResponse], error) {
		return taskAction(ctx, func(actorID string) (domain.Task, error) {
			return e.StartWork(ctx, input.ID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-for-review",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/review",
		Summary:     "Hand the pending submission over for review (in_progress -> review)",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[TaskResponse], error) {
		return taskAction(ctx, func(actorID string) (domain.Task, error) {
			return e.MarkForReview(ctx, input.ID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-task-revision",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/request-revision",
		Summary:     "Send the pending submission back with feedback",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body FeedbackRequest `json:"body"`
	}) (*response[TaskResponse], error) {
		return taskAction(ctx, func(actorID string) (domain.Task, error) {
			return e.RequestRevision(ctx, input.ID, input.Body.Feedback, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/cancel",
		Summary:     "Cancel a task that is not yet terminal",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body CancelRequest `json:"body" required:"false"`
	}) (*response[TaskResponse], error) {
		return taskAction(ctx, func(actorID string) (domain.Task, error) {
			return e.CancelTask(ctx, input.ID, input.Body.Reason, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "price-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/price",
		Summary:     "Fix the final price",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body PriceRequest `json:"body"`
	}) (*response[TaskResponse], error) {
		amount, err := parseMoney("amount", input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		return taskAction(ctx, func(actorID string) (domain.Task, error) {
			return e.PriceTask(ctx, input.ID, amount, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Accept the pending submission and complete the task",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[AcceptResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CompleteTask(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(acceptResponse(res)), nil
	})
}

func taskAction(ctx context.Context, fn func(actorID string) (domain.Task, error)) (*response[TaskResponse], error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	t, err := fn(actorID)
	if err != nil {
		return nil, handleError(err)
	}
	return reply(taskResponse(t)), nil
}

func acceptResponse(res engine.AcceptResult) AcceptResponse {
	out := AcceptResponse{
		Submission: submissionResponse(res.Submission),
		Task:       taskResponse(res.Task),
	}
	if res.Invoice != nil {
		inv := invoiceResponse(*res.Invoice)
		out.Invoice = &inv
	}
	if res.InvoiceError != nil {
		out.InvoiceError = res.InvoiceError.Error()
	}
	return out
}

func registerSubmissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-submission",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/submissions",
		Summary:       "Deliver work for a task",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body CreateSubmissionRequest `json:"body"`
	}) (*response[SubmissionResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSubmission(ctx, input.ID, input.Body.Content, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(submissionResponse(s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-submissions",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/submissions",
		Summary:     "List a task's submissions",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[submissionList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListSubmissions(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := submissionList{Items: make([]SubmissionResponse, 0, len(items))}
		for _, s := range items {
			resp.Items = append(resp.Items, submissionResponse(s))
		}
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-submission",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/accept",
		Summary:     "Accept a submission; completes the task and issues the invoice",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[AcceptResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.AcceptSubmission(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(acceptResponse(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-submission",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/reject",
		Summary:     "Reject a submission and reopen the task",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body FeedbackRequest `json:"body" required:"false"`
	}) (*response[ReviewResponse], error) {
		return reviewAction(ctx, func(actorID string) (domain.Submission, domain.Task, error) {
			return e.RejectSubmission(ctx, input.ID, input.Body.Feedback, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-submission-revision",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/request-revision",
		Summary:     "Ask the expert to revise a submission",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body FeedbackRequest `json:"body"`
	}) (*response[ReviewResponse], error) {
		return reviewAction(ctx, func(actorID string) (domain.Submission, domain.Task, error) {
			return e.RequestSubmissionRevision(ctx, input.ID, input.Body.Feedback, actorID)
		})
	})
}

func reviewAction(ctx context.Context, fn func(actorID string) (domain.Submission, domain.Task, error)) (*response[ReviewResponse], error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	s, t, err := fn(actorID)
	if err != nil {
		return nil, handleError(err)
	}
	return reply(ReviewResponse{Submission: submissionResponse(s), Task: taskResponse(t)}), nil
}
