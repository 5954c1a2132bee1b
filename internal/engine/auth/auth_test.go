package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maiguru/internal/domain"
)

func TestCheckTaskCapabilities(t *testing.T) {
	expertID := "exp-1"
	task := domain.Task{ID: "t1", ClientID: "cli-1", AssignedExpertID: &expertID}
	client := domain.Actor{ID: "cli-1", Role: domain.RoleClient}
	otherClient := domain.Actor{ID: "cli-2", Role: domain.RoleClient}
	expert := domain.Actor{ID: "exp-1", Role: domain.RoleExpert}
	otherExpert := domain.Actor{ID: "exp-2", Role: domain.RoleExpert}
	admin := domain.Actor{ID: "adm", Role: domain.RoleAdmin}

	cases := []struct {
		name   string
		actor  domain.Actor
		action Action
		allow  bool
	}{
		{"client assigns", client, ActionAssignExpert, true},
		{"admin assigns", admin, ActionAssignExpert, true},
		{"other client assigns", otherClient, ActionAssignExpert, false},
		{"expert assigns", expert, ActionAssignExpert, false},
		{"expert starts", expert, ActionStartWork, true},
		{"other expert starts", otherExpert, ActionStartWork, false},
		{"client starts", client, ActionStartWork, false},
		{"expert submits", expert, ActionCreateSubmission, true},
		{"client reviews", client, ActionReviewSubmission, true},
		{"admin reviews", admin, ActionReviewSubmission, false},
		{"admin cancels", admin, ActionCancelTask, true},
		{"expert cancels", expert, ActionCancelTask, false},
		{"expert views", expert, ActionViewTask, true},
		{"other expert views", otherExpert, ActionViewTask, false},
		{"client refunds", client, ActionRefundPayment, false},
		{"admin refunds", admin, ActionRefundPayment, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Check(tc.actor, tc.action, ForTask(task))
			if tc.allow {
				assert.NoError(t, err)
				return
			}
			var unauth UnauthorizedError
			require.True(t, errors.As(err, &unauth), "expected UnauthorizedError, got %v", err)
			assert.Equal(t, tc.actor.ID, unauth.ActorID)
			assert.Equal(t, tc.action, unauth.Action)
		})
	}
}

func TestCheckOwnerScopedActions(t *testing.T) {
	expert := domain.Actor{ID: "exp-1", Role: domain.RoleExpert}
	assert.NoError(t, Check(expert, ActionAddPaymentMethod, ForOwner("exp-1")))
	assert.Error(t, Check(expert, ActionAddPaymentMethod, ForOwner("exp-2")))
	assert.Error(t, Check(expert, ActionVerifyPaymentMethod, ForOwner("exp-1")))
	assert.NoError(t, Check(domain.Actor{ID: "c", Role: domain.RoleClient}, ActionCreateTask, Target{}))
	assert.Error(t, Check(expert, ActionCreateTask, Target{}))
}

func TestUnassignedTaskHasNoExpert(t *testing.T) {
	task := domain.Task{ID: "t1", ClientID: "cli-1"}
	err := Check(domain.Actor{ID: "exp-1", Role: domain.RoleExpert}, ActionStartWork, ForTask(task))
	assert.Error(t, err)
}

func TestRequireRole(t *testing.T) {
	assert.NoError(t, RequireRole(domain.Actor{ID: "a", Role: domain.RoleExpert}, ActionAssignExpert, domain.RoleExpert))
	assert.Error(t, RequireRole(domain.Actor{ID: "a", Role: domain.RoleClient}, ActionAssignExpert, domain.RoleExpert))
}
