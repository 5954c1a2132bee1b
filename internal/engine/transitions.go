package engine

import (
	"maiguru/internal/domain"
)

// ensureTaskTransition checks one edge of the task lifecycle:
//
//	open            -> assigned, cancelled
//	assigned        -> in_progress, completed, cancelled
//	in_progress     -> review, revision_needed, completed, open (reject), cancelled
//	revision_needed -> in_progress, completed, cancelled
//	review          -> completed, revision_needed, open (reject), cancelled
//
// completed and cancelled are terminal.
func ensureTaskTransition(t domain.Task, to string) error {
	switch t.Status {
	case domain.TaskOpen:
		if to == domain.TaskAssigned || to == domain.TaskCancelled {
			return nil
		}
	case domain.TaskAssigned:
		if to == domain.TaskInProgress || to == domain.TaskCompleted || to == domain.TaskCancelled {
			return nil
		}
	case domain.TaskInProgress:
		switch to {
		case domain.TaskReview, domain.TaskRevisionNeeded, domain.TaskCompleted, domain.TaskOpen, domain.TaskCancelled:
			return nil
		}
	case domain.TaskRevisionNeeded:
		if to == domain.TaskInProgress || to == domain.TaskCompleted || to == domain.TaskCancelled {
			return nil
		}
	case domain.TaskReview:
		switch to {
		case domain.TaskCompleted, domain.TaskRevisionNeeded, domain.TaskOpen, domain.TaskCancelled:
			return nil
		}
	}
	return domain.InvalidTransitionError{Entity: "task", ID: t.ID, From: t.Status, To: to}
}

// ensureSubmissionTransition: a submission is reviewed exactly once, from pending.
func ensureSubmissionTransition(s domain.Submission, to string) error {
	if s.Status == domain.SubmissionPending {
		switch to {
		case domain.SubmissionAccepted, domain.SubmissionRejected, domain.SubmissionRevision:
			return nil
		}
	}
	return domain.InvalidTransitionError{Entity: "submission", ID: s.ID, From: s.Status, To: to}
}
