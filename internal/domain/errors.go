package domain

import (
	"errors"
	"fmt"
)

// InvalidTransitionError reports a lifecycle change that is not legal from
// the entity's current state.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition %s -> %s (id=%s)", e.Entity, e.From, e.To, e.ID)
}

var (
	ErrDuplicateIntent  = errors.New("payment intent already exists for task")
	ErrDuplicateInvoice = errors.New("invoice already exists for task")
	ErrDuplicatePayout  = errors.New("payout already exists for payment intent")

	ErrPendingSubmission = errors.New("task already has a pending submission")
)

// DuplicateError is returned when a uniqueness invariant is already satisfied.
type DuplicateError struct {
	Entity string
	Key    string
	Err    error
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("%s (%s=%s)", e.Err, e.Entity, e.Key)
}

func (e DuplicateError) Unwrap() error { return e.Err }

// GatewayError records an outbound payment call that failed or timed out.
type GatewayError struct {
	Gateway string
	Op      string
	Reason  string
	Err     error
}

func (e GatewayError) Error() string {
	return fmt.Sprintf("gateway %s %s failed: %s", e.Gateway, e.Op, e.Reason)
}

func (e GatewayError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PreconditionError means the operation is well-formed but the entity is not
// ready for it (e.g. payout before payment completes).
type PreconditionError struct {
	Entity  string
	ID      string
	Message string
}

func (e PreconditionError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Message)
}
