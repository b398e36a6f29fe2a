package planning

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("planning already in progress or awaiting review for this date")
	ErrUnauthorized = errors.New("planning job belongs to another requester")
	ErrInvalidState = errors.New("planning job is not in a state that allows this action")
	ErrNotFound     = errors.New("planning job not found")
	// ErrDispatch means the job was created but could not be handed to the solver; it is now FAILED.
	ErrDispatch = errors.New("could not dispatch planning job")
)

// ValidationError describes why a submission was refused. OrderID is empty for
// problems that do not concern a single order.
type ValidationError struct {
	OrderID string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.OrderID == "" {
		return e.Reason
	}
	return fmt.Sprintf("order %s: %s", e.OrderID, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(orderID, format string, args ...any) error {
	return &ValidationError{OrderID: orderID, Reason: fmt.Sprintf(format, args...)}
}
