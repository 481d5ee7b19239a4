package engine

import (
	"errors"
	"fmt"
)

// RunError represents an error detected while executing a test procedure.
//
// Run errors include:
//   - Unknown action: a step names an action type the executor has no
//     handler for (a definition defect, detected fail-fast)
//   - Failed action: a known action's execution failed
//   - No procedure: a trigger arrived with no active procedure
//   - Finished: a mutation was attempted after finalization
//
// RunError carries structured fields for diagnostics.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// Step identifies the affected step, when known.
	Step string

	// Action identifies the affected action type, when known.
	Action string

	// Err is the wrapped cause, when any.
	Err error
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeUnknownAction indicates an action type with no handler.
	ErrCodeUnknownAction RunErrorCode = "UNKNOWN_ACTION"

	// ErrCodeFailedAction indicates a known action failed to execute.
	ErrCodeFailedAction RunErrorCode = "FAILED_ACTION"

	// ErrCodeNoProcedure indicates no procedure is currently active.
	ErrCodeNoProcedure RunErrorCode = "NO_PROCEDURE"

	// ErrCodeFinished indicates the procedure has been finalized.
	ErrCodeFinished RunErrorCode = "FINISHED"

	// ErrCodeConflict indicates a lifecycle transition was attempted out
	// of order (double init, double start).
	ErrCodeConflict RunErrorCode = "CONFLICT"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	switch {
	case e.Step != "" && e.Action != "":
		return fmt.Sprintf("%s: %s (step=%s, action=%s)", e.Code, e.Message, e.Step, e.Action)
	case e.Step != "":
		return fmt.Sprintf("%s: %s (step=%s)", e.Code, e.Message, e.Step)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *RunError) Unwrap() error {
	return e.Err
}

// IsUnknownAction reports whether err is an unknown-action error.
// Uses errors.As to handle wrapped errors.
func IsUnknownAction(err error) bool {
	var re *RunError
	return errors.As(err, &re) && re.Code == ErrCodeUnknownAction
}

// IsFailedAction reports whether err is a failed-action error.
func IsFailedAction(err error) bool {
	var re *RunError
	return errors.As(err, &re) && re.Code == ErrCodeFailedAction
}

// IsNoProcedure reports whether err is a no-active-procedure error.
func IsNoProcedure(err error) bool {
	var re *RunError
	return errors.As(err, &re) && re.Code == ErrCodeNoProcedure
}

// IsFinished reports whether err is a procedure-finished error.
func IsFinished(err error) bool {
	var re *RunError
	return errors.As(err, &re) && re.Code == ErrCodeFinished
}

// IsConflict reports whether err is a lifecycle-conflict error.
func IsConflict(err error) bool {
	var re *RunError
	return errors.As(err, &re) && re.Code == ErrCodeConflict
}

// NewUnknownActionError creates a RunError for an unhandled action type.
func NewUnknownActionError(step, action string) *RunError {
	return &RunError{
		Code:    ErrCodeUnknownAction,
		Message: "no handler for action type",
		Step:    step,
		Action:  action,
	}
}

// NewFailedActionError creates a RunError wrapping an action failure.
func NewFailedActionError(step, action string, cause error) *RunError {
	return &RunError{
		Code:    ErrCodeFailedAction,
		Message: cause.Error(),
		Step:    step,
		Action:  action,
		Err:     cause,
	}
}
