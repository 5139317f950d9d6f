package models

import "errors"

// Domain errors shared across the engine. Handlers translate these into
// HTTP status codes; internal callers match them with errors.Is.
var (
	// ErrNotFound indicates an unknown tier, request, entry or target id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidStateTransition indicates a decision was attempted on a
	// request that is not pending, typically after losing a conditional
	// write race with a concurrent decision.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrAlreadyDecided indicates a redundant decision on a request that
	// has already been approved or rejected. Surfaced separately from
	// ErrInvalidStateTransition so admin UIs can show "already processed"
	// on a double-tap instead of a generic failure.
	ErrAlreadyDecided = errors.New("request already decided")

	// ErrValidation indicates bad caller input, e.g. an unresolvable
	// target id or an unknown tier at request creation.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates a conditional write lost a race and the caller
	// should re-read before retrying.
	ErrConflict = errors.New("concurrent update conflict")
)
