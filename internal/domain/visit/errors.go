package visit

import "errors"

var (
	// ErrNotFound is returned when no visit exists for the given id.
	ErrNotFound = errors.New("visit not found")

	// ErrInvalidTransition is returned when the requested stage is not the
	// visit's current stage, or the acting role does not own that stage.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrPreconditionFailed is returned when a stage-specific business rule
	// blocks completion. The wrapped message names the unmet condition.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrVisitTerminal is returned for any stage mutation on a completed or
	// cancelled visit.
	ErrVisitTerminal = errors.New("visit is terminal")

	// ErrConcurrentModification is returned when the visit changed between
	// read and write. The caller should re-fetch and retry once.
	ErrConcurrentModification = errors.New("visit was modified concurrently")
)
