package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrEngineUnreachable  = errors.New("engine unreachable")
	ErrMissingInput       = errors.New("missing required input")
	ErrTooManySubjects    = errors.New("subject count exceeds supported maximum")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrDuplicateOperation = errors.New("duplicate operation")
)
