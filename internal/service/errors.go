package service

import "errors"

// Failure kinds returned by the session lifecycle operations. Callers match
// them with errors.Is; messages carry the detail.
var (
	ErrNotFound         = errors.New("not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrInvalidState     = errors.New("invalid state")
	ErrLocked           = errors.New("session is locked")
	ErrTimeExpired      = errors.New("exam time expired")
	ErrLimitExceeded    = errors.New("attempt limit exceeded")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyCompleted = errors.New("session already completed")
	ErrValidation       = errors.New("validation failed")
)
