package store

import "errors"

// Sentinel error kinds. Callers classify failures with errors.Is; the HTTP
// layer maps them to status codes.
var (
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a lock or status precondition failed; nothing was written.
	ErrConflict = errors.New("conflict")
	// ErrForbidden means the caller is not allowed to act on the entity.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalid means the input failed validation.
	ErrInvalid = errors.New("invalid")
)
