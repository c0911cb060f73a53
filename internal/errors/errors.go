package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrRegistryCorrupt - project registry file exists but cannot be parsed
	// (fatal at load; never auto-repaired so data loss stays explicit)
	ErrRegistryCorrupt = errors.New("registry corrupt")

	// ErrLockBusy - session lock held by another live process (caller may retry)
	ErrLockBusy = errors.New("lock busy")

	// ErrConfirmationPending - a confirmation is already outstanding for the turn
	ErrConfirmationPending = errors.New("confirmation already pending")

	// ErrConfig - malformed policy rule or unusable configuration (fatal at load)
	ErrConfig = errors.New("config error")

	// ErrInvalidInput - invalid input (show validation error, fail the call)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found (session, project, confirmation)
	ErrNotFound = errors.New("not found")

	// ErrStoreIO - operational store failure (disk full, permission denied)
	ErrStoreIO = errors.New("store io failure")

	// ErrInternal - internal error (generic message, fail the call)
	ErrInternal = errors.New("internal error")
)
