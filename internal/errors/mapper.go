package errors

import (
	"errors"
	"fmt"
)

// Category returns the Kado error category name for an error.
func Category(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRegistryCorrupt):
		return "ErrRegistryCorrupt"
	case errors.Is(err, ErrLockBusy):
		return "ErrLockBusy"
	case errors.Is(err, ErrConfirmationPending):
		return "ErrConfirmationPending"
	case errors.Is(err, ErrConfig):
		return "ErrConfig"
	case errors.Is(err, ErrInvalidInput):
		return "ErrInvalidInput"
	case errors.Is(err, ErrNotFound):
		return "ErrNotFound"
	case errors.Is(err, ErrStoreIO):
		return "ErrStoreIO"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	default:
		return "Unknown"
	}
}

// IsOperational reports whether an error is a system failure rather than an
// expected control-flow outcome. Callers use this to keep "the system broke"
// distinct from "the request was refused" in user-facing output.
func IsOperational(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStoreIO) ||
		errors.Is(err, ErrRegistryCorrupt) ||
		errors.Is(err, ErrConfig) ||
		errors.Is(err, ErrInternal)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// Wrap wraps an error with context using Kado error categories
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// StoreIO wraps an underlying I/O failure as an operational store error,
// keeping the cause in the chain.
func StoreIO(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %v: %w", message, err, ErrStoreIO)
}

// NotFound wraps error as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// Config wraps error as a load-time configuration error
func Config(message string) error {
	return fmt.Errorf("%s: %w", message, ErrConfig)
}
