package shared

import "errors"

var (
	// ErrValidation marks malformed input such as a non-positive amount or a missing field.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates the referenced invoice, pattern or schedule does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates the operation is not legal in the current lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrStorage wraps persistence failures and timeouts.
	ErrStorage = errors.New("storage failure")
)
