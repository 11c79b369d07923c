// Package apperr defines the error taxonomy shared by the coordinators and the
// command layer. Callers wrap these with fmt.Errorf("...: %w", err) and match
// them with errors.Is.
package apperr

import "errors"

var (
	// ErrNotFound means the token or record is absent or already consumed.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the write would violate a uniqueness rule, e.g. a second
	// activation of the same token or a second open attendance session.
	ErrConflict = errors.New("conflict")
	// ErrSinkUnavailable means the destination could not be reached or the bot
	// lacks permission to post there.
	ErrSinkUnavailable = errors.New("sink unavailable")
	// ErrConfigMissing means a required per-guild setting is absent.
	ErrConfigMissing = errors.New("config missing")
	// ErrInvalidInput means user supplied arguments could not be accepted.
	ErrInvalidInput = errors.New("invalid input")
)
