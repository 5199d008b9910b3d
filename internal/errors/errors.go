// internal/errors/errors.go
package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinel values used as errors.Is targets for the error taxonomy. The typed
// errors below all unwrap to one of these so callers can match on category
// without knowing the concrete type.
var (
	ErrNotFound             = stderrors.New("not found")
	ErrConflict             = stderrors.New("conflict")
	ErrInvalidInput         = stderrors.New("invalid input")
	ErrIllegalState         = stderrors.New("illegal state")
	ErrManagementNotAllowed = stderrors.New("management not allowed")
)

// NotFoundError reports that an entity could not be resolved.
type NotFoundError struct {
	Kind string // "workspace", "repository", "monitor", ...
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError reports a uniqueness or duplication violation, e.g. slug
// allocation exhausted or a repository already monitored.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InvalidInputError reports malformed caller input (bad slug, blank
// identifiers, bad repository format).
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string { return e.Reason }

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// IllegalStateError reports an operation attempted against a workspace whose
// status forbids it, e.g. resuming a purged workspace.
type IllegalStateError struct {
	Reason string
}

func (e *IllegalStateError) Error() string { return e.Reason }

func (e *IllegalStateError) Unwrap() error { return ErrIllegalState }

// ManagementNotAllowedError reports a manual repository add/remove against a
// workspace whose monitor set is driven by an app installation.
type ManagementNotAllowedError struct {
	Workspace string
}

func (e *ManagementNotAllowedError) Error() string {
	return fmt.Sprintf("workspace %q repositories are managed by its installation", e.Workspace)
}

func (e *ManagementNotAllowedError) Unwrap() error { return ErrManagementNotAllowed }

// ErrInvalidRepoFormat is returned when a repository string is not in
// 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

func (e *ErrInvalidRepoFormat) Unwrap() error { return ErrInvalidInput }

// Convenience matchers.

func IsNotFound(err error) bool             { return stderrors.Is(err, ErrNotFound) }
func IsConflict(err error) bool             { return stderrors.Is(err, ErrConflict) }
func IsInvalidInput(err error) bool         { return stderrors.Is(err, ErrInvalidInput) }
func IsIllegalState(err error) bool         { return stderrors.Is(err, ErrIllegalState) }
func IsManagementNotAllowed(err error) bool { return stderrors.Is(err, ErrManagementNotAllowed) }
