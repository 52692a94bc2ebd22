package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAnchorSelected is returned when a paste is triggered with no focused cell.
	ErrNoAnchorSelected = &ValidationError{Reason: "click on a cell before pasting"}
	// ErrNothingToSubmit is returned when submit is requested with an empty ledger.
	ErrNothingToSubmit = errors.New("no updates found to submit")
	// ErrNotAuthenticated is returned by session operations before login.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSubmitInProgress is returned when a second submit starts before the first finished.
	ErrSubmitInProgress = errors.New("submit already in progress")
)

// ValidationError reports a precondition violation that leaves state untouched.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// UnknownModuleError is returned for a module that is not in the catalog.
type UnknownModuleError struct {
	Module ModuleID
}

func (e UnknownModuleError) Error() string { return fmt.Sprintf("unknown module %q", string(e.Module)) }

// HeaderMismatchError aborts an upload whose header row differs from the schema.
type HeaderMismatchError struct {
	Module   ModuleID
	Expected []string
	Actual   []string
}

func (e *HeaderMismatchError) Error() string {
	return fmt.Sprintf("%s: spreadsheet headers do not match the expected format: expected %d columns but got %d",
		e.Module, len(e.Expected), len(e.Actual))
}

// AuthenticationError is returned when credentials are rejected.
type AuthenticationError struct {
	Identity string
	Err      error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed for %q: %v", e.Identity, e.Err)
	}
	return fmt.Sprintf("authentication failed for %q: invalid credentials", e.Identity)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ExportError reports a failure to build or store the report artifact.
type ExportError struct {
	Err error
}

func (e *ExportError) Error() string { return "export report: " + e.Err.Error() }

func (e *ExportError) Unwrap() error { return e.Err }

// DispatchError reports a failure to send the report notification.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string { return "dispatch report: " + e.Err.Error() }

func (e *DispatchError) Unwrap() error { return e.Err }
