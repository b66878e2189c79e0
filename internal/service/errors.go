package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFieldNotFound is returned for unknown fields and for writes by
	// anyone other than the owner.
	ErrFieldNotFound = errors.New("field not found")

	// ErrPermissionNotFoundOrUnauthorized is deliberately uniform so callers
	// cannot discover which permission ids exist.
	ErrPermissionNotFoundOrUnauthorized = errors.New("permission not found or not authorized")

	// ErrProviderAccessNotFound covers unknown grants and grants owned by
	// another farmer.
	ErrProviderAccessNotFound = errors.New("provider access not found or not authorized")

	// ErrInvalidTransition is returned when a permission is not in a state
	// the requested action applies to.
	ErrInvalidTransition = errors.New("invalid permission transition")

	// ErrValidation wraps attribute validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrUserNotFound is returned by user directories.
	ErrUserNotFound = errors.New("user not found")
)

// OverlapConflictError rejects a write whose boundary conflicts with
// existing fields.
type OverlapConflictError struct {
	FieldNames []string
}

func (e *OverlapConflictError) Error() string {
	return fmt.Sprintf("field boundary overlaps existing field(s): %s", strings.Join(e.FieldNames, ", "))
}

// TransitionError describes a rejected workflow transition on a permission
// or provider grant.
type TransitionError struct {
	Kind   string // "permission" or "provider access"
	From   string
	Action string
}

func (e *TransitionError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "permission"
	}
	return fmt.Sprintf("cannot %s a %s %s", e.Action, e.From, kind)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// StaleStatusError is returned by a store when a status update expected
// one status but found another, because a concurrent writer got there
// first.
type StaleStatusError struct {
	Current string
}

func (e *StaleStatusError) Error() string {
	return fmt.Sprintf("status changed concurrently, now %s", e.Current)
}

func (e *StaleStatusError) Unwrap() error { return ErrInvalidTransition }

// lostTransition turns a StaleStatusError into the TransitionError the
// caller would have seen had it read the winning status. Other errors are
// returned as is.
func lostTransition(err error, kind, action string) error {
	var stale *StaleStatusError
	if errors.As(err, &stale) {
		return &TransitionError{Kind: kind, From: stale.Current, Action: action}
	}
	return err
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
