package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrRequestNotFound = errors.New("request not found")
	ErrSubjectNotFound = errors.New("subject not found")
)

// InvalidTransitionError is returned when the requested target status is
// not reachable from the current status for the request's kind.
type InvalidTransitionError struct {
	Kind    Kind
	Current Status
	Target  Status
	Event   Event
}

func (e *InvalidTransitionError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s: no transition from %q to %q", e.Kind, e.Current, e.Target)
	}
	return fmt.Sprintf("%s: event %q is not valid from %q", e.Kind, e.Event, e.Current)
}

// AlreadyFinalizedError is returned when a request in a terminal status is
// asked to move to a different status.
type AlreadyFinalizedError struct {
	RequestID string
	Status    Status
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("request %s is already finalized in status %q", e.RequestID, e.Status)
}

// UnauthorizedTransitionError is returned when the acting role is not
// permitted on the requested edge.
type UnauthorizedTransitionError struct {
	Role    Role
	Current Status
	Target  Status
}

func (e *UnauthorizedTransitionError) Error() string {
	return fmt.Sprintf("role %q may not transition %q to %q", e.Role, e.Current, e.Target)
}

// ResourceUnavailableError is returned when the referenced subject is
// already committed to another non-terminal request, or an aid program has
// no spots left.
type ResourceUnavailableError struct {
	SubjectID string
	Reason    string
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("subject %s is unavailable: %s", e.SubjectID, e.Reason)
}

// ValidationError is returned when an input violates a data-model
// invariant before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
