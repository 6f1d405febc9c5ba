package domain

import (
	"fmt"
	"time"
)

// ValidationError reports missing or malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// NotFoundError is returned both when a record is absent and when it exists
// but is outside the caller's scope.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

type AlreadySoldError struct {
	TicketID string
}

func (e AlreadySoldError) Error() string {
	return fmt.Sprintf("ticket %s already sold", e.TicketID)
}

// ResourceContentionError means the retry budget ran out while the store kept
// reporting lock or serialization conflicts.
type ResourceContentionError struct {
	Op       string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ResourceContentionError) Error() string {
	return fmt.Sprintf("%s: resource contention after %d attempts in %s: %v", e.Op, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *ResourceContentionError) Unwrap() error { return e.Err }

type AuthenticationError struct {
	Reason string
}

func (e AuthenticationError) Error() string {
	if e.Reason == "" {
		return "authentication required"
	}
	return e.Reason
}

// ConflictError reports a uniqueness violation such as a taken username.
type ConflictError struct {
	Resource string
	Reason   string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s", e.Resource, e.Reason)
}
