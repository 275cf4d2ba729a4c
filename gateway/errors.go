package gateway

import (
	"errors"
	"fmt"

	"github.com/cloudreap/cloudreap/types"
)

// AuthError means the credential was rejected. Fatal for that credential for
// the current run only.
type AuthError struct {
	Tenant   string
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s@%s: %v", e.Username, e.Tenant, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError wraps a failure worth retrying on the next scheduled run:
// timeouts, 5xx responses, connection resets.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NotFoundError means the resource is already absent.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource %s not found", e.ID)
}

// InUseError means the cloud refused the deletion because the resource is
// still in use (or protected). Benign; re-checked next run.
type InUseError struct {
	ID     string
	Reason string
}

func (e *InUseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("resource %s is in use", e.ID)
	}
	return fmt.Sprintf("resource %s is in use: %s", e.ID, e.Reason)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsInUse reports whether err is an InUseError.
func IsInUse(err error) bool {
	var iu *InUseError
	return errors.As(err, &iu)
}

// OutcomeForError maps a Delete result to the outcome recorded in tracking.
func OutcomeForError(err error) types.Outcome {
	switch {
	case err == nil:
		return types.OutcomeSuccess
	case IsNotFound(err):
		return types.OutcomeNotFound
	case IsInUse(err):
		return types.OutcomeInUse
	default:
		return types.OutcomeFailed
	}
}
