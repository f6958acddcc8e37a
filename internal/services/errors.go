package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks a reference to a job that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition marks a failed guard on a state machine transition.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrTransientDependency marks a downstream collaborator failure worth retrying.
	ErrTransientDependency = errors.New("transient dependency failure")
	// ErrWriteVerification marks a scoped update that affected zero rows.
	ErrWriteVerification = errors.New("write verification failed")
	ErrValidation        = errors.New("validation error")
	ErrConfiguration     = errors.New("configuration error")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransientDependency
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether err should be recorded and retried on a later
// claim cycle rather than surfaced to the caller.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrWriteVerification),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration):
		return false
	}
	return true
}

// ErrorCode returns a short stable code for persisting err on a job.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrWriteVerification):
		return "WRITE_VERIFICATION"
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrConfiguration):
		return "CONFIGURATION"
	default:
		return "TRANSIENT_DEPENDENCY"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
