// Package apperrors defines the error kinds the HTTP boundary translates
// to status codes, plus the JSON error envelope shared by all handlers.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds. Wrap them with fmt.Errorf("...: %w", Err...) so handlers
// can classify with errors.Is while keeping the contextual message.
var (
	// ErrNotFound covers missing jobs, input files, and output files.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized covers invalid, expired, or wrongly-scoped tokens.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden covers requests with no token at all.
	ErrForbidden = errors.New("forbidden")

	// ErrPrecondition covers operations attempted in the wrong job state.
	ErrPrecondition = errors.New("precondition failed")

	// ErrSubmission covers workspace preparation, requirements-script, and
	// cluster-submit failures. The job row stays in CREATED and the caller
	// may retry.
	ErrSubmission = errors.New("job submission failed")
)

// HTTPErrorResponse is the JSON envelope written for every error response.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

type HTTPErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps an error to its HTTP status code and stable error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, ErrPrecondition):
		return http.StatusPreconditionFailed, "PRECONDITION_FAILED"
	case errors.Is(err, ErrSubmission):
		return http.StatusBadGateway, "SUBMISSION_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// NotFoundf builds a wrapped ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Submissionf builds a wrapped ErrSubmission.
func Submissionf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrSubmission)...)
}
