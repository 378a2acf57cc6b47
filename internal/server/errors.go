package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/design2code/internal/db"
	"github.com/jonathan/design2code/internal/export"
	"github.com/jonathan/design2code/internal/figma"
	"github.com/jonathan/design2code/internal/generation"
	"github.com/jonathan/design2code/internal/jobs"
	"github.com/jonathan/design2code/internal/secrets"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrUnauthorized indicates a missing or rejected credential.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message == "" {
		return "unauthorized"
	}
	return e.Message
}

// ErrCronSecretMissing is returned when the cron endpoint is called without
// the platform header and no shared secret is configured.
var ErrCronSecretMissing = errors.New("CRON_SECRET is not configured (required outside the platform scheduler)")

// ErrStoreUnavailable is returned by routes that need a persistent store.
var ErrStoreUnavailable = errors.New("store unavailable")

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validation   *ErrValidation
		unauthorized *ErrUnauthorized
		rateLimited  *figma.RateLimitError
		upstream     *figma.Error
		duplicate    *db.DuplicateJobError
		pathErr      *export.PathError
		fieldErrs    validator.ValidationErrors
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &fieldErrs), errors.As(err, &pathErr):
		return http.StatusBadRequest
	case errors.As(err, &unauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, generation.ErrNotFound), errors.Is(err, generation.ErrProjectNotFound),
		errors.Is(err, generation.ErrProfileNotFound),
		errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, jobs.ErrNotKickable):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrNotCancellable), errors.Is(err, jobs.ErrLeaseLost), errors.As(err, &duplicate):
		return http.StatusConflict
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	case errors.Is(err, secrets.ErrMissingKey), errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns the machine-readable code of an error response.
func ErrorCode(err error) string {
	var (
		validation   *ErrValidation
		unauthorized *ErrUnauthorized
		rateLimited  *figma.RateLimitError
		upstream     *figma.Error
		pathErr      *export.PathError
		fieldErrs    validator.ValidationErrors
		duplicate    *db.DuplicateJobError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &fieldErrs), errors.As(err, &pathErr):
		return "invalid_request"
	case errors.As(err, &unauthorized):
		return "unauthorized"
	case errors.Is(err, generation.ErrNotFound):
		return "not_found"
	case errors.Is(err, generation.ErrProjectNotFound):
		return "project_not_found"
	case errors.Is(err, generation.ErrProfileNotFound):
		return "profile_not_found"
	case errors.Is(err, jobs.ErrJobNotFound):
		return "job_not_found"
	case errors.Is(err, jobs.ErrNotKickable):
		return "job_not_kickable"
	case errors.Is(err, jobs.ErrNotCancellable):
		return "job_not_cancellable"
	case errors.Is(err, jobs.ErrLeaseLost), errors.As(err, &duplicate):
		return "job_conflict"
	case errors.As(err, &rateLimited):
		return "rate_limited"
	case errors.As(err, &upstream):
		return "upstream_error"
	case errors.Is(err, secrets.ErrMissingKey):
		return "secrets_key_missing"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrCronSecretMissing):
		return "cron_secret_missing"
	default:
		return "internal_error"
	}
}
