package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/design2code/internal/db"
	"github.com/jonathan/design2code/internal/export"
	"github.com/jonathan/design2code/internal/figma"
	"github.com/jonathan/design2code/internal/generation"
	"github.com/jonathan/design2code/internal/jobs"
	"github.com/jonathan/design2code/internal/secrets"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "sourceUrl", Message: "invalid format"}
	assert.Equal(t, "validation error: sourceUrl - invalid format", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestErrUnauthorized(t *testing.T) {
	assert.Equal(t, "unauthorized", (&ErrUnauthorized{}).Error())
	assert.Equal(t, "Sign in required.", (&ErrUnauthorized{Message: "Sign in required."}).Error())
}

func TestHTTPStatusAndCode(t *testing.T) {
	type sourceRequest struct {
		URL string `validate:"required"`
	}
	fieldErr := validator.New().Struct(sourceRequest{})

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &ErrValidation{Field: "id", Message: "bad"}, http.StatusBadRequest, "invalid_request"},
		{"validator", fieldErr, http.StatusBadRequest, "invalid_request"},
		{"export path", &export.PathError{Path: "../x", Reason: "bad"}, http.StatusBadRequest, "invalid_request"},
		{"unauthorized", &ErrUnauthorized{}, http.StatusUnauthorized, "unauthorized"},
		{"not found", generation.ErrNotFound, http.StatusNotFound, "not_found"},
		{"wrapped not found", fmt.Errorf("load: %w", generation.ErrNotFound), http.StatusNotFound, "not_found"},
		{"project not found", generation.ErrProjectNotFound, http.StatusNotFound, "project_not_found"},
		{"profile not found", generation.ErrProfileNotFound, http.StatusNotFound, "profile_not_found"},
		{"job not found", jobs.ErrJobNotFound, http.StatusNotFound, "job_not_found"},
		{"not kickable", jobs.ErrNotKickable, http.StatusNotFound, "job_not_kickable"},
		{"not cancellable", jobs.ErrNotCancellable, http.StatusConflict, "job_not_cancellable"},
		{"duplicate job", &db.DuplicateJobError{ProjectID: uuid.New(), GenerationID: uuid.New()}, http.StatusConflict, "job_conflict"},
		{"rate limited", &figma.RateLimitError{Label: "x", Status: 429, RetryAfterSec: 5}, http.StatusTooManyRequests, "rate_limited"},
		{"upstream", &figma.Error{URL: "u", StatusCode: 500, Message: "boom"}, http.StatusBadGateway, "upstream_error"},
		{"missing key", secrets.ErrMissingKey, http.StatusServiceUnavailable, "secrets_key_missing"},
		{"store unavailable", ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
		{"cron secret", ErrCronSecretMissing, http.StatusInternalServerError, "cron_secret_missing"},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
			assert.Equal(t, tt.code, ErrorCode(tt.err))
		})
	}
}
