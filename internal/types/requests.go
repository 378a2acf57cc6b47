package types

import (
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// GenerateRequest is the body of a create-generation call.
type GenerateRequest struct {
	SourceURL string     `json:"sourceUrl" validate:"required,url,max=2048"`
	ProfileID *uuid.UUID `json:"profileId,omitempty"`
	ProjectID *uuid.UUID `json:"projectId,omitempty"`
}

// Validate validates the GenerateRequest using the validator.
func (r *GenerateRequest) Validate() error {
	return validate.Struct(r)
}

// GenerateResponse is returned by a create-generation call. In ephemeral
// mode only Saved=false and Bundle are set.
type GenerateResponse struct {
	Saved                bool       `json:"saved"`
	ProjectID            *uuid.UUID `json:"projectId,omitempty"`
	GenerationID         *uuid.UUID `json:"generationId,omitempty"`
	UpdatingGenerationID *uuid.UUID `json:"updatingGenerationId"`
	Cached               bool       `json:"cached"`
	Provisional          bool       `json:"provisional"`
	NeedsCredential      bool       `json:"needsCredential"`
	Bundle               *Bundle    `json:"bundle,omitempty"`
}

// FigmaTokenRequest stores a personal access token for the caller.
type FigmaTokenRequest struct {
	Token string `json:"token" validate:"required,min=8,max=512"`
}

// Validate validates the FigmaTokenRequest using the validator.
func (r *FigmaTokenRequest) Validate() error {
	return validate.Struct(r)
}

// KickRequest may carry the shared secret when the caller has no session.
type KickRequest struct {
	Token string `json:"token,omitempty"`
}

// ExportZipRequest is a caller-supplied file list to archive.
type ExportZipRequest struct {
	Filename string          `json:"filename,omitempty" validate:"omitempty,max=200"`
	Files    []GeneratedFile `json:"files" validate:"required,min=1,max=500,dive"`
}

// Validate validates the ExportZipRequest using the validator.
func (r *ExportZipRequest) Validate() error {
	return validate.Struct(r)
}
