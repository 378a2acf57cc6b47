// Package pipeline turns a design reference into a generated code bundle.
//
// Two generators exist: Mock renders a template project without any external
// call and is always available; Figma fetches a render of the design node
// with the owner's access token and embeds it in the project.
package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/jonathan/design2code/internal/figma"
	"github.com/jonathan/design2code/internal/types"
)

// Pipeline names, recorded in the report.
const (
	NameMock  = "mock"
	NameFigma = "figma"
)

// Fallback reasons recorded when the mock pipeline stands in for the real one.
const (
	ReasonProvisional    = "provisional_template"
	ReasonNonFigmaSource = "non_figma_source"
	ReasonEphemeral      = "store_unavailable"
)

// ProgressEvent represents a progress update during a pipeline run
type ProgressEvent struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// Input is everything a generator needs for one run.
type Input struct {
	OwnerID      uuid.UUID
	Project      types.Project
	GenerationID uuid.UUID
	// Token is the owner's Figma access token. Only the Figma pipeline uses it.
	Token string
	// FallbackReason is recorded by the mock pipeline.
	FallbackReason string
	// Note is shown in the generated README and page.
	Note       string
	OnProgress ProgressCallback
}

// Generator produces the artifacts of a generation.
type Generator interface {
	Name() string
	Generate(ctx context.Context, in Input) (*types.Artifacts, error)
}

// NeedsCredential reports whether generating the project requires the
// owner's Figma access token.
func NeedsCredential(p types.Project) bool {
	return figma.IsFigmaURL(p.SourceURL)
}

func emitProgress(in Input, step, message string) {
	if in.OnProgress != nil {
		in.OnProgress(ProgressEvent{Step: step, Message: message})
	}
}
