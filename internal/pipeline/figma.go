package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/design2code/internal/types"
)

// ErrMissingToken is returned when the Figma pipeline runs without a token.
var ErrMissingToken = errors.New("figma access token is required")

// NoImageError is returned when Figma has no render for the node.
type NoImageError struct {
	FileKey string
	NodeID  string
}

func (e *NoImageError) Error() string {
	return fmt.Sprintf("figma returned no image for node %s in file %s; make sure the node is a frame and retry later",
		e.NodeID, e.FileKey)
}

// ImageFetcher fetches a PNG render of a design node.
type ImageFetcher interface {
	FetchNodeImage(ctx context.Context, ownerID uuid.UUID, fileKey, nodeID, token string) (*types.NodeImage, error)
}

// Figma generates a project around a render of the design node.
type Figma struct {
	images ImageFetcher
}

// NewFigma creates the Figma pipeline.
func NewFigma(images ImageFetcher) *Figma {
	return &Figma{images: images}
}

// Name returns the pipeline name.
func (f *Figma) Name() string {
	return NameFigma
}

// Generate fetches the node render and renders the project around it.
// Rate limit errors from the fetcher are returned unchanged so the caller
// can schedule a retry.
func (f *Figma) Generate(ctx context.Context, in Input) (*types.Artifacts, error) {
	if in.Token == "" {
		return nil, ErrMissingToken
	}
	p := in.Project

	emitProgress(in, "fetch_image", "fetching node render from Figma")
	img, err := f.images.FetchNodeImage(ctx, in.OwnerID, p.FileKey, p.NodeID, in.Token)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, &NoImageError{FileKey: p.FileKey, NodeID: p.NodeID}
	}

	title := projectTitle(p)
	emitProgress(in, "render", "rendering project")

	ir := IR{
		Version: IRVersion,
		Source: IRSource{
			Tool:      NameFigma,
			FileKey:   p.FileKey,
			NodeID:    p.NodeID,
			SourceURL: p.SourceURL,
		},
		Root: IRNode{
			ID:    p.NodeID,
			Name:  title,
			Type:  "FRAME",
			Image: img.SourceImageURL,
		},
	}
	report := Report{
		Pipeline: NameFigma,
		FileKey:  p.FileKey,
		NodeID:   p.NodeID,
	}

	return assemble(ir, report, title, in.Note, img)
}
