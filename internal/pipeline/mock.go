package pipeline

import (
	"context"

	"github.com/jonathan/design2code/internal/types"
)

// Mock renders the template project without contacting any external service.
type Mock struct{}

// NewMock creates the mock pipeline.
func NewMock() *Mock {
	return &Mock{}
}

// Name returns the pipeline name.
func (m *Mock) Name() string {
	return NameMock
}

// Generate renders the template project for the input's project.
func (m *Mock) Generate(ctx context.Context, in Input) (*types.Artifacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := in.Project
	title := projectTitle(p)
	emitProgress(in, "render", "rendering template project")

	reason := in.FallbackReason
	if reason == "" {
		reason = ReasonProvisional
	}

	ir := IR{
		Version: IRVersion,
		Source: IRSource{
			Tool:      NameMock,
			FileKey:   p.FileKey,
			NodeID:    p.NodeID,
			SourceURL: p.SourceURL,
		},
		Root: IRNode{
			ID:   p.NodeID,
			Name: title,
			Type: "FRAME",
			Children: []IRNode{
				{ID: p.NodeID + "/title", Name: "Title", Type: "TEXT"},
				{ID: p.NodeID + "/source", Name: "Source", Type: "TEXT"},
			},
		},
	}
	report := Report{
		Pipeline: NameMock,
		FileKey:  p.FileKey,
		NodeID:   p.NodeID,
		Fallback: &Fallback{Type: NameMock, Reason: reason},
		Warnings: []string{"design content was not fetched; output is a template"},
	}

	return assemble(ir, report, title, in.Note, nil)
}
