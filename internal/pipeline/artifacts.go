package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/jonathan/design2code/internal/figma"
	"github.com/jonathan/design2code/internal/rendering"
	"github.com/jonathan/design2code/internal/schemas"
	"github.com/jonathan/design2code/internal/types"
)

// IRVersion is the current version of the design IR document.
const IRVersion = 1

// IR is the intermediate representation of a design node.
type IR struct {
	Version int      `json:"version"`
	Source  IRSource `json:"source"`
	Root    IRNode   `json:"root"`
}

// IRSource identifies where the IR was read from.
type IRSource struct {
	Tool         string `json:"tool"`
	FileKey      string `json:"fileKey"`
	NodeID       string `json:"nodeId"`
	SourceURL    string `json:"sourceUrl"`
	LastModified string `json:"lastModified,omitempty"`
}

// IRNode is one node of the design tree.
type IRNode struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Type     string   `json:"type"`
	Image    string   `json:"image,omitempty"`
	Children []IRNode `json:"children,omitempty"`
}

// Report summarizes a pipeline run.
type Report struct {
	Pipeline string    `json:"pipeline"`
	FileKey  string    `json:"fileKey"`
	NodeID   string    `json:"nodeId"`
	Fallback *Fallback `json:"fallback,omitempty"`
	Warnings []string  `json:"warnings"`
}

// Fallback marks a report produced by a stand-in pipeline.
type Fallback struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// assemble renders the project files and packages the IR, report and
// mappings of a run. The IR is validated before it is returned.
func assemble(ir IR, report Report, title, note string, image *types.NodeImage) (*types.Artifacts, error) {
	if report.Warnings == nil {
		report.Warnings = []string{}
	}

	irJSON, err := json.Marshal(ir)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal IR: %w", err)
	}
	if err := schemas.ValidateIR(irJSON); err != nil {
		return nil, fmt.Errorf("generated IR is invalid: %w", err)
	}

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}

	data := rendering.ProjectData{
		Title:     title,
		SourceURL: ir.Source.SourceURL,
		FileKey:   ir.Source.FileKey,
		NodeID:    ir.Source.NodeID,
		Pipeline:  report.Pipeline,
		Note:      note,
	}
	if image != nil {
		data.ImagePNGBase64 = image.PNGBase64
	}
	files, err := rendering.RenderProject(data)
	if err != nil {
		return nil, err
	}

	mappings := []types.Mapping{{
		NodeID:     ir.Root.ID,
		NodeName:   ir.Root.Name,
		Kind:       types.MappingKindComponent,
		TargetPath: rendering.PagePath,
	}}
	if data.HasImage() {
		mappings = append(mappings, types.Mapping{
			NodeID:     ir.Root.ID,
			NodeName:   ir.Root.Name,
			Kind:       types.MappingKindAsset,
			TargetPath: rendering.ImagePath,
		})
	}

	return &types.Artifacts{
		SnapshotHash: figma.SnapshotHash(ir.Source.FileKey, ir.Source.NodeID, ir.Source.LastModified, ir.Source.SourceURL),
		IR:           irJSON,
		Report:       reportJSON,
		Files:        files,
		Mappings:     mappings,
	}, nil
}

// projectTitle picks the display title of a project.
func projectTitle(p types.Project) string {
	if p.Name != "" {
		return p.Name
	}
	return "Design " + p.NodeID
}
