package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Generation status constants
const (
	GenerationStatusQueued    = "queued"
	GenerationStatusRunning   = "running"
	GenerationStatusSucceeded = "succeeded"
	GenerationStatusFailed    = "failed"
)

// File kinds
const (
	FileKindText   = "text"
	FileKindBinary = "binary"
)

// Mapping kinds
const (
	MappingKindComponent = "component"
	MappingKindAsset     = "asset"
)

// Generation is one produced artifact set for a project. FileKey, NodeID and
// SourceURL record the project source at creation time.
type Generation struct {
	ID           uuid.UUID       `json:"id"`
	ProjectID    uuid.UUID       `json:"projectId"`
	ProfileID    *uuid.UUID      `json:"profileId,omitempty"`
	Status       string          `json:"status"`
	FileKey      string          `json:"fileKey"`
	NodeID       string          `json:"nodeId"`
	SourceURL    string          `json:"sourceUrl"`
	SnapshotHash *string         `json:"snapshotHash,omitempty"`
	IR           json.RawMessage `json:"ir,omitempty"`
	Report       json.RawMessage `json:"report,omitempty"`
	ErrorJSON    json.RawMessage `json:"errorJson,omitempty"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// GeneratedFile is one output file. Binary content is base64 encoded.
type GeneratedFile struct {
	Path    string `json:"path" validate:"required,max=512"`
	Kind    string `json:"kind" validate:"omitempty,oneof=text binary"`
	Content string `json:"content"`
}

// Mapping links a design node to the output file that renders it.
type Mapping struct {
	NodeID     string `json:"nodeId"`
	NodeName   string `json:"nodeName,omitempty"`
	Kind       string `json:"kind"`
	TargetPath string `json:"targetPath"`
}

// Artifacts is everything a pipeline run produces for a generation.
type Artifacts struct {
	SnapshotHash string          `json:"snapshotHash"`
	IR           json.RawMessage `json:"ir"`
	Report       json.RawMessage `json:"report"`
	Files        []GeneratedFile `json:"files"`
	Mappings     []Mapping       `json:"mappings"`
}

// GenerationUpdate carries the fields changed by a generation status transition.
// Nil fields are left untouched; ClearError wipes ErrorJSON.
type GenerationUpdate struct {
	Status     string
	StartedAt  *time.Time
	FinishedAt *time.Time
	ErrorJSON  json.RawMessage
	ClearError bool
}

// generationMarker is the subset of ErrorJSON used to tag special generations.
type generationMarker struct {
	Provisional bool   `json:"provisional"`
	State       string `json:"state"`
}

func (g *Generation) marker() generationMarker {
	var m generationMarker
	if len(g.ErrorJSON) == 0 {
		return m
	}
	_ = json.Unmarshal(g.ErrorJSON, &m)
	return m
}

// IsProvisional reports whether the generation is a fast placeholder
// standing in for the authoritative result.
func (g *Generation) IsProvisional() bool {
	return g.marker().Provisional
}

// WaitState returns the wait marker written while the job backs off, if any.
func (g *Generation) WaitState() string {
	return g.marker().State
}

// Bundle is a generation together with its project and attached collections.
type Bundle struct {
	Project    Project         `json:"project"`
	Generation Generation      `json:"generation"`
	Files      []GeneratedFile `json:"files"`
	Mappings   []Mapping       `json:"mappings"`
}
