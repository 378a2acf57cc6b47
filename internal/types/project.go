package types

import (
	"time"

	"github.com/google/uuid"
)

// Project is a design reference owned by a user. Owner, file key and node id
// form its natural key.
type Project struct {
	ID               uuid.UUID  `json:"id"`
	OwnerID          uuid.UUID  `json:"ownerId"`
	Name             string     `json:"name"`
	SourceURL        string     `json:"sourceUrl"`
	FileKey          string     `json:"fileKey"`
	NodeID           string     `json:"nodeId"`
	DefaultProfileID *uuid.UUID `json:"defaultProfileId"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// SameSource reports whether the project points at fileKey and nodeID.
func (p *Project) SameSource(fileKey, nodeID string) bool {
	return p.FileKey == fileKey && p.NodeID == nodeID
}

// ProjectInput is used to resolve or create a project. A nil
// DefaultProfileID keeps the stored one.
type ProjectInput struct {
	OwnerID          uuid.UUID
	Name             string
	SourceURL        string
	FileKey          string
	NodeID           string
	DefaultProfileID *uuid.UUID
}

// ProjectSummary is a project row of the project list.
type ProjectSummary struct {
	Project
	LastGenerationID *uuid.UUID `json:"lastGenerationId"`
}

// Default profile settings
const (
	DefaultProfileName    = "Default Production"
	ProfileModeProduction = "production"
	OutputTargetNextJS    = "nextjs_tailwind"
)

// Profile is a named set of generation settings owned by a user.
type Profile struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      uuid.UUID `json:"ownerId"`
	Name         string    `json:"name"`
	Mode         string    `json:"mode"`
	OutputTarget string    `json:"outputTarget"`
	CreatedAt    time.Time `json:"createdAt"`
}
