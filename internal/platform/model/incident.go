package model

import (
	"time"

	"github.com/google/uuid"
)

// IncidentStatus is the lifecycle state of a reported incident.
type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "OPEN"
	IncidentResolved IncidentStatus = "RESOLVED"
)

// Incident is a citizen- or operator-reported problem with one of an
// organization's AI systems. Open incidents penalize the integrity score;
// opening and resolving incidents are notarized on the organization's chain.
type Incident struct {
	ID                uuid.UUID      `json:"id"`
	OrgID             uuid.UUID      `json:"org_id"`
	ReporterEmail     string         `json:"reporter_email"`
	SystemName        string         `json:"system_name,omitempty"`
	Description       string         `json:"description"`
	Status            IncidentStatus `json:"status"`
	ResolutionDetails string         `json:"resolution_details,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// CreateIncidentRequest is the payload for reporting an incident.
type CreateIncidentRequest struct {
	ReporterEmail string `json:"reporter_email" binding:"required,email"`
	SystemName    string `json:"system_name"`
	Description   string `json:"description" binding:"required"`
}

// ResolveIncidentRequest is the payload for resolving an incident.
type ResolveIncidentRequest struct {
	ResolutionDetails string `json:"resolution_details" binding:"required"`
}
