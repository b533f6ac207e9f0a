package model

import (
	"time"

	"github.com/google/uuid"
)

// Organization is a tenant of the compliance platform. Each organization owns
// an independent ledger chain, its own requirements and incidents, and a
// cached integrity score.
type Organization struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Industry string    `json:"industry,omitempty"`

	// IntegrityScore is the cached 0–100 weighted compliance score, updated
	// by the intelligence aggregator. The authoritative inputs are the
	// requirement and incident tables; this field is derived.
	IntegrityScore int `json:"integrity_score"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateOrganizationRequest is the payload for registering an organization.
type CreateOrganizationRequest struct {
	Name     string `json:"name" binding:"required"`
	Industry string `json:"industry"`
}
