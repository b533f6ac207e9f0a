package model

import (
	"time"

	"github.com/google/uuid"
)

// RequirementStatus is the review state of a compliance requirement.
type RequirementStatus string

const (
	RequirementPending  RequirementStatus = "PENDING"
	RequirementInReview RequirementStatus = "IN_REVIEW"
	RequirementVerified RequirementStatus = "VERIFIED"
)

// Requirement is a single compliance obligation an organization must satisfy
// (e.g. "Model documentation published", "Human oversight procedure in
// place"). Requirements are bucketed by category for integrity scoring.
type Requirement struct {
	ID          uuid.UUID         `json:"id"`
	OrgID       uuid.UUID         `json:"org_id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category"`
	Status      RequirementStatus `json:"status"`
	EvidenceURL string            `json:"evidence_url,omitempty"`
	Findings    string            `json:"findings,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// CreateRequirementRequest is the payload for adding a requirement.
type CreateRequirementRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Category    string `json:"category" binding:"required"`
	EvidenceURL string `json:"evidence_url"`
}

// VerifyRequirementRequest is the payload for marking a requirement verified.
type VerifyRequirementRequest struct {
	Findings string `json:"findings"`
}
