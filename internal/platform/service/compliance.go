package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aic-platform/sovereign/internal/engine"
	"github.com/aic-platform/sovereign/internal/intelligence"
	"github.com/aic-platform/sovereign/internal/ledger"
	"github.com/aic-platform/sovereign/internal/platform/model"
	"github.com/aic-platform/sovereign/internal/webhooks"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// orgRepo is the persistence interface for organizations.
// *repository.OrgRepository satisfies this interface.
type orgRepo interface {
	Create(ctx context.Context, org *model.Organization) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Organization, error)
	List(ctx context.Context, limit, offset int) ([]*model.Organization, error)
}

// requirementRepo is the persistence interface for requirements.
type requirementRepo interface {
	Create(ctx context.Context, req *model.Requirement) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*model.Requirement, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*model.Requirement, error)
	SetStatus(ctx context.Context, orgID, id uuid.UUID, status model.RequirementStatus, findings string) error
}

// incidentRepo is the persistence interface for incidents.
type incidentRepo interface {
	Create(ctx context.Context, inc *model.Incident) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*model.Incident, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*model.Incident, error)
	Resolve(ctx context.Context, orgID, id uuid.UUID, resolution string) error
}

// Analyzer runs a bias analysis on the external engine.
// *engine.Client satisfies this interface.
type Analyzer interface {
	Analyze(ctx context.Context, req *engine.AnalysisRequest) (*engine.AnalysisResult, error)
}

// WebhookDispatcher fans an event out to subscribed endpoints.
// *webhooks.Service satisfies this interface.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]string)
}

// Scorer recalculates an organization's integrity score.
// *intelligence.Aggregator satisfies this interface.
type Scorer interface {
	Recalculate(ctx context.Context, orgID uuid.UUID) (*intelligence.Stats, error)
}

// ComplianceService contains the business logic for organizations,
// requirements, and incidents. Every state change that matters for
// compliance is notarized through the AuditService.
type ComplianceService struct {
	orgs     orgRepo
	reqs     requirementRepo
	inc      incidentRepo
	audit    *AuditService
	scorer   Scorer
	analyzer Analyzer
	webhooks WebhookDispatcher
	logger   *zap.Logger
}

// NewComplianceService creates a ComplianceService. analyzer and webhooks
// may be nil; the corresponding features are then disabled.
func NewComplianceService(orgs orgRepo, reqs requirementRepo, inc incidentRepo, audit *AuditService, scorer Scorer, logger *zap.Logger) *ComplianceService {
	return &ComplianceService{
		orgs:   orgs,
		reqs:   reqs,
		inc:    inc,
		audit:  audit,
		scorer: scorer,
		logger: logger,
	}
}

// SetAnalyzer configures the bias-analysis engine client.
func (s *ComplianceService) SetAnalyzer(a Analyzer) {
	s.analyzer = a
}

// SetWebhookDispatcher configures the webhook fan-out.
func (s *ComplianceService) SetWebhookDispatcher(d WebhookDispatcher) {
	s.webhooks = d
}

func (s *ComplianceService) dispatch(ctx context.Context, eventType string, payload map[string]string) {
	if s.webhooks != nil {
		s.webhooks.Dispatch(ctx, eventType, payload)
	}
}

// ── Organizations ────────────────────────────────────────────────────────────

// CreateOrganization registers a new tenant and notarizes the creation on
// the global system chain.
func (s *ComplianceService) CreateOrganization(ctx context.Context, req *model.CreateOrganizationRequest) (*model.Organization, error) {
	org := &model.Organization{Name: req.Name, Industry: req.Industry}
	if err := s.orgs.Create(ctx, org); err != nil {
		return nil, fmt.Errorf("create organization: %w", err)
	}

	if _, err := s.audit.RecordSystemAction(ctx, "org.created", nil, map[string]any{
		"org_id": org.ID.String(),
		"name":   org.Name,
	}); err != nil {
		// The organization exists; a failed notarization is surfaced, not
		// rolled back, so the operator can reconcile the chain.
		s.logger.Error("notarize org.created failed", zap.Error(err))
	}
	return org, nil
}

// GetOrganization returns one organization.
func (s *ComplianceService) GetOrganization(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	return s.orgs.GetByID(ctx, id)
}

// ListOrganizations returns all organizations.
func (s *ComplianceService) ListOrganizations(ctx context.Context, limit, offset int) ([]*model.Organization, error) {
	return s.orgs.List(ctx, limit, offset)
}

// ── Requirements ─────────────────────────────────────────────────────────────

// AddRequirement creates a requirement in PENDING state.
func (s *ComplianceService) AddRequirement(ctx context.Context, orgID uuid.UUID, req *model.CreateRequirementRequest) (*model.Requirement, error) {
	if _, err := s.orgs.GetByID(ctx, orgID); err != nil {
		return nil, err
	}
	r := &model.Requirement{
		OrgID:       orgID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		EvidenceURL: req.EvidenceURL,
	}
	if err := s.reqs.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create requirement: %w", err)
	}
	return r, nil
}

// ListRequirements returns an organization's requirements.
func (s *ComplianceService) ListRequirements(ctx context.Context, orgID uuid.UUID) ([]*model.Requirement, error) {
	return s.reqs.ListByOrg(ctx, orgID)
}

// VerifyRequirement marks a requirement VERIFIED, notarizes the verification
// as a FORMAL event, and recalculates the integrity score.
func (s *ComplianceService) VerifyRequirement(ctx context.Context, orgID, reqID uuid.UUID, findings string) (*model.Requirement, error) {
	if err := s.reqs.SetStatus(ctx, orgID, reqID, model.RequirementVerified, findings); err != nil {
		return nil, err
	}
	req, err := s.reqs.GetByID(ctx, orgID, reqID)
	if err != nil {
		return nil, err
	}

	if _, err := s.audit.RecordEvent(ctx, orgID, &EventInput{
		EventType: "requirement.verified",
		ChainType: ledger.ChainFormal,
		Details: map[string]any{
			"requirement_id": reqID.String(),
			"title":          req.Title,
			"category":       req.Category,
		},
	}); err != nil {
		return nil, fmt.Errorf("notarize requirement verification: %w", err)
	}

	s.recalculateScore(ctx, orgID)
	return req, nil
}

// ── Incidents ────────────────────────────────────────────────────────────────

// OpenIncident records a new incident, notarizes it, and recalculates the
// integrity score (open incidents carry a penalty).
func (s *ComplianceService) OpenIncident(ctx context.Context, orgID uuid.UUID, req *model.CreateIncidentRequest) (*model.Incident, error) {
	if _, err := s.orgs.GetByID(ctx, orgID); err != nil {
		return nil, err
	}
	inc := &model.Incident{
		OrgID:         orgID,
		ReporterEmail: req.ReporterEmail,
		SystemName:    req.SystemName,
		Description:   req.Description,
	}
	if err := s.inc.Create(ctx, inc); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	if _, err := s.audit.RecordEvent(ctx, orgID, &EventInput{
		SystemName: inc.SystemName,
		EventType:  "incident.opened",
		ChainType:  ledger.ChainFormal,
		Details:    map[string]any{"incident_id": inc.ID.String()},
	}); err != nil {
		s.logger.Error("notarize incident.opened failed", zap.Error(err))
	}

	s.dispatch(ctx, webhooks.EventIncidentOpened, map[string]string{
		"org_id":      orgID.String(),
		"incident_id": inc.ID.String(),
		"system_name": inc.SystemName,
	})
	s.recalculateScore(ctx, orgID)
	return inc, nil
}

// ListIncidents returns an organization's incidents.
func (s *ComplianceService) ListIncidents(ctx context.Context, orgID uuid.UUID) ([]*model.Incident, error) {
	return s.inc.ListByOrg(ctx, orgID)
}

// ResolveIncident marks an incident resolved, notarizes the resolution, and
// recalculates the integrity score.
func (s *ComplianceService) ResolveIncident(ctx context.Context, orgID, incidentID uuid.UUID, resolution string) (*model.Incident, error) {
	if err := s.inc.Resolve(ctx, orgID, incidentID, resolution); err != nil {
		return nil, err
	}
	inc, err := s.inc.GetByID(ctx, orgID, incidentID)
	if err != nil {
		return nil, err
	}

	if _, err := s.audit.RecordEvent(ctx, orgID, &EventInput{
		SystemName: inc.SystemName,
		EventType:  "incident.resolved",
		ChainType:  ledger.ChainFormal,
		Details: map[string]any{
			"incident_id": incidentID.String(),
			"resolution":  resolution,
		},
	}); err != nil {
		return nil, fmt.Errorf("notarize incident resolution: %w", err)
	}

	s.recalculateScore(ctx, orgID)
	return inc, nil
}

// ── Scoring ──────────────────────────────────────────────────────────────────

// RecalculateScore recomputes the organization's integrity score, seals the
// result as a FORMAL event, and announces the change to webhook subscribers.
func (s *ComplianceService) RecalculateScore(ctx context.Context, orgID uuid.UUID) (*intelligence.Stats, error) {
	if _, err := s.orgs.GetByID(ctx, orgID); err != nil {
		return nil, err
	}
	stats, err := s.scorer.Recalculate(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("recalculate score: %w", err)
	}

	if _, err := s.audit.RecordEvent(ctx, orgID, &EventInput{
		EventType: "score.computed",
		ChainType: ledger.ChainFormal,
		Details: map[string]any{
			"score":          stats.Score,
			"open_incidents": stats.OpenIncidents,
		},
	}); err != nil {
		s.logger.Error("notarize score.computed failed", zap.Error(err))
	}

	s.dispatch(ctx, webhooks.EventScoreUpdated, map[string]string{
		"org_id": orgID.String(),
		"score":  strconv.Itoa(stats.Score),
	})
	return stats, nil
}

// recalculateScore is the best-effort variant used after state changes whose
// primary operation already succeeded.
func (s *ComplianceService) recalculateScore(ctx context.Context, orgID uuid.UUID) {
	if s.scorer == nil {
		return
	}
	if _, err := s.RecalculateScore(ctx, orgID); err != nil {
		s.logger.Error("score recalculation failed",
			zap.String("org_id", orgID.String()), zap.Error(err))
	}
}

// ── Bias audits ──────────────────────────────────────────────────────────────

// RunBiasAudit submits a dataset to the analysis engine and seals the
// engine's result (including its audit hash and signature) onto the
// organization's chain.
func (s *ComplianceService) RunBiasAudit(ctx context.Context, orgID uuid.UUID, req *engine.AnalysisRequest, chainType ledger.ChainType) (*engine.AnalysisResult, *ledger.Entry, error) {
	if s.analyzer == nil {
		return nil, nil, fmt.Errorf("analysis engine not configured")
	}
	if _, err := s.orgs.GetByID(ctx, orgID); err != nil {
		return nil, nil, err
	}

	result, err := s.analyzer.Analyze(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("run analysis: %w", err)
	}

	entry, err := s.audit.RecordEvent(ctx, orgID, &EventInput{
		SystemName: req.SystemName,
		EventType:  "bias_audit.completed",
		ChainType:  chainType,
		Details: map[string]any{
			"analysis_type": req.AnalysisType,
			"flags":         result.Flags,
		},
		AuditHash: result.AuditHash,
		Signature: result.Signature,
	})
	if err != nil {
		return nil, nil, err
	}
	return result, entry, nil
}
