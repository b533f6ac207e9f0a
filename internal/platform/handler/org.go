package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/aic-platform/sovereign/internal/auth"
	"github.com/aic-platform/sovereign/internal/engine"
	"github.com/aic-platform/sovereign/internal/ledger"
	"github.com/aic-platform/sovereign/internal/platform/model"
	"github.com/aic-platform/sovereign/internal/platform/repository"
	"github.com/aic-platform/sovereign/internal/platform/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrgHandler exposes the organization, requirement, incident, and scoring
// endpoints. Organization creation and requirement verification are operator
// operations; everything else is scoped to the organization's own token.
// Incident reporting is deliberately public so citizens can file reports
// without credentials.
type OrgHandler struct {
	compliance *service.ComplianceService
	issuer     *auth.Issuer
	logger     *zap.Logger
}

// NewOrgHandler creates an OrgHandler.
func NewOrgHandler(compliance *service.ComplianceService, issuer *auth.Issuer, logger *zap.Logger) *OrgHandler {
	return &OrgHandler{compliance: compliance, issuer: issuer, logger: logger}
}

// Register mounts the organization routes on the given router group.
func (h *OrgHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/orgs", auth.RequireOperator(h.issuer), h.CreateOrg)
	rg.GET("/orgs", auth.RequireOperator(h.issuer), h.ListOrgs)

	org := rg.Group("/orgs/:org_id")
	{
		org.GET("", auth.RequireOrg(h.issuer), h.GetOrg)

		org.POST("/requirements", auth.RequireOrg(h.issuer), h.AddRequirement)
		org.GET("/requirements", auth.RequireOrg(h.issuer), h.ListRequirements)
		org.POST("/requirements/:req_id/verify", auth.RequireOperator(h.issuer), h.VerifyRequirement)

		org.POST("/incidents", h.OpenIncident) // public
		org.GET("/incidents", auth.RequireOrg(h.issuer), h.ListIncidents)
		org.POST("/incidents/:incident_id/resolve", auth.RequireOrg(h.issuer), h.ResolveIncident)

		org.GET("/score", auth.RequireOrg(h.issuer), h.GetScore)
		org.POST("/score/recalculate", auth.RequireOrg(h.issuer), h.RecalculateScore)

		org.POST("/bias-audits", auth.RequireOrg(h.issuer), h.RunBiasAudit)
	}
}

// orgIDParam parses the :org_id path parameter, writing a 400 on failure.
func orgIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("org_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org_id must be a valid UUID"})
		return uuid.Nil, false
	}
	return id, true
}

// CreateOrg handles POST /orgs: registers a new organization.
func (h *OrgHandler) CreateOrg(c *gin.Context) {
	var req model.CreateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	org, err := h.compliance.CreateOrganization(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("create organization", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create organization"})
		return
	}
	c.JSON(http.StatusCreated, org)
}

// ListOrgs handles GET /orgs.
func (h *OrgHandler) ListOrgs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	orgs, err := h.compliance.ListOrganizations(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list organizations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list organizations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"organizations": orgs, "count": len(orgs)})
}

// GetOrg handles GET /orgs/:org_id.
func (h *OrgHandler) GetOrg(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	org, err := h.compliance.GetOrganization(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		h.logger.Error("get organization", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load organization"})
		return
	}
	c.JSON(http.StatusOK, org)
}

// AddRequirement handles POST /orgs/:org_id/requirements.
func (h *OrgHandler) AddRequirement(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	var req model.CreateRequirementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.compliance.AddRequirement(c.Request.Context(), orgID, &req)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		h.logger.Error("add requirement", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create requirement"})
		return
	}
	c.JSON(http.StatusCreated, r)
}

// ListRequirements handles GET /orgs/:org_id/requirements.
func (h *OrgHandler) ListRequirements(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	reqs, err := h.compliance.ListRequirements(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("list requirements", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list requirements"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requirements": reqs, "count": len(reqs)})
}

// VerifyRequirement handles POST /orgs/:org_id/requirements/:req_id/verify.
func (h *OrgHandler) VerifyRequirement(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	reqID, err := uuid.Parse(c.Param("req_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "req_id must be a valid UUID"})
		return
	}
	var req model.VerifyRequirementRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.compliance.VerifyRequirement(c.Request.Context(), orgID, reqID, req.Findings)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "requirement not found"})
			return
		}
		h.logger.Error("verify requirement", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify requirement"})
		return
	}
	c.JSON(http.StatusOK, r)
}

// OpenIncident handles POST /orgs/:org_id/incidents: public reporting.
func (h *OrgHandler) OpenIncident(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	var req model.CreateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inc, err := h.compliance.OpenIncident(c.Request.Context(), orgID, &req)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		h.logger.Error("open incident", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to report incident"})
		return
	}
	c.JSON(http.StatusCreated, inc)
}

// ListIncidents handles GET /orgs/:org_id/incidents.
func (h *OrgHandler) ListIncidents(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	incs, err := h.compliance.ListIncidents(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("list incidents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list incidents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incs, "count": len(incs)})
}

// ResolveIncident handles POST /orgs/:org_id/incidents/:incident_id/resolve.
func (h *OrgHandler) ResolveIncident(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	incidentID, err := uuid.Parse(c.Param("incident_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "incident_id must be a valid UUID"})
		return
	}
	var req model.ResolveIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inc, err := h.compliance.ResolveIncident(c.Request.Context(), orgID, incidentID, req.ResolutionDetails)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "open incident not found"})
			return
		}
		h.logger.Error("resolve incident", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve incident"})
		return
	}
	c.JSON(http.StatusOK, inc)
}

// GetScore handles GET /orgs/:org_id/score: returns the cached score.
func (h *OrgHandler) GetScore(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	org, err := h.compliance.GetOrganization(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		h.logger.Error("get score", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load score"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"org_id":          org.ID,
		"integrity_score": org.IntegrityScore,
	})
}

// RecalculateScore handles POST /orgs/:org_id/score/recalculate: recomputes
// the score from the requirement and incident tables and seals the result.
func (h *OrgHandler) RecalculateScore(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	stats, err := h.compliance.RecalculateScore(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		h.logger.Error("recalculate score", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to recalculate score"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type biasAuditRequest struct {
	SystemName         string           `json:"system_name" binding:"required"`
	AnalysisType       string           `json:"analysis_type" binding:"required"`
	ProtectedAttribute string           `json:"protected_attribute"`
	Dataset            *json.RawMessage `json:"dataset"`
	ChainType          ledger.ChainType `json:"chain_type"`
}

// RunBiasAudit handles POST /orgs/:org_id/bias-audits: runs an analysis on
// the external engine and seals the signed result onto the org's chain.
func (h *OrgHandler) RunBiasAudit(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	var req biasAuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chainType := req.ChainType
	if chainType == "" {
		chainType = ledger.ChainSandbox
	}
	if chainType != ledger.ChainSandbox && chainType != ledger.ChainFormal {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chain_type must be SANDBOX or FORMAL"})
		return
	}

	result, entry, err := h.compliance.RunBiasAudit(c.Request.Context(), orgID, &engine.AnalysisRequest{
		SystemName:         req.SystemName,
		AnalysisType:       req.AnalysisType,
		ProtectedAttribute: req.ProtectedAttribute,
		Dataset:            req.Dataset,
	}, chainType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		h.logger.Error("run bias audit", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "analysis engine request failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result, "ledger_entry": entry})
}
