package handler

import (
	"errors"
	"net/http"

	"github.com/aic-platform/sovereign/internal/auth"
	"github.com/aic-platform/sovereign/internal/ledger"
	"github.com/aic-platform/sovereign/internal/platform/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LedgerHandler exposes the audit trail endpoints: event notarization,
// per-organization trails, and chain verification. Verification endpoints
// report tampering as a 200 with valid=false; a non-2xx status means the
// check itself could not run.
type LedgerHandler struct {
	audit  *service.AuditService
	ledger ledger.Ledger
	issuer *auth.Issuer
	logger *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(audit *service.AuditService, l ledger.Ledger, issuer *auth.Issuer, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{audit: audit, ledger: l, issuer: issuer, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	org := rg.Group("/orgs/:org_id", auth.RequireOrg(h.issuer))
	{
		org.POST("/events", h.RecordEvent)
		org.GET("/trail", h.Trail)
		org.GET("/trail/verify", h.VerifyOrgChain)
	}

	sys := rg.Group("/ledger")
	{
		sys.GET("", h.Overview)
		sys.GET("/verify", h.VerifySystemChain)
		sys.GET("/entries/:entry_id/check", h.CheckEntry)
		sys.POST("/system-actions", auth.RequireOperator(h.issuer), h.RecordSystemAction)
	}
}

// RecordEvent handles POST /orgs/:org_id/events: seals a business event
// onto the organization's chain.
func (h *LedgerHandler) RecordEvent(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	var in service.EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if in.ChainType != "" && in.ChainType != ledger.ChainSandbox && in.ChainType != ledger.ChainFormal {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chain_type must be SANDBOX or FORMAL"})
		return
	}

	entry, err := h.audit.RecordEvent(c.Request.Context(), orgID, &in)
	if err != nil {
		if errors.Is(err, ledger.ErrScopeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		if errors.Is(err, ledger.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "concurrent append conflict, retry"})
			return
		}
		h.logger.Error("record event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to seal event"})
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// Trail handles GET /orgs/:org_id/trail: returns the full chain in
// sequence order.
func (h *LedgerHandler) Trail(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	entries, err := h.audit.Trail(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, ledger.ErrScopeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		h.logger.Error("load trail", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit trail"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// VerifyOrgChain handles GET /orgs/:org_id/trail/verify: walks the
// organization's full chain and reports integrity.
func (h *LedgerHandler) VerifyOrgChain(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	res, err := h.audit.VerifyOrganizationChain(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, ledger.ErrScopeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		h.logger.Error("verify org chain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification could not run"})
		return
	}
	if !res.Valid {
		h.logger.Warn("organization chain integrity check failed",
			zap.String("org_id", orgID.String()),
			zap.Int64("sequence", res.BrokenAtSequence),
			zap.String("reason", res.Reason))
	}
	c.JSON(http.StatusOK, res)
}

// Overview handles GET /ledger: returns the system chain length and root.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx, ledger.SystemScope)
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	root, err := h.ledger.Root(ctx, ledger.SystemScope)
	if err != nil {
		h.logger.Error("ledger Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger root"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"scope":   ledger.SystemScope,
		"entries": count,
		"root":    root,
	})
}

// VerifySystemChain handles GET /ledger/verify: walks the global system
// chain.
func (h *LedgerHandler) VerifySystemChain(c *gin.Context) {
	res, err := h.audit.VerifySystemChain(c.Request.Context())
	if err != nil {
		h.logger.Error("verify system chain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification could not run"})
		return
	}
	if !res.Valid {
		h.logger.Warn("system chain integrity check failed",
			zap.Int64("sequence", res.BrokenAtSequence),
			zap.String("reason", res.Reason))
	}
	c.JSON(http.StatusOK, res)
}

// CheckEntry handles GET /ledger/entries/:entry_id/check: performs a deep
// spot audit of one entry, including engine signature verification when the
// sealed content carries a signature.
func (h *LedgerHandler) CheckEntry(c *gin.Context) {
	entryID, err := uuid.Parse(c.Param("entry_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entry_id must be a valid UUID"})
		return
	}

	check, err := h.audit.CheckEntry(c.Request.Context(), entryID)
	if err != nil {
		if errors.Is(err, ledger.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
			return
		}
		h.logger.Error("deep check entry", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "signature verification unavailable"})
		return
	}
	c.JSON(http.StatusOK, check)
}

type systemActionRequest struct {
	Action  string         `json:"action" binding:"required"`
	ActorID *uuid.UUID     `json:"actor_id"`
	Details map[string]any `json:"details"`
}

// RecordSystemAction handles POST /ledger/system-actions: seals an
// administrative action onto the global chain.
func (h *LedgerHandler) RecordSystemAction(c *gin.Context) {
	var req systemActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.audit.RecordSystemAction(c.Request.Context(), req.Action, req.ActorID, req.Details)
	if err != nil {
		h.logger.Error("record system action", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to seal system action"})
		return
	}
	c.JSON(http.StatusCreated, entry)
}
