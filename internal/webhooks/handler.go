package webhooks

import (
	"net/http"

	"github.com/aic-platform/sovereign/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for webhook subscriptions.
type Handler struct {
	svc    *Service
	issuer *auth.Issuer
	logger *zap.Logger
}

// NewHandler creates a new webhook Handler.
func NewHandler(svc *Service, issuer *auth.Issuer, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, issuer: issuer, logger: logger}
}

// Register registers all webhook routes on the given router group. Routes
// are nested under an organization and require a token for that org.
func (h *Handler) Register(rg *gin.RouterGroup) {
	wh := rg.Group("/orgs/:org_id/webhooks")
	wh.Use(auth.RequireOrg(h.issuer))
	{
		wh.POST("", h.CreateSubscription)
		wh.GET("", h.ListSubscriptions)
		wh.DELETE("/:id", h.DeleteSubscription)
	}
}

func orgIDParam(c *gin.Context) (uuid.UUID, bool) {
	orgID, err := uuid.Parse(c.Param("org_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization ID"})
		return uuid.Nil, false
	}
	return orgID, true
}

// CreateSubscription handles POST /orgs/:org_id/webhooks.
func (h *Handler) CreateSubscription(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.svc.Subscribe(c.Request.Context(), orgID, &req)
	if err != nil {
		h.logger.Error("create webhook subscription", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create subscription"})
		return
	}

	// Return the secret once so the caller can store it.
	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       sub.Secret,
		"note":         "Store the secret securely. It will not be shown again.",
	})
}

// ListSubscriptions handles GET /orgs/:org_id/webhooks.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	subs, err := h.svc.ListByOrg(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("list webhook subscriptions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list subscriptions"})
		return
	}
	if subs == nil {
		subs = []*WebhookSubscription{}
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

// DeleteSubscription handles DELETE /orgs/:org_id/webhooks/:id.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	subID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription ID"})
		return
	}

	if err := h.svc.Unsubscribe(c.Request.Context(), orgID, subID); err != nil {
		h.logger.Error("delete webhook subscription", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete subscription"})
		return
	}

	c.Status(http.StatusNoContent)
}
