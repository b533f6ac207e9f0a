package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/aic-platform/sovereign/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// keyStore is the credential storage expected by AuthHandler, satisfied by
// *auth.KeyRepository.
type keyStore interface {
	Create(ctx context.Context, orgID uuid.UUID, keyHash string) (*auth.APIKey, error)
	Authenticate(ctx context.Context, orgID uuid.UUID, plaintext string) error
}

// AuthHandler exchanges credentials for platform JWTs. Organizations
// authenticate with an API key; operators authenticate with the static
// operator secret configured at deploy time.
type AuthHandler struct {
	issuer         *auth.Issuer
	keys           keyStore
	operatorSecret string
	logger         *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(issuer *auth.Issuer, keys keyStore, operatorSecret string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{issuer: issuer, keys: keys, operatorSecret: operatorSecret, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	{
		a.POST("/token", h.IssueOrgToken)
		a.POST("/operator-token", h.IssueOperatorToken)
	}
	rg.POST("/orgs/:org_id/keys", auth.RequireOperator(h.issuer), h.CreateAPIKey)
}

type tokenRequest struct {
	OrgID  uuid.UUID `json:"org_id" binding:"required"`
	APIKey string    `json:"api_key" binding:"required"`
}

// IssueOrgToken handles POST /auth/token: exchanges an API key for an
// org-scoped JWT.
func (h *AuthHandler) IssueOrgToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.keys.Authenticate(c.Request.Context(), req.OrgID, req.APIKey); err != nil {
		if errors.Is(err, auth.ErrInvalidKey) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.logger.Error("authenticate api key", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authentication unavailable"})
		return
	}

	tok, err := h.issuer.IssueOrgToken(req.OrgID)
	if err != nil {
		h.logger.Error("issue org token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok, "token_type": "Bearer"})
}

type operatorTokenRequest struct {
	Secret string `json:"secret" binding:"required"`
}

// IssueOperatorToken handles POST /auth/operator-token: exchanges the
// operator secret for an operator JWT.
func (h *AuthHandler) IssueOperatorToken(c *gin.Context) {
	var req operatorTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.operatorSecret == "" ||
		subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.operatorSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tok, err := h.issuer.IssueOperatorToken()
	if err != nil {
		h.logger.Error("issue operator token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok, "token_type": "Bearer"})
}

// CreateAPIKey handles POST /orgs/:org_id/keys: mints a new API key for an
// organization. The plaintext is returned once and never stored.
func (h *AuthHandler) CreateAPIKey(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	plaintext, hash, err := auth.GenerateAPIKey()
	if err != nil {
		h.logger.Error("generate api key", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate key"})
		return
	}
	key, err := h.keys.Create(c.Request.Context(), orgID, hash)
	if err != nil {
		h.logger.Error("store api key", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store key"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"key_id":  key.ID,
		"org_id":  key.OrgID,
		"api_key": plaintext,
		"note":    "store this key now; it cannot be retrieved again",
	})
}
