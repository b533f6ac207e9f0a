// Package auth issues and verifies the platform's bearer tokens. Org tokens
// scope a caller to one organization's data; operator tokens unlock the
// administrative surface (org creation, system chain, webhook management).
// Full account/session management lives outside this service.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TypeOrg marks a token scoped to a single organization.
	TypeOrg = "org"
	// TypeOperator marks a platform operator token.
	TypeOperator = "operator"
)

// Claims are the JWT claims for platform tokens.
type Claims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id,omitempty"`
	Type  string `json:"type"`
}

// Issuer issues and verifies platform JWTs with an HMAC secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer creates an Issuer.
//
//	issuerURL is the "iss" claim value; matches the platform's base URL.
//	ttl is the token lifetime (default: 8 hours).
func NewIssuer(secret []byte, issuerURL string, ttl time.Duration) *Issuer {
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	return &Issuer{secret: secret, issuer: issuerURL, ttl: ttl}
}

// IssueOrgToken creates a signed token scoped to one organization.
func (i *Issuer) IssueOrgToken(orgID uuid.UUID) (string, error) {
	return i.issue(Claims{
		RegisteredClaims: i.registered(orgID.String()),
		OrgID:            orgID.String(),
		Type:             TypeOrg,
	})
}

// IssueOperatorToken creates a signed platform operator token. Operator
// tokens are issued only in exchange for the static operator secret.
func (i *Issuer) IssueOperatorToken() (string, error) {
	return i.issue(Claims{
		RegisteredClaims: i.registered("operator"),
		Type:             TypeOperator,
	})
}

func (i *Issuer) registered(subject string) jwt.RegisteredClaims {
	now := time.Now().UTC()
	return jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		ID:        uuid.New().String(),
	}
}

func (i *Issuer) issue(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

const ctxClaimsKey = "auth.claims"

// bearerToken extracts the Bearer token from the Authorization header.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// RequireOrg returns a middleware that accepts org tokens for the :org_id
// path parameter, or operator tokens for any organization.
func RequireOrg(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := issuer.Verify(bearerToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if claims.Type == TypeOrg && claims.OrgID != c.Param("org_id") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token not valid for this organization"})
			return
		}
		c.Set(ctxClaimsKey, claims)
		c.Next()
	}
}

// RequireOperator returns a middleware that accepts only operator tokens.
func RequireOperator(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := issuer.Verify(bearerToken(c))
		if err != nil || claims.Type != TypeOperator {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator authentication required"})
			return
		}
		c.Set(ctxClaimsKey, claims)
		c.Next()
	}
}

// ClaimsFromCtx returns the verified claims set by the middleware, or nil.
func ClaimsFromCtx(c *gin.Context) *Claims {
	v, ok := c.Get(ctxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}
