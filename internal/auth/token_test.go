package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aic-platform/sovereign/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var secret = []byte("test-secret")

func TestIssueAndVerify_orgToken(t *testing.T) {
	issuer := auth.NewIssuer(secret, "https://api.test", time.Hour)
	orgID := uuid.New()

	token, err := issuer.IssueOrgToken(orgID)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Type != auth.TypeOrg {
		t.Errorf("type: got %q", claims.Type)
	}
	if claims.OrgID != orgID.String() {
		t.Errorf("org id: got %q, want %q", claims.OrgID, orgID)
	}
}

func TestVerify_rejectsWrongIssuer(t *testing.T) {
	a := auth.NewIssuer(secret, "https://a.test", time.Hour)
	b := auth.NewIssuer(secret, "https://b.test", time.Hour)

	token, err := a.IssueOperatorToken()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Verify(token); err == nil {
		t.Error("expected issuer mismatch error")
	}
}

func TestVerify_rejectsWrongSecret(t *testing.T) {
	a := auth.NewIssuer(secret, "https://api.test", time.Hour)
	b := auth.NewIssuer([]byte("other"), "https://api.test", time.Hour)

	token, err := a.IssueOperatorToken()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Verify(token); err == nil {
		t.Error("expected signature error")
	}
}

func setupAuthedRoute(t *testing.T, issuer *auth.Issuer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/orgs/:org_id/data", auth.RequireOrg(issuer), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/admin", auth.RequireOperator(issuer), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestRequireOrg_scopesToOrg(t *testing.T) {
	issuer := auth.NewIssuer(secret, "https://api.test", time.Hour)
	router := setupAuthedRoute(t, issuer)

	orgID := uuid.New()
	token, _ := issuer.IssueOrgToken(orgID)

	// Own org: allowed.
	req := httptest.NewRequest(http.MethodGet, "/orgs/"+orgID.String()+"/data", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("own org: got %d", w.Code)
	}

	// Other org: forbidden.
	req = httptest.NewRequest(http.MethodGet, "/orgs/"+uuid.NewString()+"/data", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("other org: got %d, want 403", w.Code)
	}

	// No token: unauthorized.
	req = httptest.NewRequest(http.MethodGet, "/orgs/"+orgID.String()+"/data", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: got %d, want 401", w.Code)
	}
}

func TestRequireOperator(t *testing.T) {
	issuer := auth.NewIssuer(secret, "https://api.test", time.Hour)
	router := setupAuthedRoute(t, issuer)

	opToken, _ := issuer.IssueOperatorToken()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+opToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("operator token: got %d", w.Code)
	}

	orgToken, _ := issuer.IssueOrgToken(uuid.New())
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+orgToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("org token on admin route: got %d, want 401", w.Code)
	}
}

func TestRequireOrg_operatorBypass(t *testing.T) {
	issuer := auth.NewIssuer(secret, "https://api.test", time.Hour)
	router := setupAuthedRoute(t, issuer)

	opToken, _ := issuer.IssueOperatorToken()
	req := httptest.NewRequest(http.MethodGet, "/orgs/"+uuid.NewString()+"/data", nil)
	req.Header.Set("Authorization", "Bearer "+opToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("operator on org route: got %d", w.Code)
	}
}

func TestGenerateAPIKey(t *testing.T) {
	plaintext, hash, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(plaintext) < 20 {
		t.Errorf("key too short: %q", plaintext)
	}
	if plaintext == hash {
		t.Error("hash must not equal plaintext")
	}
}
