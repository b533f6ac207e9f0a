// Package client provides the Sovereign Go SDK for the compliance platform
// API: sealing audit events, reading and verifying trails, and managing
// organizations, requirements, and incidents.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Entry is a sealed ledger entry as returned by the platform.
type Entry struct {
	ID             string          `json:"id"`
	Scope          string          `json:"scope"`
	SequenceNumber int64           `json:"sequence_number"`
	ChainType      string          `json:"chain_type"`
	Content        json.RawMessage `json:"content"`
	PreviousDigest string          `json:"previous_digest"`
	Digest         string          `json:"digest"`
	CreatedAt      time.Time       `json:"created_at"`
}

// VerifyResult is the outcome of a chain verification walk.
type VerifyResult struct {
	Valid            bool   `json:"valid"`
	BrokenAt         string `json:"broken_at,omitempty"`
	BrokenAtSequence int64  `json:"broken_at_sequence,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Entries          int64  `json:"entries"`
}

// DeepCheck is the result of a single-entry spot audit.
type DeepCheck struct {
	EntryID          string `json:"entry_id"`
	Valid            bool   `json:"valid"`
	Reason           string `json:"reason,omitempty"`
	SignatureChecked bool   `json:"signature_checked"`
}

// Organization is a platform tenant.
type Organization struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Industry       string    `json:"industry,omitempty"`
	IntegrityScore int       `json:"integrity_score"`
	CreatedAt      time.Time `json:"created_at"`
}

// Requirement is a compliance obligation.
type Requirement struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	Findings    string `json:"findings,omitempty"`
}

// Incident is a reported problem with an AI system.
type Incident struct {
	ID                string `json:"id"`
	OrgID             string `json:"org_id"`
	ReporterEmail     string `json:"reporter_email"`
	SystemName        string `json:"system_name,omitempty"`
	Description       string `json:"description"`
	Status            string `json:"status"`
	ResolutionDetails string `json:"resolution_details,omitempty"`
}

// ScoreStats is a recomputed integrity score.
type ScoreStats struct {
	Score                int `json:"score"`
	OpenIncidents        int `json:"open_incidents"`
	TotalRequirements    int `json:"total_requirements"`
	VerifiedRequirements int `json:"verified_requirements"`
}

// EventInput is a business event to seal on an organization's chain.
type EventInput struct {
	SystemName string         `json:"system_name,omitempty"`
	EventType  string         `json:"event_type"`
	Details    map[string]any `json:"details,omitempty"`
	ChainType  string         `json:"chain_type,omitempty"`
	AuditHash  string         `json:"audit_hash,omitempty"`
	Signature  string         `json:"signature,omitempty"`
}

// Client is the Sovereign SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// credentials used to fetch tokens on demand
	orgID          string
	apiKey         string
	operatorSecret string

	// token state, guarded by mu
	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithAPIKey configures org credentials. The client exchanges them for a
// bearer token on first use and refreshes it when it approaches expiry.
func WithAPIKey(orgID, apiKey string) Option {
	return func(c *Client) error {
		c.orgID = orgID
		c.apiKey = apiKey
		return nil
	}
}

// WithOperatorSecret configures operator credentials.
func WithOperatorSecret(secret string) Option {
	return func(c *Client) error {
		c.operatorSecret = secret
		return nil
	}
}

// WithBearerToken attaches a pre-obtained token to every request. The token
// is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// New creates a Sovereign SDK Client connected to baseURL.
//
//	c, err := client.New("https://sovereign.example",
//	    client.WithAPIKey(orgID, apiKey),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ── Events and trails ────────────────────────────────────────────────────────

// RecordEvent seals a business event onto the organization's chain.
func (c *Client) RecordEvent(ctx context.Context, orgID string, in EventInput) (*Entry, error) {
	var entry Entry
	err := c.call(ctx, http.MethodPost, "/api/v1/orgs/"+orgID+"/events", in, &entry)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Trail returns an organization's full chain in sequence order.
func (c *Client) Trail(ctx context.Context, orgID string) ([]Entry, error) {
	var resp struct {
		Entries []Entry `json:"entries"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/orgs/"+orgID+"/trail", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// VerifyTrail walks an organization's chain and reports integrity.
// Tampering surfaces in the returned result, not as an error.
func (c *Client) VerifyTrail(ctx context.Context, orgID string) (*VerifyResult, error) {
	var res VerifyResult
	if err := c.call(ctx, http.MethodGet, "/api/v1/orgs/"+orgID+"/trail/verify", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SystemOverview returns the global chain's length and root digest.
func (c *Client) SystemOverview(ctx context.Context) (entries int64, root string, err error) {
	var resp struct {
		Entries int64  `json:"entries"`
		Root    string `json:"root"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger", nil, &resp); err != nil {
		return 0, "", err
	}
	return resp.Entries, resp.Root, nil
}

// VerifySystemChain walks the global system chain.
func (c *Client) VerifySystemChain(ctx context.Context) (*VerifyResult, error) {
	var res VerifyResult
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/verify", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CheckEntry performs a deep spot audit of one entry.
func (c *Client) CheckEntry(ctx context.Context, entryID string) (*DeepCheck, error) {
	var check DeepCheck
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/entries/"+entryID+"/check", nil, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// ── Organizations ────────────────────────────────────────────────────────────

// CreateOrganization registers a new tenant. Requires operator credentials.
func (c *Client) CreateOrganization(ctx context.Context, name, industry string) (*Organization, error) {
	var org Organization
	err := c.call(ctx, http.MethodPost, "/api/v1/orgs",
		map[string]string{"name": name, "industry": industry}, &org)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// GetOrganization returns one organization.
func (c *Client) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	var org Organization
	if err := c.call(ctx, http.MethodGet, "/api/v1/orgs/"+orgID, nil, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// CreateAPIKey mints a new API key for an organization. Requires operator
// credentials. The plaintext key is returned once and cannot be retrieved
// again.
func (c *Client) CreateAPIKey(ctx context.Context, orgID string) (string, error) {
	var resp struct {
		APIKey string `json:"api_key"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/orgs/"+orgID+"/keys", nil, &resp); err != nil {
		return "", err
	}
	return resp.APIKey, nil
}

// ── Requirements, incidents, scoring ─────────────────────────────────────────

// AddRequirement creates a compliance requirement in PENDING state.
func (c *Client) AddRequirement(ctx context.Context, orgID, title, description, category string) (*Requirement, error) {
	var req Requirement
	err := c.call(ctx, http.MethodPost, "/api/v1/orgs/"+orgID+"/requirements", map[string]string{
		"title":       title,
		"description": description,
		"category":    category,
	}, &req)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// VerifyRequirement marks a requirement VERIFIED. Requires operator
// credentials.
func (c *Client) VerifyRequirement(ctx context.Context, orgID, reqID, findings string) (*Requirement, error) {
	var req Requirement
	err := c.call(ctx, http.MethodPost,
		"/api/v1/orgs/"+orgID+"/requirements/"+reqID+"/verify",
		map[string]string{"findings": findings}, &req)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// OpenIncident reports an incident. This endpoint is public; no credentials
// are required.
func (c *Client) OpenIncident(ctx context.Context, orgID, reporterEmail, systemName, description string) (*Incident, error) {
	var inc Incident
	err := c.call(ctx, http.MethodPost, "/api/v1/orgs/"+orgID+"/incidents", map[string]string{
		"reporter_email": reporterEmail,
		"system_name":    systemName,
		"description":    description,
	}, &inc)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// ResolveIncident marks an open incident resolved.
func (c *Client) ResolveIncident(ctx context.Context, orgID, incidentID, resolution string) (*Incident, error) {
	var inc Incident
	err := c.call(ctx, http.MethodPost,
		"/api/v1/orgs/"+orgID+"/incidents/"+incidentID+"/resolve",
		map[string]string{"resolution_details": resolution}, &inc)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// RecalculateScore recomputes and seals the organization's integrity score.
func (c *Client) RecalculateScore(ctx context.Context, orgID string) (*ScoreStats, error) {
	var stats ScoreStats
	if err := c.call(ctx, http.MethodPost, "/api/v1/orgs/"+orgID+"/score/recalculate", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ── Token handling ───────────────────────────────────────────────────────────

// fetchTokenRaw exchanges the configured credentials for a fresh token
// without touching cached state.
func (c *Client) fetchTokenRaw(ctx context.Context) (token string, expiry time.Time, err error) {
	var path string
	var payload any
	switch {
	case c.operatorSecret != "":
		path = "/api/v1/auth/operator-token"
		payload = map[string]string{"secret": c.operatorSecret}
	case c.apiKey != "":
		path = "/api/v1/auth/token"
		payload = map[string]string{"org_id": c.orgID, "api_key": c.apiKey}
	default:
		return "", time.Time{}, fmt.Errorf("no credentials configured: use WithAPIKey, WithOperatorSecret, or WithBearerToken")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	// Use httpClient directly; the token endpoint authenticates via the
	// credentials in the body, not via an existing bearer token.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("token endpoint error %d: %s", resp.StatusCode, string(respBytes))
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}

	// Tokens default to an 8 hour lifetime server-side; refresh well before
	// then to avoid clock-skew failures.
	return result.Token, time.Now().Add(4 * time.Hour), nil
}

// ensureToken returns a valid bearer token, fetching a new one if the cached
// token is absent or approaching expiry. Thread-safe.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// tokenExpiry.IsZero() means the token was set manually via
	// WithBearerToken and should never be auto-refreshed.
	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}
	if c.apiKey == "" && c.operatorSecret == "" {
		return "", nil // unauthenticated client; public endpoints only
	}

	token, expiry, err := c.fetchTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.bearerToken = token
	c.tokenExpiry = expiry
	return token, nil
}

// call executes an authenticated JSON request and decodes the response.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("not found: %s", req.URL.Path)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("unauthorized: %s", string(respBytes))
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBytes))
	}

	if respBody != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
