// Package engine is the HTTP client for the external bias/fairness analysis
// engine. The engine is an opaque collaborator: it runs the statistical
// analysis, returns a result object plus an audit hash, and verifies the
// asymmetric signatures it attaches to sealed digests. None of its internals
// are modelled here.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// Config configures the engine client. When ClientID is set, requests are
// authenticated with an OAuth2 client-credentials token; otherwise a plain
// HTTP client is used (local development engines run unauthenticated).
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// AnalysisRequest describes a dataset to analyze for bias.
type AnalysisRequest struct {
	SystemName         string           `json:"system_name"`
	AnalysisType       string           `json:"analysis_type"`
	ProtectedAttribute string           `json:"protected_attribute,omitempty"`
	Dataset            *json.RawMessage `json:"dataset,omitempty"`
}

// AnalysisResult is the engine's response. AuditHash is the engine-side
// digest of the result, recorded verbatim into the sealed ledger content so
// the two systems' audit trails can be cross-checked.
type AnalysisResult struct {
	Report    json.RawMessage `json:"report"`
	Flags     []string        `json:"flags"`
	AuditHash string          `json:"audit_hash"`
	Signature string          `json:"signature,omitempty"`
}

// Client is a lightweight HTTP client for the analysis engine.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the engine at cfg.BaseURL.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = cc.Client(context.Background())
		httpClient.Timeout = cfg.Timeout
	}

	return &Client{baseURL: cfg.BaseURL, http: httpClient}
}

// Analyze submits a dataset for bias analysis and returns the engine's
// result, including its audit hash.
func (c *Client) Analyze(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error) {
	var result AnalysisResult
	if err := c.post(ctx, "/api/v1/analysis", req, &result); err != nil {
		return nil, err
	}
	if result.AuditHash == "" {
		return nil, fmt.Errorf("engine returned no audit hash")
	}
	return &result, nil
}

// verifySignatureRequest matches the engine's verify-signature endpoint.
type verifySignatureRequest struct {
	Data      string `json:"data"`
	Signature string `json:"signature"`
}

type verifySignatureResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// VerifySignature asks the engine whether signature is a valid signature
// over digest. Used by deep entry checks on sealed entries that carry an
// engine signature.
func (c *Client) VerifySignature(ctx context.Context, digest, signature string) (bool, error) {
	var resp verifySignatureResponse
	req := verifySignatureRequest{Data: digest, Signature: signature}
	if err := c.post(ctx, "/api/v1/audit-trail/verify-signature", req, &resp); err != nil {
		return false, err
	}
	if resp.Error != "" {
		return resp.Valid, fmt.Errorf("engine verification: %s", resp.Error)
	}
	return resp.Valid, nil
}

// Healthy returns nil when the engine answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("engine health check: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine health check: status %d", resp.StatusCode)
	}
	return nil
}

// post sends a JSON request body and decodes a JSON response into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("engine request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode engine response: %w", err)
	}
	return nil
}
