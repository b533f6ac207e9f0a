package engine_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aic-platform/sovereign/internal/engine"
)

func TestAnalyze_returnsAuditHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/analysis" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req engine.AnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.SystemName != "loan-scoring" {
			t.Errorf("system name: got %q", req.SystemName)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"report":     map[string]any{"disparate_impact": 0.82},
			"flags":      []string{"DI_BELOW_THRESHOLD"},
			"audit_hash": "abc123",
		})
	}))
	defer srv.Close()

	c := engine.NewClient(engine.Config{BaseURL: srv.URL})
	result, err := c.Analyze(context.Background(), &engine.AnalysisRequest{
		SystemName:   "loan-scoring",
		AnalysisType: "disparate_impact",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.AuditHash != "abc123" {
		t.Errorf("audit hash: got %q", result.AuditHash)
	}
	if len(result.Flags) != 1 {
		t.Errorf("flags: got %v", result.Flags)
	}
}

func TestAnalyze_missingAuditHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"report": map[string]any{}})
	}))
	defer srv.Close()

	c := engine.NewClient(engine.Config{BaseURL: srv.URL})
	if _, err := c.Analyze(context.Background(), &engine.AnalysisRequest{SystemName: "x"}); err == nil {
		t.Error("expected error when engine omits audit_hash")
	}
}

func TestVerifySignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/audit-trail/verify-signature" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]any{"valid": req["signature"] == "good"})
	}))
	defer srv.Close()

	c := engine.NewClient(engine.Config{BaseURL: srv.URL})

	valid, err := c.VerifySignature(context.Background(), "digest", "good")
	if err != nil {
		t.Fatal(err)
	}
	if !valid {
		t.Error("expected valid signature")
	}

	valid, err = c.VerifySignature(context.Background(), "digest", "bad")
	if err != nil {
		t.Fatal(err)
	}
	if valid {
		t.Error("expected invalid signature")
	}
}

func TestVerifySignature_engineFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := engine.NewClient(engine.Config{BaseURL: srv.URL})
	if _, err := c.VerifySignature(context.Background(), "digest", "sig"); err == nil {
		t.Error("expected error on engine 500")
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := engine.NewClient(engine.Config{BaseURL: srv.URL})
	if err := c.Healthy(context.Background()); err != nil {
		t.Errorf("expected healthy engine, got %v", err)
	}

	down := engine.NewClient(engine.Config{BaseURL: "http://127.0.0.1:1"})
	if err := down.Healthy(context.Background()); err == nil {
		t.Error("expected unreachable engine to be unhealthy")
	}
}
