package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aic-platform/sovereign/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type memStore struct {
	mu         sync.Mutex
	subs       map[uuid.UUID]*WebhookSubscription
	deliveries []*WebhookDelivery
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[uuid.UUID]*WebhookSubscription)}
}

func (m *memStore) Create(_ context.Context, sub *WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub.ID = uuid.New()
	sub.Active = true
	sub.CreatedAt = time.Now().UTC()
	m.subs[sub.ID] = sub
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sub, nil
}

func (m *memStore) ListByOrg(_ context.Context, orgID uuid.UUID) ([]*WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*WebhookSubscription
	for _, sub := range m.subs {
		if sub.OrgID == orgID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *memStore) ListByEvent(_ context.Context, eventType string) ([]*WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*WebhookSubscription
	for _, sub := range m.subs {
		if !sub.Active {
			continue
		}
		for _, e := range sub.Events {
			if e == eventType {
				out = append(out, sub)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func (m *memStore) RecordDelivery(_ context.Context, d *WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.New()
	m.deliveries = append(m.deliveries, d)
	return nil
}

func TestSubscribeGeneratesSecret(t *testing.T) {
	svc := NewService(newMemStore(), zap.NewNop())

	sub, err := svc.Subscribe(context.Background(), uuid.New(), &CreateSubscriptionRequest{
		URL:    "https://example.com/hook",
		Events: []string{EventIncidentOpened},
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.Secret == "" {
		t.Error("expected a generated secret")
	}
	if !sub.Active {
		t.Error("new subscriptions should be active")
	}
}

func TestDispatchDeliversSignedEvent(t *testing.T) {
	type received struct {
		body      []byte
		signature string
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{body: body, signature: r.Header.Get("X-Sovereign-Signature")}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := newMemStore()
	svc := NewService(store, zap.NewNop())

	delivered := make(chan bool, 1)
	svc.SetMetricsRecorder(func(success bool) { delivered <- success })

	sub, err := svc.Subscribe(context.Background(), uuid.New(), &CreateSubscriptionRequest{
		URL:    srv.URL,
		Events: []string{EventLedgerTampered},
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	svc.Dispatch(context.Background(), EventLedgerTampered, map[string]string{"scope": "system"})

	var r received
	select {
	case r = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was never delivered")
	}

	var event WebhookEvent
	if err := json.Unmarshal(r.body, &event); err != nil {
		t.Fatalf("unmarshal delivered event: %v", err)
	}
	if event.Type != EventLedgerTampered {
		t.Errorf("event type = %q, want %q", event.Type, EventLedgerTampered)
	}
	if event.Payload["scope"] != "system" {
		t.Errorf("payload scope = %q, want system", event.Payload["scope"])
	}

	mac := hmac.New(sha256.New, []byte(sub.Secret))
	mac.Write(r.body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if r.signature != want {
		t.Errorf("signature = %q, want %q", r.signature, want)
	}

	select {
	case success := <-delivered:
		if !success {
			t.Error("delivery reported as failed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delivery outcome never recorded")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.deliveries) != 1 || !store.deliveries[0].Success {
		t.Errorf("deliveries = %+v, want one successful record", store.deliveries)
	}
}

func TestDispatchOutlivesCallerContext(t *testing.T) {
	got := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- struct{}{}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := newMemStore()
	svc := NewService(store, zap.NewNop())

	delivered := make(chan bool, 1)
	svc.SetMetricsRecorder(func(success bool) { delivered <- success })

	if _, err := svc.Subscribe(context.Background(), uuid.New(), &CreateSubscriptionRequest{
		URL:    srv.URL,
		Events: []string{EventIncidentOpened},
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Dispatch from a context that is cancelled as soon as the caller
	// returns, as a request context is. The delivery must still land.
	ctx, cancel := context.WithCancel(context.Background())
	svc.Dispatch(ctx, EventIncidentOpened, map[string]string{"incident_id": "inc-1"})
	cancel()

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never reached the endpoint after caller cancellation")
	}
	select {
	case success := <-delivered:
		if !success {
			t.Error("delivery reported as failed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delivery outcome never recorded")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.deliveries) != 1 || !store.deliveries[0].Success {
		t.Errorf("deliveries = %+v, want one successful record", store.deliveries)
	}
}

func TestDispatchSkipsNonMatchingEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("subscription for another event must not be called")
	}))
	defer srv.Close()

	svc := NewService(newMemStore(), zap.NewNop())
	if _, err := svc.Subscribe(context.Background(), uuid.New(), &CreateSubscriptionRequest{
		URL:    srv.URL,
		Events: []string{EventScoreUpdated},
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	svc.Dispatch(context.Background(), EventIncidentOpened, nil)
	time.Sleep(100 * time.Millisecond)
}

func TestUnsubscribeChecksOwnership(t *testing.T) {
	svc := NewService(newMemStore(), zap.NewNop())
	owner := uuid.New()

	sub, err := svc.Subscribe(context.Background(), owner, &CreateSubscriptionRequest{
		URL:    "https://example.com/hook",
		Events: []string{EventIncidentOpened},
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := svc.Unsubscribe(context.Background(), uuid.New(), sub.ID); err == nil {
		t.Error("expected an error unsubscribing another org's subscription")
	}
	if err := svc.Unsubscribe(context.Background(), owner, sub.ID); err != nil {
		t.Errorf("owner unsubscribe: %v", err)
	}
}

// ── Handler ──────────────────────────────────────────────────────────────────

func setupWebhookRouter(t *testing.T) (*gin.Engine, *auth.Issuer, uuid.UUID) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer := auth.NewIssuer([]byte("test-secret"), "https://sovereign.test", 0)
	svc := NewService(newMemStore(), zap.NewNop())
	h := NewHandler(svc, issuer, zap.NewNop())

	r := gin.New()
	v1 := r.Group("/api/v1")
	h.Register(v1)

	return r, issuer, uuid.New()
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateSubscription_requiresOrgToken(t *testing.T) {
	r, issuer, orgID := setupWebhookRouter(t)
	path := "/api/v1/orgs/" + orgID.String() + "/webhooks"
	body := map[string]any{"url": "https://example.com/hook", "events": []string{EventScoreUpdated}}

	if w := doJSON(t, r, http.MethodPost, path, "", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	otherTok, _ := issuer.IssueOrgToken(uuid.New())
	if w := doJSON(t, r, http.MethodPost, path, otherTok, body); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with another org's token, got %d", w.Code)
	}

	tok, _ := issuer.IssueOrgToken(orgID)
	w := doJSON(t, r, http.MethodPost, path, tok, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Secret string `json:"secret"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Secret == "" {
		t.Error("create response must include the secret once")
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	r, issuer, orgID := setupWebhookRouter(t)
	tok, _ := issuer.IssueOrgToken(orgID)
	base := "/api/v1/orgs/" + orgID.String() + "/webhooks"

	w := doJSON(t, r, http.MethodPost, base, tok, map[string]any{
		"url":    "https://example.com/hook",
		"events": []string{EventIncidentOpened},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Subscription WebhookSubscription `json:"subscription"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)

	w = doJSON(t, r, http.MethodGet, base, tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	var listed struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &listed)
	if listed.Count != 1 {
		t.Errorf("count = %d, want 1", listed.Count)
	}

	w = doJSON(t, r, http.MethodDelete, base+"/"+created.Subscription.ID.String(), tok, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, base, tok, nil)
	json.Unmarshal(w.Body.Bytes(), &listed)
	if listed.Count != 0 {
		t.Errorf("count after delete = %d, want 0", listed.Count)
	}
}
