package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bcnelson/traefik-route-manager/internal/api"
	"github.com/bcnelson/traefik-route-manager/internal/domain"
	"github.com/bcnelson/traefik-route-manager/internal/publisher"
	"github.com/bcnelson/traefik-route-manager/internal/service"
	"github.com/bcnelson/traefik-route-manager/internal/storage/memory"
	"github.com/bcnelson/traefik-route-manager/internal/traefik"
)

// testServer creates a test server with in-memory storage
type testServer struct {
	handler      http.Handler
	store        *memory.Store
	dir          string
	bootstrapKey string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	bootstrapKey := "test-bootstrap-key"
	dir := filepath.Join(t.TempDir(), "dynamic")

	reconciler := service.NewReconciler(store, traefik.New(""), publisher.New(dir), service.Options{})
	handler := api.NewRouter(store, reconciler, bootstrapKey)

	return &testServer{
		handler:      handler,
		store:        store,
		dir:          dir,
		bootstrapKey: bootstrapKey,
	}
}

func (ts *testServer) request(method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	return ts.requestWithHeaders(method, path, body, apiKey, nil)
}

func (ts *testServer) requestWithHeaders(method, path string, body any, apiKey string, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) createDomain(t *testing.T, req domain.CreateDomainRequest) *domain.Domain {
	t.Helper()
	rr := ts.request("POST", "/api/v1/domains", req, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 creating domain, got %d: %s", rr.Code, rr.Body.String())
	}
	var d domain.Domain
	_ = json.Unmarshal(rr.Body.Bytes(), &d)
	return &d
}

func (ts *testServer) createRule(t *testing.T, domainID int64, req domain.CreateProxyRuleRequest) *domain.ProxyRule {
	t.Helper()
	rr := ts.request("POST", fmt.Sprintf("/api/v1/domains/%d/rules", domainID), req, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 creating rule, got %d: %s", rr.Code, rr.Body.String())
	}
	var rule domain.ProxyRule
	_ = json.Unmarshal(rr.Body.Bytes(), &rule)
	return &rule
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) domain.StandardError {
	t.Helper()
	var resp domain.StandardErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Expected standard error body, got %q: %v", rr.Body.String(), err)
	}
	return resp.Error
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("GET", "/health", nil, "")

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var resp map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %s", resp["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	// Request without auth header
	rr := ts.request("GET", "/api/v1/domains", nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
	if e := decodeError(t, rr); e.Code != domain.ErrCodeUnauthorized {
		t.Errorf("Expected code %s, got %s", domain.ErrCodeUnauthorized, e.Code)
	}

	// Request with invalid auth header format
	req := httptest.NewRequest("GET", "/api/v1/domains", nil)
	req.Header.Set("Authorization", "Basic invalid")
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}

	// Request with invalid API key
	rr = ts.request("GET", "/api/v1/domains", nil, "invalid-key")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestBootstrapKeyAuth(t *testing.T) {
	ts := newTestServer(t)

	// Bootstrap key should work when no API keys exist
	rr := ts.request("GET", "/api/v1/domains", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 with bootstrap key, got %d", rr.Code)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	ts := newTestServer(t)

	// Create API key using bootstrap key
	createReq := domain.CreateAPIKeyRequest{Name: "Test Key"}
	rr := ts.request("POST", "/api/v1/keys", createReq, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var createResp domain.CreateAPIKeyResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &createResp)
	if createResp.Key == "" {
		t.Error("Expected key to be returned on creation")
	}
	if !strings.HasPrefix(createResp.Key, createResp.KeyPrefix) {
		t.Errorf("Expected key to start with prefix %q", createResp.KeyPrefix)
	}
	if !strings.HasPrefix(createResp.Key, domain.KeyScheme) || len(createResp.KeyPrefix) != domain.KeyDisplayLen {
		t.Errorf("Unexpected key shape %q with prefix %q", createResp.Key, createResp.KeyPrefix)
	}

	// Use the new API key
	rr = ts.request("GET", "/api/v1/domains", nil, createResp.Key)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 with new API key, got %d", rr.Code)
	}

	// Bootstrap key stops working once a real key exists
	rr = ts.request("GET", "/api/v1/domains", nil, ts.bootstrapKey)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for bootstrap key, got %d", rr.Code)
	}

	// List API keys
	rr = ts.request("GET", "/api/v1/keys", nil, createResp.Key)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var keys []*domain.APIKey
	_ = json.Unmarshal(rr.Body.Bytes(), &keys)
	if len(keys) != 1 {
		t.Errorf("Expected 1 key, got %d", len(keys))
	}
	if strings.Contains(rr.Body.String(), createResp.Key) {
		t.Error("Listing must not expose key material")
	}

	// Names are validated
	rr = ts.request("POST", "/api/v1/keys", domain.CreateAPIKeyRequest{Name: "  "}, createResp.Key)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for blank name, got %d", rr.Code)
	}
	if e := decodeError(t, rr); e.Code != domain.ErrCodeValidationError || e.Field != "name" {
		t.Errorf("Expected validation error on name, got %+v", e)
	}

	// Delete API key
	rr = ts.request("DELETE", "/api/v1/keys/"+createResp.ID, nil, createResp.Key)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rr.Code)
	}
}

func TestDomainCRUD(t *testing.T) {
	ts := newTestServer(t)

	d := ts.createDomain(t, domain.CreateDomainRequest{Name: "Shop.Test"})
	if d.Name != "shop.test" {
		t.Errorf("Expected normalized name 'shop.test', got '%s'", d.Name)
	}
	if !d.Active || !d.ForceHTTPS {
		t.Errorf("Expected active and force_https defaults, got %+v", d)
	}

	path := fmt.Sprintf("/api/v1/domains/%d/", d.ID)

	// Get domain (note trailing slash for the subrouter)
	rr := ts.request("GET", path, nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Error("Expected ETag header")
	}

	// Mutations carry the new ETag on success
	rr = ts.request("POST", "/api/v1/domains", domain.CreateDomainRequest{Name: "other.test"}, ts.bootstrapKey)
	if rr.Code != http.StatusCreated || rr.Header().Get("ETag") == "" {
		t.Errorf("Expected 201 with ETag, got %d and %q", rr.Code, rr.Header().Get("ETag"))
	}

	// Duplicate name
	rr = ts.request("POST", "/api/v1/domains", domain.CreateDomainRequest{Name: "shop.test"}, ts.bootstrapKey)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for duplicate, got %d", rr.Code)
	}

	// Update domain
	autoTLS := true
	rr = ts.requestWithHeaders("PUT", path, domain.UpdateDomainRequest{AutoTLS: &autoTLS}, ts.bootstrapKey,
		map[string]string{"If-Match": etag})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var updated domain.Domain
	_ = json.Unmarshal(rr.Body.Bytes(), &updated)
	if !updated.AutoTLS {
		t.Error("Expected auto_tls to be updated")
	}

	// Stale ETag
	rr = ts.requestWithHeaders("PUT", path, domain.UpdateDomainRequest{AutoTLS: &autoTLS}, ts.bootstrapKey,
		map[string]string{"If-Match": etag})
	if rr.Code != http.StatusPreconditionFailed {
		t.Errorf("Expected status 412 for stale ETag, got %d", rr.Code)
	}

	// List domains
	rr = ts.request("GET", "/api/v1/domains", nil, ts.bootstrapKey)
	var domains []*domain.Domain
	_ = json.Unmarshal(rr.Body.Bytes(), &domains)
	if len(domains) != 2 {
		t.Errorf("Expected 2 domains, got %d", len(domains))
	}

	// Delete domain
	rr = ts.request("DELETE", path, nil, ts.bootstrapKey)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rr.Code)
	}

	// Verify deleted
	rr = ts.request("GET", path, nil, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestDomainValidation(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("POST", "/api/v1/domains", domain.CreateDomainRequest{Name: "not a domain"}, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rr.Code)
	}
	e := decodeError(t, rr)
	if e.Code != domain.ErrCodeValidationError || e.Field != "name" {
		t.Errorf("Expected validation error on name, got %+v", e)
	}

	rr = ts.request("GET", "/api/v1/domains/abc/", nil, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for non-numeric id, got %d", rr.Code)
	}
}

func TestMutationWritesConfiguration(t *testing.T) {
	ts := newTestServer(t)

	d := ts.createDomain(t, domain.CreateDomainRequest{Name: "shop.test"})
	rule := ts.createRule(t, d.ID, domain.CreateProxyRuleRequest{TargetURL: "http://backend:8080", Priority: 10})

	content, err := os.ReadFile(filepath.Join(ts.dir, "routes-shop_test.yml"))
	if err != nil {
		t.Fatalf("Expected domain file to be written: %v", err)
	}
	router := traefik.RouterName("shop.test", rule.ID)
	for _, want := range []string{router + ":", router + "_http:", "http://backend:8080"} {
		if !strings.Contains(string(content), want) {
			t.Errorf("Expected %q in generated file:\n%s", want, content)
		}
	}

	// Status reflects the recorded generation
	rr := ts.request("GET", "/api/v1/config/status", nil, ts.bootstrapKey)
	var status domain.ReconcileStatus
	_ = json.Unmarshal(rr.Body.Bytes(), &status)
	if status.Pending || status.Latest == nil || status.Latest.Status != domain.GenerationSuccess {
		t.Errorf("Unexpected status: %s", rr.Body.String())
	}

	// Every mutation recorded a generation
	rr = ts.request("GET", "/api/v1/config/generations?limit=10", nil, ts.bootstrapKey)
	var gens []*domain.Generation
	_ = json.Unmarshal(rr.Body.Bytes(), &gens)
	if len(gens) != 2 {
		t.Errorf("Expected 2 generations, got %d", len(gens))
	}

	// Deactivating the domain removes its file
	active := false
	rr = ts.request("PUT", fmt.Sprintf("/api/v1/domains/%d/", d.ID), domain.UpdateDomainRequest{Active: &active}, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if _, err := os.Stat(filepath.Join(ts.dir, "routes-shop_test.yml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected domain file to be removed, got %v", err)
	}
}

func TestProxyRuleLocking(t *testing.T) {
	ts := newTestServer(t)

	d := ts.createDomain(t, domain.CreateDomainRequest{Name: "api.test"})
	rule := ts.createRule(t, d.ID, domain.CreateProxyRuleRequest{PathPattern: "/v1", HTTPMethod: "get", TargetURL: "http://api:9000"})
	if rule.HTTPMethod != "GET" {
		t.Errorf("Expected normalized method GET, got %s", rule.HTTPMethod)
	}
	if !rule.MaintainQueryStrings || !rule.Active {
		t.Errorf("Expected active and maintain_query_strings defaults, got %+v", rule)
	}

	base := fmt.Sprintf("/api/v1/domains/%d/rules/%d", d.ID, rule.ID)

	rr := ts.request("POST", base+"/lock", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 locking, got %d", rr.Code)
	}

	priority := 99
	rr = ts.request("PUT", base, domain.UpdateProxyRuleRequest{Priority: &priority}, ts.bootstrapKey)
	if rr.Code != http.StatusConflict {
		t.Fatalf("Expected status 409 for locked rule, got %d", rr.Code)
	}
	if e := decodeError(t, rr); e.Code != domain.ErrCodeLocked {
		t.Errorf("Expected code %s, got %s", domain.ErrCodeLocked, e.Code)
	}

	rr = ts.request("DELETE", base, nil, ts.bootstrapKey)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 deleting locked rule, got %d", rr.Code)
	}

	rr = ts.request("POST", base+"/unlock", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 unlocking, got %d", rr.Code)
	}

	rr = ts.request("PUT", base, domain.UpdateProxyRuleRequest{Priority: &priority}, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 after unlock, got %d: %s", rr.Code, rr.Body.String())
	}
	var updated domain.ProxyRule
	_ = json.Unmarshal(rr.Body.Bytes(), &updated)
	if updated.Priority != 99 {
		t.Errorf("Expected priority 99, got %d", updated.Priority)
	}
}

func TestProxyRuleScopedToDomain(t *testing.T) {
	ts := newTestServer(t)

	a := ts.createDomain(t, domain.CreateDomainRequest{Name: "a.test"})
	b := ts.createDomain(t, domain.CreateDomainRequest{Name: "b.test"})
	rule := ts.createRule(t, a.ID, domain.CreateProxyRuleRequest{TargetURL: "http://a:80"})

	rr := ts.request("GET", fmt.Sprintf("/api/v1/domains/%d/rules/%d", b.ID, rule.ID), nil, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for rule of another domain, got %d", rr.Code)
	}

	rr = ts.request("GET", fmt.Sprintf("/api/v1/domains/%d/rules", a.ID), nil, ts.bootstrapKey)
	var rules []*domain.ProxyRule
	_ = json.Unmarshal(rr.Body.Bytes(), &rules)
	if len(rules) != 1 {
		t.Errorf("Expected 1 rule, got %d", len(rules))
	}
}

func TestProxyRuleValidation(t *testing.T) {
	ts := newTestServer(t)
	d := ts.createDomain(t, domain.CreateDomainRequest{Name: "v.test"})

	missing := int64(404)
	tests := []struct {
		name  string
		req   domain.CreateProxyRuleRequest
		field string
	}{
		{"no target", domain.CreateProxyRuleRequest{}, "target_url"},
		{"relative path", domain.CreateProxyRuleRequest{PathPattern: "api", TargetURL: "http://x:1"}, "path_pattern"},
		{"bad method", domain.CreateProxyRuleRequest{HTTPMethod: "FETCH", TargetURL: "http://x:1"}, "http_method"},
		{"unknown upstream", domain.CreateProxyRuleRequest{UpstreamID: &missing}, "upstream_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.request("POST", fmt.Sprintf("/api/v1/domains/%d/rules", d.ID), tt.req, ts.bootstrapKey)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d", rr.Code)
			}
			if e := decodeError(t, rr); e.Field != tt.field {
				t.Errorf("Expected error on %s, got %+v", tt.field, e)
			}
		})
	}
}

func TestRedirectCRUD(t *testing.T) {
	ts := newTestServer(t)
	d := ts.createDomain(t, domain.CreateDomainRequest{Name: "old.test"})

	rr := ts.request("POST", fmt.Sprintf("/api/v1/domains/%d/redirects", d.ID),
		domain.CreateRedirectRuleRequest{SourcePattern: "/blog", TargetURL: "https://new.test/blog"}, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var rr1 domain.RedirectRule
	_ = json.Unmarshal(rr.Body.Bytes(), &rr1)
	if rr1.RedirectType != domain.RedirectPermanent {
		t.Errorf("Expected default redirect type 301, got %d", rr1.RedirectType)
	}

	content, err := os.ReadFile(filepath.Join(ts.dir, traefik.RedirectsFile))
	if err != nil {
		t.Fatalf("Expected redirects file: %v", err)
	}
	if !strings.Contains(string(content), traefik.RedirectRouterName(rr1.ID)) {
		t.Errorf("Expected redirect router in:\n%s", content)
	}

	path := fmt.Sprintf("/api/v1/domains/%d/redirects/%d", d.ID, rr1.ID)
	temporary := domain.RedirectTemporary
	rr = ts.request("PUT", path, domain.UpdateRedirectRuleRequest{RedirectType: &temporary}, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	bad := 307
	rr = ts.request("PUT", path, domain.UpdateRedirectRuleRequest{RedirectType: &bad}, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for redirect type 307, got %d", rr.Code)
	}

	rr = ts.request("DELETE", path, nil, ts.bootstrapKey)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rr.Code)
	}
}

func TestUpstreamInUse(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("POST", "/api/v1/upstreams",
		domain.CreateUpstreamRequest{Name: "api", TargetURL: "http://api:9000", HealthCheckPath: "/health"}, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var up domain.Upstream
	_ = json.Unmarshal(rr.Body.Bytes(), &up)

	d := ts.createDomain(t, domain.CreateDomainRequest{Name: "svc.test"})
	ts.createRule(t, d.ID, domain.CreateProxyRuleRequest{UpstreamID: &up.ID})

	content, _ := os.ReadFile(filepath.Join(ts.dir, "routes-svc_test.yml"))
	if !strings.Contains(string(content), "healthCheck:") {
		t.Errorf("Expected health check in generated file:\n%s", content)
	}

	rr = ts.request("DELETE", fmt.Sprintf("/api/v1/upstreams/%d", up.ID), nil, ts.bootstrapKey)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 deleting referenced upstream, got %d", rr.Code)
	}
}

func TestConfigPreviewAndApply(t *testing.T) {
	ts := newTestServer(t)
	d := ts.createDomain(t, domain.CreateDomainRequest{Name: "shop.test"})
	ts.createRule(t, d.ID, domain.CreateProxyRuleRequest{TargetURL: "http://backend:8080"})

	rr := ts.request("GET", "/api/v1/config/preview?domain=shop.test", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var preview domain.Preview
	_ = json.Unmarshal(rr.Body.Bytes(), &preview)
	if len(preview.Files) != 1 || preview.Files[0].Name != "routes-shop_test.yml" {
		t.Errorf("Unexpected preview files: %s", rr.Body.String())
	}

	rr = ts.request("GET", "/api/v1/config/preview?domain=missing.test", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown domain, got %d", rr.Code)
	}

	rr = ts.request("POST", "/api/v1/config/apply", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var report domain.GenerationReport
	_ = json.Unmarshal(rr.Body.Bytes(), &report)
	if len(report.Written) != 0 {
		t.Errorf("Expected nothing rewritten for unchanged state, got %v", report.Written)
	}
}

// failingReconciler always fails to generate.
type failingReconciler struct {
	calls int
}

func (f *failingReconciler) Regenerate(ctx context.Context) (*domain.GenerationReport, error) {
	f.calls++
	return nil, fmt.Errorf("%w: disk full", domain.ErrGenerationFailed)
}

func (f *failingReconciler) Preview(ctx context.Context) (*domain.Preview, error) {
	return &domain.Preview{}, nil
}

func (f *failingReconciler) Status(ctx context.Context) (*domain.ReconcileStatus, error) {
	return &domain.ReconcileStatus{Pending: true}, nil
}

func (f *failingReconciler) ListGenerations(ctx context.Context, limit, offset int) ([]*domain.Generation, error) {
	return nil, nil
}

func TestMutationGenerationFailure(t *testing.T) {
	store := memory.New()
	rec := &failingReconciler{}
	handler := api.NewRouter(store, rec, "key")

	body, _ := json.Marshal(domain.CreateDomainRequest{Name: "shop.test"})
	req := httptest.NewRequest("POST", "/api/v1/domains", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer key")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", rr.Code)
	}
	e := decodeError(t, rr)
	if e.Code != domain.ErrCodeGenerationFailed {
		t.Errorf("Expected code %s, got %s", domain.ErrCodeGenerationFailed, e.Code)
	}
	if e.Message != "configuration generation failed" {
		t.Errorf("Unexpected message %q", e.Message)
	}
	if cause, _ := e.Details["cause"].(string); !strings.Contains(cause, "disk full") {
		t.Errorf("Expected cause in details, got %v", e.Details)
	}
	if _, ok := e.Details["resource"]; !ok {
		t.Error("Expected persisted resource in details")
	}
	if etag := rr.Header().Get("ETag"); etag != "" {
		t.Errorf("Expected no ETag on a failed generation, got %q", etag)
	}

	// The row was persisted anyway
	if _, err := store.GetDomainByName(context.Background(), "shop.test"); err != nil {
		t.Errorf("Expected domain to be persisted: %v", err)
	}
	if rec.calls != 1 {
		t.Errorf("Expected 1 regeneration, got %d", rec.calls)
	}

	// Explicit apply reports the same failure
	req = httptest.NewRequest("POST", "/api/v1/config/apply", nil)
	req.Header.Set("Authorization", "Bearer key")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500 from apply, got %d", rr.Code)
	}
}
