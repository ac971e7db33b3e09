package control

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"realtor-scout/internal/apperr"
	"realtor-scout/internal/config"
	"realtor-scout/internal/extractor"
	"realtor-scout/internal/fieldcache"
	"realtor-scout/internal/store"
)

type stubStore struct {
	jobs  map[uuid.UUID]store.ScrapeJob
	sites map[string]store.SiteConfig
}

func newStubStore() *stubStore {
	return &stubStore{jobs: map[uuid.UUID]store.ScrapeJob{}, sites: map[string]store.SiteConfig{}}
}

func (s *stubStore) CreateSiteConfig(ctx context.Context, c store.SiteConfig) (store.SiteConfig, error) {
	c.ID = uuid.New()
	s.sites[c.Key] = c
	return c, nil
}
func (s *stubStore) UpdateSiteConfig(ctx context.Context, c store.SiteConfig) (store.SiteConfig, error) {
	s.sites[c.Key] = c
	return c, nil
}
func (s *stubStore) GetSiteConfigByKey(ctx context.Context, key string) (store.SiteConfig, error) {
	c, ok := s.sites[key]
	if !ok {
		return store.SiteConfig{}, apperr.NotFound("site not found")
	}
	return c, nil
}
func (s *stubStore) ListSiteConfigs(ctx context.Context) ([]store.SiteConfig, error) {
	var out []store.SiteConfig
	for _, c := range s.sites {
		out = append(out, c)
	}
	return out, nil
}
func (s *stubStore) DeleteSiteConfig(ctx context.Context, key string) error {
	delete(s.sites, key)
	return nil
}
func (s *stubStore) GetJob(ctx context.Context, id uuid.UUID) (store.ScrapeJob, error) {
	j, ok := s.jobs[id]
	if !ok {
		return store.ScrapeJob{}, apperr.NotFound("job not found")
	}
	return j, nil
}
func (s *stubStore) CreateJob(ctx context.Context, siteKey, startURL string, maxPages int, cfg json.RawMessage) (store.ScrapeJob, error) {
	site, ok := s.sites[siteKey]
	if !ok {
		return store.ScrapeJob{}, apperr.NotFound("site config not found: " + siteKey)
	}
	if !site.IsActive {
		return store.ScrapeJob{}, apperr.NotFound("site config inactive: " + siteKey)
	}
	for _, j := range s.jobs {
		if j.Status == "running" {
			return store.ScrapeJob{}, apperr.Conflict("a job is already running")
		}
	}
	j := store.ScrapeJob{ID: uuid.New(), SiteKey: siteKey, StartURL: startURL, MaxPages: maxPages, Status: "pending", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.jobs[j.ID] = j
	return j, nil
}
func (s *stubStore) ListJobs(ctx context.Context, f store.JobListFilter) ([]store.ScrapeJob, error) {
	var out []store.ScrapeJob
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}
func (s *stubStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	if _, ok := s.jobs[id]; !ok {
		return apperr.NotFound("job not found")
	}
	delete(s.jobs, id)
	return nil
}
func (s *stubStore) SearchListings(ctx context.Context, query string, limit int) ([]store.Listing, error) {
	return nil, nil
}

type stubRunner struct{ cancelled uuid.UUID }

func (r *stubRunner) CancelJob(ctx context.Context, id uuid.UUID) error {
	r.cancelled = id
	return nil
}

func testServer() (*Server, *stubStore, *stubRunner) {
	st := newStubStore()
	rn := &stubRunner{}
	cfg := &config.Config{}
	cfg.Control.SharedSecret = "test-secret"
	cfg.Worker.ProgressPollMs = 10
	cfg.Worker.HeartbeatEveryN = 5
	cache := fieldcache.New(nil, time.Minute, nil)
	return NewServer(cfg, st, rn, cache, nil), st, rn
}

func doRequest(t *testing.T, srv *Server, method, path, body, secret string) *http.Response {
	t.Helper()
	var reqBody io.Reader
	if body != "" {
		reqBody = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	resp, err := srv.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestAuthMiddlewareRejectsMissingSecret(t *testing.T) {
	srv, _, _ := testServer()
	resp := doRequest(t, srv, http.MethodGet, "/api/v1/jobs", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCreateAndGetJob(t *testing.T) {
	srv, st, _ := testServer()
	st.sites["pearls"] = store.SiteConfig{Key: "pearls", IsActive: true}

	body := `{"site_key":"pearls","start_url":"https://example.com/listings","max_pages":2}`
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs", body, "test-secret")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created Envelope
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !created.Success {
		t.Fatalf("expected success envelope, got %+v", created)
	}
	if created.TraceID == "" {
		t.Fatal("expected a non-empty trace id")
	}

	jobMap, ok := created.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected data to decode to a map, got %T", created.Data)
	}
	id := jobMap["id"].(string)

	getResp := doRequest(t, srv, http.MethodGet, "/api/v1/jobs/"+id, "", "test-secret")
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}
}

func TestCreateJobRejectsUnknownSite(t *testing.T) {
	srv, _, _ := testServer()
	body := `{"site_key":"does-not-exist","start_url":"https://example.com/listings","max_pages":2}`
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs", body, "test-secret")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateJobRejectsInactiveSite(t *testing.T) {
	srv, st, _ := testServer()
	st.sites["pearls"] = store.SiteConfig{Key: "pearls", IsActive: false}
	body := `{"site_key":"pearls","start_url":"https://example.com/listings","max_pages":2}`
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs", body, "test-secret")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateJobRejectsWhileAnotherRuns(t *testing.T) {
	srv, st, _ := testServer()
	st.sites["pearls"] = store.SiteConfig{Key: "pearls", IsActive: true}
	running := store.ScrapeJob{ID: uuid.New(), SiteKey: "pearls", Status: "running"}
	st.jobs[running.ID] = running

	body := `{"site_key":"pearls","start_url":"https://example.com/listings","max_pages":2}`
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs", body, "test-secret")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestCancelJobInvokesRunner(t *testing.T) {
	srv, st, rn := testServer()
	st.sites["pearls"] = store.SiteConfig{Key: "pearls", IsActive: true}
	job, err := st.CreateJob(context.Background(), "pearls", "https://example.com", 1, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs/"+job.ID.String()+"/cancel", "", "test-secret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if rn.cancelled != job.ID {
		t.Fatalf("expected runner to observe cancel of %s, got %s", job.ID, rn.cancelled)
	}
}

func TestCreateSiteRejectsBadExtractionMode(t *testing.T) {
	srv, _, _ := testServer()
	body := `{"key":"pearls","base_url":"https://example.com","selectors":{"extraction_mode":"bogus"}}`
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/sites", body, "test-secret")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestPreviewExtractionRunsSelectors(t *testing.T) {
	srv, _, _ := testServer()
	sel := extractor.Selectors{ExtractionMode: "direct", Field: map[string]string{"price": ".price"}}
	reqBody, _ := json.Marshal(PreviewRequest{HTML: `<html><body><div class="price">350.000€</div></body></html>`, Selectors: sel})

	resp := doRequest(t, srv, http.MethodPost, "/api/v1/sites/preview", string(reqBody), "test-secret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
