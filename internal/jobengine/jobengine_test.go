package jobengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"realtor-scout/internal/config"
	"realtor-scout/internal/extractor"
	"realtor-scout/internal/store"
)

type memStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*store.ScrapeJob
	sites    map[string]store.SiteConfig
	listings map[string]store.Listing
}

func newMemStore() *memStore {
	return &memStore{jobs: map[uuid.UUID]*store.ScrapeJob{}, sites: map[string]store.SiteConfig{}, listings: map[string]store.Listing{}}
}

func (m *memStore) ListPendingJobs(ctx context.Context, limit int) ([]store.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ScrapeJob
	for _, j := range m.jobs {
		if j.Status == StatusPending {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *memStore) MarkRunning(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = StatusRunning
	return nil
}
func (m *memStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = StatusCompleted
	return nil
}
func (m *memStore) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = StatusFailed
	return nil
}
func (m *memStore) CancelJob(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = StatusCancelled
	return nil
}
func (m *memStore) Status(ctx context.Context, id uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Status, nil
}
func (m *memStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress json.RawMessage) error {
	return nil
}
func (m *memStore) AppendLog(ctx context.Context, id uuid.UUID, entry string) error { return nil }
func (m *memStore) AppendURL(ctx context.Context, id uuid.UUID, url string) error   { return nil }
func (m *memStore) GetSiteConfigByKey(ctx context.Context, key string) (store.SiteConfig, error) {
	return m.sites[key], nil
}
func (m *memStore) UpsertListing(ctx context.Context, l store.Listing, media []store.MediaAsset) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.listings[l.SourceURL]
	l.ID = uuid.New()
	m.listings[l.SourceURL] = l
	return l.ID, !exists, nil
}
func (m *memStore) DeleteExpiredJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func TestCrawlDiscoversAndPersistsListings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.WriteHeader(http.StatusNotFound)
		case "/listings":
			w.Write([]byte(`<html><body><a class="card" href="/listing/1">one</a></body></html>`))
		case "/listing/1":
			w.Write([]byte(`<html><body><div class="price">350.000€</div><div class="useful">100 m²</div></body></html>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	sel := extractor.Selectors{
		ExtractionMode: "direct",
		Field: map[string]string{
			"price":       ".price",
			"area_useful": ".useful",
		},
		ListingLink: "a.card",
	}
	selJSON, _ := json.Marshal(sel)

	ms := newMemStore()
	ms.sites["pearls"] = store.SiteConfig{Key: "pearls", ExtractionMode: "direct", Selectors: selJSON}

	jobID := uuid.New()
	ms.jobs[jobID] = &store.ScrapeJob{ID: jobID, SiteKey: "pearls", StartURL: srv.URL + "/listings", MaxPages: 1, Status: StatusPending, Config: json.RawMessage(`{}`)}

	cfg := &config.Config{}
	cfg.Fetcher.MinDelayMs = 0
	cfg.Fetcher.MaxDelayMs = 0
	cfg.Crawler.MaxPagesDefault = 1

	runner := NewRunner(cfg, ms, nil, nil)
	runner.runJob(context.Background(), *ms.jobs[jobID])

	if ms.jobs[jobID].Status != StatusCompleted {
		t.Fatalf("expected job completed, got %s", ms.jobs[jobID].Status)
	}
	listing, ok := ms.listings[srv.URL+"/listing/1"]
	if !ok {
		t.Fatal("expected listing to be persisted")
	}
	if !listing.Price.Valid || listing.Price.Float64 != 350000 {
		t.Fatalf("expected price 350000, got %+v", listing.Price)
	}
}
