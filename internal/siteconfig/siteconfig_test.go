package siteconfig

import (
	"context"
	"testing"

	"realtor-scout/internal/extractor"
	"realtor-scout/internal/store"
)

type stubStore struct {
	created store.SiteConfig
}

func (s *stubStore) CreateSiteConfig(ctx context.Context, c store.SiteConfig) (store.SiteConfig, error) {
	s.created = c
	return c, nil
}
func (s *stubStore) UpdateSiteConfig(ctx context.Context, c store.SiteConfig) (store.SiteConfig, error) {
	return c, nil
}
func (s *stubStore) GetSiteConfigByKey(ctx context.Context, key string) (store.SiteConfig, error) {
	return store.SiteConfig{Key: key}, nil
}
func (s *stubStore) ListSiteConfigs(ctx context.Context) ([]store.SiteConfig, error) { return nil, nil }
func (s *stubStore) DeleteSiteConfig(ctx context.Context, key string) error           { return nil }

func TestCreateRejectsMissingKey(t *testing.T) {
	svc := New(&stubStore{})
	_, err := svc.Create(context.Background(), Input{BaseURL: "https://example.com", Selectors: extractor.Selectors{ExtractionMode: "direct"}})
	if err == nil {
		t.Fatal("expected validation error for missing key")
	}
}

func TestCreateRejectsBadExtractionMode(t *testing.T) {
	svc := New(&stubStore{})
	_, err := svc.Create(context.Background(), Input{Key: "pearls", BaseURL: "https://example.com", Selectors: extractor.Selectors{ExtractionMode: "bogus"}})
	if err == nil {
		t.Fatal("expected validation error for bad extraction_mode")
	}
}

func TestCreateSucceeds(t *testing.T) {
	stub := &stubStore{}
	svc := New(stub)
	_, err := svc.Create(context.Background(), Input{Key: "pearls", BaseURL: "https://example.com", Selectors: extractor.Selectors{ExtractionMode: "section"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.created.Key != "pearls" {
		t.Fatalf("expected key pearls, got %q", stub.created.Key)
	}
}
