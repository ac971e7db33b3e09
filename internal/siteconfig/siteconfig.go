// Package siteconfig provides the domain-level CRUD operations behind
// C8's /sites endpoints: validating and persisting the selector
// configuration a site needs before any job can run against it.
package siteconfig

import (
	"context"
	"encoding/json"
	"strings"

	"realtor-scout/internal/apperr"
	"realtor-scout/internal/extractor"
	"realtor-scout/internal/store"
)

// Store is the persistence dependency this package needs, satisfied
// by *store.Store.
type Store interface {
	CreateSiteConfig(ctx context.Context, c store.SiteConfig) (store.SiteConfig, error)
	UpdateSiteConfig(ctx context.Context, c store.SiteConfig) (store.SiteConfig, error)
	GetSiteConfigByKey(ctx context.Context, key string) (store.SiteConfig, error)
	ListSiteConfigs(ctx context.Context) ([]store.SiteConfig, error)
	DeleteSiteConfig(ctx context.Context, key string) error
}

// Input is the create/update request shape for a site config.
type Input struct {
	Key             string
	Name            string
	BaseURL         string
	Selectors       extractor.Selectors
	LinkPattern     string
	ImageFilter     string
	PaginationType  string
	PaginationParam string
	IsActive        bool
}

func (in Input) validate() error {
	if strings.TrimSpace(in.Key) == "" {
		return apperr.Validation("site key is required")
	}
	if strings.TrimSpace(in.BaseURL) == "" {
		return apperr.Validation("base_url is required")
	}
	if in.Selectors.ExtractionMode != "direct" && in.Selectors.ExtractionMode != "section" {
		return apperr.Validation("extraction_mode must be 'direct' or 'section'")
	}
	return nil
}

// Service wires the store dependency behind the domain operations.
type Service struct {
	store Store
}

func New(s Store) *Service {
	return &Service{store: s}
}

func (s *Service) Create(ctx context.Context, in Input) (store.SiteConfig, error) {
	if err := in.validate(); err != nil {
		return store.SiteConfig{}, err
	}
	selectors, err := json.Marshal(in.Selectors)
	if err != nil {
		return store.SiteConfig{}, apperr.Wrap(apperr.KindValidation, "failed to marshal selectors", err)
	}
	return s.store.CreateSiteConfig(ctx, store.SiteConfig{
		Key:             in.Key,
		Name:            in.Name,
		BaseURL:         in.BaseURL,
		Selectors:       selectors,
		ExtractionMode:  in.Selectors.ExtractionMode,
		LinkPattern:     in.LinkPattern,
		ImageFilter:     in.ImageFilter,
		PaginationType:  in.PaginationType,
		PaginationParam: in.PaginationParam,
		IsActive:        in.IsActive,
	})
}

func (s *Service) Update(ctx context.Context, in Input) (store.SiteConfig, error) {
	if err := in.validate(); err != nil {
		return store.SiteConfig{}, err
	}
	selectors, err := json.Marshal(in.Selectors)
	if err != nil {
		return store.SiteConfig{}, apperr.Wrap(apperr.KindValidation, "failed to marshal selectors", err)
	}
	return s.store.UpdateSiteConfig(ctx, store.SiteConfig{
		Key:             in.Key,
		Name:            in.Name,
		BaseURL:         in.BaseURL,
		Selectors:       selectors,
		ExtractionMode:  in.Selectors.ExtractionMode,
		LinkPattern:     in.LinkPattern,
		ImageFilter:     in.ImageFilter,
		PaginationType:  in.PaginationType,
		PaginationParam: in.PaginationParam,
		IsActive:        in.IsActive,
	})
}

func (s *Service) Get(ctx context.Context, key string) (store.SiteConfig, error) {
	return s.store.GetSiteConfigByKey(ctx, key)
}

func (s *Service) List(ctx context.Context) ([]store.SiteConfig, error) {
	return s.store.ListSiteConfigs(ctx)
}

func (s *Service) Delete(ctx context.Context, key string) error {
	return s.store.DeleteSiteConfig(ctx, key)
}

// Selectors decodes the stored selectors JSON back into a typed value
// for the extractor to consume.
func Selectors(cfg store.SiteConfig) (extractor.Selectors, error) {
	var sel extractor.Selectors
	if err := json.Unmarshal(cfg.Selectors, &sel); err != nil {
		return extractor.Selectors{}, apperr.Wrap(apperr.KindInternal, "failed to decode stored selectors", err)
	}
	sel.ExtractionMode = cfg.ExtractionMode
	sel.LinkPattern = cfg.LinkPattern
	sel.ImageFilter = cfg.ImageFilter
	return sel, nil
}
