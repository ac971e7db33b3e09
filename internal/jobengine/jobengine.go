// Package jobengine implements the Job Engine (C6): a polling Runner
// that claims pending scrape jobs and drives them through the
// fetch -> extract -> normalize -> persist pipeline, tracking progress
// and honoring cooperative cancellation. Grounded directly on the
// teacher's internal/jobs/runner.go Runner/Executors pattern, adapted
// from a multi-job-type dispatcher down to this module's single job
// type plus the crawl loop itself (grounded on scraper_service.py's
// _run_scrape_async).
package jobengine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"realtor-scout/internal/apperr"
	"realtor-scout/internal/config"
	"realtor-scout/internal/ethicalfetch"
	"realtor-scout/internal/extractor"
	"realtor-scout/internal/fieldcache"
	"realtor-scout/internal/metrics"
	"realtor-scout/internal/normalize"
	"realtor-scout/internal/siteconfig"
	"realtor-scout/internal/store"
)

// Status constants for ScrapeJob, extending the teacher's
// pending/running/completed/failed with "cancelled" per spec.md's
// state machine.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Store is the persistence surface the engine needs.
type Store interface {
	ListPendingJobs(ctx context.Context, limit int) ([]store.ScrapeJob, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	CancelJob(ctx context.Context, id uuid.UUID) error
	Status(ctx context.Context, id uuid.UUID) (string, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress json.RawMessage) error
	AppendLog(ctx context.Context, id uuid.UUID, entry string) error
	AppendURL(ctx context.Context, id uuid.UUID, url string) error
	GetSiteConfigByKey(ctx context.Context, key string) (store.SiteConfig, error)
	UpsertListing(ctx context.Context, l store.Listing, media []store.MediaAsset) (id uuid.UUID, inserted bool, err error)
	DeleteExpiredJobs(ctx context.Context, olderThan time.Time) (int64, error)
}

// Progress is the JSON-serialized shape written to ScrapeJob.progress
// on every checkpoint, polled by the Progress Channel (C7).
type Progress struct {
	PagesScraped    int    `json:"pages_scraped"`
	ListingsFound   int    `json:"listings_found"`
	ListingsSaved   int    `json:"listings_saved"`
	CurrentURL      string `json:"current_url,omitempty"`
	LastUpdatedUnix int64  `json:"last_updated_unix"`
}

// Runner polls for pending jobs and dispatches them to the crawl
// loop, mirroring the teacher's ticker + semaphore worker shape.
type Runner struct {
	cfg    *config.Config
	store  Store
	cache  *fieldcache.Cache
	logger *slog.Logger

	cancelMu sync.Mutex
	cancels  map[uuid.UUID]context.CancelFunc
}

func NewRunner(cfg *config.Config, st Store, cache *fieldcache.Cache, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, store: st, cache: cache, logger: logger, cancels: map[uuid.UUID]context.CancelFunc{}}
}

// Start runs the worker loop until ctx is cancelled. Only one job ever
// runs at a time: spec.md allows at most one running job across the
// whole system, so the loop claims and fully drains a single job
// before polling for the next one rather than fanning out a pool.
func (r *Runner) Start(ctx context.Context) {
	pollInterval := time.Duration(r.cfg.Worker.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastCleanup time.Time
	cleanupInterval := time.Duration(r.cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if r.cfg.Retention.Enabled {
			now := time.Now().UTC()
			if lastCleanup.IsZero() || now.Sub(lastCleanup) >= cleanupInterval {
				r.cleanupExpired(ctx)
				lastCleanup = now
			}
		}

		jobs, err := r.store.ListPendingJobs(ctx, 1)
		if err != nil {
			r.logger.Error("failed to list pending jobs", "error", err)
			continue
		}
		if len(jobs) == 0 {
			continue
		}

		r.runJob(ctx, jobs[0])
	}
}

func (r *Runner) cleanupExpired(ctx context.Context) {
	days := r.cfg.Retention.Jobs.ScrapeDays
	if days <= 0 {
		days = r.cfg.Retention.Jobs.DefaultDays
	}
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deleted, err := r.store.DeleteExpiredJobs(ctx, cutoff)
	if err != nil {
		r.logger.Error("retention cleanup failed", "error", err)
		return
	}
	metrics.RecordRetentionJobs("scrape", deleted)
}

// CancelJob requests cancellation of a running job, firing the
// in-process CancelFunc (fast path) in addition to flipping the DB
// row (authoritative path) so the next checkpoint observes it even
// without waiting on the CancelFunc.
func (r *Runner) CancelJob(ctx context.Context, id uuid.UUID) error {
	if err := r.store.CancelJob(ctx, id); err != nil {
		return err
	}
	r.cancelMu.Lock()
	if cancel, ok := r.cancels[id]; ok {
		cancel()
	}
	r.cancelMu.Unlock()
	return nil
}

func (r *Runner) runJob(ctx context.Context, job store.ScrapeJob) {
	logger := r.logger.With("job_id", job.ID.String(), "site_key", job.SiteKey)

	jobCtx, cancel := context.WithCancel(ctx)
	r.cancelMu.Lock()
	r.cancels[job.ID] = cancel
	r.cancelMu.Unlock()
	defer func() {
		r.cancelMu.Lock()
		delete(r.cancels, job.ID)
		r.cancelMu.Unlock()
		cancel()
	}()

	if err := r.store.MarkRunning(jobCtx, job.ID); err != nil {
		logger.Warn("failed to mark job running, skipping", "error", err)
		return
	}
	metrics.RecordJobStatus(job.SiteKey, StatusRunning)

	if err := r.crawl(jobCtx, job, logger); err != nil {
		if jobCtx.Err() != nil || errors.Is(err, context.Canceled) {
			_ = r.store.CancelJob(context.Background(), job.ID)
			metrics.RecordJobStatus(job.SiteKey, StatusCancelled)
			logger.Info("job cancelled")
			return
		}
		_ = r.store.MarkFailed(context.Background(), job.ID, err.Error())
		metrics.RecordJobStatus(job.SiteKey, StatusFailed)
		logger.Error("job failed", "error", err)
		return
	}

	_ = r.store.MarkCompleted(context.Background(), job.ID)
	metrics.RecordJobStatus(job.SiteKey, StatusCompleted)
	logger.Info("job completed")
}

// crawl is the per-job pipeline: discover listing links page by page,
// fetch + extract + normalize + persist each one, and stop at
// max_pages or when pagination runs out — grounded on
// _run_scrape_async in scraper_service.py.
func (r *Runner) crawl(ctx context.Context, job store.ScrapeJob, logger *slog.Logger) error {
	siteCfg, err := r.store.GetSiteConfigByKey(ctx, job.SiteKey)
	if err != nil {
		return err
	}
	sel, err := siteconfig.Selectors(siteCfg)
	if err != nil {
		return err
	}

	var overrides ethicalfetch.Config
	_ = json.Unmarshal(job.Config, &overrides)
	fetchCfg := mergeFetcherConfig(r.cfg, overrides)

	fetcher := ethicalfetch.New(fetchCfg, logger)

	progress := Progress{}
	pageURL := job.StartURL
	maxPages := job.MaxPages
	if maxPages <= 0 {
		maxPages = r.cfg.Crawler.MaxPagesDefault
	}
	if maxPages <= 0 {
		maxPages = 10
	}

	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if status, err := r.store.Status(ctx, job.ID); err == nil && status == StatusCancelled {
			return context.Canceled
		}

		progress.CurrentURL = pageURL
		r.writeProgress(ctx, job.ID, progress)

		body, err := fetcher.Get(ctx, pageURL)
		if err != nil {
			return apperr.Wrap(apperr.KindScraping, "failed to fetch index page: "+pageURL, err)
		}
		if body == nil {
			break
		}

		links, err := extractor.DiscoverListingLinks(string(body), sel.ListingLink, sel.LinkPattern)
		if err != nil {
			return err
		}
		progress.ListingsFound += len(links)
		metrics.RecordListingsFound(job.SiteKey, len(links))
		metrics.RecordPageScraped(job.SiteKey)
		progress.PagesScraped++

		for _, link := range links {
			if err := ctx.Err(); err != nil {
				return err
			}
			if status, err := r.store.Status(ctx, job.ID); err == nil && status == StatusCancelled {
				return context.Canceled
			}

			absolute := resolveURL(pageURL, link)
			_ = r.store.AppendURL(ctx, job.ID, absolute)

			if err := r.processListing(ctx, job, sel, fetcher, absolute); err != nil {
				_ = r.store.AppendLog(ctx, job.ID, "listing error: "+absolute+": "+err.Error())
				logger.Warn("listing processing failed", "url", absolute, "error", err)
				continue
			}
			progress.ListingsSaved++
			r.writeProgress(ctx, job.ID, progress)
		}

		next, err := extractor.NextPageURL(string(body), sel.NextPageLink)
		if err != nil || next == "" {
			break
		}
		pageURL = resolveURL(pageURL, next)
	}

	return nil
}

func (r *Runner) processListing(ctx context.Context, job store.ScrapeJob, sel extractor.Selectors, fetcher *ethicalfetch.Fetcher, listingURL string) error {
	body, err := fetcher.Get(ctx, listingURL)
	if err != nil {
		return err
	}
	if body == nil {
		return apperr.NotFound("listing page unavailable: " + listingURL)
	}

	extracted, err := extractor.ExtractListing(ctx, r.cache, string(body), sel)
	if err != nil {
		return err
	}

	fields, err := normalize.NormalizePartnerPayload(job.SiteKey, extracted.Fields, r.cache)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(extracted.Fields)
	if err != nil {
		return err
	}

	listing := store.Listing{
		SourceURL:   listingURL,
		SiteKey:     job.SiteKey,
		Title:       extracted.Fields["title"],
		Description: extracted.Fields["description"],
		RawPayload:  raw,
		ScrapeJobID: uuid.NullUUID{UUID: job.ID, Valid: true},
	}
	applyNormalizedFields(&listing, fields)

	var media []store.MediaAsset
	for i, img := range extracted.Images {
		media = append(media, store.MediaAsset{URL: resolveURL(listingURL, img.URL), AltText: img.Alt, Type: "image", Position: i})
	}

	_, inserted, err := r.store.UpsertListing(ctx, listing, media)
	if err != nil {
		metrics.RecordPersist(job.SiteKey, "error")
		return err
	}
	if inserted {
		metrics.RecordPersist(job.SiteKey, "inserted")
	} else {
		metrics.RecordPersist(job.SiteKey, "updated")
	}
	return nil
}

func (r *Runner) writeProgress(ctx context.Context, jobID uuid.UUID, p Progress) {
	p.LastUpdatedUnix = time.Now().Unix()
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = r.store.UpdateProgress(ctx, jobID, payload)
}

func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func mergeFetcherConfig(cfg *config.Config, overrides ethicalfetch.Config) ethicalfetch.Config {
	out := ethicalfetch.Config{
		UserAgent:     cfg.Fetcher.UserAgent,
		MinDelay:      time.Duration(cfg.Fetcher.MinDelayMs) * time.Millisecond,
		MaxDelay:      time.Duration(cfg.Fetcher.MaxDelayMs) * time.Millisecond,
		Timeout:       time.Duration(cfg.Fetcher.TimeoutMs) * time.Millisecond,
		MaxRetries:    cfg.Fetcher.MaxRetries,
		BackoffFactor: cfg.Fetcher.BackoffFactor,
		RobotsTTL:     time.Duration(cfg.Robots.TTLSec) * time.Second,
		RespectRobots: cfg.Robots.Respect,
	}
	if overrides.UserAgent != "" {
		out.UserAgent = overrides.UserAgent
	}
	if overrides.MaxRetries > 0 {
		out.MaxRetries = overrides.MaxRetries
	}
	if overrides.MinDelay > 0 {
		out.MinDelay = overrides.MinDelay
	}
	if overrides.MaxDelay > 0 {
		out.MaxDelay = overrides.MaxDelay
	}
	return out
}

func applyNormalizedFields(l *store.Listing, fields map[string]any) {
	if v, ok := fields["price"].(float64); ok {
		l.Price.Float64, l.Price.Valid = v, true
	}
	if v, ok := fields["currency"].(string); ok {
		l.PriceCurrency.String, l.PriceCurrency.Valid = v, true
	}
	if v, ok := fields["price_per_m2"].(float64); ok {
		l.PricePerM2.Float64, l.PricePerM2.Valid = v, true
	}
	if v, ok := fields["area_useful"].(float64); ok {
		l.AreaUseful.Float64, l.AreaUseful.Valid = v, true
	}
	if v, ok := fields["area_gross"].(float64); ok {
		l.AreaGross.Float64, l.AreaGross.Valid = v, true
	}
	if v, ok := fields["typology"].(string); ok {
		l.Typology.String, l.Typology.Valid = v, true
	}
	if v, ok := fields["bedrooms"].(int); ok {
		l.Bedrooms.Int32, l.Bedrooms.Valid = int32(v), true
	}
	if v, ok := fields["bathrooms"].(int); ok {
		l.Bathrooms.Int32, l.Bathrooms.Valid = int32(v), true
	}
	if v, ok := fields["listing_type"].(string); ok {
		l.ListingType.String, l.ListingType.Valid = v, true
	}
}
