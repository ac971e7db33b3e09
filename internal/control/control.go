// Package control implements the Job Control API (C8): the external
// HTTP surface for creating and tracking scrape jobs, maintaining
// site configurations, and streaming progress, grounded on the
// teacher's internal/http/router.go Server/middleware shape and its
// handlers_jobs.go response envelope. Shared-secret auth and job
// queueing replace the teacher's OIDC/session/tenant plumbing, which
// this single-tenant pipeline has no use for.
package control

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"realtor-scout/internal/apperr"
	"realtor-scout/internal/config"
	"realtor-scout/internal/extractor"
	"realtor-scout/internal/fieldcache"
	"realtor-scout/internal/jobengine"
	"realtor-scout/internal/metrics"
	"realtor-scout/internal/progress"
	"realtor-scout/internal/siteconfig"
	"realtor-scout/internal/store"
)

// Store is the full persistence surface the control plane needs,
// satisfied by *store.Store.
type Store interface {
	siteconfig.Store
	progress.Store
	CreateJob(ctx context.Context, siteKey, startURL string, maxPages int, cfg json.RawMessage) (store.ScrapeJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (store.ScrapeJob, error)
	ListJobs(ctx context.Context, f store.JobListFilter) ([]store.ScrapeJob, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
	SearchListings(ctx context.Context, query string, limit int) ([]store.Listing, error)
}

// Runner is the subset of jobengine.Runner the control plane drives.
type Runner interface {
	CancelJob(ctx context.Context, id uuid.UUID) error
}

// Server wires the fiber app over the store, the site-config service,
// and the job runner, the way the teacher's Server wires app/config/
// store/logger.
type Server struct {
	app      *fiber.App
	cfg      *config.Config
	store    Store
	sites    *siteconfig.Service
	runner   Runner
	streamer *progress.Streamer
	cache    *fieldcache.Cache
	logger   *slog.Logger
}

func NewServer(cfg *config.Config, st Store, runner Runner, cache *fieldcache.Cache, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		store:    st,
		sites:    siteconfig.New(st),
		runner:   runner,
		streamer: progress.New(st, msDuration(cfg.Worker.ProgressPollMs), cfg.Worker.HeartbeatEveryN),
		cache:    cache,
		logger:   logger,
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(corsMiddleware(cfg.Control.CORSAllow))
	app.Use(requestMetricsMiddleware(logger))

	app.Get("/healthz", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	api := app.Group("/api/v1", authMiddleware(cfg.Control.SharedSecret))

	api.Post("/jobs", s.handleCreateJob)
	api.Get("/jobs", s.handleListJobs)
	api.Get("/jobs/:id", s.handleGetJob)
	api.Get("/jobs/:id/stream", s.handleStreamJob)
	api.Post("/jobs/:id/cancel", s.handleCancelJob)
	api.Delete("/jobs/:id", s.handleDeleteJob)

	api.Post("/sites", s.handleCreateSite)
	api.Get("/sites", s.handleListSites)
	api.Get("/sites/:key", s.handleGetSite)
	api.Put("/sites/:key", s.handleUpdateSite)
	api.Delete("/sites/:key", s.handleDeleteSite)
	api.Post("/sites/preview", s.handlePreviewExtraction)

	api.Get("/listings/search", s.handleSearchListings)

	s.app = app
	return s
}

// Listen starts the HTTP server on addr, blocking until it stops.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return okEnvelope(c, fiber.StatusOK, fiber.Map{"status": "ok"})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(metrics.Export())
}

func (s *Server) handleCreateJob(c *fiber.Ctx) error {
	var req CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return errEnvelope(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.SiteKey == "" || req.StartURL == "" {
		return handleErr(c, apperr.Validation("site_key and start_url are required"))
	}

	cfgJSON := []byte("{}")
	if req.Config != nil {
		b, err := json.Marshal(req.Config)
		if err != nil {
			return handleErr(c, apperr.Validation("invalid config payload"))
		}
		cfgJSON = b
	}

	job, err := s.store.CreateJob(c.Context(), req.SiteKey, req.StartURL, req.MaxPages, cfgJSON)
	if err != nil {
		return handleErr(c, err)
	}
	metrics.RecordJobStatus(job.SiteKey, jobengine.StatusPending)
	return okEnvelope(c, fiber.StatusCreated, jobView(job))
}

func (s *Server) handleListJobs(c *fiber.Ctx) error {
	f := store.JobListFilter{
		SiteKey: c.Query("site_key"),
		Status:  c.Query("status"),
		Limit:   queryInt(c, "limit", 50),
		Offset:  queryInt(c, "offset", 0),
	}
	jobs, err := s.store.ListJobs(c.Context(), f)
	if err != nil {
		return handleErr(c, err)
	}
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, jobView(j))
	}
	return okEnvelope(c, fiber.StatusOK, ListJobsResponse{Jobs: views, Total: len(views)})
}

func (s *Server) handleGetJob(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return handleErr(c, apperr.Validation("invalid job id"))
	}
	job, err := s.store.GetJob(c.Context(), id)
	if err != nil {
		return handleErr(c, err)
	}
	return okEnvelope(c, fiber.StatusOK, jobView(job))
}

func (s *Server) handleCancelJob(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return handleErr(c, apperr.Validation("invalid job id"))
	}
	if err := s.runner.CancelJob(c.Context(), id); err != nil {
		return handleErr(c, err)
	}
	return okEnvelope(c, fiber.StatusOK, fiber.Map{"id": id, "status": jobengine.StatusCancelled})
}

func (s *Server) handleDeleteJob(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return handleErr(c, apperr.Validation("invalid job id"))
	}
	if err := s.store.DeleteJob(c.Context(), id); err != nil {
		return handleErr(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleStreamJob proxies the Progress Channel (C7) over SSE, the way
// the teacher streams large responses via SetBodyStreamWriter.
func (s *Server) handleStreamJob(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return handleErr(c, apperr.Validation("invalid job id"))
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	ctx := c.Context()
	streamer := s.streamer
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		_ = streamer.Stream(ctx, w, id)
	})
	return nil
}

func (s *Server) handleCreateSite(c *fiber.Ctx) error {
	var req SiteConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return errEnvelope(c, fiber.StatusBadRequest, "invalid request body")
	}
	cfg, err := s.sites.Create(c.Context(), siteInput(req))
	if err != nil {
		return handleErr(c, err)
	}
	return okEnvelope(c, fiber.StatusCreated, cfg)
}

func (s *Server) handleUpdateSite(c *fiber.Ctx) error {
	var req SiteConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return errEnvelope(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Key = c.Params("key")
	cfg, err := s.sites.Update(c.Context(), siteInput(req))
	if err != nil {
		return handleErr(c, err)
	}
	return okEnvelope(c, fiber.StatusOK, cfg)
}

func (s *Server) handleGetSite(c *fiber.Ctx) error {
	cfg, err := s.sites.Get(c.Context(), c.Params("key"))
	if err != nil {
		return handleErr(c, err)
	}
	return okEnvelope(c, fiber.StatusOK, cfg)
}

func (s *Server) handleListSites(c *fiber.Ctx) error {
	cfgs, err := s.sites.List(c.Context())
	if err != nil {
		return handleErr(c, err)
	}
	return okEnvelope(c, fiber.StatusOK, cfgs)
}

func (s *Server) handleDeleteSite(c *fiber.Ctx) error {
	if err := s.sites.Delete(c.Context(), c.Params("key")); err != nil {
		return handleErr(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handlePreviewExtraction runs extractor.ExtractListing against a
// pasted HTML page so a site's selectors can be tuned before any job
// or site config exists: a dry-run endpoint that persists nothing
// (SPEC_FULL.md §5).
func (s *Server) handlePreviewExtraction(c *fiber.Ctx) error {
	var req PreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return errEnvelope(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.HTML == "" {
		return handleErr(c, apperr.Validation("html is required"))
	}
	result, err := extractor.ExtractListing(c.Context(), s.cache, req.HTML, req.Selectors)
	if err != nil {
		return handleErr(c, err)
	}
	return okEnvelope(c, fiber.StatusOK, result)
}

func (s *Server) handleSearchListings(c *fiber.Ctx) error {
	q := c.Query("q")
	if q == "" {
		return handleErr(c, apperr.Validation("q is required"))
	}
	limit := queryInt(c, "limit", 50)
	listings, err := s.store.SearchListings(c.Context(), q, limit)
	if err != nil {
		return handleErr(c, err)
	}
	return okEnvelope(c, fiber.StatusOK, listings)
}

func siteInput(req SiteConfigRequest) siteconfig.Input {
	return siteconfig.Input{
		Key:             req.Key,
		Name:            req.Name,
		BaseURL:         req.BaseURL,
		Selectors:       req.Selectors,
		LinkPattern:     req.LinkPattern,
		ImageFilter:     req.ImageFilter,
		PaginationType:  req.PaginationType,
		PaginationParam: req.PaginationParam,
		IsActive:        req.IsActive,
	}
}

func jobView(j store.ScrapeJob) JobView {
	v := JobView{
		ID:        j.ID,
		SiteKey:   j.SiteKey,
		StartURL:  j.StartURL,
		MaxPages:  j.MaxPages,
		Status:    j.Status,
		CreatedAt: j.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt: j.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if len(j.Progress) > 0 {
		var p any
		if err := json.Unmarshal(j.Progress, &p); err == nil {
			v.Progress = p
		}
	}
	if j.ErrorMessage.Valid {
		v.ErrorMessage = j.ErrorMessage.String
	}
	return v
}

func queryInt(c *fiber.Ctx, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func okEnvelope(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(Envelope{Success: true, Data: data, TraceID: requestID(c)})
}

func errEnvelope(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(Envelope{Success: false, Message: message, TraceID: requestID(c)})
}

// handleErr maps a domain error to its HTTP status via apperr.Kind,
// falling back to sql.ErrNoRows and a generic 500 for anything else.
func handleErr(c *fiber.Ctx, err error) error {
	if ae, ok := apperr.As(err); ok {
		return errEnvelope(c, ae.Kind.HTTPStatus(), ae.Message)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errEnvelope(c, fiber.StatusNotFound, "not found")
	}
	return errEnvelope(c, fiber.StatusInternalServerError, err.Error())
}

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
