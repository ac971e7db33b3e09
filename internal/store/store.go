// Package store implements Persistence/Dedup (C5) directly against
// Postgres via database/sql, using the pgx stdlib driver exactly as
// the teacher's store.go does. Unlike the teacher, queries here are
// hand-written rather than routed through a sqlc-generated db.Queries
// wrapper: the sqlc codegen output for this module was never checked
// in, so this package owns its SQL directly (see DESIGN.md).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"realtor-scout/internal/apperr"
	"realtor-scout/internal/fieldcache"
)

// Store wraps a shared *sql.DB connection pool.
type Store struct {
	DB *sql.DB
}

// New creates a Store over an already-opened, pooled *sql.DB.
func New(database *sql.DB) *Store {
	return &Store{DB: database}
}

// advisoryLockKey is a fixed, arbitrary int64 used to serialize
// "is a job already running" checks via pg_try_advisory_xact_lock,
// closing the TOCTOU race spec.md calls out as an open question.
const advisoryLockKey = 837_462_019

type rowScanner interface {
	Scan(dest ...any) error
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Conflict("job is not in a state that allows this transition")
	}
	return nil
}

// --- SiteConfig -------------------------------------------------------

type SiteConfig struct {
	ID              uuid.UUID
	Key             string
	Name            string
	BaseURL         string
	Selectors       json.RawMessage
	ExtractionMode  string
	LinkPattern     string
	ImageFilter     string
	PaginationType  string
	PaginationParam string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s *Store) CreateSiteConfig(ctx context.Context, c SiteConfig) (SiteConfig, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	const q = `
INSERT INTO site_configs (id, key, name, base_url, selectors, extraction_mode, link_pattern, image_filter, pagination_type, pagination_param, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id, key, name, base_url, selectors, extraction_mode, link_pattern, image_filter, pagination_type, pagination_param, is_active, created_at, updated_at`
	row := s.DB.QueryRowContext(ctx, q, c.ID, c.Key, c.Name, c.BaseURL, c.Selectors, c.ExtractionMode, c.LinkPattern, c.ImageFilter, c.PaginationType, c.PaginationParam, c.IsActive)
	return scanSiteConfig(row)
}

func (s *Store) UpdateSiteConfig(ctx context.Context, c SiteConfig) (SiteConfig, error) {
	const q = `
UPDATE site_configs SET name=$2, base_url=$3, selectors=$4, extraction_mode=$5, link_pattern=$6, image_filter=$7, pagination_type=$8, pagination_param=$9, is_active=$10, updated_at=now()
WHERE key = $1
RETURNING id, key, name, base_url, selectors, extraction_mode, link_pattern, image_filter, pagination_type, pagination_param, is_active, created_at, updated_at`
	row := s.DB.QueryRowContext(ctx, q, c.Key, c.Name, c.BaseURL, c.Selectors, c.ExtractionMode, c.LinkPattern, c.ImageFilter, c.PaginationType, c.PaginationParam, c.IsActive)
	cfg, err := scanSiteConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SiteConfig{}, apperr.NotFound("site config not found: " + c.Key)
	}
	return cfg, err
}

func (s *Store) GetSiteConfigByKey(ctx context.Context, key string) (SiteConfig, error) {
	const q = `
SELECT id, key, name, base_url, selectors, extraction_mode, link_pattern, image_filter, pagination_type, pagination_param, is_active, created_at, updated_at
FROM site_configs WHERE key = $1`
	row := s.DB.QueryRowContext(ctx, q, key)
	cfg, err := scanSiteConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SiteConfig{}, apperr.NotFound("site config not found: " + key)
	}
	return cfg, err
}

func (s *Store) ListSiteConfigs(ctx context.Context) ([]SiteConfig, error) {
	const q = `
SELECT id, key, name, base_url, selectors, extraction_mode, link_pattern, image_filter, pagination_type, pagination_param, is_active, created_at, updated_at
FROM site_configs ORDER BY key`
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SiteConfig
	for rows.Next() {
		cfg, err := scanSiteConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSiteConfig(ctx context.Context, key string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM site_configs WHERE key = $1`, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("site config not found: " + key)
	}
	return nil
}

func scanSiteConfig(s rowScanner) (SiteConfig, error) {
	var c SiteConfig
	err := s.Scan(&c.ID, &c.Key, &c.Name, &c.BaseURL, &c.Selectors, &c.ExtractionMode, &c.LinkPattern, &c.ImageFilter, &c.PaginationType, &c.PaginationParam, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// --- ScrapeJob ----------------------------------------------------------

type ScrapeJob struct {
	ID           uuid.UUID
	SiteKey      string
	StartURL     string
	MaxPages     int
	Status       string
	Progress     json.RawMessage
	Logs         json.RawMessage
	URLs         json.RawMessage
	Config       json.RawMessage
	ErrorMessage sql.NullString
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateJob inserts a pending job after confirming the site is known
// and active, and that, under an advisory lock, no job of any site is
// currently running — spec.md allows at most one running job across
// the whole system, not one per site.
func (s *Store) CreateJob(ctx context.Context, siteKey, startURL string, maxPages int, cfg json.RawMessage) (ScrapeJob, error) {
	site, err := s.GetSiteConfigByKey(ctx, siteKey)
	if err != nil {
		return ScrapeJob{}, err
	}
	if !site.IsActive {
		return ScrapeJob{}, apperr.NotFound("site config inactive: " + siteKey)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return ScrapeJob{}, err
	}
	defer tx.Rollback()

	var locked bool
	if err := tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1)`, advisoryLockKey).Scan(&locked); err != nil {
		return ScrapeJob{}, err
	}
	if !locked {
		return ScrapeJob{}, apperr.Conflict("another job creation is already in progress")
	}

	var runningCount int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM scrape_jobs WHERE status = 'running'`).Scan(&runningCount); err != nil {
		return ScrapeJob{}, err
	}
	if runningCount > 0 {
		return ScrapeJob{}, apperr.Conflict("a job is already running")
	}

	id := uuid.New()
	const q = `
INSERT INTO scrape_jobs (id, site_key, start_url, max_pages, status, progress, logs, urls, config)
VALUES ($1,$2,$3,$4,'pending','{}','[]','[]',$5)
RETURNING id, site_key, start_url, max_pages, status, progress, logs, urls, config, error_message, started_at, completed_at, created_at, updated_at`
	row := tx.QueryRowContext(ctx, q, id, siteKey, startURL, maxPages, cfg)
	job, err := scanJob(row)
	if err != nil {
		return ScrapeJob{}, err
	}

	if err := tx.Commit(); err != nil {
		return ScrapeJob{}, err
	}
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (ScrapeJob, error) {
	const q = `
SELECT id, site_key, start_url, max_pages, status, progress, logs, urls, config, error_message, started_at, completed_at, created_at, updated_at
FROM scrape_jobs WHERE id = $1`
	row := s.DB.QueryRowContext(ctx, q, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ScrapeJob{}, apperr.NotFound("job not found: " + id.String())
	}
	return job, err
}

// JobListFilter narrows ListJobs the way the teacher's JobListFilter
// narrows ListJobs, minus tenant scoping (no multi-tenancy here).
type JobListFilter struct {
	SiteKey string
	Status  string
	Limit   int
	Offset  int
}

// ListJobs builds a dynamic WHERE clause the way the teacher's
// store.ListJobs does, using strconv for placeholder numbering since
// the clause count varies with which filters are set.
func (s *Store) ListJobs(ctx context.Context, f JobListFilter) ([]ScrapeJob, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT id, site_key, start_url, max_pages, status, progress, logs, urls, config, error_message, started_at, completed_at, created_at, updated_at FROM scrape_jobs WHERE 1=1`
	var args []any
	n := 0

	if f.SiteKey != "" {
		n++
		query += " AND site_key = $" + strconv.Itoa(n)
		args = append(args, f.SiteKey)
	}
	if f.Status != "" {
		n++
		query += " AND status = $" + strconv.Itoa(n)
		args = append(args, f.Status)
	}

	n++
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(n)
	args = append(args, limit)

	n++
	query += " OFFSET $" + strconv.Itoa(n)
	args = append(args, f.Offset)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ListPendingJobs returns pending jobs for the worker loop to claim,
// oldest first.
func (s *Store) ListPendingJobs(ctx context.Context, limit int) ([]ScrapeJob, error) {
	const q = `
SELECT id, site_key, start_url, max_pages, status, progress, logs, urls, config, error_message, started_at, completed_at, created_at, updated_at
FROM scrape_jobs WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`
	rows, err := s.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE scrape_jobs SET status = 'running', started_at = now(), updated_at = now() WHERE id = $1 AND status = 'pending'`
	res, err := s.DB.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE scrape_jobs SET status = 'completed', completed_at = now(), updated_at = now() WHERE id = $1 AND status = 'running'`
	_, err := s.DB.ExecContext(ctx, q, id)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	const q = `UPDATE scrape_jobs SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now() WHERE id = $1 AND status IN ('running','pending')`
	_, err := s.DB.ExecContext(ctx, q, id, message)
	return err
}

// CancelJob transitions a job to cancelled from either pending or
// running, per spec.md's state machine.
func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE scrape_jobs SET status = 'cancelled', completed_at = now(), updated_at = now() WHERE id = $1 AND status IN ('pending','running')`
	res, err := s.DB.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// DeleteJob refuses to delete a job that is currently running, per
// spec.md's "deletable only when not running" rule.
func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM scrape_jobs WHERE id = $1 AND status != 'running'`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *Store) UpdateProgress(ctx context.Context, id uuid.UUID, progress json.RawMessage) error {
	const q = `UPDATE scrape_jobs SET progress = $2, updated_at = now() WHERE id = $1`
	_, err := s.DB.ExecContext(ctx, q, id, progress)
	return err
}

func (s *Store) AppendLog(ctx context.Context, id uuid.UUID, entry string) error {
	const q = `UPDATE scrape_jobs SET logs = logs || to_jsonb($2::text), updated_at = now() WHERE id = $1`
	_, err := s.DB.ExecContext(ctx, q, id, entry)
	return err
}

func (s *Store) AppendURL(ctx context.Context, id uuid.UUID, url string) error {
	const q = `UPDATE scrape_jobs SET urls = urls || to_jsonb($2::text), updated_at = now() WHERE id = $1`
	_, err := s.DB.ExecContext(ctx, q, id, url)
	return err
}

// Status re-reads the job's current status, used by the job engine's
// cooperative-cancellation checkpoints so cancellation is observed
// even when the in-process CancelFunc hasn't fired yet.
func (s *Store) Status(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := s.DB.QueryRowContext(ctx, `SELECT status FROM scrape_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.NotFound("job not found: " + id.String())
	}
	return status, err
}

func scanJob(s rowScanner) (ScrapeJob, error) {
	var j ScrapeJob
	err := s.Scan(&j.ID, &j.SiteKey, &j.StartURL, &j.MaxPages, &j.Status, &j.Progress, &j.Logs, &j.URLs, &j.Config, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

// --- Listing / MediaAsset / PriceHistory --------------------------------

type Listing struct {
	ID               uuid.UUID
	SourceURL        string
	SiteKey          string
	Title            string
	Description      string
	ListingType      sql.NullString
	Price            sql.NullFloat64
	PriceCurrency    sql.NullString
	PricePerM2       sql.NullFloat64
	AreaUseful       sql.NullFloat64
	AreaGross        sql.NullFloat64
	Typology         sql.NullString
	Bedrooms         sql.NullInt32
	Bathrooms        sql.NullInt32
	Location         sql.NullString
	Condition        sql.NullString
	EnergyCertificate sql.NullString
	RawPayload       json.RawMessage
	ScrapeJobID      uuid.NullUUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type MediaAsset struct {
	ID        uuid.UUID
	ListingID uuid.UUID
	URL       string
	AltText   string
	Type      string
	Position  int
}

type PriceHistory struct {
	ID            uuid.UUID
	ListingID     uuid.UUID
	PriceAmount   float64
	PriceCurrency string
	RecordedAt    time.Time
}

// UpsertListing implements C5's upsert-by-source_url rule: a new URL
// is inserted outright; an existing one has its non-null scalar
// fields overwritten, gets a price_history row appended with the OLD
// price when both old and new price are non-null and differ, and has
// its media set unioned with the incoming URLs (never deleting stale
// media, per spec.md §4.5 — broader than the original Python
// implementation, which only inserted media for brand-new listings).
func (s *Store) UpsertListing(ctx context.Context, l Listing, media []MediaAsset) (id uuid.UUID, inserted bool, err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, false, err
	}
	defer tx.Rollback()

	var existingID uuid.UUID
	var existingPrice sql.NullFloat64
	var existingCurrency sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT id, price, price_currency FROM listings WHERE source_url = $1 FOR UPDATE`, l.SourceURL).Scan(&existingID, &existingPrice, &existingCurrency)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.New()
		const ins = `
INSERT INTO listings (id, source_url, site_key, title, description, listing_type, price, price_currency, price_per_m2,
  area_useful, area_gross, typology, bedrooms, bathrooms, location, condition, energy_certificate, raw_payload, scrape_job_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`
		if _, err := tx.ExecContext(ctx, ins, id, l.SourceURL, l.SiteKey, l.Title, l.Description, l.ListingType, l.Price, l.PriceCurrency, l.PricePerM2,
			l.AreaUseful, l.AreaGross, l.Typology, l.Bedrooms, l.Bathrooms, l.Location, l.Condition, l.EnergyCertificate, l.RawPayload, l.ScrapeJobID); err != nil {
			return uuid.Nil, false, err
		}
		if err := upsertMedia(ctx, tx, id, media); err != nil {
			return uuid.Nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return uuid.Nil, false, err
		}
		return id, true, nil

	case err != nil:
		return uuid.Nil, false, err

	default:
		id = existingID
		if existingPrice.Valid && l.Price.Valid && existingPrice.Float64 != l.Price.Float64 {
			if _, err := tx.ExecContext(ctx, `INSERT INTO price_history (id, listing_id, price_amount, price_currency, recorded_at) VALUES ($1,$2,$3,$4, now())`,
				uuid.New(), id, existingPrice.Float64, existingCurrency); err != nil {
				return uuid.Nil, false, err
			}
		}

		const upd = `
UPDATE listings SET
  title = COALESCE(NULLIF($2,''), title),
  description = COALESCE(NULLIF($3,''), description),
  listing_type = COALESCE($4, listing_type),
  price = COALESCE($5, price),
  price_currency = COALESCE($6, price_currency),
  price_per_m2 = COALESCE($7, price_per_m2),
  area_useful = COALESCE($8, area_useful),
  area_gross = COALESCE($9, area_gross),
  typology = COALESCE($10, typology),
  bedrooms = COALESCE($11, bedrooms),
  bathrooms = COALESCE($12, bathrooms),
  location = COALESCE($13, location),
  condition = COALESCE($14, condition),
  energy_certificate = COALESCE($15, energy_certificate),
  raw_payload = COALESCE($16, raw_payload),
  scrape_job_id = COALESCE($17, scrape_job_id),
  updated_at = now()
WHERE id = $1`
		if _, err := tx.ExecContext(ctx, upd, id, l.Title, l.Description, l.ListingType, l.Price, l.PriceCurrency, l.PricePerM2,
			l.AreaUseful, l.AreaGross, l.Typology, l.Bedrooms, l.Bathrooms, l.Location, l.Condition, l.EnergyCertificate, l.RawPayload, l.ScrapeJobID); err != nil {
			return uuid.Nil, false, err
		}

		if err := upsertMedia(ctx, tx, id, media); err != nil {
			return uuid.Nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return uuid.Nil, false, err
		}
		return id, false, nil
	}
}

// upsertMedia inserts only URLs not already attached to the listing,
// leaving previously-recorded media untouched.
func upsertMedia(ctx context.Context, tx *sql.Tx, listingID uuid.UUID, media []MediaAsset) error {
	if len(media) == 0 {
		return nil
	}

	rows, err := tx.QueryContext(ctx, `SELECT url FROM media_assets WHERE listing_id = $1`, listingID)
	if err != nil {
		return err
	}
	existing := map[string]struct{}{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return err
		}
		existing[u] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range media {
		if _, ok := existing[m.URL]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO media_assets (id, listing_id, url, alt_text, type, position) VALUES ($1,$2,$3,$4,$5,$6)`,
			uuid.New(), listingID, m.URL, m.AltText, m.Type, m.Position); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetListingBySourceURL(ctx context.Context, sourceURL string) (Listing, error) {
	const q = `
SELECT id, source_url, site_key, title, description, listing_type, price, price_currency, price_per_m2,
  area_useful, area_gross, typology, bedrooms, bathrooms, location, condition, energy_certificate, raw_payload, scrape_job_id, created_at, updated_at
FROM listings WHERE source_url = $1`
	row := s.DB.QueryRowContext(ctx, q, sourceURL)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Listing{}, apperr.NotFound("listing not found: " + sourceURL)
	}
	return l, err
}

func scanListing(s rowScanner) (Listing, error) {
	var l Listing
	err := s.Scan(&l.ID, &l.SourceURL, &l.SiteKey, &l.Title, &l.Description, &l.ListingType, &l.Price, &l.PriceCurrency, &l.PricePerM2,
		&l.AreaUseful, &l.AreaGross, &l.Typology, &l.Bedrooms, &l.Bathrooms, &l.Location, &l.Condition, &l.EnergyCertificate, &l.RawPayload, &l.ScrapeJobID, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

// SearchListings runs a full-text query against the generated
// search_vector column (spec.md §6), ordered by rank.
func (s *Store) SearchListings(ctx context.Context, query string, limit int) ([]Listing, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `
SELECT id, source_url, site_key, title, description, listing_type, price, price_currency, price_per_m2,
  area_useful, area_gross, typology, bedrooms, bathrooms, location, condition, energy_certificate, raw_payload, scrape_job_id, created_at, updated_at
FROM listings
WHERE search_vector @@ plainto_tsquery('portuguese', $1)
ORDER BY ts_rank(search_vector, plainto_tsquery('portuguese', $1)) DESC
LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- Field/Character mappings (fieldcache.Loader) -----------------------

var _ fieldcache.Loader = (*Store)(nil)

func (s *Store) LoadFieldMappings(ctx context.Context) ([]fieldcache.FieldMapping, error) {
	const q = `SELECT source_name, target_field, mapping_type, language, COALESCE(site_key,''), priority, is_active FROM field_mappings WHERE is_active`
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fieldcache.FieldMapping
	for rows.Next() {
		var m fieldcache.FieldMapping
		if err := rows.Scan(&m.SourceName, &m.TargetField, &m.MappingType, &m.Language, &m.SiteKey, &m.Priority, &m.IsActive); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) LoadCharacterMappings(ctx context.Context) ([]fieldcache.CharacterMapping, error) {
	const q = `SELECT source_chars, target_chars, category, is_active FROM character_mappings WHERE is_active`
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fieldcache.CharacterMapping
	for rows.Next() {
		var m fieldcache.CharacterMapping
		if err := rows.Scan(&m.SourceChars, &m.TargetChars, &m.Category, &m.IsActive); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Retention ------------------------------------------------------------

// DeleteExpiredJobs deletes terminal jobs older than olderThan,
// mirroring the teacher's DeleteExpiredJobsByType but scoped to this
// module's single job type.
func (s *Store) DeleteExpiredJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	const q = `DELETE FROM scrape_jobs WHERE status IN ('completed','failed','cancelled') AND completed_at < $1`
	res, err := s.DB.ExecContext(ctx, q, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
