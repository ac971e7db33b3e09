// Package ethicalfetch implements the Ethical Fetcher (C1): a
// robots.txt-respecting, rate-limited HTTP client used by the job
// engine to pull listing pages. It is modeled on the teacher's
// robots-aware crawler (internal/crawler/map.go) and on the Python
// EthicalScraper it replaces (ethics_service.py), but is fail-closed
// where the teacher's Map() is not: a robots.txt fetch failure blocks
// the request rather than letting it through.
package ethicalfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"realtor-scout/internal/apperr"
	"realtor-scout/internal/metrics"
)

var userAgentPattern = regexp.MustCompile(`.+/.+\s*\(\+.+\)`)

// retriableStatus is the set of HTTP statuses that trigger a retry
// with exponential backoff rather than an immediate failure.
var retriableStatus = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// Config carries the per-fetcher defaults (spec.md §4.1). A job's
// ScrapeJob.config can override UserAgent, MinDelay, MaxDelay and
// MaxRetries (see jobengine's mergeFetcherConfig); the other fields
// always come from the process configuration.
type Config struct {
	UserAgent     string
	MinDelay      time.Duration
	MaxDelay      time.Duration
	Timeout       time.Duration
	MaxRetries    int
	BackoffFactor float64
	RobotsTTL     time.Duration
	RespectRobots bool
}

// Fetcher performs polite, rate-limited HTTP GETs. One Fetcher is
// typically scoped to a single job so its visited-URL set tracks only
// that job's crawl.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	robotsMu    sync.Mutex
	robotsCache map[string]robotsEntry

	visitedMu sync.Mutex
	visited   map[string]struct{}
}

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
	ok        bool
}

// New builds a Fetcher. If cfg.UserAgent does not match the
// "name/version (+contact)" convention, a warning is logged but the
// fetcher still operates — the pattern check is advisory only.
func New(cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2
	}
	if cfg.RobotsTTL <= 0 {
		cfg.RobotsTTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserAgent != "" && !userAgentPattern.MatchString(cfg.UserAgent) {
		logger.Warn("user agent does not match recommended pattern", "user_agent", cfg.UserAgent)
	}
	return &Fetcher{
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
		robotsCache: make(map[string]robotsEntry),
		visited:     make(map[string]struct{}),
	}
}

// IsVisited reports whether rawURL has already been fetched by this
// Fetcher instance.
func (f *Fetcher) IsVisited(rawURL string) bool {
	f.visitedMu.Lock()
	defer f.visitedMu.Unlock()
	_, ok := f.visited[rawURL]
	return ok
}

// MarkVisited records rawURL as fetched.
func (f *Fetcher) MarkVisited(rawURL string) {
	f.visitedMu.Lock()
	defer f.visitedMu.Unlock()
	f.visited[rawURL] = struct{}{}
}

// ResetVisited clears the visited set, allowing a fresh crawl pass to
// reuse the same Fetcher.
func (f *Fetcher) ResetVisited() {
	f.visitedMu.Lock()
	defer f.visitedMu.Unlock()
	f.visited = make(map[string]struct{})
}

// Allowed reports whether rawURL may be fetched under the site's
// robots.txt. Fetching robots.txt itself fails the check closed: if it
// cannot be retrieved or parsed, Allowed returns false rather than
// assuming permission.
func (f *Fetcher) Allowed(ctx context.Context, rawURL string) (bool, error) {
	if !f.cfg.RespectRobots {
		return true, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false, apperr.Wrap(apperr.KindValidation, "invalid url", err)
	}
	origin := u.Scheme + "://" + u.Host

	entry, err := f.loadRobots(ctx, origin)
	if err != nil || !entry.ok {
		return false, nil
	}

	group := entry.data.FindGroup(f.cfg.UserAgent)
	return group.Test(u.Path), nil
}

func (f *Fetcher) loadRobots(ctx context.Context, origin string) (robotsEntry, error) {
	f.robotsMu.Lock()
	if e, ok := f.robotsCache[origin]; ok && time.Since(e.fetchedAt) < f.cfg.RobotsTTL {
		f.robotsMu.Unlock()
		return e, nil
	}
	f.robotsMu.Unlock()

	entry := f.fetchRobots(ctx, origin)

	f.robotsMu.Lock()
	f.robotsCache[origin] = entry
	f.robotsMu.Unlock()

	return entry, nil
}

// fetchRobots always stamps fetchedAt, even on failure, so a broken
// robots.txt endpoint does not cause every request to re-fetch it.
func (f *Fetcher) fetchRobots(ctx context.Context, origin string) robotsEntry {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return robotsEntry{fetchedAt: time.Now(), ok: false}
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return robotsEntry{fetchedAt: time.Now(), ok: false}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// No robots.txt means everything is allowed.
		data, _ := robotstxt.FromString("")
		return robotsEntry{data: data, fetchedAt: time.Now(), ok: true}
	}
	if resp.StatusCode != http.StatusOK {
		return robotsEntry{fetchedAt: time.Now(), ok: false}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return robotsEntry{fetchedAt: time.Now(), ok: false}
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return robotsEntry{fetchedAt: time.Now(), ok: false}
	}

	return robotsEntry{data: data, fetchedAt: time.Now(), ok: true}
}

// sleep blocks for a uniformly random duration in [MinDelay,
// MaxDelay], honoring ctx cancellation. This is the mandatory
// courtesy delay that happens before every request.
func (f *Fetcher) sleep(ctx context.Context) error {
	if f.cfg.MaxDelay <= 0 {
		return nil
	}
	spread := f.cfg.MaxDelay - f.cfg.MinDelay
	d := f.cfg.MinDelay
	if spread > 0 {
		d += time.Duration(rand.Int63n(int64(spread)))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Get fetches rawURL, honoring robots.txt, the courtesy sleep, and a
// retry-with-backoff policy for transient server errors. It returns
// nil, nil (not an error) when the resource is permanently
// unavailable via a non-retriable 4xx status, mirroring the Python
// original's "return None" behavior for those cases. It also returns
// nil, nil without any I/O for a URL this Fetcher has already
// fetched, regardless of that earlier attempt's outcome — a listing
// link discovered again on a later index page should not be fetched
// twice.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if f.IsVisited(rawURL) {
		return nil, nil
	}
	defer f.MarkVisited(rawURL)

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid url", err)
	}

	allowed, err := f.Allowed(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !allowed {
		metrics.RecordFetch(u.Host, "robots_blocked")
		return nil, apperr.New(apperr.KindRobots, fmt.Sprintf("blocked by robots.txt: %s", rawURL))
	}

	var lastErr error
	backoff := f.cfg.MinDelay
	if backoff <= 0 {
		backoff = time.Second
	}

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := f.sleep(ctx); err != nil {
			return nil, err
		}

		body, status, err := f.doRequest(ctx, rawURL)
		if err == nil && status == http.StatusOK {
			metrics.RecordFetch(u.Host, "ok")
			return body, nil
		}

		if err != nil {
			lastErr = err
		} else if retriableStatus[status] {
			lastErr = apperr.New(apperr.KindScraping, fmt.Sprintf("retriable status %d", status))
		} else {
			// Non-retriable 4xx: permanently unavailable, not an error.
			metrics.RecordFetch(u.Host, "not_found")
			return nil, nil
		}

		if attempt < f.cfg.MaxRetries {
			metrics.RecordFetchRetry(u.Host)
			wait := time.Duration(float64(backoff) * pow(f.cfg.BackoffFactor, float64(attempt)))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	metrics.RecordFetch(u.Host, "failed")
	return nil, apperr.Wrap(apperr.KindScraping, "fetch failed after retries: "+rawURL, lastErr)
}

func (f *Fetcher) doRequest(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

// ValidUserAgent reports whether ua looks like "name/version (+contact)".
// It is exported so config validation can warn at startup too.
func ValidUserAgent(ua string) bool {
	return userAgentPattern.MatchString(strings.TrimSpace(ua))
}
