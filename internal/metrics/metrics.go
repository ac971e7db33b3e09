package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the scrape pipeline.
// This is intentionally minimal and in-memory only.

var (
	mu sync.RWMutex

	jobsTotal          = make(map[jobKey]int64)
	jobPagesScraped    = make(map[string]int64)
	jobListingsFound   = make(map[string]int64)

	fetchTotal   = make(map[fetchKey]int64)
	fetchRetries = make(map[string]int64)

	persistTotal = make(map[persistKey]int64)

	retentionJobsDeleted = make(map[string]int64)
)

type jobKey struct {
	SiteKey string
	Status  string
}

type fetchKey struct {
	Host   string
	Status string
}

type persistKey struct {
	SiteKey string
	Outcome string
}

// RecordJobStatus increments the counter for a job reaching a terminal
// or intermediate status, keyed by site.
func RecordJobStatus(siteKey, status string) {
	mu.Lock()
	defer mu.Unlock()
	jobsTotal[jobKey{SiteKey: siteKey, Status: status}]++
}

// RecordPageScraped increments the pages-scraped counter for a site.
func RecordPageScraped(siteKey string) {
	mu.Lock()
	defer mu.Unlock()
	jobPagesScraped[siteKey]++
}

// RecordListingsFound adds to the listings-discovered counter for a site.
func RecordListingsFound(siteKey string, count int) {
	if count <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	jobListingsFound[siteKey] += int64(count)
}

// RecordFetch increments the fetch outcome counter keyed by host and a
// coarse status label (ok, robots_blocked, not_found, failed).
func RecordFetch(host, status string) {
	mu.Lock()
	defer mu.Unlock()
	fetchTotal[fetchKey{Host: host, Status: status}]++
}

// RecordFetchRetry increments the retry counter for a host.
func RecordFetchRetry(host string) {
	mu.Lock()
	defer mu.Unlock()
	fetchRetries[host]++
}

// RecordPersist increments the persistence outcome counter, keyed by
// site and outcome (inserted, updated, error).
func RecordPersist(siteKey, outcome string) {
	mu.Lock()
	defer mu.Unlock()
	persistTotal[persistKey{SiteKey: siteKey, Outcome: outcome}]++
}

// RecordRetentionJobs increments the counter of jobs deleted by TTL for
// a given job type.
func RecordRetentionJobs(jobType string, deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionJobsDeleted[jobType] += deleted
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP realtor_scout_jobs_total Total scrape jobs by site and status\n")
	b.WriteString("# TYPE realtor_scout_jobs_total counter\n")
	var jobKeys []jobKey
	for k := range jobsTotal {
		jobKeys = append(jobKeys, k)
	}
	sort.Slice(jobKeys, func(i, j int) bool {
		if jobKeys[i].SiteKey != jobKeys[j].SiteKey {
			return jobKeys[i].SiteKey < jobKeys[j].SiteKey
		}
		return jobKeys[i].Status < jobKeys[j].Status
	})
	for _, k := range jobKeys {
		fmt.Fprintf(&b, "realtor_scout_jobs_total{site=\"%s\",status=\"%s\"} %d\n", k.SiteKey, k.Status, jobsTotal[k])
	}

	b.WriteString("# HELP realtor_scout_pages_scraped_total Total pages scraped by site\n")
	b.WriteString("# TYPE realtor_scout_pages_scraped_total counter\n")
	var sites []string
	for s := range jobPagesScraped {
		sites = append(sites, s)
	}
	sort.Strings(sites)
	for _, s := range sites {
		fmt.Fprintf(&b, "realtor_scout_pages_scraped_total{site=\"%s\"} %d\n", s, jobPagesScraped[s])
	}

	b.WriteString("# HELP realtor_scout_listings_found_total Total listing links discovered by site\n")
	b.WriteString("# TYPE realtor_scout_listings_found_total counter\n")
	var foundSites []string
	for s := range jobListingsFound {
		foundSites = append(foundSites, s)
	}
	sort.Strings(foundSites)
	for _, s := range foundSites {
		fmt.Fprintf(&b, "realtor_scout_listings_found_total{site=\"%s\"} %d\n", s, jobListingsFound[s])
	}

	b.WriteString("# HELP realtor_scout_fetch_total Total fetch attempts by host and outcome\n")
	b.WriteString("# TYPE realtor_scout_fetch_total counter\n")
	var fetchKeys []fetchKey
	for k := range fetchTotal {
		fetchKeys = append(fetchKeys, k)
	}
	sort.Slice(fetchKeys, func(i, j int) bool {
		if fetchKeys[i].Host != fetchKeys[j].Host {
			return fetchKeys[i].Host < fetchKeys[j].Host
		}
		return fetchKeys[i].Status < fetchKeys[j].Status
	})
	for _, k := range fetchKeys {
		fmt.Fprintf(&b, "realtor_scout_fetch_total{host=\"%s\",status=\"%s\"} %d\n", k.Host, k.Status, fetchTotal[k])
	}

	b.WriteString("# HELP realtor_scout_fetch_retries_total Total fetch retries by host\n")
	b.WriteString("# TYPE realtor_scout_fetch_retries_total counter\n")
	var retryHosts []string
	for h := range fetchRetries {
		retryHosts = append(retryHosts, h)
	}
	sort.Strings(retryHosts)
	for _, h := range retryHosts {
		fmt.Fprintf(&b, "realtor_scout_fetch_retries_total{host=\"%s\"} %d\n", h, fetchRetries[h])
	}

	b.WriteString("# HELP realtor_scout_persist_total Total persistence outcomes by site\n")
	b.WriteString("# TYPE realtor_scout_persist_total counter\n")
	var persistKeys []persistKey
	for k := range persistTotal {
		persistKeys = append(persistKeys, k)
	}
	sort.Slice(persistKeys, func(i, j int) bool {
		if persistKeys[i].SiteKey != persistKeys[j].SiteKey {
			return persistKeys[i].SiteKey < persistKeys[j].SiteKey
		}
		return persistKeys[i].Outcome < persistKeys[j].Outcome
	})
	for _, k := range persistKeys {
		fmt.Fprintf(&b, "realtor_scout_persist_total{site=\"%s\",outcome=\"%s\"} %d\n", k.SiteKey, k.Outcome, persistTotal[k])
	}

	b.WriteString("# HELP realtor_scout_retention_jobs_deleted_total Total jobs deleted by TTL\n")
	b.WriteString("# TYPE realtor_scout_retention_jobs_deleted_total counter\n")
	var jobTypes []string
	for t := range retentionJobsDeleted {
		jobTypes = append(jobTypes, t)
	}
	sort.Strings(jobTypes)
	for _, t := range jobTypes {
		fmt.Fprintf(&b, "realtor_scout_retention_jobs_deleted_total{job_type=\"%s\"} %d\n", t, retentionJobsDeleted[t])
	}

	return b.String()
}
