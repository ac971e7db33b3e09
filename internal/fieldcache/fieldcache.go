// Package fieldcache implements the Config Cache (C2): in-memory,
// TTL-refreshed field-mapping and character(currency)-mapping tables
// used by the normalizer and extractor. It is grounded on the
// `_load_field_mappings`/`_load_currency_map` caches in the Python
// mapper_service.py/parser_service.py, translated to Go's
// double-checked-locking idiom instead of a module-level lock plus a
// timestamp float.
package fieldcache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// FieldMapping mirrors the field_mappings table row.
type FieldMapping struct {
	SourceName  string
	TargetField string
	MappingType string // "field" or "feature"
	Language    string
	SiteKey     string // empty means applies to all sites
	Priority    int
	IsActive    bool
}

// CharacterMapping mirrors the character_mappings table row, used for
// currency-symbol-to-code lookups.
type CharacterMapping struct {
	SourceChars string
	TargetChars string
	Category    string // e.g. "currency"
	IsActive    bool
}

// Loader fetches the current mapping rows from persistent storage. The
// store package implements this against Postgres; tests can supply a
// stub.
type Loader interface {
	LoadFieldMappings(ctx context.Context) ([]FieldMapping, error)
	LoadCharacterMappings(ctx context.Context) ([]CharacterMapping, error)
}

var defaultFieldMap = []FieldMapping{
	{SourceName: "preço", TargetField: "price", MappingType: "field", Language: "pt", Priority: 100, IsActive: true},
	{SourceName: "price", TargetField: "price", MappingType: "field", Language: "en", Priority: 100, IsActive: true},
	{SourceName: "área útil", TargetField: "area_useful", MappingType: "field", Language: "pt", Priority: 100, IsActive: true},
	{SourceName: "área bruta", TargetField: "area_gross", MappingType: "field", Language: "pt", Priority: 100, IsActive: true},
	{SourceName: "useful area", TargetField: "area_useful", MappingType: "field", Language: "en", Priority: 100, IsActive: true},
	{SourceName: "gross area", TargetField: "area_gross", MappingType: "field", Language: "en", Priority: 100, IsActive: true},
	{SourceName: "tipologia", TargetField: "typology", MappingType: "field", Language: "pt", Priority: 100, IsActive: true},
	{SourceName: "quartos", TargetField: "bedrooms", MappingType: "field", Language: "pt", Priority: 100, IsActive: true},
	{SourceName: "casas de banho", TargetField: "bathrooms", MappingType: "field", Language: "pt", Priority: 100, IsActive: true},
	{SourceName: "condição", TargetField: "condition", MappingType: "field", Language: "pt", Priority: 100, IsActive: true},
	{SourceName: "ano de construção", TargetField: "year_built", MappingType: "field", Language: "pt", Priority: 100, IsActive: true},
	{SourceName: "certificado energético", TargetField: "energy_certificate", MappingType: "field", Language: "pt", Priority: 100, IsActive: true},
	{SourceName: "elevador", TargetField: "has_elevator", MappingType: "feature", Language: "pt", Priority: 100, IsActive: true},
	{SourceName: "garagem", TargetField: "has_garage", MappingType: "feature", Language: "pt", Priority: 100, IsActive: true},
	{SourceName: "varanda", TargetField: "has_balcony", MappingType: "feature", Language: "pt", Priority: 100, IsActive: true},
	{SourceName: "piscina", TargetField: "has_pool", MappingType: "feature", Language: "pt", Priority: 100, IsActive: true},
}

var defaultCurrencyMap = []CharacterMapping{
	{SourceChars: "€", TargetChars: "EUR", Category: "currency", IsActive: true},
	{SourceChars: "$", TargetChars: "USD", Category: "currency", IsActive: true},
	{SourceChars: "£", TargetChars: "GBP", Category: "currency", IsActive: true},
}

// Cache holds the currently-loaded field and currency maps along with
// a token-inverted index that accelerates multi-word field-name
// lookups (e.g. "área útil" tokenized to "área"/"útil" so a fuzzy
// lookup doesn't need to scan every mapping row).
type Cache struct {
	loader Loader
	ttl    time.Duration
	logger *slog.Logger

	refreshMu   sync.Mutex // serializes stale-cache reloads in ensureFresh
	mu          sync.RWMutex
	fieldMap    map[string]FieldMapping
	currencyMap map[string]CharacterMapping
	tokenIndex  map[string][]string // token -> source names containing it
	lastLoadAt  time.Time
}

// New builds a Cache with the given TTL. Call Preload at startup so
// the first scrape does not pay the cold-load cost.
func New(loader Loader, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		loader:      loader,
		ttl:         ttl,
		logger:      logger,
		fieldMap:    map[string]FieldMapping{},
		currencyMap: map[string]CharacterMapping{},
		tokenIndex:  map[string][]string{},
	}
}

// Preload forces an initial load, falling back to the built-in
// defaults if the store is unavailable.
func (c *Cache) Preload(ctx context.Context) {
	c.refresh(ctx)
}

// ensureFresh implements double-checked locking: a read lock first
// checks whether the cache is still within its TTL; only a stale cache
// takes the refresh mutex and re-checks before refreshing, so concurrent
// callers don't all refresh at once.
func (c *Cache) ensureFresh(ctx context.Context) {
	c.mu.RLock()
	fresh := time.Since(c.lastLoadAt) < c.ttl
	c.mu.RUnlock()
	if fresh {
		return
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.RLock()
	fresh = time.Since(c.lastLoadAt) < c.ttl
	c.mu.RUnlock()
	if fresh {
		return
	}

	c.refresh(ctx)
}

// refresh reloads both maps. On a load error it keeps the previous
// data but still bumps lastLoadAt, so a persistently broken store
// doesn't cause every lookup to retry the load (the "fallback bumps
// timestamp" rule from the Python cache).
func (c *Cache) refresh(ctx context.Context) {
	fields, ferr := c.loadFields(ctx)
	currencies, cerr := c.loadCurrencies(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if ferr == nil {
		c.fieldMap = indexFieldMap(fields)
		c.tokenIndex = buildTokenIndex(fields)
	} else if len(c.fieldMap) == 0 {
		c.fieldMap = indexFieldMap(defaultFieldMap)
		c.tokenIndex = buildTokenIndex(defaultFieldMap)
	}

	if cerr == nil {
		c.currencyMap = indexCurrencyMap(currencies)
	} else if len(c.currencyMap) == 0 {
		c.currencyMap = indexCurrencyMap(defaultCurrencyMap)
	}

	c.lastLoadAt = time.Now()

	if ferr != nil {
		c.logger.Warn("field mapping reload failed, keeping previous/default cache", "error", ferr)
	}
	if cerr != nil {
		c.logger.Warn("currency mapping reload failed, keeping previous/default cache", "error", cerr)
	}
}

func (c *Cache) loadFields(ctx context.Context) ([]FieldMapping, error) {
	if c.loader == nil {
		return defaultFieldMap, nil
	}
	rows, err := c.loader.LoadFieldMappings(ctx)
	if err != nil || len(rows) == 0 {
		if err == nil {
			rows = defaultFieldMap
		}
		return rows, err
	}
	return rows, nil
}

func (c *Cache) loadCurrencies(ctx context.Context) ([]CharacterMapping, error) {
	if c.loader == nil {
		return defaultCurrencyMap, nil
	}
	rows, err := c.loader.LoadCharacterMappings(ctx)
	if err != nil || len(rows) == 0 {
		if err == nil {
			rows = defaultCurrencyMap
		}
		return rows, err
	}
	return rows, nil
}

func indexFieldMap(rows []FieldMapping) map[string]FieldMapping {
	out := make(map[string]FieldMapping, len(rows))
	for _, r := range rows {
		if !r.IsActive {
			continue
		}
		key := normalizeKey(r.SourceName)
		if existing, ok := out[key]; !ok || r.Priority > existing.Priority {
			out[key] = r
		}
	}
	return out
}

func indexCurrencyMap(rows []CharacterMapping) map[string]CharacterMapping {
	out := make(map[string]CharacterMapping, len(rows))
	for _, r := range rows {
		if !r.IsActive {
			continue
		}
		out[r.SourceChars] = r
	}
	return out
}

func buildTokenIndex(rows []FieldMapping) map[string][]string {
	idx := make(map[string][]string)
	for _, r := range rows {
		if !r.IsActive {
			continue
		}
		for _, tok := range strings.Fields(normalizeKey(r.SourceName)) {
			idx[tok] = append(idx[tok], r.SourceName)
		}
	}
	return idx
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// LookupField resolves a raw section/label name (e.g. "Área Útil") to
// its canonical field mapping. It first tries an exact normalized
// match, then falls back to the token index to find the mapping whose
// tokens most fully overlap the query — this is what lets
// "Área útil (m²)" still resolve to "area_useful" even though the
// configured source_name is just "área útil".
func (c *Cache) LookupField(ctx context.Context, label string) (FieldMapping, bool) {
	c.ensureFresh(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()

	key := normalizeKey(label)
	if m, ok := c.fieldMap[key]; ok {
		return m, true
	}

	queryTokens := strings.Fields(key)
	if len(queryTokens) == 0 {
		return FieldMapping{}, false
	}

	counts := map[string]int{}
	for _, tok := range queryTokens {
		for _, name := range c.tokenIndex[tok] {
			counts[name]++
		}
	}

	bestName := ""
	bestCount := 0
	for name, n := range counts {
		if n > bestCount {
			bestCount = n
			bestName = name
		}
	}
	if bestName == "" {
		return FieldMapping{}, false
	}
	m, ok := c.fieldMap[normalizeKey(bestName)]
	return m, ok
}

// LookupCurrency resolves a currency symbol/code token to its ISO
// code, defaulting to EUR when no mapping matches (per spec.md's
// currency-scan default).
func (c *Cache) LookupCurrency(ctx context.Context, token string) string {
	c.ensureFresh(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if m, ok := c.currencyMap[token]; ok {
		return m.TargetChars
	}
	return "EUR"
}

// Invalidate forces the next lookup to reload regardless of TTL.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastLoadAt = time.Time{}
}
