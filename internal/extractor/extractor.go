// Package extractor implements the HTML Extractor (C3): turns a raw
// listing page into a map of raw string fields keyed by canonical
// field name, ready for the normalizer. It supports the two
// extraction modes from the site configuration — "direct" (one CSS
// selector per field) and "section" (iterate name/value pairs within
// configured sections) — grounded on parser_service.py's
// _parse_direct_selectors/_parse_section_based, using goquery the way
// the teacher's scraper.go and crawler/map.go already do.
package extractor

import (
	"context"
	"regexp"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"realtor-scout/internal/apperr"
	"realtor-scout/internal/fieldcache"
)

// descriptionConverter renders a matched description selector's inner
// HTML to Markdown rather than flattening it to plain text, the same
// library and call shape the teacher's full-page renderer uses, scoped
// here to one field so list/paragraph/link structure in a listing's
// description survives into storage.
var descriptionConverter = htmlmd.NewConverter("", true, nil)

// Selectors is the JSON-configured selector set for a site, stored on
// SiteConfig.Selectors.
type Selectors struct {
	ExtractionMode string `json:"extraction_mode"` // "direct" or "section"

	// Direct mode: one selector per canonical field.
	Field map[string]string `json:"field,omitempty"`
	// Direct mode: bulk features block plus individual boolean feature
	// selectors.
	FeaturesSelector string            `json:"features_selector,omitempty"`
	FeatureSelectors map[string]string `json:"feature_selectors,omitempty"`
	// Description accepts several fallback selectors; the first match
	// over 50 characters wins.
	DescriptionSelectors []string `json:"description_selectors,omitempty"`
	AdvertiserLogo        string   `json:"advertiser_logo,omitempty"`

	// Section mode: one selector per named section.
	Sections map[string]string `json:"sections,omitempty"` // details/areas/divisions/characteristics/nearby

	// Shared across both modes.
	ImagesSelector  string `json:"images_selector,omitempty"`
	ImageFilter     string `json:"image_filter,omitempty"`
	ListingLink     string `json:"listing_link_selector,omitempty"`
	LinkPattern     string `json:"link_pattern,omitempty"`
	NextPageLink    string `json:"next_page_selector,omitempty"`
	TextPatterns    map[string]string `json:"text_patterns,omitempty"` // field -> regex, applied to text or HTML
	TextPatternHTML map[string]bool   `json:"text_pattern_html,omitempty"`
}

// SEO holds page-level metadata extraction, kept on every Listing
// regardless of extraction mode (spec.md §3 Listing.headers etc).
type SEO struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Headers     []string `json:"headers,omitempty"`
}

// Result is the raw output of one extraction pass: field label ->
// raw string value, plus images and SEO metadata. The normalizer
// turns Fields into typed Listing columns.
type Result struct {
	Fields map[string]string
	Images []Image
	SEO    SEO
}

// Image is a single discovered media asset, pre-normalization.
type Image struct {
	URL string
	Alt string
}

var energyCertPattern = regexp.MustCompile(`(?i)energy[-_]([a-g])`)

// ExtractListing runs the configured extraction mode over htmlStr. cache
// may be nil, in which case section-mode labels fall back to a plain
// lowercase key instead of being resolved against the field map.
func ExtractListing(ctx context.Context, cache *fieldcache.Cache, htmlStr string, sel Selectors) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindParsing, "failed to parse listing HTML", err)
	}

	res := Result{Fields: map[string]string{}}

	switch sel.ExtractionMode {
	case "section":
		extractSection(ctx, cache, doc, sel, &res)
	default:
		extractDirect(doc, sel, &res)
	}

	extractTextPatterns(doc, htmlStr, sel, &res)
	res.Images = extractImages(doc, sel)
	res.SEO = extractSEO(doc)

	return res, nil
}

// selectSafe runs a goquery selection and, if the selector is
// malformed (goquery/cascadia panics on bad :pseudo(...) syntax),
// strips the offending pseudo-class suffix and retries once rather
// than failing the whole extraction.
func selectSafe(doc *goquery.Document, selector string) (sel *goquery.Selection) {
	defer func() {
		if r := recover(); r != nil {
			stripped := stripPseudoClass(selector)
			if stripped != selector && stripped != "" {
				defer func() { recover() }() //nolint:errcheck // last-resort fallback, empty selection on failure
				sel = doc.Find(stripped)
			}
		}
	}()
	sel = doc.Find(selector)
	return sel
}

var pseudoClassPattern = regexp.MustCompile(`:[a-zA-Z-]+\([^)]*\)`)

func stripPseudoClass(selector string) string {
	return strings.TrimSpace(pseudoClassPattern.ReplaceAllString(selector, ""))
}

func extractDirect(doc *goquery.Document, sel Selectors, res *Result) {
	for field, selector := range sel.Field {
		if v := firstText(doc, selector); v != "" {
			res.Fields[field] = v
		}
	}

	for _, candidate := range sel.DescriptionSelectors {
		if v, ok := firstDescriptionMarkdown(doc, candidate); ok {
			res.Fields["description"] = v
			break
		}
	}

	if sel.FeaturesSelector != "" {
		var features []string
		selectSafe(doc, sel.FeaturesSelector).Each(func(_ int, s *goquery.Selection) {
			if t := strings.TrimSpace(s.Text()); t != "" {
				features = append(features, t)
			}
		})
		if len(features) > 0 {
			res.Fields["features"] = strings.Join(features, "; ")
		}
	}

	for field, selector := range sel.FeatureSelectors {
		if selectSafe(doc, selector).Length() > 0 {
			res.Fields[field] = "true"
		}
	}

	if sel.AdvertiserLogo != "" {
		if src, ok := selectSafe(doc, sel.AdvertiserLogo).Attr("src"); ok {
			res.Fields["advertiser_logo"] = src
		}
	}
}

func extractSection(ctx context.Context, cache *fieldcache.Cache, doc *goquery.Document, sel Selectors, res *Result) {
	if s, ok := sel.Sections["title"]; ok {
		res.Fields["title"] = firstText(doc, s)
	}
	if s, ok := sel.Sections["location"]; ok {
		res.Fields["location"] = firstText(doc, s)
	}
	if s, ok := sel.Sections["condition"]; ok {
		res.Fields["condition"] = firstText(doc, s)
	}
	if s, ok := sel.Sections["description"]; ok {
		if v, ok := firstDescriptionMarkdown(doc, s); ok {
			res.Fields["description"] = v
		}
	}

	if s, ok := sel.Sections["details"]; ok {
		extractNameValuePairs(ctx, cache, doc, s, res.Fields)
	}
	if s, ok := sel.Sections["areas"]; ok {
		extractAreaPairs(doc, s, res.Fields)
	}
	if s, ok := sel.Sections["characteristics"]; ok {
		extractCharacteristics(doc, s, res.Fields)
	}
	if s, ok := sel.Sections["divisions"]; ok {
		extractNameValuePairs(ctx, cache, doc, s, res.Fields)
	}
	if s, ok := sel.Sections["nearby"]; ok {
		extractNameValuePairs(ctx, cache, doc, s, res.Fields)
	}

	if s, ok := sel.Sections["energy_certificate"]; ok {
		extractEnergyCertificate(doc, s, res.Fields)
	}
}

// resolveLabel looks up a raw section label against the field map,
// returning its canonical target field name. With no cache, or no
// mapping found, it falls back to the lowercased raw label so
// extraction still produces a usable (if unmapped) key.
func resolveLabel(ctx context.Context, cache *fieldcache.Cache, label string) string {
	if cache != nil {
		if m, ok := cache.LookupField(ctx, label); ok {
			return m.TargetField
		}
	}
	return strings.ToLower(label)
}

// extractNameValuePairs walks a section looking for "dt/dd"-like
// repeating label/value structure, the generic case for
// details/divisions/nearby sections. Each raw label is resolved
// against the field map before being used as the output key, per
// spec.md's "lowercased and resolved against the field map" rule.
func extractNameValuePairs(ctx context.Context, cache *fieldcache.Cache, doc *goquery.Document, sectionSelector string, fields map[string]string) {
	selectSafe(doc, sectionSelector).Each(func(_ int, section *goquery.Selection) {
		labels := section.Find("dt, .label, .name")
		values := section.Find("dd, .value")
		n := labels.Length()
		if n == 0 || n != values.Length() {
			return
		}
		for i := 0; i < n; i++ {
			label := strings.TrimSpace(labels.Eq(i).Text())
			value := strings.TrimSpace(values.Eq(i).Text())
			if label != "" && value != "" {
				fields[resolveLabel(ctx, cache, label)] = value
			}
		}
	})
}

// extractAreaPairs classifies area entries within a section by
// keyword: útil/bruta/terreno map to area_useful/area_gross/area_land.
func extractAreaPairs(doc *goquery.Document, sectionSelector string, fields map[string]string) {
	selectSafe(doc, sectionSelector).Each(func(_ int, section *goquery.Selection) {
		labels := section.Find("dt, .label, .name")
		values := section.Find("dd, .value")
		n := labels.Length()
		if n == 0 || n != values.Length() {
			return
		}
		for i := 0; i < n; i++ {
			label := strings.ToLower(strings.TrimSpace(labels.Eq(i).Text()))
			value := strings.TrimSpace(values.Eq(i).Text())
			if value == "" {
				continue
			}
			switch {
			case strings.Contains(label, "útil") || strings.Contains(label, "util"):
				fields["area_useful"] = value
			case strings.Contains(label, "bruta") || strings.Contains(label, "gross"):
				fields["area_gross"] = value
			case strings.Contains(label, "terreno") || strings.Contains(label, "land"):
				fields["area_land"] = value
			}
		}
	})
}

func extractCharacteristics(doc *goquery.Document, sectionSelector string, fields map[string]string) {
	selectSafe(doc, sectionSelector).Find("li, .item").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		if parts := strings.SplitN(text, ":", 2); len(parts) == 2 {
			fields[strings.ToLower(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
		} else {
			fields["characteristic_"+strings.ToLower(text)] = "true"
		}
	})
}

// extractEnergyCertificate falls back to scanning an <img> alt/src
// attribute for an "energy-X" pattern when the rating isn't present
// as plain text.
func extractEnergyCertificate(doc *goquery.Document, sectionSelector string, fields map[string]string) {
	sec := selectSafe(doc, sectionSelector)
	if text := strings.TrimSpace(sec.Text()); text != "" && len(text) <= 2 {
		fields["energy_certificate"] = strings.ToUpper(text)
		return
	}
	sec.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		for _, attr := range []string{"alt", "src"} {
			if v, ok := img.Attr(attr); ok {
				if m := energyCertPattern.FindStringSubmatch(v); m != nil {
					fields["energy_certificate"] = strings.ToUpper(m[1])
					return false
				}
			}
		}
		return true
	})
}

func extractTextPatterns(doc *goquery.Document, htmlStr string, sel Selectors, res *Result) {
	if len(sel.TextPatterns) == 0 {
		return
	}
	text := doc.Text()

	for field, pattern := range sel.TextPatterns {
		if _, exists := res.Fields[field]; exists {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		source := text
		if sel.TextPatternHTML[field] {
			source = htmlStr
		}
		if m := re.FindStringSubmatch(source); len(m) > 1 {
			res.Fields[field] = strings.TrimSpace(m[1])
		} else if len(m) == 1 {
			res.Fields[field] = strings.TrimSpace(m[0])
		}
	}
}

func extractImages(doc *goquery.Document, sel Selectors) []Image {
	selector := sel.ImagesSelector
	if selector == "" {
		selector = "img"
	}

	var filter *regexp.Regexp
	if sel.ImageFilter != "" {
		filter, _ = regexp.Compile(sel.ImageFilter)
	}

	seen := map[string]struct{}{}
	var images []Image
	selectSafe(doc, selector).Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" {
			src, ok = s.Attr("data-src")
		}
		if !ok || src == "" {
			src, ok = s.Attr("data-lazy-src")
		}
		if !ok || src == "" {
			return
		}
		if filter != nil && !filter.MatchString(src) {
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		alt, _ := s.Attr("alt")
		images = append(images, Image{URL: src, Alt: alt})
	})
	return images
}

func extractSEO(doc *goquery.Document) SEO {
	seo := SEO{}
	seo.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		seo.Description = strings.TrimSpace(desc)
	}
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			seo.Headers = append(seo.Headers, t)
		}
	})
	return seo
}

func firstText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(selectSafe(doc, selector).First().Text())
}

// firstDescriptionMarkdown resolves selector to its first match and
// renders that node's inner HTML to Markdown, falling back to plain
// text if the node has no element children worth preserving or the
// conversion fails. ok is false when the matched text is too short to
// be a real description (mirrors the 50-character threshold the
// plain-text extractor used before Markdown rendering was added).
func firstDescriptionMarkdown(doc *goquery.Document, selector string) (string, bool) {
	if selector == "" {
		return "", false
	}
	node := selectSafe(doc, selector).First()
	text := strings.TrimSpace(node.Text())
	if len(text) <= 50 {
		return "", false
	}

	frag, err := node.Html()
	if err != nil || strings.TrimSpace(frag) == "" {
		return text, true
	}
	md, err := descriptionConverter.ConvertString(frag)
	if err != nil || strings.TrimSpace(md) == "" {
		return text, true
	}
	return strings.TrimSpace(md), true
}

// DiscoverListingLinks finds listing detail-page URLs on an index
// page, applying the configured CSS selector and an optional regex
// pattern filter, and de-duplicating while preserving discovery order.
func DiscoverListingLinks(htmlStr string, linkSelector, pattern string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindParsing, "failed to parse index HTML", err)
	}

	var re *regexp.Regexp
	if pattern != "" {
		re, err = regexp.Compile(pattern)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "invalid link pattern", err)
		}
	}

	selector := linkSelector
	if selector == "" {
		selector = "a"
	}

	seen := map[string]struct{}{}
	var links []string
	selectSafe(doc, selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		if re != nil && !re.MatchString(href) {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		links = append(links, href)
	})
	return links, nil
}

// NextPageURL resolves the configured pagination selector to the next
// index page URL, or "" if there is none (end of pagination).
func NextPageURL(htmlStr string, nextPageSelector string) (string, error) {
	if nextPageSelector == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return "", apperr.Wrap(apperr.KindParsing, "failed to parse index HTML for pagination", err)
	}
	href, _ := selectSafe(doc, nextPageSelector).First().Attr("href")
	return href, nil
}

// ParseCard runs a lightweight extraction pass over a search-result
// card (supplemented feature, grounded on parse_listing_card in
// parser_service.py). Neither the preview endpoint nor the job engine
// calls it; both use ExtractListing.
func ParseCard(htmlStr string, sel Selectors) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindParsing, "failed to parse card HTML", err)
	}
	out := map[string]string{}
	for _, field := range []string{"title", "price", "location", "typology"} {
		if s, ok := sel.Field[field]; ok {
			if v := firstText(doc, s); v != "" {
				out[field] = v
			}
		}
	}
	if href, ok := doc.Find("a").First().Attr("href"); ok {
		out["url"] = href
	}
	return out, nil
}
