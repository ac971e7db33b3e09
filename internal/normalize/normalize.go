// Package normalize implements the Normalizer (C4): turns the raw
// strings an extractor pulls out of HTML into the typed fields a
// Listing needs (price, area, typology, booleans, currency, dates).
// Parsing rules are grounded on the Python mapper_service.py this
// component replaces — especially the European-vs-US thousands/decimal
// separator disambiguation, which has no natural Go stdlib equivalent
// and is reimplemented rule-for-rule below.
package normalize

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"realtor-scout/internal/apperr"
	"realtor-scout/internal/fieldcache"
)

var (
	areaPattern     = regexp.MustCompile(`(?i)([\d\s.,]+)\s*m[²2]?`)
	typologyPattern = regexp.MustCompile(`(?i)[t](\d+)`)
	digitsOnly      = regexp.MustCompile(`\d+`)
)

var trueTokens = map[string]bool{
	"yes": true, "sim": true, "true": true, "1": true, "✓": true, "✔": true,
}

var falseTokens = map[string]bool{
	"no": true, "não": true, "nao": true, "false": true, "0": true,
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	time.RFC3339,
}

// ParsePrice splits raw into an amount and currency code, handling the
// European convention (comma decimal, dot thousands) and the US
// convention (dot decimal, comma thousands). When both ',' and '.'
// appear, whichever comes last is the decimal point. When only one kind
// of separator appears, it is a thousands mark if the leading group has
// 1-3 digits and every later group has exactly 3; otherwise the *last*
// separator in the string is treated as the decimal point.
func ParsePrice(ctx context.Context, raw string, cache *fieldcache.Cache) (amount float64, currency string, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, "", apperr.Validation("empty price string")
	}

	currency = scanCurrency(ctx, s, cache)

	numeric := extractNumeric(s)
	if numeric == "" {
		return 0, "", apperr.New(apperr.KindParsing, "no numeric content in price: "+raw)
	}

	amount, err = parseSeparatedNumber(numeric)
	if err != nil {
		return 0, "", apperr.Wrap(apperr.KindParsing, "failed to parse price: "+raw, err)
	}
	return amount, currency, nil
}

// scanCurrency looks for a known currency symbol or ISO code in s,
// falling back to EUR (the site's native currency) when none is
// found, mirroring the Python scanner's default.
func scanCurrency(ctx context.Context, s string, cache *fieldcache.Cache) string {
	symbols := []string{"€", "$", "£", "EUR", "USD", "GBP"}
	for _, sym := range symbols {
		if strings.Contains(s, sym) {
			if cache != nil {
				return cache.LookupCurrency(ctx, sym)
			}
			return defaultCurrencyFor(sym)
		}
	}
	return "EUR"
}

func defaultCurrencyFor(sym string) string {
	switch sym {
	case "$":
		return "USD"
	case "£":
		return "GBP"
	default:
		return "EUR"
	}
}

func extractNumeric(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// parseSeparatedNumber implements the European/US disambiguation rule.
func parseSeparatedNumber(numeric string) (float64, error) {
	cleaned := strings.ReplaceAll(numeric, " ", "")
	if cleaned == "" {
		return 0, apperr.New(apperr.KindParsing, "no digits found")
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")

	switch {
	case hasComma && hasDot:
		// Whichever separator appears last is the decimal point; the
		// other is a thousands grouping to be stripped.
		lastComma := strings.LastIndex(cleaned, ",")
		lastDot := strings.LastIndex(cleaned, ".")
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case hasComma:
		cleaned = disambiguateSingleSeparator(cleaned, ',')
	case hasDot:
		cleaned = disambiguateSingleSeparator(cleaned, '.')
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// disambiguateSingleSeparator decides whether the only separator
// present is a thousands mark (a leading group of 1-3 digits and all
// later groups exactly 3 digits, e.g. "1.234.567" or "1,234,567") or a
// decimal point
// (anything else, e.g. "350,5" or "1.234,5" already handled above).
func disambiguateSingleSeparator(s string, sep byte) string {
	parts := strings.Split(s, string(sep))
	if len(parts) <= 1 {
		return s
	}
	allThree := true
	for _, p := range parts[1:] {
		if len(p) != 3 {
			allThree = false
			break
		}
	}
	if allThree && len(parts[0]) > 0 && len(parts[0]) <= 3 {
		return strings.Join(parts, "")
	}
	// Treat as a decimal separator: only the last group is fractional.
	if len(parts) == 2 {
		if sep == ',' {
			return parts[0] + "." + parts[1]
		}
		return s
	}
	// More than one group but not all-3-digit: join all but the last as
	// the integer part, last as fraction.
	intPart := strings.Join(parts[:len(parts)-1], "")
	return intPart + "." + parts[len(parts)-1]
}

// ParseArea extracts the numeric area in square meters from raw, e.g.
// "120 m²" -> 120.0.
func ParseArea(raw string) (float64, error) {
	m := areaPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, apperr.New(apperr.KindParsing, "no area pattern match: "+raw)
	}
	return parseSeparatedNumber(strings.ReplaceAll(m[1], " ", ""))
}

// ParseInt extracts the first integer substring from raw.
func ParseInt(raw string) (int, error) {
	m := digitsOnly.FindString(raw)
	if m == "" {
		return 0, apperr.New(apperr.KindParsing, "no integer found: "+raw)
	}
	return strconv.Atoi(m)
}

// ParseBool maps a yes/no style token to a boolean. ok is false when
// the token matches neither the true nor false set.
func ParseBool(raw string) (value bool, ok bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if trueTokens[key] {
		return true, true
	}
	if falseTokens[key] {
		return false, true
	}
	return false, false
}

// ParseDate tries each known layout in turn.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.New(apperr.KindParsing, "unrecognized date format: "+raw)
}

// TypologyToBedrooms converts a Portuguese typology code like "T3" to
// a bedroom count.
func TypologyToBedrooms(typology string) (int, bool) {
	m := typologyPattern.FindStringSubmatch(typology)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// BusinessTypeToListingType maps the site's raw business-type label to
// the canonical listing_type enum.
func BusinessTypeToListingType(businessType string) string {
	key := strings.ToLower(strings.TrimSpace(businessType))
	switch {
	case strings.Contains(key, "venda") || strings.Contains(key, "sale") || strings.Contains(key, "sell"):
		return "sale"
	case strings.Contains(key, "arrend") || strings.Contains(key, "rent") || strings.Contains(key, "lease"):
		return "rent"
	default:
		return "unknown"
	}
}

// PricePerSquareMeter returns price / area rounded to 2 decimals,
// preferring area_gross over area_useful when both are present, as
// the original scraper does. ok is false when no area is available or
// area is zero.
func PricePerSquareMeter(price float64, areaGross, areaUseful *float64) (ppm2 float64, ok bool) {
	var area float64
	switch {
	case areaGross != nil && *areaGross > 0:
		area = *areaGross
	case areaUseful != nil && *areaUseful > 0:
		area = *areaUseful
	default:
		return 0, false
	}
	ppm2 = math.Round((price/area)*100) / 100
	return ppm2, true
}

// PartnerNormalizer maps a partner's raw extracted payload to a
// canonical listing field map. Each partner's implementation lives
// alongside its own file (see pearls.go), registered in the
// dispatcher below — mirroring the Python _PARTNER_NORMALIZERS dict.
type PartnerNormalizer func(raw map[string]string, cache *fieldcache.Cache) (map[string]any, error)

var partnerNormalizers = map[string]PartnerNormalizer{
	"pearls": NormalizePearlsPayload,
}

// RegisterPartner allows a new source_partner normalizer to be wired
// in without modifying this file, the way the original dict supports
// new partner keys.
func RegisterPartner(name string, fn PartnerNormalizer) {
	partnerNormalizers[name] = fn
}

// NormalizePartnerPayload dispatches to the normalizer registered for
// partner, returning an error if none is registered.
func NormalizePartnerPayload(partner string, raw map[string]string, cache *fieldcache.Cache) (map[string]any, error) {
	fn, ok := partnerNormalizers[partner]
	if !ok {
		return nil, apperr.New(apperr.KindValidation, fmt.Sprintf("no normalizer registered for partner %q", partner))
	}
	return fn(raw, cache)
}
