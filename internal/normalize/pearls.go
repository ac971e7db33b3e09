package normalize

import (
	"context"
	"strings"

	"realtor-scout/internal/fieldcache"
)

// NormalizePearlsPayload is the "pearls" partner normalizer, grounded
// on normalize_pearls_payload in mapper_service.py. It takes the raw
// label->value strings the extractor collected and produces a
// canonical field map ready for persistence.
func NormalizePearlsPayload(raw map[string]string, cache *fieldcache.Cache) (map[string]any, error) {
	ctx := context.Background()
	out := map[string]any{}

	if v, ok := raw["price"]; ok {
		amount, currency, err := ParsePrice(ctx, v, cache)
		if err == nil {
			out["price"] = amount
			out["currency"] = currency
		}
	}

	if v, ok := raw["area_useful"]; ok {
		if area, err := ParseArea(v); err == nil {
			out["area_useful"] = area
		}
	}
	if v, ok := raw["area_gross"]; ok {
		if area, err := ParseArea(v); err == nil {
			out["area_gross"] = area
		}
	}

	if v, ok := raw["typology"]; ok {
		out["typology"] = strings.TrimSpace(v)
		if beds, ok := TypologyToBedrooms(v); ok {
			out["bedrooms"] = beds
		}
	}

	if v, ok := raw["bathrooms"]; ok {
		if n, err := ParseInt(v); err == nil {
			out["bathrooms"] = n
		}
	}

	if v, ok := raw["business_type"]; ok {
		out["listing_type"] = BusinessTypeToListingType(v)
	}

	for _, boolField := range []string{"has_elevator", "has_garage", "has_balcony", "has_pool"} {
		if v, ok := raw[boolField]; ok {
			if b, ok := ParseBool(v); ok {
				out[boolField] = b
			}
		}
	}

	if price, ok := out["price"].(float64); ok {
		var gross, useful *float64
		if g, ok := out["area_gross"].(float64); ok {
			gross = &g
		}
		if u, ok := out["area_useful"].(float64); ok {
			useful = &u
		}
		if ppm2, ok := PricePerSquareMeter(price, gross, useful); ok {
			out["price_per_m2"] = ppm2
		}
	}

	return out, nil
}
