package normalize

import (
	"context"
	"testing"
)

func TestParsePriceEuropeanThousandsAndDecimal(t *testing.T) {
	amount, currency, err := ParsePrice(context.Background(), "350.000€", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount != 350000 {
		t.Fatalf("expected 350000, got %v", amount)
	}
	if currency != "EUR" {
		t.Fatalf("expected EUR, got %v", currency)
	}
}

func TestParsePriceEuropeanDecimalComma(t *testing.T) {
	amount, _, err := ParsePrice(context.Background(), "1.234,50€", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount != 1234.50 {
		t.Fatalf("expected 1234.50, got %v", amount)
	}
}

func TestParsePriceUSThousandsAndDecimal(t *testing.T) {
	amount, currency, err := ParsePrice(context.Background(), "$350,000.00", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount != 350000 {
		t.Fatalf("expected 350000, got %v", amount)
	}
	if currency != "USD" {
		t.Fatalf("expected USD, got %v", currency)
	}
}

func TestParsePriceSingleCommaAsDecimal(t *testing.T) {
	amount, _, err := ParsePrice(context.Background(), "350,5€", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount != 350.5 {
		t.Fatalf("expected 350.5, got %v", amount)
	}
}

func TestParseArea(t *testing.T) {
	area, err := ParseArea("120 m²")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if area != 120 {
		t.Fatalf("expected 120, got %v", area)
	}
}

func TestTypologyToBedrooms(t *testing.T) {
	n, ok := TypologyToBedrooms("T3")
	if !ok || n != 3 {
		t.Fatalf("expected 3 bedrooms, got %d ok=%v", n, ok)
	}
	if _, ok := TypologyToBedrooms("studio"); ok {
		t.Fatal("expected no match for 'studio'")
	}
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{"sim": true, "yes": true, "1": true, "não": false, "no": false, "0": false}
	for token, want := range cases {
		got, ok := ParseBool(token)
		if !ok {
			t.Fatalf("expected %q to match a boolean token", token)
		}
		if got != want {
			t.Fatalf("expected %q => %v, got %v", token, want, got)
		}
	}
	if _, ok := ParseBool("maybe"); ok {
		t.Fatal("expected 'maybe' to not match any boolean token")
	}
}

func TestBusinessTypeToListingType(t *testing.T) {
	if BusinessTypeToListingType("Venda") != "sale" {
		t.Fatal("expected Venda to map to sale")
	}
	if BusinessTypeToListingType("Arrendamento") != "rent" {
		t.Fatal("expected Arrendamento to map to rent")
	}
	if BusinessTypeToListingType("unknown thing") != "unknown" {
		t.Fatal("expected unmapped business type to return unknown")
	}
}

func TestPricePerSquareMeterPrefersGross(t *testing.T) {
	gross := 100.0
	useful := 80.0
	ppm2, ok := PricePerSquareMeter(200000, &gross, &useful)
	if !ok {
		t.Fatal("expected ok")
	}
	if ppm2 != 2000 {
		t.Fatalf("expected 2000, got %v", ppm2)
	}
}

func TestNormalizePartnerPayloadUnknownPartner(t *testing.T) {
	_, err := NormalizePartnerPayload("nonexistent", map[string]string{}, nil)
	if err == nil {
		t.Fatal("expected error for unknown partner")
	}
}

func TestNormalizePearlsPayload(t *testing.T) {
	raw := map[string]string{
		"price":         "350.000€",
		"area_useful":   "120 m²",
		"typology":      "T3",
		"business_type": "Venda",
		"has_elevator":  "sim",
	}
	out, err := NormalizePearlsPayload(raw, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["price"] != 350000.0 {
		t.Fatalf("expected price 350000, got %v", out["price"])
	}
	if out["bedrooms"] != 3 {
		t.Fatalf("expected bedrooms 3, got %v", out["bedrooms"])
	}
	if out["listing_type"] != "sale" {
		t.Fatalf("expected listing_type sale, got %v", out["listing_type"])
	}
	if out["has_elevator"] != true {
		t.Fatalf("expected has_elevator true, got %v", out["has_elevator"])
	}
	if out["price_per_m2"] == nil {
		t.Fatal("expected price_per_m2 to be computed")
	}
}
