package fieldcache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubLoader struct {
	fields      []FieldMapping
	currencies  []CharacterMapping
	fieldErr    error
	currencyErr error
	loadCount   int
}

func (s *stubLoader) LoadFieldMappings(ctx context.Context) ([]FieldMapping, error) {
	s.loadCount++
	if s.fieldErr != nil {
		return nil, s.fieldErr
	}
	return s.fields, nil
}

func (s *stubLoader) LoadCharacterMappings(ctx context.Context) ([]CharacterMapping, error) {
	if s.currencyErr != nil {
		return nil, s.currencyErr
	}
	return s.currencies, nil
}

func TestLookupFieldExactMatch(t *testing.T) {
	loader := &stubLoader{fields: []FieldMapping{
		{SourceName: "Área Útil", TargetField: "area_useful", MappingType: "field", IsActive: true, Priority: 100},
	}}
	c := New(loader, time.Minute, nil)
	c.Preload(context.Background())

	m, ok := c.LookupField(context.Background(), "área útil")
	if !ok || m.TargetField != "area_useful" {
		t.Fatalf("expected exact match to resolve area_useful, got %+v ok=%v", m, ok)
	}
}

func TestLookupFieldTokenFallback(t *testing.T) {
	loader := &stubLoader{fields: []FieldMapping{
		{SourceName: "área útil", TargetField: "area_useful", MappingType: "field", IsActive: true, Priority: 100},
	}}
	c := New(loader, time.Minute, nil)
	c.Preload(context.Background())

	m, ok := c.LookupField(context.Background(), "Área útil (m²)")
	if !ok || m.TargetField != "area_useful" {
		t.Fatalf("expected token-index fallback to resolve area_useful, got %+v ok=%v", m, ok)
	}
}

func TestLookupCurrencyDefaultsToEUR(t *testing.T) {
	loader := &stubLoader{}
	c := New(loader, time.Minute, nil)
	c.Preload(context.Background())

	if got := c.LookupCurrency(context.Background(), "¥"); got != "EUR" {
		t.Fatalf("expected default EUR for unknown symbol, got %s", got)
	}
}

func TestRefreshFallbackBumpsTimestampOnError(t *testing.T) {
	loader := &stubLoader{fieldErr: errors.New("db down")}
	c := New(loader, time.Millisecond, nil)
	c.Preload(context.Background())

	firstLoadCount := loader.loadCount
	time.Sleep(5 * time.Millisecond)

	// Field map should still resolve via built-in defaults despite the
	// load error, and ensureFresh should not hammer the loader every
	// call once the timestamp has been bumped past this lookup.
	m, ok := c.LookupField(context.Background(), "preço")
	if !ok || m.TargetField != "price" {
		t.Fatalf("expected default field map to serve 'preço', got %+v ok=%v", m, ok)
	}
	if loader.loadCount <= firstLoadCount {
		t.Fatalf("expected a retry attempt after TTL expiry, loadCount=%d", loader.loadCount)
	}
}
