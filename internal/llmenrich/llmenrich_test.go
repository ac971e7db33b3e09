package llmenrich

import "testing"

func TestFromConfigRequiresAllThreeFields(t *testing.T) {
	if FromConfig(false, "key", "model") {
		t.Fatal("expected false when disabled")
	}
	if FromConfig(true, "", "model") {
		t.Fatal("expected false when apiKey is missing")
	}
	if FromConfig(true, "key", "") {
		t.Fatal("expected false when model is missing")
	}
	if !FromConfig(true, "key", "model") {
		t.Fatal("expected true when fully configured")
	}
}
