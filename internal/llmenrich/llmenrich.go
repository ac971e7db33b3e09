// Package llmenrich defines the AI Enrichment collaborator boundary:
// an interface the job engine can call to turn a listing's raw text
// into a polished description and a handful of tags. Grounded on the
// teacher's internal/llm/llm.go Client/ExtractRequest shape, but per
// spec.md §1 ("external collaborators, interfaces only") no concrete
// provider is wired here — only the seam a real implementation would
// plug into (see DESIGN.md).
package llmenrich

import "context"

// Result is the structured output of an enrichment call.
type Result struct {
	EnrichedDescription string   `json:"enriched_description"`
	Tags                []string `json:"tags"`
}

// Client is the enrichment abstraction. No package in this module holds
// or calls a Client: the job engine persists listings without an
// enrichment step.
type Client interface {
	Enrich(ctx context.Context, title, description string) (Result, error)
}

// FromConfig reports whether enrichment is configured: enabled, with
// both an API key and a model. It takes plain values so this package
// does not import internal/config; only its own test calls it.
func FromConfig(enabled bool, apiKey, model string) bool {
	return enabled && apiKey != "" && model != ""
}
