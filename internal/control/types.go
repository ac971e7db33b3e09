package control

import (
	"github.com/google/uuid"

	"realtor-scout/internal/extractor"
)

// Envelope is the shared response shape for every C8 endpoint
// (spec.md §6): {success, data, meta?, message?, errors?, trace_id}.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Meta    any    `json:"meta,omitempty"`
	Message string `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
	TraceID string `json:"trace_id"`
}

// CreateJobRequest is the POST /jobs body.
type CreateJobRequest struct {
	SiteKey  string `json:"site_key"`
	StartURL string `json:"start_url"`
	MaxPages int    `json:"max_pages"`
	Config   map[string]any `json:"config,omitempty"`
}

// JobView is the job representation returned to API clients.
type JobView struct {
	ID           uuid.UUID `json:"id"`
	SiteKey      string    `json:"site_key"`
	StartURL     string    `json:"start_url"`
	MaxPages     int       `json:"max_pages"`
	Status       string    `json:"status"`
	Progress     any       `json:"progress,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    string    `json:"created_at"`
	UpdatedAt    string    `json:"updated_at"`
}

// ListJobsResponse wraps pagination meta alongside the job list.
type ListJobsResponse struct {
	Jobs  []JobView `json:"jobs"`
	Total int       `json:"count"`
}

// SiteConfigRequest is the POST/PUT /sites body.
type SiteConfigRequest struct {
	Key             string              `json:"key"`
	Name            string              `json:"name"`
	BaseURL         string              `json:"base_url"`
	Selectors       extractor.Selectors `json:"selectors"`
	LinkPattern     string              `json:"link_pattern,omitempty"`
	ImageFilter     string              `json:"image_filter,omitempty"`
	PaginationType  string              `json:"pagination_type,omitempty"`
	PaginationParam string              `json:"pagination_param,omitempty"`
	IsActive        bool                `json:"is_active"`
}

// PreviewRequest is the body for the dry-run extraction endpoint: run
// the supplied selectors against a pasted HTML page without creating a
// site config or a job, so a new site can be wired up iteratively.
type PreviewRequest struct {
	HTML      string              `json:"html"`
	Selectors extractor.Selectors `json:"selectors"`
}
