// Package exportfmt defines the export-encoder collaborator boundary
// for CSV/JSON/XLSX listing exports. Per spec.md §1 these formats are
// "external collaborators, interfaces only" — this package carries no
// concrete encoder, only the seam a future one would implement (see
// DESIGN.md).
package exportfmt

import (
	"context"
	"io"

	"realtor-scout/internal/store"
)

// Format names the supported export encodings.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// Encoder writes a batch of listings to w in its own format.
type Encoder interface {
	Format() Format
	Encode(ctx context.Context, w io.Writer, listings []store.Listing) error
}
