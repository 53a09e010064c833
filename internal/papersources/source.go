package papersources

import (
	"context"
	"time"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// SearchParams describes one page of an identifier listing.
type SearchParams struct {
	// Query is the source-specific search expression. Required.
	Query string

	// DateFrom and DateTo bound the publication date, inclusive.
	DateFrom time.Time
	DateTo   time.Time

	// Offset is the zero-based index of the first identifier to return.
	Offset int

	// Limit is the page size. It must not exceed MaxPageSize.
	Limit int
}

// IDPage is one page of identifiers returned by a listing call.
type IDPage struct {
	// IDs are the external identifiers on this page, in source order.
	IDs []string

	// Total is the number of matches the source reports for the query.
	Total int

	// HasMore is true when identifiers exist past this page.
	HasMore bool

	// NextOffset is the offset of the page following this one.
	NextOffset int
}

// LiteratureSource is a paginated search/fetch API. Implementations must
// route every outbound call through a shared HTTPClient so the source's rate
// ceiling holds across listing and detail requests.
type LiteratureSource interface {
	// Search returns one page of identifiers matching params.
	Search(ctx context.Context, params SearchParams) (*IDPage, error)

	// Fetch returns the full record for a single identifier. A missing
	// record yields an error wrapping domain.ErrNotFound.
	Fetch(ctx context.Context, id string) (*domain.LiteratureRecord, error)

	// MaxPageSize is the largest page the source allows.
	MaxPageSize() int

	// Name returns a human-readable name for logs and metrics.
	Name() string
}
