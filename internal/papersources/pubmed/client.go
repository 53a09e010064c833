package pubmed

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/papersources"
)

const (
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the documented ceiling without an API key.
	DefaultRateLimit = 3.0

	// KeyedRateLimit is the documented ceiling with an API key.
	KeyedRateLimit = 10.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxPageSizeLimit is the largest retmax esearch accepts.
	MaxPageSizeLimit = 10000

	sourceName = "PubMed"

	queryDateLayout = "2006/01/02"
)

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// APIKey is the NCBI API key. When set, the default rate limit rises
	// to KeyedRateLimit.
	APIKey string

	// Email and Tool identify the caller to NCBI, as their usage policy asks.
	Email string
	Tool  string

	Timeout     time.Duration
	RateLimit   float64
	MaxAttempts int
	RetryDelay  time.Duration

	// OnAttempt is passed through to the throttled HTTP client.
	OnAttempt func(status int, retrying bool)
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
		if c.APIKey != "" {
			c.RateLimit = KeyedRateLimit
		}
	}
	if c.Tool == "" {
		c.Tool = "literature-sync-service"
	}
}

// Client implements papersources.LiteratureSource for PubMed. All calls go
// through one papersources.HTTPClient.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

// Compile-time check that Client implements LiteratureSource.
var _ papersources.LiteratureSource = (*Client)(nil)

// New creates a PubMed client with its own throttled HTTP client.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Name:        sourceName,
		Timeout:     cfg.Timeout,
		RateLimit:   cfg.RateLimit,
		BurstSize:   1,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  cfg.RetryDelay,
		UserAgent:   "Helixir-LiteratureSync/1.0 (mailto:support@helixir.io)",
		OnAttempt:   cfg.OnAttempt,
	})

	return NewWithHTTPClient(cfg, httpClient)
}

// NewWithHTTPClient creates a PubMed client sharing the given HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Name returns the human-readable source name.
func (c *Client) Name() string {
	return sourceName
}

// MaxPageSize returns the esearch retmax ceiling.
func (c *Client) MaxPageSize() int {
	return MaxPageSizeLimit
}

// Search lists one page of PMIDs matching params, restricted to the
// publication-date window.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.IDPage, error) {
	if strings.TrimSpace(params.Query) == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}

	limit := params.Limit
	if limit <= 0 || limit > MaxPageSizeLimit {
		limit = MaxPageSizeLimit
	}

	q := c.baseParams()
	q.Set("term", params.Query)
	q.Set("retstart", strconv.Itoa(params.Offset))
	q.Set("retmax", strconv.Itoa(limit))
	q.Set("usehistory", "n")
	if !params.DateFrom.IsZero() || !params.DateTo.IsZero() {
		q.Set("datetype", "pdat")
		if !params.DateFrom.IsZero() {
			q.Set("mindate", params.DateFrom.Format(queryDateLayout))
		}
		if !params.DateTo.IsZero() {
			q.Set("maxdate", params.DateTo.Format(queryDateLayout))
		}
	}

	body, err := c.httpClient.Get(ctx, c.config.BaseURL+"/esearch.fcgi", q)
	if err != nil {
		return nil, fmt.Errorf("esearch: %w", err)
	}

	var result esearchResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("esearch: %w: %v", domain.ErrMalformedResponse, err)
	}
	if result.Error != "" {
		return nil, domain.NewExternalAPIError(sourceName, http.StatusBadRequest, result.Error, nil)
	}

	next := params.Offset + len(result.IDList.IDs)
	return &papersources.IDPage{
		IDs:        result.IDList.IDs,
		Total:      result.Count,
		HasMore:    len(result.IDList.IDs) > 0 && next < result.Count,
		NextOffset: next,
	}, nil
}

// Fetch retrieves the full record for one PMID.
func (c *Client) Fetch(ctx context.Context, id string) (*domain.LiteratureRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.NewValidationError("id", "must not be empty")
	}

	q := c.baseParams()
	q.Set("id", id)
	q.Set("rettype", "abstract")

	body, err := c.httpClient.Get(ctx, c.config.BaseURL+"/efetch.fcgi", q)
	if err != nil {
		return nil, fmt.Errorf("efetch %s: %w", id, err)
	}

	var set articleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("efetch %s: %w: %v", id, domain.ErrMalformedResponse, err)
	}

	for _, a := range set.Articles {
		if strings.TrimSpace(a.Citation.PMID.Value) == id {
			return toRecord(a), nil
		}
	}
	return nil, domain.NewNotFoundError("pubmed article", id)
}

func (c *Client) baseParams() url.Values {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("retmode", "xml")
	q.Set("tool", c.config.Tool)
	if c.config.Email != "" {
		q.Set("email", c.config.Email)
	}
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	return q
}
