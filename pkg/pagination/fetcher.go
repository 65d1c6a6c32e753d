package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/ghfetch/pkg/client"
	"github.com/Sternrassler/ghfetch/pkg/logging"
)

// DefaultBaseURL is the public GitHub REST API.
const DefaultBaseURL = "https://api.github.com"

// Prometheus metrics for page traversal.
var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghfetch_pages_fetched_total",
		Help: "Total pages fetched by the pagination driver",
	})

	itemsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghfetch_items_fetched_total",
		Help: "Total items extracted from fetched pages",
	})
)

// ErrInvalidMaxPages is returned when the page budget is negative.
var ErrInvalidMaxPages = errors.New("max pages must be >= 0")

// Requester performs one resilient request. *client.Client satisfies it.
type Requester interface {
	Do(ctx context.Context, method, rawURL string, params url.Values, headers http.Header) (*client.Response, error)
}

// Config holds fetcher configuration.
type Config struct {
	// BaseURL is the API root issue paths are resolved against.
	BaseURL string
}

// DefaultConfig returns the configuration for api.github.com.
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
	}
}

// Page is one fetched page of a traversal.
type Page struct {
	// Number is 1-based.
	Number int

	// URL is the URL the page was requested from, query included.
	URL string

	Items []any

	// Meta is the envelope object for {"items": [...]} bodies, nil for bare arrays.
	Meta map[string]any

	// Links holds the relations parsed from the page's Link header.
	Links map[string]string
}

// PageFunc is called once per fetched page. Returning an error stops the walk.
type PageFunc func(page Page) error

// Fetcher walks Link-paginated collections one page at a time.
type Fetcher struct {
	client Requester
	config Config
	logger zerolog.Logger
}

// NewFetcher creates a new fetcher.
func NewFetcher(c Requester, cfg Config) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	return &Fetcher{
		client: c,
		config: cfg,
		logger: logging.NewLogger(logging.ComponentPagination),
	}
}

// Walk fetches startURL and follows rel="next" links until none remains or
// maxPages pages have been fetched. params apply to the first request only;
// later URLs carry their own query. Each page is requested exactly once and its
// Link header is read from that same response.
func (f *Fetcher) Walk(ctx context.Context, startURL string, params url.Values, maxPages int, fn PageFunc) error {
	if maxPages < 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidMaxPages, maxPages)
	}

	current := startURL
	for page := 0; current != "" && page < maxPages; page++ {
		resp, err := f.client.Do(ctx, http.MethodGet, current, params, nil)
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", page+1, err)
		}
		params = nil

		items, meta := ExtractItems(resp.Body)
		links := ParseLinkHeader(resp.Header.Get("Link"))

		pagesFetchedTotal.Inc()
		itemsFetchedTotal.Add(float64(len(items)))
		f.logger.Debug().
			Int("page", page+1).
			Int("items", len(items)).
			Int("attempts", resp.Attempts).
			Bool("has_next", links[RelNext] != "").
			Msg("Page fetched")

		if fn != nil {
			if err := fn(Page{
				Number: page + 1,
				URL:    current,
				Items:  items,
				Meta:   meta,
				Links:  links,
			}); err != nil {
				return err
			}
		}

		next, ok := links[RelNext]
		if !ok {
			break
		}
		current, err = resolve(current, next)
		if err != nil {
			return fmt.Errorf("follow next link of page %d: %w", page+1, err)
		}
	}

	return nil
}

// FetchAll counts the open issues of owner/repo across at most maxPages pages
// of perPage issues each.
func (f *Fetcher) FetchAll(ctx context.Context, owner, repo string, perPage, maxPages int) (int, error) {
	start := time.Now()

	total, pages := 0, 0
	err := f.Walk(ctx, f.IssuesURL(owner, repo), IssueParams(perPage), maxPages, func(page Page) error {
		total += len(page.Items)
		pages = page.Number
		return nil
	})
	if err != nil {
		f.logger.Warn().
			Err(err).
			Str("repo", owner+"/"+repo).
			Int("pages", pages).
			Int("items", total).
			Msg("Issue fetch failed")
		return total, err
	}

	f.logger.Info().
		Str("repo", owner+"/"+repo).
		Int("pages", pages).
		Int("items", total).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return total, nil
}

// IssuesURL returns the issues collection URL of owner/repo.
func (f *Fetcher) IssuesURL(owner, repo string) string {
	return fmt.Sprintf("%s/repos/%s/%s/issues", strings.TrimRight(f.config.BaseURL, "/"), url.PathEscape(owner), url.PathEscape(repo))
}

// IssueParams returns the first-page query for open issues, perPage at a time.
func IssueParams(perPage int) url.Values {
	return url.Values{
		"per_page": []string{strconv.Itoa(perPage)},
		"state":    []string{"open"},
	}
}

// resolve resolves a possibly relative link against the URL it was served from.
func resolve(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
