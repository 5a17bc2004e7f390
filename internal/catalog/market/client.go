// Package market reads the secondary marketplace catalog: set inventory
// listings for identity candidates and price guide pages for statistics.
// Pages are unauthenticated HTML and need a browser-like User-Agent.
package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"brickcache-api/internal/catalog"
	"brickcache-api/internal/model"
	"brickcache-api/internal/resolver"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

// Client fetches marketplace pages.
type Client struct {
	baseURL  string
	currency string
	layout   ListingLayout
	fetcher  *catalog.Fetcher
	listings *expirable.LRU[string, []resolver.Candidate]
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	UserAgent         string
	Currency          string
	Layout            ListingLayout
	Timeout           time.Duration
	RequestsPerSecond int
	ListingCacheSize  int
	ListingCacheTTL   time.Duration
	HTTPClient        *http.Client
}

// New creates a marketplace client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("market catalog base url required")
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.Layout == (ListingLayout{}) {
		opts.Layout = DefaultListingLayout
	}
	if opts.ListingCacheSize <= 0 {
		opts.ListingCacheSize = 256
	}
	if opts.ListingCacheTTL <= 0 {
		opts.ListingCacheTTL = 10 * time.Minute
	}

	return &Client{
		baseURL:  base,
		currency: opts.Currency,
		layout:   opts.Layout,
		fetcher: catalog.NewFetcher(catalog.FetcherOptions{
			Name:              "market",
			UserAgent:         opts.UserAgent,
			Timeout:           opts.Timeout,
			RequestsPerSecond: opts.RequestsPerSecond,
			Client:            opts.HTTPClient,
			Headers: map[string]string{
				"Accept":          "text/html,application/xhtml+xml",
				"Accept-Language": "en-US,en;q=0.9",
			},
		}),
		listings: expirable.NewLRU[string, []resolver.Candidate](opts.ListingCacheSize, nil, opts.ListingCacheTTL),
	}, nil
}

// ListingURL is the inventory page of a set.
func (c *Client) ListingURL(setID string) string {
	return c.baseURL + "/catalogItemInv.asp?S=" + url.QueryEscape(setID)
}

// PriceGuideURL is the price guide page of an item.
func (c *Client) PriceGuideURL(kind model.Kind, secondaryID string) string {
	param := "P"
	if kind == model.KindFigure {
		param = "M"
	}
	return c.baseURL + "/catalogPG.asp?" + param + "=" + url.QueryEscape(secondaryID)
}

// Candidates returns the candidate rows listed for a set. Successful
// non-empty extractions are cached for a short window.
func (c *Client) Candidates(ctx context.Context, setID string) ([]resolver.Candidate, error) {
	setID = strings.TrimSpace(setID)
	if setID == "" {
		return nil, fmt.Errorf("no containing set to list: %w", model.ErrNotFound)
	}
	if cands, ok := c.listings.Get(setID); ok {
		return cands, nil
	}

	page, err := c.fetcher.Get(ctx, c.ListingURL(setID))
	if err != nil {
		return nil, err
	}
	cands, err := ExtractCandidates(page, c.layout)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("set_id", setID).Int("candidates", len(cands)).Msg("[MarketClient] Listing extracted")
	if len(cands) > 0 {
		c.listings.Add(setID, cands)
	}
	return cands, nil
}

// ResolveID picks the secondary ID for name among the set's listing rows.
func (c *Client) ResolveID(ctx context.Context, name, setID string) (string, error) {
	cands, err := c.Candidates(ctx, setID)
	if err != nil {
		return "", err
	}
	return resolver.Resolve(name, cands)
}

// FetchPrice downloads and parses the price guide for secondaryID.
// Any fetch or parse failure wraps model.ErrUnavailable; a cancelled ctx
// is returned unchanged.
func (c *Client) FetchPrice(ctx context.Context, kind model.Kind, secondaryID string) (*PriceSummary, error) {
	secondaryID = strings.TrimSpace(secondaryID)
	if secondaryID == "" {
		return nil, fmt.Errorf("empty secondary id: %w", model.ErrUnavailable)
	}
	page, err := c.fetcher.Get(ctx, c.PriceGuideURL(kind, secondaryID))
	if err != nil {
		return nil, err
	}
	summary, err := ParsePriceGuide(page, c.currency)
	if err != nil {
		return nil, fmt.Errorf("price guide %s: %w", secondaryID, err)
	}
	summary.SecondaryID = secondaryID
	return summary, nil
}

// PurgeListings drops every cached listing.
func (c *Client) PurgeListings() {
	c.listings.Purge()
}
