// Package primary is a client for the primary structured catalog: a keyed JSON
// API that is authoritative for item names, images and color variants.
package primary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"brickcache-api/internal/catalog"
	"brickcache-api/internal/model"
)

// Part is the catalog payload for a part.
type Part struct {
	PartNum    string `json:"part_num"`
	Name       string `json:"name"`
	PartImgURL string `json:"part_img_url"`
}

// Figure is the catalog payload for a collectible figure.
type Figure struct {
	SetNum    string `json:"set_num"`
	Name      string `json:"name"`
	SetImgURL string `json:"set_img_url"`
}

// PartColor is one entry of a part's color list.
type PartColor struct {
	ColorID    int    `json:"color_id"`
	ColorName  string `json:"color_name"`
	PartImgURL string `json:"part_img_url"`
}

type partColorsResponse struct {
	Count   int         `json:"count"`
	Next    *string     `json:"next"`
	Results []PartColor `json:"results"`
}

// Fetcher abstracts the metadata operations used by the catalog service.
type Fetcher interface {
	FetchMetadata(ctx context.Context, kind model.Kind, id string) (*model.MetadataRecord, error)
}

// Client provides access to the primary catalog API.
type Client struct {
	baseURL string
	fetcher *catalog.Fetcher
}

var _ Fetcher = (*Client)(nil)

// Option configures a Client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	timeout    time.Duration
	rps        int
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps int) Option {
	return func(o *options) { o.rps = rps }
}

// New creates a primary catalog client.
func New(apiKey, baseURL string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("primary catalog api key required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("primary catalog base url required")
	}
	o := options{timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetcher: catalog.NewFetcher(catalog.FetcherOptions{
			Name:              "primary",
			Timeout:           o.timeout,
			RequestsPerSecond: o.rps,
			Client:            o.httpClient,
			Headers: map[string]string{
				"Accept":        "application/json",
				"Authorization": "key " + apiKey,
			},
		}),
	}, nil
}

// GetPart fetches a part. A 404 becomes model.ErrInvalid.
func (c *Client) GetPart(ctx context.Context, partNum string) (*Part, error) {
	var p Part
	if err := c.getJSON(ctx, "/parts/"+url.PathEscape(partNum)+"/", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetFigure fetches a figure. A 404 becomes model.ErrInvalid.
func (c *Client) GetFigure(ctx context.Context, figNum string) (*Figure, error) {
	var f Figure
	if err := c.getJSON(ctx, "/minifigs/"+url.PathEscape(figNum)+"/", &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetPartColors fetches every color a part is produced in, following pagination.
func (c *Client) GetPartColors(ctx context.Context, partNum string) ([]PartColor, error) {
	var out []PartColor
	path := "/parts/" + url.PathEscape(partNum) + "/colors/?page_size=1000"
	for page := 0; path != "" && page < 20; page++ {
		var resp partColorsResponse
		if err := c.getJSON(ctx, path, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Results...)
		path = ""
		if resp.Next != nil && *resp.Next != "" {
			path = strings.TrimPrefix(*resp.Next, c.baseURL)
		}
	}
	return out, nil
}

// FetchMetadata builds a MetadataRecord for the given kind.
// Parts include their color list. A part without a color list keeps an empty
// one; any other color lookup failure fails the whole fetch as unavailable,
// so an incomplete record is never stored.
func (c *Client) FetchMetadata(ctx context.Context, kind model.Kind, id string) (*model.MetadataRecord, error) {
	switch kind {
	case model.KindPart:
		p, err := c.GetPart(ctx, id)
		if err != nil {
			return nil, err
		}
		rec := &model.MetadataRecord{
			PrimaryID:       id,
			Kind:            model.KindPart,
			Name:            p.Name,
			ImageURL:        model.StringPtr(p.PartImgURL),
			AvailableColors: []model.ColorEntry{},
			UpdatedAt:       time.Now().UTC(),
		}
		colors, err := c.GetPartColors(ctx, id)
		switch {
		case err == nil:
		case model.IsAborted(err):
			return nil, err
		case errors.Is(err, model.ErrInvalid):
			return rec, nil
		case errors.Is(err, model.ErrUnavailable):
			return nil, fmt.Errorf("part %s colors: %w", id, err)
		default:
			return nil, fmt.Errorf("part %s colors: %v: %w", id, err, model.ErrUnavailable)
		}
		entries := make([]model.ColorEntry, 0, len(colors))
		for _, pc := range colors {
			entries = append(entries, model.ColorEntry{
				ColorID:   strconv.Itoa(pc.ColorID),
				ColorName: pc.ColorName,
				ImageURL:  model.StringPtr(pc.PartImgURL),
			})
		}
		rec.MergeColors(entries)
		if rec.ImageURL == nil && len(rec.AvailableColors) > 0 {
			rec.ImageURL = rec.AvailableColors[0].ImageURL
		}
		return rec, nil
	case model.KindFigure:
		f, err := c.GetFigure(ctx, id)
		if err != nil {
			return nil, err
		}
		return &model.MetadataRecord{
			PrimaryID:       id,
			Kind:            model.KindFigure,
			Name:            f.Name,
			ImageURL:        model.StringPtr(f.SetImgURL),
			AvailableColors: []model.ColorEntry{},
			UpdatedAt:       time.Now().UTC(),
		}, nil
	default:
		return nil, fmt.Errorf("primary catalog: unsupported kind %q", kind)
	}
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	body, err := c.fetcher.Get(ctx, c.baseURL+path)
	if err != nil {
		if catalog.IsStatus(err, http.StatusNotFound) {
			return fmt.Errorf("primary catalog %s: %w", path, model.ErrInvalid)
		}
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %v: %w", path, err, model.ErrUnavailable)
	}
	return nil
}
