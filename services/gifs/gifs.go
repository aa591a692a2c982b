// Package gifs proxies GIF search against the Giphy API.
package gifs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tokenrooms/backend/internal/logging"
)

const (
	defaultAPIURL = "https://api.giphy.com/v1/gifs"
	defaultLimit  = 8
)

// GIF is a single search result.
type GIF struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Preview string `json:"preview_url"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// Client talks to the Giphy REST API.
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

// Config configures a Client.
type Config struct {
	APIURL     string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewClient creates a Giphy client.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("giphy API key required")
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		apiURL:     apiURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Search returns GIFs matching query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]GIF, error) {
	if query == "" {
		return nil, fmt.Errorf("search query required")
	}
	q := url.Values{}
	q.Set("q", query)
	return c.fetch(ctx, "search", q, limit)
}

// Trending returns currently trending GIFs.
func (c *Client) Trending(ctx context.Context, limit int) ([]GIF, error) {
	return c.fetch(ctx, "trending", url.Values{}, limit)
}

func (c *Client) fetch(ctx context.Context, endpoint string, q url.Values, limit int) ([]GIF, error) {
	if limit <= 0 || limit > 25 {
		limit = defaultLimit
	}
	q.Set("api_key", c.apiKey)
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("rating", "pg-13")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s?%s", c.apiURL, endpoint, q.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("build giphy request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call giphy %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read giphy response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("giphy %s returned status %d", endpoint, resp.StatusCode)
	}

	var gifs []GIF
	gjson.GetBytes(body, "data").ForEach(func(_, item gjson.Result) bool {
		fixed := item.Get("images.fixed_height")
		gifs = append(gifs, GIF{
			ID:      item.Get("id").String(),
			Title:   item.Get("title").String(),
			URL:     item.Get("images.original.url").String(),
			Preview: fixed.Get("url").String(),
			Width:   int(fixed.Get("width").Int()),
			Height:  int(fixed.Get("height").Int()),
		})
		return true
	})
	return gifs, nil
}
