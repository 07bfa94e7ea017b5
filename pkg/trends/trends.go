package trends

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"
)

const defaultBaseURL = "https://serpapi.com"

// Category is a provider-assigned category pair.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// TrendingSearch is one trend record as returned by the provider.
type TrendingSearch struct {
	Query              string     `json:"query"`
	StartTimestamp     int64      `json:"start_timestamp"`
	Active             bool       `json:"active"`
	SearchVolume       int64      `json:"search_volume"`
	IncreasePercentage int64      `json:"increase_percentage"`
	Categories         []Category `json:"categories"`
	TrendBreakdown     []string   `json:"trend_breakdown"`
	TrendsLink         string     `json:"serpapi_google_trends_link"`
	NewsPageToken      string     `json:"news_page_token"`
	NewsLink           string     `json:"serpapi_news_link"`
}

// response is the provider's envelope.
type response struct {
	TrendingSearches []TrendingSearch `json:"trending_searches"`
	Error            string           `json:"error"`
}

// Provider fetches one batch of trending searches.
type Provider interface {
	Fetch(ctx context.Context) ([]TrendingSearch, error)
}

// Client calls the search-provider trending-now endpoint.
type Client struct {
	client  *http.Client
	baseURL string
	engine  string
	geo     string
	apiKey  string
}

// NewClient creates a provider client. baseURL overrides the production
// endpoint when non-empty (used in tests).
func NewClient(engine, geo, apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		engine:  engine,
		geo:     geo,
		apiKey:  apiKey,
	}
}

func (c *Client) Fetch(ctx context.Context) ([]TrendingSearch, error) {
	params := url.Values{}
	params.Set("engine", c.engine)
	params.Set("geo", c.geo)
	params.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create trends request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch trends: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trends provider status %d", resp.StatusCode)
	}

	var envelope response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode trends response: %w", err)
	}
	if envelope.Error != "" {
		return nil, fmt.Errorf("trends provider: %s", envelope.Error)
	}
	return envelope.TrendingSearches, nil
}

// FileProvider reads a saved provider response from disk, for offline
// runs against a captured batch.
type FileProvider struct {
	Path string
}

func (f *FileProvider) Fetch(ctx context.Context) ([]TrendingSearch, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read mock trends %s: %w", f.Path, err)
	}
	var envelope response
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parse mock trends %s: %w", f.Path, err)
	}
	return envelope.TrendingSearches, nil
}
