package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/scriptreel/api/internal/config"
	"github.com/scriptreel/api/internal/model"
)

// SourceClient talks to the source-discovery collaborator which aggregates
// news feeds and social transcripts into candidate items.
type SourceClient struct {
	httpClient *http.Client
	baseURL    string
}

// Candidate is one discoverable source item.
type Candidate struct {
	ID          string           `json:"id"`
	SourceType  model.SourceType `json:"sourceType"`
	Title       string           `json:"title"`
	Body        string           `json:"body"`
	URL         string           `json:"url,omitempty"`
	ImageURL    string           `json:"imageUrl,omitempty"`
	PublishedAt time.Time        `json:"publishedAt"`
}

// DiscoverQuery narrows candidate discovery.
type DiscoverQuery struct {
	SourceType model.SourceType
	Keywords   []string
	Exclude    []string
	MaxAge     time.Duration
	Limit      int
}

// NewSourceClient creates a new discovery client
func NewSourceClient(cfg *config.SourcesConfig) *SourceClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SourceClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.ServiceURL,
	}
}

// Discover lists candidate items matching the query.
func (c *SourceClient) Discover(ctx context.Context, q DiscoverQuery) ([]Candidate, error) {
	params := url.Values{}
	if q.SourceType != "" {
		params.Set("type", string(q.SourceType))
	}
	for _, kw := range q.Keywords {
		params.Add("keyword", kw)
	}
	for _, ex := range q.Exclude {
		params.Add("exclude", ex)
	}
	if q.MaxAge > 0 {
		params.Set("max_age_hours", strconv.Itoa(int(q.MaxAge.Hours())))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var out struct {
		Items []Candidate `json:"items"`
	}
	if err := c.getJSON(ctx, "/v1/candidates?"+params.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Fetch retrieves the full body of one candidate. Used as the one on-demand
// re-fetch attempt before discarding a too-short item.
func (c *SourceClient) Fetch(ctx context.Context, sourceType model.SourceType, id string) (*Candidate, error) {
	var out Candidate
	path := fmt.Sprintf("/v1/candidates/%s/%s", url.PathEscape(string(sourceType)), url.PathEscape(id))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SourceClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("source discovery error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *SourceClient) IsConfigured() bool {
	return c.baseURL != ""
}
