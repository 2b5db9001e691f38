package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SearchProvider answers web search queries for the google_search tool.
type SearchProvider interface {
	Search(ctx context.Context, query string) (string, error)
}

// GoogleCustomSearch queries the Google Programmable Search JSON API.
type GoogleCustomSearch struct {
	APIKey   string
	EngineID string
	Client   *http.Client
	Endpoint string
}

// NewGoogleCustomSearch builds a provider from credentials. Both values
// must be set for searches to run.
func NewGoogleCustomSearch(apiKey, engineID string) *GoogleCustomSearch {
	return &GoogleCustomSearch{
		APIKey:   apiKey,
		EngineID: engineID,
		Client:   &http.Client{Timeout: 15 * time.Second},
		Endpoint: "https://customsearch.googleapis.com/customsearch/v1",
	}
}

type searchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

func (g *GoogleCustomSearch) Search(ctx context.Context, query string) (string, error) {
	if g.APIKey == "" || g.EngineID == "" {
		return "", fmt.Errorf("web search is not configured: set GOOGLE_API_KEY and GOOGLE_CSE_ID")
	}

	params := url.Values{}
	params.Set("key", g.APIKey)
	params.Set("cx", g.EngineID)
	params.Set("q", query)
	params.Set("num", "8")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("search response unreadable: %w", err)
	}
	if len(parsed.Items) == 0 {
		return "No results found.", nil
	}

	var sb strings.Builder
	for i, item := range parsed.Items {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, item.Title, item.Link, item.Snippet)
	}
	return sb.String(), nil
}
