// Package api provides the HTTP client the TUI uses to talk to the
// loginwatch backend.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"loginwatch/internal/event"
)

// Client handles API communication with the loginwatch backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// GraphData is the graph-data endpoint payload.
type GraphData struct {
	DataPoints       []event.GraphDataPoint `json:"dataPoints"`
	Period           event.TimePeriod       `json:"period"`
	AggregationLevel string                 `json:"aggregationLevel"`
	TotalEvents      int                    `json:"totalEvents"`
	DateRange        struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"dateRange"`
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status string `json:"status"`
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetHealth fetches health status.
func (c *Client) GetHealth() (*HealthResponse, error) {
	var health HealthResponse
	if err := c.getJSON("/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// GetStatistics fetches the standard reporting-period counts.
func (c *Client) GetStatistics() (*event.Statistics, error) {
	var stats event.Statistics
	if err := c.getJSON("/api/statistics", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetGraphData fetches bucketed counts for the given period.
func (c *Client) GetGraphData(period event.TimePeriod) (*GraphData, error) {
	var data GraphData
	path := "/api/graph-data?period=" + url.QueryEscape(string(period))
	if err := c.getJSON(path, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (c *Client) getJSON(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned %s for %s", resp.Status, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
