// internal/route/client.go
package route

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/campustrack/tracker/internal/config"
	"github.com/campustrack/tracker/internal/geo"
	"github.com/campustrack/tracker/pkg/core"
)

// Client queries the external directions service for traffic-aware routes.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a directions API client.
func NewClient(cfg config.DirectionsConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.ServerURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// directionsResponse mirrors the directions API JSON shape. Only the
// fields the estimator needs are decoded.
type directionsResponse struct {
	Status string `json:"status"`
	Routes []struct {
		OverviewPolyline struct {
			Points string `json:"points"`
		} `json:"overview_polyline"`
		Legs []struct {
			Distance struct {
				Text string `json:"text"`
			} `json:"distance"`
			Duration struct {
				Text string `json:"text"`
			} `json:"duration"`
			DurationInTraffic struct {
				Text string `json:"text"`
			} `json:"duration_in_traffic"`
		} `json:"legs"`
	} `json:"routes"`
}

// Directions requests a driving route with live traffic from origin to
// destination and returns the decoded estimate.
func (c *Client) Directions(ctx context.Context, from, to core.Position) (core.RouteEstimate, error) {
	q := url.Values{}
	q.Set("origin", fmt.Sprintf("%f,%f", from.Lat, from.Lon))
	q.Set("destination", fmt.Sprintf("%f,%f", to.Lat, to.Lon))
	q.Set("mode", "driving")
	q.Set("departure_time", "now")
	q.Set("traffic_model", "best_guess")
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return core.RouteEstimate{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.RouteEstimate{}, fmt.Errorf("directions request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.RouteEstimate{}, fmt.Errorf("directions returned status %d", resp.StatusCode)
	}

	var dr directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return core.RouteEstimate{}, fmt.Errorf("failed to decode directions response: %w", err)
	}

	if dr.Status != "OK" || len(dr.Routes) == 0 {
		return core.RouteEstimate{}, fmt.Errorf("directions status %q with %d routes", dr.Status, len(dr.Routes))
	}

	r := dr.Routes[0]
	points, err := geo.DecodePolyline(r.OverviewPolyline.Points)
	if err != nil {
		return core.RouteEstimate{}, fmt.Errorf("failed to decode polyline: %w", err)
	}

	est := core.RouteEstimate{Points: points}
	if len(r.Legs) > 0 {
		leg := r.Legs[0]
		est.DistanceLabel = leg.Distance.Text
		// Traffic-aware duration preferred when present.
		if leg.DurationInTraffic.Text != "" {
			est.DurationLabel = leg.DurationInTraffic.Text
		} else {
			est.DurationLabel = leg.Duration.Text
		}
	}
	return est, nil
}
