package places

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"backend-shaperun/internal/metrics"
	"backend-shaperun/internal/shared/collab"
	"backend-shaperun/internal/shared/geo"
)

const elevationBatch = 100

// ElevationClient queries an Open-Elevation compatible lookup API.
type ElevationClient struct {
	baseURL string
	client  *collab.Client
}

func NewElevationClient(baseURL string, client *collab.Client) *ElevationClient {
	return &ElevationClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type elevationResponse struct {
	Results []struct {
		Elevation float64 `json:"elevation"`
	} `json:"results"`
}

func (e *ElevationClient) Elevations(ctx context.Context, pts []geo.LatLng) ([]float64, error) {
	out := make([]float64, 0, len(pts))
	for start := 0; start < len(pts); start += elevationBatch {
		end := min(start+elevationBatch, len(pts))
		locs := make([]string, 0, end-start)
		for _, p := range pts[start:end] {
			locs = append(locs, fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng))
		}
		u := e.baseURL + "/api/v1/lookup?locations=" + url.QueryEscape(strings.Join(locs, "|"))

		var resp elevationResponse
		if err := e.client.GetJSON(ctx, metrics.OpElevation, u, &resp); err != nil {
			return nil, err
		}
		if len(resp.Results) != end-start {
			return nil, fmt.Errorf("elevation service returned %d results for %d points", len(resp.Results), end-start)
		}
		for _, r := range resp.Results {
			out = append(out, r.Elevation)
		}
	}
	return out, nil
}
