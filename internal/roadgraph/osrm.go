package roadgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/metrics"
	"backend-shaperun/internal/shared/collab"
	"backend-shaperun/internal/shared/geo"
)

// OSRM talks to an OSRM HTTP server's nearest and route services.
type OSRM struct {
	baseURL string
	profile string
	client  *collab.Client
}

func NewOSRM(baseURL, profile string, client *collab.Client) *OSRM {
	return &OSRM{baseURL: strings.TrimRight(baseURL, "/"), profile: profile, client: client}
}

type osrmNearestResponse struct {
	Code      string `json:"code"`
	Waypoints []struct {
		Location [2]float64 `json:"location"`
		Distance float64    `json:"distance"`
	} `json:"waypoints"`
}

type osrmRouteResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Geometry struct {
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func (o *OSRM) Nearest(ctx context.Context, p geo.LatLng, radiusM float64, n int) ([]geo.LatLng, error) {
	url := fmt.Sprintf("%s/nearest/v1/%s/%.6f,%.6f?number=%d", o.baseURL, o.profile, p.Lng, p.Lat, n)
	var resp osrmNearestResponse
	if err := o.client.GetJSON(ctx, metrics.OpNearest, url, &resp); err != nil {
		if rejectedCode(err) == "NoSegment" {
			return nil, nil
		}
		return nil, err
	}
	if resp.Code != "Ok" {
		return nil, nil
	}
	var out []geo.LatLng
	for _, wp := range resp.Waypoints {
		if wp.Distance > radiusM {
			continue
		}
		out = append(out, geo.LatLng{Lat: wp.Location[1], Lng: wp.Location[0]})
	}
	return out, nil
}

func (o *OSRM) ShortestPath(ctx context.Context, from, to geo.LatLng) (Path, error) {
	url := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.baseURL, o.profile, from.Lng, from.Lat, to.Lng, to.Lat)
	var resp osrmRouteResponse
	if err := o.client.GetJSON(ctx, metrics.OpShortestPath, url, &resp); err != nil {
		if code := rejectedCode(err); code == "NoRoute" || code == "NoSegment" {
			return Path{}, apperr.Wrap(apperr.UnroutableArea, err, "no street path between waypoints")
		}
		return Path{}, err
	}
	if resp.Code != "Ok" || len(resp.Routes) == 0 {
		return Path{}, apperr.Newf(apperr.UnroutableArea, "no street path between waypoints (%s)", resp.Code)
	}
	r := resp.Routes[0]
	pts := make([]geo.LatLng, 0, len(r.Geometry.Coordinates))
	for _, c := range r.Geometry.Coordinates {
		pts = append(pts, geo.LatLng{Lat: c[1], Lng: c[0]})
	}
	return Path{Points: pts, DistanceM: r.Distance}, nil
}

// rejectedCode extracts OSRM's error code from a 400 response.
func rejectedCode(err error) string {
	var status *collab.ErrStatus
	if !errors.As(err, &status) || status.Code != http.StatusBadRequest {
		return ""
	}
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal([]byte(status.Body), &body)
	return body.Code
}
