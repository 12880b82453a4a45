package places

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/shared/collab"
	"backend-shaperun/internal/shared/geo"

	"github.com/gofiber/fiber/v2"
	"github.com/pashagolub/pgxmock/v3"
)

var box = geo.BBox{MinLat: 37.5, MinLng: 126.9, MaxLat: 37.6, MaxLng: 127.0}

func TestAddFeature(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	svc := NewService(mock, nil)

	mock.ExpectQuery(`INSERT INTO street_lamps`).
		WithArgs(126.97, 37.56).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	f, err := svc.AddFeature(context.Background(), Feature{Kind: KindLamp, Lat: 37.56, Lng: 126.97})
	if err != nil || f.ID != 7 {
		t.Fatalf("add lamp: %v", err)
	}

	mock.ExpectQuery(`INSERT INTO hazards`).
		WithArgs("construction", 126.97, 37.56).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(8)))
	if _, err := svc.AddFeature(context.Background(), Feature{Kind: KindHazard, Label: "construction", Lat: 37.56, Lng: 126.97}); err != nil {
		t.Fatalf("add hazard: %v", err)
	}

	if _, err := svc.AddFeature(context.Background(), Feature{Kind: "bench"}); apperr.CodeOf(err) != apperr.InvalidRequest {
		t.Fatalf("expected invalid kind")
	}
	if _, err := svc.AddFeature(context.Background(), Feature{Kind: KindLamp, Lat: 100}); apperr.CodeOf(err) != apperr.InvalidRequest {
		t.Fatalf("expected invalid coordinates")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPointsAndSidewalks(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	svc := NewService(mock, nil)

	mock.ExpectQuery(`FROM cctv_cameras`).
		WithArgs(box.MinLng, box.MinLat, box.MaxLng, box.MaxLat).
		WillReturnRows(pgxmock.NewRows([]string{"lat", "lng"}).AddRow(37.55, 126.95).AddRow(37.56, 126.96))
	pts, err := svc.Points(context.Background(), KindCCTV, box)
	if err != nil || len(pts) != 2 {
		t.Fatalf("points: %v %d", err, len(pts))
	}

	mock.ExpectQuery(`FROM sidewalks`).
		WithArgs(box.MinLng, box.MinLat, box.MaxLng, box.MaxLat).
		WillReturnRows(pgxmock.NewRows([]string{"geojson"}).
			AddRow(`{"type":"LineString","coordinates":[[126.95,37.55],[126.96,37.55]]}`))
	lines, err := svc.Sidewalks(context.Background(), box)
	if err != nil || len(lines) != 1 || lines[0][1].Lng != 126.96 {
		t.Fatalf("sidewalks: %v %+v", err, lines)
	}

	elev, err := svc.Elevations(context.Background(), pts)
	if err != nil || elev != nil {
		t.Fatalf("expected no elevation without a source")
	}
}

func TestDeleteFeatureNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM street_lamps`).
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	if err := NewService(mock, nil).DeleteFeature(context.Background(), KindLamp, 3); apperr.CodeOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestAddSidewalk(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO sidewalks`).
		WithArgs(`{"type":"LineString","coordinates":[[126.95,37.55],[126.96,37.55]]}`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))

	svc := NewService(mock, nil)
	sw, err := svc.AddSidewalk(context.Background(), []geo.LatLng{{Lat: 37.55, Lng: 126.95}, {Lat: 37.55, Lng: 126.96}})
	if err != nil || sw.ID != 1 {
		t.Fatalf("add sidewalk: %v", err)
	}
	if _, err := svc.AddSidewalk(context.Background(), nil); err == nil {
		t.Fatalf("expected error for short path")
	}
}

func TestElevationClientBatches(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		locs := strings.Split(r.URL.Query().Get("locations"), "|")
		var resp elevationResponse
		for range locs {
			resp.Results = append(resp.Results, struct {
				Elevation float64 `json:"elevation"`
			}{Elevation: 42})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewElevationClient(srv.URL, collab.NewClient("elevation", time.Second, 0, nil))
	pts := make([]geo.LatLng, 150)
	for i := range pts {
		pts[i] = geo.LatLng{Lat: 37.5 + float64(i)*1e-4, Lng: 127}
	}
	out, err := NewService(nil, client).Elevations(context.Background(), pts)
	if err != nil {
		t.Fatalf("elevations: %v", err)
	}
	if len(out) != 150 || out[149] != 42 || requests != 2 {
		t.Fatalf("unexpected batching: %d results over %d requests", len(out), requests)
	}
}

func TestPlacesHandlers(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO cctv_cameras`).
		WithArgs(126.97, 37.56).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectQuery(`FROM street_lamps`).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"lat", "lng"}).AddRow(37.5665, 126.9781))
	mock.ExpectQuery(`FROM cctv_cameras`).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"lat", "lng"}))
	mock.ExpectQuery(`FROM hazards`).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"lat", "lng"}))
	mock.ExpectQuery(`FROM sidewalks`).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"geojson"}))

	app := fiber.New(fiber.Config{ErrorHandler: apperr.FiberHandler})
	RegisterRoutes(app.Group("/places"), NewService(mock, nil), func(c *fiber.Ctx) error { return c.Next() })

	body, _ := json.Marshal(Feature{Kind: KindCCTV, Lat: 37.56, Lng: 126.97})
	req := httptest.NewRequest(http.MethodPost, "/places/features", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("add feature status: %v", err)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/places/nearby?lat=37.5665&lng=126.9780&radius=200", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("nearby status: %v", err)
	}
	var nearby Nearby
	if err := json.NewDecoder(resp.Body).Decode(&nearby); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(nearby.Lamps) != 1 || len(nearby.CCTV) != 0 {
		t.Fatalf("unexpected nearby: %+v", nearby)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/places/nearby?lat=abc", nil))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request")
	}
}
