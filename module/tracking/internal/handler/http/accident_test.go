package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/auth"
)

type mockQueryService struct {
	heatmapFn       func() []domain.HazardZone
	nearbyFn        func(p domain.GeoPoint, radius float64) ([]domain.ZoneWithDistance, error)
	activeAlertsFn  func(ctx context.Context, caller domain.CallerIdentity) ([]domain.AlertEvent, error)
	vehicleAlertsFn func(ctx context.Context, caller domain.CallerIdentity, q domain.HistoryQuery) ([]domain.AlertEvent, error)
	vehicleStatsFn  func(ctx context.Context, caller domain.CallerIdentity, vehicleID string) (*domain.VehicleStats, error)
}

func (m *mockQueryService) Heatmap() []domain.HazardZone { return m.heatmapFn() }
func (m *mockQueryService) Nearby(p domain.GeoPoint, radius float64) ([]domain.ZoneWithDistance, error) {
	return m.nearbyFn(p, radius)
}
func (m *mockQueryService) ActiveAlerts(ctx context.Context, caller domain.CallerIdentity) ([]domain.AlertEvent, error) {
	return m.activeAlertsFn(ctx, caller)
}
func (m *mockQueryService) VehicleAlerts(ctx context.Context, caller domain.CallerIdentity, q domain.HistoryQuery) ([]domain.AlertEvent, error) {
	return m.vehicleAlertsFn(ctx, caller, q)
}
func (m *mockQueryService) VehicleStats(ctx context.Context, caller domain.CallerIdentity, vehicleID string) (*domain.VehicleStats, error) {
	return m.vehicleStatsFn(ctx, caller, vehicleID)
}

type mockZoneService struct {
	createFn func(ctx context.Context, caller domain.CallerIdentity, z *domain.HazardZone) (*domain.HazardZone, error)
	updateFn func(ctx context.Context, caller domain.CallerIdentity, id string, patch *domain.ZonePatch) (*domain.HazardZone, error)
	deleteFn func(ctx context.Context, caller domain.CallerIdentity, id string) error
	getFn    func(ctx context.Context, id string) (*domain.HazardZone, error)
	listFn   func(ctx context.Context, filter domain.ZoneFilter) ([]domain.HazardZone, error)
}

func (m *mockZoneService) Create(ctx context.Context, caller domain.CallerIdentity, z *domain.HazardZone) (*domain.HazardZone, error) {
	return m.createFn(ctx, caller, z)
}
func (m *mockZoneService) Update(ctx context.Context, caller domain.CallerIdentity, id string, patch *domain.ZonePatch) (*domain.HazardZone, error) {
	return m.updateFn(ctx, caller, id, patch)
}
func (m *mockZoneService) Delete(ctx context.Context, caller domain.CallerIdentity, id string) error {
	return m.deleteFn(ctx, caller, id)
}
func (m *mockZoneService) Get(ctx context.Context, id string) (*domain.HazardZone, error) {
	return m.getFn(ctx, id)
}
func (m *mockZoneService) List(ctx context.Context, filter domain.ZoneFilter) ([]domain.HazardZone, error) {
	return m.listFn(ctx, filter)
}

var (
	testAuth   = auth.NewAuthenticator("test-secret", nil, time.Second)
	dispatcher = domain.CallerIdentity{UserID: "u1", CompanyID: "co1", Role: domain.RoleDispatcher}
)

func setupRouter(q queryService, z zoneService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1", auth.Middleware(testAuth, RespondError))
	NewAccidentHandler(q, z).Register(api)
	return r
}

func bearer(t *testing.T, caller domain.CallerIdentity) string {
	t.Helper()
	token, err := testAuth.Issue(caller, "jti", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + token
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *errorBody      `json:"error"`
}

func do(t *testing.T, r *gin.Engine, method, path, authz, body string) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env testEnvelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("unmarshal: %v (%s)", err, w.Body.String())
		}
	}
	return w, env
}

func TestHeatmap_Anonymous(t *testing.T) {
	q := &mockQueryService{heatmapFn: func() []domain.HazardZone {
		return []domain.HazardZone{{ID: "Z", Name: "Crash", Category: domain.CategoryAccident, Radius: 500, Severity: domain.SeverityHigh, Active: true}}
	}}
	w, env := do(t, setupRouter(q, nil), "GET", "/api/v1/accidents/heatmap", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var zones []domain.HazardZone
	if err := json.Unmarshal(env.Data, &zones); err != nil {
		t.Fatal(err)
	}
	if len(zones) != 1 || zones[0].Severity != domain.SeverityHigh {
		t.Fatalf("unexpected zones %+v", zones)
	}
}

func TestNearbyZones(t *testing.T) {
	q := &mockQueryService{nearbyFn: func(p domain.GeoPoint, radius float64) ([]domain.ZoneWithDistance, error) {
		if p.Lat != 18.52 || p.Lon != 73.85 || radius != 2000 {
			t.Fatalf("unexpected query %v %v", p, radius)
		}
		return []domain.ZoneWithDistance{{HazardZone: domain.HazardZone{ID: "Z"}, DistanceMeters: -120}}, nil
	}}
	w, env := do(t, setupRouter(q, nil), "GET", "/api/v1/accidents/nearby-zones?lat=18.52&lng=73.85&radius=2000", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp nearbyResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Zones) != 1 || resp.Zones[0].DistanceMeters != -120 {
		t.Fatalf("unexpected zones %+v", resp.Zones)
	}
}

func TestNearbyZones_BadParams(t *testing.T) {
	r := setupRouter(&mockQueryService{}, nil)
	tests := []struct {
		name string
		path string
	}{
		{"missing lat", "/api/v1/accidents/nearby-zones?lng=73.85"},
		{"bad lng", "/api/v1/accidents/nearby-zones?lat=18.5&lng=east"},
		{"bad radius", "/api/v1/accidents/nearby-zones?lat=18.5&lng=73.85&radius=far"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, r, "GET", tt.path, "", "")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if env.Success || env.Error == nil || env.Error.Code != "BAD_MESSAGE" {
				t.Fatalf("unexpected envelope %+v", env)
			}
		})
	}
}

func TestActiveAlerts_PassesCaller(t *testing.T) {
	q := &mockQueryService{activeAlertsFn: func(_ context.Context, caller domain.CallerIdentity) ([]domain.AlertEvent, error) {
		if caller != dispatcher {
			t.Fatalf("unexpected caller %+v", caller)
		}
		return []domain.AlertEvent{{ID: "a1", Status: domain.AlertActive}, {ID: "a2", Status: domain.AlertActive}}, nil
	}}
	w, env := do(t, setupRouter(q, nil), "GET", "/api/v1/accidents/active", bearer(t, dispatcher), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp activeResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 || len(resp.Alerts) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestInvalidToken_Unauthorized(t *testing.T) {
	w, env := do(t, setupRouter(&mockQueryService{}, nil), "GET", "/api/v1/accidents/active", "Bearer junk", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestVehicleAlerts_Query(t *testing.T) {
	q := &mockQueryService{vehicleAlertsFn: func(_ context.Context, _ domain.CallerIdentity, hq domain.HistoryQuery) ([]domain.AlertEvent, error) {
		if hq.VehicleID != "T1" || hq.Limit != 5 {
			t.Fatalf("unexpected query %+v", hq)
		}
		if !hq.Since.Equal(time.Unix(1715003456, 0)) {
			t.Fatalf("unexpected since %v", hq.Since)
		}
		if !hq.Until.Equal(time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected until %v", hq.Until)
		}
		return []domain.AlertEvent{{ID: "a1"}}, nil
	}}
	w, _ := do(t, setupRouter(q, nil), "GET",
		"/api/v1/accidents/vehicle/T1/alerts?since=1715003456&until=2024-05-07T00:00:00Z&limit=5", bearer(t, dispatcher), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestVehicleStats_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"forbidden", domain.NewError(domain.KindForbidden, "vehicle belongs to another company"), http.StatusForbidden, "FORBIDDEN"},
		{"not found", domain.NewError(domain.KindNotFound, "vehicle: not found"), http.StatusNotFound, "NOT_FOUND"},
		{"transient", domain.NewError(domain.KindTransient, "alerts: store unavailable"), http.StatusServiceUnavailable, "TRANSIENT"},
		{"unknown", context.Canceled, http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQueryService{vehicleStatsFn: func(context.Context, domain.CallerIdentity, string) (*domain.VehicleStats, error) {
				return nil, tt.err
			}}
			w, env := do(t, setupRouter(q, nil), "GET", "/api/v1/accidents/vehicle/T1/stats", bearer(t, dispatcher), "")
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
			if env.Success || env.Error.Code != tt.code {
				t.Fatalf("unexpected envelope %+v", env)
			}
		})
	}
}

func TestVehicleStats_Success(t *testing.T) {
	q := &mockQueryService{vehicleStatsFn: func(_ context.Context, _ domain.CallerIdentity, id string) (*domain.VehicleStats, error) {
		return &domain.VehicleStats{VehicleID: id, BySeverity: map[string]int{"high": 2}, ByZone: map[string]int{"Z": 2}, TotalDistanceMeters: 1234.5, SampleCount: 10}, nil
	}}
	w, env := do(t, setupRouter(q, nil), "GET", "/api/v1/accidents/vehicle/T1/stats", bearer(t, dispatcher), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats domain.VehicleStats
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalDistanceMeters != 1234.5 || stats.BySeverity["high"] != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCreateZone(t *testing.T) {
	z := &mockZoneService{createFn: func(_ context.Context, caller domain.CallerIdentity, zone *domain.HazardZone) (*domain.HazardZone, error) {
		if caller != dispatcher {
			t.Fatalf("unexpected caller %+v", caller)
		}
		if !zone.Active || zone.Severity != domain.SeverityMedium || zone.Radius != 500 {
			t.Fatalf("unexpected zone %+v", zone)
		}
		zone.ID = "Z1"
		return zone, nil
	}}
	body := `{"name":"Crash","category":"accident","center":{"latitude":18.52,"longitude":73.85},"radius":500,"severity":"medium"}`
	w, env := do(t, setupRouter(nil, z), "POST", "/api/v1/accidents/zones", bearer(t, dispatcher), body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	var got domain.HazardZone
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "Z1" {
		t.Fatalf("expected Z1, got %s", got.ID)
	}
}

func TestCreateZone_MalformedBody(t *testing.T) {
	w, _ := do(t, setupRouter(nil, &mockZoneService{}), "POST", "/api/v1/accidents/zones", bearer(t, dispatcher), `{"name":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUpdateZone_Patch(t *testing.T) {
	z := &mockZoneService{updateFn: func(_ context.Context, _ domain.CallerIdentity, id string, patch *domain.ZonePatch) (*domain.HazardZone, error) {
		if id != "Z1" {
			t.Fatalf("unexpected id %s", id)
		}
		if patch.Active == nil || *patch.Active || patch.Name != nil {
			t.Fatalf("unexpected patch %+v", patch)
		}
		return &domain.HazardZone{ID: id, Active: false}, nil
	}}
	w, _ := do(t, setupRouter(nil, z), "PATCH", "/api/v1/accidents/zones/Z1", bearer(t, dispatcher), `{"active":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestDeleteZone(t *testing.T) {
	var deleted string
	z := &mockZoneService{deleteFn: func(_ context.Context, _ domain.CallerIdentity, id string) error {
		deleted = id
		return nil
	}}
	w, _ := do(t, setupRouter(nil, z), "DELETE", "/api/v1/accidents/zones/Z1", bearer(t, dispatcher), "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if deleted != "Z1" {
		t.Fatalf("expected Z1 deleted, got %q", deleted)
	}
}

func TestListZones_Filter(t *testing.T) {
	z := &mockZoneService{listFn: func(_ context.Context, f domain.ZoneFilter) ([]domain.HazardZone, error) {
		if f.Category != domain.CategoryAccident || f.Active == nil || !*f.Active {
			t.Fatalf("unexpected filter %+v", f)
		}
		if f.Bounds != nil {
			t.Fatalf("expected no bounding box, got %+v", f.Bounds)
		}
		return nil, nil
	}}
	w, _ := do(t, setupRouter(nil, z), "GET", "/api/v1/accidents/zones?category=accident&active=true", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestListZones_BoundingBox(t *testing.T) {
	var got *domain.Bounds
	z := &mockZoneService{listFn: func(_ context.Context, f domain.ZoneFilter) ([]domain.HazardZone, error) {
		got = f.Bounds
		return nil, nil
	}}
	r := setupRouter(nil, z)

	w, _ := do(t, r, "GET", "/api/v1/accidents/zones?minLat=18.4&minLng=73.7&maxLat=18.6&maxLng=73.9", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	want := domain.Bounds{MinLat: 18.4, MinLon: 73.7, MaxLat: 18.6, MaxLon: 73.9}
	if got == nil || *got != want {
		t.Fatalf("expected bounds %+v, got %+v", want, got)
	}

	tests := []struct {
		name  string
		query string
	}{
		{"partial", "minLat=18.4&minLng=73.7"},
		{"not a number", "minLat=x&minLng=73.7&maxLat=18.6&maxLng=73.9"},
		{"out of range", "minLat=-95&minLng=73.7&maxLat=18.6&maxLng=73.9"},
		{"inverted", "minLat=18.6&minLng=73.7&maxLat=18.4&maxLng=73.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, r, "GET", "/api/v1/accidents/zones?"+tt.query, "", "")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if env.Error == nil || env.Error.Code != "BAD_MESSAGE" {
				t.Fatalf("expected BAD_MESSAGE, got %+v", env.Error)
			}
		})
	}
}
