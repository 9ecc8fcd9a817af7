package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/auth"
)

type queryService interface {
	Heatmap() []domain.HazardZone
	Nearby(p domain.GeoPoint, radius float64) ([]domain.ZoneWithDistance, error)
	ActiveAlerts(ctx context.Context, caller domain.CallerIdentity) ([]domain.AlertEvent, error)
	VehicleAlerts(ctx context.Context, caller domain.CallerIdentity, q domain.HistoryQuery) ([]domain.AlertEvent, error)
	VehicleStats(ctx context.Context, caller domain.CallerIdentity, vehicleID string) (*domain.VehicleStats, error)
}

type zoneService interface {
	Create(ctx context.Context, caller domain.CallerIdentity, z *domain.HazardZone) (*domain.HazardZone, error)
	Update(ctx context.Context, caller domain.CallerIdentity, id string, patch *domain.ZonePatch) (*domain.HazardZone, error)
	Delete(ctx context.Context, caller domain.CallerIdentity, id string) error
	Get(ctx context.Context, id string) (*domain.HazardZone, error)
	List(ctx context.Context, filter domain.ZoneFilter) ([]domain.HazardZone, error)
}

type nearbyResponse struct {
	Zones []domain.ZoneWithDistance `json:"zones"`
}

type activeResponse struct {
	Count  int                 `json:"count"`
	Alerts []domain.AlertEvent `json:"alerts"`
}

type alertsResponse struct {
	Alerts []domain.AlertEvent `json:"alerts"`
}

type zonesResponse struct {
	Zones []domain.HazardZone `json:"zones"`
}

type createZoneRequest struct {
	Name       string            `json:"name"`
	Category   domain.Category   `json:"category"`
	Center     domain.GeoPoint   `json:"center"`
	Radius     float64           `json:"radius"`
	Polygon    []domain.GeoPoint `json:"polygon"`
	Severity   domain.Severity   `json:"severity"`
	Active     *bool             `json:"active"`
	ValidFrom  *time.Time        `json:"validFrom"`
	ValidUntil *time.Time        `json:"validUntil"`
	Metadata   map[string]string `json:"metadata"`
}

func (r *createZoneRequest) toZone() *domain.HazardZone {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &domain.HazardZone{
		Name:       r.Name,
		Category:   r.Category,
		Center:     r.Center,
		Radius:     r.Radius,
		Polygon:    r.Polygon,
		Severity:   r.Severity,
		Active:     active,
		ValidFrom:  r.ValidFrom,
		ValidUntil: r.ValidUntil,
		Metadata:   r.Metadata,
	}
}

type AccidentHandler struct {
	query queryService
	zones zoneService
}

func NewAccidentHandler(query queryService, zones zoneService) *AccidentHandler {
	return &AccidentHandler{query: query, zones: zones}
}

func (h *AccidentHandler) Register(r *gin.RouterGroup) {
	g := r.Group("/accidents")
	g.GET("/heatmap", h.Heatmap)
	g.GET("/nearby-zones", h.NearbyZones)
	g.GET("/active", h.ActiveAlerts)
	g.GET("/vehicle/:vehicle_id/alerts", h.VehicleAlerts)
	g.GET("/vehicle/:vehicle_id/stats", h.VehicleStats)
	g.GET("/zones", h.ListZones)
	g.POST("/zones", h.CreateZone)
	g.GET("/zones/:zone_id", h.GetZone)
	g.PATCH("/zones/:zone_id", h.UpdateZone)
	g.DELETE("/zones/:zone_id", h.DeleteZone)
}

func (h *AccidentHandler) Heatmap(c *gin.Context) {
	respond(c, http.StatusOK, h.query.Heatmap())
}

func (h *AccidentHandler) NearbyZones(c *gin.Context) {
	lat, err := requiredFloat(c, "lat")
	if err != nil {
		RespondError(c, err)
		return
	}
	lng, err := requiredFloat(c, "lng")
	if err != nil {
		RespondError(c, err)
		return
	}
	var radius float64
	if raw := c.Query("radius"); raw != "" {
		if radius, err = strconv.ParseFloat(raw, 64); err != nil {
			RespondError(c, domain.NewError(domain.KindBadMessage, "radius: must be a number"))
			return
		}
	}

	zones, err := h.query.Nearby(domain.GeoPoint{Lat: lat, Lon: lng}, radius)
	if err != nil {
		RespondError(c, err)
		return
	}
	respond(c, http.StatusOK, nearbyResponse{Zones: zones})
}

func (h *AccidentHandler) ActiveAlerts(c *gin.Context) {
	alerts, err := h.query.ActiveAlerts(c.Request.Context(), auth.CallerFrom(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	respond(c, http.StatusOK, activeResponse{Count: len(alerts), Alerts: alerts})
}

func (h *AccidentHandler) VehicleAlerts(c *gin.Context) {
	q := domain.HistoryQuery{VehicleID: c.Param("vehicle_id")}
	var err error
	if q.Since, err = optionalTime(c, "since"); err != nil {
		RespondError(c, err)
		return
	}
	if q.Until, err = optionalTime(c, "until"); err != nil {
		RespondError(c, err)
		return
	}
	if raw := c.Query("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil {
			RespondError(c, domain.NewError(domain.KindBadMessage, "limit: must be an integer"))
			return
		}
	}

	alerts, err := h.query.VehicleAlerts(c.Request.Context(), auth.CallerFrom(c), q)
	if err != nil {
		RespondError(c, err)
		return
	}
	respond(c, http.StatusOK, alertsResponse{Alerts: alerts})
}

func (h *AccidentHandler) VehicleStats(c *gin.Context) {
	stats, err := h.query.VehicleStats(c.Request.Context(), auth.CallerFrom(c), c.Param("vehicle_id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	respond(c, http.StatusOK, stats)
}

func (h *AccidentHandler) ListZones(c *gin.Context) {
	filter := domain.ZoneFilter{
		CompanyID: c.Query("companyId"),
		Category:  domain.Category(c.Query("category")),
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			RespondError(c, domain.NewError(domain.KindBadMessage, "active: must be a boolean"))
			return
		}
		filter.Active = &active
	}
	bounds, err := optionalBounds(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	filter.Bounds = bounds
	zones, err := h.zones.List(c.Request.Context(), filter)
	if err != nil {
		RespondError(c, err)
		return
	}
	respond(c, http.StatusOK, zonesResponse{Zones: zones})
}

func (h *AccidentHandler) GetZone(c *gin.Context) {
	z, err := h.zones.Get(c.Request.Context(), c.Param("zone_id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	respond(c, http.StatusOK, z)
}

func (h *AccidentHandler) CreateZone(c *gin.Context) {
	var req createZoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, domain.Wrap(domain.KindBadMessage, "invalid request body", err))
		return
	}
	z, err := h.zones.Create(c.Request.Context(), auth.CallerFrom(c), req.toZone())
	if err != nil {
		RespondError(c, err)
		return
	}
	respond(c, http.StatusCreated, z)
}

func (h *AccidentHandler) UpdateZone(c *gin.Context) {
	var patch domain.ZonePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		RespondError(c, domain.Wrap(domain.KindBadMessage, "invalid request body", err))
		return
	}
	z, err := h.zones.Update(c.Request.Context(), auth.CallerFrom(c), c.Param("zone_id"), &patch)
	if err != nil {
		RespondError(c, err)
		return
	}
	respond(c, http.StatusOK, z)
}

func (h *AccidentHandler) DeleteZone(c *gin.Context) {
	if err := h.zones.Delete(c.Request.Context(), auth.CallerFrom(c), c.Param("zone_id")); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func requiredFloat(c *gin.Context, key string) (float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, domain.NewError(domain.KindBadMessage, key+": required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, domain.NewError(domain.KindBadMessage, key+": must be a number")
	}
	return v, nil
}

var boundsKeys = [4]string{"minLat", "minLng", "maxLat", "maxLng"}

// optionalBounds reads a bounding box given as all four of minLat, minLng,
// maxLat and maxLng, or none of them.
func optionalBounds(c *gin.Context) (*domain.Bounds, error) {
	var v [4]float64
	given := 0
	for i, key := range boundsKeys {
		if c.Query(key) == "" {
			continue
		}
		f, err := requiredFloat(c, key)
		if err != nil {
			return nil, err
		}
		v[i] = f
		given++
	}
	if given == 0 {
		return nil, nil
	}
	if given != len(boundsKeys) {
		return nil, domain.NewError(domain.KindBadMessage, "bounding box needs minLat, minLng, maxLat and maxLng")
	}
	b := &domain.Bounds{MinLat: v[0], MinLon: v[1], MaxLat: v[2], MaxLon: v[3]}
	if !(domain.GeoPoint{Lat: b.MinLat, Lon: b.MinLon}).Valid() || !(domain.GeoPoint{Lat: b.MaxLat, Lon: b.MaxLon}).Valid() {
		return nil, domain.NewError(domain.KindBadMessage, "bounding box: coordinates out of range")
	}
	if b.MinLat > b.MaxLat || b.MinLon > b.MaxLon {
		return nil, domain.NewError(domain.KindBadMessage, "bounding box: min must not exceed max")
	}
	return b, nil
}

// optionalTime accepts RFC 3339 or unix seconds.
func optionalTime(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, domain.NewError(domain.KindBadMessage, key+": expected RFC 3339 or unix seconds")
	}
	return t, nil
}
