package service

import (
	"context"
	"errors"
	"time"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/cache"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/database"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/spatial"
)

const (
	DefaultNearbyRadius = 5000.0
	MaxNearbyRadius     = 100000.0
	DefaultAlertLimit   = 100
	MaxAlertLimit       = 1000
	statsPageSize       = 5000
)

// QueryService answers the read-only API from the zone index and the
// persisted timeline.
type QueryService struct {
	index   *spatial.Index
	alerts  database.AlertRepository
	samples database.SampleRepository
	owners  cache.OwnershipResolver
	timeout time.Duration
	now     func() time.Time
}

func NewQueryService(index *spatial.Index, alerts database.AlertRepository, samples database.SampleRepository, owners cache.OwnershipResolver, timeout time.Duration) *QueryService {
	return &QueryService{
		index:   index,
		alerts:  alerts,
		samples: samples,
		owners:  owners,
		timeout: timeout,
		now:     time.Now,
	}
}

// Heatmap lists every zone live now.
func (s *QueryService) Heatmap() []domain.HazardZone {
	return s.index.Live(s.now())
}

func (s *QueryService) Nearby(p domain.GeoPoint, radius float64) ([]domain.ZoneWithDistance, error) {
	if !p.Valid() {
		return nil, domain.NewError(domain.KindBadMessage, "lat/lng: out of range")
	}
	if radius == 0 {
		radius = DefaultNearbyRadius
	}
	if radius < 0 || radius > MaxNearbyRadius {
		return nil, domain.NewError(domain.KindBadMessage, "radius: must be within (0,100000]")
	}
	hits := s.index.Query(p, radius, s.now())
	out := make([]domain.ZoneWithDistance, 0, len(hits))
	for _, h := range hits {
		out = append(out, domain.ZoneWithDistance{HazardZone: h.Zone, DistanceMeters: h.DistanceMeters})
	}
	return out, nil
}

// ActiveAlerts is scoped to the caller's company; admins see every company.
func (s *QueryService) ActiveAlerts(ctx context.Context, caller domain.CallerIdentity) ([]domain.AlertEvent, error) {
	if caller.Anonymous() {
		return nil, domain.NewError(domain.KindUnauthorized, "authentication required")
	}
	scope := caller.CompanyID
	if caller.IsAdmin() {
		scope = ""
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	alerts, err := s.alerts.ListActive(ctx, scope)
	if err != nil {
		return nil, storeError("alerts", err)
	}
	return alerts, nil
}

func (s *QueryService) VehicleAlerts(ctx context.Context, caller domain.CallerIdentity, q domain.HistoryQuery) ([]domain.AlertEvent, error) {
	if err := s.authorizeVehicle(ctx, caller, q.VehicleID); err != nil {
		return nil, err
	}
	if !q.Until.IsZero() && q.Until.Before(q.Since) {
		return nil, domain.NewError(domain.KindBadMessage, "until: must not precede since")
	}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultAlertLimit
	case q.Limit > MaxAlertLimit:
		q.Limit = MaxAlertLimit
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	alerts, err := s.alerts.ListByVehicle(ctx, &q)
	if err != nil {
		return nil, storeError("alerts", err)
	}
	return alerts, nil
}

// VehicleStats aggregates alert counts and the distance travelled, summing
// haversine legs between consecutive persisted samples.
func (s *QueryService) VehicleStats(ctx context.Context, caller domain.CallerIdentity, vehicleID string) (*domain.VehicleStats, error) {
	if err := s.authorizeVehicle(ctx, caller, vehicleID); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	bySeverity, byZone, err := s.alerts.Counts(ctx, vehicleID)
	if err != nil {
		return nil, storeError("alerts", err)
	}
	stats := &domain.VehicleStats{
		VehicleID:  vehicleID,
		BySeverity: bySeverity,
		ByZone:     byZone,
	}

	q := domain.HistoryQuery{VehicleID: vehicleID, Limit: statsPageSize}
	var prev *domain.LocationSample
	for {
		page, err := s.samples.History(ctx, &q)
		if err != nil {
			return nil, storeError("samples", err)
		}
		for i := range page {
			cur := &page[i]
			if prev != nil {
				stats.TotalDistanceMeters += spatial.Haversine(prev.Point(), cur.Point())
			}
			prev = cur
		}
		stats.SampleCount += len(page)
		if len(page) < statsPageSize {
			break
		}
		q.Since = prev.Timestamp.Add(time.Microsecond)
	}
	return stats, nil
}

func (s *QueryService) authorizeVehicle(ctx context.Context, caller domain.CallerIdentity, vehicleID string) error {
	if caller.Anonymous() {
		return domain.NewError(domain.KindUnauthorized, "authentication required")
	}
	if vehicleID == "" {
		return domain.NewError(domain.KindBadMessage, "vehicle id: required")
	}
	if caller.IsAdmin() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	companyID, err := s.owners.VehicleCompany(ctx, vehicleID)
	if errors.Is(err, cache.ErrNotFound) {
		return domain.NewError(domain.KindNotFound, "vehicle: not found")
	}
	if err != nil {
		return domain.Wrap(domain.KindTransient, "resolve vehicle owner", err)
	}
	if companyID != caller.CompanyID {
		return domain.NewError(domain.KindForbidden, "vehicle belongs to another company")
	}
	return nil
}
