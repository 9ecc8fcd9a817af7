package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/cache"
)

var _ cache.LiveStateWriter = (*LiveState)(nil)

// LiveState mirrors the newest position of every vehicle into Redis: a hash
// per vehicle that expires when the vehicle goes quiet, and a geo set per
// company.
type LiveState struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLiveState(client *redis.Client, ttl time.Duration) *LiveState {
	return &LiveState{client: client, ttl: ttl}
}

func vehicleStateKey(id string) string { return fmt.Sprintf("vehicle:%s:state", id) }
func fleetGeoKey(companyID string) string {
	return fmt.Sprintf("fleet:%s:geo", companyID)
}

func (l *LiveState) SaveLatest(ctx context.Context, samples []domain.LocationSample) error {
	latest := make(map[string]domain.LocationSample, len(samples))
	for _, s := range samples {
		if cur, ok := latest[s.VehicleID]; !ok || s.Timestamp.After(cur.Timestamp) {
			latest[s.VehicleID] = s
		}
	}
	if len(latest) == 0 {
		return nil
	}

	pipe := l.client.Pipeline()
	for id, s := range latest {
		key := vehicleStateKey(id)
		pipe.HSet(ctx, key, map[string]interface{}{
			"vehicle_id":  s.VehicleID,
			"company_id":  s.CompanyID,
			"shipment_id": s.ShipmentID,
			"lat":         s.Lat,
			"lng":         s.Lon,
			"speed":       s.Speed,
			"timestamp":   s.Timestamp.Unix(),
			"received_at": s.ReceivedAt.Unix(),
		})
		if l.ttl > 0 {
			pipe.Expire(ctx, key, l.ttl)
		}
		if s.CompanyID != "" {
			pipe.GeoAdd(ctx, fleetGeoKey(s.CompanyID), &redis.GeoLocation{
				Name:      s.VehicleID,
				Longitude: s.Lon,
				Latitude:  s.Lat,
			})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}
