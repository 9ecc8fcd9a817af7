package database

import (
	"context"
	"time"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
)

// Lookups that find nothing return an error wrapping sql.ErrNoRows.

type ZoneRepository interface {
	Create(ctx context.Context, z *domain.HazardZone) error
	Update(ctx context.Context, z *domain.HazardZone) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.HazardZone, error)
	List(ctx context.Context, filter domain.ZoneFilter) ([]domain.HazardZone, error)
}

type SampleRepository interface {
	InsertBatch(ctx context.Context, samples []domain.LocationSample) error
	History(ctx context.Context, query *domain.HistoryQuery) ([]domain.LocationSample, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type AlertRepository interface {
	UpsertBatch(ctx context.Context, alerts []domain.AlertEvent) error
	Get(ctx context.Context, id string) (*domain.AlertEvent, error)
	Acknowledge(ctx context.Context, id, userID string, at time.Time) (*domain.AlertEvent, error)
	ListByVehicle(ctx context.Context, query *domain.HistoryQuery) ([]domain.AlertEvent, error)
	ListActive(ctx context.Context, companyID string) ([]domain.AlertEvent, error)
	Counts(ctx context.Context, vehicleID string) (bySeverity, byZone map[string]int, err error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
