package cache

import (
	"context"
	"errors"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
)

var ErrNotFound = errors.New("cache: not found")

// OwnershipResolver maps vehicles and shipments to their owning company.
type OwnershipResolver interface {
	VehicleCompany(ctx context.Context, vehicleID string) (string, error)
	ShipmentCompany(ctx context.Context, shipmentID string) (string, error)
}

// LiveStateWriter keeps the last known position of each vehicle.
type LiveStateWriter interface {
	SaveLatest(ctx context.Context, samples []domain.LocationSample) error
}
