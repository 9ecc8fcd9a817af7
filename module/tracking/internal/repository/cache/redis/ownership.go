package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/cache"
)

var _ cache.OwnershipResolver = (*OwnershipCache)(nil)

type ownerEntry struct {
	companyID string
	expiresAt time.Time
}

// OwnershipCache resolves owners through an in-process cache in front of
// Redis. Only positive lookups are cached locally.
type OwnershipCache struct {
	client *redis.Client
	ttl    time.Duration
	local  sync.Map
	now    func() time.Time
}

func NewOwnershipCache(client *redis.Client, ttl time.Duration) *OwnershipCache {
	return &OwnershipCache{client: client, ttl: ttl, now: time.Now}
}

func vehicleOwnerKey(id string) string  { return "vehicle:owner:" + id }
func shipmentOwnerKey(id string) string { return "shipment:owner:" + id }

func (c *OwnershipCache) VehicleCompany(ctx context.Context, vehicleID string) (string, error) {
	return c.lookup(ctx, vehicleOwnerKey(vehicleID))
}

func (c *OwnershipCache) ShipmentCompany(ctx context.Context, shipmentID string) (string, error) {
	return c.lookup(ctx, shipmentOwnerKey(shipmentID))
}

// SetVehicleOwner records ownership in Redis and refreshes the local entry.
func (c *OwnershipCache) SetVehicleOwner(ctx context.Context, vehicleID, companyID string) error {
	return c.set(ctx, vehicleOwnerKey(vehicleID), companyID)
}

func (c *OwnershipCache) SetShipmentOwner(ctx context.Context, shipmentID, companyID string) error {
	return c.set(ctx, shipmentOwnerKey(shipmentID), companyID)
}

func (c *OwnershipCache) set(ctx context.Context, key, companyID string) error {
	if err := c.client.Set(ctx, key, companyID, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	c.local.Store(key, ownerEntry{companyID: companyID, expiresAt: c.now().Add(c.ttl)})
	return nil
}

func (c *OwnershipCache) lookup(ctx context.Context, key string) (string, error) {
	if raw, ok := c.local.Load(key); ok {
		entry := raw.(ownerEntry)
		if c.now().Before(entry.expiresAt) {
			return entry.companyID, nil
		}
		c.local.Delete(key)
	}

	companyID, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", cache.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	c.local.Store(key, ownerEntry{companyID: companyID, expiresAt: c.now().Add(c.ttl)})
	return companyID, nil
}
