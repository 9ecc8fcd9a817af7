package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/database"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/spatial"
)

// ZoneService is the only writer of hazard zones. Every successful write is
// applied to the spatial index and announced on the zone's topic.
type ZoneService struct {
	repo    database.ZoneRepository
	index   *spatial.Index
	hub     Broadcaster
	relay   Relay
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

func NewZoneService(repo database.ZoneRepository, index *spatial.Index, hub Broadcaster, relay Relay, timeout time.Duration, logger *slog.Logger) *ZoneService {
	return &ZoneService{
		repo:    repo,
		index:   index,
		hub:     hub,
		relay:   relay,
		timeout: timeout,
		logger:  logger.With("component", "zone"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (s *ZoneService) Create(ctx context.Context, caller domain.CallerIdentity, z *domain.HazardZone) (*domain.HazardZone, error) {
	if err := authorizeZoneWrite(caller, ""); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	z.ID = s.newID()
	z.CompanyID = caller.CompanyID
	z.CreatedBy = caller.UserID
	z.CreatedAt = now
	z.UpdatedAt = now
	z.DeriveCenter()
	if err := z.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.Create(ctx, z); err != nil {
		return nil, storeError("zone", err)
	}
	s.notify(domain.ZoneChange{ZoneID: z.ID, Kind: domain.ZoneCreated, Zone: z})
	return z, nil
}

func (s *ZoneService) Update(ctx context.Context, caller domain.CallerIdentity, id string, patch *domain.ZonePatch) (*domain.HazardZone, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	z, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, storeError("zone", err)
	}
	if err := authorizeZoneWrite(caller, z.CompanyID); err != nil {
		return nil, err
	}
	patch.Apply(z)
	z.DeriveCenter()
	z.UpdatedAt = s.now().UTC()
	if err := z.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, z); err != nil {
		return nil, storeError("zone", err)
	}
	s.notify(domain.ZoneChange{ZoneID: z.ID, Kind: domain.ZoneUpdated, Zone: z})
	return z, nil
}

func (s *ZoneService) Delete(ctx context.Context, caller domain.CallerIdentity, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	z, err := s.repo.Get(ctx, id)
	if err != nil {
		return storeError("zone", err)
	}
	if err := authorizeZoneWrite(caller, z.CompanyID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return storeError("zone", err)
	}
	s.notify(domain.ZoneChange{ZoneID: id, Kind: domain.ZoneDeleted})
	return nil
}

func (s *ZoneService) Get(ctx context.Context, id string) (*domain.HazardZone, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	z, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, storeError("zone", err)
	}
	return z, nil
}

func (s *ZoneService) List(ctx context.Context, filter domain.ZoneFilter) ([]domain.HazardZone, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	zones, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, storeError("zone", err)
	}
	return zones, nil
}

// Load fills the index from the store. Outside a cold start a large zone set
// is reconciled zone by zone instead of rebuilt.
func (s *ZoneService) Load(ctx context.Context, cold bool) error {
	zones, err := s.repo.List(ctx, domain.ZoneFilter{})
	if err != nil {
		return storeError("zone", err)
	}
	err = s.index.Rebuild(zones, cold)
	if errors.Is(err, spatial.ErrRebuildTooLarge) {
		s.reconcile(zones)
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("zone index loaded", "zones", len(zones), "cold", cold)
	return nil
}

func (s *ZoneService) reconcile(zones []domain.HazardZone) {
	keep := make(map[string]struct{}, len(zones))
	updated := 0
	for _, z := range zones {
		keep[z.ID] = struct{}{}
		if cur, ok := s.index.Get(z.ID); ok && cur.UpdatedAt.Equal(z.UpdatedAt) {
			continue
		}
		s.index.Upsert(z)
		updated++
	}
	removed := 0
	for _, id := range s.index.IDs() {
		if _, ok := keep[id]; !ok && s.index.Remove(id) {
			removed++
		}
	}
	s.logger.Info("zone index reconciled", "zones", len(zones), "updated", updated, "removed", removed)
}

// RunResync reloads the index on every tick to pick up writes made by other
// instances.
func (s *ZoneService) RunResync(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lctx, cancel := context.WithTimeout(ctx, s.timeout)
			if err := s.Load(lctx, false); err != nil {
				s.logger.Warn("zone resync failed", "error", err)
			}
			cancel()
		}
	}
}

func (s *ZoneService) notify(ch domain.ZoneChange) {
	s.index.Apply(ch)
	if f, err := domain.NewFrame(domain.KindZoneChanged, "", ch); err == nil {
		s.hub.Publish(f, domain.ZoneTopic(ch.ZoneID))
	}
	s.relay.Enqueue(domain.KindZoneChanged, ch)
	s.logger.Info("zone changed", "zone_id", ch.ZoneID, "kind", ch.Kind)
}

func authorizeZoneWrite(caller domain.CallerIdentity, ownerCompany string) error {
	if caller.Anonymous() {
		return domain.NewError(domain.KindUnauthorized, "authentication required")
	}
	if !caller.CanManageZones() {
		return domain.NewError(domain.KindForbidden, "role may not manage zones")
	}
	if ownerCompany != "" && !caller.IsAdmin() && ownerCompany != caller.CompanyID {
		return domain.NewError(domain.KindForbidden, "zone belongs to another company")
	}
	return nil
}
