package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/cache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockZoneRepo struct {
	createFn func(ctx context.Context, z *domain.HazardZone) error
	updateFn func(ctx context.Context, z *domain.HazardZone) error
	deleteFn func(ctx context.Context, id string) error
	getFn    func(ctx context.Context, id string) (*domain.HazardZone, error)
	listFn   func(ctx context.Context, filter domain.ZoneFilter) ([]domain.HazardZone, error)
}

func (m *mockZoneRepo) Create(ctx context.Context, z *domain.HazardZone) error {
	return m.createFn(ctx, z)
}

func (m *mockZoneRepo) Update(ctx context.Context, z *domain.HazardZone) error {
	return m.updateFn(ctx, z)
}

func (m *mockZoneRepo) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

func (m *mockZoneRepo) Get(ctx context.Context, id string) (*domain.HazardZone, error) {
	return m.getFn(ctx, id)
}

func (m *mockZoneRepo) List(ctx context.Context, filter domain.ZoneFilter) ([]domain.HazardZone, error) {
	return m.listFn(ctx, filter)
}

type mockSampleRepo struct {
	insertBatchFn func(ctx context.Context, samples []domain.LocationSample) error
	historyFn     func(ctx context.Context, q *domain.HistoryQuery) ([]domain.LocationSample, error)
	purgeFn       func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *mockSampleRepo) InsertBatch(ctx context.Context, samples []domain.LocationSample) error {
	return m.insertBatchFn(ctx, samples)
}

func (m *mockSampleRepo) History(ctx context.Context, q *domain.HistoryQuery) ([]domain.LocationSample, error) {
	return m.historyFn(ctx, q)
}

func (m *mockSampleRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.purgeFn(ctx, cutoff)
}

type mockAlertRepo struct {
	upsertBatchFn   func(ctx context.Context, alerts []domain.AlertEvent) error
	getFn           func(ctx context.Context, id string) (*domain.AlertEvent, error)
	acknowledgeFn   func(ctx context.Context, id, userID string, at time.Time) (*domain.AlertEvent, error)
	listByVehicleFn func(ctx context.Context, q *domain.HistoryQuery) ([]domain.AlertEvent, error)
	listActiveFn    func(ctx context.Context, companyID string) ([]domain.AlertEvent, error)
	countsFn        func(ctx context.Context, vehicleID string) (map[string]int, map[string]int, error)
	purgeFn         func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *mockAlertRepo) UpsertBatch(ctx context.Context, alerts []domain.AlertEvent) error {
	return m.upsertBatchFn(ctx, alerts)
}

func (m *mockAlertRepo) Get(ctx context.Context, id string) (*domain.AlertEvent, error) {
	return m.getFn(ctx, id)
}

func (m *mockAlertRepo) Acknowledge(ctx context.Context, id, userID string, at time.Time) (*domain.AlertEvent, error) {
	return m.acknowledgeFn(ctx, id, userID, at)
}

func (m *mockAlertRepo) ListByVehicle(ctx context.Context, q *domain.HistoryQuery) ([]domain.AlertEvent, error) {
	return m.listByVehicleFn(ctx, q)
}

func (m *mockAlertRepo) ListActive(ctx context.Context, companyID string) ([]domain.AlertEvent, error) {
	return m.listActiveFn(ctx, companyID)
}

func (m *mockAlertRepo) Counts(ctx context.Context, vehicleID string) (map[string]int, map[string]int, error) {
	return m.countsFn(ctx, vehicleID)
}

func (m *mockAlertRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.purgeFn(ctx, cutoff)
}

type mockOwners struct {
	vehicles  map[string]string
	shipments map[string]string
	err       error
}

func (m *mockOwners) VehicleCompany(_ context.Context, vehicleID string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	co, ok := m.vehicles[vehicleID]
	if !ok {
		return "", cache.ErrNotFound
	}
	return co, nil
}

func (m *mockOwners) ShipmentCompany(_ context.Context, shipmentID string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	co, ok := m.shipments[shipmentID]
	if !ok {
		return "", cache.ErrNotFound
	}
	return co, nil
}

type published struct {
	frame  domain.Frame
	topics []domain.Topic
}

type mockBroadcaster struct {
	mu    sync.Mutex
	calls []published
}

func (m *mockBroadcaster) Publish(f domain.Frame, topics ...domain.Topic) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, published{frame: f, topics: topics})
	return len(topics)
}

func (m *mockBroadcaster) ofType(kind string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, c := range m.calls {
		if c.frame.Type == kind {
			out = append(out, c)
		}
	}
	return out
}

type mockRecorder struct {
	mu      sync.Mutex
	samples []domain.LocationSample
	events  []domain.AlertEvent
}

func (m *mockRecorder) AppendSample(s domain.LocationSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
}

func (m *mockRecorder) AppendEvent(ev domain.AlertEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockRecorder) sampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

type mockRelay struct {
	mu   sync.Mutex
	keys []string
}

func (m *mockRelay) Enqueue(key string, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
}
