package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/metrics"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/cache"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/database"
)

// Broadcaster delivers frames to topic subscribers without blocking.
type Broadcaster interface {
	Publish(f domain.Frame, topics ...domain.Topic) int
}

// Recorder accepts items for asynchronous persistence.
type Recorder interface {
	AppendSample(s domain.LocationSample)
	AppendEvent(ev domain.AlertEvent)
}

// Relay forwards events to external consumers.
type Relay interface {
	Enqueue(key string, v any)
}

type TrackingConfig struct {
	Workers     int
	QueueSize   int
	AuthTimeout time.Duration
	DBTimeout   time.Duration
}

// TrackingService is the ingest pipeline: it authorizes samples, orders
// them per vehicle, evaluates them and hands the results to persistence and
// broadcast.
type TrackingService struct {
	evaluator  *Evaluator
	dispatcher *Dispatcher
	recorder   Recorder
	hub        Broadcaster
	relay      Relay
	owners     cache.OwnershipResolver
	alerts     database.AlertRepository
	cfg        TrackingConfig
	logger     *slog.Logger
	now        func() time.Time
}

func NewTrackingService(cfg TrackingConfig, evaluator *Evaluator, recorder Recorder, hub Broadcaster, relay Relay, owners cache.OwnershipResolver, alerts database.AlertRepository, logger *slog.Logger) *TrackingService {
	s := &TrackingService{
		evaluator: evaluator,
		recorder:  recorder,
		hub:       hub,
		relay:     relay,
		owners:    owners,
		alerts:    alerts,
		cfg:       cfg,
		logger:    logger.With("component", "tracking"),
		now:       time.Now,
	}
	s.dispatcher = NewDispatcher(cfg.Workers, cfg.QueueSize, s.handle, logger)
	return s
}

// Run drives the dispatcher workers until ctx is cancelled.
func (s *TrackingService) Run(ctx context.Context) {
	s.dispatcher.Run(ctx)
}

// Report accepts a sample pushed by an authenticated caller. Authorization
// and validation errors return synchronously; the evaluation outcome goes
// to reply.
func (s *TrackingService) Report(ctx context.Context, caller domain.CallerIdentity, sample domain.LocationSample, reply func(error)) error {
	metrics.SamplesReceived.WithLabelValues("session").Inc()
	if caller.Anonymous() {
		return s.reject(domain.NewError(domain.KindUnauthorized, "authentication required"))
	}
	if !caller.CanReport() {
		return s.reject(domain.NewError(domain.KindForbidden, "role may not report locations"))
	}
	companyID, err := s.vehicleCompany(ctx, sample.VehicleID)
	if err != nil {
		return s.reject(err)
	}
	if companyID != caller.CompanyID {
		return s.reject(domain.NewError(domain.KindForbidden, "vehicle does not belong to caller company"))
	}
	sample.CompanyID = companyID
	return s.enqueue(sample, reply)
}

// Ingest accepts a sample from a trusted device channel where the vehicle
// identity comes from the transport.
func (s *TrackingService) Ingest(ctx context.Context, sample domain.LocationSample) error {
	metrics.SamplesReceived.WithLabelValues("mqtt").Inc()
	companyID, err := s.vehicleCompany(ctx, sample.VehicleID)
	if err != nil {
		return s.reject(err)
	}
	sample.CompanyID = companyID
	return s.enqueue(sample, func(err error) {
		if err != nil && domain.KindOf(err) != domain.KindStale {
			s.logger.Warn("device sample rejected", "vehicle_id", sample.VehicleID, "error", err)
		}
	})
}

func (s *TrackingService) enqueue(sample domain.LocationSample, reply func(error)) error {
	if sample.ReceivedAt.IsZero() {
		sample.ReceivedAt = s.now()
	}
	if err := s.evaluator.Validate(&sample); err != nil {
		return s.reject(err)
	}
	s.dispatcher.Submit(sample, reply)
	return nil
}

func (s *TrackingService) vehicleCompany(ctx context.Context, vehicleID string) (string, error) {
	if vehicleID == "" {
		return "", domain.NewError(domain.KindBadMessage, "vehicleId: required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AuthTimeout)
	defer cancel()
	companyID, err := s.owners.VehicleCompany(ctx, vehicleID)
	if errors.Is(err, cache.ErrNotFound) {
		return "", domain.NewError(domain.KindForbidden, "unknown vehicle")
	}
	if err != nil {
		return "", domain.Wrap(domain.KindTransient, "resolve vehicle owner", err)
	}
	return companyID, nil
}

func (s *TrackingService) reject(err error) error {
	metrics.SamplesRejected.WithLabelValues(domain.KindOf(err).Code()).Inc()
	return err
}

// handle runs on a dispatcher worker. It performs no blocking I/O.
func (s *TrackingService) handle(_ context.Context, sample domain.LocationSample) error {
	eval, err := s.evaluator.Evaluate(sample)
	if err != nil {
		s.reject(err)
		s.logger.Debug("sample rejected", "vehicle_id", sample.VehicleID, "error", err)
		return err
	}
	metrics.SamplesAccepted.Inc()

	s.recorder.AppendSample(eval.Sample)
	if f, err := domain.NewFrame(domain.KindLocationUpdate, "", domain.NewLocationBroadcast(&eval.Sample)); err == nil {
		s.hub.Publish(f, sampleTopics(&eval.Sample)...)
	}
	s.emit(eval.Events)
	return nil
}

func (s *TrackingService) emit(events []domain.AlertEvent) {
	for i := range events {
		ev := &events[i]
		s.recorder.AppendEvent(*ev)
		payload := domain.NewAlertPayload(ev)
		f, err := domain.NewFrame(ev.Kind(), "", payload)
		if err != nil {
			s.logger.Error("encode alert", "alert_id", ev.ID, "error", err)
			continue
		}
		s.hub.Publish(f, alertTopics(ev)...)
		s.relay.Enqueue(ev.Kind(), ev)
		metrics.AlertsEmitted.WithLabelValues(ev.Kind(), ev.Severity.String()).Inc()
		s.logger.Info("alert emitted",
			"kind", ev.Kind(),
			"alert_id", ev.ID,
			"vehicle_id", ev.VehicleID,
			"zone_id", ev.ZoneID,
			"severity", ev.Severity.String(),
			"distance_m", ev.DistanceMeters,
		)
	}
}

// Acknowledge marks an alert as seen by the caller and broadcasts the
// update to the alert's audience.
func (s *TrackingService) Acknowledge(ctx context.Context, caller domain.CallerIdentity, alertID string) (*domain.AlertEvent, error) {
	if caller.Anonymous() {
		return nil, domain.NewError(domain.KindUnauthorized, "authentication required")
	}
	if alertID == "" {
		return nil, domain.NewError(domain.KindBadMessage, "alertId: required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DBTimeout)
	defer cancel()

	alert, err := s.alerts.Get(ctx, alertID)
	if err != nil {
		return nil, storeError("alert", err)
	}
	if !caller.IsAdmin() && alert.CompanyID != caller.CompanyID {
		return nil, domain.NewError(domain.KindForbidden, "alert belongs to another company")
	}
	alert, err = s.alerts.Acknowledge(ctx, alertID, caller.UserID, s.now())
	if err != nil {
		return nil, storeError("alert", err)
	}

	payload := domain.NewAlertPayload(alert)
	if f, err := domain.NewFrame(domain.KindAlertAcknowledge, "", payload); err == nil {
		s.hub.Publish(f, alertTopics(alert)...)
	}
	s.relay.Enqueue(domain.KindAlertAcknowledge, alert)
	return alert, nil
}

// Sweep evicts idle vehicles and emits the clears they owe.
func (s *TrackingService) Sweep(now time.Time) int {
	events := s.evaluator.Sweep(now)
	s.emit(events)
	return len(events)
}

func (s *TrackingService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.logger.Info("idle vehicles evicted", "cleared_alerts", n)
			}
		}
	}
}

func (s *TrackingService) DroppedSamples() uint64 {
	return s.dispatcher.Dropped()
}

func sampleTopics(sample *domain.LocationSample) []domain.Topic {
	topics := []domain.Topic{domain.VehicleTopic(sample.VehicleID)}
	if sample.CompanyID != "" {
		topics = append(topics, domain.FleetTopic(sample.CompanyID))
	}
	if sample.ShipmentID != "" {
		topics = append(topics, domain.ShipmentTopic(sample.ShipmentID))
	}
	return topics
}

func alertTopics(ev *domain.AlertEvent) []domain.Topic {
	topics := []domain.Topic{domain.VehicleTopic(ev.VehicleID), domain.ZoneTopic(ev.ZoneID)}
	if ev.CompanyID != "" {
		topics = append(topics, domain.FleetTopic(ev.CompanyID))
	}
	if ev.ShipmentID != "" {
		topics = append(topics, domain.ShipmentTopic(ev.ShipmentID))
	}
	return topics
}

// storeError maps repository errors to domain kinds.
func storeError(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewError(domain.KindNotFound, what+": not found")
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Wrap(domain.KindTransient, what+": store unavailable", err)
}
