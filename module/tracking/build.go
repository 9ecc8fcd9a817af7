package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/nandanugg/hazard-watch/config"
	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/auth"
	handler "github.com/nandanugg/hazard-watch/module/tracking/internal/handler/http"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/handler/subscriber"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/handler/ws"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/hub"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/metrics"
	rediscache "github.com/nandanugg/hazard-watch/module/tracking/internal/repository/cache/redis"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/database/postgres"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/publisher/rabbitmq"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/spatial"
	"github.com/nandanugg/hazard-watch/module/tracking/service"
)

const (
	sweepInterval     = time.Minute
	retentionInterval = time.Hour
)

type Module struct {
	Tracking *service.TrackingService
	Zones    *service.ZoneService
	Query    *service.QueryService

	cfg        *config.Config
	logger     *slog.Logger
	sink       *service.TelemetrySink
	relay      *service.EventRelay
	janitor    *service.RetentionJanitor
	publisher  *rabbitmq.EventPublisher
	authn      *auth.Authenticator
	handler    *handler.AccidentHandler
	gateway    *ws.Gateway
	subscriber *subscriber.LocationSubscriber

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Build wires the tracking module. mqttClient may be nil when MQTT ingress
// is disabled.
func Build(cfg *config.Config, db *sql.DB, redisClient *redis.Client, amqpConn *amqp.Connection, mqttClient mqtt.Client, logger *slog.Logger) (*Module, error) {
	zoneRepo := postgres.NewZoneRepo(db)
	sampleRepo := postgres.NewSampleRepo(db)
	alertRepo := postgres.NewAlertRepo(db)
	owners := rediscache.NewOwnershipCache(redisClient, cfg.OwnershipCacheTTL)
	live := rediscache.NewLiveState(redisClient, cfg.LiveStateTTL)

	eventPub, err := rabbitmq.NewEventPublisher(amqpConn)
	if err != nil {
		return nil, fmt.Errorf("event publisher: %w", err)
	}

	index := spatial.NewIndex(spatial.DefaultPrecision)
	h := hub.New(hub.DefaultShards, logger)
	relay := service.NewEventRelay(eventPub, cfg.RelayQueue, cfg.PersistTimeout, logger)
	sink := service.NewTelemetrySink(service.SinkConfig{
		Shards:   cfg.PersistShards,
		Batch:    cfg.PersistBatch,
		Flush:    cfg.PersistFlush,
		Overflow: cfg.PersistOverflow,
		Timeout:  cfg.PersistTimeout,
	}, sampleRepo, alertRepo, live, logger)

	evaluator := service.NewEvaluator(service.EvaluatorConfig{
		SearchRadius:    cfg.ZoneSearchRadius,
		ProximityBand:   cfg.ZoneProximityBand,
		ClearHysteresis: cfg.ZoneClearHysteresis,
		Cooldown:        cfg.AlertCooldown,
		IdleGC:          cfg.AlertIdleGC,
		MaxSkew:         cfg.SampleMaxSkew,
		MaxLateness:     cfg.SampleMaxLateness,
		Shards:          cfg.VehicleShards,
		VehicleIdleTTL:  cfg.VehicleIdleTTL,
		SpeedThresholds: map[domain.Category]float64{
			domain.CategoryAccident:     cfg.SpeedThresholdAccident,
			domain.CategoryConstruction: cfg.SpeedThresholdConstruction,
			domain.CategoryWeather:      cfg.SpeedThresholdWeather,
			domain.CategoryRestricted:   cfg.SpeedThresholdRestricted,
			domain.CategoryCustom:       cfg.SpeedThresholdCustom,
		},
	}, index)

	trackingSvc := service.NewTrackingService(service.TrackingConfig{
		Workers:     cfg.Workers,
		QueueSize:   cfg.VehicleQueue,
		AuthTimeout: cfg.AuthTimeout,
		DBTimeout:   cfg.PersistTimeout,
	}, evaluator, sink, h, relay, owners, alertRepo, logger)
	zoneSvc := service.NewZoneService(zoneRepo, index, h, relay, cfg.PersistTimeout, logger)
	querySvc := service.NewQueryService(index, alertRepo, sampleRepo, owners, cfg.PersistTimeout)
	janitor := service.NewRetentionJanitor(sampleRepo, alertRepo, time.Duration(cfg.RetentionDays)*24*time.Hour, cfg.PersistTimeout, logger)

	authn := auth.NewAuthenticator(cfg.JWTSecret, redisClient, cfg.AuthTimeout)
	gateway := ws.NewGateway(ws.Config{
		QueueSize:   cfg.SubscriberQueue,
		IdleTimeout: cfg.WSIdleTimeout,
		RatePerSec:  cfg.WSRatePerSec,
		RateBurst:   cfg.WSRateBurst,
		AuthTimeout: cfg.AuthTimeout,
	}, h, trackingSvc, authn, owners, logger)

	m := &Module{
		Tracking:  trackingSvc,
		Zones:     zoneSvc,
		Query:     querySvc,
		cfg:       cfg,
		logger:    logger.With("component", "module"),
		sink:      sink,
		relay:     relay,
		janitor:   janitor,
		publisher: eventPub,
		authn:     authn,
		handler:   handler.NewAccidentHandler(querySvc, zoneSvc),
		gateway:   gateway,
	}
	if mqttClient != nil {
		m.subscriber = subscriber.NewLocationSubscriber(mqttClient, trackingSvc, logger)
	}
	return m, nil
}

func (m *Module) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", auth.Middleware(m.authn, handler.RespondError))
	m.handler.Register(api)
	m.gateway.Register(r)
	r.GET("/metrics", metrics.Handler())
}

// Start loads the zone index, then launches the workers and ingress
// subscribers. Background loops stop on Shutdown.
func (m *Module) Start(ctx context.Context) error {
	lctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := m.Zones.Load(lctx, true)
	cancel()
	if err != nil {
		return fmt.Errorf("load zones: %w", err)
	}

	m.sink.Start()
	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = stop
	m.spawn(func() { m.Tracking.Run(runCtx) })
	m.spawn(func() { m.relay.Run(runCtx) })
	m.spawn(func() { m.Tracking.RunSweeper(runCtx, sweepInterval) })
	m.spawn(func() { m.Zones.RunResync(runCtx, m.cfg.ZoneResyncInterval) })
	m.spawn(func() { m.janitor.Run(runCtx, retentionInterval) })

	if m.subscriber != nil {
		if err := m.subscriber.Start(); err != nil {
			return fmt.Errorf("start subscribers: %w", err)
		}
	}
	return nil
}

func (m *Module) spawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// Shutdown stops ingress, lets workers finish the sample in hand, then
// flushes pending persistence and broker events in parallel. Every step is
// bounded by ctx.
func (m *Module) Shutdown(ctx context.Context) error {
	var errs []error
	if m.subscriber != nil {
		if err := m.subscriber.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop subscriber: %w", err))
		}
	}
	m.gateway.Close()
	if m.cancel != nil {
		m.cancel()
	}
	if err := waitFor(ctx, m.wg.Wait); err != nil {
		errs = append(errs, fmt.Errorf("stop workers: %w", err))
	}

	var sinkErr, relayErr error
	err := waitFor(ctx, func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			sinkErr = m.sink.Close(ctx)
		}()
		go func() {
			defer wg.Done()
			relayErr = m.relay.Flush(ctx)
		}()
		wg.Wait()
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	} else {
		if sinkErr != nil {
			errs = append(errs, fmt.Errorf("flush telemetry: %w", sinkErr))
		}
		if relayErr != nil {
			errs = append(errs, fmt.Errorf("flush events: %w", relayErr))
		}
	}

	if err := m.publisher.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	m.logger.Info("tracking module stopped", "dropped_samples", m.Tracking.DroppedSamples(), "dropped_writes", m.sink.Dropped())
	return errors.Join(errs...)
}

// waitFor runs fn and returns when it completes or ctx expires, whichever
// comes first. fn keeps running in the background after a timeout.
func waitFor(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
