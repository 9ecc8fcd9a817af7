package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/nandanugg/hazard-watch/config"
	"github.com/nandanugg/hazard-watch/module/tracking"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := config.NewPostgres(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := config.Migrate(db); err != nil {
		return err
	}

	redisClient, err := config.NewRedis(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	amqpConn, err := config.NewRabbitMQ(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = amqpConn.Close() }()

	var mqttClient mqtt.Client
	if cfg.MQTTEnabled {
		if mqttClient, err = config.NewMQTT(cfg); err != nil {
			return err
		}
		defer mqttClient.Disconnect(250)
	}

	trackingModule, err := tracking.Build(cfg, db, redisClient, amqpConn, mqttClient, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := trackingModule.Start(ctx); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	health := config.NewHealthChecker(db, redisClient, amqpConn, mqttClient)
	health.Register(r)

	trackingModule.RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(sctx)
		return errors.Join(httpErr, trackingModule.Shutdown(sctx))
	})
	return g.Wait()
}
