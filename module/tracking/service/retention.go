package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/database"
)

// RetentionJanitor deletes samples and alerts older than the retention
// window.
type RetentionJanitor struct {
	samples   database.SampleRepository
	alerts    database.AlertRepository
	retention time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewRetentionJanitor(samples database.SampleRepository, alerts database.AlertRepository, retention, timeout time.Duration, logger *slog.Logger) *RetentionJanitor {
	return &RetentionJanitor{
		samples:   samples,
		alerts:    alerts,
		retention: retention,
		timeout:   timeout,
		logger:    logger.With("component", "retention"),
		now:       time.Now,
	}
}

// Purge runs one pass and reports how many rows went from each table.
func (j *RetentionJanitor) Purge(ctx context.Context) (samples, alerts int64, err error) {
	cutoff := j.now().Add(-j.retention)

	sctx, cancel := context.WithTimeout(ctx, j.timeout)
	samples, err = j.samples.PurgeBefore(sctx, cutoff)
	cancel()
	if err != nil {
		return 0, 0, storeError("samples", err)
	}

	actx, cancel := context.WithTimeout(ctx, j.timeout)
	alerts, err = j.alerts.PurgeBefore(actx, cutoff)
	cancel()
	if err != nil {
		return samples, 0, storeError("alerts", err)
	}
	return samples, alerts, nil
}

func (j *RetentionJanitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samples, alerts, err := j.Purge(ctx)
			if err != nil {
				j.logger.Warn("retention purge failed", "error", err)
				continue
			}
			j.logger.Info("retention purge", "samples", samples, "alerts", alerts)
		}
	}
}
