package service

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/metrics"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/queue"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/cache"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/database"
)

const (
	collectionSamples = "live_tracking"
	collectionAlerts  = "accident_alerts"
	retryBackoff      = 500 * time.Millisecond
)

type SinkConfig struct {
	Shards   int
	Batch    int
	Flush    time.Duration
	Overflow int
	Timeout  time.Duration
}

func DefaultSinkConfig() SinkConfig {
	return SinkConfig{Shards: 4, Batch: 100, Flush: 250 * time.Millisecond, Overflow: 10000, Timeout: 5 * time.Second}
}

type sinkShard struct {
	samples *queue.Ring[domain.LocationSample]
	alerts  *queue.Ring[domain.AlertEvent]
}

// TelemetrySink persists samples and alert events off the evaluation path.
// Appends never block; each shard buffers in a bounded overflow queue that
// drops its oldest entry when full.
type TelemetrySink struct {
	cfg     SinkConfig
	samples database.SampleRepository
	alerts  database.AlertRepository
	live    cache.LiveStateWriter
	shards  []*sinkShard
	logger  *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTelemetrySink builds the sink; live may be nil.
func NewTelemetrySink(cfg SinkConfig, samples database.SampleRepository, alerts database.AlertRepository, live cache.LiveStateWriter, logger *slog.Logger) *TelemetrySink {
	if cfg.Shards < 1 {
		cfg.Shards = 1
	}
	if cfg.Batch < 1 {
		cfg.Batch = 1
	}
	shards := make([]*sinkShard, cfg.Shards)
	for i := range shards {
		shards[i] = &sinkShard{
			samples: queue.NewRing[domain.LocationSample](cfg.Overflow),
			alerts:  queue.NewRing[domain.AlertEvent](cfg.Overflow),
		}
	}
	return &TelemetrySink{
		cfg:     cfg,
		samples: samples,
		alerts:  alerts,
		live:    live,
		shards:  shards,
		logger:  logger.With("component", "telemetry_sink"),
		stop:    make(chan struct{}),
	}
}

func (s *TelemetrySink) shardFor(vehicleID string) *sinkShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(vehicleID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *TelemetrySink) AppendSample(sample domain.LocationSample) {
	if s.shardFor(sample.VehicleID).samples.Push(sample) {
		metrics.PersistDropped.WithLabelValues(collectionSamples).Inc()
	}
}

func (s *TelemetrySink) AppendEvent(ev domain.AlertEvent) {
	if s.shardFor(ev.VehicleID).alerts.Push(ev) {
		metrics.PersistDropped.WithLabelValues(collectionAlerts).Inc()
	}
}

// Dropped sums overflow evictions across shards.
func (s *TelemetrySink) Dropped() uint64 {
	var n uint64
	for _, sh := range s.shards {
		n += sh.samples.Dropped() + sh.alerts.Dropped()
	}
	return n
}

func (s *TelemetrySink) Start() {
	for _, sh := range s.shards {
		s.wg.Add(1)
		go func(sh *sinkShard) {
			defer s.wg.Done()
			s.run(sh)
		}(sh)
	}
}

// Close stops accepting items and waits for the writers to flush what is
// buffered, giving up when ctx expires.
func (s *TelemetrySink) Close(ctx context.Context) error {
	s.stopOnce.Do(func() {
		for _, sh := range s.shards {
			sh.samples.Close()
			sh.alerts.Close()
		}
		close(s.stop)
	})
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Error("telemetry flush timed out", "error", ctx.Err())
		return ctx.Err()
	}
}

func (s *TelemetrySink) run(sh *sinkShard) {
	ticker := time.NewTicker(s.cfg.Flush)
	defer ticker.Stop()

	for {
		select {
		case <-sh.samples.Ready():
			if sh.samples.Len() >= s.cfg.Batch {
				s.flushSamples(sh.samples.PopN(s.cfg.Batch))
			}
		case <-sh.alerts.Ready():
			if sh.alerts.Len() >= s.cfg.Batch {
				s.flushAlerts(sh.alerts.PopN(s.cfg.Batch))
			}
		case <-ticker.C:
			s.drain(sh)
		case <-s.stop:
			s.drain(sh)
			return
		}
	}
}

func (s *TelemetrySink) drain(sh *sinkShard) {
	for {
		batch := sh.samples.PopN(s.cfg.Batch)
		if len(batch) == 0 {
			break
		}
		s.flushSamples(batch)
	}
	for {
		batch := sh.alerts.PopN(s.cfg.Batch)
		if len(batch) == 0 {
			break
		}
		s.flushAlerts(batch)
	}
}

func (s *TelemetrySink) flushSamples(batch []domain.LocationSample) {
	if len(batch) == 0 {
		return
	}
	if !s.write(collectionSamples, len(batch), func(ctx context.Context) error {
		return s.samples.InsertBatch(ctx, batch)
	}) {
		return
	}
	if s.live == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if err := s.live.SaveLatest(ctx, batch); err != nil {
		s.logger.Warn("live state write failed", "batch", len(batch), "error", err)
	}
}

func (s *TelemetrySink) flushAlerts(batch []domain.AlertEvent) {
	if len(batch) == 0 {
		return
	}
	s.write(collectionAlerts, len(batch), func(ctx context.Context) error {
		return s.alerts.UpsertBatch(ctx, batch)
	})
}

// write runs fn with the per-call timeout, retrying once.
func (s *TelemetrySink) write(collection string, n int, fn func(ctx context.Context) error) bool {
	attempt := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		return fn(ctx)
	}
	err := attempt()
	if err != nil {
		s.logger.Warn("persist failed, retrying", "collection", collection, "batch", n, "error", err)
		time.Sleep(retryBackoff)
		err = attempt()
	}
	if err != nil {
		s.logger.Error("persist permanently failed", "collection", collection, "batch", n, "error", err)
		metrics.PersistFailed.WithLabelValues(collection).Add(float64(n))
		return false
	}
	metrics.PersistWritten.WithLabelValues(collection).Add(float64(n))
	return true
}
