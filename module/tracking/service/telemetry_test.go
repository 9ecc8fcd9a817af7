package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
)

type liveRecorder struct {
	mu    sync.Mutex
	count int
}

func (l *liveRecorder) SaveLatest(_ context.Context, samples []domain.LocationSample) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count += len(samples)
	return nil
}

func TestTelemetrySink_FlushesOnBatchSize(t *testing.T) {
	batches := make(chan []domain.LocationSample, 4)
	samples := &mockSampleRepo{
		insertBatchFn: func(_ context.Context, s []domain.LocationSample) error {
			batches <- s
			return nil
		},
	}
	cfg := SinkConfig{Shards: 1, Batch: 3, Flush: time.Hour, Overflow: 10, Timeout: time.Second}
	sink := NewTelemetrySink(cfg, samples, &mockAlertRepo{}, nil, testLogger())
	sink.Start()
	defer sink.Close(context.Background())

	for i := 0; i < 3; i++ {
		sink.AppendSample(domain.LocationSample{VehicleID: "V", Timestamp: time.Unix(int64(i), 0)})
	}
	select {
	case b := <-batches:
		if len(b) != 3 {
			t.Fatalf("expected batch of 3, got %d", len(b))
		}
		for i := 1; i < len(b); i++ {
			if !b[i].Timestamp.After(b[i-1].Timestamp) {
				t.Fatalf("expected increasing timestamps, got %v", b)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a size-triggered flush")
	}
}

func TestTelemetrySink_FlushesOnTicker(t *testing.T) {
	batches := make(chan []domain.AlertEvent, 4)
	alerts := &mockAlertRepo{
		upsertBatchFn: func(_ context.Context, a []domain.AlertEvent) error {
			batches <- a
			return nil
		},
	}
	cfg := SinkConfig{Shards: 2, Batch: 100, Flush: 20 * time.Millisecond, Overflow: 10, Timeout: time.Second}
	sink := NewTelemetrySink(cfg, &mockSampleRepo{}, alerts, nil, testLogger())
	sink.Start()
	defer sink.Close(context.Background())

	sink.AppendEvent(domain.AlertEvent{ID: "a1", VehicleID: "V"})
	select {
	case b := <-batches:
		if len(b) != 1 || b[0].ID != "a1" {
			t.Fatalf("unexpected batch %+v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a timed flush")
	}
}

func TestTelemetrySink_RetriesOnceThenGivesUp(t *testing.T) {
	var calls atomic.Int32
	samples := &mockSampleRepo{
		insertBatchFn: func(context.Context, []domain.LocationSample) error {
			calls.Add(1)
			return errors.New("db down")
		},
	}
	live := &liveRecorder{}
	cfg := SinkConfig{Shards: 1, Batch: 1, Flush: time.Hour, Overflow: 10, Timeout: time.Second}
	sink := NewTelemetrySink(cfg, samples, &mockAlertRepo{}, live, testLogger())
	sink.Start()

	sink.AppendSample(domain.LocationSample{VehicleID: "V"})
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
	if live.count != 0 {
		t.Fatalf("expected live state untouched after failed persist, got %d", live.count)
	}
}

func TestTelemetrySink_OverflowDropsOldest(t *testing.T) {
	var got []domain.LocationSample
	samples := &mockSampleRepo{
		insertBatchFn: func(_ context.Context, s []domain.LocationSample) error {
			got = append(got, s...)
			return nil
		},
	}
	live := &liveRecorder{}
	cfg := SinkConfig{Shards: 1, Batch: 100, Flush: time.Hour, Overflow: 3, Timeout: time.Second}
	sink := NewTelemetrySink(cfg, samples, &mockAlertRepo{}, live, testLogger())

	for i := 0; i < 5; i++ {
		sink.AppendSample(domain.LocationSample{VehicleID: "V", Timestamp: time.Unix(int64(i), 0)})
	}
	if sink.Dropped() != 2 {
		t.Fatalf("expected 2 dropped, got %d", sink.Dropped())
	}

	sink.Start()
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 || got[0].Timestamp.Unix() != 2 {
		t.Fatalf("expected the 3 newest samples flushed on close, got %+v", got)
	}
	if live.count != 3 {
		t.Fatalf("expected live state for 3 samples, got %d", live.count)
	}

	sink.AppendSample(domain.LocationSample{VehicleID: "V"})
	if sink.Dropped() != 3 {
		t.Fatalf("expected appends after close to count as drops, got %d", sink.Dropped())
	}
}
