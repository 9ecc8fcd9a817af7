package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
)

func TestRetentionJanitor_Purge(t *testing.T) {
	now := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	var cutoffs []time.Time
	samples := &mockSampleRepo{
		purgeFn: func(_ context.Context, cutoff time.Time) (int64, error) {
			cutoffs = append(cutoffs, cutoff)
			return 10, nil
		},
	}
	alerts := &mockAlertRepo{
		purgeFn: func(_ context.Context, cutoff time.Time) (int64, error) {
			cutoffs = append(cutoffs, cutoff)
			return 2, nil
		},
	}
	j := NewRetentionJanitor(samples, alerts, 90*24*time.Hour, time.Second, testLogger())
	j.now = func() time.Time { return now }

	s, a, err := j.Purge(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != 10 || a != 2 {
		t.Fatalf("expected 10 samples and 2 alerts, got %d and %d", s, a)
	}
	want := now.AddDate(0, 0, -90)
	for _, c := range cutoffs {
		if !c.Equal(want) {
			t.Fatalf("expected cutoff %s, got %s", want, c)
		}
	}
}

func TestRetentionJanitor_PurgeFailure(t *testing.T) {
	samples := &mockSampleRepo{
		purgeFn: func(context.Context, time.Time) (int64, error) { return 0, errors.New("timeout") },
	}
	j := NewRetentionJanitor(samples, &mockAlertRepo{}, time.Hour, time.Second, testLogger())
	if _, _, err := j.Purge(context.Background()); domain.KindOf(err) != domain.KindTransient {
		t.Fatalf("expected Transient, got %v", err)
	}
}
