package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	if cfg.VehicleQueue != 128 {
		t.Fatalf("expected 128, got %d", cfg.VehicleQueue)
	}
	if cfg.AlertCooldown != 60*time.Second {
		t.Fatalf("expected 60s, got %v", cfg.AlertCooldown)
	}
	if cfg.PersistFlush != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", cfg.PersistFlush)
	}
	if cfg.ZoneClearHysteresis != 1.5 {
		t.Fatalf("expected 1.5, got %v", cfg.ZoneClearHysteresis)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ALERT_IDLE_GC", "120")
	t.Setenv("PERSIST_FLUSH", "1s")
	t.Setenv("WORKERS", "3")
	t.Setenv("MQTT_ENABLED", "false")
	t.Setenv("ZONE_PROXIMITY_BAND", "3.5")
	t.Setenv("VEHICLE_QUEUE", "lots")

	cfg := Load()
	if cfg.AlertIdleGC != 2*time.Minute {
		t.Fatalf("expected plain seconds to parse, got %v", cfg.AlertIdleGC)
	}
	if cfg.PersistFlush != time.Second {
		t.Fatalf("expected 1s, got %v", cfg.PersistFlush)
	}
	if cfg.Workers != 3 || cfg.MQTTEnabled || cfg.ZoneProximityBand != 3.5 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.VehicleQueue != 128 {
		t.Fatalf("expected fallback for invalid int, got %d", cfg.VehicleQueue)
	}
}
