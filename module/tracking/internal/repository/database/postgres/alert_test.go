package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
)

var alertCols = []string{
	"id", "vehicle_id", "company_id", "shipment_id", "zone_id", "zone_name", "severity", "distance_m", "latitude", "longitude",
	"sample_ts", "emitted_at", "status", "cooldown_seconds", "acknowledged_by", "acknowledged_at", "cleared_at",
}

func TestAlertUpsertBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	ts := time.Unix(1715003456, 0)
	cleared := ts.Add(time.Minute)
	alerts := []domain.AlertEvent{
		{ID: "a1", VehicleID: "T1", CompanyID: "co1", ZoneID: "Z", ZoneName: "Crash", Severity: domain.SeverityMedium,
			DistanceMeters: -500, Lat: 18.52, Lon: 73.85, SampleTimestamp: ts, EmittedAt: ts, Status: domain.AlertActive, CooldownSeconds: 60},
		{ID: "a1", VehicleID: "T1", CompanyID: "co1", ZoneID: "Z", ZoneName: "Crash", Severity: domain.SeverityMedium,
			DistanceMeters: 8000, Lat: 18.6, Lon: 73.85, SampleTimestamp: cleared, EmittedAt: cleared, Status: domain.AlertCleared,
			CooldownSeconds: 60, ClearedAt: &cleared},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO accident_alerts (.+) ON CONFLICT \(id\) DO UPDATE`)
	prep.ExpectExec().
		WithArgs("a1", "T1", "co1", "", "Z", "Crash", "medium", -500.0, 18.52, 73.85, ts, ts, "active", 60, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("a1", "T1", "co1", "", "Z", "Crash", "medium", 8000.0, 18.6, 73.85, cleared, cleared, "cleared", 60, cleared).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := NewAlertRepo(db).UpsertBatch(context.Background(), alerts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAlertAcknowledge(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	ts := time.Unix(1715003456, 0)
	ack := ts.Add(time.Minute)
	mock.ExpectQuery(`UPDATE accident_alerts SET acknowledged_by = \$2, acknowledged_at = \$3 WHERE id = \$1 RETURNING`).
		WithArgs("a1", "disp", ack).
		WillReturnRows(sqlmock.NewRows(alertCols).
			AddRow("a1", "T1", "co1", "", "Z", "Crash", "high", -10.0, 18.52, 73.85, ts, ts, "active", 60, "disp", ack, nil))

	a, err := NewAlertRepo(db).Acknowledge(context.Background(), "a1", "disp", ack)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.AcknowledgedBy != "disp" || a.AcknowledgedAt == nil || !a.AcknowledgedAt.Equal(ack) {
		t.Fatalf("unexpected acknowledgement %+v", a)
	}
	if a.Severity != domain.SeverityHigh || a.ClearedAt != nil {
		t.Fatalf("unexpected alert %+v", a)
	}
}

func TestAlertGet_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT (.+) FROM accident_alerts WHERE id = \$1`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(alertCols))

	if _, err := NewAlertRepo(db).Get(context.Background(), "nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestAlertListActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	ts := time.Unix(1715003456, 0)
	mock.ExpectQuery(`SELECT (.+) FROM accident_alerts\s+WHERE status = 'active' AND \(\$1 = '' OR company_id = \$1\)`).
		WithArgs("co1").
		WillReturnRows(sqlmock.NewRows(alertCols).
			AddRow("a1", "T1", "co1", "", "Z", "Crash", "low", 120.0, 18.52, 73.85, ts, ts, "active", 60, "", nil, nil))

	alerts, err := NewAlertRepo(db).ListActive(context.Background(), "co1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Status != domain.AlertActive {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
}

func TestAlertListByVehicle(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	since := time.Unix(1715003456, 0)
	until := since.Add(time.Hour)
	mock.ExpectQuery(`FROM accident_alerts\s+WHERE vehicle_id = \$1 AND emitted_at >= \$2 AND emitted_at <= \$3\s+ORDER BY emitted_at DESC LIMIT \$4`).
		WithArgs("T1", since, until, 10).
		WillReturnRows(sqlmock.NewRows(alertCols))

	alerts, err := NewAlertRepo(db).ListByVehicle(context.Background(), &domain.HistoryQuery{VehicleID: "T1", Since: since, Until: until, Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(alerts))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAlertCounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT severity, COUNT\(\*\) FROM accident_alerts WHERE vehicle_id = \$1 GROUP BY severity`).
		WithArgs("T1").
		WillReturnRows(sqlmock.NewRows([]string{"severity", "count"}).AddRow("high", 3).AddRow("low", 1))
	mock.ExpectQuery(`SELECT zone_id, COUNT\(\*\) FROM accident_alerts WHERE vehicle_id = \$1 GROUP BY zone_id`).
		WithArgs("T1").
		WillReturnRows(sqlmock.NewRows([]string{"zone_id", "count"}).AddRow("Z", 4))

	bySev, byZone, err := NewAlertRepo(db).Counts(context.Background(), "T1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bySev["high"] != 3 || bySev["low"] != 1 || byZone["Z"] != 4 {
		t.Fatalf("unexpected counts %v %v", bySev, byZone)
	}
}
