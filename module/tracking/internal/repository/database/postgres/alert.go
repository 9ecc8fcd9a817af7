package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/database"
)

var _ database.AlertRepository = (*AlertRepo)(nil)

const alertColumns = `id, vehicle_id, company_id, shipment_id, zone_id, zone_name, severity, distance_m, latitude, longitude,
	sample_ts, emitted_at, status, cooldown_seconds, acknowledged_by, acknowledged_at, cleared_at`

type AlertRepo struct {
	db *sql.DB
}

func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

// UpsertBatch writes alerts in order. A re-emitted or cleared alert updates
// its existing row; acknowledgement columns are never overwritten.
func (r *AlertRepo) UpsertBatch(ctx context.Context, alerts []domain.AlertEvent) (err error) {
	if len(alerts) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO accident_alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, '', NULL, $15)
		ON CONFLICT (id) DO UPDATE SET
			zone_name = EXCLUDED.zone_name,
			severity = EXCLUDED.severity,
			distance_m = EXCLUDED.distance_m,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			sample_ts = EXCLUDED.sample_ts,
			emitted_at = EXCLUDED.emitted_at,
			status = EXCLUDED.status,
			cleared_at = EXCLUDED.cleared_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, a := range alerts {
		if _, err = stmt.ExecContext(ctx,
			a.ID, a.VehicleID, a.CompanyID, a.ShipmentID, a.ZoneID, a.ZoneName, a.Severity.String(), a.DistanceMeters,
			a.Lat, a.Lon, a.SampleTimestamp, a.EmittedAt, string(a.Status), a.CooldownSeconds, a.ClearedAt,
		); err != nil {
			return fmt.Errorf("upsert alert %s: %w", a.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *AlertRepo) Get(ctx context.Context, id string) (*domain.AlertEvent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM accident_alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (r *AlertRepo) Acknowledge(ctx context.Context, id, userID string, at time.Time) (*domain.AlertEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE accident_alerts SET acknowledged_by = $2, acknowledged_at = $3 WHERE id = $1 RETURNING `+alertColumns,
		id, userID, at,
	)
	a, err := scanAlert(row)
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}
	return a, nil
}

func (r *AlertRepo) ListByVehicle(ctx context.Context, query *domain.HistoryQuery) ([]domain.AlertEvent, error) {
	until := query.Until
	if until.IsZero() {
		until = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM accident_alerts
		WHERE vehicle_id = $1 AND emitted_at >= $2 AND emitted_at <= $3
		ORDER BY emitted_at DESC LIMIT $4`,
		query.VehicleID, query.Since, until, query.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list vehicle alerts: %w", err)
	}
	return collectAlerts(rows)
}

// ListActive returns active alerts, newest first. An empty companyID lists
// every company.
func (r *AlertRepo) ListActive(ctx context.Context, companyID string) ([]domain.AlertEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM accident_alerts
		WHERE status = 'active' AND ($1 = '' OR company_id = $1)
		ORDER BY emitted_at DESC`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	return collectAlerts(rows)
}

func (r *AlertRepo) Counts(ctx context.Context, vehicleID string) (bySeverity, byZone map[string]int, err error) {
	if bySeverity, err = r.countBy(ctx, "severity", vehicleID); err != nil {
		return nil, nil, err
	}
	if byZone, err = r.countBy(ctx, "zone_id", vehicleID); err != nil {
		return nil, nil, err
	}
	return bySeverity, byZone, nil
}

// countBy groups on a fixed column name chosen by the caller.
func (r *AlertRepo) countBy(ctx context.Context, column, vehicleID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) FROM accident_alerts WHERE vehicle_id = $1 GROUP BY `+column,
		vehicleID,
	)
	if err != nil {
		return nil, fmt.Errorf("count alerts by %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[key] = n
	}
	return out, rows.Err()
}

func (r *AlertRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accident_alerts WHERE emitted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge alerts: %w", err)
	}
	return res.RowsAffected()
}

func collectAlerts(rows *sql.Rows) ([]domain.AlertEvent, error) {
	defer func() { _ = rows.Close() }()
	var results []domain.AlertEvent
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		results = append(results, *a)
	}
	return results, rows.Err()
}

func scanAlert(s scanner) (*domain.AlertEvent, error) {
	var (
		a              domain.AlertEvent
		sev, status    string
		acknowledgedAt sql.NullTime
		clearedAt      sql.NullTime
	)
	err := s.Scan(&a.ID, &a.VehicleID, &a.CompanyID, &a.ShipmentID, &a.ZoneID, &a.ZoneName, &sev, &a.DistanceMeters,
		&a.Lat, &a.Lon, &a.SampleTimestamp, &a.EmittedAt, &status, &a.CooldownSeconds, &a.AcknowledgedBy,
		&acknowledgedAt, &clearedAt)
	if err != nil {
		return nil, err
	}
	if a.Severity, err = domain.ParseSeverity(sev); err != nil {
		return nil, err
	}
	a.Status = domain.AlertStatus(status)
	if acknowledgedAt.Valid {
		a.AcknowledgedAt = &acknowledgedAt.Time
	}
	if clearedAt.Valid {
		a.ClearedAt = &clearedAt.Time
	}
	return &a, nil
}
