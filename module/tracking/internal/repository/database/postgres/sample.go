package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/database"
)

var _ database.SampleRepository = (*SampleRepo)(nil)

var sampleColumns = []string{
	"vehicle_id", "company_id", "driver_id", "shipment_id", "latitude", "longitude",
	"speed", "heading", "accuracy", "altitude", "ts", "received_at",
}

type SampleRepo struct {
	db *sql.DB
}

func NewSampleRepo(db *sql.DB) *SampleRepo {
	return &SampleRepo{db: db}
}

// InsertBatch copies the batch into a staging table and moves it into
// live_tracking, skipping (vehicle_id, ts) pairs already stored.
func (r *SampleRepo) InsertBatch(ctx context.Context, samples []domain.LocationSample) (err error) {
	if len(samples) == 0 {
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

	if _, err = tx.ExecContext(ctx,
		`CREATE TEMP TABLE IF NOT EXISTS live_tracking_stage (LIKE live_tracking INCLUDING DEFAULTS) ON COMMIT DELETE ROWS`,
	); err != nil {
		return fmt.Errorf("create stage: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("live_tracking_stage", sampleColumns...))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	for _, s := range samples {
		if _, err = stmt.ExecContext(ctx,
			s.VehicleID, s.CompanyID, s.DriverID, s.ShipmentID, s.Lat, s.Lon,
			s.Speed, s.Heading, s.Accuracy, s.Altitude, s.Timestamp, s.ReceivedAt,
		); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("copy sample: %w", err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO live_tracking SELECT * FROM live_tracking_stage ON CONFLICT (vehicle_id, ts) DO NOTHING`,
	); err != nil {
		return fmt.Errorf("move stage: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *SampleRepo) History(ctx context.Context, query *domain.HistoryQuery) ([]domain.LocationSample, error) {
	until := query.Until
	if until.IsZero() {
		until = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT vehicle_id, company_id, driver_id, shipment_id, latitude, longitude, speed, heading, accuracy, altitude, ts, received_at
		FROM live_tracking WHERE vehicle_id = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts ASC LIMIT $4`,
		query.VehicleID, query.Since, until, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []domain.LocationSample
	for rows.Next() {
		var (
			s                           domain.LocationSample
			heading, accuracy, altitude sql.NullFloat64
		)
		if err := rows.Scan(&s.VehicleID, &s.CompanyID, &s.DriverID, &s.ShipmentID, &s.Lat, &s.Lon, &s.Speed,
			&heading, &accuracy, &altitude, &s.Timestamp, &s.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		s.Heading = nullFloat(heading)
		s.Accuracy = nullFloat(accuracy)
		s.Altitude = nullFloat(altitude)
		results = append(results, s)
	}
	return results, rows.Err()
}

func (r *SampleRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM live_tracking WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge samples: %w", err)
	}
	return res.RowsAffected()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
