package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/database"
)

var _ database.ZoneRepository = (*ZoneRepo)(nil)

const zoneColumns = `id, company_id, name, category, center_lat, center_lon, radius_m, polygon, severity, active,
	valid_from, valid_until, created_at, updated_at, created_by, metadata`

type ZoneRepo struct {
	db *sql.DB
}

func NewZoneRepo(db *sql.DB) *ZoneRepo {
	return &ZoneRepo{db: db}
}

func (r *ZoneRepo) Create(ctx context.Context, z *domain.HazardZone) error {
	polygon, metadata, err := encodeZoneDocs(z)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO hazard_zones (`+zoneColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		z.ID, z.CompanyID, z.Name, string(z.Category), z.Center.Lat, z.Center.Lon, z.Radius, polygon, z.Severity.String(), z.Active,
		z.ValidFrom, z.ValidUntil, z.CreatedAt, z.UpdatedAt, z.CreatedBy, metadata,
	)
	if err != nil {
		return fmt.Errorf("insert zone: %w", err)
	}
	return nil
}

func (r *ZoneRepo) Update(ctx context.Context, z *domain.HazardZone) error {
	polygon, metadata, err := encodeZoneDocs(z)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE hazard_zones SET name = $2, category = $3, center_lat = $4, center_lon = $5, radius_m = $6, polygon = $7,
			severity = $8, active = $9, valid_from = $10, valid_until = $11, updated_at = $12, metadata = $13
		WHERE id = $1`,
		z.ID, z.Name, string(z.Category), z.Center.Lat, z.Center.Lon, z.Radius, polygon,
		z.Severity.String(), z.Active, z.ValidFrom, z.ValidUntil, z.UpdatedAt, metadata,
	)
	if err != nil {
		return fmt.Errorf("update zone: %w", err)
	}
	return requireRow(res, "update zone")
}

func (r *ZoneRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM hazard_zones WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete zone: %w", err)
	}
	return requireRow(res, "delete zone")
}

func (r *ZoneRepo) Get(ctx context.Context, id string) (*domain.HazardZone, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+zoneColumns+` FROM hazard_zones WHERE id = $1`, id)
	z, err := scanZone(row)
	if err != nil {
		return nil, fmt.Errorf("get zone: %w", err)
	}
	return z, nil
}

func (r *ZoneRepo) List(ctx context.Context, filter domain.ZoneFilter) ([]domain.HazardZone, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.CompanyID != "" {
		conds = append(conds, "company_id = "+arg(filter.CompanyID))
	}
	if filter.Category != "" {
		conds = append(conds, "category = "+arg(string(filter.Category)))
	}
	if filter.Active != nil {
		conds = append(conds, "active = "+arg(*filter.Active))
	}
	if b := filter.Bounds; b != nil {
		conds = append(conds,
			"center_lat BETWEEN "+arg(b.MinLat)+" AND "+arg(b.MaxLat),
			"center_lon BETWEEN "+arg(b.MinLon)+" AND "+arg(b.MaxLon),
		)
	}

	query := `SELECT ` + zoneColumns + ` FROM hazard_zones`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []domain.HazardZone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		results = append(results, *z)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanZone(s scanner) (*domain.HazardZone, error) {
	var (
		z                 domain.HazardZone
		category, sev     string
		polygon, metadata []byte
		validFrom         sql.NullTime
		validUntil        sql.NullTime
	)
	err := s.Scan(&z.ID, &z.CompanyID, &z.Name, &category, &z.Center.Lat, &z.Center.Lon, &z.Radius, &polygon, &sev, &z.Active,
		&validFrom, &validUntil, &z.CreatedAt, &z.UpdatedAt, &z.CreatedBy, &metadata)
	if err != nil {
		return nil, err
	}
	z.Category = domain.Category(category)
	if z.Severity, err = domain.ParseSeverity(sev); err != nil {
		return nil, err
	}
	if validFrom.Valid {
		z.ValidFrom = &validFrom.Time
	}
	if validUntil.Valid {
		z.ValidUntil = &validUntil.Time
	}
	if len(polygon) > 0 {
		if err := json.Unmarshal(polygon, &z.Polygon); err != nil {
			return nil, fmt.Errorf("decode polygon: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &z.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &z, nil
}

// encodeZoneDocs renders the JSONB columns; a zone without a polygon stores
// NULL.
func encodeZoneDocs(z *domain.HazardZone) (polygon any, metadata string, err error) {
	if len(z.Polygon) > 0 {
		b, err := json.Marshal(z.Polygon)
		if err != nil {
			return nil, "", fmt.Errorf("encode polygon: %w", err)
		}
		polygon = string(b)
	}
	md := z.Metadata
	if md == nil {
		md = map[string]string{}
	}
	b, err := json.Marshal(md)
	if err != nil {
		return nil, "", fmt.Errorf("encode metadata: %w", err)
	}
	return polygon, string(b), nil
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, sql.ErrNoRows)
	}
	return nil
}
