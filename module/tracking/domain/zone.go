package domain

import (
	"fmt"
	"time"
)

type GeoPoint struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

type Bounds struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

func (b Bounds) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

type Category string

const (
	CategoryAccident     Category = "accident"
	CategoryWeather      Category = "weather"
	CategoryConstruction Category = "construction"
	CategoryRestricted   Category = "restricted"
	CategoryCustom       Category = "custom"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryAccident, CategoryWeather, CategoryConstruction, CategoryRestricted, CategoryCustom:
		return true
	}
	return false
}

// HazardZone is a disc and/or polygon flagged with a category and a baseline
// severity. When both geometries are present the polygon decides containment
// and the radius only widens the coarse pre-filter.
type HazardZone struct {
	ID         string            `json:"id"`
	CompanyID  string            `json:"companyId,omitempty"`
	Name       string            `json:"name"`
	Category   Category          `json:"category"`
	Center     GeoPoint          `json:"center"`
	Radius     float64           `json:"radius"`
	Polygon    []GeoPoint        `json:"polygon,omitempty"`
	Severity   Severity          `json:"severity"`
	Active     bool              `json:"active"`
	ValidFrom  *time.Time        `json:"validFrom,omitempty"`
	ValidUntil *time.Time        `json:"validUntil,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	CreatedBy  string            `json:"createdBy,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (z *HazardZone) Validate() error {
	if z.Name == "" {
		return NewError(KindBadMessage, "name: required")
	}
	if !z.Category.Valid() {
		return NewError(KindBadMessage, fmt.Sprintf("category: unknown value %q", z.Category))
	}
	if !z.Severity.Valid() {
		return NewError(KindBadMessage, "severity: must be one of low, medium, high, critical")
	}
	if !z.Center.Valid() {
		return NewError(KindBadMessage, "center: latitude must be within [-90,90] and longitude within [-180,180]")
	}
	if z.Radius < 0 {
		return NewError(KindBadMessage, "radius: must not be negative")
	}
	if z.Radius == 0 && len(z.Polygon) == 0 {
		return NewError(KindBadMessage, "zone needs a positive radius or a polygon")
	}
	if len(z.Polygon) > 0 && len(z.Polygon) < 3 {
		return NewError(KindBadMessage, "polygon: at least 3 points required")
	}
	for i, p := range z.Polygon {
		if !p.Valid() {
			return NewError(KindBadMessage, fmt.Sprintf("polygon[%d]: coordinates out of range", i))
		}
	}
	if z.ValidFrom != nil && z.ValidUntil != nil && z.ValidUntil.Before(*z.ValidFrom) {
		return NewError(KindBadMessage, "validUntil: must not precede validFrom")
	}
	return nil
}

// IsLive reports whether the zone is active and inside its validity window at t.
func (z *HazardZone) IsLive(t time.Time) bool {
	if !z.Active {
		return false
	}
	if z.ValidFrom != nil && t.Before(*z.ValidFrom) {
		return false
	}
	if z.ValidUntil != nil && t.After(*z.ValidUntil) {
		return false
	}
	return true
}

func (z *HazardZone) HasPolygon() bool {
	return len(z.Polygon) >= 3
}

// DeriveCenter places the center at the polygon's bounding-box midpoint when
// the zone has no disc or no center was given. Reach is measured from the
// center.
func (z *HazardZone) DeriveCenter() {
	if !z.HasPolygon() {
		return
	}
	if z.Radius > 0 && z.Center != (GeoPoint{}) {
		return
	}
	b := Bounds{MinLat: 90, MinLon: 180, MaxLat: -90, MaxLon: -180}
	for _, p := range z.Polygon {
		b.MinLat = min(b.MinLat, p.Lat)
		b.MaxLat = max(b.MaxLat, p.Lat)
		b.MinLon = min(b.MinLon, p.Lon)
		b.MaxLon = max(b.MaxLon, p.Lon)
	}
	z.Center = GeoPoint{Lat: (b.MinLat + b.MaxLat) / 2, Lon: (b.MinLon + b.MaxLon) / 2}
}

type ZoneFilter struct {
	CompanyID string
	Category  Category
	Active    *bool
	Bounds    *Bounds
}

type ZoneChangeKind string

const (
	ZoneCreated ZoneChangeKind = "created"
	ZoneUpdated ZoneChangeKind = "updated"
	ZoneDeleted ZoneChangeKind = "deleted"
)

// ZoneChange is emitted by the zone store after every successful write. Zone
// is nil for deletions.
type ZoneChange struct {
	ZoneID string         `json:"zoneId"`
	Kind   ZoneChangeKind `json:"kind"`
	Zone   *HazardZone    `json:"zone,omitempty"`
}

// ZonePatch carries a partial update; nil fields are left untouched.
type ZonePatch struct {
	Name       *string            `json:"name,omitempty"`
	Category   *Category          `json:"category,omitempty"`
	Center     *GeoPoint          `json:"center,omitempty"`
	Radius     *float64           `json:"radius,omitempty"`
	Polygon    *[]GeoPoint        `json:"polygon,omitempty"`
	Severity   *Severity          `json:"severity,omitempty"`
	Active     *bool              `json:"active,omitempty"`
	ValidFrom  *time.Time         `json:"validFrom,omitempty"`
	ValidUntil *time.Time         `json:"validUntil,omitempty"`
	Metadata   *map[string]string `json:"metadata,omitempty"`
}

func (p *ZonePatch) Apply(z *HazardZone) {
	if p.Name != nil {
		z.Name = *p.Name
	}
	if p.Category != nil {
		z.Category = *p.Category
	}
	if p.Center != nil {
		z.Center = *p.Center
	}
	if p.Radius != nil {
		z.Radius = *p.Radius
	}
	if p.Polygon != nil {
		z.Polygon = *p.Polygon
	}
	if p.Severity != nil {
		z.Severity = *p.Severity
	}
	if p.Active != nil {
		z.Active = *p.Active
	}
	if p.ValidFrom != nil {
		z.ValidFrom = p.ValidFrom
	}
	if p.ValidUntil != nil {
		z.ValidUntil = p.ValidUntil
	}
	if p.Metadata != nil {
		z.Metadata = *p.Metadata
	}
}

// ZoneWithDistance is a nearby-zones result; a negative distance means the
// query point is inside.
type ZoneWithDistance struct {
	HazardZone
	DistanceMeters float64 `json:"distanceMeters"`
}
