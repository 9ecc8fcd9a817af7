package spatial

import (
	"math"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
)

const EarthRadiusMeters = 6371008.8

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b domain.GeoPoint) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// normalizeLon maps a longitude delta into [-180, 180).
func normalizeLon(d float64) float64 {
	d = math.Mod(d+180, 360)
	if d < 0 {
		d += 360
	}
	return d - 180
}

// project maps p onto a local tangent plane centred at origin, in meters.
func project(origin, p domain.GeoPoint) (x, y float64) {
	x = toRad(normalizeLon(p.Lon-origin.Lon)) * math.Cos(toRad(origin.Lat)) * EarthRadiusMeters
	y = toRad(p.Lat-origin.Lat) * EarthRadiusMeters
	return x, y
}

// PointInPolygon runs a ray cast against the implicitly closed ring.
func PointInPolygon(p domain.GeoPoint, ring []domain.GeoPoint) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := normalizeLon(ring[i].Lon-p.Lon), ring[i].Lat-p.Lat
		xj, yj := normalizeLon(ring[j].Lon-p.Lon), ring[j].Lat-p.Lat
		if (yi > 0) != (yj > 0) {
			xCross := xi + (0-yi)*(xj-xi)/(yj-yi)
			if xCross > 0 {
				inside = !inside
			}
		}
	}
	return inside
}

// DistanceToRing is the shortest distance in meters from p to any edge of
// the ring.
func DistanceToRing(p domain.GeoPoint, ring []domain.GeoPoint) float64 {
	best := math.Inf(1)
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		ax, ay := project(p, ring[j])
		bx, by := project(p, ring[i])
		if d := distanceToSegment(ax, ay, bx, by); d < best {
			best = d
		}
	}
	return best
}

// distanceToSegment measures from the origin to segment ab.
func distanceToSegment(ax, ay, bx, by float64) float64 {
	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	t := 0.0
	if lenSq > 0 {
		t = -(ax*dx + ay*dy) / lenSq
		t = math.Max(0, math.Min(1, t))
	}
	cx, cy := ax+t*dx, ay+t*dy
	return math.Hypot(cx, cy)
}

// ZoneDistance is the signed distance from p to the zone boundary: negative
// inside, zero on the boundary, positive outside.
func ZoneDistance(z *domain.HazardZone, p domain.GeoPoint) float64 {
	if z.HasPolygon() {
		d := DistanceToRing(p, z.Polygon)
		if PointInPolygon(p, z.Polygon) {
			return -d
		}
		return d
	}
	return Haversine(z.Center, p) - z.Radius
}

// ZoneReach is the radius of the smallest disc around the zone center that
// holds the whole geometry.
func ZoneReach(z *domain.HazardZone) float64 {
	reach := z.Radius
	for _, v := range z.Polygon {
		if d := Haversine(z.Center, v); d > reach {
			reach = d
		}
	}
	return reach
}

// discBounds returns the lat/lon box enclosing the disc. fullLon is set
// when the disc touches a pole and every longitude must be covered.
func discBounds(center domain.GeoPoint, radius float64) (minLat, maxLat, minLon, maxLon float64, fullLon bool) {
	dLat := toDeg(radius / EarthRadiusMeters)
	minLat = center.Lat - dLat
	maxLat = center.Lat + dLat
	if minLat <= -90 || maxLat >= 90 {
		return math.Max(minLat, -90), math.Min(maxLat, 90), -180, 180, true
	}
	widest := math.Max(math.Abs(minLat), math.Abs(maxLat))
	dLon := dLat / math.Cos(toRad(widest))
	if dLon >= 180 {
		return minLat, maxLat, -180, 180, true
	}
	return minLat, maxLat, center.Lon - dLon, center.Lon + dLon, false
}
