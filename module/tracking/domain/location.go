package domain

import "time"

// LocationSample is one GPS fix from a vehicle. Samples are immutable once
// accepted; CompanyID is stamped at ingress from the vehicle's owner.
type LocationSample struct {
	VehicleID  string    `json:"vehicleId"`
	CompanyID  string    `json:"companyId,omitempty"`
	DriverID   string    `json:"driverId,omitempty"`
	ShipmentID string    `json:"shipmentId,omitempty"`
	Lat        float64   `json:"latitude"`
	Lon        float64   `json:"longitude"`
	Speed      float64   `json:"speed"`
	Heading    *float64  `json:"heading,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Altitude   *float64  `json:"altitude,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func (s *LocationSample) Point() GeoPoint {
	return GeoPoint{Lat: s.Lat, Lon: s.Lon}
}

// SpeedKmh converts the sample speed from m/s.
func (s *LocationSample) SpeedKmh() float64 {
	return s.Speed * 3.6
}

type HistoryQuery struct {
	VehicleID string
	Since     time.Time
	Until     time.Time
	Limit     int
}

type VehicleStats struct {
	VehicleID           string         `json:"vehicleId"`
	BySeverity          map[string]int `json:"bySeverity"`
	ByZone              map[string]int `json:"byZone"`
	TotalDistanceMeters float64        `json:"totalDistanceMeters"`
	SampleCount         int            `json:"sampleCount"`
}
