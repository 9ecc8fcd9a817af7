package domain

import "time"

type AlertStatus string

const (
	AlertActive  AlertStatus = "active"
	AlertCleared AlertStatus = "cleared"
)

// AlertEvent records one emission for a (vehicle, zone) pair. A raise and its
// matching clear share the same ID.
type AlertEvent struct {
	ID              string      `json:"alertId"`
	VehicleID       string      `json:"vehicleId"`
	CompanyID       string      `json:"companyId,omitempty"`
	ShipmentID      string      `json:"shipmentId,omitempty"`
	ZoneID          string      `json:"zoneId"`
	ZoneName        string      `json:"zoneName"`
	Severity        Severity    `json:"severity"`
	DistanceMeters  float64     `json:"distanceMeters"`
	Lat             float64     `json:"latitude"`
	Lon             float64     `json:"longitude"`
	SampleTimestamp time.Time   `json:"sampleTimestamp"`
	EmittedAt       time.Time   `json:"emittedAt"`
	Status          AlertStatus `json:"status"`
	CooldownSeconds int         `json:"cooldownSeconds"`
	AcknowledgedBy  string      `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt  *time.Time  `json:"acknowledgedAt,omitempty"`
	ClearedAt       *time.Time  `json:"clearedAt,omitempty"`
}

func (a *AlertEvent) Kind() string {
	if a.Status == AlertCleared {
		return KindAlertCleared
	}
	return KindAlertRaised
}
