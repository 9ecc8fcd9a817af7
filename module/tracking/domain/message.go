package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound frame types.
const (
	KindAuth             = "auth"
	KindLocationUpdateIn = "tracking.location.update"
	KindSubscribe        = "tracking.subscribe"
	KindUnsubscribe      = "tracking.unsubscribe"
	KindAcknowledge      = "alert.acknowledge"
	KindPing             = "ping"
)

// Outbound frame types.
const (
	KindAuthOK           = "auth.ok"
	KindAuthErr          = "auth.err"
	KindPong             = "pong"
	KindError            = "error"
	KindSubscribed       = "tracking.subscribed"
	KindUnsubscribed     = "tracking.unsubscribed"
	KindLocationUpdate   = "location.update"
	KindAlertRaised      = "alert.raised"
	KindAlertCleared     = "alert.cleared"
	KindAlertAcknowledge = "alert.acknowledged"
	KindZoneChanged      = "zone.changed"
)

// Frame is the JSON envelope of every message on the session channel.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewFrame(kind, id string, payload any) (Frame, error) {
	f := Frame{Type: kind, ID: id}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		f.Payload = b
	}
	return f, nil
}

func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, Wrap(KindBadMessage, "malformed frame", err)
	}
	if f.Type == "" {
		return Frame{}, NewError(KindBadMessage, "frame: type required")
	}
	return f, nil
}

// DecodePayload unmarshals the frame payload into v.
func (f Frame) DecodePayload(v any) error {
	if len(f.Payload) == 0 {
		return NewError(KindBadMessage, f.Type+": payload required")
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return Wrap(KindBadMessage, f.Type+": invalid payload", err)
	}
	return nil
}

type AuthPayload struct {
	Token string `json:"token"`
}

type AuthOKPayload struct {
	UserID    string `json:"userId"`
	CompanyID string `json:"companyId"`
	Role      Role   `json:"role"`
}

type AuthErrPayload struct {
	Reason string `json:"reason"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type TopicPayload struct {
	Topic string `json:"topic"`
}

type AcknowledgePayload struct {
	AlertID string `json:"alertId"`
}

type LocationUpdatePayload struct {
	VehicleID  string     `json:"vehicleId"`
	DriverID   string     `json:"driverId,omitempty"`
	ShipmentID string     `json:"shipmentId,omitempty"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Speed      *float64   `json:"speed,omitempty"`
	Heading    *float64   `json:"heading,omitempty"`
	Accuracy   *float64   `json:"accuracy,omitempty"`
	Altitude   *float64   `json:"altitude,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// ToSample builds a sample, filling a missing timestamp with receivedAt.
// Timestamps are cut to the microsecond, the resolution they are stored at.
func (p *LocationUpdatePayload) ToSample(receivedAt time.Time) LocationSample {
	receivedAt = receivedAt.Truncate(time.Microsecond)
	s := LocationSample{
		VehicleID:  p.VehicleID,
		DriverID:   p.DriverID,
		ShipmentID: p.ShipmentID,
		Lat:        p.Latitude,
		Lon:        p.Longitude,
		Heading:    p.Heading,
		Accuracy:   p.Accuracy,
		Altitude:   p.Altitude,
		Timestamp:  receivedAt,
		ReceivedAt: receivedAt,
	}
	if p.Speed != nil {
		s.Speed = *p.Speed
	}
	if p.Timestamp != nil {
		s.Timestamp = p.Timestamp.Truncate(time.Microsecond)
	}
	return s
}

type LocationBroadcast struct {
	VehicleID  string    `json:"vehicleId"`
	DriverID   string    `json:"driverId,omitempty"`
	ShipmentID string    `json:"shipmentId,omitempty"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Speed      float64   `json:"speed"`
	Heading    *float64  `json:"heading,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewLocationBroadcast(s *LocationSample) LocationBroadcast {
	return LocationBroadcast{
		VehicleID:  s.VehicleID,
		DriverID:   s.DriverID,
		ShipmentID: s.ShipmentID,
		Latitude:   s.Lat,
		Longitude:  s.Lon,
		Speed:      s.Speed,
		Heading:    s.Heading,
		Timestamp:  s.Timestamp,
	}
}

type AlertPayload struct {
	AlertID         string      `json:"alertId"`
	VehicleID       string      `json:"vehicleId"`
	ZoneID          string      `json:"zoneId"`
	ZoneName        string      `json:"zoneName"`
	Severity        Severity    `json:"severity"`
	DistanceMeters  float64     `json:"distanceMeters"`
	Latitude        float64     `json:"latitude"`
	Longitude       float64     `json:"longitude"`
	EmittedAt       time.Time   `json:"emittedAt"`
	Status          AlertStatus `json:"status"`
	CooldownSeconds int         `json:"cooldownSeconds"`
	AcknowledgedBy  string      `json:"acknowledgedBy,omitempty"`
}

func NewAlertPayload(a *AlertEvent) AlertPayload {
	return AlertPayload{
		AlertID:         a.ID,
		VehicleID:       a.VehicleID,
		ZoneID:          a.ZoneID,
		ZoneName:        a.ZoneName,
		Severity:        a.Severity,
		DistanceMeters:  a.DistanceMeters,
		Latitude:        a.Lat,
		Longitude:       a.Lon,
		EmittedAt:       a.EmittedAt,
		Status:          a.Status,
		CooldownSeconds: a.CooldownSeconds,
		AcknowledgedBy:  a.AcknowledgedBy,
	}
}
