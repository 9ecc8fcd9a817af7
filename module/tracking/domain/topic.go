package domain

import (
	"fmt"
	"strings"
)

type TopicKind string

const (
	TopicFleet    TopicKind = "fleet:all"
	TopicVehicle  TopicKind = "vehicle"
	TopicShipment TopicKind = "shipment"
	TopicZone     TopicKind = "zone"
)

// Topic addresses a fan-out group: fleet:all:<companyId>, vehicle:<id>,
// shipment:<id> or zone:<id>.
type Topic struct {
	Kind TopicKind
	ID   string
}

func FleetTopic(companyID string) Topic   { return Topic{Kind: TopicFleet, ID: companyID} }
func VehicleTopic(vehicleID string) Topic { return Topic{Kind: TopicVehicle, ID: vehicleID} }
func ShipmentTopic(id string) Topic       { return Topic{Kind: TopicShipment, ID: id} }
func ZoneTopic(zoneID string) Topic       { return Topic{Kind: TopicZone, ID: zoneID} }

func (t Topic) String() string {
	return string(t.Kind) + ":" + t.ID
}

// Public topics may be subscribed by anonymous connections.
func (t Topic) Public() bool {
	return t.Kind == TopicZone
}

func ParseTopic(s string) (Topic, error) {
	if rest, ok := strings.CutPrefix(s, string(TopicFleet)+":"); ok {
		if rest == "" {
			return Topic{}, NewError(KindBadMessage, "topic: missing company id")
		}
		return FleetTopic(rest), nil
	}
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Topic{}, NewError(KindBadMessage, fmt.Sprintf("topic: malformed %q", s))
	}
	switch TopicKind(kind) {
	case TopicVehicle, TopicShipment, TopicZone:
		return Topic{Kind: TopicKind(kind), ID: id}, nil
	}
	return Topic{}, NewError(KindBadMessage, fmt.Sprintf("topic: unknown kind %q", kind))
}
