package subscriber

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
)

const TopicPattern = "/fleet/vehicle/+/location"

type ingester interface {
	Ingest(ctx context.Context, sample domain.LocationSample) error
}

// LocationSubscriber feeds samples from vehicle agents behind the MQTT
// broker into the tracking pipeline. The vehicle id comes from the topic.
type LocationSubscriber struct {
	client  mqtt.Client
	tracker ingester
	logger  *slog.Logger
	now     func() time.Time
}

func NewLocationSubscriber(client mqtt.Client, tracker ingester, logger *slog.Logger) *LocationSubscriber {
	return &LocationSubscriber{
		client:  client,
		tracker: tracker,
		logger:  logger.With("component", "mqtt_subscriber"),
		now:     time.Now,
	}
}

func (s *LocationSubscriber) Start() error {
	token := s.client.Subscribe(TopicPattern, 1, s.handleMessage)
	token.Wait()
	return token.Error()
}

func (s *LocationSubscriber) Stop() error {
	token := s.client.Unsubscribe(TopicPattern)
	token.Wait()
	return token.Error()
}

func (s *LocationSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	vehicleID, ok := vehicleFromTopic(msg.Topic())
	if !ok {
		s.logger.Warn("unexpected topic", "topic", msg.Topic())
		return
	}

	var p domain.LocationUpdatePayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		s.logger.Warn("invalid location message", "vehicle_id", vehicleID, "error", err)
		return
	}
	if p.VehicleID != "" && p.VehicleID != vehicleID {
		s.logger.Warn("vehicle id does not match topic", "vehicle_id", vehicleID, "payload_vehicle_id", p.VehicleID)
		return
	}
	p.VehicleID = vehicleID

	if err := s.tracker.Ingest(context.Background(), p.ToSample(s.now().UTC())); err != nil {
		s.logger.Warn("location rejected", "vehicle_id", vehicleID, "code", domain.KindOf(err).Code(), "error", err)
	}
}

// vehicleFromTopic extracts <id> from /fleet/vehicle/<id>/location.
func vehicleFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, "/fleet/vehicle/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/location")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// LocationTopic is the topic a vehicle agent publishes on.
func LocationTopic(vehicleID string) string {
	return "/fleet/vehicle/" + vehicleID + "/location"
}
