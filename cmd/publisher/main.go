package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomVehicleID() string {
	letter := string(charset[rand.Intn(26)])
	digits := fmt.Sprintf("%04d", rand.Intn(10000))
	suffix := string([]byte{charset[rand.Intn(26)], charset[rand.Intn(26)], charset[rand.Intn(26)]})
	return letter + digits + suffix
}

func getEnvFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// vehicle drives a noisy straight line through the hazard point so it
// enters, crosses and leaves the zone.
type vehicle struct {
	id       string
	lat, lon float64
	bearing  float64
}

func (v *vehicle) step(speed float64, dt time.Duration) {
	d := speed * dt.Seconds()
	v.bearing += (rand.Float64() - 0.5) * 0.2
	v.lat += d * math.Cos(v.bearing) / 111320
	v.lon += d * math.Sin(v.bearing) / (111320 * math.Cos(v.lat*math.Pi/180))
}

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <interval_seconds>\n", os.Args[0])
		os.Exit(1)
	}

	intervalSec, err := strconv.Atoi(os.Args[1])
	if err != nil || intervalSec <= 0 {
		fmt.Fprintf(os.Stderr, "error: interval must be a positive integer\n")
		os.Exit(1)
	}
	interval := time.Duration(intervalSec) * time.Second

	broker := getEnv("MQTT_BROKER", "tcp://localhost:1883")
	companyID := getEnv("COMPANY_ID", "demo")
	hazardLat := getEnvFloat("HAZARD_LAT", 18.5204)
	hazardLon := getEnvFloat("HAZARD_LON", 73.8567)

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("fleet-mock-publisher")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("mqtt connect: %v", token.Error())
	}
	defer client.Disconnect(250)

	fleet := make([]*vehicle, 5)
	for i := range fleet {
		bearing := rand.Float64() * 2 * math.Pi
		fleet[i] = &vehicle{
			id:      randomVehicleID(),
			lat:     hazardLat - 0.03*math.Cos(bearing),
			lon:     hazardLon - 0.03*math.Sin(bearing),
			bearing: bearing,
		}
	}

	// register ownership so the server accepts the samples
	rdb := redis.NewClient(&redis.Options{Addr: getEnv("REDIS_ADDR", "localhost:6379")})
	defer func() { _ = rdb.Close() }()
	for _, v := range fleet {
		if err := rdb.Set(context.Background(), "vehicle:owner:"+v.id, companyID, 0).Err(); err != nil {
			log.Fatalf("register %s: %v", v.id, err)
		}
	}

	log.Printf("connected to %s, publishing every %ds for company %s...", broker, intervalSec, companyID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		for _, v := range fleet {
			speed := 8 + rand.Float64()*15
			v.step(speed, interval)
			now := time.Now().UTC()
			msg := domain.LocationUpdatePayload{
				VehicleID: v.id,
				Latitude:  v.lat,
				Longitude: v.lon,
				Speed:     &speed,
				Timestamp: &now,
			}

			payload, _ := json.Marshal(msg)
			topic := fmt.Sprintf("/fleet/vehicle/%s/location", v.id)

			token := client.Publish(topic, 1, false, payload)
			token.Wait()

			log.Printf("published to %s: %s", topic, payload)
		}
	}
}
