package config

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// HealthChecker reports dependency status. A nil MQTT client means MQTT
// ingress is disabled and is left out of the report.
type HealthChecker struct {
	db       *sql.DB
	redis    *redis.Client
	amqpConn *amqp.Connection
	mqtt     mqtt.Client
}

func NewHealthChecker(db *sql.DB, redisClient *redis.Client, amqpConn *amqp.Connection, mqttClient mqtt.Client) *HealthChecker {
	return &HealthChecker{db: db, redis: redisClient, amqpConn: amqpConn, mqtt: mqttClient}
}

func (h *HealthChecker) Register(r *gin.Engine) {
	r.GET("/healthz", h.Handle)
}

func (h *HealthChecker) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}
	check := func(name string, err error) {
		if err != nil {
			deps[name] = gin.H{"status": "down", "error": err.Error()}
			status = http.StatusServiceUnavailable
			return
		}
		deps[name] = gin.H{"status": "up"}
	}

	check("postgres", h.db.PingContext(ctx))
	check("redis", h.redis.Ping(ctx).Err())

	if h.amqpConn.IsClosed() {
		check("rabbitmq", amqp.ErrClosed)
	} else {
		check("rabbitmq", nil)
	}

	if h.mqtt != nil {
		if !h.mqtt.IsConnected() {
			deps["mqtt"] = gin.H{"status": "down", "error": "not connected"}
			status = http.StatusServiceUnavailable
		} else {
			deps["mqtt"] = gin.H{"status": "up"}
		}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":       overall,
		"dependencies": deps,
	})
}
