// Package ws is the session gateway: long-lived websocket connections that
// report locations, manage subscriptions and receive hub fan-out.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/hub"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/metrics"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/cache"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 64 << 10
)

type tracker interface {
	Report(ctx context.Context, caller domain.CallerIdentity, sample domain.LocationSample, reply func(error)) error
	Acknowledge(ctx context.Context, caller domain.CallerIdentity, alertID string) (*domain.AlertEvent, error)
}

type authenticator interface {
	Resolve(ctx context.Context, token string) (domain.CallerIdentity, error)
}

type Config struct {
	QueueSize   int
	IdleTimeout time.Duration
	RatePerSec  float64
	RateBurst   int
	AuthTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:   256,
		IdleTimeout: 60 * time.Second,
		RatePerSec:  50,
		RateBurst:   100,
		AuthTimeout: 2 * time.Second,
	}
}

type Gateway struct {
	hub     *hub.Hub
	tracker tracker
	auth    authenticator
	owners  cache.OwnershipResolver
	cfg     Config
	logger  *slog.Logger

	upgrader websocket.Upgrader
	now      func() time.Time

	base context.Context
	stop context.CancelFunc
}

func NewGateway(cfg Config, h *hub.Hub, t tracker, a authenticator, owners cache.OwnershipResolver, logger *slog.Logger) *Gateway {
	base, stop := context.WithCancel(context.Background())
	return &Gateway{
		hub:     h,
		tracker: t,
		auth:    a,
		owners:  owners,
		cfg:     cfg,
		logger:  logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now:  time.Now,
		base: base,
		stop: stop,
	}
}

// Close ends every open session. Hijacked connections are not closed by the
// HTTP server's shutdown.
func (g *Gateway) Close() {
	g.stop()
}

func (g *Gateway) Register(r gin.IRouter) {
	r.GET("/ws/tracking", g.Serve)
}

// Serve upgrades the request. A token in the Authorization header or the
// token query parameter authenticates the connection up front; without one
// the connection starts anonymous and may send an auth frame later.
func (g *Gateway) Serve(c *gin.Context) {
	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
	}
	caller, authErr := g.resolve(c.Request.Context(), token)

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := g.newSession(conn)
	if token != "" {
		s.authenticated(caller, authErr)
	}
	s.run()
}

func (g *Gateway) resolve(ctx context.Context, token string) (domain.CallerIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.AuthTimeout)
	defer cancel()
	return g.auth.Resolve(ctx, token)
}

type session struct {
	g       *Gateway
	conn    *websocket.Conn
	client  *hub.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	// caller is only touched by the reader goroutine.
	caller domain.CallerIdentity
	cancel context.CancelFunc
}

func (g *Gateway) newSession(conn *websocket.Conn) *session {
	id := uuid.NewString()
	return &session{
		g:       g,
		conn:    conn,
		client:  hub.NewClient(id, g.cfg.QueueSize),
		limiter: rate.NewLimiter(rate.Limit(g.cfg.RatePerSec), g.cfg.RateBurst),
		logger:  g.logger.With("conn_id", id),
	}
}

func (s *session) run() {
	ctx, cancel := context.WithCancel(s.g.base)
	s.cancel = cancel
	metrics.Connections.Inc()
	s.logger.Info("connection opened")

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(ctx)
	}()

	s.readLoop(ctx)
	cancel()
	<-done

	s.g.hub.UnsubscribeAll(s.client)
	s.client.Outbox().Close()
	_ = s.conn.Close()
	metrics.Connections.Dec()
	s.logger.Info("connection closed", "user_id", s.caller.UserID, "dropped", s.client.Outbox().Dropped())
}

// readLoop owns the connection's inbound side. A panic while handling a
// frame closes this connection only.
func (s *session) readLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("connection handler panicked",
				"user_id", s.caller.UserID, "company_id", s.caller.CompanyID,
				"panic", r, "stack", string(debug.Stack()))
		}
	}()

	idle := s.g.cfg.IdleTimeout
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(s.g.now().Add(idle))
	s.conn.SetPingHandler(func(data string) error {
		_ = s.conn.SetReadDeadline(s.g.now().Add(idle))
		err := s.conn.WriteControl(websocket.PongMessage, []byte(data), s.g.now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read failed", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		_ = s.conn.SetReadDeadline(s.g.now().Add(idle))

		f, err := domain.DecodeFrame(data)
		if err != nil {
			s.replyError("", err)
			continue
		}
		if !s.limiter.Allow() {
			s.replyError(f.ID, domain.NewError(domain.KindRateLimited, "too many messages"))
			continue
		}
		s.handle(ctx, f)
	}
}

func (s *session) writeLoop(ctx context.Context) {
	outbox := s.client.Outbox()
	for {
		select {
		case <-ctx.Done():
			_ = s.conn.SetReadDeadline(s.g.now())
			s.flush(outbox.PopN(0))
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), s.g.now().Add(writeWait))
			return
		case <-outbox.Ready():
			if !s.flush(outbox.PopN(0)) {
				s.cancel()
				return
			}
		}
	}
}

func (s *session) flush(frames [][]byte) bool {
	for _, b := range frames {
		_ = s.conn.SetWriteDeadline(s.g.now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			s.logger.Debug("write failed", "error", err)
			return false
		}
	}
	return true
}

func (s *session) handle(ctx context.Context, f domain.Frame) {
	switch f.Type {
	case domain.KindPing:
		s.reply(domain.KindPong, f.ID, nil)
	case domain.KindAuth:
		var p domain.AuthPayload
		if err := f.DecodePayload(&p); err != nil {
			s.replyError(f.ID, err)
			return
		}
		caller, err := s.g.resolve(ctx, p.Token)
		s.authenticated(caller, err)
	case domain.KindLocationUpdateIn:
		s.handleLocation(ctx, f)
	case domain.KindSubscribe:
		s.handleSubscribe(ctx, f)
	case domain.KindUnsubscribe:
		var p domain.TopicPayload
		if err := f.DecodePayload(&p); err != nil {
			s.replyError(f.ID, err)
			return
		}
		t, err := domain.ParseTopic(p.Topic)
		if err != nil {
			s.replyError(f.ID, err)
			return
		}
		s.g.hub.Unsubscribe(s.client, t)
		s.reply(domain.KindUnsubscribed, f.ID, domain.TopicPayload{Topic: t.String()})
	case domain.KindAcknowledge:
		var p domain.AcknowledgePayload
		if err := f.DecodePayload(&p); err != nil {
			s.replyError(f.ID, err)
			return
		}
		if _, err := s.g.tracker.Acknowledge(ctx, s.caller, p.AlertID); err != nil {
			s.replyError(f.ID, err)
		}
	default:
		s.replyError(f.ID, domain.NewError(domain.KindBadMessage, "unknown frame type "+f.Type))
	}
}

// authenticated switches the connection's identity. Subscriptions made
// under a previous identity are dropped.
func (s *session) authenticated(caller domain.CallerIdentity, err error) {
	if err == nil && caller.Anonymous() {
		err = domain.NewError(domain.KindUnauthorized, "token required")
	}
	if err != nil {
		s.reply(domain.KindAuthErr, "", domain.AuthErrPayload{Reason: domain.MessageOf(err)})
		return
	}
	if !s.caller.Anonymous() && caller != s.caller {
		s.g.hub.UnsubscribeAll(s.client)
	}
	s.caller = caller
	s.logger = s.logger.With("user_id", caller.UserID, "company_id", caller.CompanyID)
	s.reply(domain.KindAuthOK, "", domain.AuthOKPayload{UserID: caller.UserID, CompanyID: caller.CompanyID, Role: caller.Role})
}

func (s *session) handleLocation(ctx context.Context, f domain.Frame) {
	var p domain.LocationUpdatePayload
	if err := f.DecodePayload(&p); err != nil {
		s.replyError(f.ID, err)
		return
	}
	if p.VehicleID == "" {
		s.replyError(f.ID, domain.NewError(domain.KindBadMessage, "vehicleId: required"))
		return
	}
	sample := p.ToSample(s.g.now().UTC())
	id := f.ID
	logger := s.logger
	err := s.g.tracker.Report(ctx, s.caller, sample, func(err error) {
		if err == nil {
			return
		}
		if domain.KindOf(err) == domain.KindFatal {
			logger.Error("fatal evaluation error", "vehicle_id", sample.VehicleID, "error", err)
			s.cancel()
			return
		}
		if domain.KindOf(err).Surfaced() {
			s.replyError(id, err)
		}
	})
	if err != nil && domain.KindOf(err).Surfaced() {
		s.replyError(id, err)
	}
}

func (s *session) handleSubscribe(ctx context.Context, f domain.Frame) {
	var p domain.TopicPayload
	if err := f.DecodePayload(&p); err != nil {
		s.replyError(f.ID, err)
		return
	}
	t, err := domain.ParseTopic(p.Topic)
	if err != nil {
		s.replyError(f.ID, err)
		return
	}
	if err := s.authorizeTopic(ctx, t); err != nil {
		s.replyError(f.ID, err)
		return
	}
	s.g.hub.Subscribe(s.client, t, s.caller.CompanyID)
	s.reply(domain.KindSubscribed, f.ID, domain.TopicPayload{Topic: t.String()})
}

func (s *session) authorizeTopic(ctx context.Context, t domain.Topic) error {
	if t.Public() {
		return nil
	}
	if s.caller.Anonymous() {
		return domain.NewError(domain.KindUnauthorized, "authentication required for "+t.String())
	}
	if s.caller.IsAdmin() {
		return nil
	}
	var owner string
	var err error
	switch t.Kind {
	case domain.TopicFleet:
		owner = t.ID
	case domain.TopicVehicle:
		owner, err = s.lookup(ctx, s.g.owners.VehicleCompany, t.ID)
	case domain.TopicShipment:
		owner, err = s.lookup(ctx, s.g.owners.ShipmentCompany, t.ID)
	}
	if err != nil {
		return err
	}
	if owner != s.caller.CompanyID {
		return domain.NewError(domain.KindForbidden, "topic belongs to another company")
	}
	return nil
}

func (s *session) lookup(ctx context.Context, fn func(context.Context, string) (string, error), id string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.g.cfg.AuthTimeout)
	defer cancel()
	owner, err := fn(ctx, id)
	if errors.Is(err, cache.ErrNotFound) {
		return "", domain.NewError(domain.KindForbidden, "topic belongs to another company")
	}
	if err != nil {
		return "", domain.Wrap(domain.KindTransient, "ownership lookup failed", err)
	}
	return owner, nil
}

func (s *session) reply(kind, id string, payload any) {
	f, err := domain.NewFrame(kind, id, payload)
	if err != nil {
		s.logger.Error("build reply", "type", kind, "error", err)
		return
	}
	if err := s.client.Send(f); err != nil {
		s.logger.Error("encode reply", "type", kind, "error", err)
	}
}

func (s *session) replyError(id string, err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindUnknown || kind == domain.KindFatal {
		s.logger.Error("request failed", "error", err)
	}
	s.reply(domain.KindError, id, domain.ErrorPayload{Code: kind.Code(), Message: domain.MessageOf(err)})
}
