package signaling

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signal"
)

const (
	defaultIdleTimeout     = 60 * time.Second
	defaultPingInterval    = 20 * time.Second
	defaultMaxMessageBytes = 64 * 1024
)

type Config struct {
	// Registry defaults to a fresh registry.
	Registry *relay.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// AllowedOrigins follows origin.NewPolicy.
	AllowedOrigins []string

	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes int64
	// MaxMessagesPerSecond bounds inbound candidate, malformed and unknown
	// frames per connection, with a burst of twice the rate. Zero disables the
	// limit.
	MaxMessagesPerSecond int

	// Clock drives the per-connection rate limiter. Defaults to the wall clock.
	Clock ratelimit.Clock
}

// Server accepts participant WebSockets and routes their messages through a
// relay.Registry.
type Server struct {
	registry *relay.Registry
	metrics  *metrics.Metrics
	log      *slog.Logger
	origins  origin.Policy
	upgrader websocket.Upgrader
	clock    ratelimit.Clock

	idleTimeout  time.Duration
	pingInterval time.Duration
	maxBytes     int64
	maxPerSecond int

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	closed bool
}

func NewServer(cfg Config) *Server {
	s := &Server{
		registry:     cfg.Registry,
		metrics:      cfg.Metrics,
		log:          cfg.Logger,
		origins:      origin.NewPolicy(cfg.AllowedOrigins),
		clock:        cfg.Clock,
		idleTimeout:  cfg.IdleTimeout,
		pingInterval: cfg.PingInterval,
		maxBytes:     cfg.MaxMessageBytes,
		maxPerSecond: cfg.MaxMessagesPerSecond,
		conns:        make(map[*wsConn]struct{}),
	}
	if s.registry == nil {
		s.registry = relay.NewRegistry()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.clock == nil {
		s.clock = ratelimit.RealClock{}
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = defaultIdleTimeout
	}
	if s.pingInterval <= 0 || s.pingInterval >= s.idleTimeout {
		s.pingInterval = min(defaultPingInterval, s.idleTimeout/2)
	}
	if s.maxBytes <= 0 {
		s.maxBytes = defaultMaxMessageBytes
	}
	s.upgrader = websocket.Upgrader{
		// Origin is checked in ServeHTTP so the rejection can be counted and
		// logged.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

func (s *Server) Registry() *relay.Registry { return s.registry }

// RegisterRoutes mounts the signaling endpoint at the root path and at
// /signal.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /{$}", s)
	mux.Handle("GET /signal", s)
}

// Gauges exposes role occupancy and open connections for /metrics.
func (s *Server) Gauges() []metrics.Gauge {
	occupied := func(c relay.Conn) float64 {
		if c == nil {
			return 0
		}
		return 1
	}
	return []metrics.Gauge{
		{
			Name:  "aero_webrtc_signal_relay_sender_registered",
			Help:  "1 when a connection holds the sender role.",
			Value: func() float64 { return occupied(s.registry.Sender()) },
		},
		{
			Name:  "aero_webrtc_signal_relay_receiver_registered",
			Help:  "1 when a connection holds the receiver role.",
			Value: func() float64 { return occupied(s.registry.Receiver()) },
		},
		{
			Name:  "aero_webrtc_signal_relay_open_connections",
			Help:  "Open signaling WebSocket connections.",
			Value: func() float64 { return float64(s.OpenConns()) },
		},
	}
}

func (s *Server) OpenConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close sends a going-away close frame to every open connection and closes
// it. Connections accepted afterwards are refused.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.Close()
	}
}

func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.origins.Allow(r); !ok {
		s.metrics.Inc(metrics.ConnOriginRejected)
		s.log.Warn("signaling_origin_rejected",
			"origin", r.Header.Get("Origin"),
			"remote_addr", r.RemoteAddr,
		)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	c := newWSConn(ws)
	if !s.track(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.Close()
		return
	}
	s.metrics.Inc(metrics.ConnAccepted)

	log := s.log.With("conn_id", c.ID())
	log.Info("signaling_conn_opened", "remote_addr", r.RemoteAddr)

	s.serveConn(c, log)
}

func (s *Server) serveConn(c *wsConn, log *slog.Logger) {
	defer func() {
		evicted := s.registry.Evict(c)
		s.metrics.Add(metrics.RoleEvicted, uint64(len(evicted)))
		c.Close()
		s.untrack(c)
		s.metrics.Inc(metrics.ConnClosed)
		log.Info("signaling_conn_closed", "evicted_roles", roleNames(evicted))
	}()

	c.ws.SetReadLimit(s.maxBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))
	})
	go c.keepalive(s.pingInterval)

	var limiter *ratelimit.TokenBucket
	if s.maxPerSecond > 0 {
		n := int64(s.maxPerSecond)
		limiter = ratelimit.NewTokenBucket(s.clock, 2*n, n)
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case isTimeout(err):
				log.Info("signaling_conn_idle_timeout")
				c.closeWith(websocket.CloseNormalClosure, "idle timeout")
			case errors.Is(err, websocket.ErrReadLimit):
				// The library already sent CloseMessageTooBig.
				log.Warn("signaling_message_too_large", "limit_bytes", s.maxBytes)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				log.Debug("signaling_conn_read_error", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))

		msg, err := signal.Parse(data)
		if charged(msg) && limiter != nil && !limiter.Allow(1) {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			log.Debug("signaling_message_dropped", "reason", "rate_limited")
			continue
		}
		if err != nil {
			reason := metrics.DropReasonMalformed
			if errors.Is(err, signal.ErrUnknownKind) {
				reason = metrics.DropReasonIgnored
			}
			s.metrics.Inc(reason)
			log.Debug("signaling_message_dropped", "reason", reason, "err", err)
			continue
		}

		s.record(log, msg, s.registry.Route(c, msg))
	}
}

// charged reports whether msg draws from the connection's token bucket.
// Role declarations, offers and answers are never rate limited.
func charged(msg signal.Message) bool {
	switch msg.(type) {
	case signal.DeclareSender, signal.DeclareReceiver, signal.Offer, signal.Answer:
		return false
	}
	return true
}

func (s *Server) record(log *slog.Logger, msg signal.Message, res relay.Result) {
	switch res.Outcome {
	case relay.OutcomeRegistered:
		s.metrics.Inc(metrics.RoleRegistered)
		if res.Displaced != nil {
			s.metrics.Inc(metrics.RoleDisplaced)
			log.Info("signaling_role_displaced", "role", res.Role.String(), "displaced_conn_id", res.Displaced.ID())
		} else {
			log.Info("signaling_role_registered", "role", res.Role.String())
		}
	case relay.OutcomeForwarded:
		s.metrics.Inc(metrics.MessageForwarded)
		log.Debug("signaling_message_forwarded", "type", string(msg.Kind()), "to_conn_id", res.Target.ID())
	case relay.OutcomeNoCounterpart:
		s.metrics.Inc(metrics.DropReasonNoCounterpart)
		log.Debug("signaling_message_dropped", "type", string(msg.Kind()), "reason", res.Outcome.String())
	case relay.OutcomeUnauthorized:
		s.metrics.Inc(metrics.DropReasonUnauthorized)
		log.Debug("signaling_message_dropped", "type", string(msg.Kind()), "reason", res.Outcome.String(), "err", res.Err)
	case relay.OutcomeSendFailed:
		s.metrics.Inc(metrics.DropReasonSendFailed)
		log.Warn("signaling_message_dropped", "type", string(msg.Kind()), "reason", res.Outcome.String(), "err", res.Err)
	default:
		s.metrics.Inc(metrics.DropReasonIgnored)
		log.Debug("signaling_message_dropped", "type", string(msg.Kind()), "reason", res.Outcome.String())
	}
}

func roleNames(roles []relay.Role) string {
	if len(roles) == 0 {
		return ""
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.String()
	}
	return strings.Join(names, ",")
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
