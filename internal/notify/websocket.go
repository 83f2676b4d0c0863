package notify

import (
	"alcyxob/video-app/internal/domain"
	"alcyxob/video-app/internal/logging"
	"alcyxob/video-app/internal/metrics"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 4096
)

// TokenVerifier resolves a bearer token to the identity it was issued for.
type TokenVerifier interface {
	VerifyToken(token string) (domain.Identity, error)
}

// ServerConfig configures the WebSocket endpoint. Hub is required; Verifier
// is needed when RequireAuth is set or clients send tokens.
type ServerConfig struct {
	Hub      *Hub
	Verifier TokenVerifier
	// RequireAuth rejects joins from connections that did not present a token.
	RequireAuth    bool
	AllowedOrigins []string
	SendBuffer     int
	PingInterval   time.Duration
	Logger         *slog.Logger
}

// Server upgrades HTTP requests to WebSocket connections attached to the hub.
type Server struct {
	hub          *Hub
	verifier     TokenVerifier
	requireAuth  bool
	sendBuffer   int
	pingInterval time.Duration
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

// NewServer builds the endpoint. A non-positive SendBuffer defaults to 16 and
// a zero PingInterval disables keepalive pings.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		hub:          cfg.Hub,
		verifier:     cfg.Verifier,
		requireAuth:  cfg.RequireAuth,
		sendBuffer:   cfg.SendBuffer,
		pingInterval: cfg.PingInterval,
		logger:       logging.WithComponent(cfg.Logger, "realtime"),
	}
	if s.sendBuffer <= 0 {
		s.sendBuffer = 16
	}
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(origins) == 0 {
				return true
			}
			_, ok := origins[origin]
			return ok
		},
	}
	return s
}

type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type conn struct {
	id       string
	server   *Server
	ws       *websocket.Conn
	identity *domain.Identity
	send     chan []byte
	closed   sync.Once
}

// ServeHTTP performs the upgrade. A token, when present, must be valid; it
// pins the connection to the token's user id.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var identity *domain.Identity
	if token := bearerToken(r); token != "" {
		if s.verifier == nil {
			http.Error(w, "token verification unavailable", http.StatusUnauthorized)
			return
		}
		id, err := s.verifier.VerifyToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		identity = &id
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &conn{
		id:       uuid.NewString(),
		server:   s,
		ws:       ws,
		identity: identity,
		send:     make(chan []byte, s.sendBuffer),
	}
	s.hub.Attach(c.id, c)
	metrics.RealtimeConnections.Inc()
	s.logger.Info("client connected", "connId", c.id)

	go c.writeLoop()
	go c.readLoop()
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// Send queues payload without blocking.
func (c *conn) Send(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *conn) reply(event string, data any) {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	c.Send(payload)
}

func (c *conn) readLoop() {
	defer c.close()
	c.ws.SetReadLimit(maxInboundSize)
	if c.server.pingInterval > 0 {
		pongWait := 2 * c.server.pingInterval
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		var msg inboundMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debug("websocket read failed", "connId", c.id, "error", err)
			}
			return
		}
		switch msg.Event {
		case "join":
			c.handleJoin(msg.Data)
		default:
			c.reply("error", "unknown event")
		}
	}
}

func (c *conn) handleJoin(data json.RawMessage) {
	var userID string
	if err := json.Unmarshal(data, &userID); err != nil || strings.TrimSpace(userID) == "" {
		c.reply("error", "join requires a user id")
		return
	}
	userID = strings.TrimSpace(userID)

	switch {
	case c.identity != nil && c.identity.UserID != userID:
		c.reply("error", "cannot join another user's address")
		return
	case c.identity == nil && c.server.requireAuth:
		c.reply("error", "authentication required")
		return
	}

	if err := c.server.hub.Join(c.id, userID); err != nil {
		c.reply("error", err.Error())
		return
	}
	c.server.logger.Info("client joined", "connId", c.id, "userId", userID)
	c.reply("joined", userID)
}

func (c *conn) writeLoop() {
	var tick <-chan time.Time
	if c.server.pingInterval > 0 {
		ticker := time.NewTicker(c.server.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.ws.Close()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-tick:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close detaches from the hub before closing send, so Emit never writes to a
// closed channel.
func (c *conn) close() {
	c.closed.Do(func() {
		c.server.hub.Leave(c.id)
		close(c.send)
		metrics.RealtimeConnections.Dec()
		c.server.logger.Info("client disconnected", "connId", c.id)
	})
}
