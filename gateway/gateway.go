// Package gateway is the Session Gateway (§4.J): accepts authenticated
// duplex sessions, registers each with the Event Bus, and forwards
// published events to the client as they arrive.
//
// Grounded on the reference's websocket/manager.go hub pattern
// (Client/readPump/writePump, ping/pong keepalive deadlines), corrected
// on two points the reference gets wrong:
//   - the reference reads auth claims from r.Context(), which is only
//     populated if an auth middleware ran earlier in the chain for this
//     exact route; its own router never mounts one in front of /ws, so
//     every WebSocket connection is silently anonymous. This gateway
//     verifies a bearer token passed as an explicit `token` query
//     parameter at upgrade time instead, so the handshake itself proves
//     identity regardless of routing.
//   - the reference keys one client by a single ID, closing the door on
//     multiple tabs per user; this gateway registers every connection
//     with eventbus.Bus.Register, which already supports multiple
//     concurrent queues per user.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"server-backend/auth"
	"server-backend/cache"
	"server-backend/eventbus"
	"server-backend/middleware"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256

	// presenceTTL must exceed pingInterval so a connected session's
	// presence never expires between keepalive refreshes.
	presenceTTL = 2 * time.Minute
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway upgrades authenticated HTTP requests to WebSocket sessions.
type Gateway struct {
	bus        *eventbus.Bus
	jwtManager *auth.JWTManager
	presence   *cache.Cache
	validator  *middleware.WebSocketValidator
	logger     *zap.Logger
}

func New(bus *eventbus.Bus, jwtManager *auth.JWTManager, presence *cache.Cache, logger *zap.Logger) *Gateway {
	return &Gateway{
		bus: bus, jwtManager: jwtManager, presence: presence,
		validator: middleware.NewWebSocketValidator(logger, maxMessageSize),
		logger:    logger,
	}
}

// HandleUpgrade verifies the ?token= query parameter and, on success,
// upgrades the connection and starts its read/write pumps.
func (g *Gateway) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		http.Error(w, "missing token query parameter", http.StatusUnauthorized)
		return
	}
	claims, err := g.jwtManager.VerifyToken(tokenString)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		http.Error(w, "invalid token subject", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	queue := g.bus.Register(userID)
	session := &session{
		userID:    userID,
		conn:      conn,
		bus:       g.bus,
		queue:     queue,
		control:   make(chan []byte, 8),
		presence:  g.presence,
		validator: g.validator,
		logger:    g.logger,
	}

	g.presence.SetUserOnline(r.Context(), userID.String(), presenceTTL)
	g.bus.Publish(userID, eventbus.Event{Type: eventbus.Connected, Data: userID})

	go session.outboundPump()
	go session.inboundPump()
}

// session is one upgraded connection: an inbound pump reading client
// control messages and an outbound pump forwarding the user's event
// queue to the socket.
type session struct {
	userID    uuid.UUID
	conn      *websocket.Conn
	bus       *eventbus.Bus
	queue     *eventbus.Queue
	control   chan []byte
	presence  *cache.Cache
	validator *middleware.WebSocketValidator
	logger    *zap.Logger
}

// inboundPump reads control frames until the connection closes, then
// unregisters the session's queue so Publish stops targeting it and
// clears its presence.
func (s *session) inboundPump() {
	defer func() {
		s.bus.Unregister(s.userID, s.queue)
		s.presence.SetUserOffline(context.Background(), s.userID.String())
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.Stringer("user_id", s.userID), zap.Error(err))
			}
			return
		}
		data, err := s.validator.ValidateMessage(raw)
		if err != nil {
			s.logger.Debug("rejected control frame", zap.Stringer("user_id", s.userID), zap.Error(err))
			continue
		}
		switch data["type"] {
		case "ping":
			pong, _ := json.Marshal(map[string]any{"type": "pong", "time": time.Now().UTC()})
			select {
			case s.control <- pong:
			default:
			}
		case "subscribe":
			// registration already subscribes this connection to every
			// event published for its user; nothing further to do.
		}
	}
}

// outboundPump drains the session's event queue to the socket, sending
// keepalive pings on pingInterval.
func (s *session) outboundPump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case event, ok := <-s.queue.Receive():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("event marshal failed", zap.Error(err))
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case payload := <-s.control:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.presence.SetUserOnline(context.Background(), s.userID.String(), presenceTTL)
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
