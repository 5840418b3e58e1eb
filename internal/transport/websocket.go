package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tidegate/tidegate/internal/router"
	"github.com/tidegate/tidegate/internal/subscription"
	"github.com/tidegate/tidegate/internal/user"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server glues the router core and the subscription resolver to
// transport-level handlers.
type Server struct {
	router       *router.Router
	subs         *subscription.Resolver
	logger       *logrus.Logger
	pollInterval time.Duration
}

// NewServer builds a transport Server. pollInterval governs how often a
// connection re-polls the router; a non-positive value means 100ms. The
// WebSocket ping cadence is the fixed wsPingPeriod.
func NewServer(r *router.Router, subs *subscription.Resolver, logger *logrus.Logger, pollInterval time.Duration) *Server {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &Server{router: r, subs: subs, logger: logger, pollInterval: pollInterval}
}

type outboundMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ServeWS handles GET /api/v1/streaming: resolves a single subscription from
// the query string, upgrades to a WebSocket, and streams matching events
// until the client disconnects.
func (s *Server) ServeWS(c *gin.Context) {
	sub, err := s.subs.Resolve(c.Request.Context(), wsRequest(c))
	if err != nil {
		writeResolveError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Error("Failed to upgrade websocket connection")
		return
	}

	clientID := uuid.New()
	if err := s.router.Register(clientID, sub.Timeline, sub.HashtagName); err != nil {
		s.logger.WithError(err).Warn("Failed to register websocket client")
		conn.Close()
		return
	}
	defer s.router.Unregister(clientID)

	done := make(chan struct{})
	go s.wsReadPump(conn, done)
	s.wsWritePump(conn, clientID, sub, done)
}

// wsReadPump only drains the socket to process control frames (ping/pong,
// close); this deployment resolves one stream per connection and never
// expects application-level messages from the client.
func (s *Server) wsReadPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) wsWritePump(conn *websocket.Conn, clientID uuid.UUID, sub subscription.Subscription, done chan struct{}) {
	pollTicker := time.NewTicker(s.pollInterval)
	pingTicker := time.NewTicker(wsPingPeriod)
	defer func() {
		pollTicker.Stop()
		pingTicker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case <-pollTicker.C:
			for {
				ready := s.router.Poll(clientID)
				if !ready.Ok {
					break
				}
				if !admit(sub, ready.Event) {
					continue
				}
				msg := outboundMessage{Event: ready.Event.Kind, Payload: ready.Event.Payload}
				body, err := json.Marshal(msg)
				if err != nil {
					s.logger.WithError(err).Warn("Failed to marshal outbound websocket message")
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
					return
				}
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeResolveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, user.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, subscription.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
