package transport

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tidegate/tidegate/internal/subscription"
)

// RegisterRoutes binds one gin handler per entry of subscription.Routes,
// replacing what would otherwise be one hand-written handler per endpoint.
func (s *Server) RegisterRoutes(group gin.IRouter) {
	group.GET("/api/v1/streaming", s.ServeWS)
	for _, route := range subscription.Routes {
		route := route
		group.GET(route.Path, func(c *gin.Context) {
			s.ServeSSE(c, route.StreamName)
		})
	}
}

// ServeSSE handles a single path-routed SSE endpoint: resolve the
// subscription, register a queue, and stream admitted events as
// text/event-stream until the client disconnects or the request context
// is cancelled.
func (s *Server) ServeSSE(c *gin.Context, streamName string) {
	sub, err := s.subs.Resolve(c.Request.Context(), sseRequest(c, streamName))
	if err != nil {
		writeResolveError(c, err)
		return
	}

	flusher, ok := c.Writer.(interface{ Flush() })
	if !ok {
		c.JSON(500, gin.H{"error": "streaming not supported by this response writer"})
		return
	}

	clientID := uuid.New()
	if err := s.router.Register(clientID, sub.Timeline, sub.HashtagName); err != nil {
		s.logger.WithError(err).Warn("Failed to register SSE client")
		c.JSON(500, gin.H{"error": "failed to register subscription"})
		return
	}
	defer s.router.Unregister(clientID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(200)
	flusher.Flush()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		case <-ticker.C:
			for {
				ready := s.router.Poll(clientID)
				if !ready.Ok {
					break
				}
				if !admit(sub, ready.Event) {
					continue
				}
				fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ready.Event.Kind, ready.Event.Payload)
				flusher.Flush()
			}
		}
	}
}
