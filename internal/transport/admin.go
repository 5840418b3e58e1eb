package transport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatsHandler reports a snapshot of router state for operator tooling.
// The caller is responsible for gating this behind authentication.
func (s *Server) StatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.router.Stats())
}
