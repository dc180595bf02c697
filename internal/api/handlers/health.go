package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/playgambit/coordinator/internal/mux"
)

var startTime = time.Now()

const version = "1.0.0"

// HealthCheck returns agent health plus both connection-scope states
func HealthCheck(m *mux.Multiplexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"service":    "playgambit-agent",
			"version":    version,
			"uptime":     time.Since(startTime).String(),
			"user_scope": m.UserState().String(),
			"game_scope": m.GameState().String(),
		})
	}
}
