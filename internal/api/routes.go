package api

import (
	"github.com/gin-gonic/gin"

	"github.com/playgambit/coordinator/internal/api/handlers"
	"github.com/playgambit/coordinator/internal/config"
	"github.com/playgambit/coordinator/internal/matchmaking"
	"github.com/playgambit/coordinator/internal/middleware"
	"github.com/playgambit/coordinator/internal/mux"
	"github.com/playgambit/coordinator/internal/ws"
)

// SetupRoutes configures the agent's local API
func SetupRoutes(router *gin.Engine, m *mux.Multiplexer, coord *matchmaking.Coordinator, bridge *ws.Bridge, cfg *config.Config) {
	router.Use(middleware.CORSMiddleware(cfg))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck(m))

		// Connection scopes
		v1.POST("/connect", handlers.ConnectUser(m, cfg))
		v1.POST("/disconnect", handlers.DisconnectUser(m, cfg))
		v1.POST("/game/connect", handlers.ConnectGame(m, cfg))
		v1.POST("/game/disconnect", handlers.DisconnectGame(m, cfg))

		// Matchmaking
		v1.POST("/queue/join", handlers.JoinQueue(coord, bridge, cfg))
		v1.POST("/queue/leave", handlers.LeaveQueue(coord, cfg))

		// Event stream for UI surfaces
		v1.GET("/ws", handlers.AttachSurface(bridge, cfg))
	}
}
