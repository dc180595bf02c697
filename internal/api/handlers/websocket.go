package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/playgambit/coordinator/internal/config"
	"github.com/playgambit/coordinator/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin is checked by the CORS layer
	},
}

// AttachSurface upgrades a UI surface to a websocket and registers it on the
// event bridge. The session token rides the query string because browsers
// cannot set headers on websocket upgrades.
func AttachSurface(bridge *ws.Bridge, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if _, err := ws.UserIDFromToken(token, cfg.JWTSecret); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[API] websocket upgrade failed: %v", err)
			return
		}
		bridge.Register(conn)
	}
}
