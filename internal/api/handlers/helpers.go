package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/playgambit/coordinator/internal/config"
	"github.com/playgambit/coordinator/internal/ws"
)

// authedUser extracts and validates the platform session token from the
// Authorization header. On failure it writes the 401 response and returns "".
func authedUser(c *gin.Context, cfg *config.Config) string {
	header := c.GetHeader("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return ""
	}

	userID, err := ws.UserIDFromToken(token, cfg.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
		return ""
	}
	return userID
}
