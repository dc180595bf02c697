package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/playgambit/coordinator/internal/config"
	"github.com/playgambit/coordinator/internal/mux"
)

// ConnectUser opens the user-scope event channel for the authed user
func ConnectUser(m *mux.Multiplexer, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := authedUser(c, cfg)
		if userID == "" {
			return
		}
		live := m.ConnectUser(c.Request.Context(), userID)
		c.JSON(http.StatusOK, gin.H{"live": live, "state": m.UserState().String()})
	}
}

// DisconnectUser tears the user-scope channel down
func DisconnectUser(m *mux.Multiplexer, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authedUser(c, cfg) == "" {
			return
		}
		m.DisconnectUser()
		c.JSON(http.StatusOK, gin.H{"state": m.UserState().String()})
	}
}

// ConnectGame opens the game-scope event channel for one game
func ConnectGame(m *mux.Multiplexer, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authedUser(c, cfg) == "" {
			return
		}
		var req struct {
			GameID string `json:"game_id"`
		}
		if err := c.BindJSON(&req); err != nil || req.GameID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "game_id required"})
			return
		}
		live := m.ConnectGame(c.Request.Context(), req.GameID)
		c.JSON(http.StatusOK, gin.H{"live": live, "state": m.GameState().String()})
	}
}

// DisconnectGame tears the game-scope channel down
func DisconnectGame(m *mux.Multiplexer, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authedUser(c, cfg) == "" {
			return
		}
		m.DisconnectGame()
		c.JSON(http.StatusOK, gin.H{"state": m.GameState().String()})
	}
}
