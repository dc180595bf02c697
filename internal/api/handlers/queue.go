package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/playgambit/coordinator/internal/config"
	"github.com/playgambit/coordinator/internal/matchmaking"
	"github.com/playgambit/coordinator/internal/models"
	"github.com/playgambit/coordinator/internal/mux"
	"github.com/playgambit/coordinator/internal/ws"
)

// JoinQueue enqueues the authed user and starts a matchmaking session whose
// results are pushed to attached UI surfaces over the bridge.
func JoinQueue(coord *matchmaking.Coordinator, bridge *ws.Bridge, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := authedUser(c, cfg)
		if userID == "" {
			return
		}
		var req struct {
			Rating int `json:"rating"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rating required"})
			return
		}

		entry, err := coord.JoinQueue(c.Request.Context(), userID, req.Rating)
		if err != nil {
			log.Printf("[API] joinQueue failed for %s: %v", userID, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not join queue"})
			return
		}

		coord.StartMatchmaking(context.Background(), userID, req.Rating,
			func(match *models.Match) {
				bridge.Broadcast(mux.EventMatchFound, match)
			},
			func(err error) {
				bridge.Broadcast("matchmaking_error", gin.H{"error": err.Error()})
			})

		c.JSON(http.StatusOK, gin.H{"entry": entry})
	}
}

// LeaveQueue stops the matchmaking session and removes the queue entry
func LeaveQueue(coord *matchmaking.Coordinator, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := authedUser(c, cfg)
		if userID == "" {
			return
		}
		coord.StopMatchmaking()
		if err := coord.LeaveQueue(c.Request.Context(), userID); err != nil {
			log.Printf("[API] leaveQueue failed for %s: %v", userID, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not leave queue"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"left": true})
	}
}
