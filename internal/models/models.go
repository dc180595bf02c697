package models

import "time"

// Queue entry status values
const (
	QueueWaiting = "waiting"
	QueueMatched = "matched"
)

// Game status values
const (
	GameActive    = "active"
	GameCompleted = "completed"
	GameAbandoned = "abandoned"
)

// QueueEntry represents a player waiting for a match
type QueueEntry struct {
	ID       int       `db:"id" json:"id"`
	UserID   string    `db:"user_id" json:"user_id"`
	Rating   int       `db:"rating" json:"rating"`
	Status   string    `db:"status" json:"status"`
	QueuedAt time.Time `db:"queued_at" json:"queued_at"`
}

// Game represents a game between two players
type Game struct {
	ID            string    `db:"id" json:"id"`
	Player1ID     string    `db:"player1_id" json:"player1_id"`
	Player2ID     string    `db:"player2_id" json:"player2_id"`
	Status        string    `db:"status" json:"status"`
	CurrentPlayer int       `db:"current_player" json:"current_player"`
	Board         string    `db:"board" json:"board"`
	WinnerID      *string   `db:"winner_id" json:"winner_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Opponent returns the id of the other participant, or "" if userID is not a player.
func (g *Game) Opponent(userID string) string {
	switch userID {
	case g.Player1ID:
		return g.Player2ID
	case g.Player2ID:
		return g.Player1ID
	}
	return ""
}

// Profile is the public slice of a player record used to denormalize match payloads
type Profile struct {
	UserID      string `db:"user_id" json:"user_id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Rating      int    `db:"rating" json:"rating"`
}

// Match is the payload delivered to onMatch: the game plus the opponent profile
type Match struct {
	Game     *Game    `json:"game"`
	Opponent *Profile `json:"opponent,omitempty"`
}

// Invite represents a game invitation between friends
type Invite struct {
	ID        int       `db:"id" json:"id"`
	FromUser  string    `db:"from_user" json:"from_user"`
	ToUser    string    `db:"to_user" json:"to_user"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// FriendRequest represents a pending friend request
type FriendRequest struct {
	ID        int       `db:"id" json:"id"`
	FromUser  string    `db:"from_user" json:"from_user"`
	ToUser    string    `db:"to_user" json:"to_user"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
