package store

import (
	"context"
	"errors"
	"time"

	"github.com/playgambit/coordinator/internal/models"
)

// ErrNotFound is returned when a row does not exist. Callers treat it as an
// expected condition, not a failure.
var ErrNotFound = errors.New("store: not found")

// Store is the repository collaborator over the matchmaking queue, the games
// table, and the social tables the polling fallback re-queries. The
// coordination layer never assumes exclusive access to any of these rows.
type Store interface {
	// Queue
	InsertQueueEntry(ctx context.Context, userID string, rating int) (*models.QueueEntry, error)
	DeleteQueueEntry(ctx context.Context, userID string) error
	GetQueueEntry(ctx context.Context, userID string) (*models.QueueEntry, error)
	FindWaitingOpponent(ctx context.Context, userID string, rating, ratingRange int) (*models.QueueEntry, error)

	// Games
	CreateGame(ctx context.Context, player1ID, player2ID string, currentPlayer int) (*models.Game, error)
	GetGame(ctx context.Context, gameID string) (*models.Game, error)
	RecentGameFor(ctx context.Context, userID string, window time.Duration) (*models.Game, error)

	// Profiles
	Profile(ctx context.Context, userID string) (*models.Profile, error)

	// Polling fallback windows
	RecentInvitesFor(ctx context.Context, userID string, window time.Duration) ([]models.Invite, error)
	RecentFriendRequestsFor(ctx context.Context, userID string, window time.Duration) ([]models.FriendRequest, error)
	RecentInviteStatusChanges(ctx context.Context, fromUser string, window time.Duration) ([]models.Invite, error)
}
