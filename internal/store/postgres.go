package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/playgambit/coordinator/internal/models"
)

// Postgres implements Store on the platform database via sqlx.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an established database connection.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// InsertQueueEntry inserts a fresh waiting entry; queued_at is assigned by the
// server so entries are globally orderable.
func (s *Postgres) InsertQueueEntry(ctx context.Context, userID string, rating int) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := s.db.GetContext(ctx, &entry, `
		INSERT INTO matchmaking_queue (user_id, rating, status, queued_at)
		VALUES ($1, $2, 'waiting', NOW())
		RETURNING id, user_id, rating, status, queued_at
	`, userID, rating)
	if err != nil {
		return nil, fmt.Errorf("insert queue entry: %w", err)
	}
	return &entry, nil
}

// DeleteQueueEntry removes the user's queue entry. Deleting a missing entry is
// not an error.
func (s *Postgres) DeleteQueueEntry(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM matchmaking_queue WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	return nil
}

// GetQueueEntry returns the user's waiting entry, or ErrNotFound.
func (s *Postgres) GetQueueEntry(ctx context.Context, userID string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := s.db.GetContext(ctx, &entry, `
		SELECT id, user_id, rating, status, queued_at
		FROM matchmaking_queue
		WHERE user_id = $1 AND status = 'waiting'
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return &entry, nil
}

// FindWaitingOpponent returns the earliest-queued waiting entry of another user
// within the rating band, or ErrNotFound.
func (s *Postgres) FindWaitingOpponent(ctx context.Context, userID string, rating, ratingRange int) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := s.db.GetContext(ctx, &entry, `
		SELECT id, user_id, rating, status, queued_at
		FROM matchmaking_queue
		WHERE status = 'waiting'
		  AND user_id <> $1
		  AND rating >= $2 - $3
		  AND rating <= $2 + $3
		ORDER BY queued_at, user_id
		LIMIT 1
	`, userID, rating, ratingRange)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find waiting opponent: %w", err)
	}
	return &entry, nil
}

// CreateGame inserts the game row and deletes both queue entries in one
// transaction. A successful return is proof both entries are gone.
func (s *Postgres) CreateGame(ctx context.Context, player1ID, player2ID string, currentPlayer int) (*models.Game, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create game: %w", err)
	}
	defer tx.Rollback()

	var game models.Game
	err = tx.GetContext(ctx, &game, `
		INSERT INTO games (id, player1_id, player2_id, status, current_player, board, created_at, updated_at)
		VALUES ($1, $2, $3, 'active', $4, '', NOW(), NOW())
		RETURNING id, player1_id, player2_id, status, current_player, board, winner_id, created_at, updated_at
	`, uuid.NewString(), player1ID, player2ID, currentPlayer)
	if err != nil {
		return nil, fmt.Errorf("insert game: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM matchmaking_queue WHERE user_id IN ($1, $2)
	`, player1ID, player2ID); err != nil {
		return nil, fmt.Errorf("clear queue entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create game: %w", err)
	}
	return &game, nil
}

// GetGame fetches a game by id, or ErrNotFound.
func (s *Postgres) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	var game models.Game
	err := s.db.GetContext(ctx, &game, `
		SELECT id, player1_id, player2_id, status, current_player, board, winner_id, created_at, updated_at
		FROM games
		WHERE id = $1
	`, gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get game: %w", err)
	}
	return &game, nil
}

// RecentGameFor returns the newest active game naming the user that was
// created or updated inside the window, or ErrNotFound. The window cutoff is
// evaluated on the server clock, same as queued_at.
func (s *Postgres) RecentGameFor(ctx context.Context, userID string, window time.Duration) (*models.Game, error) {
	var game models.Game
	err := s.db.GetContext(ctx, &game, `
		SELECT id, player1_id, player2_id, status, current_player, board, winner_id, created_at, updated_at
		FROM games
		WHERE (player1_id = $1 OR player2_id = $1)
		  AND status = 'active'
		  AND GREATEST(created_at, updated_at) > NOW() - make_interval(secs => $2)
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, window.Seconds())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("recent game for %s: %w", userID, err)
	}
	return &game, nil
}

// Profile returns the public profile for a user, or ErrNotFound.
func (s *Postgres) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.GetContext(ctx, &profile, `
		SELECT user_id, display_name, rating
		FROM players
		WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &profile, nil
}

// RecentInvitesFor returns pending invites addressed to the user created inside
// the window, oldest first.
func (s *Postgres) RecentInvitesFor(ctx context.Context, userID string, window time.Duration) ([]models.Invite, error) {
	var invites []models.Invite
	err := s.db.SelectContext(ctx, &invites, `
		SELECT id, from_user, to_user, status, created_at, updated_at
		FROM invites
		WHERE to_user = $1
		  AND status = 'pending'
		  AND created_at > NOW() - make_interval(secs => $2)
		ORDER BY created_at
	`, userID, window.Seconds())
	if err != nil {
		return nil, fmt.Errorf("recent invites: %w", err)
	}
	return invites, nil
}

// RecentFriendRequestsFor returns friend requests addressed to the user created
// inside the window, oldest first.
func (s *Postgres) RecentFriendRequestsFor(ctx context.Context, userID string, window time.Duration) ([]models.FriendRequest, error) {
	var requests []models.FriendRequest
	err := s.db.SelectContext(ctx, &requests, `
		SELECT id, from_user, to_user, created_at
		FROM friend_requests
		WHERE to_user = $1
		  AND created_at > NOW() - make_interval(secs => $2)
		ORDER BY created_at
	`, userID, window.Seconds())
	if err != nil {
		return nil, fmt.Errorf("recent friend requests: %w", err)
	}
	return requests, nil
}

// RecentInviteStatusChanges returns invites sent by the user whose status moved
// off pending inside the window.
func (s *Postgres) RecentInviteStatusChanges(ctx context.Context, fromUser string, window time.Duration) ([]models.Invite, error) {
	var invites []models.Invite
	err := s.db.SelectContext(ctx, &invites, `
		SELECT id, from_user, to_user, status, created_at, updated_at
		FROM invites
		WHERE from_user = $1
		  AND status <> 'pending'
		  AND updated_at > NOW() - make_interval(secs => $2)
		ORDER BY updated_at
	`, fromUser, window.Seconds())
	if err != nil {
		return nil, fmt.Errorf("recent invite status changes: %w", err)
	}
	return invites, nil
}
