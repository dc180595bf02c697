package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/playgambit/coordinator/internal/config"
	"github.com/playgambit/coordinator/internal/models"
	"github.com/playgambit/coordinator/internal/mux"
	"github.com/playgambit/coordinator/internal/store"
)

// Coordinator pairs a waiting player with a compatible opponent. Both sides of
// a pairing search independently, so every mutation is guarded: the earlier
// queued side creates the game, and a per-session latch makes sure onMatch
// fires exactly once whichever of push or poll discovers the match first.
type Coordinator struct {
	store store.Store
	mux   *mux.Multiplexer

	pollInterval     time.Duration
	ratingRange      int
	recentGameWindow time.Duration
	maxMissedTicks   int

	mu      sync.Mutex
	session *session
}

// session is one matchmaking run. fired is the match latch: once set, every
// later discovery of the same match (or a failure) is a no-op.
type session struct {
	userID      string
	rating      int
	onMatch     func(*models.Match)
	onError     func(error)
	stop        chan struct{}
	offPush     func()
	fired       bool
	missedTicks int
}

// New builds a coordinator over the repository and the multiplexer.
func New(st store.Store, m *mux.Multiplexer, cfg *config.Config) *Coordinator {
	return &Coordinator{
		store:            st,
		mux:              m,
		pollInterval:     time.Duration(cfg.MatchPollSecs) * time.Second,
		ratingRange:      cfg.RatingRange,
		recentGameWindow: time.Duration(cfg.RecentGameWindowSecs) * time.Second,
		maxMissedTicks:   cfg.MaxMissedTicks,
	}
}

// JoinQueue deletes any prior entry for the user and inserts a fresh waiting
// one, so repeated calls leave exactly one entry.
func (c *Coordinator) JoinQueue(ctx context.Context, userID string, rating int) (*models.QueueEntry, error) {
	if err := c.store.DeleteQueueEntry(ctx, userID); err != nil {
		return nil, fmt.Errorf("clear previous queue entry: %w", err)
	}
	entry, err := c.store.InsertQueueEntry(ctx, userID, rating)
	if err != nil {
		return nil, fmt.Errorf("join queue: %w", err)
	}
	log.Printf("[MATCHMAKER] %s joined queue (rating=%d)", userID, rating)
	return entry, nil
}

// LeaveQueue removes the user's queue entry. Idempotent.
func (c *Coordinator) LeaveQueue(ctx context.Context, userID string) error {
	return c.store.DeleteQueueEntry(ctx, userID)
}

// FindMatch returns the earliest-queued other waiting player within
// ratingRange of rating, or nil when nobody fits. ratingRange <= 0 uses the
// configured default. FIFO within the band bounds wait time while bounding
// the skill gap.
func (c *Coordinator) FindMatch(ctx context.Context, userID string, rating, ratingRange int) (*models.QueueEntry, error) {
	if ratingRange <= 0 {
		ratingRange = c.ratingRange
	}
	candidate, err := c.store.FindWaitingOpponent(ctx, userID, rating, ratingRange)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return candidate, nil
}

// CreateGame inserts a game row with an empty board and a randomly chosen
// first player, then removes both queue entries; the store does both in one
// transaction, so a successful return is proof the entries are gone.
func (c *Coordinator) CreateGame(ctx context.Context, player1ID, player2ID string) (*models.Game, error) {
	if player1ID == player2ID {
		return nil, fmt.Errorf("cannot create game: %s against themselves", player1ID)
	}
	return c.store.CreateGame(ctx, player1ID, player2ID, 1+rand.IntN(2))
}

// StartMatchmaking begins a matchmaking session for the user: a fixed-interval
// search loop plus a push subscription, both feeding the same latch. Any
// previous session is stopped first. onMatch fires at most once; onError
// receives only persistent failure, also at most once.
func (c *Coordinator) StartMatchmaking(ctx context.Context, userID string, rating int, onMatch func(*models.Match), onError func(error)) {
	s := &session{
		userID:  userID,
		rating:  rating,
		onMatch: onMatch,
		onError: onError,
		stop:    make(chan struct{}),
	}

	s.offPush = c.SubscribeToMatches(userID, onMatch)

	c.mu.Lock()
	c.stopSessionLocked()
	c.session = s
	c.mu.Unlock()

	go c.runSession(ctx, s)
}

// StopMatchmaking cancels the poll loop and unregisters the push handler.
// Idempotent; safe while a tick is in flight.
func (c *Coordinator) StopMatchmaking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopSessionLocked()
}

func (c *Coordinator) stopSessionLocked() {
	s := c.session
	if s == nil {
		return
	}
	c.session = nil
	close(s.stop)
	if s.offPush != nil {
		s.offPush()
	}
}

// SubscribeToMatches registers a handler on the multiplexer's match-found
// event: on receipt it loads the full game with the opponent profile and
// delivers it. While a session for the same user is live, delivery goes
// through that session's latch, so push and poll cannot both fire.
func (c *Coordinator) SubscribeToMatches(userID string, onMatch func(*models.Match)) func() {
	_, off := c.mux.On(mux.EventMatchFound, func(payload any) {
		game, ok := payload.(*models.Game)
		if !ok || game.Opponent(userID) == "" {
			return
		}
		match, err := c.matchPayload(context.Background(), userID, game.ID)
		if err != nil {
			log.Printf("[MATCHMAKER] failed to load match %s: %v", game.ID, err)
			return
		}
		c.deliver(nil, userID, match, onMatch)
	})
	return off
}

func (c *Coordinator) runSession(ctx context.Context, s *session) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	log.Printf("[MATCHMAKER] session started for %s (poll every %v)", s.userID, c.pollInterval)
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.session == s {
				c.stopSessionLocked()
			}
			c.mu.Unlock()
			return
		case <-s.stop:
			log.Printf("[MATCHMAKER] session stopped for %s", s.userID)
			return
		case <-ticker.C:
			c.tick(ctx, s)
		}
	}
}

// tick is one pass of the search loop. Transient store failures are logged
// and retried on the next tick, never surfaced.
func (c *Coordinator) tick(ctx context.Context, s *session) {
	entry, err := c.store.GetQueueEntry(ctx, s.userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("[MATCHMAKER] queue check failed for %s: %v", s.userID, err)
		return
	}

	if entry == nil {
		// Our row is gone. A peer's createGame deletes it before the push for
		// the new game arrives, so search recent games naming us before
		// concluding the entry vanished for another reason.
		game, gerr := c.store.RecentGameFor(ctx, s.userID, c.recentGameWindow)
		if gerr == nil {
			match, merr := c.matchPayload(ctx, s.userID, game.ID)
			if merr != nil {
				log.Printf("[MATCHMAKER] found game %s but payload load failed: %v", game.ID, merr)
				return
			}
			c.deliver(s, s.userID, match, s.onMatch)
			return
		}
		if !errors.Is(gerr, store.ErrNotFound) {
			log.Printf("[MATCHMAKER] recent game search failed for %s: %v", s.userID, gerr)
			return
		}

		// No entry, no game. The push may still be on its way; tolerate a few
		// ticks before surfacing.
		c.mu.Lock()
		s.missedTicks++
		missed := s.missedTicks
		fired := s.fired
		c.mu.Unlock()
		if !fired && missed >= c.maxMissedTicks {
			c.failSession(s, fmt.Errorf("queue entry for %s disappeared without a match", s.userID))
		}
		return
	}

	c.mu.Lock()
	s.missedTicks = 0
	c.mu.Unlock()

	candidate, err := c.FindMatch(ctx, s.userID, s.rating, c.ratingRange)
	if err != nil {
		log.Printf("[MATCHMAKER] search failed for %s: %v", s.userID, err)
		return
	}
	if candidate == nil {
		return
	}

	if !createsFirst(entry, candidate) {
		// The earlier-queued side creates; this side waits for the push or
		// for the next tick's existence check to discover the new game.
		return
	}

	game, err := c.CreateGame(ctx, s.userID, candidate.UserID)
	if err != nil {
		// Not necessarily an error: the peer may have created the game in the
		// same instant and deleted both rows. The next tick resolves it.
		log.Printf("[MATCHMAKER] createGame(%s, %s) failed: %v", s.userID, candidate.UserID, err)
		return
	}
	log.Printf("[MATCHMAKER] ✓ game %s created: %s vs %s", game.ID, s.userID, candidate.UserID)

	match, err := c.matchPayload(ctx, s.userID, game.ID)
	if err != nil {
		match = &models.Match{Game: game}
	}
	c.deliver(s, s.userID, match, s.onMatch)
}

// createsFirst decides which side of a mutual pairing acts: the earlier
// queued_at wins, and an exact timestamp tie falls back to the
// lexicographically smaller user id so exactly one side creates.
func createsFirst(mine, other *models.QueueEntry) bool {
	if mine.QueuedAt.Before(other.QueuedAt) {
		return true
	}
	if other.QueuedAt.Before(mine.QueuedAt) {
		return false
	}
	return mine.UserID < other.UserID
}

// matchPayload loads the game plus the opponent profile. A missing profile is
// tolerated; the match still carries the game.
func (c *Coordinator) matchPayload(ctx context.Context, userID, gameID string) (*models.Match, error) {
	game, err := c.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	match := &models.Match{Game: game}
	if oppID := game.Opponent(userID); oppID != "" {
		profile, perr := c.store.Profile(ctx, oppID)
		if perr == nil {
			match.Opponent = profile
		} else if !errors.Is(perr, store.ErrNotFound) {
			log.Printf("[MATCHMAKER] opponent profile load failed for %s: %v", oppID, perr)
		}
	}
	return match, nil
}

// deliver routes a discovered match through the session latch, guaranteeing
// onMatch fires at most once per session. The poll path passes its session so
// the latch holds even when the push path already ended it; the push path
// passes nil and resolves the live session for userID.
func (c *Coordinator) deliver(s *session, userID string, match *models.Match, onMatch func(*models.Match)) {
	c.mu.Lock()
	if s == nil && c.session != nil && c.session.userID == userID {
		s = c.session
	}
	if s != nil {
		if s.fired {
			c.mu.Unlock()
			return
		}
		s.fired = true
		if c.session == s {
			c.stopSessionLocked()
		}
		c.mu.Unlock()
		if onMatch != nil {
			onMatch(match)
		}
		return
	}
	c.mu.Unlock()
	if onMatch != nil {
		onMatch(match)
	}
}

// failSession surfaces a persistent failure once and ends the session.
func (c *Coordinator) failSession(s *session, err error) {
	c.mu.Lock()
	if c.session != s || s.fired {
		c.mu.Unlock()
		return
	}
	s.fired = true
	c.stopSessionLocked()
	c.mu.Unlock()

	log.Printf("[MATCHMAKER] session failed for %s: %v", s.userID, err)
	if s.onError != nil {
		s.onError(err)
	}
}
