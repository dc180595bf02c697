package mux

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/playgambit/coordinator/internal/models"
	"github.com/playgambit/coordinator/internal/store"
)

// fingerprint digests the fields a game poll cares about. Identical
// consecutive polls produce identical fingerprints and stay silent.
func fingerprint(g *models.Game) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%d|%s|%s", g.CurrentPlayer, g.Status, g.Board)))
	return hex.EncodeToString(sum[:])
}

// startUserPollingLocked starts the invite and friend-request poll timers.
// Both re-query rows inside a recency window to approximate "newly inserted";
// this can re-notify, which is why handlers must be idempotent.
func (m *Multiplexer) startUserPollingLocked(userID string) {
	stop := make(chan struct{})
	m.userStop = stop
	go m.runUserPolls(userID, stop)
}

func (m *Multiplexer) runUserPolls(userID string, stop chan struct{}) {
	inviteTicker := time.NewTicker(m.invitePoll)
	defer inviteTicker.Stop()
	friendTicker := time.NewTicker(m.friendPoll)
	defer friendTicker.Stop()

	log.Printf("[MUX] polling user feeds for %s (invites %v, friends %v)", userID, m.invitePoll, m.friendPoll)
	for {
		select {
		case <-stop:
			return
		case <-inviteTicker.C:
			m.pollInvitesOnce(context.Background(), userID)
		case <-friendTicker.C:
			m.pollFriendsOnce(context.Background(), userID)
		}
	}
}

func (m *Multiplexer) pollInvitesOnce(ctx context.Context, userID string) {
	if m.store == nil {
		return
	}
	invites, err := m.store.RecentInvitesFor(ctx, userID, m.inviteWindow)
	if err != nil {
		log.Printf("[MUX] invite poll failed: %v", err)
	} else {
		for _, invite := range invites {
			m.NotifyHandlers(EventInviteReceived, invite)
		}
	}

	changes, err := m.store.RecentInviteStatusChanges(ctx, userID, m.inviteWindow)
	if err != nil {
		log.Printf("[MUX] invite status poll failed: %v", err)
		return
	}
	for _, invite := range changes {
		m.NotifyHandlers(EventInviteStatusChanged, invite)
	}
}

func (m *Multiplexer) pollFriendsOnce(ctx context.Context, userID string) {
	if m.store == nil {
		return
	}
	requests, err := m.store.RecentFriendRequestsFor(ctx, userID, m.friendWindow)
	if err != nil {
		log.Printf("[MUX] friend request poll failed: %v", err)
		return
	}
	for _, req := range requests {
		m.NotifyHandlers(EventFriendRequest, req)
	}
}

// startGamePollingLocked starts the high-frequency game poll. Handlers only
// fire when the state fingerprint moves.
func (m *Multiplexer) startGamePollingLocked(gameID string) {
	stop := make(chan struct{})
	m.gameStop = stop
	go m.runGamePoll(gameID, stop)
}

func (m *Multiplexer) runGamePoll(gameID string, stop chan struct{}) {
	ticker := time.NewTicker(m.gamePoll)
	defer ticker.Stop()

	log.Printf("[MUX] polling game %s every %v", gameID, m.gamePoll)
	last := ""
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			last = m.pollGameOnce(context.Background(), gameID, last)
		}
	}
}

// pollGameOnce fetches the game, compares fingerprints and notifies on change.
// It returns the fingerprint to carry into the next tick.
func (m *Multiplexer) pollGameOnce(ctx context.Context, gameID, last string) string {
	if m.store == nil {
		return last
	}
	game, err := m.store.GetGame(ctx, gameID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[MUX] game poll failed: %v", err)
		}
		return last
	}
	fp := fingerprint(game)
	if fp == last {
		return last
	}
	m.NotifyHandlers(EventGameUpdated, game)
	return fp
}
