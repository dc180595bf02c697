package mux

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/playgambit/coordinator/internal/config"
	"github.com/playgambit/coordinator/internal/feed"
	"github.com/playgambit/coordinator/internal/models"
	"github.com/playgambit/coordinator/internal/store"
)

// ConnState is the per-scope connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StatePolling
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StatePolling:
		return "polling"
	}
	return "disconnected"
}

type registration struct {
	token string
	fn    Handler
}

// Multiplexer owns at most one user-scope and one game-scope subscription and
// fans their events out to registered handlers. When the change feed is
// unavailable it degrades to polling the store behind the same handler
// registry, so consumers never notice the difference.
type Multiplexer struct {
	feed  feed.Client
	store store.Store

	subscribeTimeout time.Duration
	idleTimeout      time.Duration
	invitePoll       time.Duration
	inviteWindow     time.Duration
	friendPoll       time.Duration
	friendWindow     time.Duration
	gamePoll         time.Duration

	mu       sync.Mutex
	handlers map[EventKind][]registration

	userState  ConnState
	userID     string
	userHandle feed.Handle
	userGen    int
	userStop   chan struct{}

	gameState  ConnState
	gameID     string
	gameHandle feed.Handle
	gameGen    int
	gameStop   chan struct{}

	idleTimer *time.Timer
}

// New builds a multiplexer over the change feed and the repository. Either
// collaborator may be nil; a missing feed forces polling, and with both
// missing every connect call is a logged no-op.
func New(fc feed.Client, st store.Store, cfg *config.Config) *Multiplexer {
	return &Multiplexer{
		feed:             fc,
		store:            st,
		subscribeTimeout: time.Duration(cfg.SubscribeTimeoutSecs) * time.Second,
		idleTimeout:      time.Duration(cfg.IdleTimeoutMins) * time.Minute,
		invitePoll:       time.Duration(cfg.InvitePollSecs) * time.Second,
		inviteWindow:     time.Duration(cfg.InviteWindowSecs) * time.Second,
		friendPoll:       time.Duration(cfg.FriendPollSecs) * time.Second,
		friendWindow:     time.Duration(cfg.FriendWindowSecs) * time.Second,
		gamePoll:         time.Duration(cfg.GamePollSecs) * time.Second,
		handlers:         make(map[EventKind][]registration),
	}
}

// On registers a handler for an event kind and returns its token plus an
// unsubscribe func. Multiple handlers per kind run in registration order.
func (m *Multiplexer) On(kind EventKind, fn Handler) (string, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := uuid.NewString()
	m.handlers[kind] = append(m.handlers[kind], registration{token: token, fn: fn})
	return token, func() { m.Off(kind, token) }
}

// Off unregisters the handler identified by token.
func (m *Multiplexer) Off(kind EventKind, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	regs := m.handlers[kind]
	for i, reg := range regs {
		if reg.token == token {
			m.handlers[kind] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// NotifyHandlers fans payload out to every handler registered for kind, in
// registration order. A panicking handler is logged and does not block the
// rest. Every delivery counts as activity for the idle timer.
func (m *Multiplexer) NotifyHandlers(kind EventKind, payload any) {
	m.mu.Lock()
	regs := make([]registration, len(m.handlers[kind]))
	copy(regs, m.handlers[kind])
	if m.userState != StateDisconnected {
		m.touchIdleLocked()
	}
	m.mu.Unlock()

	for _, reg := range regs {
		m.invoke(kind, reg, payload)
	}
}

func (m *Multiplexer) invoke(kind EventKind, reg registration, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[MUX] handler for %s panicked: %v", kind, r)
		}
	}()
	reg.fn(payload)
}

// ConnectUser establishes the user-scope subscription for userID: invites and
// friend requests addressed to them, games naming them as second player, and
// status changes on invites they sent. Repeated calls for the same user only
// refresh the idle timer. The subscribe attempt is bounded; on timeout or
// transport error the multiplexer silently falls back to polling. The return
// value reports whether a live (non-polling) subscription was established.
func (m *Multiplexer) ConnectUser(ctx context.Context, userID string) bool {
	m.mu.Lock()
	if m.feed == nil && m.store == nil {
		m.mu.Unlock()
		log.Printf("[MUX] no change feed or store configured; connectUser(%s) is a no-op", userID)
		return false
	}
	if m.userID == userID && (m.userState == StateConnected || m.userState == StatePolling) {
		live := m.userState == StateConnected
		m.touchIdleLocked()
		m.mu.Unlock()
		return live
	}
	m.teardownUserLocked()
	m.userID = userID
	m.userState = StateConnecting
	gen := m.userGen
	m.mu.Unlock()

	handle, err := m.subscribeUser(ctx, userID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.userGen {
		// A disconnect or reconnect raced the subscribe; the late result is
		// dropped and its subscription released.
		if err == nil && m.feed != nil {
			m.feed.Unsubscribe(handle)
		}
		return false
	}
	if err != nil {
		log.Printf("[MUX] user subscription for %s failed, falling back to polling: %v", userID, err)
		m.startUserPollingLocked(userID)
		m.userState = StatePolling
		m.touchIdleLocked()
		return false
	}
	m.userHandle = handle
	m.userState = StateConnected
	m.touchIdleLocked()
	log.Printf("[MUX] user channel live for %s", userID)
	return true
}

func (m *Multiplexer) subscribeUser(ctx context.Context, userID string) (feed.Handle, error) {
	if m.feed == nil {
		return "", fmt.Errorf("change feed not configured")
	}
	subCtx, cancel := context.WithTimeout(ctx, m.subscribeTimeout)
	defer cancel()

	matchers := []feed.Matcher{
		{Event: feed.EventInsert, Table: "invites", Filter: "to_user=eq." + userID},
		{Event: feed.EventUpdate, Table: "invites", Filter: "from_user=eq." + userID},
		{Event: feed.EventInsert, Table: "friend_requests", Filter: "to_user=eq." + userID},
		{Event: feed.EventInsert, Table: "games", Filter: "player2_id=eq." + userID},
		{Event: feed.EventUpdate, Table: "games", Filter: "player2_id=eq." + userID},
	}
	return m.feed.Subscribe(subCtx, "user:"+userID, matchers, m.dispatchUserEvent)
}

func (m *Multiplexer) dispatchUserEvent(ev feed.RowEvent) {
	kind, ok := kindForUserEvent(ev)
	if !ok {
		return
	}
	switch kind {
	case EventInviteReceived, EventInviteStatusChanged:
		var invite models.Invite
		if err := decodeRow(ev.Row(), &invite); err != nil {
			log.Printf("[MUX] bad invite row: %v", err)
			return
		}
		m.NotifyHandlers(kind, invite)
	case EventFriendRequest:
		var req models.FriendRequest
		if err := decodeRow(ev.Row(), &req); err != nil {
			log.Printf("[MUX] bad friend request row: %v", err)
			return
		}
		m.NotifyHandlers(kind, req)
	case EventMatchFound:
		var game models.Game
		if err := decodeRow(ev.Row(), &game); err != nil {
			log.Printf("[MUX] bad game row: %v", err)
			return
		}
		m.NotifyHandlers(kind, &game)
	}
}

// DisconnectUser tears down the user subscription, its poll timers and the
// idle timer. Safe to call at any time, including mid-subscribe.
func (m *Multiplexer) DisconnectUser() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownUserLocked()
}

func (m *Multiplexer) teardownUserLocked() {
	m.userGen++
	if m.userHandle != "" && m.feed != nil {
		if err := m.feed.Unsubscribe(m.userHandle); err != nil {
			log.Printf("[MUX] user unsubscribe failed: %v", err)
		}
	}
	m.userHandle = ""
	if m.userStop != nil {
		close(m.userStop)
		m.userStop = nil
	}
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	m.userState = StateDisconnected
	m.userID = ""
}

// ConnectGame establishes the game-scope subscription for gameID: row updates
// on the game plus new chat messages. At most one game subscription is open at
// a time; connecting to a different id tears the previous one down first.
// Reports whether a live subscription was established.
func (m *Multiplexer) ConnectGame(ctx context.Context, gameID string) bool {
	m.mu.Lock()
	if m.feed == nil && m.store == nil {
		m.mu.Unlock()
		log.Printf("[MUX] no change feed or store configured; connectGame(%s) is a no-op", gameID)
		return false
	}
	if m.gameID == gameID && (m.gameState == StateConnected || m.gameState == StatePolling) {
		live := m.gameState == StateConnected
		if m.userState != StateDisconnected {
			m.touchIdleLocked()
		}
		m.mu.Unlock()
		return live
	}
	m.teardownGameLocked()
	m.gameID = gameID
	m.gameState = StateConnecting
	gen := m.gameGen
	m.mu.Unlock()

	handle, err := m.subscribeGame(ctx, gameID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gameGen {
		if err == nil && m.feed != nil {
			m.feed.Unsubscribe(handle)
		}
		return false
	}
	if err != nil {
		log.Printf("[MUX] game subscription for %s failed, falling back to polling: %v", gameID, err)
		m.startGamePollingLocked(gameID)
		m.gameState = StatePolling
		return false
	}
	m.gameHandle = handle
	m.gameState = StateConnected
	if m.userState != StateDisconnected {
		m.touchIdleLocked()
	}
	log.Printf("[MUX] game channel live for %s", gameID)
	return true
}

func (m *Multiplexer) subscribeGame(ctx context.Context, gameID string) (feed.Handle, error) {
	if m.feed == nil {
		return "", fmt.Errorf("change feed not configured")
	}
	subCtx, cancel := context.WithTimeout(ctx, m.subscribeTimeout)
	defer cancel()

	matchers := []feed.Matcher{
		{Event: feed.EventUpdate, Table: "games", Filter: "id=eq." + gameID},
		{Event: feed.EventInsert, Table: "chat_messages", Filter: "game_id=eq." + gameID},
	}
	return m.feed.Subscribe(subCtx, "game:"+gameID, matchers, m.dispatchGameEvent)
}

func (m *Multiplexer) dispatchGameEvent(ev feed.RowEvent) {
	switch ev.Table {
	case "games":
		var game models.Game
		if err := decodeRow(ev.Row(), &game); err != nil {
			log.Printf("[MUX] bad game row: %v", err)
			return
		}
		m.NotifyHandlers(EventGameUpdated, &game)
	case "chat_messages":
		m.NotifyHandlers(EventChatMessage, ev.Row())
	}
}

// DisconnectGame tears down the game subscription or its polling.
func (m *Multiplexer) DisconnectGame() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownGameLocked()
}

func (m *Multiplexer) teardownGameLocked() {
	m.gameGen++
	if m.gameHandle != "" && m.feed != nil {
		if err := m.feed.Unsubscribe(m.gameHandle); err != nil {
			log.Printf("[MUX] game unsubscribe failed: %v", err)
		}
	}
	m.gameHandle = ""
	if m.gameStop != nil {
		close(m.gameStop)
		m.gameStop = nil
	}
	m.gameState = StateDisconnected
	m.gameID = ""
}

// UserState reports the user-scope connection state.
func (m *Multiplexer) UserState() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userState
}

// GameState reports the game-scope connection state.
func (m *Multiplexer) GameState() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gameState
}

// touchIdleLocked restarts the idle timer. The live user channel is a metered
// resource; with no inbound event or explicit connect inside the window it is
// released regardless of how many handlers are registered.
func (m *Multiplexer) touchIdleLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	m.idleTimer = time.AfterFunc(m.idleTimeout, m.idleExpire)
}

func (m *Multiplexer) idleExpire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userState == StateDisconnected {
		return
	}
	log.Printf("[MUX] idle timeout, releasing user channel for %s", m.userID)
	m.teardownUserLocked()
}
