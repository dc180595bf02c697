package mux

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/playgambit/coordinator/internal/config"
	"github.com/playgambit/coordinator/internal/feed"
	"github.com/playgambit/coordinator/internal/models"
	"github.com/playgambit/coordinator/internal/store"
)

// fakeFeed counts live subscriptions so tests can assert the at-most-one
// property across connect/disconnect sequences.
type fakeFeed struct {
	mu       sync.Mutex
	fail     bool
	nextID   int
	live     map[feed.Handle]string // handle -> channel
	maxLive  int
	cbs      map[feed.Handle]feed.Callback
	subCalls int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		live: make(map[feed.Handle]string),
		cbs:  make(map[feed.Handle]feed.Callback),
	}
}

func (f *fakeFeed) Subscribe(ctx context.Context, channel string, matchers []feed.Matcher, cb feed.Callback) (feed.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	if f.fail {
		return "", errors.New("transport down")
	}
	f.nextID++
	handle := feed.Handle(strings.Repeat("h", f.nextID))
	f.live[handle] = channel
	f.cbs[handle] = cb
	if len(f.live) > f.maxLive {
		f.maxLive = len(f.live)
	}
	return handle, nil
}

func (f *fakeFeed) Unsubscribe(handle feed.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, handle)
	delete(f.cbs, handle)
	return nil
}

func (f *fakeFeed) liveCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, channel := range f.live {
		if strings.HasPrefix(channel, prefix) {
			n++
		}
	}
	return n
}

// fakeStore serves only the reads the multiplexer makes while polling.
type fakeStore struct {
	mu       sync.Mutex
	game     *models.Game
	invites  []models.Invite
	statuses []models.Invite
	friends  []models.FriendRequest
}

func (s *fakeStore) setGame(g *models.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.game = g
}

func (s *fakeStore) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game == nil || s.game.ID != gameID {
		return nil, store.ErrNotFound
	}
	copied := *s.game
	return &copied, nil
}

func (s *fakeStore) RecentInvitesFor(ctx context.Context, userID string, window time.Duration) ([]models.Invite, error) {
	return s.invites, nil
}

func (s *fakeStore) RecentInviteStatusChanges(ctx context.Context, fromUser string, window time.Duration) ([]models.Invite, error) {
	return s.statuses, nil
}

func (s *fakeStore) RecentFriendRequestsFor(ctx context.Context, userID string, window time.Duration) ([]models.FriendRequest, error) {
	return s.friends, nil
}

func (s *fakeStore) InsertQueueEntry(ctx context.Context, userID string, rating int) (*models.QueueEntry, error) {
	return nil, errors.New("not supported")
}

func (s *fakeStore) DeleteQueueEntry(ctx context.Context, userID string) error { return nil }

func (s *fakeStore) GetQueueEntry(ctx context.Context, userID string) (*models.QueueEntry, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) FindWaitingOpponent(ctx context.Context, userID string, rating, ratingRange int) (*models.QueueEntry, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) CreateGame(ctx context.Context, p1, p2 string, currentPlayer int) (*models.Game, error) {
	return nil, errors.New("not supported")
}

func (s *fakeStore) RecentGameFor(ctx context.Context, userID string, window time.Duration) (*models.Game, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	return nil, store.ErrNotFound
}

func testConfig() *config.Config {
	return &config.Config{
		SubscribeTimeoutSecs: 1,
		IdleTimeoutMins:      5,
		InvitePollSecs:       10,
		InviteWindowSecs:     15,
		FriendPollSecs:       30,
		FriendWindowSecs:     35,
		GamePollSecs:         2,
	}
}

func TestConnectUserNeverLeaksSubscriptions(t *testing.T) {
	ff := newFakeFeed()
	m := New(ff, &fakeStore{}, testConfig())

	for i := 0; i < 5; i++ {
		if live := m.ConnectUser(context.Background(), "alice"); !live {
			t.Fatalf("connect %d: expected live subscription", i)
		}
		m.DisconnectUser()
	}

	if ff.maxLive > 1 {
		t.Errorf("more than one subscription open at once: max=%d", ff.maxLive)
	}
	if n := ff.liveCount("user:"); n != 0 {
		t.Errorf("subscriptions leaked after disconnect: %d", n)
	}
}

func TestConnectUserIdempotentForSameUser(t *testing.T) {
	ff := newFakeFeed()
	m := New(ff, &fakeStore{}, testConfig())

	m.ConnectUser(context.Background(), "alice")
	m.ConnectUser(context.Background(), "alice")

	if ff.subCalls != 1 {
		t.Errorf("expected 1 subscribe call, got %d", ff.subCalls)
	}
	if n := ff.liveCount("user:"); n != 1 {
		t.Errorf("expected 1 live subscription, got %d", n)
	}
}

func TestConnectUserSwitchTearsDownPrevious(t *testing.T) {
	ff := newFakeFeed()
	m := New(ff, &fakeStore{}, testConfig())

	m.ConnectUser(context.Background(), "alice")
	m.ConnectUser(context.Background(), "bob")

	if ff.maxLive > 1 {
		t.Errorf("both user subscriptions open at once: max=%d", ff.maxLive)
	}
	if n := ff.liveCount("user:bob"); n != 1 {
		t.Errorf("expected live subscription for bob, got %d", n)
	}
}

func TestConnectUserFallsBackToPolling(t *testing.T) {
	ff := newFakeFeed()
	ff.fail = true
	m := New(ff, &fakeStore{}, testConfig())

	if live := m.ConnectUser(context.Background(), "alice"); live {
		t.Fatalf("expected non-live result when transport is down")
	}
	if got := m.UserState(); got != StatePolling {
		t.Errorf("state = %v, want polling", got)
	}

	m.DisconnectUser()
	if got := m.UserState(); got != StateDisconnected {
		t.Errorf("state after disconnect = %v, want disconnected", got)
	}
}

func TestConnectWithoutCollaboratorsIsNoOp(t *testing.T) {
	m := New(nil, nil, testConfig())
	if live := m.ConnectUser(context.Background(), "alice"); live {
		t.Errorf("expected no-op connect to report not live")
	}
	if got := m.UserState(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestIdleTimeoutReleasesUserScope(t *testing.T) {
	ff := newFakeFeed()
	m := New(ff, &fakeStore{}, testConfig())
	m.idleTimeout = 40 * time.Millisecond

	m.ConnectUser(context.Background(), "alice")
	time.Sleep(150 * time.Millisecond)

	if got := m.UserState(); got != StateDisconnected {
		t.Fatalf("state after idle window = %v, want disconnected", got)
	}
	if n := ff.liveCount("user:"); n != 0 {
		t.Errorf("subscription still open after idle timeout: %d", n)
	}

	// Any subsequent call re-establishes the scope
	if live := m.ConnectUser(context.Background(), "alice"); !live {
		t.Errorf("reconnect after idle timeout failed")
	}
}

func TestInboundEventsKeepScopeAlive(t *testing.T) {
	ff := newFakeFeed()
	m := New(ff, &fakeStore{}, testConfig())
	m.idleTimeout = 200 * time.Millisecond

	m.ConnectUser(context.Background(), "alice")
	for i := 0; i < 8; i++ {
		time.Sleep(50 * time.Millisecond)
		m.NotifyHandlers(EventInviteReceived, models.Invite{})
	}

	if got := m.UserState(); got != StateConnected {
		t.Errorf("state = %v, want connected while events keep arriving", got)
	}
	m.DisconnectUser()
}

func TestGamePollFingerprintSuppression(t *testing.T) {
	fs := &fakeStore{}
	fs.setGame(&models.Game{ID: "g1", Status: models.GameActive, CurrentPlayer: 1, Board: "b1"})
	m := New(nil, fs, testConfig())

	var fired int
	m.On(EventGameUpdated, func(payload any) { fired++ })

	last := m.pollGameOnce(context.Background(), "g1", "")
	last = m.pollGameOnce(context.Background(), "g1", last)
	if fired != 1 {
		t.Fatalf("identical polls fired %d times, want 1", fired)
	}

	fs.setGame(&models.Game{ID: "g1", Status: models.GameActive, CurrentPlayer: 2, Board: "b1"})
	last = m.pollGameOnce(context.Background(), "g1", last)
	if fired != 2 {
		t.Fatalf("changed current_player fired %d times, want 2", fired)
	}

	fs.setGame(&models.Game{ID: "g1", Status: models.GameCompleted, CurrentPlayer: 2, Board: "b1"})
	last = m.pollGameOnce(context.Background(), "g1", last)
	if fired != 3 {
		t.Fatalf("changed status fired %d times, want 3", fired)
	}

	// A failed fetch keeps the previous fingerprint and stays silent
	fs.setGame(nil)
	if got := m.pollGameOnce(context.Background(), "g1", last); got != last {
		t.Errorf("fingerprint changed on fetch failure")
	}
	if fired != 3 {
		t.Errorf("fetch failure fired handlers: %d", fired)
	}
}

func TestHandlerPanicDoesNotBlockOthers(t *testing.T) {
	m := New(nil, &fakeStore{}, testConfig())

	var order []string
	m.On(EventInviteReceived, func(payload any) { order = append(order, "first") })
	m.On(EventInviteReceived, func(payload any) { panic("boom") })
	m.On(EventInviteReceived, func(payload any) { order = append(order, "third") })

	m.NotifyHandlers(EventInviteReceived, models.Invite{})

	if len(order) != 2 || order[0] != "first" || order[1] != "third" {
		t.Errorf("delivery order = %v, want [first third]", order)
	}
}

func TestOffByToken(t *testing.T) {
	m := New(nil, &fakeStore{}, testConfig())

	var a, b int
	token, _ := m.On(EventFriendRequest, func(payload any) { a++ })
	_, offB := m.On(EventFriendRequest, func(payload any) { b++ })

	m.NotifyHandlers(EventFriendRequest, models.FriendRequest{})
	m.Off(EventFriendRequest, token)
	m.NotifyHandlers(EventFriendRequest, models.FriendRequest{})
	offB()
	m.NotifyHandlers(EventFriendRequest, models.FriendRequest{})

	if a != 1 {
		t.Errorf("handler a fired %d times, want 1", a)
	}
	if b != 2 {
		t.Errorf("handler b fired %d times, want 2", b)
	}
}

func TestConnectGameSwitchesSubscription(t *testing.T) {
	ff := newFakeFeed()
	m := New(ff, &fakeStore{}, testConfig())

	m.ConnectGame(context.Background(), "g1")
	m.ConnectGame(context.Background(), "g2")

	if ff.maxLive > 1 {
		t.Errorf("both game subscriptions open at once: max=%d", ff.maxLive)
	}
	if n := ff.liveCount("game:g2"); n != 1 {
		t.Errorf("expected live subscription for g2, got %d", n)
	}

	m.DisconnectGame()
	if n := ff.liveCount("game:"); n != 0 {
		t.Errorf("game subscription leaked: %d", n)
	}
}

func TestUserEventDispatch(t *testing.T) {
	ff := newFakeFeed()
	m := New(ff, &fakeStore{}, testConfig())

	var invites, matches int
	m.On(EventInviteReceived, func(payload any) {
		if _, ok := payload.(models.Invite); !ok {
			t.Errorf("invite payload type %T", payload)
		}
		invites++
	})
	m.On(EventMatchFound, func(payload any) {
		game, ok := payload.(*models.Game)
		if !ok || game.ID != "g9" {
			t.Errorf("match payload = %#v", payload)
		}
		matches++
	})

	m.ConnectUser(context.Background(), "alice")

	m.dispatchUserEvent(feed.RowEvent{
		Type:  feed.EventInsert,
		Table: "invites",
		New:   map[string]any{"from_user": "bob", "to_user": "alice", "status": "pending"},
	})
	m.dispatchUserEvent(feed.RowEvent{
		Type:  feed.EventInsert,
		Table: "games",
		New:   map[string]any{"id": "g9", "player1_id": "bob", "player2_id": "alice", "status": "active"},
	})

	if invites != 1 || matches != 1 {
		t.Errorf("dispatch counts: invites=%d matches=%d", invites, matches)
	}
}

func TestInvitePollNotifiesWindowRows(t *testing.T) {
	fs := &fakeStore{
		invites:  []models.Invite{{ID: 1}, {ID: 2}},
		statuses: []models.Invite{{ID: 3, Status: "accepted"}},
	}
	m := New(nil, fs, testConfig())

	var received, changed int
	m.On(EventInviteReceived, func(payload any) { received++ })
	m.On(EventInviteStatusChanged, func(payload any) { changed++ })

	m.pollInvitesOnce(context.Background(), "alice")

	if received != 2 || changed != 1 {
		t.Errorf("poll notified received=%d changed=%d, want 2 and 1", received, changed)
	}
}
