package mux

import (
	"encoding/json"
	"fmt"

	"github.com/playgambit/coordinator/internal/feed"
)

// EventKind names one of the in-process event streams consumers can register
// handlers for. The same kinds are delivered whether the multiplexer is on a
// live subscription or polling.
type EventKind string

const (
	EventInviteReceived      EventKind = "invite_received"
	EventInviteStatusChanged EventKind = "invite_status_changed"
	EventFriendRequest       EventKind = "friend_request_received"
	EventMatchFound          EventKind = "match_found"
	EventGameUpdated         EventKind = "game_updated"
	EventChatMessage         EventKind = "chat_message"
)

// Handler receives event payloads. Payload types per kind: models.Invite for
// invite events, models.FriendRequest for friend requests, *models.Game for
// match/game events, map[string]any for chat rows.
type Handler func(payload any)

// decodeRow converts a raw change-feed row into a typed model.
func decodeRow(row map[string]any, dst any) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

// kindForUserEvent maps a row event from the user channel onto an event kind.
func kindForUserEvent(ev feed.RowEvent) (EventKind, bool) {
	switch ev.Table {
	case "invites":
		if ev.Type == feed.EventInsert {
			return EventInviteReceived, true
		}
		if ev.Type == feed.EventUpdate {
			return EventInviteStatusChanged, true
		}
	case "friend_requests":
		if ev.Type == feed.EventInsert {
			return EventFriendRequest, true
		}
	case "games":
		if ev.Type == feed.EventInsert || ev.Type == feed.EventUpdate {
			return EventMatchFound, true
		}
	}
	return "", false
}
