package feed

import (
	"context"
	"fmt"
	"strings"
)

// Row event types as emitted by the platform change feed.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventAll    = "*"
)

// RowEvent is a single row-level change delivered to a subscriber.
type RowEvent struct {
	Type  string         `json:"type"`
	Table string         `json:"table"`
	New   map[string]any `json:"new,omitempty"`
	Old   map[string]any `json:"old,omitempty"`
}

// Row returns the row the event describes: the new row, or the old one for deletes.
func (ev RowEvent) Row() map[string]any {
	if ev.Type == EventDelete {
		return ev.Old
	}
	return ev.New
}

// Matcher selects which row events on a channel a subscription receives.
// Filter uses "column=eq.value" syntax; empty means match every row.
type Matcher struct {
	Event  string
	Table  string
	Filter string
}

// Matches reports whether ev satisfies the matcher.
func (m Matcher) Matches(ev RowEvent) bool {
	if m.Event != EventAll && m.Event != ev.Type {
		return false
	}
	if m.Table != "" && m.Table != ev.Table {
		return false
	}
	if m.Filter == "" {
		return true
	}
	column, want, ok := parseFilter(m.Filter)
	if !ok {
		return false
	}
	row := ev.Row()
	if row == nil {
		return false
	}
	got, exists := row[column]
	if !exists {
		return false
	}
	return fmt.Sprint(got) == want
}

// parseFilter splits "column=eq.value" into its parts.
func parseFilter(filter string) (column, value string, ok bool) {
	parts := strings.SplitN(filter, "=eq.", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Callback receives matched row events.
type Callback func(ev RowEvent)

// Handle identifies a live subscription for later teardown.
type Handle string

// Client is the change-feed collaborator: subscribe to row-change events on a
// named channel, receive matched events via the callback, tear down by handle.
type Client interface {
	Subscribe(ctx context.Context, channel string, matchers []Matcher, cb Callback) (Handle, error)
	Unsubscribe(handle Handle) error
}
