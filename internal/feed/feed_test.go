package feed

import "testing"

func TestMatcherMatches(t *testing.T) {
	insertInvite := RowEvent{
		Type:  EventInsert,
		Table: "invites",
		New:   map[string]any{"to_user": "alice", "from_user": "bob"},
	}
	deleteQueue := RowEvent{
		Type:  EventDelete,
		Table: "matchmaking_queue",
		Old:   map[string]any{"user_id": "alice"},
	}

	tests := []struct {
		name    string
		matcher Matcher
		event   RowEvent
		want    bool
	}{
		{
			name:    "exact event, table and filter",
			matcher: Matcher{Event: EventInsert, Table: "invites", Filter: "to_user=eq.alice"},
			event:   insertInvite,
			want:    true,
		},
		{
			name:    "wildcard event",
			matcher: Matcher{Event: EventAll, Table: "invites", Filter: "to_user=eq.alice"},
			event:   insertInvite,
			want:    true,
		},
		{
			name:    "filter value mismatch",
			matcher: Matcher{Event: EventInsert, Table: "invites", Filter: "to_user=eq.carol"},
			event:   insertInvite,
			want:    false,
		},
		{
			name:    "wrong table",
			matcher: Matcher{Event: EventInsert, Table: "friend_requests", Filter: "to_user=eq.alice"},
			event:   insertInvite,
			want:    false,
		},
		{
			name:    "wrong event type",
			matcher: Matcher{Event: EventUpdate, Table: "invites", Filter: "to_user=eq.alice"},
			event:   insertInvite,
			want:    false,
		},
		{
			name:    "empty filter matches any row",
			matcher: Matcher{Event: EventInsert, Table: "invites"},
			event:   insertInvite,
			want:    true,
		},
		{
			name:    "delete events match against the old row",
			matcher: Matcher{Event: EventDelete, Table: "matchmaking_queue", Filter: "user_id=eq.alice"},
			event:   deleteQueue,
			want:    true,
		},
		{
			name:    "missing column",
			matcher: Matcher{Event: EventInsert, Table: "invites", Filter: "game_id=eq.1"},
			event:   insertInvite,
			want:    false,
		},
		{
			name:    "malformed filter never matches",
			matcher: Matcher{Event: EventInsert, Table: "invites", Filter: "to_user~alice"},
			event:   insertInvite,
			want:    false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.matcher.Matches(tc.event); got != tc.want {
				t.Errorf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMatcherNumericFilterValues(t *testing.T) {
	// JSON numbers decode as float64; filters still compare textually
	ev := RowEvent{
		Type:  EventUpdate,
		Table: "games",
		New:   map[string]any{"current_player": float64(2)},
	}
	m := Matcher{Event: EventUpdate, Table: "games", Filter: "current_player=eq.2"}
	if !m.Matches(ev) {
		t.Errorf("numeric filter did not match")
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		filter string
		column string
		value  string
		ok     bool
	}{
		{"to_user=eq.alice", "to_user", "alice", true},
		{"id=eq.g_123", "id", "g_123", true},
		{"=eq.alice", "", "", false},
		{"to_user=alice", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range tests {
		column, value, ok := parseFilter(tc.filter)
		if column != tc.column || value != tc.value || ok != tc.ok {
			t.Errorf("parseFilter(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.filter, column, value, ok, tc.column, tc.value, tc.ok)
		}
	}
}
