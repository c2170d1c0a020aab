package realtime

import (
	"testing"
	"time"
)

func TestPresenceStyleIndexAssignmentStaysDistinct(t *testing.T) {
	session := newTestSession(t, time.Minute)
	first, _ := attachClient(t, session, "ada", true)
	second, _ := attachClient(t, session, "grace", true)
	third, _ := attachClient(t, session, "edsger", true)

	indices := []int{
		first.PresenceAdapter().StyleIndex(),
		second.PresenceAdapter().StyleIndex(),
		third.PresenceAdapter().StyleIndex(),
	}
	for i, index := range indices {
		if index != i {
			t.Fatalf("connection %d got style index %d, want %d", i, index, i)
		}
	}
}

func TestLeastUsedStyleIndexPicksUnderusedSlot(t *testing.T) {
	peerWithIndex := func(index int) *PresenceAdapter {
		return &PresenceAdapter{state: PresenceState{StyleIndex: index}}
	}

	cases := []struct {
		name    string
		indices []int
		want    int
	}{
		{name: "no peers", indices: nil, want: 0},
		{name: "gap after duplicates", indices: []int{0, 0, 1}, want: 2},
		{name: "first free slot", indices: []int{0, 1}, want: 2},
		{name: "wraps to least used", indices: []int{0, 1, 2, 3, 4, 5, 6, 7, 0}, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			peers := make([]*PresenceAdapter, 0, len(tc.indices))
			for _, index := range tc.indices {
				peers = append(peers, peerWithIndex(index))
			}
			if got := leastUsedStyleIndex(peers); got != tc.want {
				t.Fatalf("leastUsedStyleIndex(%v) = %d, want %d", tc.indices, got, tc.want)
			}
		})
	}
}

func TestPresenceStateRequestRepliesToRequesterOnly(t *testing.T) {
	session := newTestSession(t, time.Minute)
	_, transportA := attachClient(t, session, "ada", true)
	_, transportB := attachClient(t, session, "grace", true)
	transportA.clearSent()
	transportB.clearSent()

	transportA.receive(Message{Type: MessageTypePresenceStateRequest})

	replies := transportA.sentOfType(MessageTypePresenceStateSet)
	if len(replies) != 1 {
		t.Fatalf("expected one roster reply to the requester, got %d", len(replies))
	}
	roster := replies[0].Roster
	if roster == nil {
		t.Fatal("roster reply is missing its payload")
	}
	if roster.Self.DisplayName != "ada" {
		t.Fatalf("self summary display name = %q, want %q", roster.Self.DisplayName, "ada")
	}
	if len(roster.Peers) != 1 || roster.Peers[0].DisplayName != "grace" {
		t.Fatalf("unexpected peer list: %+v", roster.Peers)
	}
	if got := len(transportB.sentOfType(MessageTypePresenceStateSet)); got != 0 {
		t.Fatalf("state request leaked %d rosters to a non-requesting peer", got)
	}
}

func TestPresenceCursorUpdateBroadcastsToPeers(t *testing.T) {
	session := newTestSession(t, time.Minute)
	_, transportA := attachClient(t, session, "ada", true)
	_, transportB := attachClient(t, session, "grace", true)
	transportB.clearSent()

	transportA.receive(Message{
		Type:   MessageTypePresenceSingleUpdate,
		Cursor: &CursorRange{From: 3, To: 8},
	})

	rosters := transportB.sentOfType(MessageTypePresenceStateSet)
	if len(rosters) != 1 {
		t.Fatalf("expected one roster push to the peer, got %d", len(rosters))
	}
	peers := rosters[0].Roster.Peers
	if len(peers) != 1 || peers[0].Cursor == nil {
		t.Fatalf("peer roster missing the moved cursor: %+v", peers)
	}
	if peers[0].Cursor.From != 3 || peers[0].Cursor.To != 8 {
		t.Fatalf("cursor = %+v, want {3 8}", *peers[0].Cursor)
	}
}

func TestPresenceCursorUpdateIgnoredForReadOnlyConnections(t *testing.T) {
	session := newTestSession(t, time.Minute)
	readOnly, transportA := attachClient(t, session, "ada", false)
	_, transportB := attachClient(t, session, "grace", true)
	transportB.clearSent()

	transportA.receive(Message{
		Type:   MessageTypePresenceSingleUpdate,
		Cursor: &CursorRange{From: 1, To: 2},
	})

	if got := len(transportB.sentOfType(MessageTypePresenceStateSet)); got != 0 {
		t.Fatalf("read-only cursor move was broadcast %d times", got)
	}
	if readOnly.PresenceAdapter().State().Cursor != nil {
		t.Fatal("read-only connection must not expose a cursor")
	}
}

func TestPresenceCursorClearedWhenEditAcceptanceRevoked(t *testing.T) {
	session := newTestSession(t, time.Minute)
	writer, transportA := attachClient(t, session, "ada", true)
	_, transportB := attachClient(t, session, "grace", true)

	transportA.receive(Message{
		Type:   MessageTypePresenceSingleUpdate,
		Cursor: &CursorRange{From: 3, To: 8},
	})
	if writer.PresenceAdapter().State().Cursor == nil {
		t.Fatal("cursor update was not stored")
	}
	transportB.clearSent()

	writer.SetAcceptEdits(false)

	if writer.PresenceAdapter().State().Cursor != nil {
		t.Fatal("downgraded connection still exposes a cursor")
	}
	rosters := transportB.sentOfType(MessageTypePresenceStateSet)
	if len(rosters) != 1 {
		t.Fatalf("expected one roster push after the downgrade, got %d", len(rosters))
	}
	peers := rosters[0].Roster.Peers
	if len(peers) != 1 || peers[0].Cursor != nil {
		t.Fatalf("peer roster still reveals the revoked cursor: %+v", peers)
	}
}

func TestPresenceActivityToggleSuppressesNoOps(t *testing.T) {
	session := newTestSession(t, time.Minute)
	_, transportA := attachClient(t, session, "ada", true)
	_, transportB := attachClient(t, session, "grace", true)
	transportB.clearSent()

	active := true
	transportA.receive(Message{Type: MessageTypePresenceSetActivity, Active: &active})
	if got := len(transportB.sentOfType(MessageTypePresenceStateSet)); got != 0 {
		t.Fatalf("unchanged activity was broadcast %d times", got)
	}

	inactive := false
	transportA.receive(Message{Type: MessageTypePresenceSetActivity, Active: &inactive})
	rosters := transportB.sentOfType(MessageTypePresenceStateSet)
	if len(rosters) != 1 {
		t.Fatalf("expected one roster push after the activity change, got %d", len(rosters))
	}
	peers := rosters[0].Roster.Peers
	if len(peers) != 1 || peers[0].Active {
		t.Fatalf("peer roster did not reflect the inactive state: %+v", peers)
	}
}
