package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// StyleIndexCount is the number of distinct cursor styles cycled across peers.
const StyleIndexCount = 8

// PresenceAdapterConfig describes the dependencies of one presence adapter.
type PresenceAdapterConfig struct {
	Transport   Transport
	Username    string
	DisplayName string
	// Peers returns the presence adapters of every sibling connection in
	// the session, excluding this one.
	Peers       func() []*PresenceAdapter
	AcceptEdits func() bool
	Logger      *zap.Logger
}

// PresenceAdapter maintains one connection's presence record and keeps the
// sibling connections' views of it current. Broadcasts are best effort: a
// peer whose transport is not ready is skipped, never retried, since the next
// broadcast supersedes the missed one.
type PresenceAdapter struct {
	transport   Transport
	peers       func() []*PresenceAdapter
	acceptEdits func() bool
	logger      *zap.Logger

	mu           sync.Mutex
	state        PresenceState
	unsubscribes []func()
}

// NewPresenceAdapter wires a presence adapter to its transport, assigning the
// least-used style index among the current peers. A connection that cannot
// accept edits never exposes a cursor.
func NewPresenceAdapter(cfg PresenceAdapterConfig) *PresenceAdapter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	adapter := &PresenceAdapter{
		transport:   cfg.Transport,
		peers:       cfg.Peers,
		acceptEdits: cfg.AcceptEdits,
		logger:      logger,
	}
	var cursor *CursorRange
	if cfg.AcceptEdits() {
		cursor = &CursorRange{From: 0, To: 0}
	}
	adapter.state = PresenceState{
		Active:      true,
		Cursor:      cursor,
		StyleIndex:  leastUsedStyleIndex(cfg.Peers()),
		DisplayName: cfg.DisplayName,
		Username:    cfg.Username,
	}
	adapter.unsubscribes = append(adapter.unsubscribes,
		cfg.Transport.Subscribe(MessageTypePresenceSingleUpdate, adapter.handleCursorUpdate),
		cfg.Transport.Subscribe(MessageTypePresenceStateRequest, adapter.handleStateRequest),
		cfg.Transport.Subscribe(MessageTypePresenceSetActivity, adapter.handleSetActivity),
	)
	return adapter
}

// State returns a copy of the current presence record.
func (a *PresenceAdapter) State() PresenceState {
	a.mu.Lock()
	defer a.mu.Unlock()
	state := a.state
	if state.Cursor != nil {
		cursor := *state.Cursor
		state.Cursor = &cursor
	}
	return state
}

// StyleIndex returns the style index assigned to this connection.
func (a *PresenceAdapter) StyleIndex() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.StyleIndex
}

// ClearCursor drops the exposed cursor and informs the peers. Called when the
// connection's edit acceptance is revoked: a read-only connection must not
// reveal cursor state, including a cursor stored before the downgrade.
func (a *PresenceAdapter) ClearCursor() {
	a.mu.Lock()
	if a.state.Cursor == nil {
		a.mu.Unlock()
		return
	}
	a.state.Cursor = nil
	a.mu.Unlock()
	a.broadcast()
}

// Close detaches the adapter from its transport.
func (a *PresenceAdapter) Close() {
	for _, unsubscribe := range a.unsubscribes {
		unsubscribe()
	}
	a.unsubscribes = nil
}

// PushRoster sends this connection its current view of the session roster.
// The session calls this on the remaining connections after a peer departs.
func (a *PresenceAdapter) PushRoster() {
	a.sendRoster(readyPeerStates(a.peers()))
}

// handleCursorUpdate stores an inbound cursor move and fans the change out.
// Cursor updates are gated the same way edits are: a read-only connection's
// cursor is ignored silently.
func (a *PresenceAdapter) handleCursorUpdate(message Message) {
	if message.Cursor == nil {
		return
	}
	if !a.acceptEdits() {
		return
	}
	a.mu.Lock()
	cursor := *message.Cursor
	a.state.Cursor = &cursor
	a.mu.Unlock()
	a.broadcast()
}

// handleStateRequest replies to the requester only, with its own summary and
// the full records of every ready peer.
func (a *PresenceAdapter) handleStateRequest(Message) {
	a.sendRoster(readyPeerStates(a.peers()))
}

// handleSetActivity updates the activity flag; unchanged values are dropped
// so no-op broadcasts are suppressed.
func (a *PresenceAdapter) handleSetActivity(message Message) {
	if message.Active == nil {
		return
	}
	a.mu.Lock()
	if a.state.Active == *message.Active {
		a.mu.Unlock()
		return
	}
	a.state.Active = *message.Active
	a.mu.Unlock()
	a.broadcast()
}

// broadcast pushes the full roster to every sibling after a local change.
func (a *PresenceAdapter) broadcast() {
	for _, peer := range a.peers() {
		peer.PushRoster()
	}
}

func (a *PresenceAdapter) sendRoster(peers []PresenceState) {
	if !a.transport.IsReady() {
		return
	}
	if peers == nil {
		peers = []PresenceState{}
	}
	a.mu.Lock()
	summary := PresenceSummary{DisplayName: a.state.DisplayName, StyleIndex: a.state.StyleIndex}
	a.mu.Unlock()
	message := Message{
		Type:   MessageTypePresenceStateSet,
		Roster: &PresenceRoster{Self: summary, Peers: peers},
	}
	if err := a.transport.Send(message); err != nil {
		a.logger.Debug("skipping presence push to unavailable peer", zap.Error(err))
	}
}

func readyPeerStates(peers []*PresenceAdapter) []PresenceState {
	states := make([]PresenceState, 0, len(peers))
	for _, peer := range peers {
		if !peer.transport.IsReady() {
			continue
		}
		states = append(states, peer.State())
	}
	return states
}

// leastUsedStyleIndex picks the lowest style index used by the fewest peers,
// so colors stay distinct while at most StyleIndexCount peers are present.
func leastUsedStyleIndex(peers []*PresenceAdapter) int {
	var usage [StyleIndexCount]int
	for _, peer := range peers {
		index := peer.StyleIndex()
		if index >= 0 && index < StyleIndexCount {
			usage[index]++
		}
	}
	selected := 0
	for index := 1; index < StyleIndexCount; index++ {
		if usage[index] < usage[selected] {
			selected = index
		}
	}
	return selected
}
