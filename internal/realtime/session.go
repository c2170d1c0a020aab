package realtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultGracePeriod is the delay after the last connection leaves before an
// idle session destroys itself.
const DefaultGracePeriod = 10 * time.Second

// ErrSessionClosed indicates a lifecycle bug: Destroy was called on a session
// that is already closing.
var ErrSessionClosed = errors.New("realtime: session already closed")

// SessionListener observes session lifecycle transitions.
type SessionListener func(session *Session)

// ConnectionListener observes connection membership changes.
type ConnectionListener func(session *Session, connection *Connection)

// SessionConfig describes the inputs required to build a session.
type SessionConfig struct {
	NoteID int64
	// InitialText seeds the document when no binary state is available.
	InitialText string
	// InitialDocState, when present, takes precedence over InitialText.
	InitialDocState []byte
	GracePeriod     time.Duration
	Logger          *zap.Logger
}

// Session is the in-memory realtime editing context for exactly one note. It
// owns the shared document, tracks the attached connections, and destroys
// itself after staying empty for the grace period.
type Session struct {
	noteID      int64
	document    *Document
	gracePeriod time.Duration
	logger      *zap.Logger

	mu          sync.Mutex
	connections []*Connection
	closing     bool
	idleTimer   *time.Timer

	listenerMu     sync.Mutex
	nextListenerID int64
	beforeDestroy  map[int64]SessionListener
	destroyed      map[int64]SessionListener
	clientAdded    map[int64]ConnectionListener
	clientRemoved  map[int64]ConnectionListener
}

// NewSession builds a session seeded from a binary document state when one is
// available, falling back to plain text content.
func NewSession(cfg SessionConfig) (*Session, error) {
	var document *Document
	var err error
	if len(cfg.InitialDocState) > 0 {
		document, err = LoadDocument(cfg.InitialDocState)
	} else {
		document, err = NewDocument(cfg.InitialText)
	}
	if err != nil {
		return nil, err
	}

	gracePeriod := cfg.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	session := &Session{
		noteID:        cfg.NoteID,
		document:      document,
		gracePeriod:   gracePeriod,
		logger:        logger,
		beforeDestroy: make(map[int64]SessionListener),
		destroyed:     make(map[int64]SessionListener),
		clientAdded:   make(map[int64]ConnectionListener),
		clientRemoved: make(map[int64]ConnectionListener),
	}
	// A session starts empty, so the grace timer is armed immediately; the
	// first AddClient cancels it. Without this, a session whose admitted
	// client never attaches would outlive its note forever.
	session.scheduleIdleTeardown()
	return session, nil
}

// NoteID returns the identity of the note this session serves.
func (s *Session) NoteID() int64 {
	return s.noteID
}

// Document returns the shared document owned by this session.
func (s *Session) Document() *Document {
	return s.document
}

// AddClient registers a connection. Any pending idle teardown is canceled,
// even if this client disconnects again immediately.
func (s *Session) AddClient(connection *Connection) {
	s.mu.Lock()
	s.cancelIdleTeardownLocked()
	s.connections = append(s.connections, connection)
	s.mu.Unlock()

	s.notifyConnectionListeners(s.clientAddedSnapshot(), connection)
}

// RemoveClient drops a connection from the set and pushes updated presence
// rosters to the remaining peers. When the set becomes empty the idle
// teardown check is scheduled.
func (s *Session) RemoveClient(connection *Connection) {
	s.mu.Lock()
	found := false
	for i, candidate := range s.connections {
		if candidate == connection {
			s.connections = append(s.connections[:i], s.connections[i+1:]...)
			found = true
			break
		}
	}
	empty := len(s.connections) == 0
	closing := s.closing
	s.mu.Unlock()

	if !found {
		return
	}
	connection.close()

	for _, remaining := range s.Connections() {
		remaining.PresenceAdapter().PushRoster()
	}
	s.notifyConnectionListeners(s.clientRemovedSnapshot(), connection)

	if empty && !closing {
		s.scheduleIdleTeardown()
	}
}

// HasConnections reports whether any connection is attached.
func (s *Session) HasConnections() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections) > 0
}

// Connections returns a snapshot of the attached connections.
func (s *Session) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]*Connection, len(s.connections))
	copy(snapshot, s.connections)
	return snapshot
}

// Destroy tears the session down exactly once: before-destroy listeners run
// first (the orchestrator persists the final snapshot there), every remaining
// transport is disconnected, then destroyed listeners fire. A second call is
// a lifecycle bug and fails with ErrSessionClosed.
func (s *Session) Destroy() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return fmt.Errorf("%w: note %d", ErrSessionClosed, s.noteID)
	}
	s.closing = true
	s.cancelIdleTeardownLocked()
	remaining := make([]*Connection, len(s.connections))
	copy(remaining, s.connections)
	s.mu.Unlock()

	s.notifySessionListeners(s.beforeDestroySnapshot())
	for _, connection := range remaining {
		connection.Transport().Disconnect()
	}
	s.notifySessionListeners(s.destroyedSnapshot())
	s.logger.Info("realtime session destroyed", zap.Int64("note_id", s.noteID))
	return nil
}

// AnnounceMetadataUpdate broadcasts a payload-free metadata notification to
// every attached connection.
func (s *Session) AnnounceMetadataUpdate() {
	s.announce(Message{Type: MessageTypeMetadataUpdated})
}

// AnnounceNoteDeletion broadcasts a payload-free deletion notification to
// every attached connection.
func (s *Session) AnnounceNoteDeletion() {
	s.announce(Message{Type: MessageTypeDocumentDeleted})
}

// OnBeforeDestroy registers a listener that runs synchronously before
// teardown completes. Returns the matching unsubscribe function.
func (s *Session) OnBeforeDestroy(listener SessionListener) func() {
	return s.addSessionListener(s.beforeDestroy, listener)
}

// OnDestroyed registers a listener invoked after teardown. Returns the
// matching unsubscribe function.
func (s *Session) OnDestroyed(listener SessionListener) func() {
	return s.addSessionListener(s.destroyed, listener)
}

// OnClientAdded registers a membership listener. Returns the matching
// unsubscribe function.
func (s *Session) OnClientAdded(listener ConnectionListener) func() {
	return s.addConnectionListener(s.clientAdded, listener)
}

// OnClientRemoved registers a membership listener. Returns the matching
// unsubscribe function.
func (s *Session) OnClientRemoved(listener ConnectionListener) func() {
	return s.addConnectionListener(s.clientRemoved, listener)
}

func (s *Session) announce(message Message) {
	for _, connection := range s.Connections() {
		transport := connection.Transport()
		if !transport.IsReady() {
			continue
		}
		if err := transport.Send(message); err != nil {
			s.logger.Debug("skipping announcement to unavailable connection",
				zap.Int64("note_id", s.noteID), zap.Error(err))
		}
	}
}

// scheduleIdleTeardown arms the grace timer. The fire-time check re-verifies
// emptiness because cancellation and firing can race.
func (s *Session) scheduleIdleTeardown() {
	s.mu.Lock()
	s.cancelIdleTeardownLocked()
	s.idleTimer = time.AfterFunc(s.gracePeriod, func() {
		s.mu.Lock()
		idle := len(s.connections) == 0 && !s.closing
		s.mu.Unlock()
		if !idle {
			return
		}
		if err := s.Destroy(); err != nil && !errors.Is(err, ErrSessionClosed) {
			s.logger.Error("idle teardown failed",
				zap.Int64("note_id", s.noteID), zap.Error(err))
		}
	})
	s.mu.Unlock()
}

func (s *Session) cancelIdleTeardownLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

func (s *Session) addSessionListener(registry map[int64]SessionListener, listener SessionListener) func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.nextListenerID++
	id := s.nextListenerID
	registry[id] = listener
	return func() {
		s.listenerMu.Lock()
		delete(registry, id)
		s.listenerMu.Unlock()
	}
}

func (s *Session) addConnectionListener(registry map[int64]ConnectionListener, listener ConnectionListener) func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.nextListenerID++
	id := s.nextListenerID
	registry[id] = listener
	return func() {
		s.listenerMu.Lock()
		delete(registry, id)
		s.listenerMu.Unlock()
	}
}

func (s *Session) beforeDestroySnapshot() []SessionListener {
	return s.sessionListenerSnapshot(s.beforeDestroy)
}

func (s *Session) destroyedSnapshot() []SessionListener {
	return s.sessionListenerSnapshot(s.destroyed)
}

func (s *Session) clientAddedSnapshot() []ConnectionListener {
	return s.connectionListenerSnapshot(s.clientAdded)
}

func (s *Session) clientRemovedSnapshot() []ConnectionListener {
	return s.connectionListenerSnapshot(s.clientRemoved)
}

func (s *Session) sessionListenerSnapshot(registry map[int64]SessionListener) []SessionListener {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	listeners := make([]SessionListener, 0, len(registry))
	for _, listener := range registry {
		listeners = append(listeners, listener)
	}
	return listeners
}

func (s *Session) connectionListenerSnapshot(registry map[int64]ConnectionListener) []ConnectionListener {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	listeners := make([]ConnectionListener, 0, len(registry))
	for _, listener := range registry {
		listeners = append(listeners, listener)
	}
	return listeners
}

func (s *Session) notifySessionListeners(listeners []SessionListener) {
	for _, listener := range listeners {
		listener(s)
	}
}

func (s *Session) notifyConnectionListeners(listeners []ConnectionListener, connection *Connection) {
	for _, listener := range listeners {
		listener(s, connection)
	}
}
