package realtime

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConnectionConfig describes the inputs required to attach one client.
type ConnectionConfig struct {
	Transport Transport
	Session   *Session
	// UserID is empty for guests.
	UserID      string
	Username    string
	DisplayName string
	// AcceptEdits is the initial edit-acceptance state, derived from the
	// requester's permission level at admission time.
	AcceptEdits bool
	Logger      *zap.Logger
}

// Connection bundles one client's transport, sync adapter, and presence
// adapter, and ties its lifetime to the owning session: the transport's
// disconnect signal is the single path that removes a connection from its
// session.
type Connection struct {
	transport   Transport
	session     *Session
	origin      string
	userID      string
	username    string
	displayName string

	mu          sync.Mutex
	acceptEdits bool

	syncAdapter     *SyncAdapter
	presenceAdapter *PresenceAdapter
}

// NewConnection builds a connection around an admitted transport and wires
// its adapters to the session document and peers. The caller is expected to
// register it with the session via AddClient.
func NewConnection(cfg ConnectionConfig) *Connection {
	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = RandomDisplayName()
	}
	connection := &Connection{
		transport:   cfg.Transport,
		session:     cfg.Session,
		origin:      uuid.NewString(),
		userID:      cfg.UserID,
		username:    cfg.Username,
		displayName: displayName,
		acceptEdits: cfg.AcceptEdits,
	}
	connection.syncAdapter = NewSyncAdapter(SyncAdapterConfig{
		Transport:   cfg.Transport,
		Document:    cfg.Session.Document(),
		Origin:      connection.origin,
		AcceptEdits: connection.AcceptsEdits,
		Logger:      cfg.Logger,
	})
	connection.presenceAdapter = NewPresenceAdapter(PresenceAdapterConfig{
		Transport:   cfg.Transport,
		Username:    cfg.Username,
		DisplayName: displayName,
		Peers:       connection.siblingPresenceAdapters,
		AcceptEdits: connection.AcceptsEdits,
		Logger:      cfg.Logger,
	})
	cfg.Transport.OnDisconnect(func() {
		connection.session.RemoveClient(connection)
	})
	return connection
}

// Transport returns the connection's transport.
func (c *Connection) Transport() Transport {
	return c.transport
}

// SyncAdapter returns the connection's sync adapter.
func (c *Connection) SyncAdapter() *SyncAdapter {
	return c.syncAdapter
}

// PresenceAdapter returns the connection's presence adapter.
func (c *Connection) PresenceAdapter() *PresenceAdapter {
	return c.presenceAdapter
}

// UserID returns the connected user's identifier, empty for guests.
func (c *Connection) UserID() string {
	return c.userID
}

// Username returns the connected user's login name, empty for guests.
func (c *Connection) Username() string {
	return c.username
}

// DisplayName returns the name shown to peers.
func (c *Connection) DisplayName() string {
	return c.displayName
}

// IsGuest reports whether the connection has no authenticated user.
func (c *Connection) IsGuest() bool {
	return c.userID == ""
}

// AcceptsEdits reports whether edits and cursor updates from this connection
// are currently honored. Adapters re-read this at message arrival time, so a
// permission change takes effect on the very next update.
func (c *Connection) AcceptsEdits() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptEdits
}

// SetAcceptEdits mutates the edit-acceptance flag. Only the orchestrator's
// permission-change handling calls this after construction. Revoking edit
// acceptance also clears the presence cursor, since read-only connections
// never expose one; the next cursor update after a re-grant restores it.
func (c *Connection) SetAcceptEdits(accept bool) {
	c.mu.Lock()
	revoked := c.acceptEdits && !accept
	c.acceptEdits = accept
	c.mu.Unlock()
	if revoked {
		c.presenceAdapter.ClearCursor()
	}
}

// close detaches the adapters; called by the session on removal.
func (c *Connection) close() {
	c.syncAdapter.Close()
	c.presenceAdapter.Close()
}

func (c *Connection) siblingPresenceAdapters() []*PresenceAdapter {
	siblings := c.session.Connections()
	adapters := make([]*PresenceAdapter, 0, len(siblings))
	for _, sibling := range siblings {
		if sibling == c {
			continue
		}
		adapters = append(adapters, sibling.presenceAdapter)
	}
	return adapters
}
