package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// SyncAdapterConfig describes the dependencies of one sync adapter.
type SyncAdapterConfig struct {
	Transport   Transport
	Document    *Document
	Origin      string
	AcceptEdits func() bool
	Logger      *zap.Logger
}

// SyncAdapter keeps one connection's replica synchronized with the session
// document. The handshake ships the full encoded state once the transport is
// ready; afterwards inbound deltas are applied through the document (gated by
// the edit-acceptance predicate) and deltas from sibling connections are
// relayed outward.
type SyncAdapter struct {
	transport   Transport
	document    *Document
	origin      string
	acceptEdits func() bool
	logger      *zap.Logger

	mu           sync.Mutex
	synced       bool
	unsubscribes []func()
}

// NewSyncAdapter wires a sync adapter to its transport and document.
func NewSyncAdapter(cfg SyncAdapterConfig) *SyncAdapter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	adapter := &SyncAdapter{
		transport:   cfg.Transport,
		document:    cfg.Document,
		origin:      cfg.Origin,
		acceptEdits: cfg.AcceptEdits,
		logger:      logger,
	}
	adapter.unsubscribes = append(adapter.unsubscribes,
		cfg.Transport.Subscribe(MessageTypeNoteContentUpdate, adapter.handleContentUpdate),
		cfg.Transport.OnReady(adapter.completeHandshake),
		cfg.Document.Subscribe(adapter.relayDocumentUpdate),
	)
	if cfg.Transport.IsReady() {
		adapter.completeHandshake()
	}
	return adapter
}

// IsSynced reports whether the initial handshake has completed.
func (a *SyncAdapter) IsSynced() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.synced
}

// Close detaches the adapter from its transport and document.
func (a *SyncAdapter) Close() {
	for _, unsubscribe := range a.unsubscribes {
		unsubscribe()
	}
	a.unsubscribes = nil
}

// completeHandshake ships the full document state to the client and marks the
// adapter synced. Runs when the transport reports ready. The synced flag flips
// while the document is locked, so no delta can land between the snapshot and
// the flag: a concurrent update is either inside the shipped state or relayed
// once it is applied.
func (a *SyncAdapter) completeHandshake() {
	var state []byte
	a.document.SaveWith(func(encoded []byte) {
		state = encoded
		a.mu.Lock()
		a.synced = true
		a.mu.Unlock()
	})
	if err := a.transport.Send(Message{Type: MessageTypeNoteContentUpdate, Update: state}); err != nil {
		a.logger.Warn("failed to send document state during handshake",
			zap.String("origin", a.origin), zap.Error(err))
		a.mu.Lock()
		a.synced = false
		a.mu.Unlock()
	}
}

// handleContentUpdate applies one inbound delta. Updates from connections
// that cannot accept edits are dropped without error: a permission downgrade
// must stay invisible to the client beyond its edits becoming inert.
func (a *SyncAdapter) handleContentUpdate(message Message) {
	if len(message.Update) == 0 {
		return
	}
	if !a.acceptEdits() {
		a.logger.Debug("dropping content update from read-only connection",
			zap.String("origin", a.origin))
		return
	}
	if _, err := a.document.ApplyUpdate(message.Update, a.origin); err != nil {
		a.logger.Warn("failed to apply inbound content update",
			zap.String("origin", a.origin), zap.Error(err))
	}
}

// relayDocumentUpdate forwards a delta produced by a sibling connection.
// The originator is excluded and peers that have not finished the handshake
// are skipped; they receive the change inside the full handshake state.
func (a *SyncAdapter) relayDocumentUpdate(update []byte, origin string) {
	if origin == a.origin {
		return
	}
	if !a.IsSynced() || !a.transport.IsReady() {
		return
	}
	if err := a.transport.Send(Message{Type: MessageTypeNoteContentUpdate, Update: update}); err != nil {
		a.logger.Warn("failed to relay content update",
			zap.String("origin", a.origin), zap.Error(err))
	}
}
