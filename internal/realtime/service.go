package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/scribe/internal/notes"
	"go.uber.org/zap"
)

var (
	errMissingStore       = errors.New("session store is required")
	errMissingNoteStorage = errors.New("note storage is required")
	errMissingPermissions = errors.New("permission source is required")
)

// NoteStorage is the persisted-revision contract the engine consumes.
type NoteStorage interface {
	// LatestRevision fails with notes.ErrNoRevision when the note has no
	// persisted content.
	LatestRevision(ctx context.Context, noteID int64) (notes.RevisionSnapshot, error)
	// CreateRevision stores a new non-initial snapshot.
	CreateRevision(ctx context.Context, noteID int64, content string, docState []byte) error
}

// PermissionSource computes a user's current access level on a note.
type PermissionSource interface {
	PermissionLevel(ctx context.Context, noteID int64, userID string) (notes.PermissionLevel, error)
}

// ServiceConfig describes the orchestrator's dependencies.
type ServiceConfig struct {
	Store       *Store
	Notes       NoteStorage
	Permissions PermissionSource
	// PersistInterval is the period of the per-session snapshot timer;
	// zero or negative disables periodic persistence (the final snapshot
	// on destroy is always written).
	PersistInterval time.Duration
	GracePeriod     time.Duration
	Logger          *zap.Logger
}

// Service orchestrates session lifecycle against the persisted-note world:
// it creates sessions seeded from storage, persists snapshots periodically
// and on destroy, and propagates external permission and deletion events to
// live connections.
type Service struct {
	store           *Store
	notes           NoteStorage
	permissions     PermissionSource
	persistInterval time.Duration
	gracePeriod     time.Duration
	logger          *zap.Logger
}

// NewService validates the configuration and builds the orchestrator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Notes == nil {
		return nil, errMissingNoteStorage
	}
	if cfg.Permissions == nil {
		return nil, errMissingPermissions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:           cfg.Store,
		notes:           cfg.Notes,
		permissions:     cfg.Permissions,
		persistInterval: cfg.PersistInterval,
		gracePeriod:     cfg.GracePeriod,
		logger:          logger,
	}, nil
}

// GetOrCreateRealtimeNote returns the live session for a note, creating one
// seeded from the latest persisted revision when none exists. The storage
// read suspends, so a concurrent caller may win the creation race; the
// store's create-fails-if-exists invariant converts that into reusing the
// winner's session.
func (s *Service) GetOrCreateRealtimeNote(ctx context.Context, noteID int64) (*Session, error) {
	if session, ok := s.store.Find(noteID); ok {
		return session, nil
	}

	revision, err := s.notes.LatestRevision(ctx, noteID)
	if err != nil {
		return nil, err
	}

	session, err := s.store.Create(SessionConfig{
		NoteID:          noteID,
		InitialText:     revision.Content,
		InitialDocState: revision.DocState,
		GracePeriod:     s.gracePeriod,
		Logger:          s.logger,
	})
	if errors.Is(err, ErrSessionExists) {
		if existing, ok := s.store.Find(noteID); ok {
			return existing, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	session.OnBeforeDestroy(func(destroying *Session) {
		s.SaveRealtimeNote(destroying)
	})
	if s.persistInterval > 0 {
		s.startPersistenceTimer(session)
	}
	s.logger.Info("realtime session created", zap.Int64("note_id", noteID))
	return session, nil
}

// SaveRealtimeNote persists the session's current content and document state
// as a new revision and, on success, announces a metadata update. Storage
// failures are logged, never propagated: a failed save must not take the live
// session down, and the data-loss window closes at the next periodic or
// final-destroy save.
func (s *Service) SaveRealtimeNote(session *Session) {
	content, docState := session.Document().Snapshot()
	if err := s.notes.CreateRevision(context.Background(), session.NoteID(), content, docState); err != nil {
		s.logger.Error("failed to persist realtime note snapshot",
			zap.Int64("note_id", session.NoteID()), zap.Error(err))
		return
	}
	session.AnnounceMetadataUpdate()
}

// HandleNotePermissionChanged re-evaluates every live connection of the note
// against the current permission level: denied users are disconnected, users
// above read-only regain edit acceptance, read-only users keep their
// connection but their edits become inert. No-op when no session is live.
func (s *Service) HandleNotePermissionChanged(ctx context.Context, noteID int64) {
	session, ok := s.store.Find(noteID)
	if !ok {
		return
	}
	session.AnnounceMetadataUpdate()
	for _, connection := range session.Connections() {
		level, err := s.permissions.PermissionLevel(ctx, noteID, connection.UserID())
		if err != nil {
			s.logger.Error("failed to re-evaluate connection permission",
				zap.Int64("note_id", noteID),
				zap.String("user_id", connection.UserID()),
				zap.Error(err))
			continue
		}
		switch {
		case !level.CanRead():
			connection.Transport().Disconnect()
		case level.CanWrite():
			connection.SetAcceptEdits(true)
		default:
			connection.SetAcceptEdits(false)
		}
	}
}

// HandleNoteDeleted announces the deletion to every live connection. The
// session itself is not destroyed here; clients react to the notification.
// No-op when no session is live.
func (s *Service) HandleNoteDeleted(noteID int64) {
	session, ok := s.store.Find(noteID)
	if !ok {
		return
	}
	session.AnnounceNoteDeletion()
}

// CloseRealtimeNote destroys the live session for a note whose content was
// changed out-of-band, invalidating the shared document. No-op when no
// session is live.
func (s *Service) CloseRealtimeNote(noteID int64) {
	session, ok := s.store.Find(noteID)
	if !ok {
		return
	}
	if err := session.Destroy(); err != nil {
		s.logger.Error("failed to close realtime note",
			zap.Int64("note_id", noteID), zap.Error(err))
	}
}

// SubscribeEvents binds the orchestrator to an external note event bus and
// returns the unsubscribe function.
func (s *Service) SubscribeEvents(bus *EventBus) func() {
	return bus.Subscribe(func(event NoteEvent) {
		switch event.Type {
		case NoteEventPermissionChanged:
			s.HandleNotePermissionChanged(context.Background(), event.NoteID)
		case NoteEventDeleted:
			s.HandleNoteDeleted(event.NoteID)
		case NoteEventCloseRealtime:
			s.CloseRealtimeNote(event.NoteID)
		}
	})
}

// Shutdown destroys every live session, persisting their final snapshots via
// the before-destroy listeners.
func (s *Service) Shutdown() {
	for _, session := range s.store.All() {
		if err := session.Destroy(); err != nil && !errors.Is(err, ErrSessionClosed) {
			s.logger.Error("failed to destroy session during shutdown",
				zap.Int64("note_id", session.NoteID()), zap.Error(err))
		}
	}
}

func (s *Service) startPersistenceTimer(session *Session) {
	ticker := time.NewTicker(s.persistInterval)
	done := make(chan struct{})
	session.OnDestroyed(func(*Session) {
		close(done)
	})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SaveRealtimeNote(session)
			case <-done:
				return
			}
		}
	}()
}
