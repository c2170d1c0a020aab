package notes

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingContent  = errors.New("revision content is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew        = "notes.service.new"
	opCreateNote        = "notes.create_note"
	opDeleteNote        = "notes.delete_note"
	opLatestRevision    = "notes.latest_revision"
	opCreateRevision    = "notes.create_revision"
	opPermissionLevel   = "notes.permission_level"
	opSetPermission     = "notes.set_permission"
	reasonQueryFailed   = "query_failed"
	reasonInsertFailed  = "insert_failed"
	reasonUpdateFailed  = "update_failed"
	reasonDecodeFailed  = "decode_failed"
	reasonInvalidLevel  = "invalid_level"
	reasonMissingNoteID = "invalid_note_id"
)

// ServiceError wraps a notes failure with an operation-scoped code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation-scoped error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the notes service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the persisted-note collaborator consumed by the realtime engine:
// it serves the latest revision, stores new snapshots, and computes
// permission levels.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// CreateNote persists a new note owned by the given user, together with its
// initial revision, and returns the assigned note id.
func (s *Service) CreateNote(ctx context.Context, ownerUserID, title, initialContent string, everyoneLevel PermissionLevel) (int64, error) {
	now := s.clock().UTC().Unix()
	note := Note{
		OwnerUserID:      ownerUserID,
		Title:            title,
		EveryoneLevel:    everyoneLevel.String(),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&note).Error; err != nil {
			return newServiceError(opCreateNote, reasonInsertFailed, err)
		}
		revision := Revision{
			RevisionID:       uuid.NewString(),
			NoteID:           note.NoteID,
			Content:          initialContent,
			Initial:          true,
			CreatedAtSeconds: now,
		}
		if err := tx.Create(&revision).Error; err != nil {
			return newServiceError(opCreateNote, reasonInsertFailed, err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreateNote, reasonInsertFailed, txErr, zap.String("owner", ownerUserID))
		return 0, txErr
	}
	return note.NoteID, nil
}

// DeleteNote marks the note as deleted. The realtime engine is informed
// separately through the event bus.
func (s *Service) DeleteNote(ctx context.Context, noteID int64) error {
	result := s.db.WithContext(ctx).Model(&Note{}).
		Where("note_id = ?", noteID).
		Update("is_deleted", true)
	if result.Error != nil {
		s.logError(opDeleteNote, reasonUpdateFailed, result.Error, zap.Int64("note_id", noteID))
		return newServiceError(opDeleteNote, reasonUpdateFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNoteNotFound, noteID)
	}
	return nil
}

// LatestRevision returns the most recent persisted revision of a note. It
// fails with ErrNoRevision when the note has never been persisted.
func (s *Service) LatestRevision(ctx context.Context, noteID int64) (RevisionSnapshot, error) {
	var revision Revision
	err := s.db.WithContext(ctx).
		Where("note_id = ?", noteID).
		Order("created_at_s DESC, revision_id DESC").
		Take(&revision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RevisionSnapshot{}, fmt.Errorf("%w: %d", ErrNoRevision, noteID)
	}
	if err != nil {
		s.logError(opLatestRevision, reasonQueryFailed, err, zap.Int64("note_id", noteID))
		return RevisionSnapshot{}, newServiceError(opLatestRevision, reasonQueryFailed, err)
	}

	snapshot := RevisionSnapshot{Content: revision.Content}
	if revision.DocStateB64 != "" {
		docState, decodeErr := base64.StdEncoding.DecodeString(revision.DocStateB64)
		if decodeErr != nil {
			s.logError(opLatestRevision, reasonDecodeFailed, decodeErr, zap.Int64("note_id", noteID))
			return RevisionSnapshot{}, newServiceError(opLatestRevision, reasonDecodeFailed, decodeErr)
		}
		snapshot.DocState = docState
	}
	return snapshot, nil
}

// CreateRevision stores a new non-initial snapshot of the note's content and
// document state.
func (s *Service) CreateRevision(ctx context.Context, noteID int64, content string, docState []byte) error {
	if noteID <= 0 {
		return newServiceError(opCreateRevision, reasonMissingNoteID, fmt.Errorf("%w: %d", ErrInvalidNoteID, noteID))
	}
	if content == "" && len(docState) == 0 {
		return newServiceError(opCreateRevision, "missing_content", errMissingContent)
	}
	revision := Revision{
		RevisionID:       uuid.NewString(),
		NoteID:           noteID,
		Content:          content,
		DocStateB64:      base64.StdEncoding.EncodeToString(docState),
		Initial:          false,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&revision).Error; err != nil {
		s.logError(opCreateRevision, reasonInsertFailed, err, zap.Int64("note_id", noteID))
		return newServiceError(opCreateRevision, reasonInsertFailed, err)
	}
	return nil
}

// PermissionLevel computes the ordered access level of a user on a note.
// The owner always has write access; an explicit permission row overrides the
// note's everyone level; guests (empty user id) get the everyone level.
// Deleted and unknown notes deny all access.
func (s *Service) PermissionLevel(ctx context.Context, noteID int64, userID string) (PermissionLevel, error) {
	var note Note
	err := s.db.WithContext(ctx).Where("note_id = ?", noteID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PermissionDenied, nil
	}
	if err != nil {
		s.logError(opPermissionLevel, reasonQueryFailed, err, zap.Int64("note_id", noteID))
		return PermissionDenied, newServiceError(opPermissionLevel, reasonQueryFailed, err)
	}
	if note.IsDeleted {
		return PermissionDenied, nil
	}
	if userID != "" && note.OwnerUserID == userID {
		return PermissionWrite, nil
	}

	if userID != "" {
		var permission NotePermission
		err = s.db.WithContext(ctx).
			Where("note_id = ? AND user_id = ?", noteID, userID).
			Take(&permission).Error
		if err == nil {
			level, parseErr := ParsePermissionLevel(permission.Level)
			if parseErr != nil {
				s.logError(opPermissionLevel, reasonInvalidLevel, parseErr,
					zap.Int64("note_id", noteID), zap.String("user_id", userID))
				return PermissionDenied, newServiceError(opPermissionLevel, reasonInvalidLevel, parseErr)
			}
			return level, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opPermissionLevel, reasonQueryFailed, err,
				zap.Int64("note_id", noteID), zap.String("user_id", userID))
			return PermissionDenied, newServiceError(opPermissionLevel, reasonQueryFailed, err)
		}
	}

	level, parseErr := ParsePermissionLevel(note.EveryoneLevel)
	if parseErr != nil {
		s.logError(opPermissionLevel, reasonInvalidLevel, parseErr, zap.Int64("note_id", noteID))
		return PermissionDenied, newServiceError(opPermissionLevel, reasonInvalidLevel, parseErr)
	}
	return level, nil
}

// SetPermission upserts the explicit access level of one user on one note.
func (s *Service) SetPermission(ctx context.Context, noteID int64, userID string, level PermissionLevel) error {
	if userID == "" {
		return newServiceError(opSetPermission, "missing_user_id", errors.New("user identifier is required"))
	}
	permission := NotePermission{NoteID: noteID, UserID: userID, Level: level.String()}
	err := s.db.WithContext(ctx).Save(&permission).Error
	if err != nil {
		s.logError(opSetPermission, reasonUpdateFailed, err,
			zap.Int64("note_id", noteID), zap.String("user_id", userID))
		return newServiceError(opSetPermission, reasonUpdateFailed, err)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notes service error", attrs...)
}
