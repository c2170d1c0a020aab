package notes

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidNoteID indicates that a note identifier is not positive.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidPermissionLevel indicates an unknown permission level value.
	ErrInvalidPermissionLevel = errors.New("notes: invalid permission level")
	// ErrNoteNotFound indicates the note does not exist.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrNoRevision indicates the note has no persisted revision.
	ErrNoRevision = errors.New("notes: no revision for note")
)

// NoteID represents a validated numeric note identifier.
type NoteID int64

// NewNoteID validates the value and returns a NoteID.
func NewNoteID(value int64) (NoteID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidNoteID, value)
	}
	return NoteID(value), nil
}

// Int64 returns the raw note identifier.
func (id NoteID) Int64() int64 {
	return int64(id)
}

// PermissionLevel orders a user's access to a note: deny < read < write.
type PermissionLevel int

const (
	// PermissionDenied blocks all access.
	PermissionDenied PermissionLevel = iota
	// PermissionRead grants read-only access.
	PermissionRead
	// PermissionWrite grants read and write access.
	PermissionWrite
)

// CanRead reports whether the level admits at least read access.
func (level PermissionLevel) CanRead() bool {
	return level >= PermissionRead
}

// CanWrite reports whether the level admits write access.
func (level PermissionLevel) CanWrite() bool {
	return level >= PermissionWrite
}

// String renders the stored representation of the level.
func (level PermissionLevel) String() string {
	switch level {
	case PermissionRead:
		return "read"
	case PermissionWrite:
		return "write"
	default:
		return "deny"
	}
}

// ParsePermissionLevel maps a stored representation back to a level.
func ParsePermissionLevel(value string) (PermissionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "deny", "":
		return PermissionDenied, nil
	case "read":
		return PermissionRead, nil
	case "write":
		return PermissionWrite, nil
	default:
		return PermissionDenied, fmt.Errorf("%w: %q", ErrInvalidPermissionLevel, value)
	}
}

// Note models the persisted note row.
type Note struct {
	NoteID      int64  `gorm:"column:note_id;primaryKey;autoIncrement"`
	OwnerUserID string `gorm:"column:owner_user_id;size:190;not null;index"`
	Title       string `gorm:"column:title;size:512;not null;default:''"`
	// EveryoneLevel is the access granted to users without an explicit
	// permission row, guests included ("deny", "read", or "write").
	EveryoneLevel    string `gorm:"column:everyone_level;size:16;not null;default:'deny'"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Revision stores one content snapshot of a note, together with the encoded
// binary state of the shared document that produced it.
type Revision struct {
	RevisionID       string `gorm:"column:revision_id;primaryKey;size:190;not null"`
	NoteID           int64  `gorm:"column:note_id;not null;index:idx_revisions_note_created,priority:1"`
	Content          string `gorm:"column:content;type:text;not null"`
	DocStateB64      string `gorm:"column:doc_state_b64;type:text;not null;default:''"`
	Initial          bool   `gorm:"column:is_initial;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_revisions_note_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Revision) TableName() string {
	return "note_revisions"
}

// NotePermission grants one user an explicit access level on one note.
type NotePermission struct {
	NoteID int64  `gorm:"column:note_id;primaryKey"`
	UserID string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Level  string `gorm:"column:level;size:16;not null"`
}

// TableName provides the explicit table binding for GORM.
func (NotePermission) TableName() string {
	return "note_permissions"
}

// RevisionSnapshot is the decoded view of the latest persisted revision.
type RevisionSnapshot struct {
	Content  string
	DocState []byte
}
