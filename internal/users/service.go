package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrUnknownUser indicates the user id has no stored identity.
var ErrUnknownUser = errors.New("users: unknown user")

// ServiceConfig describes the dependencies required for identity lookup.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service resolves user identities for the connection-admission layer.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Lookup returns the stored identity for a user id, failing with
// ErrUnknownUser when none exists.
func (s *Service) Lookup(ctx context.Context, userID string) (Identity, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return Identity{}, fmt.Errorf("%w: empty user id", ErrUnknownUser)
	}
	var identity Identity
	err := s.db.WithContext(ctx).Where("user_id = ?", trimmed).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, fmt.Errorf("%w: %s", ErrUnknownUser, trimmed)
	}
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// Ensure stores or refreshes an identity, keeping the display name current.
func (s *Service) Ensure(ctx context.Context, userID, username, displayName string) (Identity, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return Identity{}, fmt.Errorf("%w: empty user id", ErrUnknownUser)
	}
	identity := Identity{
		UserID:      trimmed,
		Username:    strings.TrimSpace(username),
		DisplayName: strings.TrimSpace(displayName),
	}
	if err := s.db.WithContext(ctx).Save(&identity).Error; err != nil {
		return Identity{}, err
	}
	return identity, nil
}
