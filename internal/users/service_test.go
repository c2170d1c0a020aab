package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestUsersService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return service
}

func TestEnsureAndLookup(t *testing.T) {
	service := newTestUsersService(t)
	ctx := context.Background()

	if _, err := service.Ensure(ctx, "user-1", "ada", "Ada Lovelace"); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	identity, err := service.Lookup(ctx, "user-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if identity.Username != "ada" || identity.DisplayName != "Ada Lovelace" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestEnsureRefreshesDisplayName(t *testing.T) {
	service := newTestUsersService(t)
	ctx := context.Background()

	if _, err := service.Ensure(ctx, "user-1", "ada", "Ada"); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if _, err := service.Ensure(ctx, "user-1", "ada", "Ada Lovelace"); err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}

	identity, err := service.Lookup(ctx, "user-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if identity.DisplayName != "Ada Lovelace" {
		t.Fatalf("DisplayName = %q, want %q", identity.DisplayName, "Ada Lovelace")
	}
}

func TestLookupUnknownUser(t *testing.T) {
	service := newTestUsersService(t)
	if _, err := service.Lookup(context.Background(), "ghost"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
	if _, err := service.Lookup(context.Background(), "  "); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser for a blank id, got %v", err)
	}
}
