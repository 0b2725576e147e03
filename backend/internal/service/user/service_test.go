package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domain "newsroom-cms/backend/internal/domain/user"
	"newsroom-cms/backend/internal/repository"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *time.Time) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&domain.User{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	clock := time.Date(2025, 10, 20, 9, 0, 0, 0, time.UTC)
	svc := NewService(repository.NewUserRepository(db), nil)
	svc.now = func() time.Time { return clock }
	return svc, db, &clock
}

func TestSyncProfileCreatesUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.SyncProfile(ctx, Profile{ID: 42, Username: " alice ", DisplayName: "Alice"}); err != nil {
		t.Fatalf("sync profile: %v", err)
	}
	u, err := svc.GetProfile(ctx, 42)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if u.Username != "alice" || u.DisplayName != "Alice" {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.Email != "user-42@users.invalid" {
		t.Fatalf("expected placeholder email, got %q", u.Email)
	}
}

func TestSyncProfileSkipsUnchangedWithinInterval(t *testing.T) {
	svc, db, clock := newTestService(t)
	ctx := context.Background()
	profile := Profile{ID: 7, Username: "bob", DisplayName: "Bob", Email: "bob@example.com"}

	if err := svc.SyncProfile(ctx, profile); err != nil {
		t.Fatalf("sync profile: %v", err)
	}
	if err := db.Model(&domain.User{}).Where("id = ?", 7).Update("display_name", "Local Edit").Error; err != nil {
		t.Fatalf("local edit: %v", err)
	}

	*clock = clock.Add(time.Minute)
	if err := svc.SyncProfile(ctx, profile); err != nil {
		t.Fatalf("sync profile: %v", err)
	}
	u, _ := svc.GetProfile(ctx, 7)
	if u.DisplayName != "Local Edit" {
		t.Fatalf("unchanged profile should not be rewritten inside the interval, got %q", u.DisplayName)
	}

	*clock = clock.Add(defaultSyncInterval)
	if err := svc.SyncProfile(ctx, profile); err != nil {
		t.Fatalf("sync profile: %v", err)
	}
	u, _ = svc.GetProfile(ctx, 7)
	if u.DisplayName != "Bob" {
		t.Fatalf("profile should be rewritten after the interval, got %q", u.DisplayName)
	}

	profile.IsAdmin = true
	if err := svc.SyncProfile(ctx, profile); err != nil {
		t.Fatalf("sync profile: %v", err)
	}
	u, _ = svc.GetProfile(ctx, 7)
	if !u.IsAdmin {
		t.Fatalf("changed profile should be written immediately")
	}
}

func TestSyncProfileValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.SyncProfile(ctx, Profile{}); err == nil {
		t.Fatalf("expected error for missing user id")
	}
	if err := svc.SyncProfile(ctx, Profile{ID: 3}); err != nil {
		t.Fatalf("sync profile: %v", err)
	}
	u, err := svc.GetProfile(ctx, 3)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if u.Username != "user-3" {
		t.Fatalf("expected generated username, got %q", u.Username)
	}
	if _, err := svc.GetProfile(ctx, 99); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
