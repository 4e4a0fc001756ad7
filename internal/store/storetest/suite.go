// Package storetest holds a compliance suite run against every store driver.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/textmit/textmit/internal/model"
	"github.com/textmit/textmit/internal/store"
)

// Run exercises the store contract against a clean, isolated store returned
// by makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	phone := "+1555" + uuid.New().String()[:7]

	// Users
	u, err := s.Users().Create(ctx, &model.User{Phone: phone, SMSKey: "1234", PhoneVerified: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.UserID == "" {
		t.Fatalf("CreateUser: empty user id")
	}
	if got, err := s.Users().Get(ctx, u.UserID); err != nil || got.Phone != phone {
		t.Fatalf("GetUser: got=%+v err=%v", got, err)
	}
	if got, err := s.Users().GetByPhone(ctx, phone); err != nil || got.UserID != u.UserID {
		t.Fatalf("GetUserByPhone: got=%+v err=%v", got, err)
	}
	if _, err := s.Users().GetByPhone(ctx, "+10000000000"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetUserByPhone miss: want ErrNotFound, got %v", err)
	}

	// Task codes: uniqueness is scoped per user
	if err := s.TaskCodes().Put(ctx, &model.TaskCode{UserID: u.UserID, Code: "a1b2", TaskID: "t-1"}); err != nil {
		t.Fatalf("PutCode: %v", err)
	}
	if ok, err := s.TaskCodes().Exists(ctx, u.UserID, "a1b2"); err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}
	if ok, err := s.TaskCodes().Exists(ctx, "other-user", "a1b2"); err != nil || ok {
		t.Fatalf("Exists must be user-scoped: ok=%v err=%v", ok, err)
	}
	if id, err := s.TaskCodes().Resolve(ctx, u.UserID, "a1b2"); err != nil || id != "t-1" {
		t.Fatalf("Resolve: id=%q err=%v", id, err)
	}
	if _, err := s.TaskCodes().Resolve(ctx, u.UserID, "zzzz"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Resolve miss: want ErrNotFound, got %v", err)
	}
	if err := s.TaskCodes().Put(ctx, &model.TaskCode{UserID: "other-user", Code: "a1b2", TaskID: "t-2"}); err != nil {
		t.Fatalf("PutCode for second user: %v", err)
	}

	// Rate limits
	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		e := &model.RateLimitEntry{
			Phone:     phone,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
			ExpiresAt: now.Add(time.Duration(i)*time.Minute + time.Hour),
		}
		if err := s.RateLimits().Insert(ctx, e); err != nil {
			t.Fatalf("InsertRateLimit: %v", err)
		}
	}
	entries, err := s.RateLimits().ListSince(ctx, phone, now.Add(30*time.Second))
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ListSince: n=%d, want 2", len(entries))
	}
	if !entries[0].CreatedAt.Before(entries[1].CreatedAt) {
		t.Fatalf("ListSince must order oldest first")
	}
	if n, err := s.RateLimits().PurgeExpired(ctx, now.Add(2*time.Hour)); err != nil || n != 3 {
		t.Fatalf("PurgeExpired: n=%d err=%v", n, err)
	}

	// Rate limit timestamps must compare as instants, not as zoned text:
	// an entry recorded in UTC is found by a window bound carrying another
	// zone offset, and excluded once the bound instant passes it.
	kolkata := time.FixedZone("UTC+5:30", 5*3600+30*60)
	if err := s.RateLimits().Insert(ctx, &model.RateLimitEntry{
		Phone:     phone,
		CreatedAt: now.Add(-10 * time.Minute),
		ExpiresAt: now.Add(50 * time.Minute),
	}); err != nil {
		t.Fatalf("InsertRateLimit cross-zone: %v", err)
	}
	if got, err := s.RateLimits().ListSince(ctx, phone, now.Add(-time.Hour).In(kolkata)); err != nil || len(got) != 1 {
		t.Fatalf("ListSince cross-zone inclusion: n=%d err=%v", len(got), err)
	}
	if got, err := s.RateLimits().ListSince(ctx, phone, now.Add(-5*time.Minute).In(kolkata)); err != nil || len(got) != 0 {
		t.Fatalf("ListSince cross-zone exclusion: n=%d err=%v", len(got), err)
	}

	// Settings
	if _, err := s.Settings().Get(ctx, u.UserID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Settings miss: want ErrNotFound, got %v", err)
	}
	set := &model.UserSettings{UserID: u.UserID, DailyLimit: 100, RemainingToday: 99, LastResetDate: "2026-08-28"}
	if err := s.Settings().Put(ctx, set); err != nil {
		t.Fatalf("PutSettings: %v", err)
	}
	set.RemainingToday = 50
	if err := s.Settings().Put(ctx, set); err != nil {
		t.Fatalf("PutSettings upsert: %v", err)
	}
	if got, err := s.Settings().Get(ctx, u.UserID); err != nil || got.RemainingToday != 50 {
		t.Fatalf("GetSettings: got=%+v err=%v", got, err)
	}

	// Audit
	if err := s.Audit().Append(ctx, &model.AuditEntry{
		Phone:       phone,
		MessageBody: "LIST ALL ID:1234",
		CommandKind: string(model.CommandListAll),
		Outcome:     model.OutcomeSuccess,
		UserID:      u.UserID,
		ReplyLength: 42,
	}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
}
