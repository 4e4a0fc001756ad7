package validator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/textmit/textmit/internal/model"
	"github.com/textmit/textmit/internal/store"
)

// fakeStore implements store.Store in memory with per-area error injection.
type fakeStore struct {
	users    *fakeUsers
	codes    *fakeCodes
	rl       *fakeRateLimits
	settings *fakeSettings
	audit    *fakeAudit
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    &fakeUsers{byPhone: map[string]*model.User{}},
		codes:    &fakeCodes{byKey: map[string]string{}},
		rl:       &fakeRateLimits{},
		settings: &fakeSettings{byUser: map[string]*model.UserSettings{}},
		audit:    &fakeAudit{},
	}
}

func (f *fakeStore) Users() store.Users           { return f.users }
func (f *fakeStore) TaskCodes() store.TaskCodes   { return f.codes }
func (f *fakeStore) RateLimits() store.RateLimits { return f.rl }
func (f *fakeStore) Settings() store.Settings     { return f.settings }
func (f *fakeStore) Audit() store.Audit           { return f.audit }

type fakeUsers struct {
	byPhone map[string]*model.User
}

func (f *fakeUsers) Create(ctx context.Context, u *model.User) (*model.User, error) {
	f.byPhone[u.Phone] = u
	return u, nil
}

func (f *fakeUsers) Get(ctx context.Context, userID string) (*model.User, error) {
	for _, u := range f.byPhone {
		if u.UserID == userID {
			return u, nil
		}
	}
	return nil, model.ErrNotFound
}

func (f *fakeUsers) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	if u, ok := f.byPhone[phone]; ok {
		return u, nil
	}
	return nil, model.ErrNotFound
}

type fakeCodes struct {
	byKey map[string]string
}

func (f *fakeCodes) Put(ctx context.Context, c *model.TaskCode) error {
	f.byKey[c.UserID+"/"+c.Code] = c.TaskID
	return nil
}

func (f *fakeCodes) Exists(ctx context.Context, userID, code string) (bool, error) {
	_, ok := f.byKey[userID+"/"+code]
	return ok, nil
}

func (f *fakeCodes) Resolve(ctx context.Context, userID, code string) (string, error) {
	if id, ok := f.byKey[userID+"/"+code]; ok {
		return id, nil
	}
	return "", model.ErrNotFound
}

type fakeRateLimits struct {
	entries   []*model.RateLimitEntry
	lastSince time.Time
	listErr   error
	insertErr error
}

func (f *fakeRateLimits) Insert(ctx context.Context, e *model.RateLimitEntry) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeRateLimits) ListSince(ctx context.Context, phone string, since time.Time) ([]*model.RateLimitEntry, error) {
	f.lastSince = since
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*model.RateLimitEntry
	for _, e := range f.entries {
		if e.Phone == phone && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRateLimits) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeSettings struct {
	byUser map[string]*model.UserSettings
	getErr error
}

func (f *fakeSettings) Get(ctx context.Context, userID string) (*model.UserSettings, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if s, ok := f.byUser[userID]; ok {
		return s, nil
	}
	return nil, model.ErrNotFound
}

func (f *fakeSettings) Put(ctx context.Context, s *model.UserSettings) error {
	f.byUser[s.UserID] = s
	return nil
}

type fakeAudit struct {
	entries   []*model.AuditEntry
	appendErr error
}

func (f *fakeAudit) Append(ctx context.Context, e *model.AuditEntry) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, e)
	return nil
}

const (
	phone = "+15551234567"
	key   = "1234"
)

func newValidator(f *fakeStore) *Validator {
	return New(f, 25, 100, true, zerolog.Nop())
}

func registeredUser(f *fakeStore) *model.User {
	u := &model.User{UserID: "u1", Phone: phone, SMSKey: key, PhoneVerified: true}
	f.users.byPhone[phone] = u
	return u
}

func TestResolveCredentials(t *testing.T) {
	f := newFakeStore()
	v := newValidator(f)
	ctx := context.Background()

	if _, err := v.ResolveCredentials(ctx, phone, key); !errors.Is(err, model.ErrPhoneNotRegistered) {
		t.Fatalf("want ErrPhoneNotRegistered, got %v", err)
	}

	u := registeredUser(f)
	if _, err := v.ResolveCredentials(ctx, phone, "9999"); !errors.Is(err, model.ErrInvalidKey) {
		t.Fatalf("want ErrInvalidKey, got %v", err)
	}

	u.PhoneVerified = false
	if _, err := v.ResolveCredentials(ctx, phone, key); !errors.Is(err, model.ErrNotVerified) {
		t.Fatalf("want ErrNotVerified, got %v", err)
	}

	u.PhoneVerified = true
	got, err := v.ResolveCredentials(ctx, phone, key)
	if err != nil || got.UserID != "u1" {
		t.Fatalf("resolve: got=%+v err=%v", got, err)
	}
}

func TestCheckHourlyLimit_UnderLimit(t *testing.T) {
	f := newFakeStore()
	v := newValidator(f)
	now := time.Now().UTC()
	for i := 0; i < 24; i++ {
		f.rl.entries = append(f.rl.entries, &model.RateLimitEntry{Phone: phone, CreatedAt: now.Add(-time.Minute)})
	}
	d, err := v.CheckHourlyLimit(context.Background(), phone)
	if err != nil || !d.Allowed {
		t.Fatalf("decision=%+v err=%v", d, err)
	}
}

func TestCheckHourlyLimit_Denied(t *testing.T) {
	f := newFakeStore()
	v := newValidator(f)
	now := time.Now().UTC()
	earliest := now.Add(-50 * time.Minute)
	f.rl.entries = append(f.rl.entries, &model.RateLimitEntry{Phone: phone, CreatedAt: earliest})
	for i := 0; i < 24; i++ {
		f.rl.entries = append(f.rl.entries, &model.RateLimitEntry{Phone: phone, CreatedAt: now.Add(-time.Minute)})
	}
	d, err := v.CheckHourlyLimit(context.Background(), phone)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected denial at the cap")
	}
	if want := earliest.Add(time.Hour); !d.ResetAt.Equal(want) {
		t.Fatalf("reset = %v, want %v", d.ResetAt, want)
	}
}

func TestCheckHourlyLimit_ExpiredEntriesIgnored(t *testing.T) {
	f := newFakeStore()
	v := newValidator(f)
	now := time.Now().UTC()
	for i := 0; i < 30; i++ {
		f.rl.entries = append(f.rl.entries, &model.RateLimitEntry{Phone: phone, CreatedAt: now.Add(-2 * time.Hour)})
	}
	d, err := v.CheckHourlyLimit(context.Background(), phone)
	if err != nil || !d.Allowed {
		t.Fatalf("old entries must not count: decision=%+v err=%v", d, err)
	}
}

func TestCheckHourlyLimit_WindowBoundIsUTC(t *testing.T) {
	f := newFakeStore()
	v := newValidator(f)
	local := time.FixedZone("UTC+5:30", 5*3600+30*60)
	fixed := time.Date(2026, 8, 28, 17, 30, 0, 0, local)
	v.now = func() time.Time { return fixed }

	if _, err := v.CheckHourlyLimit(context.Background(), phone); err != nil {
		t.Fatalf("check: %v", err)
	}
	if f.rl.lastSince.Location() != time.UTC {
		t.Fatalf("window bound zone = %v, want UTC", f.rl.lastSince.Location())
	}
	if want := fixed.UTC().Add(-time.Hour); !f.rl.lastSince.Equal(want) {
		t.Fatalf("window bound = %v, want %v", f.rl.lastSince, want)
	}
}

func TestCheckHourlyLimit_FailOpen(t *testing.T) {
	f := newFakeStore()
	f.rl.listErr = fmt.Errorf("store down")
	v := newValidator(f)
	d, err := v.CheckHourlyLimit(context.Background(), phone)
	if err != nil || !d.Allowed {
		t.Fatalf("fail-open must admit: decision=%+v err=%v", d, err)
	}
}

func TestCheckHourlyLimit_FailClosed(t *testing.T) {
	f := newFakeStore()
	f.rl.listErr = fmt.Errorf("store down")
	v := New(f, 25, 100, false, zerolog.Nop())
	if _, err := v.CheckHourlyLimit(context.Background(), phone); err == nil {
		t.Fatalf("fail-closed must surface lookup errors")
	}
}

func TestCheckDailyQuota(t *testing.T) {
	f := newFakeStore()
	v := newValidator(f)
	ctx := context.Background()
	today := time.Now().UTC().Format("2006-01-02")

	// No settings record: fully available.
	if ok, err := v.CheckDailyQuota(ctx, "u1"); err != nil || !ok {
		t.Fatalf("missing settings: ok=%v err=%v", ok, err)
	}

	// Stale reset date: fresh day, available regardless of remaining.
	f.settings.byUser["u1"] = &model.UserSettings{UserID: "u1", DailyLimit: 100, RemainingToday: 0, LastResetDate: "2020-01-01"}
	if ok, err := v.CheckDailyQuota(ctx, "u1"); err != nil || !ok {
		t.Fatalf("stale reset date: ok=%v err=%v", ok, err)
	}

	// Exhausted today: denied.
	f.settings.byUser["u1"].LastResetDate = today
	if ok, err := v.CheckDailyQuota(ctx, "u1"); err != nil || ok {
		t.Fatalf("exhausted quota must deny: ok=%v err=%v", ok, err)
	}

	f.settings.byUser["u1"].RemainingToday = 3
	if ok, err := v.CheckDailyQuota(ctx, "u1"); err != nil || !ok {
		t.Fatalf("remaining quota must admit: ok=%v err=%v", ok, err)
	}
}

func TestCheckDailyQuota_FailOpen(t *testing.T) {
	f := newFakeStore()
	f.settings.getErr = fmt.Errorf("store down")
	v := newValidator(f)
	if ok, err := v.CheckDailyQuota(context.Background(), "u1"); err != nil || !ok {
		t.Fatalf("fail-open must admit: ok=%v err=%v", ok, err)
	}
}

func TestRecordUsage_SwallowsErrors(t *testing.T) {
	f := newFakeStore()
	f.rl.insertErr = fmt.Errorf("store down")
	v := newValidator(f)
	v.RecordUsage(context.Background(), phone) // must not panic or block

	f.rl.insertErr = nil
	v.RecordUsage(context.Background(), phone)
	if len(f.rl.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(f.rl.entries))
	}
	e := f.rl.entries[0]
	if got := e.ExpiresAt.Sub(e.CreatedAt); got != time.Hour {
		t.Fatalf("expiry span = %v, want 1h", got)
	}
}

func TestAudit_SwallowsErrors(t *testing.T) {
	f := newFakeStore()
	f.audit.appendErr = fmt.Errorf("store down")
	v := newValidator(f)
	v.Audit(context.Background(), &model.AuditEntry{Phone: phone, Outcome: model.OutcomeError})

	f.audit.appendErr = nil
	v.Audit(context.Background(), &model.AuditEntry{Phone: phone, Outcome: model.OutcomeSuccess})
	if len(f.audit.entries) != 1 {
		t.Fatalf("audits = %d, want 1", len(f.audit.entries))
	}
	if f.audit.entries[0].EntryID == "" || f.audit.entries[0].CreatedAt.IsZero() {
		t.Fatalf("audit entry must get id and timestamp: %+v", f.audit.entries[0])
	}
}
