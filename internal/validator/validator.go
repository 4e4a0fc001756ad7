// Package validator implements the gating checks run before a command
// executes: credential resolution, hourly rate limiting, daily quota,
// usage recording and audit logging.
package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/textmit/textmit/internal/model"
	"github.com/textmit/textmit/internal/store"
)

// window is the trailing span counted by the hourly rate limit, and the
// expiry stamped on each usage entry.
const window = time.Hour

// Validator composes the persistent checks. The orchestrator sequences them
// in a fixed order; each check stands alone and carries its own failure kind.
type Validator struct {
	store       store.Store
	hourlyLimit int
	dailyLimit  int

	// failOpen admits requests when a limit lookup fails; availability
	// over strict enforcement. Documented policy, not an accident.
	failOpen bool

	log zerolog.Logger
	now func() time.Time
}

// New builds a Validator.
func New(s store.Store, hourlyLimit, dailyLimit int, failOpen bool, log zerolog.Logger) *Validator {
	return &Validator{
		store:       s,
		hourlyLimit: hourlyLimit,
		dailyLimit:  dailyLimit,
		failOpen:    failOpen,
		log:         log,
		now:         time.Now,
	}
}

// ResolveCredentials looks up the sender by phone and checks the paired key.
// Failure kinds, in check order: ErrPhoneNotRegistered, ErrInvalidKey,
// ErrNotVerified.
func (v *Validator) ResolveCredentials(ctx context.Context, phone, smsKey string) (*model.User, error) {
	u, err := v.store.Users().GetByPhone(ctx, phone)
	if errors.Is(err, model.ErrNotFound) {
		return nil, model.ErrPhoneNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("credential lookup: %w", err)
	}
	if u.SMSKey != smsKey {
		return nil, model.ErrInvalidKey
	}
	if !u.PhoneVerified {
		return nil, model.ErrNotVerified
	}
	return u, nil
}

// RateLimitDecision reports an hourly-limit check. ResetAt is only set on
// denial and is when the earliest counted entry leaves the window.
type RateLimitDecision struct {
	Allowed bool
	ResetAt time.Time
}

// CheckHourlyLimit counts non-expired usage entries for the phone number in
// the trailing window. Lookup failures admit the request when the fail-open
// policy is on. The window bound is normalized to UTC because entries are
// recorded in UTC and drivers may compare timestamps textually.
func (v *Validator) CheckHourlyLimit(ctx context.Context, phone string) (RateLimitDecision, error) {
	now := v.now().UTC()
	entries, err := v.store.RateLimits().ListSince(ctx, phone, now.Add(-window))
	if err != nil {
		if v.failOpen {
			v.log.Warn().Err(err).Str("phone", phone).Msg("rate limit lookup failed, admitting")
			return RateLimitDecision{Allowed: true}, nil
		}
		return RateLimitDecision{}, fmt.Errorf("rate limit lookup: %w", err)
	}
	if len(entries) < v.hourlyLimit {
		return RateLimitDecision{Allowed: true}, nil
	}
	return RateLimitDecision{Allowed: false, ResetAt: entries[0].CreatedAt.Add(window)}, nil
}

// CheckDailyQuota reads the user's per-day counter. A stale last-reset date
// means a fresh day, so the quota is fully available; the implicit reset is
// written elsewhere. Lookup failures admit when fail-open is on.
func (v *Validator) CheckDailyQuota(ctx context.Context, userID string) (bool, error) {
	s, err := v.store.Settings().Get(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		if v.failOpen {
			v.log.Warn().Err(err).Str("user_id", userID).Msg("daily quota lookup failed, admitting")
			return true, nil
		}
		return false, fmt.Errorf("daily quota lookup: %w", err)
	}
	if s.LastResetDate != v.now().UTC().Format("2006-01-02") {
		return true, nil
	}
	return s.RemainingToday > 0, nil
}

// RecordUsage writes one rate-limit entry with a one-hour expiry. Recording
// failures are logged and swallowed; they never abort the pipeline.
func (v *Validator) RecordUsage(ctx context.Context, phone string) {
	now := v.now().UTC()
	err := v.store.RateLimits().Insert(ctx, &model.RateLimitEntry{
		EntryID:   uuid.New().String(),
		Phone:     phone,
		CreatedAt: now,
		ExpiresAt: now.Add(window),
	})
	if err != nil {
		v.log.Warn().Err(err).Str("phone", phone).Msg("usage recording failed")
	}
}

// Audit appends one best-effort audit record. Failures are swallowed so
// audit problems never mask the primary result.
func (v *Validator) Audit(ctx context.Context, e *model.AuditEntry) {
	if e.EntryID == "" {
		e.EntryID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = v.now().UTC()
	}
	if err := v.store.Audit().Append(ctx, e); err != nil {
		v.log.Warn().Err(err).Str("phone", e.Phone).Msg("audit write failed")
	}
}
