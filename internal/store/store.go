package store

import (
	"context"
	"time"

	"github.com/textmit/textmit/internal/model"
)

// Store exposes the persistence operations the pipeline needs. The core
// treats it as an opaque key/value + secondary-index lookup service;
// implementations live under internal/store/<driver>/.
type Store interface {
	Users() Users
	TaskCodes() TaskCodes
	RateLimits() RateLimits
	Settings() Settings
	Audit() Audit
}

type Users interface {
	Create(ctx context.Context, u *model.User) (*model.User, error)
	Get(ctx context.Context, userID string) (*model.User, error)
	// GetByPhone resolves a user via the phone secondary index.
	GetByPhone(ctx context.Context, phone string) (*model.User, error)
}

type TaskCodes interface {
	Put(ctx context.Context, c *model.TaskCode) error
	// Exists reports whether code is in use for userID. Uniqueness is
	// scoped to (code, user), never global.
	Exists(ctx context.Context, userID, code string) (bool, error)
	// Resolve returns the task id for a user's code, or model.ErrNotFound.
	Resolve(ctx context.Context, userID, code string) (string, error)
}

type RateLimits interface {
	Insert(ctx context.Context, e *model.RateLimitEntry) error
	// ListSince returns entries for phone created at or after since,
	// oldest first.
	ListSince(ctx context.Context, phone string, since time.Time) ([]*model.RateLimitEntry, error)
	// PurgeExpired removes entries whose expiry is before cutoff.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type Settings interface {
	Get(ctx context.Context, userID string) (*model.UserSettings, error)
	Put(ctx context.Context, s *model.UserSettings) error
}

type Audit interface {
	// Append writes one audit record. Records are never updated or
	// deleted by this service.
	Append(ctx context.Context, e *model.AuditEntry) error
}
