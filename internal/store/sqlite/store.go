// Package sqlite implements the store contract on a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/textmit/textmit/internal/model"
	"github.com/textmit/textmit/internal/store"
)

type sqliteStore struct{ db *sql.DB }

// New wraps an open connection as a store.Store.
func New(db *sql.DB) store.Store { return &sqliteStore{db: db} }

func (s *sqliteStore) Users() store.Users           { return &users{db: s.db} }
func (s *sqliteStore) TaskCodes() store.TaskCodes   { return &taskCodes{db: s.db} }
func (s *sqliteStore) RateLimits() store.RateLimits { return &rateLimits{db: s.db} }
func (s *sqliteStore) Settings() store.Settings     { return &settings{db: s.db} }
func (s *sqliteStore) Audit() store.Audit           { return &audit{db: s.db} }

// HealthPing implements health.HealthPinger.
func (s *sqliteStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Users ---

type users struct{ db *sql.DB }

func (u *users) Create(ctx context.Context, m *model.User) (*model.User, error) {
	out := *m
	if out.UserID == "" {
		out.UserID = uuid.New().String()
	}
	out.CreationTime = time.Now().UTC()
	_, err := u.db.ExecContext(ctx,
		`INSERT INTO users (user_id, phone, sms_key, phone_verified, creation_time) VALUES (?,?,?,?,?)`,
		out.UserID, out.Phone, out.SMSKey, out.PhoneVerified, out.CreationTime)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (u *users) Get(ctx context.Context, userID string) (*model.User, error) {
	row := u.db.QueryRowContext(ctx,
		`SELECT user_id, phone, sms_key, phone_verified, creation_time FROM users WHERE user_id = ?`, userID)
	return scanUser(row)
}

func (u *users) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	row := u.db.QueryRowContext(ctx,
		`SELECT user_id, phone, sms_key, phone_verified, creation_time FROM users WHERE phone = ?`, phone)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*model.User, error) {
	var m model.User
	err := row.Scan(&m.UserID, &m.Phone, &m.SMSKey, &m.PhoneVerified, &m.CreationTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// --- Task codes ---

type taskCodes struct{ db *sql.DB }

func (t *taskCodes) Put(ctx context.Context, c *model.TaskCode) error {
	created := c.CreationTime
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO task_codes (user_id, code, task_id, creation_time) VALUES (?,?,?,?)`,
		c.UserID, c.Code, c.TaskID, created)
	return err
}

func (t *taskCodes) Exists(ctx context.Context, userID, code string) (bool, error) {
	var n int
	err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM task_codes WHERE user_id = ? AND code = ?`, userID, code).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *taskCodes) Resolve(ctx context.Context, userID, code string) (string, error) {
	var taskID string
	err := t.db.QueryRowContext(ctx,
		`SELECT task_id FROM task_codes WHERE user_id = ? AND code = ?`, userID, code).Scan(&taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", model.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return taskID, nil
}

// --- Rate limits ---

// Timestamps are bound as text by the driver and compared lexicographically,
// so every time crossing this boundary is normalized to UTC to keep the
// comparison instant-based.

type rateLimits struct{ db *sql.DB }

func (r *rateLimits) Insert(ctx context.Context, e *model.RateLimitEntry) error {
	id := e.EntryID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rate_limit_entries (entry_id, phone, created_at, expires_at) VALUES (?,?,?,?)`,
		id, e.Phone, e.CreatedAt.UTC(), e.ExpiresAt.UTC())
	return err
}

func (r *rateLimits) ListSince(ctx context.Context, phone string, since time.Time) ([]*model.RateLimitEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT entry_id, phone, created_at, expires_at FROM rate_limit_entries
		 WHERE phone = ? AND created_at >= ? ORDER BY created_at ASC`, phone, since.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.RateLimitEntry
	for rows.Next() {
		var e model.RateLimitEntry
		if err := rows.Scan(&e.EntryID, &e.Phone, &e.CreatedAt, &e.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *rateLimits) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM rate_limit_entries WHERE expires_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Settings ---

type settings struct{ db *sql.DB }

func (s *settings) Get(ctx context.Context, userID string) (*model.UserSettings, error) {
	var m model.UserSettings
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, daily_limit, remaining_today, last_reset_date FROM user_settings WHERE user_id = ?`, userID).
		Scan(&m.UserID, &m.DailyLimit, &m.RemainingToday, &m.LastResetDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *settings) Put(ctx context.Context, m *model.UserSettings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, daily_limit, remaining_today, last_reset_date)
		 VALUES (?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   daily_limit = excluded.daily_limit,
		   remaining_today = excluded.remaining_today,
		   last_reset_date = excluded.last_reset_date`,
		m.UserID, m.DailyLimit, m.RemainingToday, m.LastResetDate)
	return err
}

// --- Audit ---

type audit struct{ db *sql.DB }

func (a *audit) Append(ctx context.Context, e *model.AuditEntry) error {
	id := e.EntryID
	if id == "" {
		id = uuid.New().String()
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_entries (entry_id, phone, message_body, command_kind, outcome, user_id, error_detail, reply_length, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		id, e.Phone, e.MessageBody, e.CommandKind, string(e.Outcome), e.UserID, e.ErrorDetail, e.ReplyLength, created)
	return err
}
