// Package postgres implements the store contract on PostgreSQL via the pgx
// stdlib driver. Schema migrations are applied out of band (compose/deploy).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/textmit/textmit/internal/model"
	"github.com/textmit/textmit/internal/store"
)

// Open opens a PostgreSQL connection and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type pgStore struct{ db *sql.DB }

// NewWithDB wraps an open connection as a store.Store.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

func (s *pgStore) Users() store.Users           { return &users{db: s.db} }
func (s *pgStore) TaskCodes() store.TaskCodes   { return &taskCodes{db: s.db} }
func (s *pgStore) RateLimits() store.RateLimits { return &rateLimits{db: s.db} }
func (s *pgStore) Settings() store.Settings     { return &settings{db: s.db} }
func (s *pgStore) Audit() store.Audit           { return &audit{db: s.db} }

// HealthPing implements health.HealthPinger.
func (s *pgStore) HealthPing(ctx context.Context) error {
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
		`INSERT INTO users (user_id, phone, sms_key, phone_verified, creation_time) VALUES ($1,$2,$3,$4,$5)`,
		out.UserID, out.Phone, out.SMSKey, out.PhoneVerified, out.CreationTime)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (u *users) Get(ctx context.Context, userID string) (*model.User, error) {
	row := u.db.QueryRowContext(ctx,
		`SELECT user_id, phone, sms_key, phone_verified, creation_time FROM users WHERE user_id = $1`, userID)
	return scanUser(row)
}

func (u *users) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	row := u.db.QueryRowContext(ctx,
		`SELECT user_id, phone, sms_key, phone_verified, creation_time FROM users WHERE phone = $1`, phone)
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
		`INSERT INTO task_codes (user_id, code, task_id, creation_time) VALUES ($1,$2,$3,$4)`,
		c.UserID, c.Code, c.TaskID, created)
	return err
}

func (t *taskCodes) Exists(ctx context.Context, userID, code string) (bool, error) {
	var n int
	err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM task_codes WHERE user_id = $1 AND code = $2`, userID, code).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *taskCodes) Resolve(ctx context.Context, userID, code string) (string, error) {
	var taskID string
	err := t.db.QueryRowContext(ctx,
		`SELECT task_id FROM task_codes WHERE user_id = $1 AND code = $2`, userID, code).Scan(&taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", model.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return taskID, nil
}

// --- Rate limits ---

// Times are normalized to UTC at this boundary to match the contract the
// compliance suite enforces across drivers.
type rateLimits struct{ db *sql.DB }

func (r *rateLimits) Insert(ctx context.Context, e *model.RateLimitEntry) error {
	id := e.EntryID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rate_limit_entries (entry_id, phone, created_at, expires_at) VALUES ($1,$2,$3,$4)`,
		id, e.Phone, e.CreatedAt.UTC(), e.ExpiresAt.UTC())
	return err
}

func (r *rateLimits) ListSince(ctx context.Context, phone string, since time.Time) ([]*model.RateLimitEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT entry_id, phone, created_at, expires_at FROM rate_limit_entries
		 WHERE phone = $1 AND created_at >= $2 ORDER BY created_at ASC`, phone, since.UTC())
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
		`DELETE FROM rate_limit_entries WHERE expires_at < $1`, cutoff.UTC())
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
		`SELECT user_id, daily_limit, remaining_today, last_reset_date FROM user_settings WHERE user_id = $1`, userID).
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
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (user_id) DO UPDATE SET
		   daily_limit = EXCLUDED.daily_limit,
		   remaining_today = EXCLUDED.remaining_today,
		   last_reset_date = EXCLUDED.last_reset_date`,
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
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		id, e.Phone, e.MessageBody, e.CommandKind, string(e.Outcome), e.UserID, e.ErrorDetail, e.ReplyLength, created)
	return err
}
