package model

import "time"

// CommandKind identifies the operation a parsed SMS requests.
type CommandKind string

const (
	CommandCreate  CommandKind = "CREATE"
	CommandClose   CommandKind = "CLOSE"
	CommandEdit    CommandKind = "EDIT"
	CommandListMIT CommandKind = "LIST_MIT"
	CommandListAll CommandKind = "LIST_ALL"
	CommandHelp    CommandKind = "HELP"
)

// HelpSMSKey is the sentinel credential used when a HELP message carries no
// ID token. HELP never requires validated credentials, so the value is never
// checked against a user record.
const HelpSMSKey = "0000"

// ParsedCommand is the structured form of an inbound SMS message.
// Priority is only meaningful when HasPriority is true.
type ParsedCommand struct {
	Kind        CommandKind
	SMSKey      string
	SenderPhone string
	Title       string
	Priority    int
	IsMIT       bool
	HasPriority bool
	DueDate     string // YYYY-MM-DD, empty when absent
	ShortCode   string
}

// User is a registered SMS sender resolved by phone number.
type User struct {
	UserID        string    `json:"userId"`
	Phone         string    `json:"phone"`
	SMSKey        string    `json:"smsKey"`
	PhoneVerified bool      `json:"phoneVerified"`
	CreationTime  time.Time `json:"creationTime"`
}

// UserSettings holds the per-user daily command quota state.
type UserSettings struct {
	UserID         string `json:"userId"`
	DailyLimit     int    `json:"dailyLimit"`
	RemainingToday int    `json:"remainingToday"`
	LastResetDate  string `json:"lastResetDate"` // YYYY-MM-DD
}

// TaskCode maps a user-scoped short code to a task in the external task
// service. The same code string may exist for different users.
type TaskCode struct {
	UserID       string    `json:"userId"`
	Code         string    `json:"code"`
	TaskID       string    `json:"taskId"`
	CreationTime time.Time `json:"creationTime"`
}

// RateLimitEntry records one admitted request for the hourly sliding window.
type RateLimitEntry struct {
	EntryID   string    `json:"entryId"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Outcome classifies the terminal state of one processed message.
type Outcome string

const (
	OutcomeSuccess      Outcome = "Success"
	OutcomeError        Outcome = "Error"
	OutcomeUnauthorized Outcome = "Unauthorized"
	OutcomeRateLimited  Outcome = "RateLimited"
)

// AuditEntry is the append-only record written for every processed message.
// Entries are write-once; retention is the store's concern.
type AuditEntry struct {
	EntryID     string    `json:"entryId"`
	Phone       string    `json:"phone"`
	MessageBody string    `json:"messageBody"`
	CommandKind string    `json:"commandKind"`
	Outcome     Outcome   `json:"outcome"`
	UserID      string    `json:"userId,omitempty"`
	ErrorDetail string    `json:"errorDetail,omitempty"`
	ReplyLength int       `json:"replyLength,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Task mirrors the external task service's representation.
type Task struct {
	TaskID      string     `json:"taskId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     string     `json:"dueDate,omitempty"`
	Status      string     `json:"status"`
	IsMIT       bool       `json:"isMIT"`
	Priority    int        `json:"priority"`
	Tags        []string   `json:"tags,omitempty"`
	ShortCode   string     `json:"shortCode,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// CreateTaskRequest is the body for POST /api/tasks. InsertPosition is the
// combined position over [MIT tasks][LIT tasks]; the task service renumbers
// priorities to honor it.
type CreateTaskRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	DueDate        string   `json:"dueDate,omitempty"`
	Status         string   `json:"status"`
	IsMIT          bool     `json:"isMIT"`
	Priority       int      `json:"priority"`
	Tags           []string `json:"tags,omitempty"`
	ShortCode      string   `json:"shortCode"`
	InsertPosition int      `json:"insertPosition"`
}

// UpdateTaskRequest is a partial update for PUT /api/tasks/{id}.
// Nil fields are omitted from the request body.
type UpdateTaskRequest struct {
	Title       *string    `json:"title,omitempty"`
	Priority    *int       `json:"priority,omitempty"`
	IsMIT       *bool      `json:"isMIT,omitempty"`
	DueDate     *string    `json:"dueDate,omitempty"`
	Status      *string    `json:"status,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
