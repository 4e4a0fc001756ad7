package model

import "errors"

var (
	// ErrNotFound is returned by store lookups that match nothing.
	ErrNotFound = errors.New("not found")

	// ErrUnparsable means the message text matched no command grammar.
	ErrUnparsable = errors.New("unparsable message")

	// Credential failures, in check order.
	ErrPhoneNotRegistered = errors.New("phone not registered")
	ErrInvalidKey         = errors.New("invalid sms key")
	ErrNotVerified        = errors.New("phone not verified")

	// ErrRateLimited covers the hourly sliding-window cap.
	ErrRateLimited = errors.New("rate limited")

	// ErrDailyLimitReached covers the per-user daily quota.
	ErrDailyLimitReached = errors.New("daily limit reached")

	// ErrTaskCodeNotFound means a CLOSE/EDIT short code resolved to no task.
	ErrTaskCodeNotFound = errors.New("task code not found")

	// ErrUpstream wraps task-API and identity-provider failures.
	ErrUpstream = errors.New("upstream failure")

	// ErrConfiguration means a required send-channel setting is missing.
	ErrConfiguration = errors.New("configuration error")
)
