// Package taskapi is the HTTP/JSON client for the external task service.
package taskapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/textmit/textmit/internal/model"
)

// TokenSource supplies the bearer token for task API calls.
// *identity.Session satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client calls the task service. Every request carries the machine token and
// an X-User-Id impersonation header for the acting user.
type Client struct {
	http   *resty.Client
	tokens TokenSource
}

// New builds a client for the task service at baseURL.
func New(baseURL string, tokens TokenSource) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second)
	return &Client{http: c, tokens: tokens}
}

func (c *Client) request(ctx context.Context, userID string) (*resty.Request, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return c.http.R().
		SetContext(ctx).
		SetAuthToken(tok).
		SetHeader("X-User-Id", userID), nil
}

// ListOpenTasks fetches the user's open tasks, optionally MIT only.
func (c *Client) ListOpenTasks(ctx context.Context, userID string, mitOnly bool) ([]model.Task, error) {
	req, err := c.request(ctx, userID)
	if err != nil {
		return nil, err
	}
	req.SetQueryParam("status", "Open")
	if mitOnly {
		req.SetQueryParam("isMIT", "true")
	}
	var out []model.Task
	resp, err := req.SetResult(&out).Get("/api/tasks")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %v: %w", err, model.ErrUpstream)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("list tasks: status %d: %w", resp.StatusCode(), model.ErrUpstream)
	}
	return out, nil
}

// GetTask fetches one task by id.
func (c *Client) GetTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	req, err := c.request(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out model.Task
	resp, err := req.SetResult(&out).Get("/api/tasks/" + taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %v: %w", err, model.ErrUpstream)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, model.ErrNotFound
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("get task: status %d: %w", resp.StatusCode(), model.ErrUpstream)
	}
	return &out, nil
}

// CreateTask submits a new task carrying its short code and combined insert
// position; the task service renumbers priorities to honor the position.
func (c *Client) CreateTask(ctx context.Context, userID string, body model.CreateTaskRequest) (*model.Task, error) {
	req, err := c.request(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out model.Task
	resp, err := req.SetBody(body).SetResult(&out).Post("/api/tasks")
	if err != nil {
		return nil, fmt.Errorf("create task: %v: %w", err, model.ErrUpstream)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("create task: status %d: %w", resp.StatusCode(), model.ErrUpstream)
	}
	return &out, nil
}

// UpdateTask submits a partial update for one task.
func (c *Client) UpdateTask(ctx context.Context, userID, taskID string, body model.UpdateTaskRequest) (*model.Task, error) {
	req, err := c.request(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out model.Task
	resp, err := req.SetBody(body).SetResult(&out).Put("/api/tasks/" + taskID)
	if err != nil {
		return nil, fmt.Errorf("update task: %v: %w", err, model.ErrUpstream)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, model.ErrNotFound
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("update task: status %d: %w", resp.StatusCode(), model.ErrUpstream)
	}
	return &out, nil
}

// HealthPing implements health.HealthPinger against the task service's
// health endpoint. No auth: reachability is what is being probed.
func (c *Client) HealthPing(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/api/health")
	if err != nil {
		return err
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("task api health: status %d", resp.StatusCode())
	}
	return nil
}
