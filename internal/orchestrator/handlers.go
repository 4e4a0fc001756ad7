package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/textmit/textmit/internal/format"
	"github.com/textmit/textmit/internal/model"
	"github.com/textmit/textmit/internal/shortcode"
)

func (p *Pipeline) execute(ctx context.Context, cmd *model.ParsedCommand, user *model.User) (string, error) {
	switch cmd.Kind {
	case model.CommandHelp:
		return format.Help(), nil
	case model.CommandCreate:
		return p.executeCreate(ctx, cmd, user)
	case model.CommandClose:
		return p.executeClose(ctx, cmd, user)
	case model.CommandEdit:
		return p.executeEdit(ctx, cmd, user)
	case model.CommandListMIT:
		tasks, err := p.tasks.ListOpenTasks(ctx, user.UserID, true)
		if err != nil {
			return "", err
		}
		return format.MITList(sortByPriority(tasks)), nil
	case model.CommandListAll:
		tasks, err := p.tasks.ListOpenTasks(ctx, user.UserID, false)
		if err != nil {
			return "", err
		}
		mits, lits := partition(tasks)
		return format.CombinedList(mits, lits), nil
	}
	return "", fmt.Errorf("unknown command kind %q", cmd.Kind)
}

func (p *Pipeline) executeCreate(ctx context.Context, cmd *model.ParsedCommand, user *model.User) (string, error) {
	code, attempts, err := p.generator.Generate(ctx, user.UserID)
	if err != nil {
		return "", err
	}
	if attempts > 1 {
		p.log.Debug().Int("attempts", attempts).Str("user_id", user.UserID).Msg("short code collision retries")
	}

	existing, err := p.tasks.ListOpenTasks(ctx, user.UserID, false)
	if err != nil {
		return "", err
	}
	mits, _ := partition(existing)

	created, err := p.tasks.CreateTask(ctx, user.UserID, model.CreateTaskRequest{
		Title:          cmd.Title,
		DueDate:        cmd.DueDate,
		Status:         "Open",
		IsMIT:          cmd.IsMIT,
		Priority:       cmd.Priority,
		ShortCode:      code,
		InsertPosition: insertPosition(cmd.IsMIT, cmd.Priority, len(mits), len(existing)),
	})
	if err != nil {
		return "", err
	}

	// Best effort: the task exists either way, and list replies fall back
	// to the code embedded in the task record.
	if err := p.store.TaskCodes().Put(ctx, &model.TaskCode{
		UserID:       user.UserID,
		Code:         code,
		TaskID:       created.TaskID,
		CreationTime: p.now().UTC(),
	}); err != nil {
		p.log.Warn().Err(err).Str("user_id", user.UserID).Str("code", code).Msg("short code mapping write failed")
	}

	return format.Created(code, created.Title), nil
}

func (p *Pipeline) executeClose(ctx context.Context, cmd *model.ParsedCommand, user *model.User) (string, error) {
	taskID, err := p.resolveCode(ctx, user.UserID, cmd.ShortCode)
	if err != nil {
		return "", err
	}
	task, err := p.tasks.GetTask(ctx, user.UserID, taskID)
	if err != nil {
		return "", err
	}

	status := "Completed"
	completedAt := p.now().UTC()
	if _, err := p.tasks.UpdateTask(ctx, user.UserID, taskID, model.UpdateTaskRequest{
		Status:      &status,
		CompletedAt: &completedAt,
	}); err != nil {
		return "", err
	}
	return format.Closed(cmd.ShortCode, task.Title), nil
}

func (p *Pipeline) executeEdit(ctx context.Context, cmd *model.ParsedCommand, user *model.User) (string, error) {
	taskID, err := p.resolveCode(ctx, user.UserID, cmd.ShortCode)
	if err != nil {
		return "", err
	}

	req := model.UpdateTaskRequest{}
	if cmd.Title != "" {
		req.Title = &cmd.Title
	}
	if cmd.HasPriority {
		req.Priority = &cmd.Priority
		req.IsMIT = &cmd.IsMIT
	}
	if cmd.DueDate != "" {
		req.DueDate = &cmd.DueDate
	}

	updated, err := p.tasks.UpdateTask(ctx, user.UserID, taskID, req)
	if err != nil {
		return "", err
	}
	return format.Updated(cmd.ShortCode, updated.Title), nil
}

// resolveCode maps a user's short code to a task id. Codes that cannot be
// valid under the generation alphabet are rejected up front, before any
// store lookup.
func (p *Pipeline) resolveCode(ctx context.Context, userID, code string) (string, error) {
	if !shortcode.ValidateFormat(code) {
		return "", model.ErrTaskCodeNotFound
	}
	taskID, err := p.store.TaskCodes().Resolve(ctx, userID, code)
	if errors.Is(err, model.ErrNotFound) {
		return "", model.ErrTaskCodeNotFound
	}
	if err != nil {
		return "", fmt.Errorf("short code lookup: %w", err)
	}
	return taskID, nil
}

// insertPosition maps a priority onto an index into the combined open list,
// MIT tasks first then LIT tasks. A priority beyond the relevant section
// clamps to the section boundary so the task appends instead of leaving a
// gap. The clamp applies on every path that computes a position.
func insertPosition(isMIT bool, priority, mitCount, total int) int {
	if isMIT {
		if pos := priority - 1; pos < mitCount {
			return pos
		}
		return mitCount
	}
	if pos := mitCount + priority - 1; pos < total {
		return pos
	}
	return total
}

// partition splits open tasks into MIT and LIT groups, each ordered by
// ascending priority. Sorting is stable so ties keep the service's order.
func partition(tasks []model.Task) (mits, lits []model.Task) {
	for _, t := range tasks {
		if t.IsMIT {
			mits = append(mits, t)
		} else {
			lits = append(lits, t)
		}
	}
	return sortByPriority(mits), sortByPriority(lits)
}

func sortByPriority(tasks []model.Task) []model.Task {
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Priority < tasks[j].Priority })
	return tasks
}
