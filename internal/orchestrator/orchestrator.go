// Package orchestrator sequences one inbound message through parsing,
// validation, execution, reply formatting and audit. Each message is an
// independent unit of work that runs to exactly one terminal state.
package orchestrator

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/textmit/textmit/internal/format"
	"github.com/textmit/textmit/internal/model"
	"github.com/textmit/textmit/internal/parser"
	"github.com/textmit/textmit/internal/shortcode"
	"github.com/textmit/textmit/internal/smsgateway"
	"github.com/textmit/textmit/internal/store"
	"github.com/textmit/textmit/internal/validator"
)

// TaskAPI is the slice of the task service the handlers need.
// *taskapi.Client satisfies it.
type TaskAPI interface {
	ListOpenTasks(ctx context.Context, userID string, mitOnly bool) ([]model.Task, error)
	GetTask(ctx context.Context, userID, taskID string) (*model.Task, error)
	CreateTask(ctx context.Context, userID string, body model.CreateTaskRequest) (*model.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, body model.UpdateTaskRequest) (*model.Task, error)
}

// Pipeline owns the end-to-end state machine and its error policy.
type Pipeline struct {
	validator *validator.Validator
	generator *shortcode.Generator
	store     store.Store
	tasks     TaskAPI
	sender    smsgateway.Sender
	log       zerolog.Logger
	now       func() time.Time
}

// New wires a Pipeline.
func New(v *validator.Validator, g *shortcode.Generator, s store.Store, tasks TaskAPI, sender smsgateway.Sender, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		validator: v,
		generator: g,
		store:     s,
		tasks:     tasks,
		sender:    sender,
		log:       log,
		now:       time.Now,
	}
}

// Result is what the transport caller sees. Error replies are returned here
// and never transmitted over the SMS channel; only successful executions
// produce an outbound SMS.
type Result struct {
	Reply       string
	Outcome     model.Outcome
	Sent        bool
	CommandKind model.CommandKind
}

// Handle processes one (messageBody, originationNumber) unit of work.
// Every exit path writes an audit record; audit failures are swallowed
// inside the validator.
func (p *Pipeline) Handle(ctx context.Context, body, senderPhone string) Result {
	cmd, err := parser.Parse(body, senderPhone)
	if err != nil {
		p.audit(ctx, senderPhone, body, "", "", model.OutcomeError, err.Error(), 0)
		return Result{Reply: format.Unparsable(), Outcome: model.OutcomeError}
	}

	// HELP skips every validator stage: it must work for unregistered
	// senders and never consumes quota.
	var user *model.User
	if cmd.Kind != model.CommandHelp {
		decision, err := p.validator.CheckHourlyLimit(ctx, senderPhone)
		if err != nil {
			return p.failInternal(ctx, cmd, body, "", err)
		}
		if !decision.Allowed {
			p.audit(ctx, senderPhone, body, cmd.Kind, "", model.OutcomeRateLimited, "hourly limit", 0)
			return Result{Reply: format.RateLimited(decision.ResetAt), Outcome: model.OutcomeRateLimited, CommandKind: cmd.Kind}
		}

		user, err = p.validator.ResolveCredentials(ctx, senderPhone, cmd.SMSKey)
		if err != nil {
			p.audit(ctx, senderPhone, body, cmd.Kind, "", model.OutcomeUnauthorized, err.Error(), 0)
			return Result{Reply: format.Unauthorized(), Outcome: model.OutcomeUnauthorized, CommandKind: cmd.Kind}
		}

		ok, err := p.validator.CheckDailyQuota(ctx, user.UserID)
		if err != nil {
			return p.failInternal(ctx, cmd, body, user.UserID, err)
		}
		if !ok {
			p.audit(ctx, senderPhone, body, cmd.Kind, user.UserID, model.OutcomeRateLimited, "daily limit", 0)
			return Result{Reply: format.DailyLimitReached(), Outcome: model.OutcomeRateLimited, CommandKind: cmd.Kind}
		}

		p.validator.RecordUsage(ctx, senderPhone)
	}

	userID := ""
	if user != nil {
		userID = user.UserID
	}

	reply, err := p.execute(ctx, cmd, user)
	if err != nil {
		if errors.Is(err, model.ErrTaskCodeNotFound) {
			p.audit(ctx, senderPhone, body, cmd.Kind, userID, model.OutcomeError, err.Error(), 0)
			return Result{Reply: format.CodeNotFound(cmd.ShortCode), Outcome: model.OutcomeError, CommandKind: cmd.Kind}
		}
		return p.failInternal(ctx, cmd, body, userID, err)
	}

	reply = format.Finalize(reply)

	// Audited length is in characters, matching the transport cap the
	// formatter enforces.
	replyLen := utf8.RuneCountInString(reply)

	if err := p.sender.Send(ctx, senderPhone, reply); err != nil {
		p.log.Error().Stack().Err(err).Str("phone", senderPhone).Msg("sms send failed")
		p.audit(ctx, senderPhone, body, cmd.Kind, userID, model.OutcomeError, err.Error(), replyLen)
		return Result{Reply: reply, Outcome: model.OutcomeError, CommandKind: cmd.Kind}
	}

	p.audit(ctx, senderPhone, body, cmd.Kind, userID, model.OutcomeSuccess, "", replyLen)
	return Result{Reply: reply, Outcome: model.OutcomeSuccess, Sent: true, CommandKind: cmd.Kind}
}

// failInternal collapses execution failures to the generic reply so internal
// detail never leaks to the sender; the detail still lands in the log and
// the audit record.
func (p *Pipeline) failInternal(ctx context.Context, cmd *model.ParsedCommand, body, userID string, err error) Result {
	p.log.Error().Stack().Err(err).
		Str("command", string(cmd.Kind)).
		Str("phone", cmd.SenderPhone).
		Msg("command execution failed")
	p.audit(ctx, cmd.SenderPhone, body, cmd.Kind, userID, model.OutcomeError, err.Error(), 0)
	return Result{Reply: format.TryAgainLater(), Outcome: model.OutcomeError, CommandKind: cmd.Kind}
}

func (p *Pipeline) audit(ctx context.Context, phone, body string, kind model.CommandKind, userID string, outcome model.Outcome, detail string, replyLen int) {
	p.validator.Audit(ctx, &model.AuditEntry{
		Phone:       phone,
		MessageBody: body,
		CommandKind: string(kind),
		Outcome:     outcome,
		UserID:      userID,
		ErrorDetail: detail,
		ReplyLength: replyLen,
	})
}
