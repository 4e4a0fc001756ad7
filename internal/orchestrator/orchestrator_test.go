package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/textmit/textmit/internal/model"
	"github.com/textmit/textmit/internal/shortcode"
	"github.com/textmit/textmit/internal/store"
	"github.com/textmit/textmit/internal/validator"
)

const (
	phone = "+15551234567"
	key   = "1234"
)

// fakeStore is an in-memory store.Store.
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

type fakeUsers struct{ byPhone map[string]*model.User }

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

func (f *fakeUsers) GetByPhone(ctx context.Context, p string) (*model.User, error) {
	if u, ok := f.byPhone[p]; ok {
		return u, nil
	}
	return nil, model.ErrNotFound
}

type fakeCodes struct {
	byKey        map[string]string
	putErr       error
	resolveCalls int
}

func (f *fakeCodes) Put(ctx context.Context, c *model.TaskCode) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.byKey[c.UserID+"/"+c.Code] = c.TaskID
	return nil
}

func (f *fakeCodes) Exists(ctx context.Context, userID, code string) (bool, error) {
	_, ok := f.byKey[userID+"/"+code]
	return ok, nil
}

func (f *fakeCodes) Resolve(ctx context.Context, userID, code string) (string, error) {
	f.resolveCalls++
	if id, ok := f.byKey[userID+"/"+code]; ok {
		return id, nil
	}
	return "", model.ErrNotFound
}

type fakeRateLimits struct{ entries []*model.RateLimitEntry }

func (f *fakeRateLimits) Insert(ctx context.Context, e *model.RateLimitEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeRateLimits) ListSince(ctx context.Context, p string, since time.Time) ([]*model.RateLimitEntry, error) {
	var out []*model.RateLimitEntry
	for _, e := range f.entries {
		if e.Phone == p && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRateLimits) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeSettings struct{ byUser map[string]*model.UserSettings }

func (f *fakeSettings) Get(ctx context.Context, userID string) (*model.UserSettings, error) {
	if s, ok := f.byUser[userID]; ok {
		return s, nil
	}
	return nil, model.ErrNotFound
}

func (f *fakeSettings) Put(ctx context.Context, s *model.UserSettings) error {
	f.byUser[s.UserID] = s
	return nil
}

type fakeAudit struct{ entries []*model.AuditEntry }

func (f *fakeAudit) Append(ctx context.Context, e *model.AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

// fakeTaskAPI records calls and serves canned open tasks.
type fakeTaskAPI struct {
	open    []model.Task
	created []model.CreateTaskRequest
	updates map[string]model.UpdateTaskRequest

	calls      int
	listErr    error
	createErr  error
	nextTaskID string
}

func newFakeTaskAPI() *fakeTaskAPI {
	return &fakeTaskAPI{updates: map[string]model.UpdateTaskRequest{}, nextTaskID: "t-new"}
}

func (f *fakeTaskAPI) ListOpenTasks(ctx context.Context, userID string, mitOnly bool) ([]model.Task, error) {
	f.calls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if !mitOnly {
		return f.open, nil
	}
	var out []model.Task
	for _, t := range f.open {
		if t.IsMIT {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTaskAPI) GetTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	f.calls++
	for i := range f.open {
		if f.open[i].TaskID == taskID {
			return &f.open[i], nil
		}
	}
	return nil, model.ErrNotFound
}

func (f *fakeTaskAPI) CreateTask(ctx context.Context, userID string, body model.CreateTaskRequest) (*model.Task, error) {
	f.calls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, body)
	return &model.Task{TaskID: f.nextTaskID, Title: body.Title, Status: body.Status, IsMIT: body.IsMIT, Priority: body.Priority, ShortCode: body.ShortCode}, nil
}

func (f *fakeTaskAPI) UpdateTask(ctx context.Context, userID, taskID string, body model.UpdateTaskRequest) (*model.Task, error) {
	f.calls++
	f.updates[taskID] = body
	t := model.Task{TaskID: taskID, Title: "existing title"}
	for i := range f.open {
		if f.open[i].TaskID == taskID {
			t = f.open[i]
		}
	}
	if body.Title != nil {
		t.Title = *body.Title
	}
	return &t, nil
}

// recordingSender captures outbound messages.
type recordingSender struct {
	sent    []string
	to      []string
	sendErr error
}

func (r *recordingSender) Send(ctx context.Context, to, body string) error {
	if r.sendErr != nil {
		return r.sendErr
	}
	r.to = append(r.to, to)
	r.sent = append(r.sent, body)
	return nil
}

type fixture struct {
	store  *fakeStore
	tasks  *fakeTaskAPI
	sender *recordingSender
	pipe   *Pipeline
}

func newFixture() *fixture {
	fs := newFakeStore()
	tasks := newFakeTaskAPI()
	sender := &recordingSender{}
	v := validator.New(fs, 25, 100, true, zerolog.Nop())
	g := shortcode.NewGenerator(fs.codes.Exists)
	pipe := New(v, g, fs, tasks, sender, zerolog.Nop())
	return &fixture{store: fs, tasks: tasks, sender: sender, pipe: pipe}
}

func (f *fixture) registerUser() *model.User {
	u := &model.User{UserID: "u1", Phone: phone, SMSKey: key, PhoneVerified: true}
	f.store.users.byPhone[phone] = u
	return u
}

func TestHandle_CreateHappyPath(t *testing.T) {
	f := newFixture()
	f.registerUser()

	res := f.pipe.Handle(context.Background(), `"Ship the release" MIT2 12/25/2026 ID:1234`, phone)
	if res.Outcome != model.OutcomeSuccess || !res.Sent {
		t.Fatalf("result = %+v", res)
	}
	if res.CommandKind != model.CommandCreate {
		t.Fatalf("kind = %s", res.CommandKind)
	}
	if !strings.HasPrefix(res.Reply, "Created [") || !strings.Contains(res.Reply, "Ship the release") {
		t.Fatalf("reply = %q", res.Reply)
	}

	if len(f.tasks.created) != 1 {
		t.Fatalf("created = %d", len(f.tasks.created))
	}
	req := f.tasks.created[0]
	if req.Title != "Ship the release" || !req.IsMIT || req.Priority != 2 || req.DueDate != "2026-12-25" || req.Status != "Open" {
		t.Fatalf("create request = %+v", req)
	}
	if !shortcode.ValidateFormat(req.ShortCode) {
		t.Fatalf("short code %q invalid", req.ShortCode)
	}

	// Mapping stored, usage recorded, reply delivered and audited.
	if got, err := f.store.codes.Resolve(context.Background(), "u1", req.ShortCode); err != nil || got != "t-new" {
		t.Fatalf("code mapping: %q %v", got, err)
	}
	if len(f.store.rl.entries) != 1 {
		t.Fatalf("usage entries = %d", len(f.store.rl.entries))
	}
	if len(f.sender.sent) != 1 || f.sender.to[0] != phone {
		t.Fatalf("sends = %+v", f.sender)
	}
	last := f.store.audit.entries[len(f.store.audit.entries)-1]
	if last.Outcome != model.OutcomeSuccess || last.ReplyLength != len(res.Reply) {
		t.Fatalf("audit = %+v", last)
	}
}

func TestHandle_InsertPositionClampsIntoSections(t *testing.T) {
	cases := []struct {
		name  string
		open  []model.Task
		text  string
		want  int
		isMIT bool
	}{
		{
			name: "mit1 ahead of existing mits",
			open: []model.Task{
				{TaskID: "a", IsMIT: true, Priority: 1},
				{TaskID: "b", IsMIT: true, Priority: 2},
			},
			text: `"x" MIT1 ID:1234`, want: 0, isMIT: true,
		},
		{
			name: "mit priority beyond section clamps to mit count",
			open: []model.Task{
				{TaskID: "a", IsMIT: true, Priority: 1},
				{TaskID: "c", IsMIT: false, Priority: 1},
			},
			text: `"x" MIT3 ID:1234`, want: 1, isMIT: true,
		},
		{
			name: "lit lands after mit section",
			open: []model.Task{
				{TaskID: "a", IsMIT: true, Priority: 1},
				{TaskID: "b", IsMIT: true, Priority: 2},
				{TaskID: "c", IsMIT: false, Priority: 1},
			},
			text: `"x" LIT1 ID:1234`, want: 2, isMIT: false,
		},
		{
			name: "lit priority beyond total clamps to total",
			open: []model.Task{
				{TaskID: "a", IsMIT: true, Priority: 1},
				{TaskID: "c", IsMIT: false, Priority: 1},
			},
			text: `"x" LIT9 ID:1234`, want: 2, isMIT: false,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture()
			f.registerUser()
			f.tasks.open = c.open

			res := f.pipe.Handle(context.Background(), c.text, phone)
			if res.Outcome != model.OutcomeSuccess {
				t.Fatalf("result = %+v", res)
			}
			req := f.tasks.created[0]
			if req.InsertPosition != c.want || req.IsMIT != c.isMIT {
				t.Fatalf("request = %+v, want position %d", req, c.want)
			}
		})
	}
}

func TestHandle_HelpSkipsValidation(t *testing.T) {
	f := newFixture()
	// No registered user at all.
	res := f.pipe.Handle(context.Background(), "HELP", phone)
	if res.Outcome != model.OutcomeSuccess || !res.Sent {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Reply, "Commands:") {
		t.Fatalf("reply = %q", res.Reply)
	}
	if len(f.store.rl.entries) != 0 {
		t.Fatalf("help must not consume quota: %d entries", len(f.store.rl.entries))
	}
	if f.tasks.calls != 0 {
		t.Fatalf("help must not hit the task service")
	}
}

func TestHandle_Unparsable(t *testing.T) {
	f := newFixture()
	res := f.pipe.Handle(context.Background(), "what is this", phone)
	if res.Outcome != model.OutcomeError || res.Sent {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Reply, "HELP") {
		t.Fatalf("reply = %q", res.Reply)
	}
	if len(f.store.audit.entries) != 1 || f.store.audit.entries[0].CommandKind != "" {
		t.Fatalf("audit = %+v", f.store.audit.entries)
	}
}

func TestHandle_Unauthorized(t *testing.T) {
	f := newFixture()
	f.registerUser()
	res := f.pipe.Handle(context.Background(), `"x" ID:9999`, phone)
	if res.Outcome != model.OutcomeUnauthorized || res.Sent {
		t.Fatalf("result = %+v", res)
	}
	if len(f.store.rl.entries) != 0 {
		t.Fatalf("rejected commands must not record usage")
	}
	if f.tasks.calls != 0 {
		t.Fatalf("task service must not be called")
	}
}

func TestHandle_HourlyLimitShortCircuits(t *testing.T) {
	f := newFixture()
	f.registerUser()
	now := time.Now().UTC()
	for i := 0; i < 25; i++ {
		f.store.rl.entries = append(f.store.rl.entries, &model.RateLimitEntry{Phone: phone, CreatedAt: now.Add(-time.Minute)})
	}

	res := f.pipe.Handle(context.Background(), `"x" ID:1234`, phone)
	if res.Outcome != model.OutcomeRateLimited || res.Sent {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Reply, "Too many messages") {
		t.Fatalf("reply = %q", res.Reply)
	}
	if f.tasks.calls != 0 {
		t.Fatalf("task service must not be called when rate limited")
	}
}

func TestHandle_DailyQuotaExhausted(t *testing.T) {
	f := newFixture()
	f.registerUser()
	f.store.settings.byUser["u1"] = &model.UserSettings{
		UserID:         "u1",
		DailyLimit:     100,
		RemainingToday: 0,
		LastResetDate:  time.Now().UTC().Format("2006-01-02"),
	}

	res := f.pipe.Handle(context.Background(), `"x" ID:1234`, phone)
	if res.Outcome != model.OutcomeRateLimited || res.Sent {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Reply, "Daily command limit") {
		t.Fatalf("reply = %q", res.Reply)
	}
	if f.tasks.calls != 0 {
		t.Fatalf("task service must not be called when quota exhausted")
	}
}

func TestHandle_Close(t *testing.T) {
	f := newFixture()
	f.registerUser()
	f.store.codes.byKey["u1/abcd"] = "t1"
	f.tasks.open = []model.Task{{TaskID: "t1", Title: "Water plants", Status: "Open", IsMIT: true, Priority: 1}}

	res := f.pipe.Handle(context.Background(), "CLOSE abcd ID:1234", phone)
	if res.Outcome != model.OutcomeSuccess || !res.Sent {
		t.Fatalf("result = %+v", res)
	}
	if res.Reply != "Closed [abcd] Water plants" {
		t.Fatalf("reply = %q", res.Reply)
	}
	up, ok := f.tasks.updates["t1"]
	if !ok || up.Status == nil || *up.Status != "Completed" || up.CompletedAt == nil {
		t.Fatalf("update = %+v", up)
	}
}

func TestHandle_CloseUnknownCode(t *testing.T) {
	f := newFixture()
	f.registerUser()

	res := f.pipe.Handle(context.Background(), "CLOSE zzzz ID:1234", phone)
	if res.Outcome != model.OutcomeError || res.Sent {
		t.Fatalf("result = %+v", res)
	}
	if res.Reply != "No task with code zzzz." {
		t.Fatalf("reply = %q", res.Reply)
	}
}

func TestHandle_CloseCodeOutsideAlphabet(t *testing.T) {
	f := newFixture()
	f.registerUser()

	// "0" and "1" can never appear in a generated code, so no lookup runs.
	res := f.pipe.Handle(context.Background(), "CLOSE ab01 ID:1234", phone)
	if res.Outcome != model.OutcomeError || res.Sent {
		t.Fatalf("result = %+v", res)
	}
	if res.Reply != "No task with code ab01." {
		t.Fatalf("reply = %q", res.Reply)
	}
	if f.store.codes.resolveCalls != 0 {
		t.Fatalf("invalid code format must not reach the store")
	}
}

func TestHandle_AuditsReplyLengthInCharacters(t *testing.T) {
	f := newFixture()
	f.registerUser()

	res := f.pipe.Handle(context.Background(), `"Water plants 🌱" ID:1234`, phone)
	if res.Outcome != model.OutcomeSuccess {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Reply, "🌱") {
		t.Fatalf("pictograph must survive formatting: %q", res.Reply)
	}
	last := f.store.audit.entries[len(f.store.audit.entries)-1]
	if want := len([]rune(res.Reply)); last.ReplyLength != want {
		t.Fatalf("reply length = %d, want %d characters", last.ReplyLength, want)
	}
	if last.ReplyLength == len(res.Reply) {
		t.Fatalf("byte and character counts must differ for this reply")
	}
}

func TestHandle_EditPartialUpdate(t *testing.T) {
	f := newFixture()
	f.registerUser()
	f.store.codes.byKey["u1/abcd"] = "t1"
	f.tasks.open = []model.Task{{TaskID: "t1", Title: "Old title", Status: "Open"}}

	res := f.pipe.Handle(context.Background(), `EDIT abcd "New title" ID:1234`, phone)
	if res.Outcome != model.OutcomeSuccess {
		t.Fatalf("result = %+v", res)
	}
	up := f.tasks.updates["t1"]
	if up.Title == nil || *up.Title != "New title" {
		t.Fatalf("update = %+v", up)
	}
	if up.Priority != nil || up.DueDate != nil || up.Status != nil {
		t.Fatalf("untouched fields must stay nil: %+v", up)
	}
	if res.Reply != "Updated [abcd] New title" {
		t.Fatalf("reply = %q", res.Reply)
	}
}

func TestHandle_ListAllPartitionsAndSorts(t *testing.T) {
	f := newFixture()
	f.registerUser()
	f.tasks.open = []model.Task{
		{TaskID: "l2", Title: "lit two", Priority: 2, ShortCode: "eeee"},
		{TaskID: "m2", Title: "mit two", IsMIT: true, Priority: 2, ShortCode: "bbbb"},
		{TaskID: "m1", Title: "mit one", IsMIT: true, Priority: 1, ShortCode: "aaaa"},
		{TaskID: "l1", Title: "lit one", Priority: 1, ShortCode: "dddd"},
	}

	res := f.pipe.Handle(context.Background(), "LIST ALL ID:1234", phone)
	if res.Outcome != model.OutcomeSuccess {
		t.Fatalf("result = %+v", res)
	}
	want := "MIT:\n1. [aaaa] mit one\n2. [bbbb] mit two\nLIT:\n1. [dddd] lit one\n2. [eeee] lit two"
	if res.Reply != want {
		t.Fatalf("reply = %q, want %q", res.Reply, want)
	}
}

func TestHandle_TaskServiceFailure(t *testing.T) {
	f := newFixture()
	f.registerUser()
	f.tasks.listErr = fmt.Errorf("boom: %w", model.ErrUpstream)

	res := f.pipe.Handle(context.Background(), "LIST ALL ID:1234", phone)
	if res.Outcome != model.OutcomeError || res.Sent {
		t.Fatalf("result = %+v", res)
	}
	if res.Reply != "Something went wrong. Please try again later." {
		t.Fatalf("reply = %q", res.Reply)
	}
	last := f.store.audit.entries[len(f.store.audit.entries)-1]
	if last.Outcome != model.OutcomeError || last.ErrorDetail == "" {
		t.Fatalf("audit = %+v", last)
	}
}

func TestHandle_SendFailureReportsError(t *testing.T) {
	f := newFixture()
	f.registerUser()
	f.sender.sendErr = fmt.Errorf("gateway down: %w", model.ErrUpstream)

	res := f.pipe.Handle(context.Background(), "HELP", phone)
	if res.Outcome != model.OutcomeError || res.Sent {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Reply, "Commands:") {
		t.Fatalf("reply should still carry the rendered text: %q", res.Reply)
	}
}

func TestHandle_CodeMappingWriteFailureStillSucceeds(t *testing.T) {
	f := newFixture()
	f.registerUser()
	f.store.codes.putErr = fmt.Errorf("store down")

	res := f.pipe.Handle(context.Background(), `"x" ID:1234`, phone)
	if res.Outcome != model.OutcomeSuccess || !res.Sent {
		t.Fatalf("mapping write is best effort: %+v", res)
	}
}
