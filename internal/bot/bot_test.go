package bot

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/memoalarm/config"
	"github.com/tazhate/memoalarm/internal/domain"
	"github.com/tazhate/memoalarm/internal/platform"
	"github.com/tazhate/memoalarm/internal/scheduler"
	"github.com/tazhate/memoalarm/internal/service"
	"github.com/tazhate/memoalarm/internal/storage"
	"go.uber.org/zap"
)

const owner int64 = 42

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	nextID   int
	notify   chan tgbotapi.Chattable

	// sends whose text contains holdText block until hold is closed
	holdText string
	hold     chan struct{}
	held     chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{notify: make(chan tgbotapi.Chattable, 64)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok && f.hold != nil && strings.Contains(m.Text, f.holdText) {
		f.held <- struct{}{}
		<-f.hold
	}

	f.mu.Lock()
	f.sent = append(f.sent, c)
	f.nextID++
	id := f.nextID
	f.mu.Unlock()

	select {
	case f.notify <- c:
	default:
	}
	return tgbotapi.Message{MessageID: id}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeAPI) StopReceivingUpdates() {}

func (f *fakeAPI) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		switch c := f.sent[i].(type) {
		case tgbotapi.MessageConfig:
			return c.Text
		case tgbotapi.EditMessageTextConfig:
			return c.Text
		}
	}
	return ""
}

type fakeSched struct {
	granted bool
	err     error
	enabled bool
	armed   []string
}

func (s *fakeSched) Enable(context.Context) (bool, error) {
	if s.err != nil || !s.granted {
		return false, s.err
	}
	s.enabled = true
	return true, nil
}

func (s *fakeSched) Disable() { s.enabled = false }

func (s *fakeSched) Status() scheduler.Status {
	return scheduler.Status{Enabled: s.enabled, Armed: s.armed}
}

type memSettings struct {
	mu sync.Mutex
	m  map[string]string
}

func (s *memSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *memSettings) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

type fixture struct {
	api   *fakeAPI
	bot   *Bot
	svc   *service.EventService
	sched *fakeSched
	perms *platform.SettingsPermissions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop().Sugar()

	store, err := storage.New(filepath.Join(t.TempDir(), "bot.db"), logger)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	api := newFakeAPI()
	svc := service.NewEventService(store, nil, logger)
	sched := &fakeSched{granted: true}
	perms := platform.NewSettingsPermissions(&memSettings{m: make(map[string]string)}, nil)
	cfg := &config.Config{OwnerChatID: owner, PromptTimeout: time.Second}

	return &fixture{
		api:   api,
		bot:   newBot(api, cfg, svc, sched, perms, logger),
		svc:   svc,
		sched: sched,
		perms: perms,
	}
}

func (f *fixture) command(text string) {
	name := strings.SplitN(text, " ", 2)[0]
	f.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: owner},
		From:     &tgbotapi.User{ID: owner},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}})
}

func (f *fixture) callback(data string) {
	f.bot.handleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: owner},
		Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: owner}},
		Data:    data,
	}})
}

func TestPresentReplacesAlertWithSameTag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := platform.Alert{Title: "📅 Dentist", Body: "Scheduled for 2030-06-20 09:30", Tag: "event-1"}
	if err := f.bot.Present(ctx, a); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if err := f.bot.Present(ctx, a); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if err := f.bot.Present(ctx, platform.Alert{Title: "other", Tag: "event-2"}); err != nil {
		t.Fatalf("Present: %v", err)
	}

	var deletes []tgbotapi.DeleteMessageConfig
	for _, r := range f.api.requests {
		if d, ok := r.(tgbotapi.DeleteMessageConfig); ok {
			deletes = append(deletes, d)
		}
	}
	if len(deletes) != 1 || deletes[0].MessageID != 1 || deletes[0].ChatID != owner {
		t.Errorf("deletes = %+v, want the first alert message only", deletes)
	}
	if !strings.Contains(f.api.lastText(), "other") {
		t.Errorf("last message = %q", f.api.lastText())
	}
}

func TestSlowAlertDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.api.holdText = "slow"
	f.api.hold = make(chan struct{})
	f.api.held = make(chan struct{}, 1)

	slowDone := make(chan error, 1)
	go func() {
		slowDone <- f.bot.Present(ctx, platform.Alert{Title: "slow", Tag: "event-1"})
	}()
	select {
	case <-f.api.held:
	case <-time.After(time.Second):
		t.Fatal("slow alert never reached Send")
	}

	fastDone := make(chan error, 1)
	go func() {
		fastDone <- f.bot.Present(ctx, platform.Alert{Title: "fast", Tag: "event-2"})
	}()
	select {
	case err := <-fastDone:
		if err != nil {
			t.Fatalf("Present: %v", err)
		}
	case <-time.After(time.Second):
		close(f.api.hold)
		t.Fatal("alert for another event waited on a pending send")
	}

	close(f.api.hold)
	if err := <-slowDone; err != nil {
		t.Fatalf("Present: %v", err)
	}

	f.bot.alertsMu.Lock()
	defer f.bot.alertsMu.Unlock()
	if len(f.bot.alerts) != 2 {
		t.Errorf("alerts = %v, want both tags tracked", f.bot.alerts)
	}
}

func TestAskPermission(t *testing.T) {
	tests := []struct {
		name   string
		button int
		want   bool
	}{
		{"allow", 0, true},
		{"deny", 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			type result struct {
				ok  bool
				err error
			}
			done := make(chan result, 1)
			go func() {
				ok, err := f.bot.AskPermission(context.Background())
				done <- result{ok, err}
			}()

			var prompt tgbotapi.MessageConfig
			select {
			case c := <-f.api.notify:
				prompt = c.(tgbotapi.MessageConfig)
			case <-time.After(time.Second):
				t.Fatal("no prompt sent")
			}
			kb := prompt.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
			f.callback(*kb.InlineKeyboard[0][tt.button].CallbackData)

			select {
			case r := <-done:
				if r.err != nil || r.ok != tt.want {
					t.Errorf("AskPermission = %v, %v; want %v", r.ok, r.err, tt.want)
				}
			case <-time.After(time.Second):
				t.Fatal("AskPermission did not return")
			}
		})
	}
}

func TestAskPermissionTimeout(t *testing.T) {
	f := newFixture(t)
	f.bot.promptTimeout = 20 * time.Millisecond

	ok, err := f.bot.AskPermission(context.Background())
	if ok || err != errPromptTimeout {
		t.Errorf("AskPermission = %v, %v; want timeout", ok, err)
	}

	// a late answer finds no prompt
	f.callback("perm:1:allow")
	if !strings.Contains(f.api.lastText(), "expired") {
		t.Errorf("last message = %q", f.api.lastText())
	}
}

func TestAddListDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.command("/add 2030-06-20 09:30 Dentist appointment")
	if !strings.Contains(f.api.lastText(), "Added") {
		t.Fatalf("reply = %q", f.api.lastText())
	}

	events, _ := f.svc.List(ctx)
	if len(events) != 1 || events[0].Title != "Dentist appointment" || events[0].Date != "2030-06-20T09:30" {
		t.Fatalf("events = %+v", events)
	}
	id := events[0].ID

	f.command("/list")
	if !strings.Contains(f.api.lastText(), "Dentist appointment") {
		t.Errorf("list = %q", f.api.lastText())
	}
	f.command("/list 2030-06-21")
	if !strings.Contains(f.api.lastText(), "No events") {
		t.Errorf("list for other day = %q", f.api.lastText())
	}

	f.command("/delete " + id)
	if !strings.Contains(f.api.lastText(), "Delete <b>Dentist appointment</b>") {
		t.Errorf("confirm = %q", f.api.lastText())
	}
	f.callback("confirm_del:" + id)
	if _, err := f.svc.Get(ctx, id); err == nil {
		t.Error("event still exists after confirm")
	}
}

func TestAddDefaultTime(t *testing.T) {
	f := newFixture(t)

	f.command("/add 2030-06-20 Taxes")
	events, _ := f.svc.List(context.Background())
	if len(events) != 1 || events[0].NotificationTime != domain.DefaultNotificationTime {
		t.Errorf("events = %+v", events)
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	f.command("/add 2030-13-01 09:30 Nope")
	if !strings.Contains(f.api.lastText(), "invalid event") {
		t.Errorf("reply = %q", f.api.lastText())
	}
	f.command("/add")
	if !strings.Contains(f.api.lastText(), "Usage") {
		t.Errorf("reply = %q", f.api.lastText())
	}
}

func TestEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, _ := f.svc.Create(ctx, "Dentist", "2030-06-20", "09:30")

	f.command("/edit " + e.ID + " time 11:15")
	got, _ := f.svc.Get(ctx, e.ID)
	if got.Date != "2030-06-20T11:15" {
		t.Errorf("Date = %q", got.Date)
	}

	f.command("/edit event-missing title x")
	if !strings.Contains(f.api.lastText(), "not found") {
		t.Errorf("reply = %q", f.api.lastText())
	}
}

func TestStrangerIsRejected(t *testing.T) {
	f := newFixture(t)

	f.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     "/add 2030-06-20 09:30 x",
		Chat:     &tgbotapi.Chat{ID: 7},
		From:     &tgbotapi.User{ID: 7},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 4}},
	}})

	if !strings.Contains(f.api.lastText(), "Access denied") {
		t.Errorf("reply = %q", f.api.lastText())
	}
	if events, _ := f.svc.List(context.Background()); len(events) != 0 {
		t.Error("stranger created an event")
	}
}

func TestEnable(t *testing.T) {
	f := newFixture(t)
	f.sched.armed = []string{"event-1", "event-2"}

	f.command("/enable")
	if !strings.Contains(f.api.lastText(), "2 armed") || !f.sched.enabled {
		t.Errorf("reply = %q", f.api.lastText())
	}

	f.command("/disable")
	if f.sched.enabled {
		t.Error("still enabled after /disable")
	}
}

func TestEnableBlocked(t *testing.T) {
	f := newFixture(t)
	f.sched.granted = false

	f.command("/enable")
	if !strings.Contains(f.api.lastText(), "blocked") {
		t.Errorf("reply = %q", f.api.lastText())
	}

	f.sched.granted = true
	f.callback("allow")
	if perm, _ := f.perms.Query(context.Background()); perm != platform.PermissionGranted {
		t.Errorf("permission = %q after allow", perm)
	}
	if !f.sched.enabled {
		t.Error("allow did not enable notifications")
	}
}

func TestExportSendsDocument(t *testing.T) {
	f := newFixture(t)
	f.svc.Create(context.Background(), "Dentist", "2030-06-20", "09:30")

	f.command("/export")

	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	doc, ok := f.api.sent[len(f.api.sent)-1].(tgbotapi.DocumentConfig)
	if !ok {
		t.Fatalf("last send = %T, want DocumentConfig", f.api.sent[len(f.api.sent)-1])
	}
	file := doc.File.(tgbotapi.FileBytes)
	if file.Name != "memoalarm.ics" || !strings.Contains(string(file.Bytes), "SUMMARY:Dentist") {
		t.Errorf("document = %s", file.Bytes)
	}
}
