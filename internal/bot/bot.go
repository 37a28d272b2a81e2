package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/memoalarm/config"
	"github.com/tazhate/memoalarm/internal/domain"
	"github.com/tazhate/memoalarm/internal/platform"
	"github.com/tazhate/memoalarm/internal/scheduler"
	"go.uber.org/zap"
)

var errPromptTimeout = errors.New("no answer to permission prompt")

// botAPI is the part of *tgbotapi.BotAPI the bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type eventService interface {
	Create(ctx context.Context, title, date, clock string) (*domain.Event, error)
	Modify(ctx context.Context, id string, p domain.EventPatch) (*domain.Event, error)
	Remove(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.Event, error)
	List(ctx context.Context) ([]*domain.Event, error)
	ListForDate(ctx context.Context, day time.Time) ([]*domain.Event, error)
	FormatEventList(events []*domain.Event) string
	ExportICS(ctx context.Context, w io.Writer) error
}

type coordinator interface {
	Enable(ctx context.Context) (bool, error)
	Disable()
	Status() scheduler.Status
}

type permissions interface {
	Query(ctx context.Context) (platform.Permission, error)
	Grant(ctx context.Context) error
}

type Bot struct {
	api           botAPI
	ownerID       int64
	promptTimeout time.Duration
	loc           *time.Location
	events        eventService
	sched         coordinator
	perms         permissions
	logger        *zap.SugaredLogger

	// alerts maps an alert tag to the message currently showing it.
	alertsMu sync.Mutex
	alerts   map[string]int

	promptsMu sync.Mutex
	promptSeq int
	prompts   map[int]chan bool
}

func New(cfg *config.Config, events eventService, sched coordinator, perms permissions, logger *zap.SugaredLogger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	logger.Infow("authorized on telegram", "username", api.Self.UserName)

	b := newBot(api, cfg, events, sched, perms, logger)
	b.setCommands()
	return b, nil
}

func newBot(api botAPI, cfg *config.Config, events eventService, sched coordinator, perms permissions, logger *zap.SugaredLogger) *Bot {
	return &Bot{
		api:           api,
		ownerID:       cfg.OwnerChatID,
		promptTimeout: cfg.PromptTimeout,
		loc:           cfg.Location(),
		events:        events,
		sched:         sched,
		perms:         perms,
		logger:        logger,
		alerts:        make(map[string]int),
		prompts:       make(map[int]chan bool),
	}
}

func (b *Bot) setCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "today", Description: "📅 Today's events"},
		{Command: "list", Description: "📋 All events"},
		{Command: "add", Description: "➕ Add an event"},
		{Command: "status", Description: "🔔 Notification status"},
		{Command: "help", Description: "❓ Commands"},
	}

	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		b.logger.Warnw("failed to set commands", "err", err)
	}
}

// Start long-polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.logger.Infow("bot started", "owner", b.ownerID)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			// handlers may block on a permission prompt answered by a later update
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) SendMessageWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = keyboard
	sent, err := b.api.Send(msg)
	return sent.MessageID, err
}

func (b *Bot) editMessage(chatID int64, msgID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, msgID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Warnw("failed to edit message", "msg_id", msgID, "err", err)
	}
}

// Present sends the alert to the owner. An earlier message carrying the
// same tag is deleted first so alerts for one event never stack. The tag
// map is only locked around reads and writes, never across API calls.
func (b *Bot) Present(_ context.Context, a platform.Alert) error {
	b.alertsMu.Lock()
	prev, hadPrev := b.alerts[a.Tag]
	delete(b.alerts, a.Tag)
	b.alertsMu.Unlock()

	if hadPrev {
		b.deleteAlert(a.Tag, prev)
	}

	msg := tgbotapi.NewMessage(b.ownerID, fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(a.Title), html.EscapeString(a.Body)))
	msg.ParseMode = tgbotapi.ModeHTML
	sent, err := b.api.Send(msg)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	if a.Tag == "" {
		return nil
	}

	b.alertsMu.Lock()
	raced, hadRaced := b.alerts[a.Tag]
	b.alerts[a.Tag] = sent.MessageID
	b.alertsMu.Unlock()

	// another alert for this tag landed while we were sending
	if hadRaced {
		b.deleteAlert(a.Tag, raced)
	}
	return nil
}

func (b *Bot) deleteAlert(tag string, msgID int) {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(b.ownerID, msgID)); err != nil {
		b.logger.Debugw("failed to delete previous alert", "tag", tag, "msg_id", msgID, "err", err)
	}
}

// AskPermission shows Allow/Deny buttons and waits for the owner's answer.
// No answer within the prompt timeout is an error and leaves the question open.
func (b *Bot) AskPermission(ctx context.Context) (bool, error) {
	b.promptsMu.Lock()
	b.promptSeq++
	id := b.promptSeq
	answer := make(chan bool, 1)
	b.prompts[id] = answer
	b.promptsMu.Unlock()

	defer func() {
		b.promptsMu.Lock()
		delete(b.prompts, id)
		b.promptsMu.Unlock()
	}()

	msgID, err := b.SendMessageWithKeyboard(b.ownerID, "🔔 Allow memoalarm to send event notifications?", permissionKeyboard(id))
	if err != nil {
		return false, fmt.Errorf("send prompt: %w", err)
	}

	timeout := b.promptTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case granted := <-answer:
		if granted {
			b.editMessage(b.ownerID, msgID, "🔔 Notifications allowed")
		} else {
			b.editMessage(b.ownerID, msgID, "🔕 Notifications blocked")
		}
		return granted, nil
	case <-timer.C:
		b.editMessage(b.ownerID, msgID, "⌛ Permission prompt expired")
		return false, errPromptTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (b *Bot) answerPrompt(id int, granted bool) bool {
	b.promptsMu.Lock()
	defer b.promptsMu.Unlock()

	ch, ok := b.prompts[id]
	if !ok {
		return false
	}
	select {
	case ch <- granted:
	default:
	}
	return true
}
