package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/memoalarm/internal/domain"
	"github.com/tazhate/memoalarm/internal/platform"
)

const helpText = `<b>Events</b>
/add YYYY-MM-DD [HH:MM] title — add an event (default time 08:00)
/add today|tomorrow [HH:MM] title
/today — today's events
/list [YYYY-MM-DD] — all events or one day
/edit ID title|date|time value — change an event
/delete ID — delete an event
/export — download events as .ics

<b>Notifications</b>
/enable — turn notifications on
/allow — unblock after a denial
/disable — turn notifications off
/status — what is armed`

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		b.SendMessage(chatID, "👋 I will remind you of your events.\n\n"+helpText)
	case "help":
		b.SendMessage(chatID, helpText)
	case "add":
		b.cmdAdd(ctx, chatID, args)
	case "today":
		b.cmdToday(ctx, chatID)
	case "list":
		b.cmdList(ctx, chatID, args)
	case "edit":
		b.cmdEdit(ctx, chatID, args)
	case "delete":
		b.cmdDelete(ctx, chatID, args)
	case "enable":
		b.cmdEnable(ctx, chatID)
	case "allow":
		b.cmdAllow(ctx, chatID)
	case "disable":
		b.sched.Disable()
		b.SendMessage(chatID, "🔕 Notifications off")
	case "status":
		b.cmdStatus(ctx, chatID)
	case "export":
		b.cmdExport(ctx, chatID)
	default:
		b.SendMessage(chatID, "Unknown command. /help for the list")
	}
}

func (b *Bot) cmdAdd(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		b.SendMessage(chatID, "Usage: /add 2030-06-20 09:30 Dentist")
		return
	}

	date := b.resolveDate(fields[0])
	clock := ""
	rest := fields[1:]
	if domain.ValidTime(rest[0]) {
		clock = rest[0]
		rest = rest[1:]
	}

	e, err := b.events.Create(ctx, strings.Join(rest, " "), date, clock)
	if err != nil {
		b.SendMessage(chatID, errorText(err))
		return
	}

	b.SendMessage(chatID, fmt.Sprintf("✅ Added\n\n📅 %s <b>%s</b>\n<code>%s</code>", e.FormatWhen(), html.EscapeString(e.Title), e.ID))
}

func (b *Bot) cmdToday(ctx context.Context, chatID int64) {
	events, err := b.events.ListForDate(ctx, time.Now().In(b.loc))
	if err != nil {
		b.SendMessage(chatID, errorText(err))
		return
	}
	b.sendEventList(chatID, "<b>📅 Today</b>", events)
}

func (b *Bot) cmdList(ctx context.Context, chatID int64, args string) {
	var (
		events []*domain.Event
		err    error
		header = "<b>📋 All events</b>"
	)

	if args != "" {
		day, perr := time.ParseInLocation(domain.DateLayout, b.resolveDate(args), b.loc)
		if perr != nil {
			b.SendMessage(chatID, "Usage: /list 2030-06-20")
			return
		}
		header = "<b>📅 " + day.Format(domain.DateLayout) + "</b>"
		events, err = b.events.ListForDate(ctx, day)
	} else {
		events, err = b.events.List(ctx)
	}
	if err != nil {
		b.SendMessage(chatID, errorText(err))
		return
	}
	b.sendEventList(chatID, header, events)
}

func (b *Bot) sendEventList(chatID int64, header string, events []*domain.Event) {
	text := header + "\n\n" + b.events.FormatEventList(events)
	if kb := eventListKeyboard(events); kb != nil {
		b.SendMessageWithKeyboard(chatID, text, *kb)
		return
	}
	b.SendMessage(chatID, text)
}

func (b *Bot) cmdEdit(ctx context.Context, chatID int64, args string) {
	parts := strings.SplitN(args, " ", 3)
	if len(parts) < 3 {
		b.SendMessage(chatID, "Usage: /edit ID title|date|time value")
		return
	}
	id, field, value := parts[0], parts[1], strings.TrimSpace(parts[2])

	var patch domain.EventPatch
	switch field {
	case "title":
		patch.Title = &value
	case "date":
		value = b.resolveDate(value)
		patch.Date = &value
	case "time":
		patch.NotificationTime = &value
	default:
		b.SendMessage(chatID, "Field must be title, date or time")
		return
	}

	e, err := b.events.Modify(ctx, id, patch)
	if err != nil {
		b.SendMessage(chatID, errorText(err))
		return
	}
	b.SendMessage(chatID, fmt.Sprintf("✏️ Updated\n\n📅 %s <b>%s</b>", e.FormatWhen(), html.EscapeString(e.Title)))
}

func (b *Bot) cmdDelete(ctx context.Context, chatID int64, id string) {
	if id == "" {
		b.SendMessage(chatID, "Usage: /delete ID")
		return
	}
	b.askDelete(ctx, chatID, id)
}

func (b *Bot) askDelete(ctx context.Context, chatID int64, id string) {
	e, err := b.events.Get(ctx, id)
	if err != nil {
		b.SendMessage(chatID, errorText(err))
		return
	}
	b.SendMessageWithKeyboard(chatID,
		fmt.Sprintf("Delete <b>%s</b> (%s)?", html.EscapeString(e.Title), e.FormatWhen()),
		confirmDeleteKeyboard(e.ID))
}

func (b *Bot) cmdEnable(ctx context.Context, chatID int64) {
	armed, err := b.enable(ctx)
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		b.SendMessageWithKeyboard(chatID, "🔕 Notifications are blocked.", unblockKeyboard())
	case errors.Is(err, errPromptTimeout):
		b.SendMessage(chatID, "⌛ No answer, notifications stay off. /enable to ask again")
	case err != nil:
		b.SendMessage(chatID, errorText(err))
	default:
		b.SendMessage(chatID, fmt.Sprintf("🔔 Notifications on, %d armed", armed))
	}
}

func (b *Bot) cmdAllow(ctx context.Context, chatID int64) {
	if err := b.perms.Grant(ctx); err != nil {
		b.SendMessage(chatID, errorText(err))
		return
	}
	b.cmdEnable(ctx, chatID)
}

// enable turns notifications on and returns how many timers are armed.
func (b *Bot) enable(ctx context.Context) (int, error) {
	granted, err := b.sched.Enable(ctx)
	if err != nil {
		return 0, err
	}
	if !granted {
		return 0, domain.ErrPermissionDenied
	}
	return len(b.sched.Status().Armed), nil
}

func (b *Bot) cmdStatus(ctx context.Context, chatID int64) {
	perm, err := b.perms.Query(ctx)
	if err != nil {
		b.SendMessage(chatID, errorText(err))
		return
	}
	st := b.sched.Status()

	var sb strings.Builder
	if st.Enabled {
		sb.WriteString("🔔 Notifications: on\n")
	} else {
		sb.WriteString("🔕 Notifications: off\n")
	}
	sb.WriteString(fmt.Sprintf("Permission: %s\n", perm))
	sb.WriteString(fmt.Sprintf("Armed: %d", len(st.Armed)))
	for _, id := range st.Armed {
		sb.WriteString("\n<code>" + id + "</code>")
	}
	if perm == platform.PermissionDenied {
		sb.WriteString("\n\n/allow to unblock")
	}
	b.SendMessage(chatID, sb.String())
}

func (b *Bot) cmdExport(ctx context.Context, chatID int64) {
	var buf bytes.Buffer
	if err := b.events.ExportICS(ctx, &buf); err != nil {
		b.SendMessage(chatID, errorText(err))
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: "memoalarm.ics", Bytes: buf.Bytes()})
	if _, err := b.api.Send(doc); err != nil {
		b.logger.Errorw("failed to send export", "err", err)
		b.SendMessage(chatID, "❌ Export failed")
	}
}

// resolveDate expands today and tomorrow to dates in the bot's zone.
func (b *Bot) resolveDate(s string) string {
	now := time.Now().In(b.loc)
	switch strings.ToLower(s) {
	case "today":
		return now.Format(domain.DateLayout)
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format(domain.DateLayout)
	}
	return s
}

func errorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "❌ Event not found"
	case errors.Is(err, domain.ErrInvalidEvent):
		return "❌ " + html.EscapeString(err.Error())
	default:
		return "❌ Error: " + html.EscapeString(err.Error())
	}
}
