package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message != nil {
		b.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	if chatID != b.ownerID {
		b.logger.Warnw("message from unknown chat", "chat_id", chatID)
		b.SendMessage(chatID, "⛔ Access denied")
		return
	}

	if strings.TrimSpace(msg.Text) == "" {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	b.SendMessage(chatID, "Send /add 2030-06-20 09:30 Dentist to add an event. /help for more")
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil || callback.Message.Chat == nil {
		return
	}
	chatID := callback.Message.Chat.ID
	msgID := callback.Message.MessageID

	if chatID != b.ownerID {
		b.api.Request(tgbotapi.NewCallback(callback.ID, "⛔ Access denied"))
		return
	}

	action, arg, _ := strings.Cut(callback.Data, ":")

	switch action {
	case "perm":
		// perm:<prompt id>:allow|deny
		idStr, answer, _ := strings.Cut(arg, ":")
		id, err := strconv.Atoi(idStr)
		if err != nil || !b.answerPrompt(id, answer == "allow") {
			b.api.Request(tgbotapi.NewCallback(callback.ID, "Prompt expired"))
			b.editMessage(chatID, msgID, "⌛ Permission prompt expired")
			return
		}
		b.api.Request(tgbotapi.NewCallback(callback.ID, ""))

	case "allow":
		b.api.Request(tgbotapi.NewCallback(callback.ID, ""))
		b.cmdAllow(ctx, chatID)

	case "del":
		b.api.Request(tgbotapi.NewCallback(callback.ID, ""))
		b.askDelete(ctx, chatID, arg)

	case "confirm_del":
		if err := b.events.Remove(ctx, arg); err != nil {
			b.api.Request(tgbotapi.NewCallback(callback.ID, "❌ "+err.Error()))
			return
		}
		b.api.Request(tgbotapi.NewCallback(callback.ID, "🗑 Deleted"))
		b.editMessage(chatID, msgID, "🗑 Deleted")

	case "cancel":
		b.api.Request(tgbotapi.NewCallback(callback.ID, ""))
		b.editMessage(chatID, msgID, "Cancelled")

	default:
		b.api.Request(tgbotapi.NewCallback(callback.ID, ""))
	}
}
