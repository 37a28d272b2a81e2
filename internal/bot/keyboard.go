package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/memoalarm/internal/domain"
)

// Permission prompt keyboard
func permissionKeyboard(promptID int) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Allow", fmt.Sprintf("perm:%d:allow", promptID)),
			tgbotapi.NewInlineKeyboardButtonData("🚫 Deny", fmt.Sprintf("perm:%d:deny", promptID)),
		),
	)
}

// Event list keyboard with a delete button per pending event
func eventListKeyboard(events []*domain.Event) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	for _, e := range events {
		if e.IsNotified {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("🗑 %s %s", e.FormatWhen(), truncate(e.Title, 25)),
				"del:"+e.ID,
			),
		))
		if len(rows) >= 10 {
			break
		}
	}

	if len(rows) == 0 {
		return nil
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &keyboard
}

// Confirm delete keyboard
func confirmDeleteKeyboard(eventID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Yes, delete", "confirm_del:"+eventID),
			tgbotapi.NewInlineKeyboardButtonData("◀️ Cancel", "cancel"),
		),
	)
}

// Shown when notifications were blocked earlier
func unblockKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔓 Allow notifications", "allow"),
		),
	)
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
