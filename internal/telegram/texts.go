package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/roman-shvetsov/infinite-memory-bot/internal/domain"
)

// UI texts in English
const (
	startText = "👋 I help you remember what you learn.\n\n" +
		"Add a topic you just studied and I will nudge you to repeat it on a " +
		"spaced-repetition curve: soon at first, then rarer and rarer.\n\n" +
		"Commands: /add, /list, /status, /timezone, /help"
	helpText = "📖 How it works:\n\n" +
		"• /add — register a topic; the first nudge comes about an hour later.\n" +
		"• When a nudge arrives, repeat the topic and tap ✅.\n" +
		"• Every ✅ pushes the next nudge further away. Confirm the whole " +
		"curve and the topic is yours for good.\n" +
		"• /list — your topics, progress and per-topic actions.\n" +
		"• /status — timezone and what fires next.\n" +
		"• /timezone — where you live; nudges respect your nights."
	askTitleText    = "✍️ Send me the topic title in one message:"
	askTZText       = "🌍 Choose your timezone or enter your own (Region/City):"
	askCustomTZText = "Enter timezone (e.g., Europe/Moscow):"
	noTopicsText    = "You have no topics yet. Add the first one!"
	listTitle       = "🗂 Your topics:"
	statusFmt       = "🧾 Your memory training:\n• Timezone: %s\n• In training: %d\n• Paused: %d\n• Completed: %d\n• Next nudge: %s"

	tzFirstText     = "I need your timezone before scheduling anything — pick one below."
	emptyTitleText  = "The title is empty. Send /add and try again."
	titleTooLongFmt = "That title is longer than %d characters. Send /add and try a shorter one."
	badTZText       = "Invalid timezone. Example: Europe/Moscow"
	goneText        = "This one is already gone."
	alreadyDoneText = "Already confirmed ✅"
	topicPausedText = "This topic is paused. Resume it first."
	genericErrText  = "Something went wrong. Please try again later."
	startFirstText  = "Send /start first."

	tzSavedFmt     = "Timezone saved: %s"
	addedFmt       = "📌 Saved «%s».\nFirst nudge: %s."
	confirmedFmt   = "✅ Counted. Next nudge for «%s»: %s."
	masteredFmt    = "🏆 «%s» made it through all %d repetitions. Topic completed!"
	ackPausedFmt   = "✅ Counted — though «%s» is paused, so nothing new is scheduled."
	pausedFmt      = "⏸ «%s» is paused. No nudges until you resume it."
	resumedFmt     = "▶️ «%s» is back. Starting over: first nudge %s."
	alreadyLiveFmt = "▶️ «%s» is already active."
	deletedText    = "🗑 Deleted, together with its history."
	confirmFmt     = "Delete «%s» with all its history? This cannot be undone."
	previewAckFmt  = "🧪 A preview is on its way, arriving in ~%s."

	reminderFmt = "🔔 Time to repeat: %s\nRepetition %d of %d. Tap ✅ once you did."
	previewMark = "🧪 Preview — this is how a nudge looks:\n\n"
)

// mainMenuKeyboard is the persistent reply keyboard under the input box.
func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/list"),
			tgbotapi.NewKeyboardButton("/add"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/status"),
			tgbotapi.NewKeyboardButton("/timezone"),
		),
	)
}

func tzPresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Europe/Moscow", "tz:Europe/Moscow"),
			tgbotapi.NewInlineKeyboardButtonData("Europe/Tallinn", "tz:Europe/Tallinn"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Asia/Almaty", "tz:Asia/Almaty"),
			tgbotapi.NewInlineKeyboardButtonData("UTC", "tz:UTC"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✍️ Custom…", "tz:custom"),
		),
	)
}

// topicMarker shows the list-item state at a glance.
func topicMarker(p domain.Progress, curveLen int) string {
	switch {
	case p.Mastered(curveLen):
		return "🏆"
	case p.Topic.Paused:
		return "⏸"
	default:
		return "📗"
	}
}

// shorten trims s to at most n runes for button labels.
func shorten(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// topicsKeyboard lists one button per topic plus the add shortcut.
func topicsKeyboard(ps []domain.Progress, curveLen int) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(ps)+1)
	for _, p := range ps {
		label := topicMarker(p, curveLen) + " " + shorten(p.Topic.Title, 32)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("topic:%d", p.Topic.ID)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("➕ Add topic", "add_topic"),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// topicCardKeyboard builds the per-topic action buttons.
func topicCardKeyboard(p *domain.Progress) tgbotapi.InlineKeyboardMarkup {
	id := p.Topic.ID
	toggle := tgbotapi.NewInlineKeyboardButtonData("⏸ Pause", fmt.Sprintf("pause:%d", id))
	if p.Topic.Paused {
		toggle = tgbotapi.NewInlineKeyboardButtonData("▶️ Resume", fmt.Sprintf("resume:%d", id))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			toggle,
			tgbotapi.NewInlineKeyboardButtonData("🧪 Preview", fmt.Sprintf("test:%d", id)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", fmt.Sprintf("del:%d", id)),
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "back_to_list"),
		),
	)
}

func confirmDeleteKeyboard(topicID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Yes, delete", fmt.Sprintf("delc:%d", topicID)),
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Keep it", fmt.Sprintf("topic:%d", topicID)),
		),
	)
}

// pickTopicKeyboard is used by /pause and /resume to pick the target.
func pickTopicKeyboard(ps []domain.Progress, action string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(ps))
	for _, p := range ps {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(shorten(p.Topic.Title, 40), fmt.Sprintf("%s:%d", action, p.Topic.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// doneKeyboard is the single ✅ under a delivered reminder.
func doneKeyboard(reminderID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Done, repeated it", fmt.Sprintf("done:%d", reminderID)),
		),
	)
}
