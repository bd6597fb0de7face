package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/roman-shvetsov/infinite-memory-bot/internal/domain"
	"github.com/roman-shvetsov/infinite-memory-bot/internal/store"
)

// ensureUser makes sure a user row exists; if not, creates it without a
// timezone so the tz prompt kicks in.
func (r *Router) ensureUser(ctx context.Context, chatID int64, from *tgbotapi.User) (*domain.User, error) {
	u, err := r.repo.GetUser(ctx, chatID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	u = &domain.User{ChatID: chatID}
	if from != nil {
		u.FirstName = from.FirstName
		u.Username = from.UserName
	}
	if err := r.repo.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// --- Generic helpers ---

func (r *Router) sendText(chatID int64, text string) {
	_, _ = r.bot.Send(tgbotapi.NewMessage(chatID, text))
}

func (r *Router) sendWithMarkup(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	_, _ = r.bot.Send(msg)
}

func (r *Router) answerCallback(id, text string) error {
	_, err := r.bot.Request(tgbotapi.NewCallback(id, text))
	return err
}

// localTime renders t in the chat's timezone, falling back to UTC.
func (r *Router) localTime(ctx context.Context, chatID int64, t time.Time) string {
	tz := ""
	if u, err := r.repo.GetUser(ctx, chatID); err == nil {
		tz = u.TZ
	}
	return domain.FormatLocal(t, tz)
}

// errText maps domain errors to user-facing replies.
func errText(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoTimezone):
		return tzFirstText
	case errors.Is(err, domain.ErrEmptyTitle):
		return emptyTitleText
	case errors.Is(err, domain.ErrTitleTooLong):
		return fmt.Sprintf(titleTooLongFmt, domain.MaxTitleLen)
	case errors.Is(err, domain.ErrBadTimezone):
		return badTZText
	case errors.Is(err, domain.ErrNotFound):
		return goneText
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return alreadyDoneText
	case errors.Is(err, domain.ErrTopicPaused):
		return topicPausedText
	default:
		return genericErrText
	}
}

// --- Core commands ---

func (r *Router) handleStart(ctx context.Context, chatID int64, from *tgbotapi.User) {
	u, err := r.ensureUser(ctx, chatID, from)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(chatID, genericErrText)
		return
	}
	r.sendWithMarkup(chatID, startText, mainMenuKeyboard())
	if !u.HasTimezone() {
		r.sendWithMarkup(chatID, askTZText, tzPresetsKeyboard())
	}
}

func (r *Router) handleHelp(chatID int64) {
	r.sendWithMarkup(chatID, helpText, mainMenuKeyboard())
}

func (r *Router) handleAdd(ctx context.Context, chatID int64, from *tgbotapi.User) {
	u, err := r.ensureUser(ctx, chatID, from)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(chatID, genericErrText)
		return
	}
	if !u.HasTimezone() {
		r.sendWithMarkup(chatID, tzFirstText, tzPresetsKeyboard())
		return
	}
	r.setPending(chatID, pendingTitle)
	r.sendText(chatID, askTitleText)
}

func (r *Router) handleList(ctx context.Context, chatID int64) {
	ps, err := r.eng.Topics(ctx, chatID, store.TopicsAll)
	if err != nil {
		r.log.Error("list topics failed", zap.Error(err))
		r.sendText(chatID, genericErrText)
		return
	}
	title := listTitle
	if len(ps) == 0 {
		title = noTopicsText
	}
	r.sendWithMarkup(chatID, title, topicsKeyboard(ps, len(r.eng.Curve())))
}

func (r *Router) handleStatus(ctx context.Context, chatID int64) {
	u, err := r.repo.GetUser(ctx, chatID)
	if err != nil {
		r.sendText(chatID, startFirstText)
		return
	}
	ps, err := r.eng.Topics(ctx, chatID, store.TopicsAll)
	if err != nil {
		r.log.Error("list topics failed", zap.Error(err))
		r.sendText(chatID, genericErrText)
		return
	}

	curveLen := len(r.eng.Curve())
	active, paused, mastered := 0, 0, 0
	var nearest *time.Time
	for _, p := range ps {
		switch {
		case p.Mastered(curveLen):
			mastered++
		case p.Topic.Paused:
			paused++
		default:
			active++
		}
		if p.Outstanding != nil && p.Outstanding.Status == domain.StatusPending {
			at := p.Outstanding.ScheduledAt
			if nearest == nil || at.Before(*nearest) {
				nearest = &at
			}
		}
	}

	tz := u.TZ
	if tz == "" {
		tz = "—"
	}
	next := "—"
	if nearest != nil {
		next = domain.FormatLocal(*nearest, u.TZ)
	}
	r.sendWithMarkup(chatID, fmt.Sprintf(statusFmt, tz, active, paused, mastered, next), mainMenuKeyboard())
}

func (r *Router) handleTimezone(chatID int64) {
	r.sendWithMarkup(chatID, askTZText, tzPresetsKeyboard())
}

// handlePickTopic shows the pick list for /pause and /resume.
func (r *Router) handlePickTopic(ctx context.Context, chatID int64, f store.TopicFilter, action string) {
	ps, err := r.eng.Topics(ctx, chatID, f)
	if err != nil {
		r.log.Error("list topics failed", zap.Error(err))
		r.sendText(chatID, genericErrText)
		return
	}
	if len(ps) == 0 {
		r.sendText(chatID, "Nothing to "+action+".")
		return
	}
	r.sendWithMarkup(chatID, "Pick a topic to "+action+":", pickTopicKeyboard(ps, action))
}

// --- Free-form dispatcher (title and custom-timezone inputs) ---

func (r *Router) handleFreeForm(ctx context.Context, chatID int64, text string) {
	switch r.getPending(chatID) {
	case pendingTitle:
		r.clearPending(chatID)
		topic, rem, err := r.eng.AddTopic(ctx, chatID, text)
		if err != nil {
			r.log.Warn("add topic rejected", zap.Error(err), zap.Int64("chatID", chatID))
			r.sendText(chatID, errText(err))
			return
		}
		r.sendText(chatID, fmt.Sprintf(addedFmt, topic.Title, r.localTime(ctx, chatID, rem.ScheduledAt)))

	case pendingTZ:
		r.clearPending(chatID)
		tz, err := domain.ValidateTZ(text)
		if err != nil {
			r.sendText(chatID, badTZText)
			return
		}
		if err := r.saveTimezone(ctx, chatID, tz); err != nil {
			r.log.Error("save timezone failed", zap.Error(err))
			r.sendText(chatID, genericErrText)
			return
		}
		r.sendText(chatID, fmt.Sprintf(tzSavedFmt, tz))

	default:
		// No pending flow: ignore free-form message
	}
}

// --- Timezone flow ---

func (r *Router) askCustomTZ(chatID int64, cbID string) {
	_ = r.answerCallback(cbID, "")
	r.setPending(chatID, pendingTZ)
	r.sendText(chatID, askCustomTZText)
}

func (r *Router) handleTZCallback(ctx context.Context, chatID int64, val, cbID string) {
	_ = r.answerCallback(cbID, "")
	tz, err := domain.ValidateTZ(val)
	if err != nil {
		r.sendText(chatID, badTZText)
		return
	}
	if err := r.saveTimezone(ctx, chatID, tz); err != nil {
		r.log.Error("save timezone failed", zap.Error(err))
		r.sendText(chatID, genericErrText)
		return
	}
	r.sendText(chatID, fmt.Sprintf(tzSavedFmt, tz))
}

func (r *Router) saveTimezone(ctx context.Context, chatID int64, tz string) error {
	if _, err := r.ensureUser(ctx, chatID, nil); err != nil {
		return err
	}
	return r.repo.SetTimezone(ctx, chatID, tz)
}

// --- Topic card and actions ---

func (r *Router) handleTopicCard(ctx context.Context, chatID, topicID int64, cbID string) {
	_ = r.answerCallback(cbID, "")
	p, err := r.eng.TopicProgress(ctx, chatID, topicID)
	if err != nil {
		r.sendText(chatID, errText(err))
		return
	}
	r.sendWithMarkup(chatID, r.topicCard(ctx, chatID, p), topicCardKeyboard(p))
}

// topicCard renders the per-topic summary text.
func (r *Router) topicCard(ctx context.Context, chatID int64, p *domain.Progress) string {
	curveLen := len(r.eng.Curve())
	var b strings.Builder
	fmt.Fprintf(&b, "📗 %s\n", p.Topic.Title)
	switch {
	case p.Mastered(curveLen):
		fmt.Fprintf(&b, "🏆 Completed: all %d repetitions confirmed.", curveLen)
	case p.Topic.Paused:
		fmt.Fprintf(&b, "⏸ Paused. Confirmed so far: %d of %d.", p.Confirmed, curveLen)
	case p.Outstanding == nil:
		fmt.Fprintf(&b, "Confirmed %d of %d. Nothing scheduled right now.", p.Confirmed, curveLen)
	default:
		fmt.Fprintf(&b, "Repetition %d of %d.", p.Outstanding.Repetition+1, curveLen)
		switch p.Outstanding.Status {
		case domain.StatusPending:
			fmt.Fprintf(&b, "\n⏰ Next nudge: %s.", r.localTime(ctx, chatID, p.Outstanding.ScheduledAt))
		case domain.StatusSent, domain.StatusAwaiting:
			b.WriteString("\n⏳ Nudge delivered — waiting for your ✅.")
		}
	}
	return b.String()
}

func (r *Router) handleAck(ctx context.Context, chatID, reminderID int64, cbID string) {
	res, err := r.eng.Acknowledge(ctx, chatID, reminderID)
	if err != nil {
		_ = r.answerCallback(cbID, errText(err))
		return
	}
	_ = r.answerCallback(cbID, "Confirmed ✅")
	switch {
	case res.Completed:
		r.sendText(chatID, fmt.Sprintf(masteredFmt, res.Topic.Title, res.Confirmed))
	case res.Paused:
		r.sendText(chatID, fmt.Sprintf(ackPausedFmt, res.Topic.Title))
	default:
		r.sendText(chatID, fmt.Sprintf(confirmedFmt, res.Topic.Title, r.localTime(ctx, chatID, res.Next.ScheduledAt)))
	}
}

func (r *Router) handlePause(ctx context.Context, chatID, topicID int64, cbID string) {
	_ = r.answerCallback(cbID, "")
	topic, err := r.eng.PauseTopic(ctx, chatID, topicID)
	if err != nil {
		r.sendText(chatID, errText(err))
		return
	}
	r.sendText(chatID, fmt.Sprintf(pausedFmt, topic.Title))
}

func (r *Router) handleResume(ctx context.Context, chatID, topicID int64, cbID string) {
	_ = r.answerCallback(cbID, "")
	topic, rem, err := r.eng.ResumeTopic(ctx, chatID, topicID)
	if err != nil {
		r.sendText(chatID, errText(err))
		return
	}
	if rem == nil {
		r.sendText(chatID, fmt.Sprintf(alreadyLiveFmt, topic.Title))
		return
	}
	r.sendText(chatID, fmt.Sprintf(resumedFmt, topic.Title, r.localTime(ctx, chatID, rem.ScheduledAt)))
}

func (r *Router) handleDeleteAsk(ctx context.Context, chatID, topicID int64, cbID string) {
	_ = r.answerCallback(cbID, "")
	p, err := r.eng.TopicProgress(ctx, chatID, topicID)
	if err != nil {
		r.sendText(chatID, errText(err))
		return
	}
	r.sendWithMarkup(chatID, fmt.Sprintf(confirmFmt, p.Topic.Title), confirmDeleteKeyboard(topicID))
}

func (r *Router) handleDeleteConfirm(ctx context.Context, chatID, topicID int64, cbID string) {
	if err := r.eng.DeleteTopic(ctx, chatID, topicID); err != nil {
		_ = r.answerCallback(cbID, errText(err))
		return
	}
	_ = r.answerCallback(cbID, "Deleted")
	r.sendText(chatID, deletedText)
}

func (r *Router) handlePreview(ctx context.Context, chatID, topicID int64, cbID string) {
	rem, err := r.eng.ScheduleTest(ctx, chatID, topicID)
	if err != nil {
		_ = r.answerCallback(cbID, errText(err))
		return
	}
	_ = r.answerCallback(cbID, "")
	r.sendText(chatID, fmt.Sprintf(previewAckFmt, time.Until(rem.ScheduledAt).Round(time.Second)))
}

// --- Reminder push ---

// SendReminder pushes a due nudge with its ✅ button. Previews carry a marker
// and no button. This makes Router satisfy engine.Notifier.
func (r *Router) SendReminder(user domain.User, topic domain.Topic, rem domain.Reminder) error {
	body := fmt.Sprintf(reminderFmt, topic.Title, rem.Repetition+1, len(r.eng.Curve()))
	msg := tgbotapi.NewMessage(user.ChatID, body)
	if rem.Status == domain.StatusTesting {
		msg.Text = previewMark + body
	} else {
		msg.ReplyMarkup = doneKeyboard(rem.ID)
	}
	_, err := r.bot.Send(msg)
	return err
}
