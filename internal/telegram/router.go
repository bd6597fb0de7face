package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/roman-shvetsov/infinite-memory-bot/internal/engine"
	"github.com/roman-shvetsov/infinite-memory-bot/internal/store"
)

// Pending state keys used in conversational flows.
const (
	pendingTitle = "await_title_text"
	pendingTZ    = "await_tz_text"
)

// Router wires Telegram updates to handlers and holds minimal in-memory state.
type Router struct {
	bot   *tgbotapi.BotAPI
	log   *zap.Logger
	eng   *engine.Engine
	repo  store.Repo
	state map[int64]string // chatID -> pending state
	mu    sync.RWMutex
}

// NewRouter creates a new Telegram router. The engine is attached with
// SetEngine once it exists; the router is its Notifier, so the two cannot be
// built in one go.
func NewRouter(bot *tgbotapi.BotAPI, log *zap.Logger, repo store.Repo) *Router {
	return &Router{
		bot:   bot,
		log:   log,
		repo:  repo,
		state: make(map[int64]string),
	}
}

// SetEngine attaches the engine. Must be called before updates are handled.
func (r *Router) SetEngine(eng *engine.Engine) {
	r.eng = eng
}

// setPending sets a pending state for a chat (non-persistent, in-memory).
func (r *Router) setPending(chatID int64, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[chatID] = s
}

// getPending returns current pending state for a chat.
func (r *Router) getPending(chatID int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state[chatID]
}

// clearPending clears a pending state for a chat.
func (r *Router) clearPending(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, chatID)
}

// HandleUpdate routes a single update to appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	// Text messages
	if upd.Message != nil {
		msg := upd.Message
		chatID := msg.Chat.ID
		text := strings.TrimSpace(msg.Text)

		switch {
		case strings.HasPrefix(text, "/start"):
			r.handleStart(ctx, chatID, msg.From)
		case strings.HasPrefix(text, "/help"):
			r.handleHelp(chatID)
		case strings.HasPrefix(text, "/add"):
			r.handleAdd(ctx, chatID, msg.From)
		case strings.HasPrefix(text, "/list"):
			r.handleList(ctx, chatID)
		case strings.HasPrefix(text, "/status"):
			r.handleStatus(ctx, chatID)
		case strings.HasPrefix(text, "/timezone"):
			r.handleTimezone(chatID)
		case strings.HasPrefix(text, "/pause"):
			r.handlePickTopic(ctx, chatID, store.TopicsActive, "pause")
		case strings.HasPrefix(text, "/resume"):
			r.handlePickTopic(ctx, chatID, store.TopicsPaused, "resume")
		default:
			// Free-form text used by the /add and custom-timezone flows
			r.handleFreeForm(ctx, chatID, text)
		}
		return
	}

	// Callback queries (inline buttons)
	if upd.CallbackQuery != nil {
		cb := upd.CallbackQuery
		data := cb.Data
		chatID := cb.Message.Chat.ID

		switch {
		case data == "tz:custom":
			r.askCustomTZ(chatID, cb.ID)
		case strings.HasPrefix(data, "tz:"):
			r.handleTZCallback(ctx, chatID, strings.TrimPrefix(data, "tz:"), cb.ID)

		case data == "add_topic":
			_ = r.answerCallback(cb.ID, "")
			r.handleAdd(ctx, chatID, cb.From)

		case data == "back_to_list":
			_ = r.answerCallback(cb.ID, "")
			r.handleList(ctx, chatID)

		case strings.HasPrefix(data, "topic:"):
			r.withID(ctx, chatID, cb.ID, data, r.handleTopicCard)
		case strings.HasPrefix(data, "done:"):
			r.withID(ctx, chatID, cb.ID, data, r.handleAck)
		case strings.HasPrefix(data, "pause:"):
			r.withID(ctx, chatID, cb.ID, data, r.handlePause)
		case strings.HasPrefix(data, "resume:"):
			r.withID(ctx, chatID, cb.ID, data, r.handleResume)
		case strings.HasPrefix(data, "del:"):
			r.withID(ctx, chatID, cb.ID, data, r.handleDeleteAsk)
		case strings.HasPrefix(data, "delc:"):
			r.withID(ctx, chatID, cb.ID, data, r.handleDeleteConfirm)
		case strings.HasPrefix(data, "test:"):
			r.withID(ctx, chatID, cb.ID, data, r.handlePreview)

		default:
			// Unknown callback, ignore silently
		}
		return
	}
}

// withID parses the numeric id after the callback prefix and invokes the
// handler. Malformed data is dropped with a toast.
func (r *Router) withID(ctx context.Context, chatID int64, cbID, data string, h func(ctx context.Context, chatID, id int64, cbID string)) {
	_, raw, ok := strings.Cut(data, ":")
	if !ok {
		_ = r.answerCallback(cbID, "")
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.log.Warn("malformed callback data", zap.String("data", data))
		_ = r.answerCallback(cbID, "")
		return
	}
	h(ctx, chatID, id, cbID)
}
