// Package bot implements the Telegram transport: long polling, command
// dispatch and the summary offer flow.
package bot

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/commit365/chatzipper/internal/digest"
	"github.com/commit365/chatzipper/internal/log"
	"github.com/commit365/chatzipper/internal/metrics"
)

// API is the narrow Telegram client surface the bot consumes.
// *tgbotapi.BotAPI satisfies it; tests use a fake.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Options configures bot behavior.
type Options struct {
	Username       string // bot's own username, for logs and status
	AllowedChatIDs []int64
	MessageLimit   int
	NoticeTTL      time.Duration // self-destruct delay for group notices
	PollTimeout    int           // long-poll timeout in seconds
	// HandlerConcurrency bounds concurrent update handlers; clamped to [1,10].
	HandlerConcurrency int
}

// Bot consumes Telegram updates and drives the digest service.
type Bot struct {
	api  API
	svc  *digest.Service
	opts Options

	mu         sync.Mutex
	lastUpdate time.Time

	deletions sync.WaitGroup
}

// New creates a Bot. The digest service carries the business rules; the
// bot only translates updates into service calls and replies.
func New(api API, svc *digest.Service, opts Options) *Bot {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30
	}
	opts.HandlerConcurrency = clampConcurrency(opts.HandlerConcurrency, 4, 10)
	return &Bot{
		api:  api,
		svc:  svc,
		opts: opts,
	}
}

func clampConcurrency(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// Status is a snapshot for the ops status endpoint.
type Status struct {
	Username     string    `json:"username"`
	LastUpdateAt time.Time `json:"last_update_at"`
}

// Status returns the current bot status snapshot.
func (b *Bot) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Username:     b.opts.Username,
		LastUpdateAt: b.lastUpdate,
	}
}

// LastUpdateAt returns when the bot last received an update, for
// readiness checks.
func (b *Bot) LastUpdateAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdate
}

func (b *Bot) touchUpdate() {
	b.mu.Lock()
	b.lastUpdate = time.Now()
	b.mu.Unlock()
}

// Run consumes updates until the context is cancelled. Handlers run on a
// bounded worker group; pending self-destruct deletions are awaited
// before returning.
func (b *Bot) Run(ctx context.Context) error {
	logger := log.WithComponent("bot")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.opts.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	logger.Info().
		Str("event", "bot.polling").
		Str("username", b.opts.Username).
		Int("timeout", b.opts.PollTimeout).
		Int("concurrency", b.opts.HandlerConcurrency).
		Msg("listening for updates")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.HandlerConcurrency)

consume:
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			break consume
		case upd, ok := <-updates:
			if !ok {
				break consume
			}
			b.touchUpdate()
			update := upd
			g.Go(func() error {
				b.handleUpdate(gctx, update)
				return nil
			})
		}
	}

	err := g.Wait()
	b.deletions.Wait()
	logger.Info().Str("event", "bot.stopped").Msg("update loop stopped")
	return err
}

func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		b.handleMessage(ctx, upd.Message)
	}
}

func (b *Bot) chatAllowed(chatID int64) bool {
	for _, id := range b.opts.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// send wraps API.Send with error accounting.
func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, bool) {
	sent, err := b.api.Send(c)
	if err != nil {
		metrics.IncTelegramSendError()
		logger := log.WithComponentFromContext(ctx, "bot")
		logger.Error().
			Err(err).
			Str("event", "bot.send_failed").
			Msg("failed to send message")
		return tgbotapi.Message{}, false
	}
	return sent, true
}

// deleteLater removes a message after the notice TTL. Deletion is bound
// to the run context so shutdown does not leak timers; a message that
// outlives the process simply stays.
func (b *Bot) deleteLater(ctx context.Context, chatID int64, messageID int) {
	if b.opts.NoticeTTL <= 0 {
		return
	}
	b.deletions.Add(1)
	go func() {
		defer b.deletions.Done()
		timer := time.NewTimer(b.opts.NoticeTTL)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
			metrics.IncTelegramSendError()
			logger := log.WithComponentFromContext(ctx, "bot")
			logger.Debug().
				Err(err).
				Str("event", "bot.delete_failed").
				Int64("chat_id", chatID).
				Int("message_id", messageID).
				Msg("failed to delete notice")
		}
	}()
}

// replyEphemeral sends a reply and schedules it for deletion when posted
// in a group chat. Direct messages are left alone.
func (b *Bot) replyEphemeral(ctx context.Context, chatID, userID int64, text string) {
	sent, ok := b.send(ctx, tgbotapi.NewMessage(chatID, text))
	if !ok {
		return
	}
	if chatID != userID {
		b.deleteLater(ctx, chatID, sent.MessageID)
	}
}
