package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/commit365/chatzipper/internal/digest"
	"github.com/commit365/chatzipper/internal/log"
	"github.com/commit365/chatzipper/internal/metrics"
	"github.com/commit365/chatzipper/internal/sanitize"
	"github.com/commit365/chatzipper/internal/store"
)

const (
	callbackSummaryYes = "summary_yes"
	callbackSummaryNo  = "summary_no"

	unknownCommandText = `Sorry, I don't recognize that command. Here are the commands I support:

/start - Start the bot and get a welcome message
/chatzip - Check for unread messages and get a summary if needed

Try one of these commands!`

	summaryFallbackText = "Sorry, I couldn't generate a summary at this time."
	caughtUpAfterText   = "You're already caught up! I'll notify you when there are more new messages to summarize."
	declineText         = "Okay, let me know if you change your mind!"
)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	ctx = log.ContextWithChatID(ctx, msg.Chat.ID)

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.handleStart(ctx, msg)
		case "chatzip":
			b.handleChatzip(ctx, msg)
		default:
			b.handleUnknown(ctx, msg)
		}
		return
	}

	b.handleText(ctx, msg)
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	text := fmt.Sprintf(
		"👋 Hi! I'm chatzipper. I help you catch up on group chats by summarizing unread messages. "+
			"Call /chatzip to check your backlog, and I'll also reach out when you have more than %d unread messages in case you want a summary!",
		b.opts.MessageLimit)
	b.replyEphemeral(ctx, msg.Chat.ID, msg.From.ID, text)
}

func (b *Bot) handleChatzip(ctx context.Context, msg *tgbotapi.Message) {
	logger := log.WithComponentFromContext(ctx, "bot")

	if !b.chatAllowed(msg.Chat.ID) {
		b.replyEphemeral(ctx, msg.Chat.ID, msg.From.ID, "This bot is only available in specific group chats.")
		return
	}

	count, err := b.svc.UnreadCount(ctx, msg.From.ID)
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "bot.unread_failed").
			Int64("user_id", msg.From.ID).
			Msg("failed to count unread messages")
		return
	}

	if b.svc.OverThreshold(count) {
		b.offerSummary(ctx, msg.Chat.ID, msg.From)
		return
	}
	b.replyEphemeral(ctx, msg.Chat.ID, msg.From.ID,
		fmt.Sprintf("You have %d unread messages - you're all caught up! 👍", count))
}

func (b *Bot) handleUnknown(ctx context.Context, msg *tgbotapi.Message) {
	b.replyEphemeral(ctx, msg.Chat.ID, msg.From.ID, unknownCommandText)
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	logger := log.WithComponentFromContext(ctx, "bot")

	if !b.chatAllowed(msg.Chat.ID) {
		metrics.IncMessageRejected("unauthorized_chat")
		logger.Debug().
			Str("event", "bot.unauthorized_chat").
			Msg("ignoring message from unauthorized chat")
		return
	}

	user, err := sanitize.CleanUser(msg.From.ID, msg.From.UserName, msg.From.FirstName)
	if err != nil {
		metrics.IncMessageRejected("invalid_user")
		logger.Warn().
			Err(err).
			Str("event", "bot.invalid_user").
			Msg("dropping message with invalid sender")
		return
	}

	text := sanitize.Text(msg.Text)
	if text == "" {
		metrics.IncMessageRejected("empty_text")
		return
	}

	count, err := b.svc.Record(ctx, store.Message{
		MessageID: int64(msg.MessageID),
		ChatID:    msg.Chat.ID,
		UserID:    user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		Text:      text,
		SentAt:    msg.Time(),
	})
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "bot.record_failed").
			Int64("user_id", user.ID).
			Msg("failed to record message")
		return
	}

	if b.svc.OverThreshold(count) {
		b.offerSummary(ctx, msg.Chat.ID, msg.From)
	}
}

// offerSummary runs the offer flow: a self-destructing pointer in the
// group chat plus a DM with an inline Yes/No keyboard. When the user was
// summarized recently and little has happened since, they get a caught-up
// notice instead.
func (b *Bot) offerSummary(ctx context.Context, chatID int64, from *tgbotapi.User) {
	logger := log.WithComponentFromContext(ctx, "bot")

	caughtUp, err := b.svc.CaughtUpSinceLastSummary(ctx, from.ID)
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "bot.offer_check_failed").
			Int64("user_id", from.ID).
			Msg("failed to check summary history")
		return
	}
	if caughtUp {
		b.send(ctx, tgbotapi.NewMessage(from.ID, caughtUpAfterText))
		return
	}

	name := from.FirstName
	if name == "" {
		name = from.UserName
	}

	if chatID != from.ID {
		notice := fmt.Sprintf(
			"Hey @%s, I've sent you a private message about summarizing your unread messages - check your DMs! This notice self-destructs in %s. 🕶️",
			name, b.opts.NoticeTTL)
		if sent, ok := b.send(ctx, tgbotapi.NewMessage(chatID, notice)); ok {
			b.deleteLater(ctx, chatID, sent.MessageID)
		}
	}

	offer := tgbotapi.NewMessage(from.ID,
		fmt.Sprintf("You have more than %d unread messages. Would you like a summary?", b.opts.MessageLimit))
	offer.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes", callbackSummaryYes),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("No", callbackSummaryNo),
		),
	)
	if _, ok := b.send(ctx, offer); ok {
		metrics.IncOffer("sent")
		logger.Info().
			Str("event", "bot.offer_sent").
			Int64("user_id", from.ID).
			Msg("summary offer sent")
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	logger := log.WithComponentFromContext(ctx, "bot")

	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		logger.Debug().Err(err).Str("event", "bot.callback_ack_failed").Msg("failed to answer callback query")
	}

	switch q.Data {
	case callbackSummaryYes:
		metrics.IncOffer("accepted")
		b.deliverSummary(ctx, q.From.ID)
	case callbackSummaryNo:
		metrics.IncOffer("declined")
		b.send(ctx, tgbotapi.NewMessage(q.From.ID, declineText))
	default:
		logger.Debug().
			Str("event", "bot.callback_unknown").
			Str("data", q.Data).
			Msg("ignoring unknown callback data")
	}

	// Clean up the keyboard message either way
	if q.Message != nil {
		if _, err := b.api.Request(tgbotapi.NewDeleteMessage(q.Message.Chat.ID, q.Message.MessageID)); err != nil {
			logger.Debug().Err(err).Str("event", "bot.keyboard_delete_failed").Msg("failed to delete keyboard message")
		}
	}
}

func (b *Bot) deliverSummary(ctx context.Context, userID int64) {
	logger := log.WithComponentFromContext(ctx, "bot")

	summary, err := b.svc.Summarize(ctx, userID)
	switch {
	case errors.Is(err, digest.ErrCaughtUp):
		b.send(ctx, tgbotapi.NewMessage(userID, caughtUpAfterText))
	case err != nil:
		logger.Error().
			Err(err).
			Str("event", "bot.summary_failed").
			Int64("user_id", userID).
			Msg("summary generation failed")
		b.send(ctx, tgbotapi.NewMessage(userID, summaryFallbackText))
	default:
		b.send(ctx, tgbotapi.NewMessage(userID, "Here's your summary:\n\n"+summary))
	}
}
