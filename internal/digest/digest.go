// Package digest implements the unread-tracking and summary business
// logic, independent of the Telegram transport.
package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/commit365/chatzipper/internal/log"
	"github.com/commit365/chatzipper/internal/metrics"
	"github.com/commit365/chatzipper/internal/store"
	"github.com/commit365/chatzipper/internal/summarize"
)

// ErrCaughtUp is returned when a summary was requested but the backlog is
// below the threshold.
var ErrCaughtUp = errors.New("digest: backlog below threshold")

// Store is the persistence surface the digest service needs.
type Store interface {
	SaveMessage(ctx context.Context, m store.Message) error
	UnreadSince(ctx context.Context, userID int64, chatIDs []int64, since time.Time) ([]store.Message, error)
	CountUnreadSince(ctx context.Context, userID int64, chatIDs []int64, since time.Time) (int, error)
	LastSeen(ctx context.Context, userID int64) (time.Time, error)
	LastSummaryAt(ctx context.Context, userID int64) (time.Time, error)
	TouchUser(ctx context.Context, userID int64, username, firstName string, lastMessageID int64, at time.Time) error
	MarkSummarized(ctx context.Context, userID int64, at time.Time) error
}

// Settings holds the digest thresholds.
type Settings struct {
	MessageLimit   int
	TimeWindow     time.Duration
	AllowedChatIDs []int64
}

// Service ties the store and summarizer together.
type Service struct {
	st   Store
	sum  summarize.Summarizer
	opts Settings

	// now is swappable for tests
	now func() time.Time
}

// New creates a digest service.
func New(st Store, sum summarize.Summarizer, opts Settings) *Service {
	return &Service{
		st:   st,
		sum:  sum,
		opts: opts,
		now:  time.Now,
	}
}

// Record persists an incoming message and reports the author's unread
// backlog relative to their previous activity. The backlog is counted
// before last_seen advances, so a user returning after a quiet stretch
// sees everything they missed.
func (s *Service) Record(ctx context.Context, m store.Message) (int, error) {
	if err := s.st.SaveMessage(ctx, m); err != nil {
		return 0, err
	}
	metrics.IncMessageStored(fmt.Sprintf("%d", m.ChatID))

	count, err := s.UnreadCount(ctx, m.UserID)
	if err != nil {
		return 0, err
	}

	if err := s.st.TouchUser(ctx, m.UserID, m.Username, m.FirstName, m.MessageID, m.SentAt); err != nil {
		return 0, err
	}
	return count, nil
}

// UnreadCount returns the user's unread backlog relative to their
// last-seen position, falling back to the look-back window for users
// never seen before.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	since, err := s.sinceFor(ctx, userID)
	if err != nil {
		return 0, err
	}
	count, err := s.st.CountUnreadSince(ctx, userID, s.opts.AllowedChatIDs, since)
	if err != nil {
		return 0, err
	}
	metrics.RecordUnreadBacklog(count)
	return count, nil
}

// OverThreshold reports whether the backlog warrants a summary offer.
func (s *Service) OverThreshold(count int) bool {
	return count > s.opts.MessageLimit
}

// CaughtUpSinceLastSummary reports whether too few messages arrived since
// the user's last summary to justify another one. Users without a prior
// summary are never caught up by this rule.
func (s *Service) CaughtUpSinceLastSummary(ctx context.Context, userID int64) (bool, error) {
	last, err := s.st.LastSummaryAt(ctx, userID)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return false, nil
	}
	count, err := s.st.CountUnreadSince(ctx, userID, s.opts.AllowedChatIDs, last)
	if err != nil {
		return false, err
	}
	return count < s.opts.MessageLimit, nil
}

// Summarize generates a summary of the user's backlog since their last
// summary (or the default window) and records the delivery. Returns
// ErrCaughtUp when the backlog is below the threshold.
func (s *Service) Summarize(ctx context.Context, userID int64) (string, error) {
	jobID := uuid.NewString()
	ctx = log.ContextWithJobID(ctx, jobID)
	logger := log.WithComponentFromContext(ctx, "digest")

	since, err := s.st.LastSummaryAt(ctx, userID)
	if err != nil {
		return "", err
	}
	if since.IsZero() {
		since = s.now().Add(-s.opts.TimeWindow)
	}

	messages, err := s.st.UnreadSince(ctx, userID, s.opts.AllowedChatIDs, since)
	if err != nil {
		return "", err
	}
	if len(messages) < s.opts.MessageLimit {
		metrics.IncSummary("skipped")
		logger.Debug().
			Str("event", "digest.caught_up").
			Int64("user_id", userID).
			Int("backlog", len(messages)).
			Int("threshold", s.opts.MessageLimit).
			Msg("backlog below threshold, not summarizing")
		return "", ErrCaughtUp
	}

	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, m.TranscriptLine())
	}

	logger.Info().
		Str("event", "digest.start").
		Int64("user_id", userID).
		Int("messages", len(lines)).
		Time("since", since).
		Msg("generating summary")

	start := time.Now()
	summary, err := s.sum.Summarize(ctx, lines)
	metrics.ObserveSummaryDuration(time.Since(start).Seconds())
	if err != nil {
		metrics.IncSummary("failure")
		return "", fmt.Errorf("generate summary: %w", err)
	}

	if err := s.st.MarkSummarized(ctx, userID, s.now()); err != nil {
		// The summary exists; losing the bookkeeping must not lose it.
		logger.Error().
			Err(err).
			Str("event", "digest.mark_failed").
			Int64("user_id", userID).
			Msg("failed to record summary delivery")
	}

	metrics.IncSummary("success")
	logger.Info().
		Str("event", "digest.success").
		Int64("user_id", userID).
		Int("messages", len(lines)).
		Msg("summary generated")

	return summary, nil
}

// sinceFor resolves the unread horizon: a stored last_seen is used as-is,
// no matter how old; the look-back window is only the fallback for users
// with no record, mirroring how Summarize treats last_summary_at.
func (s *Service) sinceFor(ctx context.Context, userID int64) (time.Time, error) {
	last, err := s.st.LastSeen(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if last.IsZero() {
		return s.now().Add(-s.opts.TimeWindow), nil
	}
	return last, nil
}
