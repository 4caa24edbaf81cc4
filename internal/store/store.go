// Package store provides SQLite persistence for messages and per-user
// read state.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// Config defines standard SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the recommended connection pool configuration.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 10,
	}
}

// Message is one stored group-chat message.
type Message struct {
	MessageID int64
	ChatID    int64
	UserID    int64
	Username  string
	FirstName string
	Text      string
	SentAt    time.Time
}

// TranscriptLine renders the message the way it is fed to the summarizer:
// "[timestamp] name: text" with first name preferred over username.
func (m Message) TranscriptLine() string {
	name := m.FirstName
	if name == "" {
		name = m.Username
	}
	return fmt.Sprintf("[%s] %s: %s", m.SentAt.UTC().Format(time.RFC3339), name, m.Text)
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite connection pool with mandatory PRAGMAs and
// creates the schema. WAL mode and busy_timeout apply to every pooled
// connection via the DSN.
func Open(dbPath string, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id         INTEGER PRIMARY KEY,
	username        TEXT NOT NULL DEFAULT '',
	first_name      TEXT NOT NULL DEFAULT '',
	last_seen       TIMESTAMP,
	last_message_id INTEGER,
	last_summary_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS messages (
	message_id INTEGER NOT NULL,
	chat_id    INTEGER NOT NULL,
	user_id    INTEGER NOT NULL,
	username   TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL,
	sent_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (chat_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_sent_at ON messages(sent_at);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: init schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMessage inserts a message. Replays of the same (chat, message) pair
// are ignored; Telegram may redeliver updates after a restart.
func (s *Store) SaveMessage(ctx context.Context, m Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (message_id, chat_id, user_id, username, first_name, text, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.ChatID, m.UserID, m.Username, m.FirstName, m.Text, m.SentAt.UTC())
	if err != nil {
		return fmt.Errorf("sqlite: save message: %w", err)
	}
	return nil
}

// UnreadSince returns messages newer than since, in the given chats,
// oldest first. Messages authored by userID are excluded: a user's own
// messages are never unread for them.
func (s *Store) UnreadSince(ctx context.Context, userID int64, chatIDs []int64, since time.Time) ([]Message, error) {
	if len(chatIDs) == 0 {
		return nil, nil
	}

	query, args := unreadQuery("message_id, chat_id, user_id, username, first_name, text, sent_at", userID, chatIDs, since)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: unread query: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.MessageID, &m.ChatID, &m.UserID, &m.Username, &m.FirstName, &m.Text, &m.SentAt); err != nil {
			return nil, fmt.Errorf("sqlite: unread scan: %w", err)
		}
		m.SentAt = m.SentAt.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: unread rows: %w", err)
	}
	return out, nil
}

// CountUnreadSince counts messages newer than since in the given chats,
// excluding the user's own.
func (s *Store) CountUnreadSince(ctx context.Context, userID int64, chatIDs []int64, since time.Time) (int, error) {
	if len(chatIDs) == 0 {
		return 0, nil
	}

	query, args := unreadQuery("COUNT(*)", userID, chatIDs, since)
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: unread count: %w", err)
	}
	return n, nil
}

func unreadQuery(columns string, userID int64, chatIDs []int64, since time.Time) (string, []any) {
	args := make([]any, 0, len(chatIDs)+2)
	args = append(args, since.UTC(), userID)
	placeholders := ""
	for i, id := range chatIDs {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE sent_at > ? AND user_id != ? AND chat_id IN (%s)
		ORDER BY sent_at ASC, message_id ASC`, columns, placeholders)
	return query, args
}

// LastSeen returns the user's last-seen timestamp, or the zero time when
// the user is unknown. The caller applies the default look-back window.
func (s *Store) LastSeen(ctx context.Context, userID int64) (time.Time, error) {
	var ts sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT last_seen FROM users WHERE user_id = ?`, userID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: last seen: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time.UTC(), nil
}

// LastSummaryAt returns when the user last received a summary, or the
// zero time when they never have.
func (s *Store) LastSummaryAt(ctx context.Context, userID int64) (time.Time, error) {
	var ts sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT last_summary_at FROM users WHERE user_id = ?`, userID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: last summary: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time.UTC(), nil
}

// TouchUser upserts the user row with fresh activity. Name fields are
// refreshed on every touch so renames propagate; the summary timestamp
// is preserved.
func (s *Store) TouchUser(ctx context.Context, userID int64, username, firstName string, lastMessageID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, username, first_name, last_seen, last_message_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_seen = excluded.last_seen,
			last_message_id = excluded.last_message_id`,
		userID, username, firstName, at.UTC(), lastMessageID)
	if err != nil {
		return fmt.Errorf("sqlite: touch user: %w", err)
	}
	return nil
}

// MarkSummarized records that the user received a summary at the given
// time, also advancing last_seen so the summarized backlog is not offered
// again.
func (s *Store) MarkSummarized(ctx context.Context, userID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, last_seen, last_summary_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			last_seen = excluded.last_seen,
			last_summary_at = excluded.last_summary_at`,
		userID, at.UTC(), at.UTC())
	if err != nil {
		return fmt.Errorf("sqlite: mark summarized: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes messages sent before the cutoff and reports how
// many rows were removed.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE sent_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge rows affected: %w", err)
	}
	return n, nil
}

// MessageCount returns the total number of stored messages, for the
// status endpoint.
func (s *Store) MessageCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: message count: %w", err)
	}
	return n, nil
}
