// Package config provides configuration management for chatzipper.
//
// Configuration is resolved with precedence ENV > file > defaults. The
// environment key names for the core bot settings (TELEGRAM_BOT_TOKEN,
// OPENAI_API_KEY, MESSAGE_LIMIT, TIME_WINDOW_HOURS, ALLOWED_CHAT_IDS)
// are stable and documented in the README; operational knobs use the
// CZ_ prefix.
package config

import (
	"time"
)

// AppConfig is the fully resolved runtime configuration.
type AppConfig struct {
	// Telegram
	TelegramToken  string
	AllowedChatIDs []int64
	PollTimeout    int // long-poll timeout in seconds

	// OpenAI
	OpenAIAPIKey string
	OpenAIModel  string
	// SummaryRPS bounds summary generation requests per second upstream.
	SummaryRPS   float64
	SummaryBurst int

	// Digest behavior
	MessageLimit    int           // unread threshold before a summary is offered
	TimeWindowHours int           // default look-back window for unknown users
	NoticeTTL       time.Duration // self-destruct delay for group notices
	Retention       time.Duration // stored message retention
	SweepInterval   time.Duration // how often the retention sweeper runs

	// Storage
	DBPath string

	// Ops HTTP surface
	ListenAddr     string
	MetricsEnabled bool

	// Logging
	LogLevel   string
	LogService string

	// Version is stamped from the binary, never from config input.
	Version string
}

// TimeWindow returns the default look-back window as a duration.
func (c AppConfig) TimeWindow() time.Duration {
	return time.Duration(c.TimeWindowHours) * time.Hour
}

// ChatAllowed reports whether the given chat is in the allow list.
// An empty allow list permits nothing; the bot refuses to serve
// unconfigured group chats.
func (c AppConfig) ChatAllowed(chatID int64) bool {
	for _, id := range c.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

func defaults() AppConfig {
	return AppConfig{
		PollTimeout:     30,
		OpenAIModel:     "gpt-3.5-turbo",
		SummaryRPS:      0.5,
		SummaryBurst:    2,
		MessageLimit:    75,
		TimeWindowHours: 24,
		NoticeTTL:       10 * time.Second,
		Retention:       7 * 24 * time.Hour,
		SweepInterval:   time.Hour,
		DBPath:          "chatzipper.db",
		ListenAddr:      ":8080",
		MetricsEnabled:  true,
		LogLevel:        "info",
		LogService:      "chatzipper",
	}
}

// ServerConfig holds HTTP server tuning for the ops listener.
type ServerConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxHeaderBytes  int
}

// ParseServerConfig resolves the ops HTTP server tuning from the environment.
func ParseServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      ParseString("CZ_LISTEN", ":8080"),
		ReadTimeout:     ParseDuration("CZ_HTTP_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    ParseDuration("CZ_HTTP_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     ParseDuration("CZ_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: ParseDuration("CZ_SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxHeaderBytes:  ParseInt("CZ_HTTP_MAX_HEADER_BYTES", 1<<20),
	}
}
