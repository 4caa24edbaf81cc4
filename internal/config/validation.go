package config

import (
	"github.com/commit365/chatzipper/internal/validate"
)

// Validate validates an AppConfig using the centralized validation package.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.Required("TelegramToken", cfg.TelegramToken)
	v.Required("OpenAIAPIKey", cfg.OpenAIAPIKey)
	v.Required("OpenAIModel", cfg.OpenAIModel)
	v.Required("DBPath", cfg.DBPath)

	v.Positive("MessageLimit", cfg.MessageLimit)
	v.Positive("TimeWindowHours", cfg.TimeWindowHours)
	// Telegram caps getUpdates timeout at 50 seconds
	v.Range("PollTimeout", cfg.PollTimeout, 1, 50)

	if cfg.SummaryRPS <= 0 {
		v.AddError("SummaryRPS", "must be positive", cfg.SummaryRPS)
	}
	v.Positive("SummaryBurst", cfg.SummaryBurst)

	if cfg.NoticeTTL <= 0 {
		v.AddError("NoticeTTL", "must be positive", cfg.NoticeTTL.String())
	}
	if cfg.Retention <= 0 {
		v.AddError("Retention", "must be positive", cfg.Retention.String())
	}
	if cfg.SweepInterval <= 0 {
		v.AddError("SweepInterval", "must be positive", cfg.SweepInterval.String())
	}

	v.ListenAddr("ListenAddr", cfg.ListenAddr)

	for _, id := range cfg.AllowedChatIDs {
		if id == 0 {
			v.AddError("AllowedChatIDs", "chat id cannot be zero", id)
		}
	}

	return v.Err()
}
