package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"github.com/commit365/chatzipper/internal/bot"
	"github.com/commit365/chatzipper/internal/config"
	"github.com/commit365/chatzipper/internal/daemon"
	"github.com/commit365/chatzipper/internal/digest"
	"github.com/commit365/chatzipper/internal/health"
	czlog "github.com/commit365/chatzipper/internal/log"
	"github.com/commit365/chatzipper/internal/ops"
	"github.com/commit365/chatzipper/internal/store"
	"github.com/commit365/chatzipper/internal/summarize"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	envPath := flag.String("env", "", "path to .env file (default: ./.env if present)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Load .env before anything reads the environment
	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load env file %s: %v\n", *envPath, err)
			os.Exit(1)
		}
	} else {
		// Best effort; a missing ./.env is fine
		_ = godotenv.Load()
	}

	// Safe defaults until config is loaded
	czlog.Configure(czlog.Config{
		Level:   "info",
		Service: "chatzipper",
		Version: version,
	})

	logger := czlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*configPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	// Re-configure logger with the effective level
	czlog.Reconfigure(czlog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: version,
	})

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("starting chatzipper")

	logger.Info().Msgf("→ Model: %s", cfg.OpenAIModel)
	logger.Info().Msgf("→ Unread threshold: %d messages", cfg.MessageLimit)
	logger.Info().Msgf("→ Time window: %s", cfg.TimeWindow())
	logger.Info().Msgf("→ Database: %s", cfg.DBPath)
	logger.Info().Msgf("→ Ops listen: %s", cfg.ListenAddr)
	if len(cfg.AllowedChatIDs) == 0 {
		logger.Warn().Msg("→ ALLOWED_CHAT_IDS is empty: the bot will not serve any group chat")
	} else {
		logger.Info().Msgf("→ Allowed chats: %d configured", len(cfg.AllowedChatIDs))
	}

	st, err := store.Open(cfg.DBPath, store.DefaultConfig())
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Str("path", cfg.DBPath).
			Msg("failed to open database")
	}

	summarizer := summarize.New(cfg.OpenAIAPIKey, summarize.Options{
		Model: cfg.OpenAIModel,
		RPS:   cfg.SummaryRPS,
		Burst: cfg.SummaryBurst,
	})

	svc := digest.New(st, summarizer, digest.Settings{
		MessageLimit:   cfg.MessageLimit,
		TimeWindow:     cfg.TimeWindow(),
		AllowedChatIDs: cfg.AllowedChatIDs,
	})

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telegram.connect_failed").
			Msg("failed to connect to Telegram")
	}
	logger.Info().Msgf("→ Telegram: authorized as @%s", api.Self.UserName)

	b := bot.New(api, svc, bot.Options{
		Username:       api.Self.UserName,
		AllowedChatIDs: cfg.AllowedChatIDs,
		MessageLimit:   cfg.MessageLimit,
		NoticeTTL:      cfg.NoticeTTL,
		PollTimeout:    cfg.PollTimeout,
	})

	hm := health.NewManager(version)
	hm.RegisterChecker(health.NewPingChecker("sqlite", st.Ping))
	hm.RegisterChecker(health.NewUpdateAgeChecker(b.LastUpdateAt, 2*time.Duration(cfg.PollTimeout)*time.Second+time.Minute))

	opsServer := ops.New(version, hm, b, st, cfg.MetricsEnabled)

	serverCfg := config.ParseServerConfig()
	serverCfg.ListenAddr = cfg.ListenAddr

	mgr, err := daemon.NewManager(serverCfg, daemon.Deps{
		Logger:     logger,
		OpsHandler: opsServer.Handler(),
		Bot:        b,
		Sweeper:    daemon.NewSweeper(st, cfg.Retention, cfg.SweepInterval),
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.creation.failed").
			Msg("failed to create daemon manager")
	}

	mgr.RegisterShutdownHook("store", func(context.Context) error {
		return st.Close()
	})

	if err := mgr.Start(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.failed").
			Msg("daemon failed")
	}

	logger.Info().Msg("server exiting")
}
