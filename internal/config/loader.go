package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath: configPath,
		version:    version,
	}
}

// FileConfig mirrors the optional YAML configuration file. All fields are
// pointers so absence can be distinguished from zero values during merge.
type FileConfig struct {
	Telegram struct {
		Token          *string `yaml:"token"`
		AllowedChatIDs []int64 `yaml:"allowedChatIds"`
		PollTimeout    *int    `yaml:"pollTimeout"`
	} `yaml:"telegram"`
	OpenAI struct {
		APIKey       *string  `yaml:"apiKey"`
		Model        *string  `yaml:"model"`
		SummaryRPS   *float64 `yaml:"summaryRps"`
		SummaryBurst *int     `yaml:"summaryBurst"`
	} `yaml:"openai"`
	Digest struct {
		MessageLimit    *int    `yaml:"messageLimit"`
		TimeWindowHours *int    `yaml:"timeWindowHours"`
		NoticeTTL       *string `yaml:"noticeTtl"`
		Retention       *string `yaml:"retention"`
		SweepInterval   *string `yaml:"sweepInterval"`
	} `yaml:"digest"`
	Store struct {
		Path *string `yaml:"path"`
	} `yaml:"store"`
	Ops struct {
		ListenAddr     *string `yaml:"listenAddr"`
		MetricsEnabled *bool   `yaml:"metricsEnabled"`
	} `yaml:"ops"`
	Log struct {
		Level   *string `yaml:"level"`
		Service *string `yaml:"service"`
	} `yaml:"log"`
}

// Load resolves the configuration: defaults, then file, then environment,
// then validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	if err := mergeEnvConfig(&cfg); err != nil {
		return cfg, err
	}

	cfg.Version = l.version

	if abs, err := filepath.Abs(cfg.DBPath); err == nil {
		cfg.DBPath = abs
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile loads configuration from a YAML file with STRICT parsing.
// Unknown fields cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Reject unknown fields

	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	// Strict: no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

func mergeFileConfig(cfg *AppConfig, f *FileConfig) error {
	setString(&cfg.TelegramToken, f.Telegram.Token)
	if len(f.Telegram.AllowedChatIDs) > 0 {
		cfg.AllowedChatIDs = append([]int64(nil), f.Telegram.AllowedChatIDs...)
	}
	setInt(&cfg.PollTimeout, f.Telegram.PollTimeout)

	setString(&cfg.OpenAIAPIKey, f.OpenAI.APIKey)
	setString(&cfg.OpenAIModel, f.OpenAI.Model)
	if f.OpenAI.SummaryRPS != nil {
		cfg.SummaryRPS = *f.OpenAI.SummaryRPS
	}
	setInt(&cfg.SummaryBurst, f.OpenAI.SummaryBurst)

	setInt(&cfg.MessageLimit, f.Digest.MessageLimit)
	setInt(&cfg.TimeWindowHours, f.Digest.TimeWindowHours)
	if err := setDuration(&cfg.NoticeTTL, f.Digest.NoticeTTL); err != nil {
		return fmt.Errorf("digest.noticeTtl: %w", err)
	}
	if err := setDuration(&cfg.Retention, f.Digest.Retention); err != nil {
		return fmt.Errorf("digest.retention: %w", err)
	}
	if err := setDuration(&cfg.SweepInterval, f.Digest.SweepInterval); err != nil {
		return fmt.Errorf("digest.sweepInterval: %w", err)
	}

	setString(&cfg.DBPath, f.Store.Path)

	setString(&cfg.ListenAddr, f.Ops.ListenAddr)
	if f.Ops.MetricsEnabled != nil {
		cfg.MetricsEnabled = *f.Ops.MetricsEnabled
	}

	setString(&cfg.LogLevel, f.Log.Level)
	setString(&cfg.LogService, f.Log.Service)
	return nil
}

// mergeEnvConfig applies environment variables on top of the config.
// Environment is the highest-priority source.
func mergeEnvConfig(cfg *AppConfig) error {
	cfg.TelegramToken = ParseString("TELEGRAM_BOT_TOKEN", cfg.TelegramToken)
	cfg.OpenAIAPIKey = ParseString("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.MessageLimit = ParseInt("MESSAGE_LIMIT", cfg.MessageLimit)
	cfg.TimeWindowHours = ParseInt("TIME_WINDOW_HOURS", cfg.TimeWindowHours)

	ids, err := ParseInt64CSV("ALLOWED_CHAT_IDS")
	if err != nil {
		return fmt.Errorf("ALLOWED_CHAT_IDS: %w", err)
	}
	if ids != nil {
		cfg.AllowedChatIDs = ids
	}

	cfg.PollTimeout = ParseInt("CZ_POLL_TIMEOUT", cfg.PollTimeout)
	cfg.OpenAIModel = ParseString("CZ_OPENAI_MODEL", cfg.OpenAIModel)
	cfg.SummaryRPS = ParseFloat("CZ_SUMMARY_RPS", cfg.SummaryRPS)
	cfg.SummaryBurst = ParseInt("CZ_SUMMARY_BURST", cfg.SummaryBurst)
	cfg.NoticeTTL = ParseDuration("CZ_NOTICE_TTL", cfg.NoticeTTL)
	cfg.Retention = ParseDuration("CZ_RETENTION", cfg.Retention)
	cfg.SweepInterval = ParseDuration("CZ_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.DBPath = ParseString("CZ_DB_PATH", cfg.DBPath)
	cfg.ListenAddr = ParseString("CZ_LISTEN", cfg.ListenAddr)
	cfg.MetricsEnabled = ParseBool("CZ_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = ParseString("LOG_SERVICE", cfg.LogService)
	return nil
}

func setString(dst *string, src *string) {
	if src != nil && strings.TrimSpace(*src) != "" {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) error {
	if src == nil || strings.TrimSpace(*src) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*src))
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
