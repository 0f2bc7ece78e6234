// Package config loads the YAML configuration and applies environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Generation GenerationConfig `yaml:"generation"`
	Extractor  ExtractorConfig  `yaml:"extractor"`
	Feed       FeedConfig       `yaml:"feed"`
	Digest     DigestConfig     `yaml:"digest"`
	Publishers PublishersConfig `yaml:"publishers"`
}

type ServerConfig struct {
	Addr             string   `yaml:"addr"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials *bool    `yaml:"allow_credentials"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type GenerationConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Gemini  BackendConfig `yaml:"gemini"`
	OpenAI  BackendConfig `yaml:"openai"`
}

type BackendConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type ExtractorConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	MaxBytes  int64         `yaml:"max_bytes"`
}

type FeedConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type DigestConfig struct {
	Title      string `yaml:"title"`
	Limit      int    `yaml:"limit"`
	Schedule   string `yaml:"schedule"`
	RunOnStart bool   `yaml:"run_on_start"`
}

type PublishersConfig struct {
	Types    []string       `yaml:"types"`
	Email    EmailConfig    `yaml:"email"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type EmailConfig struct {
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func setDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.AllowCredentials == nil {
		allow := true
		cfg.Server.AllowCredentials = &allow
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "pulse.db"
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 30 * time.Second
	}
	if cfg.Generation.Gemini.Model == "" {
		cfg.Generation.Gemini.Model = "gemini-1.5-flash"
	}
	if cfg.Generation.OpenAI.Model == "" {
		cfg.Generation.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.Extractor.Timeout == 0 {
		cfg.Extractor.Timeout = 10 * time.Second
	}
	if cfg.Extractor.MaxBytes == 0 {
		cfg.Extractor.MaxBytes = 5 << 20
	}
	if cfg.Feed.Timeout == 0 {
		cfg.Feed.Timeout = 30 * time.Second
	}
	if cfg.Digest.Title == "" {
		cfg.Digest.Title = "Pulse Daily"
	}
	if cfg.Digest.Limit == 0 {
		cfg.Digest.Limit = 5
	}
	if cfg.Digest.Schedule == "" {
		cfg.Digest.Schedule = "0 8 * * *"
	}
	if len(cfg.Publishers.Types) == 0 {
		cfg.Publishers.Types = []string{"stdout"}
	}
	if cfg.Publishers.Email.SMTPHost == "" {
		cfg.Publishers.Email.SMTPHost = "smtp.gmail.com"
	}
	if cfg.Publishers.Email.SMTPPort == 0 {
		cfg.Publishers.Email.SMTPPort = 587
	}
}

// applyEnv lets well-known environment variables override file values.
func applyEnv(cfg *Config) error {
	set := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	set("GEMINI_API_KEY", &cfg.Generation.Gemini.APIKey)
	set("OPENAI_API_KEY", &cfg.Generation.OpenAI.APIKey)
	set("SMTP_USER", &cfg.Publishers.Email.Username)
	set("SMTP_PASS", &cfg.Publishers.Email.Password)
	set("EMAIL_FROM", &cfg.Publishers.Email.From)
	set("TELEGRAM_BOT_TOKEN", &cfg.Publishers.Telegram.Token)
	set("LOG_LEVEL", &cfg.Log.Level)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) > 0 {
			cfg.Server.AllowedOrigins = origins
		}
	}
	if v := os.Getenv("ALLOW_CREDENTIALS"); v != "" {
		allow := strings.EqualFold(strings.TrimSpace(v), "true")
		cfg.Server.AllowCredentials = &allow
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Publishers.Telegram.ChatID = id
	}
	return nil
}

func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported database driver %q (supported: sqlite, postgres)", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required for %s", cfg.Database.Driver)
	}
	if cfg.Digest.Limit < 0 {
		return fmt.Errorf("config: digest.limit must be positive, got %d", cfg.Digest.Limit)
	}
	if _, err := cron.ParseStandard(cfg.Digest.Schedule); err != nil {
		return fmt.Errorf("config: invalid digest.schedule %q: %w", cfg.Digest.Schedule, err)
	}
	for _, t := range cfg.Publishers.Types {
		switch t {
		case "stdout", "email", "telegram":
		default:
			return fmt.Errorf("config: unsupported publisher type %q (supported: stdout, email, telegram)", t)
		}
	}
	return nil
}

// Load reads the config file, expands environment variables, applies defaults
// and overrides, and validates the configuration. A missing file is not an
// error: the defaults and environment are used alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	default:
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	setDefaults(&cfg)

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
