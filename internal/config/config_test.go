package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	return path
}

// clearEnv blanks the override variables so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"GEMINI_API_KEY", "OPENAI_API_KEY", "DATABASE_URL", "SMTP_USER", "SMTP_PASS",
		"EMAIL_FROM", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "LOG_LEVEL",
		"ALLOWED_ORIGINS", "ALLOW_CREDENTIALS",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("PULSE_TEST_DSN", "/tmp/from-env.db")
	path := writeConfig(t, `
server:
  addr: ":9090"
database:
  driver: sqlite
  dsn: ${PULSE_TEST_DSN}
extractor:
  timeout: 5s
digest:
  title: Morning Brief
  limit: 3
  schedule: "30 6 * * 1-5"
publishers:
  types: [stdout, email]
  email:
    from: news@example.com
    to: [a@example.com]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Expected addr ':9090', got '%s'", cfg.Server.Addr)
	}
	if cfg.Database.DSN != "/tmp/from-env.db" {
		t.Errorf("Expected env-expanded dsn, got '%s'", cfg.Database.DSN)
	}
	if cfg.Extractor.Timeout != 5*time.Second {
		t.Errorf("Expected extractor timeout 5s, got %v", cfg.Extractor.Timeout)
	}
	if cfg.Digest.Title != "Morning Brief" || cfg.Digest.Limit != 3 {
		t.Errorf("Unexpected digest config: %+v", cfg.Digest)
	}
	if len(cfg.Publishers.Types) != 2 || cfg.Publishers.Email.To[0] != "a@example.com" {
		t.Errorf("Unexpected publishers config: %+v", cfg.Publishers)
	}
	// Defaults fill the rest.
	if cfg.Feed.Timeout != 30*time.Second || cfg.Generation.Timeout != 30*time.Second {
		t.Errorf("Expected default timeouts, got feed=%v generation=%v", cfg.Feed.Timeout, cfg.Generation.Timeout)
	}
	if cfg.Publishers.Email.SMTPPort != 587 || cfg.Generation.Gemini.Model != "gemini-1.5-flash" {
		t.Errorf("Expected defaults, got port=%d model=%s", cfg.Publishers.Email.SMTPPort, cfg.Generation.Gemini.Model)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "pulse.db" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Digest.Limit != 5 || cfg.Digest.Schedule != "0 8 * * *" {
		t.Errorf("digest = %+v", cfg.Digest)
	}
	if len(cfg.Publishers.Types) != 1 || cfg.Publishers.Types[0] != "stdout" {
		t.Errorf("publishers = %v", cfg.Publishers.Types)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" || !*cfg.Server.AllowCredentials {
		t.Errorf("server = %+v", cfg.Server)
	}
}

func TestCORSSettings(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  allowed_origins: [https://file.example]
  allow_credentials: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://file.example" || *cfg.Server.AllowCredentials {
		t.Errorf("server from file = %+v", cfg.Server)
	}

	t.Setenv("ALLOWED_ORIGINS", " http://localhost:5173 , https://app.example ,")
	t.Setenv("ALLOW_CREDENTIALS", "TRUE")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"http://localhost:5173", "https://app.example"}
	if strings.Join(cfg.Server.AllowedOrigins, ",") != strings.Join(want, ",") || !*cfg.Server.AllowCredentials {
		t.Errorf("server from env = %+v", cfg.Server)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("OPENAI_API_KEY", "oai-key")
	t.Setenv("SMTP_USER", "smtp-user")
	t.Setenv("SMTP_PASS", "smtp-pass")
	t.Setenv("EMAIL_FROM", "from@example.com")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/pulse?sslmode=disable")
	t.Setenv("LOG_LEVEL", "debug")

	path := writeConfig(t, `
generation:
  gemini:
    api_key: file-key
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generation.Gemini.APIKey != "gem-key" || cfg.Generation.OpenAI.APIKey != "oai-key" {
		t.Errorf("generation keys = %q/%q", cfg.Generation.Gemini.APIKey, cfg.Generation.OpenAI.APIKey)
	}
	e := cfg.Publishers.Email
	if e.Username != "smtp-user" || e.Password != "smtp-pass" || e.From != "from@example.com" {
		t.Errorf("email = %+v", e)
	}
	if cfg.Publishers.Telegram.Token != "123:abc" || cfg.Publishers.Telegram.ChatID != -100200 {
		t.Errorf("telegram = %+v", cfg.Publishers.Telegram)
	}
	if cfg.Database.Driver != "postgres" || !strings.HasPrefix(cfg.Database.DSN, "postgres://") {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadInvalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"driver", "database:\n  driver: oracle\n", "unsupported database driver"},
		{"publisher", "publishers:\n  types: [fax]\n", "unsupported publisher type"},
		{"schedule", "digest:\n  schedule: \"every day\"\n", "invalid digest.schedule"},
		{"limit", "digest:\n  limit: -1\n", "digest.limit"},
		{"yaml", "server: [unclosed\n", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadInvalidChatID(t *testing.T) {
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for non-numeric chat id")
	}
}
