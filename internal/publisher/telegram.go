package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bryan-buckman/pulse/internal/model"
)

// DefaultTelegramTimeout bounds each Bot API request.
const DefaultTelegramTimeout = 30 * time.Second

// telegramLimit is the longest message the Bot API accepts, in runes.
const telegramLimit = 4096

// TelegramConfig holds bot settings. Endpoint defaults to the public Bot API.
type TelegramConfig struct {
	Token    string
	ChatID   int64
	Endpoint string
}

// TelegramPublisher posts the plain-text digest to a chat.
type TelegramPublisher struct {
	cfg    TelegramConfig
	client *http.Client

	mu  sync.Mutex
	api *tgbotapi.BotAPI
}

// NewTelegramPublisher creates a publisher. The bot is authorized on the
// first Publish.
func NewTelegramPublisher(cfg TelegramConfig, client *http.Client) *TelegramPublisher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTelegramTimeout}
	}
	return &TelegramPublisher{cfg: cfg, client: client}
}

func (p *TelegramPublisher) Name() string { return "telegram" }

func (p *TelegramPublisher) bot() (*tgbotapi.BotAPI, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.api != nil {
		return p.api, nil
	}
	if p.cfg.Token == "" || p.cfg.ChatID == 0 {
		return nil, errors.New("telegram: bot token and chat id are required")
	}
	api, err := tgbotapi.NewBotAPIWithClient(p.cfg.Token, p.cfg.Endpoint, p.client)
	if err != nil {
		return nil, fmt.Errorf("telegram: authorize bot: %w", err)
	}
	p.api = api
	return api, nil
}

func (p *TelegramPublisher) Publish(ctx context.Context, subject string, digest *model.Digest) error {
	api, err := p.bot()
	if err != nil {
		return err
	}
	text := subject + "\n\n" + strings.TrimSpace(digest.Text)
	for i, chunk := range splitMessage(text, telegramLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(p.cfg.ChatID, chunk)
		msg.DisableWebPagePreview = true
		if _, err := api.Send(msg); err != nil {
			return fmt.Errorf("telegram: send part %d: %w", i+1, err)
		}
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// line boundaries.
func splitMessage(text string, limit int) []string {
	var chunks []string
	var cur []rune
	flush := func() {
		if s := strings.TrimRight(string(cur), "\n"); s != "" {
			chunks = append(chunks, s)
		}
		cur = cur[:0]
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		r := []rune(line)
		if len(cur)+len(r) > limit {
			flush()
		}
		for len(r) > limit {
			chunks = append(chunks, string(r[:limit]))
			r = r[limit:]
		}
		cur = append(cur, r...)
	}
	flush()
	return chunks
}
