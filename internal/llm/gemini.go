package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiConfig configures the primary backend.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Gemini generates text through the Gemini API.
type Gemini struct {
	cfg    GeminiConfig
	client *genai.Client
}

var _ Generator = (*Gemini)(nil)

// NewGemini builds the client eagerly when a key is present. Without a key
// every Generate call fails with ErrMissingCredential.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	g := &Gemini{cfg: cfg}
	if cfg.APIKey == "" {
		return g, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	g.client = client
	return g, nil
}

// Name identifies the backend in logs.
func (g *Gemini) Name() string { return "gemini" }

// Generate sends prompt as a single user turn.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("gemini: %w", ErrMissingCredential)
	}
	ctx, cancel := withTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](temperature),
		MaxOutputTokens: maxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}
	return text, nil
}
