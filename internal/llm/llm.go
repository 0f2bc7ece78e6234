// Package llm provides the text-generation backends used for summaries.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrMissingCredential is returned by a backend that has no API key.
var ErrMissingCredential = errors.New("llm: missing credential")

// ErrEmptyResponse is returned when a backend answers with no text.
var ErrEmptyResponse = errors.New("llm: empty response")

// DefaultTimeout bounds a single generation request.
const DefaultTimeout = 30 * time.Second

// Generator is a text-completion service.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Sampling parameters shared by both backends.
const (
	maxOutputTokens = 250
	temperature     = 0.3
)

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
