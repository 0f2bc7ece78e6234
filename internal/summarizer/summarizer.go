// Package summarizer turns article text into a headline and a short
// editorial summary, falling back through backends and templates until an
// acceptable story exists.
package summarizer

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bryan-buckman/pulse/internal/llm"
	"github.com/bryan-buckman/pulse/internal/markup"
	"github.com/bryan-buckman/pulse/internal/model"
)

const (
	// truncateRunes is how much cleaned text becomes the summary when
	// every backend fails.
	truncateRunes = 500
	// maxPromptRunes bounds the article text sent to a backend.
	maxPromptRunes = 12000
)

const promptTemplate = `You are a news editor. Write a short news brief for the article below.
Answer with exactly two lines and nothing else:
Headline: <at most 12 words, title case>
Summary: <two sentences; the final sentence must begin with "Why it matters:">
Do not use markup, bullets or extra commentary.

Article:
`

type attempt struct {
	name string
	run  func(ctx context.Context, prompt string) (string, error)
}

// Engine summarizes text by trying each backend in order.
type Engine struct {
	attempts []attempt
	logger   zerolog.Logger
}

// New creates an Engine. Backends are tried in the order given; nil
// entries are skipped.
func New(logger zerolog.Logger, backends ...llm.Generator) *Engine {
	e := &Engine{logger: logger}
	for _, b := range backends {
		if b == nil {
			continue
		}
		e.attempts = append(e.attempts, attempt{name: b.Name(), run: b.Generate})
	}
	return e
}

// Prompt returns the instruction sent to backends for text.
func Prompt(text string) string {
	return promptTemplate + truncate(text, maxPromptRunes)
}

// Summarize produces a story for text. It never fails: when no backend
// yields a usable answer the headline is fallbackTitle and the summary is
// the leading part of the cleaned text.
func (e *Engine) Summarize(ctx context.Context, text, fallbackTitle string) model.Story {
	cleaned := markup.Strip(text)
	if cleaned == "" {
		cleaned = strings.TrimSpace(text)
	}
	if cleaned == "" {
		cleaned = strings.TrimSpace(fallbackTitle)
	}

	prompt := Prompt(cleaned)
	for _, a := range e.attempts {
		raw, err := a.run(ctx, prompt)
		if err != nil {
			ev := e.logger.Warn()
			if errors.Is(err, llm.ErrMissingCredential) {
				ev = e.logger.Debug()
			}
			ev.Err(err).Str("backend", a.name).Msg("generation attempt failed")
			continue
		}
		res := ParseResponse(raw)
		if res.Outcome == Unparseable {
			e.logger.Warn().Str("backend", a.name).Msg("unparseable generation response")
			continue
		}
		headline := res.Headline
		if headline == "" {
			headline = fallbackTitle
		}
		return model.Story{Headline: headline, Summary: Normalize(res.Summary)}
	}

	return model.Story{Headline: fallbackTitle, Summary: Normalize(truncate(cleaned, truncateRunes))}
}

// Resolve returns an informative story for an item: the primary source is
// summarized first, then the alternate text, and finally a templated
// summary built from the headline is used.
func (e *Engine) Resolve(ctx context.Context, source, alternate, title string) model.Story {
	story := e.Summarize(ctx, source, title)
	if !IsInformative(story.Summary) && strings.TrimSpace(alternate) != "" {
		alt := e.Summarize(ctx, alternate, title)
		if IsInformative(alt.Summary) {
			story = alt
		}
	}
	if !IsInformative(story.Summary) {
		e.logger.Debug().Str("title", title).Msg("using fallback summary")
		story.Summary = FallbackSummary(story.Headline)
	}
	story.Summary = Normalize(story.Summary)
	return story
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
