// Package curate selects stored items for a digest and makes sure every
// one of them carries an acceptable summary.
package curate

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/bryan-buckman/pulse/internal/model"
	"github.com/bryan-buckman/pulse/internal/render"
	"github.com/bryan-buckman/pulse/internal/summarizer"
)

// Intro opens every digest.
const Intro = "Here are the most relevant stories and trends curated for you today."

// trendCount is how many headlines are repeated as trends.
const trendCount = 3

// StoryResolver turns text into an acceptable headline and summary.
type StoryResolver interface {
	Resolve(ctx context.Context, source, alternate, title string) model.Story
}

// Updater persists upgraded stories.
type Updater interface {
	UpdateItemStory(ctx context.Context, url, title, summary string) error
}

// Curator builds digests from stored items.
type Curator struct {
	stories StoryResolver
	store   Updater
	title   string
	logger  zerolog.Logger
}

// New creates a Curator. title heads rendered digests.
func New(stories StoryResolver, store Updater, title string, logger zerolog.Logger) *Curator {
	return &Curator{stories: stories, store: store, title: title, logger: logger}
}

// BuildDigest curates up to limit items, which must be ordered newest
// first, and renders them.
func (c *Curator) BuildDigest(ctx context.Context, items []model.Item, limit int) (*model.Digest, error) {
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	curated := make([]model.Item, 0, len(items))
	for _, it := range items {
		curated = append(curated, c.curate(ctx, it))
	}

	d := &model.Digest{
		Intro:  Intro,
		Items:  curated,
		Trends: trends(curated),
	}
	if err := render.Render(c.title, d); err != nil {
		return nil, err
	}
	return d, nil
}

// curate keeps an informative stored summary, otherwise resolves a new
// story and writes it back.
func (c *Curator) curate(ctx context.Context, it model.Item) model.Item {
	if it.Summary != "" {
		if s := summarizer.Normalize(it.Summary); summarizer.IsInformative(s) {
			it.Summary = s
			return it
		}
	}

	source := firstNonEmpty(it.Content, it.Summary, it.Title)
	alternate := summarizer.AlternateSource(it.Title, it.Summary, it.Content)
	story := c.stories.Resolve(ctx, source, alternate, it.Title)
	it.Title = story.Headline
	it.Summary = story.Summary

	if err := c.store.UpdateItemStory(ctx, it.URL, it.Title, it.Summary); err != nil {
		c.logger.Warn().Err(err).Str("url", it.URL).Msg("could not persist upgraded story")
	}
	return it
}

func trends(items []model.Item) []string {
	n := min(trendCount, len(items))
	out := make([]string, 0, n)
	for _, it := range items[:n] {
		out = append(out, it.Title)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
