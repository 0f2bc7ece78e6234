// Package ingest pulls feed entries, summarizes the new ones and stores
// them as items.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/bryan-buckman/pulse/internal/markup"
	"github.com/bryan-buckman/pulse/internal/model"
	"github.com/bryan-buckman/pulse/internal/summarizer"
)

// DefaultFeedTimeout bounds one feed download.
const DefaultFeedTimeout = 30 * time.Second

// untitled is used when an entry has no title.
const untitled = "Untitled"

// Store is the persistence the ingester needs.
type Store interface {
	ListSources(ctx context.Context) ([]model.Source, error)
	ItemURLs(ctx context.Context, sourceID int64) (map[string]bool, error)
	UpsertItems(ctx context.Context, items []model.Item) (int, error)
}

// ArticleFetcher returns the main text of a web page, or "" on any failure.
type ArticleFetcher interface {
	Fetch(ctx context.Context, url string) string
}

// StoryResolver turns text into an acceptable headline and summary.
type StoryResolver interface {
	Resolve(ctx context.Context, source, alternate, title string) model.Story
}

// Config controls feed downloads.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Result describes one ingestion pass over a source.
type Result struct {
	// Inserted is the number of rows the store wrote.
	Inserted int
	// Processed lists every entry that was new to this pass.
	Processed []model.Item
	// DedupDegraded is set when known urls could not be loaded and every
	// entry was treated as new.
	DedupDegraded bool
	// FeedWarning holds the parser error for a malformed or unreachable feed.
	FeedWarning error
}

// Summary totals an IngestAll pass.
type Summary struct {
	Sources  int
	Inserted int
	Failed   int
}

// Ingester handles feed ingestion, one source and one entry at a time.
type Ingester struct {
	store    Store
	articles ArticleFetcher
	stories  StoryResolver
	parser   *gofeed.Parser
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates an ingester. client may be nil.
func New(cfg Config, store Store, articles ArticleFetcher, stories StoryResolver, client *http.Client, logger zerolog.Logger) *Ingester {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFeedTimeout
	}
	parser := gofeed.NewParser()
	parser.Client = client
	if cfg.UserAgent != "" {
		parser.UserAgent = cfg.UserAgent
	}
	return &Ingester{
		store:    store,
		articles: articles,
		stories:  stories,
		parser:   parser,
		timeout:  cfg.Timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// IngestFeed fetches source's feed and stores every entry whose link has
// not been seen before. Only the final write is fatal.
func (in *Ingester) IngestFeed(ctx context.Context, source model.Source) (Result, error) {
	log := in.logger.With().Str("source", source.URL).Logger()
	var res Result

	known, err := in.store.ItemURLs(ctx, source.ID)
	if err != nil {
		log.Warn().Err(err).Msg("could not load known urls, deduplicating on insert only")
		known = map[string]bool{}
		res.DedupDegraded = true
	}

	entries, err := in.fetchEntries(ctx, source.URL)
	if err != nil {
		log.Warn().Err(err).Msg("ill-formed feed")
		res.FeedWarning = err
	}

	for _, e := range entries {
		if e.Link == "" || known[e.Link] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		known[e.Link] = true
		res.Processed = append(res.Processed, in.buildItem(ctx, source, e))
	}

	if len(res.Processed) == 0 {
		return res, nil
	}
	n, err := in.store.UpsertItems(ctx, res.Processed)
	if err != nil {
		return res, fmt.Errorf("store items for %s: %w", source.URL, err)
	}
	res.Inserted = n
	log.Info().Int("inserted", n).Int("processed", len(res.Processed)).Msg("ingested feed")
	return res, nil
}

// fetchEntries downloads and parses a feed. Entries recovered before a
// parse error are still returned.
func (in *Ingester) fetchEntries(ctx context.Context, feedURL string) ([]model.FeedEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	feed, err := in.parser.ParseURLWithContext(feedURL, ctx)
	if feed == nil {
		if err == nil {
			err = fmt.Errorf("no feed at %s", feedURL)
		}
		return nil, err
	}
	entries := make([]model.FeedEntry, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		entries = append(entries, model.FeedEntry{
			Link:           strings.TrimSpace(it.Link),
			Title:          strings.TrimSpace(it.Title),
			Published:      it.PublishedParsed,
			RawContentHTML: it.Content,
			RawSummaryHTML: it.Description,
		})
	}
	return entries, err
}

func (in *Ingester) buildItem(ctx context.Context, source model.Source, e model.FeedEntry) model.Item {
	published := in.now()
	if e.Published != nil {
		published = *e.Published
	}

	content := markup.Strip(e.RawContentHTML)
	summary := markup.Strip(e.RawSummaryHTML)

	articleText := in.articles.Fetch(ctx, e.Link)
	if articleText == "" {
		articleText = content
	}
	if articleText == "" {
		articleText = summary
	}

	summarySource := firstNonEmpty(articleText, summary, e.Title)
	title := e.Title
	if title == "" {
		title = untitled
	}

	alternate := summarizer.AlternateSource(title, summary, content, articleText)
	story := in.stories.Resolve(ctx, summarySource, alternate, title)

	return model.Item{
		SourceID:  source.ID,
		Title:     markup.Sanitize(story.Headline),
		URL:       markup.Sanitize(e.Link),
		Content:   markup.Sanitize(articleText),
		Summary:   markup.Sanitize(story.Summary),
		Published: model.FormatPublished(published),
	}
}

// IngestAll ingests every source in turn. A failing source is logged and
// skipped.
func (in *Ingester) IngestAll(ctx context.Context) (Summary, error) {
	sources, err := in.store.ListSources(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list sources: %w", err)
	}

	var sum Summary
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			in.logger.Warn().Int("done", i).Int("total", len(sources)).Msg("ingest cancelled")
			return sum, err
		}
		sum.Sources++
		res, err := in.IngestFeed(ctx, src)
		if err != nil {
			sum.Failed++
			in.logger.Error().Err(err).Str("source", src.URL).Msg("ingest failed")
			continue
		}
		sum.Inserted += res.Inserted
	}
	in.logger.Info().Int("sources", sum.Sources).Int("inserted", sum.Inserted).Int("failed", sum.Failed).Msg("ingest pass complete")
	return sum, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
