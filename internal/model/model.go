// Package model defines shared data structures.
package model

import (
	"fmt"
	"time"
)

// SourceKind is the kind of upstream a source points at.
type SourceKind string

const (
	KindRSS     SourceKind = "rss"
	KindYouTube SourceKind = "youtube"
	KindAlert   SourceKind = "alert"
)

// ParseSourceKind validates a kind string.
func ParseSourceKind(s string) (SourceKind, error) {
	switch k := SourceKind(s); k {
	case KindRSS, KindYouTube, KindAlert:
		return k, nil
	}
	return "", fmt.Errorf("unknown source kind %q (want rss, youtube or alert)", s)
}

// Source represents a feed subscription. URL is its identity.
type Source struct {
	ID   int64      `json:"id"`
	Name string     `json:"name"`
	URL  string     `json:"url"`
	Kind SourceKind `json:"type"`
}

// FeedEntry is one entry parsed from a feed document. It only lives for
// a single ingestion pass.
type FeedEntry struct {
	Link           string
	Title          string
	Published      *time.Time
	RawContentHTML string
	RawSummaryHTML string
}

// Item represents a persisted article. URL is unique across all items.
type Item struct {
	ID        int64  `json:"id,omitempty"`
	SourceID  int64  `json:"source_id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Content   string `json:"content"`
	Summary   string `json:"summary"`
	Published string `json:"published"`
}

// Story is a generated headline and summary for one text input.
type Story struct {
	Headline string
	Summary  string
}

// Digest is the rendered output of one generation cycle.
type Digest struct {
	Intro  string
	Items  []Item
	Trends []string
	HTML   string
	Text   string
}

// Feedback is an editorial thumbs up/down on an item.
type Feedback struct {
	ID     int64          `json:"id,omitempty"`
	ItemID int64          `json:"item_id"`
	Thumbs string         `json:"thumbs"`
	Diff   map[string]any `json:"diff_json,omitempty"`
}

// Run records one digest send attempt.
type Run struct {
	ID      string    `json:"id"`
	RunDate time.Time `json:"run_date"`
	Status  string    `json:"status"`
	Subject string    `json:"subject"`
}

// Run statuses.
const (
	RunSent   = "sent"
	RunFailed = "failed"
)

// PublishedLayout is the timezone-naive ISO-8601 layout used for Item.Published.
const PublishedLayout = "2006-01-02T15:04:05"

// FormatPublished renders t as a timezone-naive ISO-8601 string in UTC.
func FormatPublished(t time.Time) string {
	return t.UTC().Format(PublishedLayout)
}
