package curate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bryan-buckman/pulse/internal/model"
	"github.com/bryan-buckman/pulse/internal/summarizer"
)

type resolveCall struct {
	source, alternate, title string
}

type fakeResolver struct {
	calls []resolveCall
}

func (f *fakeResolver) Resolve(_ context.Context, source, alternate, title string) model.Story {
	f.calls = append(f.calls, resolveCall{source, alternate, title})
	return model.Story{
		Headline: "Upgraded " + title,
		Summary:  summarizer.FallbackSummary("Upgraded " + title),
	}
}

type fakeUpdater struct {
	updated map[string]string
	err     error
}

func (f *fakeUpdater) UpdateItemStory(_ context.Context, url, title, summary string) error {
	if f.err != nil {
		return f.err
	}
	if f.updated == nil {
		f.updated = map[string]string{}
	}
	f.updated[url] = title
	return nil
}

const goodSummary = "The council approved the new budget on Monday. Why it matters: local taxes will rise next year."

func TestBuildDigestKeepsInformativeSummaries(t *testing.T) {
	t.Parallel()

	items := []model.Item{
		{Title: "Budget Passes", URL: "https://e.com/1", Summary: "<p>" + goodSummary + "</p>"},
		{Title: "Weak One", URL: "https://e.com/2", Content: "Full article text.", Summary: "Read more"},
		{Title: "Empty One", URL: "https://e.com/3"},
		{Title: "Dropped", URL: "https://e.com/4", Summary: goodSummary},
	}
	res := &fakeResolver{}
	up := &fakeUpdater{}
	d, err := New(res, up, "Brief", zerolog.Nop()).BuildDigest(context.Background(), items, 3)
	if err != nil {
		t.Fatalf("BuildDigest: %v", err)
	}

	if len(d.Items) != 3 {
		t.Fatalf("digest has %d items, want 3", len(d.Items))
	}
	if d.Items[0].Title != "Budget Passes" || d.Items[0].Summary != summarizer.Normalize(goodSummary) {
		t.Errorf("informative item changed: %+v", d.Items[0])
	}
	if d.Items[1].Title != "Upgraded Weak One" || d.Items[2].Title != "Upgraded Empty One" {
		t.Errorf("items not upgraded: %q, %q", d.Items[1].Title, d.Items[2].Title)
	}

	if len(res.calls) != 2 {
		t.Fatalf("resolver called %d times, want 2", len(res.calls))
	}
	want := resolveCall{"Full article text.", "Weak One Read more Full article text.", "Weak One"}
	if res.calls[0] != want {
		t.Errorf("first resolve = %+v, want %+v", res.calls[0], want)
	}
	if res.calls[1].source != "Empty One" {
		t.Errorf("title fallback source = %q", res.calls[1].source)
	}

	if len(up.updated) != 2 || up.updated["https://e.com/2"] != "Upgraded Weak One" {
		t.Errorf("updates = %v", up.updated)
	}

	wantTrends := []string{"Budget Passes", "Upgraded Weak One", "Upgraded Empty One"}
	if fmt.Sprint(d.Trends) != fmt.Sprint(wantTrends) {
		t.Errorf("trends = %v, want %v", d.Trends, wantTrends)
	}
	if d.Intro != Intro || strings.Count(d.HTML, `<div class="story">`) != 3 || !strings.Contains(d.Text, "Upgraded Weak One") {
		t.Errorf("digest not rendered:\n%s", d.Text)
	}
	for _, it := range d.Items {
		if !summarizer.IsInformative(it.Summary) {
			t.Errorf("summary for %s not informative: %q", it.URL, it.Summary)
		}
	}
}

func TestBuildDigestUpdateFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	items := []model.Item{{Title: "Only", URL: "https://e.com/1"}}
	d, err := New(&fakeResolver{}, &fakeUpdater{err: errors.New("locked")}, "", zerolog.Nop()).
		BuildDigest(context.Background(), items, 5)
	if err != nil {
		t.Fatalf("BuildDigest: %v", err)
	}
	if len(d.Items) != 1 || d.Items[0].Title != "Upgraded Only" {
		t.Errorf("items = %+v", d.Items)
	}
	if len(d.Trends) != 1 {
		t.Errorf("trends = %v", d.Trends)
	}
}

func TestBuildDigestEmpty(t *testing.T) {
	t.Parallel()

	d, err := New(&fakeResolver{}, &fakeUpdater{}, "", zerolog.Nop()).BuildDigest(context.Background(), nil, 5)
	if err != nil {
		t.Fatalf("BuildDigest: %v", err)
	}
	if len(d.Items) != 0 || len(d.Trends) != 0 || !strings.Contains(d.HTML, `class="empty"`) {
		t.Errorf("digest = %+v", d)
	}
}
