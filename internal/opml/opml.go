// Package opml handles importing and exporting sources as OPML files.
package opml

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/bryan-buckman/pulse/internal/database"
	"github.com/bryan-buckman/pulse/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (group or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Parse reads an OPML document and returns the feeds it lists as sources.
// A feed nested under a group named after a source kind ("youtube",
// "alert") takes that kind; everything else is rss.
func Parse(r io.Reader) ([]model.Source, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var sources []model.Source
	var walk func(outlines []Outline, kind model.SourceKind)
	walk = func(outlines []Outline, kind model.SourceKind) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				name := o.Title
				if name == "" {
					name = o.Text
				}
				if name == "" {
					name = o.XMLURL
				}
				sources = append(sources, model.Source{Name: name, URL: o.XMLURL, Kind: kind})
			} else if len(o.Outlines) > 0 {
				group := o.Text
				if group == "" {
					group = o.Title
				}
				k, err := model.ParseSourceKind(group)
				if err != nil {
					k = kind
				}
				walk(o.Outlines, k)
			}
		}
	}
	walk(doc.Body.Outlines, model.KindRSS)
	return sources, nil
}

// Export generates an OPML document with one group per source kind.
func Export(title string, sources []model.Source, now time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: now.Format(time.RFC1123Z),
		},
	}

	groups := make(map[model.SourceKind]*Outline)
	for _, s := range sources {
		kind := s.Kind
		if kind == "" {
			kind = model.KindRSS
		}
		g, ok := groups[kind]
		if !ok {
			g = &Outline{Text: string(kind), Title: string(kind)}
			groups[kind] = g
		}
		g.Outlines = append(g.Outlines, Outline{
			Text:   s.Name,
			Title:  s.Name,
			Type:   "rss",
			XMLURL: s.URL,
		})
	}

	kinds := make([]string, 0, len(groups))
	for k := range groups {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		doc.Body.Outlines = append(doc.Body.Outlines, *groups[model.SourceKind(k)])
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}

// SourceCreator stores new sources.
type SourceCreator interface {
	CreateSource(ctx context.Context, name, url string, kind model.SourceKind) (*model.Source, error)
}

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Import parses r and creates every source whose url is not registered yet.
func Import(ctx context.Context, store SourceCreator, r io.Reader) (ImportResult, error) {
	var res ImportResult
	sources, err := Parse(r)
	if err != nil {
		return res, err
	}
	for _, s := range sources {
		if _, err := store.CreateSource(ctx, s.Name, s.URL, s.Kind); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				res.Skipped++
				continue
			}
			return res, fmt.Errorf("import %s: %w", s.URL, err)
		}
		res.Imported++
	}
	return res, nil
}
