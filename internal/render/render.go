// Package render turns a curated digest into HTML and plain-text bodies.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/bryan-buckman/pulse/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var funcs = map[string]any{
	"inc":   func(i int) int { return i + 1 },
	"lines": summaryLines,
}

var (
	htmlTmpl = htmltemplate.Must(htmltemplate.New("digest.html.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/digest.html.tmpl"))
	textTmpl = texttemplate.Must(texttemplate.New("digest.txt.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/digest.txt.tmpl"))
)

// DefaultTitle heads a digest when none is configured.
const DefaultTitle = "Pulse Daily"

type story struct {
	Title   string
	URL     string
	Summary string
}

type page struct {
	Title  string
	Intro  string
	Items  []story
	Trends []string
}

// Render fills d.HTML and d.Text from d's intro, items and trends. Both
// bodies list the items in the same order.
func Render(title string, d *model.Digest) error {
	if title == "" {
		title = DefaultTitle
	}

	p := page{Title: title, Intro: d.Intro, Trends: d.Trends}
	for _, it := range d.Items {
		p.Items = append(p.Items, story{Title: it.Title, URL: it.URL, Summary: it.Summary})
	}

	var buf bytes.Buffer
	if err := htmlTmpl.Execute(&buf, p); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	d.HTML = buf.String()

	buf.Reset()
	if err := textTmpl.Execute(&buf, plain(p)); err != nil {
		return fmt.Errorf("render text: %w", err)
	}
	d.Text = strings.TrimSpace(buf.String()) + "\n"
	return nil
}

// plain decodes HTML entities left in stored fields.
func plain(p page) page {
	out := page{
		Title: html.UnescapeString(p.Title),
		Intro: html.UnescapeString(p.Intro),
	}
	for _, s := range p.Items {
		out.Items = append(out.Items, story{
			Title:   html.UnescapeString(s.Title),
			URL:     s.URL,
			Summary: html.UnescapeString(s.Summary),
		})
	}
	for _, t := range p.Trends {
		out.Trends = append(out.Trends, html.UnescapeString(t))
	}
	return out
}

func summaryLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
