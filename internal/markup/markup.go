// Package markup turns HTML fragments and documents into clean prose.
package markup

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// NoiseTags are removed before any text is collected.
var NoiseTags = []string{
	"script", "style", "noscript", "svg", "path",
	"picture", "source", "iframe", "form",
}

// maxStripPasses bounds the fixed-point loop in Strip.
const maxStripPasses = 8

// Strip converts s into plain text: noise tags are dropped, text nodes are
// joined with single spaces and entities are decoded. Decoding can expose
// new markup (&lt;b&gt; becomes <b>), so passes repeat until the output no
// longer changes. Empty input yields "".
func Strip(s string) string {
	out := stripOnce(s)
	for i := 1; i < maxStripPasses; i++ {
		next := stripOnce(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func stripOnce(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return Collapse(s)
	}
	RemoveNoise(doc.Selection)
	return Text(doc.Selection)
}

// RemoveNoise deletes the base noise tags plus any extra selectors from sel.
func RemoveNoise(sel *goquery.Selection, extra ...string) {
	tags := append(append([]string{}, NoiseTags...), extra...)
	sel.Find(strings.Join(tags, ",")).Remove()
}

// Text returns the collapsed text of every text node under sel, with a
// space between adjacent nodes.
func Text(sel *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		if n.Type == html.CommentNode {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return Collapse(strings.Join(parts, " "))
}

// Collapse folds every run of whitespace into one space and trims the ends.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Sanitize removes characters the persistence layer rejects: NUL and other
// control characters (tab, newline and carriage return are kept) and
// invalid UTF-8 sequences.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\r':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
