package summarizer

import "strings"

// Outcome classifies a backend response.
type Outcome int

const (
	Unparseable Outcome = iota
	Parsed
)

func (o Outcome) String() string {
	if o == Parsed {
		return "parsed"
	}
	return "unparseable"
}

// ParseResult is the classified form of a backend response.
type ParseResult struct {
	Outcome  Outcome
	Headline string
	Summary  string
}

// ParseResponse splits a two-line "Headline: / Summary:" response. Lines
// that carry neither prefix are treated as summary continuation. When no
// summary text is found the raw response becomes the summary.
func ParseResponse(raw string) ParseResult {
	if strings.TrimSpace(raw) == "" {
		return ParseResult{Outcome: Unparseable}
	}

	var headline string
	var chunks []string
	for _, line := range strings.Split(raw, "\n") {
		line = cleanLine(line)
		if line == "" {
			continue
		}
		if v, ok := cutPrefixFold(line, "headline:"); ok {
			if v != "" {
				headline = v
			}
			continue
		}
		if v, ok := cutPrefixFold(line, "summary:"); ok {
			if v != "" {
				chunks = append(chunks, v)
			}
			continue
		}
		chunks = append(chunks, line)
	}

	summary := strings.Join(chunks, " ")
	if summary == "" {
		summary = strings.TrimSpace(raw)
	}
	return ParseResult{Outcome: Parsed, Headline: headline, Summary: summary}
}

// listMarkers are stripped from the start of a line only when followed by
// a space, so "-3%" or ">50" survive.
var listMarkers = []string{"- ", "* ", "+ ", "> "}

// cleanLine drops list, quote and heading markers models sometimes add.
func cleanLine(line string) string {
	line = strings.TrimSpace(line)
	for {
		next := trimMarker(line)
		if next == line {
			return line
		}
		line = next
	}
}

func trimMarker(line string) string {
	for _, m := range listMarkers {
		if rest, ok := strings.CutPrefix(line, m); ok {
			return strings.TrimSpace(rest)
		}
	}
	if rest := strings.TrimLeft(line, "#"); rest != line && strings.HasPrefix(rest, " ") {
		return strings.TrimSpace(rest)
	}
	return line
}

// cutPrefixFold matches a label such as "summary:" case-insensitively,
// allowing markdown emphasis around it.
func cutPrefixFold(line, prefix string) (string, bool) {
	s := strings.TrimLeft(line, "*_")
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return strings.Trim(s[len(prefix):], " *_"), true
}
