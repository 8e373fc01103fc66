package skills

import (
	"regexp"
	"strings"
)

// IndexTitle heads a freshly created skills index.
const IndexTitle = "# Skills & Tools"

var indexLinePattern = regexp.MustCompile(`^[-*]\s+(?:\[(\d{4}-\d{2}-\d{2})\]\s+)?(.+)$`)

// Line is one line of the index. Lines that are not list items (titles,
// notes, blank lines) are kept verbatim and carry no Text.
type Line struct {
	Raw  string
	Date string
	Text string
}

// Index is the cumulative procedural-memory document. It only ever grows:
// existing lines, hand-written ones included, are never reordered or dropped.
type Index struct {
	lines []Line
	seen  map[string]struct{}
}

// ParseIndex reads an existing index. Empty input yields a new index with
// just the title.
func ParseIndex(data []byte) *Index {
	idx := &Index{seen: make(map[string]struct{})}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	if strings.TrimSpace(text) == "" {
		idx.lines = []Line{{Raw: IndexTitle}, {Raw: ""}}
		return idx
	}

	for _, raw := range strings.Split(text, "\n") {
		line := Line{Raw: raw}
		if m := indexLinePattern.FindStringSubmatch(strings.TrimSpace(raw)); m != nil {
			line.Date = m[1]
			line.Text = strings.TrimSpace(m[2])
			idx.seen[line.Text] = struct{}{}
		}
		idx.lines = append(idx.lines, line)
	}
	return idx
}

// Contains reports whether text already has a line in the index.
func (idx *Index) Contains(text string) bool {
	_, ok := idx.seen[strings.TrimSpace(text)]
	return ok
}

// Add appends "- [date] text" unless the same text is already indexed.
// It reports whether the index changed.
func (idx *Index) Add(date, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || idx.Contains(text) {
		return false
	}
	idx.seen[text] = struct{}{}
	idx.lines = append(idx.lines, Line{
		Raw:  "- [" + date + "] " + text,
		Date: date,
		Text: text,
	})
	return true
}

// Entries returns the list items of the index in document order.
func (idx *Index) Entries() []Line {
	var out []Line
	for _, l := range idx.lines {
		if l.Text != "" {
			out = append(out, l)
		}
	}
	return out
}

func (idx *Index) Render() []byte {
	var b strings.Builder
	for _, l := range idx.lines {
		b.WriteString(l.Raw)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
