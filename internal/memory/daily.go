package memory

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoInput is returned when the input file for a date does not exist.
// Stages treat it as a skipped date rather than a failure.
var ErrNoInput = errors.New("no input for date")

type EntryKind int

const (
	KindBullet EntryKind = iota
	KindHeading
	KindParagraph
)

// Entry is one paragraph, bullet or section heading of a daily memory file.
type Entry struct {
	Date  string
	Order int
	Kind  EntryKind
	// Raw is the entry as written, continuation lines included.
	Raw string
	// Text is Raw without markdown markers, folded onto one line.
	Text string
}

var (
	headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	bulletPattern  = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])(?:\s+(.*))?$`)
	rulePattern    = regexp.MustCompile(`^\s*(?:(?:-\s*){3,}|(?:\*\s*){3,}|(?:_\s*){3,})$`)
)

// ParseDailyEntries splits a daily memory document into entries in file
// order. The document title (a level-1 heading), blank lines and horizontal
// rules are not entries; fenced code blocks stay inside a single paragraph.
func ParseDailyEntries(date, content string) []Entry {
	var (
		entries []Entry
		kind    EntryKind
		open    bool
		raw     []string
		text    []string
		inFence bool
	)

	flush := func() {
		if !open {
			return
		}
		t := strings.TrimSpace(strings.Join(text, " "))
		if t != "" {
			entries = append(entries, Entry{
				Date:  date,
				Order: len(entries),
				Kind:  kind,
				Raw:   strings.Join(raw, "\n"),
				Text:  t,
			})
		}
		open = false
		raw, text = nil, nil
	}
	start := func(k EntryKind, rawLine, textPart string) {
		flush()
		open = true
		kind = k
		raw = []string{rawLine}
		text = []string{textPart}
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, " \t\r")
		trimmed := strings.TrimSpace(line)

		if inFence {
			raw = append(raw, line)
			if strings.HasPrefix(trimmed, "```") {
				inFence = false
				flush()
			} else if trimmed != "" {
				text = append(text, trimmed)
			}
			continue
		}

		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "```"):
			if open && kind == KindParagraph {
				raw = append(raw, line)
			} else {
				start(KindParagraph, line, "")
			}
			inFence = true
		case headingPattern.MatchString(trimmed):
			flush()
			m := headingPattern.FindStringSubmatch(trimmed)
			if len(m[1]) == 1 {
				continue
			}
			start(KindHeading, trimmed, strings.TrimSpace(strings.TrimRight(m[2], "#")))
			flush()
		case rulePattern.MatchString(line):
			flush()
		case bulletPattern.MatchString(line):
			m := bulletPattern.FindStringSubmatch(line)
			if strings.TrimSpace(m[1]) == "" {
				flush()
				continue
			}
			start(KindBullet, trimmed, strings.TrimSpace(m[1]))
		case open && kind == KindBullet && line != trimmed:
			raw = append(raw, line)
			text = append(text, trimmed)
		case open && kind == KindParagraph:
			raw = append(raw, line)
			text = append(text, trimmed)
		default:
			start(KindParagraph, line, trimmed)
		}
	}
	flush()

	return entries
}
