package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const maxToolsPerSession = 10

// Stats summarises a digest for its header.
type Stats struct {
	Chat     int
	Cron     int
	Messages int
	Tools    []string
	Skipped  int
	BadLines int
}

// Render builds the digest document of one date. sessions must already be
// filtered. Times are shown in loc.
func Render(date string, sessions []*Session, stats Stats, loc *time.Location) []byte {
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session Digest: %s\n\n", date)
	if len(sessions) == 0 {
		b.WriteString("No activity.\n")
		return []byte(b.String())
	}

	sorted := append([]*Session(nil), sessions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	noun := "sessions"
	if len(sorted) == 1 {
		noun = "session"
	}
	fmt.Fprintf(&b, "%d %s\n\n", len(sorted), noun)

	b.WriteString("## Stats\n")
	fmt.Fprintf(&b, "- Chat: %d | Cron: %d\n", stats.Chat, stats.Cron)
	fmt.Fprintf(&b, "- Messages: %d\n", stats.Messages)
	if len(stats.Tools) > 0 {
		fmt.Fprintf(&b, "- Tools: %s\n", strings.Join(stats.Tools, ", "))
	}
	if stats.Skipped > 0 {
		fmt.Fprintf(&b, "- Skipped records: %d\n", stats.Skipped)
	}
	if stats.BadLines > 0 {
		fmt.Fprintf(&b, "- Unreadable lines: %d\n", stats.BadLines)
	}
	b.WriteString("\n## Sessions\n\n")

	for _, s := range sorted {
		renderSession(&b, s, loc)
		b.WriteString("---\n\n")
	}
	return []byte(strings.TrimRight(b.String(), "\n") + "\n")
}

func renderSession(b *strings.Builder, s *Session, loc *time.Location) {
	kind, title := "Chat", "Session"
	if s.Cron {
		kind = "Cron"
		if s.CronName != "" {
			title = s.CronName
		}
	}
	fmt.Fprintf(b, "### %s %s: %s\n", clock(s.Start, loc), kind, title)
	if s.Model != "" {
		fmt.Fprintf(b, "- **Model**: %s\n", s.Model)
	}
	if len(s.Tools) > 0 {
		tools := s.Tools
		if len(tools) > maxToolsPerSession {
			tools = tools[:maxToolsPerSession]
		}
		fmt.Fprintf(b, "- **Tools**: %s\n", strings.Join(tools, ", "))
	}
	b.WriteByte('\n')

	msgs := append([]Message(nil), s.Messages...)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Time.Before(msgs[j].Time)
	})
	for _, m := range msgs {
		fmt.Fprintf(b, "- %s **%s**: %s\n", clock(m.Time, loc), roleLabel(m.Role), m.Text)
	}
	b.WriteByte('\n')
}

// BuildStats counts what the filtered sessions contain.
func BuildStats(sessions []*Session, skipped, badLines int) Stats {
	st := Stats{Skipped: skipped, BadLines: badLines}
	tools := make(map[string]struct{})
	for _, s := range sessions {
		if s.Cron {
			st.Cron++
		} else {
			st.Chat++
		}
		st.Messages += len(s.Messages)
		for _, t := range s.Tools {
			tools[t] = struct{}{}
		}
	}
	for t := range tools {
		st.Tools = append(st.Tools, t)
	}
	sort.Strings(st.Tools)
	return st
}

func clock(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "??:??"
	}
	return t.In(loc).Format("15:04")
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "User"
	case "assistant":
		return "Assistant"
	case "system":
		return "System"
	case "":
		return "Unknown"
	}
	return cases.Title(language.English).String(role)
}
