package digest

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

var noiseEvents = map[string]struct{}{
	"heartbeat": {},
	"ping":      {},
	"pong":      {},
	"keepalive": {},
}

var silentReplies = map[string]struct{}{
	"HEARTBEAT_OK": {},
	"NO_REPLY":     {},
}

// Filter drops noise from sessions and returns the sessions that still have
// something to say, plus the number of records removed. Sessions are not
// modified.
func Filter(sessions []*Session, maxChars int) ([]*Session, int) {
	var (
		kept    []*Session
		dropped int
	)
	for _, s := range sessions {
		if isIdleHeartbeat(s) {
			dropped += len(s.Messages)
			continue
		}

		out := *s
		out.Messages = nil
		var prev *Message
		for _, m := range s.Messages {
			if isNoise(m) {
				dropped++
				continue
			}
			text := cronMarker.ReplaceAllString(m.Text, "")
			text = strings.Join(strings.Fields(text), " ")
			if text == "" {
				dropped++
				continue
			}
			if prev != nil && prev.Role == m.Role && prev.Text == text {
				dropped++
				continue
			}
			m.Text = text
			out.Messages = append(out.Messages, m)
			prev = &out.Messages[len(out.Messages)-1]
		}
		if len(out.Messages) == 0 {
			continue
		}
		for i := range out.Messages {
			out.Messages[i].Text = truncate(out.Messages[i].Text, maxChars)
		}
		kept = append(kept, &out)
	}
	return kept, dropped
}

func isNoise(m Message) bool {
	if _, ok := noiseEvents[strings.ToLower(strings.TrimSpace(m.EventType))]; ok {
		return true
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return true
	}
	if m.Role == "assistant" {
		if _, ok := silentReplies[text]; ok {
			return true
		}
		if strings.HasPrefix(text, "<") {
			return true
		}
	}
	return false
}

// isIdleHeartbeat reports a heartbeat cron session in which the assistant
// never said anything of substance.
func isIdleHeartbeat(s *Session) bool {
	if !s.Cron || !strings.Contains(cases.Fold().String(s.CronName), "heartbeat") {
		return false
	}
	for _, m := range s.Messages {
		if m.Role == "assistant" && !isNoise(m) {
			return false
		}
	}
	return true
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars]) + "…"
}
