package digest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const maxLineBytes = 10 * 1024 * 1024

var cronMarker = regexp.MustCompile(`\[cron:(\S+)\s+(.+?)\]\s*`)

// Message is one conversational record of a session.
type Message struct {
	Time      time.Time
	Role      string
	Text      string
	EventType string
}

// Session is one agent session reconstructed from transcript records.
type Session struct {
	ID       string
	Model    string
	Tools    []string
	Messages []Message
	Start    time.Time
	End      time.Time
	Cron     bool
	CronName string
}

// line covers both transcript shapes: the flat
// {timestamp, role, content, event_type} record and the typed
// {type, timestamp, message: {role, content}} record.
type line struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
	ID        string          `json:"id"`
	ModelID   string          `json:"modelId"`
	Name      string          `json:"name"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	EventType string          `json:"event_type"`
	Message   *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

// ParseSessions reads a JSONL transcript. Lines that are not valid JSON are
// skipped and counted. A "session" record starts a new session once the
// current one has content.
func ParseSessions(r io.Reader) ([]*Session, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		sessions []*Session
		cur      = &Session{}
		bad      int
		lastTime time.Time
	)
	flush := func() {
		if cur.ID != "" || len(cur.Messages) > 0 || !cur.Start.IsZero() {
			sessions = append(sessions, cur)
		}
		cur = &Session{}
	}

	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec line
		if err := json.Unmarshal(raw, &rec); err != nil {
			bad++
			continue
		}

		if rec.Type == "session" && (cur.ID != "" || len(cur.Messages) > 0) {
			flush()
		}

		ts, ok := parseTimestamp(rec.Timestamp)
		if ok {
			if cur.Start.IsZero() {
				cur.Start = ts
			}
			cur.End = ts
			lastTime = ts
		} else {
			ts = lastTime
		}

		switch rec.Type {
		case "session":
			cur.ID = rec.ID
		case "model_change":
			cur.Model = rec.ModelID
		case "tool_use":
			cur.addTool(rec.Name)
		case "message":
			if rec.Message == nil {
				continue
			}
			text, tools := extractContent(rec.Message.Content)
			for _, t := range tools {
				cur.addTool(t)
			}
			cur.addMessage(Message{Time: ts, Role: rec.Message.Role, Text: text, EventType: rec.EventType})
		case "":
			if rec.Role == "" && rec.EventType == "" {
				continue
			}
			text, _ := extractContent(rec.Content)
			cur.addMessage(Message{Time: ts, Role: rec.Role, Text: text, EventType: rec.EventType})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, bad, fmt.Errorf("scan transcript: %w", err)
	}
	flush()
	return sessions, bad, nil
}

func (s *Session) addTool(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	for _, t := range s.Tools {
		if t == name {
			return
		}
	}
	s.Tools = append(s.Tools, name)
}

func (s *Session) addMessage(m Message) {
	if m.Role == "user" {
		if match := cronMarker.FindStringSubmatch(m.Text); match != nil {
			s.Cron = true
			s.CronName = strings.TrimSpace(match[2])
		}
	}
	s.Messages = append(s.Messages, m)
}

// extractContent returns the text of a content field, which is either a
// string or a list of typed blocks, plus any tool names it mentions.
func extractContent(raw json.RawMessage) (string, []string) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", nil
	}
	var (
		texts []string
		tools []string
	)
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if t := strings.TrimSpace(b.Text); t != "" {
				texts = append(texts, t)
			}
		case "tool_use", "toolCall":
			if b.Name != "" {
				tools = append(tools, b.Name)
			}
		}
	}
	return strings.TrimSpace(strings.Join(texts, " ")), tools
}

// parseTimestamp accepts RFC 3339 strings and numeric epoch seconds or
// milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, false
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(n), true
		}
		return time.Time{}, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return fromEpoch(n), true
	}
	return time.Time{}, false
}

func fromEpoch(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}
