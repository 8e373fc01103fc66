package memory

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"

	SkillsIndexName = "skills-tools.md"
)

var datedFilePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\.md$`)

// Layout maps the workspace onto the files each stage reads and writes:
//
//	memory/{date}.md                         daily memory (agent-owned)
//	memory/sessions-digest/{date}.md         session digests
//	neurons/{folder}/{date}.md               per-category neuron files
//	neurons/skills-tools.md                  cumulative procedural index
//	memory/monthly-summary/{month}.md        month overview
//	memory/monthly-summary/{folder}/{month}.md
//	memory/monthly-summary/.{month}.complete.json
//	{archive}/{path relative to workspace}
type Layout struct {
	Workspace  string
	ArchiveDir string
}

func NewLayout(workspace, archiveDir string) Layout {
	workspace = filepath.Clean(workspace)
	if strings.TrimSpace(archiveDir) == "" {
		archiveDir = filepath.Join(workspace, "memory", "archive")
	}
	return Layout{Workspace: workspace, ArchiveDir: filepath.Clean(archiveDir)}
}

func (l Layout) MemoryDir() string {
	return filepath.Join(l.Workspace, "memory")
}

func (l Layout) DailyFile(date string) string {
	return filepath.Join(l.MemoryDir(), date+".md")
}

func (l Layout) DigestDir() string {
	return filepath.Join(l.MemoryDir(), "sessions-digest")
}

func (l Layout) DigestFile(date string) string {
	return filepath.Join(l.DigestDir(), date+".md")
}

func (l Layout) NeuronsDir() string {
	return filepath.Join(l.Workspace, "neurons")
}

func (l Layout) NeuronDir(folder string) string {
	return filepath.Join(l.NeuronsDir(), folder)
}

func (l Layout) NeuronFile(folder, date string) string {
	return filepath.Join(l.NeuronDir(folder), date+".md")
}

func (l Layout) SkillsIndex() string {
	return filepath.Join(l.NeuronsDir(), SkillsIndexName)
}

func (l Layout) MonthlyDir() string {
	return filepath.Join(l.MemoryDir(), "monthly-summary")
}

// MonthlyFile is the category summary for month, or the month overview
// when folder is empty.
func (l Layout) MonthlyFile(folder, month string) string {
	if folder == "" {
		return filepath.Join(l.MonthlyDir(), month+".md")
	}
	return filepath.Join(l.MonthlyDir(), folder, month+".md")
}

func (l Layout) MarkerFile(month string) string {
	return filepath.Join(l.MonthlyDir(), "."+month+".complete.json")
}

// ArchivePath returns where path goes when archived. path must live inside
// the workspace.
func (l Layout) ArchivePath(path string) (string, error) {
	rel, err := filepath.Rel(l.Workspace, filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("archive path for %s: %w", path, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive path for %s: outside workspace %s", path, l.Workspace)
	}
	return filepath.Join(l.ArchiveDir, rel), nil
}

// ParseDate parses a YYYY-MM-DD calendar date. The result is midnight UTC so
// that day arithmetic never crosses a DST edge.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

// ParseMonth parses YYYY-MM into the first day of that month.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse(MonthLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q (want YYYY-MM)", s)
	}
	return t, nil
}

// CalendarDate returns the calendar day of t in loc as midnight UTC.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PreviousMonth returns the first day of the month before t's month.
func PreviousMonth(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, -1, 0)
}

// DateFromName extracts the date of a YYYY-MM-DD.md file name.
func DateFromName(name string) (time.Time, bool) {
	m := datedFilePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
