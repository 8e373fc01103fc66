package memory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/ws", "")

	assert.Equal(t, filepath.Join("/ws", "memory", "2026-10-14.md"), l.DailyFile("2026-10-14"))
	assert.Equal(t, filepath.Join("/ws", "memory", "sessions-digest", "2026-10-14.md"), l.DigestFile("2026-10-14"))
	assert.Equal(t, filepath.Join("/ws", "neurons", "work", "2026-10-14.md"), l.NeuronFile("work", "2026-10-14"))
	assert.Equal(t, filepath.Join("/ws", "neurons", SkillsIndexName), l.SkillsIndex())
	assert.Equal(t, filepath.Join("/ws", "memory", "monthly-summary", "2026-09.md"), l.MonthlyFile("", "2026-09"))
	assert.Equal(t, filepath.Join("/ws", "memory", "monthly-summary", "work", "2026-09.md"), l.MonthlyFile("work", "2026-09"))
	assert.Equal(t, filepath.Join("/ws", "memory", "monthly-summary", ".2026-09.complete.json"), l.MarkerFile("2026-09"))
	assert.Equal(t, filepath.Join("/ws", "memory", "archive"), l.ArchiveDir)
}

func TestLayoutArchivePath(t *testing.T) {
	l := NewLayout("/ws", "/cold")

	dst, err := l.ArchivePath("/ws/neurons/work/2026-01-02.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/cold", "neurons", "work", "2026-01-02.md"), dst)

	_, err = l.ArchivePath("/elsewhere/2026-01-02.md")
	assert.Error(t, err)
	_, err = l.ArchivePath("/ws")
	assert.Error(t, err)
}

func TestDateHelpers(t *testing.T) {
	d, err := ParseDate("2026-03-31")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01", FormatDate(PreviousMonth(d)))
	assert.Equal(t, "2026-03-01", FormatDate(MonthStart(d)))

	jan, err := ParseDate("2026-01-15")
	require.NoError(t, err)
	assert.Equal(t, "2025-12-01", FormatDate(PreviousMonth(jan)))

	_, err = ParseDate("2026-02-30")
	assert.Error(t, err)
	_, err = ParseMonth("2026-9")
	assert.Error(t, err)

	m, err := ParseMonth("2026-09")
	require.NoError(t, err)
	assert.Equal(t, "2026-09-01", FormatDate(m))
}

func TestCalendarDate(t *testing.T) {
	taipei, err := time.LoadLocation("Asia/Taipei")
	require.NoError(t, err)

	// 20:30 UTC is already the next day in Taipei
	ts := time.Date(2026, 10, 14, 20, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-10-15", FormatDate(CalendarDate(ts, taipei)))
	assert.Equal(t, "2026-10-14", FormatDate(CalendarDate(ts, time.UTC)))
}

func TestDateFromName(t *testing.T) {
	d, ok := DateFromName("2026-10-14.md")
	require.True(t, ok)
	assert.Equal(t, "2026-10-14", FormatDate(d))

	for _, name := range []string{"2026-10-14.txt", "MEMORY.md", "x2026-10-14.md", "2026-02-31.md"} {
		_, ok := DateFromName(name)
		assert.False(t, ok, name)
	}
}
