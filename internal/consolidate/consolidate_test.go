package consolidate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/stellarlinkco/clawbrain/internal/classify"
	"github.com/stellarlinkco/clawbrain/internal/config"
	"github.com/stellarlinkco/clawbrain/internal/memory"
)

const dailyDoc = `# 2026-10-14

## Morning
- I feel great about the new project deploy
- lunch was fine
- learned how to write a bash script for backups

Long paragraph about the project
that spans two lines.
`

func testRules(t *testing.T) *classify.Rules {
	t.Helper()
	rules, err := classify.NewRules(&config.CategoryConfig{
		Categories: map[string]config.Category{
			"emotions": {DisplayName: "Emotions", Patterns: []string{"feel", "mood"}},
			"work":     {DisplayName: "Work", Patterns: []string{"project", "deploy"}},
		},
		SkillPatterns: []string{"how to", "script"},
	})
	require.NoError(t, err)
	return rules
}

type ConsolidateSuite struct {
	suite.Suite
	workspace string
	store     *memory.FileStore
	date      time.Time
}

func TestConsolidateSuite(t *testing.T) {
	suite.Run(t, new(ConsolidateSuite))
}

func (s *ConsolidateSuite) SetupTest() {
	s.workspace = s.T().TempDir()
	s.store = memory.NewFileStore(memory.NewLayout(s.workspace, ""))
	s.date = time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	path := filepath.Join(s.workspace, "memory", "2026-10-14.md")
	s.Require().NoError(os.MkdirAll(filepath.Dir(path), 0755))
	s.Require().NoError(os.WriteFile(path, []byte(dailyDoc), 0644))
}

func (s *ConsolidateSuite) read(rel string) string {
	data, err := os.ReadFile(filepath.Join(s.workspace, rel))
	s.Require().NoError(err)
	return string(data)
}

func (s *ConsolidateSuite) TestWritesOneFilePerCategory() {
	c := New(s.store, testRules(s.T()), Options{})
	report := c.Run(context.Background(), s.date)

	s.False(report.Failed())
	s.Equal([]string{"2026-10-14"}, report.Consolidated)
	s.Len(report.Written, 3)

	s.Equal("# 2026-10-14 Work\n"+
		"\n"+
		"- I feel great about the new project deploy\n"+
		"\n"+
		"Long paragraph about the project\nthat spans two lines.\n",
		s.read("neurons/work/2026-10-14.md"))

	s.Equal("# 2026-10-14 Emotions\n\n- I feel great about the new project deploy\n",
		s.read("neurons/emotions/2026-10-14.md"))

	s.Equal("# 2026-10-14 Misc\n"+
		"\n"+
		"## Morning\n"+
		"\n"+
		"- lunch was fine\n"+
		"- learned how to write a bash script for backups\n",
		s.read("neurons/misc/2026-10-14.md"))

	s.Equal("# Skills & Tools\n\n- [2026-10-14] learned how to write a bash script for backups\n",
		s.read("neurons/skills-tools.md"))
}

func (s *ConsolidateSuite) TestRerunIsByteIdentical() {
	c := New(s.store, testRules(s.T()), Options{AnnotateSignals: true})
	first := c.Run(context.Background(), s.date)
	s.Require().False(first.Failed())

	snapshot := map[string]string{}
	for _, rel := range []string{
		"neurons/work/2026-10-14.md",
		"neurons/emotions/2026-10-14.md",
		"neurons/misc/2026-10-14.md",
		"neurons/skills-tools.md",
	} {
		snapshot[rel] = s.read(rel)
	}

	second := c.Run(context.Background(), s.date)
	s.Require().False(second.Failed())
	s.Equal(0, second.SkillsAdded)
	for rel, want := range snapshot {
		s.Equal(want, s.read(rel), rel)
	}
}

func (s *ConsolidateSuite) writeDaily(content string) {
	path := filepath.Join(s.workspace, "memory", "2026-10-14.md")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0644))
}

func (s *ConsolidateSuite) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(s.workspace, rel))
	return err == nil
}

func (s *ConsolidateSuite) TestRerunAfterEditDropsStaleCategories() {
	c := New(s.store, testRules(s.T()), Options{})
	s.writeDaily("- I feel great\n")
	first := c.Run(context.Background(), s.date)
	s.Require().False(first.Failed())
	s.True(s.exists("neurons/emotions/2026-10-14.md"))

	s.writeDaily("- lunch was fine\n")
	second := c.Run(context.Background(), s.date)
	s.Require().False(second.Failed(), "%v", second.Errors)

	s.False(s.exists("neurons/emotions/2026-10-14.md"))
	s.Equal([]string{"emotions/2026-10-14"}, second.Removed)
	s.Equal("# 2026-10-14 Misc\n\n- lunch was fine\n", s.read("neurons/misc/2026-10-14.md"))

	// same result as a single run over the edited file
	third := c.Run(context.Background(), s.date)
	s.Empty(third.Removed)
	s.False(s.exists("neurons/emotions/2026-10-14.md"))
	s.False(s.exists("neurons/work/2026-10-14.md"))
}

func (s *ConsolidateSuite) TestEmptiedDailyRemovesAllNeurons() {
	c := New(s.store, testRules(s.T()), Options{})
	c.Run(context.Background(), s.date)
	s.Require().True(s.exists("neurons/work/2026-10-14.md"))

	s.writeDaily("# 2026-10-14\n")
	report := c.Run(context.Background(), s.date)

	s.False(report.Failed())
	s.Len(report.Removed, 3)
	for _, folder := range []string{"work", "emotions", "misc"} {
		s.False(s.exists("neurons/"+folder+"/2026-10-14.md"), folder)
	}
	// the cumulative skills index is not rolled back
	s.True(s.exists("neurons/skills-tools.md"))
}

func (s *ConsolidateSuite) TestAnnotations() {
	c := New(s.store, testRules(s.T()), Options{AnnotateSignals: true})
	c.Run(context.Background(), s.date)

	s.Contains(s.read("neurons/work/2026-10-14.md"), "<!-- patterns: project, deploy -->")
	s.Contains(s.read("neurons/misc/2026-10-14.md"), "<!-- fallback -->")
}

func (s *ConsolidateSuite) TestMissingDailyIsSkipped() {
	c := New(s.store, testRules(s.T()), Options{})
	report := c.Run(context.Background(), s.date.AddDate(0, 0, 1), s.date)

	s.False(report.Failed())
	s.Equal([]string{"2026-10-15"}, report.Skipped)
	s.Equal([]string{"2026-10-14"}, report.Consolidated)
}

func (s *ConsolidateSuite) TestSkillsMergeKeepsExistingLines() {
	existing := "# Skills & Tools\n\nhand notes\n- [2026-10-01] learned how to write a bash script for backups\n"
	_, err := s.store.WriteSkillsIndex([]byte(existing))
	s.Require().NoError(err)

	c := New(s.store, testRules(s.T()), Options{})
	report := c.Run(context.Background(), s.date)
	s.Equal(0, report.SkillsAdded)
	s.Equal(existing, s.read("neurons/skills-tools.md"))
}

type failingStore struct {
	entries []memory.Entry
	written map[string][]byte
	failOn  string
}

func (f *failingStore) ReadDailyEntries(date string) ([]memory.Entry, error) {
	return f.entries, nil
}

func (f *failingStore) WriteNeuronFile(folder, date string, data []byte) (string, error) {
	if folder == f.failOn {
		return "", errors.New("disk full")
	}
	f.written[folder] = data
	return folder + "/" + date + ".md", nil
}

func (f *failingStore) RemoveNeuronFile(folder, date string) (bool, error) {
	_, ok := f.written[folder]
	delete(f.written, folder)
	return ok, nil
}

func (f *failingStore) ReadSkillsIndex() ([]byte, error) { return nil, nil }

func (f *failingStore) WriteSkillsIndex(data []byte) (string, error) {
	f.written["skills"] = data
	return "skills", nil
}

func TestWriteFailureContinuesWithOtherCategories(t *testing.T) {
	store := &failingStore{
		entries: memory.ParseDailyEntries("2026-10-14", dailyDoc),
		written: map[string][]byte{},
		failOn:  "emotions",
	}
	c := New(store, testRules(t), Options{})
	report := c.Run(context.Background(), time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC))

	require.True(t, report.Failed())
	assert.Len(t, report.Errors, 1)
	assert.Contains(t, store.written, "work")
	assert.Contains(t, store.written, "misc")
	assert.Contains(t, store.written, "skills")
}

func TestRender_MixedKinds(t *testing.T) {
	cat := classify.Category{Key: "work", DisplayName: "Work"}
	entries := []classify.NeuronEntry{
		{Entry: memory.Entry{Kind: memory.KindBullet, Raw: "- a"}},
		{Entry: memory.Entry{Kind: memory.KindBullet, Raw: "- b"}},
		{Entry: memory.Entry{Kind: memory.KindParagraph, Raw: "para"}},
		{Entry: memory.Entry{Kind: memory.KindBullet, Raw: "- c"}},
	}
	got := string(Render("2026-10-14", cat, entries, false))
	assert.Equal(t, "# 2026-10-14 Work\n\n- a\n- b\n\npara\n\n- c\n", got)
}
