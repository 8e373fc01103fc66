package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/clawbrain/internal/config"
	"github.com/stellarlinkco/clawbrain/internal/memory"
)

func exampleRules(t *testing.T) *Rules {
	t.Helper()
	r, err := NewRules(&config.CategoryConfig{
		Categories: map[string]config.Category{
			"emotions": {DisplayName: "Emotions", Patterns: []string{"feel", "mood"}, Indicators: []string{"great"}},
			"work":     {DisplayName: "Work", Patterns: []string{"project", "deploy"}, Indicators: []string{"deadline"}},
		},
		SkillPatterns: []string{"how to", "script"},
	})
	require.NoError(t, err)
	return r
}

func categoriesOf(matches []Match) []string {
	var out []string
	for _, m := range matches {
		out = append(out, m.Category)
	}
	return out
}

func TestClassify_MultiLabelAndFallback(t *testing.T) {
	r := exampleRules(t)

	matches := r.Classify("I feel great about the new project deploy")
	assert.Equal(t, []string{"emotions", "work"}, categoriesOf(matches))
	assert.Equal(t, []string{"feel"}, matches[0].Patterns)
	assert.Equal(t, []string{"great"}, matches[0].Indicators)
	assert.Equal(t, 3, matches[0].Score)
	assert.Equal(t, []string{"project", "deploy"}, matches[1].Patterns)
	assert.Equal(t, 4, matches[1].Score)

	fallback := r.Classify("lunch was fine")
	require.Len(t, fallback, 1)
	assert.Equal(t, "misc", fallback[0].Category)
	assert.True(t, fallback[0].Fallback)
}

func TestClassify_IndicatorsNeverMatchAlone(t *testing.T) {
	r := exampleRules(t)

	matches := r.Classify("the deadline is great")
	assert.Equal(t, []string{"misc"}, categoriesOf(matches))
	assert.Empty(t, matches[0].Patterns)
}

func TestClassify_CaseInsensitive(t *testing.T) {
	r := exampleRules(t)

	cases := []struct {
		text string
		want []string
	}{
		{"DEPLOY went out", []string{"work"}},
		{"Bad Mood today", []string{"emotions"}},
		{"Feeling off", []string{"emotions"}},
		{"", []string{"misc"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, categoriesOf(r.Classify(tc.text)), tc.text)
	}
}

func TestClassify_ConfiguredFallback(t *testing.T) {
	r, err := NewRules(&config.CategoryConfig{
		DefaultCategory: "inbox",
		Categories: map[string]config.Category{
			"work": {Patterns: []string{"project"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"inbox"}, categoriesOf(r.Classify("nothing relevant")))
	fb := r.Fallback()
	assert.Equal(t, "inbox", fb.Key)
	assert.Equal(t, "Inbox", fb.DisplayName)
	assert.Equal(t, "inbox", fb.Folder)

	_, ok := r.Category("inbox")
	assert.True(t, ok)
}

func TestNewRules_Rejects(t *testing.T) {
	_, err := NewRules(nil)
	assert.True(t, errors.Is(err, config.ErrConfig))

	_, err = NewRules(&config.CategoryConfig{
		Categories: map[string]config.Category{"work": {Patterns: []string{"  ", ""}}},
	})
	assert.True(t, errors.Is(err, config.ErrConfig))
}

func TestClassifyAll_PreservesFileOrder(t *testing.T) {
	r := exampleRules(t)

	entries := []memory.Entry{
		{Order: 2, Text: "deploy the second thing"},
		{Order: 0, Text: "project kickoff"},
		{Order: 1, Text: "lunch was fine"},
		{Order: 3, Text: "I feel the project is late"},
	}
	grouped := r.ClassifyAll(entries)

	require.Len(t, grouped["work"], 3)
	assert.Equal(t, "project kickoff", grouped["work"][0].Entry.Text)
	assert.Equal(t, "deploy the second thing", grouped["work"][1].Entry.Text)
	assert.Equal(t, "I feel the project is late", grouped["work"][2].Entry.Text)

	require.Len(t, grouped["emotions"], 1)
	assert.Equal(t, 3, grouped["emotions"][0].Entry.Order)

	require.Len(t, grouped["misc"], 1)
	assert.True(t, grouped["misc"][0].Signal.Fallback)

	// every entry lands somewhere
	total := map[int]bool{}
	for _, list := range grouped {
		for _, ne := range list {
			total[ne.Entry.Order] = true
		}
	}
	assert.Len(t, total, len(entries))
}

func TestProcedural(t *testing.T) {
	r := exampleRules(t)

	assert.Equal(t, []string{"how to"}, r.Procedural("Figured out how to rebase"))
	assert.Empty(t, r.Procedural("lunch was fine"))
}

func TestCategoriesSortedByKey(t *testing.T) {
	r, err := NewRules(config.DefaultCategoryConfig())
	require.NoError(t, err)

	var keys []string
	for _, c := range r.Categories() {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []string{"emotions", "health", "ideas", "learning", "relationships", "work"}, keys)
}
