package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMatcher_SanitizesKeywords(t *testing.T) {
	t.Parallel()

	m := NewMatcher([]string{"  Script ", "how to", "SCRIPT", "", "   "})
	assert.Equal(t, []string{"how to", "script"}, m.Keywords())

	assert.Nil(t, NewMatcher(nil).Keywords())
	assert.Nil(t, NewMatcher([]string{" "}).Keywords())
}

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	m := NewMatcher([]string{"command", "how to", "script"})

	assert.Equal(t, []string{"command", "how to"}, m.Match("Learned HOW TO chain a Command with xargs"))
	// substring, not word boundary
	assert.Equal(t, []string{"script"}, m.Match("wrote a JavaScript helper"))
	assert.Nil(t, m.Match("went for a walk"))
}

func TestMatcher_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Matcher
	assert.Nil(t, m.Match("how to anything"))
	assert.Nil(t, NewMatcher(nil).Match("how to anything"))
}
