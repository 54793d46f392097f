package subset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsInvalidPatterns(t *testing.T) {
	assert.Error(t, Validate("docs/[**"))
	assert.Error(t, Validate("good/*, !"))
	assert.NoError(t, Validate(""))
	assert.NoError(t, Validate("docs/**, !docs/private/**, *.json"))
}

func TestEmptyDescriptorMatchesEverything(t *testing.T) {
	m, err := Parse("")
	require.NoError(t, err)
	assert.True(t, m.Empty())
	assert.True(t, m.Match("anything/at/all.bin"))
}

func TestMatch(t *testing.T) {
	m, err := Parse("docs/**, *.json, !docs/private/**")
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"docs/readme.md", true},
		{"docs/guide/intro.md", true},
		{"config.json", true},
		{"docs/private/keys.md", false},
		{"src/main.go", false},
		{"/docs/readme.md", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Match(tt.path), "path %s", tt.path)
	}
}

func TestExclusionOnlyDescriptor(t *testing.T) {
	m, err := Parse("!**/*.tmp")
	require.NoError(t, err)
	assert.True(t, m.Match("data/file.bin"))
	assert.False(t, m.Match("data/file.tmp"))
}
