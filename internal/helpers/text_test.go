package helpers

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "exact", Truncate("exact", 5))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "...", Truncate("abc", 0))

	accents := strings.Repeat("é", 200)
	got := Truncate(accents, 301)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 150)+"...", got)

	assert.Equal(t, "日本...", Truncate("日本語のテキスト", 7))
}
