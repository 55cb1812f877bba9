package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	a := HashString("session-1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashString("session-1"))
	assert.NotEqual(t, HashString("ab", "c"), HashString("a", "bc"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "éé...", Truncate("ééé", 2))
	assert.Equal(t, "", Truncate("abc", 0))
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "ab", Prefix("abcdef", 2))
	assert.Equal(t, "abc", Prefix("abc", 10))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "he won't wake up", NormalizeText("He WON’T wake up"))
}
