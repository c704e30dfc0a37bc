package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagRoundTrip(t *testing.T) {
	for _, magic := range []int64{1, 42, 777001, 987654321} {
		parsed, ok := ParseTag(Tag(magic))
		assert.True(t, ok)
		assert.Equal(t, magic, parsed)
	}
}

func TestParseTagStripsNonce(t *testing.T) {
	tag := Tag(777001) + "-8FhZk2"
	magic, ok := ParseTag(tag)
	assert.True(t, ok)
	assert.Equal(t, int64(777001), magic)
}

func TestParseTagRejectsForeign(t *testing.T) {
	for _, tag := range []string{"", "x123", "web_abc", "g", "g!!!"} {
		_, ok := ParseTag(tag)
		assert.False(t, ok, "tag %q should not parse", tag)
	}
}
