package director

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/chatstore/pkg/store"
)

func TestCache_ReplaceVoicesReadsPendingUnderLock(t *testing.T) {
	c := newCache()
	list := []store.Voice{
		{Voice: "aria", AudioTokens: []any{"stored"}},
		{Voice: "nova", AudioTokens: []any{"stored"}},
	}

	var consulted []string
	c.replaceVoices(list, func(name string) (any, bool) {
		// setTokens records pending values under the same lock, so none can
		// slip in between this read and the swap.
		assert.False(t, c.mu.TryRLock(), "pending read outside the cache lock")
		consulted = append(consulted, name)
		if name == "aria" {
			return []any{"pending"}, true
		}
		return nil, false
	})

	assert.ElementsMatch(t, []string{"aria", "nova"}, consulted)
	tokens, ok := c.tokens("aria")
	require.True(t, ok)
	assert.Equal(t, []any{"pending"}, tokens)
	tokens, ok = c.tokens("nova")
	require.True(t, ok)
	assert.Equal(t, []any{"stored"}, tokens)
}

func TestCache_TouchVoice(t *testing.T) {
	c := newCache()
	c.replaceVoices([]store.Voice{{Voice: "aria", UpdatedAt: "t1"}}, func(string) (any, bool) { return nil, false })

	c.touchVoice("aria", "t2")
	c.touchVoice("ghost", "t3")

	v, ok, loaded := c.voice("aria")
	require.True(t, ok)
	require.True(t, loaded)
	assert.Equal(t, "t2", v.UpdatedAt)
	assert.False(t, c.hasVoice("ghost"))
}
