package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignAnswer(t *testing.T) {
	context := "Paris is the capital of France. Paris is on the Seine."

	t.Run("FirstOccurrence", func(t *testing.T) {
		start, end, ok := AlignAnswer(context, "Paris", -1)
		assert.True(t, ok)
		assert.Equal(t, 0, start)
		assert.Equal(t, 5, end)
	})

	t.Run("HintSelectsOccurrence", func(t *testing.T) {
		start, end, ok := AlignAnswer(context, "Paris", 32)
		assert.True(t, ok)
		assert.Equal(t, 32, start)
		assert.Equal(t, 37, end)
	})

	t.Run("BadHintFallsBack", func(t *testing.T) {
		start, end, ok := AlignAnswer(context, "Paris", 10)
		assert.True(t, ok)
		assert.Equal(t, 0, start)
		assert.Equal(t, 5, end)
	})

	t.Run("CaseInsensitiveFallback", func(t *testing.T) {
		start, end, ok := AlignAnswer(context, "paris is", -1)
		assert.True(t, ok)
		assert.Equal(t, "Paris is", context[start:end])
	})

	t.Run("CaseInsensitiveMultibyte", func(t *testing.T) {
		// "İ" lowercases to two runes, so folding the whole context through
		// strings.ToLower would shift byte offsets. The fallback must return
		// offsets valid in the original string.
		multibyte := "İstanbul. İzmir. Paris is lovely."
		start, end, ok := AlignAnswer(multibyte, "PARIS", -1)
		assert.True(t, ok)
		assert.Equal(t, "Paris", multibyte[start:end])
	})

	t.Run("TrimsWhitespace", func(t *testing.T) {
		start, end, ok := AlignAnswer(context, "  the capital ", -1)
		assert.True(t, ok)
		assert.Equal(t, "the capital", context[start:end])
	})

	t.Run("NotFound", func(t *testing.T) {
		_, _, ok := AlignAnswer(context, "London", -1)
		assert.False(t, ok)
	})

	t.Run("EmptyAnswer", func(t *testing.T) {
		_, _, ok := AlignAnswer(context, "   ", -1)
		assert.False(t, ok)
	})
}

func TestValidSpan(t *testing.T) {
	context := "Paris is the capital of France."

	assert.True(t, ValidSpan(context, "Paris", 0, 5))
	assert.True(t, ValidSpan(context, "", 0, 5))
	assert.True(t, ValidSpan(context, "France", 24, 30))

	assert.False(t, ValidSpan(context, "Paris", 1, 6))
	assert.False(t, ValidSpan(context, "Paris", -1, 4))
	assert.False(t, ValidSpan(context, "Paris", 5, 5))
	assert.False(t, ValidSpan(context, "Paris", 5, 0))
	assert.False(t, ValidSpan(context, "", 0, len(context)+1))
}
