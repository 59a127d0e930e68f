//go:build datagen
// +build datagen

// only run when tests are run with go test -tags=datagen
// this is to avoid having too many llm calls for tests

package datagen

import (
	"context"
	"strings"
	"testing"

	"qa-backend/pkg/api"

	"github.com/stretchr/testify/require"
)

func TestDatagen(t *testing.T) {
	generator := NewGenerator("gpt-4o-mini", 0.7)

	seeds := []api.QASample{
		{
			Question:    "What is the capital of France?",
			Context:     "Paris is the capital of France. It sits on the Seine and has been a major European city for centuries.",
			AnswerText:  "Paris",
			AnswerStart: 0,
			AnswerEnd:   5,
		},
		{
			Question:    "Which river flows through Paris?",
			Context:     "The Seine flows through Paris before emptying into the English Channel near Le Havre.",
			AnswerText:  "The Seine",
			AnswerStart: 0,
			AnswerEnd:   9,
		},
	}

	generated, err := generator.GenerateQAPairs(context.Background(), seeds, 5)
	require.NoError(t, err)
	require.NotEmpty(t, generated)

	for _, sample := range generated {
		require.True(t, strings.Contains(sample.Context, sample.AnswerText))
		require.Equal(t, sample.AnswerText, sample.Context[sample.AnswerStart:sample.AnswerEnd])
	}
}
