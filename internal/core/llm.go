package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"qa-backend/pkg/api"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const suggestionPrompt = `You are an extractive question answering assistant. Given a passage and a question, answer with a verbatim snippet copied from the passage. Respond with a JSON object of the form {"answer": "<snippet>", "start": <character offset of the snippet in the passage>}. If the passage does not contain the answer, respond with {"answer": "", "start": -1}.

Passage:
%s

Question:
%s`

// Suggester produces an answer suggestion for a record. It backs the
// low-confidence fallback path during suggestion tasks.
type Suggester interface {
	Suggest(ctx context.Context, question, passage string) (api.Answer, error)
}

type LLMSuggester struct {
	client *openai.LLM
}

func NewLLMSuggester(model, apiKey string) (*LLMSuggester, error) {
	client, err := openai.New(openai.WithToken(apiKey), openai.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("could not create OpenAI client: %v", err)
	}
	return &LLMSuggester{client: client}, nil
}

type llmAnswer struct {
	Answer string `json:"answer"`
	Start  int    `json:"start"`
}

func (s *LLMSuggester) Suggest(ctx context.Context, question, passage string) (api.Answer, error) {
	prompt := fmt.Sprintf(suggestionPrompt, passage, question)

	resp, err := llms.GenerateFromSinglePrompt(ctx, s.client, prompt, llms.WithJSONMode())
	if err != nil {
		return api.Answer{}, fmt.Errorf("error calling OpenAI API: %w", err)
	}

	var parsed llmAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp)), &parsed); err != nil {
		return api.Answer{}, fmt.Errorf("could not parse LLM answer: %w", err)
	}

	if parsed.Answer == "" {
		return api.Answer{}, nil
	}

	// The model quotes from the passage but its offsets are unreliable, so
	// re-anchor the snippet in the passage text.
	start, end, ok := AlignAnswer(passage, parsed.Answer, parsed.Start)
	if !ok {
		return api.Answer{}, fmt.Errorf("LLM answer %q not found in passage", parsed.Answer)
	}

	return api.Answer{
		Text:  passage[start:end],
		Score: 1.0,
		Start: start,
		End:   end,
	}, nil
}
