package datagen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"qa-backend/pkg/api"

	openai "github.com/openai/openai-go"
)

const (
	defaultPairsPerCall = 10
	maxSeedExamples     = 5
	requestTimeout      = 50 * time.Second
)

const systemPrompt = `You are a dataset author for extractive question answering. You write short factual passages together with questions whose answers are spans copied verbatim from the passage.`

const userPromptTemplate = `Write %d new reading comprehension records. Each record has a "passage" (3-5 sentences), a "question" about the passage, and an "answer" that is an exact, character-for-character substring of the passage.

Match the topic and style of these examples:
%s`

// Generator produces synthetic question answering samples with an LLM. The
// OpenAI API key is read from the environment by the client.
type Generator struct {
	client       openai.Client
	model        string
	temp         float64
	pairsPerCall int
}

func NewGenerator(model string, temp float64) *Generator {
	return &Generator{
		client:       openai.NewClient(),
		model:        model,
		temp:         temp,
		pairsPerCall: defaultPairsPerCall,
	}
}

type generatedRecord struct {
	Passage  string `json:"passage"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type generatedRecords struct {
	Records []generatedRecord `json:"records"`
}

func responseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"records": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"passage":  map[string]interface{}{"type": "string"},
						"question": map[string]interface{}{"type": "string"},
						"answer":   map[string]interface{}{"type": "string"},
					},
					"required":             []string{"passage", "question", "answer"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"records"},
		"additionalProperties": false,
	}

	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        "qa_records",
				Description: openai.String("Reading comprehension records with verbatim answer spans"),
				Schema:      schema,
			},
		},
	}
}

// sampleSeeds returns up to n random seed samples so repeated calls show the
// model different examples.
func sampleSeeds(seeds []api.QASample, n int) []api.QASample {
	if n >= len(seeds) {
		out := make([]api.QASample, len(seeds))
		copy(out, seeds)
		return out
	}

	idx := rand.Perm(len(seeds))[:n]
	out := make([]api.QASample, n)
	for i, j := range idx {
		out[i] = seeds[j]
	}
	return out
}

func formatSeeds(seeds []api.QASample) string {
	var b strings.Builder
	for i, s := range seeds {
		fmt.Fprintf(&b, "Example %d:\nPassage: %s\nQuestion: %s\nAnswer: %s\n\n", i+1, s.Context, s.Question, s.AnswerText)
	}
	return b.String()
}

func (g *Generator) generateBatch(ctx context.Context, seeds []api.QASample, count int) ([]api.QASample, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	prompt := fmt.Sprintf(userPromptTemplate, count, formatSeeds(sampleSeeds(seeds, maxSeedExamples)))

	res, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature:    openai.Float(g.temp),
		ResponseFormat: responseFormat(),
	})
	if err != nil {
		return nil, fmt.Errorf("openai generation failed: %w", err)
	}

	var parsed generatedRecords
	if err := json.Unmarshal([]byte(res.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("could not parse generated records: %w", err)
	}

	var out []api.QASample
	for _, rec := range parsed.Records {
		answer := strings.TrimSpace(rec.Answer)
		start := strings.Index(rec.Passage, answer)
		if answer == "" || start < 0 {
			slog.Warn("discarding generated record, answer is not a passage span", "answer", rec.Answer)
			continue
		}
		out = append(out, api.QASample{
			Question:    rec.Question,
			Context:     rec.Passage,
			AnswerText:  answer,
			AnswerStart: start,
			AnswerEnd:   start + len(answer),
		})
	}
	return out, nil
}

// GenerateQAPairs produces n synthetic samples modeled on the seed samples.
// Records whose answer is not a verbatim passage span are discarded, so the
// result may fall short of n if the model keeps producing bad spans.
func (g *Generator) GenerateQAPairs(ctx context.Context, seeds []api.QASample, n int) ([]api.QASample, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("at least one seed sample is required")
	}

	var out []api.QASample
	maxCalls := 2 * (n/g.pairsPerCall + 1)

	for call := 0; len(out) < n && call < maxCalls; call++ {
		count := min(g.pairsPerCall, n-len(out))
		batch, err := g.generateBatch(ctx, seeds, count)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}

	if len(out) > n {
		out = out[:n]
	}

	slog.Info("generated synthetic samples", "requested", n, "generated", len(out))

	return out, nil
}
