package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"qa-backend/pkg/api"

	"github.com/go-resty/resty/v2"
)

const DefaultBaseURL = "https://rajpurkar.github.io/SQuAD-explorer/dataset"

// Well-known dataset files served by the hub.
const (
	TrainV1 = "train-v1.1"
	DevV1   = "dev-v1.1"
	TrainV2 = "train-v2.0"
	DevV2   = "dev-v2.0"
)

// Client downloads public reading comprehension datasets and converts them
// into records ready for upload.
type Client struct {
	client *resty.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		client: resty.New().SetBaseURL(baseURL),
	}
}

// squadFile covers both the v1.1 and v2.0 layouts; v1.1 files simply never
// set is_impossible.
type squadFile struct {
	Version string `json:"version"`
	Data    []struct {
		Title      string `json:"title"`
		Paragraphs []struct {
			Context string `json:"context"`
			Qas     []struct {
				Id           string `json:"id"`
				Question     string `json:"question"`
				IsImpossible bool   `json:"is_impossible"`
				Answers      []struct {
					Text        string `json:"text"`
					AnswerStart int    `json:"answer_start"`
				} `json:"answers"`
			} `json:"qas"`
		} `json:"paragraphs"`
	} `json:"data"`
}

// Download fetches a dataset file (e.g. "train-v1.1") and returns its records.
// If includeAnswers is set, reference answers are attached as suggestions so
// annotators start from the published span.
func (c *Client) Download(ctx context.Context, file string, includeAnswers bool) ([]api.RecordSeed, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	res, err := c.client.R().
		SetContext(ctx).
		Get("/" + file + ".json")
	if err != nil {
		return nil, fmt.Errorf("error downloading dataset '%s': %w", file, err)
	}

	if !res.IsSuccess() {
		return nil, fmt.Errorf("dataset download for '%s' returned status %d", file, res.StatusCode())
	}

	records, err := ToRecords(res.Body(), includeAnswers)
	if err != nil {
		return nil, fmt.Errorf("error parsing dataset '%s': %w", file, err)
	}

	slog.Info("downloaded dataset", "file", file, "records", len(records))

	return records, nil
}

// ToRecords flattens a dataset file into one record per question. Questions
// marked unanswerable import with no reference answer; annotators see them
// like any other pending record.
func ToRecords(data []byte, includeAnswers bool) ([]api.RecordSeed, error) {
	var file squadFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing dataset file: %w", err)
	}

	var records []api.RecordSeed
	for _, article := range file.Data {
		for _, paragraph := range article.Paragraphs {
			for _, qa := range paragraph.Qas {
				record := api.RecordSeed{
					ExternalId: qa.Id,
					Question:   qa.Question,
					Context:    paragraph.Context,
				}

				if includeAnswers && !qa.IsImpossible && len(qa.Answers) > 0 {
					answer := qa.Answers[0]
					record.Suggestion = &api.Answer{
						Text:  answer.Text,
						Score: 1.0,
						Start: answer.AnswerStart,
						End:   answer.AnswerStart + len(answer.Text),
					}
				}

				records = append(records, record)
			}
		}
	}

	return records, nil
}
