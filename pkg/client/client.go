package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"qa-backend/pkg/api"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Client is a small SDK over the annotation service's REST API.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().SetBaseURL(baseURL),
	}
}

func do[T any](ctx context.Context, req *resty.Request, method, url string) (T, error) {
	var out T

	res, err := req.SetContext(ctx).Execute(method, url)
	if err != nil {
		return out, fmt.Errorf("request to %s failed: %w", url, err)
	}

	if !res.IsSuccess() {
		return out, fmt.Errorf("request to %s returned status %d: %s", url, res.StatusCode(), res.String())
	}

	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return out, fmt.Errorf("error parsing response from %s: %w", url, err)
	}

	return out, nil
}

func (c *Client) Health(ctx context.Context) error {
	_, err := do[struct{}](ctx, c.http.R(), resty.MethodGet, "/health")
	return err
}

func (c *Client) CreateDataset(ctx context.Context, name string) (uuid.UUID, error) {
	res, err := do[api.CreateDatasetResponse](ctx, c.http.R().SetBody(api.CreateDatasetRequest{Name: name}), resty.MethodPost, "/datasets")
	if err != nil {
		return uuid.Nil, err
	}
	return res.DatasetId, nil
}

func (c *Client) ListDatasets(ctx context.Context) ([]api.Dataset, error) {
	return do[[]api.Dataset](ctx, c.http.R(), resty.MethodGet, "/datasets")
}

func (c *Client) GetDataset(ctx context.Context, datasetId uuid.UUID) (api.Dataset, error) {
	return do[api.Dataset](ctx, c.http.R(), resty.MethodGet, "/datasets/"+datasetId.String())
}

func (c *Client) DeleteDataset(ctx context.Context, datasetId uuid.UUID) error {
	_, err := do[struct{}](ctx, c.http.R(), resty.MethodDelete, "/datasets/"+datasetId.String())
	return err
}

func (c *Client) UploadRecords(ctx context.Context, datasetId uuid.UUID, records []api.RecordSeed) (int, error) {
	res, err := do[api.UploadRecordsResponse](ctx, c.http.R().SetBody(api.UploadRecordsRequest{Records: records}), resty.MethodPost, "/datasets/"+datasetId.String()+"/records")
	if err != nil {
		return 0, err
	}
	return res.RecordCount, nil
}

func (c *Client) ListRecords(ctx context.Context, datasetId uuid.UUID, query api.ListRecordsQuery) (api.ListRecordsResponse, error) {
	req := c.http.R().
		SetQueryParam("offset", strconv.Itoa(query.Offset)).
		SetQueryParam("limit", strconv.Itoa(query.Limit))
	if query.Status != "" {
		req.SetQueryParam("status", query.Status)
	}
	return do[api.ListRecordsResponse](ctx, req, resty.MethodGet, "/datasets/"+datasetId.String()+"/records")
}

func (c *Client) GetRecord(ctx context.Context, datasetId, recordId uuid.UUID) (api.Record, error) {
	return do[api.Record](ctx, c.http.R(), resty.MethodGet, "/datasets/"+datasetId.String()+"/records/"+recordId.String())
}

func (c *Client) AnnotateRecord(ctx context.Context, datasetId, recordId uuid.UUID, req api.AnnotateRequest) (api.Record, error) {
	return do[api.Record](ctx, c.http.R().SetBody(req), resty.MethodPost, "/datasets/"+datasetId.String()+"/records/"+recordId.String()+"/annotate")
}

func (c *Client) DiscardRecord(ctx context.Context, datasetId, recordId uuid.UUID) error {
	_, err := do[struct{}](ctx, c.http.R(), resty.MethodPost, "/datasets/"+datasetId.String()+"/records/"+recordId.String()+"/discard")
	return err
}

func (c *Client) SearchRecords(ctx context.Context, datasetId uuid.UUID, query string) ([]api.Record, error) {
	res, err := do[api.SearchResponse](ctx, c.http.R().SetBody(api.SearchRequest{Query: query}), resty.MethodPost, "/datasets/"+datasetId.String()+"/search")
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

func (c *Client) SubmitSuggestionJob(ctx context.Context, datasetId, modelId uuid.UUID) error {
	_, err := do[api.SuggestResponse](ctx, c.http.R().SetBody(api.SuggestRequest{ModelId: modelId}), resty.MethodPost, "/datasets/"+datasetId.String()+"/suggest")
	return err
}

func (c *Client) ListModels(ctx context.Context) ([]api.Model, error) {
	return do[[]api.Model](ctx, c.http.R(), resty.MethodGet, "/models")
}

func (c *Client) GetModel(ctx context.Context, modelId uuid.UUID) (api.Model, error) {
	return do[api.Model](ctx, c.http.R(), resty.MethodGet, "/models/"+modelId.String())
}

func (c *Client) SubmitFinetuneJob(ctx context.Context, req api.FinetuneRequest) (uuid.UUID, error) {
	res, err := do[api.FinetuneResponse](ctx, c.http.R().SetBody(req), resty.MethodPost, "/models/finetune")
	if err != nil {
		return uuid.Nil, err
	}
	return res.ModelId, nil
}

func (c *Client) Predict(ctx context.Context, req api.PredictRequest) (api.Answer, error) {
	res, err := do[api.PredictResponse](ctx, c.http.R().SetBody(req), resty.MethodPost, "/predict")
	if err != nil {
		return api.Answer{}, err
	}
	return res.Answer, nil
}
