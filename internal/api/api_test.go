package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	backend "qa-backend/internal/api"
	"qa-backend/internal/core"
	"qa-backend/internal/database"
	"qa-backend/internal/messaging"
	"qa-backend/internal/storage"
	"qa-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

type mockStorage struct {
	storage.ObjectStore
}

func (m *mockStorage) DownloadDir(ctx context.Context, bucket, prefix, dest string, overwrite bool) error {
	return os.MkdirAll(dest, os.ModePerm)
}

type fakeModel struct {
	answer api.Answer
}

func (m *fakeModel) Predict(question, context string) (api.Answer, error) { return m.answer, nil }

func (m *fakeModel) Finetune(samples []api.QASample, config api.TrainConfig) error { return nil }

func (m *fakeModel) Save(path string) error { return nil }

func (m *fakeModel) Release() {}

func createService(t *testing.T, db *gorm.DB, loaders map[core.ModelType]core.ModelLoader) chi.Router {
	t.Helper()
	service := backend.NewBackendService(db, messaging.NewInMemoryQueue(), &mockStorage{}, t.TempDir(), "models", loaders)
	router := chi.NewRouter()
	service.AddRoutes(router)
	return router
}

func doJson(t *testing.T, router chi.Router, method, url string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, url, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	return rec
}

func parseResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestDatasetLifecycle(t *testing.T) {
	db := createDB(t)
	router := createService(t, db, nil)

	rec := doJson(t, router, http.MethodPost, "/datasets", api.CreateDatasetRequest{Name: "squad-sample"})
	assert.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())
	created := parseResponse[api.CreateDatasetResponse](t, rec)
	assert.NotEqual(t, uuid.Nil, created.DatasetId)

	rec = doJson(t, router, http.MethodGet, "/datasets/"+created.DatasetId.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	dataset := parseResponse[api.Dataset](t, rec)
	assert.Equal(t, "squad-sample", dataset.Name)
	assert.Equal(t, int64(0), dataset.TotalRecords)

	rec = doJson(t, router, http.MethodGet, "/datasets", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	datasets := parseResponse[[]api.Dataset](t, rec)
	assert.Len(t, datasets, 1)

	rec = doJson(t, router, http.MethodDelete, "/datasets/"+created.DatasetId.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJson(t, router, http.MethodGet, "/datasets/"+created.DatasetId.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateDatasetInvalidName(t *testing.T) {
	db := createDB(t)
	router := createService(t, db, nil)

	rec := doJson(t, router, http.MethodPost, "/datasets", api.CreateDatasetRequest{Name: "bad name!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func uploadTestRecords(t *testing.T, router chi.Router, datasetId uuid.UUID) {
	t.Helper()

	records := []api.RecordSeed{
		{
			ExternalId: "q1",
			Question:   "What is the capital of France?",
			Context:    "Paris is the capital of France.",
			Suggestion: &api.Answer{Text: "Paris", Score: 0.9, Start: 0, End: 5},
		},
		{
			ExternalId: "q2",
			Question:   "Where is the Eiffel Tower?",
			Context:    "The Eiffel Tower is located in Paris.",
		},
		{
			ExternalId: "q3",
			Question:   "What color is the sky?",
			Context:    "On a clear day the sky is blue.",
		},
	}

	rec := doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/records", api.UploadRecordsRequest{Records: records})
	require.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())
	res := parseResponse[api.UploadRecordsResponse](t, rec)
	require.Equal(t, 3, res.RecordCount)
}

func TestUploadAndListRecords(t *testing.T) {
	datasetId := uuid.New()
	db := createDB(t, &database.Dataset{Id: datasetId, Name: "ds", CreationTime: time.Now()})
	router := createService(t, db, nil)

	uploadTestRecords(t, router, datasetId)

	rec := doJson(t, router, http.MethodGet, "/datasets/"+datasetId.String()+"/records", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	listed := parseResponse[api.ListRecordsResponse](t, rec)
	assert.Equal(t, int64(3), listed.Total)
	assert.Len(t, listed.Records, 3)

	assert.Equal(t, "q1", listed.Records[0].ExternalId)
	require.NotNil(t, listed.Records[0].Suggestion)
	assert.Equal(t, "Paris", listed.Records[0].Suggestion.Text)
	assert.Nil(t, listed.Records[0].Annotation)
	assert.Equal(t, database.RecordPending, listed.Records[0].Status)

	rec = doJson(t, router, http.MethodGet, "/datasets/"+datasetId.String()+"/records?limit=2&offset=2", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	paged := parseResponse[api.ListRecordsResponse](t, rec)
	assert.Equal(t, int64(3), paged.Total)
	assert.Len(t, paged.Records, 1)

	rec = doJson(t, router, http.MethodGet, "/datasets/"+datasetId.String()+"/records?status=SUBMITTED", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	submitted := parseResponse[api.ListRecordsResponse](t, rec)
	assert.Equal(t, int64(0), submitted.Total)
}

func TestUploadRecordsBadSuggestion(t *testing.T) {
	datasetId := uuid.New()
	db := createDB(t, &database.Dataset{Id: datasetId, Name: "ds", CreationTime: time.Now()})
	router := createService(t, db, nil)

	records := []api.RecordSeed{{
		Question:   "What is the capital of France?",
		Context:    "Paris is the capital of France.",
		Suggestion: &api.Answer{Text: "London", Start: 0, End: 6},
	}}

	rec := doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/records", api.UploadRecordsRequest{Records: records})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAnnotateRecord(t *testing.T) {
	datasetId := uuid.New()
	db := createDB(t, &database.Dataset{Id: datasetId, Name: "ds", CreationTime: time.Now()})
	router := createService(t, db, nil)

	uploadTestRecords(t, router, datasetId)

	rec := doJson(t, router, http.MethodGet, "/datasets/"+datasetId.String()+"/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := parseResponse[api.ListRecordsResponse](t, rec)
	require.Len(t, listed.Records, 3)

	withSuggestion := listed.Records[0]
	withoutSuggestion := listed.Records[1]

	t.Run("AcceptSuggestion", func(t *testing.T) {
		rec := doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/records/"+withSuggestion.Id.String()+"/annotate", api.AnnotateRequest{FromSuggestion: true})
		assert.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())
		record := parseResponse[api.Record](t, rec)

		assert.Equal(t, database.RecordSubmitted, record.Status)
		require.NotNil(t, record.Annotation)
		assert.Equal(t, api.AnnotationSpan{Text: "Paris", Start: 0, End: 5}, *record.Annotation)
	})

	t.Run("AnnotateSpan", func(t *testing.T) {
		// "Paris" in "The Eiffel Tower is located in Paris."
		rec := doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/records/"+withoutSuggestion.Id.String()+"/annotate", api.AnnotateRequest{Start: 31, End: 36})
		assert.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())
		record := parseResponse[api.Record](t, rec)

		require.NotNil(t, record.Annotation)
		assert.Equal(t, "Paris", record.Annotation.Text)
	})

	t.Run("AnnotateMismatchedSpan", func(t *testing.T) {
		rec := doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/records/"+withoutSuggestion.Id.String()+"/annotate", api.AnnotateRequest{Text: "Tower", Start: 0, End: 5})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("AcceptMissingSuggestion", func(t *testing.T) {
		id := listed.Records[2].Id
		rec := doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/records/"+id.String()+"/annotate", api.AnnotateRequest{FromSuggestion: true})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("Discard", func(t *testing.T) {
		id := listed.Records[2].Id
		rec := doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/records/"+id.String()+"/discard", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = doJson(t, router, http.MethodGet, "/datasets/"+datasetId.String()+"/records/"+id.String(), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		record := parseResponse[api.Record](t, rec)
		assert.Equal(t, database.RecordDiscarded, record.Status)
	})
}

func TestAnnotateAfterDatasetDeleted(t *testing.T) {
	datasetId := uuid.New()
	db := createDB(t, &database.Dataset{Id: datasetId, Name: "ds", CreationTime: time.Now()})
	router := createService(t, db, nil)

	uploadTestRecords(t, router, datasetId)

	rec := doJson(t, router, http.MethodGet, "/datasets/"+datasetId.String()+"/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := parseResponse[api.ListRecordsResponse](t, rec)
	require.NotEmpty(t, listed.Records)
	recordId := listed.Records[0].Id

	rec = doJson(t, router, http.MethodDelete, "/datasets/"+datasetId.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/records/"+recordId.String()+"/annotate", api.AnnotateRequest{FromSuggestion: true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/records/"+recordId.String()+"/discard", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchRecords(t *testing.T) {
	datasetId := uuid.New()
	db := createDB(t, &database.Dataset{Id: datasetId, Name: "ds", CreationTime: time.Now()})
	router := createService(t, db, nil)

	uploadTestRecords(t, router, datasetId)

	rec := doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/search", api.SearchRequest{Query: `question CONTAINS "capital" OR suggestion = "Paris"`})
	assert.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())
	res := parseResponse[api.SearchResponse](t, rec)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "q1", res.Records[0].ExternalId)

	rec = doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/search", api.SearchRequest{Query: `NOT context CONTAINS "Paris"`})
	assert.Equal(t, http.StatusOK, rec.Code)
	res = parseResponse[api.SearchResponse](t, rec)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "q3", res.Records[0].ExternalId)

	rec = doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/search", api.SearchRequest{Query: `bogus query ((`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitSuggestionJob(t *testing.T) {
	datasetId, modelId, queuedModelId := uuid.New(), uuid.New(), uuid.New()
	db := createDB(t,
		&database.Dataset{Id: datasetId, Name: "ds", CreationTime: time.Now()},
		&database.Model{Id: modelId, Name: "base", Type: "onnx_qa", Status: database.ModelTrained, CreationTime: time.Now()},
		&database.Model{Id: queuedModelId, Name: "pending", Type: "onnx_qa", Status: database.ModelQueued, CreationTime: time.Now()},
	)
	router := createService(t, db, nil)

	rec := doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/suggest", api.SuggestRequest{ModelId: modelId})
	assert.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())
	res := parseResponse[api.SuggestResponse](t, rec)
	assert.Equal(t, datasetId, res.DatasetId)

	rec = doJson(t, router, http.MethodGet, "/datasets/"+datasetId.String()+"/suggest", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	task := parseResponse[database.SuggestionTask](t, rec)
	assert.Equal(t, database.JobQueued, task.Status)
	assert.Equal(t, modelId, task.ModelId)

	rec = doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/suggest", api.SuggestRequest{ModelId: queuedModelId})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJson(t, router, http.MethodPost, "/datasets/"+datasetId.String()+"/suggest", api.SuggestRequest{ModelId: uuid.New()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitFinetuneJob(t *testing.T) {
	datasetId, baseModelId := uuid.New(), uuid.New()
	db := createDB(t,
		&database.Dataset{Id: datasetId, Name: "ds", CreationTime: time.Now()},
		&database.Model{Id: baseModelId, Name: "base", Type: "python_qa", Status: database.ModelTrained, CreationTime: time.Now()},
		&database.Record{
			Id:          uuid.New(),
			DatasetId:   datasetId,
			Question:    "What is the capital of France?",
			Context:     "Paris is the capital of France.",
			Status:      database.RecordSubmitted,
			AnswerText:  sql.NullString{String: "Paris", Valid: true},
			AnswerStart: sql.NullInt64{Int64: 0, Valid: true},
			AnswerEnd:   sql.NullInt64{Int64: 5, Valid: true},
		},
	)
	router := createService(t, db, nil)

	var response api.FinetuneResponse
	t.Run("Finetuning", func(t *testing.T) {
		payload := api.FinetuneRequest{
			Name:        "finetuned",
			BaseModelId: baseModelId,
			DatasetId:   datasetId,
			Config:      api.TrainConfig{Epochs: 2},
		}

		rec := doJson(t, router, http.MethodPost, "/models/finetune", payload)
		assert.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())
		response = parseResponse[api.FinetuneResponse](t, rec)
		assert.NotEqual(t, uuid.Nil, response.ModelId)
	})

	t.Run("GetFinetunedModel", func(t *testing.T) {
		rec := doJson(t, router, http.MethodGet, "/models/"+response.ModelId.String(), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		model := parseResponse[api.Model](t, rec)

		assert.Equal(t, response.ModelId, model.Id)
		assert.Equal(t, "finetuned", model.Name)
		assert.Equal(t, "python_qa", model.Type)
		assert.Equal(t, database.ModelQueued, model.Status)
		assert.Equal(t, baseModelId, *model.BaseModelId)
	})

	t.Run("GetFinetuneTask", func(t *testing.T) {
		rec := doJson(t, router, http.MethodGet, "/models/"+response.ModelId.String()+"/finetune", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		task := parseResponse[database.FinetuneTask](t, rec)

		assert.Equal(t, datasetId, task.DatasetId)
		assert.Equal(t, database.JobQueued, task.Status)

		var cfg api.FinetuneTaskConfig
		require.NoError(t, json.Unmarshal(task.Config, &cfg))
		assert.Equal(t, 2, cfg.Train.Epochs)
	})

	t.Run("NoAnnotations", func(t *testing.T) {
		emptyDataset := uuid.New()
		require.NoError(t, db.Create(&database.Dataset{Id: emptyDataset, Name: "empty", CreationTime: time.Now()}).Error)

		payload := api.FinetuneRequest{Name: "nope", BaseModelId: baseModelId, DatasetId: emptyDataset}
		rec := doJson(t, router, http.MethodPost, "/models/finetune", payload)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestListModels(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	db := createDB(t,
		&database.Model{Id: id1, Name: "Model1", Type: "onnx_qa", Status: database.ModelTrained, CreationTime: time.Now()},
		&database.Model{Id: id2, Name: "Model2", Type: "python_qa", Status: database.ModelTraining, CreationTime: time.Now()},
	)
	router := createService(t, db, nil)

	rec := doJson(t, router, http.MethodGet, "/models", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	response := parseResponse[[]api.Model](t, rec)
	assert.ElementsMatch(t, []api.Model{
		{Id: id1, Name: "Model1", Type: "onnx_qa", Status: database.ModelTrained},
		{Id: id2, Name: "Model2", Type: "python_qa", Status: database.ModelTraining},
	}, response)
}

func TestPredict(t *testing.T) {
	modelId := uuid.New()
	db := createDB(t,
		&database.Model{Id: modelId, Name: "base", Type: "onnx_qa", Status: database.ModelTrained, CreationTime: time.Now()},
	)

	answer := api.Answer{Text: "Paris", Score: 0.87, Start: 0, End: 5}
	loaders := map[core.ModelType]core.ModelLoader{
		core.OnnxQA: func(dir string) (core.Model, error) { return &fakeModel{answer: answer}, nil },
	}
	router := createService(t, db, loaders)

	payload := api.PredictRequest{
		ModelId:  modelId,
		Question: "What is the capital of France?",
		Context:  "Paris is the capital of France.",
	}

	rec := doJson(t, router, http.MethodPost, "/predict", payload)
	assert.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())
	res := parseResponse[api.PredictResponse](t, rec)
	assert.Equal(t, answer, res.Answer)

	payload.Question = ""
	rec = doJson(t, router, http.MethodPost, "/predict", payload)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
