package core

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qa-backend/internal/database"
	"qa-backend/internal/messaging"
	"qa-backend/internal/storage"
	"qa-backend/pkg/api"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// substringModel answers by locating the question's quoted keyword in the
// context, which keeps the tests deterministic without real weights.
type substringModel struct {
	score     float64
	finetuned []api.QASample
}

func (m *substringModel) Predict(question, context string) (api.Answer, error) {
	keyword := strings.Trim(strings.Fields(question)[len(strings.Fields(question))-1], "?")
	if idx := strings.Index(context, keyword); idx >= 0 {
		return api.Answer{Text: keyword, Score: m.score, Start: idx, End: idx + len(keyword)}, nil
	}
	return api.Answer{Score: m.score}, nil
}

func (m *substringModel) Finetune(samples []api.QASample, config api.TrainConfig) error {
	m.finetuned = append(m.finetuned, samples...)
	return nil
}

func (m *substringModel) Save(path string) error {
	return os.WriteFile(filepath.Join(path, "weights.bin"), []byte("weights"), 0644)
}

func (m *substringModel) Release() {}

type fixedSuggester struct {
	answer api.Answer
	calls  int
}

func (s *fixedSuggester) Suggest(ctx context.Context, question, passage string) (api.Answer, error) {
	s.calls++
	return s.answer, nil
}

func setupProcessorTest(t *testing.T, model Model, suggester Suggester, threshold float64) (*TaskProcessor, *gorm.DB, *messaging.InMemoryQueue, string, uuid.UUID) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	queue := messaging.NewInMemoryQueue()

	storeDir := t.TempDir()
	store, err := storage.NewLocalObjectStore(storeDir)
	require.NoError(t, err)

	modelDir := t.TempDir()
	baseModelId := uuid.New()
	require.NoError(t, os.MkdirAll(filepath.Join(modelDir, baseModelId.String()), os.ModePerm))
	require.NoError(t, db.Create(&database.Model{Id: baseModelId, Name: "base", Type: "onnx_qa", Status: database.ModelTrained, CreationTime: time.Now()}).Error)

	loaders := map[ModelType]ModelLoader{
		OnnxQA: func(dir string) (Model, error) { return model, nil },
	}

	proc := NewTaskProcessor(db, store, queue, queue, modelDir, "models", loaders, suggester, threshold, nil)

	return proc, db, queue, storeDir, baseModelId
}

func createTestRecords(t *testing.T, db *gorm.DB, datasetId uuid.UUID) {
	t.Helper()

	require.NoError(t, db.Create(&database.Dataset{Id: datasetId, Name: "ds", CreationTime: time.Now()}).Error)
	require.NoError(t, db.Create([]database.Record{
		{
			Id:        uuid.New(),
			DatasetId: datasetId,
			Question:  "What city contains Paris",
			Context:   "Paris is the capital of France.",
			Status:    database.RecordPending,
		},
		{
			Id:        uuid.New(),
			DatasetId: datasetId,
			Question:  "What river contains Seine",
			Context:   "The Seine flows through the city.",
			Status:    database.RecordPending,
		},
		{
			Id:         uuid.New(),
			DatasetId:  datasetId,
			Question:   "already annotated",
			Context:    "Paris is the capital of France.",
			Status:     database.RecordSubmitted,
			AnswerText: sql.NullString{String: "Paris", Valid: true},
			AnswerEnd:  sql.NullInt64{Int64: 5, Valid: true},
		},
	}).Error)
}

func TestProcessSuggestionTask(t *testing.T) {
	model := &substringModel{score: 0.9}
	proc, db, queue, _, modelId := setupProcessorTest(t, model, nil, 0.3)

	datasetId := uuid.New()
	createTestRecords(t, db, datasetId)
	require.NoError(t, db.Create(&database.SuggestionTask{DatasetId: datasetId, ModelId: modelId, Status: database.JobQueued, CreationTime: time.Now()}).Error)

	require.NoError(t, queue.PublishSuggestionTask(context.Background(), messaging.SuggestionTaskPayload{DatasetId: datasetId, ModelId: modelId}))
	proc.ProcessTask(<-queue.Tasks())

	var task database.SuggestionTask
	require.NoError(t, db.First(&task, "dataset_id = ?", datasetId).Error)
	assert.Equal(t, database.JobCompleted, task.Status)
	assert.Equal(t, 2, task.SuggestedCount)
	assert.Equal(t, 0, task.FailedCount)

	var records []database.Record
	require.NoError(t, db.Where("dataset_id = ? AND status = ?", datasetId, database.RecordPending).Order("external_id, id").Find(&records).Error)
	require.Len(t, records, 2)
	for _, record := range records {
		assert.True(t, record.SuggestionText.Valid)
		assert.True(t, ValidSpan(record.Context, record.SuggestionText.String, int(record.SuggestionStart.Int64), int(record.SuggestionEnd.Int64)))
		assert.InDelta(t, 0.9, record.SuggestionScore.Float64, 1e-9)
	}

	// Submitted records keep their annotations untouched.
	var submitted database.Record
	require.NoError(t, db.First(&submitted, "dataset_id = ? AND status = ?", datasetId, database.RecordSubmitted).Error)
	assert.False(t, submitted.SuggestionText.Valid)
}

func TestProcessSuggestionTaskKeepsExistingSuggestions(t *testing.T) {
	model := &substringModel{score: 0.9}
	proc, db, queue, _, modelId := setupProcessorTest(t, model, nil, 0.3)

	datasetId := uuid.New()
	require.NoError(t, db.Create(&database.Dataset{Id: datasetId, Name: "ds", CreationTime: time.Now()}).Error)

	// Pending record with a reference answer, e.g. from a hub import.
	seededId := uuid.New()
	require.NoError(t, db.Create([]database.Record{
		{
			Id:              seededId,
			DatasetId:       datasetId,
			Question:        "What city contains Paris",
			Context:         "Paris is the capital of France.",
			Status:          database.RecordPending,
			SuggestionText:  sql.NullString{String: "France", Valid: true},
			SuggestionScore: sql.NullFloat64{Float64: 1.0, Valid: true},
			SuggestionStart: sql.NullInt64{Int64: 24, Valid: true},
			SuggestionEnd:   sql.NullInt64{Int64: 30, Valid: true},
		},
		{
			Id:        uuid.New(),
			DatasetId: datasetId,
			Question:  "What river contains Seine",
			Context:   "The Seine flows through the city.",
			Status:    database.RecordPending,
		},
	}).Error)
	require.NoError(t, db.Create(&database.SuggestionTask{DatasetId: datasetId, ModelId: modelId, Status: database.JobQueued, CreationTime: time.Now()}).Error)

	require.NoError(t, queue.PublishSuggestionTask(context.Background(), messaging.SuggestionTaskPayload{DatasetId: datasetId, ModelId: modelId}))
	proc.ProcessTask(<-queue.Tasks())

	var task database.SuggestionTask
	require.NoError(t, db.First(&task, "dataset_id = ?", datasetId).Error)
	assert.Equal(t, database.JobCompleted, task.Status)
	assert.Equal(t, 1, task.SuggestedCount)

	var seeded database.Record
	require.NoError(t, db.First(&seeded, "id = ?", seededId).Error)
	assert.Equal(t, "France", seeded.SuggestionText.String)
	assert.InDelta(t, 1.0, seeded.SuggestionScore.Float64, 1e-9)
	assert.EqualValues(t, 24, seeded.SuggestionStart.Int64)
	assert.EqualValues(t, 30, seeded.SuggestionEnd.Int64)
}

func TestProcessSuggestionTaskLLMFallback(t *testing.T) {
	model := &substringModel{score: 0.1}
	suggester := &fixedSuggester{answer: api.Answer{Text: "Paris", Score: 1.0, Start: 0, End: 5}}
	proc, db, queue, _, modelId := setupProcessorTest(t, model, suggester, 0.3)

	datasetId := uuid.New()
	createTestRecords(t, db, datasetId)
	require.NoError(t, db.Create(&database.SuggestionTask{DatasetId: datasetId, ModelId: modelId, Status: database.JobQueued, CreationTime: time.Now()}).Error)

	require.NoError(t, queue.PublishSuggestionTask(context.Background(), messaging.SuggestionTaskPayload{DatasetId: datasetId, ModelId: modelId}))
	proc.ProcessTask(<-queue.Tasks())

	assert.Equal(t, 2, suggester.calls)

	var records []database.Record
	require.NoError(t, db.Where("dataset_id = ? AND status = ?", datasetId, database.RecordPending).Find(&records).Error)
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, "Paris", record.SuggestionText.String)
		assert.InDelta(t, 1.0, record.SuggestionScore.Float64, 1e-9)
	}
}

func TestProcessFinetuneTask(t *testing.T) {
	model := &substringModel{score: 0.9}
	proc, db, queue, storeDir, baseModelId := setupProcessorTest(t, model, nil, 0.3)

	datasetId := uuid.New()
	require.NoError(t, db.Create(&database.Dataset{Id: datasetId, Name: "ds", CreationTime: time.Now()}).Error)
	require.NoError(t, db.Create([]database.Record{
		{
			Id:          uuid.New(),
			DatasetId:   datasetId,
			Question:    "What is the capital of France?",
			Context:     "Paris is the capital of France.",
			Status:      database.RecordSubmitted,
			AnswerText:  sql.NullString{String: "Paris", Valid: true},
			AnswerStart: sql.NullInt64{Int64: 0, Valid: true},
			AnswerEnd:   sql.NullInt64{Int64: 5, Valid: true},
		},
		{
			// Annotation does not match the context, should be skipped.
			Id:          uuid.New(),
			DatasetId:   datasetId,
			Question:    "Where is the Eiffel Tower?",
			Context:     "The Eiffel Tower is located in Paris.",
			Status:      database.RecordSubmitted,
			AnswerText:  sql.NullString{String: "London", Valid: true},
			AnswerStart: sql.NullInt64{Int64: 0, Valid: true},
			AnswerEnd:   sql.NullInt64{Int64: 6, Valid: true},
		},
		{
			Id:        uuid.New(),
			DatasetId: datasetId,
			Question:  "What color is the sky?",
			Context:   "On a clear day the sky is blue.",
			Status:    database.RecordPending,
		},
	}).Error)

	newModelId := uuid.New()
	require.NoError(t, db.Create(&database.Model{
		Id:           newModelId,
		BaseModelId:  uuid.NullUUID{UUID: baseModelId, Valid: true},
		Name:         "finetuned",
		Type:         "onnx_qa",
		Status:       database.ModelQueued,
		CreationTime: time.Now(),
	}).Error)
	require.NoError(t, db.Create(&database.FinetuneTask{
		ModelId:      newModelId,
		DatasetId:    datasetId,
		Status:       database.JobQueued,
		CreationTime: time.Now(),
	}).Error)

	require.NoError(t, queue.PublishFinetuneTask(context.Background(), messaging.FinetuneTaskPayload{
		ModelId:     newModelId,
		BaseModelId: baseModelId,
		DatasetId:   datasetId,
	}))
	proc.ProcessTask(<-queue.Tasks())

	var entry database.Model
	require.NoError(t, db.First(&entry, "id = ?", newModelId).Error)
	assert.Equal(t, database.ModelTrained, entry.Status)

	var task database.FinetuneTask
	require.NoError(t, db.First(&task, "model_id = ?", newModelId).Error)
	assert.Equal(t, database.JobCompleted, task.Status)
	assert.Equal(t, 1, task.SampleCount)
	assert.Equal(t, 1, task.SkippedCount)

	require.Len(t, model.finetuned, 1)
	assert.Equal(t, "Paris", model.finetuned[0].AnswerText)

	var taskErrors []database.TaskError
	require.NoError(t, db.Where("dataset_id = ?", datasetId).Find(&taskErrors).Error)
	require.Len(t, taskErrors, 1)
	assert.Contains(t, taskErrors[0].Error, "does not match context")

	// The saved weights are uploaded under the new model's id.
	uploaded := filepath.Join(storeDir, "models", newModelId.String(), "weights.bin")
	assert.FileExists(t, uploaded)
}

func TestProcessFinetuneTaskNoSamples(t *testing.T) {
	model := &substringModel{score: 0.9}
	proc, db, queue, _, baseModelId := setupProcessorTest(t, model, nil, 0.3)

	datasetId := uuid.New()
	require.NoError(t, db.Create(&database.Dataset{Id: datasetId, Name: "ds", CreationTime: time.Now()}).Error)

	newModelId := uuid.New()
	require.NoError(t, db.Create(&database.Model{Id: newModelId, Name: "finetuned", Type: "onnx_qa", Status: database.ModelQueued, CreationTime: time.Now()}).Error)
	require.NoError(t, db.Create(&database.FinetuneTask{ModelId: newModelId, DatasetId: datasetId, Status: database.JobQueued, CreationTime: time.Now()}).Error)

	require.NoError(t, queue.PublishFinetuneTask(context.Background(), messaging.FinetuneTaskPayload{
		ModelId:     newModelId,
		BaseModelId: baseModelId,
		DatasetId:   datasetId,
	}))
	proc.ProcessTask(<-queue.Tasks())

	var entry database.Model
	require.NoError(t, db.First(&entry, "id = ?", newModelId).Error)
	assert.Equal(t, database.ModelFailed, entry.Status)

	var task database.FinetuneTask
	require.NoError(t, db.First(&task, "model_id = ?", newModelId).Error)
	assert.Equal(t, database.JobFailed, task.Status)
}
