package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"qa-backend/internal/core/datagen"
	"qa-backend/internal/database"
	"qa-backend/internal/messaging"
	"qa-backend/internal/storage"
	"qa-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaskProcessor struct {
	db        *gorm.DB
	storage   storage.ObjectStore
	publisher messaging.Publisher
	reciever  messaging.Reciever

	localModelDir string
	modelBucket   string
	modelLoaders  map[ModelType]ModelLoader

	// Optional LLM helpers. A nil suggester disables the low-confidence
	// fallback; a nil generator disables synthetic data.
	suggester    Suggester
	llmThreshold float64
	generator    *datagen.Generator
}

const recordBatchSize = 100

func NewTaskProcessor(db *gorm.DB, storage storage.ObjectStore, publisher messaging.Publisher, reciever messaging.Reciever, localModelDir string, modelBucket string, modelLoaders map[ModelType]ModelLoader, suggester Suggester, llmThreshold float64, generator *datagen.Generator) *TaskProcessor {
	return &TaskProcessor{
		db:            db,
		storage:       storage,
		publisher:     publisher,
		reciever:      reciever,
		localModelDir: localModelDir,
		modelBucket:   modelBucket,
		modelLoaders:  modelLoaders,
		suggester:     suggester,
		llmThreshold:  llmThreshold,
		generator:     generator,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.publisher.Close()
	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.SuggestionQueue:
		var payload messaging.SuggestionTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling suggestion task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processSuggestionTask(ctx, payload)

	case messaging.FinetuneQueue:
		var payload messaging.FinetuneTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling finetuning task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processFinetuneTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil { // reject unknown message type
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) getModelDir(modelId uuid.UUID) string {
	return filepath.Join(proc.localModelDir, modelId.String())
}

func (proc *TaskProcessor) loadModel(ctx context.Context, modelId uuid.UUID, modelType ModelType) (Model, error) {
	localDir := proc.getModelDir(modelId)

	if _, err := os.Stat(localDir); os.IsNotExist(err) {
		slog.Info("model not found locally, downloading from object store", "modelId", modelId)

		if err := proc.storage.DownloadDir(ctx, proc.modelBucket, modelId.String(), localDir, false); err != nil {
			return nil, fmt.Errorf("failed to download model from object store: %w", err)
		}
	}

	loader, ok := proc.modelLoaders[modelType]
	if !ok {
		return nil, fmt.Errorf("no loader registered for model type '%s'", modelType)
	}

	model, err := loader(localDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	return model, nil
}

func (proc *TaskProcessor) getModel(ctx context.Context, modelId uuid.UUID) (database.Model, error) {
	var model database.Model
	if err := proc.db.WithContext(ctx).First(&model, "id = ?", modelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Error("model not found", "model_id", modelId)
			return database.Model{}, fmt.Errorf("model not found: %w", err)
		}
		slog.Error("error getting model", "model_id", modelId, "error", err)
		return database.Model{}, fmt.Errorf("error getting model: %w", err)
	}
	return model, nil
}

// suggestRecord runs the model over one record and falls back to the LLM
// suggester when the model is not confident enough.
func (proc *TaskProcessor) suggestRecord(ctx context.Context, model Model, record *database.Record) (api.Answer, error) {
	answer, err := model.Predict(record.Question, record.Context)
	if err != nil {
		return api.Answer{}, fmt.Errorf("model inference error: %w", err)
	}

	if answer.Score >= proc.llmThreshold || proc.suggester == nil {
		return answer, nil
	}

	llmAnswer, err := proc.suggester.Suggest(ctx, record.Question, record.Context)
	if err != nil {
		slog.Warn("LLM suggestion failed, keeping model answer", "record_id", record.Id, "error", err)
		return answer, nil
	}
	if llmAnswer.Text == "" {
		return answer, nil
	}
	return llmAnswer, nil
}

func (proc *TaskProcessor) processSuggestionTask(ctx context.Context, payload messaging.SuggestionTaskPayload) error {
	datasetId := payload.DatasetId

	slog.Info("processing suggestion task", "dataset_id", datasetId, "model_id", payload.ModelId)

	var task database.SuggestionTask
	if err := proc.db.WithContext(ctx).First(&task, "dataset_id = ?", datasetId).Error; err != nil {
		slog.Error("error fetching suggestion task", "dataset_id", datasetId, "error", err)
		return fmt.Errorf("error getting suggestion task: %w", err)
	}

	database.UpdateSuggestionTaskStatus(ctx, proc.db, datasetId, database.JobRunning) //nolint:errcheck

	modelEntry, err := proc.getModel(ctx, payload.ModelId)
	if err != nil {
		database.UpdateSuggestionTaskStatus(ctx, proc.db, datasetId, database.JobFailed) //nolint:errcheck
		database.SaveTaskError(ctx, proc.db, datasetId, fmt.Sprintf("error getting model: %s", err.Error()))
		return err
	}

	model, err := proc.loadModel(ctx, payload.ModelId, ParseModelType(modelEntry.Type))
	if err != nil {
		database.UpdateSuggestionTaskStatus(ctx, proc.db, datasetId, database.JobFailed) //nolint:errcheck
		database.SaveTaskError(ctx, proc.db, datasetId, fmt.Sprintf("error loading model: %s", err.Error()))
		return fmt.Errorf("error loading model: %w", err)
	}
	defer model.Release()

	suggested, failed := 0, 0

	var records []database.Record
	result := proc.db.WithContext(ctx).
		// Records that already carry a suggestion, e.g. reference answers from a
		// hub import, are left untouched.
		Where("dataset_id = ? AND status = ? AND suggestion_text IS NULL", datasetId, database.RecordPending).
		FindInBatches(&records, recordBatchSize, func(tx *gorm.DB, batch int) error {
			for i := range records {
				record := &records[i]

				answer, err := proc.suggestRecord(ctx, model, record)
				if err != nil {
					slog.Error("error suggesting answer", "record_id", record.Id, "error", err)
					database.SaveTaskError(ctx, proc.db, datasetId, fmt.Sprintf("record %s: %s", record.Id, err.Error()))
					failed++
					continue
				}

				updates := map[string]any{
					"suggestion_text":  answer.Text,
					"suggestion_score": answer.Score,
					"suggestion_start": answer.Start,
					"suggestion_end":   answer.End,
				}
				if err := proc.db.WithContext(ctx).Model(&database.Record{}).Where("id = ?", record.Id).Updates(updates).Error; err != nil {
					slog.Error("error saving suggestion", "record_id", record.Id, "error", err)
					failed++
					continue
				}
				suggested++
			}
			return nil
		})
	if result.Error != nil {
		database.UpdateSuggestionTaskStatus(ctx, proc.db, datasetId, database.JobFailed) //nolint:errcheck
		database.SaveTaskError(ctx, proc.db, datasetId, result.Error.Error())
		return fmt.Errorf("error iterating records: %w", result.Error)
	}

	if err := proc.db.WithContext(ctx).
		Model(&database.SuggestionTask{DatasetId: datasetId}).
		Updates(map[string]any{"suggested_count": suggested, "failed_count": failed}).Error; err != nil {
		slog.Error("error updating suggestion counts", "dataset_id", datasetId, "error", err)
	}

	if err := database.UpdateSuggestionTaskStatus(ctx, proc.db, datasetId, database.JobCompleted); err != nil {
		return fmt.Errorf("error updating suggestion task status to complete: %w", err)
	}

	slog.Info("suggestion task completed", "dataset_id", datasetId, "suggested", suggested, "failed", failed)

	return nil
}

// collectSamples turns the dataset's submitted records into training samples.
// Records whose annotated span does not match the context text are skipped and
// recorded as task errors.
func (proc *TaskProcessor) collectSamples(ctx context.Context, datasetId uuid.UUID) ([]api.QASample, int, error) {
	var samples []api.QASample
	skipped := 0

	var records []database.Record
	result := proc.db.WithContext(ctx).
		Where("dataset_id = ? AND status = ?", datasetId, database.RecordSubmitted).
		FindInBatches(&records, recordBatchSize, func(tx *gorm.DB, batch int) error {
			for _, record := range records {
				if !record.AnswerText.Valid {
					continue
				}

				text := record.AnswerText.String
				start := int(record.AnswerStart.Int64)
				end := int(record.AnswerEnd.Int64)

				if !ValidSpan(record.Context, text, start, end) {
					database.SaveTaskError(ctx, proc.db, datasetId, fmt.Sprintf("record %s: annotation %q does not match context at [%d, %d)", record.Id, text, start, end))
					skipped++
					continue
				}

				samples = append(samples, api.QASample{
					Question:    record.Question,
					Context:     record.Context,
					AnswerText:  text,
					AnswerStart: start,
					AnswerEnd:   end,
				})
			}
			return nil
		})
	if result.Error != nil {
		return nil, skipped, fmt.Errorf("error iterating records: %w", result.Error)
	}

	return samples, skipped, nil
}

func (proc *TaskProcessor) processFinetuneTask(ctx context.Context, payload messaging.FinetuneTaskPayload) error {
	database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelTraining)     //nolint:errcheck
	database.UpdateFinetuneTaskStatus(ctx, proc.db, payload.ModelId, database.JobRunning) //nolint:errcheck

	slog.Info("processing finetune task", "model_id", payload.ModelId, "base_model_id", payload.BaseModelId, "dataset_id", payload.DatasetId)

	fail := func(err error, msg string) error {
		database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelFailed)      //nolint:errcheck
		database.UpdateFinetuneTaskStatus(ctx, proc.db, payload.ModelId, database.JobFailed) //nolint:errcheck
		database.SaveTaskError(ctx, proc.db, payload.DatasetId, fmt.Sprintf("%s: %s", msg, err.Error()))
		slog.Error(msg, "model_id", payload.ModelId, "error", err)
		return fmt.Errorf("%s: %w", msg, err)
	}

	var task database.FinetuneTask
	if err := proc.db.WithContext(ctx).First(&task, "model_id = ?", payload.ModelId).Error; err != nil {
		return fail(err, "error getting finetune task")
	}

	var cfg api.FinetuneTaskConfig
	if len(task.Config) > 0 {
		if err := json.Unmarshal(task.Config, &cfg); err != nil {
			return fail(err, "error parsing finetune task config")
		}
	}

	baseModel, err := proc.getModel(ctx, payload.BaseModelId)
	if err != nil {
		return fail(err, "error getting base model")
	}

	model, err := proc.loadModel(ctx, payload.BaseModelId, ParseModelType(baseModel.Type))
	if err != nil {
		return fail(err, "error loading base model")
	}
	defer model.Release()

	slog.Info("base model loaded for finetuning", "model_id", payload.ModelId, "base_model_id", payload.BaseModelId)

	samples, skipped, err := proc.collectSamples(ctx, payload.DatasetId)
	if err != nil {
		return fail(err, "error collecting training samples")
	}
	if len(samples) == 0 {
		return fail(fmt.Errorf("dataset %s has no valid submitted records", payload.DatasetId), "no training samples")
	}

	if cfg.GenerateData && proc.generator != nil {
		generated, err := proc.generator.GenerateQAPairs(ctx, samples, cfg.RecordsToGenerate)
		if err != nil {
			return fail(err, "datagen error")
		}
		samples = append(samples, generated...)
	}

	if err := proc.db.WithContext(ctx).
		Model(&database.FinetuneTask{ModelId: payload.ModelId}).
		Updates(map[string]any{"sample_count": len(samples), "skipped_count": skipped}).Error; err != nil {
		slog.Error("error updating finetune sample counts", "model_id", payload.ModelId, "error", err)
	}

	localDir := proc.getModelDir(payload.ModelId)
	if err := os.MkdirAll(localDir, os.ModePerm); err != nil {
		return fail(err, "error creating local model directory")
	}

	start := time.Now()
	if err := model.Finetune(samples, cfg.Train); err != nil {
		return fail(err, "error finetuning model")
	}
	slog.Info("finetuning completed", "model_id", payload.ModelId, "samples", len(samples), "duration", time.Since(start))

	if err := model.Save(localDir); err != nil {
		return fail(err, "error saving finetuned model")
	}

	if err := proc.storage.UploadDir(ctx, proc.modelBucket, payload.ModelId.String(), localDir); err != nil {
		return fail(err, "error uploading model to object store")
	}

	slog.Info("finetuned model uploaded", "model_id", payload.ModelId, "base_model_id", payload.BaseModelId)

	if err := database.UpdateFinetuneTaskStatus(ctx, proc.db, payload.ModelId, database.JobCompleted); err != nil {
		return fmt.Errorf("error updating finetune task status after finetuning: %w", err)
	}

	if err := database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelTrained); err != nil {
		return fmt.Errorf("error updating model status after finetuning: %w", err)
	}

	return nil
}
