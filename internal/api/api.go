package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"qa-backend/internal/core"
	"qa-backend/internal/database"
	"qa-backend/internal/messaging"
	"qa-backend/internal/storage"
	"qa-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	maxSearchHits   = 1000
)

type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher
	storage   storage.ObjectStore

	localModelDir string
	modelBucket   string
	modelLoaders  map[core.ModelType]core.ModelLoader

	// Models stay loaded once used for prediction. Entries are never evicted;
	// restart the service to pick up retrained weights under a new id.
	modelMu      sync.Mutex
	loadedModels map[uuid.UUID]core.Model
}

func NewBackendService(db *gorm.DB, publisher messaging.Publisher, store storage.ObjectStore, localModelDir, modelBucket string, modelLoaders map[core.ModelType]core.ModelLoader) *BackendService {
	return &BackendService{
		db:            db,
		publisher:     publisher,
		storage:       store,
		localModelDir: localModelDir,
		modelBucket:   modelBucket,
		modelLoaders:  modelLoaders,
		loadedModels:  make(map[uuid.UUID]core.Model),
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	r.Route("/datasets", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateDataset))
		r.Get("/", RestHandler(s.ListDatasets))
		r.Route("/{dataset_id}", func(r chi.Router) {
			r.Get("/", RestHandler(s.GetDataset))
			r.Delete("/", RestHandler(s.DeleteDataset))
			r.Post("/records", RestHandler(s.UploadRecords))
			r.Get("/records", RestHandler(s.ListRecords))
			r.Get("/records/{record_id}", RestHandler(s.GetRecord))
			r.Post("/records/{record_id}/annotate", RestHandler(s.AnnotateRecord))
			r.Post("/records/{record_id}/discard", RestHandler(s.DiscardRecord))
			r.Post("/search", RestHandler(s.SearchRecords))
			r.Post("/suggest", RestHandler(s.SubmitSuggestionJob))
			r.Get("/suggest", RestHandler(s.GetSuggestionTask))
			r.Get("/errors", RestHandler(s.ListTaskErrors))
		})
	})

	r.Route("/models", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListModels))
		r.Post("/finetune", RestHandler(s.SubmitFinetuneJob))
		r.Route("/{model_id}", func(r chi.Router) {
			r.Get("/", RestHandler(s.GetModel))
			r.Get("/finetune", RestHandler(s.GetFinetuneTask))
		})
	})

	r.Post("/predict", RestHandler(s.Predict))
}

func (s *BackendService) getDataset(ctx context.Context, datasetId uuid.UUID) (database.Dataset, error) {
	var dataset database.Dataset
	if err := s.db.WithContext(ctx).First(&dataset, "id = ? AND deleted = ?", datasetId, false).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.Dataset{}, CodedErrorf(http.StatusNotFound, "dataset not found")
		}
		slog.Error("error getting dataset", "dataset_id", datasetId, "error", err)
		return database.Dataset{}, CodedErrorf(http.StatusInternalServerError, "error retrieving dataset record")
	}
	return dataset, nil
}

func (s *BackendService) CreateDataset(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateDatasetRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	dataset := database.Dataset{
		Id:           uuid.New(),
		Name:         req.Name,
		CreationTime: time.Now().UTC(),
	}

	if err := s.db.WithContext(r.Context()).Create(&dataset).Error; err != nil {
		slog.Error("error creating dataset", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create dataset entry")
	}

	slog.Info("created dataset", "dataset_id", dataset.Id, "name", dataset.Name)

	return api.CreateDatasetResponse{DatasetId: dataset.Id}, nil
}

func (s *BackendService) datasetCounts(ctx context.Context, datasetId uuid.UUID) (total, submitted int64, err error) {
	if err := s.db.WithContext(ctx).Model(&database.Record{}).Where("dataset_id = ?", datasetId).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := s.db.WithContext(ctx).Model(&database.Record{}).Where("dataset_id = ? AND status = ?", datasetId, database.RecordSubmitted).Count(&submitted).Error; err != nil {
		return 0, 0, err
	}
	return total, submitted, nil
}

func (s *BackendService) ListDatasets(r *http.Request) (any, error) {
	ctx := r.Context()

	var datasets []database.Dataset
	if err := s.db.WithContext(ctx).Where("deleted = ?", false).Order("creation_time DESC").Find(&datasets).Error; err != nil {
		slog.Error("error listing datasets", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing datasets")
	}

	out := make([]api.Dataset, len(datasets))
	for i, dataset := range datasets {
		total, submitted, err := s.datasetCounts(ctx, dataset.Id)
		if err != nil {
			slog.Error("error counting dataset records", "dataset_id", dataset.Id, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "error counting dataset records")
		}
		out[i] = api.Dataset{
			Id:               dataset.Id,
			Name:             dataset.Name,
			CreationTime:     dataset.CreationTime,
			TotalRecords:     total,
			SubmittedRecords: submitted,
		}
	}

	return out, nil
}

func (s *BackendService) GetDataset(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	dataset, err := s.getDataset(ctx, datasetId)
	if err != nil {
		return nil, err
	}

	total, submitted, err := s.datasetCounts(ctx, datasetId)
	if err != nil {
		slog.Error("error counting dataset records", "dataset_id", datasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error counting dataset records")
	}

	return api.Dataset{
		Id:               dataset.Id,
		Name:             dataset.Name,
		CreationTime:     dataset.CreationTime,
		TotalRecords:     total,
		SubmittedRecords: submitted,
	}, nil
}

func (s *BackendService) DeleteDataset(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	if _, err := s.getDataset(r.Context(), datasetId); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(r.Context()).Model(&database.Dataset{Id: datasetId}).Update("deleted", true).Error; err != nil {
		slog.Error("error deleting dataset", "dataset_id", datasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting dataset")
	}

	slog.Info("deleted dataset", "dataset_id", datasetId)

	return nil, nil
}

func (s *BackendService) UploadRecords(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.UploadRecordsRequest](r)
	if err != nil {
		return nil, err
	}

	if len(req.Records) == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "no records provided")
	}

	ctx := r.Context()

	if _, err := s.getDataset(ctx, datasetId); err != nil {
		return nil, err
	}

	records := make([]database.Record, len(req.Records))
	for i, seed := range req.Records {
		if seed.Question == "" || seed.Context == "" {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "record %d: question and context are required", i)
		}

		record := database.Record{
			Id:         uuid.New(),
			DatasetId:  datasetId,
			ExternalId: seed.ExternalId,
			Question:   seed.Question,
			Context:    seed.Context,
			Status:     database.RecordPending,
		}

		if seed.Suggestion != nil {
			if !core.ValidSpan(seed.Context, seed.Suggestion.Text, seed.Suggestion.Start, seed.Suggestion.End) {
				return nil, CodedErrorf(http.StatusUnprocessableEntity, "record %d: suggestion span does not match context", i)
			}
			record.SuggestionText = sql.NullString{String: seed.Suggestion.Text, Valid: true}
			record.SuggestionScore = sql.NullFloat64{Float64: seed.Suggestion.Score, Valid: true}
			record.SuggestionStart = sql.NullInt64{Int64: int64(seed.Suggestion.Start), Valid: true}
			record.SuggestionEnd = sql.NullInt64{Int64: int64(seed.Suggestion.End), Valid: true}
		}

		records[i] = record
	}

	if err := s.db.WithContext(ctx).CreateInBatches(&records, 100).Error; err != nil {
		slog.Error("error saving records", "dataset_id", datasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to save records")
	}

	slog.Info("uploaded records", "dataset_id", datasetId, "count", len(records))

	return api.UploadRecordsResponse{RecordCount: len(records)}, nil
}

func (s *BackendService) ListRecords(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.ListRecordsQuery](r)
	if err != nil {
		return nil, err
	}

	if params.Limit <= 0 {
		params.Limit = defaultPageSize
	}
	if params.Limit > maxPageSize {
		params.Limit = maxPageSize
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	ctx := r.Context()

	if _, err := s.getDataset(ctx, datasetId); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&database.Record{}).Where("dataset_id = ?", datasetId)
	if params.Status != "" {
		switch params.Status {
		case database.RecordPending, database.RecordSubmitted, database.RecordDiscarded:
		default:
			return nil, CodedErrorf(http.StatusBadRequest, "invalid status filter '%s'", params.Status)
		}
		query = query.Where("status = ?", params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		slog.Error("error counting records", "dataset_id", datasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error counting records")
	}

	var records []database.Record
	if err := query.Order("external_id, id").Offset(params.Offset).Limit(params.Limit).Find(&records).Error; err != nil {
		slog.Error("error listing records", "dataset_id", datasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing records")
	}

	return api.ListRecordsResponse{Records: toApiRecords(records), Total: total}, nil
}

func (s *BackendService) getRecord(ctx context.Context, datasetId, recordId uuid.UUID) (database.Record, error) {
	var record database.Record
	if err := s.db.WithContext(ctx).First(&record, "id = ? AND dataset_id = ?", recordId, datasetId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.Record{}, CodedErrorf(http.StatusNotFound, "record not found")
		}
		slog.Error("error getting record", "record_id", recordId, "error", err)
		return database.Record{}, CodedErrorf(http.StatusInternalServerError, "error retrieving record")
	}
	return record, nil
}

func (s *BackendService) GetRecord(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}
	recordId, err := URLParamUUID(r, "record_id")
	if err != nil {
		return nil, err
	}

	record, err := s.getRecord(r.Context(), datasetId, recordId)
	if err != nil {
		return nil, err
	}

	return toApiRecord(record), nil
}

func (s *BackendService) AnnotateRecord(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}
	recordId, err := URLParamUUID(r, "record_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.AnnotateRequest](r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	if _, err := s.getDataset(ctx, datasetId); err != nil {
		return nil, err
	}

	record, err := s.getRecord(ctx, datasetId, recordId)
	if err != nil {
		return nil, err
	}

	text, start, end := req.Text, req.Start, req.End

	if req.FromSuggestion {
		if !record.SuggestionText.Valid {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "record has no suggestion to accept")
		}
		text = record.SuggestionText.String
		start = int(record.SuggestionStart.Int64)
		end = int(record.SuggestionEnd.Int64)
	} else if text == "" {
		if start < 0 || end > len(record.Context) || start >= end {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "annotation span [%d, %d) is out of bounds", start, end)
		}
		text = record.Context[start:end]
	}

	if !core.ValidSpan(record.Context, text, start, end) {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "annotation %q does not match context at [%d, %d)", text, start, end)
	}

	updates := map[string]any{
		"answer_text":     text,
		"answer_start":    start,
		"answer_end":      end,
		"status":          database.RecordSubmitted,
		"annotation_time": time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Model(&database.Record{}).Where("id = ?", recordId).Updates(updates).Error; err != nil {
		slog.Error("error saving annotation", "record_id", recordId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to save annotation")
	}

	record, err = s.getRecord(ctx, datasetId, recordId)
	if err != nil {
		return nil, err
	}

	return toApiRecord(record), nil
}

func (s *BackendService) DiscardRecord(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}
	recordId, err := URLParamUUID(r, "record_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	if _, err := s.getDataset(ctx, datasetId); err != nil {
		return nil, err
	}

	if _, err := s.getRecord(ctx, datasetId, recordId); err != nil {
		return nil, err
	}

	updates := map[string]any{
		"status":          database.RecordDiscarded,
		"annotation_time": time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Model(&database.Record{}).Where("id = ?", recordId).Updates(updates).Error; err != nil {
		slog.Error("error discarding record", "record_id", recordId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to discard record")
	}

	return nil, nil
}

func (s *BackendService) SearchRecords(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.SearchRequest](r)
	if err != nil {
		return nil, err
	}

	filter, err := core.ParseQuery(req.Query)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid query: %v", err)
	}

	ctx := r.Context()

	if _, err := s.getDataset(ctx, datasetId); err != nil {
		return nil, err
	}

	var hits []api.Record

	var records []database.Record
	result := s.db.WithContext(ctx).
		Where("dataset_id = ?", datasetId).
		FindInBatches(&records, defaultPageSize, func(tx *gorm.DB, batch int) error {
			for i := range records {
				if filter.Matches(&records[i]) {
					hits = append(hits, toApiRecord(records[i]))
					if len(hits) >= maxSearchHits {
						return fmt.Errorf("hit limit reached")
					}
				}
			}
			return nil
		})
	if result.Error != nil && len(hits) < maxSearchHits {
		slog.Error("error searching records", "dataset_id", datasetId, "error", result.Error)
		return nil, CodedErrorf(http.StatusInternalServerError, "error searching records")
	}

	return api.SearchResponse{Records: hits}, nil
}

func (s *BackendService) SubmitSuggestionJob(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.SuggestRequest](r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	if _, err := s.getDataset(ctx, datasetId); err != nil {
		return nil, err
	}

	var model database.Model
	if err := s.db.WithContext(ctx).First(&model, "id = ?", req.ModelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
		slog.Error("error getting model", "model_id", req.ModelId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}

	if model.Status != database.ModelTrained {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "model is not ready: model has status: %s", model.Status)
	}

	task := database.SuggestionTask{
		DatasetId:    datasetId,
		ModelId:      req.ModelId,
		Status:       database.JobQueued,
		CreationTime: time.Now().UTC(),
	}

	// Save upserts so a dataset can be re-suggested with a newer model.
	if err := s.db.WithContext(ctx).Save(&task).Error; err != nil {
		slog.Error("error creating suggestion task", "dataset_id", datasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create suggestion task")
	}

	payload := messaging.SuggestionTaskPayload{DatasetId: datasetId, ModelId: req.ModelId}
	if err := s.publisher.PublishSuggestionTask(ctx, payload); err != nil {
		slog.Error("error publishing suggestion task", "dataset_id", datasetId, "error", err)
		database.UpdateSuggestionTaskStatus(ctx, s.db, datasetId, database.JobFailed) //nolint:errcheck
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue suggestion task")
	}

	slog.Info("submitted suggestion job", "dataset_id", datasetId, "model_id", req.ModelId)

	return api.SuggestResponse{DatasetId: datasetId}, nil
}

func (s *BackendService) GetSuggestionTask(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	var task database.SuggestionTask
	if err := s.db.WithContext(r.Context()).First(&task, "dataset_id = ?", datasetId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "no suggestion task for dataset")
		}
		slog.Error("error getting suggestion task", "dataset_id", datasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving suggestion task")
	}

	return task, nil
}

func (s *BackendService) ListTaskErrors(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	var taskErrors []database.TaskError
	if err := s.db.WithContext(r.Context()).Where("dataset_id = ?", datasetId).Order("timestamp").Find(&taskErrors).Error; err != nil {
		slog.Error("error listing task errors", "dataset_id", datasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing task errors")
	}

	return taskErrors, nil
}

func (s *BackendService) ListModels(r *http.Request) (any, error) {
	var models []database.Model
	if err := s.db.WithContext(r.Context()).Order("creation_time").Find(&models).Error; err != nil {
		slog.Error("error listing models", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing models")
	}

	out := make([]api.Model, len(models))
	for i, model := range models {
		out[i] = toApiModel(model)
	}
	return out, nil
}

func (s *BackendService) GetModel(r *http.Request) (any, error) {
	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	var model database.Model
	if err := s.db.WithContext(r.Context()).First(&model, "id = ?", modelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
		slog.Error("error getting model", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}

	return toApiModel(model), nil
}

func (s *BackendService) GetFinetuneTask(r *http.Request) (any, error) {
	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	var task database.FinetuneTask
	if err := s.db.WithContext(r.Context()).First(&task, "model_id = ?", modelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "no finetune task for model")
		}
		slog.Error("error getting finetune task", "model_id", modelId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving finetune task")
	}

	return task, nil
}

func (s *BackendService) SubmitFinetuneJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.FinetuneRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	ctx := r.Context()

	if _, err := s.getDataset(ctx, req.DatasetId); err != nil {
		return nil, err
	}

	var submitted int64
	if err := s.db.WithContext(ctx).Model(&database.Record{}).Where("dataset_id = ? AND status = ?", req.DatasetId, database.RecordSubmitted).Count(&submitted).Error; err != nil {
		slog.Error("error counting submitted records", "dataset_id", req.DatasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error counting submitted records")
	}
	if submitted == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "dataset has no submitted annotations to train on")
	}

	var baseModel database.Model
	if err := s.db.WithContext(ctx).First(&baseModel, "id = ?", req.BaseModelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "base model not found")
		}
		slog.Error("error getting base model", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving base model record")
	}

	if baseModel.Status != database.ModelTrained {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "base model is not ready: model has status: %s", baseModel.Status)
	}

	cfg, err := json.Marshal(api.FinetuneTaskConfig{
		Train:             req.Config,
		GenerateData:      req.GenerateData,
		RecordsToGenerate: req.RecordsToGenerate,
	})
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error serializing finetune config")
	}

	model := database.Model{
		Id:           uuid.New(),
		BaseModelId:  uuid.NullUUID{UUID: baseModel.Id, Valid: true},
		Name:         req.Name,
		Type:         baseModel.Type,
		Status:       database.ModelQueued,
		CreationTime: time.Now().UTC(),
	}

	task := database.FinetuneTask{
		ModelId:      model.Id,
		DatasetId:    req.DatasetId,
		Status:       database.JobQueued,
		CreationTime: time.Now().UTC(),
		Config:       cfg,
	}

	if err := s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Create(&model).Error; err != nil {
			return err
		}
		return txn.Create(&task).Error
	}); err != nil {
		slog.Error("error creating finetune job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create finetune job")
	}

	payload := messaging.FinetuneTaskPayload{
		ModelId:     model.Id,
		BaseModelId: baseModel.Id,
		DatasetId:   req.DatasetId,
	}
	if err := s.publisher.PublishFinetuneTask(ctx, payload); err != nil {
		slog.Error("error publishing finetune task", "model_id", model.Id, "error", err)
		database.UpdateModelStatus(ctx, s.db, model.Id, database.ModelFailed)      //nolint:errcheck
		database.UpdateFinetuneTaskStatus(ctx, s.db, model.Id, database.JobFailed) //nolint:errcheck
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue finetune task")
	}

	slog.Info("submitted finetune job", "model_id", model.Id, "base_model_id", baseModel.Id, "dataset_id", req.DatasetId)

	return api.FinetuneResponse{ModelId: model.Id}, nil
}

func (s *BackendService) loadModel(ctx context.Context, entry database.Model) (core.Model, error) {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()

	if model, ok := s.loadedModels[entry.Id]; ok {
		return model, nil
	}

	localDir := filepath.Join(s.localModelDir, entry.Id.String())
	if _, err := os.Stat(localDir); os.IsNotExist(err) {
		slog.Info("model not found locally, downloading from object store", "model_id", entry.Id)
		if err := s.storage.DownloadDir(ctx, s.modelBucket, entry.Id.String(), localDir, false); err != nil {
			return nil, fmt.Errorf("failed to download model from object store: %w", err)
		}
	}

	loader, ok := s.modelLoaders[core.ParseModelType(entry.Type)]
	if !ok {
		return nil, fmt.Errorf("no loader registered for model type '%s'", entry.Type)
	}

	model, err := loader(localDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	s.loadedModels[entry.Id] = model
	return model, nil
}

func (s *BackendService) Predict(r *http.Request) (any, error) {
	req, err := ParseRequest[api.PredictRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Question == "" || req.Context == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "question and context are required")
	}

	ctx := r.Context()

	var entry database.Model
	if err := s.db.WithContext(ctx).First(&entry, "id = ?", req.ModelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
		slog.Error("error getting model", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}

	if entry.Status != database.ModelTrained {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "model is not ready: model has status: %s", entry.Status)
	}

	model, err := s.loadModel(ctx, entry)
	if err != nil {
		slog.Error("error loading model", "model_id", entry.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error loading model")
	}

	answer, err := model.Predict(req.Question, req.Context)
	if err != nil {
		slog.Error("model inference error", "model_id", entry.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "model inference error")
	}

	return api.PredictResponse{Answer: answer}, nil
}
